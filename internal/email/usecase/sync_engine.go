package usecase

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	auditdomain "mailsync-backend/internal/audit/domain"
	auditrepo "mailsync-backend/internal/audit/repository"
	emaildomain "mailsync-backend/internal/email/domain"
	"mailsync-backend/internal/email/repository"
	mailboxdomain "mailsync-backend/internal/mailbox/domain"
	mailboxrepo "mailsync-backend/internal/mailbox/repository"
	"mailsync-backend/pkg/retry"

	"github.com/emersion/go-message/mail"
	"github.com/googleapis/gax-go/v2"
	"golang.org/x/sync/errgroup"
)

// SyncConfig bounds provider calls made during a pass.
type SyncConfig struct {
	Lookback         time.Duration
	LookbackMax      int
	CallTimeout      time.Duration
	MaxAttempts      int
	Backoff          gax.Backoff
	FetchConcurrency int
}

// SyncResult summarises one pass.
type SyncResult struct {
	Mailbox      string   `json:"mailbox"`
	From         uint64   `json:"from"`
	To           uint64   `json:"to"`
	Seen         int      `json:"seen"`
	Inserted     []uint64 `json:"inserted"`
	Skipped      int      `json:"skipped"`
	Degraded     bool     `json:"degraded"`
	Bootstrapped bool     `json:"bootstrapped"`
}

// MessageHandler runs the post-ingest pipeline for a stored message.
type MessageHandler interface {
	Process(ctx context.Context, msg *emaildomain.Message) error
}

// SyncEngine turns provider history into stored messages and advances the watermark.
// Callers must serialise passes per mailbox; see Coordinator.
type SyncEngine struct {
	provider   emaildomain.MailProvider
	messages   repository.MessageRepository
	mailboxes  mailboxrepo.MailboxRepository
	watermarks mailboxrepo.WatermarkRepository
	audit      auditrepo.AuditRepository
	handler    MessageHandler
	cfg        SyncConfig
}

func NewSyncEngine(
	provider emaildomain.MailProvider,
	messages repository.MessageRepository,
	mailboxes mailboxrepo.MailboxRepository,
	watermarks mailboxrepo.WatermarkRepository,
	audit auditrepo.AuditRepository,
	handler MessageHandler,
	cfg SyncConfig,
) *SyncEngine {
	if cfg.FetchConcurrency <= 0 {
		cfg.FetchConcurrency = 4
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 30 * time.Second
	}
	return &SyncEngine{
		provider:   provider,
		messages:   messages,
		mailboxes:  mailboxes,
		watermarks: watermarks,
		audit:      audit,
		handler:    handler,
		cfg:        cfg,
	}
}

// Sync runs one pass for mailbox.
func (e *SyncEngine) Sync(ctx context.Context, mailbox string) (*SyncResult, error) {
	mb, err := e.mailboxes.FindByEmail(ctx, mailbox)
	if err != nil {
		return nil, err
	}
	if mb == nil {
		return nil, fmt.Errorf("%w: %s", emaildomain.ErrMailboxNotFound, mailbox)
	}
	if mb.Suspended() {
		return nil, fmt.Errorf("%w: %s is %s", emaildomain.ErrMailboxSuspended, mailbox, mb.Status)
	}

	result := &SyncResult{Mailbox: mailbox}

	wm, err := e.watermarks.Get(ctx, mailbox)
	if err != nil {
		return nil, err
	}
	if wm == nil {
		return e.bootstrap(ctx, mb, result)
	}
	result.From = wm.HistoryID

	page, err := e.fetchHistory(ctx, mailbox, wm.HistoryID)
	if errors.Is(err, emaildomain.ErrCursorExpired) {
		log.Printf("[Sync] History cursor %d expired for %s, falling back to %s lookback", wm.HistoryID, mailbox, e.cfg.Lookback)
		page, err = e.lookback(ctx, mailbox)
		result.Degraded = true
	}
	if err != nil {
		e.recordFailure(ctx, mailbox, err)
		return nil, err
	}
	result.To = page.Cursor
	result.Seen = len(page.Changes)

	candidates, err := e.selectNew(ctx, page.Changes)
	if err != nil {
		return nil, err
	}
	result.Skipped = len(page.Changes) - len(candidates)

	fetched, err := e.fetchAll(ctx, mailbox, candidates)
	if err != nil {
		e.recordFailure(ctx, mailbox, err)
		return nil, err
	}

	var inserted []*emaildomain.Message
	for _, pm := range fetched {
		if pm == nil {
			result.Skipped++
			continue
		}
		if isOutboundBySelf(mailbox, pm) {
			result.Skipped++
			continue
		}
		msg := toMessage(mailbox, pm)
		ok, err := e.messages.InsertIfAbsent(ctx, msg)
		if err != nil {
			return nil, fmt.Errorf("failed to store message %s: %w", pm.ID, err)
		}
		if !ok {
			result.Skipped++
			continue
		}
		inserted = append(inserted, msg)
		result.Inserted = append(result.Inserted, msg.ID)
	}

	if page.Cursor > wm.HistoryID {
		if err := e.watermarks.Advance(ctx, mailbox, wm.HistoryID, page.Cursor); err != nil {
			return nil, err
		}
	} else {
		result.To = wm.HistoryID
	}

	e.recordHealth(ctx, mb, result.Degraded)

	for _, msg := range inserted {
		if err := e.handler.Process(ctx, msg); err != nil {
			// left for the sweeper
			log.Printf("[Sync] Processing message %d (%s) failed: %v", msg.ID, msg.ProviderMessageID, err)
		}
	}

	log.Printf("[Sync] %s: %d -> %d, seen=%d inserted=%d skipped=%d degraded=%v",
		mailbox, result.From, result.To, result.Seen, len(result.Inserted), result.Skipped, result.Degraded)
	return result, nil
}

// bootstrap records the provider's current cursor as the starting point. No history is read.
func (e *SyncEngine) bootstrap(ctx context.Context, mb *mailboxdomain.Mailbox, result *SyncResult) (*SyncResult, error) {
	var cursor uint64
	err := e.call(ctx, func(ctx context.Context) error {
		var callErr error
		cursor, callErr = e.provider.CurrentCursor(ctx, mb.Email)
		return callErr
	})
	if err != nil {
		e.recordFailure(ctx, mb.Email, err)
		return nil, err
	}
	if _, err := e.watermarks.Init(ctx, mb.Email, cursor); err != nil {
		return nil, err
	}
	log.Printf("[Sync] Bootstrapped %s at history id %d", mb.Email, cursor)
	result.Bootstrapped = true
	result.From = cursor
	result.To = cursor
	return result, nil
}

func (e *SyncEngine) fetchHistory(ctx context.Context, mailbox string, cursor uint64) (*emaildomain.HistoryPage, error) {
	var page *emaildomain.HistoryPage
	err := e.call(ctx, func(ctx context.Context) error {
		var callErr error
		page, callErr = e.provider.HistorySince(ctx, mailbox, cursor)
		return callErr
	})
	return page, err
}

// lookback rebuilds a change set after the cursor expired. The cursor is read
// before listing so nothing that arrives during the listing is skipped by the new watermark.
func (e *SyncEngine) lookback(ctx context.Context, mailbox string) (*emaildomain.HistoryPage, error) {
	page := &emaildomain.HistoryPage{}
	err := e.call(ctx, func(ctx context.Context) error {
		var callErr error
		page.Cursor, callErr = e.provider.CurrentCursor(ctx, mailbox)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	err = e.call(ctx, func(ctx context.Context) error {
		var callErr error
		page.Changes, callErr = e.provider.ListRecent(ctx, mailbox, e.cfg.Lookback, e.cfg.LookbackMax)
		return callErr
	})
	if err != nil {
		return nil, err
	}

	entry := auditrepo.NewEntry(auditdomain.ActorSystem, auditdomain.ActionMailboxDegraded, "mailbox", mailbox, mailbox,
		map[string]any{"reason": "history cursor expired", "lookback": e.cfg.Lookback.String(), "listed": len(page.Changes)})
	if err := e.audit.Append(ctx, entry); err != nil {
		log.Printf("[Sync] Failed to audit degraded sync for %s: %v", mailbox, err)
	}
	return page, nil
}

// selectNew drops records that are outbound by label or already stored.
func (e *SyncEngine) selectNew(ctx context.Context, changes []emaildomain.HistoryChange) ([]emaildomain.HistoryChange, error) {
	var out []emaildomain.HistoryChange
	for _, c := range changes {
		if emaildomain.HasLabel(c.LabelIDs, "SENT") || emaildomain.HasLabel(c.LabelIDs, "DRAFT") {
			continue
		}
		exists, err := e.messages.ExistsByProviderID(ctx, c.MessageID)
		if err != nil {
			return nil, err
		}
		if !exists {
			out = append(out, c)
		}
	}
	return out, nil
}

// fetchAll fetches full messages concurrently, keeping history order. Entries for
// messages deleted since the history record are nil. Any other failure aborts.
func (e *SyncEngine) fetchAll(ctx context.Context, mailbox string, changes []emaildomain.HistoryChange) ([]*emaildomain.ProviderMessage, error) {
	out := make([]*emaildomain.ProviderMessage, len(changes))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.FetchConcurrency)

	for i, c := range changes {
		g.Go(func() error {
			var msg *emaildomain.ProviderMessage
			err := e.call(gctx, func(ctx context.Context) error {
				var callErr error
				msg, callErr = e.provider.GetMessage(ctx, mailbox, c.MessageID)
				return callErr
			})
			if emaildomain.IsProviderNotFound(err) {
				log.Printf("[Sync] Message %s in %s was deleted before fetch, skipping", c.MessageID, mailbox)
				return nil
			}
			if err != nil {
				return fmt.Errorf("fetch message %s: %w", c.MessageID, err)
			}
			out[i] = msg
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// call applies the per-call timeout and retries transient provider errors.
func (e *SyncEngine) call(ctx context.Context, fn func(ctx context.Context) error) error {
	return retry.Do(ctx, e.cfg.MaxAttempts, e.cfg.Backoff, emaildomain.IsTransient, func(ctx context.Context) error {
		cctx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
		defer cancel()
		return fn(cctx)
	})
}

func (e *SyncEngine) recordFailure(ctx context.Context, mailbox string, err error) {
	switch {
	case ctx.Err() != nil || errors.Is(err, context.Canceled):
		log.Printf("[Sync] Pass for %s interrupted: %v", mailbox, err)
	case errors.Is(err, emaildomain.ErrReauthRequired):
		// token store already flagged the mailbox
	case emaildomain.IsPermanent(err):
		log.Printf("[Sync] Permanent failure for %s: %v", mailbox, err)
		if setErr := e.mailboxes.SetStatus(ctx, mailbox, mailboxdomain.StatusFailed, err.Error()); setErr != nil {
			log.Printf("[Sync] Failed to mark %s failed: %v", mailbox, setErr)
		}
		entry := auditrepo.NewEntry(auditdomain.ActorSystem, auditdomain.ActionMailboxFailed, "mailbox", mailbox, mailbox,
			map[string]any{"error": err.Error()})
		if auditErr := e.audit.Append(ctx, entry); auditErr != nil {
			log.Printf("[Sync] Failed to audit failure for %s: %v", mailbox, auditErr)
		}
	default:
		log.Printf("[Sync] Transient failure for %s: %v", mailbox, err)
		if setErr := e.mailboxes.SetStatus(ctx, mailbox, mailboxdomain.StatusDegraded, err.Error()); setErr != nil {
			log.Printf("[Sync] Failed to mark %s degraded: %v", mailbox, setErr)
		}
	}
}

func (e *SyncEngine) recordHealth(ctx context.Context, mb *mailboxdomain.Mailbox, degraded bool) {
	var err error
	switch {
	case degraded:
		err = e.mailboxes.SetStatus(ctx, mb.Email, mailboxdomain.StatusDegraded, "history cursor expired; lookback window used")
	case mb.Status != mailboxdomain.StatusActive:
		err = e.mailboxes.SetStatus(ctx, mb.Email, mailboxdomain.StatusActive, "")
	}
	if err != nil {
		log.Printf("[Sync] Failed to update status for %s: %v", mb.Email, err)
	}
}

func isOutboundBySelf(mailbox string, pm *emaildomain.ProviderMessage) bool {
	if emaildomain.HasLabel(pm.LabelIDs, "SENT") || emaildomain.HasLabel(pm.LabelIDs, "DRAFT") {
		return true
	}
	return strings.EqualFold(addressOf(pm.From), mailbox)
}

// addressOf extracts the bare address from a From header.
func addressOf(header string) string {
	if addr, err := mail.ParseAddress(header); err == nil {
		return addr.Address
	}
	if start, end := strings.LastIndex(header, "<"), strings.LastIndex(header, ">"); start >= 0 && end > start {
		return strings.TrimSpace(header[start+1 : end])
	}
	return strings.TrimSpace(header)
}

func toMessage(mailbox string, pm *emaildomain.ProviderMessage) *emaildomain.Message {
	return &emaildomain.Message{
		ProviderMessageID: pm.ID,
		Mailbox:           mailbox,
		ThreadID:          pm.ThreadID,
		RFCMessageID:      pm.RFCMessageID,
		References:        pm.References,
		Direction:         emaildomain.DirectionInbound,
		Subject:           pm.Subject,
		From:              pm.From,
		To:                pm.To,
		Content:           pm.Body,
		ReceivedAt:        pm.ReceivedAt,
	}
}
