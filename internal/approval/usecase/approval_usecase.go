package usecase

import (
	"context"
	"fmt"
	"log"
	"time"

	auditdomain "mailsync-backend/internal/audit/domain"
	emaildomain "mailsync-backend/internal/email/domain"
	"mailsync-backend/internal/email/repository"
	"mailsync-backend/pkg/retry"

	"github.com/googleapis/gax-go/v2"
	"github.com/google/uuid"
)

// Notifier tells operators about messages that need their attention.
type Notifier interface {
	NotifyPending(ctx context.Context, msg *emaildomain.Message)
}

// PendingDraft is one row of the approval queue.
type PendingDraft struct {
	MessageID       uint64   `json:"message_id"`
	Subject         string   `json:"subject"`
	From            string   `json:"from"`
	Category        string   `json:"category"`
	ConfidenceScore *float64 `json:"confidence_score"`
	DraftID         string   `json:"draft_id"`
}

// Config bounds provider calls made by the manager.
type Config struct {
	CallTimeout time.Duration
	MaxAttempts int
	Backoff     gax.Backoff
}

// ApprovalUsecase manages reply drafts, the approval queue and sending.
type ApprovalUsecase interface {
	CreateReplyDraft(ctx context.Context, msg *emaildomain.Message) (*emaildomain.Message, error)
	ApplyPolicy(ctx context.Context, msg *emaildomain.Message) error
	DraftForMessage(ctx context.Context, mailbox string, messageID uint64) (*emaildomain.Message, error)
	ListPending(ctx context.Context, mailbox string) ([]PendingDraft, error)
	SendByMessage(ctx context.Context, mailbox string, messageID uint64, requestKey string) (*emaildomain.Message, error)
	DiscardDraft(ctx context.Context, mailbox string, messageID uint64) error
}

type approvalUsecase struct {
	messages repository.MessageRepository
	provider emaildomain.MailProvider
	policy   Policy
	notifier Notifier
	cfg      Config
}

// NewApprovalUsecase creates a new instance of approvalUsecase. notifier may be nil.
func NewApprovalUsecase(messages repository.MessageRepository, provider emaildomain.MailProvider, policy Policy, notifier Notifier, cfg Config) ApprovalUsecase {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 30 * time.Second
	}
	if !policy.Enabled {
		log.Printf("[Approval] Auto-send disabled; every reply waits for approval")
	} else {
		log.Printf("[Approval] Auto-send ENABLED above %.2f for categories %v", policy.Threshold, policy.AllowedCategories)
	}
	return &approvalUsecase{
		messages: messages,
		provider: provider,
		policy:   policy,
		notifier: notifier,
		cfg:      cfg,
	}
}

// CreateReplyDraft creates the provider draft for a classified message and records it.
// A message that already has a draft is returned unchanged.
func (u *approvalUsecase) CreateReplyDraft(ctx context.Context, msg *emaildomain.Message) (*emaildomain.Message, error) {
	if msg.HasDraft() {
		return msg, nil
	}
	if msg.State != emaildomain.StateClassified {
		return nil, fmt.Errorf("%w: message %d is %s", emaildomain.ErrInvalidTransition, msg.ID, msg.State)
	}

	req := emaildomain.DraftRequest{
		ThreadID:   msg.ThreadID,
		InReplyTo:  msg.RFCMessageID,
		References: msg.References,
		To:         msg.From,
		Subject:    replySubject(msg),
		Body:       stripQuoted(msg.SuggestedReply),
	}

	var draftID string
	err := u.call(ctx, func(ctx context.Context) error {
		var callErr error
		draftID, callErr = u.provider.CreateDraft(ctx, msg.Mailbox, req)
		return callErr
	})
	if err != nil {
		return nil, err
	}

	if err := u.messages.AttachDraft(ctx, msg.ID, draftID, auditdomain.ActorSystem); err != nil {
		// lost a race with another processor; drop the orphan
		if delErr := u.provider.DeleteDraft(ctx, msg.Mailbox, draftID); delErr != nil {
			log.Printf("[Approval] Failed to delete orphan draft %s: %v", draftID, delErr)
		}
		return nil, err
	}
	log.Printf("[Approval] Draft %s created for message %d", draftID, msg.ID)
	return u.reload(ctx, msg.Mailbox, msg.ID)
}

// ApplyPolicy routes a drafted message to the approval queue or the auto-send path.
func (u *approvalUsecase) ApplyPolicy(ctx context.Context, msg *emaildomain.Message) error {
	if msg.State != emaildomain.StateDrafted {
		return fmt.Errorf("%w: message %d is %s", emaildomain.ErrInvalidTransition, msg.ID, msg.State)
	}

	decision := u.policy.Decide(msg)
	if !decision.AutoSend {
		return u.queue(ctx, msg, decision.Reason)
	}

	requestKey := fmt.Sprintf("auto-%d", msg.ID)
	claimed, err := u.messages.ClaimForSend(ctx, msg.Mailbox, msg.ID, emaildomain.StateDrafted, emaildomain.StateAutoSent, requestKey)
	if err != nil {
		return err
	}
	if !claimed {
		return nil
	}
	log.Printf("[Approval] Auto-sending message %d: %s", msg.ID, decision.Reason)

	sentID, err := u.send(ctx, msg)
	if err != nil {
		log.Printf("[Approval] Auto-send of message %d failed, queueing for approval: %v", msg.ID, err)
		if revertErr := u.messages.RevertClaim(ctx, msg.ID, emaildomain.StateAutoSent); revertErr != nil {
			return revertErr
		}
		u.notify(ctx, msg)
		return nil
	}
	return u.messages.MarkSent(ctx, msg.ID, emaildomain.StateAutoSent, sentID, auditdomain.ActorAuto, map[string]any{
		"decision":   decision.Reason,
		"category":   msg.Category,
		"confidence": msg.Confidence(),
		"threshold":  u.policy.Threshold,
	})
}

func (u *approvalUsecase) queue(ctx context.Context, msg *emaildomain.Message, reason string) error {
	moved, err := u.messages.Transition(ctx, msg.ID, emaildomain.StateDrafted, emaildomain.StatePendingApproval)
	if err != nil {
		return err
	}
	if moved {
		log.Printf("[Approval] Message %d queued for approval (%s)", msg.ID, reason)
		u.notify(ctx, msg)
	}
	return nil
}

// DraftForMessage creates a draft on operator request and queues it for approval.
func (u *approvalUsecase) DraftForMessage(ctx context.Context, mailbox string, messageID uint64) (*emaildomain.Message, error) {
	msg, err := u.messages.FindByID(ctx, mailbox, messageID)
	if err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, fmt.Errorf("%w: message %d", emaildomain.ErrNotFound, messageID)
	}

	msg, err = u.CreateReplyDraft(ctx, msg)
	if err != nil {
		return nil, err
	}
	if msg.State == emaildomain.StateDrafted {
		if _, err := u.messages.Transition(ctx, msg.ID, emaildomain.StateDrafted, emaildomain.StatePendingApproval); err != nil {
			return nil, err
		}
	}
	return u.reload(ctx, mailbox, messageID)
}

func (u *approvalUsecase) ListPending(ctx context.Context, mailbox string) ([]PendingDraft, error) {
	messages, err := u.messages.ListPending(ctx, mailbox)
	if err != nil {
		return nil, err
	}
	pending := make([]PendingDraft, 0, len(messages))
	for _, m := range messages {
		pending = append(pending, PendingDraft{
			MessageID:       m.ID,
			Subject:         m.Subject,
			From:            m.From,
			Category:        m.Category,
			ConfidenceScore: m.ConfidenceScore,
			DraftID:         *m.DraftID,
		})
	}
	return pending, nil
}

// SendByMessage sends the approved draft for a message at most once.
// Repeating a request with the same key is a no-op; a different key gets ErrAlreadySent.
func (u *approvalUsecase) SendByMessage(ctx context.Context, mailbox string, messageID uint64, requestKey string) (*emaildomain.Message, error) {
	if requestKey == "" {
		requestKey = uuid.New().String()
	}

	msg, err := u.messages.FindByID(ctx, mailbox, messageID)
	if err != nil {
		return nil, err
	}
	if done, err := checkSendable(msg, messageID, requestKey); done || err != nil {
		return msg, err
	}

	claimed, err := u.messages.ClaimForSend(ctx, mailbox, messageID, emaildomain.StatePendingApproval, emaildomain.StateSending, requestKey)
	if err != nil {
		return nil, err
	}
	if !claimed {
		// someone else moved it first
		msg, err = u.messages.FindByID(ctx, mailbox, messageID)
		if err != nil {
			return nil, err
		}
		if done, err := checkSendable(msg, messageID, requestKey); done || err != nil {
			return msg, err
		}
		return nil, fmt.Errorf("%w: message %d", emaildomain.ErrAlreadySent, messageID)
	}

	sentID, err := u.send(ctx, msg)
	if err != nil {
		if revertErr := u.messages.RevertClaim(ctx, messageID, emaildomain.StateSending); revertErr != nil {
			log.Printf("[Approval] Failed to release claim on message %d: %v", messageID, revertErr)
		}
		return nil, err
	}
	if err := u.messages.MarkSent(ctx, messageID, emaildomain.StateSending, sentID, auditdomain.ActorHuman, nil); err != nil {
		return nil, err
	}
	log.Printf("[Approval] Message %d sent by operator as %s", messageID, sentID)
	return u.reload(ctx, mailbox, messageID)
}

// checkSendable reports done=true when the request was already satisfied under the same key.
func checkSendable(msg *emaildomain.Message, messageID uint64, requestKey string) (bool, error) {
	if msg == nil || !msg.HasDraft() {
		return false, fmt.Errorf("%w: message %d has no open draft", emaildomain.ErrNotFound, messageID)
	}
	switch msg.State {
	case emaildomain.StatePendingApproval:
		return false, nil
	case emaildomain.StateSent, emaildomain.StateSending, emaildomain.StateAutoSent:
		if msg.SendRequestID == requestKey {
			return true, nil
		}
		return false, fmt.Errorf("%w: message %d", emaildomain.ErrAlreadySent, messageID)
	default:
		return false, fmt.Errorf("%w: message %d is %s", emaildomain.ErrNotFound, messageID, msg.State)
	}
}

// DiscardDraft closes the draft without sending. The state change comes first so a
// concurrent send cannot claim a draft that is being deleted.
func (u *approvalUsecase) DiscardDraft(ctx context.Context, mailbox string, messageID uint64) error {
	msg, err := u.messages.FindByID(ctx, mailbox, messageID)
	if err != nil {
		return err
	}
	if msg == nil || !msg.HasDraft() {
		return fmt.Errorf("%w: message %d has no open draft", emaildomain.ErrNotFound, messageID)
	}

	discarded, err := u.messages.MarkDiscarded(ctx, mailbox, messageID, auditdomain.ActorHuman)
	if err != nil {
		return err
	}
	if !discarded {
		if msg.State == emaildomain.StateSent || msg.State == emaildomain.StateSending {
			return fmt.Errorf("%w: message %d", emaildomain.ErrAlreadySent, messageID)
		}
		return fmt.Errorf("%w: message %d is %s", emaildomain.ErrNotFound, messageID, msg.State)
	}

	if err := u.provider.DeleteDraft(ctx, mailbox, *msg.DraftID); err != nil {
		log.Printf("[Approval] Draft %s discarded locally but provider delete failed: %v", *msg.DraftID, err)
	}
	return nil
}

// send makes exactly one provider attempt. Retrying a send whose response was lost could deliver twice.
func (u *approvalUsecase) send(ctx context.Context, msg *emaildomain.Message) (string, error) {
	cctx, cancel := context.WithTimeout(ctx, u.cfg.CallTimeout)
	defer cancel()
	return u.provider.SendDraft(cctx, msg.Mailbox, *msg.DraftID)
}

func (u *approvalUsecase) call(ctx context.Context, fn func(ctx context.Context) error) error {
	return retry.Do(ctx, u.cfg.MaxAttempts, u.cfg.Backoff, emaildomain.IsTransient, func(ctx context.Context) error {
		cctx, cancel := context.WithTimeout(ctx, u.cfg.CallTimeout)
		defer cancel()
		return fn(cctx)
	})
}

func (u *approvalUsecase) notify(ctx context.Context, msg *emaildomain.Message) {
	if u.notifier != nil {
		u.notifier.NotifyPending(ctx, msg)
	}
}

func (u *approvalUsecase) reload(ctx context.Context, mailbox string, id uint64) (*emaildomain.Message, error) {
	msg, err := u.messages.FindByID(ctx, mailbox, id)
	if err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, fmt.Errorf("%w: message %d", emaildomain.ErrNotFound, id)
	}
	return msg, nil
}
