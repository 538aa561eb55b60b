package scheduler

import (
	"context"
	"log"
	"time"

	emaildomain "mailsync-backend/internal/email/domain"
	emailrepo "mailsync-backend/internal/email/repository"
	mailboxdomain "mailsync-backend/internal/mailbox/domain"
	mailboxrepo "mailsync-backend/internal/mailbox/repository"
)

// MessageProcessor resumes the post-ingest pipeline for a stored message.
type MessageProcessor interface {
	Process(ctx context.Context, msg *emaildomain.Message) error
}

// SyncTriggerer schedules a background sync pass for a mailbox.
type SyncTriggerer interface {
	Trigger(mailbox string)
}

// WatchRenewer extends push delivery for a mailbox.
type WatchRenewer interface {
	RenewWatch(ctx context.Context, email string) error
}

// Config controls how often the sweeper runs and what it treats as stuck.
type Config struct {
	Interval time.Duration
	// StallAfter is how long a message may sit before the approval queue before it is retried.
	StallAfter time.Duration
	// AutoSendTimeout is how long an auto-send claim may stay open before it goes back to review.
	AutoSendTimeout time.Duration
	// RenewBefore renews watches expiring within this window.
	RenewBefore time.Duration
	BatchSize   int
	// MaxResumeAttempts is how many failed resumes a message gets before it is reported as stalled.
	MaxResumeAttempts int
	// AutoCreateDrafts mirrors the processor setting. Without it classified is a resting state.
	AutoCreateDrafts bool
}

// Sweeper periodically repairs work that a crash or a provider outage left behind.
type Sweeper struct {
	messages  emailrepo.MessageRepository
	mailboxes mailboxrepo.MailboxRepository
	processor MessageProcessor
	trigger   SyncTriggerer
	watches   WatchRenewer
	cfg       Config
	now       func() time.Time
	stopChan  chan struct{}
	done      chan struct{}
}

// NewSweeper creates a new sweeper. watches may be nil when push is not configured.
func NewSweeper(
	messages emailrepo.MessageRepository,
	mailboxes mailboxrepo.MailboxRepository,
	processor MessageProcessor,
	trigger SyncTriggerer,
	watches WatchRenewer,
	cfg Config,
) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.StallAfter <= 0 {
		cfg.StallAfter = 5 * time.Minute
	}
	if cfg.AutoSendTimeout <= 0 {
		cfg.AutoSendTimeout = 10 * time.Minute
	}
	if cfg.RenewBefore <= 0 {
		cfg.RenewBefore = 24 * time.Hour
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.MaxResumeAttempts <= 0 {
		cfg.MaxResumeAttempts = 5
	}
	return &Sweeper{
		messages:  messages,
		mailboxes: mailboxes,
		processor: processor,
		trigger:   trigger,
		watches:   watches,
		cfg:       cfg,
		now:       time.Now,
		stopChan:  make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start begins the sweep loop
func (s *Sweeper) Start(ctx context.Context) {
	log.Printf("[Sweeper] Starting (interval: %s)", s.cfg.Interval)

	go func() {
		defer close(s.done)

		// Run immediately on start
		s.Sweep(ctx)

		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.Sweep(ctx)
			case <-ctx.Done():
				log.Println("[Sweeper] Context cancelled, stopping")
				return
			case <-s.stopChan:
				log.Println("[Sweeper] Stopped")
				return
			}
		}
	}()
}

// Stop ends the loop and waits for an in-flight sweep to finish.
func (s *Sweeper) Stop() {
	close(s.stopChan)
	<-s.done
}

// Sweep runs one pass of every repair job.
func (s *Sweeper) Sweep(ctx context.Context) {
	s.revertStaleAutoSends(ctx)
	s.resumeStalled(ctx)
	s.checkMailboxes(ctx)
}

func (s *Sweeper) revertStaleAutoSends(ctx context.Context) {
	n, err := s.messages.RevertStaleAutoSends(ctx, s.now().Add(-s.cfg.AutoSendTimeout))
	if err != nil {
		log.Printf("[Sweeper] Error reverting stale auto-sends: %v", err)
		return
	}
	if n > 0 {
		log.Printf("[Sweeper] Returned %d stale auto-send claims to the approval queue", n)
	}
}

func (s *Sweeper) resumableStates() []emaildomain.MessageState {
	states := []emaildomain.MessageState{emaildomain.StateReceived, emaildomain.StateDrafted}
	if s.cfg.AutoCreateDrafts {
		states = append(states, emaildomain.StateClassified)
	}
	return states
}

func (s *Sweeper) resumeStalled(ctx context.Context) {
	stalled, err := s.messages.FindStalled(ctx, s.resumableStates(), s.now().Add(-s.cfg.StallAfter),
		s.cfg.MaxResumeAttempts, s.cfg.BatchSize)
	if err != nil {
		log.Printf("[Sweeper] Error finding stalled messages: %v", err)
		return
	}
	if len(stalled) == 0 {
		return
	}

	log.Printf("[Sweeper] Resuming %d stalled messages", len(stalled))
	for i := range stalled {
		if ctx.Err() != nil {
			return
		}
		msg := &stalled[i]
		perr := s.processor.Process(ctx, msg)
		if perr == nil {
			continue
		}
		log.Printf("[Sweeper] Message %d (%s) still stuck in %s: %v", msg.ID, msg.Mailbox, msg.State, perr)
		exhausted, err := s.messages.RecordResumeFailure(ctx, msg.ID, perr.Error(), s.now(), s.cfg.MaxResumeAttempts)
		if err != nil {
			log.Printf("[Sweeper] Error recording resume failure for message %d: %v", msg.ID, err)
			continue
		}
		if exhausted {
			log.Printf("[Sweeper] [ERROR] Message %d (%s) gave up in %s after %d attempts, needs an operator",
				msg.ID, msg.Mailbox, msg.State, s.cfg.MaxResumeAttempts)
		}
	}
}

func (s *Sweeper) checkMailboxes(ctx context.Context) {
	mailboxes, err := s.mailboxes.List(ctx)
	if err != nil {
		log.Printf("[Sweeper] Error listing mailboxes: %v", err)
		return
	}

	renewBy := s.now().Add(s.cfg.RenewBefore)
	for _, mb := range mailboxes {
		if mb.Suspended() {
			continue
		}
		if mb.Status == mailboxdomain.StatusDegraded {
			log.Printf("[Sweeper] Re-triggering sync for degraded mailbox %s", mb.Email)
			s.trigger.Trigger(mb.Email)
		}
		if s.watches != nil && mb.WatchExpiration != nil && mb.WatchExpiration.Before(renewBy) {
			if err := s.watches.RenewWatch(ctx, mb.Email); err != nil {
				log.Printf("[Sweeper] Error renewing watch for %s: %v", mb.Email, err)
			}
		}
	}
}
