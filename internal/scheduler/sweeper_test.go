package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	auditdomain "mailsync-backend/internal/audit/domain"
	auditrepo "mailsync-backend/internal/audit/repository"
	emaildomain "mailsync-backend/internal/email/domain"
	emailrepo "mailsync-backend/internal/email/repository"
	mailboxdomain "mailsync-backend/internal/mailbox/domain"
	mailboxrepo "mailsync-backend/internal/mailbox/repository"
	"mailsync-backend/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type recordingProcessor struct {
	mu   sync.Mutex
	ids  []uint64
	err  error
	fail map[uint64]error
}

func (p *recordingProcessor) Process(ctx context.Context, msg *emaildomain.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ids = append(p.ids, msg.ID)
	if err, ok := p.fail[msg.ID]; ok {
		return err
	}
	return p.err
}

func (p *recordingProcessor) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ids = nil
}

type recordingTrigger struct {
	mu        sync.Mutex
	mailboxes []string
}

func (r *recordingTrigger) Trigger(mailbox string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mailboxes = append(r.mailboxes, mailbox)
}

type recordingRenewer struct {
	renewed []string
	err     error
}

func (r *recordingRenewer) RenewWatch(ctx context.Context, email string) error {
	r.renewed = append(r.renewed, email)
	return r.err
}

type sweepHarness struct {
	db        *gorm.DB
	messages  emailrepo.MessageRepository
	audit     auditrepo.AuditRepository
	processor *recordingProcessor
	trigger   *recordingTrigger
	renewer   *recordingRenewer
	sweeper   *Sweeper
	now       time.Time
}

func newSweepHarness(t *testing.T) *sweepHarness {
	t.Helper()
	db := testutil.NewTestDB(t)
	audit := auditrepo.NewAuditRepository(db)
	h := &sweepHarness{
		db:        db,
		messages:  emailrepo.NewMessageRepository(db, audit),
		audit:     audit,
		processor: &recordingProcessor{},
		trigger:   &recordingTrigger{},
		renewer:   &recordingRenewer{},
		now:       time.Now(),
	}
	h.sweeper = NewSweeper(h.messages, mailboxrepo.NewMailboxRepository(db, audit), h.processor, h.trigger, h.renewer, Config{
		StallAfter:       5 * time.Minute,
		AutoSendTimeout:  10 * time.Minute,
		RenewBefore:      24 * time.Hour,
		AutoCreateDrafts: true,
	})
	h.sweeper.now = func() time.Time { return h.now }
	return h
}

func (h *sweepHarness) message(t *testing.T, providerID string, direction emaildomain.Direction, state emaildomain.MessageState, age time.Duration) *emaildomain.Message {
	t.Helper()
	msg := &emaildomain.Message{
		ProviderMessageID: providerID,
		Mailbox:           "a@x.com",
		Direction:         direction,
		State:             state,
		RequiresApproval:  false,
		CreatedAt:         h.now.Add(-age),
		UpdatedAt:         h.now.Add(-age),
	}
	require.NoError(t, h.db.Create(msg).Error)
	return msg
}

func (h *sweepHarness) mailbox(t *testing.T, email string, status mailboxdomain.Status, watchExpiry *time.Time) {
	t.Helper()
	require.NoError(t, h.db.Create(&mailboxdomain.Mailbox{
		ID:              "mb-" + email,
		Email:           email,
		Status:          status,
		WatchExpiration: watchExpiry,
	}).Error)
}

func TestSweepResumesStalledInboundMessages(t *testing.T) {
	h := newSweepHarness(t)
	old := h.message(t, "p1", emaildomain.DirectionInbound, emaildomain.StateReceived, time.Hour)
	drafted := h.message(t, "p2", emaildomain.DirectionInbound, emaildomain.StateDrafted, time.Hour)
	h.message(t, "p3", emaildomain.DirectionInbound, emaildomain.StateReceived, time.Minute)
	h.message(t, "p4", emaildomain.DirectionOutbound, emaildomain.StateReceived, time.Hour)
	h.message(t, "p5", emaildomain.DirectionInbound, emaildomain.StatePendingApproval, time.Hour)

	h.sweeper.Sweep(context.Background())

	assert.Equal(t, []uint64{old.ID, drafted.ID}, h.processor.ids)
}

func TestSweepKeepsGoingWhenProcessingFails(t *testing.T) {
	h := newSweepHarness(t)
	h.processor.err = errors.New("classifier down")
	h.message(t, "p1", emaildomain.DirectionInbound, emaildomain.StateReceived, time.Hour)
	h.message(t, "p2", emaildomain.DirectionInbound, emaildomain.StateClassified, time.Hour)

	h.sweeper.Sweep(context.Background())

	assert.Len(t, h.processor.ids, 2)
}

func TestSweepSkipsClassifiedWhenDraftsAreManual(t *testing.T) {
	h := newSweepHarness(t)
	h.sweeper.cfg.AutoCreateDrafts = false
	received := h.message(t, "p1", emaildomain.DirectionInbound, emaildomain.StateReceived, time.Hour)
	h.message(t, "p2", emaildomain.DirectionInbound, emaildomain.StateClassified, time.Hour)

	h.sweeper.Sweep(context.Background())

	assert.Equal(t, []uint64{received.ID}, h.processor.ids)
}

func TestSweepFailingMessagesDoNotStarveTheBatch(t *testing.T) {
	ctx := context.Background()
	h := newSweepHarness(t)
	h.sweeper.cfg.BatchSize = 2
	first := h.message(t, "p1", emaildomain.DirectionInbound, emaildomain.StateClassified, 2*time.Hour)
	second := h.message(t, "p2", emaildomain.DirectionInbound, emaildomain.StateClassified, 2*time.Hour)
	waiting := h.message(t, "p3", emaildomain.DirectionInbound, emaildomain.StateReceived, time.Hour)
	h.processor.fail = map[uint64]error{
		first.ID:  errors.New("provider down"),
		second.ID: errors.New("provider down"),
	}

	h.sweeper.Sweep(ctx)
	assert.Equal(t, []uint64{first.ID, second.ID}, h.processor.ids)

	got, err := h.messages.FindByID(ctx, "a@x.com", first.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.ResumeAttempts)
	assert.Equal(t, "provider down", got.LastError)

	h.processor.reset()
	h.now = h.now.Add(10 * time.Minute)
	h.sweeper.Sweep(ctx)
	assert.Equal(t, []uint64{waiting.ID, first.ID}, h.processor.ids)
}

func TestSweepGivesUpAfterMaxResumeAttempts(t *testing.T) {
	ctx := context.Background()
	h := newSweepHarness(t)
	h.sweeper.cfg.MaxResumeAttempts = 2
	h.processor.err = errors.New("draft create failed")
	stuck := h.message(t, "p1", emaildomain.DirectionInbound, emaildomain.StateClassified, time.Hour)

	for i := 0; i < 4; i++ {
		h.sweeper.Sweep(ctx)
		h.now = h.now.Add(10 * time.Minute)
	}

	assert.Equal(t, []uint64{stuck.ID, stuck.ID}, h.processor.ids)

	got, err := h.messages.FindByID(ctx, "a@x.com", stuck.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.ResumeAttempts)
	assert.Equal(t, "draft create failed", got.LastError)

	entries, err := h.audit.ListByMailbox(ctx, "a@x.com", 10)
	require.NoError(t, err)
	var stalled []auditdomain.Entry
	for _, e := range entries {
		if e.Action == auditdomain.ActionMessageStalled {
			stalled = append(stalled, e)
		}
	}
	require.Len(t, stalled, 1)
	assert.Equal(t, auditdomain.ActorSystem, stalled[0].Actor)
	assert.Contains(t, stalled[0].Detail, "draft create failed")
}

func TestSweepReturnsStaleAutoSendsToApproval(t *testing.T) {
	h := newSweepHarness(t)
	stale := h.message(t, "p1", emaildomain.DirectionInbound, emaildomain.StateAutoSent, time.Hour)
	fresh := h.message(t, "p2", emaildomain.DirectionInbound, emaildomain.StateAutoSent, time.Minute)

	h.sweeper.Sweep(context.Background())

	got, err := h.messages.FindByID(context.Background(), "a@x.com", stale.ID)
	require.NoError(t, err)
	assert.Equal(t, emaildomain.StatePendingApproval, got.State)
	assert.True(t, got.RequiresApproval)

	got, err = h.messages.FindByID(context.Background(), "a@x.com", fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, emaildomain.StateAutoSent, got.State)
}

func TestSweepRetriggersDegradedAndRenewsWatches(t *testing.T) {
	h := newSweepHarness(t)
	soon := h.now.Add(2 * time.Hour)
	later := h.now.Add(5 * 24 * time.Hour)
	h.mailbox(t, "degraded@x.com", mailboxdomain.StatusDegraded, &later)
	h.mailbox(t, "expiring@x.com", mailboxdomain.StatusActive, &soon)
	h.mailbox(t, "fine@x.com", mailboxdomain.StatusActive, &later)
	h.mailbox(t, "nowatch@x.com", mailboxdomain.StatusActive, nil)
	h.mailbox(t, "failed@x.com", mailboxdomain.StatusFailed, &soon)
	h.mailbox(t, "reauth@x.com", mailboxdomain.StatusReauthRequired, &soon)

	h.sweeper.Sweep(context.Background())

	assert.Equal(t, []string{"degraded@x.com"}, h.trigger.mailboxes)
	assert.Equal(t, []string{"expiring@x.com"}, h.renewer.renewed)
}

func TestSweepWithoutWatchRenewer(t *testing.T) {
	h := newSweepHarness(t)
	h.sweeper.watches = nil
	soon := h.now.Add(time.Hour)
	h.mailbox(t, "expiring@x.com", mailboxdomain.StatusActive, &soon)

	assert.NotPanics(t, func() { h.sweeper.Sweep(context.Background()) })
}

func TestSweeperStartStop(t *testing.T) {
	h := newSweepHarness(t)
	h.sweeper.cfg.Interval = 10 * time.Millisecond
	h.message(t, "p1", emaildomain.DirectionInbound, emaildomain.StateReceived, time.Hour)

	h.sweeper.Start(context.Background())
	assert.Eventually(t, func() bool {
		h.processor.mu.Lock()
		defer h.processor.mu.Unlock()
		return len(h.processor.ids) > 0
	}, time.Second, 5*time.Millisecond)
	h.sweeper.Stop()
}
