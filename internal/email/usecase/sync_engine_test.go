package usecase

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	approval "mailsync-backend/internal/approval/usecase"
	auditdomain "mailsync-backend/internal/audit/domain"
	auditrepo "mailsync-backend/internal/audit/repository"
	emaildomain "mailsync-backend/internal/email/domain"
	"mailsync-backend/internal/email/repository"
	mailboxdomain "mailsync-backend/internal/mailbox/domain"
	mailboxrepo "mailsync-backend/internal/mailbox/repository"
	"mailsync-backend/internal/testutil"

	"github.com/googleapis/gax-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const mailbox = "a@x.com"

var fastBackoff = gax.Backoff{Initial: time.Millisecond, Max: time.Millisecond, Multiplier: 1}

type syncHarness struct {
	provider   *testutil.FakeProvider
	classifier *testutil.FakeClassifier
	messages   repository.MessageRepository
	mailboxes  mailboxrepo.MailboxRepository
	watermarks mailboxrepo.WatermarkRepository
	audit      auditrepo.AuditRepository
	approvals  approval.ApprovalUsecase
	engine     *SyncEngine
}

// newSyncHarness connects mailbox with a watermark at cursor.
func newSyncHarness(t *testing.T, cursor uint64) *syncHarness {
	t.Helper()
	ctx := context.Background()
	db := testutil.NewTestDB(t)

	h := &syncHarness{
		provider: testutil.NewFakeProvider(cursor),
		classifier: &testutil.FakeClassifier{Result: emaildomain.Classification{
			Category:       "question",
			Confidence:     0.9,
			SuggestedReply: "Thanks, will do.",
		}},
	}
	h.audit = auditrepo.NewAuditRepository(db)
	h.messages = repository.NewMessageRepository(db, h.audit)
	h.mailboxes = mailboxrepo.NewMailboxRepository(db, h.audit)
	h.watermarks = mailboxrepo.NewWatermarkRepository(db, h.audit)
	h.approvals = approval.NewApprovalUsecase(h.messages, h.provider, approval.Policy{}, nil,
		approval.Config{CallTimeout: time.Second, MaxAttempts: 2, Backoff: fastBackoff})

	processor := NewProcessor(h.messages, h.classifier, h.approvals, ProcessorConfig{
		ClassifierTimeout: time.Second,
		MaxAttempts:       2,
		Backoff:           fastBackoff,
		AutoCreateDrafts:  true,
	})
	h.engine = NewSyncEngine(h.provider, h.messages, h.mailboxes, h.watermarks, h.audit, processor, SyncConfig{
		Lookback:    24 * time.Hour,
		LookbackMax: 50,
		CallTimeout: time.Second,
		MaxAttempts: 2,
		Backoff:     fastBackoff,
	})

	require.NoError(t, h.mailboxes.SaveConnected(ctx, &mailboxdomain.Mailbox{Email: mailbox, Status: mailboxdomain.StatusActive}))
	_, err := h.watermarks.Init(ctx, mailbox, cursor)
	require.NoError(t, err)
	return h
}

func (h *syncHarness) deliver(ids ...string) uint64 {
	var cursor uint64
	for _, id := range ids {
		cursor = h.provider.Deliver(emaildomain.ProviderMessage{
			ID:      id,
			Subject: "Hello " + id,
			From:    "Bob <b@y.com>",
			To:      mailbox,
			Body:    "body of " + id,
		})
	}
	return cursor
}

// stored looks up a synced message by its provider id.
func (h *syncHarness) stored(t *testing.T, providerID string) *emaildomain.Message {
	t.Helper()
	msgs, _, err := h.messages.ListByMailbox(context.Background(), mailbox, "", 100, 0)
	require.NoError(t, err)
	for i := range msgs {
		if msgs[i].ProviderMessageID == providerID {
			return &msgs[i]
		}
	}
	t.Fatalf("message %s was not stored", providerID)
	return nil
}

func (h *syncHarness) watermark(t *testing.T) uint64 {
	t.Helper()
	wm, err := h.watermarks.Get(context.Background(), mailbox)
	require.NoError(t, err)
	require.NotNil(t, wm)
	return wm.HistoryID
}

func (h *syncHarness) pendingProviderIDs(t *testing.T) []string {
	t.Helper()
	ctx := context.Background()
	pending, err := h.approvals.ListPending(ctx, mailbox)
	require.NoError(t, err)
	var ids []string
	for _, p := range pending {
		msg, err := h.messages.FindByID(ctx, mailbox, p.MessageID)
		require.NoError(t, err)
		ids = append(ids, msg.ProviderMessageID)
	}
	return ids
}

func TestSyncIngestsNewMessagesInOrder(t *testing.T) {
	ctx := context.Background()
	h := newSyncHarness(t, 10)
	require.Equal(t, uint64(13), h.deliver("m1", "m2", "m3"))

	result, err := h.engine.Sync(ctx, mailbox)
	require.NoError(t, err)

	assert.Equal(t, uint64(10), result.From)
	assert.Equal(t, uint64(13), result.To)
	assert.Len(t, result.Inserted, 3)
	assert.Equal(t, uint64(13), h.watermark(t))
	assert.Equal(t, []string{"m1", "m2", "m3"}, h.pendingProviderIDs(t))
	assert.Equal(t, int64(0), h.provider.SendCalls.Load())

	// replaying the same history stores nothing new
	require.NoError(t, h.watermarks.Reset(ctx, mailbox, 10))
	again, err := h.engine.Sync(ctx, mailbox)
	require.NoError(t, err)
	assert.Empty(t, again.Inserted)
	assert.Equal(t, 3, again.Skipped)
	assert.Equal(t, []string{"m1", "m2", "m3"}, h.pendingProviderIDs(t))

	n, err := h.audit.CountByAction(ctx, mailbox, auditdomain.ActionMessageIngested)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestSyncWithNoChangesKeepsWatermark(t *testing.T) {
	h := newSyncHarness(t, 10)

	result, err := h.engine.Sync(context.Background(), mailbox)
	require.NoError(t, err)
	assert.Empty(t, result.Inserted)
	assert.Equal(t, uint64(10), result.To)
	assert.Equal(t, uint64(10), h.watermark(t))
}

func TestSyncBootstrapsWithoutWatermark(t *testing.T) {
	ctx := context.Background()
	h := newSyncHarness(t, 10)
	const other = "c@x.com"
	require.NoError(t, h.mailboxes.SaveConnected(ctx, &mailboxdomain.Mailbox{Email: other, Status: mailboxdomain.StatusActive}))
	h.deliver("old")

	result, err := h.engine.Sync(ctx, other)
	require.NoError(t, err)
	assert.True(t, result.Bootstrapped)
	assert.Equal(t, uint64(11), result.To)
	assert.Empty(t, result.Inserted)

	wm, err := h.watermarks.Get(ctx, other)
	require.NoError(t, err)
	assert.Equal(t, uint64(11), wm.HistoryID)
	assert.Equal(t, int64(0), h.provider.FetchCalls.Load())
}

func TestSyncFetchFailureKeepsWatermark(t *testing.T) {
	ctx := context.Background()
	h := newSyncHarness(t, 10)
	h.deliver("m1", "m2", "m3")
	h.provider.FailFetch("m2", emaildomain.NewTransientError("messages_get", 503, errors.New("unavailable")))

	_, err := h.engine.Sync(ctx, mailbox)
	require.Error(t, err)
	assert.Equal(t, uint64(10), h.watermark(t))

	mb, err := h.mailboxes.FindByEmail(ctx, mailbox)
	require.NoError(t, err)
	assert.Equal(t, mailboxdomain.StatusDegraded, mb.Status)

	h.provider.FailFetch("m2", nil)
	result, err := h.engine.Sync(ctx, mailbox)
	require.NoError(t, err)
	assert.Len(t, result.Inserted, 3)
	assert.Equal(t, uint64(13), h.watermark(t))

	mb, err = h.mailboxes.FindByEmail(ctx, mailbox)
	require.NoError(t, err)
	assert.Equal(t, mailboxdomain.StatusActive, mb.Status)
	assert.Equal(t, 0, mb.ConsecutiveFailures)
}

func TestSyncPermanentErrorFailsMailbox(t *testing.T) {
	ctx := context.Background()
	h := newSyncHarness(t, 10)
	h.provider.HistoryErr = emaildomain.NewPermanentError("history_list", 400, errors.New("bad request"))

	_, err := h.engine.Sync(ctx, mailbox)
	require.Error(t, err)
	assert.Equal(t, int64(1), h.provider.HistoryCalls.Load())

	mb, err := h.mailboxes.FindByEmail(ctx, mailbox)
	require.NoError(t, err)
	assert.Equal(t, mailboxdomain.StatusFailed, mb.Status)

	_, err = h.engine.Sync(ctx, mailbox)
	assert.ErrorIs(t, err, emaildomain.ErrMailboxSuspended)
}

func TestSyncCancelledPassLeavesMailboxHealthy(t *testing.T) {
	ctx := context.Background()
	h := newSyncHarness(t, 10)
	h.provider.HistoryErr = fmt.Errorf("history_list: %w", context.Canceled)

	_, err := h.engine.Sync(ctx, mailbox)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int64(1), h.provider.HistoryCalls.Load())

	mb, err := h.mailboxes.FindByEmail(ctx, mailbox)
	require.NoError(t, err)
	assert.Equal(t, mailboxdomain.StatusActive, mb.Status)

	n, err := h.audit.CountByAction(ctx, mailbox, auditdomain.ActionMailboxFailed)
	require.NoError(t, err)
	assert.Zero(t, n)

	h.provider.HistoryErr = nil
	_, err = h.engine.Sync(ctx, mailbox)
	require.NoError(t, err)
}

func TestSyncUnknownMailbox(t *testing.T) {
	h := newSyncHarness(t, 10)
	_, err := h.engine.Sync(context.Background(), "nobody@x.com")
	assert.ErrorIs(t, err, emaildomain.ErrMailboxNotFound)
}

func TestSyncSkipsOutboundAndDeletedMessages(t *testing.T) {
	ctx := context.Background()
	h := newSyncHarness(t, 10)
	h.provider.Deliver(emaildomain.ProviderMessage{ID: "sent", From: mailbox, LabelIDs: []string{"SENT"}})
	h.provider.Deliver(emaildomain.ProviderMessage{ID: "self", From: "Me <A@x.com>"})
	h.deliver("gone", "keep")
	h.provider.Remove("gone")

	result, err := h.engine.Sync(ctx, mailbox)
	require.NoError(t, err)
	require.Len(t, result.Inserted, 1)
	assert.Equal(t, 3, result.Skipped)
	assert.Equal(t, uint64(14), h.watermark(t))

	stored := h.stored(t, "keep")
	assert.Equal(t, emaildomain.DirectionInbound, stored.Direction)
}

func TestSyncClassifierFailureRoutesToReview(t *testing.T) {
	ctx := context.Background()
	h := newSyncHarness(t, 10)
	h.classifier.Err = errors.New("model unavailable")
	h.deliver("m1")

	_, err := h.engine.Sync(ctx, mailbox)
	require.NoError(t, err)

	msg := h.stored(t, "m1")
	assert.Equal(t, emaildomain.StatePendingApproval, msg.State)
	assert.Equal(t, emaildomain.CategoryUnclassified, msg.Category)
	assert.Equal(t, emaildomain.ClassificationFailed, msg.ClassificationStatus)
	require.NotNil(t, msg.ConfidenceScore)
	assert.Zero(t, *msg.ConfidenceScore)
	assert.True(t, msg.RequiresApproval)
}

func TestSyncClassifierTimeoutRoutesToReview(t *testing.T) {
	ctx := context.Background()
	h := newSyncHarness(t, 10)
	h.classifier.Delay = 2 * time.Second
	h.deliver("m1")

	_, err := h.engine.Sync(ctx, mailbox)
	require.NoError(t, err)

	msg := h.stored(t, "m1")
	assert.Equal(t, emaildomain.StatePendingApproval, msg.State)
	assert.Equal(t, emaildomain.ClassificationFailed, msg.ClassificationStatus)
}

func TestSyncExpiredCursorUsesLookback(t *testing.T) {
	ctx := context.Background()
	h := newSyncHarness(t, 10)
	h.deliver("m1", "m2")
	h.provider.CursorExpired = true

	result, err := h.engine.Sync(ctx, mailbox)
	require.NoError(t, err)
	assert.True(t, result.Degraded)
	assert.Len(t, result.Inserted, 2)
	assert.Equal(t, uint64(12), h.watermark(t))

	mb, err := h.mailboxes.FindByEmail(ctx, mailbox)
	require.NoError(t, err)
	assert.Equal(t, mailboxdomain.StatusDegraded, mb.Status)

	n, err := h.audit.CountByAction(ctx, mailbox, auditdomain.ActionMailboxDegraded)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestProcessorResumesFromStoredState(t *testing.T) {
	ctx := context.Background()
	h := newSyncHarness(t, 10)
	processor := NewProcessor(h.messages, h.classifier, h.approvals, ProcessorConfig{
		ClassifierTimeout: time.Second,
		MaxAttempts:       1,
		Backoff:           fastBackoff,
	})

	msg := &emaildomain.Message{
		ProviderMessageID: "m1",
		Mailbox:           mailbox,
		ThreadID:          "t1",
		Direction:         emaildomain.DirectionInbound,
		Subject:           "Hi",
		From:              "b@y.com",
		Content:           "hello",
	}
	_, err := h.messages.InsertIfAbsent(ctx, msg)
	require.NoError(t, err)

	// drafting disabled: stops after classification
	require.NoError(t, processor.Process(ctx, msg))
	stored, err := h.messages.FindByID(ctx, mailbox, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, emaildomain.StateClassified, stored.State)
	assert.Equal(t, "question", stored.Category)

	processor.cfg.AutoCreateDrafts = true
	require.NoError(t, processor.Process(ctx, stored))
	stored, err = h.messages.FindByID(ctx, mailbox, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, emaildomain.StatePendingApproval, stored.State)
	assert.Equal(t, int64(1), h.classifier.Calls.Load())
}

func TestProcessorHelpers(t *testing.T) {
	assert.Equal(t, 0.0, clamp01(-1))
	assert.Equal(t, 1.0, clamp01(3))
	assert.Equal(t, 0.5, clamp01(0.5))
	assert.Equal(t, emaildomain.CategoryUnclassified, normalizeCategory("  "))
	assert.Equal(t, "billing", normalizeCategory(" Billing "))
	assert.Equal(t, "héllo", truncate("héllo wörld", 6))
	assert.Equal(t, "h", truncate("hé", 2))
}

func TestAddressOf(t *testing.T) {
	assert.Equal(t, "b@y.com", addressOf("Bob <b@y.com>"))
	assert.Equal(t, "b@y.com", addressOf("b@y.com"))
	assert.Equal(t, "b@y.com", addressOf(`"Broken, Name <b@y.com>`))
}
