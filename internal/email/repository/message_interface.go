package repository

import (
	"context"
	"time"

	emaildomain "mailsync-backend/internal/email/domain"
)

// ClassificationUpdate is what the processor writes after the classifier stage.
type ClassificationUpdate struct {
	Category         string
	Confidence       float64
	SuggestedSubject string
	SuggestedReply   string
	RequiresApproval bool
	Status           emaildomain.ClassificationStatus
}

// MessageRepository persists synced messages and drives their state machine.
// Every state change is a guarded UPDATE on the expected current state.
type MessageRepository interface {
	// InsertIfAbsent stores msg unless its provider id is already known. It reports whether a row was written.
	InsertIfAbsent(ctx context.Context, msg *emaildomain.Message) (bool, error)
	ExistsByProviderID(ctx context.Context, providerMessageID string) (bool, error)
	FindByID(ctx context.Context, mailbox string, id uint64) (*emaildomain.Message, error)
	CountByThread(ctx context.Context, mailbox, threadID string) (int64, error)
	ListPending(ctx context.Context, mailbox string) ([]emaildomain.Message, error)
	// ListByMailbox pages through a mailbox newest first. An empty state matches all.
	ListByMailbox(ctx context.Context, mailbox string, state emaildomain.MessageState, limit, offset int) ([]emaildomain.Message, int64, error)
	// FindStalled returns inbound messages in one of states untouched since before cutoff,
	// least recently tried first. Rows that already failed maxAttempts resumes are left out.
	FindStalled(ctx context.Context, states []emaildomain.MessageState, cutoff time.Time, maxAttempts, limit int) ([]emaildomain.Message, error)
	// RecordResumeFailure counts a failed resume of id and pushes it to the back of the stalled
	// queue. It reports whether this failure used up the last of maxAttempts.
	RecordResumeFailure(ctx context.Context, id uint64, cause string, at time.Time, maxAttempts int) (bool, error)

	SaveClassification(ctx context.Context, id uint64, update ClassificationUpdate) error
	AttachDraft(ctx context.Context, id uint64, draftID string, actor string) error
	// Transition moves id from one state to another. It returns false when the row was not in from.
	Transition(ctx context.Context, id uint64, from, to emaildomain.MessageState) (bool, error)
	// ClaimForSend moves an open draft into a sending state under requestKey.
	ClaimForSend(ctx context.Context, mailbox string, id uint64, from, to emaildomain.MessageState, requestKey string) (bool, error)
	// MarkSent records a delivered draft. detail is merged into the audit entry.
	MarkSent(ctx context.Context, id uint64, from emaildomain.MessageState, providerSentID, actor string, detail map[string]any) error
	// RevertClaim returns a failed send to the approval queue.
	RevertClaim(ctx context.Context, id uint64, from emaildomain.MessageState) error
	MarkDiscarded(ctx context.Context, mailbox string, id uint64, actor string) (bool, error)
	// RevertStaleAutoSends moves auto-send claims older than cutoff back to the approval queue.
	RevertStaleAutoSends(ctx context.Context, cutoff time.Time) (int64, error)
}
