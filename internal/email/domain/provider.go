package domain

import (
	"context"
	"time"
)

// HistoryChange is one messageAdded record from the provider history feed.
type HistoryChange struct {
	MessageID string
	ThreadID  string
	LabelIDs  []string
}

// HistoryPage is the result of a history fetch.
// Cursor is the provider's current position after all pages were read.
type HistoryPage struct {
	Changes []HistoryChange
	Cursor  uint64
}

// ProviderMessage is a fully fetched message.
type ProviderMessage struct {
	ID           string
	ThreadID     string
	RFCMessageID string
	References   string
	LabelIDs     []string
	Subject      string
	From         string
	To           string
	Body         string
	ReceivedAt   time.Time
}

// DraftRequest describes a reply draft to create in a thread.
type DraftRequest struct {
	ThreadID   string
	InReplyTo  string
	References string
	To         string
	Subject    string
	Body       string
}

// WatchResult is the baseline returned by a watch registration.
type WatchResult struct {
	HistoryID  uint64
	Expiration time.Time
}

// MailProvider is the narrow contract the pipeline needs from a mail service.
// Implementations map their failures onto ProviderError and ErrCursorExpired.
type MailProvider interface {
	HistorySince(ctx context.Context, mailbox string, cursor uint64) (*HistoryPage, error)
	CurrentCursor(ctx context.Context, mailbox string) (uint64, error)
	ListRecent(ctx context.Context, mailbox string, window time.Duration, max int) ([]HistoryChange, error)
	GetMessage(ctx context.Context, mailbox, messageID string) (*ProviderMessage, error)
	CreateDraft(ctx context.Context, mailbox string, req DraftRequest) (string, error)
	SendDraft(ctx context.Context, mailbox, draftID string) (string, error)
	DeleteDraft(ctx context.Context, mailbox, draftID string) error
	Watch(ctx context.Context, mailbox string, topic string) (*WatchResult, error)
	Stop(ctx context.Context, mailbox string) error
}

// ClassificationInput is what the classifier sees of a message.
type ClassificationInput struct {
	Subject      string
	From         string
	Content      string
	ThreadLength int
}

// Classification is the classifier verdict.
type Classification struct {
	Category         string  `json:"category"`
	Confidence       float64 `json:"confidence"`
	SuggestedSubject string  `json:"suggested_subject"`
	SuggestedReply   string  `json:"suggested_reply"`
	RequiresApproval bool    `json:"requires_approval"`
}

// Classifier assigns a category and confidence to a message.
type Classifier interface {
	Classify(ctx context.Context, input ClassificationInput) (*Classification, error)
}

// HasLabel reports whether labels contains label.
func HasLabel(labels []string, label string) bool {
	for _, l := range labels {
		if l == label {
			return true
		}
	}
	return false
}
