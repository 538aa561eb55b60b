package domain

import "time"

// Direction of a stored message relative to the mailbox owner
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// ClassificationStatus tracks the classifier stage for a message
type ClassificationStatus string

const (
	ClassificationPending    ClassificationStatus = "pending"
	ClassificationSucceeded  ClassificationStatus = "classified"
	ClassificationFailed     ClassificationStatus = "failed"
	CategoryUnclassified                          = "unclassified"
)

// Message is a synced mail message. ProviderMessageID is the dedup key.
// Content fields are written once at insert; the classification, draft and
// send fields are owned by the stage that sets them.
type Message struct {
	ID                uint64    `json:"id" gorm:"primaryKey;autoIncrement"`
	ProviderMessageID string    `json:"provider_message_id" gorm:"uniqueIndex;not null"`
	Mailbox           string    `json:"mailbox" gorm:"index;not null"`
	ThreadID          string    `json:"thread_id" gorm:"index"`
	RFCMessageID      string    `json:"rfc_message_id"`
	References        string    `json:"-" gorm:"type:text"`
	Direction         Direction `json:"direction" gorm:"not null"`
	Subject           string    `json:"subject"`
	From              string    `json:"from" gorm:"column:from_address"`
	To                string    `json:"to" gorm:"column:to_address"`
	Content           string    `json:"content" gorm:"type:text"`
	ReceivedAt        time.Time `json:"received_at"`

	Category             string               `json:"category"`
	ConfidenceScore      *float64             `json:"confidence_score"`
	SuggestedSubject     string               `json:"suggested_subject,omitempty"`
	SuggestedReply       string               `json:"suggested_reply,omitempty" gorm:"type:text"`
	ClassifierApproval   bool                 `json:"-" gorm:"default:true"` // classifier asked for human review
	ClassificationStatus ClassificationStatus `json:"classification_status" gorm:"default:pending"`

	State            MessageState `json:"state" gorm:"index;not null;default:received"`
	RequiresApproval bool         `json:"requires_approval" gorm:"not null;default:true"`
	DraftID          *string      `json:"draft_id"`
	SendRequestID    string       `json:"-"`
	ProviderSentID   string       `json:"provider_sent_id,omitempty"`
	SentAt           *time.Time   `json:"sent_at,omitempty"`

	// ResumeAttempts counts failed sweeper retries of a stalled row.
	ResumeAttempts int    `json:"resume_attempts" gorm:"not null;default:0"`
	LastError      string `json:"last_error,omitempty" gorm:"type:text"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName specifies the table name for GORM
func (Message) TableName() string {
	return "messages"
}

// Confidence returns the stored score, treating a missing score as zero.
func (m *Message) Confidence() float64 {
	if m.ConfidenceScore == nil {
		return 0
	}
	return *m.ConfidenceScore
}

// HasDraft reports whether a provider draft is attached.
func (m *Message) HasDraft() bool {
	return m.DraftID != nil && *m.DraftID != ""
}
