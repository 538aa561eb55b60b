package domain

import "time"

const (
	ActorSystem = "system"
	ActorHuman  = "human"
	ActorAuto   = "auto_send"
)

const (
	ActionMessageIngested  = "message_ingested"
	ActionWatermarkAdvance = "watermark_advanced"
	ActionWatermarkInit    = "watermark_initialized"
	ActionWatermarkReset   = "watermark_reset"
	ActionDraftCreated     = "draft_created"
	ActionDraftSent        = "draft_sent"
	ActionDraftDiscarded   = "draft_discarded"
	ActionMailboxConnected = "mailbox_connected"
	ActionWatchRegistered  = "watch_registered"
	ActionMailboxDegraded  = "mailbox_degraded"
	ActionMailboxFailed    = "mailbox_failed"
	ActionMessageStalled   = "message_stalled"
)

// Entry is one append-only audit record.
type Entry struct {
	ID         string    `json:"id" gorm:"primaryKey"`
	Actor      string    `json:"actor" gorm:"not null"`
	Action     string    `json:"action" gorm:"index;not null"`
	ObjectType string    `json:"object_type"`
	ObjectID   string    `json:"object_id"`
	Mailbox    string    `json:"mailbox" gorm:"index"`
	Detail     string    `json:"detail,omitempty" gorm:"type:text"`
	CreatedAt  time.Time `json:"created_at" gorm:"index"`
}

// TableName specifies the table name for GORM
func (Entry) TableName() string {
	return "audit_log"
}
