package domain

import "time"

// Status is the health of a mailbox's sync pipeline.
type Status string

const (
	StatusActive         Status = "active"
	StatusDegraded       Status = "degraded"
	StatusReauthRequired Status = "reauth_required"
	StatusFailed         Status = "failed"
)

// Mailbox is a connected provider account.
// AccessToken and RefreshToken hold ciphertext; see pkg/utils/crypto.
type Mailbox struct {
	ID                  string     `json:"id" gorm:"primaryKey"`
	Email               string     `json:"email" gorm:"uniqueIndex;not null"`
	AccessToken         string     `json:"-" gorm:"type:text"`
	RefreshToken        string     `json:"-" gorm:"type:text"`
	TokenExpiry         time.Time  `json:"token_expiry"`
	Status              Status     `json:"status" gorm:"not null;default:active"`
	LastError           string     `json:"last_error,omitempty"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	WatchExpiration     *time.Time `json:"watch_expiration,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// Suspended mailboxes are not synced until an operator reconnects them.
func (m *Mailbox) Suspended() bool {
	return m.Status == StatusFailed || m.Status == StatusReauthRequired
}

// Watermark is the last provider history id fully processed for a mailbox.
type Watermark struct {
	Mailbox   string    `json:"mailbox" gorm:"primaryKey"`
	HistoryID uint64    `json:"history_id" gorm:"not null"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MailboxStatus is the operator view of a mailbox.
type MailboxStatus struct {
	Mailbox   *Mailbox   `json:"mailbox"`
	Watermark *Watermark `json:"watermark"`
}
