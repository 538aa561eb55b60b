package domain

import "time"

// Operator is the authenticated caller of the operator API.
type Operator struct {
	Name      string    `json:"name"`
	ExpiresAt time.Time `json:"expires_at"`
}

// DeviceToken is a Firebase Cloud Messaging token registered by an operator
type DeviceToken struct {
	ID         string    `json:"id" gorm:"primaryKey"`
	Operator   string    `json:"operator" gorm:"index;not null"`
	Token      string    `json:"-" gorm:"uniqueIndex;not null"` // Don't expose token in JSON
	DeviceInfo string    `json:"device_info"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
