package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthentication is returned when a push notification fails verification.
	ErrAuthentication = errors.New("push verification failed")
	// ErrReauthRequired means the stored refresh token was revoked; the mailbox needs a new OAuth connect.
	ErrReauthRequired = errors.New("mailbox requires re-authentication")
	// ErrMailboxSuspended is returned when sync is refused for a failed or reauth-pending mailbox.
	ErrMailboxSuspended = errors.New("mailbox sync suspended")
	// ErrMailboxNotFound is returned for mailboxes that were never connected.
	ErrMailboxNotFound = errors.New("mailbox not found")
	// ErrCursorExpired is returned by the provider when the history cursor is too old.
	ErrCursorExpired = errors.New("history cursor expired")
	// ErrNotFound means no open draft exists for the requested message.
	ErrNotFound = errors.New("message or draft not found")
	// ErrAlreadySent rejects a second distinct send against a sent draft.
	ErrAlreadySent = errors.New("draft already sent")
	// ErrInvalidTransition guards the message state machine.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrWatermarkConflict is returned when a compare-and-advance lost a race.
	ErrWatermarkConflict = errors.New("watermark changed concurrently")
)

// ProviderError wraps a failed mail provider call.
type ProviderError struct {
	Op        string
	Code      int
	Transient bool
	Err       error
}

func (e *ProviderError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	if e.Code != 0 {
		return fmt.Sprintf("provider %s failed (%s, code %d): %v", e.Op, kind, e.Code, e.Err)
	}
	return fmt.Sprintf("provider %s failed (%s): %v", e.Op, kind, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// NewTransientError marks err as retryable.
func NewTransientError(op string, code int, err error) error {
	return &ProviderError{Op: op, Code: code, Transient: true, Err: err}
}

// NewPermanentError marks err as not retryable.
func NewPermanentError(op string, code int, err error) error {
	return &ProviderError{Op: op, Code: code, Transient: false, Err: err}
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Transient
	}
	return false
}

// IsPermanent reports whether err is a provider error that must not be retried.
func IsPermanent(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return !pe.Transient
	}
	return false
}

// IsProviderNotFound reports a permanent 404 from the provider.
func IsProviderNotFound(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Code == 404
}
