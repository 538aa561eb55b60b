package notification

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	emaildomain "mailsync-backend/internal/email/domain"
	mailboxrepo "mailsync-backend/internal/mailbox/repository"

	"github.com/goccy/go-json"
)

// ErrInvalidPayload is returned for notifications that cannot be decoded.
var ErrInvalidPayload = errors.New("invalid notification payload")

// GmailNotification is the data Gmail publishes on every mailbox change.
type GmailNotification struct {
	EmailAddress string `json:"emailAddress"`
	HistoryID    uint64 `json:"historyId"`
}

// Triggerer schedules a sync pass for a mailbox without waiting for it.
type Triggerer interface {
	Trigger(mailbox string)
}

// Ingestor turns provider notifications into sync triggers. A notification carries no
// message data; it only says a mailbox changed.
type Ingestor struct {
	mailboxes    mailboxrepo.MailboxRepository
	trigger      Triggerer
	subscription string
}

// NewIngestor binds notifications to subscription. An empty subscription accepts any.
func NewIngestor(mailboxes mailboxrepo.MailboxRepository, trigger Triggerer, subscription string) *Ingestor {
	if subscription == "" {
		log.Printf("[Push] No subscription binding configured; notifications from any subscription are accepted")
	}
	return &Ingestor{
		mailboxes:    mailboxes,
		trigger:      trigger,
		subscription: subscription,
	}
}

// Accept validates a notification and triggers a pass for its mailbox.
// The historyId is only logged: the watermark can run ahead of messages
// that were listed but not yet stored, so every valid push starts a pass.
func (i *Ingestor) Accept(ctx context.Context, subscription string, data []byte) error {
	if !i.bound(subscription) {
		return fmt.Errorf("%w: subscription %q is not bound", emaildomain.ErrAuthentication, subscription)
	}

	var n GmailNotification
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	email := strings.TrimSpace(n.EmailAddress)
	if email == "" {
		return fmt.Errorf("%w: missing emailAddress", ErrInvalidPayload)
	}

	mb, err := i.mailboxes.FindByEmail(ctx, email)
	if err != nil {
		return err
	}
	if mb == nil {
		return fmt.Errorf("%w: %s", emaildomain.ErrMailboxNotFound, email)
	}
	if mb.Suspended() {
		return fmt.Errorf("%w: %s is %s", emaildomain.ErrMailboxSuspended, email, mb.Status)
	}

	i.trigger.Trigger(email)
	log.Printf("[Push] Sync triggered for %s (historyId %d)", email, n.HistoryID)
	return nil
}

// bound accepts the configured name either short or as a full resource path.
func (i *Ingestor) bound(subscription string) bool {
	if i.subscription == "" {
		return true
	}
	if subscription == i.subscription {
		return true
	}
	return strings.HasSuffix(subscription, "/subscriptions/"+i.subscription)
}
