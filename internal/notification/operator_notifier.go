package notification

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	authrepo "mailsync-backend/internal/auth/repository"
	emaildomain "mailsync-backend/internal/email/domain"
	"mailsync-backend/pkg/fcm"
)

const notifyTimeout = 10 * time.Second

// DeviceSender delivers a notification to device tokens and returns the stale ones.
type DeviceSender interface {
	SendToDevices(ctx context.Context, tokens []string, notification fcm.NotificationData) ([]string, error)
}

// OperatorNotifier pushes approval-queue events to every registered operator device.
type OperatorNotifier struct {
	sender  DeviceSender
	devices authrepo.DeviceTokenRepository
}

func NewOperatorNotifier(sender DeviceSender, devices authrepo.DeviceTokenRepository) *OperatorNotifier {
	return &OperatorNotifier{sender: sender, devices: devices}
}

// NotifyPending runs in the background; a slow or failing push never holds up the pipeline.
func (n *OperatorNotifier) NotifyPending(ctx context.Context, msg *emaildomain.Message) {
	data := pendingNotification(msg)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		n.send(ctx, data)
	}()
}

func (n *OperatorNotifier) send(ctx context.Context, data fcm.NotificationData) {
	tokens, err := n.devices.ListTokens()
	if err != nil {
		log.Printf("[FCM] Error listing device tokens: %v", err)
		return
	}
	if len(tokens) == 0 {
		return
	}

	stale, err := n.sender.SendToDevices(ctx, tokens, data)
	if err != nil {
		log.Printf("[FCM] Error sending notifications: %v", err)
		return
	}
	if len(stale) > 0 {
		log.Printf("[FCM] Cleaning up %d stale tokens", len(stale))
		if err := n.devices.DeleteTokens(stale); err != nil {
			log.Printf("[FCM] Failed to delete stale tokens: %v", err)
		}
	}
}

func pendingNotification(msg *emaildomain.Message) fcm.NotificationData {
	subject := strings.TrimSpace(msg.Subject)
	if subject == "" {
		subject = "(no subject)"
	}
	if r := []rune(subject); len(r) > 100 {
		subject = string(r[:97]) + "..."
	}
	return fcm.NotificationData{
		Title: fmt.Sprintf("Reply awaiting approval: %s", msg.Mailbox),
		Body:  fmt.Sprintf("%s: %s", msg.From, subject),
		Data: map[string]string{
			"type":       "draft_pending",
			"mailbox":    msg.Mailbox,
			"message_id": fmt.Sprint(msg.ID),
			"category":   msg.Category,
		},
		Link: fmt.Sprintf("/mailboxes/%s/drafts", msg.Mailbox),
	}
}
