package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	auditdomain "mailsync-backend/internal/audit/domain"
	auditrepo "mailsync-backend/internal/audit/repository"
	emaildomain "mailsync-backend/internal/email/domain"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type messageRepository struct {
	db    *gorm.DB
	audit auditrepo.AuditRepository
}

// NewMessageRepository creates a new instance of messageRepository
func NewMessageRepository(db *gorm.DB, audit auditrepo.AuditRepository) MessageRepository {
	return &messageRepository{db: db, audit: audit}
}

func (r *messageRepository) InsertIfAbsent(ctx context.Context, msg *emaildomain.Message) (bool, error) {
	inserted := false
	now := time.Now()
	msg.State = emaildomain.StateReceived
	msg.RequiresApproval = true
	msg.ClassificationStatus = emaildomain.ClassificationPending
	msg.CreatedAt = now
	msg.UpdatedAt = now

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// INSERT ... ON CONFLICT (provider_message_id) DO NOTHING
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "provider_message_id"}},
			DoNothing: true,
		}).Create(msg)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		inserted = true
		entry := auditrepo.NewEntry(auditdomain.ActorSystem, auditdomain.ActionMessageIngested, "message", msg.ProviderMessageID, msg.Mailbox,
			map[string]any{"thread_id": msg.ThreadID, "direction": msg.Direction})
		return r.audit.AppendTx(tx, entry)
	})
	return inserted, err
}

func (r *messageRepository) ExistsByProviderID(ctx context.Context, providerMessageID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&emaildomain.Message{}).
		Where("provider_message_id = ?", providerMessageID).
		Count(&count).Error
	return count > 0, err
}

func (r *messageRepository) FindByID(ctx context.Context, mailbox string, id uint64) (*emaildomain.Message, error) {
	var msg emaildomain.Message
	err := r.db.WithContext(ctx).Where("id = ? AND mailbox = ?", id, mailbox).First(&msg).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &msg, nil
}

func (r *messageRepository) CountByThread(ctx context.Context, mailbox, threadID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&emaildomain.Message{}).
		Where("mailbox = ? AND thread_id = ?", mailbox, threadID).
		Count(&count).Error
	return count, err
}

// ListPending returns the approval queue in arrival order.
func (r *messageRepository) ListPending(ctx context.Context, mailbox string) ([]emaildomain.Message, error) {
	var messages []emaildomain.Message
	err := r.db.WithContext(ctx).
		Where("mailbox = ? AND state = ? AND requires_approval = ? AND draft_id IS NOT NULL", mailbox, emaildomain.StatePendingApproval, true).
		Order("id ASC").
		Find(&messages).Error
	if err != nil {
		return nil, err
	}
	return messages, nil
}

func (r *messageRepository) ListByMailbox(ctx context.Context, mailbox string, state emaildomain.MessageState, limit, offset int) ([]emaildomain.Message, int64, error) {
	query := r.db.WithContext(ctx).Model(&emaildomain.Message{}).Where("mailbox = ?", mailbox)
	if state != "" {
		query = query.Where("state = ?", state)
	}
	query = query.Session(&gorm.Session{})

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var messages []emaildomain.Message
	err := query.Order("id DESC").Limit(limit).Offset(offset).Find(&messages).Error
	if err != nil {
		return nil, 0, err
	}
	return messages, total, nil
}

func (r *messageRepository) FindStalled(ctx context.Context, states []emaildomain.MessageState, cutoff time.Time, maxAttempts, limit int) ([]emaildomain.Message, error) {
	var messages []emaildomain.Message
	err := r.db.WithContext(ctx).
		Where("direction = ? AND state IN ? AND updated_at < ? AND resume_attempts < ?",
			emaildomain.DirectionInbound, states, cutoff, maxAttempts).
		Order("updated_at ASC, id ASC").
		Limit(limit).
		Find(&messages).Error
	if err != nil {
		return nil, err
	}
	return messages, nil
}

func (r *messageRepository) RecordResumeFailure(ctx context.Context, id uint64, cause string, at time.Time, maxAttempts int) (bool, error) {
	exhausted := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&emaildomain.Message{}).
			Where("id = ?", id).
			Updates(map[string]any{
				"resume_attempts": gorm.Expr("resume_attempts + 1"),
				"last_error":      cause,
				"updated_at":      at,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}

		var msg emaildomain.Message
		if err := tx.Where("id = ?", id).First(&msg).Error; err != nil {
			return err
		}
		if msg.ResumeAttempts != maxAttempts {
			return nil
		}
		exhausted = true
		entry := auditrepo.NewEntry(auditdomain.ActorSystem, auditdomain.ActionMessageStalled, "message", fmt.Sprint(id), msg.Mailbox,
			map[string]any{"state": msg.State, "attempts": msg.ResumeAttempts, "error": cause})
		return r.audit.AppendTx(tx, entry)
	})
	return exhausted, err
}

func (r *messageRepository) SaveClassification(ctx context.Context, id uint64, update ClassificationUpdate) error {
	if err := emaildomain.CheckTransition(emaildomain.StateReceived, emaildomain.StateClassified); err != nil {
		return err
	}
	res := r.db.WithContext(ctx).Model(&emaildomain.Message{}).
		Where("id = ? AND state = ?", id, emaildomain.StateReceived).
		Updates(map[string]any{
			"category":              update.Category,
			"confidence_score":      update.Confidence,
			"suggested_subject":     update.SuggestedSubject,
			"suggested_reply":       update.SuggestedReply,
			"classifier_approval":   update.RequiresApproval,
			"classification_status": update.Status,
			"state":                 emaildomain.StateClassified,
			"updated_at":            time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: message %d is not awaiting classification", emaildomain.ErrInvalidTransition, id)
	}
	return nil
}

func (r *messageRepository) AttachDraft(ctx context.Context, id uint64, draftID string, actor string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var msg emaildomain.Message
		if err := tx.Where("id = ?", id).First(&msg).Error; err != nil {
			return err
		}
		res := tx.Model(&emaildomain.Message{}).
			Where("id = ? AND state = ?", id, emaildomain.StateClassified).
			Updates(map[string]any{
				"draft_id":          draftID,
				"requires_approval": true,
				"state":             emaildomain.StateDrafted,
				"updated_at":        time.Now(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: message %d is %s", emaildomain.ErrInvalidTransition, id, msg.State)
		}
		entry := auditrepo.NewEntry(actor, auditdomain.ActionDraftCreated, "message", fmt.Sprint(id), msg.Mailbox,
			map[string]any{"draft_id": draftID, "provider_message_id": msg.ProviderMessageID})
		return r.audit.AppendTx(tx, entry)
	})
}

func (r *messageRepository) Transition(ctx context.Context, id uint64, from, to emaildomain.MessageState) (bool, error) {
	if err := emaildomain.CheckTransition(from, to); err != nil {
		return false, err
	}
	res := r.db.WithContext(ctx).Model(&emaildomain.Message{}).
		Where("id = ? AND state = ?", id, from).
		Updates(map[string]any{"state": to, "updated_at": time.Now()})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *messageRepository) ClaimForSend(ctx context.Context, mailbox string, id uint64, from, to emaildomain.MessageState, requestKey string) (bool, error) {
	if err := emaildomain.CheckTransition(from, to); err != nil {
		return false, err
	}
	res := r.db.WithContext(ctx).Model(&emaildomain.Message{}).
		Where("id = ? AND mailbox = ? AND state = ? AND draft_id IS NOT NULL", id, mailbox, from).
		Updates(map[string]any{
			"state":           to,
			"send_request_id": requestKey,
			"updated_at":      time.Now(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *messageRepository) MarkSent(ctx context.Context, id uint64, from emaildomain.MessageState, providerSentID, actor string, detail map[string]any) error {
	if err := emaildomain.CheckTransition(from, emaildomain.StateSent); err != nil {
		return err
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var msg emaildomain.Message
		if err := tx.Where("id = ?", id).First(&msg).Error; err != nil {
			return err
		}
		now := time.Now()
		res := tx.Model(&emaildomain.Message{}).
			Where("id = ? AND state = ?", id, from).
			Updates(map[string]any{
				"state":            emaildomain.StateSent,
				"provider_sent_id": providerSentID,
				"sent_at":          now,
				"updated_at":       now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: message %d is %s", emaildomain.ErrInvalidTransition, id, msg.State)
		}
		draftID := ""
		if msg.DraftID != nil {
			draftID = *msg.DraftID
		}
		fields := map[string]any{"draft_id": draftID, "provider_sent_id": providerSentID, "request_key": msg.SendRequestID}
		for k, v := range detail {
			fields[k] = v
		}
		entry := auditrepo.NewEntry(actor, auditdomain.ActionDraftSent, "message", fmt.Sprint(id), msg.Mailbox, fields)
		return r.audit.AppendTx(tx, entry)
	})
}

func (r *messageRepository) RevertClaim(ctx context.Context, id uint64, from emaildomain.MessageState) error {
	if err := emaildomain.CheckTransition(from, emaildomain.StatePendingApproval); err != nil {
		return err
	}
	return r.db.WithContext(ctx).Model(&emaildomain.Message{}).
		Where("id = ? AND state = ?", id, from).
		Updates(map[string]any{
			"state":             emaildomain.StatePendingApproval,
			"requires_approval": true,
			"send_request_id":   "",
			"updated_at":        time.Now(),
		}).Error
}

func (r *messageRepository) MarkDiscarded(ctx context.Context, mailbox string, id uint64, actor string) (bool, error) {
	discarded := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&emaildomain.Message{}).
			Where("id = ? AND mailbox = ? AND state = ?", id, mailbox, emaildomain.StatePendingApproval).
			Updates(map[string]any{"state": emaildomain.StateDiscarded, "updated_at": time.Now()})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		discarded = true
		entry := auditrepo.NewEntry(actor, auditdomain.ActionDraftDiscarded, "message", fmt.Sprint(id), mailbox, nil)
		return r.audit.AppendTx(tx, entry)
	})
	return discarded, err
}

func (r *messageRepository) RevertStaleAutoSends(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&emaildomain.Message{}).
		Where("state = ? AND updated_at < ?", emaildomain.StateAutoSent, cutoff).
		Updates(map[string]any{
			"state":             emaildomain.StatePendingApproval,
			"requires_approval": true,
			"updated_at":        time.Now(),
		})
	return res.RowsAffected, res.Error
}
