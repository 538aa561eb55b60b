package repository

import (
	"context"
	"errors"
	"time"

	auditdomain "mailsync-backend/internal/audit/domain"
	auditrepo "mailsync-backend/internal/audit/repository"
	mailboxdomain "mailsync-backend/internal/mailbox/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MailboxRepository persists connected mailboxes and their (encrypted) OAuth tokens
type MailboxRepository interface {
	FindByEmail(ctx context.Context, email string) (*mailboxdomain.Mailbox, error)
	List(ctx context.Context) ([]mailboxdomain.Mailbox, error)
	SaveConnected(ctx context.Context, mailbox *mailboxdomain.Mailbox) error
	UpdateTokens(ctx context.Context, email, accessToken, refreshToken string, expiry time.Time) error
	SetStatus(ctx context.Context, email string, status mailboxdomain.Status, lastError string) error
	SetWatchExpiration(ctx context.Context, email string, expiration time.Time) error
}

type mailboxRepository struct {
	db    *gorm.DB
	audit auditrepo.AuditRepository
}

// NewMailboxRepository creates a new instance of mailboxRepository
func NewMailboxRepository(db *gorm.DB, audit auditrepo.AuditRepository) MailboxRepository {
	return &mailboxRepository{db: db, audit: audit}
}

func (r *mailboxRepository) FindByEmail(ctx context.Context, email string) (*mailboxdomain.Mailbox, error) {
	var mailbox mailboxdomain.Mailbox
	err := r.db.WithContext(ctx).Where("email = ?", email).First(&mailbox).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &mailbox, nil
}

func (r *mailboxRepository) List(ctx context.Context) ([]mailboxdomain.Mailbox, error) {
	var mailboxes []mailboxdomain.Mailbox
	if err := r.db.WithContext(ctx).Order("email").Find(&mailboxes).Error; err != nil {
		return nil, err
	}
	return mailboxes, nil
}

// SaveConnected upserts a mailbox after a successful OAuth connect and resets its health.
func (r *mailboxRepository) SaveConnected(ctx context.Context, mailbox *mailboxdomain.Mailbox) error {
	now := time.Now()
	if mailbox.ID == "" {
		mailbox.ID = uuid.New().String()
	}
	mailbox.Status = mailboxdomain.StatusActive
	mailbox.LastError = ""
	mailbox.ConsecutiveFailures = 0
	mailbox.CreatedAt = now
	mailbox.UpdatedAt = now

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "email"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"access_token", "refresh_token", "token_expiry", "status",
				"last_error", "consecutive_failures", "updated_at",
			}),
		}).Create(mailbox).Error
		if err != nil {
			return err
		}
		entry := auditrepo.NewEntry(auditdomain.ActorHuman, auditdomain.ActionMailboxConnected, "mailbox", mailbox.Email, mailbox.Email, nil)
		return r.audit.AppendTx(tx, entry)
	})
}

// UpdateTokens stores refreshed tokens. An empty refreshToken keeps the current one.
func (r *mailboxRepository) UpdateTokens(ctx context.Context, email, accessToken, refreshToken string, expiry time.Time) error {
	updates := map[string]any{
		"access_token": accessToken,
		"token_expiry": expiry,
		"updated_at":   time.Now(),
	}
	if refreshToken != "" {
		updates["refresh_token"] = refreshToken
	}
	return r.db.WithContext(ctx).Model(&mailboxdomain.Mailbox{}).Where("email = ?", email).Updates(updates).Error
}

// SetStatus records pipeline health. Non-active statuses count consecutive failures.
func (r *mailboxRepository) SetStatus(ctx context.Context, email string, status mailboxdomain.Status, lastError string) error {
	updates := map[string]any{
		"status":     status,
		"last_error": lastError,
		"updated_at": time.Now(),
	}
	if status == mailboxdomain.StatusActive {
		updates["consecutive_failures"] = 0
	} else {
		updates["consecutive_failures"] = gorm.Expr("consecutive_failures + 1")
	}
	return r.db.WithContext(ctx).Model(&mailboxdomain.Mailbox{}).Where("email = ?", email).Updates(updates).Error
}

func (r *mailboxRepository) SetWatchExpiration(ctx context.Context, email string, expiration time.Time) error {
	return r.db.WithContext(ctx).Model(&mailboxdomain.Mailbox{}).
		Where("email = ?", email).
		Updates(map[string]any{"watch_expiration": expiration, "updated_at": time.Now()}).Error
}
