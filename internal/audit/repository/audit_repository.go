package repository

import (
	"context"
	"time"

	auditdomain "mailsync-backend/internal/audit/domain"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AuditRepository appends and reads audit entries. There is no update or delete.
type AuditRepository interface {
	Append(ctx context.Context, entry *auditdomain.Entry) error
	// AppendTx writes the entry inside a caller-owned transaction so it commits with the change it records.
	AppendTx(tx *gorm.DB, entry *auditdomain.Entry) error
	ListByMailbox(ctx context.Context, mailbox string, limit int) ([]auditdomain.Entry, error)
	CountByAction(ctx context.Context, mailbox, action string) (int64, error)
}

type auditRepository struct {
	db *gorm.DB
}

// NewAuditRepository creates a new instance of auditRepository
func NewAuditRepository(db *gorm.DB) AuditRepository {
	return &auditRepository{db: db}
}

func (r *auditRepository) Append(ctx context.Context, entry *auditdomain.Entry) error {
	return r.AppendTx(r.db.WithContext(ctx), entry)
}

func (r *auditRepository) AppendTx(tx *gorm.DB, entry *auditdomain.Entry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	return tx.Create(entry).Error
}

func (r *auditRepository) ListByMailbox(ctx context.Context, mailbox string, limit int) ([]auditdomain.Entry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var entries []auditdomain.Entry
	err := r.db.WithContext(ctx).
		Where("mailbox = ?", mailbox).
		Order("created_at DESC").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *auditRepository) CountByAction(ctx context.Context, mailbox, action string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&auditdomain.Entry{}).
		Where("mailbox = ? AND action = ?", mailbox, action).
		Count(&count).Error
	return count, err
}

// NewEntry builds an entry with detail encoded as JSON.
func NewEntry(actor, action, objectType, objectID, mailbox string, detail map[string]any) *auditdomain.Entry {
	entry := &auditdomain.Entry{
		Actor:      actor,
		Action:     action,
		ObjectType: objectType,
		ObjectID:   objectID,
		Mailbox:    mailbox,
	}
	if len(detail) > 0 {
		if b, err := json.Marshal(detail); err == nil {
			entry.Detail = string(b)
		}
	}
	return entry
}
