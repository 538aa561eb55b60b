package repository

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	auditdomain "mailsync-backend/internal/audit/domain"
	auditrepo "mailsync-backend/internal/audit/repository"
	emaildomain "mailsync-backend/internal/email/domain"
	mailboxdomain "mailsync-backend/internal/mailbox/domain"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// WatermarkRepository owns the per-mailbox history cursor.
// The cursor only moves forward except through Reset, which watch registration uses.
type WatermarkRepository interface {
	Get(ctx context.Context, mailbox string) (*mailboxdomain.Watermark, error)
	// Init creates the row if absent. It reports whether a row was written.
	Init(ctx context.Context, mailbox string, historyID uint64) (bool, error)
	// Advance moves the cursor from expected to next. A concurrent change returns ErrWatermarkConflict.
	Advance(ctx context.Context, mailbox string, expected, next uint64) error
	Reset(ctx context.Context, mailbox string, historyID uint64) error
}

type watermarkRepository struct {
	db    *gorm.DB
	audit auditrepo.AuditRepository
}

// NewWatermarkRepository creates a new instance of watermarkRepository
func NewWatermarkRepository(db *gorm.DB, audit auditrepo.AuditRepository) WatermarkRepository {
	return &watermarkRepository{db: db, audit: audit}
}

func (r *watermarkRepository) Get(ctx context.Context, mailbox string) (*mailboxdomain.Watermark, error) {
	var wm mailboxdomain.Watermark
	err := r.db.WithContext(ctx).Where("mailbox = ?", mailbox).First(&wm).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &wm, nil
}

func (r *watermarkRepository) Init(ctx context.Context, mailbox string, historyID uint64) (bool, error) {
	created := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		wm := &mailboxdomain.Watermark{Mailbox: mailbox, HistoryID: historyID, UpdatedAt: time.Now()}
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "mailbox"}},
			DoNothing: true,
		}).Create(wm)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		created = true
		entry := auditrepo.NewEntry(auditdomain.ActorSystem, auditdomain.ActionWatermarkInit, "watermark", mailbox, mailbox,
			map[string]any{"history_id": historyID})
		return r.audit.AppendTx(tx, entry)
	})
	return created, err
}

func (r *watermarkRepository) Advance(ctx context.Context, mailbox string, expected, next uint64) error {
	if next == expected {
		return nil
	}
	if next < expected {
		log.Printf("[Watermark] Ignoring backwards move for %s: %d -> %d", mailbox, expected, next)
		return nil
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&mailboxdomain.Watermark{}).
			Where("mailbox = ? AND history_id = ?", mailbox, expected).
			Updates(map[string]any{"history_id": next, "updated_at": time.Now()})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: %s expected %d", emaildomain.ErrWatermarkConflict, mailbox, expected)
		}
		entry := auditrepo.NewEntry(auditdomain.ActorSystem, auditdomain.ActionWatermarkAdvance, "watermark", mailbox, mailbox,
			map[string]any{"from": expected, "to": next})
		return r.audit.AppendTx(tx, entry)
	})
}

func (r *watermarkRepository) Reset(ctx context.Context, mailbox string, historyID uint64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		wm := &mailboxdomain.Watermark{Mailbox: mailbox, HistoryID: historyID, UpdatedAt: time.Now()}
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "mailbox"}},
			DoUpdates: clause.AssignmentColumns([]string{"history_id", "updated_at"}),
		}).Create(wm).Error
		if err != nil {
			return err
		}
		entry := auditrepo.NewEntry(auditdomain.ActorSystem, auditdomain.ActionWatermarkReset, "watermark", mailbox, mailbox,
			map[string]any{"history_id": historyID})
		return r.audit.AppendTx(tx, entry)
	})
}
