package repository

import (
	"context"
	"fmt"

	"github.com/didash/notifier/internal/domain"
	"gorm.io/gorm"
)

// ReconcileOptions narrows a reconciliation pass.
type ReconcileOptions struct {
	// Kind filters on the notification kind when non-empty.
	Kind domain.Kind
	// ChunkSize bounds the IN predicates; zero uses DefaultChunkSize.
	ChunkSize int
}

// ReconcileRepository flips delivered notifications to finished. The whole
// call is one transaction: either every chunk of both outcome sets is
// applied, or none is.
type ReconcileRepository interface {
	Reconcile(ctx context.Context, loadDomain string, sent []string, failed map[string]string, opts ReconcileOptions) (int, int, error)
}

type GormReconcileRepo struct {
	db *gorm.DB
}

func NewGormReconcileRepo(db *gorm.DB) *GormReconcileRepo {
	return &GormReconcileRepo{db: db}
}

func (r *GormReconcileRepo) Reconcile(ctx context.Context, loadDomain string, sent []string, failed map[string]string, opts ReconcileOptions) (int, int, error) {
	failedEmails := make([]string, 0, len(failed))
	for email := range failed {
		failedEmails = append(failedEmails, email)
	}

	var okTotal, errTotal int
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, chunk := range Chunk(sent, opts.ChunkSize) {
			count, err := r.updateChunk(tx, loadDomain, chunk, opts.Kind, false)
			if err != nil {
				return err
			}
			okTotal += count
		}
		for _, chunk := range Chunk(failedEmails, opts.ChunkSize) {
			count, err := r.updateChunk(tx, loadDomain, chunk, opts.Kind, true)
			if err != nil {
				return err
			}
			errTotal += count
		}
		return nil
	})
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", domain.ErrReconciliationFailed, err)
	}

	return okTotal, errTotal, nil
}

// updateChunk marks one chunk of addresses finished. Only rows still
// unfinished are touched, so re-running after a completed pass is a no-op.
func (r *GormReconcileRepo) updateChunk(tx *gorm.DB, loadDomain string, emails []string, kind domain.Kind, isError bool) (int, error) {
	if len(emails) == 0 {
		return 0, nil
	}

	ownerPSIDs := tx.Session(&gorm.Session{NewDB: true}).
		Model(&FileOwnerModel{}).
		Select("psid").
		Where("owner_email IN ?", emails)
	domainRawIDs := tx.Session(&gorm.Session{NewDB: true}).
		Model(&RawDocumentModel{}).
		Select("id").
		Where("load_domain = ?", loadDomain)

	query := tx.Model(&UserNotificationModel{}).
		Where("finished = ?", false).
		Where("psid IN (?)", ownerPSIDs).
		Where("raw_id IN (?)", domainRawIDs)
	if kind != "" {
		query = query.Where("kind = ?", kind)
	}

	result := query.Updates(map[string]any{
		"finished": true,
		"is_error": isError,
	})
	if result.Error != nil {
		return 0, result.Error
	}
	return int(result.RowsAffected), nil
}
