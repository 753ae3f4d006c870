package repository

import (
	"context"

	"github.com/didash/notifier/internal/domain"
	"gorm.io/gorm"
)

const rawInsertBatchSize = 100

// RawDocumentRepository appends raw classification rows produced by ingest.
type RawDocumentRepository interface {
	InsertBatch(ctx context.Context, docs []domain.RawDocument) error
}

type GormRawDocumentRepo struct {
	db *gorm.DB
}

func NewGormRawDocumentRepo(db *gorm.DB) *GormRawDocumentRepo {
	return &GormRawDocumentRepo{db: db}
}

func (r *GormRawDocumentRepo) InsertBatch(ctx context.Context, docs []domain.RawDocument) error {
	if len(docs) == 0 {
		return nil
	}

	models := make([]RawDocumentModel, 0, len(docs))
	for i := range docs {
		if model := rawDocumentModelFromDomain(&docs[i]); model != nil {
			models = append(models, *model)
		}
	}

	return r.db.WithContext(ctx).CreateInBatches(&models, rawInsertBatchSize).Error
}
