package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/didash/notifier/internal/domain"
	"gorm.io/gorm"
)

// FetchOptions narrows a pending-recipient fetch.
type FetchOptions struct {
	// Limit caps the number of distinct emails per query; zero means no cap.
	Limit int
	// Kind filters on the notification kind when non-empty.
	Kind domain.Kind
	// PSIDAllowList restricts the fetch to the given owner identifiers. Large
	// lists are chunked and the partial results unioned.
	PSIDAllowList []string
	// ChunkSize bounds the allow-list IN predicate; zero uses DefaultChunkSize.
	ChunkSize int
}

// RecipientRepository reads the addresses with outstanding notifications for
// a load domain. Read-only.
type RecipientRepository interface {
	FetchPending(ctx context.Context, loadDomain string, opts FetchOptions) ([]string, error)
}

type GormRecipientRepo struct {
	db *gorm.DB
}

func NewGormRecipientRepo(db *gorm.DB) *GormRecipientRepo {
	return &GormRecipientRepo{db: db}
}

func (r *GormRecipientRepo) FetchPending(ctx context.Context, loadDomain string, opts FetchOptions) ([]string, error) {
	if len(opts.PSIDAllowList) == 0 {
		emails, err := r.fetchChunk(ctx, loadDomain, opts, nil)
		if err != nil {
			return nil, err
		}
		return dedupeEmails(emails), nil
	}

	var all []string
	for _, psids := range Chunk(opts.PSIDAllowList, opts.ChunkSize) {
		emails, err := r.fetchChunk(ctx, loadDomain, opts, psids)
		if err != nil {
			return nil, err
		}
		all = append(all, emails...)
	}
	return dedupeEmails(all), nil
}

func (r *GormRecipientRepo) fetchChunk(ctx context.Context, loadDomain string, opts FetchOptions, psids []string) ([]string, error) {
	query := r.db.WithContext(ctx).
		Model(&UserNotificationModel{}).
		Joins("JOIN file_owners ON file_owners.psid = user_notifications.psid").
		Joins("JOIN raw_documents ON raw_documents.id = user_notifications.raw_id").
		Where("user_notifications.finished = ?", false).
		Where("file_owners.owner_email IS NOT NULL AND file_owners.owner_email <> ''").
		Where("raw_documents.load_domain = ?", loadDomain)

	if opts.Kind != "" {
		query = query.Where("user_notifications.kind = ?", opts.Kind)
	}
	if len(psids) > 0 {
		query = query.Where("user_notifications.psid IN ?", psids)
	}
	if opts.Limit > 0 {
		query = query.Limit(opts.Limit)
	}

	var emails []string
	err := query.Distinct().Pluck("file_owners.owner_email", &emails).Error
	if err != nil {
		return nil, fmt.Errorf("%w: pending recipient query: %v", domain.ErrStoreUnavailable, err)
	}
	return emails, nil
}

// dedupeEmails trims, drops blanks, and removes duplicates while preserving
// first-seen order.
func dedupeEmails(emails []string) []string {
	seen := make(map[string]struct{}, len(emails))
	result := make([]string, 0, len(emails))
	for _, email := range emails {
		trimmed := strings.TrimSpace(email)
		if trimmed == "" {
			continue
		}
		if _, dup := seen[trimmed]; dup {
			continue
		}
		seen[trimmed] = struct{}{}
		result = append(result, trimmed)
	}
	return result
}
