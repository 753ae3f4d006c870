package repository

import (
	"time"

	"github.com/didash/notifier/internal/domain"
)

// UserNotificationModel is the persistence model for user_notifications.
type UserNotificationModel struct {
	ID               int64       `gorm:"primaryKey;autoIncrement"`
	PSID             string      `gorm:"column:psid;type:varchar(64);not null;index"`
	RawID            int64       `gorm:"not null;index"`
	Kind             domain.Kind `gorm:"type:varchar(4);not null"`
	Finished         bool        `gorm:"not null;default:false"`
	IsError          bool        `gorm:"not null;default:false"`
	NotificationDate *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (UserNotificationModel) TableName() string {
	return "user_notifications"
}

// FileOwnerModel is the persistence model for file_owners.
type FileOwnerModel struct {
	PSID       string `gorm:"column:psid;primaryKey;type:varchar(64)"`
	OwnerEmail string `gorm:"type:varchar(255);index"`
	OwnerName  string `gorm:"type:varchar(255)"`
	CreatedAt  time.Time
}

func (FileOwnerModel) TableName() string {
	return "file_owners"
}

// RawDocumentModel is the persistence model for raw_documents.
type RawDocumentModel struct {
	ID            int64  `gorm:"primaryKey;autoIncrement"`
	PathID        int64  `gorm:"not null"`
	FullPath      string `gorm:"type:varchar(1600)"`
	DocumentName  string `gorm:"type:varchar(1600)"`
	OwnerName     string `gorm:"type:varchar(255)"`
	OwnerLogin    string `gorm:"type:varchar(255)"`
	ModifierLogin string `gorm:"type:varchar(255)"`
	AccessorLogin string `gorm:"type:varchar(255)"`
	ClassifyTime  string `gorm:"type:varchar(255)"`
	Tags          string `gorm:"type:varchar(255)"`
	Ownership     string `gorm:"type:varchar(255)"`
	LoadDomain    string `gorm:"type:varchar(50);not null;index"`
	CreatedAt     time.Time
}

func (RawDocumentModel) TableName() string {
	return "raw_documents"
}

func rawDocumentModelFromDomain(d *domain.RawDocument) *RawDocumentModel {
	if d == nil {
		return nil
	}

	return &RawDocumentModel{
		ID:            d.ID,
		PathID:        d.PathID,
		FullPath:      d.FullPath,
		DocumentName:  d.DocumentName,
		OwnerName:     d.OwnerName,
		OwnerLogin:    d.OwnerLogin,
		ModifierLogin: d.ModifierLogin,
		AccessorLogin: d.AccessorLogin,
		ClassifyTime:  d.ClassifyTime,
		Tags:          d.Tags,
		Ownership:     d.Ownership,
		LoadDomain:    d.LoadDomain,
		CreatedAt:     d.CreatedAt,
	}
}
