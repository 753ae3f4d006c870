package migrations

import (
	"github.com/didash/notifier/internal/repository"
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

func Migrate(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		createRawDocumentsTable(),
		createFileOwnersTable(),
		createUserNotificationsTable(),
	})
	return m.Migrate()
}

func createRawDocumentsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_raw_documents",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.RawDocumentModel{}); err != nil {
				return err
			}
			return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_raw_documents_ownership ON raw_documents (ownership)`).Error
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.RawDocumentModel{})
		},
	}
}

func createFileOwnersTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_create_file_owners",
		Migrate: func(tx *gorm.DB) error {
			return tx.AutoMigrate(&repository.FileOwnerModel{})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.FileOwnerModel{})
		},
	}
}

func createUserNotificationsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000003_create_user_notifications",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.UserNotificationModel{}); err != nil {
				return err
			}
			// Every fetch and reconcile filters on unfinished rows per kind.
			return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_user_notifications_pending ON user_notifications (kind, psid) WHERE finished = false`).Error
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.UserNotificationModel{})
		},
	}
}
