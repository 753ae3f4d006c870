package repository

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/didash/notifier/internal/domain"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T, gormLogger logger.Interface) *gorm.DB {
	t.Helper()

	if gormLogger == nil {
		gormLogger = logger.Default.LogMode(logger.Silent)
	}

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "notifier.db")), &gorm.Config{
		Logger: gormLogger,
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.AutoMigrate(&RawDocumentModel{}, &FileOwnerModel{}, &UserNotificationModel{}); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return db
}

func seedRaw(t *testing.T, db *gorm.DB, id int64, loadDomain string) {
	t.Helper()
	raw := RawDocumentModel{ID: id, FullPath: "/doc", LoadDomain: loadDomain}
	if err := db.Create(&raw).Error; err != nil {
		t.Fatalf("seed raw document: %v", err)
	}
}

func seedOwner(t *testing.T, db *gorm.DB, psid, email string) {
	t.Helper()
	owner := FileOwnerModel{PSID: psid, OwnerEmail: email}
	if err := db.Create(&owner).Error; err != nil {
		t.Fatalf("seed owner: %v", err)
	}
}

func seedNotification(t *testing.T, db *gorm.DB, psid string, rawID int64, kind domain.Kind, finished bool) {
	t.Helper()
	note := UserNotificationModel{PSID: psid, RawID: rawID, Kind: kind, Finished: finished}
	if err := db.Create(&note).Error; err != nil {
		t.Fatalf("seed notification: %v", err)
	}
}

func finishedCount(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var count int64
	if err := db.Model(&UserNotificationModel{}).Where("finished = ?", true).Count(&count).Error; err != nil {
		t.Fatalf("count finished rows: %v", err)
	}
	return count
}

func TestReconcileMarksSentAndFailed(t *testing.T) {
	t.Parallel()

	db := newTestDB(t, nil)
	seedRaw(t, db, 1, "OVR")
	seedRaw(t, db, 2, "HR")
	seedOwner(t, db, "p1", "a@x")
	seedOwner(t, db, "p2", "b@x")
	seedOwner(t, db, "p3", "c@x")
	seedNotification(t, db, "p1", 1, domain.KindInitial, false)
	seedNotification(t, db, "p2", 1, domain.KindInitial, false)
	seedNotification(t, db, "p3", 1, domain.KindInitial, false)
	// Same owner pending in another load domain; must stay untouched.
	seedNotification(t, db, "p1", 2, domain.KindInitial, false)

	repo := NewGormReconcileRepo(db)
	ok, errCount, err := repo.Reconcile(context.Background(), "OVR",
		[]string{"a@x", "c@x"},
		map[string]string{"b@x": "550 mailbox unavailable"},
		ReconcileOptions{},
	)
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if ok != 2 || errCount != 1 {
		t.Fatalf("counts = (%d, %d), want (2, 1)", ok, errCount)
	}

	var rows []UserNotificationModel
	if err := db.Order("id").Find(&rows).Error; err != nil {
		t.Fatalf("load rows: %v", err)
	}
	type rowKey struct {
		psid  string
		rawID int64
	}
	byRow := map[rowKey]UserNotificationModel{}
	for _, row := range rows {
		byRow[rowKey{row.PSID, row.RawID}] = row
	}

	for _, want := range []struct {
		psid    string
		rawID   int64
		done    bool
		isError bool
	}{
		{"p1", 1, true, false},
		{"p2", 1, true, true},
		{"p3", 1, true, false},
		{"p1", 2, false, false},
	} {
		row := byRow[rowKey{want.psid, want.rawID}]
		if row.Finished != want.done || row.IsError != want.isError {
			t.Fatalf("row %s/raw%d = finished=%v isError=%v, want finished=%v isError=%v",
				want.psid, want.rawID, row.Finished, row.IsError, want.done, want.isError)
		}
	}
}

func TestReconcileSecondRunUpdatesNothing(t *testing.T) {
	t.Parallel()

	db := newTestDB(t, nil)
	seedRaw(t, db, 1, "OVR")
	seedOwner(t, db, "p1", "a@x")
	seedOwner(t, db, "p2", "b@x")
	seedNotification(t, db, "p1", 1, domain.KindInitial, false)
	seedNotification(t, db, "p2", 1, domain.KindInitial, false)

	repo := NewGormReconcileRepo(db)
	sent := []string{"a@x"}
	failed := map[string]string{"b@x": "550 mailbox unavailable"}

	ok, errCount, err := repo.Reconcile(context.Background(), "OVR", sent, failed, ReconcileOptions{})
	if err != nil || ok != 1 || errCount != 1 {
		t.Fatalf("first run = (%d, %d, %v), want (1, 1, nil)", ok, errCount, err)
	}

	// Re-running with the same outcome must not touch the already-finished rows.
	ok, errCount, err = repo.Reconcile(context.Background(), "OVR", sent, failed, ReconcileOptions{})
	if err != nil {
		t.Fatalf("second run error = %v", err)
	}
	if ok != 0 || errCount != 0 {
		t.Fatalf("second run = (%d, %d), want (0, 0)", ok, errCount)
	}
}

func TestReconcileRollsBackOnMidTransactionFailure(t *testing.T) {
	t.Parallel()

	db := newTestDB(t, nil)
	seedRaw(t, db, 1, "OVR")
	seedOwner(t, db, "p1", "a@x")
	seedOwner(t, db, "p2", "b@x")
	seedNotification(t, db, "p1", 1, domain.KindInitial, false)
	seedNotification(t, db, "p2", 1, domain.KindInitial, false)

	// Fail the second UPDATE of the pass (the error path) after the first one
	// (the success path) already ran inside the transaction.
	updateCalls := 0
	err := db.Callback().Update().Before("gorm:update").Register("fail_second_update", func(tx *gorm.DB) {
		updateCalls++
		if updateCalls == 2 {
			tx.AddError(errors.New("forced update failure"))
		}
	})
	if err != nil {
		t.Fatalf("register callback: %v", err)
	}

	repo := NewGormReconcileRepo(db)
	ok, errCount, rErr := repo.Reconcile(context.Background(), "OVR",
		[]string{"a@x"},
		map[string]string{"b@x": "550 mailbox unavailable"},
		ReconcileOptions{},
	)
	if !errors.Is(rErr, domain.ErrReconciliationFailed) {
		t.Fatalf("error = %v, want ErrReconciliationFailed", rErr)
	}
	if ok != 0 || errCount != 0 {
		t.Fatalf("counts = (%d, %d), want (0, 0) after rollback", ok, errCount)
	}
	if updateCalls != 2 {
		t.Fatalf("update calls = %d, want 2", updateCalls)
	}

	// All or nothing: the success-path update must have been rolled back too.
	if got := finishedCount(t, db); got != 0 {
		t.Fatalf("finished rows = %d, want 0", got)
	}
}

func TestReconcileChunksBothPaths(t *testing.T) {
	t.Parallel()

	db := newTestDB(t, nil)
	seedRaw(t, db, 1, "OVR")
	seedOwner(t, db, "p1", "a@x")
	seedOwner(t, db, "p2", "b@x")
	seedOwner(t, db, "p3", "c@x")
	seedNotification(t, db, "p1", 1, domain.KindInitial, false)
	seedNotification(t, db, "p2", 1, domain.KindInitial, false)
	seedNotification(t, db, "p3", 1, domain.KindInitial, false)

	updateCalls := 0
	err := db.Callback().Update().Before("gorm:update").Register("count_updates", func(tx *gorm.DB) {
		updateCalls++
	})
	if err != nil {
		t.Fatalf("register callback: %v", err)
	}

	repo := NewGormReconcileRepo(db)
	ok, errCount, rErr := repo.Reconcile(context.Background(), "OVR",
		[]string{"a@x", "c@x"},
		map[string]string{"b@x": "550 mailbox unavailable"},
		ReconcileOptions{ChunkSize: 1},
	)
	if rErr != nil {
		t.Fatalf("Reconcile() error = %v", rErr)
	}
	if ok != 2 || errCount != 1 {
		t.Fatalf("counts = (%d, %d), want (2, 1)", ok, errCount)
	}
	// Chunk size 1: one UPDATE per sent address plus one for the failed one.
	if updateCalls != 3 {
		t.Fatalf("update calls = %d, want 3", updateCalls)
	}
}

func TestReconcileKindFilter(t *testing.T) {
	t.Parallel()

	db := newTestDB(t, nil)
	seedRaw(t, db, 1, "OVR")
	seedOwner(t, db, "p1", "a@x")
	seedNotification(t, db, "p1", 1, domain.KindChasing, false)

	repo := NewGormReconcileRepo(db)
	ok, errCount, err := repo.Reconcile(context.Background(), "OVR",
		[]string{"a@x"}, nil,
		ReconcileOptions{Kind: domain.KindInitial},
	)
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if ok != 0 || errCount != 0 {
		t.Fatalf("counts = (%d, %d), want (0, 0) for mismatched kind", ok, errCount)
	}
	if got := finishedCount(t, db); got != 0 {
		t.Fatalf("finished rows = %d, want 0", got)
	}
}
