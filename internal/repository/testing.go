package repository

import (
	"context"
	"database/sql"
	"fmt"
	"testing"

	"github.com/lewtec/pungyeong/internal/domain"
)

// SetupTestDB returns an in-memory SQLite database with the raw_image
// migrations applied. The caller closes it.
func SetupTestDB(t testing.TB) *sql.DB {
	t.Helper()

	db, dialect, err := GetDatabase(context.Background(), ":memory:", PoolOptions{})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	if err := Migrate(db, dialect, ":memory:"); err != nil {
		db.Close()
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return db
}

// CleanupTestDB closes the test database
func CleanupTestDB(t testing.TB, db *sql.DB) {
	t.Helper()
	if err := db.Close(); err != nil {
		t.Errorf("failed to close test database: %v", err)
	}
}

// SetupTestRepository is SetupTestDB wrapped in a RecordRepository that is
// closed when the test ends.
func SetupTestRepository(t testing.TB) *RecordRepository {
	t.Helper()
	db := SetupTestDB(t)
	t.Cleanup(func() { db.Close() })
	return NewRecordRepository(db, SQLite)
}

// SeedFileInfoIDs stores one placeholder record per id, as an earlier run would have.
func SeedFileInfoIDs(t testing.TB, repo *RecordRepository, ids ...int64) {
	t.Helper()
	for _, id := range ids {
		rec := &domain.NewRecord{
			StorageKey: fmt.Sprintf("seed-%d", id),
			FileHash:   fmt.Sprintf("seed-%d", id),
			Status:     domain.RecordOK,
			Storage: domain.RawStorage{
				Original: domain.OriginalLocation{FilePath: fmt.Sprintf("/seed/%d.jpg", id), Filename: fmt.Sprintf("%d.jpg", id)},
			},
			Meta: domain.RawMeta{FileInfo: domain.FileInfo{ID: id}},
		}
		if _, ok, err := repo.InsertRecord(context.Background(), rec); err != nil || !ok {
			t.Fatalf("failed to seed id %d: ok=%v err=%v", id, ok, err)
		}
	}
}
