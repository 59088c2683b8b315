package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"
	"github.com/lewtec/pungyeong/internal/domain"
	"github.com/lib/pq"
)

// allocLockKey is the advisory lock serializing File_info.Id allocation across processes.
const allocLockKey int64 = 0x70756e67 // "pung"

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type statements struct {
	duplicateByHash string
	duplicateByPath string
	filterExisting  string
	nextID          string
	insert          string
	countByStatus   string
	listByHash      string
}

const recordColumns = "id, s3_key, file_hash, status, raw_storage, raw_gemini, raw_meta"

var postgresStatements = statements{
	duplicateByHash: `SELECT EXISTS(SELECT 1 FROM rapa25.raw_image WHERE file_hash = $1)`,
	duplicateByPath: `SELECT ` + recordColumns + ` FROM rapa25.raw_image
WHERE raw_storage->'original'->>'file_path' = $1 AND file_hash = $2 LIMIT 1`,
	filterExisting: `SELECT raw_storage->'original'->>'file_path' FROM rapa25.raw_image
WHERE raw_storage->'original'->>'file_path' = ANY($1)`,
	nextID: `WITH existing_ids AS (
  SELECT DISTINCT (raw_meta->'File_info'->>'Id')::bigint AS id
  FROM rapa25.raw_image
  WHERE raw_meta->'File_info'->>'Id' ~ '^[0-9]+$'
), numbered AS (
  SELECT id, ROW_NUMBER() OVER (ORDER BY id) AS row_num FROM existing_ids WHERE id > 0
)
SELECT COALESCE(
  (SELECT row_num FROM numbered WHERE id <> row_num ORDER BY row_num LIMIT 1),
  (SELECT MAX(id) FROM numbered) + 1,
  1)`,
	insert: `INSERT INTO rapa25.raw_image (` + recordColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT ((raw_storage->'original'->>'file_path'), file_hash) DO NOTHING
RETURNING id`,
	countByStatus: `SELECT status, COUNT(*) FROM rapa25.raw_image GROUP BY status ORDER BY status`,
	listByHash:    `SELECT ` + recordColumns + ` FROM rapa25.raw_image WHERE file_hash = $1 ORDER BY created_at`,
}

var sqliteStatements = statements{
	duplicateByHash: `SELECT EXISTS(SELECT 1 FROM raw_image WHERE file_hash = ?)`,
	duplicateByPath: `SELECT ` + recordColumns + ` FROM raw_image
WHERE json_extract(raw_storage, '$.original.file_path') = ? AND file_hash = ? LIMIT 1`,
	filterExisting: `SELECT json_extract(raw_storage, '$.original.file_path') FROM raw_image
WHERE json_extract(raw_storage, '$.original.file_path') IN (SELECT value FROM json_each(?))`,
	nextID: `WITH existing_ids AS (
  SELECT DISTINCT CAST(json_extract(raw_meta, '$.File_info.Id') AS INTEGER) AS id
  FROM raw_image
  WHERE json_type(raw_meta, '$.File_info.Id') = 'integer'
), numbered AS (
  SELECT id, ROW_NUMBER() OVER (ORDER BY id) AS row_num FROM existing_ids WHERE id > 0
)
SELECT COALESCE(
  (SELECT row_num FROM numbered WHERE id <> row_num ORDER BY row_num LIMIT 1),
  (SELECT MAX(id) FROM numbered) + 1,
  1)`,
	insert: `INSERT INTO raw_image (` + recordColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT DO NOTHING
RETURNING id`,
	countByStatus: `SELECT status, COUNT(*) FROM raw_image GROUP BY status ORDER BY status`,
	listByHash:    `SELECT ` + recordColumns + ` FROM raw_image WHERE file_hash = ? ORDER BY created_at`,
}

// RecordRepository implements domain.RecordStore over database/sql
type RecordRepository struct {
	db      *sql.DB
	dialect Dialect
	stmts   statements
	// allocMu serializes ID allocation within this process
	allocMu sync.Mutex
}

var _ domain.RecordStore = (*RecordRepository)(nil)

func NewRecordRepository(db *sql.DB, dialect Dialect) *RecordRepository {
	stmts := postgresStatements
	if dialect == SQLite {
		stmts = sqliteStatements
	}
	return &RecordRepository{db: db, dialect: dialect, stmts: stmts}
}

func (r *RecordRepository) IsDuplicateByHash(ctx context.Context, hash string) (bool, error) {
	var exists bool
	if err := r.db.QueryRowContext(ctx, r.stmts.duplicateByHash, hash).Scan(&exists); err != nil {
		return false, fmt.Errorf("while checking hash %s: %w", hash, err)
	}
	return exists, nil
}

// IsDuplicateByPath requires both path and hash to match; the same frame at
// another path is a different record.
func (r *RecordRepository) IsDuplicateByPath(ctx context.Context, fullPath, hash string) (*domain.StoredRecord, error) {
	rec, err := scanRecord(r.db.QueryRowContext(ctx, r.stmts.duplicateByPath, fullPath, hash))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("while checking %s: %w", fullPath, err)
	}
	return rec, nil
}

// BatchFilterExisting checks all paths in one statement and returns the
// relative paths that already have a record.
func (r *RecordRepository) BatchFilterExisting(ctx context.Context, relPaths []string, remoteRoot string) (map[string]struct{}, error) {
	existing := make(map[string]struct{})
	if len(relPaths) == 0 {
		return existing, nil
	}
	byFull := make(map[string]string, len(relPaths))
	fullPaths := make([]string, 0, len(relPaths))
	for _, rel := range relPaths {
		full := domain.JoinRemote(remoteRoot, rel)
		byFull[full] = rel
		fullPaths = append(fullPaths, full)
	}

	var arg any
	switch r.dialect {
	case SQLite:
		encoded, err := json.Marshal(fullPaths)
		if err != nil {
			return nil, err
		}
		arg = string(encoded)
	default:
		arg = pq.Array(fullPaths)
	}

	rows, err := r.db.QueryContext(ctx, r.stmts.filterExisting, arg)
	if err != nil {
		return nil, fmt.Errorf("while checking %d paths: %w", len(fullPaths), err)
	}
	defer rows.Close()
	for rows.Next() {
		var full string
		if err := rows.Scan(&full); err != nil {
			return nil, err
		}
		if rel, ok := byFull[full]; ok {
			existing[rel] = struct{}{}
		}
	}
	return existing, rows.Err()
}

func (r *RecordRepository) nextID(ctx context.Context, q queryer) (int64, error) {
	var id int64
	if err := q.QueryRowContext(ctx, r.stmts.nextID).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

// NextSequentialID returns the first free slot of the File_info.Id sequence,
// or max+1 when there is no gap. It is a read only; use CommitRecord to
// allocate and insert without racing other writers.
func (r *RecordRepository) NextSequentialID(ctx context.Context) int64 {
	id, err := r.nextID(ctx, r.db)
	if err != nil {
		log.Printf("repository: WARNING: while computing next sequential id, falling back to 1: %s", err)
		return 1
	}
	return id
}

func (r *RecordRepository) insert(ctx context.Context, q queryer, rec *domain.NewRecord) (string, bool, error) {
	storage, err := json.Marshal(rec.Storage)
	if err != nil {
		return "", false, fmt.Errorf("while encoding raw_storage: %w", err)
	}
	meta, err := json.Marshal(rec.Meta)
	if err != nil {
		return "", false, fmt.Errorf("while encoding raw_meta: %w", err)
	}
	var annotation any
	if len(rec.Annotation) > 0 {
		annotation = string(rec.Annotation)
	}
	status := rec.Status
	if status == "" {
		status = domain.RecordOK
	}

	var id string
	err = q.QueryRowContext(ctx, r.stmts.insert,
		uuid.NewString(), rec.StorageKey, rec.FileHash, string(status),
		string(storage), annotation, string(meta),
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("while inserting record for %s: %w", rec.Storage.Original.FilePath, err)
	}
	return id, true, nil
}

// InsertRecord writes rec with the File_info.Id it already carries. ok is
// false when (path, hash) already exists.
func (r *RecordRepository) InsertRecord(ctx context.Context, rec *domain.NewRecord) (string, bool, error) {
	return r.insert(ctx, r.db, rec)
}

// CommitRecord allocates rec.Meta.FileInfo.ID and inserts rec in one
// transaction. Concurrent callers are serialized by a process mutex and, on
// PostgreSQL, by a transaction-scoped advisory lock.
func (r *RecordRepository) CommitRecord(ctx context.Context, rec *domain.NewRecord) (*domain.CommitResult, error) {
	r.allocMu.Lock()
	defer r.allocMu.Unlock()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("while starting record transaction: %w", err)
	}
	defer tx.Rollback()

	if r.dialect == Postgres {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, allocLockKey); err != nil {
			return nil, fmt.Errorf("while locking id allocation: %w", err)
		}
	}
	id, err := r.nextID(ctx, tx)
	if err != nil {
		return nil, fmt.Errorf("while allocating sequential id: %w", err)
	}
	rec.Meta.FileInfo.ID = id

	recordID, ok, err := r.insert(ctx, tx, rec)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &domain.CommitResult{FileInfoID: id}, nil
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("while committing record: %w", err)
	}
	return &domain.CommitResult{RecordID: recordID, FileInfoID: id, Inserted: true}, nil
}

// CountByStatus returns the number of records per status tag.
func (r *RecordRepository) CountByStatus(ctx context.Context) (map[string]int64, error) {
	rows, err := r.db.QueryContext(ctx, r.stmts.countByStatus)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := make(map[string]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func (r *RecordRepository) ListByHash(ctx context.Context, hash string) ([]*domain.StoredRecord, error) {
	rows, err := r.db.QueryContext(ctx, r.stmts.listByHash, hash)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var records []*domain.StoredRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (*domain.StoredRecord, error) {
	var rec domain.StoredRecord
	var status string
	var storage, gemini, meta []byte
	if err := s.Scan(&rec.ID, &rec.StorageKey, &rec.FileHash, &status, &storage, &gemini, &meta); err != nil {
		return nil, err
	}
	rec.Status = domain.RecordStatus(status)
	rec.RawStorage = storage
	rec.RawGemini = gemini
	rec.RawMeta = meta
	return &rec, nil
}
