package domain

import (
	"context"
	"encoding/json"
	"time"
)

type RecordStatus string

const (
	RecordOK    RecordStatus = "정상"
	RecordError RecordStatus = "오류"
)

// OriginalLocation is where the source file came from.
type OriginalLocation struct {
	FilePath string `json:"file_path"`
	Filename string `json:"filename"`
	FileSize int64  `json:"file_size"`
}

// ObjectLocation is where the file lives in the object store.
type ObjectLocation struct {
	Bucket          string    `json:"bucket"`
	Key             string    `json:"key"`
	URI             string    `json:"s3_path"`
	UploadTimestamp time.Time `json:"upload_timestamp"`
}

type RawStorage struct {
	Original OriginalLocation `json:"original"`
	S3       ObjectLocation   `json:"s3"`
}

type FileInfo struct {
	ID       int64  `json:"Id"`
	FileName string `json:"FileName"`
	Width    int    `json:"Width"`
	Height   int    `json:"Height"`
	Format   string `json:"Format"`
	FileSize int64  `json:"FileSize"`
}

type RawMeta struct {
	FileInfo    FileInfo  `json:"File_info"`
	ProcessedAt time.Time `json:"processed_at"`
	WorkerID    int       `json:"worker_id,omitempty"`
	Model       string    `json:"model,omitempty"`
}

// NewRecord is what callers hand to the store. FileInfo.ID is assigned by the store.
type NewRecord struct {
	StorageKey string
	FileHash   string
	Status     RecordStatus
	Storage    RawStorage
	Meta       RawMeta
	// Annotation is persisted verbatim as raw_gemini.
	Annotation json.RawMessage
}

// StoredRecord is a row of the record table.
type StoredRecord struct {
	ID         string
	StorageKey string
	FileHash   string
	Status     RecordStatus
	RawStorage json.RawMessage
	RawGemini  json.RawMessage
	RawMeta    json.RawMessage
}

// Storage decodes the raw_storage column.
func (r *StoredRecord) Storage() (*RawStorage, error) {
	var s RawStorage
	if err := json.Unmarshal(r.RawStorage, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// CommitResult is returned by RecordStore.CommitRecord. Inserted is false when the
// (path, hash) pair already existed and nothing was written.
type CommitResult struct {
	RecordID   string
	FileInfoID int64
	Inserted   bool
}

// RecordStore owns ID allocation and conflict resolution for stored records.
type RecordStore interface {
	// IsDuplicateByHash reports whether any record has this content hash.
	IsDuplicateByHash(ctx context.Context, hash string) (bool, error)

	// IsDuplicateByPath returns the record with both this path and hash, or nil.
	IsDuplicateByPath(ctx context.Context, fullPath, hash string) (*StoredRecord, error)

	// BatchFilterExisting returns the subset of relative paths already stored under remoteRoot.
	BatchFilterExisting(ctx context.Context, relPaths []string, remoteRoot string) (map[string]struct{}, error)

	// NextSequentialID never fails; on query errors it logs and returns 1.
	NextSequentialID(ctx context.Context) int64

	// InsertRecord writes rec as is. ok is false when the conflict branch fired.
	InsertRecord(ctx context.Context, rec *NewRecord) (id string, ok bool, err error)

	// CommitRecord allocates the sequential ID and inserts atomically.
	CommitRecord(ctx context.Context, rec *NewRecord) (*CommitResult, error)
}
