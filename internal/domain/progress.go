package domain

import "time"

type OutcomeStatus string

const (
	StatusSuccess OutcomeStatus = "success"
	StatusFailed  OutcomeStatus = "failed"
	StatusSkipped OutcomeStatus = "skipped"
)

// Fields carries status-specific progress fields (record_id, s3_key, error, reason...).
type Fields map[string]any

// ProgressEntry is one line of the structured outcome log.
type ProgressEntry struct {
	Filename  string
	Status    OutcomeStatus
	Timestamp time.Time
	WorkerID  int
	Fields    Fields
}
