package progress

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/lewtec/pungyeong/internal/domain"
)

// Stats is a snapshot; concurrent readers may lag behind in-flight items.
type Stats struct {
	Total   int
	Success int
	Failed  int
	Skipped int
	Elapsed time.Duration
}

func (s Stats) Processed() int {
	return s.Success + s.Failed + s.Skipped
}

// Summary renders the end-of-run report.
func (s Stats) Summary() string {
	rate := 0.0
	if s.Processed() > 0 {
		rate = s.Elapsed.Seconds() / float64(s.Processed())
	}
	return fmt.Sprintf("total:%d success:%d failed:%d skipped:%d elapsed:%s avg:%.1fs/file",
		s.Total, s.Success, s.Failed, s.Skipped, FormatDuration(s.Elapsed), rate)
}

// FormatDuration prints hours, minutes and seconds, dropping leading zero units.
func FormatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := int(d / time.Hour)
	m := int(d % time.Hour / time.Minute)
	s := int(d % time.Minute / time.Second)
	switch {
	case h > 0:
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	case m > 0:
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}

// Tracker records per-file outcomes for the current run. Its sets are never
// used to decide what to process in a later run.
type Tracker struct {
	logger *Logger
	start  time.Time

	mu        sync.Mutex
	processed map[string]struct{}
	failed    map[string]struct{}
	stats     Stats
}

func NewTracker(logger *Logger) *Tracker {
	return &Tracker{
		logger:    logger,
		start:     time.Now(),
		processed: make(map[string]struct{}),
		failed:    make(map[string]struct{}),
	}
}

func (t *Tracker) SetTotal(total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stats.Total = total
}

// RecordOutcome never fails; log write errors are reported to stderr only.
func (t *Tracker) RecordOutcome(workerID int, filename string, status domain.OutcomeStatus, fields domain.Fields) {
	t.mu.Lock()
	switch status {
	case domain.StatusSuccess:
		t.stats.Success++
		t.processed[filename] = struct{}{}
	case domain.StatusFailed:
		t.stats.Failed++
		t.failed[filename] = struct{}{}
	case domain.StatusSkipped:
		t.stats.Skipped++
		t.processed[filename] = struct{}{}
	}
	t.mu.Unlock()

	if t.logger == nil {
		return
	}
	if status == domain.StatusFailed {
		cause, _ := fields["error"].(string)
		if err := t.logger.LogError(workerID, filename, cause, fields); err != nil {
			log.Printf("progress: while writing error log for %s: %s", filename, err)
		}
	}
	entry := domain.ProgressEntry{
		Filename:  filename,
		Status:    status,
		Timestamp: time.Now(),
		WorkerID:  workerID,
		Fields:    fields,
	}
	if err := t.logger.LogProgress(entry); err != nil {
		log.Printf("progress: while writing progress log for %s: %s", filename, err)
	}
}

// Seen reports whether filename already has an outcome in this run.
func (t *Tracker) Seen(filename string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.processed[filename]
	if !ok {
		_, ok = t.failed[filename]
	}
	return ok
}

func (t *Tracker) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.stats
	s.Elapsed = time.Since(t.start)
	return s
}
