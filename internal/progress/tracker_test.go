package progress

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-git/go-billy/v6"
	"github.com/go-git/go-billy/v6/memfs"
	"github.com/lewtec/pungyeong/internal/domain"
)

func readFile(t *testing.T, fs billy.Filesystem, name string) string {
	t.Helper()
	f, err := fs.Open(name)
	if err != nil {
		t.Fatalf("open %s: %v", name, err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		t.Fatalf("read %s: %v", name, err)
	}
	return string(data)
}

func fixedLogger(fs billy.Filesystem) *Logger {
	l := NewLogger(fs)
	l.now = func() time.Time { return time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC) }
	return l
}

func TestTracker_RecordOutcome(t *testing.T) {
	fs := memfs.New()
	tracker := NewTracker(fixedLogger(fs))
	tracker.SetTotal(3)

	tracker.RecordOutcome(1, "a.jpg", domain.StatusSuccess, domain.Fields{"record_id": "r1", "s3_key": "k1"})
	tracker.RecordOutcome(2, "b.jpg", domain.StatusFailed, domain.Fields{"error": "download failed", "stage": "download"})
	tracker.RecordOutcome(1, "c.jpg", domain.StatusSkipped, domain.Fields{"reason": "duplicate"})

	stats := tracker.Stats()
	if stats.Success != 1 || stats.Failed != 1 || stats.Skipped != 1 || stats.Total != 3 {
		t.Errorf("Stats() = %+v", stats)
	}
	if !tracker.Seen("b.jpg") || tracker.Seen("d.jpg") {
		t.Error("Seen() mismatch")
	}

	t.Run("progress log has one JSON object per outcome", func(t *testing.T) {
		content := readFile(t, fs, "2025-03-14/progress.jsonl")
		lines := strings.Split(strings.TrimSpace(content), "\n")
		if len(lines) != 3 {
			t.Fatalf("lines = %d, want 3: %q", len(lines), content)
		}
		var first map[string]any
		if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
			t.Fatalf("line 0: %v", err)
		}
		if first["filename"] != "a.jpg" || first["status"] != "success" || first["record_id"] != "r1" || first["worker_id"] != float64(1) {
			t.Errorf("line 0 = %v", first)
		}
	})

	t.Run("error log has a block for the failure only", func(t *testing.T) {
		content := readFile(t, fs, "2025-03-14/error.log")
		if !strings.HasPrefix(content, "[2025-03-14 09:30:00] [Worker 2] FILE: b.jpg\nERROR: download failed\nMETADATA: {") {
			t.Errorf("error.log = %q", content)
		}
		if !strings.HasSuffix(content, strings.Repeat("-", 80)+"\n") {
			t.Errorf("missing separator: %q", content)
		}
		if strings.Contains(content, "a.jpg") {
			t.Error("successes must not reach error.log")
		}
	})
}

func TestLogger_ConcurrentWritesKeepLinesWhole(t *testing.T) {
	fs := memfs.New()
	logger := fixedLogger(fs)
	tracker := NewTracker(logger)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				tracker.RecordOutcome(w, fmt.Sprintf("w%d-%d.jpg", w, i), domain.StatusSuccess, domain.Fields{"note": strings.Repeat("x", 200)})
			}
		}(w)
	}
	wg.Wait()

	f, err := fs.Open(logger.Dir() + "/" + ProgressLogName)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	n := 0
	for scanner.Scan() {
		var line map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			t.Fatalf("line %d is not valid JSON: %v", n, err)
		}
		n++
	}
	if n != 200 {
		t.Errorf("lines = %d, want 200", n)
	}
	if got := tracker.Stats().Success; got != 200 {
		t.Errorf("Success = %d, want 200", got)
	}
}

type brokenFS struct {
	billy.Filesystem
}

func (brokenFS) OpenFile(string, int, os.FileMode) (billy.File, error) {
	return nil, errors.New("disk full")
}

func TestTracker_WriteFailuresAreSwallowed(t *testing.T) {
	tracker := NewTracker(NewLogger(brokenFS{memfs.New()}))
	tracker.RecordOutcome(0, "a.jpg", domain.StatusFailed, domain.Fields{"error": "boom"})
	if got := tracker.Stats().Failed; got != 1 {
		t.Errorf("Failed = %d, want 1", got)
	}
}

func TestFormatDuration(t *testing.T) {
	tests := map[time.Duration]string{
		42 * time.Second:                   "42s",
		3*time.Minute + 5*time.Second:      "3m 5s",
		2*time.Hour + 1*time.Minute + 1500: "2h 1m 0s",
	}
	for d, want := range tests {
		if got := FormatDuration(d); got != want {
			t.Errorf("FormatDuration(%v) = %q, want %q", d, got, want)
		}
	}
}
