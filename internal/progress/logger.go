package progress

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-git/go-billy/v6"
	"github.com/lewtec/pungyeong/internal/domain"
)

const (
	ErrorLogName    = "error.log"
	ProgressLogName = "progress.jsonl"
	dateLayout      = "2006-01-02"
	timeLayout      = "2006-01-02 15:04:05"
)

// Logger appends to date-partitioned log files. Each call writes one complete
// line (or error block) and closes the file, so a crash loses at most the
// write in flight.
type Logger struct {
	fs  billy.Filesystem
	mu  sync.Mutex
	now func() time.Time
}

func NewLogger(fs billy.Filesystem) *Logger {
	return &Logger{fs: fs, now: time.Now}
}

// Dir is the directory of today's logs, relative to the log root.
func (l *Logger) Dir() string {
	return l.now().Format(dateLayout)
}

func (l *Logger) appendText(name, text string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	dir := l.Dir()
	if err := l.fs.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := l.fs.OpenFile(l.fs.Join(dir, name), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write([]byte(text)); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// LogError appends a human-readable failure block to error.log.
func (l *Logger) LogError(workerID int, filename string, cause string, metadata domain.Fields) error {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] [Worker %d] FILE: %s\n", l.now().Format(timeLayout), workerID, filename)
	fmt.Fprintf(&sb, "ERROR: %s\n", cause)
	if len(metadata) > 0 {
		data, err := json.Marshal(metadata)
		if err != nil {
			data = []byte(fmt.Sprintf("%v", metadata))
		}
		fmt.Fprintf(&sb, "METADATA: %s\n", data)
	}
	sb.WriteString(strings.Repeat("-", 80))
	sb.WriteString("\n")
	return l.appendText(ErrorLogName, sb.String())
}

// LogProgress appends entry to progress.jsonl as one compact JSON object.
func (l *Logger) LogProgress(entry domain.ProgressEntry) error {
	line := make(map[string]any, len(entry.Fields)+4)
	for k, v := range entry.Fields {
		line[k] = v
	}
	line["filename"] = entry.Filename
	line["status"] = entry.Status
	line["timestamp"] = entry.Timestamp.Format(time.RFC3339)
	line["worker_id"] = entry.WorkerID
	data, err := json.Marshal(line)
	if err != nil {
		return fmt.Errorf("while encoding progress entry for %s: %w", entry.Filename, err)
	}
	return l.appendText(ProgressLogName, string(data)+"\n")
}
