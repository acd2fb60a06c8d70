// Package eventlog appends moderation and lifecycle events to daily JSONL
// files so admins can review what happened in a room after the fact.
package eventlog

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

type EventLogger struct {
	log *log.Logger
	dir string
	mu  sync.Mutex
	// now is overridable in tests to pin the file name.
	now func() time.Time
}

func New(dir string, logger *log.Logger) (*EventLogger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	return &EventLogger{
		log: logger,
		dir: dir,
		now: time.Now,
	}, nil
}

// fileForDay returns the log file path for the given time's calendar day.
func (l *EventLogger) fileForDay(t time.Time) string {
	return filepath.Join(l.dir, t.Format("2006-01-02")+".log")
}

// Log appends one event entry. Failures are logged and swallowed: the audit
// trail never blocks or fails a chat operation.
func (l *EventLogger) Log(eventType string, fields map[string]any) {
	now := l.now()

	entry := map[string]any{
		"timestamp": now.UTC().Format(time.RFC3339),
		"type":      eventType,
	}
	for k, v := range fields {
		entry[k] = v
	}

	data, err := json.Marshal(entry)
	if err != nil {
		l.log.Printf("eventlog marshal: %v", err)
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.fileForDay(now), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		l.log.Printf("eventlog open: %v", err)
		return
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		l.log.Printf("eventlog write: %v", err)
	}
}

// ListFiles returns the available log file names, newest first.
func (l *EventLogger) ListFiles() ([]string, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, err
	}

	files := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".log") {
			files = append(files, e.Name())
		}
	}

	sort.Sort(sort.Reverse(sort.StringSlice(files)))
	return files, nil
}

// FilePath resolves a client-supplied log file name to a path inside the
// log directory, refusing anything that would escape it.
func (l *EventLogger) FilePath(name string) (string, bool) {
	name = filepath.Base(name)
	if name == "." || name == string(filepath.Separator) || !strings.HasSuffix(name, ".log") {
		return "", false
	}

	path := filepath.Join(l.dir, name)
	if _, err := os.Stat(path); err != nil {
		return "", false
	}

	return path, true
}
