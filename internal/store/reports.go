package store

import (
	"encoding/json"
	"log"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/parlorchat/parlor/internal/types"
)

// FileReportStore keeps the flat report list in memory and snapshots it to a
// single JSON document after every mutation, independently of the room store.
type FileReportStore struct {
	log     *log.Logger
	mu      sync.RWMutex
	reports []types.Report
	writer  *snapshotWriter
}

func NewFileReportStore(path string, logger *log.Logger) (*FileReportStore, error) {
	ps := &FileReportStore{log: logger}

	if data, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(data, &ps.reports); err != nil {
			logger.Printf("corrupt report snapshot %s, starting empty: %v", path, err)
			ps.reports = nil
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	ps.writer = newSnapshotWriter(path, logger, ps.marshalSnapshot)
	return ps, nil
}

func (ps *FileReportStore) marshalSnapshot() ([]byte, error) {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return json.MarshalIndent(ps.reports, "", "  ")
}

func (ps *FileReportStore) AddReport(room, id, reporter string) error {
	ps.mu.Lock()
	for _, r := range ps.reports {
		if r.Room == room && r.Id == id && r.Reporter == reporter {
			ps.mu.Unlock()
			return ErrDuplicateReport
		}
	}

	ps.reports = append(ps.reports, types.Report{
		Room:      room,
		Id:        id,
		Reporter:  reporter,
		Timestamp: time.Now().UTC(),
	})
	ps.mu.Unlock()

	ps.writer.schedule()
	return nil
}

// RemoveReports removes every report entry for the (room, id) pair,
// regardless of reporter. Used both for the admin unreport operation and
// for the cascade when a message is deleted.
func (ps *FileReportStore) RemoveReports(room, id string) error {
	ps.mu.Lock()
	kept := slices.DeleteFunc(ps.reports, func(r types.Report) bool {
		return r.Room == room && r.Id == id
	})

	if len(kept) == len(ps.reports) {
		ps.mu.Unlock()
		return ErrReportNotFound
	}

	ps.reports = kept
	ps.mu.Unlock()

	ps.writer.schedule()
	return nil
}

// ReportedIds returns the distinct message ids with at least one report in
// the room. Used to reconstruct moderation highlighting on join.
func (ps *FileReportStore) ReportedIds(room string) []string {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	var ids []string
	for _, r := range ps.reports {
		if r.Room == room && !slices.Contains(ids, r.Id) {
			ids = append(ids, r.Id)
		}
	}

	return ids
}

func (ps *FileReportStore) ListReports() []types.Report {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	return slices.Clone(ps.reports)
}

func (ps *FileReportStore) Close() error {
	ps.writer.close()
	return nil
}
