package store

import (
	"log"
	"os"
	"sync"
)

// snapshotWriter rewrites a store's snapshot file wholesale on a dedicated
// goroutine. Schedule requests coalesce, so a burst of mutations produces a
// single write. Write errors are logged and swallowed: the in-memory state
// is authoritative and callers are never failed by a bad disk.
type snapshotWriter struct {
	path    string
	log     *log.Logger
	marshal func() ([]byte, error)
	// wmu serializes write: synchronous persists can race the run
	// goroutine's scheduled writes on the same path.
	wmu  sync.Mutex
	kick chan struct{}
	stop chan struct{}
	done chan struct{}
}

func newSnapshotWriter(path string, logger *log.Logger, marshal func() ([]byte, error)) *snapshotWriter {
	w := &snapshotWriter{
		path:    path,
		log:     logger,
		marshal: marshal,
		kick:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}

	go w.run()
	return w
}

func (w *snapshotWriter) run() {
	defer close(w.done)

	for {
		select {
		case <-w.kick:
			w.write()
		case <-w.stop:
			return
		}
	}
}

// schedule requests an asynchronous snapshot write.
func (w *snapshotWriter) schedule() {
	select {
	case w.kick <- struct{}{}:
	default:
	}
}

// write performs a synchronous snapshot write. The document lands via a
// temp file and rename so a crash mid-write leaves the previous complete
// snapshot in place, never a torn one.
func (w *snapshotWriter) write() {
	w.wmu.Lock()
	defer w.wmu.Unlock()

	data, err := w.marshal()
	if err != nil {
		w.log.Printf("marshal snapshot %s: %v", w.path, err)
		return
	}

	tmp := w.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		w.log.Printf("write snapshot %s: %v", w.path, err)
		return
	}

	if err := os.Rename(tmp, w.path); err != nil {
		w.log.Printf("rename snapshot %s: %v", w.path, err)
	}
}

// close stops the writer goroutine and flushes a final snapshot.
func (w *snapshotWriter) close() {
	close(w.stop)
	<-w.done
	w.write()
}
