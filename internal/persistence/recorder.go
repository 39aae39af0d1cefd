package persistence

import (
	"log/slog"
	"sync"

	"github.com/talgya/hive-sim/internal/events"
)

// DefaultFlushSize is how many events the recorder buffers before writing.
const DefaultFlushSize = 256

// Snapshotter produces the snapshot the recorder saves on SaveRequested.
type Snapshotter func() Saved

// Recorder is an event subscriber that appends events to the log in
// batches and saves a snapshot whenever the engine requests one. Storage
// failures are logged and otherwise ignored: the engine never waits for or
// learns about them.
type Recorder struct {
	db        *DB
	snapshot  Snapshotter
	logger    *slog.Logger
	flushSize int

	mu      sync.Mutex
	pending []events.Event
	saves   int
	unsub   func()
}

// NewRecorder creates a recorder. A nil snapshot disables snapshot saves.
func NewRecorder(db *DB, snapshot Snapshotter, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{db: db, snapshot: snapshot, logger: logger, flushSize: DefaultFlushSize}
}

// Attach subscribes the recorder to bus.
func (r *Recorder) Attach(bus *events.Bus) {
	unsub := bus.Subscribe("persistence", r.Handle)
	r.mu.Lock()
	r.unsub = unsub
	r.mu.Unlock()
}

// Handle records one event.
func (r *Recorder) Handle(ev events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.pending = append(r.pending, ev)

	switch ev.Kind {
	case events.KindSaveRequested:
		r.flushLocked()
		r.saveLocked()
	case events.KindStopped, events.KindCompleted, events.KindFailed:
		r.flushLocked()
	default:
		if len(r.pending) >= r.flushSize {
			r.flushLocked()
		}
	}
}

// Saves returns how many snapshots the recorder has written.
func (r *Recorder) Saves() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.saves
}

// Flush writes any buffered events.
func (r *Recorder) Flush() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flushLocked()
}

// Close unsubscribes from the bus and flushes.
func (r *Recorder) Close() {
	r.mu.Lock()
	unsub := r.unsub
	r.unsub = nil
	r.mu.Unlock()
	if unsub != nil {
		unsub()
	}
	r.Flush()
}

func (r *Recorder) flushLocked() {
	if len(r.pending) == 0 {
		return
	}
	if err := r.db.AppendEvents(r.pending); err != nil {
		r.logger.Error("failed to record events", "events", len(r.pending), "error", err)
	}
	r.pending = r.pending[:0]
}

func (r *Recorder) saveLocked() {
	if r.snapshot == nil {
		return
	}
	if err := r.db.SaveSnapshot(r.snapshot()); err != nil {
		r.logger.Error("auto-save failed", "error", err)
		return
	}
	r.saves++
}
