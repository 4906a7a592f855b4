package engine

import (
	"sync"
	"sync/atomic"
)

// dropReason says why a task never ran.
type dropReason string

const (
	dropQueueFull dropReason = "queue_full"
	dropStale     dropReason = "stale_queue_delay"
)

// stats holds the engine's counters. All fields are updated atomically.
type stats struct {
	inFlight      atomic.Int32
	asyncInFlight atomic.Int32

	completed   atomic.Uint64
	failed      atomic.Uint64
	interrupted atomic.Uint64

	droppedQueueFull atomic.Uint64
	droppedStale     atomic.Uint64
}

func (st *stats) finished(o Outcome) {
	switch o {
	case OutcomeOK:
		st.completed.Add(1)
	case OutcomeInterrupted:
		st.interrupted.Add(1)
	default:
		st.failed.Add(1)
	}
}

// dropped counts r and returns the new total for that reason.
func (st *stats) dropped(r dropReason) uint64 {
	if r == dropStale {
		return st.droppedStale.Add(1)
	}
	return st.droppedQueueFull.Add(1)
}

// fill copies the counters into snap.
func (st *stats) fill(snap *Snapshot) {
	snap.InFlight = int(st.inFlight.Load())
	snap.AsyncInFlight = int(st.asyncInFlight.Load())
	snap.Completed = st.completed.Load()
	snap.Failed = st.failed.Load()
	snap.Interrupted = st.interrupted.Load()
	snap.DroppedQueueFull = st.droppedQueueFull.Load()
	snap.DroppedStale = st.droppedStale.Load()
	snap.Dropped = snap.DroppedQueueFull + snap.DroppedStale
}

// history keeps the most recent runs, oldest first.
type history struct {
	mu    sync.Mutex
	items []HistoryItem
}

func (h *history) add(item HistoryItem, limit int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.items = append(h.items, item)
	if n := len(h.items) - limit; limit > 0 && n > 0 {
		h.items = append(h.items[:0:0], h.items[n:]...)
	}
}

func (h *history) list() []HistoryItem {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]HistoryItem{}, h.items...)
}
