// Package progress materializes a read-optimized view of a running scan for
// observers, refreshed from storage on a fixed cadence.
package progress

import (
	"sync"
	"time"

	"github.com/rootsploit/voyage/internal/storage"
)

// Snapshot is the observer-facing state of a scan. It is rebuilt on every
// refresh rather than patched.
type Snapshot struct {
	ScanID        string             `json:"scan_id"`
	Found         []storage.Result   `json:"found"`
	FoundCount    int64              `json:"found_count"`
	NotFoundCount int64              `json:"not_found_count"`
	Scanning      int64              `json:"scanning"`
	Queued        int64              `json:"queued"`
	Total         int64              `json:"total"`
	Logs          []storage.LogEntry `json:"logs"`
	UpdatedAt     time.Time          `json:"updated_at"`
	Completed     bool               `json:"completed"`
}

// Done returns found + not found
func (s Snapshot) Done() int64 {
	return s.FoundCount + s.NotFoundCount
}

// Percent returns completion in the range 0..100
func (s Snapshot) Percent() float64 {
	if s.Total == 0 {
		if s.Completed {
			return 100
		}
		return 0
	}
	return float64(s.Done()) * 100 / float64(s.Total)
}

// Tracker holds the current snapshot. Many readers may hold it at once; the
// aggregator is the only writer.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot

	once sync.Once
	done chan struct{}
}

// NewTracker returns an empty tracker for scanID
func NewTracker(scanID string) *Tracker {
	return &Tracker{
		snap: Snapshot{ScanID: scanID},
		done: make(chan struct{}),
	}
}

// Snapshot returns a copy safe to use without holding the lock
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s := t.snap
	s.Found = append([]storage.Result(nil), t.snap.Found...)
	s.Logs = append([]storage.LogEntry(nil), t.snap.Logs...)
	return s
}

// Done is closed once the scan has completed
func (t *Tracker) Done() <-chan struct{} {
	return t.done
}

func (t *Tracker) publish(s Snapshot) {
	t.mu.Lock()
	s.ScanID = t.snap.ScanID
	s.Completed = t.snap.Completed
	t.snap = s
	t.mu.Unlock()
}

func (t *Tracker) setLogs(logs []storage.LogEntry) {
	t.mu.Lock()
	t.snap.Logs = logs
	t.snap.UpdatedAt = time.Now()
	t.mu.Unlock()
}

func (t *Tracker) markCompleted() {
	t.mu.Lock()
	t.snap.Completed = true
	t.mu.Unlock()
	t.once.Do(func() { close(t.done) })
}
