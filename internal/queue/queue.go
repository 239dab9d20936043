// Package queue implements the claim protocol workers use to drain a scan's
// candidate table.
package queue

import (
	"context"
	"fmt"

	"github.com/rootsploit/voyage/internal/storage"
)

// State describes the outcome of a claim attempt
type State int

const (
	// Claimed means at least one candidate was handed to the caller
	Claimed State = iota
	// Contended means nothing is queued but peers still hold scanning items
	Contended
	// Exhausted means every candidate reached a terminal status
	Exhausted
)

func (s State) String() string {
	switch s {
	case Claimed:
		return "claimed"
	case Contended:
		return "contended"
	case Exhausted:
		return "exhausted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Queue is a per-scan view over the candidate table. It holds no queue
// state in memory; any number of workers may share one.
type Queue struct {
	store     *storage.Store
	scanID    string
	batchSize int
}

// New returns a queue for scanID claiming batchSize items at a time
func New(store *storage.Store, scanID string, batchSize int) *Queue {
	if batchSize < 1 {
		batchSize = 1
	}
	return &Queue{store: store, scanID: scanID, batchSize: batchSize}
}

// ScanID returns the scan this queue drains
func (q *Queue) ScanID() string {
	return q.scanID
}

// Next claims the next batch of queued candidates
func (q *Queue) Next(ctx context.Context) ([]storage.Candidate, State, error) {
	items, err := q.store.ClaimNext(ctx, q.scanID, q.batchSize)
	if err != nil {
		return nil, Contended, err
	}
	if len(items) > 0 {
		return items, Claimed, nil
	}

	scanning, err := q.store.CountByStatus(ctx, q.scanID, storage.CandidateScanning)
	if err != nil {
		return nil, Contended, err
	}
	if scanning > 0 {
		return nil, Contended, nil
	}
	return nil, Exhausted, nil
}

// Complete records the terminal outcome of a claimed candidate
func (q *Queue) Complete(ctx context.Context, id int64, found bool, source string) error {
	status := storage.CandidateNotFound
	if found {
		status = storage.CandidateFound
	}
	return q.store.Complete(ctx, q.scanID, id, status, source)
}

// Release returns claimed but unprocessed candidates to the queue
func (q *Queue) Release(ctx context.Context, items []storage.Candidate) (int64, error) {
	ids := make([]int64, len(items))
	for i, c := range items {
		ids[i] = c.ID
	}
	return q.store.Release(ctx, q.scanID, ids)
}

// Requeue schedules another attempt for a claimed candidate
func (q *Queue) Requeue(ctx context.Context, id int64) error {
	return q.store.Requeue(ctx, q.scanID, id)
}

// Recover resets candidates left scanning by a previous process. It must
// run before any worker claims from this queue.
func (q *Queue) Recover(ctx context.Context) (int64, error) {
	return q.store.ResetHalted(ctx, q.scanID)
}
