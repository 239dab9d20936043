package progress

import (
	"context"
	"time"

	"github.com/rootsploit/voyage/internal/storage"
)

// Defaults for the aggregator cadence and log window
const (
	DefaultRefreshInterval = time.Second
	DefaultLogWindow       = 100
)

// Aggregator periodically rebuilds a Tracker's snapshot from storage
type Aggregator struct {
	Store   *storage.Store
	ScanID  string
	Tracker *Tracker

	// RefreshInterval defaults to DefaultRefreshInterval
	RefreshInterval time.Duration
	// LogWindow bounds the number of log entries kept, newest first
	LogWindow int
	// LogLevel is the minimum level shown in the window
	LogLevel storage.Level
	// OnComplete runs once, after the refresh that observes completion
	OnComplete func(ctx context.Context) error
	// Log receives refresh and completion failures
	Log *storage.ScanLogger
}

// Run refreshes until the scan completes or ctx is cancelled. Refresh
// failures are logged and retried on the next tick.
func (a *Aggregator) Run(ctx context.Context) error {
	interval := a.RefreshInterval
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		done, err := a.Refresh(ctx)
		switch {
		case err != nil && ctx.Err() == nil:
			a.logError(ctx, "Progress refresh failed: %v", err)
		case done:
			a.complete(ctx)
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Refresh rebuilds the snapshot once and reports whether every candidate
// has reached a terminal status.
func (a *Aggregator) Refresh(ctx context.Context) (bool, error) {
	counts, err := a.Store.Counts(ctx, a.ScanID)
	if err != nil {
		return false, err
	}
	found, err := a.Store.FoundResults(ctx, a.ScanID)
	if err != nil {
		return false, err
	}
	logs, err := a.recentLogs(ctx)
	if err != nil {
		return false, err
	}

	a.Tracker.publish(Snapshot{
		Found:         found,
		FoundCount:    counts.Found,
		NotFoundCount: counts.NotFound,
		Scanning:      counts.Scanning,
		Queued:        counts.Queued,
		Total:         counts.Total,
		Logs:          logs,
		UpdatedAt:     time.Now(),
	})
	return counts.Done(), nil
}

func (a *Aggregator) complete(ctx context.Context) {
	if a.OnComplete != nil {
		if err := a.OnComplete(ctx); err != nil {
			a.logError(ctx, "Completion handler failed: %v", err)
		}
	}
	// Pick up anything the completion handler logged
	if logs, err := a.recentLogs(ctx); err == nil {
		a.Tracker.setLogs(logs)
	}
	a.Tracker.markCompleted()
}

func (a *Aggregator) recentLogs(ctx context.Context) ([]storage.LogEntry, error) {
	window := a.LogWindow
	if window <= 0 {
		window = DefaultLogWindow
	}
	level := a.LogLevel
	if level == "" {
		level = storage.LevelDebug
	}
	return a.Store.RecentLogs(ctx, a.ScanID, level, window)
}

func (a *Aggregator) logError(ctx context.Context, format string, args ...any) {
	if a.Log != nil {
		a.Log.Error(ctx, format, args...)
	}
}
