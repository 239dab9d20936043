// Package observer renders a running scan for the user and forwards pause
// and quit requests.
package observer

import (
	"context"

	"github.com/rootsploit/voyage/internal/control"
	"github.com/rootsploit/voyage/internal/progress"
)

// None waits silently for the scan to finish
type None struct{}

// Observe blocks until the scan completes or ctx is cancelled
func (None) Observe(ctx context.Context, tracker *progress.Tracker, _ *control.Pause) error {
	select {
	case <-tracker.Done():
	case <-ctx.Done():
	}
	return nil
}
