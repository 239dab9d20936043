// Package worker drains a scan queue with a fixed number of concurrent
// loops, probing each claimed candidate and persisting its outcome.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rootsploit/voyage/internal/control"
	"github.com/rootsploit/voyage/internal/logger"
	"github.com/rootsploit/voyage/internal/metrics"
	"github.com/rootsploit/voyage/internal/queue"
	"github.com/rootsploit/voyage/internal/storage"
	"github.com/rootsploit/voyage/internal/technique"
)

// minIdlePoll bounds how fast an idle worker re-polls the queue while paused
// or contended, so a zero interval does not spin on the database.
const minIdlePoll = 50 * time.Millisecond

// Scanner probes one host
type Scanner interface {
	Scan(ctx context.Context, target string) technique.Outcome
}

// Config controls pool behaviour
type Config struct {
	// Size is the number of concurrent workers
	Size int
	// Interval is slept before every claim attempt, per worker
	Interval time.Duration
	// MaxRetries bounds how often a candidate that failed with a warn or
	// error negative is requeued. Zero completes every candidate on its
	// first attempt.
	MaxRetries int
}

// Validate checks the configuration
func (c Config) Validate() error {
	if c.Size < 1 {
		return fmt.Errorf("pool size must be at least 1, got %d", c.Size)
	}
	if c.Interval < 0 {
		return errors.New("interval cannot be negative")
	}
	if c.MaxRetries < 0 {
		return errors.New("max retries cannot be negative")
	}
	return nil
}

// Pool runs Size workers against one queue. Workers share only the queue,
// the pause flag and immutable configuration.
type Pool struct {
	config  Config
	queue   *queue.Queue
	pause   *control.Pause
	scanner Scanner
	scanLog *storage.ScanLogger
	metrics *metrics.Metrics
	logger  logger.Logger

	running atomic.Int32

	// Stats
	processed atomic.Int64
	found     atomic.Int64
	requeued  atomic.Int64
}

// Deps are the collaborators a pool needs. Metrics and Logger are optional.
type Deps struct {
	Queue   *queue.Queue
	Pause   *control.Pause
	Scanner Scanner
	ScanLog *storage.ScanLogger
	Metrics *metrics.Metrics
	Logger  logger.Logger
}

// NewPool creates a pool
func NewPool(cfg Config, deps Deps) (*Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if deps.Queue == nil || deps.Scanner == nil || deps.ScanLog == nil {
		return nil, errors.New("queue, scanner and scan log are required")
	}
	if deps.Pause == nil {
		deps.Pause = control.NewPause()
	}
	if deps.Logger == nil {
		deps.Logger = logger.NewNop()
	}
	return &Pool{
		config:  cfg,
		queue:   deps.Queue,
		pause:   deps.Pause,
		scanner: deps.Scanner,
		scanLog: deps.ScanLog,
		metrics: deps.Metrics,
		logger:  deps.Logger,
	}, nil
}

// Run starts every worker and blocks until all of them exit: on queue
// exhaustion, or when ctx is cancelled.
func (p *Pool) Run(ctx context.Context) {
	p.logger.Info("worker pool started", logger.Int("pool_size", p.config.Size))

	var wg sync.WaitGroup
	for i := range p.config.Size {
		w := &Worker{id: i, pool: p}
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Run(ctx)
		}()
	}
	wg.Wait()

	p.logger.Info("worker pool stopped",
		logger.Int64("processed", p.processed.Load()),
		logger.Int64("found", p.found.Load()),
	)
}

// Running returns the number of live workers
func (p *Pool) Running() int {
	return int(p.running.Load())
}

// Stats reports processed, found and requeued totals for this pool
func (p *Pool) Stats() (processed, found, requeued int64) {
	return p.processed.Load(), p.found.Load(), p.requeued.Load()
}

// sleep waits for d or until ctx is done, reporting whether to continue
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
