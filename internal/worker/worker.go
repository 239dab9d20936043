package worker

import (
	"context"

	"github.com/rootsploit/voyage/internal/logger"
	"github.com/rootsploit/voyage/internal/queue"
	"github.com/rootsploit/voyage/internal/storage"
	"github.com/rootsploit/voyage/internal/technique"
)

// Worker is one claim/probe/complete loop
type Worker struct {
	id   int
	pool *Pool
}

// Run loops until the queue is exhausted or ctx is cancelled
func (w *Worker) Run(ctx context.Context) {
	p := w.pool
	p.running.Add(1)
	p.metrics.WorkerStarted()
	defer func() {
		p.running.Add(-1)
		p.metrics.WorkerStopped()
	}()
	log := p.logger.With(logger.Int("worker", w.id))

	idle := max(p.config.Interval, minIdlePoll)
	for {
		if !sleep(ctx, p.config.Interval) {
			return
		}
		if p.pause.Paused() {
			if !sleep(ctx, idle-p.config.Interval) {
				return
			}
			continue
		}

		items, state, err := p.queue.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.scanLog.Error(ctx, "Failed to claim candidates: %v", err)
			if !sleep(ctx, idle) {
				return
			}
			continue
		}

		switch state {
		case queue.Exhausted:
			log.Debug("queue exhausted")
			return
		case queue.Contended:
			p.metrics.Contended()
			if !sleep(ctx, idle-p.config.Interval) {
				return
			}
			continue
		}

		p.metrics.Claimed(len(items))
		for i, item := range items {
			if p.pause.Paused() || ctx.Err() != nil {
				w.release(ctx, items[i:])
				break
			}
			w.process(ctx, item)
		}
	}
}

// process runs the active scan for one claimed candidate and persists the
// outcome. Writes use a context that survives cancellation so a finished
// probe is never lost.
func (w *Worker) process(ctx context.Context, item storage.Candidate) {
	p := w.pool
	target := item.FQDN()

	out := p.scanner.Scan(ctx, target)
	if ctx.Err() != nil && !out.Found {
		// Probes were cut short; the result says nothing about the host
		w.release(ctx, []storage.Candidate{item})
		return
	}

	persist := context.WithoutCancel(ctx)
	for _, n := range out.Negatives {
		p.scanLog.Log(persist, n.Level, "%s", n.Description)
	}

	if !out.Found && retryable(out) && item.Retries < p.config.MaxRetries {
		if err := p.queue.Requeue(persist, item.ID); err != nil {
			p.scanLog.Error(persist, "Failed to requeue %s: %v", target, err)
			return
		}
		p.requeued.Add(1)
		p.metrics.Requeued()
		p.scanLog.Debug(persist, "Requeued %s (attempt %d of %d)", target, item.Retries+1, p.config.MaxRetries+1)
		return
	}

	if out.Found {
		p.scanLog.Info(persist, "Found: %s", target)
	}
	if err := p.queue.Complete(persist, item.ID, out.Found, out.Source); err != nil {
		p.scanLog.Error(persist, "Failed to update status of %s: %v", target, err)
		return
	}
	p.processed.Add(1)
	if out.Found {
		p.found.Add(1)
	}
	p.metrics.Resolved(out.Found)
}

func (w *Worker) release(ctx context.Context, items []storage.Candidate) {
	p := w.pool
	if _, err := p.queue.Release(context.WithoutCancel(ctx), items); err != nil {
		p.scanLog.Error(ctx, "Failed to release %d claimed candidates: %v", len(items), err)
	}
}

// retryable reports whether a failed outcome may be transient: at least one
// negative was a timeout or an unexpected error rather than a clean absence.
func retryable(out technique.Outcome) bool {
	for _, n := range out.Negatives {
		if n.Level.AtLeast(storage.LevelWarn) {
			return true
		}
	}
	return false
}
