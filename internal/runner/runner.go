// Package runner drives a scan through its lifecycle: it resolves the scan
// for a configuration, performs the one-time setup steps, recovers halted
// work and then runs the worker pool and progress aggregator together.
package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rootsploit/voyage/internal/config"
	"github.com/rootsploit/voyage/internal/control"
	"github.com/rootsploit/voyage/internal/export"
	"github.com/rootsploit/voyage/internal/logger"
	"github.com/rootsploit/voyage/internal/metrics"
	"github.com/rootsploit/voyage/internal/progress"
	"github.com/rootsploit/voyage/internal/queue"
	"github.com/rootsploit/voyage/internal/storage"
	"github.com/rootsploit/voyage/internal/wordlist"
	"github.com/rootsploit/voyage/internal/worker"
)

// PassiveEnumerator returns the labels known for domain mapped to the source
// that reported them, plus per-source failures.
type PassiveEnumerator interface {
	Enumerate(ctx context.Context, domain string) (map[string]string, map[string]error)
}

// Observer watches a running scan. Observe returns when the user quits or
// the scan completes.
type Observer interface {
	Observe(ctx context.Context, tracker *progress.Tracker, pause *control.Pause) error
}

// Options carries the collaborators of a Runner. Store, Scanner and (when
// passive enumeration is enabled) Passive are required.
type Options struct {
	Store    *storage.Store
	Scanner  worker.Scanner
	Passive  PassiveEnumerator
	Logger   logger.Logger
	Metrics  *metrics.Metrics
	Pause    *control.Pause
	Reporter StepReporter

	// RefreshInterval overrides the progress refresh period
	RefreshInterval time.Duration
}

// Runner executes one scan
type Runner struct {
	cfg      *config.Config
	store    *storage.Store
	scanner  worker.Scanner
	passive  PassiveEnumerator
	logger   logger.Logger
	metrics  *metrics.Metrics
	pause    *control.Pause
	reporter StepReporter
	refresh  time.Duration

	scan    *storage.Scan
	scanLog *storage.ScanLogger
	tracker *progress.Tracker
}

// New validates cfg and builds a runner
func New(cfg *config.Config, opts Options) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts.Store == nil || opts.Scanner == nil {
		return nil, errors.New("store and scanner are required")
	}
	if cfg.PassiveEnabled && opts.Passive == nil {
		return nil, errors.New("passive enumeration enabled without a passive enumerator")
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewNop()
	}
	if opts.Pause == nil {
		opts.Pause = control.NewPause()
	}
	if opts.Reporter == nil {
		opts.Reporter = nopReporter{}
	}
	return &Runner{
		cfg:      cfg,
		store:    opts.Store,
		scanner:  opts.Scanner,
		passive:  opts.Passive,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		pause:    opts.Pause,
		reporter: opts.Reporter,
		refresh:  opts.RefreshInterval,
	}, nil
}

// Scan returns the prepared scan, or nil before Prepare
func (r *Runner) Scan() *storage.Scan { return r.scan }

// Tracker returns the progress tracker, or nil before Prepare
func (r *Runner) Tracker() *progress.Tracker { return r.tracker }

// Pause returns the shared pause flag
func (r *Runner) Pause() *control.Pause { return r.pause }

// Prepare resolves the scan for the configuration and runs every setup
// step its status has not yet passed. Any failure is fatal.
func (r *Runner) Prepare(ctx context.Context) (*storage.Scan, error) {
	var wordlistHash string
	if r.cfg.ActiveEnabled {
		h, err := wordlist.Hash(r.cfg.WordlistPath)
		if err != nil {
			return nil, err
		}
		wordlistHash = h
	}
	fp := r.cfg.Fingerprint(wordlistHash)
	hash, err := ConfigHash(fp)
	if err != nil {
		return nil, err
	}

	scan, err := r.resolveScan(ctx, hash, fp)
	if err != nil {
		return nil, err
	}
	r.scan = scan
	r.scanLog = storage.NewScanLogger(r.store, scan.ID, storage.ParseLevel(r.cfg.LogLevel), r.logger)
	r.tracker = progress.NewTracker(scan.ID)

	if err := r.createQueue(ctx); err != nil {
		return nil, err
	}
	if err := r.populatePassive(ctx); err != nil {
		return nil, err
	}
	if err := r.populateWordlist(ctx); err != nil {
		return nil, err
	}
	return r.scan, nil
}

// resolveScan finds the scan for hash, creating it on first use and
// resetting it on a fresh start.
func (r *Runner) resolveScan(ctx context.Context, hash string, fp config.Fingerprint) (*storage.Scan, error) {
	scan, err := r.store.FindScanByHash(ctx, hash)
	switch {
	case err == nil:
		log := storage.NewScanLogger(r.store, scan.ID, storage.ParseLevel(r.cfg.LogLevel), r.logger)
		if !r.cfg.FreshStart {
			log.Info(ctx, "Scan %s already exists", scan.ID)
			r.reporter.Step("Resume scan "+scan.ID, StepCompleted, string(scan.Status))
			return scan, nil
		}
		if err := r.store.ResetScan(ctx, scan.ID); err != nil {
			return nil, fmt.Errorf("failed to reset scan %s: %w", scan.ID, err)
		}
		log.Info(ctx, "Scan %s set to fresh start", scan.ID)
		r.reporter.Step("Fresh start "+scan.ID, StepCompleted, "")
		scan.Status = storage.StatusScanCreated
		return scan, nil

	case errors.Is(err, storage.ErrScanNotFound):
		snap, err := configSnapshot(r.cfg, fp)
		if err != nil {
			return nil, err
		}
		scan, err := r.store.CreateScan(ctx, hash, snap)
		if storage.IsUniqueViolation(err) {
			// Another process created it first
			return r.store.FindScanByHash(ctx, hash)
		}
		if err != nil {
			return nil, err
		}
		log := storage.NewScanLogger(r.store, scan.ID, storage.ParseLevel(r.cfg.LogLevel), r.logger)
		log.Info(ctx, "Scan created with id: %s", scan.ID)
		r.reporter.Step("Create scan "+scan.ID, StepCompleted, "")
		return scan, nil

	default:
		return nil, err
	}
}

// advance persists a lifecycle transition
func (r *Runner) advance(ctx context.Context, status storage.ScanStatus) error {
	if err := r.store.UpdateScanStatus(ctx, r.scan.ID, status); err != nil {
		return fmt.Errorf("failed to persist scan status %s: %w", status, err)
	}
	r.scan.Status = status
	r.logger.Debug("scan status advanced",
		logger.String("scan_id", r.scan.ID),
		logger.String("status", string(status)),
	)
	return nil
}

// createQueue always ensures the queue table exists; only the first call
// advances the status.
func (r *Runner) createQueue(ctx context.Context) error {
	const step = "Create workload table"
	if err := r.store.CreateQueue(ctx, r.scan.ID); err != nil {
		r.reporter.Step(step, StepFailed, err.Error())
		return err
	}
	if !before(r.scan.Status, storage.StatusWorkloadTableCreated) {
		return nil
	}
	r.scanLog.Info(ctx, "Workload table created")
	r.reporter.Step(step, StepCompleted, "")
	return r.advance(ctx, storage.StatusWorkloadTableCreated)
}

func (r *Runner) populatePassive(ctx context.Context) error {
	if !before(r.scan.Status, storage.StatusPassiveResultsPopulated) {
		return nil
	}
	const step = "Passive enumeration"
	if !r.cfg.PassiveEnabled {
		r.reporter.Step(step, StepSkipped, "disabled")
		return nil
	}

	r.reporter.Step(step, StepRunning, "")
	var total int64
	for _, domain := range r.cfg.Domains {
		found, errs := r.passive.Enumerate(ctx, domain)
		if err := ctx.Err(); err != nil {
			return err
		}
		for source, err := range errs {
			r.metrics.SourceFailed(source)
			r.scanLog.Warn(ctx, "Passive source %s failed for %s: %v", source, domain, err)
		}
		n, err := r.store.InsertPassive(ctx, r.scan.ID, domain, found)
		if err != nil {
			r.reporter.Step(step, StepFailed, err.Error())
			return err
		}
		total += n
		r.scanLog.Info(ctx, "Passive results populated for domain: %s (%d found)", domain, len(found))
	}
	r.reporter.Step(step, StepCompleted, fmt.Sprintf("%d subdomains", total))
	return r.advance(ctx, storage.StatusPassiveResultsPopulated)
}

func (r *Runner) populateWordlist(ctx context.Context) error {
	if !before(r.scan.Status, storage.StatusBasicWorkloadPopulated) {
		return nil
	}
	const step = "Populate wordlist workload"
	if !r.cfg.ActiveEnabled {
		r.reporter.Step(step, StepSkipped, "active enumeration disabled")
		r.scanLog.Info(ctx, "Active enumeration disabled, no wordlist workload")
		return r.advance(ctx, storage.StatusBasicWorkloadPopulated)
	}

	r.reporter.Step(step, StepRunning, "")
	labels, err := wordlist.Read(r.cfg.WordlistPath)
	if err != nil {
		r.reporter.Step(step, StepFailed, err.Error())
		return err
	}
	var total int64
	for _, domain := range r.cfg.Domains {
		n, err := r.store.InsertWordlist(ctx, r.scan.ID, domain, labels)
		if err != nil {
			r.reporter.Step(step, StepFailed, err.Error())
			return err
		}
		total += n
		r.scanLog.Info(ctx, "Basic workload populated for domain: %s", domain)
	}
	r.reporter.Step(step, StepCompleted, fmt.Sprintf("%d candidates", total))
	return r.advance(ctx, storage.StatusBasicWorkloadPopulated)
}

// Run recovers halted candidates, then runs the worker pool and progress
// aggregator until the queue is drained or ctx is cancelled. When obs is
// non-nil it observes the scan; quitting it stops the workers only if
// StopWorkersOnQuit is set.
func (r *Runner) Run(ctx context.Context, obs Observer) error {
	if r.scan == nil {
		return errors.New("scan not prepared")
	}

	q := queue.New(r.store, r.scan.ID, r.cfg.BatchSize)
	recovered, err := q.Recover(ctx)
	if err != nil {
		return fmt.Errorf("failed to recover halted candidates: %w", err)
	}
	if recovered > 0 {
		r.metrics.Recovered(recovered)
		r.scanLog.Info(ctx, "Recovered %d halted candidates", recovered)
	}
	if err := r.advance(ctx, storage.StatusRunning); err != nil {
		return err
	}

	pool, err := worker.NewPool(worker.Config{
		Size:       r.cfg.Workers,
		Interval:   r.cfg.Interval,
		MaxRetries: r.cfg.MaxRetries,
	}, worker.Deps{
		Queue:   q,
		Pause:   r.pause,
		Scanner: r.scanner,
		ScanLog: r.scanLog,
		Metrics: r.metrics,
		Logger:  r.logger.With(logger.String("scan_id", r.scan.ID)),
	})
	if err != nil {
		return err
	}

	agg := &progress.Aggregator{
		Store:           r.store,
		ScanID:          r.scan.ID,
		Tracker:         r.tracker,
		RefreshInterval: r.refresh,
		LogLevel:        storage.ParseLevel(r.cfg.LogLevel),
		OnComplete:      r.complete,
		Log:             r.scanLog,
	}

	workCtx, stopWork := context.WithCancel(ctx)
	defer stopWork()

	var wg sync.WaitGroup
	aggErr := make(chan error, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		aggErr <- agg.Run(workCtx)
	}()

	if obs != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := obs.Observe(workCtx, r.tracker, r.pause); err != nil {
				r.logger.Error("observer failed", logger.Err(err))
			}
			select {
			case <-r.tracker.Done():
			case <-workCtx.Done():
			default:
				if r.cfg.StopWorkersOnQuit {
					r.scanLog.Info(ctx, "Observer closed, stopping workers")
					stopWork()
				} else {
					r.scanLog.Info(ctx, "Observer closed, workers continue until the queue is exhausted")
				}
			}
		}()
	}

	pool.Run(workCtx)

	if workCtx.Err() == nil {
		// Queue exhausted; let the aggregator observe completion
		select {
		case <-r.tracker.Done():
		case <-workCtx.Done():
		}
	}
	stopWork()
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := <-aggErr; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// complete is the one-shot completion hook: export, then mark the scan done
func (r *Runner) complete(ctx context.Context) error {
	ctx = context.WithoutCancel(ctx)
	snap := r.tracker.Snapshot()
	r.scanLog.Info(ctx, "Scan completed: %d found, %d not found, %d total",
		snap.FoundCount, snap.NotFoundCount, snap.Total)

	var exportErr error
	if r.cfg.OutputPath != "" {
		format, err := export.ParseFormat(r.cfg.OutputFormat)
		if err == nil {
			var n int
			n, err = export.ToFile(ctx, r.store, r.scan.ID, r.cfg.OutputPath, format)
			if err == nil {
				r.scanLog.Info(ctx, "Exported %d results to %s", n, r.cfg.OutputPath)
			}
		}
		exportErr = err
	}

	if err := r.advance(ctx, storage.StatusCompleted); err != nil {
		return errors.Join(exportErr, err)
	}
	return exportErr
}
