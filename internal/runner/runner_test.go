package runner

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rootsploit/voyage/internal/config"
	"github.com/rootsploit/voyage/internal/control"
	"github.com/rootsploit/voyage/internal/progress"
	"github.com/rootsploit/voyage/internal/storage"
	"github.com/rootsploit/voyage/internal/technique"
	"github.com/rootsploit/voyage/internal/wordlist"
)

type scriptScanner func(ctx context.Context, target string) technique.Outcome

func (f scriptScanner) Scan(ctx context.Context, target string) technique.Outcome { return f(ctx, target) }

func wwwOnly(_ context.Context, target string) technique.Outcome {
	if strings.HasPrefix(target, "www.") {
		return technique.Outcome{Found: true, Source: technique.IPv4Lookup}
	}
	return technique.Outcome{Negatives: []technique.Negative{
		{Level: storage.LevelInfo, Description: "No IPv4 addresses found for " + target},
	}}
}

// blockUntilCancelled never finishes a probe on its own
func blockUntilCancelled(ctx context.Context, _ string) technique.Outcome {
	<-ctx.Done()
	return technique.Outcome{}
}

type fakePassive struct {
	found map[string]string
	errs  map[string]error
}

func (f fakePassive) Enumerate(context.Context, string) (map[string]string, map[string]error) {
	return f.found, f.errs
}

// quitObserver returns as soon as it is started
type quitObserver struct{ called chan struct{} }

func (q quitObserver) Observe(context.Context, *progress.Tracker, *control.Pause) error {
	close(q.called)
	return nil
}

type fixture struct {
	store *storage.Store
	dir   string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.Open(context.Background(), filepath.Join(dir, "voyage.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return &fixture{store: store, dir: dir}
}

func (f *fixture) wordlist(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(f.dir, "words.txt")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func (f *fixture) config(t *testing.T) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Domains = []string{"example.com"}
	cfg.WordlistPath = f.wordlist(t, "www\nmail\n")
	cfg.PassiveEnabled = false
	cfg.Workers = 2
	cfg.Normalize()
	return cfg
}

func (f *fixture) runner(t *testing.T, cfg *config.Config, scanner scriptScanner, passive PassiveEnumerator) *Runner {
	t.Helper()
	r, err := New(cfg, Options{
		Store:           f.store,
		Scanner:         scanner,
		Passive:         passive,
		RefreshInterval: 20 * time.Millisecond,
	})
	require.NoError(t, err)
	return r
}

func TestEndToEndExportsFoundSubdomains(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	cfg := f.config(t)
	cfg.OutputPath = filepath.Join(f.dir, "out.csv")
	cfg.OutputFormat = config.FormatCSV

	r := f.runner(t, cfg, wwwOnly, nil)
	scan, err := r.Prepare(ctx)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusBasicWorkloadPopulated, scan.Status)

	counts, err := f.store.Counts(ctx, scan.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts.Queued)
	assert.Equal(t, int64(2), counts.Total)

	require.NoError(t, r.Run(ctx, nil))

	counts, err = f.store.Counts(ctx, scan.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts.Found)
	assert.Equal(t, int64(1), counts.NotFound)
	assert.Equal(t, int64(2), counts.Total)

	snap := r.Tracker().Snapshot()
	assert.True(t, snap.Completed)
	require.Len(t, snap.Found, 1)
	assert.Equal(t, "www.example.com", snap.Found[0].FQDN())

	stored, err := f.store.GetScan(ctx, scan.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusCompleted, stored.Status)

	data, err := os.ReadFile(cfg.OutputPath)
	require.NoError(t, err)
	assert.Equal(t, "subdomain,domain\nwww,example.com\n", string(data))

	logs, err := f.store.RecentLogs(ctx, scan.ID, storage.LevelDebug, 100)
	require.NoError(t, err)
	var messages []string
	for _, l := range logs {
		messages = append(messages, l.Description)
	}
	assert.Contains(t, messages, "Scan created with id: "+scan.ID)
	assert.Contains(t, messages, "Workload table created")
	assert.Contains(t, messages, "Basic workload populated for domain: example.com")
	assert.Contains(t, messages, "Found: www.example.com")
	assert.Contains(t, messages, "No IPv4 addresses found for mail.example.com")
}

func TestSameConfigurationResumesScan(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	cfg := f.config(t)

	first, err := f.runner(t, cfg, wwwOnly, nil).Prepare(ctx)
	require.NoError(t, err)

	r := f.runner(t, cfg, wwwOnly, nil)
	second, err := r.Prepare(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	// Setup steps are not repeated
	counts, err := f.store.Counts(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts.Total)

	logs, err := f.store.RecentLogs(ctx, first.ID, storage.LevelInfo, 100)
	require.NoError(t, err)
	assert.Equal(t, "Scan "+first.ID+" already exists", logs[0].Description)
}

func TestChangedWordlistStartsNewScan(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	cfg := f.config(t)

	first, err := f.runner(t, cfg, wwwOnly, nil).Prepare(ctx)
	require.NoError(t, err)

	f.wordlist(t, "www\nmail\napi\n")
	second, err := f.runner(t, cfg, wwwOnly, nil).Prepare(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	counts, err := f.store.Counts(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), counts.Total)
}

func TestFreshStartResetsScan(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	cfg := f.config(t)

	r := f.runner(t, cfg, wwwOnly, nil)
	scan, err := r.Prepare(ctx)
	require.NoError(t, err)
	require.NoError(t, r.Run(ctx, nil))

	cfg.FreshStart = true
	again, err := f.runner(t, cfg, wwwOnly, nil).Prepare(ctx)
	require.NoError(t, err)
	assert.Equal(t, scan.ID, again.ID)
	assert.Equal(t, storage.StatusBasicWorkloadPopulated, again.Status)

	counts, err := f.store.Counts(ctx, scan.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts.Queued)
	assert.Zero(t, counts.Found)

	logs, err := f.store.RecentLogs(ctx, scan.ID, storage.LevelInfo, 100)
	require.NoError(t, err)
	var messages []string
	for _, l := range logs {
		messages = append(messages, l.Description)
	}
	assert.Contains(t, messages, "Scan "+scan.ID+" set to fresh start")
}

func TestRunRecoversHaltedCandidates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	cfg := f.config(t)

	scan, err := f.runner(t, cfg, wwwOnly, nil).Prepare(ctx)
	require.NoError(t, err)

	// A previous process claimed both and died
	claimed, err := f.store.ClaimNext(ctx, scan.ID, 2)
	require.NoError(t, err)
	require.Len(t, claimed, 2)

	r := f.runner(t, cfg, wwwOnly, nil)
	_, err = r.Prepare(ctx)
	require.NoError(t, err)
	require.NoError(t, r.Run(ctx, nil))

	counts, err := f.store.Counts(ctx, scan.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts.Found)
	assert.Equal(t, int64(1), counts.NotFound)
	assert.Zero(t, counts.Scanning)
}

func TestPassiveFailureIsNotFatal(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	cfg := f.config(t)
	cfg.PassiveEnabled = true

	passive := fakePassive{
		found: map[string]string{"api": "crt.sh"},
		errs:  map[string]error{"hackertarget": errors.New("connection refused")},
	}
	scan, err := f.runner(t, cfg, wwwOnly, passive).Prepare(ctx)
	require.NoError(t, err)

	counts, err := f.store.Counts(ctx, scan.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts.Found)
	assert.Equal(t, int64(2), counts.Queued)
	assert.Equal(t, int64(3), counts.Total)

	warnings, err := f.store.RecentLogs(ctx, scan.ID, storage.LevelWarn, 10)
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0].Description, "hackertarget")

	results, err := f.store.FoundResults(ctx, scan.ID)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "crt.sh", results[0].Source)
}

func TestEmptyWordlistIsFatal(t *testing.T) {
	f := newFixture(t)
	cfg := f.config(t)
	cfg.WordlistPath = f.wordlist(t, "# nothing here\n\n")

	_, err := f.runner(t, cfg, wwwOnly, nil).Prepare(context.Background())
	assert.ErrorIs(t, err, wordlist.ErrEmpty)
}

func TestQuitLeavesWorkersRunning(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	cfg := f.config(t)

	r := f.runner(t, cfg, wwwOnly, nil)
	_, err := r.Prepare(ctx)
	require.NoError(t, err)

	obs := quitObserver{called: make(chan struct{})}
	require.NoError(t, r.Run(ctx, obs))
	<-obs.called
	assert.True(t, r.Tracker().Snapshot().Completed)
}

func TestQuitStopsWorkersWhenConfigured(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	cfg := f.config(t)
	cfg.StopWorkersOnQuit = true

	r := f.runner(t, cfg, blockUntilCancelled, nil)
	scan, err := r.Prepare(ctx)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- r.Run(ctx, quitObserver{called: make(chan struct{})}) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop after the observer quit")
	}
	assert.False(t, r.Tracker().Snapshot().Completed)

	// Interrupted probes go back to the queue
	counts, err := f.store.Counts(ctx, scan.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts.Queued)

	stored, err := f.store.GetScan(ctx, scan.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusRunning, stored.Status)
}

func TestRunBeforePrepare(t *testing.T) {
	f := newFixture(t)
	r := f.runner(t, f.config(t), wwwOnly, nil)
	assert.Error(t, r.Run(context.Background(), nil))
}

func TestNewRequiresPassiveEnumerator(t *testing.T) {
	f := newFixture(t)
	cfg := f.config(t)
	cfg.PassiveEnabled = true
	_, err := New(cfg, Options{Store: f.store, Scanner: scriptScanner(wwwOnly)})
	assert.Error(t, err)
}

func TestConfigHashIsStable(t *testing.T) {
	fp := config.Fingerprint{Domains: []string{"example.com"}, WordlistHash: "abc", Active: true}
	a, err := ConfigHash(fp)
	require.NoError(t, err)
	b, err := ConfigHash(fp)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 128)

	fp.Passive = true
	c, err := ConfigHash(fp)
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

func TestColorReporterPrintsSteps(t *testing.T) {
	var buf bytes.Buffer
	r := NewColorReporter(&buf)
	r.Step("Create workload table", StepRunning, "")
	r.Step("Create workload table", StepCompleted, "")
	r.Step("Passive enumeration", StepSkipped, "disabled")

	out := buf.String()
	assert.Contains(t, out, "Create workload table")
	assert.Contains(t, out, "Passive enumeration")
	assert.Contains(t, out, "disabled")
}
