package worker

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rootsploit/voyage/internal/control"
	"github.com/rootsploit/voyage/internal/queue"
	"github.com/rootsploit/voyage/internal/storage"
	"github.com/rootsploit/voyage/internal/technique"
)

// fakeScanner answers from a script and counts calls per target
type fakeScanner struct {
	mu     sync.Mutex
	calls  map[string]int
	script func(target string, attempt int) technique.Outcome
	block  map[string]chan struct{}
	start  chan string
}

func newFakeScanner(script func(string, int) technique.Outcome) *fakeScanner {
	return &fakeScanner{calls: map[string]int{}, script: script, block: map[string]chan struct{}{}, start: make(chan string, 16)}
}

func (f *fakeScanner) Scan(ctx context.Context, target string) technique.Outcome {
	f.mu.Lock()
	f.calls[target]++
	attempt := f.calls[target]
	gate := f.block[target]
	f.mu.Unlock()

	if gate != nil {
		f.start <- target
		select {
		case <-gate:
		case <-ctx.Done():
			return technique.Outcome{Negatives: []technique.Negative{{Level: storage.LevelWarn, Description: "cancelled"}}}
		}
	}
	return f.script(target, attempt)
}

func (f *fakeScanner) count(target string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[target]
}

func wwwOnly(target string, _ int) technique.Outcome {
	if target == "www.example.com" {
		return technique.Outcome{Found: true, Source: technique.IPv4Lookup}
	}
	return technique.Outcome{Negatives: []technique.Negative{
		{Level: storage.LevelInfo, Description: "No IPv4 addresses found for " + target},
	}}
}

type fixture struct {
	store  *storage.Store
	scanID string
	queue  *queue.Queue
	pause  *control.Pause
	log    *storage.ScanLogger
}

func newFixture(t *testing.T, batch int, labels ...string) *fixture {
	t.Helper()
	ctx := context.Background()
	store, err := storage.Open(ctx, filepath.Join(t.TempDir(), "voyage.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	scan, err := store.CreateScan(ctx, "hash", "{}")
	require.NoError(t, err)
	require.NoError(t, store.CreateQueue(ctx, scan.ID))
	_, err = store.InsertWordlist(ctx, scan.ID, "example.com", labels)
	require.NoError(t, err)

	return &fixture{
		store:  store,
		scanID: scan.ID,
		queue:  queue.New(store, scan.ID, batch),
		pause:  control.NewPause(),
		log:    storage.NewScanLogger(store, scan.ID, storage.LevelDebug, nil),
	}
}

func (f *fixture) pool(t *testing.T, cfg Config, s Scanner) *Pool {
	t.Helper()
	p, err := NewPool(cfg, Deps{Queue: f.queue, Pause: f.pause, Scanner: s, ScanLog: f.log})
	require.NoError(t, err)
	return p
}

func (f *fixture) counts(t *testing.T) storage.Counts {
	t.Helper()
	c, err := f.store.Counts(context.Background(), f.scanID)
	require.NoError(t, err)
	return c
}

func runAsync(ctx context.Context, p *Pool) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()
	return done
}

func waitFor(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("pool did not stop")
	}
}

func TestPoolDrainsQueue(t *testing.T) {
	f := newFixture(t, 1, "www", "mail")
	scanner := newFakeScanner(wwwOnly)
	p := f.pool(t, Config{Size: 3}, scanner)

	p.Run(context.Background())

	c := f.counts(t)
	assert.Equal(t, storage.Counts{Found: 1, NotFound: 1, Total: 2}, c)
	assert.Equal(t, 1, scanner.count("www.example.com"))
	assert.Equal(t, 1, scanner.count("mail.example.com"))
	assert.Zero(t, p.Running())

	processed, found, requeued := p.Stats()
	assert.EqualValues(t, 2, processed)
	assert.EqualValues(t, 1, found)
	assert.Zero(t, requeued)

	results, err := f.store.FoundResults(context.Background(), f.scanID)
	require.NoError(t, err)
	assert.Equal(t, []storage.Result{{Subdomain: "www", Domain: "example.com", Source: technique.IPv4Lookup}}, results)

	logs, err := f.store.RecentLogs(context.Background(), f.scanID, storage.LevelInfo, 10)
	require.NoError(t, err)
	var descriptions []string
	for _, l := range logs {
		descriptions = append(descriptions, l.Description)
	}
	assert.Contains(t, descriptions, "Found: www.example.com")
	assert.Contains(t, descriptions, "No IPv4 addresses found for mail.example.com")
}

func TestPauseStopsNewClaimsOnly(t *testing.T) {
	f := newFixture(t, 1, "a", "b", "c")
	scanner := newFakeScanner(wwwOnly)
	gate := make(chan struct{})
	scanner.block["a.example.com"] = gate
	p := f.pool(t, Config{Size: 1, Interval: 5 * time.Millisecond}, scanner)

	done := runAsync(context.Background(), p)

	require.Equal(t, "a.example.com", <-scanner.start)
	f.pause.Pause()
	close(gate)

	require.Eventually(t, func() bool { return f.counts(t).NotFound == 1 }, 5*time.Second, 5*time.Millisecond,
		"in-flight item finishes while paused")
	time.Sleep(150 * time.Millisecond)
	c := f.counts(t)
	assert.EqualValues(t, 2, c.Queued, "no claims while paused")
	assert.Zero(t, c.Scanning)

	f.pause.Resume()
	waitFor(t, done)

	assert.Equal(t, storage.Counts{NotFound: 3, Total: 3}, f.counts(t))
	assert.Equal(t, 1, scanner.count("a.example.com"), "finished items are not requeued")
}

func TestPauseReleasesRestOfBatch(t *testing.T) {
	f := newFixture(t, 3, "a", "b", "c")
	scanner := newFakeScanner(wwwOnly)
	gate := make(chan struct{})
	scanner.block["a.example.com"] = gate
	p := f.pool(t, Config{Size: 1}, scanner)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := runAsync(ctx, p)

	<-scanner.start
	f.pause.Pause()
	close(gate)

	require.Eventually(t, func() bool {
		c := f.counts(t)
		return c.NotFound == 1 && c.Queued == 2 && c.Scanning == 0
	}, 5*time.Second, 5*time.Millisecond)

	cancel()
	waitFor(t, done)
	assert.Zero(t, scanner.count("b.example.com"))
}

func TestBoundedRetry(t *testing.T) {
	f := newFixture(t, 1, "flaky", "gone", "down")
	scanner := newFakeScanner(func(target string, attempt int) technique.Outcome {
		switch target {
		case "flaky.example.com":
			if attempt > 1 {
				return technique.Outcome{Found: true, Source: technique.HTTPSProbing}
			}
			return technique.Outcome{Negatives: []technique.Negative{{Level: storage.LevelWarn, Description: "timeout"}}}
		case "down.example.com":
			return technique.Outcome{Negatives: []technique.Negative{{Level: storage.LevelError, Description: "refused"}}}
		default:
			return technique.Outcome{Negatives: []technique.Negative{{Level: storage.LevelInfo, Description: "no records"}}}
		}
	})
	p := f.pool(t, Config{Size: 2, MaxRetries: 1}, scanner)

	p.Run(context.Background())

	assert.Equal(t, 2, scanner.count("flaky.example.com"))
	assert.Equal(t, 1, scanner.count("gone.example.com"), "clean absence is final")
	assert.Equal(t, 2, scanner.count("down.example.com"), "retries are bounded")
	assert.Equal(t, storage.Counts{Found: 1, NotFound: 2, Total: 3}, f.counts(t))

	_, _, requeued := p.Stats()
	assert.EqualValues(t, 2, requeued)
}

func TestCancelReleasesInFlightItem(t *testing.T) {
	f := newFixture(t, 1, "a", "b")
	scanner := newFakeScanner(wwwOnly)
	scanner.block["a.example.com"] = make(chan struct{})
	p := f.pool(t, Config{Size: 1}, scanner)

	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(ctx, p)
	<-scanner.start
	cancel()
	waitFor(t, done)

	assert.Equal(t, storage.Counts{Queued: 2, Total: 2}, f.counts(t))
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, Config{Size: 1}.Validate())
	assert.Error(t, Config{}.Validate())
	assert.Error(t, Config{Size: 1, Interval: -time.Second}.Validate())
	assert.Error(t, Config{Size: 1, MaxRetries: -1}.Validate())

	_, err := NewPool(Config{Size: 1}, Deps{})
	assert.Error(t, err)
}
