package technique

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rootsploit/voyage/internal/config"
	"github.com/rootsploit/voyage/internal/storage"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want storage.Level
	}{
		{"no records", ErrNoRecords, storage.LevelInfo},
		{"wrapped no records", fmt.Errorf("lookup: %w", ErrNoRecords), storage.LevelInfo},
		{"host not found", &net.DNSError{Err: "no such host", Name: "x", IsNotFound: true}, storage.LevelInfo},
		{"deadline", context.DeadlineExceeded, storage.LevelWarn},
		{"net timeout", &url.Error{Op: "Get", URL: "http://x", Err: timeoutErr{}}, storage.LevelWarn},
		{"refused", errors.New("connection refused"), storage.LevelError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

type fakeTechnique struct {
	name    string
	kind    Kind
	ok      bool
	level   storage.Level
	delay   time.Duration
	invoked atomic.Int32
}

func (f *fakeTechnique) Name() string { return f.name }
func (f *fakeTechnique) Kind() Kind   { return f.kind }

func (f *fakeTechnique) Probe(ctx context.Context, target string) []Negative {
	f.invoked.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return []Negative{{Level: storage.LevelWarn, Description: "cancelled"}}
		}
	}
	if f.ok {
		return nil
	}
	return []Negative{{Level: f.level, Description: f.name + " failed for " + target}}
}

func TestScannerDNSSuccessSkipsProtocolProbes(t *testing.T) {
	v4 := &fakeTechnique{name: IPv4Lookup, kind: KindDNS, ok: true}
	probe := &fakeTechnique{name: HTTPProbing, kind: KindProtocol}
	s := NewScanner([]Technique{probe, v4}, nil)

	out := s.Scan(context.Background(), "www.example.com")
	assert.True(t, out.Found)
	assert.Equal(t, IPv4Lookup, out.Source)
	assert.Empty(t, out.Negatives)
	assert.EqualValues(t, 0, probe.invoked.Load())
	assert.Equal(t, []string{IPv4Lookup, HTTPProbing}, s.Techniques())
}

func TestScannerAccumulatesNegatives(t *testing.T) {
	var observed []string
	s := NewScanner([]Technique{
		&fakeTechnique{name: IPv4Lookup, kind: KindDNS, level: storage.LevelInfo},
		&fakeTechnique{name: IPv6Lookup, kind: KindDNS, level: storage.LevelInfo},
		&fakeTechnique{name: HTTPProbing, kind: KindProtocol, level: storage.LevelError},
	}, func(name string, _ time.Duration) { observed = append(observed, name) })

	out := s.Scan(context.Background(), "mail.example.com")
	assert.False(t, out.Found)
	assert.Empty(t, out.Source)
	require.Len(t, out.Negatives, 3)
	assert.Equal(t, storage.LevelError, out.Negatives[2].Level)
	assert.Equal(t, []string{IPv4Lookup, IPv6Lookup, HTTPProbing}, observed)
}

func TestScannerProtocolFirstSuccessWins(t *testing.T) {
	slow := &fakeTechnique{name: HTTPProbing, kind: KindProtocol, delay: 5 * time.Second}
	fast := &fakeTechnique{name: HTTPSProbing, kind: KindProtocol, ok: true}
	s := NewScanner([]Technique{
		&fakeTechnique{name: IPv4Lookup, kind: KindDNS, level: storage.LevelInfo},
		slow, fast,
	}, nil)

	start := time.Now()
	out := s.Scan(context.Background(), "api.example.com")
	assert.True(t, out.Found)
	assert.Equal(t, HTTPSProbing, out.Source)
	assert.Less(t, time.Since(start), 4*time.Second, "slow probe should be cancelled")
	require.Len(t, out.Negatives, 1, "only the DNS negative is kept")
}

func TestEnabledHonoursExclusions(t *testing.T) {
	all := []Technique{
		&fakeTechnique{name: IPv4Lookup},
		&fakeTechnique{name: IPv6Lookup},
		&fakeTechnique{name: HTTPProbing},
	}
	got := Enabled(all, []string{"IPV6_LOOKUP", "unknown"})
	require.Len(t, got, 2)
	assert.Equal(t, IPv4Lookup, got[0].Name())
	assert.Equal(t, HTTPProbing, got[1].Name())
}

func TestBuildRespectsConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Resolvers = []string{"127.0.0.1"}
	cfg.ExcludeTechniques = []string{HTTPProbing, HTTPSProbing}

	s := Build(cfg, nil)
	assert.Equal(t, []string{IPv4Lookup, IPv6Lookup}, s.Techniques())
}

func serverPort(t *testing.T, srv *httptest.Server) int {
	t.Helper()
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return port
}

func closedPort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()
	return port
}

func TestHTTPProbe(t *testing.T) {
	var gotUA atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA.Store(r.UserAgent())
		http.Redirect(w, r, "https://elsewhere.test/", http.StatusFound)
	}))
	defer srv.Close()

	client := NewHTTPClient(2 * time.Second)
	probe := NewHTTPProbe(client, []int{closedPort(t), serverPort(t, srv)}, StaticAgent("voyage/test"))

	negatives := probe.Probe(context.Background(), "127.0.0.1")
	assert.Nil(t, negatives, "any response counts, redirects included")
	assert.Equal(t, "voyage/test", gotUA.Load())
}

func TestHTTPSProbeAcceptsSelfSigned(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	probe := NewHTTPSProbe(NewHTTPClient(2*time.Second), []int{serverPort(t, srv)}, RandomAgent())
	assert.Nil(t, probe.Probe(context.Background(), "127.0.0.1"))
}

func TestHTTPProbeReportsEveryPort(t *testing.T) {
	probe := NewHTTPProbe(NewHTTPClient(time.Second), []int{closedPort(t), closedPort(t)}, nil)
	negatives := probe.Probe(context.Background(), "127.0.0.1")
	require.Len(t, negatives, 2)
	for _, n := range negatives {
		assert.Equal(t, storage.LevelError, n.Level)
		assert.Contains(t, n.Description, "HTTP request failed for 127.0.0.1:")
	}
}

// startDNS serves A records for www.example.com, an empty answer for
// empty.example.com and NXDOMAIN for anything else. Queries for
// slow.example.com are never answered.
func startDNS(t *testing.T) string {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	started := make(chan struct{})
	srv := &dns.Server{
		PacketConn:        pc,
		NotifyStartedFunc: func() { close(started) },
		Handler: dns.HandlerFunc(func(w dns.ResponseWriter, r *dns.Msg) {
			q := r.Question[0]
			m := new(dns.Msg)
			m.SetReply(r)
			switch q.Name {
			case "slow.example.com.":
				return
			case "www.example.com.":
				if q.Qtype == dns.TypeA {
					rr, _ := dns.NewRR("www.example.com. 60 IN A 127.0.0.1")
					m.Answer = append(m.Answer, rr)
				}
			case "empty.example.com.":
			default:
				m.Rcode = dns.RcodeNameError
			}
			_ = w.WriteMsg(m)
		}),
	}
	go func() { _ = srv.ActivateAndServe() }()
	<-started
	t.Cleanup(func() { _ = srv.Shutdown() })
	return pc.LocalAddr().String()
}

func TestDNSLookups(t *testing.T) {
	addr := startDNS(t)
	r := NewResolver([]string{addr}, 300*time.Millisecond)
	v4 := NewIPv4Lookup(r)
	v6 := NewIPv6Lookup(r)
	ctx := context.Background()

	assert.Nil(t, v4.Probe(ctx, "www.example.com"))

	negatives := v6.Probe(ctx, "www.example.com")
	require.Len(t, negatives, 1)
	assert.Equal(t, storage.LevelInfo, negatives[0].Level)
	assert.Equal(t, "No IPv6 addresses found for www.example.com", negatives[0].Description)

	negatives = v4.Probe(ctx, "mail.example.com")
	require.Len(t, negatives, 1)
	assert.Equal(t, storage.LevelInfo, negatives[0].Level)

	negatives = v4.Probe(ctx, "empty.example.com")
	require.Len(t, negatives, 1)
	assert.Equal(t, storage.LevelInfo, negatives[0].Level)

	negatives = v4.Probe(ctx, "slow.example.com")
	require.Len(t, negatives, 1)
	assert.Equal(t, storage.LevelWarn, negatives[0].Level)
}

func TestNewResolverAddsDefaultPort(t *testing.T) {
	r := NewResolver([]string{"9.9.9.9", "10.0.0.1:5353", "::1"}, time.Second)
	assert.Equal(t, []string{"9.9.9.9:53", "10.0.0.1:5353", "[::1]:53"}, r.Servers())
}

func TestSystemResolversFallback(t *testing.T) {
	assert.Equal(t, fallbackResolvers, systemResolvers("/nonexistent/resolv.conf"))
}

func TestSelectAgent(t *testing.T) {
	assert.Equal(t, "voyage/1", SelectAgent("voyage/1", false)())
	assert.Contains(t, browserAgents, SelectAgent("voyage/1", true)())
}
