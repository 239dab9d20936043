package subdomain

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rootsploit/voyage/internal/config"
)

const rapidPage = `<html><body><table class="table">
<thead><tr><th>#</th><th>Domain</th><th>Address</th></tr></thead>
<tbody>
<tr><th scope="row">1</th><td>cdn.example.com</td><td>1.2.3.4</td></tr>
<tr><th scope="row">2</th><td>API.example.com</td><td>1.2.3.5</td></tr>
</tbody></table></body></html>`

func providerServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "%.example.com", r.URL.Query().Get("q"))
		assert.Equal(t, "voyage/test", r.UserAgent())
		_, _ = w.Write([]byte(`[
			{"common_name":"www.example.com","name_value":"www.example.com\n*.dev.example.com"},
			{"common_name":"example.com","name_value":"api.example.com"}
		]`))
	})
	mux.HandleFunc("/hostsearch/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("mail.example.com,1.1.1.1\nwww.example.com,1.1.1.2\nexample.com,1.1.1.3\n"))
	})
	mux.HandleFunc("/api/v1/indicators/domain/example.com/passive_dns", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"passive_dns":[{"hostname":"vpn.example.com"},{"hostname":"other.org"}]}`))
	})
	mux.HandleFunc("/subdomain/example.com", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(rapidPage))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testFetcher() *Fetcher {
	return NewFetcher(5*time.Second, 100, func() string { return "voyage/test" })
}

func TestSourcesParseResponses(t *testing.T) {
	srv := providerServer(t)
	f := testFetcher()
	ctx := context.Background()

	tests := []struct {
		src  Source
		want []string
	}{
		{NewCrtSh(f, srv.URL), []string{"www.example.com", "www.example.com", "*.dev.example.com", "example.com", "api.example.com"}},
		{NewHackerTarget(f, srv.URL), []string{"mail.example.com", "www.example.com", "example.com"}},
		{NewAlienVault(f, srv.URL), []string{"vpn.example.com", "other.org"}},
		{NewRapidDNS(f, srv.URL+"/"), []string{"cdn.example.com", "API.example.com"}},
	}
	for _, tt := range tests {
		t.Run(tt.src.Name(), func(t *testing.T) {
			hosts, err := tt.src.Fetch(ctx, "example.com")
			require.NoError(t, err)
			assert.Equal(t, tt.want, hosts)
		})
	}
}

func TestEnumerateMergesInPrecedenceOrder(t *testing.T) {
	srv := providerServer(t)
	f := testFetcher()
	e := NewEnumerator(
		NewCrtSh(f, srv.URL),
		NewHackerTarget(f, srv.URL),
		NewAlienVault(f, srv.URL),
		NewRapidDNS(f, srv.URL),
	)

	found, errs := e.Enumerate(context.Background(), "Example.com.")
	assert.Empty(t, errs)
	assert.Equal(t, map[string]string{
		"www":  CrtSh,
		"dev":  CrtSh,
		"api":  CrtSh,
		"mail": HackerTarget,
		"vpn":  AlienVault,
		"cdn":  RapidDNS,
	}, found)
	assert.Equal(t, []string{"api", "cdn", "dev", "mail", "vpn", "www"}, Labels(found))
}

type failingSource struct{}

func (failingSource) Name() string { return "broken" }
func (failingSource) Fetch(context.Context, string) ([]string, error) {
	return nil, errors.New("upstream unavailable")
}

func TestEnumerateReportsSourceErrors(t *testing.T) {
	srv := providerServer(t)
	e := NewEnumerator(failingSource{}, NewAlienVault(testFetcher(), srv.URL))

	found, errs := e.Enumerate(context.Background(), "example.com")
	assert.Equal(t, map[string]string{"vpn": AlienVault}, found)
	require.Contains(t, errs, "broken")
	assert.EqualError(t, errs["broken"], "upstream unavailable")
}

func TestFetcherRejectsNonOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewAlienVault(testFetcher(), srv.URL).Fetch(context.Background(), "example.com")
	assert.EqualError(t, err, "status 429")
}

func TestHackerTargetQuotaMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("API count exceeded - Increase Quota with Membership"))
	}))
	defer srv.Close()

	_, err := NewHackerTarget(testFetcher(), srv.URL).Fetch(context.Background(), "example.com")
	assert.ErrorContains(t, err, "API count exceeded")
}

func TestRapidDNSFallsBackToText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<div>seen: ns1.example.com and shop.example.com</div>"))
	}))
	defer srv.Close()

	hosts, err := NewRapidDNS(testFetcher(), srv.URL).Fetch(context.Background(), "example.com")
	require.NoError(t, err)
	assert.Equal(t, []string{"ns1.example.com", "shop.example.com"}, hosts)
}

func TestLabel(t *testing.T) {
	tests := []struct {
		host  string
		label string
		ok    bool
	}{
		{"www.example.com", "www", true},
		{"A.B.Example.com.", "a.b", true},
		{"*.dev.example.com", "dev", true},
		{"example.com", "", false},
		{"notexample.com", "", false},
		{"www.example.org", "", false},
		{"*.example.com", "", false},
		{"bad host.example.com", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		label, ok := Label(tt.host, "example.com")
		assert.Equal(t, tt.ok, ok, tt.host)
		assert.Equal(t, tt.label, label, tt.host)
	}
}

func TestBuildHonoursExclusions(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.ExcludeSources = []string{"crt.sh", "rapiddns"}
	assert.Equal(t, []string{HackerTarget, AlienVault}, Build(cfg).Sources())
}
