package subdomain

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"
)

// Source names as used in exclusion lists and the found source label
const (
	CrtSh        = "crt.sh"
	HackerTarget = "hackertarget"
	AlienVault   = "alienvault"
	RapidDNS     = "rapiddns"
)

// Default API endpoints
const (
	CrtShURL        = "https://crt.sh"
	HackerTargetURL = "https://api.hackertarget.com"
	AlienVaultURL   = "https://otx.alienvault.com"
	RapidDNSURL     = "https://rapiddns.io"
)

// maxBody caps how much of a provider response is read
const maxBody = 32 << 20

// Source is one passive intelligence provider. Fetch returns hostnames that
// the provider associates with domain; filtering happens in the Enumerator.
type Source interface {
	Name() string
	Fetch(ctx context.Context, domain string) ([]string, error)
}

// Fetcher performs paced HTTP GETs on behalf of every source
type Fetcher struct {
	client  *http.Client
	limiter *rate.Limiter
	agent   func() string
}

// NewFetcher creates a fetcher allowing rps requests per second across all
// sources. agent may be nil.
func NewFetcher(timeout time.Duration, rps float64, agent func() string) *Fetcher {
	if rps <= 0 {
		rps = 5
	}
	return &Fetcher{
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     30 * time.Second,
			},
		},
		limiter: rate.NewLimiter(rate.Limit(rps), int(rps)+1),
		agent:   agent,
	}
}

// Get returns the response body of a successful GET to rawURL
func (f *Fetcher) Get(ctx context.Context, rawURL string) ([]byte, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	if f.agent != nil {
		req.Header.Set("User-Agent", f.agent())
	}
	req.Header.Set("Accept", "application/json, text/plain, */*")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxBody))
}

// crtsh queries Certificate Transparency logs
type crtsh struct {
	f    *Fetcher
	base string
}

// NewCrtSh creates the crt.sh source. An empty base uses CrtShURL.
func NewCrtSh(f *Fetcher, base string) Source {
	return &crtsh{f: f, base: orDefault(base, CrtShURL)}
}

func (c *crtsh) Name() string { return CrtSh }

func (c *crtsh) Fetch(ctx context.Context, domain string) ([]string, error) {
	u := c.base + "/?q=" + url.QueryEscape("%."+domain) + "&output=json"
	body, err := c.f.Get(ctx, u)
	if err != nil {
		return nil, err
	}

	var entries []struct {
		CommonName string `json:"common_name"`
		NameValue  string `json:"name_value"`
	}
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("decode crt.sh response: %w", err)
	}

	var hosts []string
	for _, e := range entries {
		hosts = append(hosts, e.CommonName)
		// name_value holds one SAN per line
		hosts = append(hosts, strings.Split(e.NameValue, "\n")...)
	}
	return hosts, nil
}

// hackertarget queries the HackerTarget host search API
type hackertarget struct {
	f    *Fetcher
	base string
}

// NewHackerTarget creates the hackertarget source. An empty base uses HackerTargetURL.
func NewHackerTarget(f *Fetcher, base string) Source {
	return &hackertarget{f: f, base: orDefault(base, HackerTargetURL)}
}

func (h *hackertarget) Name() string { return HackerTarget }

func (h *hackertarget) Fetch(ctx context.Context, domain string) ([]string, error) {
	body, err := h.f.Get(ctx, h.base+"/hostsearch/?q="+url.QueryEscape(domain))
	if err != nil {
		return nil, err
	}
	text := string(body)
	// Errors come back as 200 with a plain message
	if strings.HasPrefix(text, "error") || strings.Contains(text, "API count exceeded") {
		return nil, fmt.Errorf("hackertarget: %s", strings.TrimSpace(text))
	}

	var hosts []string
	for _, line := range strings.Split(text, "\n") {
		host, _, _ := strings.Cut(line, ",")
		if host = strings.TrimSpace(host); host != "" {
			hosts = append(hosts, host)
		}
	}
	return hosts, nil
}

// alienvault queries AlienVault OTX passive DNS
type alienvault struct {
	f    *Fetcher
	base string
}

// NewAlienVault creates the alienvault source. An empty base uses AlienVaultURL.
func NewAlienVault(f *Fetcher, base string) Source {
	return &alienvault{f: f, base: orDefault(base, AlienVaultURL)}
}

func (a *alienvault) Name() string { return AlienVault }

func (a *alienvault) Fetch(ctx context.Context, domain string) ([]string, error) {
	body, err := a.f.Get(ctx, a.base+"/api/v1/indicators/domain/"+url.PathEscape(domain)+"/passive_dns")
	if err != nil {
		return nil, err
	}

	var response struct {
		PassiveDNS []struct {
			Hostname string `json:"hostname"`
		} `json:"passive_dns"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("decode alienvault response: %w", err)
	}

	hosts := make([]string, 0, len(response.PassiveDNS))
	for _, entry := range response.PassiveDNS {
		hosts = append(hosts, entry.Hostname)
	}
	return hosts, nil
}

// rapiddns scrapes the RapidDNS subdomain table
type rapiddns struct {
	f    *Fetcher
	base string
}

// NewRapidDNS creates the rapiddns source. An empty base uses RapidDNSURL.
func NewRapidDNS(f *Fetcher, base string) Source {
	return &rapiddns{f: f, base: orDefault(base, RapidDNSURL)}
}

func (r *rapiddns) Name() string { return RapidDNS }

func (r *rapiddns) Fetch(ctx context.Context, domain string) ([]string, error) {
	body, err := r.f.Get(ctx, r.base+"/subdomain/"+url.PathEscape(domain)+"?full=1")
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return nil, fmt.Errorf("parse rapiddns page: %w", err)
	}

	var hosts []string
	doc.Find("table tbody tr").Each(func(_ int, row *goquery.Selection) {
		if host := strings.TrimSpace(row.Find("td").First().Text()); host != "" {
			hosts = append(hosts, host)
		}
	})
	if len(hosts) == 0 {
		// Layout changed; fall back to scanning the page text
		hosts = extractSubdomains(doc.Text(), domain)
	}
	return hosts, nil
}

// extractSubdomains finds hostnames under domain in free text
func extractSubdomains(text, domain string) []string {
	pattern := fmt.Sprintf(`(?i)[a-z0-9][-a-z0-9._]*\.%s`, regexp.QuoteMeta(domain))
	return regexp.MustCompile(pattern).FindAllString(text, -1)
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return strings.TrimSuffix(v, "/")
}
