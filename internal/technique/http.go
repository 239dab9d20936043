package technique

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rootsploit/voyage/internal/storage"
)

// NewHTTPClient returns the client shared by protocol probes. Certificates
// are not verified and redirects are not followed: any response proves the
// host is live.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			TLSClientConfig:     &tls.Config{InsecureSkipVerify: true}, //nolint:gosec // probing arbitrary hosts
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 2,
			IdleConnTimeout:     30 * time.Second,
			TLSHandshakeTimeout: timeout,
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// httpProbe requests scheme://target:port/ for each configured port
type httpProbe struct {
	name   string
	scheme string
	ports  []int
	client *http.Client
	agent  UserAgent
}

// NewHTTPProbe probes plain HTTP on ports
func NewHTTPProbe(client *http.Client, ports []int, agent UserAgent) Technique {
	return &httpProbe{name: HTTPProbing, scheme: "http", ports: ports, client: client, agent: agent}
}

// NewHTTPSProbe probes HTTPS on ports
func NewHTTPSProbe(client *http.Client, ports []int, agent UserAgent) Technique {
	return &httpProbe{name: HTTPSProbing, scheme: "https", ports: ports, client: client, agent: agent}
}

func (p *httpProbe) Name() string { return p.name }
func (p *httpProbe) Kind() Kind   { return KindProtocol }

func (p *httpProbe) Probe(ctx context.Context, target string) []Negative {
	label := strings.ToUpper(p.scheme)
	var negatives []Negative
	for _, port := range p.ports {
		hostPort := net.JoinHostPort(target, strconv.Itoa(port))
		err := p.get(ctx, p.scheme+"://"+hostPort+"/")
		if err == nil {
			return nil
		}
		level := Classify(err)
		verb := "failed"
		if level == storage.LevelWarn {
			verb = "timeout"
		}
		negatives = append(negatives, Negative{
			Level:       level,
			Description: fmt.Sprintf("%s request %s for %s: %v", label, verb, hostPort, err),
		})
	}
	return negatives
}

func (p *httpProbe) get(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	if p.agent != nil {
		req.Header.Set("User-Agent", p.agent())
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	// Drain a little so the connection can be reused
	_, _ = io.CopyN(io.Discard, resp.Body, 4096)
	return resp.Body.Close()
}
