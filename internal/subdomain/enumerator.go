// Package subdomain queries passive intelligence sources for known
// subdomains of a root domain.
package subdomain

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/rootsploit/voyage/internal/config"
	"github.com/rootsploit/voyage/internal/technique"
)

// Enumerator fans a domain out to every enabled source
type Enumerator struct {
	sources []Source
}

// NewEnumerator runs sources in the given order of precedence
func NewEnumerator(sources ...Source) *Enumerator {
	return &Enumerator{sources: sources}
}

// Build creates the built-in sources from cfg, skipping excluded names
func Build(cfg *config.Config) *Enumerator {
	f := NewFetcher(cfg.RequestTimeout*3, 5, technique.SelectAgent(cfg.PassiveUserAgent, cfg.PassiveRandomUA))
	var sources []Source
	for _, s := range []Source{
		NewCrtSh(f, ""),
		NewHackerTarget(f, ""),
		NewAlienVault(f, ""),
		NewRapidDNS(f, ""),
	} {
		if !config.Excluded(cfg.ExcludeSources, s.Name()) {
			sources = append(sources, s)
		}
	}
	return NewEnumerator(sources...)
}

// Sources returns the enabled source names
func (e *Enumerator) Sources() []string {
	names := make([]string, len(e.sources))
	for i, s := range e.sources {
		names[i] = s.Name()
	}
	return names
}

// Enumerate queries every source concurrently. It returns the discovered
// labels mapped to the first source (in precedence order) that reported
// them, plus the error of each source that failed.
func (e *Enumerator) Enumerate(ctx context.Context, domain string) (map[string]string, map[string]error) {
	domain = strings.ToLower(strings.TrimSuffix(domain, "."))
	hits := make([][]string, len(e.sources))
	errs := map[string]error{}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for i, src := range e.sources {
		wg.Add(1)
		go func() {
			defer wg.Done()
			hosts, err := src.Fetch(ctx, domain)
			if err != nil {
				mu.Lock()
				errs[src.Name()] = err
				mu.Unlock()
				return
			}
			hits[i] = hosts
		}()
	}
	wg.Wait()

	found := map[string]string{}
	for i, hosts := range hits {
		for _, h := range hosts {
			label, ok := Label(h, domain)
			if !ok {
				continue
			}
			if _, seen := found[label]; !seen {
				found[label] = e.sources[i].Name()
			}
		}
	}
	return found, errs
}

// Label strips domain from host and returns the remaining label. Wildcards,
// the apex itself and hosts outside domain are rejected.
func Label(host, domain string) (string, bool) {
	host = strings.ToLower(strings.TrimSpace(host))
	host = strings.TrimSuffix(host, ".")
	host = strings.TrimPrefix(host, "*.")
	if host == "" || strings.ContainsAny(host, " \t\r\n*@/:") {
		return "", false
	}
	label, ok := strings.CutSuffix(host, "."+domain)
	if !ok || label == "" {
		return "", false
	}
	return label, true
}

// Labels returns the keys of found in sorted order
func Labels(found map[string]string) []string {
	out := make([]string, 0, len(found))
	for l := range found {
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}
