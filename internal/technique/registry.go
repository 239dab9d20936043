package technique

import (
	"github.com/rootsploit/voyage/internal/config"
)

// Build assembles the enabled built-in techniques from cfg, skipping any
// named in cfg.ExcludeTechniques.
func Build(cfg *config.Config, observe ProbeObserver) *Scanner {
	resolver := NewResolver(cfg.Resolvers, cfg.RequestTimeout)
	client := NewHTTPClient(cfg.RequestTimeout)
	agent := SelectAgent(cfg.ActiveUserAgent, cfg.ActiveRandomUA)

	all := []Technique{
		NewIPv4Lookup(resolver),
		NewIPv6Lookup(resolver),
		NewHTTPProbe(client, cfg.HTTPPorts, agent),
		NewHTTPSProbe(client, cfg.HTTPSPorts, agent),
	}
	return NewScanner(Enabled(all, cfg.ExcludeTechniques), observe)
}

// Enabled filters out excluded techniques
func Enabled(all []Technique, exclude []string) []Technique {
	out := make([]Technique, 0, len(all))
	for _, t := range all {
		if !config.Excluded(exclude, t.Name()) {
			out = append(out, t)
		}
	}
	return out
}
