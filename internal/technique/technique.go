// Package technique implements the active probes run against each candidate
// host and the scanner that sequences them.
package technique

import (
	"context"

	"github.com/rootsploit/voyage/internal/storage"
)

// Technique names, also used in exclusion lists and as the found source label
const (
	IPv4Lookup   = "ipv4_lookup"
	IPv6Lookup   = "ipv6_lookup"
	HTTPProbing  = "http_probing"
	HTTPSProbing = "https_probing"
)

// Names lists every built-in technique in execution order
func Names() []string {
	return []string{IPv4Lookup, IPv6Lookup, HTTPProbing, HTTPSProbing}
}

// Kind groups techniques by how the scanner runs them
type Kind int

const (
	// KindDNS techniques run sequentially before any protocol probe
	KindDNS Kind = iota
	// KindProtocol techniques run concurrently once DNS has failed
	KindProtocol
)

// Negative is one classified failure reported by a technique
type Negative struct {
	Level       storage.Level
	Description string
}

// Technique probes a single host. An empty result means the host exists.
type Technique interface {
	Name() string
	Kind() Kind
	Probe(ctx context.Context, target string) []Negative
}
