package technique

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"

	"github.com/rootsploit/voyage/internal/storage"
)

var fallbackResolvers = []string{"1.1.1.1:53", "8.8.8.8:53"}

// Resolver sends queries to a fixed list of upstream servers, trying them in
// order until one answers.
type Resolver struct {
	client  *dns.Client
	servers []string
}

// NewResolver builds a resolver using servers, or the system resolv.conf
// entries when servers is empty.
func NewResolver(servers []string, timeout time.Duration) *Resolver {
	if len(servers) == 0 {
		servers = systemResolvers("/etc/resolv.conf")
	}
	normalized := make([]string, 0, len(servers))
	for _, s := range servers {
		if _, _, err := net.SplitHostPort(s); err != nil {
			s = net.JoinHostPort(strings.Trim(s, "[]"), "53")
		}
		normalized = append(normalized, s)
	}
	return &Resolver{
		client:  &dns.Client{Timeout: timeout},
		servers: normalized,
	}
}

// Servers returns the upstream addresses in query order
func (r *Resolver) Servers() []string {
	return append([]string{}, r.servers...)
}

func systemResolvers(path string) []string {
	cfg, err := dns.ClientConfigFromFile(path)
	if err != nil || len(cfg.Servers) == 0 {
		return fallbackResolvers
	}
	servers := make([]string, 0, len(cfg.Servers))
	for _, s := range cfg.Servers {
		servers = append(servers, net.JoinHostPort(s, cfg.Port))
	}
	return servers
}

// Lookup resolves host for qtype. It returns nil when at least one record of
// that type is present and ErrNoRecords for NXDOMAIN or an empty answer.
func (r *Resolver) Lookup(ctx context.Context, host string, qtype uint16) error {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(host), qtype)
	msg.RecursionDesired = true

	var lastErr error
	for _, srv := range r.servers {
		if err := ctx.Err(); err != nil {
			return err
		}
		resp, _, err := r.client.ExchangeContext(ctx, msg, srv)
		if err != nil {
			lastErr = err
			continue
		}
		switch resp.Rcode {
		case dns.RcodeSuccess:
			for _, rr := range resp.Answer {
				if rr.Header().Rrtype == qtype {
					return nil
				}
			}
			return ErrNoRecords
		case dns.RcodeNameError:
			return ErrNoRecords
		default:
			lastErr = fmt.Errorf("rcode %s from %s", dns.RcodeToString[resp.Rcode], srv)
		}
	}
	if lastErr == nil {
		lastErr = errors.New("no resolvers configured")
	}
	return lastErr
}

// dnsLookup is an address lookup technique for one record type
type dnsLookup struct {
	name     string
	family   string
	qtype    uint16
	resolver *Resolver
}

// NewIPv4Lookup checks for A records
func NewIPv4Lookup(r *Resolver) Technique {
	return &dnsLookup{name: IPv4Lookup, family: "IPv4", qtype: dns.TypeA, resolver: r}
}

// NewIPv6Lookup checks for AAAA records
func NewIPv6Lookup(r *Resolver) Technique {
	return &dnsLookup{name: IPv6Lookup, family: "IPv6", qtype: dns.TypeAAAA, resolver: r}
}

func (d *dnsLookup) Name() string { return d.name }
func (d *dnsLookup) Kind() Kind   { return KindDNS }

func (d *dnsLookup) Probe(ctx context.Context, target string) []Negative {
	err := d.resolver.Lookup(ctx, target, d.qtype)
	if err == nil {
		return nil
	}
	level := Classify(err)
	var desc string
	switch level {
	case storage.LevelInfo:
		desc = fmt.Sprintf("No %s addresses found for %s", d.family, target)
	case storage.LevelWarn:
		desc = fmt.Sprintf("%s lookup timeout for %s: %v", d.family, target, err)
	default:
		desc = fmt.Sprintf("%s lookup error for %s: %v", d.family, target, err)
	}
	return []Negative{{Level: level, Description: desc}}
}
