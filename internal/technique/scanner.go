package technique

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Outcome is the result of running every technique against one host
type Outcome struct {
	Found     bool
	Source    string
	Negatives []Negative
}

// ProbeObserver receives the duration of each technique run
type ProbeObserver func(technique string, elapsed time.Duration)

// errFound stops sibling protocol probes once one succeeds
var errFound = errors.New("host found")

// Scanner runs DNS techniques in order, then protocol probes concurrently
type Scanner struct {
	dns      []Technique
	protocol []Technique
	observe  ProbeObserver
}

// NewScanner sorts techniques by kind, keeping their relative order
func NewScanner(techniques []Technique, observe ProbeObserver) *Scanner {
	s := &Scanner{observe: observe}
	for _, t := range techniques {
		if t.Kind() == KindDNS {
			s.dns = append(s.dns, t)
		} else {
			s.protocol = append(s.protocol, t)
		}
	}
	return s
}

// Techniques returns the names of the enabled techniques in run order
func (s *Scanner) Techniques() []string {
	names := make([]string, 0, len(s.dns)+len(s.protocol))
	for _, t := range s.dns {
		names = append(names, t.Name())
	}
	for _, t := range s.protocol {
		names = append(names, t.Name())
	}
	return names
}

// Scan probes target. The first success wins; failures accumulate as
// classified negatives.
func (s *Scanner) Scan(ctx context.Context, target string) Outcome {
	var out Outcome

	for _, t := range s.dns {
		negatives := s.probe(ctx, t, target)
		if len(negatives) == 0 {
			out.Found, out.Source = true, t.Name()
			return out
		}
		out.Negatives = append(out.Negatives, negatives...)
	}
	if len(s.protocol) == 0 {
		return out
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, t := range s.protocol {
		g.Go(func() error {
			negatives := s.probe(gctx, t, target)
			mu.Lock()
			defer mu.Unlock()
			if len(negatives) == 0 {
				if !out.Found {
					out.Found, out.Source = true, t.Name()
				}
				return errFound
			}
			// Probes cut short by a sibling's success are not failures
			if !out.Found && gctx.Err() == nil {
				out.Negatives = append(out.Negatives, negatives...)
			}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (s *Scanner) probe(ctx context.Context, t Technique, target string) []Negative {
	start := time.Now()
	negatives := t.Probe(ctx, target)
	if s.observe != nil {
		s.observe(t.Name(), time.Since(start))
	}
	return negatives
}
