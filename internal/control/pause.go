// Package control holds the cooperative pause signal shared by workers and
// observers.
package control

import "sync/atomic"

// Pause is a shared pause flag. The zero value is running.
type Pause struct {
	paused atomic.Bool
}

// NewPause returns a running (unpaused) flag
func NewPause() *Pause {
	return &Pause{}
}

// Pause suppresses new claims. In-flight work is not interrupted.
func (p *Pause) Pause() { p.paused.Store(true) }

// Resume allows claiming again
func (p *Pause) Resume() { p.paused.Store(false) }

// Toggle flips the flag and returns the new paused state
func (p *Pause) Toggle() bool {
	for {
		old := p.paused.Load()
		if p.paused.CompareAndSwap(old, !old) {
			return !old
		}
	}
}

// Paused reports whether claiming is suspended
func (p *Pause) Paused() bool { return p.paused.Load() }
