// Package progress defines the status/percent callback shared by every
// synchronization step, plus helpers that rescale a sub-step's own 0–100
// range into a slice of a larger operation.
package progress

import "sync"

// Func receives a human readable status line and an integer percent in 0..100.
type Func func(status string, percent int)

// Nop discards every report.
func Nop(string, int) {}

// OrNop returns fn, or Nop when fn is nil.
func OrNop(fn Func) Func {
	if fn == nil {
		return Nop
	}
	return fn
}

// Clamp bounds p to 0..100.
func Clamp(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// Slice maps a child's 0..100 onto [start, end] of the parent.
func Slice(parent Func, start, end int) Func {
	parent = OrNop(parent)
	if end < start {
		start, end = end, start
	}
	return func(status string, percent int) {
		parent(status, Scale(percent, start, end))
	}
}

// Scale linearly rescales percent (0..100) into [start, end].
func Scale(percent, start, end int) int {
	percent = Clamp(percent)
	return start + (end-start)*percent/100
}

// Monotonic wraps fn so the reported percent never decreases. Status text is
// always forwarded, which lets a "reconnecting" line through without moving
// the bar backwards.
type Monotonic struct {
	mu   sync.Mutex
	fn   Func
	high int
}

// NewMonotonic wraps fn.
func NewMonotonic(fn Func) *Monotonic {
	return &Monotonic{fn: OrNop(fn)}
}

// Report forwards status with max(percent, highest so far).
func (m *Monotonic) Report(status string, percent int) {
	m.mu.Lock()
	percent = Clamp(percent)
	if percent < m.high {
		percent = m.high
	}
	m.high = percent
	fn := m.fn
	m.mu.Unlock()
	fn(status, percent)
}

// Func exposes Report as a Func.
func (m *Monotonic) Func() Func {
	return m.Report
}

// Percent returns the highest percent reported so far.
func (m *Monotonic) Percent() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.high
}
