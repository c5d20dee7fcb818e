// Package clock abstracts time.Now so time-dependent rules can be tested.
package clock

import "time"

type Clock interface {
	Now() time.Time
}

type realClock struct{}

// New returns a Clock backed by time.Now in UTC.
func New() Clock { return realClock{} }

func (realClock) Now() time.Time { return time.Now().UTC() }

// Fixed is a manually driven clock for tests.
type Fixed struct {
	t time.Time
}

func NewFixed(t time.Time) *Fixed { return &Fixed{t: t} }

func (f *Fixed) Now() time.Time { return f.t }

// Advance moves the clock forward by d and returns the new time.
func (f *Fixed) Advance(d time.Duration) time.Time {
	f.t = f.t.Add(d)
	return f.t
}
