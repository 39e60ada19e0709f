// Package clock provides an injectable time source, following the same
// NowFunc-override pattern the state store uses for GORM's timestamps.
package clock

import "time"

// Clock returns the current time. Components take one instead of calling
// time.Now() directly so tests can control fire/budget-check timing exactly.
type Clock interface {
	Now() time.Time
}

// System is the real wall clock, UTC, matching postgres_store's NowFunc.
type System struct{}

func (System) Now() time.Time { return time.Now().UTC() }

// Fake is a controllable clock for deterministic tests.
type Fake struct {
	t time.Time
}

func NewFake(t time.Time) *Fake { return &Fake{t: t.UTC()} }

func (f *Fake) Now() time.Time { return f.t }

func (f *Fake) Advance(d time.Duration) { f.t = f.t.Add(d) }

func (f *Fake) Set(t time.Time) { f.t = t.UTC() }
