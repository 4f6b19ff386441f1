package backend

import (
	"context"
	"sync"
)

// Fake is an in-memory Backend for tests.
type Fake struct {
	mu       sync.Mutex
	active   string
	failNext error
	switches []string
}

// NewFake creates a fake backend currently applying the given native
// profile.
func NewFake(active string) *Fake {
	return &Fake{active: active}
}

// SwitchProfile records the switch and applies it, unless a failure was
// injected with FailNext.
func (f *Fake) SwitchProfile(_ context.Context, native string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext != nil {
		err := f.failNext
		f.failNext = nil
		return err
	}
	f.switches = append(f.switches, native)
	f.active = native
	return nil
}

// ActiveProfile returns the currently applied native profile.
func (f *Fake) ActiveProfile(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active, nil
}

// FailNext makes the next SwitchProfile call return err.
func (f *Fake) FailNext(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failNext = err
}

// Switches returns every native profile passed to SwitchProfile so far.
func (f *Fake) Switches() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.switches))
	copy(out, f.switches)
	return out
}
