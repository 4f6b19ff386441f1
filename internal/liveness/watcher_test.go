package liveness

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/godbus/dbus/v5"
)

// fakeBus simulates the bus daemon's name-ownership bookkeeping.
type fakeBus struct {
	mu      sync.Mutex
	owners  map[string]bool
	adds    int
	removes int
	ch      chan<- *dbus.Signal
}

func newFakeBus(owned ...string) *fakeBus {
	b := &fakeBus{owners: make(map[string]bool)}
	for _, name := range owned {
		b.owners[name] = true
	}
	return b
}

func (b *fakeBus) AddMatchSignal(...dbus.MatchOption) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.adds++
	return nil
}

func (b *fakeBus) RemoveMatchSignal(...dbus.MatchOption) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removes++
	return nil
}

func (b *fakeBus) Signal(ch chan<- *dbus.Signal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ch = ch
}

func (b *fakeBus) RemoveSignal(chan<- *dbus.Signal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ch = nil
}

func (b *fakeBus) NameHasOwner(name string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.owners[name], nil
}

// drop simulates the named client leaving the bus.
func (b *fakeBus) drop(name string) {
	b.mu.Lock()
	b.owners[name] = false
	ch := b.ch
	b.mu.Unlock()
	if ch != nil {
		ch <- &dbus.Signal{
			Name: nameOwnerChanged,
			Body: []interface{}{name, ":1.5", ""},
		}
	}
}

func (b *fakeBus) counts() (adds, removes int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.adds, b.removes
}

func testWatcher(t *testing.T, bus Bus) *Watcher {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	w := NewWatcher(bus, logger)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go w.Run(ctx)
	return w
}

func waitFire(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not fire")
	}
}

func assertNoFire(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
		t.Fatal("watch fired unexpectedly")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestFiresOnOwnerGone(t *testing.T) {
	bus := newFakeBus(":1.7")
	w := testWatcher(t, bus)

	fired := make(chan struct{}, 1)
	w.Watch(":1.7", func() { fired <- struct{}{} })

	bus.drop(":1.7")
	waitFire(t, fired)
}

func TestAlreadyGoneFires(t *testing.T) {
	bus := newFakeBus() // nobody owns anything
	w := testWatcher(t, bus)

	fired := make(chan struct{}, 1)
	w.Watch(":1.9", func() { fired <- struct{}{} })
	waitFire(t, fired)
}

func TestFiresOnlyOnce(t *testing.T) {
	bus := newFakeBus(":1.7")
	w := testWatcher(t, bus)

	fired := make(chan struct{}, 4)
	w.Watch(":1.7", func() { fired <- struct{}{} })

	bus.drop(":1.7")
	bus.drop(":1.7")
	waitFire(t, fired)
	assertNoFire(t, fired)
}

func TestCancelPreventsFire(t *testing.T) {
	bus := newFakeBus(":1.7")
	w := testWatcher(t, bus)

	fired := make(chan struct{}, 1)
	reg := w.Watch(":1.7", func() { fired <- struct{}{} })
	reg.Cancel()

	bus.drop(":1.7")
	assertNoFire(t, fired)
}

func TestCancelIdempotent(t *testing.T) {
	bus := newFakeBus(":1.7")
	w := testWatcher(t, bus)

	reg := w.Watch(":1.7", func() {})
	reg.Cancel()
	reg.Cancel() // safe no-op
}

func TestMatchSharedAcrossRegistrations(t *testing.T) {
	bus := newFakeBus(":1.7")
	w := testWatcher(t, bus)

	r1 := w.Watch(":1.7", func() {})
	r2 := w.Watch(":1.7", func() {})
	if adds, _ := bus.counts(); adds != 1 {
		t.Errorf("adds = %d, want one shared match", adds)
	}

	r1.Cancel()
	if _, removes := bus.counts(); removes != 0 {
		t.Errorf("removes = %d, want 0 while a registration remains", removes)
	}
	r2.Cancel()
	if _, removes := bus.counts(); removes != 1 {
		t.Errorf("removes = %d, want 1 after last cancel", removes)
	}
}

func TestBothRegistrationsFire(t *testing.T) {
	bus := newFakeBus(":1.7")
	w := testWatcher(t, bus)

	fired := make(chan struct{}, 2)
	w.Watch(":1.7", func() { fired <- struct{}{} })
	w.Watch(":1.7", func() { fired <- struct{}{} })

	bus.drop(":1.7")
	waitFire(t, fired)
	waitFire(t, fired)
}
