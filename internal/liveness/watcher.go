package liveness

import (
	"context"
	"log/slog"
	"sync"

	"github.com/godbus/dbus/v5"
)

const nameOwnerChanged = "org.freedesktop.DBus.NameOwnerChanged"

// Bus is the slice of the message bus the watcher needs. *SystemBus
// adapts a real connection; tests supply a fake.
type Bus interface {
	AddMatchSignal(...dbus.MatchOption) error
	RemoveMatchSignal(...dbus.MatchOption) error
	Signal(ch chan<- *dbus.Signal)
	RemoveSignal(ch chan<- *dbus.Signal)
	NameHasOwner(name string) (bool, error)
}

// SystemBus adapts a dbus connection to the Bus interface.
type SystemBus struct {
	*dbus.Conn
}

// NameHasOwner asks the bus daemon whether name currently has an owner.
func (b *SystemBus) NameHasOwner(name string) (bool, error) {
	var has bool
	err := b.BusObject().Call("org.freedesktop.DBus.NameHasOwner", 0, name).Store(&has)
	return has, err
}

// Watcher subscribes to bus name-ownership changes and fires per-name
// callbacks when a watched client disappears from the bus.
type Watcher struct {
	bus    Bus
	logger *slog.Logger
	sigCh  chan *dbus.Signal

	mu      sync.Mutex
	watches map[string][]*Registration // bus name → registrations
}

// Registration is a single liveness watch. Cancel is safe to call more
// than once and after the callback has fired.
type Registration struct {
	w      *Watcher
	name   string
	onGone func()

	mu   sync.Mutex
	done bool
}

// NewWatcher creates a watcher on the given bus connection.
func NewWatcher(bus Bus, logger *slog.Logger) *Watcher {
	w := &Watcher{
		bus:     bus,
		logger:  logger.With("component", "liveness"),
		sigCh:   make(chan *dbus.Signal, 64),
		watches: make(map[string][]*Registration),
	}
	bus.Signal(w.sigCh)
	return w
}

// Run consumes bus signals and dispatches owner-gone callbacks. It
// blocks until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	w.logger.Info("watching bus name ownership")
	for {
		select {
		case <-ctx.Done():
			w.bus.RemoveSignal(w.sigCh)
			w.logger.Info("liveness watcher stopped")
			return
		case sig, ok := <-w.sigCh:
			if !ok {
				return
			}
			w.handleSignal(sig)
		}
	}
}

// Watch registers onGone to fire exactly once when name loses its bus
// owner. If name already has no owner, onGone still fires (probed
// asynchronously, so Watch never blocks on the bus).
func (w *Watcher) Watch(name string, onGone func()) *Registration {
	reg := &Registration{w: w, name: name, onGone: onGone}

	w.mu.Lock()
	first := len(w.watches[name]) == 0
	w.watches[name] = append(w.watches[name], reg)
	w.mu.Unlock()

	if first {
		if err := w.bus.AddMatchSignal(matchOptions(name)...); err != nil {
			w.logger.Error("failed to add liveness match", "name", name, "error", err)
		}
	}

	// Close the missed-event window: the client may have vanished
	// before the match was installed.
	go func() {
		has, err := w.bus.NameHasOwner(name)
		if err != nil {
			w.logger.Error("owner probe failed", "name", name, "error", err)
			return
		}
		if !has {
			reg.fire()
		}
	}()

	return reg
}

func (w *Watcher) handleSignal(sig *dbus.Signal) {
	if sig.Name != nameOwnerChanged || len(sig.Body) != 3 {
		return
	}
	name, _ := sig.Body[0].(string)
	newOwner, _ := sig.Body[2].(string)
	if newOwner != "" {
		return
	}

	w.mu.Lock()
	regs := w.watches[name]
	w.mu.Unlock()

	if len(regs) == 0 {
		return
	}
	w.logger.Info("bus client gone", "name", name, "watches", len(regs))
	for _, reg := range regs {
		reg.fire()
	}
}

// detach removes reg from the watch table and drops the bus match when
// it was the last registration for its name.
func (w *Watcher) detach(reg *Registration) {
	w.mu.Lock()
	regs := w.watches[reg.name]
	for i, r := range regs {
		if r == reg {
			regs = append(regs[:i], regs[i+1:]...)
			break
		}
	}
	if len(regs) == 0 {
		delete(w.watches, reg.name)
	} else {
		w.watches[reg.name] = regs
	}
	last := len(regs) == 0
	w.mu.Unlock()

	if last {
		if err := w.bus.RemoveMatchSignal(matchOptions(reg.name)...); err != nil {
			w.logger.Warn("failed to remove liveness match", "name", reg.name, "error", err)
		}
	}
}

func (r *Registration) fire() {
	r.mu.Lock()
	if r.done {
		r.mu.Unlock()
		return
	}
	r.done = true
	r.mu.Unlock()

	r.w.detach(r)
	r.onGone()
}

// Cancel deregisters the watch. A cancelled watch never fires.
func (r *Registration) Cancel() {
	r.mu.Lock()
	if r.done {
		r.mu.Unlock()
		return
	}
	r.done = true
	r.mu.Unlock()

	r.w.detach(r)
}

func matchOptions(name string) []dbus.MatchOption {
	return []dbus.MatchOption{
		dbus.WithMatchSender("org.freedesktop.DBus"),
		dbus.WithMatchInterface("org.freedesktop.DBus"),
		dbus.WithMatchMember("NameOwnerChanged"),
		dbus.WithMatchArg(0, name),
	}
}
