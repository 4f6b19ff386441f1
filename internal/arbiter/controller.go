// Package arbiter reconciles overlapping profile holds and a base
// profile into a single effective profile and drives the backend to it.
package arbiter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"profiled/internal/backend"
	"profiled/internal/events"
	"profiled/internal/holds"
	"profiled/internal/profile"
)

var (
	// ErrInvalidProfile rejects a profile outside the accepted set for
	// the operation (holds accept power-saver and performance only).
	ErrInvalidProfile = errors.New("invalid profile")

	// ErrUnknownCookie rejects a release for a cookie that is not
	// currently active.
	ErrUnknownCookie = errors.New("unknown hold cookie")
)

// Controller owns the base profile and the hold registry, and is the
// sole writer of backend profile state. All operations are serialized
// behind one mutex so every recompute observes a consistent registry
// snapshot.
type Controller struct {
	reg     *holds.Registry
	backend backend.Backend
	trans   *profile.Translator
	emitter *events.Emitter
	logger  *slog.Logger

	mu   sync.Mutex
	base profile.Profile
}

// New creates a controller with the given base profile.
func New(base profile.Profile, watch holds.WatchFunc, be backend.Backend, trans *profile.Translator, emitter *events.Emitter, logger *slog.Logger) *Controller {
	return &Controller{
		reg:     holds.NewRegistry(watch, emitter, logger),
		backend: be,
		trans:   trans,
		emitter: emitter,
		logger:  logger.With("component", "arbiter"),
		base:    base,
	}
}

// RequestHold registers a hold for p and immediately switches to it.
// The new hold always wins the transition, even when a power-saver
// hold is already active; the priority policy reasserts itself on the
// next recompute. A failed switch leaves the hold registered.
func (c *Controller) RequestHold(ctx context.Context, p profile.Profile, reason, appID, owner string) (uint32, error) {
	if !p.Holdable() {
		return 0, fmt.Errorf("%w: %q cannot be held", ErrInvalidProfile, p)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	cookie := c.reg.Add(p, reason, appID, owner, c.handleOwnerGone)
	if err := c.switchTo(ctx, p); err != nil {
		return cookie, err
	}
	return cookie, nil
}

// ReleaseHold removes the hold identified by cookie and switches to
// whatever the remaining holds (or the base profile) arbitrate to.
func (c *Controller) ReleaseHold(ctx context.Context, cookie uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.reg.Remove(cookie) {
		return fmt.Errorf("%w: %d", ErrUnknownCookie, cookie)
	}
	return c.recompute(ctx)
}

// SetBaseProfile clears every active hold, stores p as the new base
// profile, and switches to it. A user-level base change supersedes all
// in-flight holds.
func (c *Controller) SetBaseProfile(ctx context.Context, p profile.Profile) error {
	if !p.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidProfile, p)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.reg.Clear()
	c.base = p
	c.emitter.Emit(events.Event{Type: events.BaseChanged, Profile: p})
	return c.switchTo(ctx, p)
}

// CurrentProfile reads the backend's applied profile and translates it
// back. This is the authoritative observable profile; nothing is
// cached.
func (c *Controller) CurrentProfile(ctx context.Context) (profile.Profile, error) {
	return c.currentProfile(ctx)
}

// BaseProfile returns the profile in effect when no holds are active.
func (c *Controller) BaseProfile() profile.Profile {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.base
}

// Holds returns a snapshot of the active holds.
func (c *Controller) Holds() []holds.Hold {
	return c.reg.List()
}

// handleOwnerGone is the liveness-watch callback: the client owning
// cookie left the bus. Removal is idempotent and recompute failures
// are swallowed; there is no caller to surface them to.
func (c *Controller) handleOwnerGone(cookie uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.reg.Remove(cookie) {
		return
	}
	if err := c.recompute(context.Background()); err != nil {
		c.logger.Warn("recompute after client exit failed", "cookie", cookie, "error", err)
	}
}

// recompute switches to the effective hold profile, or to the base
// profile when no holds remain. Callers hold c.mu.
func (c *Controller) recompute(ctx context.Context) error {
	if eff, ok := c.reg.EffectiveProfile(); ok {
		return c.switchTo(ctx, eff)
	}
	return c.switchTo(ctx, c.base)
}

// switchTo drives the backend to p unless it is already there. Callers
// hold c.mu.
func (c *Controller) switchTo(ctx context.Context, p profile.Profile) error {
	cur, err := c.currentProfile(ctx)
	if err != nil {
		return err
	}
	if cur == p {
		c.logger.Debug("already in profile", "profile", p)
		return nil
	}

	if err := c.backend.SwitchProfile(ctx, c.trans.ToBackend(p)); err != nil {
		c.logger.Error("profile switch failed", "from", cur, "to", p, "error", err)
		return err
	}
	c.logger.Info("profile switched", "from", cur, "to", p)
	c.emitter.Emit(events.Event{Type: events.ProfileSwitched, Profile: p})
	return nil
}

func (c *Controller) currentProfile(ctx context.Context) (profile.Profile, error) {
	native, err := c.backend.ActiveProfile(ctx)
	if err != nil {
		return "", err
	}
	return c.trans.FromBackend(native)
}
