package holds

import (
	"log/slog"
	"sort"
	"sync"

	"profiled/internal/events"
	"profiled/internal/profile"
)

// Watch is a cancellable liveness registration owned by a hold.
type Watch interface {
	Cancel()
}

// WatchFunc registers a liveness watch for a bus name and returns its
// cancellation handle.
type WatchFunc func(owner string, onGone func()) Watch

// Hold represents one outstanding request to pin the system to a
// non-base profile.
type Hold struct {
	Cookie  uint32          `json:"cookie"`
	Profile profile.Profile `json:"profile"`
	Reason  string          `json:"reason"`
	AppID   string          `json:"app_id"`
	Owner   string          `json:"owner"`

	watch Watch
}

// Registry owns the set of active holds and is the single source of
// truth for what is being requested and by whom. Cookies are allocated
// from a process-lifetime monotonic counter and never reused.
type Registry struct {
	watch   WatchFunc
	emitter *events.Emitter
	logger  *slog.Logger

	mu    sync.Mutex
	holds map[uint32]*Hold
	next  uint32
}

// NewRegistry creates an empty hold registry.
func NewRegistry(watch WatchFunc, emitter *events.Emitter, logger *slog.Logger) *Registry {
	return &Registry{
		watch:   watch,
		emitter: emitter,
		logger:  logger.With("component", "hold-registry"),
		holds:   make(map[uint32]*Hold),
	}
}

// Add allocates the next cookie, stores the hold, and registers a
// liveness watch on owner whose callback invokes onGone with the
// cookie. The profile must already have been validated by the caller.
func (r *Registry) Add(p profile.Profile, reason, appID, owner string, onGone func(cookie uint32)) uint32 {
	r.mu.Lock()
	cookie := r.next
	r.next++
	h := &Hold{
		Cookie:  cookie,
		Profile: p,
		Reason:  reason,
		AppID:   appID,
		Owner:   owner,
	}
	r.holds[cookie] = h
	r.mu.Unlock()

	// The hold is stored before the watch is live, so a watch that
	// fires immediately still finds its cookie.
	w := r.watch(owner, func() { onGone(cookie) })

	r.mu.Lock()
	if cur, ok := r.holds[cookie]; ok {
		cur.watch = w
		r.mu.Unlock()
	} else {
		// Removed between store and watch attach.
		r.mu.Unlock()
		w.Cancel()
	}

	r.logger.Info("hold added", "cookie", cookie, "profile", p, "reason", reason, "app_id", appID, "owner", owner)
	r.emitter.Emit(events.Event{Type: events.HoldAdded, Cookie: cookie, Profile: p, AppID: appID})
	return cookie
}

// Remove deletes the hold identified by cookie, cancelling its watch
// and emitting a hold-released event. Removing an absent cookie is a
// no-op; the return value reports whether anything was removed.
func (r *Registry) Remove(cookie uint32) bool {
	r.mu.Lock()
	h, ok := r.holds[cookie]
	if ok {
		delete(r.holds, cookie)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}
	if h.watch != nil {
		h.watch.Cancel()
	}
	r.logger.Info("hold released", "cookie", cookie, "profile", h.Profile, "app_id", h.AppID)
	r.emitter.Emit(events.Event{Type: events.HoldReleased, Cookie: cookie, Profile: h.Profile, AppID: h.AppID})
	return true
}

// Clear removes every active hold through the normal removal path, one
// released event per hold.
func (r *Registry) Clear() {
	r.mu.Lock()
	cookies := make([]uint32, 0, len(r.holds))
	for c := range r.holds {
		cookies = append(cookies, c)
	}
	r.mu.Unlock()

	sort.Slice(cookies, func(i, j int) bool { return cookies[i] < cookies[j] })
	for _, c := range cookies {
		r.Remove(c)
	}
}

// EffectiveProfile returns the profile the active hold set arbitrates
// to, or false when no holds are active. Any power-saver hold wins over
// any number of performance holds.
func (r *Registry) EffectiveProfile() (profile.Profile, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.holds) == 0 {
		return "", false
	}
	for _, h := range r.holds {
		if h.Profile == profile.PowerSaver {
			return profile.PowerSaver, true
		}
	}
	return profile.Performance, true
}

// List returns a snapshot of all active holds, ordered by cookie.
func (r *Registry) List() []Hold {
	r.mu.Lock()
	defer r.mu.Unlock()

	result := make([]Hold, 0, len(r.holds))
	for _, h := range r.holds {
		result = append(result, *h)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Cookie < result[j].Cookie })
	return result
}

// Len returns the number of active holds.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.holds)
}
