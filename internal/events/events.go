package events

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"profiled/internal/profile"
)

// Event type constants.
const (
	HoldAdded       = "hold.added"
	HoldReleased    = "hold.released"
	ProfileSwitched = "profile.switched"
	BaseChanged     = "base.changed"
)

// Event represents a lifecycle event for a hold or profile transition.
type Event struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Cookie    uint32          `json:"cookie,omitempty"`
	Profile   profile.Profile `json:"profile,omitempty"`
	AppID     string          `json:"app_id,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Emitter logs events and dispatches them to registered handlers.
type Emitter struct {
	logger   *slog.Logger
	mu       sync.RWMutex
	handlers []func(Event)
}

// NewEmitter creates a new event emitter.
func NewEmitter(logger *slog.Logger) *Emitter {
	return &Emitter{
		logger: logger.With("component", "events"),
	}
}

// Emit logs the event and calls all registered handlers.
func (e *Emitter) Emit(ev Event) {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	attrs := []any{
		"event", ev.Type,
		"event_id", ev.ID,
	}
	if ev.Type == HoldAdded || ev.Type == HoldReleased {
		attrs = append(attrs, "cookie", ev.Cookie)
	}
	if ev.Profile != "" {
		attrs = append(attrs, "profile", ev.Profile)
	}
	if ev.AppID != "" {
		attrs = append(attrs, "app_id", ev.AppID)
	}
	e.logger.Info("event emitted", attrs...)

	e.mu.RLock()
	handlers := e.handlers
	e.mu.RUnlock()

	for _, fn := range handlers {
		if fn != nil {
			fn(ev)
		}
	}
}

// OnEvent registers a handler to be called for every emitted event.
// Returns an ID that can be used with RemoveHandler.
func (e *Emitter) OnEvent(fn func(Event)) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers = append(e.handlers, fn)
	return len(e.handlers) - 1
}

// RemoveHandler removes a handler by its ID.
func (e *Emitter) RemoveHandler(id int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if id >= 0 && id < len(e.handlers) {
		e.handlers[id] = nil
	}
}
