package metrics

import (
	"log/slog"
	"os"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"profiled/internal/events"
	"profiled/internal/profile"
)

func TestHandlerNoPanic(t *testing.T) {
	// Handler() should return without panic (metrics already registered in init)
	h := Handler()
	if h == nil {
		t.Error("expected non-nil handler")
	}
}

func TestRegisterEventHandlerUpdatesMetrics(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	emitter := events.NewEmitter(logger)
	RegisterEventHandler(emitter)

	before := testutil.ToFloat64(ActiveHolds)

	emitter.Emit(events.Event{Type: events.HoldAdded, Cookie: 0, Profile: profile.Performance})
	emitter.Emit(events.Event{Type: events.HoldAdded, Cookie: 1, Profile: profile.PowerSaver})
	if got := testutil.ToFloat64(ActiveHolds); got != before+2 {
		t.Errorf("active holds = %v, want %v", got, before+2)
	}

	emitter.Emit(events.Event{Type: events.HoldReleased, Cookie: 1, Profile: profile.PowerSaver})
	if got := testutil.ToFloat64(ActiveHolds); got != before+1 {
		t.Errorf("active holds = %v, want %v", got, before+1)
	}

	emitter.Emit(events.Event{Type: events.BaseChanged, Profile: profile.PowerSaver})
	if got := testutil.ToFloat64(BaseProfile.WithLabelValues("power-saver")); got != 1 {
		t.Errorf("base_profile{power-saver} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(BaseProfile.WithLabelValues("balanced")); got != 0 {
		t.Errorf("base_profile{balanced} = %v, want 0", got)
	}

	emitter.Emit(events.Event{Type: events.ProfileSwitched, Profile: profile.PowerSaver})
	if got := testutil.ToFloat64(SwitchesTotal.WithLabelValues("power-saver")); got < 1 {
		t.Errorf("switches{power-saver} = %v, want >= 1", got)
	}
}
