package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"profiled/internal/events"
	"profiled/internal/profile"
)

var (
	ActiveHolds = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "profiled_active_holds",
		Help: "Number of currently active profile holds",
	})

	BaseProfile = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "profiled_base_profile",
		Help: "1 if the given profile is the current base profile",
	}, []string{"profile"})

	HoldsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "profiled_holds_total",
		Help: "Total holds requested per profile",
	}, []string{"profile"})

	ReleasesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "profiled_releases_total",
		Help: "Total hold releases, any cause",
	})

	SwitchesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "profiled_profile_switches_total",
		Help: "Profile transitions applied to the backend",
	}, []string{"profile"})
)

func init() {
	prometheus.MustRegister(
		ActiveHolds,
		BaseProfile,
		HoldsTotal,
		ReleasesTotal,
		SwitchesTotal,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

func setBaseProfile(p profile.Profile) {
	for _, known := range profile.All {
		v := float64(0)
		if known == p {
			v = 1
		}
		BaseProfile.WithLabelValues(string(known)).Set(v)
	}
}

// RegisterEventHandler wires metric updates to the event emitter.
func RegisterEventHandler(emitter *events.Emitter) {
	emitter.OnEvent(func(ev events.Event) {
		switch ev.Type {
		case events.HoldAdded:
			ActiveHolds.Inc()
			HoldsTotal.WithLabelValues(string(ev.Profile)).Inc()
		case events.HoldReleased:
			ActiveHolds.Dec()
			ReleasesTotal.Inc()
		case events.ProfileSwitched:
			SwitchesTotal.WithLabelValues(string(ev.Profile)).Inc()
		case events.BaseChanged:
			setBaseProfile(ev.Profile)
		}
	})
}
