package profile

// Profile is a symbolic system-wide operating point.
type Profile string

const (
	PowerSaver  Profile = "power-saver"
	Balanced    Profile = "balanced"
	Performance Profile = "performance"
)

// Driver is the backend driver name reported in profile records.
const Driver = "TuneD"

// All lists every valid profile, in presentation order.
var All = []Profile{PowerSaver, Balanced, Performance}

// Valid reports whether p is one of the three known profiles.
func (p Profile) Valid() bool {
	return p == PowerSaver || p == Balanced || p == Performance
}

// Holdable reports whether p may be requested by a hold. Holds never
// request the base profile, so balanced is excluded.
func (p Profile) Holdable() bool {
	return p == PowerSaver || p == Performance
}

func (p Profile) String() string {
	return string(p)
}

// Parse returns the profile named by s.
func Parse(s string) (Profile, bool) {
	p := Profile(s)
	return p, p.Valid()
}
