package profile

import (
	"errors"
	"fmt"
)

// ErrUnknownBackendProfile is returned when the backend reports a
// profile outside the configured three-element mapping. This is a
// configuration error, not a per-request condition.
var ErrUnknownBackendProfile = errors.New("unknown backend profile")

// Default backend profile names, per the TuneD driver.
const (
	backendPowerSave   = "powersave"
	backendBalanced    = "balanced"
	backendPerformance = "throughput-performance"
)

// Translator maps between the public profile vocabulary and the
// backend's native profile names. Both directions are total over their
// respective three-element domains.
type Translator struct {
	toBackend   map[Profile]string
	fromBackend map[string]Profile
}

// DefaultMapping returns the stock profile → backend-profile mapping.
func DefaultMapping() map[Profile]string {
	return map[Profile]string{
		PowerSaver:  backendPowerSave,
		Balanced:    backendBalanced,
		Performance: backendPerformance,
	}
}

// NewTranslator builds a translator from the given mapping. The mapping
// must cover all three profiles and be injective so that translation
// round-trips.
func NewTranslator(mapping map[Profile]string) (*Translator, error) {
	t := &Translator{
		toBackend:   make(map[Profile]string, len(All)),
		fromBackend: make(map[string]Profile, len(All)),
	}
	for _, p := range All {
		name, ok := mapping[p]
		if !ok || name == "" {
			return nil, fmt.Errorf("translator: no backend profile for %q", p)
		}
		if prev, dup := t.fromBackend[name]; dup {
			return nil, fmt.Errorf("translator: backend profile %q mapped to both %q and %q", name, prev, p)
		}
		t.toBackend[p] = name
		t.fromBackend[name] = p
	}
	return t, nil
}

// ToBackend returns the backend profile name for p.
func (t *Translator) ToBackend(p Profile) string {
	return t.toBackend[p]
}

// FromBackend returns the profile whose backend name is name.
func (t *Translator) FromBackend(name string) (Profile, error) {
	p, ok := t.fromBackend[name]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownBackendProfile, name)
	}
	return p, nil
}
