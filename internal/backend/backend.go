// Package backend talks to the profile-switching daemon that actually
// applies system tuning. The arbitration core only needs two calls.
package backend

import (
	"context"
	"errors"
)

// ErrUnavailable indicates the backend rejected or failed a call. The
// controller surfaces it for the one request and does not retry.
var ErrUnavailable = errors.New("backend unavailable")

// Backend applies profiles and reports the currently applied one.
type Backend interface {
	// SwitchProfile asks the backend to apply the named native profile.
	SwitchProfile(ctx context.Context, native string) error

	// ActiveProfile returns the backend's currently applied native
	// profile name.
	ActiveProfile(ctx context.Context) (string, error)
}
