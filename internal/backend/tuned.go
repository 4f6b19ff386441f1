package backend

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/godbus/dbus/v5"
)

// TunedConfig holds the bus location of the TuneD control interface.
type TunedConfig struct {
	BusName     string        `yaml:"bus_name"`
	ObjectPath  string        `yaml:"object_path"`
	Interface   string        `yaml:"interface"`
	CallTimeout time.Duration `yaml:"call_timeout"`
}

// DefaultTunedConfig returns the stock TuneD bus location.
func DefaultTunedConfig() TunedConfig {
	return TunedConfig{
		BusName:     "com.redhat.tuned",
		ObjectPath:  "/Tuned",
		Interface:   "com.redhat.tuned.control",
		CallTimeout: 10 * time.Second,
	}
}

// Tuned is a Backend backed by the TuneD daemon's D-Bus control
// interface.
type Tuned struct {
	obj     dbus.BusObject
	iface   string
	timeout time.Duration
	logger  *slog.Logger
}

// NewTuned creates a TuneD backend client on the given bus connection.
func NewTuned(conn *dbus.Conn, cfg TunedConfig, logger *slog.Logger) *Tuned {
	return newTuned(conn.Object(cfg.BusName, dbus.ObjectPath(cfg.ObjectPath)), cfg, logger)
}

func newTuned(obj dbus.BusObject, cfg TunedConfig, logger *slog.Logger) *Tuned {
	return &Tuned{
		obj:     obj,
		iface:   cfg.Interface,
		timeout: cfg.CallTimeout,
		logger:  logger.With("component", "tuned"),
	}
}

// SwitchProfile applies the named TuneD profile. TuneD reports failure
// both as a D-Bus error and as a (false, message) result; either maps
// to ErrUnavailable.
func (t *Tuned) SwitchProfile(ctx context.Context, native string) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	var ok bool
	var msg string
	call := t.obj.CallWithContext(ctx, t.iface+".switch_profile", 0, native)
	if err := call.Store(&ok, &msg); err != nil {
		return fmt.Errorf("%w: switch_profile %q: %v", ErrUnavailable, native, err)
	}
	if !ok {
		return fmt.Errorf("%w: switch_profile %q: %s", ErrUnavailable, native, msg)
	}
	t.logger.Debug("backend switched", "profile", native)
	return nil
}

// ActiveProfile returns TuneD's currently applied profile name.
func (t *Tuned) ActiveProfile(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	var name string
	call := t.obj.CallWithContext(ctx, t.iface+".active_profile", 0)
	if err := call.Store(&name); err != nil {
		return "", fmt.Errorf("%w: active_profile: %v", ErrUnavailable, err)
	}
	return name, nil
}
