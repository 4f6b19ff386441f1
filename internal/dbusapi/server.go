// Package dbusapi exposes the arbitration controller on the message
// bus. It is pure marshalling: every decision lives in the arbiter.
package dbusapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
	"github.com/godbus/dbus/v5/prop"

	"profiled/internal/arbiter"
	"profiled/internal/events"
	"profiled/internal/holds"
	"profiled/internal/profile"
)

// Server exports the power-profiles interface for one controller.
type Server struct {
	conn    *dbus.Conn
	ctrl    *arbiter.Controller
	emitter *events.Emitter
	logger  *slog.Logger

	busName string
	path    dbus.ObjectPath
	iface   string
	props   *prop.Properties

	refreshMu   sync.Mutex
	refreshes   []func()
	refreshWake chan struct{}
}

// NewServer creates an unexported server; call Export to put it on the
// bus.
func NewServer(conn *dbus.Conn, ctrl *arbiter.Controller, emitter *events.Emitter, busName, objectPath string, logger *slog.Logger) *Server {
	return &Server{
		conn:        conn,
		ctrl:        ctrl,
		emitter:     emitter,
		logger:      logger.With("component", "dbusapi"),
		busName:     busName,
		path:        dbus.ObjectPath(objectPath),
		iface:       busName,
		refreshWake: make(chan struct{}, 1),
	}
}

// Export publishes methods, properties, and introspection data, wires
// signal emission to the event emitter, and claims the well-known bus
// name.
func (s *Server) Export(ctx context.Context) error {
	methods := map[string]interface{}{
		"HoldProfile":    s.holdProfile,
		"ReleaseProfile": s.releaseProfile,
	}
	if err := s.conn.ExportMethodTable(methods, s.path, s.iface); err != nil {
		return fmt.Errorf("export methods: %w", err)
	}

	active, err := s.ctrl.CurrentProfile(ctx)
	if err != nil {
		return fmt.Errorf("read initial profile: %w", err)
	}

	propSpec := map[string]map[string]*prop.Prop{
		s.iface: {
			"ActiveProfile": {
				Value:    string(active),
				Writable: true,
				Emit:     prop.EmitTrue,
				Callback: s.setActiveProfile,
			},
			"Profiles": {
				Value: profileRecords(),
				Emit:  prop.EmitTrue,
			},
			"Actions": {
				Value: []string{},
				Emit:  prop.EmitTrue,
			},
			"PerformanceDegraded": {
				Value: "",
				Emit:  prop.EmitTrue,
			},
			"ActiveProfileHolds": {
				Value: holdRecords(s.ctrl.Holds()),
				Emit:  prop.EmitTrue,
			},
		},
	}
	props, err := prop.Export(s.conn, s.path, propSpec)
	if err != nil {
		return fmt.Errorf("export properties: %w", err)
	}
	s.props = props

	node := &introspect.Node{
		Name: string(s.path),
		Interfaces: []introspect.Interface{
			introspect.IntrospectData,
			prop.IntrospectData,
			{
				Name: s.iface,
				Methods: []introspect.Method{
					{
						Name: "HoldProfile",
						Args: []introspect.Arg{
							{Name: "profile", Type: "s", Direction: "in"},
							{Name: "reason", Type: "s", Direction: "in"},
							{Name: "application_id", Type: "s", Direction: "in"},
							{Name: "cookie", Type: "u", Direction: "out"},
						},
					},
					{
						Name: "ReleaseProfile",
						Args: []introspect.Arg{
							{Name: "cookie", Type: "u", Direction: "in"},
						},
					},
				},
				Signals: []introspect.Signal{
					{
						Name: "ProfileReleased",
						Args: []introspect.Arg{{Name: "cookie", Type: "u"}},
					},
				},
				Properties: []introspect.Property{
					{Name: "ActiveProfile", Type: "s", Access: "readwrite"},
					{Name: "Profiles", Type: "aa{sv}", Access: "read"},
					{Name: "Actions", Type: "as", Access: "read"},
					{Name: "PerformanceDegraded", Type: "s", Access: "read"},
					{Name: "ActiveProfileHolds", Type: "aa{sv}", Access: "read"},
				},
			},
		},
	}
	if err := s.conn.Export(introspect.NewIntrospectable(node), s.path, "org.freedesktop.DBus.Introspectable"); err != nil {
		return fmt.Errorf("export introspection: %w", err)
	}

	go s.refreshLoop(ctx)
	s.emitter.OnEvent(s.handleEvent)

	reply, err := s.conn.RequestName(s.busName, dbus.NameFlagDoNotQueue)
	if err != nil {
		return fmt.Errorf("request name %s: %w", s.busName, err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		return fmt.Errorf("request name %s: not primary owner (another instance running?)", s.busName)
	}

	s.logger.Info("interface exported", "name", s.busName, "path", s.path)
	return nil
}

func (s *Server) holdProfile(sender dbus.Sender, profileName, reason, appID string) (uint32, *dbus.Error) {
	p, _ := profile.Parse(profileName)
	cookie, err := s.ctrl.RequestHold(context.Background(), p, reason, appID, string(sender))
	if err != nil {
		return 0, mapError(err)
	}
	return cookie, nil
}

func (s *Server) releaseProfile(cookie uint32) *dbus.Error {
	if err := s.ctrl.ReleaseHold(context.Background(), cookie); err != nil {
		return mapError(err)
	}
	return nil
}

// setActiveProfile handles external writes to the ActiveProfile
// property, which set the base profile.
func (s *Server) setActiveProfile(c *prop.Change) *dbus.Error {
	name, ok := c.Value.(string)
	if !ok {
		return dbus.MakeFailedError(errors.New("ActiveProfile must be a string"))
	}
	p, _ := profile.Parse(name)
	if err := s.ctrl.SetBaseProfile(context.Background(), p); err != nil {
		return mapError(err)
	}
	return nil
}

// handleEvent mirrors registry and controller events onto the bus:
// ProfileReleased signals and property refreshes. Events fire from
// inside an ActiveProfile write callback, where the prop layer's mutex
// is already held, so refreshes are queued instead of applied inline;
// the values are captured here to keep them in event order.
func (s *Server) handleEvent(ev events.Event) {
	switch ev.Type {
	case events.HoldAdded:
		records := holdRecords(s.ctrl.Holds())
		s.queueRefresh(func() { s.props.SetMust(s.iface, "ActiveProfileHolds", records) })
	case events.HoldReleased:
		records := holdRecords(s.ctrl.Holds())
		s.queueRefresh(func() { s.props.SetMust(s.iface, "ActiveProfileHolds", records) })
		if err := s.conn.Emit(s.path, s.iface+".ProfileReleased", ev.Cookie); err != nil {
			s.logger.Error("failed to emit ProfileReleased", "cookie", ev.Cookie, "error", err)
		}
	case events.ProfileSwitched, events.BaseChanged:
		name := string(ev.Profile)
		s.queueRefresh(func() { s.props.SetMust(s.iface, "ActiveProfile", name) })
	}
}

// queueRefresh hands a property update to the refresh goroutine. The
// queue is unbounded so queueing never blocks the event path, whatever
// locks it currently holds.
func (s *Server) queueRefresh(fn func()) {
	s.refreshMu.Lock()
	s.refreshes = append(s.refreshes, fn)
	s.refreshMu.Unlock()

	select {
	case s.refreshWake <- struct{}{}:
	default:
	}
}

// refreshLoop applies queued property updates in order. It is the only
// caller of props.SetMust, keeping the prop layer's mutex out of the
// controller's call paths.
func (s *Server) refreshLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.refreshWake:
			for {
				s.refreshMu.Lock()
				if len(s.refreshes) == 0 {
					s.refreshMu.Unlock()
					break
				}
				fn := s.refreshes[0]
				s.refreshes = s.refreshes[1:]
				s.refreshMu.Unlock()
				fn()
			}
		}
	}
}

// Close gives up the well-known name.
func (s *Server) Close() {
	if _, err := s.conn.ReleaseName(s.busName); err != nil {
		s.logger.Warn("failed to release bus name", "name", s.busName, "error", err)
	}
}

func mapError(err error) *dbus.Error {
	if errors.Is(err, arbiter.ErrInvalidProfile) {
		return dbus.NewError("org.freedesktop.DBus.Error.InvalidArgs", []interface{}{err.Error()})
	}
	// ErrUnknownCookie and backend.ErrUnavailable both surface as a
	// plain failure with the wrapped message.
	return dbus.MakeFailedError(err)
}

// profileRecords builds the Profiles property: one {Profile, Driver}
// record per valid profile.
func profileRecords() []map[string]dbus.Variant {
	records := make([]map[string]dbus.Variant, 0, len(profile.All))
	for _, p := range profile.All {
		records = append(records, map[string]dbus.Variant{
			"Profile": dbus.MakeVariant(string(p)),
			"Driver":  dbus.MakeVariant(profile.Driver),
		})
	}
	return records
}

// holdRecords builds the ActiveProfileHolds property.
func holdRecords(active []holds.Hold) []map[string]dbus.Variant {
	records := make([]map[string]dbus.Variant, 0, len(active))
	for _, h := range active {
		records = append(records, map[string]dbus.Variant{
			"Profile":       dbus.MakeVariant(string(h.Profile)),
			"Reason":        dbus.MakeVariant(h.Reason),
			"ApplicationId": dbus.MakeVariant(h.AppID),
		})
	}
	return records
}
