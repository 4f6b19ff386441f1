package backend

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"

	"github.com/godbus/dbus/v5"
)

// fakeBusObject cans one reply per method name and records every call.
type fakeBusObject struct {
	replies map[string]*dbus.Call
	calls   []recordedCall
}

type recordedCall struct {
	method string
	args   []interface{}
}

func (f *fakeBusObject) respond(method string) *dbus.Call {
	if call, ok := f.replies[method]; ok {
		return call
	}
	return &dbus.Call{Err: errors.New("unexpected method " + method)}
}

func (f *fakeBusObject) Call(method string, flags dbus.Flags, args ...interface{}) *dbus.Call {
	f.calls = append(f.calls, recordedCall{method: method, args: args})
	return f.respond(method)
}

func (f *fakeBusObject) CallWithContext(ctx context.Context, method string, flags dbus.Flags, args ...interface{}) *dbus.Call {
	f.calls = append(f.calls, recordedCall{method: method, args: args})
	return f.respond(method)
}

func (f *fakeBusObject) Go(method string, flags dbus.Flags, ch chan *dbus.Call, args ...interface{}) *dbus.Call {
	return f.respond(method)
}

func (f *fakeBusObject) GoWithContext(ctx context.Context, method string, flags dbus.Flags, ch chan *dbus.Call, args ...interface{}) *dbus.Call {
	return f.respond(method)
}

func (f *fakeBusObject) AddMatchSignal(iface, member string, options ...dbus.MatchOption) *dbus.Call {
	return &dbus.Call{}
}

func (f *fakeBusObject) RemoveMatchSignal(iface, member string, options ...dbus.MatchOption) *dbus.Call {
	return &dbus.Call{}
}

func (f *fakeBusObject) GetProperty(p string) (dbus.Variant, error) {
	return dbus.Variant{}, errors.New("not implemented")
}

func (f *fakeBusObject) StoreProperty(p string, value interface{}) error {
	return errors.New("not implemented")
}

func (f *fakeBusObject) SetProperty(p string, v interface{}) error {
	return errors.New("not implemented")
}

func (f *fakeBusObject) Destination() string { return "com.redhat.tuned" }

func (f *fakeBusObject) Path() dbus.ObjectPath { return "/Tuned" }

func testTuned(t *testing.T, obj dbus.BusObject) *Tuned {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return newTuned(obj, DefaultTunedConfig(), logger)
}

func TestSwitchProfileSuccess(t *testing.T) {
	obj := &fakeBusObject{replies: map[string]*dbus.Call{
		"com.redhat.tuned.control.switch_profile": {Body: []interface{}{true, ""}},
	}}
	tuned := testTuned(t, obj)

	if err := tuned.SwitchProfile(context.Background(), "powersave"); err != nil {
		t.Fatalf("SwitchProfile: %v", err)
	}
	if len(obj.calls) != 1 {
		t.Fatalf("calls = %d, want 1", len(obj.calls))
	}
	if got := obj.calls[0].method; got != "com.redhat.tuned.control.switch_profile" {
		t.Errorf("method = %q", got)
	}
	if got := obj.calls[0].args; len(got) != 1 || got[0] != "powersave" {
		t.Errorf("args = %v, want [powersave]", got)
	}
}

func TestSwitchProfileRejected(t *testing.T) {
	// TuneD reports a rejected switch as a successful call with a
	// (false, message) result, not as a D-Bus error.
	obj := &fakeBusObject{replies: map[string]*dbus.Call{
		"com.redhat.tuned.control.switch_profile": {Body: []interface{}{false, "profile not found"}},
	}}
	tuned := testTuned(t, obj)

	err := tuned.SwitchProfile(context.Background(), "bogus")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
	if !strings.Contains(err.Error(), "profile not found") {
		t.Errorf("err = %v, want the backend message included", err)
	}
}

func TestSwitchProfileCallError(t *testing.T) {
	obj := &fakeBusObject{replies: map[string]*dbus.Call{
		"com.redhat.tuned.control.switch_profile": {Err: errors.New("no reply")},
	}}
	tuned := testTuned(t, obj)

	if err := tuned.SwitchProfile(context.Background(), "balanced"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
}

func TestActiveProfile(t *testing.T) {
	obj := &fakeBusObject{replies: map[string]*dbus.Call{
		"com.redhat.tuned.control.active_profile": {Body: []interface{}{"balanced"}},
	}}
	tuned := testTuned(t, obj)

	name, err := tuned.ActiveProfile(context.Background())
	if err != nil {
		t.Fatalf("ActiveProfile: %v", err)
	}
	if name != "balanced" {
		t.Errorf("name = %q, want balanced", name)
	}
	if got := obj.calls[0].method; got != "com.redhat.tuned.control.active_profile" {
		t.Errorf("method = %q", got)
	}
}

func TestActiveProfileCallError(t *testing.T) {
	obj := &fakeBusObject{replies: map[string]*dbus.Call{
		"com.redhat.tuned.control.active_profile": {Err: errors.New("name has no owner")},
	}}
	tuned := testTuned(t, obj)

	if _, err := tuned.ActiveProfile(context.Background()); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
}
