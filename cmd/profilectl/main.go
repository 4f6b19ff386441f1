package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/godbus/dbus/v5"
	"github.com/spf13/cobra"
)

var (
	busName    string
	objectPath string
	format     string
)

func main() {
	root := &cobra.Command{
		Use:   "profilectl",
		Short: "profilectl — inspect and control the profiled arbitration daemon",
	}

	root.PersistentFlags().StringVar(&busName, "bus-name", "net.hadess.PowerProfiles", "well-known bus name of the daemon")
	root.PersistentFlags().StringVar(&objectPath, "object-path", "/net/hadess/PowerProfiles", "object path of the daemon")
	root.PersistentFlags().StringVar(&format, "format", "table", "output format: table or json")

	root.AddCommand(
		statusCmd(),
		listCmd(),
		setCmd(),
		holdCmd(),
		releaseCmd(),
		monitorCmd(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func connect() (*dbus.Conn, dbus.BusObject, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, nil, fmt.Errorf("connect to system bus: %w", err)
	}
	return conn, conn.Object(busName, dbus.ObjectPath(objectPath)), nil
}

func getProp(obj dbus.BusObject, name string) (dbus.Variant, error) {
	v, err := obj.GetProperty(busName + "." + name)
	if err != nil {
		return dbus.Variant{}, fmt.Errorf("get %s: %w", name, err)
	}
	return v, nil
}

type holdRecord struct {
	Profile       string `json:"profile"`
	Reason        string `json:"reason"`
	ApplicationID string `json:"application_id"`
}

func decodeHolds(v dbus.Variant) []holdRecord {
	raw, _ := v.Value().([]map[string]dbus.Variant)
	records := make([]holdRecord, 0, len(raw))
	for _, m := range raw {
		var r holdRecord
		if s, ok := m["Profile"].Value().(string); ok {
			r.Profile = s
		}
		if s, ok := m["Reason"].Value().(string); ok {
			r.Reason = s
		}
		if s, ok := m["ApplicationId"].Value().(string); ok {
			r.ApplicationID = s
		}
		records = append(records, r)
	}
	return records
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the active profile and current holds",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, obj, err := connect()
			if err != nil {
				return err
			}
			defer conn.Close()

			active, err := getProp(obj, "ActiveProfile")
			if err != nil {
				return err
			}
			holdsVar, err := getProp(obj, "ActiveProfileHolds")
			if err != nil {
				return err
			}
			records := decodeHolds(holdsVar)

			if format == "json" {
				out := struct {
					ActiveProfile string       `json:"active_profile"`
					Holds         []holdRecord `json:"holds"`
				}{active.Value().(string), records}
				data, _ := json.MarshalIndent(out, "", "  ")
				fmt.Println(string(data))
				return nil
			}

			fmt.Printf("Active profile: %s\n", active.Value())
			if len(records) == 0 {
				fmt.Println("No active holds")
				return nil
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "PROFILE\tAPPLICATION\tREASON")
			for _, r := range records {
				fmt.Fprintf(w, "%s\t%s\t%s\n", r.Profile, r.ApplicationID, r.Reason)
			}
			return w.Flush()
		},
	}
}

func listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List available profiles",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, obj, err := connect()
			if err != nil {
				return err
			}
			defer conn.Close()

			v, err := getProp(obj, "Profiles")
			if err != nil {
				return err
			}
			raw, _ := v.Value().([]map[string]dbus.Variant)

			if format == "json" {
				type rec struct {
					Profile string `json:"profile"`
					Driver  string `json:"driver"`
				}
				out := make([]rec, 0, len(raw))
				for _, m := range raw {
					p, _ := m["Profile"].Value().(string)
					d, _ := m["Driver"].Value().(string)
					out = append(out, rec{p, d})
				}
				data, _ := json.MarshalIndent(out, "", "  ")
				fmt.Println(string(data))
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "PROFILE\tDRIVER")
			for _, m := range raw {
				fmt.Fprintf(w, "%s\t%s\n", m["Profile"].Value(), m["Driver"].Value())
			}
			return w.Flush()
		},
	}
}

func setCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <profile>",
		Short: "Set the base profile (clears all holds)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, obj, err := connect()
			if err != nil {
				return err
			}
			defer conn.Close()

			if err := obj.SetProperty(busName+".ActiveProfile", dbus.MakeVariant(args[0])); err != nil {
				return fmt.Errorf("set profile: %w", err)
			}
			fmt.Printf("Base profile set to %s\n", args[0])
			return nil
		},
	}
}

func holdCmd() *cobra.Command {
	var reason, appID string

	cmd := &cobra.Command{
		Use:   "hold <profile>",
		Short: "Hold a profile until interrupted (Ctrl-C releases it)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, obj, err := connect()
			if err != nil {
				return err
			}
			defer conn.Close()

			var cookie uint32
			if err := obj.Call(busName+".HoldProfile", 0, args[0], reason, appID).Store(&cookie); err != nil {
				return fmt.Errorf("hold profile: %w", err)
			}
			fmt.Printf("Holding %s (cookie %d), press Ctrl-C to release\n", args[0], cookie)

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			<-sigCh

			// Best effort: the daemon releases the hold anyway when
			// this connection drops off the bus.
			if err := obj.Call(busName+".ReleaseProfile", 0, cookie).Err; err != nil {
				return fmt.Errorf("release profile: %w", err)
			}
			fmt.Printf("Released cookie %d\n", cookie)
			return nil
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "manual hold via profilectl", "reason recorded with the hold")
	cmd.Flags().StringVar(&appID, "app-id", "profilectl", "application id recorded with the hold")
	return cmd
}

func releaseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "release <cookie>",
		Short: "Release a hold by cookie",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var cookie uint32
			if _, err := fmt.Sscanf(args[0], "%d", &cookie); err != nil {
				return fmt.Errorf("invalid cookie %q", args[0])
			}

			conn, obj, err := connect()
			if err != nil {
				return err
			}
			defer conn.Close()

			if err := obj.Call(busName+".ReleaseProfile", 0, cookie).Err; err != nil {
				return fmt.Errorf("release profile: %w", err)
			}
			fmt.Printf("Released cookie %d\n", cookie)
			return nil
		},
	}
}

func monitorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "monitor",
		Short: "Stream hold releases and property changes",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, _, err := connect()
			if err != nil {
				return err
			}
			defer conn.Close()

			if err := conn.AddMatchSignal(
				dbus.WithMatchInterface(busName),
				dbus.WithMatchMember("ProfileReleased"),
			); err != nil {
				return fmt.Errorf("add match: %w", err)
			}
			if err := conn.AddMatchSignal(
				dbus.WithMatchInterface("org.freedesktop.DBus.Properties"),
				dbus.WithMatchMember("PropertiesChanged"),
				dbus.WithMatchObjectPath(dbus.ObjectPath(objectPath)),
			); err != nil {
				return fmt.Errorf("add match: %w", err)
			}

			sigCh := make(chan *dbus.Signal, 16)
			conn.Signal(sigCh)
			fmt.Println("Monitoring, press Ctrl-C to stop")

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

			for {
				select {
				case <-stop:
					return nil
				case sig := <-sigCh:
					printSignal(sig)
				}
			}
		},
	}
}

func printSignal(sig *dbus.Signal) {
	switch sig.Name {
	case busName + ".ProfileReleased":
		if len(sig.Body) == 1 {
			fmt.Printf("ProfileReleased cookie=%v\n", sig.Body[0])
		}
	case "org.freedesktop.DBus.Properties.PropertiesChanged":
		if len(sig.Body) >= 2 {
			changed, _ := sig.Body[1].(map[string]dbus.Variant)
			for name, v := range changed {
				fmt.Printf("PropertiesChanged %s=%v\n", name, v.Value())
			}
		}
	}
}
