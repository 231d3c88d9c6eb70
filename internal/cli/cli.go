// Package cli defines the indiserver-ui command tree and maps errors to exit codes.
package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rbright/indiserver-ui/internal/discovery"
	"github.com/rbright/indiserver-ui/internal/server"
	"github.com/rbright/indiserver-ui/internal/version"
)

// BinaryName is the command name shown in usage output.
const BinaryName = "indiserver-ui"

// Globals holds the persistent flags shared by every command.
type Globals struct {
	ConfigPath string
	DriverDir  string
	ServerBin  string
	Verbose    bool
}

// DriversOptions controls the drivers listing.
type DriversOptions struct {
	Filter       string
	SelectedOnly bool
	Watch        bool
}

// StartOptions controls the start command.
type StartOptions struct {
	Drivers     []string
	Notify      bool
	IfAutostart bool
}

// Actions is the application surface invoked by the command tree.
type Actions interface {
	Drivers(context.Context, Globals, DriversOptions) error
	Select(ctx context.Context, g Globals, refs []string) error
	Toggle(ctx context.Context, g Globals, refs []string) error
	Start(context.Context, Globals, StartOptions) error
	Stop(context.Context, Globals) error
	Status(context.Context, Globals) error
	Autostart(ctx context.Context, g Globals, enabled bool) error
	Doctor(context.Context, Globals) error
}

// ActionError marks a failure raised while running a command, as opposed to a
// usage error detected while parsing arguments.
type ActionError struct {
	Err error
}

func (e *ActionError) Error() string { return e.Err.Error() }
func (e *ActionError) Unwrap() error { return e.Err }

// ExitCode maps an Execute error to the process exit status:
// 0 on success, 1 for command failures, 2 for usage errors.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var actionErr *ActionError
	if errors.As(err, &actionErr) {
		return 1
	}
	return 2
}

// NewRootCommand builds the command tree around actions.
func NewRootCommand(actions Actions) *cobra.Command {
	var g Globals

	rootCmd := &cobra.Command{
		Use:           BinaryName,
		Short:         "Select INDI drivers and run indiserver",
		Version:       version.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	rootCmd.SetVersionTemplate("{{.Version}}\n")

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&g.ConfigPath, "config", "", "Config file path (default: $XDG_CONFIG_HOME/indiserver_ui/config.ini)")
	flags.StringVar(&g.DriverDir, "driver-dir", discovery.DefaultDir, "Directory scanned for indi_* driver executables")
	flags.StringVar(&g.ServerBin, "server-bin", server.DefaultBinary, "indiserver executable name or path")
	flags.BoolVarP(&g.Verbose, "verbose", "v", false, "Write debug records to the log file")

	rootCmd.AddCommand(
		newDriversCommand(actions, &g),
		newSelectCommand(actions, &g),
		newToggleCommand(actions, &g),
		newStartCommand(actions, &g),
		newStopCommand(actions, &g),
		newStatusCommand(actions, &g),
		newAutostartCommand(actions, &g),
		newDoctorCommand(actions, &g),
		newVersionCommand(),
	)

	return rootCmd
}

func newDriversCommand(actions Actions, g *Globals) *cobra.Command {
	var opts DriversOptions
	cmd := &cobra.Command{
		Use:     "drivers",
		Aliases: []string{"ls"},
		Short:   "List installed drivers and their selection",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return wrap(actions.Drivers(cmd.Context(), *g, opts))
		},
	}
	cmd.Flags().StringVarP(&opts.Filter, "filter", "f", "", "Only show drivers whose display name contains this text")
	cmd.Flags().BoolVar(&opts.SelectedOnly, "selected", false, "Only show selected drivers")
	cmd.Flags().BoolVarP(&opts.Watch, "watch", "w", false, "Re-render when the driver directory changes")
	return cmd
}

func newSelectCommand(actions Actions, g *Globals) *cobra.Command {
	return &cobra.Command{
		Use:   "select [DRIVER...]",
		Short: "Replace the saved selection; no arguments clears it",
		RunE: func(cmd *cobra.Command, args []string) error {
			return wrap(actions.Select(cmd.Context(), *g, args))
		},
	}
}

func newToggleCommand(actions Actions, g *Globals) *cobra.Command {
	return &cobra.Command{
		Use:   "toggle DRIVER...",
		Short: "Flip the selection of the named drivers",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return wrap(actions.Toggle(cmd.Context(), *g, args))
		},
	}
}

func newStartCommand(actions Actions, g *Globals) *cobra.Command {
	var opts StartOptions
	cmd := &cobra.Command{
		Use:   "start [DRIVER...]",
		Short: "Start indiserver with the saved selection or the named drivers",
		Long: "Start indiserver and keep it running until stop is requested or the process is interrupted.\n" +
			"Named drivers replace the saved selection before the server is launched.",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Drivers = args
			return wrap(actions.Start(cmd.Context(), *g, opts))
		},
	}
	cmd.Flags().BoolVar(&opts.Notify, "notify", false, "Post desktop notifications for server state changes")
	cmd.Flags().BoolVar(&opts.IfAutostart, "if-autostart", false, "Exit quietly unless autostart is enabled in the config")
	return cmd
}

func newStopCommand(actions Actions, g *Globals) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the running indiserver",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return wrap(actions.Stop(cmd.Context(), *g))
		},
	}
}

func newStatusCommand(actions Actions, g *Globals) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the server state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return wrap(actions.Status(cmd.Context(), *g))
		},
	}
}

func newAutostartCommand(actions Actions, g *Globals) *cobra.Command {
	return &cobra.Command{
		Use:       "autostart on|off",
		Short:     "Persist the autostart flag",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"on", "off", "true", "false"},
		RunE: func(cmd *cobra.Command, args []string) error {
			enabled, err := ParseSwitch(args[0])
			if err != nil {
				return err
			}
			return wrap(actions.Autostart(cmd.Context(), *g, enabled))
		},
	}
}

func newDoctorCommand(actions Actions, g *Globals) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run configuration and environment checks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return wrap(actions.Doctor(cmd.Context(), *g))
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
		},
	}
}

// ParseSwitch accepts on/off and true/false.
func ParseSwitch(value string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "on", "true":
		return true, nil
	case "off", "false":
		return false, nil
	default:
		return false, fmt.Errorf("expected on or off, got %q", value)
	}
}

func wrap(err error) error {
	if err == nil {
		return nil
	}
	return &ActionError{Err: err}
}
