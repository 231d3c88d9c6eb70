// Package app wires configuration, discovery, and the server lifecycle behind the CLI.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/rbright/indiserver-ui/internal/cli"
	"github.com/rbright/indiserver-ui/internal/config"
	"github.com/rbright/indiserver-ui/internal/discovery"
	"github.com/rbright/indiserver-ui/internal/doctor"
	"github.com/rbright/indiserver-ui/internal/indicator"
	"github.com/rbright/indiserver-ui/internal/ipc"
	"github.com/rbright/indiserver-ui/internal/logging"
	"github.com/rbright/indiserver-ui/internal/server"
	"github.com/rbright/indiserver-ui/internal/session"
)

var errDoctorFailed = errors.New("doctor checks failed")

// Runner executes one CLI invocation against the given output streams.
type Runner struct {
	Stdout io.Writer
	Stderr io.Writer
	Logger *slog.Logger
	// Notifier replaces the desktop notifier used by `start --notify`.
	Notifier session.Indicator
}

// Execute runs args with a default Runner and returns the process exit code.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	r := Runner{Stdout: stdout, Stderr: stderr}
	return r.Execute(ctx, args)
}

func (r Runner) Execute(ctx context.Context, args []string) int {
	root := cli.NewRootCommand(r)
	root.SetArgs(args)
	root.SetOut(r.Stdout)
	root.SetErr(r.Stderr)

	err := root.ExecuteContext(ctx)
	code := cli.ExitCode(err)
	switch code {
	case 1:
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
	case 2:
		fmt.Fprintf(r.Stderr, "error: %v\n\n", err)
		fmt.Fprint(r.Stderr, root.UsageString())
	}
	return code
}

// env is the per-command runtime: logger plus, when loaded, the config.
type env struct {
	logger *slog.Logger
	closer func() error
	cfg    config.Loaded
}

func (e env) close() {
	if e.closer != nil {
		_ = e.closer()
	}
}

// openLog starts the JSONL log for command. A log that cannot be opened is
// reported on stderr and replaced by a discarding logger.
func (r Runner) openLog(command string, g cli.Globals) env {
	level := slog.LevelInfo
	if g.Verbose {
		level = slog.LevelDebug
	}

	logRuntime, err := logging.New(level)
	if err != nil {
		fmt.Fprintf(r.Stderr, "warning: logging disabled: %v\n", err)
		logRuntime = logging.Discard()
	}

	logger := r.Logger
	if logger == nil {
		logger = logRuntime.Logger
	}
	logger.Info("command start", "command", command, "log", logRuntime.Path)
	return env{logger: logger, closer: logRuntime.Close}
}

// setup opens the log and loads the config, creating the default document
// on first run. Warnings go to stderr.
func (r Runner) setup(command string, g cli.Globals) (env, error) {
	e := r.openLog(command, g)

	path, err := config.ResolvePath(g.ConfigPath)
	if err != nil {
		e.close()
		return env{}, err
	}

	created, err := config.EnsureExists(path)
	if err != nil {
		e.logger.Error("create default config failed", "path", path, "error", err.Error())
		e.close()
		return env{}, err
	}
	if created {
		e.logger.Info("default config created", "path", path)
	}

	loaded, err := config.Load(path)
	if err != nil {
		e.logger.Error("load config failed", "error", err.Error())
		e.close()
		return env{}, err
	}
	for _, w := range loaded.Warnings {
		fmt.Fprintf(r.Stderr, "warning: %s\n", w.Message)
		e.logger.Warn("config warning", "message", w.Message)
	}

	e.logger.Debug("config loaded", "config", loaded.Path, "autostart", loaded.Config.Autostart, "drivers", loaded.Config.Drivers)
	e.cfg = loaded
	return e, nil
}

// Drivers lists discovered drivers merged with the saved selection.
func (r Runner) Drivers(ctx context.Context, g cli.Globals, opts cli.DriversOptions) error {
	e, err := r.setup("drivers", g)
	if err != nil {
		return err
	}
	defer e.close()

	drivers, err := discovery.List(g.DriverDir)
	if err != nil {
		return err
	}
	r.printDrivers(e.cfg.Config.Drivers, drivers, opts)

	if !opts.Watch {
		return nil
	}

	events, cleanup, err := discovery.Watch(ctx, g.DriverDir)
	if err != nil {
		return err
	}
	defer func() { _ = cleanup() }()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-events:
			if !ok {
				return nil
			}
			if event.Err != nil {
				fmt.Fprintf(r.Stderr, "warning: %v\n", event.Err)
				e.logger.Warn("driver rescan failed", "error", event.Err.Error())
				continue
			}
			// the selection may have been edited by another invocation
			if loaded, err := config.Load(e.cfg.Path); err == nil {
				e.cfg = loaded
			}
			e.logger.Debug("driver directory changed", "drivers", len(event.Drivers))
			fmt.Fprintln(r.Stdout)
			r.printDrivers(e.cfg.Config.Drivers, event.Drivers, opts)
		}
	}
}

func (r Runner) printDrivers(selected []string, drivers []discovery.Driver, opts cli.DriversOptions) {
	merged, missing := discovery.Merge(drivers, selected)
	r.warnMissing(missing)

	view := discovery.Filter(merged, opts.Filter)
	if opts.SelectedOnly {
		view = onlySelected(view)
	}
	if len(view) == 0 {
		fmt.Fprintln(r.Stdout, "no drivers found")
		return
	}
	fmt.Fprintln(r.Stdout, cli.RenderDrivers(view, cli.ShouldColorize(r.Stdout)))
}

// Select replaces the saved selection with refs.
func (r Runner) Select(_ context.Context, g cli.Globals, refs []string) error {
	e, err := r.setup("select", g)
	if err != nil {
		return err
	}
	defer e.close()

	drivers, err := discovery.List(g.DriverDir)
	if err != nil {
		return err
	}
	paths, err := resolveAll(drivers, refs)
	if err != nil {
		return err
	}

	merged, _ := discovery.Merge(drivers, paths)
	return r.saveSelection(e, discovery.Selected(merged))
}

// Toggle flips the selection of each referenced driver.
func (r Runner) Toggle(_ context.Context, g cli.Globals, refs []string) error {
	e, err := r.setup("toggle", g)
	if err != nil {
		return err
	}
	defer e.close()

	drivers, err := discovery.List(g.DriverDir)
	if err != nil {
		return err
	}
	paths, err := resolveAll(drivers, refs)
	if err != nil {
		return err
	}

	flip := make(map[string]struct{}, len(paths))
	for _, path := range paths {
		flip[path] = struct{}{}
	}

	merged, missing := discovery.Merge(drivers, e.cfg.Config.Drivers)
	r.warnMissing(missing)
	if len(missing) > 0 {
		e.logger.Warn("dropping uninstalled drivers from selection", "drivers", missing)
	}
	for i := range merged {
		if _, ok := flip[merged[i].Path]; ok {
			merged[i].Selected = !merged[i].Selected
		}
	}
	return r.saveSelection(e, discovery.Selected(merged))
}

// warnMissing reports saved selections that no longer match an installed driver.
func (r Runner) warnMissing(missing []string) {
	for _, path := range missing {
		fmt.Fprintf(r.Stderr, "warning: selected driver not installed: %s\n", path)
	}
}

func (r Runner) saveSelection(e env, paths []string) error {
	if err := config.SaveDrivers(e.cfg.Path, paths); err != nil {
		e.logger.Error("save selection failed", "error", err.Error())
		return err
	}
	e.logger.Info("selection saved", "drivers", paths)
	fmt.Fprintf(r.Stdout, "selected %d driver(s)\n", len(paths))
	return nil
}

// Start owns the server until it is stopped, interrupted, or exits.
func (r Runner) Start(ctx context.Context, g cli.Globals, opts cli.StartOptions) error {
	e, err := r.setup("start", g)
	if err != nil {
		return err
	}
	defer e.close()

	if opts.IfAutostart && !e.cfg.Config.Autostart {
		e.logger.Info("autostart disabled; not starting")
		fmt.Fprintln(r.Stdout, "autostart disabled")
		return nil
	}

	drivers, err := discovery.List(g.DriverDir)
	if err != nil {
		return err
	}

	selection := e.cfg.Config.Drivers
	if len(opts.Drivers) > 0 {
		if selection, err = resolveAll(drivers, opts.Drivers); err != nil {
			return err
		}
	}
	merged, missing := discovery.Merge(drivers, selection)
	r.warnMissing(missing)
	paths := discovery.Selected(merged)
	if len(paths) == 0 {
		return server.ErrNoDrivers
	}

	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		return err
	}

	listener, err := ipc.Acquire(ctx, socketPath, 180*time.Millisecond, 8)
	if err != nil {
		if errors.Is(err, ipc.ErrAlreadyRunning) {
			if resp, handled, _ := tryForward(ctx, socketPath, ipc.CommandStatus); handled && resp.PID > 0 {
				return fmt.Errorf("%w (pid %d)", server.ErrAlreadyRunning, resp.PID)
			}
		}
		return err
	}
	defer func() { _ = ipc.Release(listener, socketPath) }()

	manager := server.NewManager(server.Options{
		Binary:    g.ServerBin,
		Persister: config.Store{Path: e.cfg.Path},
		Logger:    e.logger,
		Stdout:    r.Stdout,
		Stderr:    r.Stderr,
	})
	controller := session.NewController(e.logger, manager, r.newIndicator(opts.Notify, e.logger))
	e.logger.Info("session owner ready", "session", controller.ID(), "socket", socketPath)

	serverCtx, serverCancel := context.WithCancel(ctx)
	defer serverCancel()

	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- ipc.Serve(serverCtx, listener, controller)
	}()

	result := controller.Run(ctx, paths)
	serverCancel()
	if serverErr := <-serverErrCh; serverErr != nil {
		return fmt.Errorf("ipc server failed: %w", serverErr)
	}

	logSessionResult(e.logger, result)
	return result.Err
}

func (r Runner) newIndicator(notify bool, logger *slog.Logger) session.Indicator {
	console := &consoleIndicator{out: r.Stdout}
	if !notify {
		return console
	}
	if r.Notifier != nil {
		console.next = r.Notifier
	} else {
		console.next = indicator.NewDesktop("", logger)
	}
	return console
}

// Stop forwards a stop request to the session owner.
func (r Runner) Stop(ctx context.Context, g cli.Globals) error {
	e := r.openLog("stop", g)
	defer e.close()

	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		return err
	}

	resp, handled, err := tryForward(ctx, socketPath, ipc.CommandStop)
	if !handled {
		return errors.New("no active indiserver-ui session")
	}
	if err != nil {
		e.logger.Error("stop failed", "error", err.Error())
		return err
	}
	e.logger.Info("stop forwarded", "pid", resp.PID, "session", resp.Session)
	if resp.Message != "" {
		fmt.Fprintln(r.Stdout, resp.Message)
	}
	return nil
}

// Status prints the owner's server state, or stopped when no owner answers.
func (r Runner) Status(ctx context.Context, g cli.Globals) error {
	e := r.openLog("status", g)
	defer e.close()

	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintln(r.Stdout, "stopped")
		return nil
	}

	resp, handled, err := tryForward(ctx, socketPath, ipc.CommandStatus)
	if !handled {
		fmt.Fprintln(r.Stdout, "stopped")
		return nil
	}
	if err != nil {
		return err
	}

	if resp.State == "" {
		resp.State = "stopped"
	}
	fmt.Fprintln(r.Stdout, resp.State)
	if resp.PID > 0 {
		fmt.Fprintf(r.Stdout, "pid: %d\n", resp.PID)
		fmt.Fprintf(r.Stdout, "session: %s\n", resp.Session)
		if resp.StartedAt != "" {
			fmt.Fprintf(r.Stdout, "started: %s\n", resp.StartedAt)
		}
		for _, driver := range resp.Drivers {
			fmt.Fprintf(r.Stdout, "driver: %s\n", driver)
		}
	}
	return nil
}

// Autostart persists the autostart flag.
func (r Runner) Autostart(_ context.Context, g cli.Globals, enabled bool) error {
	e, err := r.setup("autostart", g)
	if err != nil {
		return err
	}
	defer e.close()

	if err := config.SetAutostart(e.cfg.Path, enabled); err != nil {
		e.logger.Error("save autostart failed", "error", err.Error())
		return err
	}
	e.logger.Info("autostart saved", "autostart", enabled)

	if enabled {
		fmt.Fprintln(r.Stdout, "autostart enabled")
	} else {
		fmt.Fprintln(r.Stdout, "autostart disabled")
	}
	return nil
}

// Doctor prints readiness checks.
func (r Runner) Doctor(_ context.Context, g cli.Globals) error {
	e, err := r.setup("doctor", g)
	if err != nil {
		return err
	}
	defer e.close()

	report := doctor.Run(doctor.Options{Config: e.cfg, DriverDir: g.DriverDir, ServerBinary: g.ServerBin})
	fmt.Fprintln(r.Stdout, report.String())
	if !report.OK() {
		return errDoctorFailed
	}
	return nil
}

// resolveAll maps driver references to paths, reporting every unknown ref at once.
func resolveAll(drivers []discovery.Driver, refs []string) ([]string, error) {
	paths := make([]string, 0, len(refs))
	var unknown []string
	for _, ref := range refs {
		driver, ok := discovery.Resolve(drivers, ref)
		if !ok {
			unknown = append(unknown, ref)
			continue
		}
		paths = append(paths, driver.Path)
	}
	if len(unknown) > 0 {
		return nil, fmt.Errorf("unknown driver(s): %s", strings.Join(unknown, ", "))
	}
	return paths, nil
}

func onlySelected(drivers []discovery.Driver) []discovery.Driver {
	out := make([]discovery.Driver, 0, len(drivers))
	for _, driver := range drivers {
		if driver.Selected {
			out = append(out, driver)
		}
	}
	return out
}

func logSessionResult(logger *slog.Logger, result session.Result) {
	if logger == nil {
		return
	}
	fields := []any{
		"session", result.Session,
		"state", result.State,
		"pid", result.PID,
		"drivers", result.Drivers,
		"interrupted", result.Interrupted,
		"exited", result.Exited,
		"started_at", result.StartedAt.Format(time.RFC3339Nano),
		"finished_at", result.FinishedAt.Format(time.RFC3339Nano),
		"duration_ms", result.FinishedAt.Sub(result.StartedAt).Milliseconds(),
	}

	if result.Err != nil {
		logger.Error("session failed", append(fields, "error", result.Err.Error())...)
		return
	}
	logger.Info("session complete", fields...)
}

// tryForward reports handled=false when no owner is listening.
func tryForward(ctx context.Context, socketPath string, command string) (ipc.Response, bool, error) {
	resp, err := ipc.Forward(ctx, socketPath, command, forwardTimeout(command))
	if errors.Is(err, ipc.ErrNoOwner) {
		return ipc.Response{}, false, nil
	}
	return resp, true, err
}

// forwardTimeout covers the owner's SIGTERM grace and SIGKILL wait for stop.
func forwardTimeout(command string) time.Duration {
	if command == ipc.CommandStop {
		return server.DefaultGrace + 3*time.Second
	}
	return 220 * time.Millisecond
}
