package app

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rbright/indiserver-ui/internal/config"
	"github.com/rbright/indiserver-ui/internal/fsm"
	"github.com/rbright/indiserver-ui/internal/ipc"
	"github.com/rbright/indiserver-ui/internal/session"
)

func TestExecuteHelp(t *testing.T) {
	for _, args := range [][]string{nil, {"--help"}} {
		var stdout bytes.Buffer
		var stderr bytes.Buffer

		exitCode := Execute(context.Background(), args, &stdout, &stderr)
		require.Equal(t, 0, exitCode)
		require.Contains(t, stdout.String(), "Usage:")
		require.Empty(t, stderr.String())
	}
}

func TestExecuteVersion(t *testing.T) {
	var stdout bytes.Buffer
	var stderr bytes.Buffer

	exitCode := Execute(context.Background(), []string{"version"}, &stdout, &stderr)
	require.Equal(t, 0, exitCode)
	require.Contains(t, stdout.String(), "indiserver-ui")
	require.Empty(t, stderr.String())
}

func TestExecuteUnknownCommand(t *testing.T) {
	var stdout bytes.Buffer
	var stderr bytes.Buffer

	exitCode := Execute(context.Background(), []string{"definitely-not-a-command"}, &stdout, &stderr)
	require.Equal(t, 2, exitCode)
	require.Contains(t, stderr.String(), "unknown command")
	require.Contains(t, stderr.String(), "Usage:")
}

func TestRunnerCreatesDefaultConfigOnFirstRun(t *testing.T) {
	paths := setupRunnerEnv(t)
	configPath := filepath.Join(t.TempDir(), "indiserver_ui", "config.ini")

	stdout, stderr, exitCode := runCommand(t, "--config", configPath, "--driver-dir", paths.driverDir, "drivers")
	require.Equal(t, 0, exitCode, stderr)
	require.Contains(t, stdout, "test ccd")

	loaded, err := config.Load(configPath)
	require.NoError(t, err)
	require.False(t, loaded.Config.Autostart)
	require.Empty(t, loaded.Config.Drivers)
	require.Empty(t, loaded.Warnings)
}

func TestRunnerDriversShowsSelectionAndFilter(t *testing.T) {
	paths := setupRunnerEnv(t)
	require.NoError(t, config.SaveDrivers(paths.configPath, []string{
		filepath.Join(paths.driverDir, "indi_test_focuser"),
		"/opt/gone/indi_removed",
	}))

	stdout, stderr, exitCode := runCommand(t, paths.args("drivers")...)
	require.Equal(t, 0, exitCode, stderr)
	require.Contains(t, stdout, "test ccd")
	require.Contains(t, stdout, "test focuser")
	require.NotContains(t, stdout, "indiserver")
	require.Contains(t, stderr, "selected driver not installed: /opt/gone/indi_removed")

	stdout, _, exitCode = runCommand(t, paths.args("drivers", "--filter", "FOCUS")...)
	require.Equal(t, 0, exitCode)
	require.Contains(t, stdout, "test focuser")
	require.NotContains(t, stdout, "test ccd")

	stdout, _, exitCode = runCommand(t, paths.args("drivers", "--selected")...)
	require.Equal(t, 0, exitCode)
	require.Contains(t, stdout, "[x]")
	require.NotContains(t, stdout, "[ ]")

	stdout, _, exitCode = runCommand(t, paths.args("drivers", "--filter", "telescope")...)
	require.Equal(t, 0, exitCode)
	require.Equal(t, "no drivers found\n", stdout)
}

func TestRunnerDriversWatchStopsOnCancel(t *testing.T) {
	paths := setupRunnerEnv(t)

	stdout := &lockedBuffer{}
	runner := Runner{Stdout: stdout, Stderr: &lockedBuffer{}}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan int, 1)
	go func() {
		done <- runner.Execute(ctx, paths.args("drivers", "--watch"))
	}()

	require.Eventually(t, func() bool {
		return strings.Contains(stdout.String(), "test ccd")
	}, 2*time.Second, 20*time.Millisecond)

	writeExecutable(t, paths.driverDir, "indi_new_mount")
	require.Eventually(t, func() bool {
		return strings.Contains(stdout.String(), "new mount")
	}, 3*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case code := <-done:
		require.Equal(t, 0, code)
	case <-time.After(3 * time.Second):
		t.Fatal("drivers --watch did not return after cancellation")
	}
}

func TestRunnerSelectAndToggle(t *testing.T) {
	paths := setupRunnerEnv(t)
	ccd := filepath.Join(paths.driverDir, "indi_test_ccd")
	focuser := filepath.Join(paths.driverDir, "indi_test_focuser")

	stdout, stderr, exitCode := runCommand(t, paths.args("select", "test focuser", "indi_test_ccd")...)
	require.Equal(t, 0, exitCode, stderr)
	require.Equal(t, "selected 2 driver(s)\n", stdout)
	requireDrivers(t, paths.configPath, ccd, focuser)

	_, stderr, exitCode = runCommand(t, paths.args("toggle", "indi_test_ccd")...)
	require.Equal(t, 0, exitCode, stderr)
	requireDrivers(t, paths.configPath, focuser)

	_, _, exitCode = runCommand(t, paths.args("toggle", "indi_test_ccd", "indi_test_focuser")...)
	require.Equal(t, 0, exitCode)
	requireDrivers(t, paths.configPath, ccd)

	_, _, exitCode = runCommand(t, paths.args("select")...)
	require.Equal(t, 0, exitCode)
	requireDrivers(t, paths.configPath)
}

func TestRunnerToggleWarnsAboutUninstalledSelection(t *testing.T) {
	paths := setupRunnerEnv(t)
	ccd := filepath.Join(paths.driverDir, "indi_test_ccd")
	focuser := filepath.Join(paths.driverDir, "indi_test_focuser")
	gone := filepath.Join(paths.driverDir, "indi_removed_mount")
	require.NoError(t, config.SaveDrivers(paths.configPath, []string{gone, ccd}))

	_, stderr, exitCode := runCommand(t, paths.args("toggle", "indi_test_focuser")...)
	require.Equal(t, 0, exitCode, stderr)
	require.Contains(t, stderr, "warning: selected driver not installed: "+gone)
	requireDrivers(t, paths.configPath, ccd, focuser)
}

func TestRunnerSelectUnknownDriverFails(t *testing.T) {
	paths := setupRunnerEnv(t)
	require.NoError(t, config.SaveDrivers(paths.configPath, []string{filepath.Join(paths.driverDir, "indi_test_ccd")}))

	_, stderr, exitCode := runCommand(t, paths.args("select", "indi_test_ccd", "indi_nope", "nothing")...)
	require.Equal(t, 1, exitCode)
	require.Contains(t, stderr, "unknown driver(s): indi_nope, nothing")
	requireDrivers(t, paths.configPath, filepath.Join(paths.driverDir, "indi_test_ccd"))
}

func TestRunnerInvalidAutostartIsFatal(t *testing.T) {
	paths := setupRunnerEnv(t)
	require.NoError(t, os.WriteFile(paths.configPath, []byte("[indiserver]\nautostart = yes\ndrivers =\n"), 0o644))

	_, stderr, exitCode := runCommand(t, paths.args("drivers")...)
	require.Equal(t, 1, exitCode)
	require.Contains(t, stderr, "autostart")
	require.Contains(t, stderr, `"yes"`)
}

func TestRunnerConfigWarningsGoToStderr(t *testing.T) {
	paths := setupRunnerEnv(t)
	require.NoError(t, os.WriteFile(paths.configPath, []byte("[indiserver]\ndrivers =\n"), 0o644))

	_, stderr, exitCode := runCommand(t, paths.args("drivers")...)
	require.Equal(t, 0, exitCode)
	require.Contains(t, stderr, "warning: autostart not set")
}

func TestRunnerAutostart(t *testing.T) {
	paths := setupRunnerEnv(t)

	stdout, _, exitCode := runCommand(t, paths.args("autostart", "on")...)
	require.Equal(t, 0, exitCode)
	require.Equal(t, "autostart enabled\n", stdout)
	loaded, err := config.Load(paths.configPath)
	require.NoError(t, err)
	require.True(t, loaded.Config.Autostart)

	stdout, _, exitCode = runCommand(t, paths.args("autostart", "off")...)
	require.Equal(t, 0, exitCode)
	require.Equal(t, "autostart disabled\n", stdout)
	loaded, err = config.Load(paths.configPath)
	require.NoError(t, err)
	require.False(t, loaded.Config.Autostart)
}

func TestRunnerStatusStoppedWhenSocketUnavailable(t *testing.T) {
	paths := setupRunnerEnv(t)

	stdout, stderr, exitCode := runCommand(t, paths.args("status")...)
	require.Equal(t, 0, exitCode)
	require.Equal(t, "stopped\n", stdout)
	require.Empty(t, stderr)
}

func TestRunnerStopReturnsNoActiveSession(t *testing.T) {
	paths := setupRunnerEnv(t)

	_, stderr, exitCode := runCommand(t, paths.args("stop")...)
	require.Equal(t, 1, exitCode)
	require.Contains(t, stderr, "no active indiserver-ui session")
}

func TestRunnerStopAndStatusIgnoreBrokenConfig(t *testing.T) {
	paths := setupRunnerEnv(t)
	require.NoError(t, os.WriteFile(paths.configPath, []byte("[indiserver]\nautostart = maybe\n"), 0o644))

	stdout, _, exitCode := runCommand(t, paths.args("status")...)
	require.Equal(t, 0, exitCode)
	require.Equal(t, "stopped\n", stdout)
}

func TestRunnerForwardsCommandsToActiveSession(t *testing.T) {
	paths := setupRunnerEnv(t)
	commands := make(chan string, 4)

	shutdown := startIPCServerForRunnerTest(t, filepath.Join(paths.runtimeDir, "indiserver_ui.sock"), func(_ context.Context, req ipc.Request) ipc.Response {
		commands <- req.Command
		switch req.Command {
		case "status":
			return ipc.Response{OK: true, State: "running", PID: 77, Session: "s-1", StartedAt: "2026-10-16T21:04:05Z", Drivers: []string{"/usr/bin/indi_test_ccd"}}
		case "stop":
			return ipc.Response{OK: true, State: "stopped", Message: "indiserver stopped"}
		default:
			return ipc.Response{OK: false, Error: "unsupported"}
		}
	})
	defer shutdown()

	stdout, stderr, exitCode := runCommand(t, paths.args("status")...)
	require.Equal(t, 0, exitCode, stderr)
	require.Equal(t, "running\npid: 77\nsession: s-1\nstarted: 2026-10-16T21:04:05Z\ndriver: /usr/bin/indi_test_ccd\n", stdout)

	stdout, stderr, exitCode = runCommand(t, paths.args("stop")...)
	require.Equal(t, 0, exitCode, stderr)
	require.Equal(t, "indiserver stopped\n", stdout)

	require.Equal(t, []string{"status", "stop"}, []string{<-commands, <-commands})
}

func TestRunnerStartRequiresSelection(t *testing.T) {
	paths := setupRunnerEnv(t)

	_, stderr, exitCode := runCommand(t, paths.args("start")...)
	require.Equal(t, 1, exitCode)
	require.Contains(t, stderr, "no drivers selected")

	_, statErr := os.Stat(filepath.Join(paths.runtimeDir, "indiserver_ui.sock"))
	require.ErrorIs(t, statErr, os.ErrNotExist)
}

func TestRunnerStartIfAutostartDisabled(t *testing.T) {
	paths := setupRunnerEnv(t)
	require.NoError(t, config.SaveDrivers(paths.configPath, []string{filepath.Join(paths.driverDir, "indi_test_ccd")}))

	stdout, _, exitCode := runCommand(t, paths.args("start", "--if-autostart")...)
	require.Equal(t, 0, exitCode)
	require.Equal(t, "autostart disabled\n", stdout)
}

func TestRunnerStartOwnsServerUntilStop(t *testing.T) {
	paths := setupRunnerEnv(t)
	argsFile := filepath.Join(t.TempDir(), "server-args")
	serverBin := writeScript(t, t.TempDir(), "indiserver", `printf '%s\n' "$@" > `+argsFile+"\nexec sleep 30\n")
	ccd := filepath.Join(paths.driverDir, "indi_test_ccd")
	focuser := filepath.Join(paths.driverDir, "indi_test_focuser")

	notifier := &recordingNotifier{}
	stdout := &lockedBuffer{}
	stderr := &lockedBuffer{}
	owner := Runner{Stdout: stdout, Stderr: stderr, Notifier: notifier}

	done := make(chan int, 1)
	go func() {
		done <- owner.Execute(context.Background(), paths.args("--server-bin", serverBin, "start", "--notify", "indi_test_focuser", "test ccd"))
	}()

	require.Eventually(t, func() bool {
		out, _, code := runCommand(t, paths.args("status")...)
		return code == 0 && strings.HasPrefix(out, string(fsm.StateRunning))
	}, 3*time.Second, 25*time.Millisecond)

	out, _, _ := runCommand(t, paths.args("status")...)
	require.Contains(t, out, "driver: "+ccd+"\ndriver: "+focuser+"\n")
	require.Contains(t, out, "started: ")

	// the named drivers were persisted in list order before the spawn
	requireDrivers(t, paths.configPath, ccd, focuser)
	require.Eventually(t, func() bool {
		data, err := os.ReadFile(argsFile)
		return err == nil && strings.TrimSpace(string(data)) == ccd+"\n"+focuser
	}, 2*time.Second, 20*time.Millisecond)

	_, errOut, code := runCommand(t, paths.args("--server-bin", serverBin, "start")...)
	require.Equal(t, 1, code)
	require.Contains(t, errOut, "already running")

	out, errOut, code = runCommand(t, paths.args("stop")...)
	require.Equal(t, 0, code, errOut)
	require.Equal(t, "indiserver stopped\n", out)

	select {
	case exitCode := <-done:
		require.Equal(t, 0, exitCode, stderr.String())
	case <-time.After(5 * time.Second):
		t.Fatal("owner did not exit after stop")
	}

	require.Contains(t, stdout.String(), "indiserver running with 2 driver(s)")
	require.Contains(t, stdout.String(), "indiserver stopped")
	require.Equal(t, []string{"running", "stopped"}, notifier.events())

	_, statErr := os.Stat(filepath.Join(paths.runtimeDir, "indiserver_ui.sock"))
	require.ErrorIs(t, statErr, os.ErrNotExist)
}

func TestRunnerStartSpawnFailure(t *testing.T) {
	paths := setupRunnerEnv(t)
	require.NoError(t, config.SaveDrivers(paths.configPath, []string{filepath.Join(paths.driverDir, "indi_test_ccd")}))

	_, stderr, exitCode := runCommand(t, paths.args("--server-bin", filepath.Join(t.TempDir(), "missing"), "start")...)
	require.Equal(t, 1, exitCode)
	require.Contains(t, stderr, "start indiserver")

	_, statErr := os.Stat(filepath.Join(paths.runtimeDir, "indiserver_ui.sock"))
	require.ErrorIs(t, statErr, os.ErrNotExist)
}

func TestRunnerDoctorCommandDispatchesAndPrintsReport(t *testing.T) {
	paths := setupRunnerEnv(t)

	stdout, _, exitCode := runCommand(t, paths.args("--server-bin", "definitely-not-indiserver", "doctor")...)
	require.Equal(t, 1, exitCode)
	require.Contains(t, stdout, "config: loaded")
	require.Contains(t, stdout, "[FAIL] definitely-not-indiserver")
	require.Contains(t, stdout, "[OK] drivers.discovered")
}

func TestTryForwardSuccessAndFailureResponses(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "indiserver_ui.sock")

	shutdown := startIPCServerForRunnerTest(t, socketPath, func(_ context.Context, req ipc.Request) ipc.Response {
		if req.Command == "status" {
			return ipc.Response{OK: true, State: "running"}
		}
		return ipc.Response{OK: false, Error: "unsupported"}
	})
	defer shutdown()

	resp, handled, err := tryForward(context.Background(), socketPath, "status")
	require.True(t, handled)
	require.NoError(t, err)
	require.Equal(t, "running", resp.State)

	_, handled, err = tryForward(context.Background(), socketPath, "reload")
	require.True(t, handled)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unsupported")
}

func TestTryForwardDoesNotRemoveSocketPathOnForwardFailure(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "indiserver_ui.sock")
	require.NoError(t, os.WriteFile(socketPath, []byte("stale"), 0o600))

	_, handled, err := tryForward(context.Background(), socketPath, "status")
	require.False(t, handled)
	require.NoError(t, err)

	_, statErr := os.Stat(socketPath)
	require.NoError(t, statErr)
}

func TestTryForwardTreatsReadFailuresAsHandledErrors(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "indiserver_ui.sock")

	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn, acceptErr := listener.Accept()
		if acceptErr == nil {
			_ = conn.Close()
		}
	}()

	_, handled, err := tryForward(context.Background(), socketPath, "status")
	require.True(t, handled)
	require.Error(t, err)
	require.Contains(t, err.Error(), "forward command \"status\":")

	<-done
	require.NoError(t, listener.Close())
}

func TestStatusKeepsWorkingWhenLogCannotOpen(t *testing.T) {
	paths := setupRunnerEnv(t)
	stateHome := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(stateHome, "indiserver_ui"), []byte("not a dir"), 0o600))
	t.Setenv("XDG_STATE_HOME", stateHome)

	stdout, stderr, exitCode := runCommand(t, paths.args("status")...)
	require.Equal(t, 0, exitCode, stderr)
	require.Equal(t, "stopped\n", stdout)
	require.Contains(t, stderr, "warning: logging disabled")
}

func TestForwardTimeoutCoversStopGrace(t *testing.T) {
	require.Equal(t, 220*time.Millisecond, forwardTimeout("status"))
	require.Greater(t, forwardTimeout("stop"), 3*time.Second)
}

func TestLogSessionResultWritesFailureAndSuccess(t *testing.T) {
	var logBuf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logBuf, nil))

	started := time.Now()
	finished := started.Add(1500 * time.Millisecond)

	logSessionResult(logger, session.Result{
		Session:    "s-1",
		State:      fsm.StateStopped,
		PID:        42,
		Drivers:    []string{"/usr/bin/indi_test_ccd"},
		StartedAt:  started,
		FinishedAt: finished,
	})

	require.Contains(t, logBuf.String(), "session complete")
	require.Contains(t, logBuf.String(), `"duration_ms":1500`)
	require.Contains(t, logBuf.String(), `"pid":42`)

	logBuf.Reset()
	logSessionResult(logger, session.Result{
		State:      fsm.StateStopped,
		Exited:     true,
		StartedAt:  started,
		FinishedAt: finished,
		Err:        errors.New("boom"),
	})
	require.Contains(t, logBuf.String(), "session failed")
	require.Contains(t, logBuf.String(), "boom")
}

type runnerPaths struct {
	configPath string
	runtimeDir string
	driverDir  string
}

func (p runnerPaths) args(rest ...string) []string {
	return append([]string{"--config", p.configPath, "--driver-dir", p.driverDir}, rest...)
}

func setupRunnerEnv(t *testing.T) runnerPaths {
	t.Helper()

	runtimeDir := t.TempDir()
	t.Setenv("XDG_STATE_HOME", t.TempDir())
	t.Setenv("XDG_RUNTIME_DIR", runtimeDir)

	driverDir := t.TempDir()
	writeExecutable(t, driverDir, "indi_test_ccd")
	writeExecutable(t, driverDir, "indi_test_focuser")
	writeExecutable(t, driverDir, "indiserver")
	writeExecutable(t, driverDir, "ls")

	configPath := filepath.Join(t.TempDir(), "config.ini")
	require.NoError(t, os.WriteFile(configPath, []byte("[indiserver]\nautostart = false\ndrivers =\n"), 0o644))

	return runnerPaths{configPath: configPath, runtimeDir: runtimeDir, driverDir: driverDir}
}

func runCommand(t *testing.T, args ...string) (string, string, int) {
	t.Helper()

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &stderr}
	code := runner.Execute(context.Background(), args)
	return stdout.String(), stderr.String(), code
}

func requireDrivers(t *testing.T, configPath string, want ...string) {
	t.Helper()

	loaded, err := config.Load(configPath)
	require.NoError(t, err)
	if len(want) == 0 {
		require.Empty(t, loaded.Config.Drivers)
		return
	}
	require.Equal(t, want, loaded.Config.Drivers)
}

func writeExecutable(t *testing.T, dir, name string) string {
	t.Helper()
	return writeScript(t, dir, name, "exit 0\n")
}

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

func startIPCServerForRunnerTest(t *testing.T, socketPath string, handler func(context.Context, ipc.Request) ipc.Response) func() {
	t.Helper()

	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- ipc.Serve(ctx, listener, ipc.HandlerFunc(handler))
	}()

	return func() {
		cancel()
		require.NoError(t, <-done)
	}
}

// lockedBuffer is shared between the test and the child process output copier.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type recordingNotifier struct {
	mu  sync.Mutex
	log []string
}

func (n *recordingNotifier) ShowRunning(context.Context, []string) { n.add("running") }
func (n *recordingNotifier) ShowStopped(context.Context)           { n.add("stopped") }
func (n *recordingNotifier) ShowError(_ context.Context, text string) {
	n.add("error: " + text)
}

func (n *recordingNotifier) add(event string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.log = append(n.log, event)
}

func (n *recordingNotifier) events() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.log...)
}
