// Package doctor runs readiness diagnostics for config, the indiserver binary, and drivers.
package doctor

import (
	"fmt"
	"os"
	"os/exec"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/rbright/indiserver-ui/internal/config"
	"github.com/rbright/indiserver-ui/internal/discovery"
)

// Check is one doctor assertion result.
type Check struct {
	Name    string
	Pass    bool
	Message string
}

// Report is the full doctor output contract.
type Report struct {
	Checks []Check
}

// OK returns true when all checks pass.
func (r Report) OK() bool {
	for _, check := range r.Checks {
		if !check.Pass {
			return false
		}
	}
	return true
}

// String renders the report as user-facing text output.
func (r Report) String() string {
	var b strings.Builder
	for _, check := range r.Checks {
		status := "OK"
		if !check.Pass {
			status = "FAIL"
		}
		b.WriteString(fmt.Sprintf("[%s] %s: %s\n", status, check.Name, check.Message))
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// Options selects what Run inspects.
type Options struct {
	Config       config.Loaded
	DriverDir    string
	ServerBinary string
}

// Run executes environment, binary, and driver checks for a loaded config.
func Run(opts Options) Report {
	if opts.DriverDir == "" {
		opts.DriverDir = discovery.DefaultDir
	}
	if opts.ServerBinary == "" {
		opts.ServerBinary = discovery.ServerBinary
	}

	checks := []Check{checkConfig(opts.Config)}
	checks = append(checks, checkBinary(opts.ServerBinary, "INDI server launcher"))
	checks = append(checks, checkDriverDir(opts.DriverDir))
	checks = append(checks, checkDiscovered(opts.DriverDir))
	checks = append(checks, checkSelected(opts.Config.Config.Drivers))
	checks = append(checks, checkEnv("XDG_RUNTIME_DIR", func(v string) bool {
		return strings.TrimSpace(v) != ""
	}, "runtime dir available for the session socket", "XDG_RUNTIME_DIR is empty; start/stop forwarding is unavailable"))

	return Report{Checks: checks}
}

func checkConfig(loaded config.Loaded) Check {
	message := fmt.Sprintf("loaded %q (autostart=%t, %d drivers)", loaded.Path, loaded.Config.Autostart, len(loaded.Config.Drivers))
	if n := len(loaded.Warnings); n > 0 {
		message = fmt.Sprintf("%s with %d warning(s)", message, n)
	}
	return Check{Name: "config", Pass: true, Message: message}
}

// checkEnv validates an environment variable through a caller-supplied predicate.
func checkEnv(name string, predicate func(string) bool, okMsg, failMsg string) Check {
	value := os.Getenv(name)
	if predicate(value) {
		return Check{Name: name, Pass: true, Message: okMsg}
	}
	return Check{Name: name, Pass: false, Message: failMsg}
}

// checkBinary validates that a binary exists in PATH.
func checkBinary(bin string, okMsg string) Check {
	path, err := exec.LookPath(bin)
	if err != nil {
		return Check{Name: bin, Pass: false, Message: fmt.Sprintf("binary not found in PATH: %s", bin)}
	}
	return Check{Name: bin, Pass: true, Message: fmt.Sprintf("found at %s (%s)", path, okMsg)}
}

// checkDriverDir requires list and traverse permission on the driver directory.
func checkDriverDir(dir string) Check {
	if err := unix.Access(dir, unix.R_OK|unix.X_OK); err != nil {
		return Check{Name: "driver_dir", Pass: false, Message: fmt.Sprintf("%s is not readable: %v", dir, err)}
	}
	return Check{Name: "driver_dir", Pass: true, Message: fmt.Sprintf("%s is readable", dir)}
}

func checkDiscovered(dir string) Check {
	drivers, err := discovery.List(dir)
	if err != nil {
		return Check{Name: "drivers.discovered", Pass: false, Message: err.Error()}
	}
	if len(drivers) == 0 {
		return Check{Name: "drivers.discovered", Pass: false, Message: fmt.Sprintf("no indi_* executables in %s", dir)}
	}
	return Check{Name: "drivers.discovered", Pass: true, Message: fmt.Sprintf("%d drivers in %s", len(drivers), dir)}
}

// checkSelected verifies every persisted driver path is still executable.
func checkSelected(paths []string) Check {
	if len(paths) == 0 {
		return Check{Name: "drivers.selected", Pass: true, Message: "no drivers selected"}
	}

	var broken []string
	for _, path := range paths {
		if err := unix.Access(path, unix.X_OK); err != nil {
			broken = append(broken, path)
		}
	}
	if len(broken) > 0 {
		return Check{Name: "drivers.selected", Pass: false, Message: "not executable: " + strings.Join(broken, ", ")}
	}
	return Check{Name: "drivers.selected", Pass: true, Message: fmt.Sprintf("%d selected drivers are executable", len(paths))}
}
