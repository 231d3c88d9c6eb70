// Package discovery lists installed INDI driver executables and tracks selection state.
package discovery

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	// DefaultDir is where distribution packages install INDI drivers.
	DefaultDir = "/usr/bin"
	// Prefix marks INDI binaries in DefaultDir.
	Prefix = "indi"
	// DisplayPrefix is stripped from file names to build display names.
	DisplayPrefix = "indi_"
	// ServerBinary is the server launcher; it shares Prefix but is not a driver.
	ServerBinary = "indiserver"
)

// Driver is one discovered driver executable and its selection flag.
type Driver struct {
	Name     string
	Path     string
	Selected bool
}

// List scans dir for driver executables. Entries come back sorted by file name
// and unselected. An unreadable dir is returned as an error.
func List(dir string) ([]Driver, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list driver directory %q: %w", dir, err)
	}

	drivers := make([]Driver, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if !IsDriverName(name) || entry.IsDir() {
			continue
		}
		drivers = append(drivers, Driver{
			Name: DisplayName(name),
			Path: filepath.Join(dir, name),
		})
	}
	return drivers, nil
}

// IsDriverName reports whether a directory entry name looks like a driver.
func IsDriverName(name string) bool {
	name = strings.TrimSpace(name)
	if name == "" || name == ServerBinary {
		return false
	}
	return strings.HasPrefix(name, Prefix)
}

// DisplayName turns indi_test_ccd into "test ccd".
func DisplayName(file string) string {
	return strings.ReplaceAll(strings.TrimPrefix(file, DisplayPrefix), "_", " ")
}
