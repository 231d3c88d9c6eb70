package discovery

import (
	"path/filepath"
	"strings"
)

// Merge returns a copy of drivers with Selected set for every path in selected,
// plus the selected paths that match no discovered driver.
func Merge(drivers []Driver, selected []string) ([]Driver, []string) {
	wanted := make(map[string]struct{}, len(selected))
	for _, path := range selected {
		wanted[path] = struct{}{}
	}

	merged := make([]Driver, len(drivers))
	known := make(map[string]struct{}, len(drivers))
	for i, driver := range drivers {
		_, ok := wanted[driver.Path]
		driver.Selected = ok
		merged[i] = driver
		known[driver.Path] = struct{}{}
	}

	missing := make([]string, 0)
	for _, path := range selected {
		if _, ok := known[path]; !ok {
			missing = append(missing, path)
		}
	}
	return merged, missing
}

// Filter keeps drivers whose display name contains query, ignoring case.
func Filter(drivers []Driver, query string) []Driver {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return drivers
	}

	out := make([]Driver, 0, len(drivers))
	for _, driver := range drivers {
		if strings.Contains(strings.ToLower(driver.Name), query) {
			out = append(out, driver)
		}
	}
	return out
}

// Selected returns the selected paths in list order.
func Selected(drivers []Driver) []string {
	paths := make([]string, 0, len(drivers))
	for _, driver := range drivers {
		if driver.Selected {
			paths = append(paths, driver.Path)
		}
	}
	return paths
}

// Resolve finds a driver by full path, file name, or display name.
func Resolve(drivers []Driver, ref string) (Driver, bool) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return Driver{}, false
	}

	for _, driver := range drivers {
		if driver.Path == ref || filepath.Base(driver.Path) == ref {
			return driver, true
		}
	}
	for _, driver := range drivers {
		if strings.EqualFold(driver.Name, ref) {
			return driver, true
		}
	}
	return Driver{}, false
}
