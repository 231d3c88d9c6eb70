package config

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidAutostart is returned when autostart is present but not a boolean literal.
var ErrInvalidAutostart = errors.New("the autostart value must be either `true` or `false`")

// parseAutostart accepts exactly the two literals written by this tool.
func parseAutostart(raw string) (bool, error) {
	switch value := strings.TrimSpace(raw); value {
	case "true":
		return true, nil
	case "false":
		return false, nil
	default:
		return false, fmt.Errorf("%w, found: %q", ErrInvalidAutostart, value)
	}
}

func formatAutostart(enabled bool) string {
	if enabled {
		return "true"
	}
	return "false"
}

// ValidateDrivers rejects paths that would not survive the comma-joined encoding.
func ValidateDrivers(drivers []string) error {
	for i, driver := range drivers {
		if strings.TrimSpace(driver) == "" {
			return fmt.Errorf("driver %d: path must not be empty", i)
		}
		if driver != strings.TrimSpace(driver) {
			return fmt.Errorf("driver %q: path must not have surrounding whitespace", driver)
		}
		if strings.Contains(driver, driverSeparator) {
			return fmt.Errorf("driver %q: path must not contain %q", driver, driverSeparator)
		}
	}
	return nil
}
