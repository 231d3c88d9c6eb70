package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ResolvePath applies explicit/user-config-dir rules for config.ini location.
func ResolvePath(explicit string) (string, error) {
	if strings.TrimSpace(explicit) != "" {
		return explicit, nil
	}

	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve user config dir: %w", err)
	}

	return filepath.Join(base, dirName, fileName), nil
}

func lockPath(path string) string {
	return path + ".lock"
}
