package config

import (
	"fmt"
	"os"
)

// Load reads, parses, and validates the config file at path.
//
// The file must exist; callers run EnsureExists first.
func Load(path string) (Loaded, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Loaded{}, fmt.Errorf("read config %q: %w", path, err)
	}

	cfg, warnings, err := Parse(content)
	if err != nil {
		return Loaded{}, fmt.Errorf("parse config %q: %w", path, err)
	}

	return Loaded{
		Path:     path,
		Config:   cfg,
		Warnings: warnings,
	}, nil
}
