// Package config resolves, loads, validates, and persists indiserver-ui configuration.
package config

// Config is the persisted driver selection and autostart preference.
type Config struct {
	Autostart bool
	// Drivers holds executable paths in selection order. It is never nil after Load.
	Drivers []string
}

// Loaded captures the resolved config path, parsed values, and non-fatal warnings.
type Loaded struct {
	Path     string
	Config   Config
	Warnings []Warning
}

// Warning is a non-fatal load message.
type Warning struct {
	Message string
}
