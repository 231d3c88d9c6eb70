package config

import (
	"fmt"
	"strings"

	"gopkg.in/ini.v1"
)

// loadOptions matches the case-insensitive key handling of the original INI files.
var loadOptions = ini.LoadOptions{Insensitive: true}

// Parse reads an INI document and materializes the indiserver section.
func Parse(content []byte) (Config, []Warning, error) {
	file, err := ini.LoadSources(loadOptions, content)
	if err != nil {
		return Config{}, nil, fmt.Errorf("decode ini: %w", err)
	}
	return fromFile(file)
}

func fromFile(file *ini.File) (Config, []Warning, error) {
	cfg := Default()
	warnings := make([]Warning, 0)

	section, err := file.GetSection(sectionName)
	if err != nil {
		warnings = append(warnings, Warning{
			Message: fmt.Sprintf("section [%s] not found; using defaults", sectionName),
		})
		return cfg, warnings, nil
	}

	if section.HasKey(keyAutostart) {
		autostart, err := parseAutostart(section.Key(keyAutostart).String())
		if err != nil {
			return Config{}, nil, err
		}
		cfg.Autostart = autostart
	} else {
		warnings = append(warnings, Warning{
			Message: fmt.Sprintf("%s not set; defaulting to false", keyAutostart),
		})
	}

	if section.HasKey(keyDrivers) {
		cfg.Drivers = splitDrivers(section.Key(keyDrivers).String())
	}

	return cfg, warnings, nil
}

// splitDrivers turns the comma-joined value into paths, dropping blank entries.
func splitDrivers(raw string) []string {
	drivers := make([]string, 0)
	for _, part := range strings.Split(raw, driverSeparator) {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		drivers = append(drivers, part)
	}
	return drivers
}

func joinDrivers(drivers []string) string {
	return strings.Join(drivers, driverSeparator)
}
