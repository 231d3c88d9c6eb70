package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/google/renameio/v2"
	"gopkg.in/ini.v1"
)

const (
	dirMode  os.FileMode = 0o755
	fileMode os.FileMode = 0o644
)

// Store binds the write operations to one config path.
type Store struct {
	Path string
}

// SaveDrivers persists the driver selection at the store path.
func (s Store) SaveDrivers(drivers []string) error {
	return SaveDrivers(s.Path, drivers)
}

// EnsureExists creates the config directory and default document when absent.
// An existing file is never rewritten. It reports whether the file was created.
func EnsureExists(path string) (bool, error) {
	exists, err := fileExists(path)
	if err != nil || exists {
		return false, err
	}

	created := false
	err = withLock(path, func() error {
		exists, err := fileExists(path)
		if err != nil || exists {
			return err
		}

		file := ini.Empty(loadOptions)
		section := file.Section(sectionName)
		cfg := Default()
		section.Key(keyAutostart).SetValue(formatAutostart(cfg.Autostart))
		section.Key(keyDrivers).SetValue(joinDrivers(cfg.Drivers))

		if err := writeFile(path, file); err != nil {
			return err
		}
		created = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return created, nil
}

// SaveDrivers overwrites the drivers key with the comma-joined paths and rewrites the file.
func SaveDrivers(path string, drivers []string) error {
	if err := ValidateDrivers(drivers); err != nil {
		return err
	}
	return update(path, func(section *ini.Section) {
		section.Key(keyDrivers).SetValue(joinDrivers(drivers))
	})
}

// SetAutostart overwrites the autostart key and rewrites the file.
func SetAutostart(path string, enabled bool) error {
	return update(path, func(section *ini.Section) {
		section.Key(keyAutostart).SetValue(formatAutostart(enabled))
	})
}

// update applies mutate to the current document under the config lock.
// Unrelated sections and keys survive the rewrite.
func update(path string, mutate func(*ini.Section)) error {
	return withLock(path, func() error {
		content, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("read config %q: %w", path, err)
		}

		file, err := ini.LoadSources(loadOptions, content)
		if err != nil {
			return fmt.Errorf("parse config %q: %w", path, err)
		}

		mutate(file.Section(sectionName))
		return writeFile(path, file)
	})
}

func writeFile(path string, file *ini.File) error {
	var buf bytes.Buffer
	if _, err := file.WriteTo(&buf); err != nil {
		return fmt.Errorf("encode config %q: %w", path, err)
	}
	if err := renameio.WriteFile(path, buf.Bytes(), fileMode); err != nil {
		return fmt.Errorf("write config %q: %w", path, err)
	}
	return nil
}

// withLock serializes writers across concurrent indiserver-ui invocations.
func withLock(path string, fn func() error) error {
	if err := os.MkdirAll(filepath.Dir(path), dirMode); err != nil {
		return fmt.Errorf("ensure config dir: %w", err)
	}

	lock := flock.New(lockPath(path))
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("lock config %q: %w", path, err)
	}
	defer func() { _ = lock.Unlock() }()

	return fn()
}

func fileExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("stat config %q: %w", path, err)
}
