package config

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEnsureExistsWritesDefaultsOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "indiserver_ui", "config.ini")

	created, err := EnsureExists(path)
	require.NoError(t, err)
	require.True(t, created)

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, Default(), loaded.Config)
	require.Empty(t, loaded.Warnings)

	created, err = EnsureExists(path)
	require.NoError(t, err)
	require.False(t, created)
}

func TestEnsureExistsKeepsExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.ini")
	original := "[indiserver]\nautostart = true\ndrivers = /usr/bin/indi_a\n"
	require.NoError(t, os.WriteFile(path, []byte(original), 0o600))

	created, err := EnsureExists(path)
	require.NoError(t, err)
	require.False(t, created)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, original, string(data))
}

func TestSaveDriversRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.ini")
	_, err := EnsureExists(path)
	require.NoError(t, err)

	subsets := [][]string{
		{"/usr/bin/indi_test_ccd"},
		{"/usr/bin/indi_test_focuser", "/usr/bin/indi_test_ccd"},
		{"/usr/bin/indi_a", "/usr/bin/indi_b", "/usr/bin/indi_c"},
		{},
	}
	for _, subset := range subsets {
		require.NoError(t, SaveDrivers(path, subset))

		loaded, err := Load(path)
		require.NoError(t, err)
		require.Equal(t, subset, loaded.Config.Drivers)
	}
}

func TestSaveDriversKeepsAutostartAndUnrelatedKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.ini")
	contents := "[indiserver]\nautostart = true\ndrivers = /old\n\n[extra]\nkeep = me\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	require.NoError(t, SaveDrivers(path, []string{"/usr/bin/indi_new"}))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.True(t, loaded.Config.Autostart)
	require.Equal(t, []string{"/usr/bin/indi_new"}, loaded.Config.Drivers)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "[extra]")
	require.Contains(t, string(data), "keep")
}

func TestSaveDriversRejectsUnencodablePath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.ini")
	_, err := EnsureExists(path)
	require.NoError(t, err)

	err = SaveDrivers(path, []string{"/opt/a,b"})
	require.Error(t, err)

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Empty(t, loaded.Config.Drivers)
}

func TestSaveDriversAndSetAutostartRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.ini")

	require.NoError(t, SaveDrivers(path, []string{"/usr/bin/indi_a"}))
	require.NoError(t, SetAutostart(path, true))
	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, Config{Autostart: true, Drivers: []string{"/usr/bin/indi_a"}}, loaded.Config)

	require.NoError(t, SetAutostart(path, false))
	loaded, err = Load(path)
	require.NoError(t, err)
	require.False(t, loaded.Config.Autostart)
	require.Equal(t, []string{"/usr/bin/indi_a"}, loaded.Config.Drivers)
}

func TestStoreSaveDriversUsesPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.ini")
	store := Store{Path: path}

	require.NoError(t, store.SaveDrivers([]string{"/usr/bin/indi_a"}))
	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, []string{"/usr/bin/indi_a"}, loaded.Config.Drivers)
}

func TestConcurrentSaveDriversLeavesValidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.ini")
	_, err := EnsureExists(path)
	require.NoError(t, err)

	selections := [][]string{
		{"/usr/bin/indi_a"},
		{"/usr/bin/indi_b", "/usr/bin/indi_c"},
		{"/usr/bin/indi_d"},
	}

	var wg sync.WaitGroup
	errs := make(chan error, len(selections))
	for _, selection := range selections {
		wg.Add(1)
		go func(drivers []string) {
			defer wg.Done()
			errs <- SaveDrivers(path, drivers)
		}(selection)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Contains(t, selections, loaded.Config.Drivers)
}
