package config

const (
	dirName  = "indiserver_ui"
	fileName = "config.ini"

	sectionName  = "indiserver"
	keyAutostart = "autostart"
	keyDrivers   = "drivers"

	driverSeparator = ","
)

// Default returns the document written when no config file exists yet.
func Default() Config {
	return Config{
		Autostart: false,
		Drivers:   []string{},
	}
}
