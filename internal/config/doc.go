// Package config loads and saves the solminer configuration.
//
// Configuration is YAML read through viper. Values come from, in increasing
// priority: built-in defaults, the config file, and SOLMINER_* environment
// variables (dots become underscores, so control.poll_interval_seconds is
// SOLMINER_CONTROL_POLL_INTERVAL_SECONDS). A .env file in the working
// directory is loaded by the binaries before any of this runs.
//
// # Configuration File Location
//
// When no path is given and CONFIG_FILE is unset, the default location is
// used if a file exists there:
//   - Linux: $XDG_CONFIG_HOME/solminer/config.yaml or $HOME/.config/solminer/config.yaml
//   - macOS: $HOME/.config/solminer/config.yaml
//   - Windows: %LOCALAPPDATA%\solminer\config.yaml
//
// # Usage Example
//
//	cfg, err := config.Load("")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	coord := control.New(cfg.Settings())
//	for _, d := range cfg.Devices {
//	    if err := coord.Register(cfg.NewClient(d), d.DeviceSettings()); err != nil {
//	        log.Fatal(err)
//	    }
//	}
//
// # Security
//
// Device credentials and the MQTT password may live in the file, so Save
// writes it with 0600 permissions. Use Redacted before printing.
package config
