// Package config loads and validates the loggersync run configuration:
// a general section with the server connection and logging settings,
// plus one station section per configured logger storage. Station
// parameters are kept as a flat string map; the loggerstorage package
// enforces each format's required and optional parameter sets.
package config

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/openhydro/loggersync/internal/loggerstorage"
)

// Config represents the complete run configuration.
type Config struct {
	// General holds the server connection and logging settings.
	General General `yaml:"general"`

	// Stations maps section names to storage parameter sets.
	Stations map[string]loggerstorage.Parameters `yaml:"stations"`
}

// General holds the server connection and logging settings.
type General struct {
	// BaseURL is the root URL of the time-series server.
	BaseURL string `yaml:"base_url"`

	// AuthToken authenticates API requests.
	AuthToken string `yaml:"auth_token"`

	// LogFile, when set, receives the log output instead of stderr.
	LogFile string `yaml:"logfile"`

	// LogLevel is one of error, warning, info, debug.
	LogLevel string `yaml:"loglevel"`
}

// Load loads configuration from a YAML file. The auth token may be
// supplied through the LOGGERSYNC_AUTH_TOKEN environment variable (or
// a .env file) instead of the config file, so the file can be shared
// without credentials.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	config := &Config{}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	_ = godotenv.Load()
	if token := os.Getenv("LOGGERSYNC_AUTH_TOKEN"); token != "" {
		config.General.AuthToken = token
	}
	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return config, nil
}

func (c *Config) applyDefaults() {
	if c.General.LogLevel == "" {
		c.General.LogLevel = "warning"
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.General.BaseURL == "" {
		errs = append(errs, errors.New("general.base_url is required"))
	}
	if c.General.AuthToken == "" {
		errs = append(errs, errors.New("general.auth_token is required"))
	}
	switch c.General.LogLevel {
	case "error", "warning", "info", "debug":
	default:
		errs = append(errs, fmt.Errorf("general.loglevel must be one of error, warning, info, debug; got %q", c.General.LogLevel))
	}

	if len(c.Stations) == 0 {
		errs = append(errs, errors.New("no stations have been specified"))
	}
	for name, params := range c.Stations {
		if params["storage_format"] == "" {
			errs = append(errs, fmt.Errorf("station %s: storage_format is required", name))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// StationNames returns the station section names in sorted order, so
// runs process sections deterministically.
func (c *Config) StationNames() []string {
	names := make([]string, 0, len(c.Stations))
	for name := range c.Stations {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
