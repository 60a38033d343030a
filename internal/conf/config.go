// config.go: This file contains the configuration for the Wayfare safety service. It defines the settings struct and functions to load the settings.
package conf

import (
	"errors"
	"fmt"
	"log"
	"math"
	"sync"

	"github.com/spf13/viper"
)

// MainSettings contains general application settings.
type MainSettings struct {
	Name string // name of the node/instance
	Log  struct {
		Enabled bool   // true to write structured logs to a file
		Path    string // path to log file
	}
}

// SafetyWeights are the base factor weights used by the safety index
// composer. They must sum to 1.0 before the news attenuation is applied.
type SafetyWeights struct {
	Reports float64 // weight of the user-report factor
	Time    float64 // weight of the time-of-day factor
	Density float64 // weight of the activity-density factor
}

// SafetySettings contains settings for the safety index calculator.
type SafetySettings struct {
	Debug          bool          // true to enable debug mode
	Weights        SafetyWeights // base factor weights
	ReportWindow   int           // report lookback window in days
	NewsWindow     int           // news lookback window in days
	ActivityWindow int           // activity lookback window in hours
	NewsRadiusKm   float64       // default geographic radius for news articles without one
}

// SQLiteSettings contains settings for the SQLite database backend.
type SQLiteSettings struct {
	Enabled bool   // true to enable the SQLite backend
	Path    string // path to the database file
}

// MySQLSettings contains settings for the MySQL database backend.
type MySQLSettings struct {
	Enabled  bool   // true to enable the MySQL backend
	Username string // username for the database
	Password string // password for the database
	Database string // database name
	Host     string // database host
	Port     string // database port
}

// OutputSettings selects and configures the database backend.
type OutputSettings struct {
	SQLite SQLiteSettings
	MySQL  MySQLSettings
}

// WebServerSettings contains settings for the HTTP API server.
type WebServerSettings struct {
	Debug   bool   // true to enable debug mode
	Enabled bool   // true to enable the HTTP server
	Port    string // port to listen on
}

// Settings is the root configuration struct.
type Settings struct {
	Debug bool // true to enable debug mode

	Main      MainSettings
	Safety    SafetySettings
	Output    OutputSettings
	WebServer WebServerSettings
}

var (
	settingsInstance *Settings
	once             sync.Once
	settingsMutex    sync.RWMutex
)

// Load reads the configuration into a new Settings instance.
func Load() (*Settings, error) {
	settings := &Settings{}

	// Initialize viper and read the configuration
	if err := initViper(); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	// Unmarshal the config into settings
	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	if err := validateSettings(settings); err != nil {
		return nil, err
	}

	settingsMutex.Lock()
	settingsInstance = settings
	settingsMutex.Unlock()
	return settings, nil
}

// initViper sets config lookup paths, defaults and environment bindings,
// and reads the configuration file if one exists.
func initViper() error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME/.config/wayfare")
	viper.AddConfigPath("/etc/wayfare")

	// Set default values for each configuration parameter
	// function defined in defaults.go
	setDefaultConfig()

	// The composer weights are deployment-tunable without a config file.
	bindings := map[string]string{
		"safety.weights.reports": "SAFETY_INDEX_WEIGHT_REPORTS",
		"safety.weights.time":    "SAFETY_INDEX_WEIGHT_TIME",
		"safety.weights.density": "SAFETY_INDEX_WEIGHT_DENSITY",
	}
	for key, env := range bindings {
		if err := viper.BindEnv(key, env); err != nil {
			return fmt.Errorf("error binding %s: %w", env, err)
		}
	}

	if err := viper.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			// No config file is fine, defaults and env vars apply
			return nil
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}

	return nil
}

// validateSettings checks invariants that would silently skew every
// computed score if violated.
func validateSettings(settings *Settings) error {
	w := settings.Safety.Weights
	if w.Reports < 0 || w.Time < 0 || w.Density < 0 {
		return fmt.Errorf("safety weights must be non-negative, got reports=%v time=%v density=%v",
			w.Reports, w.Time, w.Density)
	}
	sum := w.Reports + w.Time + w.Density
	if math.Abs(sum-1.0) > 1e-9 {
		return fmt.Errorf("safety weights must sum to 1.0, got %v", sum)
	}
	if settings.Safety.ReportWindow <= 0 || settings.Safety.NewsWindow <= 0 || settings.Safety.ActivityWindow <= 0 {
		return fmt.Errorf("safety lookback windows must be positive")
	}
	return nil
}

// GetSettings returns the current settings instance
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// Setting returns the current settings instance, initializing it if necessary
func Setting() *Settings {
	once.Do(func() {
		if settingsInstance == nil {
			_, err := Load()
			if err != nil {
				log.Fatalf("Error loading settings: %v", err)
			}
		}
	})
	return GetSettings()
}
