// Package config loads deskshell settings. Sources are layered with koanf:
//
//  1. built-in defaults
//  2. an optional YAML file
//  3. DESKSHELL_* environment variables
//
// Later layers win. The result is validated before it is returned.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

const (
	// EnvPrefix is prepended to every environment override.
	EnvPrefix = "DESKSHELL_"
	// ConfigPathEnvVar points at a YAML config file.
	ConfigPathEnvVar = EnvPrefix + "CONFIG"
	// DefaultConfigFile is looked up next to the shell binary.
	DefaultConfigFile = "deskshell.yaml"

	ModeDevelopment = "development"
	ModeProduction  = "production"
)

// Config is the complete shell configuration.
type Config struct {
	Mode    string        `koanf:"mode" validate:"oneof=development production"`
	App     AppConfig     `koanf:"app"`
	Backend BackendConfig `koanf:"backend"`
	Paths   PathsConfig   `koanf:"paths"`
	Window  WindowConfig  `koanf:"window"`
	Log     LogConfig     `koanf:"log"`
	Journal JournalConfig `koanf:"journal"`
}

type AppConfig struct {
	Name  string `koanf:"name" validate:"required"`
	Title string `koanf:"title"`
}

// BackendConfig describes how the embedded server is found, migrated and started.
type BackendConfig struct {
	Dir              string        `koanf:"dir" validate:"required"`
	Name             string        `koanf:"name"`                            // Executable base name, defaults to app.name
	Port             int           `koanf:"port" validate:"min=0,max=65535"` // 0 asks the OS for an ephemeral port
	DevPort          int           `koanf:"dev_port" validate:"min=1,max=65535"`
	StartupTimeout   time.Duration `koanf:"startup_timeout" validate:"gt=0"`
	ProbeInterval    time.Duration `koanf:"probe_interval" validate:"gt=0"`
	MigrateTimeout   time.Duration `koanf:"migrate_timeout" validate:"min=0"` // 0 disables the bound
	MigrateArgs      []string      `koanf:"migrate_args"`
	StartArgs        []string      `koanf:"start_args" validate:"min=1"`
	RuntimeModeVar   string        `koanf:"runtime_mode_var" validate:"required"`
	RuntimeModeValue string        `koanf:"runtime_mode_value"`
	ServerEnableVar  string        `koanf:"server_enable_var" validate:"required"`
	DBFile           string        `koanf:"db_file"` // Defaults to <app.name>.db
}

// PathsConfig overrides resolved locations. Empty means resolve from the platform.
type PathsConfig struct {
	ResourceDir string `koanf:"resource_dir"`
	ConfigDir   string `koanf:"config_dir"`
}

type WindowConfig struct {
	Width     int `koanf:"width" validate:"gt=0"`
	Height    int `koanf:"height" validate:"gt=0"`
	MinWidth  int `koanf:"min_width" validate:"min=0"`
	MinHeight int `koanf:"min_height" validate:"min=0"`
}

type LogConfig struct {
	File       string `koanf:"file"` // Defaults to diagnostics.DefaultLogPath
	Level      string `koanf:"level" validate:"oneof=debug info warn error"`
	MaxSizeMB  int    `koanf:"max_size_mb" validate:"min=0"`
	MaxBackups int    `koanf:"max_backups" validate:"min=0"`
}

type JournalConfig struct {
	Enabled bool `koanf:"enabled"`
}

// LoadOptions controls where Load looks for configuration.
type LoadOptions struct {
	// Path is an explicit config file. It must exist when set.
	Path string
	// DefaultMode is used when neither the file nor the environment sets a mode.
	DefaultMode string
	// ExecutableDir is searched for DefaultConfigFile. Optional.
	ExecutableDir string
	// Mode overrides every other source when set.
	Mode string
}

// Default returns the built-in configuration.
func Default(mode string) *Config {
	if mode == "" {
		mode = ModeProduction
	}
	return &Config{
		Mode: mode,
		App: AppConfig{
			Name:  "clientats",
			Title: "ClientATS",
		},
		Backend: BackendConfig{
			Dir:              "phoenix",
			Port:             4000,
			DevPort:          4000,
			StartupTimeout:   30 * time.Second,
			ProbeInterval:    500 * time.Millisecond,
			MigrateTimeout:   5 * time.Minute,
			MigrateArgs:      []string{"eval", "Clientats.Release.migrate()"},
			StartArgs:        []string{"start"},
			RuntimeModeVar:   "MIX_ENV",
			RuntimeModeValue: "prod",
			ServerEnableVar:  "PHX_SERVER",
		},
		Window: WindowConfig{
			Width:     1200,
			Height:    800,
			MinWidth:  800,
			MinHeight: 600,
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
		Journal: JournalConfig{
			Enabled: true,
		},
	}
}

// Load builds the configuration from defaults, the config file and the environment.
func Load(opts LoadOptions) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(opts.DefaultMode), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	configPath, err := findConfigFile(opts)
	if err != nil {
		return nil, err
	}
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if opts.Mode != "" {
		if err := k.Set("mode", opts.Mode); err != nil {
			return nil, fmt.Errorf("failed to set mode: %w", err)
		}
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	cfg.applyDerived()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	return validator.New().Struct(c)
}

// Development reports whether the backend is expected to be started externally.
func (c *Config) Development() bool {
	return c.Mode == ModeDevelopment
}

func (c *Config) applyDerived() {
	c.Mode = strings.ToLower(strings.TrimSpace(c.Mode))
	if c.Backend.Name == "" {
		c.Backend.Name = c.App.Name
	}
	if c.Backend.DBFile == "" {
		c.Backend.DBFile = c.App.Name + ".db"
	}
	if c.App.Title == "" {
		c.App.Title = c.App.Name
	}
}

func findConfigFile(opts LoadOptions) (string, error) {
	if opts.Path != "" {
		if _, err := os.Stat(opts.Path); err != nil {
			return "", fmt.Errorf("config file %s: %w", opts.Path, err)
		}
		return opts.Path, nil
	}
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath, nil
		}
	}
	if opts.ExecutableDir != "" {
		candidate := filepath.Join(opts.ExecutableDir, DefaultConfigFile)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", nil
}

// configKeys lists every koanf path that can be set from the environment.
var configKeys = []string{
	"mode",
	"app.name",
	"app.title",
	"backend.dir",
	"backend.name",
	"backend.port",
	"backend.dev_port",
	"backend.startup_timeout",
	"backend.probe_interval",
	"backend.migrate_timeout",
	"backend.migrate_args",
	"backend.start_args",
	"backend.runtime_mode_var",
	"backend.runtime_mode_value",
	"backend.server_enable_var",
	"backend.db_file",
	"paths.resource_dir",
	"paths.config_dir",
	"window.width",
	"window.height",
	"window.min_width",
	"window.min_height",
	"log.file",
	"log.level",
	"log.max_size_mb",
	"log.max_backups",
	"journal.enabled",
}

var envMappings = buildEnvMappings()

func buildEnvMappings() map[string]string {
	m := make(map[string]string, len(configKeys))
	for _, key := range configKeys {
		m[strings.ToLower(EnvPrefix)+strings.ReplaceAll(key, ".", "_")] = key
	}
	return m
}

// envTransformFunc maps DESKSHELL_BACKEND_STARTUP_TIMEOUT to backend.startup_timeout.
// Unknown variables map to "" and are ignored.
func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}

var sliceConfigPaths = []string{
	"backend.migrate_args",
	"backend.start_args",
}

// processSliceFields splits comma-separated env values for slice fields.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		strVal, ok := k.Get(path).(string)
		if !ok {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if err := k.Set(path, trimmed); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}
