// ABOUTME: Configuration loading and parsing for coven-presence
// ABOUTME: YAML or TOML files with environment variable expansion, env overrides and validation

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"github.com/samber/lo"
	"gopkg.in/yaml.v3"

	"github.com/2389/coven-presence/internal/presence"
)

// EnvConfigPath names the environment variable holding the config file path.
const EnvConfigPath = "COVEN_PRESENCE_CONFIG"

// Config represents the complete coven-presence configuration
type Config struct {
	Matrix    MatrixConfig    `yaml:"matrix" toml:"matrix"`
	Presence  PresenceConfig  `yaml:"presence" toml:"presence"`
	Liveness  LivenessConfig  `yaml:"liveness" toml:"liveness"`
	Reconnect ReconnectConfig `yaml:"reconnect" toml:"reconnect"`
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale" toml:"tailscale"`
	Database  DatabaseConfig  `yaml:"database" toml:"database"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
}

// MatrixConfig holds the homeserver session settings
type MatrixConfig struct {
	Homeserver  string `yaml:"homeserver" toml:"homeserver" validate:"required,url"`
	UserID      string `yaml:"user_id" toml:"user_id" validate:"required,startswith=@,contains=:"`
	AccessToken string `yaml:"access_token" toml:"access_token" validate:"required"`
}

// PresenceConfig holds the status rotation
type PresenceConfig struct {
	Messages []string `yaml:"messages" toml:"messages" validate:"min=1,dive,required"`
	Modes    []string `yaml:"modes" toml:"modes" validate:"min=1,dive,required"`

	Interval    time.Duration `yaml:"-" toml:"-"`
	IntervalRaw string        `yaml:"interval" toml:"interval"`
}

// LivenessConfig holds the heartbeat timing
type LivenessConfig struct {
	Interval    time.Duration `yaml:"-" toml:"-"`
	IntervalRaw string        `yaml:"interval" toml:"interval"`
}

// ReconnectConfig holds the reconnect budget
type ReconnectConfig struct {
	MaxAttempts int `yaml:"max_attempts" toml:"max_attempts" validate:"gte=1"`

	Delay        time.Duration `yaml:"-" toml:"-"`
	LoginTimeout time.Duration `yaml:"-" toml:"-"`

	DelayRaw        string `yaml:"delay" toml:"delay"`
	LoginTimeoutRaw string `yaml:"login_timeout" toml:"login_timeout"`
}

// ServerConfig holds the health endpoint settings
type ServerConfig struct {
	Port int `yaml:"port" toml:"port" validate:"gte=1,lte=65535"`
	// Page is an optional Markdown file served at "/" instead of the built-in page.
	Page string `yaml:"page" toml:"page"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
}

// DatabaseConfig holds the presence store settings. An empty path disables persistence.
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`

	Retention    time.Duration `yaml:"-" toml:"-"`
	RetentionRaw string        `yaml:"retention" toml:"retention"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" toml:"format" validate:"oneof=text json"`
}

// envOverrides are read from the process environment after the file.
type envOverrides struct {
	Token      string `envconfig:"TOKEN"`
	Port       int    `envconfig:"PORT"`
	Homeserver string `envconfig:"MATRIX_HOMESERVER"`
	UserID     string `envconfig:"MATRIX_USER_ID"`
	DBPath     string `envconfig:"COVEN_PRESENCE_DB"`
	LogLevel   string `envconfig:"LOG_LEVEL"`
}

var validate = validator.New()

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Presence: PresenceConfig{
			Messages:    []string{"🎧 Listening to ArctixMC", "🎮 Playing ArctixMC"},
			Modes:       []string{"dnd", "idle"},
			IntervalRaw: "10s",
		},
		Liveness: LivenessConfig{
			IntervalRaw: "30s",
		},
		Reconnect: ReconnectConfig{
			MaxAttempts:     5,
			DelayRaw:        "5s",
			LoginTimeoutRaw: "30s",
		},
		Server: ServerConfig{
			Port: 3000,
		},
		Tailscale: TailscaleConfig{
			Hostname: "coven-presence",
		},
		Database: DatabaseConfig{
			RetentionRaw: "168h",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Resolve picks the config file path: the explicit path if set, then
// $COVEN_PRESENCE_CONFIG, then ./config.yaml or ./config.toml if present.
// Returns "" when there is no file, which means defaults plus environment.
func Resolve(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p
	}
	for _, candidate := range []string{"config.yaml", "config.yml", "config.toml"} {
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}

// Load reads the configuration file at path over the defaults, applies
// environment overrides and validates the result. An empty path skips
// the file. Environment variables in the format ${VAR_NAME} are expanded.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		expanded := expandEnvVars(string(data))

		if isTOML(path) {
			if _, err := toml.Decode(expanded, cfg); err != nil {
				return nil, fmt.Errorf("parsing config file: %w", err)
			}
		} else {
			if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
				return nil, fmt.Errorf("parsing config file: %w", err)
			}
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func applyEnv(cfg *Config) error {
	var env envOverrides
	if err := envconfig.Process("", &env); err != nil {
		return err
	}

	if env.Token != "" {
		cfg.Matrix.AccessToken = env.Token
	}
	if env.Port != 0 {
		cfg.Server.Port = env.Port
	}
	if env.Homeserver != "" {
		cfg.Matrix.Homeserver = env.Homeserver
	}
	if env.UserID != "" {
		cfg.Matrix.UserID = env.UserID
	}
	if env.DBPath != "" {
		cfg.Database.Path = env.DBPath
	}
	if env.LogLevel != "" {
		cfg.Logging.Level = strings.ToLower(env.LogLevel)
	}
	return nil
}

// Validate checks that all required configuration fields are present and valid.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("%s: failed %q check", fieldPath(verrs[0].Namespace()), verrs[0].Tag())
		}
		return err
	}

	for _, m := range c.Presence.Modes {
		if _, err := presence.ParseMode(m); err != nil {
			return fmt.Errorf("presence.modes: %w", err)
		}
	}

	for name, d := range map[string]time.Duration{
		"presence.interval":       c.Presence.Interval,
		"liveness.interval":       c.Liveness.Interval,
		"reconnect.delay":         c.Reconnect.Delay,
		"reconnect.login_timeout": c.Reconnect.LoginTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}

	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	return nil
}

// PresenceModes returns the configured modes. Call after Validate.
func (c *Config) PresenceModes() []presence.Mode {
	return lo.Map(c.Presence.Modes, func(s string, _ int) presence.Mode {
		m, _ := presence.ParseMode(s)
		return m
	})
}

// Addr returns the health server listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}

// fieldPath turns "Config.Matrix.UserID" into "matrix.userid" for error messages.
func fieldPath(ns string) string {
	parts := strings.Split(ns, ".")
	if len(parts) > 1 {
		parts = parts[1:]
	}
	return strings.ToLower(strings.Join(parts, "."))
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"presence.interval", cfg.Presence.IntervalRaw, &cfg.Presence.Interval},
		{"liveness.interval", cfg.Liveness.IntervalRaw, &cfg.Liveness.Interval},
		{"reconnect.delay", cfg.Reconnect.DelayRaw, &cfg.Reconnect.Delay},
		{"reconnect.login_timeout", cfg.Reconnect.LoginTimeoutRaw, &cfg.Reconnect.LoginTimeout},
		{"database.retention", cfg.Database.RetentionRaw, &cfg.Database.Retention},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}
