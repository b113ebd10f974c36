// Package config handles configuration loading and management.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config represents the opschat configuration.
type Config struct {
	Server  ServerConfig  `toml:"server"`
	User    UserConfig    `toml:"user"`
	Sync    SyncConfig    `toml:"sync"`
	Flows   FlowsConfig   `toml:"flows"`
	Logging LoggingConfig `toml:"logging"`
	Metrics MetricsConfig `toml:"metrics"`
}

// ServerConfig holds backend connection settings.
type ServerConfig struct {
	APIURL      string        `toml:"api_url" validate:"required,url"`
	RealtimeURL string        `toml:"realtime_url" validate:"omitempty,url"`
	Token       string        `toml:"token"`
	Timeout     time.Duration `toml:"timeout" validate:"gt=0"`
}

// UserConfig identifies the current user.
type UserConfig struct {
	ID   string `toml:"id" validate:"required"`
	Name string `toml:"name"`
}

// SyncConfig tunes how the open channel is kept current.
type SyncConfig struct {
	PollInterval    time.Duration `toml:"poll_interval" validate:"gt=0"`
	PollLimit       int           `toml:"poll_limit" validate:"gt=0,lte=500"`
	ResyncDelay     time.Duration `toml:"resync_delay" validate:"gte=0"`
	RenderWindow    time.Duration `toml:"render_window" validate:"gt=0"`
	TypingInterval  time.Duration `toml:"typing_interval" validate:"gt=0"`
	ScrollThreshold int           `toml:"scroll_threshold" validate:"gte=0"`
}

// FlowsConfig holds workflow routing settings.
type FlowsConfig struct {
	// PayrollChannel is the group channel id where check triage runs.
	PayrollChannel string `toml:"payroll_channel"`
	// BotID is the user id that posts workflow steps.
	BotID string `toml:"bot_id" validate:"required"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `toml:"level" validate:"oneof=debug info warn error"`
	File  string `toml:"file"`
}

// MetricsConfig holds the metrics listener.
type MetricsConfig struct {
	Addr string `toml:"addr" validate:"omitempty,hostname_port"`
}

var validate = validator.New()

// Load reads configuration from the default path and environment.
func Load() (*Config, error) {
	return LoadFile(ConfigPath())
}

// LoadFile reads configuration from path, a .env file in the working
// directory, and the environment. A missing file yields the defaults.
func LoadFile(path string) (*Config, error) {
	cfg := defaultConfig()

	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg.applyEnv()
	cfg.expandPaths()

	return cfg, nil
}

// Validate checks that the config can drive a session.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// ConfigPath returns the path to the config file.
func ConfigPath() string {
	if p := os.Getenv("OPSCHAT_CONFIG"); p != "" {
		return p
	}
	return filepath.Join(StateDir(), "config.toml")
}

// StateDir returns the opschat state directory.
func StateDir() string {
	if p := os.Getenv("OPSCHAT_STATE_DIR"); p != "" {
		return p
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".opschat")
}

// LogsDir returns the logs directory.
func LogsDir() string {
	return filepath.Join(StateDir(), "logs")
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			APIURL:  "http://127.0.0.1:8787/api",
			Timeout: 15 * time.Second,
		},
		Sync: SyncConfig{
			PollInterval:    3 * time.Second,
			PollLimit:       50,
			ResyncDelay:     1500 * time.Millisecond,
			RenderWindow:    50 * time.Millisecond,
			TypingInterval:  2 * time.Second,
			ScrollThreshold: 3,
		},
		Flows: FlowsConfig{
			BotID: "opsbot",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

func (c *Config) applyEnv() {
	if v := os.Getenv("OPSCHAT_API_URL"); v != "" {
		c.Server.APIURL = v
	}
	if v := os.Getenv("OPSCHAT_REALTIME_URL"); v != "" {
		c.Server.RealtimeURL = v
	}
	if v := os.Getenv("OPSCHAT_TOKEN"); v != "" {
		c.Server.Token = v
	}
	if v := os.Getenv("OPSCHAT_USER_ID"); v != "" {
		c.User.ID = v
	}
	if v := os.Getenv("OPSCHAT_LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
}

func (c *Config) expandPaths() {
	home, _ := os.UserHomeDir()

	expand := func(p string) string {
		if strings.HasPrefix(p, "~/") {
			return filepath.Join(home, p[2:])
		}
		if strings.HasPrefix(p, "$HOME/") {
			return filepath.Join(home, p[6:])
		}
		return p
	}

	c.Logging.File = expand(c.Logging.File)
}

// Save writes the config to the default path.
func (c *Config) Save() error {
	return c.SaveFile(ConfigPath())
}

// SaveFile writes the config to path.
func (c *Config) SaveFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(c)
}

// EnsureDirs creates necessary directories.
func EnsureDirs() error {
	for _, dir := range []string{StateDir(), LogsDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}
