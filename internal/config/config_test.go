package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadFileDefaults(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}

	if cfg.Sync.PollInterval != 3*time.Second {
		t.Errorf("PollInterval = %v, want 3s", cfg.Sync.PollInterval)
	}
	if cfg.Sync.RenderWindow != 50*time.Millisecond {
		t.Errorf("RenderWindow = %v, want 50ms", cfg.Sync.RenderWindow)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "info")
	}
}

func TestLoadFileOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	body := `
[server]
api_url = "https://ops.example.com/api"
timeout = "5s"

[user]
id = "u-42"
name = "Dana"

[sync]
poll_interval = "750ms"
poll_limit = 20

[flows]
payroll_channel = "grp-payroll"

[logging]
file = "~/opschat.log"
`
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("OPSCHAT_TOKEN", "secret")
	t.Setenv("OPSCHAT_LOG_LEVEL", "DEBUG")

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}

	if cfg.Server.APIURL != "https://ops.example.com/api" {
		t.Errorf("APIURL = %q", cfg.Server.APIURL)
	}
	if cfg.Server.Timeout != 5*time.Second {
		t.Errorf("Timeout = %v, want 5s", cfg.Server.Timeout)
	}
	if cfg.Sync.PollInterval != 750*time.Millisecond {
		t.Errorf("PollInterval = %v, want 750ms", cfg.Sync.PollInterval)
	}
	if cfg.Sync.TypingInterval != 2*time.Second {
		t.Errorf("TypingInterval = %v, want default 2s", cfg.Sync.TypingInterval)
	}
	if cfg.Flows.PayrollChannel != "grp-payroll" {
		t.Errorf("PayrollChannel = %q", cfg.Flows.PayrollChannel)
	}
	if cfg.Flows.BotID != "opsbot" {
		t.Errorf("BotID = %q, want default", cfg.Flows.BotID)
	}
	if cfg.Server.Token != "secret" {
		t.Errorf("Token = %q, want env override", cfg.Server.Token)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "debug")
	}
	if strings.HasPrefix(cfg.Logging.File, "~") {
		t.Errorf("Logging.File = %q, want expanded path", cfg.Logging.File)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestLoadFileBadTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[server\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFile(path); err == nil {
		t.Error("LoadFile() error = nil, want parse error")
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		c := defaultConfig()
		c.User.ID = "u-1"
		return c
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"missing user", func(c *Config) { c.User.ID = "" }, "User.ID"},
		{"bad api url", func(c *Config) { c.Server.APIURL = "not a url" }, "APIURL"},
		{"zero poll interval", func(c *Config) { c.Sync.PollInterval = 0 }, "PollInterval"},
		{"poll limit too large", func(c *Config) { c.Sync.PollLimit = 1000 }, "PollLimit"},
		{"unknown level", func(c *Config) { c.Logging.Level = "trace" }, "Level"},
		{"missing bot id", func(c *Config) { c.Flows.BotID = "" }, "BotID"},
		{"metrics addr", func(c *Config) { c.Metrics.Addr = ":9090" }, ""},
		{"bad metrics addr", func(c *Config) { c.Metrics.Addr = "nope" }, "Addr"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestSaveFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")

	cfg := defaultConfig()
	cfg.User.ID = "u-7"
	cfg.Sync.ResyncDelay = 2 * time.Second
	if err := cfg.SaveFile(path); err != nil {
		t.Fatalf("SaveFile() error = %v", err)
	}

	got, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if got.User.ID != "u-7" {
		t.Errorf("User.ID = %q, want %q", got.User.ID, "u-7")
	}
	if got.Sync.ResyncDelay != 2*time.Second {
		t.Errorf("ResyncDelay = %v, want 2s", got.Sync.ResyncDelay)
	}
}

func TestConfigPathEnv(t *testing.T) {
	t.Setenv("OPSCHAT_CONFIG", "/tmp/custom.toml")
	if got := ConfigPath(); got != "/tmp/custom.toml" {
		t.Errorf("ConfigPath() = %q, want %q", got, "/tmp/custom.toml")
	}

	t.Setenv("OPSCHAT_CONFIG", "")
	t.Setenv("OPSCHAT_STATE_DIR", "/tmp/state")
	if got := ConfigPath(); got != filepath.Join("/tmp/state", "config.toml") {
		t.Errorf("ConfigPath() = %q", got)
	}
}
