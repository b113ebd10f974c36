package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/eachlabs/opschat/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long: `Manage opschat configuration.

Subcommands:
  get [key]              Show configuration value(s)
  set <key> <value>      Set a configuration value
  edit                   Open config in $EDITOR
  path                   Show config file path`,
}

func init() {
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configEditCmd)
	configCmd.AddCommand(configPathCmd)
}

var configGetCmd = &cobra.Command{
	Use:   "get [key]",
	Short: "Show configuration",
	Long: `Show configuration values.

Examples:
  opschat config get
  opschat config get server.api_url
  opschat config get sync`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		if len(args) == 0 {
			shown := *cfg
			shown.Server.Token = maskToken(cfg.Server.Token)
			if jsonOut {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(shown)
			}
			return toml.NewEncoder(os.Stdout).Encode(shown)
		}

		key := args[0]
		value := getConfigValue(cfg, key)
		if value == nil {
			return fmt.Errorf("key not found: %s", key)
		}

		if jsonOut {
			return json.NewEncoder(os.Stdout).Encode(value)
		}

		fmt.Printf("%v\n", value)
		return nil
	},
}

func getConfigValue(cfg *config.Config, key string) any {
	parts := strings.Split(key, ".")

	switch parts[0] {
	case "server":
		if len(parts) == 1 {
			s := cfg.Server
			s.Token = maskToken(s.Token)
			return s
		}
		switch parts[1] {
		case "api_url":
			return cfg.Server.APIURL
		case "realtime_url":
			return cfg.Server.RealtimeURL
		case "token":
			return maskToken(cfg.Server.Token)
		case "timeout":
			return cfg.Server.Timeout
		}

	case "user":
		if len(parts) == 1 {
			return cfg.User
		}
		switch parts[1] {
		case "id":
			return cfg.User.ID
		case "name":
			return cfg.User.Name
		}

	case "sync":
		if len(parts) == 1 {
			return cfg.Sync
		}
		switch parts[1] {
		case "poll_interval":
			return cfg.Sync.PollInterval
		case "poll_limit":
			return cfg.Sync.PollLimit
		case "resync_delay":
			return cfg.Sync.ResyncDelay
		case "render_window":
			return cfg.Sync.RenderWindow
		case "typing_interval":
			return cfg.Sync.TypingInterval
		case "scroll_threshold":
			return cfg.Sync.ScrollThreshold
		}

	case "flows":
		if len(parts) == 1 {
			return cfg.Flows
		}
		switch parts[1] {
		case "payroll_channel":
			return cfg.Flows.PayrollChannel
		case "bot_id":
			return cfg.Flows.BotID
		}

	case "logging":
		if len(parts) == 1 {
			return cfg.Logging
		}
		switch parts[1] {
		case "level":
			return cfg.Logging.Level
		case "file":
			return cfg.Logging.File
		}

	case "metrics":
		if len(parts) == 1 {
			return cfg.Metrics
		}
		if parts[1] == "addr" {
			return cfg.Metrics.Addr
		}
	}

	return nil
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: `Set a configuration value.

Examples:
  opschat config set user.id dana
  opschat config set server.realtime_url ws://127.0.0.1:8787/realtime
  opschat config set sync.poll_interval 5s`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := args[0]
		value := args[1]

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		if err := setConfigValue(cfg, key, value); err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		if err := cfg.SaveFile(configPath()); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		fmt.Printf("Set %s = %s\n", key, value)
		return nil
	},
}

func setConfigValue(cfg *config.Config, key, value string) error {
	parts := strings.Split(key, ".")
	if len(parts) != 2 {
		return fmt.Errorf("invalid key: %s (use <section>.<field>)", key)
	}

	duration := func(dst *time.Duration) error {
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = d
		return nil
	}
	number := func(dst *int) error {
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%s: not a number: %s", key, value)
		}
		*dst = n
		return nil
	}

	switch parts[0] {
	case "server":
		switch parts[1] {
		case "api_url":
			cfg.Server.APIURL = value
		case "realtime_url":
			cfg.Server.RealtimeURL = value
		case "token":
			cfg.Server.Token = value
		case "timeout":
			return duration(&cfg.Server.Timeout)
		default:
			return fmt.Errorf("unknown field: %s", parts[1])
		}

	case "user":
		switch parts[1] {
		case "id":
			cfg.User.ID = value
		case "name":
			cfg.User.Name = value
		default:
			return fmt.Errorf("unknown field: %s", parts[1])
		}

	case "sync":
		switch parts[1] {
		case "poll_interval":
			return duration(&cfg.Sync.PollInterval)
		case "poll_limit":
			return number(&cfg.Sync.PollLimit)
		case "resync_delay":
			return duration(&cfg.Sync.ResyncDelay)
		case "render_window":
			return duration(&cfg.Sync.RenderWindow)
		case "typing_interval":
			return duration(&cfg.Sync.TypingInterval)
		case "scroll_threshold":
			return number(&cfg.Sync.ScrollThreshold)
		default:
			return fmt.Errorf("unknown field: %s", parts[1])
		}

	case "flows":
		switch parts[1] {
		case "payroll_channel":
			cfg.Flows.PayrollChannel = value
		case "bot_id":
			cfg.Flows.BotID = value
		default:
			return fmt.Errorf("unknown field: %s", parts[1])
		}

	case "logging":
		switch parts[1] {
		case "level":
			cfg.Logging.Level = strings.ToLower(value)
		case "file":
			cfg.Logging.File = value
		default:
			return fmt.Errorf("unknown field: %s", parts[1])
		}

	case "metrics":
		if parts[1] != "addr" {
			return fmt.Errorf("unknown field: %s", parts[1])
		}
		cfg.Metrics.Addr = value

	default:
		return fmt.Errorf("unknown section: %s", parts[0])
	}

	return nil
}

func maskToken(token string) string {
	if len(token) <= 8 {
		if token == "" {
			return ""
		}
		return "****"
	}
	return token[:4] + "..." + token[len(token)-4:]
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open config in editor",
	RunE: func(cmd *cobra.Command, args []string) error {
		editor := os.Getenv("EDITOR")
		if editor == "" {
			editor = "vi"
		}

		path := configPath()
		if _, err := os.Stat(path); os.IsNotExist(err) {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.SaveFile(path); err != nil {
				return err
			}
		}

		c := exec.Command(editor, path)
		c.Stdin = os.Stdin
		c.Stdout = os.Stdout
		c.Stderr = os.Stderr

		return c.Run()
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show config file path",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(configPath())
	},
}
