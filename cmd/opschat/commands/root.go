package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/eachlabs/opschat/internal/api"
	"github.com/eachlabs/opschat/internal/config"
	"github.com/eachlabs/opschat/internal/flow"
	"github.com/eachlabs/opschat/internal/logging"
	"github.com/eachlabs/opschat/internal/metrics"
	"github.com/eachlabs/opschat/internal/realtime"
	"github.com/eachlabs/opschat/internal/render"
	"github.com/eachlabs/opschat/internal/session"
)

var (
	cfgFile string
	verbose bool
	jsonOut bool
)

var rootCmd = &cobra.Command{
	Use:   "opschat",
	Short: "opschat - project channels and receipt workflows in the terminal",
	Long: `opschat is a terminal client for project chat channels.

  opschat chat [channel]       Interactive channel view
  opschat tail <channel>       Print a channel as it changes
  opschat send <channel> ...   Send a message, answer a workflow, or upload a receipt
  opschat channels             List channels
  opschat devserver            Run a local backend with a scripted receipt bot
  opschat config               Manage configuration`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.opschat/config.toml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "output as JSON")

	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(tailCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(channelsCmd)
	rootCmd.AddCommand(devserverCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(versionCmd)
}

func Execute(ver string) error {
	version = ver
	return rootCmd.Execute()
}

var version string

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("opschat %s\n", version)
	},
}

func configPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return config.ConfigPath()
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadFile(configPath())
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}
	return cfg, nil
}

// env is everything a command needs to talk to the backend.
type env struct {
	cfg     *config.Config
	log     *slog.Logger
	closer  io.Closer
	client  *api.Client
	app     *session.AppContext
	metrics *metrics.Metrics
}

// setup loads and validates the config, opens the logger and reads the
// channel directory. logToFile sends logs to the state dir when the config
// names no file, for commands that own the terminal.
func setup(ctx context.Context, logToFile bool) (*env, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	file := cfg.Logging.File
	if file == "" && logToFile {
		if err := config.EnsureDirs(); err != nil {
			return nil, err
		}
		file = filepath.Join(config.LogsDir(), "opschat.log")
	}
	log, closer, err := logging.New(cfg.Logging.Level, file)
	if err != nil {
		return nil, err
	}

	client := api.NewClient(api.Options{
		BaseURL: cfg.Server.APIURL,
		Token:   cfg.Server.Token,
		Timeout: cfg.Server.Timeout,
	}, log)

	app, err := session.Load(ctx, session.User{ID: cfg.User.ID, Name: cfg.User.Name}, client)
	if err != nil {
		closer.Close()
		return nil, err
	}

	return &env{
		cfg:     cfg,
		log:     log,
		closer:  closer,
		client:  client,
		app:     app,
		metrics: metrics.New(),
	}, nil
}

// newSession wires a session to the configured feed.
func (rt *env) newSession(onRender func(render.Frame)) *session.Session {
	var feed realtime.Feed = realtime.Disabled{}
	if url := rt.cfg.Server.RealtimeURL; url != "" {
		opts := realtime.DefaultOptions(url)
		opts.Token = rt.cfg.Server.Token
		opts.TypingInterval = rt.cfg.Sync.TypingInterval
		feed = realtime.NewClient(opts, rt.log)
	} else {
		rt.log.Info("no realtime_url configured, polling only")
	}

	return session.New(rt.app, rt.client, session.Options{
		Feed:         feed,
		PollInterval: rt.cfg.Sync.PollInterval,
		PollLimit:    rt.cfg.Sync.PollLimit,
		ResyncDelay:  rt.cfg.Sync.ResyncDelay,
		RenderWindow: rt.cfg.Sync.RenderWindow,
		Policy: flow.Policy{
			PayrollChannel: rt.cfg.Flows.PayrollChannel,
			BotID:          rt.cfg.Flows.BotID,
		},
		Logger:       rt.log,
		Metrics:      rt.metrics,
		OnRender:     onRender,
	})
}

func (rt *env) Close() error {
	return rt.closer.Close()
}
