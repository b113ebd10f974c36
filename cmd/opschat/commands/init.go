package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/eachlabs/opschat/internal/config"
)

var (
	initUser        string
	initName        string
	initAPIURL      string
	initRealtimeURL string
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the opschat config",
	Long: `Create ~/.opschat with a config file and a logs directory.

Examples:
  opschat init --user dana --name Dana
  opschat init --user dana --api-url http://127.0.0.1:8787/api --realtime-url ws://127.0.0.1:8787/realtime`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().StringVar(&initUser, "user", "", "your user id")
	initCmd.Flags().StringVar(&initName, "name", "", "your display name")
	initCmd.Flags().StringVar(&initAPIURL, "api-url", "", "backend REST base URL")
	initCmd.Flags().StringVar(&initRealtimeURL, "realtime-url", "", "backend websocket URL")
}

func runInit(cmd *cobra.Command, args []string) error {
	if err := config.EnsureDirs(); err != nil {
		return err
	}

	path := configPath()
	if _, err := os.Stat(path); err == nil {
		fmt.Printf("Exists: %s\n", path)
		return nil
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if initUser != "" {
		cfg.User.ID = initUser
	}
	if initName != "" {
		cfg.User.Name = initName
	}
	if initAPIURL != "" {
		cfg.Server.APIURL = initAPIURL
	}
	if initRealtimeURL != "" {
		cfg.Server.RealtimeURL = initRealtimeURL
	}

	if err := cfg.SaveFile(path); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}
	fmt.Printf("Created %s\n", path)

	if err := cfg.Validate(); err != nil {
		fmt.Printf("\nThe config is not complete yet: %v\n", err)
	}

	fmt.Println("\nNext steps:")
	if cfg.User.ID == "" {
		fmt.Println("  opschat config set user.id <your id>")
	}
	fmt.Println("  opschat devserver        # optional local backend")
	fmt.Println("  opschat chat")
	return nil
}
