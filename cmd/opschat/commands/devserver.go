package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/eachlabs/opschat/internal/config"
	"github.com/eachlabs/opschat/internal/devserver"
	"github.com/eachlabs/opschat/internal/logging"
)

var devserverAddr string

var devserverCmd = &cobra.Command{
	Use:   "devserver",
	Short: "Run a local backend with a scripted receipt bot",
	Long: `Run an in-memory backend that speaks the opschat REST and realtime
protocols. A bot answers receipt uploads: file names containing "dup"
open the duplicate workflow, "check" opens check triage, anything else
opens receipt allocation.

Point a client at it with:
  [server]
  api_url = "http://127.0.0.1:8787/api"
  realtime_url = "ws://127.0.0.1:8787/realtime"`,
	RunE: runDevserver,
}

func init() {
	devserverCmd.Flags().StringVar(&devserverAddr, "addr", "127.0.0.1:8787", "listen address")
}

func runDevserver(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	level := "info"
	if cfg, err := config.LoadFile(configPath()); err == nil {
		level = cfg.Logging.Level
	}
	if verbose {
		level = "debug"
	}
	log, closer, err := logging.New(level, "")
	if err != nil {
		return err
	}
	defer closer.Close()

	ds := devserver.New(devserver.Options{Logger: log})
	srv := &http.Server{
		Addr:              devserverAddr,
		Handler:           ds.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	fmt.Printf("devserver listening on http://%s\n", devserverAddr)
	log.Info("devserver started", "addr", devserverAddr)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down", "clients", ds.Hub().Clients())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
