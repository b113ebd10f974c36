package commands

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/eachlabs/opschat/internal/channel"
	"github.com/eachlabs/opschat/internal/session"
	"github.com/eachlabs/opschat/internal/tui"
)

var chatMetricsAddr string

var chatCmd = &cobra.Command{
	Use:   "chat [channel]",
	Short: "Open the interactive channel view",
	Long: `Open the interactive channel view.

The channel may be a key (receipts:p1), an id or a name. Without one the
first channel is opened.

Examples:
  opschat chat
  opschat chat riverside-receipts
  opschat chat --metrics-addr 127.0.0.1:9464`,
	Args: cobra.MaximumNArgs(1),
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatMetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := setup(ctx, true)
	if err != nil {
		return err
	}
	defer rt.Close()

	ch, err := pickChannel(rt.app, args)
	if err != nil {
		return err
	}

	addr := chatMetricsAddr
	if addr == "" {
		addr = rt.cfg.Metrics.Addr
	}
	if addr != "" {
		srv := &http.Server{Addr: addr, Handler: rt.metrics.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				rt.log.Error("metrics listener failed", "addr", addr, "err", err)
			}
		}()
		defer srv.Close()
	}

	painter := &tui.Painter{}
	s := rt.newSession(painter.Paint)
	defer s.Close()

	go func() {
		if err := s.SelectChannel(ctx, ch.Key()); err != nil {
			rt.log.Warn("opening channel failed", "channel", ch.Key(), "err", err)
		}
	}()

	return tui.Run(ctx, s, painter, tui.Options{
		ScrollThreshold: rt.cfg.Sync.ScrollThreshold,
		BotID:           rt.cfg.Flows.BotID,
	})
}

// pickChannel resolves the optional channel argument.
func pickChannel(app *session.AppContext, args []string) (channel.Channel, error) {
	if len(args) > 0 {
		ch, ok := app.Find(args[0])
		if !ok {
			return channel.Channel{}, fmt.Errorf("channel not found: %s", args[0])
		}
		return ch, nil
	}
	chs := app.Channels()
	if len(chs) == 0 {
		return channel.Channel{}, fmt.Errorf("no channels visible to %s", app.User.ID)
	}
	return chs[0], nil
}
