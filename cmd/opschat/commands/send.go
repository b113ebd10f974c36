package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/eachlabs/opschat/internal/flow"
	"github.com/eachlabs/opschat/internal/session"
)

var (
	sendFile  string
	sendForce bool
	sendPress string
)

var sendCmd = &cobra.Command{
	Use:   "send <channel> [text...]",
	Short: "Send a message, answer a workflow, or upload a receipt",
	Long: `Send one message to a channel and exit.

Text that answers an open workflow (for example "yes" to a duplicate
prompt) goes to the workflow instead of the chat.

Examples:
  opschat send ops "truck is loaded"
  opschat send riverside-receipts --file ~/scans/lumber.jpg
  opschat send riverside-receipts --file dup.jpg --force
  opschat send riverside-receipts --press receipt:single_project
  opschat send riverside-receipts 1250.00`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSend,
}

func init() {
	sendCmd.Flags().StringVarP(&sendFile, "file", "f", "", "receipt image to upload")
	sendCmd.Flags().BoolVar(&sendForce, "force", false, "process the receipt even if it looks like a duplicate")
	sendCmd.Flags().StringVar(&sendPress, "press", "", "press a workflow button, as kind:action")
}

func runSend(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := setup(ctx, false)
	if err != nil {
		return err
	}
	defer rt.Close()

	ch, err := pickChannel(rt.app, args[:1])
	if err != nil {
		return err
	}
	text := strings.Join(args[1:], " ")

	s := rt.newSession(nil)
	defer s.Close()

	if err := s.SelectChannel(ctx, ch.Key()); err != nil {
		return err
	}

	switch {
	case sendPress != "":
		kind, action, ok := strings.Cut(sendPress, ":")
		if !ok {
			return fmt.Errorf("--press wants kind:action, got %q", sendPress)
		}
		if err := s.Press(ctx, flow.Kind(kind), flow.Action(action)); err != nil {
			return err
		}
		fmt.Printf("Pressed %s\n", sendPress)

	case sendFile != "":
		if err := s.SendReceipt(ctx, sendFile, sendForce); err != nil {
			return err
		}
		fmt.Printf("Uploaded %s to %s\n", sendFile, ch.DisplayName())

	case text != "":
		in, err := s.HandleInput(ctx, text)
		if err != nil {
			return err
		}
		if in == session.InputDispatched {
			fmt.Println("Answered the open workflow")
		} else {
			fmt.Printf("Sent to %s\n", ch.DisplayName())
		}

	default:
		return fmt.Errorf("nothing to send: give text, --file or --press")
	}

	// let the bot reply and the scheduled re-sync pick it up
	waitSettled(ctx, 2*rt.cfg.Sync.ResyncDelay)
	for _, fv := range s.View().Flows {
		fmt.Printf("  > %s waiting at %s\n", fv.Slot.Kind, fv.Slot.State)
	}
	return nil
}

// waitSettled waits d or until ctx ends.
func waitSettled(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
