package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/eachlabs/opschat/internal/channel"
	"github.com/eachlabs/opschat/internal/render"
	"github.com/eachlabs/opschat/internal/session"
)

var tailCmd = &cobra.Command{
	Use:   "tail <channel>",
	Short: "Print a channel and follow new messages",
	Long: `Print the recent history of a channel and keep printing messages and
workflow prompts as they arrive. Stops on Ctrl-C.

Examples:
  opschat tail ops
  opschat tail receipts:p1 --json`,
	Args: cobra.ExactArgs(1),
	RunE: runTail,
}

func runTail(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := setup(ctx, false)
	if err != nil {
		return err
	}
	defer rt.Close()

	ch, err := pickChannel(rt.app, args)
	if err != nil {
		return err
	}

	frames := make(chan render.Frame, 1)
	s := rt.newSession(func(f render.Frame) {
		select {
		case frames <- f:
		default:
		}
	})
	defer s.Close()

	if err := s.SelectChannel(ctx, ch.Key()); err != nil {
		return err
	}

	p := &tailPrinter{seen: make(map[string]bool), flows: make(map[string]bool)}
	p.print(s.View())
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-frames:
			p.print(s.View())
		}
	}
}

// tailPrinter prints what it has not printed before.
type tailPrinter struct {
	seen   map[string]bool
	flows  map[string]bool
	header session.Header
}

func (p *tailPrinter) print(v session.View) {
	if v.Header != p.header && !jsonOut {
		p.header = v.Header
		line := v.Header.Title
		if v.Header.Subtitle != "" {
			line += " · " + v.Header.Subtitle
		}
		if v.Header.Indicator != "" {
			line += " [" + v.Header.Indicator + "]"
		}
		fmt.Println("# " + line)
	}

	for _, m := range v.Messages {
		if m.IsTemporary() || p.seen[m.ID] {
			continue
		}
		p.seen[m.ID] = true
		if jsonOut {
			b, _ := json.Marshal(m)
			fmt.Println(string(b))
			continue
		}
		fmt.Println(formatMessage(m, v.SelfID))
	}

	for _, fv := range v.Flows {
		key := fmt.Sprintf("%s/%s/%s", fv.Slot.Kind, fv.Slot.ReceiptID, fv.Slot.State)
		if p.flows[key] || jsonOut {
			continue
		}
		p.flows[key] = true
		var actions []string
		for _, b := range fv.Buttons {
			actions = append(actions, fmt.Sprintf("%s:%s", fv.Slot.Kind, b.Action))
		}
		fmt.Printf("  > %s waiting at %s", fv.Slot.Kind, fv.Slot.State)
		if len(actions) > 0 {
			fmt.Printf(" (--press %s)", strings.Join(actions, ", "))
		}
		fmt.Println()
	}
}

func formatMessage(m *channel.Message, selfID string) string {
	author := m.UserID
	if author == selfID {
		author = "you"
	}
	line := fmt.Sprintf("[%s] %s: %s", humanize.Time(m.CreatedAt), author, m.Content)
	for _, a := range m.Attachments {
		line += fmt.Sprintf(" (%s, %s)", a.Name, humanize.Bytes(uint64(a.Size)))
	}
	if m.ThreadCount > 0 {
		line += fmt.Sprintf(" +%d replies", m.ThreadCount)
	}
	if r := m.ReactionSummary(); len(r) > 0 {
		line += " " + strings.Join(r, " ")
	}
	return line
}
