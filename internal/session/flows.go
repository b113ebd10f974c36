package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/eachlabs/opschat/internal/channel"
	"github.com/eachlabs/opschat/internal/flow"
)

// Input is what HandleInput did with a line of user text.
type Input int

const (
	// InputIgnored means the text was blank.
	InputIgnored Input = iota
	// InputSent means the text went out as a chat message.
	InputSent
	// InputDispatched means the text answered an open workflow.
	InputDispatched
)

// HandleInput routes a line typed by the user. Text that answers an open
// workflow of the channel goes to the workflow's action endpoint; anything
// else is posted as chat.
func (s *Session) HandleInput(ctx context.Context, text string) (Input, error) {
	if strings.TrimSpace(text) == "" {
		return InputIgnored, nil
	}

	s.mu.Lock()
	if s.current.Key().IsZero() {
		s.mu.Unlock()
		return InputIgnored, ErrNoChannel
	}
	d, ok := flow.Classify(s.flows, s.current, text, s.opts.Policy)
	ticket := s.gen.Current()
	key := s.current.Key()
	s.mu.Unlock()

	if ok {
		return InputDispatched, s.dispatch(ctx, ticket, key, d)
	}
	return InputSent, s.Send(ctx, text)
}

// Press answers an open workflow with one of its buttons.
func (s *Session) Press(ctx context.Context, kind flow.Kind, action flow.Action) error {
	s.mu.Lock()
	if s.current.Key().IsZero() {
		s.mu.Unlock()
		return ErrNoChannel
	}
	d, err := flow.Press(s.flows, s.current, kind, action, s.opts.Policy)
	ticket := s.gen.Current()
	key := s.current.Key()
	s.mu.Unlock()

	if err != nil {
		return err
	}
	return s.dispatch(ctx, ticket, key, d)
}

// dispatch posts a workflow answer. The slot itself only moves when the bot
// replies, so on success a re-sync is scheduled; on failure the slot's
// buttons collapse to a failed label and the slot is left alone.
func (s *Session) dispatch(ctx context.Context, ticket channel.Ticket, key channel.Key, d flow.Dispatch) error {
	err := s.backend.SendFlowAction(ctx, string(d.Kind), d.ReceiptID, string(d.Action), d.Text)
	s.metrics.Dispatch(string(d.Kind), err)

	if err != nil {
		s.mu.Lock()
		if ticket.Valid() {
			if s.failed == nil {
				s.failed = make(map[flow.Kind]bool)
			}
			s.failed[d.Kind] = true
		}
		s.mu.Unlock()
		s.debounce.Trigger(false)
		return fmt.Errorf("%s %s: %w", d.Kind, d.Action, err)
	}

	s.log.Debug("flow action sent", "kind", d.Kind, "receipt", d.ReceiptID, "action", d.Action)
	s.scheduleResync(ticket, key)
	return nil
}

// Flows returns the open workflow slots of the current channel.
func (s *Session) Flows() flow.Active {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flows
}
