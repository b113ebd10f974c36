package session

import (
	"github.com/eachlabs/opschat/internal/channel"
	"github.com/eachlabs/opschat/internal/flow"
	"github.com/eachlabs/opschat/internal/realtime"
)

// FlowView is one open workflow as the screen shows it.
type FlowView struct {
	Slot    flow.Slot
	Buttons []flow.Button
	// Failed is set when the last answer could not be delivered. The buttons
	// are replaced by a failed label until the bot moves the slot.
	Failed bool
}

// ThreadView is the open thread.
type ThreadView struct {
	Root     *channel.Message
	Messages []*channel.Message
	Loaded   bool
	Err      error
}

// View is a consistent copy of everything a renderer needs.
type View struct {
	Channel  channel.Channel
	Header   Header
	Messages []*channel.Message
	Loaded   bool
	Err      error
	Flows    []FlowView
	Typing   string
	Thread   *ThreadView
	SelfID   string
}

// View snapshots the session.
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := View{
		Channel:  s.current,
		Header:   s.header,
		Messages: s.store.Messages(),
		Typing:   realtime.TypingLabel(s.peers, s.app.User.ID),
		SelfID:   s.app.User.ID,
	}
	v.Loaded, v.Err = s.store.State()

	for _, slot := range s.flows.Slots() {
		if !s.opts.Policy.Supports(slot.Kind, s.current) {
			continue
		}
		fv := FlowView{Slot: slot, Failed: s.failed[slot.Kind]}
		if !fv.Failed {
			fv.Buttons = flow.Buttons(slot)
		}
		v.Flows = append(v.Flows, fv)
	}

	if th := s.thread; th != nil {
		tv := &ThreadView{Root: th.root.Clone(), Messages: th.store.Messages()}
		tv.Loaded, tv.Err = th.store.State()
		v.Thread = tv
	}
	return v
}
