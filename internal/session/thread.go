package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/eachlabs/opschat/internal/channel"
)

// OpenThread loads the replies under rootID. It has its own generation, so a
// late load for a thread the user already left is dropped.
func (s *Session) OpenThread(ctx context.Context, rootID string) error {
	s.mu.Lock()
	root, ok := s.store.Get(rootID)
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%s: %w", rootID, ErrUnknownMessage)
	}
	ticket := s.gen.Current()
	tticket := s.threadGen.Next()
	th := &thread{root: root, store: channel.NewStore(s.app.User.ID)}
	th.store.Reset(root.Key())
	s.thread = th
	s.mu.Unlock()
	s.debounce.Trigger(true)

	replies, err := s.backend.ListThread(ctx, rootID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if !ticket.Valid() || !tticket.Valid() {
		s.metrics.Stale("thread")
		return nil
	}
	if err != nil {
		th.store.Loaded(err)
		s.debounce.Trigger(false)
		return fmt.Errorf("open thread: %w", err)
	}
	for _, m := range replies {
		th.store.Merge(m)
	}
	th.store.Loaded(nil)
	s.debounce.Trigger(true)
	return nil
}

// CloseThread returns to the channel log.
func (s *Session) CloseThread() {
	s.mu.Lock()
	s.threadGen.Next()
	s.thread = nil
	s.mu.Unlock()
	s.debounce.Trigger(true)
}

// ReplyThread posts text under the open thread's root.
func (s *Session) ReplyThread(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	s.mu.Lock()
	th := s.thread
	if th == nil {
		s.mu.Unlock()
		return ErrNoThread
	}
	tticket := s.threadGen.Current()
	tmp := channel.NewTemporary(th.root.Key(), s.app.User.ID, text)
	tmp.ParentID = th.root.ID
	th.store.Merge(tmp)
	s.mu.Unlock()
	s.debounce.Trigger(true)

	reply, err := s.backend.PostThreadReply(ctx, th.root.ID, s.app.User.ID, text)

	s.mu.Lock()
	defer s.mu.Unlock()
	if !tticket.Valid() {
		s.metrics.Stale("reply")
		return nil
	}
	if err != nil {
		th.store.MarkFailed(tmp.ID)
		s.debounce.Trigger(false)
		return fmt.Errorf("reply: %w", err)
	}
	if reply != nil {
		if reply.ParentID == "" {
			reply.ParentID = th.root.ID
		}
		s.mergeReplyLocked(reply)
	}
	return nil
}

// mergeReplyLocked folds a thread reply into the open thread and counts it on
// the root the first time a confirmed copy lands.
func (s *Session) mergeReplyLocked(m *channel.Message) {
	th := s.thread
	if th == nil || th.root.ID != m.ParentID {
		return
	}
	res := th.store.Merge(m)
	s.metrics.Merge(res.String())
	if res == channel.Replaced || (res == channel.Appended && !m.IsTemporary()) {
		th.root.ThreadCount++
		s.store.Update(th.root.ID, func(root *channel.Message) {
			root.ThreadCount++
		})
	}
	if res.Changed() {
		s.debounce.Trigger(true)
	}
}
