package session

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/eachlabs/opschat/internal/api"
	"github.com/eachlabs/opschat/internal/channel"
)

// Send posts text to the open channel. The message shows up immediately as a
// temporary entry; the server copy replaces it in place. On failure the entry
// stays, marked failed, and is not retried.
func (s *Session) Send(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	s.mu.Lock()
	if s.current.Key().IsZero() {
		s.mu.Unlock()
		return ErrNoChannel
	}
	key := s.current.Key()
	ticket := s.gen.Current()
	tmp := channel.NewTemporary(key, s.app.User.ID, text)
	s.mergeLocked(tmp)
	s.mu.Unlock()

	msg, err := s.backend.PostMessage(ctx, api.NewPostMessage(key, s.app.User.ID, text))
	return s.confirm(ticket, tmp.ID, msg, err)
}

// confirm applies the outcome of posting the temporary tmpID.
func (s *Session) confirm(ticket channel.Ticket, tmpID string, msg *channel.Message, err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !ticket.Valid() {
		s.metrics.Stale("send")
		return nil
	}
	if err != nil {
		s.store.MarkFailed(tmpID)
		s.debounce.Trigger(false)
		return fmt.Errorf("send: %w", err)
	}
	if msg != nil {
		s.mergeLocked(msg)
	}
	return nil
}

// SendReceipt uploads a receipt image to the open receipts channel, posts it
// and hands it to the processing agent. force reprocesses a receipt the agent
// flagged before.
func (s *Session) SendReceipt(ctx context.Context, path string, force bool) error {
	s.mu.Lock()
	if s.current.Key().IsZero() {
		s.mu.Unlock()
		return ErrNoChannel
	}
	if s.current.Type != channel.TypeReceipts {
		s.mu.Unlock()
		return ErrNotReceiptsChannel
	}
	ch := s.current
	key := ch.Key()
	ticket := s.gen.Current()
	name := filepath.Base(path)
	tmp := channel.NewTemporary(key, s.app.User.ID, name)
	tmp.Attachments = []channel.Attachment{{Name: name}}
	s.mergeLocked(tmp)
	s.mu.Unlock()

	rec, err := s.backend.UploadReceipt(ctx, key.ID, s.app.User.ID, path)
	if err != nil {
		return s.confirm(ticket, tmp.ID, nil, fmt.Errorf("upload %s: %w", name, err))
	}

	att := channel.Attachment{
		Name:         name,
		URL:          rec.FileURL,
		Type:         rec.FileType,
		Size:         rec.FileSize,
		ThumbnailURL: rec.ThumbnailURL,
	}
	s.mu.Lock()
	if ticket.Valid() {
		s.store.Update(tmp.ID, func(m *channel.Message) {
			m.SetMeta(channel.MetaPendingReceipt, rec.ID)
			m.Attachments = []channel.Attachment{att}
		})
	}
	s.mu.Unlock()

	post := api.NewPostMessage(key, s.app.User.ID, name)
	post.Attachments = []channel.Attachment{att}
	post.Metadata = map[string]any{channel.MetaPendingReceipt: rec.ID}
	msg, err := s.backend.PostMessage(ctx, post)
	if err := s.confirm(ticket, tmp.ID, msg, err); err != nil {
		return err
	}

	res, err := s.backend.ProcessReceipt(ctx, rec.ID, force)
	if err != nil {
		return fmt.Errorf("process %s: %w", name, err)
	}
	s.log.Info("receipt processed", "receipt", rec.ID, "status", res.Status)
	if res.NeedsAttention() {
		s.scheduleResync(ticket, key)
	}
	s.goRefreshHeader(ticket, ch)
	return nil
}

// React toggles the user's emoji on a message. The change shows at once and
// is reverted if the server rejects it.
func (s *Session) React(ctx context.Context, messageID, emoji string) error {
	self := s.app.User.ID

	s.mu.Lock()
	ticket := s.gen.Current()
	found := s.store.Update(messageID, func(m *channel.Message) { m.ToggleReaction(emoji, self) })
	s.mu.Unlock()
	if !found {
		return fmt.Errorf("%s: %w", messageID, ErrUnknownMessage)
	}
	s.debounce.Trigger(false)

	updated, err := s.backend.ToggleReaction(ctx, messageID, emoji, self)

	s.mu.Lock()
	defer s.mu.Unlock()
	if !ticket.Valid() {
		s.metrics.Stale("react")
		return nil
	}
	if err != nil {
		s.store.Update(messageID, func(m *channel.Message) { m.ToggleReaction(emoji, self) })
		s.debounce.Trigger(false)
		return fmt.Errorf("react: %w", err)
	}
	if updated != nil {
		s.mergeLocked(updated)
	}
	return nil
}
