package session

import (
	"fmt"

	"github.com/eachlabs/opschat/internal/channel"
)

// goRefreshHeader recomputes the header of ch in the background. A failure
// leaves the channel without an indicator; it never blocks the open.
func (s *Session) goRefreshHeader(ticket channel.Ticket, ch channel.Channel) {
	if !s.track() {
		return
	}
	go func() {
		defer s.wg.Done()
		h := s.buildHeader(ch)

		s.mu.Lock()
		if !ticket.Valid() {
			s.mu.Unlock()
			s.metrics.Stale("header")
			return
		}
		s.header = h
		s.mu.Unlock()
		s.debounce.Trigger(false)
	}()
}

func (s *Session) buildHeader(ch channel.Channel) Header {
	h := Header{Title: ch.DisplayName()}

	if ch.Type.ProjectScoped() {
		if p, ok := s.app.Project(ch.ProjectID); ok {
			h.Subtitle = p.Name
		}
	} else if n := len(ch.Members); n > 0 {
		h.Subtitle = fmt.Sprintf("%d members", n)
	}

	if ch.Type == channel.TypeReceipts {
		n, err := s.backend.PendingReceiptCount(s.ctx, ch.ProjectID)
		switch {
		case err != nil:
			s.log.Debug("pending receipt count unavailable", "project", ch.ProjectID, "err", err)
		case n > 0:
			h.Indicator = fmt.Sprintf("%d pending", n)
		}
	}
	return h
}
