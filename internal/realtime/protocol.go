// Package realtime delivers new channel messages as they are inserted, tracks
// who is typing, and polls as a safety net when the push feed is unreliable.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/eachlabs/opschat/internal/channel"
)

// Frame types exchanged over the feed socket.
const (
	FrameSubscribe     = "subscribe"
	FrameInsert        = "insert"
	FramePresenceJoin  = "presence_join"
	FramePresence      = "presence"
	FramePresenceState = "presence_state"
	FrameError         = "error"
)

// TopicMessages is the relation whose inserts the feed publishes.
const TopicMessages = "messages"

// Frame is one JSON message on the feed socket.
type Frame struct {
	Type   string          `json:"type"`
	Topic  string          `json:"topic,omitempty"`
	Key    string          `json:"key,omitempty"`
	Record json.RawMessage `json:"record,omitempty"`
	UserID string          `json:"user_id,omitempty"`
	Name   string          `json:"name,omitempty"`
	Typing bool            `json:"typing,omitempty"`
	Peers  []Peer          `json:"peers,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Peer is one user present in a channel.
type Peer struct {
	UserID string `json:"user_id"`
	Name   string `json:"name,omitempty"`
	Typing bool   `json:"typing,omitempty"`
}

// Handlers receive feed events. Inserts are delivered for every channel; the
// feed does not filter them.
type Handlers struct {
	OnInsert   func(*channel.Message)
	OnPresence func([]Peer)
	// OnClose is called once if the connection ends without Close.
	OnClose func(error)
}

// Subscription is a live feed for one channel key.
type Subscription interface {
	// Typing broadcasts the user's typing state. Broadcasts that start
	// typing are throttled.
	Typing(typing bool) error
	Close() error
}

// Feed opens subscriptions.
type Feed interface {
	Subscribe(ctx context.Context, key channel.Key, self Peer, h Handlers) (Subscription, error)
}

// Disabled is a feed that never delivers anything. Polling alone keeps the
// channel current when it is in use.
type Disabled struct{}

func (Disabled) Subscribe(context.Context, channel.Key, Peer, Handlers) (Subscription, error) {
	return nopSubscription{}, nil
}

type nopSubscription struct{}

func (nopSubscription) Typing(bool) error { return nil }
func (nopSubscription) Close() error      { return nil }

// TypingLabel describes who else is typing.
func TypingLabel(peers []Peer, selfID string) string {
	var names []string
	for _, p := range peers {
		if !p.Typing || p.UserID == selfID {
			continue
		}
		name := p.Name
		if name == "" {
			name = p.UserID
		}
		names = append(names, name)
	}
	switch len(names) {
	case 0:
		return ""
	case 1:
		return names[0] + " is typing..."
	case 2:
		return strings.Join(names, " and ") + " are typing..."
	default:
		return fmt.Sprintf("%d people typing...", len(names))
	}
}
