package channel

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TempPrefix marks ids generated locally for messages the server has not
// confirmed yet.
const TempPrefix = "temp-"

// MetaPendingReceipt is the metadata key linking a message to an uploaded
// receipt. It is what lets the server echo find its optimistic copy.
const MetaPendingReceipt = "pending_receipt_id"

// Status is the client-side delivery state of a message.
type Status string

const (
	StatusSent    Status = ""
	StatusSending Status = "sending"
	StatusFailed  Status = "failed"
)

// Attachment is a file attached to a message.
type Attachment struct {
	Name         string `json:"name,omitempty"`
	URL          string `json:"url,omitempty"`
	Type         string `json:"type,omitempty"`
	Size         int64  `json:"size,omitempty"`
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
}

// Message is one entry of a channel log.
type Message struct {
	ID          string              `json:"id"`
	ChannelType Type                `json:"channel_type"`
	ChannelID   string              `json:"channel_id,omitempty"`
	ProjectID   string              `json:"project_id,omitempty"`
	UserID      string              `json:"user_id"`
	Content     string              `json:"content"`
	CreatedAt   time.Time           `json:"created_at"`
	Attachments []Attachment        `json:"attachments,omitempty"`
	Reactions   map[string][]string `json:"reactions,omitempty"`
	ThreadCount int                 `json:"thread_count,omitempty"`
	ParentID    string              `json:"parent_id,omitempty"`
	Metadata    map[string]any      `json:"metadata,omitempty"`

	// Status is never sent over the wire.
	Status Status `json:"-"`
}

// NewTemporary builds the optimistic copy of a message the current user is
// about to send.
func NewTemporary(key Key, userID, content string) *Message {
	m := &Message{
		ID:          TempPrefix + uuid.NewString(),
		ChannelType: key.Type,
		UserID:      userID,
		Content:     content,
		CreatedAt:   time.Now(),
		Status:      StatusSending,
	}
	if key.Type.ProjectScoped() {
		m.ProjectID = key.ID
	} else {
		m.ChannelID = key.ID
	}
	return m
}

// IsTemporary reports whether the message still carries a local id.
func (m *Message) IsTemporary() bool {
	return strings.HasPrefix(m.ID, TempPrefix)
}

// Key returns the key of the channel the message belongs to.
func (m *Message) Key() Key {
	if m.ChannelType.ProjectScoped() {
		return Key{Type: m.ChannelType, ID: m.ProjectID}
	}
	return Key{Type: m.ChannelType, ID: m.ChannelID}
}

// PendingReceiptID returns the receipt id carried in metadata, if any.
func (m *Message) PendingReceiptID() string {
	return MetaString(m.Metadata, MetaPendingReceipt)
}

// SetMeta sets a metadata value, allocating the map when needed.
func (m *Message) SetMeta(key string, v any) {
	if m.Metadata == nil {
		m.Metadata = make(map[string]any)
	}
	m.Metadata[key] = v
}

// Clone returns a copy that shares no maps or slices with m.
func (m *Message) Clone() *Message {
	c := *m
	if m.Attachments != nil {
		c.Attachments = append([]Attachment(nil), m.Attachments...)
	}
	if m.Reactions != nil {
		c.Reactions = make(map[string][]string, len(m.Reactions))
		for k, v := range m.Reactions {
			c.Reactions[k] = append([]string(nil), v...)
		}
	}
	if m.Metadata != nil {
		c.Metadata = make(map[string]any, len(m.Metadata))
		for k, v := range m.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// ToggleReaction adds userID to emoji, or removes it when already present.
// It reports whether the reaction is now set.
func (m *Message) ToggleReaction(emoji, userID string) bool {
	if m.Reactions == nil {
		m.Reactions = make(map[string][]string)
	}
	users := m.Reactions[emoji]
	for i, u := range users {
		if u == userID {
			users = append(users[:i], users[i+1:]...)
			if len(users) == 0 {
				delete(m.Reactions, emoji)
			} else {
				m.Reactions[emoji] = users
			}
			return false
		}
	}
	m.Reactions[emoji] = append(users, userID)
	return true
}

// ReactionSummary returns "emoji count" pairs in a stable order.
func (m *Message) ReactionSummary() []string {
	keys := make([]string, 0, len(m.Reactions))
	for k := range m.Reactions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+" "+strconv.Itoa(len(m.Reactions[k])))
	}
	return out
}

// MetaString reads a string metadata value. Numbers are accepted since
// receipt ids sometimes arrive as JSON numbers.
func MetaString(meta map[string]any, key string) string {
	switch v := meta[key].(type) {
	case string:
		return v
	case float64:
		return strconv.Itoa(int(v))
	case int:
		return strconv.Itoa(v)
	}
	return ""
}

// MetaBool reads a boolean metadata value.
func MetaBool(meta map[string]any, key string) (value, present bool) {
	raw, ok := meta[key]
	if !ok {
		return false, false
	}
	switch v := raw.(type) {
	case bool:
		return v, true
	case string:
		return v == "true", true
	}
	return false, true
}

func sameReactions(a, b map[string][]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, av := range a {
		bv, ok := b[k]
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if av[i] != bv[i] {
				return false
			}
		}
	}
	return true
}
