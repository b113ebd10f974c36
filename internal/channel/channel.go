// Package channel holds the message log of the open channel and the rules
// that keep it consistent across optimistic sends, push events and polling.
package channel

import (
	"fmt"
	"strings"
)

// Type is the kind of a channel.
type Type string

const (
	TypeGeneral    Type = "general"
	TypeAccounting Type = "accounting"
	TypeReceipts   Type = "receipts"
	TypeCustom     Type = "custom"
	TypeDirect     Type = "direct"
	TypeGroup      Type = "group"
)

// ProjectScoped reports whether channels of this type are identified by a
// project id rather than their own channel id.
func (t Type) ProjectScoped() bool {
	switch t {
	case TypeGeneral, TypeAccounting, TypeReceipts:
		return true
	}
	return false
}

// Valid reports whether t is a known channel type.
func (t Type) Valid() bool {
	switch t {
	case TypeGeneral, TypeAccounting, TypeReceipts, TypeCustom, TypeDirect, TypeGroup:
		return true
	}
	return false
}

// Key identifies the message stream of one channel. ID is the project id for
// project-scoped types and the channel id otherwise.
type Key struct {
	Type Type
	ID   string
}

func (k Key) String() string {
	return string(k.Type) + ":" + k.ID
}

// IsZero reports whether no channel is selected.
func (k Key) IsZero() bool {
	return k.Type == "" && k.ID == ""
}

// ParseKey parses the "type:id" form produced by Key.String.
func ParseKey(s string) (Key, error) {
	typ, id, ok := strings.Cut(s, ":")
	if !ok || id == "" {
		return Key{}, fmt.Errorf("invalid channel key %q", s)
	}
	k := Key{Type: Type(typ), ID: id}
	if !k.Type.Valid() {
		return Key{}, fmt.Errorf("invalid channel type %q", typ)
	}
	return k, nil
}

// Channel is a conversation the user can open.
type Channel struct {
	ID        string   `json:"id"`
	Type      Type     `json:"type"`
	ProjectID string   `json:"project_id,omitempty"`
	Name      string   `json:"name"`
	Members   []string `json:"members,omitempty"`
}

// Key returns the stream key for the channel.
func (c Channel) Key() Key {
	if c.Type.ProjectScoped() {
		return Key{Type: c.Type, ID: c.ProjectID}
	}
	return Key{Type: c.Type, ID: c.ID}
}

// DisplayName returns the name shown in headers and lists.
func (c Channel) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	if c.Type.ProjectScoped() {
		return fmt.Sprintf("%s (%s)", c.Type, c.ProjectID)
	}
	return c.ID
}

// Find returns the channel matching ref, which may be a key ("receipts:p1"),
// a channel id, or a case-insensitive display name.
func Find(channels []Channel, ref string) (Channel, bool) {
	if k, err := ParseKey(ref); err == nil {
		for _, c := range channels {
			if c.Key() == k {
				return c, true
			}
		}
	}
	for _, c := range channels {
		if c.ID == ref {
			return c, true
		}
	}
	for _, c := range channels {
		if strings.EqualFold(c.DisplayName(), ref) {
			return c, true
		}
	}
	return Channel{}, false
}
