package channel

import "testing"

func TestChannelKey(t *testing.T) {
	tests := []struct {
		name string
		ch   Channel
		want string
	}{
		{"project scoped", Channel{ID: "c1", Type: TypeReceipts, ProjectID: "p1"}, "receipts:p1"},
		{"custom", Channel{ID: "c2", Type: TypeCustom}, "custom:c2"},
		{"direct", Channel{ID: "d1", Type: TypeDirect}, "direct:d1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.ch.Key().String(); got != tt.want {
				t.Errorf("Key() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseKey(t *testing.T) {
	k, err := ParseKey("group:g7")
	if err != nil {
		t.Fatalf("ParseKey error: %v", err)
	}
	if k.Type != TypeGroup || k.ID != "g7" {
		t.Errorf("ParseKey = %+v", k)
	}

	for _, bad := range []string{"", "group", "group:", "weird:x"} {
		if _, err := ParseKey(bad); err == nil {
			t.Errorf("ParseKey(%q) should fail", bad)
		}
	}
}

func TestFind(t *testing.T) {
	channels := []Channel{
		{ID: "c1", Type: TypeReceipts, ProjectID: "p1", Name: "Receipts"},
		{ID: "g1", Type: TypeGroup, Name: "Payroll"},
	}

	if c, ok := Find(channels, "receipts:p1"); !ok || c.ID != "c1" {
		t.Errorf("find by key = %+v, %v", c, ok)
	}
	if c, ok := Find(channels, "g1"); !ok || c.Name != "Payroll" {
		t.Errorf("find by id = %+v, %v", c, ok)
	}
	if c, ok := Find(channels, "payroll"); !ok || c.ID != "g1" {
		t.Errorf("find by name = %+v, %v", c, ok)
	}
	if _, ok := Find(channels, "nope"); ok {
		t.Error("find should miss unknown refs")
	}
}

func TestGenerationStaleTicket(t *testing.T) {
	var g Generation

	a := g.Next()
	b := g.Next()

	if a.Valid() {
		t.Error("ticket A should be stale after B was issued")
	}
	if !b.Valid() {
		t.Error("ticket B should be valid")
	}
	if cur := g.Current(); !cur.Valid() || cur.Value() != b.Value() {
		t.Errorf("Current() = %d, want %d", cur.Value(), b.Value())
	}
}

func TestToggleReaction(t *testing.T) {
	m := &Message{ID: "m1"}

	if !m.ToggleReaction("🎉", "alice") {
		t.Error("first toggle should set the reaction")
	}
	m.ToggleReaction("🎉", "bob")
	if got := m.ReactionSummary(); len(got) != 1 || got[0] != "🎉 2" {
		t.Errorf("ReactionSummary = %v", got)
	}
	if m.ToggleReaction("🎉", "alice") {
		t.Error("second toggle should clear the reaction")
	}
	if got := len(m.Reactions["🎉"]); got != 1 {
		t.Errorf("users = %d, want 1", got)
	}
}
