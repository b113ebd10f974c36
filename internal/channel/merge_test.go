package channel

import (
	"testing"
	"time"
)

var receiptsKey = Key{Type: TypeReceipts, ID: "p1"}

func serverMsg(id, user, content string) *Message {
	return &Message{
		ID:          id,
		ChannelType: TypeReceipts,
		ProjectID:   "p1",
		UserID:      user,
		Content:     content,
		CreatedAt:   time.Now(),
	}
}

func ids(log []*Message) []string {
	out := make([]string, len(log))
	for i, m := range log {
		out[i] = m.ID
	}
	return out
}

func TestMergeIdempotent(t *testing.T) {
	var log []*Message
	var res MergeResult

	log, res = Merge(log, serverMsg("m1", "bob", "hi"), "alice")
	if res != Appended {
		t.Fatalf("first merge = %v, want appended", res)
	}
	log, res = Merge(log, serverMsg("m1", "bob", "hi"), "alice")
	if res != Duplicate {
		t.Fatalf("second merge = %v, want duplicate", res)
	}
	if len(log) != 1 {
		t.Fatalf("len = %d, want 1", len(log))
	}
}

func TestMergeReplacesByReceiptID(t *testing.T) {
	first := NewTemporary(receiptsKey, "alice", "receipt a")
	first.SetMeta(MetaPendingReceipt, "r-1")
	second := NewTemporary(receiptsKey, "alice", "receipt b")
	second.SetMeta(MetaPendingReceipt, "r-2")

	log := []*Message{serverMsg("m0", "bob", "before"), first, second}

	echo := serverMsg("m9", "alice", "receipt b")
	echo.SetMeta(MetaPendingReceipt, "r-2")

	log, res := Merge(log, echo, "alice")
	if res != Replaced {
		t.Fatalf("result = %v, want replaced", res)
	}
	got := ids(log)
	want := []string{"m0", first.ID, "m9"}
	if len(got) != len(want) {
		t.Fatalf("ids = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("ids[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestMergeFallsBackToOldestTemporary(t *testing.T) {
	first := NewTemporary(receiptsKey, "alice", "one")
	second := NewTemporary(receiptsKey, "alice", "two")
	log := []*Message{first, second}

	log, res := Merge(log, serverMsg("m1", "alice", "one"), "alice")
	if res != Replaced {
		t.Fatalf("result = %v, want replaced", res)
	}
	if log[0].ID != "m1" || log[1].ID != second.ID {
		t.Errorf("ids = %v, want [m1 %s]", ids(log), second.ID)
	}
}

func TestMergeSkipsFailedTemporary(t *testing.T) {
	failed := NewTemporary(receiptsKey, "alice", "lost")
	failed.Status = StatusFailed
	log := []*Message{failed}

	log, res := Merge(log, serverMsg("m1", "alice", "other device"), "alice")
	if res != Appended {
		t.Fatalf("result = %v, want appended", res)
	}
	if len(log) != 2 || log[0].Status != StatusFailed {
		t.Errorf("failed temporary should stay in place, got %v", ids(log))
	}
}

func TestMergeOtherAuthorAppends(t *testing.T) {
	tmp := NewTemporary(receiptsKey, "alice", "mine")
	log := []*Message{tmp}

	log, res := Merge(log, serverMsg("m1", "bob", "theirs"), "alice")
	if res != Appended {
		t.Fatalf("result = %v, want appended", res)
	}
	if log[0].ID != tmp.ID {
		t.Errorf("temporary should not be replaced by another author")
	}
}

func TestMergeRefreshesCounters(t *testing.T) {
	log := []*Message{serverMsg("m1", "bob", "hi")}

	again := serverMsg("m1", "bob", "hi")
	again.ThreadCount = 2
	again.Reactions = map[string][]string{"👍": {"carol"}}

	log, res := Merge(log, again, "alice")
	if res != Refreshed {
		t.Fatalf("result = %v, want refreshed", res)
	}
	if log[0].ThreadCount != 2 {
		t.Errorf("ThreadCount = %d, want 2", log[0].ThreadCount)
	}
	if len(log[0].Reactions["👍"]) != 1 {
		t.Errorf("Reactions = %v", log[0].Reactions)
	}

	_, res = Merge(log, again, "alice")
	if res != Duplicate {
		t.Errorf("identical redelivery = %v, want duplicate", res)
	}
}

func TestMergeClearsRemovedReactions(t *testing.T) {
	stored := serverMsg("srv-1", "bob", "hi")
	stored.Reactions = map[string][]string{"👍": {"lee"}}
	log := []*Message{stored}

	log, res := Merge(log, serverMsg("srv-1", "bob", "hi"), "me")
	if res != Refreshed {
		t.Fatalf("result = %v, want refreshed", res)
	}
	if log[0].Reactions != nil {
		t.Errorf("Reactions = %v, want none", log[0].Reactions)
	}

	_, res = Merge(log, serverMsg("srv-1", "bob", "hi"), "me")
	if res != Duplicate {
		t.Errorf("second empty redelivery = %v, want duplicate", res)
	}
}

func TestStoreMarkFailed(t *testing.T) {
	s := NewStore("alice")
	s.Reset(receiptsKey)

	tmp := NewTemporary(receiptsKey, "alice", "hello")
	s.Merge(tmp)
	if !s.MarkFailed(tmp.ID) {
		t.Fatal("MarkFailed did not find the temporary")
	}
	got, _ := s.Get(tmp.ID)
	if got.Status != StatusFailed {
		t.Errorf("Status = %q, want failed", got.Status)
	}
	if s.Len() != 1 {
		t.Errorf("failed message should be retained")
	}
}

func TestStoreMessagesAreCopies(t *testing.T) {
	s := NewStore("alice")
	s.Reset(receiptsKey)
	s.Merge(serverMsg("m1", "bob", "hi"))

	msgs := s.Messages()
	msgs[0].Content = "changed"

	got, _ := s.Get("m1")
	if got.Content != "hi" {
		t.Errorf("Content = %q, store was mutated through a snapshot", got.Content)
	}
}
