package channel

// MergeResult describes what Merge did with an incoming message.
type MergeResult int

const (
	// Duplicate means the id was already present and nothing changed.
	Duplicate MergeResult = iota
	// Refreshed means the id was present and its reactions or thread count
	// were updated from the incoming copy.
	Refreshed
	// Replaced means a temporary entry was swapped for the server copy.
	Replaced
	// Appended means the message was added at the end of the log.
	Appended
)

func (r MergeResult) String() string {
	switch r {
	case Duplicate:
		return "duplicate"
	case Refreshed:
		return "refreshed"
	case Replaced:
		return "replaced"
	case Appended:
		return "appended"
	}
	return "unknown"
}

// Changed reports whether the log was mutated.
func (r MergeResult) Changed() bool {
	return r != Duplicate
}

// Merge folds incoming into log and returns the new log. It never duplicates
// a confirmed id, replaces the current user's optimistic copy in place, and
// appends everything else. The returned slice may share its backing array
// with log.
func Merge(log []*Message, incoming *Message, selfID string) ([]*Message, MergeResult) {
	if !incoming.IsTemporary() {
		if i := indexOf(log, incoming.ID); i >= 0 {
			return log, refresh(log[i], incoming)
		}
	}

	if selfID != "" && incoming.UserID == selfID && !incoming.IsTemporary() {
		if i := matchTemporary(log, incoming.PendingReceiptID()); i >= 0 {
			log[i] = incoming
			return log, Replaced
		}
	}

	return append(log, incoming), Appended
}

// matchTemporary picks the optimistic entry a server echo belongs to: the one
// with the same pending receipt id when there is one, otherwise the oldest
// temporary still being sent. Failed temporaries are never matched.
func matchTemporary(log []*Message, receiptID string) int {
	if receiptID != "" {
		for i, m := range log {
			if m.IsTemporary() && m.Status == StatusSending && m.PendingReceiptID() == receiptID {
				return i
			}
		}
	}
	for i, m := range log {
		if m.IsTemporary() && m.Status == StatusSending {
			return i
		}
	}
	return -1
}

// refresh copies the mutable counters of a re-delivered message. The server's
// reaction set is authoritative, including an empty one.
func refresh(existing, incoming *Message) MergeResult {
	changed := false
	if incoming.ThreadCount > existing.ThreadCount {
		existing.ThreadCount = incoming.ThreadCount
		changed = true
	}
	if !sameReactions(existing.Reactions, incoming.Reactions) {
		existing.Reactions = nil
		if len(incoming.Reactions) > 0 {
			existing.Reactions = incoming.Clone().Reactions
		}
		changed = true
	}
	if changed {
		return Refreshed
	}
	return Duplicate
}

func indexOf(log []*Message, id string) int {
	for i, m := range log {
		if m.ID == id {
			return i
		}
	}
	return -1
}
