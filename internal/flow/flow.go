// Package flow tracks the bot-guided receipt workflows of a channel.
//
// A workflow has no session of its own: every step arrives as a bot message
// whose metadata carries "<kind>_flow_active" and "state". Folding a
// channel's history in order reconstructs which workflows are waiting for the
// user.
package flow

import (
	"github.com/eachlabs/opschat/internal/channel"
)

// Kind names one of the workflows.
type Kind string

const (
	KindDuplicate Kind = "duplicate"
	KindCheck     Kind = "check"
	KindReceipt   Kind = "receipt"
)

// Kinds lists all workflows in classification priority order.
var Kinds = []Kind{KindDuplicate, KindCheck, KindReceipt}

// ActiveKey is the metadata flag that marks a bot message as a step of k.
func (k Kind) ActiveKey() string {
	return string(k) + "_flow_active"
}

// State is a workflow step.
type State string

const (
	// duplicate receipt
	StateAwaitingConfirmation State = "awaiting_confirmation"
	StateConfirmed            State = "confirmed"
	StateSkipped              State = "skipped"

	// check triage
	StateCheckDetected           State = "check_detected"
	StateAwaitingSplitDecision   State = "awaiting_split_decision"
	StateAwaitingAmount          State = "awaiting_amount"
	StateAwaitingDescription     State = "awaiting_description"
	StateAwaitingCategoryConfirm State = "awaiting_category_confirm"

	// receipt allocation
	StateAwaitingProjectDecision State = "awaiting_project_decision"
	StateAwaitingSplitDetails    State = "awaiting_split_details"
	StateSplitDone               State = "split_done"

	StateCompleted State = "completed"
	StateCancelled State = "cancelled"
)

// Terminal reports whether s ends its workflow.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateCancelled, StateConfirmed, StateSkipped:
		return true
	}
	return false
}

// FreeText reports whether the next raw user message is the answer to s.
func (s State) FreeText() bool {
	switch s {
	case StateAwaitingAmount, StateAwaitingDescription, StateAwaitingSplitDetails:
		return true
	}
	return false
}

const metaState = "state"

// Slot is the open step of one workflow.
type Slot struct {
	Kind      Kind
	ReceiptID string
	State     State
}

// Active holds at most one open slot per kind for the current channel.
type Active struct {
	slots [3]*Slot
}

func index(k Kind) int {
	switch k {
	case KindDuplicate:
		return 0
	case KindCheck:
		return 1
	case KindReceipt:
		return 2
	}
	return -1
}

// Get returns the open slot for k.
func (a Active) Get(k Kind) (Slot, bool) {
	i := index(k)
	if i < 0 || a.slots[i] == nil {
		return Slot{}, false
	}
	return *a.slots[i], true
}

// Slots returns the open slots in priority order.
func (a Active) Slots() []Slot {
	var out []Slot
	for _, s := range a.slots {
		if s != nil {
			out = append(out, *s)
		}
	}
	return out
}

// Empty reports whether no workflow is waiting.
func (a Active) Empty() bool {
	for _, s := range a.slots {
		if s != nil {
			return false
		}
	}
	return true
}

// Observe returns a with m applied. Only messages p accepts as bot steps can
// open, advance or close a workflow.
func (a Active) Observe(m *channel.Message, selfID string, p Policy) Active {
	if m == nil || len(m.Metadata) == 0 || !p.FromBot(m, selfID) {
		return a
	}
	for _, k := range Kinds {
		active, present := channel.MetaBool(m.Metadata, k.ActiveKey())
		if !present {
			continue
		}
		state := State(channel.MetaString(m.Metadata, metaState))
		i := index(k)
		if !active || state.Terminal() {
			a.slots[i] = nil
			continue
		}
		if state == "" {
			continue
		}
		a.slots[i] = &Slot{
			Kind:      k,
			ReceiptID: receiptID(m),
			State:     state,
		}
	}
	return a
}

// Fold replays a channel history and returns the workflows still open at its
// end.
func Fold(msgs []*channel.Message, selfID string, p Policy) Active {
	var a Active
	for _, m := range msgs {
		a = a.Observe(m, selfID, p)
	}
	return a
}

func receiptID(m *channel.Message) string {
	if id := m.PendingReceiptID(); id != "" {
		return id
	}
	return channel.MetaString(m.Metadata, "receipt_id")
}
