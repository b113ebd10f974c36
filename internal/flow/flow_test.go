package flow

import (
	"testing"

	"github.com/eachlabs/opschat/internal/channel"
)

const self = "alice"

var fromBot = Policy{BotID: "bot"}

var (
	receipts = channel.Channel{ID: "c1", Type: channel.TypeReceipts, ProjectID: "p1", Name: "Receipts"}
	payroll  = channel.Channel{ID: "g1", Type: channel.TypeGroup, Name: "Payroll"}
	general  = channel.Channel{ID: "c2", Type: channel.TypeGeneral, ProjectID: "p1", Name: "General"}
)

func botMsg(id string, meta map[string]any) *channel.Message {
	return &channel.Message{ID: id, UserID: "bot", Metadata: meta}
}

func step(kind Kind, state State, receipt string) map[string]any {
	return map[string]any{
		kind.ActiveKey():           true,
		"state":                    string(state),
		channel.MetaPendingReceipt: receipt,
	}
}

func TestFoldReconstructsActiveFlow(t *testing.T) {
	history := []*channel.Message{
		{ID: "m1", UserID: "bob", Content: "hello"},
		botMsg("m2", step(KindDuplicate, StateAwaitingConfirmation, "r-7")),
	}

	a := Fold(history, self, fromBot)
	slot, ok := a.Get(KindDuplicate)
	if !ok {
		t.Fatal("duplicate slot should be active")
	}
	if slot.ReceiptID != "r-7" || slot.State != StateAwaitingConfirmation {
		t.Errorf("slot = %+v", slot)
	}
}

func TestFoldTerminalClearsSlot(t *testing.T) {
	history := []*channel.Message{
		botMsg("m1", step(KindDuplicate, StateAwaitingConfirmation, "r-7")),
		botMsg("m2", step(KindDuplicate, StateConfirmed, "r-7")),
	}

	if _, ok := Fold(history, self, fromBot).Get(KindDuplicate); ok {
		t.Error("slot should be empty after a confirmed step")
	}
}

func TestFoldInactiveFlagClearsSlot(t *testing.T) {
	history := []*channel.Message{
		botMsg("m1", step(KindReceipt, StateAwaitingSplitDetails, "r-1")),
		botMsg("m2", map[string]any{KindReceipt.ActiveKey(): false}),
	}

	if _, ok := Fold(history, self, fromBot).Get(KindReceipt); ok {
		t.Error("slot should be empty after an inactive step")
	}
}

func TestFoldKeepsKindsIndependent(t *testing.T) {
	history := []*channel.Message{
		botMsg("m1", step(KindCheck, StateCheckDetected, "r-1")),
		botMsg("m2", step(KindReceipt, StateAwaitingProjectDecision, "r-2")),
		botMsg("m3", step(KindCheck, StateCompleted, "r-1")),
	}

	a := Fold(history, self, fromBot)
	if _, ok := a.Get(KindCheck); ok {
		t.Error("check slot should be closed")
	}
	if slot, ok := a.Get(KindReceipt); !ok || slot.ReceiptID != "r-2" {
		t.Errorf("receipt slot = %+v, %v", slot, ok)
	}
}

func TestObserveIgnoresSelf(t *testing.T) {
	m := &channel.Message{ID: "m1", UserID: self, Metadata: step(KindDuplicate, StateAwaitingConfirmation, "r-1")}
	if a := (Active{}).Observe(m, self, Policy{}); !a.Empty() {
		t.Error("own messages must not open a flow")
	}
}

func TestObserveOnlyTrustsBot(t *testing.T) {
	meta := step(KindDuplicate, StateAwaitingConfirmation, "r-1")

	if a := (Active{}).Observe(&channel.Message{ID: "m1", UserID: "bob", Metadata: meta}, self, fromBot); !a.Empty() {
		t.Error("another member's message must not open a flow")
	}
	if a := (Active{}).Observe(botMsg("m2", meta), self, fromBot); a.Empty() {
		t.Error("bot message should open a flow")
	}
	if a := (Active{}).Observe(&channel.Message{ID: "m3", UserID: "bob", Metadata: meta}, self, Policy{}); a.Empty() {
		t.Error("without a bot id any other author counts")
	}

	open := Fold([]*channel.Message{botMsg("m1", meta)}, self, fromBot)
	closing := &channel.Message{ID: "m4", UserID: "bob", Metadata: step(KindDuplicate, StateCancelled, "r-1")}
	if _, ok := open.Observe(closing, self, fromBot).Get(KindDuplicate); !ok {
		t.Error("another member must not close a bot flow")
	}
}

func TestClassifyDuplicateWords(t *testing.T) {
	a := Fold([]*channel.Message{botMsg("m1", step(KindDuplicate, StateAwaitingConfirmation, "r-9"))}, self, fromBot)

	tests := []struct {
		input  string
		want   Action
		isFlow bool
	}{
		{"yes", ActionConfirmProcess, true},
		{"sí", ActionConfirmProcess, true},
		{"OK", ActionConfirmProcess, true},
		{"Yes!", ActionConfirmProcess, true},
		{"no", ActionSkip, true},
		{"skip", ActionSkip, true},
		{"banana", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			d, ok := Classify(a, receipts, tt.input, Policy{})
			if ok != tt.isFlow {
				t.Fatalf("Classify(%q) ok = %v, want %v", tt.input, ok, tt.isFlow)
			}
			if d.Action != tt.want {
				t.Errorf("Action = %q, want %q", d.Action, tt.want)
			}
			if ok && d.ReceiptID != "r-9" {
				t.Errorf("ReceiptID = %q, want r-9", d.ReceiptID)
			}
		})
	}

	if _, ok := a.Get(KindDuplicate); !ok {
		t.Error("classification must not close the slot")
	}
}

func TestClassifySplitDetailsLoop(t *testing.T) {
	a := Fold([]*channel.Message{botMsg("m1", step(KindReceipt, StateAwaitingSplitDetails, "r-3"))}, self, fromBot)

	tests := []struct {
		input string
		want  Action
		text  string
	}{
		{"Project A 40%", ActionSubmitSplitLine, "Project A 40%"},
		{"done", ActionSplitDone, "done"},
		{"DONE", ActionSplitDone, "DONE"},
		{"  Done  ", ActionSplitDone, "Done"},
		{"done with A", ActionSubmitSplitLine, "done with A"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			d, ok := Classify(a, receipts, tt.input, Policy{})
			if !ok {
				t.Fatalf("Classify(%q) should be a flow answer", tt.input)
			}
			if d.Action != tt.want {
				t.Errorf("Action = %q, want %q", d.Action, tt.want)
			}
			if d.Text != tt.text {
				t.Errorf("Text = %q, want %q", d.Text, tt.text)
			}
		})
	}
}

func TestClassifyRespectsChannel(t *testing.T) {
	a := Fold([]*channel.Message{
		botMsg("m1", step(KindDuplicate, StateAwaitingConfirmation, "r-1")),
		botMsg("m2", step(KindCheck, StateAwaitingAmount, "r-2")),
	}, self, fromBot)

	if _, ok := Classify(a, general, "yes", Policy{}); ok {
		t.Error("general channel must not answer flows")
	}

	d, ok := Classify(a, payroll, "1250.00", Policy{})
	if !ok || d.Kind != KindCheck || d.Action != ActionSubmitAmount {
		t.Errorf("payroll amount = %+v, %v", d, ok)
	}

	other := channel.Channel{ID: "g2", Type: channel.TypeGroup, Name: "Crew"}
	if _, ok := Classify(a, other, "1250.00", Policy{}); ok {
		t.Error("non-payroll group must not answer check triage")
	}
	if _, ok := Classify(a, other, "1250.00", Policy{PayrollChannel: "g2"}); !ok {
		t.Error("configured payroll channel should answer check triage")
	}
}

func TestClassifyButtonOnlyStates(t *testing.T) {
	a := Fold([]*channel.Message{botMsg("m1", step(KindCheck, StateCheckDetected, "r-1"))}, self, fromBot)
	if _, ok := Classify(a, receipts, "material", Policy{}); ok {
		t.Error("check_detected takes buttons, not text")
	}
}

func TestPress(t *testing.T) {
	a := Fold([]*channel.Message{botMsg("m1", step(KindReceipt, StateAwaitingProjectDecision, "r-5"))}, self, fromBot)

	d, err := Press(a, receipts, KindReceipt, ActionSplitProjects, Policy{})
	if err != nil {
		t.Fatalf("Press error: %v", err)
	}
	if d.ReceiptID != "r-5" || d.Action != ActionSplitProjects {
		t.Errorf("dispatch = %+v", d)
	}

	if _, err := Press(a, receipts, KindReceipt, ActionSplitDone, Policy{}); err == nil {
		t.Error("split_done is not offered at awaiting_project_decision")
	}
	if _, err := Press(a, receipts, KindDuplicate, ActionSkip, Policy{}); err == nil {
		t.Error("pressing a closed flow should fail")
	}
	if _, err := Press(a, general, KindReceipt, ActionSingleProject, Policy{}); err == nil {
		t.Error("pressing in an unsupported channel should fail")
	}
}
