package flow

import (
	"errors"
	"fmt"
	"strings"

	"github.com/eachlabs/opschat/internal/channel"
)

// Action is what gets posted to a workflow's action endpoint.
type Action string

const (
	ActionConfirmProcess Action = "confirm_process"
	ActionSkip           Action = "skip"

	ActionConfirmMaterial   Action = "confirm_material"
	ActionConfirmLabor      Action = "confirm_labor"
	ActionDenyCheck         Action = "deny_check"
	ActionSplitYes          Action = "split_yes"
	ActionSplitNo           Action = "split_no"
	ActionSubmitAmount      Action = "submit_amount"
	ActionSubmitDescription Action = "submit_description"
	ActionConfirmCategories Action = "confirm_categories"

	ActionSingleProject   Action = "single_project"
	ActionSplitProjects   Action = "split_projects"
	ActionSubmitSplitLine Action = "submit_split_line"
	ActionSplitDone       Action = "split_done"

	ActionCancel Action = "cancel"
)

var (
	ErrNoActiveFlow     = errors.New("no active flow")
	ErrUnsupportedFlow  = errors.New("flow not supported in this channel")
	ErrActionNotAllowed = errors.New("action not allowed in current state")
)

// Dispatch is a classified user input ready to be sent to the backend.
type Dispatch struct {
	Kind      Kind
	ReceiptID string
	Action    Action
	// Text is the raw user message for free-text steps.
	Text string
}

// Button is an action offered for a slot.
type Button struct {
	Label  string
	Action Action
}

// Policy decides which channels host which workflows.
type Policy struct {
	// PayrollChannel is the id of the group channel where check triage also
	// runs. Empty means any group named "payroll".
	PayrollChannel string
	// BotID authors workflow steps. Empty accepts steps from anyone but the
	// current user.
	BotID string
}

// FromBot reports whether m may drive a workflow.
func (p Policy) FromBot(m *channel.Message, selfID string) bool {
	if p.BotID != "" {
		return m.UserID == p.BotID
	}
	return selfID == "" || m.UserID != selfID
}

// Supports reports whether k may take answers in ch.
func (p Policy) Supports(k Kind, ch channel.Channel) bool {
	if ch.Type == channel.TypeReceipts {
		return true
	}
	if k != KindCheck || ch.Type != channel.TypeGroup {
		return false
	}
	if p.PayrollChannel != "" {
		return ch.ID == p.PayrollChannel
	}
	return strings.EqualFold(strings.TrimSpace(ch.Name), "payroll")
}

var (
	yesWords = wordSet("yes", "y", "yeah", "yep", "ok", "okay", "sure", "confirm", "process",
		"sí", "si", "claro", "dale", "correcto", "procesar", "confirmar")
	noWords = wordSet("no", "n", "nope", "skip", "cancel",
		"omitir", "saltar", "cancelar", "nada")
)

func wordSet(words ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}

func normalize(text string) string {
	return strings.Trim(strings.ToLower(strings.TrimSpace(text)), ".!?¡¿ ")
}

// IsYes reports whether text is an affirmative answer.
func IsYes(text string) bool {
	_, ok := yesWords[normalize(text)]
	return ok
}

// IsNo reports whether text is a negative answer.
func IsNo(text string) bool {
	_, ok := noWords[normalize(text)]
	return ok
}

// Classify decides whether text typed in ch answers an open workflow. When it
// does not, the text is an ordinary chat message and the slots stay as they
// are.
func Classify(a Active, ch channel.Channel, text string, p Policy) (Dispatch, bool) {
	if strings.TrimSpace(text) == "" {
		return Dispatch{}, false
	}
	for _, slot := range a.Slots() {
		if !p.Supports(slot.Kind, ch) {
			continue
		}
		if action, ok := classifySlot(slot, text); ok {
			d := Dispatch{Kind: slot.Kind, ReceiptID: slot.ReceiptID, Action: action}
			if slot.State.FreeText() {
				d.Text = strings.TrimSpace(text)
			}
			return d, true
		}
	}
	return Dispatch{}, false
}

func classifySlot(slot Slot, text string) (Action, bool) {
	switch slot.State {
	case StateAwaitingConfirmation:
		switch {
		case IsYes(text):
			return ActionConfirmProcess, true
		case IsNo(text):
			return ActionSkip, true
		}
	case StateAwaitingSplitDecision:
		switch {
		case IsYes(text):
			return ActionSplitYes, true
		case IsNo(text):
			return ActionSplitNo, true
		}
	case StateAwaitingAmount:
		return ActionSubmitAmount, true
	case StateAwaitingDescription:
		return ActionSubmitDescription, true
	case StateAwaitingSplitDetails:
		if strings.EqualFold(strings.TrimSpace(text), "done") {
			return ActionSplitDone, true
		}
		return ActionSubmitSplitLine, true
	}
	return "", false
}

// Buttons returns the actions offered for slot's current state.
func Buttons(slot Slot) []Button {
	switch slot.State {
	case StateAwaitingConfirmation:
		return []Button{
			{Label: "Process anyway", Action: ActionConfirmProcess},
			{Label: "Skip", Action: ActionSkip},
		}
	case StateCheckDetected:
		return []Button{
			{Label: "Material", Action: ActionConfirmMaterial},
			{Label: "Labor", Action: ActionConfirmLabor},
			{Label: "Not a check", Action: ActionDenyCheck},
		}
	case StateAwaitingSplitDecision:
		return []Button{
			{Label: "Split", Action: ActionSplitYes},
			{Label: "Don't split", Action: ActionSplitNo},
		}
	case StateAwaitingCategoryConfirm:
		return []Button{
			{Label: "Confirm", Action: ActionConfirmCategories},
			{Label: "Cancel", Action: ActionCancel},
		}
	case StateAwaitingProjectDecision:
		return []Button{
			{Label: "Single project", Action: ActionSingleProject},
			{Label: "Split projects", Action: ActionSplitProjects},
			{Label: "Cancel", Action: ActionCancel},
		}
	case StateAwaitingSplitDetails:
		return []Button{
			{Label: "Done", Action: ActionSplitDone},
		}
	case StateAwaitingAmount, StateAwaitingDescription:
		return []Button{
			{Label: "Cancel", Action: ActionCancel},
		}
	}
	return nil
}

// Press validates a button click against the open slot of kind k.
func Press(a Active, ch channel.Channel, k Kind, action Action, p Policy) (Dispatch, error) {
	slot, ok := a.Get(k)
	if !ok {
		return Dispatch{}, fmt.Errorf("%s: %w", k, ErrNoActiveFlow)
	}
	if !p.Supports(k, ch) {
		return Dispatch{}, fmt.Errorf("%s in %s: %w", k, ch.DisplayName(), ErrUnsupportedFlow)
	}
	for _, b := range Buttons(slot) {
		if b.Action == action {
			return Dispatch{Kind: k, ReceiptID: slot.ReceiptID, Action: action}, nil
		}
	}
	return Dispatch{}, fmt.Errorf("%s at %s: %w", action, slot.State, ErrActionNotAllowed)
}
