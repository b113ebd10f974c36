package devserver

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/eachlabs/opschat/internal/api"
	"github.com/eachlabs/opschat/internal/channel"
	"github.com/eachlabs/opschat/internal/flow"
)

// BotUserID authors every workflow message.
const BotUserID = "opsbot"

const (
	statusPending   = "pending"
	statusReview    = "needs_review"
	statusProcessed = "processed"
)

var (
	errUnknownReceipt = errors.New("unknown receipt")
	errNoFlow         = errors.New("no workflow open for receipt")
	errBadAction      = errors.New("action not valid in current state")
)

type step struct {
	next  flow.State
	reply string
	// then opens another workflow once this one ends.
	then flow.Kind
}

var script = map[flow.Kind]map[flow.State]map[flow.Action]step{
	flow.KindDuplicate: {
		flow.StateAwaitingConfirmation: {
			flow.ActionConfirmProcess: {next: flow.StateConfirmed, reply: "Processing it anyway.", then: flow.KindReceipt},
			flow.ActionSkip:           {next: flow.StateSkipped, reply: "Skipped, the duplicate was discarded."},
		},
	},
	flow.KindCheck: {
		flow.StateCheckDetected: {
			flow.ActionConfirmMaterial: {next: flow.StateAwaitingSplitDecision, reply: "Material check. Split it across categories?"},
			flow.ActionConfirmLabor:    {next: flow.StateAwaitingSplitDecision, reply: "Labor check. Split it across categories?"},
			flow.ActionDenyCheck:       {next: flow.StateCompleted, reply: "Got it, treating it as a regular receipt.", then: flow.KindReceipt},
		},
		flow.StateAwaitingSplitDecision: {
			flow.ActionSplitYes: {next: flow.StateAwaitingAmount, reply: "What is the amount of the first line?"},
			flow.ActionSplitNo:  {next: flow.StateAwaitingCategoryConfirm, reply: "Book the whole check to one category?"},
		},
		flow.StateAwaitingAmount: {
			flow.ActionSubmitAmount: {next: flow.StateAwaitingDescription, reply: "What is it for?"},
		},
		flow.StateAwaitingDescription: {
			flow.ActionSubmitDescription: {next: flow.StateAwaitingCategoryConfirm, reply: "Confirm the categories?"},
		},
		flow.StateAwaitingCategoryConfirm: {
			flow.ActionConfirmCategories: {next: flow.StateCompleted, reply: "Check booked."},
		},
	},
	flow.KindReceipt: {
		flow.StateAwaitingProjectDecision: {
			flow.ActionSingleProject: {next: flow.StateCompleted, reply: "Allocated to this project."},
			flow.ActionSplitProjects: {next: flow.StateAwaitingSplitDetails, reply: "Send one line per project as \"project amount\". Say done when finished."},
		},
		flow.StateAwaitingSplitDetails: {
			flow.ActionSubmitSplitLine: {next: flow.StateAwaitingSplitDetails, reply: "Added."},
			flow.ActionSplitDone:       {next: flow.StateCompleted, reply: "Split saved."},
		},
	},
}

var openers = map[flow.Kind]step{
	flow.KindDuplicate: {next: flow.StateAwaitingConfirmation, reply: "This receipt looks like one already on file. Process it anyway?"},
	flow.KindCheck:     {next: flow.StateCheckDetected, reply: "This looks like a check. Is it for material or labor?"},
	flow.KindReceipt:   {next: flow.StateAwaitingProjectDecision, reply: "Does this receipt belong to a single project or should it be split?"},
}

// bot plays the receipt agent: it answers processing requests and workflow
// actions by posting metadata-bearing messages.
type bot struct {
	post  func(key channel.Key, userID, content string, meta map[string]any) *channel.Message
	store *store

	mu     sync.Mutex
	states map[string]map[flow.Kind]flow.State
}

func newBot(st *store, post func(channel.Key, string, string, map[string]any) *channel.Message) *bot {
	return &bot{
		post:   post,
		store:  st,
		states: make(map[string]map[flow.Kind]flow.State),
	}
}

// process runs the agent on an uploaded receipt. File names stand in for
// image analysis: "dup" marks a duplicate unless forced, "check" a check.
func (b *bot) process(receiptID string, force bool) (api.ProcessResult, error) {
	rec, ok := b.store.receipt(receiptID)
	if !ok {
		return api.ProcessResult{}, errUnknownReceipt
	}
	name := strings.ToLower(rec.FileName)

	switch {
	case strings.Contains(name, "dup") && !force:
		b.store.setReceiptStatus(receiptID, statusReview)
		b.open(rec, flow.KindDuplicate)
		return api.ProcessResult{Success: true, Status: api.ProcessDuplicate}, nil
	case strings.Contains(name, "check"):
		b.store.setReceiptStatus(receiptID, statusReview)
		b.open(rec, flow.KindCheck)
		return api.ProcessResult{Success: true, Status: api.ProcessCheckReview}, nil
	default:
		b.store.setReceiptStatus(receiptID, statusProcessed)
		b.open(rec, flow.KindReceipt)
		return api.ProcessResult{Success: true, Status: statusProcessed}, nil
	}
}

// act applies a workflow action.
func (b *bot) act(kind flow.Kind, receiptID string, action flow.Action, text string) error {
	rec, ok := b.store.receipt(receiptID)
	if !ok {
		return errUnknownReceipt
	}

	b.mu.Lock()
	state, ok := b.states[receiptID][kind]
	if !ok {
		b.mu.Unlock()
		return fmt.Errorf("%s: %w", kind, errNoFlow)
	}
	st, ok := script[kind][state][action]
	if !ok && action == flow.ActionCancel {
		st, ok = step{next: flow.StateCancelled, reply: "Cancelled."}, true
	}
	if !ok {
		b.mu.Unlock()
		return fmt.Errorf("%s at %s: %w", action, state, errBadAction)
	}
	b.setLocked(receiptID, kind, st.next)
	b.mu.Unlock()

	reply := st.reply
	if text != "" {
		reply = fmt.Sprintf("%s (%s)", reply, text)
	}
	b.say(rec, kind, st.next, reply)

	if st.next.Terminal() {
		b.store.setReceiptStatus(receiptID, statusProcessed)
		if st.then != "" {
			b.open(rec, st.then)
		}
	}
	return nil
}

func (b *bot) open(rec receiptRecord, kind flow.Kind) {
	st := openers[kind]
	b.mu.Lock()
	b.setLocked(rec.ID, kind, st.next)
	b.mu.Unlock()
	b.say(rec, kind, st.next, st.reply)
}

func (b *bot) setLocked(receiptID string, kind flow.Kind, state flow.State) {
	if state.Terminal() {
		delete(b.states[receiptID], kind)
		return
	}
	if b.states[receiptID] == nil {
		b.states[receiptID] = make(map[flow.Kind]flow.State)
	}
	b.states[receiptID][kind] = state
}

func (b *bot) say(rec receiptRecord, kind flow.Kind, state flow.State, content string) {
	b.post(rec.Key, BotUserID, content, map[string]any{
		kind.ActiveKey():           !state.Terminal(),
		"state":                    string(state),
		channel.MetaPendingReceipt: rec.ID,
	})
}
