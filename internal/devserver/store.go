package devserver

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/eachlabs/opschat/internal/api"
	"github.com/eachlabs/opschat/internal/channel"
)

// Seed is the initial directory of a dev server.
type Seed struct {
	Projects []api.Project
	Channels []channel.Channel
}

// DefaultSeed returns a small construction-company directory.
func DefaultSeed() Seed {
	return Seed{
		Projects: []api.Project{
			{ID: "p1", Name: "Riverside Remodel"},
			{ID: "p2", Name: "Oak St Duplex"},
		},
		Channels: []channel.Channel{
			{ID: "general-p1", Type: channel.TypeGeneral, ProjectID: "p1", Name: "riverside"},
			{ID: "accounting-p1", Type: channel.TypeAccounting, ProjectID: "p1", Name: "riverside-accounting"},
			{ID: "receipts-p1", Type: channel.TypeReceipts, ProjectID: "p1", Name: "riverside-receipts"},
			{ID: "receipts-p2", Type: channel.TypeReceipts, ProjectID: "p2", Name: "oak-receipts"},
			{ID: "c-ops", Type: channel.TypeCustom, Name: "ops"},
			{ID: "g-payroll", Type: channel.TypeGroup, Name: "payroll", Members: []string{"dana", "lee", "opsbot"}},
			{ID: "d-dana-lee", Type: channel.TypeDirect, Name: "dana & lee", Members: []string{"dana", "lee"}},
		},
	}
}

type receiptRecord struct {
	api.Receipt
	ProjectID  string
	UploaderID string
	Key        channel.Key
}

// store is the in-memory backend state.
type store struct {
	mu       sync.Mutex
	now      func() time.Time
	projects []api.Project
	channels []channel.Channel
	messages []*channel.Message
	receipts map[string]*receiptRecord
}

func newStore(seed Seed) *store {
	return &store{
		now:      time.Now,
		projects: seed.Projects,
		channels: seed.Channels,
		receipts: make(map[string]*receiptRecord),
	}
}

func (s *store) hasKey(key channel.Key) bool {
	for _, c := range s.channels {
		if c.Key() == key {
			return true
		}
	}
	return false
}

// insert stores a copy of m with a fresh id and returns it.
func (s *store) insert(m *channel.Message) *channel.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := m.Clone()
	c.ID = uuid.NewString()
	c.CreatedAt = s.now().UTC()
	c.Status = channel.StatusSent
	s.messages = append(s.messages, c)
	return c.Clone()
}

// list returns the last limit top-level messages of key.
func (s *store) list(key channel.Key, limit int) []*channel.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*channel.Message
	for _, m := range s.messages {
		if m.ParentID == "" && m.Key() == key {
			out = append(out, m.Clone())
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

func (s *store) find(id string) *channel.Message {
	for _, m := range s.messages {
		if m.ID == id {
			return m
		}
	}
	return nil
}

func (s *store) thread(rootID string) ([]*channel.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.find(rootID) == nil {
		return nil, false
	}
	var out []*channel.Message
	for _, m := range s.messages {
		if m.ParentID == rootID {
			out = append(out, m.Clone())
		}
	}
	return out, true
}

// reply stores a reply under rootID and bumps the root's thread count.
func (s *store) reply(rootID, userID, content string) (*channel.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	root := s.find(rootID)
	if root == nil {
		return nil, false
	}
	m := &channel.Message{
		ID:          uuid.NewString(),
		ChannelType: root.ChannelType,
		ChannelID:   root.ChannelID,
		ProjectID:   root.ProjectID,
		UserID:      userID,
		Content:     content,
		CreatedAt:   s.now().UTC(),
		ParentID:    rootID,
	}
	s.messages = append(s.messages, m)
	root.ThreadCount++
	return m.Clone(), true
}

func (s *store) toggleReaction(id, emoji, userID string) (*channel.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.find(id)
	if m == nil {
		return nil, false
	}
	m.ToggleReaction(emoji, userID)
	return m.Clone(), true
}

func (s *store) addReceipt(r *receiptRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.receipts[r.ID] = r
}

func (s *store) receipt(id string) (receiptRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.receipts[id]
	if !ok {
		return receiptRecord{}, false
	}
	return *r, true
}

func (s *store) setReceiptStatus(id, status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.receipts[id]; ok {
		r.Status = status
	}
}

func (s *store) pendingCount(projectID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.receipts {
		if r.ProjectID == projectID && r.Status != statusProcessed {
			n++
		}
	}
	return n
}
