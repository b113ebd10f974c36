package channel

import "sync"

// Store is the ordered message log of the open channel. Writers go through
// Merge and the small set of targeted updates below; readers get copies.
type Store struct {
	mu      sync.RWMutex
	selfID  string
	key     Key
	log     []*Message
	loadErr error
	loaded  bool
}

// NewStore creates an empty store for the given current user.
func NewStore(selfID string) *Store {
	return &Store{selfID: selfID}
}

// Reset empties the log and binds the store to key.
func (s *Store) Reset(key Key) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.key = key
	s.log = nil
	s.loadErr = nil
	s.loaded = false
}

// Key returns the channel the store currently holds.
func (s *Store) Key() Key {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.key
}

// Merge folds one message into the log.
func (s *Store) Merge(m *Message) MergeResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res MergeResult
	s.log, res = Merge(s.log, m, s.selfID)
	return res
}

// Loaded marks the end of the initial load for the current key. A non-nil
// err puts the store into its error state.
func (s *Store) Loaded(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.loaded = true
	s.loadErr = err
}

// State reports whether the initial load finished and how.
func (s *Store) State() (loaded bool, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loaded, s.loadErr
}

// Update applies fn to the message with the given id. It reports whether the
// message was found.
func (s *Store) Update(id string, fn func(*Message)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if i := indexOf(s.log, id); i >= 0 {
		fn(s.log[i])
		return true
	}
	return false
}

// MarkFailed flags a temporary message as not delivered. The entry stays in
// the log so the user can see what did not go out.
func (s *Store) MarkFailed(id string) bool {
	return s.Update(id, func(m *Message) {
		if m.IsTemporary() {
			m.Status = StatusFailed
		}
	})
}

// Get returns a copy of the message with the given id.
func (s *Store) Get(id string) (*Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if i := indexOf(s.log, id); i >= 0 {
		return s.log[i].Clone(), true
	}
	return nil, false
}

// Messages returns a copy of the log in render order.
func (s *Store) Messages() []*Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Message, len(s.log))
	for i, m := range s.log {
		out[i] = m.Clone()
	}
	return out
}

// Len returns the number of entries in the log.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.log)
}
