package session

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/eachlabs/opschat/internal/api"
	"github.com/eachlabs/opschat/internal/channel"
	"github.com/eachlabs/opschat/internal/flow"
	"github.com/eachlabs/opschat/internal/logging"
	"github.com/eachlabs/opschat/internal/metrics"
	"github.com/eachlabs/opschat/internal/realtime"
	"github.com/eachlabs/opschat/internal/render"
)

var (
	keyReceipts = channel.Key{Type: channel.TypeReceipts, ID: "p1"}
	keyGeneral  = channel.Key{Type: channel.TypeGeneral, ID: "p1"}
	keyOps      = channel.Key{Type: channel.TypeCustom, ID: "c-ops"}
)

func testChannels() []channel.Channel {
	return []channel.Channel{
		{ID: "receipts-p1", Type: channel.TypeReceipts, ProjectID: "p1", Name: "riverside-receipts"},
		{ID: "general-p1", Type: channel.TypeGeneral, ProjectID: "p1", Name: "riverside"},
		{ID: "c-ops", Type: channel.TypeCustom, Name: "ops"},
	}
}

type sentAction struct {
	kind, receiptID, action, text string
}

// fakeBackend serves canned channel logs and records writes.
type fakeBackend struct {
	mu       sync.Mutex
	messages map[channel.Key][]*channel.Message
	seq      int

	// listGate, when set for a key, blocks ListMessages until closed.
	listGate map[channel.Key]chan struct{}
	entered  chan channel.Key

	// listErr fails the next ListMessages for a key once.
	listErr    map[channel.Key]error
	// threadGate, when set for a root, blocks ListThread until closed.
	threadGate map[string]chan struct{}
	replies    map[string][]*channel.Message

	postErr    error
	actionErr  error
	reactErr   error
	pending    int
	pendingErr error

	posts   []api.PostMessage
	actions []sentAction
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		messages: make(map[channel.Key][]*channel.Message),
		listGate:   make(map[channel.Key]chan struct{}),
		entered:    make(chan channel.Key, 16),
		listErr:    make(map[channel.Key]error),
		threadGate: make(map[string]chan struct{}),
		replies:    make(map[string][]*channel.Message),
	}
}

func (b *fakeBackend) add(key channel.Key, m *channel.Message) *channel.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	if m.ID == "" {
		m.ID = "srv-" + strconv.Itoa(b.seq)
	}
	m.ChannelType = key.Type
	if key.Type.ProjectScoped() {
		m.ProjectID = key.ID
	} else {
		m.ChannelID = key.ID
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	b.messages[key] = append(b.messages[key], m)
	return m.Clone()
}

func (b *fakeBackend) gate(key channel.Key) chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan struct{})
	b.listGate[key] = ch
	return ch
}

func (b *fakeBackend) ListChannels(ctx context.Context) ([]channel.Channel, error) {
	return testChannels(), nil
}

func (b *fakeBackend) ListProjects(ctx context.Context) ([]api.Project, error) {
	return []api.Project{{ID: "p1", Name: "Riverside Remodel"}}, nil
}

func (b *fakeBackend) ListMessages(ctx context.Context, key channel.Key, limit int) ([]*channel.Message, error) {
	b.mu.Lock()
	gate := b.listGate[key]
	delete(b.listGate, key)
	failure := b.listErr[key]
	delete(b.listErr, key)
	b.mu.Unlock()

	if gate != nil {
		b.entered <- key
		<-gate
	}
	if failure != nil {
		return nil, failure
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	var out []*channel.Message
	for _, m := range b.messages[key] {
		out = append(out, m.Clone())
	}
	return out, nil
}

func (b *fakeBackend) PostMessage(ctx context.Context, msg api.PostMessage) (*channel.Message, error) {
	b.mu.Lock()
	b.posts = append(b.posts, msg)
	err := b.postErr
	b.mu.Unlock()
	if err != nil {
		return nil, err
	}

	key := channel.Key{Type: msg.ChannelType, ID: msg.ChannelID}
	if msg.ChannelType.ProjectScoped() {
		key.ID = msg.ProjectID
	}
	return b.add(key, &channel.Message{UserID: msg.UserID, Content: msg.Content, Metadata: msg.Metadata}), nil
}

func (b *fakeBackend) ToggleReaction(ctx context.Context, messageID, emoji, userID string) (*channel.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.reactErr != nil {
		return nil, b.reactErr
	}
	for _, msgs := range b.messages {
		for _, m := range msgs {
			if m.ID == messageID {
				m.ToggleReaction(emoji, userID)
				return m.Clone(), nil
			}
		}
	}
	return nil, &api.StatusError{Code: 404}
}

func (b *fakeBackend) failNextList(key channel.Key, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listErr[key] = err
}

// gateThread blocks the next ListThread for rootID until the returned channel
// is closed.
func (b *fakeBackend) gateThread(rootID string) chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan struct{})
	b.threadGate[rootID] = ch
	return ch
}

func (b *fakeBackend) addReply(rootID, userID, content string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	b.replies[rootID] = append(b.replies[rootID], &channel.Message{
		ID:       "reply-" + strconv.Itoa(b.seq),
		ParentID: rootID,
		UserID:   userID,
		Content:  content,
	})
}

func (b *fakeBackend) ListThread(ctx context.Context, rootID string) ([]*channel.Message, error) {
	b.mu.Lock()
	gate := b.threadGate[rootID]
	delete(b.threadGate, rootID)
	b.mu.Unlock()

	if gate != nil {
		<-gate
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	var out []*channel.Message
	for _, m := range b.replies[rootID] {
		out = append(out, m.Clone())
	}
	return out, nil
}

func (b *fakeBackend) PostThreadReply(ctx context.Context, rootID, userID, content string) (*channel.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	return &channel.Message{ID: "reply-" + strconv.Itoa(b.seq), ParentID: rootID, UserID: userID, Content: content}, nil
}

func (b *fakeBackend) UploadReceipt(ctx context.Context, projectID, uploaderID, path string) (api.Receipt, error) {
	return api.Receipt{ID: "r-1", Status: "pending"}, nil
}

func (b *fakeBackend) ProcessReceipt(ctx context.Context, receiptID string, force bool) (api.ProcessResult, error) {
	return api.ProcessResult{Success: true, Status: "processed"}, nil
}

func (b *fakeBackend) SendFlowAction(ctx context.Context, kind, receiptID, action, text string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.actions = append(b.actions, sentAction{kind, receiptID, action, text})
	return b.actionErr
}

func (b *fakeBackend) PendingReceiptCount(ctx context.Context, projectID string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pending, b.pendingErr
}

func (b *fakeBackend) sent() ([]api.PostMessage, []sentAction) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]api.PostMessage(nil), b.posts...), append([]sentAction(nil), b.actions...)
}

// fakeFeed hands every pushed insert to every open subscription, like the
// real feed does.
type fakeFeed struct {
	mu   sync.Mutex
	open map[*fakeSub]struct{}
	subs int
}

type fakeSub struct {
	feed *fakeFeed
	key  channel.Key
	h    realtime.Handlers
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{open: make(map[*fakeSub]struct{})}
}

func (f *fakeFeed) Subscribe(ctx context.Context, key channel.Key, self realtime.Peer, h realtime.Handlers) (realtime.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := &fakeSub{feed: f, key: key, h: h}
	f.open[s] = struct{}{}
	f.subs++
	return s, nil
}

func (f *fakeFeed) Open() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.open)
}

func (f *fakeFeed) push(m *channel.Message) {
	f.mu.Lock()
	var hs []realtime.Handlers
	for s := range f.open {
		hs = append(hs, s.h)
	}
	f.mu.Unlock()
	for _, h := range hs {
		if h.OnInsert != nil {
			h.OnInsert(m.Clone())
		}
	}
}

func (f *fakeFeed) presence(peers []realtime.Peer) {
	f.mu.Lock()
	var hs []realtime.Handlers
	for s := range f.open {
		hs = append(hs, s.h)
	}
	f.mu.Unlock()
	for _, h := range hs {
		if h.OnPresence != nil {
			h.OnPresence(peers)
		}
	}
}

func (s *fakeSub) Typing(bool) error { return nil }

func (s *fakeSub) Close() error {
	s.feed.mu.Lock()
	defer s.feed.mu.Unlock()
	delete(s.feed.open, s)
	return nil
}

// frames records repaints.
type frames struct {
	mu  sync.Mutex
	all []render.Frame
}

func (f *frames) add(fr render.Frame) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.all = append(f.all, fr)
}

func (f *frames) since(n int) []render.Frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	if n > len(f.all) {
		return nil
	}
	return append([]render.Frame(nil), f.all[n:]...)
}

func (f *frames) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.all)
}

type harness struct {
	s       *Session
	backend *fakeBackend
	feed    *fakeFeed
	metrics *metrics.Metrics
	frames  *frames
}

func newHarness(t *testing.T, policy flow.Policy, tune ...func(*Options)) *harness {
	t.Helper()
	if policy.BotID == "" {
		policy.BotID = "opsbot"
	}
	h := &harness{
		backend: newFakeBackend(),
		feed:    newFakeFeed(),
		metrics: metrics.New(),
		frames:  &frames{},
	}
	app, err := Load(context.Background(), User{ID: "dana", Name: "Dana"}, h.backend)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	opts := Options{
		Feed:         h.feed,
		PollInterval: time.Hour,
		ResyncDelay:  5 * time.Millisecond,
		RenderWindow: 5 * time.Millisecond,
		Policy:       policy,
		Logger:       logging.Discard(),
		Metrics:      h.metrics,
		OnRender:     h.frames.add,
	}
	for _, fn := range tune {
		fn(&opts)
	}
	h.s = New(app, h.backend, opts)
	t.Cleanup(func() { h.s.Close() })
	return h
}

func botStep(kind flow.Kind, state flow.State, receiptID string) *channel.Message {
	return &channel.Message{
		UserID:  "opsbot",
		Content: string(state),
		Metadata: map[string]any{
			kind.ActiveKey():           !state.Terminal(),
			"state":                    string(state),
			channel.MetaPendingReceipt: receiptID,
		},
	}
}

func contents(msgs []*channel.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Content
	}
	return out
}
