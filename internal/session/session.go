// Package session runs the open channel: it selects channels under a
// generation guard, feeds push events and polls into one merge path, sends
// optimistically, and drives the bot workflows.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eachlabs/opschat/internal/api"
	"github.com/eachlabs/opschat/internal/channel"
	"github.com/eachlabs/opschat/internal/flow"
	"github.com/eachlabs/opschat/internal/metrics"
	"github.com/eachlabs/opschat/internal/realtime"
	"github.com/eachlabs/opschat/internal/render"
)

var (
	ErrNoChannel          = errors.New("no channel selected")
	ErrUnknownChannel     = errors.New("unknown channel")
	ErrUnknownMessage     = errors.New("unknown message")
	ErrNoThread           = errors.New("no thread open")
	ErrNotReceiptsChannel = errors.New("receipts can only be uploaded to a receipts channel")
	ErrClosed             = errors.New("session closed")
)

// Backend is everything the session calls on the server.
type Backend interface {
	Directory
	ListMessages(ctx context.Context, key channel.Key, limit int) ([]*channel.Message, error)
	PostMessage(ctx context.Context, msg api.PostMessage) (*channel.Message, error)
	ToggleReaction(ctx context.Context, messageID, emoji, userID string) (*channel.Message, error)
	ListThread(ctx context.Context, rootID string) ([]*channel.Message, error)
	PostThreadReply(ctx context.Context, rootID, userID, content string) (*channel.Message, error)
	UploadReceipt(ctx context.Context, projectID, uploaderID, path string) (api.Receipt, error)
	ProcessReceipt(ctx context.Context, receiptID string, force bool) (api.ProcessResult, error)
	SendFlowAction(ctx context.Context, kind, receiptID, action, text string) error
	PendingReceiptCount(ctx context.Context, projectID string) (int, error)
}

// Options configures a Session. Zero values fall back to defaults.
type Options struct {
	Feed         realtime.Feed
	PollInterval time.Duration
	PollLimit    int
	ResyncDelay  time.Duration
	RenderWindow time.Duration
	Policy       flow.Policy
	Logger       *slog.Logger
	Metrics      *metrics.Metrics
	// OnRender is called from a timer goroutine with each coalesced repaint.
	OnRender func(render.Frame)
}

// Header is the title bar of the open channel.
type Header struct {
	Title    string
	Subtitle string
	// Indicator is the pending receipt badge; empty when there is none or it
	// could not be loaded.
	Indicator string
}

// Session owns the open channel. Every mutation of the message log, the flow
// slots and the transport handles happens under mu.
type Session struct {
	app     *AppContext
	backend Backend
	feed    realtime.Feed
	opts    Options
	log     *slog.Logger
	metrics *metrics.Metrics

	gen       channel.Generation
	threadGen channel.Generation
	store     *channel.Store
	debounce  *render.Debouncer

	nearBottom atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	closed  bool
	current channel.Channel
	header  Header
	flows   flow.Active
	failed  map[flow.Kind]bool
	peers   []realtime.Peer
	thread  *thread
	poller  *realtime.Poller
	sub     realtime.Subscription
}

type thread struct {
	root  *channel.Message
	store *channel.Store
}

// New creates a session with nothing selected.
func New(app *AppContext, backend Backend, opts Options) *Session {
	if opts.Feed == nil {
		opts.Feed = realtime.Disabled{}
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = realtime.DefaultPollInterval
	}
	if opts.PollLimit <= 0 {
		opts.PollLimit = 50
	}
	if opts.ResyncDelay < 0 {
		opts.ResyncDelay = 0
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		app:     app,
		backend: backend,
		feed:    opts.Feed,
		opts:    opts,
		log:     opts.Logger,
		metrics: opts.Metrics,
		store:   channel.NewStore(app.User.ID),
		ctx:     ctx,
		cancel:  cancel,
	}
	s.debounce = render.NewDebouncer(opts.RenderWindow, func(f render.Frame) {
		if s.opts.OnRender != nil {
			s.opts.OnRender(f)
		}
	})
	s.nearBottom.Store(true)
	return s
}

// App returns the application context.
func (s *Session) App() *AppContext {
	return s.app
}

// SetNearBottom records whether the viewport is scrolled to (or close to)
// the newest message. Appends by other users only scroll when it is.
func (s *Session) SetNearBottom(near bool) {
	s.nearBottom.Store(near)
}

// Current returns the open channel.
func (s *Session) Current() (channel.Channel, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current, !s.current.Key().IsZero()
}

// SelectChannel opens key: it stops the previous channel's feed and poller,
// loads recent history, rebuilds the workflow slots, and then starts a feed
// and a poller for key. The feed and poller start even when the load fails,
// so the channel recovers on the next successful poll. A result that arrives
// after a newer selection is dropped without error.
func (s *Session) SelectChannel(ctx context.Context, key channel.Key) error {
	ch, ok := s.app.Channel(key)
	if !ok {
		return fmt.Errorf("%s: %w", key, ErrUnknownChannel)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	ticket := s.gen.Next()
	s.threadGen.Next()
	poller, sub := s.detachLocked()
	s.current = ch
	s.header = Header{Title: ch.DisplayName()}
	s.store.Reset(key)
	s.flows = flow.Active{}
	s.failed = nil
	s.peers = nil
	s.thread = nil
	s.mu.Unlock()

	s.stopTransports(poller, sub)
	s.debounce.Trigger(true)
	s.log.Debug("channel selected", "channel", key, "generation", ticket.Value())

	s.goRefreshHeader(ticket, ch)

	msgs, err := s.backend.ListMessages(ctx, key, s.opts.PollLimit)

	s.mu.Lock()
	if !ticket.Valid() {
		s.mu.Unlock()
		s.metrics.Stale("select")
		return nil
	}
	if err != nil {
		s.store.Loaded(err)
		s.mu.Unlock()
		s.debounce.Trigger(false)
		s.startTransports(ticket, key)
		return fmt.Errorf("open %s: %w", ch.DisplayName(), err)
	}
	for _, m := range msgs {
		s.mergeLocked(m)
	}
	s.store.Loaded(nil)
	s.mu.Unlock()
	s.debounce.Trigger(true)

	s.startTransports(ticket, key)
	return nil
}

// detachLocked hands the live transports to the caller, which must stop them
// after releasing mu: their callbacks take mu.
func (s *Session) detachLocked() (*realtime.Poller, realtime.Subscription) {
	p, sub := s.poller, s.sub
	s.poller, s.sub = nil, nil
	return p, sub
}

func (s *Session) stopTransports(p *realtime.Poller, sub realtime.Subscription) {
	if p != nil {
		p.Stop()
		s.metrics.PollerStopped()
	}
	if sub != nil {
		if err := sub.Close(); err != nil {
			s.log.Debug("closing realtime subscription", "err", err)
		}
		s.metrics.FeedClosed()
	}
}

func (s *Session) startTransports(ticket channel.Ticket, key channel.Key) {
	self := realtime.Peer{UserID: s.app.User.ID, Name: s.app.User.Name}
	sub, err := s.feed.Subscribe(s.ctx, key, self, realtime.Handlers{
		OnInsert:   func(m *channel.Message) { s.onInsert(ticket, key, m) },
		OnPresence: func(peers []realtime.Peer) { s.onPresence(ticket, peers) },
		OnClose:    func(error) { s.metrics.Realtime("closed") },
	})
	if err != nil {
		s.log.Warn("realtime unavailable, relying on polling", "channel", key, "err", err)
		sub = nil
	}

	poller := realtime.NewPoller(s.opts.PollInterval,
		func(ctx context.Context) ([]*channel.Message, error) {
			return s.backend.ListMessages(ctx, key, s.opts.PollLimit)
		},
		func(msgs []*channel.Message) { s.onPoll(ticket, msgs) },
		s.log.With("channel", key.String()),
	)
	poller.OnTick = s.metrics.Poll

	s.mu.Lock()
	if !ticket.Valid() || s.closed {
		s.mu.Unlock()
		s.metrics.Stale("subscribe")
		if sub != nil {
			_ = sub.Close()
		}
		return
	}
	s.sub = sub
	s.poller = poller
	poller.Start(s.ctx)
	if sub != nil {
		s.metrics.FeedOpened()
	}
	s.metrics.PollerStarted()
	s.mu.Unlock()
}

func (s *Session) onInsert(ticket channel.Ticket, key channel.Key, m *channel.Message) {
	if m == nil || m.Key() != key {
		s.metrics.Realtime("foreign")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !ticket.Valid() {
		s.metrics.Realtime("stale")
		return
	}
	s.metrics.Realtime("merged")
	if m.ParentID != "" {
		s.mergeReplyLocked(m)
		return
	}
	s.mergeLocked(m)
}

func (s *Session) onPresence(ticket channel.Ticket, peers []realtime.Peer) {
	s.mu.Lock()
	if !ticket.Valid() {
		s.mu.Unlock()
		return
	}
	s.peers = peers
	s.mu.Unlock()
	s.debounce.Trigger(false)
}

func (s *Session) onPoll(ticket channel.Ticket, msgs []*channel.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !ticket.Valid() {
		s.metrics.Stale("poll")
		return
	}
	if _, err := s.store.State(); err != nil {
		s.store.Loaded(nil)
		s.debounce.Trigger(true)
	}
	for _, m := range msgs {
		s.mergeLocked(m)
	}
}

// mergeLocked folds m into the log, advances the workflow slots for new bot
// messages and schedules a repaint.
func (s *Session) mergeLocked(m *channel.Message) channel.MergeResult {
	near := s.nearBottom.Load()
	res := s.store.Merge(m)
	s.metrics.Merge(res.String())
	if !res.Changed() {
		return res
	}

	if res == channel.Appended {
		before := s.flows
		s.flows = s.flows.Observe(m, s.app.User.ID, s.opts.Policy)
		for _, k := range flow.Kinds {
			a, _ := before.Get(k)
			b, _ := s.flows.Get(k)
			if a != b {
				delete(s.failed, k)
			}
		}
	}

	scroll := res == channel.Appended && (m.UserID == s.app.User.ID || near)
	s.debounce.Trigger(scroll)
	return res
}

func (s *Session) resync(ticket channel.Ticket, key channel.Key) {
	msgs, err := s.backend.ListMessages(s.ctx, key, s.opts.PollLimit)
	if err != nil {
		s.log.Debug("resync failed", "channel", key, "err", err)
		return
	}
	s.onPoll(ticket, msgs)
}

// scheduleResync re-fetches the channel after the configured delay, giving
// the bot time to post its next step.
func (s *Session) scheduleResync(ticket channel.Ticket, key channel.Key) {
	if !s.track() {
		return
	}
	go func() {
		defer s.wg.Done()
		t := time.NewTimer(s.opts.ResyncDelay)
		defer t.Stop()
		select {
		case <-s.ctx.Done():
			return
		case <-t.C:
		}
		if ticket.Valid() {
			s.resync(ticket, key)
		}
	}()
}

// track registers one background goroutine unless the session is closing.
func (s *Session) track() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.wg.Add(1)
	return true
}

// Typing broadcasts the user's typing state on the open channel.
func (s *Session) Typing(typing bool) {
	s.mu.Lock()
	sub := s.sub
	s.mu.Unlock()

	if sub == nil {
		return
	}
	if err := sub.Typing(typing); err != nil {
		s.log.Debug("typing broadcast failed", "err", err)
	}
}

// Flush paints pending changes now.
func (s *Session) Flush() {
	s.debounce.Flush()
}

// Close stops all transports and background work.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.gen.Next()
	poller, sub := s.detachLocked()
	s.mu.Unlock()

	s.cancel()
	s.stopTransports(poller, sub)
	s.wg.Wait()
	s.debounce.Stop()
	return nil
}
