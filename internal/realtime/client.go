package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/eachlabs/opschat/internal/channel"
)

// Options configures the websocket feed client.
type Options struct {
	URL              string
	Token            string
	HandshakeTimeout time.Duration
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	PingInterval     time.Duration
	// TypingInterval is the minimum gap between two "started typing"
	// broadcasts by this user.
	TypingInterval time.Duration
}

// DefaultOptions returns the feed settings used when none are configured.
func DefaultOptions(url string) Options {
	return Options{
		URL:              url,
		HandshakeTimeout: 10 * time.Second,
		ReadTimeout:      60 * time.Second,
		WriteTimeout:     10 * time.Second,
		PingInterval:     25 * time.Second,
		TypingInterval:   2 * time.Second,
	}
}

// Client dials the websocket feed.
type Client struct {
	opts   Options
	dialer *websocket.Dialer
	log    *slog.Logger
}

// NewClient creates a feed client.
func NewClient(opts Options, log *slog.Logger) *Client {
	def := DefaultOptions(opts.URL)
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = def.HandshakeTimeout
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = def.ReadTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = def.WriteTimeout
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = def.PingInterval
	}
	if opts.TypingInterval <= 0 {
		opts.TypingInterval = def.TypingInterval
	}
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		opts:   opts,
		dialer: &websocket.Dialer{HandshakeTimeout: opts.HandshakeTimeout},
		log:    log,
	}
}

// Subscribe connects, subscribes to message inserts and joins the presence
// channel of key.
func (c *Client) Subscribe(ctx context.Context, key channel.Key, self Peer, h Handlers) (Subscription, error) {
	header := http.Header{}
	if c.opts.Token != "" {
		header.Set("Authorization", "Bearer "+c.opts.Token)
	}

	conn, _, err := c.dialer.DialContext(ctx, c.opts.URL, header)
	if err != nil {
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}

	s := &socketSubscription{
		conn:     conn,
		key:      key,
		self:     self,
		opts:     c.opts,
		handlers: h,
		throttle: NewThrottle(c.opts.TypingInterval),
		log:      c.log.With("channel", key.String()),
		done:     make(chan struct{}),
		stop:     make(chan struct{}),
	}

	conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
		return nil
	})

	// The server-side key filter is not reliable, so the subscription asks
	// for the whole relation and filtering happens on receipt.
	if err := s.write(Frame{Type: FrameSubscribe, Topic: TopicMessages}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	if err := s.write(Frame{Type: FramePresenceJoin, Key: key.String(), UserID: self.UserID, Name: self.Name}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("join presence: %w", err)
	}

	go s.readLoop()
	go s.pingLoop()

	return s, nil
}

type socketSubscription struct {
	conn     *websocket.Conn
	key      channel.Key
	self     Peer
	opts     Options
	handlers Handlers
	throttle *Throttle
	log      *slog.Logger

	writeMu sync.Mutex

	closeOnce sync.Once
	closed    bool
	mu        sync.Mutex
	stop      chan struct{}
	done      chan struct{}
}

func (s *socketSubscription) write(f Frame) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
	return s.conn.WriteJSON(f)
}

func (s *socketSubscription) readLoop() {
	defer close(s.done)

	for {
		var f Frame
		if err := s.conn.ReadJSON(&f); err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return
			}
			s.log.Warn("realtime feed lost, relying on polling", "err", err)
			if s.handlers.OnClose != nil {
				s.handlers.OnClose(err)
			}
			return
		}

		switch f.Type {
		case FrameInsert:
			if len(f.Record) == 0 || s.handlers.OnInsert == nil {
				continue
			}
			var m channel.Message
			if err := json.Unmarshal(f.Record, &m); err != nil {
				s.log.Debug("skipping undecodable insert", "err", err)
				continue
			}
			s.handlers.OnInsert(&m)

		case FramePresenceState:
			if f.Key != s.key.String() || s.handlers.OnPresence == nil {
				continue
			}
			s.handlers.OnPresence(f.Peers)

		case FrameError:
			s.log.Warn("realtime feed error", "error", f.Error)
		}
	}
}

func (s *socketSubscription) pingLoop() {
	ticker := time.NewTicker(s.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-s.done:
			return
		case <-ticker.C:
			s.writeMu.Lock()
			s.conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
			err := s.conn.WriteMessage(websocket.PingMessage, nil)
			s.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// Typing broadcasts typing state. A "started typing" broadcast within the
// throttle interval of the previous one is skipped.
func (s *socketSubscription) Typing(typing bool) error {
	if typing && !s.throttle.Allow() {
		return nil
	}
	return s.write(Frame{Type: FramePresence, Key: s.key.String(), UserID: s.self.UserID, Name: s.self.Name, Typing: typing})
}

// Close ends the subscription and waits for its reader to exit.
func (s *socketSubscription) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.stop)

		s.writeMu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		s.writeMu.Unlock()

		err = s.conn.Close()
		<-s.done
		if errors.Is(err, net.ErrClosed) {
			err = nil
		}
	})
	return err
}
