package devserver

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/eachlabs/opschat/internal/channel"
	"github.com/eachlabs/opschat/internal/realtime"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	sendBuffer = 64
)

// Hub fans message inserts out to every connected client, whatever channel
// they subscribed for, and keeps per-channel presence.
type Hub struct {
	log      *slog.Logger
	upgrader websocket.Upgrader

	mu       sync.Mutex
	clients  map[*client]struct{}
	presence map[string]map[*client]realtime.Peer
}

type client struct {
	conn       *websocket.Conn
	send       chan realtime.Frame
	subscribed bool
	key        string
}

// NewHub creates an empty hub.
func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		log: log,
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		clients:  make(map[*client]struct{}),
		presence: make(map[string]map[*client]realtime.Peer),
	}
}

// Clients returns the number of connected sockets.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for c := range h.clients {
		if c.subscribed {
			n++
		}
	}
	return n
}

// ServeHTTP upgrades the request and serves one feed connection.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "err", err)
		return
	}

	c := &client{conn: conn, send: make(chan realtime.Frame, sendBuffer)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go h.writePump(c)
	h.readPump(c)
}

func (h *Hub) readPump(c *client) {
	defer h.remove(c)

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPingHandler(func(data string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return c.conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		var f realtime.Frame
		if err := json.Unmarshal(data, &f); err != nil {
			h.queue(c, realtime.Frame{Type: realtime.FrameError, Error: "invalid frame"})
			continue
		}
		h.handle(c, f)
	}
}

func (h *Hub) handle(c *client, f realtime.Frame) {
	switch f.Type {
	case realtime.FrameSubscribe:
		h.mu.Lock()
		c.subscribed = f.Topic == realtime.TopicMessages
		h.mu.Unlock()

	case realtime.FramePresenceJoin:
		if _, err := channel.ParseKey(f.Key); err != nil {
			h.queue(c, realtime.Frame{Type: realtime.FrameError, Error: err.Error()})
			return
		}
		h.mu.Lock()
		h.leaveLocked(c)
		c.key = f.Key
		if h.presence[f.Key] == nil {
			h.presence[f.Key] = make(map[*client]realtime.Peer)
		}
		h.presence[f.Key][c] = realtime.Peer{UserID: f.UserID, Name: f.Name}
		h.mu.Unlock()
		h.broadcastPresence(f.Key)

	case realtime.FramePresence:
		h.mu.Lock()
		peers, ok := h.presence[c.key]
		if ok {
			p := peers[c]
			p.Typing = f.Typing
			peers[c] = p
		}
		key := c.key
		h.mu.Unlock()
		if ok {
			h.broadcastPresence(key)
		}

	default:
		h.queue(c, realtime.Frame{Type: realtime.FrameError, Error: "unknown frame type " + f.Type})
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pongWait * 9 / 10)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case f, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteJSON(f); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	key := h.leaveLocked(c)
	close(c.send)
	h.mu.Unlock()

	if key != "" {
		h.broadcastPresence(key)
	}
}

// leaveLocked drops c from its presence channel and returns that channel.
func (h *Hub) leaveLocked(c *client) string {
	key := c.key
	if key == "" {
		return ""
	}
	if peers := h.presence[key]; peers != nil {
		delete(peers, c)
		if len(peers) == 0 {
			delete(h.presence, key)
		}
	}
	c.key = ""
	return key
}

// queue sends f to c, dropping it when the client is not keeping up. c must
// still be registered.
func (h *Hub) queue(c *client, f realtime.Frame) {
	select {
	case c.send <- f:
	default:
		h.log.Debug("dropping frame for slow client", "type", f.Type)
	}
}

// PublishInsert sends m to every subscribed client.
func (h *Hub) PublishInsert(m *channel.Message) {
	record, err := json.Marshal(m)
	if err != nil {
		h.log.Error("encode insert", "err", err)
		return
	}
	f := realtime.Frame{Type: realtime.FrameInsert, Topic: realtime.TopicMessages, Record: record}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if c.subscribed {
			h.queue(c, f)
		}
	}
}

func (h *Hub) broadcastPresence(key string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	peers := make([]realtime.Peer, 0, len(h.presence[key]))
	for _, p := range h.presence[key] {
		peers = append(peers, p)
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i].UserID < peers[j].UserID })

	f := realtime.Frame{Type: realtime.FramePresenceState, Key: key, Peers: peers}
	for c := range h.clients {
		h.queue(c, f)
	}
}
