package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/uhyunpark/spotmargin/pkg/app/core/events"
	"github.com/uhyunpark/spotmargin/pkg/eventlog"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	sendBuffer = 256

	// ChannelAll receives every event.
	ChannelAll = "events"
	// ChannelExchange receives registry, config and pause events.
	ChannelExchange = "exchange"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// CORS is enforced by the HTTP handler.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// PairChannel is the channel of events on one pair.
func PairChannel(pair uint32) string { return "pair:" + strconv.FormatUint(uint64(pair), 10) }

// AccountChannel is the channel of events owned by one account.
func AccountChannel(owner common.Address) string { return "account:" + strings.ToLower(owner.Hex()) }

// Channels lists the channels an event is delivered on, besides ChannelAll.
func Channels(e events.Event) []string {
	var out []string
	if e.Pair != 0 {
		out = append(out, PairChannel(e.Pair))
	}
	if e.HasOwner() {
		out = append(out, AccountChannel(e.Owner))
	}
	switch e.Type {
	case events.AssetAdded, events.AssetRemoved, events.PairAdded, events.PairRemoved,
		events.ConfigUpdated, events.OperationPaused, events.OperationUnpaused, events.InterestAccrued:
		if !e.HasOwner() {
			out = append(out, ChannelExchange)
		}
	}
	return out
}

// normalizeChannel validates a client channel name.
func normalizeChannel(ch string) (string, error) {
	switch {
	case ch == ChannelAll, ch == ChannelExchange:
		return ch, nil
	case strings.HasPrefix(ch, "pair:"):
		id, err := strconv.ParseUint(strings.TrimPrefix(ch, "pair:"), 10, 32)
		if err != nil || id == 0 {
			return "", fmt.Errorf("bad pair channel %q", ch)
		}
		return PairChannel(uint32(id)), nil
	case strings.HasPrefix(ch, "account:"):
		addr := strings.TrimPrefix(ch, "account:")
		if !common.IsHexAddress(addr) {
			return "", fmt.Errorf("bad account channel %q", ch)
		}
		return AccountChannel(common.HexToAddress(addr)), nil
	}
	return "", fmt.Errorf("unknown channel %q", ch)
}

// Hub fans ledger events out to subscribed WebSocket clients. It is an
// eventlog.Sink; slow clients drop messages instead of blocking the ledger.
type Hub struct {
	log *zap.SugaredLogger

	clients map[*Client]bool
	mu      sync.RWMutex

	register   chan *Client
	unregister chan *Client
	done       chan struct{} // closed when Run returns

	nextID  atomic.Uint64
	dropped atomic.Uint64
}

var _ eventlog.Sink = (*Hub)(nil)

func NewHub(log *zap.SugaredLogger) *Hub {
	return &Hub{
		log:        log,
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run services registrations until ctx is done, then disconnects everyone.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.log.Debugw("ws_client_connected", "client", c.id, "remote", c.remote, "total", n)

		case c := <-h.unregister:
			h.mu.Lock()
			if h.clients[c] {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.log.Debugw("ws_client_disconnected", "client", c.id, "total", n)
		}
	}
}

// Clients is the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish delivers each event to ChannelAll and to its own channels.
func (h *Hub) Publish(_ context.Context, evs []events.Event) error {
	for _, e := range evs {
		channels := append([]string{ChannelAll}, Channels(e)...)
		for _, ch := range channels {
			h.BroadcastToChannel(ch, WSMessage{Type: "event", Channel: ch, Data: e})
		}
	}
	return nil
}

// BroadcastToChannel sends msg to every client subscribed to channel.
func (h *Hub) BroadcastToChannel(channel string, msg WSMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		h.log.Warnw("ws_marshal_failed", "channel", channel, "error", err)
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.IsSubscribed(channel) {
			continue
		}
		select {
		case c.send <- payload:
		default:
			h.dropped.Add(1)
		}
	}
}

// Client is one WebSocket connection and its subscriptions.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	id     uint64
	remote string

	subscriptions map[string]bool
	subsMu        sync.RWMutex
}

func (c *Client) IsSubscribed(channel string) bool {
	c.subsMu.RLock()
	defer c.subsMu.RUnlock()
	return c.subscriptions[channel]
}

func (c *Client) setSubscribed(channel string, on bool) {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	if on {
		c.subscriptions[channel] = true
	} else {
		delete(c.subscriptions, channel)
	}
}

// reply queues a control message for this client only.
func (c *Client) reply(msg WSMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if !c.hub.clients[c] {
		return
	}
	select {
	case c.send <- payload:
	default:
	}
}

func (c *Client) handle(req WSSubscribeRequest) {
	var on bool
	switch req.Op {
	case "subscribe":
		on = true
	case "unsubscribe":
	default:
		c.reply(WSMessage{Type: "error", Data: fmt.Sprintf("unknown op %q", req.Op)})
		return
	}
	var done []string
	for _, raw := range req.Channels {
		ch, err := normalizeChannel(raw)
		if err != nil {
			c.reply(WSMessage{Type: "error", Data: err.Error()})
			continue
		}
		c.setSubscribed(ch, on)
		done = append(done, ch)
	}
	typ := "subscribed"
	if !on {
		typ = "unsubscribed"
	}
	c.reply(WSMessage{Type: typ, Data: done})
}

func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Debugw("ws_read_failed", "client", c.id, "error", err)
			}
			return
		}
		var req WSSubscribeRequest
		if err := json.Unmarshal(message, &req); err != nil {
			c.reply(WSMessage{Type: "error", Data: "invalid message"})
			continue
		}
		c.handle(req)
	}
}

// writePump sends one message per frame so clients can decode each frame
// as a single JSON document.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debugw("ws_upgrade_failed", "error", err)
		return
	}
	c := &Client{
		hub:           s.hub,
		conn:          conn,
		send:          make(chan []byte, sendBuffer),
		id:            s.hub.nextID.Add(1),
		remote:        conn.RemoteAddr().String(),
		subscriptions: make(map[string]bool),
	}
	select {
	case s.hub.register <- c:
	case <-s.hub.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}
