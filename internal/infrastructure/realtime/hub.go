package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxFrameSize   = 4096
	sendBufferSize = 64
	resubscribeGap = time.Second
)

// Subscriber opens pattern subscriptions on the pub/sub backend. A nil result
// means the backend is unreachable.
type Subscriber interface {
	PSubscribe(ctx context.Context, patterns ...string) *redis.PubSub
}

// Frame is an inbound client message.
type Frame struct {
	Event   string          `json:"event"`
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type frameHandler func(ctx context.Context, c *Client, f Frame)

// Hub owns every websocket connection of this process and forwards broker
// events to the connections subscribed to their channel.
type Hub struct {
	broker   *Broker
	sub      Subscriber
	logger   *slog.Logger
	upgrader websocket.Upgrader
	handlers map[string]frameHandler

	mu      sync.RWMutex
	clients map[*Client]struct{}

	readyOnce sync.Once
	ready     chan struct{}
}

// NewHub creates a hub. allowedOrigins mirrors the CORS configuration; "*"
// accepts any origin.
func NewHub(broker *Broker, sub Subscriber, allowedOrigins []string, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hub{
		broker:  broker,
		sub:     sub,
		logger:  logger.With("component", "realtime_hub"),
		clients: make(map[*Client]struct{}),
		ready:   make(chan struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	h.handlers = map[string]frameHandler{
		"subscribe":   h.handleSubscribe,
		"unsubscribe": h.handleUnsubscribe,
		EventTyping:   h.handleRelay,
		EventMessage:  h.handleRelay,
		"ping":        h.handlePing,
	}
	return h
}

func originChecker(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			if a == "*" || strings.EqualFold(a, origin) {
				return true
			}
		}
		return false
	}
}

// Ready is closed once the hub holds a live broker subscription.
func (h *Hub) Ready() <-chan struct{} { return h.ready }

// ClientCount returns the number of registered connections.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Run consumes broker events until ctx is done, resubscribing whenever the
// backend subscription is lost.
func (h *Hub) Run(ctx context.Context) {
	for ctx.Err() == nil {
		ps := h.sub.PSubscribe(ctx, redisPrefix+"*")
		if ps == nil {
			if !sleepCtx(ctx, resubscribeGap) {
				return
			}
			continue
		}
		if _, err := ps.Receive(ctx); err != nil {
			h.logger.Warn("realtime subscribe failed", "err", err)
			_ = ps.Close()
			if !sleepCtx(ctx, resubscribeGap) {
				return
			}
			continue
		}
		h.readyOnce.Do(func() { close(h.ready) })
		h.logger.Info("realtime subscribed")
		h.consume(ctx, ps)
		_ = ps.Close()
	}
	h.closeAll()
}

func (h *Hub) consume(ctx context.Context, ps *redis.PubSub) {
	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			h.deliver(msg.Channel, []byte(msg.Payload))
		}
	}
}

// deliver queues raw for every client subscribed to the broker channel.
func (h *Hub) deliver(redisChannel string, raw []byte) {
	channel := strings.TrimPrefix(redisChannel, redisPrefix)
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if c.subscribed(channel) {
			c.enqueue(raw)
		}
	}
}

// ServeWS upgrades the request and serves the connection of recipientID until
// it closes. The recipient is subscribed to its private channel on connect.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, recipientID string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "err", err)
		return
	}
	c := newClient(conn, recipientID)
	c.subscribe(PrivateChannel(recipientID))
	h.register(c)
	h.logger.Info("websocket connected", "recipient_id", recipientID)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go c.writePump()
	go h.dispatch(ctx, c)
	c.readPump()

	h.unregister(c)
	h.logger.Info("websocket disconnected", "recipient_id", recipientID)
}

// dispatch routes inbound frames to their topic handler until the client's
// inbound channel is closed.
func (h *Hub) dispatch(ctx context.Context, c *Client) {
	for f := range c.inbound {
		handle, ok := h.handlers[f.Event]
		if !ok {
			c.reply(f.Channel, "error", map[string]string{"error": "unknown event"})
			continue
		}
		handle(ctx, c, f)
	}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		c.close()
	}
	h.mu.Unlock()
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		c.close()
	}
}

func (h *Hub) handleSubscribe(_ context.Context, c *Client, f Frame) {
	if !c.mayJoin(f.Channel) {
		c.reply(f.Channel, "error", map[string]string{"error": "channel not allowed"})
		return
	}
	c.subscribe(f.Channel)
	c.reply(f.Channel, "subscribed", nil)
}

func (h *Hub) handleUnsubscribe(_ context.Context, c *Client, f Frame) {
	if f.Channel == PrivateChannel(c.recipientID) {
		return
	}
	c.unsubscribe(f.Channel)
	c.reply(f.Channel, "unsubscribed", nil)
}

// handleRelay re-publishes typing and chat frames on a shared channel the
// client has joined, tagged with the sender.
func (h *Hub) handleRelay(ctx context.Context, c *Client, f Frame) {
	if !IsShared(f.Channel) || !c.subscribed(f.Channel) {
		c.reply(f.Channel, "error", map[string]string{"error": "not subscribed"})
		return
	}
	h.broker.Publish(ctx, f.Channel, f.Event, relayData{SenderID: c.recipientID, Payload: f.Data})
}

func (h *Hub) handlePing(_ context.Context, c *Client, f Frame) {
	c.reply(f.Channel, "pong", nil)
}

type relayData struct {
	SenderID string          `json:"sender_id"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
