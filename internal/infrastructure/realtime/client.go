package realtime

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Client is one websocket connection. Inbound frames are pushed onto inbound,
// which is closed when the connection's read side ends.
type Client struct {
	conn        *websocket.Conn
	recipientID string
	send        chan []byte
	inbound     chan Frame

	mu       sync.RWMutex
	channels map[string]struct{}
	closed   bool
}

func newClient(conn *websocket.Conn, recipientID string) *Client {
	return &Client{
		conn:        conn,
		recipientID: recipientID,
		send:        make(chan []byte, sendBufferSize),
		inbound:     make(chan Frame, sendBufferSize),
		channels:    make(map[string]struct{}),
	}
}

// mayJoin allows shared channels and the client's own private channel only.
func (c *Client) mayJoin(channel string) bool {
	if strings.HasPrefix(channel, privateUserPrefix) {
		return channel == PrivateChannel(c.recipientID)
	}
	return IsShared(channel)
}

func (c *Client) subscribe(channel string) {
	c.mu.Lock()
	c.channels[channel] = struct{}{}
	c.mu.Unlock()
}

func (c *Client) unsubscribe(channel string) {
	c.mu.Lock()
	delete(c.channels, channel)
	c.mu.Unlock()
}

func (c *Client) subscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.channels[channel]
	return ok
}

// enqueue drops the message when the client is slow or gone.
func (c *Client) enqueue(raw []byte) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return
	}
	select {
	case c.send <- raw:
	default:
	}
}

func (c *Client) reply(channel, event string, data any) {
	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return
		}
		raw = b
	}
	msg, err := json.Marshal(Envelope{Channel: channel, Event: event, Data: raw})
	if err != nil {
		return
	}
	c.enqueue(msg)
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// readPump decodes frames until the connection fails, then closes inbound.
func (c *Client) readPump() {
	defer close(c.inbound)
	c.conn.SetReadLimit(maxFrameSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		var f Frame
		if err := c.conn.ReadJSON(&f); err != nil {
			if _, isJSON := err.(*json.SyntaxError); isJSON {
				c.reply("", "error", map[string]string{"error": "invalid frame"})
				continue
			}
			return
		}
		c.inbound <- f
	}
}

// writePump owns all writes to the connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
