// Package transport wraps a single websocket connection to one
// namespace endpoint. The channel is deliberately dumb: it never
// reconnects and never interprets handshake payloads. Reconnection and
// retry policy belong to the socket machine that owns the channel.
package transport

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

const (
	writeTimeout         = 10 * time.Second
	handshakeTimeout     = 45 * time.Second
	maxInboundMessageLen = 1 << 20 // 1 MiB
)

// Reserved events emitted by the channel itself, never by the server.
const (
	// EventDisconnect fires once when the connection closes for any
	// reason, local or remote.
	EventDisconnect = "disconnect"
	// EventConnectError fires when the dial itself fails; the payload is
	// the error text.
	EventConnectError = "connect_error"
)

// Message is the wire frame exchanged with the server.
type Message struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Handler receives the raw payload of a dispatched event.
type Handler func(data json.RawMessage)

type handlerEntry struct {
	fn   Handler
	once bool
}

// Channel owns exactly one websocket connection to one namespace URL.
// Listeners must be attached before Connect is called: dial and close
// outcomes surface via events, not return values.
type Channel struct {
	url    string
	header http.Header
	dialer *websocket.Dialer

	mu       sync.Mutex
	conn     *websocket.Conn
	handlers map[string][]handlerEntry
	dialed   bool

	writeMu   sync.Mutex
	closed    chan struct{}
	closeOnce sync.Once
}

// NewChannel builds a channel for the namespace URL. The extra header
// carries localization and authorization data into the upgrade request.
func NewChannel(url string, header http.Header) *Channel {
	return &Channel{
		url:    url,
		header: header,
		dialer: &websocket.Dialer{
			HandshakeTimeout: handshakeTimeout,
		},
		handlers: make(map[string][]handlerEntry),
		closed:   make(chan struct{}),
	}
}

// On attaches a persistent handler for an event.
func (c *Channel) On(event string, fn Handler) {
	c.addHandler(event, fn, false)
}

// Once attaches a handler that detaches itself after one delivery.
func (c *Channel) Once(event string, fn Handler) {
	c.addHandler(event, fn, true)
}

// Off detaches every handler for the event.
func (c *Channel) Off(event string) {
	c.mu.Lock()
	delete(c.handlers, event)
	c.mu.Unlock()
}

func (c *Channel) addHandler(event string, fn Handler, once bool) {
	if fn == nil {
		return
	}
	c.mu.Lock()
	c.handlers[event] = append(c.handlers[event], handlerEntry{fn: fn, once: once})
	c.mu.Unlock()
}

// Connect triggers the dial in the background. The outcome arrives as
// either a server-sent handshake event or EventConnectError. A channel
// dials at most once; a second call is a programming error surfaced via
// EventConnectError.
func (c *Channel) Connect() {
	c.mu.Lock()
	if c.dialed {
		c.mu.Unlock()
		c.dispatch(EventConnectError, rawString("channel already used"))
		return
	}
	c.dialed = true
	c.mu.Unlock()

	go func() {
		conn, resp, err := c.dialer.Dial(c.url, c.header)
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		if err != nil {
			log.Debugf("transport: dial %s failed: %v", c.url, err)
			c.markClosed()
			c.dispatch(EventConnectError, rawString(err.Error()))
			return
		}

		c.mu.Lock()
		select {
		case <-c.closed:
			// Destroyed while the dial was in flight.
			c.mu.Unlock()
			_ = conn.Close()
			return
		default:
		}
		c.conn = conn
		c.mu.Unlock()

		conn.SetReadLimit(maxInboundMessageLen)
		c.readLoop(conn)
	}()
}

// Disconnect requests a graceful close. Closure is confirmed by the
// EventDisconnect event once the peer completes the close exchange.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		c.Destroy()
		return
	}
	c.writeMu.Lock()
	err := conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeTimeout),
	)
	c.writeMu.Unlock()
	if err != nil {
		// Close frame could not be written; tear the connection down so
		// the read loop observes the closure.
		_ = conn.Close()
	}
}

// Destroy tears the connection down immediately without a close
// exchange and suppresses any further event dispatch.
func (c *Channel) Destroy() {
	c.markClosed()
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.handlers = make(map[string][]handlerEntry)
	c.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

// Emit sends an event frame to the server.
func (c *Channel) Emit(event string, data any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("transport: channel not connected")
	}
	select {
	case <-c.closed:
		return fmt.Errorf("transport: channel closed")
	default:
	}

	msg := Message{Event: event}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("transport: marshal %s payload: %w", event, err)
		}
		msg.Data = raw
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return fmt.Errorf("transport: set write deadline: %w", err)
	}
	if err := conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("transport: write %s: %w", event, err)
	}
	return nil
}

func (c *Channel) readLoop(conn *websocket.Conn) {
	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debugf("transport: read %s: %v", c.url, err)
			}
			c.markClosed()
			c.dispatch(EventDisconnect, nil)
			return
		}
		if msg.Event == "" {
			log.Warnf("transport: dropping frame without event from %s", c.url)
			continue
		}
		c.dispatch(msg.Event, msg.Data)
	}
}

func (c *Channel) dispatch(event string, data json.RawMessage) {
	c.mu.Lock()
	entries := c.handlers[event]
	var fire []Handler
	var keep []handlerEntry
	for _, e := range entries {
		fire = append(fire, e.fn)
		if !e.once {
			keep = append(keep, e)
		}
	}
	if len(keep) == 0 {
		delete(c.handlers, event)
	} else {
		c.handlers[event] = keep
	}
	c.mu.Unlock()

	for _, fn := range fire {
		fn(data)
	}
}

func (c *Channel) markClosed() {
	c.closeOnce.Do(func() {
		close(c.closed)
	})
}

func rawString(s string) json.RawMessage {
	raw, _ := json.Marshal(s)
	return raw
}
