// Package client owns the console side of the connection: dialing,
// dispatching the server stream into the state store, and reconnecting with
// a fixed backoff until torn down.
package client

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"emergency-call-console/internal/protocol"
)

// ErrNotConnected is returned for sends attempted before the connection is
// open. Such sends are rejected with a warning, never silently dropped.
var ErrNotConnected = errors.New("websocket not connected")

// ErrClientClosed is returned for sends after Close.
var ErrClientClosed = errors.New("client is closed")

// Client is the client-side connection manager. After Start it keeps one
// connection alive, retrying forever on loss after a fixed backoff; there is
// no exponential backoff and no retry cap.
type Client struct {
	url     string
	backoff time.Duration
	log     zerolog.Logger
	store   *Store

	mu      sync.Mutex
	ws      *websocket.Conn
	writeMu sync.Mutex
	closed  bool

	done chan struct{}
	wg   sync.WaitGroup
}

// New creates a client for the given ws:// URL.
func New(url string, backoff time.Duration, logger zerolog.Logger) *Client {
	return &Client{
		url:     url,
		backoff: backoff,
		log:     logger,
		store:   NewStore(),
		done:    make(chan struct{}),
	}
}

// Store returns the client state store.
func (c *Client) Store() *Store {
	return c.store
}

// Start launches the connect/reconnect loop. It returns immediately.
func (c *Client) Start() {
	c.wg.Add(1)
	go c.run()
}

// Close tears the client down: the connection is closed and no further
// reconnect fires. Blocks until the loop exits.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.done)
	if c.ws != nil {
		c.ws.Close()
	}
	c.mu.Unlock()
	c.wg.Wait()
}

func (c *Client) run() {
	defer c.wg.Done()

	for {
		ws, _, err := websocket.DefaultDialer.Dial(c.url, nil)
		if err != nil {
			c.log.Warn().Err(err).Str("url", c.url).Msg("connect failed")
			c.store.Notify("Connection failed", "error")
			if !c.waitBackoff() {
				return
			}
			continue
		}

		if !c.attach(ws) {
			ws.Close()
			return
		}
		c.log.Info().Str("url", c.url).Msg("connected")

		c.readLoop(ws)

		c.detach()
		c.store.MarkDisconnected()
		c.store.Notify("Connection lost, reconnecting", "warning")
		c.log.Warn().Msg("disconnected")

		// Exactly one reconnect attempt is scheduled per loss; only Close
		// cancels it.
		if !c.waitBackoff() {
			return
		}
	}
}

func (c *Client) attach(ws *websocket.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.ws = ws
	return true
}

func (c *Client) detach() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ws != nil {
		c.ws.Close()
		c.ws = nil
	}
}

func (c *Client) waitBackoff() bool {
	select {
	case <-time.After(c.backoff):
		return true
	case <-c.done:
		return false
	}
}

func (c *Client) readLoop(ws *websocket.Conn) {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}

		msg, err := protocol.Decode(data)
		if err != nil {
			// Individual malformed drops are not surfaced to the operator.
			c.log.Warn().Err(err).Msg("dropping malformed envelope")
			continue
		}
		c.dispatch(msg)
	}
}

func (c *Client) dispatch(msg any) {
	switch m := msg.(type) {
	case protocol.ConnectionAckMessage:
		c.store.BeginSession(m.Payload.SessionID)
		c.store.Notify("Connected to server", "success")
		c.log.Info().Str("sessionId", m.Payload.SessionID).Msg("session acknowledged")

	case protocol.CallStateMessage:
		c.store.ApplyCallState(m.Payload)

	case protocol.LanguageDetectedMessage:
		c.store.ApplyDetection(m.Payload)

	case protocol.TranscriptSegmentMessage:
		c.store.ApplyTranscript(m.Payload)

	case protocol.AudioStatusMessage:
		c.store.SetAudioStatus(m.Payload)

	case protocol.InteractionAckMessage:
		c.log.Debug().Str("interactionId", m.Payload.InteractionID).Msg("interaction acknowledged")

	case protocol.UnknownMessage:
		c.log.Debug().Str("type", m.Type).Msg("ignoring unknown envelope type")

	default:
		c.log.Debug().Msg("ignoring client-directional envelope from server")
	}
}

// SendCallStart asks the server to start the simulated call.
func (c *Client) SendCallStart() error {
	return c.send(protocol.TypeCallStart, nil)
}

// SendCallEnd asks the server to end the simulated call.
func (c *Client) SendCallEnd() error {
	return c.send(protocol.TypeCallEnd, nil)
}

// SendInteraction reports a fire-and-forget UI interaction event.
func (c *Client) SendInteraction(component, action string, metadata map[string]any) error {
	return c.send(protocol.TypeUIInteraction, protocol.UIInteraction{
		Component: component,
		Action:    action,
		Timestamp: time.Now().UnixMilli(),
		Metadata:  metadata,
	})
}

func (c *Client) send(msgType string, payload any) error {
	c.mu.Lock()
	ws := c.ws
	closed := c.closed
	c.mu.Unlock()

	if closed {
		return ErrClientClosed
	}
	if ws == nil {
		c.log.Warn().Str("type", msgType).Msg("not connected, message not sent")
		return ErrNotConnected
	}

	env, err := protocol.NewEnvelope(msgType, payload)
	if err != nil {
		return err
	}
	data, err := protocol.Encode(env)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return ws.WriteMessage(websocket.TextMessage, data)
}
