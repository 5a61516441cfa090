package gateway

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/soyeahso/mailroom/internal/logging"
)

// writeWait bounds a single frame write to a slow reviewer connection.
const writeWait = 10 * time.Second

// allThreads subscribes a client to events of every thread.
const allThreads = "*"

// Client is an authenticated reviewer connection. A client without
// subscriptions receives every thread event.
type Client struct {
	ConnID      string
	Info        ClientInfo
	Socket      *websocket.Conn
	AuthResult  AuthResult
	ConnectedAt time.Time

	mu     sync.Mutex
	closed bool
	subs   map[string]bool // thread ids, or allThreads
	log    *logging.Logger
}

// NewClient creates a Client for a newly authenticated WebSocket connection.
func NewClient(conn *websocket.Conn, info ClientInfo, authResult AuthResult, log *logging.Logger) *Client {
	return &Client{
		ConnID:      uuid.New().String(),
		Info:        info,
		Socket:      conn,
		AuthResult:  authResult,
		ConnectedAt: time.Now(),
		log:         log,
	}
}

// Reviewer names the client in logs and verdict attributions. A reviewer
// token outranks what the client says about itself.
func (c *Client) Reviewer() string {
	if c.AuthResult.Method == authMethodReviewer {
		return c.AuthResult.Reviewer
	}
	if c.Info.DisplayName != "" {
		return c.Info.DisplayName
	}
	if c.Info.ID != "" {
		return c.Info.ID
	}
	return c.ConnID
}

// Subscribe narrows thread events to the given thread ids. "*" restores
// delivery of every thread.
func (c *Client) Subscribe(threadIDs ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subs == nil {
		c.subs = make(map[string]bool)
	}
	for _, id := range threadIDs {
		c.subs[id] = true
	}
}

// Unsubscribe drops thread ids. Once the last one is gone the client
// receives every thread again.
func (c *Client) Unsubscribe(threadIDs ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range threadIDs {
		delete(c.subs, id)
	}
}

// Subscriptions returns the subscribed thread ids in order.
func (c *Client) Subscriptions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.subs))
	for id := range c.subs {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Wants reports whether an event about threadID should reach the client.
func (c *Client) Wants(threadID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs) == 0 || c.subs[allThreads] || c.subs[threadID]
}

// Send writes a frame to the client. Thread-safe.
func (c *Client) Send(frame Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClientClosed
	}
	if err := c.Socket.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.Socket.WriteJSON(frame)
}

// Ping writes a ping control frame. The pong extends the read deadline.
func (c *Client) Ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClientClosed
	}
	return c.Socket.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// SendEvent sends a named event with payload.
func (c *Client) SendEvent(event string, payload any, seq int64) error {
	f, err := NewEvent(event, payload, seq)
	if err != nil {
		return err
	}
	return c.Send(f)
}

// Respond sends a success response for the given request ID.
func (c *Client) Respond(reqID string, payload any) error {
	f, err := NewResponse(reqID, payload)
	if err != nil {
		return err
	}
	return c.Send(f)
}

// RespondError sends an error response for the given request ID.
func (c *Client) RespondError(reqID string, errShape ErrorShape) error {
	return c.Send(NewErrorResponse(reqID, errShape))
}

// ReadFrame reads the next frame. A frame that decodes but is malformed
// is returned with ErrMalformedFrame.
func (c *Client) ReadFrame() (Frame, error) {
	_, msg, err := c.Socket.ReadMessage()
	if err != nil {
		return Frame{}, err
	}
	return ParseFrame(msg)
}

// Close sends a close frame and closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if c.Socket == nil {
		return nil
	}
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "gateway shutting down")
	_ = c.Socket.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return c.Socket.Close()
}

// ClientRegistry tracks connected reviewers.
type ClientRegistry struct {
	mu      sync.RWMutex
	clients map[string]*Client // connID → Client
	log     *logging.Logger
}

// NewClientRegistry creates an empty client registry.
func NewClientRegistry(log *logging.Logger) *ClientRegistry {
	return &ClientRegistry{
		clients: make(map[string]*Client),
		log:     log,
	}
}

// Add registers a connected client.
func (r *ClientRegistry) Add(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[c.ConnID] = c
	r.log.Info().Str("connId", c.ConnID).Str("reviewer", c.Reviewer()).Msg("reviewer connected")
}

// Remove unregisters a client by connection ID.
func (r *ClientRegistry) Remove(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, connID)
	r.log.Info().Str("connId", connID).Msg("reviewer disconnected")
}

// Get returns a client by connection ID.
func (r *ClientRegistry) Get(connID string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[connID]
	return c, ok
}

// Count returns the number of connected clients.
func (r *ClientRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// snapshot copies the client set so sends happen outside the lock.
func (r *ClientRegistry) snapshot() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		out = append(out, c)
	}
	return out
}

// Broadcast sends an event to every connected client. It returns the
// number of clients reached.
func (r *ClientRegistry) Broadcast(event string, payload any, seq int64) int {
	return r.deliver(r.snapshot(), event, payload, seq)
}

// Publish sends a thread event to the clients subscribed to threadID.
func (r *ClientRegistry) Publish(threadID, event string, payload any, seq int64) int {
	var targets []*Client
	for _, c := range r.snapshot() {
		if c.Wants(threadID) {
			targets = append(targets, c)
		}
	}
	return r.deliver(targets, event, payload, seq)
}

func (r *ClientRegistry) deliver(targets []*Client, event string, payload any, seq int64) int {
	n := 0
	for _, c := range targets {
		if err := c.SendEvent(event, payload, seq); err != nil {
			r.log.Warn().Err(err).Str("connId", c.ConnID).Str("event", event).Msg("event delivery failed")
			continue
		}
		n++
	}
	return n
}

// CloseAll closes all connected clients.
func (r *ClientRegistry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, c := range r.clients {
		c.Close()
		delete(r.clients, id)
	}
}
