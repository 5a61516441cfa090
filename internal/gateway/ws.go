package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/soyeahso/mailroom/internal/hooks"
	"github.com/soyeahso/mailroom/internal/version"
)

const (
	maxPayload       = 4 * 1024 * 1024
	handshakeTimeout = 10 * time.Second
	pongWait         = 60 * time.Second
	pingPeriod       = pongWait * 9 / 10
)

// hookEvents maps hook events to the WebSocket events they are pushed as.
var hookEvents = map[string]string{
	hooks.EventThreadSuspended: EventThreadSuspended,
	hooks.EventThreadCompleted: EventThreadCompleted,
	hooks.EventThreadFailed:    EventThreadFailed,
	hooks.EventMemoryUpdated:   EventMemoryUpdated,
}

// BroadcastEvents lists the event names clients may receive.
func BroadcastEvents() []string {
	return []string{EventConnectChallenge, EventThreadSuspended, EventThreadCompleted, EventThreadFailed, EventMemoryUpdated}
}

// registerHooks pushes hook events to reviewers. Events carrying a thread
// id only reach clients subscribed to it.
func (s *Server) registerHooks() {
	if s.hooks == nil {
		return
	}
	for hookEvent, wsEvent := range hookEvents {
		s.hooks.On(hookEvent, "gateway-broadcast", func(_ context.Context, p hooks.Payload) error {
			seq := s.eventSeq.Add(1)
			if thread, ok := p.Thread(); ok {
				s.clients.Publish(thread, wsEvent, p.Data, seq)
				return nil
			}
			s.clients.Broadcast(wsEvent, p.Data, seq)
			return nil
		})
	}
}

// checkWebSocketOrigin admits requests without an Origin header, which
// are not from browsers, and browser requests from allowed origins.
func checkWebSocketOrigin(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || isOriginAllowed(origin, allowed)
	}
}

// handleWebSocket upgrades the request and serves one reviewer session.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !s.authLimiter.allow(r.RemoteAddr) {
		s.log.Warn().Str("remote", r.RemoteAddr).Msg("rate limited after repeated auth failures")
		http.Error(w, "too many requests", http.StatusTooManyRequests)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}
	conn.SetReadLimit(maxPayload)

	client, err := s.handshake(conn)
	if err != nil {
		s.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("handshake failed")
		s.authLimiter.recordFailure(r.RemoteAddr)
		conn.Close()
		return
	}

	s.clients.Add(client)
	defer func() {
		s.clients.Remove(client.ConnID)
		client.Close()
	}()

	s.readLoop(r.Context(), client)
}

// handshake sends a challenge, expects a connect request, checks the
// protocol range and credentials, and answers with HelloOK.
func (s *Server) handshake(conn *websocket.Conn) (*Client, error) {
	conn.SetReadDeadline(time.Now().Add(handshakeTimeout))

	challenge, err := NewEvent(EventConnectChallenge, map[string]any{
		"nonce": uuid.New().String(),
		"ts":    time.Now().UnixMilli(),
	}, 0)
	if err != nil {
		return nil, fmt.Errorf("creating challenge: %w", err)
	}
	if err := conn.WriteJSON(challenge); err != nil {
		return nil, fmt.Errorf("sending challenge: %w", err)
	}

	_, msg, err := conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("reading connect: %w", err)
	}

	frame, err := ParseFrame(msg)
	if err != nil || frame.Method != "connect" {
		sendErrorAndClose(conn, frame.ID, CodeProtocol, "expected connect request")
		return nil, fmt.Errorf("expected connect request, got type=%s method=%s", frame.Type, frame.Method)
	}

	var params ConnectParams
	if err := json.Unmarshal(frame.Params, &params); err != nil {
		sendErrorAndClose(conn, frame.ID, CodeInvalidParams, "invalid connect params")
		return nil, fmt.Errorf("parsing connect params: %w", err)
	}
	if !params.Supports(ProtocolVersion) {
		sendErrorAndClose(conn, frame.ID, CodeUnsupported,
			fmt.Sprintf("server speaks protocol %d", ProtocolVersion))
		return nil, fmt.Errorf("client protocol range %d-%d excludes %d", params.MinProtocol, params.MaxProtocol, ProtocolVersion)
	}

	authResult := Authorize(s.auth, params.Auth)
	if !authResult.OK {
		sendErrorAndClose(conn, frame.ID, CodeUnauthorized, authResult.Reason)
		return nil, fmt.Errorf("auth failed: %s", authResult.Reason)
	}

	conn.SetReadDeadline(time.Time{})
	client := NewClient(conn, params.Client, authResult, s.log.Sub("ws"))

	hello := HelloOK{
		Protocol: ProtocolVersion,
		Server: ServerInfo{
			Version: s.version,
			Commit:  version.Commit,
			ConnID:  client.ConnID,
		},
		Reviewer: client.Reviewer(),
		Features: Features{
			Methods: s.Methods(),
			Events:  BroadcastEvents(),
		},
		Policy: ServerPolicy{
			MaxPayload:     maxPayload,
			WriteTimeoutMs: int(writeWait / time.Millisecond),
			PingIntervalMs: int(pingPeriod / time.Millisecond),
		},
	}
	resp, err := NewResponse(frame.ID, hello)
	if err != nil {
		return nil, fmt.Errorf("creating hello response: %w", err)
	}
	if err := conn.WriteJSON(resp); err != nil {
		return nil, fmt.Errorf("sending hello: %w", err)
	}

	s.log.Info().
		Str("connId", client.ConnID).
		Str("reviewer", client.Reviewer()).
		Str("clientVersion", params.Client.Version).
		Str("authMethod", authResult.Method).
		Msg("reviewer authenticated")
	return client, nil
}

// readLoop dispatches requests until the client goes away. A client that
// stops answering pings is dropped after pongWait.
func (s *Server) readLoop(ctx context.Context, client *Client) {
	conn := client.Socket
	extend := func(string) error { return conn.SetReadDeadline(time.Now().Add(pongWait)) }
	_ = extend("")
	conn.SetPongHandler(extend)

	done := make(chan struct{})
	defer close(done)
	go s.keepAlive(client, done)

	for {
		frame, err := client.ReadFrame()
		if errors.Is(err, ErrMalformedFrame) {
			client.RespondError(frame.ID, ErrorShape{Code: CodeProtocol, Message: err.Error()})
			continue
		}
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug().Str("connId", client.ConnID).Msg("reviewer closed connection")
			} else {
				s.log.Warn().Err(err).Str("connId", client.ConnID).Msg("read error")
			}
			return
		}
		_ = extend("")

		if frame.Type != FrameTypeRequest {
			s.log.Debug().Str("type", frame.Type).Msg("ignoring non-request frame")
			continue
		}
		s.dispatch(ctx, client, frame)
	}
}

func (s *Server) keepAlive(client *Client, done <-chan struct{}) {
	t := time.NewTicker(pingPeriod)
	defer t.Stop()
	for {
		select {
		case <-done:
			return
		case <-t.C:
			if err := client.Ping(); err != nil {
				s.log.Debug().Err(err).Str("connId", client.ConnID).Msg("ping failed")
				return
			}
		}
	}
}

// dispatch runs the handler for a request frame.
func (s *Server) dispatch(ctx context.Context, client *Client, frame Frame) {
	handler, ok := s.handlers[frame.Method]
	if !ok {
		client.RespondError(frame.ID, ErrorShape{
			Code:    CodeMethodNotFound,
			Message: "unknown method: " + frame.Method,
		})
		return
	}

	handler(&RequestContext{
		Ctx:    withReviewer(ctx, client.Reviewer()),
		Client: client,
		Frame:  frame,
		Server: s,
	})
}

// sendErrorAndClose answers a failed handshake and closes the socket.
func sendErrorAndClose(conn *websocket.Conn, reqID, code, message string) {
	conn.WriteJSON(NewErrorResponse(reqID, ErrorShape{Code: code, Message: message}))
	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, message))
}
