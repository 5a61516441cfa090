package gateway

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/soyeahso/mailroom/internal/domain"
)

// ProtocolVersion is the review protocol spoken over /ws.
const ProtocolVersion = 1

// Frame types.
const (
	FrameTypeRequest  = "req"
	FrameTypeResponse = "res"
	FrameTypeEvent    = "event"
)

// Events pushed to reviewers.
const (
	EventConnectChallenge = "connect.challenge"
	EventThreadSuspended  = "thread.suspended"
	EventThreadCompleted  = "thread.completed"
	EventThreadFailed     = "thread.failed"
	EventMemoryUpdated    = "memory.updated"
)

// Error codes carried in ErrorShape.Code on both the REST and RPC surfaces.
const (
	CodeInvalidParams  = "invalid_params"
	CodeNotFound       = "not_found"
	CodeConflict       = "conflict"
	CodeThreadFailed   = "thread_failed"
	CodeTimeout        = "timeout"
	CodeUnavailable    = "unavailable"
	CodeForbidden      = "forbidden"
	CodeUnauthorized   = "unauthorized"
	CodeRateLimited    = "rate_limited"
	CodeInternal       = "internal"
	CodeProtocol       = "protocol_error"
	CodeUnsupported    = "protocol_unsupported"
	CodeMethodNotFound = "method_not_found"
)

// ErrMalformedFrame is returned by ParseFrame for frames missing the fields
// their type requires.
var ErrMalformedFrame = errors.New("malformed frame")

// Frame is the envelope of every WebSocket message. Type selects which of
// the request, response and event fields are meaningful.
type Frame struct {
	Type string `json:"type"`

	ID     string          `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`

	OK      *bool           `json:"ok,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   *ErrorShape     `json:"error,omitempty"`

	Event string `json:"event,omitempty"`
	Seq   int64  `json:"seq,omitempty"`
}

// ParseFrame decodes a frame and checks the fields its type requires.
func ParseFrame(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	switch f.Type {
	case FrameTypeRequest:
		if f.ID == "" || f.Method == "" {
			return f, fmt.Errorf("%w: request needs id and method", ErrMalformedFrame)
		}
	case FrameTypeResponse:
		if f.ID == "" || f.OK == nil {
			return f, fmt.Errorf("%w: response needs id and ok", ErrMalformedFrame)
		}
	case FrameTypeEvent:
		if f.Event == "" {
			return f, fmt.Errorf("%w: event needs a name", ErrMalformedFrame)
		}
	default:
		return f, fmt.Errorf("%w: unknown type %q", ErrMalformedFrame, f.Type)
	}
	return f, nil
}

// ErrorShape is the error body of REST responses and failed RPC frames.
// Details carries the failed thread outcome when there is one.
type ErrorShape struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Details    any    `json:"details,omitempty"`
	Retryable  bool   `json:"retryable,omitempty"`
	RetryAfter int    `json:"retryAfterMs,omitempty"`
}

// ConnectParams open a reviewer session. Zero protocol bounds accept any
// version.
type ConnectParams struct {
	MinProtocol int          `json:"minProtocol"`
	MaxProtocol int          `json:"maxProtocol"`
	Client      ClientInfo   `json:"client"`
	Auth        *ConnectAuth `json:"auth,omitempty"`
}

// Supports reports whether the client accepts protocol version v.
func (p ConnectParams) Supports(v int) bool {
	if p.MinProtocol > 0 && v < p.MinProtocol {
		return false
	}
	if p.MaxProtocol > 0 && v > p.MaxProtocol {
		return false
	}
	return true
}

// ClientInfo describes the reviewer's client. DisplayName, then ID, names
// the reviewer when no reviewer token identifies them.
type ClientInfo struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName,omitempty"`
	Version     string `json:"version"`
	Platform    string `json:"platform"`
	Mode        string `json:"mode"` // "cli", "ui" or "bot"
	InstanceID  string `json:"instanceId,omitempty"`
}

// ConnectAuth carries the gateway secret or a reviewer token.
type ConnectAuth struct {
	Token    string `json:"token,omitempty"`
	Password string `json:"password,omitempty"`
}

// HelloOK answers a successful connect.
type HelloOK struct {
	Protocol int          `json:"protocol"`
	Server   ServerInfo   `json:"server"`
	Reviewer string       `json:"reviewer"`
	Features Features     `json:"features"`
	Policy   ServerPolicy `json:"policy"`
}

type ServerInfo struct {
	Version string `json:"version"`
	Commit  string `json:"commit,omitempty"`
	ConnID  string `json:"connId"`
}

// Features lists the RPC methods and events of this gateway.
type Features struct {
	Methods []string `json:"methods"`
	Events  []string `json:"events"`
}

// ServerPolicy states the limits the gateway enforces on a connection.
type ServerPolicy struct {
	MaxPayload     int `json:"maxPayload"`
	WriteTimeoutMs int `json:"writeTimeoutMs"`
	PingIntervalMs int `json:"pingIntervalMs"`
}

// NewRequest builds a request frame.
func NewRequest(id, method string, params any) (Frame, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return Frame{}, fmt.Errorf("encoding %s params: %w", method, err)
	}
	return Frame{Type: FrameTypeRequest, ID: id, Method: method, Params: raw}, nil
}

// NewResponse builds a successful response frame.
func NewResponse(id string, payload any) (Frame, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, fmt.Errorf("encoding response: %w", err)
	}
	ok := true
	return Frame{Type: FrameTypeResponse, ID: id, OK: &ok, Payload: raw}, nil
}

// NewErrorResponse builds a failed response frame.
func NewErrorResponse(id string, e ErrorShape) Frame {
	ok := false
	return Frame{Type: FrameTypeResponse, ID: id, OK: &ok, Error: &e}
}

// NewEvent builds an event frame.
func NewEvent(event string, payload any, seq int64) (Frame, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, fmt.Errorf("encoding %s payload: %w", event, err)
	}
	return Frame{Type: FrameTypeEvent, Event: event, Payload: raw, Seq: seq}, nil
}

// StartParams start a thread for an inbound email. An empty ThreadID gets
// a generated one.
type StartParams struct {
	ThreadID string       `json:"threadId,omitempty"`
	Email    domain.Email `json:"email"`
}

// ThreadParams address a single thread.
type ThreadParams struct {
	ThreadID string `json:"threadId"`
}

// ResumeParams carry a reviewer verdict for a suspended thread.
type ResumeParams struct {
	ThreadID string                   `json:"threadId"`
	Response domain.InterruptResponse `json:"response"`
}

// ListParams filter thread.list.
type ListParams struct {
	Status domain.Status `json:"status,omitempty"`
	Limit  int           `json:"limit,omitempty"`
}

// SubscribeParams narrow the thread events a connection receives. "*"
// selects every thread.
type SubscribeParams struct {
	ThreadIDs []string `json:"threadIds"`
}

// SubscribeResult lists a connection's subscriptions after a change. An
// empty list means every thread.
type SubscribeResult struct {
	Subscriptions []string `json:"subscriptions"`
}

// MemoryParams select a preference category. An empty category returns
// every stored record.
type MemoryParams struct {
	Category string `json:"category,omitempty"`
}
