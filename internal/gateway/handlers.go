package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/soyeahso/mailroom/internal/domain"
)

// HealthResponse is returned by health endpoints. The public HTTP endpoint
// only populates Status; the authenticated RPC handler populates all fields.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Clients int    `json:"clients,omitempty"`
	Uptime  string `json:"uptime,omitempty"`
}

// handleHealth returns the server health status. Only status is exposed
// publicly; detailed info is available via the authenticated RPC health method.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// handleNotFound returns a 404 for unknown routes.
func handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, map[string]string{
		"error": "not found",
		"path":  r.URL.Path,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeAPIError(w http.ResponseWriter, e *apiError) {
	writeJSON(w, e.Status, e.shape())
}

// reply writes v, or e when the operation failed.
func reply(w http.ResponseWriter, v any, e *apiError) {
	if e != nil {
		writeAPIError(w, e)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func decodeBody(w http.ResponseWriter, r *http.Request, target any) *apiError {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxPayload))
	if err := dec.Decode(target); err != nil {
		return invalid("invalid request body: " + err.Error())
	}
	return nil
}

func (s *Server) handleStartThread(w http.ResponseWriter, r *http.Request) {
	var p StartParams
	if e := decodeBody(w, r, &p); e != nil {
		writeAPIError(w, e)
		return
	}
	out, e := s.startThread(r.Context(), p)
	reply(w, out, e)
}

func (s *Server) handleListThreads(w http.ResponseWriter, r *http.Request) {
	p := ListParams{Status: domain.Status(r.URL.Query().Get("status"))}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeAPIError(w, invalid("limit must be a non-negative integer"))
			return
		}
		p.Limit = n
	}
	list, e := s.listThreads(r.Context(), p)
	reply(w, list, e)
}

func (s *Server) handleGetThread(w http.ResponseWriter, r *http.Request) {
	st, e := s.getThread(r.Context(), r.PathValue("id"))
	reply(w, st, e)
}

func (s *Server) handleGetInterrupt(w http.ResponseWriter, r *http.Request) {
	req, e := s.interruptOf(r.Context(), r.PathValue("id"))
	reply(w, req, e)
}

func (s *Server) handleResumeThread(w http.ResponseWriter, r *http.Request) {
	var resp domain.InterruptResponse
	if e := decodeBody(w, r, &resp); e != nil {
		writeAPIError(w, e)
		return
	}
	out, e := s.resumeThread(r.Context(), r.PathValue("id"), resp)
	reply(w, out, e)
}

func (s *Server) handleContinueThread(w http.ResponseWriter, r *http.Request) {
	out, e := s.continueThread(r.Context(), r.PathValue("id"))
	reply(w, out, e)
}

func (s *Server) handleListMemory(w http.ResponseWriter, r *http.Request) {
	v, e := s.memoryOf(r.Context(), "")
	reply(w, v, e)
}

func (s *Server) handleGetMemory(w http.ResponseWriter, r *http.Request) {
	v, e := s.memoryOf(r.Context(), r.PathValue("category"))
	reply(w, v, e)
}

// RequestHandler processes an incoming RPC request frame from a client.
type RequestHandler func(ctx *RequestContext)

// RequestContext carries everything a handler needs.
type RequestContext struct {
	Ctx    context.Context
	Client *Client
	Frame  Frame
	Server *Server
}

// Respond sends a success response.
func (rc *RequestContext) Respond(payload any) {
	if err := rc.Client.Respond(rc.Frame.ID, payload); err != nil {
		rc.Server.log.Warn().Err(err).Str("method", rc.Frame.Method).Msg("failed to send response")
	}
}

// RespondError sends an error response.
func (rc *RequestContext) RespondError(code, message string) {
	rc.Client.RespondError(rc.Frame.ID, ErrorShape{
		Code:    code,
		Message: message,
	})
}

// Reply responds with payload, or with e when the operation failed.
func (rc *RequestContext) Reply(payload any, e *apiError) {
	if e != nil {
		rc.Client.RespondError(rc.Frame.ID, e.shape())
		return
	}
	rc.Respond(payload)
}

// Params unmarshals the request params into the given target.
func (rc *RequestContext) Params(target any) error {
	if rc.Frame.Params == nil {
		return nil
	}
	return json.Unmarshal(rc.Frame.Params, target)
}
