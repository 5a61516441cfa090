package gateway

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/soyeahso/mailroom/internal/agent"
	"github.com/soyeahso/mailroom/internal/config"
	"github.com/soyeahso/mailroom/internal/domain"
	"github.com/soyeahso/mailroom/internal/store"
)

// safeConfigPrefixes lists config paths readable over RPC. Credentials
// live outside these prefixes.
var safeConfigPrefixes = []string{
	"gateway.port",
	"gateway.bind",
	"gateway.customBindHost",
	"logging",
	"storage.backend",
	"model.provider",
	"model.name",
	"workflow",
	"mailbox.kind",
	"mailbox.maxFetch",
	"mailbox.pollSeconds",
	"queue",
}

func isAllowedConfigPath(key string) bool {
	for _, prefix := range safeConfigPrefixes {
		if key == prefix || strings.HasPrefix(key, prefix+".") {
			return true
		}
	}
	return false
}

// runTimeout bounds a single start, resume or continue, which drive the
// workflow inline through model calls and tools. Runs are detached from
// the caller so a dropped connection never strands a thread mid-step.
const runTimeout = 5 * time.Minute

// registerHTTPRoutes sets up all HTTP routes on the server mux.
func (s *Server) registerHTTPRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ws", s.handleWebSocket)

	mux.Handle("POST /api/threads", s.requireAuth(s.handleStartThread))
	mux.Handle("GET /api/threads", s.requireAuth(s.handleListThreads))
	mux.Handle("GET /api/threads/{id}", s.requireAuth(s.handleGetThread))
	mux.Handle("GET /api/threads/{id}/interrupt", s.requireAuth(s.handleGetInterrupt))
	mux.Handle("POST /api/threads/{id}/resume", s.requireAuth(s.handleResumeThread))
	mux.Handle("POST /api/threads/{id}/continue", s.requireAuth(s.handleContinueThread))
	mux.Handle("GET /api/memory", s.requireAuth(s.handleListMemory))
	mux.Handle("GET /api/memory/{category}", s.requireAuth(s.handleGetMemory))

	mux.HandleFunc("/", handleNotFound)
}

// registerRPCHandlers sets up all JSON-RPC method handlers.
func (s *Server) registerRPCHandlers() {
	s.Handle("health", s.rpcHealth)
	s.Handle("config.get", s.rpcConfigGet)
	s.Handle("thread.start", s.rpcThreadStart)
	s.Handle("thread.get", s.rpcThreadGet)
	s.Handle("thread.list", s.rpcThreadList)
	s.Handle("thread.interrupt", s.rpcThreadInterrupt)
	s.Handle("thread.resume", s.rpcThreadResume)
	s.Handle("thread.continue", s.rpcThreadContinue)
	s.Handle("thread.subscribe", s.rpcThreadSubscribe)
	s.Handle("thread.unsubscribe", s.rpcThreadUnsubscribe)
	s.Handle("memory.get", s.rpcMemoryGet)
}

// apiError is a classified failure of a thread or memory operation.
type apiError struct {
	Status  int
	Code    string
	Message string
	Outcome *agent.Outcome // set when the thread was archived as failed
}

// classify maps runner and store errors onto HTTP statuses and RPC codes.
func classify(out *agent.Outcome, err error) *apiError {
	e := &apiError{Message: err.Error(), Outcome: out}
	switch {
	case errors.Is(err, store.ErrNotFound):
		e.Status, e.Code = http.StatusNotFound, CodeNotFound
	case errors.Is(err, agent.ErrNotSuspended),
		errors.Is(err, agent.ErrThreadExists),
		errors.Is(err, agent.ErrThreadClosed):
		e.Status, e.Code = http.StatusConflict, CodeConflict
	case out != nil || domain.IsFatal(err):
		e.Status, e.Code = http.StatusUnprocessableEntity, CodeThreadFailed
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		e.Status, e.Code = http.StatusGatewayTimeout, CodeTimeout
	default:
		e.Status, e.Code = http.StatusServiceUnavailable, CodeUnavailable
	}
	return e
}

func (e *apiError) shape() ErrorShape {
	sh := ErrorShape{Code: e.Code, Message: e.Message}
	if e.Outcome != nil {
		sh.Details = e.Outcome
	}
	sh.Retryable = e.Status == http.StatusServiceUnavailable || e.Status == http.StatusGatewayTimeout
	return sh
}

func invalid(msg string) *apiError {
	return &apiError{Status: http.StatusBadRequest, Code: CodeInvalidParams, Message: msg}
}

// Operations shared by the REST and RPC surfaces.

func (s *Server) startThread(ctx context.Context, p StartParams) (*agent.Outcome, *apiError) {
	if err := p.Email.Validate(); err != nil {
		return nil, invalid(err.Error())
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), runTimeout)
	defer cancel()
	out, err := s.threads.Start(ctx, p.ThreadID, p.Email)
	if err != nil {
		return nil, classify(out, err)
	}
	return out, nil
}

func (s *Server) resumeThread(ctx context.Context, id string, resp domain.InterruptResponse) (*agent.Outcome, *apiError) {
	if id == "" {
		return nil, invalid("threadId is required")
	}
	if resp.Type == "" {
		return nil, invalid("response type is required")
	}
	s.log.Info().
		Str("thread", id).
		Str("verdict", string(resp.Type)).
		Str("reviewer", ReviewerFrom(ctx)).
		Msg("verdict submitted")

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), runTimeout)
	defer cancel()
	out, err := s.threads.Resume(ctx, id, resp)
	if err != nil {
		return nil, classify(out, err)
	}
	return out, nil
}

// continueThread re-drives a thread left running by an interrupted run.
func (s *Server) continueThread(ctx context.Context, id string) (*agent.Outcome, *apiError) {
	if id == "" {
		return nil, invalid("threadId is required")
	}
	s.log.Info().
		Str("thread", id).
		Str("reviewer", ReviewerFrom(ctx)).
		Msg("continue requested")

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), runTimeout)
	defer cancel()
	out, err := s.threads.Continue(ctx, id)
	if err != nil {
		return nil, classify(out, err)
	}
	return out, nil
}

func (s *Server) getThread(ctx context.Context, id string) (*domain.ConversationState, *apiError) {
	if id == "" {
		return nil, invalid("threadId is required")
	}
	st, err := s.threads.Get(ctx, id)
	if err != nil {
		return nil, classify(nil, err)
	}
	return st, nil
}

func (s *Server) interruptOf(ctx context.Context, id string) ([]domain.InterruptRequest, *apiError) {
	if id == "" {
		return nil, invalid("threadId is required")
	}
	req, err := s.threads.Interrupt(ctx, id)
	if err != nil {
		e := classify(nil, err)
		if errors.Is(err, agent.ErrNotSuspended) {
			// A thread that is not waiting has no interrupt to show.
			e.Status, e.Code = http.StatusNotFound, CodeNotFound
		}
		return nil, e
	}
	return req, nil
}

func (s *Server) listThreads(ctx context.Context, p ListParams) ([]store.ThreadSummary, *apiError) {
	switch p.Status {
	case "", domain.StatusRunning, domain.StatusAwaitingReview, domain.StatusCompleted, domain.StatusFailed:
	default:
		return nil, invalid("unknown status " + string(p.Status))
	}
	list, err := s.threads.List(ctx, store.ListFilter{Status: p.Status, Limit: p.Limit})
	if err != nil {
		return nil, classify(nil, err)
	}
	if list == nil {
		list = []store.ThreadSummary{}
	}
	return list, nil
}

// memoryView is one preference category as returned by the API.
type memoryView struct {
	Namespace string `json:"namespace"`
	Text      string `json:"text"`
}

func (s *Server) memoryOf(ctx context.Context, category string) (any, *apiError) {
	if s.memory == nil {
		return nil, &apiError{Status: http.StatusServiceUnavailable, Code: CodeUnavailable, Message: "memory store not configured"}
	}
	if category == "" {
		records, err := s.memory.List(ctx)
		if err != nil {
			return nil, classify(nil, err)
		}
		if records == nil {
			records = []store.MemoryRecord{}
		}
		return map[string]any{"records": records}, nil
	}
	c, err := domain.ParseCategory(category)
	if err != nil {
		return nil, &apiError{Status: http.StatusNotFound, Code: CodeNotFound, Message: err.Error()}
	}
	ns := domain.NS(c)
	text, err := s.memory.Get(ctx, ns, agent.DefaultPreferences(c))
	if err != nil {
		return nil, classify(nil, err)
	}
	return memoryView{Namespace: ns.String(), Text: text}, nil
}

// RPC handlers

func (s *Server) rpcHealth(rc *RequestContext) {
	rc.Respond(HealthResponse{
		Status:  "ok",
		Version: s.version,
		Clients: s.clients.Count(),
		Uptime:  time.Since(s.startedAt).Round(time.Second).String(),
	})
}

type configGetParams struct {
	Key string `json:"key"`
}

func (s *Server) rpcConfigGet(rc *RequestContext) {
	var p configGetParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError(CodeInvalidParams, err.Error())
		return
	}
	if p.Key == "" {
		rc.RespondError(CodeInvalidParams, "key is required")
		return
	}
	if !isAllowedConfigPath(p.Key) {
		rc.RespondError(CodeForbidden, "access denied for config path: "+p.Key)
		return
	}

	path, err := config.ParseConfigPath(p.Key)
	if err != nil {
		rc.RespondError(CodeInvalidParams, err.Error())
		return
	}

	s.mu.RLock()
	val, ok := config.GetValueAtPath(s.configRaw, path)
	s.mu.RUnlock()
	if !ok {
		rc.RespondError(CodeNotFound, "key not found: "+p.Key)
		return
	}
	rc.Respond(map[string]any{"key": p.Key, "value": val})
}

func (s *Server) rpcThreadStart(rc *RequestContext) {
	var p StartParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError(CodeInvalidParams, err.Error())
		return
	}
	out, e := s.startThread(rc.Ctx, p)
	rc.Reply(out, e)
}

func (s *Server) rpcThreadResume(rc *RequestContext) {
	var p ResumeParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError(CodeInvalidParams, err.Error())
		return
	}
	out, e := s.resumeThread(rc.Ctx, p.ThreadID, p.Response)
	rc.Reply(out, e)
}

func (s *Server) rpcThreadContinue(rc *RequestContext) {
	var p ThreadParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError(CodeInvalidParams, err.Error())
		return
	}
	out, e := s.continueThread(rc.Ctx, p.ThreadID)
	rc.Reply(out, e)
}

func (s *Server) rpcThreadGet(rc *RequestContext) {
	var p ThreadParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError(CodeInvalidParams, err.Error())
		return
	}
	st, e := s.getThread(rc.Ctx, p.ThreadID)
	rc.Reply(st, e)
}

func (s *Server) rpcThreadInterrupt(rc *RequestContext) {
	var p ThreadParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError(CodeInvalidParams, err.Error())
		return
	}
	req, e := s.interruptOf(rc.Ctx, p.ThreadID)
	rc.Reply(req, e)
}

func (s *Server) rpcThreadList(rc *RequestContext) {
	var p ListParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError(CodeInvalidParams, err.Error())
		return
	}
	list, e := s.listThreads(rc.Ctx, p)
	if e != nil {
		rc.Reply(nil, e)
		return
	}
	rc.Respond(map[string]any{"threads": list})
}

func (s *Server) rpcThreadSubscribe(rc *RequestContext) {
	var p SubscribeParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError(CodeInvalidParams, err.Error())
		return
	}
	if len(p.ThreadIDs) == 0 {
		rc.RespondError(CodeInvalidParams, "threadIds is required")
		return
	}
	rc.Client.Subscribe(p.ThreadIDs...)
	rc.Respond(SubscribeResult{Subscriptions: rc.Client.Subscriptions()})
}

func (s *Server) rpcThreadUnsubscribe(rc *RequestContext) {
	var p SubscribeParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError(CodeInvalidParams, err.Error())
		return
	}
	rc.Client.Unsubscribe(p.ThreadIDs...)
	rc.Respond(SubscribeResult{Subscriptions: rc.Client.Subscriptions()})
}

func (s *Server) rpcMemoryGet(rc *RequestContext) {
	var p MemoryParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError(CodeInvalidParams, err.Error())
		return
	}
	v, e := s.memoryOf(rc.Ctx, p.Category)
	rc.Reply(v, e)
}
