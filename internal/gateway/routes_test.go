package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/soyeahso/mailroom/internal/agent"
	"github.com/soyeahso/mailroom/internal/domain"
	"github.com/soyeahso/mailroom/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- isAllowedConfigPath tests ---

func TestIsAllowedConfigPath(t *testing.T) {
	tests := []struct {
		path     string
		expected bool
	}{
		{"gateway.port", true},
		{"gateway.bind", true},
		{"gateway.customBindHost", true},
		{"logging", true},
		{"logging.level", true},
		{"storage.backend", true},
		{"model.provider", true},
		{"model.name", true},
		{"workflow", true},
		{"workflow.mode", true},
		{"mailbox.kind", true},
		{"mailbox.pollSeconds", true},
		{"queue.workers", true},
		{"gateway.auth", false},
		{"gateway.auth.token", false},
		{"gateway.auth.password", false},
		{"gateway.tls.keyPath", false},
		{"storage.postgresDsn", false},
		{"model.apiKey", false},
		{"mailbox.imap.password", false},
		{"mailbox.gmail.tokenFile", false},
		{"notify.irc.password", false},
		{"workflowx", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.expected, isAllowedConfigPath(tt.path))
		})
	}
}

// --- RPC surface tests ---

func TestServerMethods(t *testing.T) {
	f := newFixture(t)

	assert.ElementsMatch(t, []string{
		"health", "config.get",
		"thread.start", "thread.get", "thread.list", "thread.interrupt", "thread.resume",
		"thread.continue", "thread.subscribe", "thread.unsubscribe", "memory.get",
	}, f.srv.Methods())
}

func TestConfigGet(t *testing.T) {
	f := newFixture(t)
	conn := authenticatedConn(t, f)

	resp, _ := rpc(t, conn, "c1", "config.get", configGetParams{Key: "gateway.port"})
	require.True(t, *resp.OK)
	result := decode[map[string]any](t, resp.Payload)
	assert.Equal(t, "gateway.port", result["key"])
	assert.Equal(t, float64(18790), result["value"])

	tests := []struct {
		key  string
		code string
	}{
		{"gateway.auth.token", "forbidden"},
		{"gateway.tls.keyPath", "forbidden"},
		{"", "invalid_params"},
		{"logging.nonexistent", "not_found"},
	}
	for _, tt := range tests {
		resp, _ := rpc(t, conn, "c-"+tt.code, "config.get", configGetParams{Key: tt.key})
		require.NotNil(t, resp.Error, tt.key)
		assert.Equal(t, tt.code, resp.Error.Code, tt.key)
	}
}

func TestConfigSetIsNotExposed(t *testing.T) {
	f := newFixture(t)
	conn := authenticatedConn(t, f)

	resp, _ := rpc(t, conn, "c9", "config.set", map[string]any{"key": "logging.level", "value": "debug"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, "method_not_found", resp.Error.Code)
}

// --- classify tests ---

func TestClassify(t *testing.T) {
	failed := &agent.Outcome{ThreadID: "t", Status: domain.StatusFailed}
	tests := []struct {
		name   string
		out    *agent.Outcome
		err    error
		status int
		code   string
	}{
		{"not found", nil, fmt.Errorf("loading thread t: %w", store.ErrNotFound), http.StatusNotFound, "not_found"},
		{"not suspended", nil, fmt.Errorf("%w: t", agent.ErrNotSuspended), http.StatusConflict, "conflict"},
		{"exists", nil, fmt.Errorf("%w: t", agent.ErrThreadExists), http.StatusConflict, "conflict"},
		{"closed", nil, fmt.Errorf("%w: t", agent.ErrThreadClosed), http.StatusConflict, "conflict"},
		{"fatal", failed, domain.Fatalf(domain.FatalTool, "unknown tool"), http.StatusUnprocessableEntity, "thread_failed"},
		{"timeout", nil, context.DeadlineExceeded, http.StatusGatewayTimeout, "timeout"},
		{"transient", nil, errors.New("model unavailable"), http.StatusServiceUnavailable, "unavailable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := classify(tt.out, tt.err)
			assert.Equal(t, tt.status, e.Status)
			assert.Equal(t, tt.code, e.Code)

			shape := e.shape()
			assert.Equal(t, tt.err.Error(), shape.Message)
			assert.Equal(t, tt.status >= 503 || tt.status == http.StatusGatewayTimeout, shape.Retryable)
		})
	}
	assert.Equal(t, failed, classify(failed, errors.New("x")).shape().Details)
}
