package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/soyeahso/mailroom/internal/config"
)

func TestSafeEqual(t *testing.T) {
	assert.True(t, safeEqual("secret", "secret"))
	assert.True(t, safeEqual("", ""))
	assert.False(t, safeEqual("secret", "secreT"))
	assert.False(t, safeEqual("short", "longer-secret"))
	assert.False(t, safeEqual("", "secret"))
}

func TestResolveAuth(t *testing.T) {
	tests := []struct {
		name             string
		cfg              config.GatewayAuth
		envToken, envPw  string
		wantMode         string
		wantToken        string
		wantPassword     string
		wantReviewerSeen int
	}{
		{name: "token from config", cfg: config.GatewayAuth{Mode: "token", Token: "t"}, wantMode: "token", wantToken: "t"},
		{name: "password from config", cfg: config.GatewayAuth{Mode: "password", Password: "p"}, wantMode: "password", wantPassword: "p"},
		{name: "defaults to token mode", wantMode: "token"},
		{name: "password implies password mode", cfg: config.GatewayAuth{Password: "p"}, wantMode: "password", wantPassword: "p"},
		{name: "token from env", envToken: "env-t", wantMode: "token", wantToken: "env-t"},
		{name: "password from env", envPw: "env-p", wantMode: "password", wantPassword: "env-p"},
		{name: "config beats env", cfg: config.GatewayAuth{Token: "cfg"}, envToken: "env", wantMode: "token", wantToken: "cfg"},
		{
			name: "incomplete reviewers are dropped",
			cfg: config.GatewayAuth{Reviewers: []config.ReviewerCredential{
				{Name: "dana", Token: "d"}, {Name: "no-token"}, {Token: "no-name"},
			}},
			wantMode:         "token",
			wantReviewerSeen: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("MAILROOM_GATEWAY_TOKEN", tt.envToken)
			t.Setenv("MAILROOM_GATEWAY_PASSWORD", tt.envPw)

			got := ResolveAuth(tt.cfg)
			assert.Equal(t, tt.wantMode, got.Mode)
			assert.Equal(t, tt.wantToken, got.Token)
			assert.Equal(t, tt.wantPassword, got.Password)
			assert.Len(t, got.Reviewers, tt.wantReviewerSeen)
		})
	}
}

func TestAuthorize(t *testing.T) {
	reviewers := []config.ReviewerCredential{{Name: "dana", Token: "dana-token"}}

	tests := []struct {
		name         string
		server       ResolvedAuth
		client       *ConnectAuth
		wantOK       bool
		wantMethod   string
		wantReviewer string
		wantReason   string
	}{
		{"token", ResolvedAuth{Mode: "token", Token: "secret"}, &ConnectAuth{Token: "secret"}, true, "token", ownerReviewer, ""},
		{"token mismatch", ResolvedAuth{Mode: "token", Token: "secret"}, &ConnectAuth{Token: "wrong"}, false, "", "", "token_mismatch"},
		{"token missing", ResolvedAuth{Mode: "token", Token: "secret"}, &ConnectAuth{}, false, "", "", "token required"},
		{"server token unset", ResolvedAuth{Mode: "token"}, &ConnectAuth{Token: "x"}, false, "", "", "server token not configured"},
		{"password", ResolvedAuth{Mode: "password", Password: "pw"}, &ConnectAuth{Password: "pw"}, true, "password", ownerReviewer, ""},
		{"password mismatch", ResolvedAuth{Mode: "password", Password: "pw"}, &ConnectAuth{Password: "nope"}, false, "", "", "password_mismatch"},
		{"password missing", ResolvedAuth{Mode: "password", Password: "pw"}, &ConnectAuth{}, false, "", "", "password required"},
		{"server password unset", ResolvedAuth{Mode: "password"}, &ConnectAuth{Password: "x"}, false, "", "", "server password not configured"},
		{"nil credentials", ResolvedAuth{Mode: "token", Token: "secret"}, nil, false, "", "", "no credentials provided"},
		{"unknown mode", ResolvedAuth{Mode: "oauth"}, &ConnectAuth{Token: "x"}, false, "", "", "unknown auth mode: oauth"},
		{"reviewer token", ResolvedAuth{Mode: "token", Token: "secret", Reviewers: reviewers}, &ConnectAuth{Token: "dana-token"}, true, "reviewer", "dana", ""},
		{"reviewer token in password mode", ResolvedAuth{Mode: "password", Password: "pw", Reviewers: reviewers}, &ConnectAuth{Token: "dana-token"}, true, "reviewer", "dana", ""},
		{"reviewers only", ResolvedAuth{Mode: "token", Reviewers: reviewers}, &ConnectAuth{Token: "guess"}, false, "", "", "token_mismatch"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Authorize(tt.server, tt.client)
			assert.Equal(t, tt.wantOK, got.OK)
			assert.Equal(t, tt.wantMethod, got.Method)
			assert.Equal(t, tt.wantReviewer, got.Reviewer)
			assert.Equal(t, tt.wantReason, got.Reason)
		})
	}
}

func TestReviewerContext(t *testing.T) {
	assert.Empty(t, ReviewerFrom(context.Background()))
	assert.Equal(t, "dana", ReviewerFrom(withReviewer(context.Background(), "dana")))
}

// --- authRateLimiter tests ---

func TestAuthRateLimiter(t *testing.T) {
	limiter := newAuthRateLimiter()
	assert.True(t, limiter.allow("192.168.1.1:12345"))

	for i := 0; i < authRateMaxFails-1; i++ {
		limiter.recordFailure("192.168.1.1:12345")
	}
	assert.True(t, limiter.allow("192.168.1.1:12345"))

	limiter.recordFailure("192.168.1.1:54321")
	assert.False(t, limiter.allow("192.168.1.1:999"), "failures count per host, not per port")
	assert.True(t, limiter.allow("192.168.1.2:12345"))
}

func TestAuthRateLimiter_IPWithoutPort(t *testing.T) {
	limiter := newAuthRateLimiter()
	for i := 0; i < authRateMaxFails; i++ {
		limiter.recordFailure("192.168.1.1")
	}
	assert.False(t, limiter.allow("192.168.1.1"))
}

func TestAuthRateLimiter_ExpiredFailures(t *testing.T) {
	limiter := newAuthRateLimiter()

	limiter.mu.Lock()
	old := time.Now().Add(-authRateWindow - time.Minute)
	for i := 0; i < authRateMaxFails; i++ {
		limiter.failures["192.168.1.1"] = append(limiter.failures["192.168.1.1"], old)
	}
	limiter.mu.Unlock()

	assert.True(t, limiter.allow("192.168.1.1:12345"))
}

func TestAuthRateLimiter_PruneDropsStaleHosts(t *testing.T) {
	limiter := newAuthRateLimiter()
	limiter.recordFailure("10.0.0.1:1")
	limiter.recordFailure("10.0.0.2:1")

	limiter.prune(time.Now().Add(authRateWindow + time.Second))

	limiter.mu.Lock()
	defer limiter.mu.Unlock()
	assert.Empty(t, limiter.failures)
}

// --- bearerAuth tests ---

func TestBearerAuth(t *testing.T) {
	got := bearerAuth("Bearer s3cret")
	if assert.NotNil(t, got) {
		assert.Equal(t, "s3cret", got.Token)
		assert.Equal(t, "s3cret", got.Password)
	}
	assert.NotNil(t, bearerAuth("bearer s3cret"))
	assert.Nil(t, bearerAuth(""))
	assert.Nil(t, bearerAuth("Bearer "))
	assert.Nil(t, bearerAuth("Basic dXNlcjpwYXNz"))

	creds := bearerAuth("Bearer pw")
	assert.True(t, Authorize(ResolvedAuth{Mode: "token", Token: "pw"}, creds).OK)
	assert.True(t, Authorize(ResolvedAuth{Mode: "password", Password: "pw"}, creds).OK)
	assert.False(t, Authorize(ResolvedAuth{Mode: "token", Token: "other"}, creds).OK)
}

// --- checkWebSocketOrigin tests ---

func TestCheckWebSocketOrigin(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    bool
	}{
		{"no origin header", nil, "", true},
		{"unconfigured denies browsers", nil, "http://evil.com", false},
		{"wildcard", []string{"*"}, "http://anything.com", true},
		{"listed", []string{"http://one.com", "http://two.com"}, "http://two.com", true},
		{"unlisted", []string{"http://one.com", "http://two.com"}, "http://three.com", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/ws", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.want, checkWebSocketOrigin(tt.allowed)(req))
		})
	}
}
