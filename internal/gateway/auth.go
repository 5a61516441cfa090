package gateway

import (
	"context"
	"crypto/subtle"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/soyeahso/mailroom/internal/config"
)

// ownerReviewer is the name verdicts are attributed to when the shared
// gateway secret was used.
const ownerReviewer = "owner"

const authMethodReviewer = "reviewer"

// AuthResult is the outcome of an authentication attempt.
type AuthResult struct {
	OK       bool   `json:"ok"`
	Method   string `json:"method,omitempty"` // "token" | "password" | "reviewer"
	Reviewer string `json:"reviewer,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// ResolvedAuth holds the resolved auth configuration for the gateway.
type ResolvedAuth struct {
	Mode      string
	Token     string
	Password  string
	Reviewers []config.ReviewerCredential
}

// ResolveAuth resolves authentication credentials from config and environment.
// Precedence: config value → env variable → empty.
func ResolveAuth(cfg config.GatewayAuth) ResolvedAuth {
	auth := ResolvedAuth{Mode: cfg.Mode, Token: cfg.Token, Password: cfg.Password}
	if auth.Token == "" {
		auth.Token = os.Getenv("MAILROOM_GATEWAY_TOKEN")
	}
	if auth.Password == "" {
		auth.Password = os.Getenv("MAILROOM_GATEWAY_PASSWORD")
	}
	for _, r := range cfg.Reviewers {
		if r.Name != "" && r.Token != "" {
			auth.Reviewers = append(auth.Reviewers, r)
		}
	}

	if auth.Mode == "" {
		if auth.Password != "" {
			auth.Mode = "password"
		} else {
			auth.Mode = "token"
		}
	}
	return auth
}

// Authorize checks the provided ConnectAuth against the resolved server
// auth. Reviewer tokens are tried before the shared secret of the mode.
func Authorize(serverAuth ResolvedAuth, clientAuth *ConnectAuth) AuthResult {
	if clientAuth == nil {
		return AuthResult{Reason: "no credentials provided"}
	}
	if clientAuth.Token != "" {
		for _, r := range serverAuth.Reviewers {
			if safeEqual(clientAuth.Token, r.Token) {
				return AuthResult{OK: true, Method: authMethodReviewer, Reviewer: r.Name}
			}
		}
	}

	var secret, offered string
	switch serverAuth.Mode {
	case "token":
		secret, offered = serverAuth.Token, clientAuth.Token
	case "password":
		secret, offered = serverAuth.Password, clientAuth.Password
	default:
		return AuthResult{Reason: "unknown auth mode: " + serverAuth.Mode}
	}

	switch {
	case secret == "" && len(serverAuth.Reviewers) == 0:
		return AuthResult{Reason: "server " + serverAuth.Mode + " not configured"}
	case offered == "":
		return AuthResult{Reason: serverAuth.Mode + " required"}
	case secret == "" || !safeEqual(offered, secret):
		return AuthResult{Reason: serverAuth.Mode + "_mismatch"}
	}
	return AuthResult{OK: true, Method: serverAuth.Mode, Reviewer: ownerReviewer}
}

// safeEqual performs a constant-time string comparison. Length is compared
// with ConstantTimeEq so a mismatch does not return early.
func safeEqual(a, b string) bool {
	lenMatch := subtle.ConstantTimeEq(int32(len(a)), int32(len(b)))
	cmp := subtle.ConstantTimeCompare([]byte(a), []byte(b))
	return subtle.ConstantTimeSelect(lenMatch, cmp, 0) == 1
}

// bearerAuth extracts the credential of an "Authorization: Bearer ..."
// header. The same secret is accepted in token and password mode.
func bearerAuth(header string) *ConnectAuth {
	const prefix = "bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return nil
	}
	secret := strings.TrimSpace(header[len(prefix):])
	if secret == "" {
		return nil
	}
	return &ConnectAuth{Token: secret, Password: secret}
}

type reviewerKey struct{}

// withReviewer records the authenticated reviewer on a request context.
func withReviewer(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, reviewerKey{}, name)
}

// ReviewerFrom returns the reviewer a request was authenticated as.
func ReviewerFrom(ctx context.Context) string {
	name, _ := ctx.Value(reviewerKey{}).(string)
	return name
}

// authRateLimiter tracks failed auth attempts per IP to prevent brute-force attacks.
type authRateLimiter struct {
	mu       sync.Mutex
	failures map[string][]time.Time
}

const (
	authRateWindow   = 5 * time.Minute
	authRateMaxFails = 10
	authRateMaxIPs   = 10000 // max tracked IPs to prevent memory exhaustion
)

func newAuthRateLimiter() *authRateLimiter {
	return &authRateLimiter{failures: make(map[string][]time.Time)}
}

// run prunes stale entries every minute until ctx is done.
func (l *authRateLimiter) run(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			l.prune(now)
		}
	}
}

func (l *authRateLimiter) prune(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := now.Add(-authRateWindow)
	for ip, times := range l.failures {
		filtered := times[:0]
		for _, t := range times {
			if t.After(cutoff) {
				filtered = append(filtered, t)
			}
		}
		if len(filtered) == 0 {
			delete(l.failures, ip)
		} else {
			l.failures[ip] = filtered
		}
	}
}

func hostOf(remoteAddr string) string {
	host, _, _ := net.SplitHostPort(remoteAddr)
	if host == "" {
		return remoteAddr
	}
	return host
}

func (l *authRateLimiter) allow(remoteAddr string) bool {
	host := hostOf(remoteAddr)

	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := time.Now().Add(-authRateWindow)
	recent := l.failures[host]
	filtered := recent[:0]
	for _, t := range recent {
		if t.After(cutoff) {
			filtered = append(filtered, t)
		}
	}
	if len(filtered) == 0 {
		delete(l.failures, host)
		return true
	}
	l.failures[host] = filtered
	return len(filtered) < authRateMaxFails
}

func (l *authRateLimiter) recordFailure(remoteAddr string) {
	host := hostOf(remoteAddr)

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.failures[host]; !exists && len(l.failures) >= authRateMaxIPs {
		var oldestIP string
		var oldestTime time.Time
		for ip, times := range l.failures {
			if len(times) > 0 && (oldestIP == "" || times[0].Before(oldestTime)) {
				oldestIP = ip
				oldestTime = times[0]
			}
		}
		if oldestIP != "" {
			delete(l.failures, oldestIP)
		}
	}

	l.failures[host] = append(l.failures[host], time.Now())
}
