package mailbox

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/soyeahso/mailroom/internal/config"
)

// GoogleScopes are the OAuth scopes requested for the Gmail mailbox and
// the gmail toolset.
var GoogleScopes = []string{
	gmail.GmailReadonlyScope,
	gmail.GmailSendScope,
	gmail.GmailModifyScope,
	calendar.CalendarScope,
}

// OAuthConfig loads the OAuth client from the credentials file.
func OAuthConfig(cfg config.GmailConfig, paths config.Paths) (*oauth2.Config, error) {
	b, err := os.ReadFile(paths.GmailCredentials(cfg))
	if err != nil {
		return nil, fmt.Errorf("unable to read credentials file: %w", err)
	}
	oc, err := google.ConfigFromJSON(b, GoogleScopes...)
	if err != nil {
		return nil, fmt.Errorf("unable to parse credentials: %w", err)
	}
	return oc, nil
}

// GoogleHTTPClient returns an authorised client using the cached token.
func GoogleHTTPClient(ctx context.Context, cfg config.GmailConfig, paths config.Paths) (*http.Client, error) {
	oc, err := OAuthConfig(cfg, paths)
	if err != nil {
		return nil, err
	}
	tokenPath := paths.GmailToken(cfg)
	token, err := tokenFromFile(tokenPath)
	if err != nil {
		return nil, fmt.Errorf("no auth token found at %s - run 'mailroom auth gmail' first", tokenPath)
	}
	return oc.Client(ctx, token), nil
}

// NewGmailService creates a Gmail API service over an authorised client.
func NewGmailService(ctx context.Context, httpClient *http.Client, opts ...option.ClientOption) (*gmail.Service, error) {
	opts = append([]option.ClientOption{option.WithHTTPClient(httpClient)}, opts...)
	svc, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to create Gmail service: %w", err)
	}
	return svc, nil
}

// NewCalendarService creates a Calendar API service over an authorised
// client.
func NewCalendarService(ctx context.Context, httpClient *http.Client, opts ...option.ClientOption) (*calendar.Service, error) {
	opts = append([]option.ClientOption{option.WithHTTPClient(httpClient)}, opts...)
	svc, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to create Calendar service: %w", err)
	}
	return svc, nil
}

// Authorize runs the console OAuth flow and caches the token. It does
// nothing when a token is already cached.
func Authorize(ctx context.Context, cfg config.GmailConfig, paths config.Paths, in io.Reader, out io.Writer) (string, error) {
	tokenPath := paths.GmailToken(cfg)
	if _, err := tokenFromFile(tokenPath); err == nil {
		return tokenPath, nil
	}
	oc, err := OAuthConfig(cfg, paths)
	if err != nil {
		return "", err
	}

	authURL := oc.AuthCodeURL("state-token", oauth2.AccessTypeOffline)
	fmt.Fprintf(out, "Go to the following link in your browser then type the authorization code: \n%v\n", authURL)

	var authCode string
	if _, err := fmt.Fscan(in, &authCode); err != nil {
		return "", fmt.Errorf("unable to read authorization code: %w", err)
	}
	tok, err := oc.Exchange(ctx, authCode)
	if err != nil {
		return "", fmt.Errorf("unable to retrieve token from web: %w", err)
	}
	if err := saveToken(tokenPath, tok); err != nil {
		return "", err
	}
	return tokenPath, nil
}

func tokenFromFile(file string) (*oauth2.Token, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	tok := &oauth2.Token{}
	err = json.NewDecoder(f).Decode(tok)
	return tok, err
}

func saveToken(path string, token *oauth2.Token) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating token dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("unable to cache oauth token: %w", err)
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(token)
}
