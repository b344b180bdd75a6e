// Package oauth handles Gmail OAuth2 authorization and token storage.
//
// Tokens are kept one file per account under a tokens directory, wrapped
// with the scopes they were granted so callers can detect insufficient
// grants without a round trip. Authorization runs the standard browser
// consent flow against a loopback callback listener, with a device-code
// fallback for headless hosts.
package oauth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// Scopes grants full mailbox access. Label deletion with cascade and
// messages.batchDelete both require it; gmail.modify is not enough.
var Scopes = []string{
	"https://mail.google.com/",
}

// ScopesReadOnly restricts the grant to reading.
var ScopesReadOnly = []string{
	"https://www.googleapis.com/auth/gmail.readonly",
}

var (
	// ErrAuthDenied is returned when the user rejects the consent screen.
	ErrAuthDenied = errors.New("authorization denied by user")

	// ErrAuthTimeout is returned when no callback arrives before the
	// authorization window closes. The callback listener is released.
	ErrAuthTimeout = errors.New("authorization timed out")

	// ErrAuthExpired is returned when a stored grant can no longer be
	// refreshed and the account must be authorized again.
	ErrAuthExpired = errors.New("authorization expired, re-authorization required")
)

// DefaultAuthTimeout bounds how long Authorize waits for the browser
// callback.
const DefaultAuthTimeout = 5 * time.Minute

// Manager handles OAuth2 token acquisition and storage.
type Manager struct {
	config       *oauth2.Config
	tokensDir    string
	logger       *slog.Logger
	timeout      time.Duration
	callbackPort int                // 0 picks an ephemeral port
	browse       func(string) error // replaced in tests

	// device flow knobs, overridden in tests
	deviceEndpoint string
	pollInterval   time.Duration
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the logger for the manager.
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithScopes overrides the default full-access scopes.
func WithScopes(scopes []string) ManagerOption {
	return func(m *Manager) {
		m.config.Scopes = scopes
	}
}

// WithTimeout bounds how long Authorize waits for the consent callback.
func WithTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) {
		m.timeout = d
	}
}

// WithCallbackPort pins the loopback callback listener to a fixed port,
// for OAuth clients registered with an exact redirect URI.
func WithCallbackPort(port int) ManagerOption {
	return func(m *Manager) {
		m.callbackPort = port
	}
}

// WithBrowser replaces how the consent URL is opened.
func WithBrowser(browse func(url string) error) ManagerOption {
	return func(m *Manager) {
		m.browse = browse
	}
}

// NewManager creates an OAuth manager from a Google client secrets file.
func NewManager(clientSecretsPath, tokensDir string, opts ...ManagerOption) (*Manager, error) {
	data, err := os.ReadFile(clientSecretsPath)
	if err != nil {
		return nil, fmt.Errorf("read client secrets: %w", err)
	}

	config, err := google.ConfigFromJSON(data, Scopes...)
	if err != nil {
		return nil, fmt.Errorf("parse client secrets: %w", err)
	}

	m := &Manager{
		config:         config,
		tokensDir:      tokensDir,
		logger:         slog.Default(),
		timeout:        DefaultAuthTimeout,
		browse:         openBrowser,
		deviceEndpoint: googleDeviceEndpoint,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Authorize performs the OAuth flow for an account and stores the resulting
// token. If headless is true, uses the device code flow; otherwise opens a
// browser against a loopback callback listener.
func (m *Manager) Authorize(ctx context.Context, email string, headless bool) error {
	var token *oauth2.Token
	var err error

	if headless {
		token, err = m.deviceFlow(ctx)
	} else {
		token, err = m.browserFlow(ctx)
	}
	if err != nil {
		return err
	}

	return m.saveToken(email, token)
}

// TokenSource returns an auto-refreshing token source for the given email.
// The stored grant is verified once up front; a grant the server refuses to
// refresh surfaces as ErrAuthExpired. Rotated tokens are written back to
// disk as they are observed.
func (m *Manager) TokenSource(ctx context.Context, email string) (oauth2.TokenSource, error) {
	token, err := m.loadToken(email)
	if err != nil {
		return nil, fmt.Errorf("no token for %s: %w", email, ErrAuthExpired)
	}

	ts := m.config.TokenSource(ctx, token)

	newToken, err := ts.Token()
	if err != nil {
		return nil, fmt.Errorf("refresh token for %s: %w: %v", email, ErrAuthExpired, err)
	}

	if newToken.AccessToken != token.AccessToken {
		if err := m.saveToken(email, newToken); err != nil {
			m.logger.Warn("failed to save refreshed token", "email", email, "error", err)
		}
	}

	return &persistingTokenSource{
		manager: m,
		email:   email,
		wrapped: ts,
		last:    newToken.AccessToken,
	}, nil
}

// persistingTokenSource writes rotated tokens back to the token file.
type persistingTokenSource struct {
	manager *Manager
	email   string
	wrapped oauth2.TokenSource
	last    string
}

func (p *persistingTokenSource) Token() (*oauth2.Token, error) {
	token, err := p.wrapped.Token()
	if err != nil {
		return nil, fmt.Errorf("refresh token for %s: %w: %v", p.email, ErrAuthExpired, err)
	}
	if token.AccessToken != p.last {
		p.last = token.AccessToken
		if err := p.manager.saveToken(p.email, token); err != nil {
			p.manager.logger.Warn("failed to save refreshed token", "email", p.email, "error", err)
		}
	}
	return token, nil
}

const callbackPath = "/callback"

// newCallbackHandler returns an HTTP handler that processes the OAuth
// callback. Consent rejection arrives as error=access_denied.
func (m *Manager) newCallbackHandler(expectedState string, codeChan chan<- string, errChan chan<- error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if errParam := r.URL.Query().Get("error"); errParam != "" {
			if errParam == "access_denied" {
				errChan <- ErrAuthDenied
			} else {
				errChan <- fmt.Errorf("authorization error: %s", errParam)
			}
			fmt.Fprintf(w, "Authorization failed: %s", errParam)
			return
		}
		if r.URL.Query().Get("state") != expectedState {
			errChan <- fmt.Errorf("state mismatch: possible CSRF attack")
			fmt.Fprintf(w, "Error: state mismatch")
			return
		}
		code := r.URL.Query().Get("code")
		if code == "" {
			errChan <- fmt.Errorf("no code in callback")
			fmt.Fprintf(w, "Error: no authorization code received")
			return
		}
		codeChan <- code
		fmt.Fprintf(w, "Authorization successful! You can close this window.")
	}
}

// browserFlow opens a browser for OAuth authorization and waits for the
// loopback callback. The listener is closed on every exit path so the port
// is immediately reusable.
func (m *Manager) browserFlow(ctx context.Context) (*oauth2.Token, error) {
	stateBytes := make([]byte, 16)
	if _, err := rand.Read(stateBytes); err != nil {
		return nil, fmt.Errorf("generate state: %w", err)
	}
	state := base64.URLEncoding.EncodeToString(stateBytes)

	listener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", m.callbackPort))
	if err != nil {
		return nil, fmt.Errorf("start callback listener: %w", err)
	}

	codeChan := make(chan string, 1)
	errChan := make(chan error, 1)

	mux := http.NewServeMux()
	mux.Handle(callbackPath, m.newCallbackHandler(state, codeChan, errChan))
	server := &http.Server{Handler: mux}

	go func() {
		if err := server.Serve(listener); err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	redirectURL := fmt.Sprintf("http://%s%s", listener.Addr().String(), callbackPath)
	m.config.RedirectURL = redirectURL
	authURL := m.config.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)

	m.logger.Info("waiting for authorization", "redirect", redirectURL)
	fmt.Printf("Opening browser for authorization...\n")
	fmt.Printf("If browser doesn't open, visit:\n%s\n\n", authURL)

	if err := m.browse(authURL); err != nil {
		m.logger.Warn("failed to open browser", "error", err)
	}

	timer := time.NewTimer(m.timeout)
	defer timer.Stop()

	select {
	case code := <-codeChan:
		return m.config.Exchange(ctx, code)
	case err := <-errChan:
		return nil, err
	case <-timer.C:
		return nil, ErrAuthTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

const googleDeviceEndpoint = "https://oauth2.googleapis.com/device/code"

// deviceFlow uses the device authorization grant for headless environments.
func (m *Manager) deviceFlow(ctx context.Context) (*oauth2.Token, error) {
	resp, err := http.PostForm(m.deviceEndpoint, map[string][]string{
		"client_id": {m.config.ClientID},
		"scope":     {strings.Join(m.config.Scopes, " ")},
	})
	if err != nil {
		return nil, fmt.Errorf("request device code: %w", err)
	}
	defer resp.Body.Close()

	var deviceResp struct {
		DeviceCode      string `json:"device_code"`
		UserCode        string `json:"user_code"`
		VerificationURL string `json:"verification_url"`
		ExpiresIn       int    `json:"expires_in"`
		Interval        int    `json:"interval"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&deviceResp); err != nil {
		return nil, fmt.Errorf("parse device response: %w", err)
	}

	fmt.Printf("\n")
	fmt.Printf("To authorize, visit:\n")
	fmt.Printf("  %s\n\n", deviceResp.VerificationURL)
	fmt.Printf("And enter code: %s\n\n", deviceResp.UserCode)
	fmt.Printf("Waiting for authorization...\n")

	interval := m.pollInterval
	if interval == 0 {
		interval = time.Duration(deviceResp.Interval) * time.Second
		if interval < 5*time.Second {
			interval = 5 * time.Second
		}
	}

	deadline := time.Now().Add(time.Duration(deviceResp.ExpiresIn) * time.Second)

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}

		token, err := m.pollForToken(ctx, deviceResp.DeviceCode)
		if err == nil {
			fmt.Printf("Authorization successful!\n")
			return token, nil
		}

		errStr := err.Error()
		if errStr == "oauth error: authorization_pending" || errStr == "oauth error: slow_down" {
			continue
		}
		if errStr == "oauth error: access_denied" {
			return nil, ErrAuthDenied
		}
		return nil, err
	}

	return nil, ErrAuthTimeout
}

// pollForToken polls the token endpoint during device flow.
func (m *Manager) pollForToken(ctx context.Context, deviceCode string) (*oauth2.Token, error) {
	resp, err := http.PostForm(m.config.Endpoint.TokenURL, map[string][]string{
		"client_id":     {m.config.ClientID},
		"client_secret": {m.config.ClientSecret},
		"device_code":   {deviceCode},
		"grant_type":    {"urn:ietf:params:oauth:grant-type:device_code"},
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var tokenResp struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int    `json:"expires_in"`
		TokenType    string `json:"token_type"`
		Error        string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return nil, err
	}

	if tokenResp.Error != "" {
		return nil, fmt.Errorf("oauth error: %s", tokenResp.Error)
	}

	return &oauth2.Token{
		AccessToken:  tokenResp.AccessToken,
		RefreshToken: tokenResp.RefreshToken,
		TokenType:    tokenResp.TokenType,
		Expiry:       time.Now().Add(time.Duration(tokenResp.ExpiresIn) * time.Second),
	}, nil
}

// tokenFile wraps an OAuth2 token with the scopes it was authorized with.
// This enables proactive scope checking without making an API call first.
type tokenFile struct {
	oauth2.Token
	Scopes []string `json:"scopes,omitempty"`
}

// loadToken loads a saved token for the given email.
func (m *Manager) loadToken(email string) (*oauth2.Token, error) {
	data, err := os.ReadFile(m.tokenPath(email))
	if err != nil {
		return nil, err
	}

	var tf tokenFile
	if err := json.Unmarshal(data, &tf); err != nil {
		return nil, err
	}
	return &tf.Token, nil
}

// loadTokenFile loads the full token file including scope metadata.
func (m *Manager) loadTokenFile(email string) (*tokenFile, error) {
	data, err := os.ReadFile(m.tokenPath(email))
	if err != nil {
		return nil, err
	}

	var tf tokenFile
	if err := json.Unmarshal(data, &tf); err != nil {
		return nil, err
	}
	return &tf, nil
}

// HasToken checks if a token exists for the given email.
func (m *Manager) HasToken(email string) bool {
	_, err := m.loadToken(email)
	return err == nil
}

// HasScope checks if the stored token for the given email was authorized
// with the specified scope. Returns false if the token doesn't exist or
// predates scope tracking.
func (m *Manager) HasScope(email, scope string) bool {
	tf, err := m.loadTokenFile(email)
	if err != nil {
		return false
	}
	for _, s := range tf.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// saveToken saves a token for the given email, including the scopes from
// the manager's config.
func (m *Manager) saveToken(email string, token *oauth2.Token) error {
	if err := os.MkdirAll(m.tokensDir, 0700); err != nil {
		return err
	}

	tf := tokenFile{
		Token:  *token,
		Scopes: m.config.Scopes,
	}

	data, err := json.MarshalIndent(tf, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(m.tokenPath(email), data, 0600)
}

// DeleteToken removes the token file for the given email.
func (m *Manager) DeleteToken(email string) error {
	err := os.Remove(m.tokenPath(email))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// TokenPath returns the path to the token file for an email.
func (m *Manager) TokenPath(email string) string {
	return m.tokenPath(email)
}

// tokenPath returns the path to the token file for an email.
// The email is sanitized to prevent path traversal.
func (m *Manager) tokenPath(email string) string {
	safe := strings.ReplaceAll(email, "/", "_")
	safe = strings.ReplaceAll(safe, "\\", "_")
	safe = strings.ReplaceAll(safe, "..", "_")

	path := filepath.Join(m.tokensDir, safe+".json")
	cleanPath := filepath.Clean(path)

	if !strings.HasPrefix(cleanPath, filepath.Clean(m.tokensDir)) {
		return filepath.Join(m.tokensDir, fmt.Sprintf("%x.json", sha256.Sum256([]byte(email))))
	}
	return cleanPath
}

// openBrowser opens the default browser to the given URL.
func openBrowser(url string) error {
	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "linux":
		cmd = exec.Command("xdg-open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		return fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}

	return cmd.Start()
}
