// Package gmailkit is a Gmail client binding: an authenticated session
// exposing the account's label hierarchy, a composable message search
// builder, and a fluent draft composer, all over the Gmail REST API.
package gmailkit

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"golang.org/x/oauth2"

	"github.com/maildock/gmailkit/internal/api"
	"github.com/maildock/gmailkit/internal/ratelimit"
)

const (
	// DefaultPageSize is how many message references each search page
	// requests from the server.
	DefaultPageSize = 100

	// DefaultConcurrency bounds parallel message fetches when hydrating a
	// search page.
	DefaultConcurrency = 4
)

// Client is the entry point for one authenticated Gmail account. A Client
// owns its own session and label cache; concurrent callers should not share
// one Client's label tree with out-of-band label mutation without refreshing.
type Client struct {
	svc         api.Service
	address     string
	labels      *LabelTree
	logger      *slog.Logger
	pageSize    int64
	concurrency int

	// construction-time knobs, consumed in New
	endpoint   string
	httpClient *http.Client
	rateLimit  float64
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithEndpoint points the client at an alternate API endpoint. Used by
// tests to target a local stub server.
func WithEndpoint(u string) ClientOption {
	return func(c *Client) {
		c.endpoint = u
	}
}

// WithHTTPClient replaces the OAuth-derived HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithRateLimit sets the quota units per second budget for this client.
func WithRateLimit(unitsPerSecond float64) ClientOption {
	return func(c *Client) {
		c.rateLimit = unitsPerSecond
	}
}

// WithPageSize sets how many message references each search page requests.
func WithPageSize(n int64) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.pageSize = n
		}
	}
}

// WithConcurrency bounds parallel message fetches during search hydration.
func WithConcurrency(n int) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// New creates a client for the account behind tokenSource and verifies the
// session by fetching the user's profile.
func New(ctx context.Context, tokenSource oauth2.TokenSource, opts ...ClientOption) (*Client, error) {
	c := &Client{
		logger:      slog.Default(),
		pageSize:    DefaultPageSize,
		concurrency: DefaultConcurrency,
	}
	for _, opt := range opts {
		opt(c)
	}

	apiOpts := []api.Option{api.WithLogger(c.logger)}
	if c.endpoint != "" {
		apiOpts = append(apiOpts, api.WithBaseURL(c.endpoint))
	}
	if c.httpClient != nil {
		apiOpts = append(apiOpts, api.WithHTTPClient(c.httpClient))
	}
	if c.rateLimit > 0 {
		apiOpts = append(apiOpts, api.WithRateLimiter(ratelimit.New(c.rateLimit)))
	}
	c.svc = api.NewClient(tokenSource, apiOpts...)

	profile, err := c.svc.GetProfile(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch profile: %w", err)
	}
	c.address = profile.EmailAddress
	c.labels = newLabelTree(c)

	c.logger.Debug("client ready", "address", c.address, "messages", profile.MessagesTotal)
	return c, nil
}

// newClientWithService wires a client directly to a Service implementation.
func newClientWithService(svc api.Service, address string) *Client {
	c := &Client{
		svc:         svc,
		address:     address,
		logger:      slog.Default(),
		pageSize:    DefaultPageSize,
		concurrency: DefaultConcurrency,
	}
	c.labels = newLabelTree(c)
	return c
}

// Address returns the authenticated account's email address.
func (c *Client) Address() string {
	return c.address
}

// Profile fetches current account counters from the server.
func (c *Client) Profile(ctx context.Context) (*Profile, error) {
	p, err := c.svc.GetProfile(ctx)
	if err != nil {
		return nil, err
	}
	return &Profile{
		EmailAddress:  p.EmailAddress,
		MessagesTotal: p.MessagesTotal,
		ThreadsTotal:  p.ThreadsTotal,
	}, nil
}

// Profile is a snapshot of account-level counters.
type Profile struct {
	EmailAddress  string
	MessagesTotal int64
	ThreadsTotal  int64
}

// Labels returns the account's label tree. The tree loads lazily on first
// resolution and caches path-to-identifier mappings until Refresh.
func (c *Client) Labels() *LabelTree {
	return c.labels
}

// Query starts an empty message search scoped to this client.
func (c *Client) Query() Query {
	return Query{client: c}
}

// Draft starts an empty draft addressed from this account.
func (c *Client) Draft() Draft {
	return newDraft(c)
}

// Message fetches a single message by its remote identifier.
func (c *Client) Message(ctx context.Context, id string) (*Message, error) {
	raw, err := c.svc.GetMessageRaw(ctx, id)
	if err != nil {
		return nil, err
	}
	return newMessageFromRaw(c, raw)
}
