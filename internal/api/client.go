package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/maildock/gmailkit/internal/ratelimit"
)

const (
	defaultBaseURL = "https://gmail.googleapis.com/gmail/v1"
	maxRetries     = 5
	maxBackoff     = 60 // max backoff in seconds
)

// Client implements Service over the Gmail REST surface.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	limiter     *ratelimit.Limiter
	logger      *slog.Logger
	userID      string // "me" for the authenticated user
	backoffUnit time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger for the client.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithBaseURL points the client at an alternate endpoint. Used by tests to
// target a local stub server.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSuffix(u, "/")
	}
}

// WithHTTPClient replaces the OAuth-derived HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithRateLimiter sets a custom rate limiter.
func WithRateLimiter(l *ratelimit.Limiter) Option {
	return func(c *Client) {
		c.limiter = l
	}
}

// NewClient creates a Gmail API client authenticated by tokenSource.
func NewClient(tokenSource oauth2.TokenSource, opts ...Option) *Client {
	c := &Client{
		baseURL:     defaultBaseURL,
		userID:      "me",
		logger:      slog.Default(),
		backoffUnit: time.Second,
	}
	if tokenSource != nil {
		c.httpClient = oauth2.NewClient(context.Background(), tokenSource)
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.httpClient == nil {
		c.httpClient = http.DefaultClient
	}
	if c.limiter == nil {
		c.limiter = ratelimit.New(ratelimit.DefaultUnitsPerSecond)
	}
	return c
}

// request makes one API call with rate limiting and retry. bodyBytes may be
// nil for requests without a body. Retries cover network errors, 429, quota
// 403 and 5xx; all other failures surface immediately as *RemoteError.
func (c *Client) request(ctx context.Context, op ratelimit.Operation, method, path string, bodyBytes []byte) ([]byte, error) {
	if err := c.limiter.Acquire(ctx, op); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	reqURL := c.baseURL + path

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			backoff := c.calculateBackoff(attempt)
			c.logger.Debug("retrying request", "attempt", attempt, "backoff", backoff, "path", path)

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		// Fresh reader per attempt so the body can be re-sent on retry.
		var body io.Reader
		if bodyBytes != nil {
			body = bytes.NewReader(bodyBytes)
		}

		req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		if bodyBytes != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("http request: %w", err)
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read response: %w", err)
			continue
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return respBody, nil
		}

		switch resp.StatusCode {
		case http.StatusTooManyRequests:
			c.logger.Debug("rate limited, backing off", "path", path, "attempt", attempt)
			c.limiter.Throttle(30 * time.Second)
			lastErr = newRemoteError(resp.StatusCode, respBody)
			continue

		case http.StatusForbidden:
			// Gmail reports quota exhaustion as 403 with a rate-limit reason
			// rather than 429. Real permission errors are terminal.
			if isRateLimitError(respBody) {
				c.logger.Debug("quota exceeded, backing off", "path", path, "attempt", attempt)
				c.limiter.Throttle(60 * time.Second)
				lastErr = newRemoteError(resp.StatusCode, respBody)
				continue
			}
			return nil, newRemoteError(resp.StatusCode, respBody)

		case http.StatusInternalServerError, http.StatusBadGateway,
			http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			lastErr = newRemoteError(resp.StatusCode, respBody)
			continue

		default:
			// 401 included: the oauth2 client already attempted a refresh.
			return nil, newRemoteError(resp.StatusCode, respBody)
		}
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// calculateBackoff returns the delay before a retry attempt, using
// exponential backoff with full jitter.
func (c *Client) calculateBackoff(attempt int) time.Duration {
	base := float64(uint(1) << uint(attempt))
	if base > maxBackoff {
		base = maxBackoff
	}
	jittered := rand.Float64() * base
	return time.Duration(jittered * float64(c.backoffUnit))
}

// isRateLimitError checks whether a 403 body is actually quota exhaustion.
func isRateLimitError(body []byte) bool {
	return bytes.Contains(body, []byte("rateLimitExceeded")) ||
		bytes.Contains(body, []byte("RATE_LIMIT_EXCEEDED")) ||
		bytes.Contains(body, []byte("userRateLimitExceeded")) ||
		bytes.Contains(body, []byte("Quota exceeded"))
}

// Gmail JSON wire types (unexported, used only for marshaling).

type profileJSON struct {
	EmailAddress  string `json:"emailAddress"`
	MessagesTotal int64  `json:"messagesTotal"`
	ThreadsTotal  int64  `json:"threadsTotal"`
	HistoryID     string `json:"historyId"`
}

type labelColorJSON struct {
	TextColor       string `json:"textColor,omitempty"`
	BackgroundColor string `json:"backgroundColor,omitempty"`
}

type labelJSON struct {
	ID                    string          `json:"id,omitempty"`
	Name                  string          `json:"name,omitempty"`
	Type                  string          `json:"type,omitempty"`
	MessagesTotal         int64           `json:"messagesTotal,omitempty"`
	MessagesUnread        int64           `json:"messagesUnread,omitempty"`
	MessageListVisibility string          `json:"messageListVisibility,omitempty"`
	LabelListVisibility   string          `json:"labelListVisibility,omitempty"`
	Color                 *labelColorJSON `json:"color,omitempty"`
}

type listLabelsJSON struct {
	Labels []labelJSON `json:"labels"`
}

type messageRefJSON struct {
	ID       string   `json:"id"`
	ThreadID string   `json:"threadId"`
	LabelIDs []string `json:"labelIds,omitempty"`
}

type listMessagesJSON struct {
	Messages           []messageRefJSON `json:"messages"`
	NextPageToken      string           `json:"nextPageToken"`
	ResultSizeEstimate int64            `json:"resultSizeEstimate"`
}

type rawMessageJSON struct {
	ID           string   `json:"id"`
	ThreadID     string   `json:"threadId"`
	LabelIDs     []string `json:"labelIds"`
	Snippet      string   `json:"snippet"`
	HistoryID    string   `json:"historyId"`
	InternalDate string   `json:"internalDate"`
	SizeEstimate int64    `json:"sizeEstimate"`
	Raw          string   `json:"raw"` // base64url, typically unpadded
}

type modifyMessageJSON struct {
	AddLabelIDs    []string `json:"addLabelIds,omitempty"`
	RemoveLabelIDs []string `json:"removeLabelIds,omitempty"`
}

type batchModifyJSON struct {
	IDs            []string `json:"ids"`
	AddLabelIDs    []string `json:"addLabelIds,omitempty"`
	RemoveLabelIDs []string `json:"removeLabelIds,omitempty"`
}

type batchDeleteJSON struct {
	IDs []string `json:"ids"`
}

type sendMessageJSON struct {
	Raw      string `json:"raw"`
	ThreadID string `json:"threadId,omitempty"`
}

type draftJSON struct {
	ID      string `json:"id,omitempty"`
	Message struct {
		ID       string `json:"id,omitempty"`
		Raw      string `json:"raw,omitempty"`
		ThreadID string `json:"threadId,omitempty"`
	} `json:"message"`
}

// decodeBase64URL decodes base64url with or without padding. Gmail returns
// unpadded values but the fake servers used in tests may pad.
func decodeBase64URL(s string) ([]byte, error) {
	if strings.ContainsRune(s, '=') {
		return base64.URLEncoding.DecodeString(s)
	}
	return base64.RawURLEncoding.DecodeString(s)
}

// GetProfile returns the authenticated user's profile.
func (c *Client) GetProfile(ctx context.Context) (*Profile, error) {
	path := fmt.Sprintf("/users/%s/profile", c.userID)
	data, err := c.request(ctx, ratelimit.OpProfile, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	var resp profileJSON
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("parse profile: %w", err)
	}

	historyID, _ := strconv.ParseUint(resp.HistoryID, 10, 64)
	return &Profile{
		EmailAddress:  resp.EmailAddress,
		MessagesTotal: resp.MessagesTotal,
		ThreadsTotal:  resp.ThreadsTotal,
		HistoryID:     historyID,
	}, nil
}

func labelFromJSON(l labelJSON) *Label {
	out := &Label{
		ID:                    l.ID,
		Name:                  l.Name,
		Type:                  l.Type,
		MessagesTotal:         l.MessagesTotal,
		MessagesUnread:        l.MessagesUnread,
		MessageListVisibility: l.MessageListVisibility,
		LabelListVisibility:   l.LabelListVisibility,
	}
	if l.Color != nil {
		out.TextColor = l.Color.TextColor
		out.BackgroundColor = l.Color.BackgroundColor
	}
	return out
}

func labelToJSON(req *LabelRequest) labelJSON {
	l := labelJSON{
		Name:                  req.Name,
		MessageListVisibility: req.MessageListVisibility,
		LabelListVisibility:   req.LabelListVisibility,
	}
	if req.TextColor != "" || req.BackgroundColor != "" {
		l.Color = &labelColorJSON{
			TextColor:       req.TextColor,
			BackgroundColor: req.BackgroundColor,
		}
	}
	return l
}

// ListLabels returns all labels for the account.
func (c *Client) ListLabels(ctx context.Context) ([]*Label, error) {
	path := fmt.Sprintf("/users/%s/labels", c.userID)
	data, err := c.request(ctx, ratelimit.OpLabelsList, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	var resp listLabelsJSON
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("parse labels: %w", err)
	}

	labels := make([]*Label, len(resp.Labels))
	for i, l := range resp.Labels {
		labels[i] = labelFromJSON(l)
	}
	return labels, nil
}

// GetLabel returns a single label with message counts.
func (c *Client) GetLabel(ctx context.Context, id string) (*Label, error) {
	path := fmt.Sprintf("/users/%s/labels/%s", c.userID, url.PathEscape(id))
	data, err := c.request(ctx, ratelimit.OpLabelsGet, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	var resp labelJSON
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("parse label: %w", err)
	}
	return labelFromJSON(resp), nil
}

// CreateLabel creates a user label.
func (c *Client) CreateLabel(ctx context.Context, req *LabelRequest) (*Label, error) {
	body, err := json.Marshal(labelToJSON(req))
	if err != nil {
		return nil, fmt.Errorf("encode label: %w", err)
	}

	path := fmt.Sprintf("/users/%s/labels", c.userID)
	data, err := c.request(ctx, ratelimit.OpLabelsCreate, http.MethodPost, path, body)
	if err != nil {
		return nil, err
	}

	var resp labelJSON
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("parse label: %w", err)
	}
	return labelFromJSON(resp), nil
}

// UpdateLabel patches a user label.
func (c *Client) UpdateLabel(ctx context.Context, id string, req *LabelRequest) (*Label, error) {
	l := labelToJSON(req)
	l.ID = id
	body, err := json.Marshal(l)
	if err != nil {
		return nil, fmt.Errorf("encode label: %w", err)
	}

	path := fmt.Sprintf("/users/%s/labels/%s", c.userID, url.PathEscape(id))
	data, err := c.request(ctx, ratelimit.OpLabelsUpdate, http.MethodPut, path, body)
	if err != nil {
		return nil, err
	}

	var resp labelJSON
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("parse label: %w", err)
	}
	return labelFromJSON(resp), nil
}

// DeleteLabel removes a user label.
func (c *Client) DeleteLabel(ctx context.Context, id string) error {
	path := fmt.Sprintf("/users/%s/labels/%s", c.userID, url.PathEscape(id))
	_, err := c.request(ctx, ratelimit.OpLabelsDelete, http.MethodDelete, path, nil)
	return err
}

// ListMessages returns one page of message references matching q.
func (c *Client) ListMessages(ctx context.Context, q ListQuery) (*MessageList, error) {
	params := url.Values{}
	if q.Query != "" {
		params.Set("q", q.Query)
	}
	for _, id := range q.LabelIDs {
		params.Add("labelIds", id)
	}
	if q.MaxResults > 0 {
		params.Set("maxResults", strconv.FormatInt(q.MaxResults, 10))
	}
	if q.PageToken != "" {
		params.Set("pageToken", q.PageToken)
	}
	if q.IncludeSpamTrash {
		params.Set("includeSpamTrash", "true")
	}

	path := fmt.Sprintf("/users/%s/messages", c.userID)
	if enc := params.Encode(); enc != "" {
		path += "?" + enc
	}
	data, err := c.request(ctx, ratelimit.OpMessagesList, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	var resp listMessagesJSON
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("parse message list: %w", err)
	}

	messages := make([]MessageRef, len(resp.Messages))
	for i, m := range resp.Messages {
		messages[i] = MessageRef{ID: m.ID, ThreadID: m.ThreadID}
	}
	return &MessageList{
		Messages:           messages,
		NextPageToken:      resp.NextPageToken,
		ResultSizeEstimate: resp.ResultSizeEstimate,
	}, nil
}

// GetMessageRaw fetches a single message with its raw MIME payload.
func (c *Client) GetMessageRaw(ctx context.Context, id string) (*RawMessage, error) {
	path := fmt.Sprintf("/users/%s/messages/%s?format=raw", c.userID, url.PathEscape(id))
	data, err := c.request(ctx, ratelimit.OpMessagesGet, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	var resp rawMessageJSON
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("parse message: %w", err)
	}

	rawBytes, err := decodeBase64URL(resp.Raw)
	if err != nil {
		return nil, fmt.Errorf("decode raw MIME: %w", err)
	}

	historyID, _ := strconv.ParseUint(resp.HistoryID, 10, 64)
	internalDate, _ := strconv.ParseInt(resp.InternalDate, 10, 64)

	return &RawMessage{
		ID:           resp.ID,
		ThreadID:     resp.ThreadID,
		LabelIDs:     resp.LabelIDs,
		Snippet:      resp.Snippet,
		HistoryID:    historyID,
		InternalDate: internalDate,
		SizeEstimate: resp.SizeEstimate,
		Raw:          rawBytes,
	}, nil
}

// ModifyMessage adds and removes label IDs on a message.
func (c *Client) ModifyMessage(ctx context.Context, id string, addLabelIDs, removeLabelIDs []string) (*MessageRef, error) {
	body, err := json.Marshal(modifyMessageJSON{
		AddLabelIDs:    addLabelIDs,
		RemoveLabelIDs: removeLabelIDs,
	})
	if err != nil {
		return nil, fmt.Errorf("encode modify: %w", err)
	}

	path := fmt.Sprintf("/users/%s/messages/%s/modify", c.userID, url.PathEscape(id))
	data, err := c.request(ctx, ratelimit.OpMessagesModify, http.MethodPost, path, body)
	if err != nil {
		return nil, err
	}

	var resp messageRefJSON
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("parse message: %w", err)
	}
	return &MessageRef{ID: resp.ID, ThreadID: resp.ThreadID, LabelIDs: resp.LabelIDs}, nil
}

// TrashMessage moves a message to trash.
func (c *Client) TrashMessage(ctx context.Context, id string) error {
	path := fmt.Sprintf("/users/%s/messages/%s/trash", c.userID, url.PathEscape(id))
	_, err := c.request(ctx, ratelimit.OpMessagesTrash, http.MethodPost, path, nil)
	return err
}

// UntrashMessage restores a message from trash.
func (c *Client) UntrashMessage(ctx context.Context, id string) error {
	path := fmt.Sprintf("/users/%s/messages/%s/untrash", c.userID, url.PathEscape(id))
	_, err := c.request(ctx, ratelimit.OpMessagesUntrash, http.MethodPost, path, nil)
	return err
}

// DeleteMessage permanently deletes a message.
func (c *Client) DeleteMessage(ctx context.Context, id string) error {
	path := fmt.Sprintf("/users/%s/messages/%s", c.userID, url.PathEscape(id))
	_, err := c.request(ctx, ratelimit.OpMessagesDelete, http.MethodDelete, path, nil)
	return err
}

// BatchModifyMessages adds and removes label IDs on up to 1000 messages.
func (c *Client) BatchModifyMessages(ctx context.Context, ids, addLabelIDs, removeLabelIDs []string) error {
	body, err := json.Marshal(batchModifyJSON{
		IDs:            ids,
		AddLabelIDs:    addLabelIDs,
		RemoveLabelIDs: removeLabelIDs,
	})
	if err != nil {
		return fmt.Errorf("encode batch modify: %w", err)
	}

	path := fmt.Sprintf("/users/%s/messages/batchModify", c.userID)
	_, err = c.request(ctx, ratelimit.OpMessagesBatchModify, http.MethodPost, path, body)
	return err
}

// BatchDeleteMessages permanently deletes up to 1000 messages.
func (c *Client) BatchDeleteMessages(ctx context.Context, ids []string) error {
	body, err := json.Marshal(batchDeleteJSON{IDs: ids})
	if err != nil {
		return fmt.Errorf("encode batch delete: %w", err)
	}

	path := fmt.Sprintf("/users/%s/messages/batchDelete", c.userID)
	_, err = c.request(ctx, ratelimit.OpMessagesBatchDelete, http.MethodPost, path, body)
	return err
}

// SendMessage sends a raw RFC 2822 message.
func (c *Client) SendMessage(ctx context.Context, raw []byte, threadID string) (*MessageRef, error) {
	body, err := json.Marshal(sendMessageJSON{
		Raw:      base64.RawURLEncoding.EncodeToString(raw),
		ThreadID: threadID,
	})
	if err != nil {
		return nil, fmt.Errorf("encode send: %w", err)
	}

	path := fmt.Sprintf("/users/%s/messages/send", c.userID)
	data, err := c.request(ctx, ratelimit.OpMessagesSend, http.MethodPost, path, body)
	if err != nil {
		return nil, err
	}

	var resp messageRefJSON
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("parse sent message: %w", err)
	}
	return &MessageRef{ID: resp.ID, ThreadID: resp.ThreadID, LabelIDs: resp.LabelIDs}, nil
}

// CreateDraft stores a raw RFC 2822 message as a server-side draft.
func (c *Client) CreateDraft(ctx context.Context, raw []byte, threadID string) (*DraftRef, error) {
	var req draftJSON
	req.Message.Raw = base64.RawURLEncoding.EncodeToString(raw)
	req.Message.ThreadID = threadID
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode draft: %w", err)
	}

	path := fmt.Sprintf("/users/%s/drafts", c.userID)
	data, err := c.request(ctx, ratelimit.OpDraftsCreate, http.MethodPost, path, body)
	if err != nil {
		return nil, err
	}

	var resp draftJSON
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("parse draft: %w", err)
	}
	return &DraftRef{ID: resp.ID, MessageID: resp.Message.ID}, nil
}

// SendDraft sends a previously created draft.
func (c *Client) SendDraft(ctx context.Context, draftID string) (*MessageRef, error) {
	body, err := json.Marshal(draftJSON{ID: draftID})
	if err != nil {
		return nil, fmt.Errorf("encode draft send: %w", err)
	}

	path := fmt.Sprintf("/users/%s/drafts/send", c.userID)
	data, err := c.request(ctx, ratelimit.OpDraftsSend, http.MethodPost, path, body)
	if err != nil {
		return nil, err
	}

	var resp messageRefJSON
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("parse sent draft: %w", err)
	}
	return &MessageRef{ID: resp.ID, ThreadID: resp.ThreadID, LabelIDs: resp.LabelIDs}, nil
}

// DeleteDraft discards a server-side draft.
func (c *Client) DeleteDraft(ctx context.Context, draftID string) error {
	path := fmt.Sprintf("/users/%s/drafts/%s", c.userID, url.PathEscape(draftID))
	_, err := c.request(ctx, ratelimit.OpDraftsDelete, http.MethodDelete, path, nil)
	return err
}
