// Package api is the Gmail REST transport: typed bindings for the handful
// of users.* resources the library consumes, with quota-aware rate limiting
// and retry. Higher layers never see HTTP; they program against Service.
package api

import "context"

// AccountReader provides read access to account-level data.
type AccountReader interface {
	// GetProfile returns the authenticated user's profile.
	GetProfile(ctx context.Context) (*Profile, error)
}

// LabelReader provides read access to labels.
type LabelReader interface {
	// ListLabels returns all labels for the account.
	ListLabels(ctx context.Context) ([]*Label, error)

	// GetLabel returns a single label with full message counts.
	GetLabel(ctx context.Context, id string) (*Label, error)
}

// LabelWriter provides label mutation operations.
type LabelWriter interface {
	// CreateLabel creates a user label. The name is the full slash-separated
	// path; Gmail does not create missing ancestors.
	CreateLabel(ctx context.Context, req *LabelRequest) (*Label, error)

	// UpdateLabel patches a user label.
	UpdateLabel(ctx context.Context, id string, req *LabelRequest) (*Label, error)

	// DeleteLabel removes a user label. Messages keep their other labels.
	DeleteLabel(ctx context.Context, id string) error
}

// MessageReader provides read access to messages.
type MessageReader interface {
	// ListMessages returns one page of message references matching the query.
	ListMessages(ctx context.Context, q ListQuery) (*MessageList, error)

	// GetMessageRaw fetches a single message with its raw MIME payload.
	// The payload carries every part including attachment content, so no
	// secondary fetch is needed to materialize a message.
	GetMessageRaw(ctx context.Context, id string) (*RawMessage, error)
}

// MessageWriter provides message mutation operations.
type MessageWriter interface {
	// ModifyMessage adds and removes label IDs on a message.
	ModifyMessage(ctx context.Context, id string, addLabelIDs, removeLabelIDs []string) (*MessageRef, error)

	// TrashMessage moves a message to trash (recoverable for 30 days).
	TrashMessage(ctx context.Context, id string) error

	// UntrashMessage restores a message from trash.
	UntrashMessage(ctx context.Context, id string) error

	// DeleteMessage permanently deletes a message.
	DeleteMessage(ctx context.Context, id string) error

	// BatchModifyMessages adds and removes label IDs on up to 1000 messages.
	BatchModifyMessages(ctx context.Context, ids, addLabelIDs, removeLabelIDs []string) error

	// BatchDeleteMessages permanently deletes up to 1000 messages.
	BatchDeleteMessages(ctx context.Context, ids []string) error
}

// Sender provides message dispatch and server-side draft operations.
type Sender interface {
	// SendMessage sends a raw RFC 2822 message. threadID, when non-empty,
	// threads the message into an existing conversation.
	SendMessage(ctx context.Context, raw []byte, threadID string) (*MessageRef, error)

	// CreateDraft stores a raw RFC 2822 message as a server-side draft.
	CreateDraft(ctx context.Context, raw []byte, threadID string) (*DraftRef, error)

	// SendDraft sends a previously created draft.
	SendDraft(ctx context.Context, draftID string) (*MessageRef, error)

	// DeleteDraft discards a server-side draft without sending it.
	DeleteDraft(ctx context.Context, draftID string) error
}

// Service is the complete remote surface the library consumes.
// The composition-of-small-interfaces shape keeps call sites honest about
// what they need and keeps mocks small.
type Service interface {
	AccountReader
	LabelReader
	LabelWriter
	MessageReader
	MessageWriter
	Sender
}

// Profile represents a Gmail user profile.
type Profile struct {
	EmailAddress  string
	MessagesTotal int64
	ThreadsTotal  int64
	HistoryID     uint64
}

// Label represents a Gmail label resource.
type Label struct {
	ID                    string
	Name                  string // full slash-separated path
	Type                  string // "system" or "user"
	MessagesTotal         int64
	MessagesUnread        int64
	MessageListVisibility string
	LabelListVisibility   string
	TextColor             string
	BackgroundColor       string
}

// LabelRequest carries the writable fields for label create/update.
type LabelRequest struct {
	Name                  string
	MessageListVisibility string // "show" or "hide"
	LabelListVisibility   string // "labelShow", "labelShowIfUnread", "labelHide"
	TextColor             string
	BackgroundColor       string
}

// ListQuery parameterizes messages.list.
type ListQuery struct {
	Query            string
	LabelIDs         []string
	MaxResults       int64 // per page; 0 uses the server default
	PageToken        string
	IncludeSpamTrash bool
}

// MessageList is one page of message references.
type MessageList struct {
	Messages           []MessageRef
	NextPageToken      string
	ResultSizeEstimate int64
}

// MessageRef is a message envelope reference without payload.
type MessageRef struct {
	ID       string
	ThreadID string
	LabelIDs []string
}

// RawMessage is a message with its decoded RFC 2822 payload.
type RawMessage struct {
	ID           string
	ThreadID     string
	LabelIDs     []string
	Snippet      string
	HistoryID    uint64
	InternalDate int64 // Unix milliseconds
	SizeEstimate int64
	Raw          []byte
}

// DraftRef identifies a server-side draft and its underlying message.
type DraftRef struct {
	ID        string
	MessageID string
}
