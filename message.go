package gmailkit

import (
	"bytes"
	"context"
	"fmt"
	"net/mail"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jhillyerd/enmime"

	"github.com/maildock/gmailkit/internal/api"
)

// Message is a fetched message: parsed headers and body parts plus the
// label-membership set. Everything except the label set is immutable once
// fetched; label operations are synchronous remote calls that update the
// local set from the server's response.
type Message struct {
	client *Client

	ID           string
	ThreadID     string
	Snippet      string
	LabelIDs     []string
	Date         time.Time
	SizeEstimate int64

	Subject string
	From    *mail.Address
	To      []*mail.Address
	Cc      []*mail.Address
	Bcc     []*mail.Address

	Text string
	HTML string

	Attachments []Attachment

	messageID string // Message-ID header, for reply threading
	raw       []byte
}

// Attachment is one decoded attachment part.
type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

// newMessageFromRaw parses a raw API message into a Message.
func newMessageFromRaw(c *Client, rm *api.RawMessage) (*Message, error) {
	env, err := enmime.ReadEnvelope(bytes.NewReader(rm.Raw))
	if err != nil {
		return nil, fmt.Errorf("parse message %s: %w", rm.ID, err)
	}

	m := &Message{
		client:       c,
		ID:           rm.ID,
		ThreadID:     rm.ThreadID,
		Snippet:      rm.Snippet,
		LabelIDs:     append([]string(nil), rm.LabelIDs...),
		SizeEstimate: rm.SizeEstimate,
		Subject:      env.GetHeader("Subject"),
		Text:         env.Text,
		HTML:         env.HTML,
		messageID:    env.GetHeader("Message-ID"),
		raw:          rm.Raw,
	}

	if from, err := env.AddressList("From"); err == nil && len(from) > 0 {
		m.From = from[0]
	}
	if to, err := env.AddressList("To"); err == nil {
		m.To = to
	}
	if cc, err := env.AddressList("Cc"); err == nil {
		m.Cc = cc
	}
	if bcc, err := env.AddressList("Bcc"); err == nil {
		m.Bcc = bcc
	}

	if d, err := mail.ParseDate(env.GetHeader("Date")); err == nil {
		m.Date = d
	} else if rm.InternalDate > 0 {
		m.Date = time.UnixMilli(rm.InternalDate)
	}

	for _, part := range env.Attachments {
		m.Attachments = append(m.Attachments, Attachment{
			Filename:    part.FileName,
			ContentType: part.ContentType,
			Content:     part.Content,
		})
	}
	return m, nil
}

// Raw returns the message's original RFC 2822 bytes.
func (m *Message) Raw() []byte {
	return m.raw
}

// HasLabel reports whether the message currently carries the label.
func (m *Message) HasLabel(label *Label) bool {
	for _, id := range m.LabelIDs {
		if id == label.ID() {
			return true
		}
	}
	return false
}

// hasLabelID reports membership by raw label identifier.
func (m *Message) hasLabelID(id string) bool {
	for _, lid := range m.LabelIDs {
		if lid == id {
			return true
		}
	}
	return false
}

// modify applies a label change remotely and updates the local set from
// the server's response. Labels deleted out-of-band surface as
// ErrLabelNotFound.
func (m *Message) modify(ctx context.Context, add, remove []string) error {
	ref, err := m.client.svc.ModifyMessage(ctx, m.ID, add, remove)
	if err != nil {
		if api.IsNotFound(err) || api.IsInvalidArgument(err) {
			return fmt.Errorf("modify message %s: %w", m.ID, ErrLabelNotFound)
		}
		return fmt.Errorf("modify message %s: %w", m.ID, err)
	}
	if ref.LabelIDs != nil {
		m.LabelIDs = ref.LabelIDs
	}
	return nil
}

// AddLabels attaches labels to the message.
func (m *Message) AddLabels(ctx context.Context, labels ...*Label) error {
	ids := make([]string, len(labels))
	for i, l := range labels {
		ids[i] = l.ID()
	}
	return m.modify(ctx, ids, nil)
}

// RemoveLabels detaches labels from the message.
func (m *Message) RemoveLabels(ctx context.Context, labels ...*Label) error {
	ids := make([]string, len(labels))
	for i, l := range labels {
		ids[i] = l.ID()
	}
	return m.modify(ctx, nil, ids)
}

// IsUnread reports whether the message carries the UNREAD label.
func (m *Message) IsUnread() bool {
	return m.hasLabelID("UNREAD")
}

// MarkRead clears the UNREAD label.
func (m *Message) MarkRead(ctx context.Context) error {
	return m.modify(ctx, nil, []string{"UNREAD"})
}

// MarkUnread sets the UNREAD label.
func (m *Message) MarkUnread(ctx context.Context) error {
	return m.modify(ctx, []string{"UNREAD"}, nil)
}

// Star sets the STARRED label.
func (m *Message) Star(ctx context.Context) error {
	return m.modify(ctx, []string{"STARRED"}, nil)
}

// Unstar clears the STARRED label.
func (m *Message) Unstar(ctx context.Context) error {
	return m.modify(ctx, nil, []string{"STARRED"})
}

// MarkImportant sets the IMPORTANT label.
func (m *Message) MarkImportant(ctx context.Context) error {
	return m.modify(ctx, []string{"IMPORTANT"}, nil)
}

// MarkNotImportant clears the IMPORTANT label.
func (m *Message) MarkNotImportant(ctx context.Context) error {
	return m.modify(ctx, nil, []string{"IMPORTANT"})
}

// Archive removes the message from the inbox.
func (m *Message) Archive(ctx context.Context) error {
	return m.modify(ctx, nil, []string{"INBOX"})
}

// MoveToInbox returns the message to the inbox.
func (m *Message) MoveToInbox(ctx context.Context) error {
	return m.modify(ctx, []string{"INBOX"}, nil)
}

// MoveToCategory reassigns the message's inbox category tab.
func (m *Message) MoveToCategory(ctx context.Context, c Category) error {
	remove := make([]string, 0, 4)
	for _, cat := range []Category{
		CategoryPersonal, CategorySocial, CategoryPromotions,
		CategoryUpdates, CategoryForums,
	} {
		if cat != c && m.hasLabelID(string(cat)) {
			remove = append(remove, string(cat))
		}
	}
	return m.modify(ctx, []string{string(c)}, remove)
}

// Trash moves the message to trash, recoverable for 30 days.
func (m *Message) Trash(ctx context.Context) error {
	if err := m.client.svc.TrashMessage(ctx, m.ID); err != nil {
		return fmt.Errorf("trash message %s: %w", m.ID, err)
	}
	return nil
}

// Untrash restores the message from trash.
func (m *Message) Untrash(ctx context.Context) error {
	if err := m.client.svc.UntrashMessage(ctx, m.ID); err != nil {
		return fmt.Errorf("untrash message %s: %w", m.ID, err)
	}
	return nil
}

// Delete permanently deletes the message, bypassing trash.
func (m *Message) Delete(ctx context.Context) error {
	if err := m.client.svc.DeleteMessage(ctx, m.ID); err != nil {
		return fmt.Errorf("delete message %s: %w", m.ID, err)
	}
	return nil
}

// Refresh re-fetches the message, picking up label changes made remotely.
func (m *Message) Refresh(ctx context.Context) error {
	fresh, err := m.client.Message(ctx, m.ID)
	if err != nil {
		return err
	}
	*m = *fresh
	return nil
}

// SaveAttachmentsTo writes every attachment into dir, returning the paths
// written. Filenames are sanitized to their base name.
func (m *Message) SaveAttachmentsTo(dir string) ([]string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create attachment dir: %w", err)
	}

	var paths []string
	for i, a := range m.Attachments {
		name := filepath.Base(a.Filename)
		if name == "" || name == "." || name == string(filepath.Separator) {
			name = fmt.Sprintf("attachment-%d", i+1)
		}
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, a.Content, 0644); err != nil {
			return paths, fmt.Errorf("write attachment %q: %w", name, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// Reply starts a draft addressed back to the sender, threaded into this
// message's conversation.
func (m *Message) Reply() Draft {
	d := newDraft(m.client).
		Subject(replySubject(m.Subject)).
		threaded(m.ThreadID)
	if m.messageID != "" {
		d = d.Header("In-Reply-To", m.messageID).
			Header("References", m.messageID)
	}
	if m.From != nil {
		d = d.To(m.From.Address)
	}
	return d
}

// Forward starts a draft carrying this message's body and attachments to a
// new recipient.
func (m *Message) Forward() Draft {
	d := newDraft(m.client).Subject(forwardSubject(m.Subject))
	if m.Text != "" {
		d = d.Text(m.Text)
	}
	if m.HTML != "" {
		d = d.HTML(m.HTML)
	}
	for _, a := range m.Attachments {
		d = d.Attach(a.Filename, a.Content, a.ContentType)
	}
	return d
}

func replySubject(s string) string {
	if strings.HasPrefix(strings.ToLower(s), "re:") {
		return s
	}
	return "Re: " + s
}

func forwardSubject(s string) string {
	lower := strings.ToLower(s)
	if strings.HasPrefix(lower, "fwd:") || strings.HasPrefix(lower, "fw:") {
		return s
	}
	return "Fwd: " + s
}
