package gmailkit

import (
	"bytes"
	"context"
	"fmt"

	"github.com/jhillyerd/enmime"
)

// Draft is a message under construction. Draft is an immutable value
// builder: every fluent call returns a new Draft, so a Draft handed to
// another caller is never changed out from under it. A Draft has no remote
// identity until Send or Save.
type Draft struct {
	client   *Client
	builder  enmime.MailBuilder
	threadID string
}

func newDraft(c *Client) Draft {
	b := enmime.Builder()
	if c.address != "" {
		b = b.From("", c.address)
	}
	return Draft{client: c, builder: b}
}

// From overrides the sender address, for accounts with send-as aliases.
func (d Draft) From(address string) Draft {
	d.builder = d.builder.From("", address)
	return d
}

// To adds recipients.
func (d Draft) To(addresses ...string) Draft {
	for _, a := range addresses {
		d.builder = d.builder.To("", a)
	}
	return d
}

// Cc adds carbon-copy recipients.
func (d Draft) Cc(addresses ...string) Draft {
	for _, a := range addresses {
		d.builder = d.builder.CC("", a)
	}
	return d
}

// Bcc adds blind-copy recipients.
func (d Draft) Bcc(addresses ...string) Draft {
	for _, a := range addresses {
		d.builder = d.builder.BCC("", a)
	}
	return d
}

// ReplyTo sets the Reply-To address.
func (d Draft) ReplyTo(address string) Draft {
	d.builder = d.builder.ReplyTo("", address)
	return d
}

// Subject sets the subject line.
func (d Draft) Subject(subject string) Draft {
	d.builder = d.builder.Subject(subject)
	return d
}

// Text sets the plain-text body.
func (d Draft) Text(body string) Draft {
	d.builder = d.builder.Text([]byte(body))
	return d
}

// HTML sets the HTML body.
func (d Draft) HTML(body string) Draft {
	d.builder = d.builder.HTML([]byte(body))
	return d
}

// Attach adds an attachment from memory.
func (d Draft) Attach(filename string, content []byte, contentType string) Draft {
	d.builder = d.builder.AddAttachment(content, contentType, filename)
	return d
}

// AttachFile adds an attachment from disk, detecting the content type from
// the file extension.
func (d Draft) AttachFile(path string) Draft {
	d.builder = d.builder.AddFileAttachment(path)
	return d
}

// Header sets an arbitrary message header.
func (d Draft) Header(name, value string) Draft {
	d.builder = d.builder.Header(name, value)
	return d
}

// threaded targets an existing conversation, used by Reply.
func (d Draft) threaded(threadID string) Draft {
	d.threadID = threadID
	return d
}

// encode renders the draft to RFC 2822 bytes.
func (d Draft) encode() ([]byte, error) {
	part, err := d.builder.Build()
	if err != nil {
		return nil, fmt.Errorf("build message: %w", err)
	}
	var buf bytes.Buffer
	if err := part.Encode(&buf); err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return buf.Bytes(), nil
}

// Send dispatches the draft. Remote rejection surfaces as ErrSend and is
// not retried; the Draft is unaffected and can be corrected and re-sent.
// On success the sent message is fetched back with its assigned identifiers.
func (d Draft) Send(ctx context.Context) (*Message, error) {
	raw, err := d.encode()
	if err != nil {
		return nil, err
	}

	ref, err := d.client.svc.SendMessage(ctx, raw, d.threadID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSend, err)
	}
	d.client.logger.Debug("sent message", "id", ref.ID, "thread", ref.ThreadID)

	return d.client.Message(ctx, ref.ID)
}

// Save stores the draft server-side without sending it.
func (d Draft) Save(ctx context.Context) (*RemoteDraft, error) {
	raw, err := d.encode()
	if err != nil {
		return nil, err
	}

	ref, err := d.client.svc.CreateDraft(ctx, raw, d.threadID)
	if err != nil {
		return nil, fmt.Errorf("save draft: %w", err)
	}
	return &RemoteDraft{client: d.client, ID: ref.ID, MessageID: ref.MessageID}, nil
}

// RemoteDraft is a draft stored server-side, visible under the DRAFT label.
type RemoteDraft struct {
	client *Client

	ID        string
	MessageID string
}

// Send dispatches the stored draft. Remote rejection surfaces as ErrSend.
func (rd *RemoteDraft) Send(ctx context.Context) (*Message, error) {
	ref, err := rd.client.svc.SendDraft(ctx, rd.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSend, err)
	}
	return rd.client.Message(ctx, ref.ID)
}

// Delete discards the stored draft without sending it.
func (rd *RemoteDraft) Delete(ctx context.Context) error {
	if err := rd.client.svc.DeleteDraft(ctx, rd.ID); err != nil {
		return fmt.Errorf("delete draft %s: %w", rd.ID, err)
	}
	return nil
}
