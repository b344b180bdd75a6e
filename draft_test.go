package gmailkit

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/jhillyerd/enmime"

	"github.com/maildock/gmailkit/internal/api"
)

func TestDraftSendFields(t *testing.T) {
	mock := api.NewMockService()
	c := testClient(mock)

	msg, err := c.Draft().
		To("a@x.com").
		Subject("s").
		Text("b").
		Send(context.Background())
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if msg.ID == "" {
		t.Error("sent message has no ID")
	}

	// Exactly one remote send call, carrying exactly the composed fields.
	if len(mock.SendCalls) != 1 {
		t.Fatalf("send calls = %d, want 1", len(mock.SendCalls))
	}
	call := mock.SendCalls[0]
	if call.ThreadID != "" {
		t.Errorf("threadID = %q, want empty for a fresh message", call.ThreadID)
	}

	env, err := enmime.ReadEnvelope(bytes.NewReader(call.Raw))
	if err != nil {
		t.Fatalf("parse sent payload: %v", err)
	}
	to, err := env.AddressList("To")
	if err != nil || len(to) != 1 || to[0].Address != "a@x.com" {
		t.Errorf("To = %v (%v)", to, err)
	}
	if got := env.GetHeader("Subject"); got != "s" {
		t.Errorf("Subject = %q", got)
	}
	if env.Text != "b" {
		t.Errorf("body = %q", env.Text)
	}
	if got := env.GetHeader("Cc"); got != "" {
		t.Errorf("unexpected Cc: %q", got)
	}
	if got := env.GetHeader("Bcc"); got != "" {
		t.Errorf("unexpected Bcc: %q", got)
	}
}

func TestDraftImmutability(t *testing.T) {
	mock := api.NewMockService()
	c := testClient(mock)
	ctx := context.Background()

	base := c.Draft().To("a@x.com").Subject("shared")
	one := base.Text("first body")
	two := base.Text("second body")

	if _, err := one.Send(ctx); err != nil {
		t.Fatalf("send one: %v", err)
	}
	if _, err := two.Send(ctx); err != nil {
		t.Fatalf("send two: %v", err)
	}

	if len(mock.SendCalls) != 2 {
		t.Fatalf("send calls = %d", len(mock.SendCalls))
	}
	env1, _ := enmime.ReadEnvelope(bytes.NewReader(mock.SendCalls[0].Raw))
	env2, _ := enmime.ReadEnvelope(bytes.NewReader(mock.SendCalls[1].Raw))
	if env1.Text != "first body" || env2.Text != "second body" {
		t.Errorf("branched drafts leaked state: %q / %q", env1.Text, env2.Text)
	}
}

func TestDraftSendRejected(t *testing.T) {
	mock := api.NewMockService()
	mock.SendError = &api.RemoteError{
		StatusCode: http.StatusBadRequest,
		Reason:     "invalidArgument",
		Message:    "Invalid To header",
	}
	c := testClient(mock)

	draft := c.Draft().To("not-an-address").Subject("s").Text("b")
	_, err := draft.Send(context.Background())
	if !errors.Is(err, ErrSend) {
		t.Fatalf("Send = %v, want ErrSend", err)
	}

	// The remote payload is preserved for programmatic handling.
	var re *RemoteError
	if !errors.As(err, &re) || re.Reason != "invalidArgument" {
		t.Errorf("remote detail lost: %v", err)
	}

	// The draft is unaffected; a corrected copy sends fine.
	mock.SendError = nil
	if _, err := draft.To("ok@x.com").Send(context.Background()); err != nil {
		t.Errorf("send after correction: %v", err)
	}
}

func TestDraftAttachments(t *testing.T) {
	mock := api.NewMockService()
	c := testClient(mock)

	_, err := c.Draft().
		To("a@x.com").
		Subject("files").
		Text("see attached").
		Attach("data.bin", []byte{0x01, 0x02, 0x03}, "application/octet-stream").
		Send(context.Background())
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	env, err := enmime.ReadEnvelope(bytes.NewReader(mock.SendCalls[0].Raw))
	if err != nil {
		t.Fatal(err)
	}
	if len(env.Attachments) != 1 {
		t.Fatalf("attachments = %d", len(env.Attachments))
	}
	a := env.Attachments[0]
	if a.FileName != "data.bin" {
		t.Errorf("filename = %q", a.FileName)
	}
	if !bytes.Equal(a.Content, []byte{0x01, 0x02, 0x03}) {
		t.Errorf("content = %v", a.Content)
	}
}

func TestReplyThreading(t *testing.T) {
	mock := api.NewMockService()
	c := testClient(mock)
	ctx := context.Background()

	part, err := enmime.Builder().
		From("", "alice@example.com").
		To("", "me@example.com").
		Subject("question").
		Header("Message-ID", "<orig-123@example.com>").
		Text([]byte("what's up?")).
		Build()
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if err := part.Encode(&buf); err != nil {
		t.Fatal(err)
	}
	mock.AddMessage("m1", buf.Bytes(), []string{"INBOX"})

	orig, err := c.Message(ctx, "m1")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := orig.Reply().Text("not much").Send(ctx); err != nil {
		t.Fatalf("reply send: %v", err)
	}

	call := mock.SendCalls[0]
	if call.ThreadID != orig.ThreadID {
		t.Errorf("threadID = %q, want %q", call.ThreadID, orig.ThreadID)
	}

	env, err := enmime.ReadEnvelope(bytes.NewReader(call.Raw))
	if err != nil {
		t.Fatal(err)
	}
	if got := env.GetHeader("Subject"); got != "Re: question" {
		t.Errorf("subject = %q", got)
	}
	to, _ := env.AddressList("To")
	if len(to) != 1 || to[0].Address != "alice@example.com" {
		t.Errorf("to = %v", to)
	}
	if got := env.GetHeader("In-Reply-To"); got != "<orig-123@example.com>" {
		t.Errorf("In-Reply-To = %q", got)
	}
}

func TestSaveAndSendDraft(t *testing.T) {
	mock := api.NewMockService()
	c := testClient(mock)
	ctx := context.Background()

	rd, err := c.Draft().To("a@x.com").Subject("later").Text("b").Save(ctx)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if rd.ID == "" || rd.MessageID == "" {
		t.Errorf("draft ref = %+v", rd)
	}
	if len(mock.SendCalls) != 0 {
		t.Errorf("save dispatched a send: %v", mock.SendCalls)
	}

	msg, err := rd.Send(ctx)
	if err != nil {
		t.Fatalf("send stored draft: %v", err)
	}
	if msg.ID == "" {
		t.Error("sent message has no ID")
	}
	if len(mock.DraftSendCalls) != 1 || mock.DraftSendCalls[0] != rd.ID {
		t.Errorf("draft send calls = %v", mock.DraftSendCalls)
	}
}

func TestDeleteDraft(t *testing.T) {
	mock := api.NewMockService()
	c := testClient(mock)
	ctx := context.Background()

	rd, err := c.Draft().To("a@x.com").Subject("discard").Text("b").Save(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if err := rd.Delete(ctx); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if len(mock.DraftDeleteCalls) != 1 {
		t.Errorf("draft delete calls = %v", mock.DraftDeleteCalls)
	}

	// Sending a deleted draft fails.
	if _, err := rd.Send(ctx); !errors.Is(err, ErrSend) {
		t.Errorf("send deleted draft = %v, want ErrSend", err)
	}
}

func TestDraftMissingRecipient(t *testing.T) {
	mock := api.NewMockService()
	c := testClient(mock)

	_, err := c.Draft().Subject("no recipients").Text("b").Send(context.Background())
	if err == nil {
		t.Fatal("expected error without recipients")
	}
	if len(mock.SendCalls) != 0 {
		t.Errorf("invalid draft reached the server: %v", mock.SendCalls)
	}
}
