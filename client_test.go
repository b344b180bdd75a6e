package gmailkit

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/maildock/gmailkit/internal/testutil/fakegmail"
)

func newFakeClient(t *testing.T) (*Client, *fakegmail.Server) {
	t.Helper()
	srv := fakegmail.New("me@example.com")
	t.Cleanup(srv.Close)

	c, err := New(context.Background(), nil, WithEndpoint(srv.URL()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c, srv
}

func TestNewFetchesProfile(t *testing.T) {
	c, _ := newFakeClient(t)
	if c.Address() != "me@example.com" {
		t.Errorf("Address = %q", c.Address())
	}
}

func sortedCopy(ids []string) []string {
	out := append([]string(nil), ids...)
	sort.Strings(out)
	return out
}

func TestConjunctionLaw(t *testing.T) {
	c, srv := newFakeClient(t)
	ctx := context.Background()

	srv.AddMessage(fakegmail.MessageSpec{
		From: "alice@example.com", To: []string{"me@example.com"},
		Subject: "with attachment", Text: "a",
		Labels:      []string{"INBOX"},
		Attachments: map[string][]byte{"a.txt": []byte("x")},
	})
	srv.AddMessage(fakegmail.MessageSpec{
		From: "alice@example.com", To: []string{"me@example.com"},
		Subject: "no attachment", Text: "b",
		Labels: []string{"INBOX"},
	})
	srv.AddMessage(fakegmail.MessageSpec{
		From: "bob@example.com", To: []string{"me@example.com"},
		Subject: "other sender", Text: "c",
		Labels:      []string{"INBOX"},
		Attachments: map[string][]byte{"b.txt": []byte("y")},
	})

	p1 := From("alice@example.com")
	p2 := HasAttachment()

	ids1, err := c.Query().Where(p1).IDs(ctx)
	if err != nil {
		t.Fatal(err)
	}
	ids2, err := c.Query().Where(p2).IDs(ctx)
	if err != nil {
		t.Fatal(err)
	}
	both, err := c.Query().Where(p1, p2).IDs(ctx)
	if err != nil {
		t.Fatal(err)
	}

	// The composed query returns exactly the intersection.
	set2 := make(map[string]bool, len(ids2))
	for _, id := range ids2 {
		set2[id] = true
	}
	var intersection []string
	for _, id := range ids1 {
		if set2[id] {
			intersection = append(intersection, id)
		}
	}

	if diff := cmp.Diff(sortedCopy(intersection), sortedCopy(both)); diff != "" {
		t.Errorf("conjunction law violated (-intersection +composed):\n%s", diff)
	}
	if len(both) != 1 {
		t.Errorf("composed result = %v, want exactly the alice-with-attachment message", both)
	}
}

func TestSearchPaginationAndOrder(t *testing.T) {
	c, srv := newFakeClient(t)
	c.pageSize = 2
	ctx := context.Background()

	base := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	var seeded []string
	for i := 0; i < 5; i++ {
		id := srv.AddMessage(fakegmail.MessageSpec{
			From: "alice@example.com", To: []string{"me@example.com"},
			Subject: "paged", Text: "b",
			Labels: []string{"INBOX"},
			Date:   base.Add(time.Duration(i) * time.Hour),
		})
		seeded = append(seeded, id)
	}

	msgs, err := c.Query().Where(From("alice@example.com")).All(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 5 {
		t.Fatalf("len = %d, want 5 across pages", len(msgs))
	}

	// Newest first, the server's ordering, never re-sorted client-side.
	for i := range msgs {
		want := seeded[len(seeded)-1-i]
		if msgs[i].ID != want {
			t.Errorf("position %d = %s, want %s", i, msgs[i].ID, want)
		}
	}
}

func TestLabelLifecycleEndToEnd(t *testing.T) {
	c, _ := newFakeClient(t)
	ctx := context.Background()

	created, err := c.Labels().Create(ctx, "Projects/Beta")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	resolved, err := c.Labels().Resolve(ctx, "Projects/Beta")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if resolved.ID() != created.ID() {
		t.Errorf("resolve id = %q, create id = %q", resolved.ID(), created.ID())
	}

	parent, err := c.Labels().Resolve(ctx, "Projects")
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Labels().Delete(ctx, parent, false); !errors.Is(err, ErrLabelHasChildren) {
		t.Fatalf("Delete with child = %v, want ErrLabelHasChildren", err)
	}

	if err := c.Labels().Delete(ctx, parent, true); err != nil {
		t.Fatalf("cascade delete: %v", err)
	}
	if _, err := c.Labels().Resolve(ctx, "Projects/Beta"); !errors.Is(err, ErrLabelNotFound) {
		t.Errorf("Resolve after cascade = %v, want ErrLabelNotFound", err)
	}
}

func TestMessageLabelRoundTripEndToEnd(t *testing.T) {
	c, srv := newFakeClient(t)
	ctx := context.Background()

	id := srv.AddMessage(fakegmail.MessageSpec{
		From: "alice@example.com", To: []string{"me@example.com"},
		Subject: "tag me", Text: "b",
		Labels: []string{"INBOX", "UNREAD"},
	})

	label, err := c.Labels().Create(ctx, "Receipts")
	if err != nil {
		t.Fatal(err)
	}

	m, err := c.Message(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if err := m.AddLabels(ctx, label); err != nil {
		t.Fatal(err)
	}
	if err := m.MarkRead(ctx); err != nil {
		t.Fatal(err)
	}

	got := srv.MessageLabels(id)
	want := map[string]bool{"INBOX": true, label.ID(): true}
	for _, lid := range got {
		if !want[lid] {
			t.Errorf("unexpected label %q on server: %v", lid, got)
		}
		delete(want, lid)
	}
	for lid := range want {
		t.Errorf("label %q missing on server: %v", lid, got)
	}
}

func TestBulkOperations(t *testing.T) {
	c, srv := newFakeClient(t)
	ctx := context.Background()

	var alice []string
	for i := 0; i < 3; i++ {
		alice = append(alice, srv.AddMessage(fakegmail.MessageSpec{
			From: "alice@example.com", To: []string{"me@example.com"},
			Subject: "bulk", Text: "b",
			Labels: []string{"INBOX", "UNREAD"},
		}))
	}
	bob := srv.AddMessage(fakegmail.MessageSpec{
		From: "bob@example.com", To: []string{"me@example.com"},
		Subject: "keep", Text: "b",
		Labels: []string{"INBOX", "UNREAD"},
	})

	n, err := c.Query().Where(From("alice@example.com")).Bulk().MarkRead(ctx)
	if err != nil {
		t.Fatalf("bulk MarkRead: %v", err)
	}
	if n != 3 {
		t.Errorf("covered = %d, want 3", n)
	}
	for _, id := range alice {
		for _, lid := range srv.MessageLabels(id) {
			if lid == "UNREAD" {
				t.Errorf("message %s still unread", id)
			}
		}
	}
	// The non-matching message is untouched.
	stillUnread := false
	for _, lid := range srv.MessageLabels(bob) {
		if lid == "UNREAD" {
			stillUnread = true
		}
	}
	if !stillUnread {
		t.Error("bulk operation touched a non-matching message")
	}

	n, err = c.Query().Where(From("alice@example.com")).Bulk().Delete(ctx)
	if err != nil {
		t.Fatalf("bulk Delete: %v", err)
	}
	if n != 3 {
		t.Errorf("deleted = %d, want 3", n)
	}
	for _, id := range alice {
		if srv.HasMessage(id) {
			t.Errorf("message %s survived bulk delete", id)
		}
	}
	if !srv.HasMessage(bob) {
		t.Error("bulk delete removed a non-matching message")
	}
}

func TestSendEndToEnd(t *testing.T) {
	c, srv := newFakeClient(t)
	ctx := context.Background()

	msg, err := c.Draft().
		To("dest@example.com").
		Subject("hello").
		Text("over the wire").
		Send(ctx)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if msg.Subject != "hello" {
		t.Errorf("fetched sent message subject = %q", msg.Subject)
	}
	if len(srv.SendRequests) != 1 {
		t.Errorf("send requests = %d", len(srv.SendRequests))
	}
}

func TestSendRejectedEndToEnd(t *testing.T) {
	c, srv := newFakeClient(t)
	srv.FailSendWith = 400

	_, err := c.Draft().To("dest@example.com").Subject("s").Text("b").Send(context.Background())
	if !errors.Is(err, ErrSend) {
		t.Fatalf("Send = %v, want ErrSend", err)
	}

	var re *RemoteError
	if !errors.As(err, &re) || re.StatusCode != 400 {
		t.Errorf("remote detail lost: %v", err)
	}
}
