package gmailkit

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/maildock/gmailkit/internal/api"
)

func seedLabels(mock *api.MockService, names ...string) {
	mock.AddLabel(&api.Label{ID: "INBOX", Name: "INBOX", Type: "system"})
	mock.AddLabel(&api.Label{ID: "SENT", Name: "SENT", Type: "system"})
	mock.AddLabel(&api.Label{ID: "CATEGORY_SOCIAL", Name: "CATEGORY_SOCIAL", Type: "system"})
	for i, name := range names {
		mock.AddLabel(&api.Label{ID: labelID(i), Name: name, Type: "user"})
	}
}

func labelID(i int) string {
	return string(rune('A'+i)) + "_seed"
}

func TestResolve(t *testing.T) {
	mock := api.NewMockService()
	seedLabels(mock, "Receipts", "Receipts/2026", "Receipts/2026/Travel")
	c := testClient(mock)
	ctx := context.Background()

	tests := []struct {
		name    string
		path    string
		wantID  string
		wantErr bool
	}{
		{"root user label", "Receipts", labelID(0), false},
		{"nested label", "Receipts/2026", labelID(1), false},
		{"deeply nested", "Receipts/2026/Travel", labelID(2), false},
		{"system by display name", "Inbox", "INBOX", false},
		{"system by raw id", "INBOX", "INBOX", false},
		{"unknown path", "Receipts/2027", "", true},
		{"unknown root", "Nonexistent", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := c.Labels().Resolve(ctx, tt.path)
			if tt.wantErr {
				if !errors.Is(err, ErrLabelNotFound) {
					t.Fatalf("Resolve(%q) err = %v, want ErrLabelNotFound", tt.path, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve(%q): %v", tt.path, err)
			}
			if l.ID() != tt.wantID {
				t.Errorf("Resolve(%q).ID = %q, want %q", tt.path, l.ID(), tt.wantID)
			}
		})
	}
}

func TestTreeNavigation(t *testing.T) {
	mock := api.NewMockService()
	seedLabels(mock, "Receipts", "Receipts/2026", "Receipts/2025")
	c := testClient(mock)
	ctx := context.Background()

	root, err := c.Labels().Resolve(ctx, "Receipts")
	if err != nil {
		t.Fatal(err)
	}

	children := root.Children()
	var paths []string
	for _, child := range children {
		paths = append(paths, child.Path())
		if child.Parent() != root {
			t.Errorf("child %q parent = %v", child.Path(), child.Parent())
		}
	}
	want := []string{"Receipts/2025", "Receipts/2026"}
	if diff := cmp.Diff(want, paths); diff != "" {
		t.Errorf("children mismatch (-want +got):\n%s", diff)
	}

	child, err := root.Child("2026")
	if err != nil {
		t.Fatalf("Child: %v", err)
	}
	if child.Name() != "2026" {
		t.Errorf("Name = %q", child.Name())
	}

	if _, err := root.Child("2027"); !errors.Is(err, ErrLabelNotFound) {
		t.Errorf("Child on unknown segment = %v, want ErrLabelNotFound", err)
	}
}

func TestCreateWithAncestors(t *testing.T) {
	mock := api.NewMockService()
	seedLabels(mock)
	c := testClient(mock)
	ctx := context.Background()

	l, err := c.Labels().Create(ctx, "Projects/Alpha/Specs")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if l.Path() != "Projects/Alpha/Specs" {
		t.Errorf("path = %q", l.Path())
	}

	// Ancestors are created front to back.
	want := []string{"Projects", "Projects/Alpha", "Projects/Alpha/Specs"}
	if diff := cmp.Diff(want, mock.CreateLabelCalls); diff != "" {
		t.Errorf("create order mismatch (-want +got):\n%s", diff)
	}

	// Every ancestor resolves afterwards.
	for _, path := range want {
		if _, err := c.Labels().Resolve(ctx, path); err != nil {
			t.Errorf("Resolve(%q) after create: %v", path, err)
		}
	}
}

func TestCreateExistingIsIdempotent(t *testing.T) {
	mock := api.NewMockService()
	seedLabels(mock, "Receipts", "Receipts/2026")
	c := testClient(mock)
	ctx := context.Background()

	resolved, err := c.Labels().Resolve(ctx, "Receipts/2026")
	if err != nil {
		t.Fatal(err)
	}

	created, err := c.Labels().Create(ctx, "Receipts/2026")
	if err != nil {
		t.Fatalf("Create on existing path: %v", err)
	}
	if created.ID() != resolved.ID() {
		t.Errorf("Create returned %q, Resolve returned %q", created.ID(), resolved.ID())
	}
	if len(mock.CreateLabelCalls) != 0 {
		t.Errorf("Create issued remote calls for existing path: %v", mock.CreateLabelCalls)
	}
}

func TestCreateExtendsExistingPrefix(t *testing.T) {
	mock := api.NewMockService()
	seedLabels(mock, "Receipts")
	c := testClient(mock)

	l, err := c.Labels().Create(context.Background(), "Receipts/2026")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if l.Path() != "Receipts/2026" {
		t.Errorf("path = %q", l.Path())
	}
	if diff := cmp.Diff([]string{"Receipts/2026"}, mock.CreateLabelCalls); diff != "" {
		t.Errorf("only the missing segment should be created (-want +got):\n%s", diff)
	}
}

func TestDeleteRefusesChildren(t *testing.T) {
	mock := api.NewMockService()
	seedLabels(mock, "Receipts", "Receipts/2026")
	c := testClient(mock)
	ctx := context.Background()

	root, err := c.Labels().Resolve(ctx, "Receipts")
	if err != nil {
		t.Fatal(err)
	}

	err = c.Labels().Delete(ctx, root, false)
	if !errors.Is(err, ErrLabelHasChildren) {
		t.Fatalf("Delete = %v, want ErrLabelHasChildren", err)
	}
	if len(mock.DeleteLabelCalls) != 0 {
		t.Errorf("refused delete still issued remote calls: %v", mock.DeleteLabelCalls)
	}

	// The label is still resolvable.
	if _, err := c.Labels().Resolve(ctx, "Receipts"); err != nil {
		t.Errorf("Resolve after refused delete: %v", err)
	}
}

func TestDeleteCascade(t *testing.T) {
	mock := api.NewMockService()
	seedLabels(mock, "Receipts", "Receipts/2026", "Receipts/2026/Travel", "Receipts/2025")
	c := testClient(mock)
	ctx := context.Background()

	root, err := c.Labels().Resolve(ctx, "Receipts")
	if err != nil {
		t.Fatal(err)
	}

	if err := c.Labels().Delete(ctx, root, true); err != nil {
		t.Fatalf("cascade delete: %v", err)
	}

	// Deepest labels go first so the server never sees an orphaned child.
	if len(mock.DeleteLabelCalls) != 4 {
		t.Fatalf("delete calls = %v", mock.DeleteLabelCalls)
	}
	if mock.DeleteLabelCalls[0] != labelID(2) {
		t.Errorf("first deletion = %q, want deepest %q", mock.DeleteLabelCalls[0], labelID(2))
	}
	if mock.DeleteLabelCalls[3] != labelID(0) {
		t.Errorf("last deletion = %q, want root %q", mock.DeleteLabelCalls[3], labelID(0))
	}

	// Every former path now fails to resolve.
	for _, path := range []string{"Receipts", "Receipts/2026", "Receipts/2026/Travel", "Receipts/2025"} {
		if _, err := c.Labels().Resolve(ctx, path); !errors.Is(err, ErrLabelNotFound) {
			t.Errorf("Resolve(%q) after cascade = %v, want ErrLabelNotFound", path, err)
		}
	}
}

func TestDeleteLeaf(t *testing.T) {
	mock := api.NewMockService()
	seedLabels(mock, "Receipts", "Receipts/2026")
	c := testClient(mock)
	ctx := context.Background()

	leaf, err := c.Labels().Resolve(ctx, "Receipts/2026")
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Labels().Delete(ctx, leaf, false); err != nil {
		t.Fatalf("Delete leaf: %v", err)
	}

	if _, err := c.Labels().Resolve(ctx, "Receipts/2026"); !errors.Is(err, ErrLabelNotFound) {
		t.Errorf("Resolve after delete = %v", err)
	}
	// Parent is detached from the deleted child.
	parent, err := c.Labels().Resolve(ctx, "Receipts")
	if err != nil {
		t.Fatal(err)
	}
	if len(parent.Children()) != 0 {
		t.Errorf("parent still has children: %v", parent.Children())
	}
}

func TestDeleteSystemLabelRefused(t *testing.T) {
	mock := api.NewMockService()
	seedLabels(mock)
	c := testClient(mock)
	ctx := context.Background()

	inbox, err := c.Labels().Resolve(ctx, "Inbox")
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Labels().Delete(ctx, inbox, false); err == nil {
		t.Error("expected error deleting system label")
	}
}

func TestCategory(t *testing.T) {
	mock := api.NewMockService()
	seedLabels(mock)
	c := testClient(mock)

	l, err := c.Labels().Category(context.Background(), CategorySocial)
	if err != nil {
		t.Fatalf("Category: %v", err)
	}
	if l.ID() != "CATEGORY_SOCIAL" {
		t.Errorf("id = %q", l.ID())
	}
	if l.Name() != "Social" {
		t.Errorf("name = %q", l.Name())
	}
}

func TestRefreshPicksUpRemoteChanges(t *testing.T) {
	mock := api.NewMockService()
	seedLabels(mock, "Receipts")
	c := testClient(mock)
	ctx := context.Background()

	if _, err := c.Labels().Resolve(ctx, "Receipts"); err != nil {
		t.Fatal(err)
	}

	// A label created by another actor is invisible until Refresh.
	mock.AddLabel(&api.Label{ID: "Label_new", Name: "Invoices", Type: "user"})
	if _, err := c.Labels().Resolve(ctx, "Invoices"); !errors.Is(err, ErrLabelNotFound) {
		t.Fatalf("Resolve before refresh = %v, want ErrLabelNotFound", err)
	}

	if err := c.Labels().Refresh(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Labels().Resolve(ctx, "Invoices"); err != nil {
		t.Errorf("Resolve after refresh: %v", err)
	}
}
