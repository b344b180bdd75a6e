package gmailkit

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/maildock/gmailkit/internal/api"
)

// LabelTree materializes the account's labels as a navigable hierarchy and
// caches the mapping from path to remote identifier. The tree loads lazily
// on first use and does not observe out-of-band label changes until
// Refresh; mutations through the tree keep the cache consistent.
type LabelTree struct {
	client *Client

	mu     sync.Mutex
	byID   map[string]*Label
	byPath map[string]*Label
	roots  map[string]*Label
	loaded bool
}

func newLabelTree(c *Client) *LabelTree {
	return &LabelTree{client: c}
}

// load fetches the remote listing and rebuilds the cache. Callers hold t.mu.
func (t *LabelTree) load(ctx context.Context) error {
	if t.loaded {
		return nil
	}

	labels, err := t.client.svc.ListLabels(ctx)
	if err != nil {
		return fmt.Errorf("list labels: %w", err)
	}

	t.rebuild(labels)
	return nil
}

// rebuild indexes a remote listing. Callers hold t.mu.
func (t *LabelTree) rebuild(labels []*api.Label) {
	t.byID = make(map[string]*Label, len(labels))
	t.byPath = make(map[string]*Label, len(labels))
	t.roots = make(map[string]*Label)

	// Parents before children so nesting links resolve in one pass.
	sorted := append([]*api.Label(nil), labels...)
	sort.Slice(sorted, func(i, j int) bool {
		return strings.Count(sorted[i].Name, "/") < strings.Count(sorted[j].Name, "/")
	})

	for _, al := range sorted {
		t.index(al)
	}
	t.loaded = true
}

// index adds one remote label to the cache. Callers hold t.mu.
func (t *LabelTree) index(al *api.Label) *Label {
	path := al.Name
	if al.Type == "system" {
		if friendly, ok := systemNames[al.ID]; ok {
			path = friendly
		}
	}

	l := &Label{
		tree:           t,
		id:             al.ID,
		path:           path,
		typ:            al.Type,
		children:       make(map[string]*Label),
		messagesTotal:  al.MessagesTotal,
		messagesUnread: al.MessagesUnread,
	}

	if i := strings.LastIndex(path, "/"); i >= 0 {
		if parent, ok := t.byPath[path[:i]]; ok {
			l.parent = parent
			parent.children[path[i+1:]] = l
		} else {
			t.roots[path] = l
		}
	} else {
		t.roots[path] = l
	}

	t.byID[al.ID] = l
	t.byPath[path] = l
	return l
}

// unindex removes one label from the cache, detaching it from its parent.
// Callers hold t.mu.
func (t *LabelTree) unindex(l *Label) {
	delete(t.byID, l.id)
	delete(t.byPath, l.path)
	delete(t.roots, l.path)
	if l.parent != nil {
		delete(l.parent.children, l.Name())
	}
}

// Refresh drops the cache and reloads the remote listing, picking up labels
// created or deleted by other actors.
func (t *LabelTree) Refresh(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.loaded = false
	return t.load(ctx)
}

// All returns every label, sorted by path.
func (t *LabelTree) All(ctx context.Context) ([]*Label, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.load(ctx); err != nil {
		return nil, err
	}
	return sortedLabels(t.byPath), nil
}

// Roots returns the top-level labels, sorted by path.
func (t *LabelTree) Roots(ctx context.Context) ([]*Label, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.load(ctx); err != nil {
		return nil, err
	}
	return sortedLabels(t.roots), nil
}

// Resolve looks up a label by its slash-separated path. System labels
// resolve under their display name ("Inbox") or their raw identifier
// ("INBOX"). Unknown paths fail with ErrLabelNotFound.
func (t *LabelTree) Resolve(ctx context.Context, path string) (*Label, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.load(ctx); err != nil {
		return nil, err
	}
	return t.lookup(path)
}

// lookup finds a cached label by path or system ID. Callers hold t.mu.
func (t *LabelTree) lookup(path string) (*Label, error) {
	if l, ok := t.byPath[path]; ok {
		return l, nil
	}
	if l, ok := t.byID[path]; ok {
		return l, nil
	}
	return nil, fmt.Errorf("%q: %w", path, ErrLabelNotFound)
}

// ByID looks up a label by its remote identifier.
func (t *LabelTree) ByID(ctx context.Context, id string) (*Label, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.load(ctx); err != nil {
		return nil, err
	}
	if l, ok := t.byID[id]; ok {
		return l, nil
	}
	return nil, fmt.Errorf("%q: %w", id, ErrLabelNotFound)
}

// Category returns the label behind one of Gmail's inbox category tabs.
func (t *LabelTree) Category(ctx context.Context, c Category) (*Label, error) {
	return t.ByID(ctx, string(c))
}

// Create resolves path, creating the label and any missing ancestors,
// front to back. Creating an existing path is idempotent and returns the
// cached label. If creation fails partway, ancestors created so far are
// kept; a retry continues from where it stopped.
func (t *LabelTree) Create(ctx context.Context, path string) (*Label, error) {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil, fmt.Errorf("empty label path: %w", ErrLabelNotFound)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.load(ctx); err != nil {
		return nil, err
	}

	segments := strings.Split(path, "/")
	var current *Label
	for i := range segments {
		prefix := strings.Join(segments[:i+1], "/")
		if l, ok := t.byPath[prefix]; ok {
			current = l
			continue
		}

		created, err := t.client.svc.CreateLabel(ctx, &api.LabelRequest{
			Name:                  prefix,
			MessageListVisibility: "show",
			LabelListVisibility:   "labelShow",
		})
		if err != nil {
			return nil, fmt.Errorf("create label %q: %w", prefix, err)
		}
		current = t.index(created)
		t.client.logger.Debug("created label", "path", prefix, "id", created.ID)
	}
	return current, nil
}

// Delete removes a label. Labels with nested children fail with
// ErrLabelHasChildren unless cascade is set, in which case descendants are
// deleted deepest first. Cached children are detached as they go; messages
// keep their other labels.
func (t *LabelTree) Delete(ctx context.Context, label *Label, cascade bool) error {
	if label == nil {
		return ErrLabelNotFound
	}
	if label.IsSystem() {
		return fmt.Errorf("cannot delete system label %q", label.Path())
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if len(label.children) > 0 && !cascade {
		return fmt.Errorf("%q: %w", label.Path(), ErrLabelHasChildren)
	}

	victims := []*Label{label}
	if cascade {
		victims = append(victims, descendants(label)...)
	}
	// Deepest first so no label is removed while children remain.
	sort.Slice(victims, func(i, j int) bool {
		return strings.Count(victims[i].path, "/") > strings.Count(victims[j].path, "/")
	})

	for _, v := range victims {
		if err := t.client.svc.DeleteLabel(ctx, v.id); err != nil {
			if api.IsNotFound(err) {
				t.unindex(v)
				continue
			}
			return fmt.Errorf("delete label %q: %w", v.Path(), err)
		}
		t.unindex(v)
		t.client.logger.Debug("deleted label", "path", v.path, "id", v.id)
	}
	return nil
}

// Rename changes a user label's display path, keeping its identifier and
// message membership.
func (t *LabelTree) Rename(ctx context.Context, label *Label, newPath string) (*Label, error) {
	if label == nil {
		return nil, ErrLabelNotFound
	}
	if label.IsSystem() {
		return nil, fmt.Errorf("cannot rename system label %q", label.Path())
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	updated, err := t.client.svc.UpdateLabel(ctx, label.id, &api.LabelRequest{Name: newPath})
	if err != nil {
		if api.IsNotFound(err) {
			return nil, fmt.Errorf("%q: %w", label.Path(), ErrLabelNotFound)
		}
		return nil, fmt.Errorf("rename label %q: %w", label.Path(), err)
	}

	t.unindex(label)
	return t.index(updated), nil
}

func descendants(l *Label) []*Label {
	var out []*Label
	for _, c := range l.children {
		out = append(out, c)
		out = append(out, descendants(c)...)
	}
	return out
}

func sortedLabels(m map[string]*Label) []*Label {
	out := make([]*Label, 0, len(m))
	seen := make(map[string]bool, len(m))
	for _, l := range m {
		if !seen[l.id] {
			seen[l.id] = true
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].path < out[j].path })
	return out
}
