package gmailkit

import (
	"context"
	"fmt"
)

// batchLimit is the server's cap on IDs per batchModify/batchDelete call.
const batchLimit = 1000

// Bulk applies one operation to every message matching a query, using the
// server's batch endpoints instead of per-message calls. Each method
// collects the matching IDs first, then mutates in chunks, and returns how
// many messages were covered.
type Bulk struct {
	query Query
}

// apply runs fn over the matching IDs in server-sized chunks.
func (b Bulk) apply(ctx context.Context, fn func(ctx context.Context, ids []string) error) (int, error) {
	ids, err := b.query.IDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("collect message ids: %w", err)
	}

	for start := 0; start < len(ids); start += batchLimit {
		end := start + batchLimit
		if end > len(ids) {
			end = len(ids)
		}
		if err := fn(ctx, ids[start:end]); err != nil {
			return start, err
		}
	}
	return len(ids), nil
}

// AddLabels attaches labels to every matching message.
func (b Bulk) AddLabels(ctx context.Context, labels ...*Label) (int, error) {
	add := make([]string, len(labels))
	for i, l := range labels {
		add[i] = l.ID()
	}
	return b.apply(ctx, func(ctx context.Context, ids []string) error {
		return b.query.client.svc.BatchModifyMessages(ctx, ids, add, nil)
	})
}

// RemoveLabels detaches labels from every matching message.
func (b Bulk) RemoveLabels(ctx context.Context, labels ...*Label) (int, error) {
	remove := make([]string, len(labels))
	for i, l := range labels {
		remove[i] = l.ID()
	}
	return b.apply(ctx, func(ctx context.Context, ids []string) error {
		return b.query.client.svc.BatchModifyMessages(ctx, ids, nil, remove)
	})
}

// MarkRead clears UNREAD on every matching message.
func (b Bulk) MarkRead(ctx context.Context) (int, error) {
	return b.apply(ctx, func(ctx context.Context, ids []string) error {
		return b.query.client.svc.BatchModifyMessages(ctx, ids, nil, []string{"UNREAD"})
	})
}

// Archive removes every matching message from the inbox.
func (b Bulk) Archive(ctx context.Context) (int, error) {
	return b.apply(ctx, func(ctx context.Context, ids []string) error {
		return b.query.client.svc.BatchModifyMessages(ctx, ids, nil, []string{"INBOX"})
	})
}

// Trash moves every matching message to trash via label modification,
// which unlike per-message trash calls batches server-side.
func (b Bulk) Trash(ctx context.Context) (int, error) {
	return b.apply(ctx, func(ctx context.Context, ids []string) error {
		return b.query.client.svc.BatchModifyMessages(ctx, ids, []string{"TRASH"}, []string{"INBOX"})
	})
}

// Delete permanently deletes every matching message. Requires the full
// mail scope; gmail.modify grants cannot batch-delete.
func (b Bulk) Delete(ctx context.Context) (int, error) {
	return b.apply(ctx, func(ctx context.Context, ids []string) error {
		return b.query.client.svc.BatchDeleteMessages(ctx, ids)
	})
}
