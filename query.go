package gmailkit

import (
	"context"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/maildock/gmailkit/internal/api"
)

// Query is a composable message search. Each fluent call returns a new
// Query value; a Query already handed to another caller is never mutated.
// Results carry the server's own ordering (newest first) and are never
// re-sorted client side.
type Query struct {
	client           *Client
	criteria         []Criteria
	labelIDs         []string
	limit            int64 // total result cap; 0 is unlimited
	includeSpamTrash bool
}

// Where adds predicates to the query. All predicates compose by
// conjunction: a message matches only if it satisfies every one.
func (q Query) Where(cs ...Criteria) Query {
	combined := make([]Criteria, 0, len(q.criteria)+len(cs))
	combined = append(combined, q.criteria...)
	combined = append(combined, cs...)
	q.criteria = combined
	return q
}

// In scopes the query to messages carrying the given label, without the
// caller building that predicate by hand.
func (q Query) In(label *Label) Query {
	ids := make([]string, 0, len(q.labelIDs)+1)
	ids = append(ids, q.labelIDs...)
	ids = append(ids, label.ID())
	q.labelIDs = ids
	return q
}

// InCategory scopes the query to one of Gmail's inbox category tabs.
func (q Query) InCategory(c Category) Query {
	ids := make([]string, 0, len(q.labelIDs)+1)
	ids = append(ids, q.labelIDs...)
	ids = append(ids, string(c))
	q.labelIDs = ids
	return q
}

// Limit caps the total number of results across all pages.
func (q Query) Limit(n int64) Query {
	q.limit = n
	return q
}

// IncludeSpamTrash widens the search to messages in spam and trash.
func (q Query) IncludeSpamTrash() Query {
	q.includeSpamTrash = true
	return q
}

// String renders the composed predicates in Gmail search syntax.
func (q Query) String() string {
	parts := make([]string, 0, len(q.criteria))
	for _, c := range q.criteria {
		if s := c.String(); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " ")
}

func (q Query) listQuery(pageToken string, pageSize int64) api.ListQuery {
	return api.ListQuery{
		Query:            q.String(),
		LabelIDs:         append([]string(nil), q.labelIDs...),
		MaxResults:       pageSize,
		PageToken:        pageToken,
		IncludeSpamTrash: q.includeSpamTrash,
	}
}

// Execute starts the search. The returned iterator fetches pages on demand
// and is bounded only by remote pagination; cancellation flows through the
// context passed to each Next call. Calling Execute again re-issues the
// search from the first page.
func (q Query) Execute() *MessageIterator {
	return &MessageIterator{query: q}
}

// All runs the search to exhaustion and returns every matching message.
func (q Query) All(ctx context.Context) ([]*Message, error) {
	var out []*Message
	it := q.Execute()
	for {
		m, err := it.Next(ctx)
		if err == Done {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
}

// IDs runs the search and returns matching message identifiers without
// fetching message bodies.
func (q Query) IDs(ctx context.Context) ([]string, error) {
	var out []string
	pageToken := ""
	for {
		pageSize := q.client.pageSize
		if q.limit > 0 && q.limit-int64(len(out)) < pageSize {
			pageSize = q.limit - int64(len(out))
		}

		page, err := q.client.svc.ListMessages(ctx, q.listQuery(pageToken, pageSize))
		if err != nil {
			return nil, err
		}
		for _, ref := range page.Messages {
			out = append(out, ref.ID)
			if q.limit > 0 && int64(len(out)) >= q.limit {
				return out, nil
			}
		}
		if page.NextPageToken == "" {
			return out, nil
		}
		pageToken = page.NextPageToken
	}
}

// Bulk switches to batched whole-result-set operations over this query.
func (q Query) Bulk() Bulk {
	return Bulk{query: q}
}

// MessageIterator walks a search result one message at a time, fetching
// pages lazily and hydrating each page's messages with bounded parallelism
// while preserving the server's result order.
type MessageIterator struct {
	query     Query
	buffer    []*Message
	pos       int
	pageToken string
	started   bool
	yielded   int64
	done      bool
}

// Next returns the next matching message, or Done when the result set is
// exhausted.
func (it *MessageIterator) Next(ctx context.Context) (*Message, error) {
	for it.pos >= len(it.buffer) {
		if it.done {
			return nil, Done
		}
		if err := it.fetchPage(ctx); err != nil {
			return nil, err
		}
	}

	q := it.query
	if q.limit > 0 && it.yielded >= q.limit {
		return nil, Done
	}

	m := it.buffer[it.pos]
	it.pos++
	it.yielded++
	return m, nil
}

func (it *MessageIterator) fetchPage(ctx context.Context) error {
	q := it.query
	if it.started && it.pageToken == "" {
		it.done = true
		return nil
	}
	if q.limit > 0 && it.yielded >= q.limit {
		it.done = true
		return nil
	}

	pageSize := q.client.pageSize
	if q.limit > 0 && q.limit-it.yielded < pageSize {
		pageSize = q.limit - it.yielded
	}

	page, err := q.client.svc.ListMessages(ctx, q.listQuery(it.pageToken, pageSize))
	if err != nil {
		return err
	}
	it.started = true
	it.pageToken = page.NextPageToken
	if it.pageToken == "" {
		it.done = true
	}

	if len(page.Messages) == 0 {
		it.buffer = nil
		it.pos = 0
		return nil
	}

	messages, err := q.client.fetchMessages(ctx, page.Messages)
	if err != nil {
		return err
	}
	it.buffer = messages
	it.pos = 0
	return nil
}

// fetchMessages hydrates message references concurrently, placing results
// by index so the server's ordering survives.
func (c *Client) fetchMessages(ctx context.Context, refs []api.MessageRef) ([]*Message, error) {
	messages := make([]*Message, len(refs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i, ref := range refs {
		i, ref := i, ref
		g.Go(func() error {
			raw, err := c.svc.GetMessageRaw(gctx, ref.ID)
			if err != nil {
				return err
			}
			m, err := newMessageFromRaw(c, raw)
			if err != nil {
				return err
			}
			messages[i] = m
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return messages, nil
}
