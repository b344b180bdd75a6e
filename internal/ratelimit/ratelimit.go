// Package ratelimit paces Gmail API calls against the per-user quota.
//
// Gmail accounts are budgeted in quota units per second, not requests per
// second, and different operations carry different costs. The limiter is a
// token bucket (golang.org/x/time/rate) denominated in quota units, with a
// throttle hook the transport uses to back off after 429/quota responses.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Operation identifies a Gmail API call for quota accounting.
type Operation int

const (
	OpProfile Operation = iota
	OpLabelsList
	OpLabelsGet
	OpLabelsCreate
	OpLabelsUpdate
	OpLabelsDelete
	OpMessagesList
	OpMessagesGet
	OpMessagesModify
	OpMessagesTrash
	OpMessagesUntrash
	OpMessagesDelete
	OpMessagesBatchModify
	OpMessagesBatchDelete
	OpMessagesSend
	OpDraftsCreate
	OpDraftsSend
	OpDraftsDelete
)

// Cost returns the documented quota cost for an operation.
func (o Operation) Cost() int {
	switch o {
	case OpMessagesSend, OpDraftsSend:
		return 100
	case OpMessagesBatchDelete:
		return 50
	case OpMessagesBatchModify:
		return 50
	case OpMessagesDelete:
		return 10
	case OpMessagesList, OpMessagesGet, OpMessagesModify, OpMessagesTrash,
		OpMessagesUntrash, OpLabelsCreate, OpLabelsUpdate,
		OpLabelsDelete, OpDraftsCreate, OpDraftsDelete:
		return 5
	default:
		return 1 // OpProfile, OpLabelsList, OpLabelsGet
	}
}

// DefaultUnitsPerSecond is a conservative fraction of Gmail's published
// 250 units/sec/user quota, leaving headroom for other clients of the
// same account.
const DefaultUnitsPerSecond = 50.0

// burstCapacity is the bucket size. Sending costs 100 units, so the bucket
// must hold at least one send.
const burstCapacity = 250

// Limiter paces API calls by quota cost.
type Limiter struct {
	limiter *rate.Limiter

	mu      sync.Mutex
	retryAt time.Time
}

// New creates a limiter refilling at unitsPerSecond quota units.
// Non-positive values fall back to DefaultUnitsPerSecond.
func New(unitsPerSecond float64) *Limiter {
	if unitsPerSecond <= 0 {
		unitsPerSecond = DefaultUnitsPerSecond
	}
	return &Limiter{
		limiter: rate.NewLimiter(rate.Limit(unitsPerSecond), burstCapacity),
	}
}

// Acquire blocks until the operation's quota cost is available, a throttle
// window has passed, or the context is cancelled.
func (l *Limiter) Acquire(ctx context.Context, op Operation) error {
	l.mu.Lock()
	wait := time.Until(l.retryAt)
	l.mu.Unlock()

	if wait > 0 {
		t := time.NewTimer(wait)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}

	return l.limiter.WaitN(ctx, op.Cost())
}

// Throttle suspends acquisition for d. The transport calls this after the
// server signals rate or quota exhaustion; concurrent throttles keep the
// latest deadline.
func (l *Limiter) Throttle(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	until := time.Now().Add(d)
	if until.After(l.retryAt) {
		l.retryAt = until
	}
}
