package topicache

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

// ErrLockReleased is returned when an UpdateLock is used after Write or
// Discard already consumed it.
var ErrLockReleased = errors.New("topicache: update lock already released")

// UpdateLock is a single-owner token granting exclusive update rights over
// one key in one topic. It is consumed by Write, or released unused by
// Discard; either way the key is freed and all waiters are woken.
type UpdateLock struct {
	topic *Topic
	key   string
	held  atomic.Bool
}

// Key returns the key this lock covers.
func (l *UpdateLock) Key() string { return l.key }

// Write persists value with ttl and releases the lock. The lock is released
// even when the write fails, so waiters are never stranded behind a broken
// holder.
func (l *UpdateLock) Write(value []byte, ttl time.Duration) error {
	return l.WriteCtx(context.Background(), value, ttl)
}

// WriteCtx is the context-aware variant of Write.
func (l *UpdateLock) WriteCtx(ctx context.Context, value []byte, ttl time.Duration) error {
	if !l.held.CompareAndSwap(true, false) {
		return ErrLockReleased
	}
	start := time.Now()
	err := l.topic.store(ctx, l.key, value, ttl)
	l.topic.release(l.key)
	l.topic.state.observe(ctx, "write", l.topic.name, l.key, err == nil, err, start)
	return err
}

// Discard releases the lock without writing, abandoning the update. Waiters
// wake and observe whatever state preceded the lock. Safe to call after
// Write or a previous Discard; extra calls are no-ops, which makes
// "defer lock.Discard()" the usual cleanup.
func (l *UpdateLock) Discard() {
	if !l.held.CompareAndSwap(true, false) {
		return
	}
	l.topic.release(l.key)
}
