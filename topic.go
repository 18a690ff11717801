package topicache

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"sync"
	"time"
)

// Value is one cached entry as returned by reads.
type Value struct {
	Data []byte
	// CreatedAt is the time the row was last written; Set replaces the
	// whole row, so this is a last-write time, not a first-insert time.
	CreatedAt time.Time
}

// Topic is a namespace handle bound to one table. Obtain it from
// Cache.Topic; handles are shared per name so the per-key update locks
// coordinate every caller in the process.
type Topic struct {
	state *cacheState
	name  string
	table string

	getStmt *sql.Stmt
	setStmt *sql.Stmt
	delStmt *sql.Stmt

	// mu guards waiters. An entry for a key, even with no waiter channels,
	// means the key is locked for update; absence means it is free.
	mu      sync.Mutex
	waiters map[string][]chan struct{}
}

// Name returns the topic name this handle was derived from.
func (t *Topic) Name() string { return t.name }

func (t *Topic) prepareStatements() error {
	d := t.state.cfg.Dialect
	var err error
	if t.getStmt, err = t.state.prepare(d.getSQL(t.table)); err != nil {
		return err
	}
	if t.setStmt, err = t.state.prepare(d.upsertSQL(t.table)); err != nil {
		return err
	}
	if t.delStmt, err = t.state.prepare(d.deleteSQL(t.table)); err != nil {
		return err
	}
	return nil
}

func (t *Topic) closeStatements() {
	for _, stmt := range []*sql.Stmt{t.getStmt, t.setStmt, t.delStmt} {
		if stmt != nil {
			_ = stmt.Close()
		}
	}
}

// Get returns the entry for key when present. A hit queues a deferred
// expiry refresh, so reading an entry keeps it alive without a synchronous
// write; the refresh is persisted by the next flush cycle.
//
// Example:
//
//	value, ok, err := users.Get("42")
func (t *Topic) Get(key string) (Value, bool, error) {
	return t.GetCtx(context.Background(), key)
}

// GetCtx is the context-aware variant of Get.
func (t *Topic) GetCtx(ctx context.Context, key string) (Value, bool, error) {
	start := time.Now()
	value, ok, err := t.load(ctx, key, true)
	t.state.observe(ctx, "get", t.name, key, ok, err, start)
	return value, ok, err
}

func (t *Topic) load(ctx context.Context, key string, refresh bool) (Value, bool, error) {
	var (
		raw       []byte
		createdAt int64
		ttl       int64
	)
	t.state.mu.Lock()
	err := t.getStmt.QueryRowContext(ctx, key).Scan(&raw, &createdAt, &ttl)
	t.state.mu.Unlock()
	if errors.Is(err, sql.ErrNoRows) {
		return Value{}, false, nil
	}
	if err != nil {
		return Value{}, false, err
	}
	data, err := t.state.codec.decode(raw)
	if err != nil {
		return Value{}, false, err
	}
	if refresh {
		now := time.Now().Unix()
		t.state.queueRefresh(t.table, key, saturatingExpiry(now, clampTTLSeconds(ttl, t.state.cfg.MaxTTL)))
	}
	return Value{Data: data, CreatedAt: time.Unix(createdAt, 0)}, true, nil
}

// Set writes the entry, replacing any existing row for key. The requested
// ttl is clamped to Config.MaxTTL when one is set. Any pending deferred
// expiry refresh for the key is discarded.
func (t *Topic) Set(key string, value []byte, ttl time.Duration) error {
	return t.SetCtx(context.Background(), key, value, ttl)
}

// SetCtx is the context-aware variant of Set.
func (t *Topic) SetCtx(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	start := time.Now()
	err := t.store(ctx, key, value, ttl)
	t.state.observe(ctx, "set", t.name, key, err == nil, err, start)
	return err
}

func (t *Topic) store(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	raw, err := t.state.codec.encode(value)
	if err != nil {
		return err
	}
	ttlSecs := clampTTLSeconds(int64(ttl/time.Second), t.state.cfg.MaxTTL)
	now := time.Now().Unix()
	t.state.mu.Lock()
	_, err = t.setStmt.ExecContext(ctx, key, raw, now, saturatingExpiry(now, ttlSecs), ttlSecs)
	t.state.mu.Unlock()
	if err != nil {
		return err
	}
	t.state.dropRefresh(t.table, key)
	return nil
}

// Delete removes the entry for key. Deleting an absent key is not an error.
func (t *Topic) Delete(key string) error {
	return t.DeleteCtx(context.Background(), key)
}

// DeleteCtx is the context-aware variant of Delete.
func (t *Topic) DeleteCtx(ctx context.Context, key string) error {
	start := time.Now()
	t.state.mu.Lock()
	_, err := t.delStmt.ExecContext(ctx, key)
	t.state.mu.Unlock()
	t.state.observe(ctx, "delete", t.name, key, err == nil, err, start)
	return err
}

// GetForUpdate acquires exclusive update rights for key and returns the
// current entry alongside the lock. When another caller holds the key, it
// blocks until the holder writes or discards; after a release every waiter
// retries and exactly one wins (no fairness order). The read does not queue
// an expiry refresh, since the holder is expected to write a fresh value.
//
// The returned lock must be consumed by Write or Discard:
//
//	lock, value, ok, err := users.GetForUpdate("42")
//	if err != nil {
//		return err
//	}
//	defer lock.Discard()
//	if !ok {
//		fresh, err := loadFromSource("42")
//		if err != nil {
//			return err // Discard releases, waiters observe the old state
//		}
//		return lock.Write(fresh, time.Hour)
//	}
//	_ = value
func (t *Topic) GetForUpdate(key string) (*UpdateLock, Value, bool, error) {
	return t.GetForUpdateCtx(context.Background(), key)
}

// GetForUpdateCtx is the context-aware variant of GetForUpdate. A caller
// cancelled while waiting simply drops out of the queue; it does not affect
// the holder or other waiters.
func (t *Topic) GetForUpdateCtx(ctx context.Context, key string) (*UpdateLock, Value, bool, error) {
	start := time.Now()
	for {
		t.mu.Lock()
		if chans, held := t.waiters[key]; held {
			wake := make(chan struct{})
			t.waiters[key] = append(chans, wake)
			t.mu.Unlock()
			select {
			case <-wake:
				continue
			case <-ctx.Done():
				t.state.observe(ctx, "get_for_update", t.name, key, false, ctx.Err(), start)
				return nil, Value{}, false, ctx.Err()
			}
		}
		// A present entry marks the key locked even with no waiters yet.
		t.waiters[key] = nil
		t.mu.Unlock()
		break
	}
	value, ok, err := t.load(ctx, key, false)
	if err != nil {
		t.release(key)
		t.state.observe(ctx, "get_for_update", t.name, key, false, err, start)
		return nil, Value{}, false, err
	}
	lock := &UpdateLock{topic: t, key: key}
	lock.held.Store(true)
	t.state.observe(ctx, "get_for_update", t.name, key, ok, nil, start)
	return lock, value, ok, nil
}

// release frees the key and wakes every queued waiter at once; the woken
// waiters race to reacquire.
func (t *Topic) release(key string) {
	t.mu.Lock()
	chans := t.waiters[key]
	delete(t.waiters, key)
	t.mu.Unlock()
	for _, ch := range chans {
		close(ch)
	}
}

// Remember returns the cached value for key, or computes and stores it via
// fn under the key's update lock so concurrent callers share a single
// computation.
//
// Example:
//
//	data, err := users.Remember("42", time.Hour, func() ([]byte, error) {
//		return fetchUser(42)
//	})
func (t *Topic) Remember(key string, ttl time.Duration, fn func() ([]byte, error)) ([]byte, error) {
	return t.RememberCtx(context.Background(), key, ttl, func(context.Context) ([]byte, error) {
		return fn()
	})
}

// RememberCtx is the context-aware variant of Remember.
func (t *Topic) RememberCtx(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) ([]byte, error)) ([]byte, error) {
	value, ok, err := t.GetCtx(ctx, key)
	if err != nil {
		return nil, err
	}
	if ok {
		return value.Data, nil
	}
	lock, value, ok, err := t.GetForUpdateCtx(ctx, key)
	if err != nil {
		return nil, err
	}
	if ok {
		// Another caller filled the key while we waited.
		lock.Discard()
		return value.Data, nil
	}
	data, err := fn(ctx)
	if err != nil {
		lock.Discard()
		return nil, err
	}
	if err := lock.WriteCtx(ctx, data, ttl); err != nil {
		return nil, err
	}
	return data, nil
}

// clampTTLSeconds bounds a requested ttl by the configured maximum.
func clampTTLSeconds(ttlSecs int64, maxTTL time.Duration) int64 {
	if ttlSecs < 0 {
		ttlSecs = 0
	}
	if maxTTL > 0 {
		if maxSecs := int64(maxTTL / time.Second); ttlSecs > maxSecs {
			ttlSecs = maxSecs
		}
	}
	return ttlSecs
}

// saturatingExpiry computes now+ttl clamped to the representable range.
func saturatingExpiry(now, ttlSecs int64) int64 {
	expiry := now + ttlSecs
	if expiry < now {
		return math.MaxInt64
	}
	return expiry
}
