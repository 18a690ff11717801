package topicache

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
	"weak"
)

// Cache is the root handle for a topic cache bound to one database.
//
// A Cache owns a single shared connection, the deferred expiry-refresh
// batch, and the background maintenance loop. Close stops the loop before
// the connection is released; every Cache must be closed.
type Cache struct {
	state *cacheState
}

// cacheState is the shared controller state. Topic handles keep it alive;
// the maintenance loop deliberately does not (see maintain).
type cacheState struct {
	cfg    Config
	db     *sql.DB
	ownsDB bool
	codec  valueCodec

	observer atomic.Pointer[Observer]

	// mu serializes individual statements on the shared connection. It is
	// never held across a wait on another lock or channel.
	mu sync.Mutex

	pendingMu sync.Mutex
	pending   map[pendingKey]int64

	topicsMu sync.Mutex
	topics   map[string]*Topic

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// pendingKey addresses one deferred expiry update.
type pendingKey struct {
	table string
	key   string
}

// New constructs a Cache over an existing database handle. The handle is
// restricted to a single open connection; all further access to it must go
// through the returned Cache. The caller keeps ownership of db and must
// close it after Close returns.
func New(cfg Config, db *sql.DB) (*Cache, error) {
	return newCache(cfg, db, false)
}

// Open constructs a Cache by opening cfg.DSN with the dialect's driver.
// Close releases the database handle.
//
// Example:
//
//	cache, err := topicache.Open(topicache.Config{DSN: "file:app.db"})
func Open(cfg Config) (*Cache, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	db, err := sql.Open(cfg.Dialect.driverName(), cfg.DSN)
	if err != nil {
		return nil, err
	}
	cache, err := newCache(cfg, db, true)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return cache, nil
}

func newCache(cfg Config, db *sql.DB, ownsDB bool) (*Cache, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	codec, err := newValueCodec(cfg.Compression, cfg.EncryptionKey)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	s := &cacheState{
		cfg:     cfg,
		db:      db,
		ownsDB:  ownsDB,
		codec:   codec,
		pending: make(map[pendingKey]int64),
		topics:  make(map[string]*Topic),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	if err := s.enableDurability(context.Background()); err != nil {
		return nil, fmt.Errorf("topicache: enable durability: %w", err)
	}
	go maintain(cfg, s.stop, s.done, weak.Make(s))
	return &Cache{state: s}, nil
}

// WithObserver attaches an observer receiving an event per operation.
// Safe to attach or swap while the cache is in use.
func (c *Cache) WithObserver(o Observer) *Cache {
	c.state.observer.Store(&o)
	return c
}

// Topic returns the handle for the named topic, provisioning its table and
// expiry index on first use. Handles are shared: repeated calls with the
// same name return the same handle, so the per-key update locks taken
// through it are exclusive across the whole process.
//
// Names are encoded into table identifiers, and postgres and MySQL cap
// identifier length (63 and 64 bytes). A name whose encoding would exceed
// the active dialect's cap is rejected with ErrTopicNameTooLong; in
// practice that bounds postgres topic names at 29 bytes.
func (c *Cache) Topic(name string) (*Topic, error) {
	s := c.state
	s.topicsMu.Lock()
	defer s.topicsMu.Unlock()
	if t, ok := s.topics[name]; ok {
		return t, nil
	}
	table := topicTableName(name)
	if err := validateTopicTableName(s.cfg.Dialect, name, table); err != nil {
		return nil, err
	}
	if err := s.ensureTopicTable(context.Background(), table); err != nil {
		return nil, err
	}
	t := &Topic{
		state:   s,
		name:    name,
		table:   table,
		waiters: make(map[string][]chan struct{}),
	}
	if err := t.prepareStatements(); err != nil {
		return nil, err
	}
	s.topics[name] = t
	return t, nil
}

// Close stops the maintenance loop, waits for it to acknowledge, and
// releases the database handle when this Cache opened it. Safe to call
// more than once.
func (c *Cache) Close() error {
	s := c.state
	s.closeOnce.Do(func() {
		close(s.stop)
		<-s.done
		s.topicsMu.Lock()
		for _, t := range s.topics {
			t.closeStatements()
		}
		s.topics = make(map[string]*Topic)
		s.topicsMu.Unlock()
		if s.ownsDB {
			s.closeErr = s.db.Close()
		}
	})
	return s.closeErr
}

// enableDurability switches sqlite into write-ahead-log mode so readers are
// not blocked by the flush/GC writes. Postgres and MySQL journal ahead of
// writes already, so there is nothing to set.
func (s *cacheState) enableDurability(ctx context.Context) error {
	if s.cfg.Dialect != DialectSQLite {
		return nil
	}
	var mode string
	s.mu.Lock()
	err := s.db.QueryRowContext(ctx, "pragma journal_mode = wal").Scan(&mode)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	// In-memory databases report "memory"; that is their WAL equivalent.
	if mode != "wal" && mode != "memory" {
		return fmt.Errorf("journal mode is %q, want wal", mode)
	}
	return nil
}

func (s *cacheState) ensureTopicTable(ctx context.Context, table string) error {
	if _, err := s.exec(ctx, s.cfg.Dialect.createTableSQL(table)); err != nil {
		return err
	}
	if _, err := s.exec(ctx, s.cfg.Dialect.createExpiryIndexSQL(table)); err != nil {
		if !s.cfg.Dialect.isDuplicateIndexErr(err) {
			return err
		}
	}
	return nil
}

func (s *cacheState) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.ExecContext(ctx, query, args...)
}

func (s *cacheState) prepare(query string) (*sql.Stmt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Prepare(query)
}

// queueRefresh records a deferred expiry update, superseding any pending
// one for the same key.
func (s *cacheState) queueRefresh(table, key string, expiry int64) {
	s.pendingMu.Lock()
	s.pending[pendingKey{table: table, key: key}] = expiry
	s.pendingMu.Unlock()
}

// dropRefresh discards a pending expiry update; a direct write always wins
// over a stale queued refresh.
func (s *cacheState) dropRefresh(table, key string) {
	s.pendingMu.Lock()
	delete(s.pending, pendingKey{table: table, key: key})
	s.pendingMu.Unlock()
}

// flush drains the deferred expiry batch and applies each entry. Failures
// are logged and the entry is dropped; the next read queues a fresh one.
func (s *cacheState) flush(ctx context.Context) {
	s.pendingMu.Lock()
	batch := s.pending
	s.pending = make(map[pendingKey]int64)
	s.pendingMu.Unlock()
	for pk, expiry := range batch {
		if _, err := s.exec(ctx, s.cfg.Dialect.updateExpirySQL(pk.table), expiry, pk.key); err != nil {
			topic, _ := topicNameFromTable(pk.table)
			s.cfg.Logger.Error("topicache: expiry flush failed",
				"topic", topic, "key", pk.key, "error", err)
		}
	}
}

// gc deletes rows whose expiry has passed from every topic table in the
// catalog. An error aborts the pass; the next scheduled pass retries.
func (s *cacheState) gc(ctx context.Context) error {
	now := time.Now().Unix()
	tables, err := s.listTopicTables(ctx)
	if err != nil {
		return err
	}
	var total int64
	for _, table := range tables {
		res, err := s.exec(ctx, s.cfg.Dialect.deleteExpiredSQL(table), now)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err == nil {
			total += n
		}
	}
	if total != 0 {
		s.cfg.Logger.Info("topicache: gc removed expired entries", "count", total)
	}
	return nil
}

func (s *cacheState) listTopicTables(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.QueryContext(ctx, s.cfg.Dialect.listTopicTablesSQL())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var tables []string
	for rows.Next() {
		var table string
		if err := rows.Scan(&table); err != nil {
			return nil, err
		}
		tables = append(tables, table)
	}
	return tables, rows.Err()
}

func (s *cacheState) observe(ctx context.Context, op, topic, key string, hit bool, err error, start time.Time) {
	o := s.observer.Load()
	if o == nil {
		return
	}
	(*o).OnTopicOp(ctx, op, topic, key, hit, err, time.Since(start))
}
