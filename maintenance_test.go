package topicache

import (
	"context"
	"testing"
	"time"
)

func TestFlushPersistsQueuedRefreshes(t *testing.T) {
	c := newTestCache(t, Config{FlushInterval: time.Hour})
	topic, _ := c.Topic("users")
	_ = topic.Set("k", []byte("v"), time.Minute)

	want := time.Now().Unix() + 9999
	c.state.queueRefresh(topic.table, "k", want)
	c.state.flush(context.Background())

	c.state.pendingMu.Lock()
	remaining := len(c.state.pending)
	c.state.pendingMu.Unlock()
	if remaining != 0 {
		t.Fatalf("flush left %d pending entries", remaining)
	}

	var expiry int64
	if err := c.state.db.QueryRow("SELECT expiry FROM "+topic.table+" WHERE k = ?", "k").Scan(&expiry); err != nil {
		t.Fatalf("row query failed: %v", err)
	}
	if expiry != want {
		t.Fatalf("stored expiry = %d, want %d", expiry, want)
	}
}

func TestFlushForDeletedRowIsHarmless(t *testing.T) {
	c := newTestCache(t, Config{FlushInterval: time.Hour})
	topic, _ := c.Topic("users")
	_ = topic.Set("k", []byte("v"), time.Minute)
	_, _, _ = topic.Get("k")
	_ = topic.Delete("k")

	c.state.flush(context.Background())
	if _, ok, err := topic.Get("k"); err != nil || ok {
		t.Fatalf("flushed refresh must not resurrect a deleted row: ok=%v err=%v", ok, err)
	}
}

func TestMaintenanceLoopFlushesPeriodically(t *testing.T) {
	c := newTestCache(t, Config{FlushInterval: 50 * time.Millisecond, FlushGCRatio: 1000})
	topic, _ := c.Topic("users")
	_ = topic.Set("k", []byte("v"), time.Minute)

	want := time.Now().Unix() + 9999
	c.state.queueRefresh(topic.table, "k", want)

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		var expiry int64
		if err := c.state.db.QueryRow("SELECT expiry FROM "+topic.table+" WHERE k = ?", "k").Scan(&expiry); err != nil {
			t.Fatalf("row query failed: %v", err)
		}
		if expiry == want {
			return
		}
		time.Sleep(25 * time.Millisecond)
	}
	t.Fatal("maintenance loop never flushed the queued refresh")
}

func TestGCSweepsExpiredRows(t *testing.T) {
	c := newTestCache(t, Config{FlushInterval: time.Hour})
	topic, _ := c.Topic("users")
	_ = topic.Set("dead", []byte("v"), 0)
	_ = topic.Set("alive", []byte("v"), time.Hour)

	// expiry is in epoch seconds; "dead" becomes sweepable once the clock
	// passes its write second.
	time.Sleep(1100 * time.Millisecond)
	if err := c.state.gc(context.Background()); err != nil {
		t.Fatalf("gc failed: %v", err)
	}

	if _, ok, err := topic.Get("dead"); err != nil || ok {
		t.Fatalf("expired row survived gc: ok=%v err=%v", ok, err)
	}
	if _, ok, err := topic.Get("alive"); err != nil || !ok {
		t.Fatalf("live row swept by gc: ok=%v err=%v", ok, err)
	}

	var rows int
	if err := c.state.db.QueryRow("SELECT count(*) FROM " + topic.table).Scan(&rows); err != nil {
		t.Fatalf("count query failed: %v", err)
	}
	if rows != 1 {
		t.Fatalf("expected 1 physical row after gc, got %d", rows)
	}
}

func TestGCCoversTablesFromPriorRuns(t *testing.T) {
	dsn := "file:" + t.TempDir() + "/cache.db"
	first := newTestCache(t, Config{DSN: dsn, FlushInterval: time.Hour})
	topic, _ := first.Topic("stale")
	_ = topic.Set("k", []byte("v"), 0)
	if err := first.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	// A fresh cache that never derived the topic still sweeps its table.
	second := newTestCache(t, Config{DSN: dsn, FlushInterval: time.Hour})
	time.Sleep(1100 * time.Millisecond)
	if err := second.state.gc(context.Background()); err != nil {
		t.Fatalf("gc failed: %v", err)
	}
	reopened, _ := second.Topic("stale")
	if _, ok, err := reopened.Get("k"); err != nil || ok {
		t.Fatalf("expired row from prior run survived gc: ok=%v err=%v", ok, err)
	}
}

// TestReadRefreshKeepsEntryAlive is the end-to-end keepalive scenario:
// reads extend an entry's life through the flush cycle, and once the reads
// stop the GC sweep removes it.
func TestReadRefreshKeepsEntryAlive(t *testing.T) {
	if testing.Short() {
		t.Skip("multi-second timing scenario")
	}
	c := newTestCache(t, Config{FlushInterval: 100 * time.Millisecond, FlushGCRatio: 5})
	topic, _ := c.Topic("keepalive")
	if err := topic.Set("hello", []byte("world"), time.Second); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	// Keep reading past the 1s TTL; each read re-queues a refresh that the
	// 100ms flush persists well before the 500ms GC can sweep.
	stopReading := time.Now().Add(3 * time.Second)
	for time.Now().Before(stopReading) {
		value, ok, err := topic.Get("hello")
		if err != nil {
			t.Fatalf("get failed: %v", err)
		}
		if !ok {
			t.Fatal("entry expired while being refreshed by reads")
		}
		if string(value.Data) != "world" {
			t.Fatalf("unexpected value %q", value.Data)
		}
		time.Sleep(250 * time.Millisecond)
	}

	// No more reads: the entry lapses and a later GC cycle removes it.
	time.Sleep(3 * time.Second)
	if _, ok, err := topic.Get("hello"); err != nil || ok {
		t.Fatalf("entry survived after refreshes ceased: ok=%v err=%v", ok, err)
	}
}
