package topicache

import (
	"context"
	"time"
	"weak"
)

// maintain is the background flush/GC loop. It holds only a weak reference
// to the controller state so it cannot keep the cache (and its database
// connection) alive on its own: Close performs the stop/done handshake, and
// a dead weak reference is treated as an unsolicited but valid stop signal.
func maintain(cfg Config, stop <-chan struct{}, done chan<- struct{}, ref weak.Pointer[cacheState]) {
	defer close(done)
	ticker := time.NewTicker(cfg.FlushInterval)
	defer ticker.Stop()
	cycles := 0
	for {
		select {
		case <-stop:
			cfg.Logger.Debug("topicache: maintenance loop stopped")
			return
		case <-ticker.C:
		}
		state := ref.Value()
		if state == nil {
			cfg.Logger.Debug("topicache: maintenance loop exiting, cache released")
			return
		}
		ctx := context.Background()
		state.flush(ctx)
		cycles++
		if cycles == cfg.FlushGCRatio {
			cycles = 0
			if err := state.gc(ctx); err != nil {
				cfg.Logger.Error("topicache: gc pass failed", "error", err)
			}
		}
	}
}
