package topicache

import (
	"context"
	"time"
)

// Observer receives events for cache operations.
// It is called after each operation completes.
type Observer interface {
	OnTopicOp(ctx context.Context, op, topic, key string, hit bool, err error, dur time.Duration)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(ctx context.Context, op, topic, key string, hit bool, err error, dur time.Duration)

// OnTopicOp implements Observer.
func (f ObserverFunc) OnTopicOp(ctx context.Context, op, topic, key string, hit bool, err error, dur time.Duration) {
	if f == nil {
		return
	}
	f(ctx, op, topic, key, hit, err, dur)
}
