package topicache

import (
	"errors"
	"log/slog"
	"time"
)

const (
	defaultFlushInterval = 10 * time.Second
	defaultFlushGCRatio  = 30
)

// ErrInvalidFlushGCRatio is returned when FlushGCRatio is negative.
var ErrInvalidFlushGCRatio = errors.New("topicache: flush gc ratio must be positive")

// Config controls how a Cache is constructed.
type Config struct {
	// Dialect selects the backing database flavor. Defaults to DialectSQLite.
	Dialect Dialect

	// DSN is the data source name used by Open. New ignores it.
	DSN string

	// FlushInterval is the period of the background maintenance loop.
	// Each cycle persists pending expiry refreshes. Defaults to 10s.
	FlushInterval time.Duration

	// FlushGCRatio makes the expired-row sweep run every Nth flush cycle.
	// Defaults to 30.
	FlushGCRatio int

	// MaxTTL caps any requested TTL when > 0. Zero means unbounded.
	MaxTTL time.Duration

	// Compression optionally compresses stored values.
	Compression CompressionCodec

	// EncryptionKey enables AES-GCM encryption at rest when non-empty.
	// Must be 16, 24, or 32 bytes.
	EncryptionKey []byte

	// Logger receives maintenance loop events. Defaults to slog.Default().
	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.Dialect == "" {
		c.Dialect = DialectSQLite
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = defaultFlushInterval
	}
	if c.FlushGCRatio == 0 {
		c.FlushGCRatio = defaultFlushGCRatio
	}
	if c.Compression == "" {
		c.Compression = CompressionNone
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

func (c Config) validate() error {
	if c.FlushGCRatio <= 0 {
		return ErrInvalidFlushGCRatio
	}
	if !c.Dialect.known() {
		return errors.New("topicache: unknown dialect " + string(c.Dialect))
	}
	return nil
}
