package topicache

import (
	"testing"
	"time"
)

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	if cfg.Dialect != DialectSQLite {
		t.Fatalf("default dialect = %q", cfg.Dialect)
	}
	if cfg.FlushInterval != 10*time.Second {
		t.Fatalf("default flush interval = %v", cfg.FlushInterval)
	}
	if cfg.FlushGCRatio != 30 {
		t.Fatalf("default flush gc ratio = %d", cfg.FlushGCRatio)
	}
	if cfg.MaxTTL != 0 {
		t.Fatalf("max ttl should default to unbounded, got %v", cfg.MaxTTL)
	}
	if cfg.Compression != CompressionNone {
		t.Fatalf("default compression = %q", cfg.Compression)
	}
	if cfg.Logger == nil {
		t.Fatal("default logger missing")
	}
}

func TestConfigKeepsExplicitValues(t *testing.T) {
	cfg := Config{
		Dialect:       DialectPostgres,
		FlushInterval: time.Second,
		FlushGCRatio:  5,
		MaxTTL:        time.Minute,
	}.withDefaults()
	if cfg.Dialect != DialectPostgres || cfg.FlushInterval != time.Second ||
		cfg.FlushGCRatio != 5 || cfg.MaxTTL != time.Minute {
		t.Fatalf("explicit values overwritten: %+v", cfg)
	}
}

func TestConfigValidate(t *testing.T) {
	if err := (Config{FlushGCRatio: -3}).withDefaults().validate(); err != ErrInvalidFlushGCRatio {
		t.Fatalf("expected ErrInvalidFlushGCRatio, got %v", err)
	}
	if err := (Config{Dialect: "mssql"}).withDefaults().validate(); err == nil {
		t.Fatal("expected error for unknown dialect")
	}
	if err := (Config{}).withDefaults().validate(); err != nil {
		t.Fatalf("default config must validate: %v", err)
	}
}

func TestDialectPlaceholders(t *testing.T) {
	if got := DialectPostgres.ph(3); got != "$3" {
		t.Fatalf("postgres placeholder = %q", got)
	}
	if got := DialectSQLite.ph(3); got != "?" {
		t.Fatalf("sqlite placeholder = %q", got)
	}
	if got := DialectMySQL.ph(1); got != "?" {
		t.Fatalf("mysql placeholder = %q", got)
	}
}
