package cache

import (
	"context"
	"testing"
	"time"
)

func TestKeyIsStableAcrossEquivalentParams(t *testing.T) {
	a := Key("job_records", map[string]any{"supplier": "acme", "limit": 50, "offset": 0})
	b := Key("job_records", map[string]any{"offset": 0, "limit": 50, "supplier": "acme"})
	if a != b {
		t.Fatalf("expected identical keys for equivalent params, got %s and %s", a, b)
	}
}

func TestKeyVariesByPrefix(t *testing.T) {
	params := map[string]any{"supplier": "acme"}
	if Key("job_records", params) == Key("all_records", params) {
		t.Fatal("expected different prefixes to hash differently")
	}
}

func TestKeyVariesByParams(t *testing.T) {
	a := Key("job_records", map[string]any{"supplier": "acme"})
	b := Key("job_records", map[string]any{"supplier": "globex"})
	if a == b {
		t.Fatal("expected different params to hash differently")
	}
}

func TestKeyLength(t *testing.T) {
	key := Key("job_records", map[string]any{"supplier": "acme"})
	if len(key) != 32 {
		t.Fatalf("expected a 32-char md5 hex key, got %q", key)
	}
}

func TestNilClientDegradesGracefully(t *testing.T) {
	s := New(nil, 0, nil)
	ctx := context.Background()

	var dest map[string]string
	if s.Get(ctx, "whatever", &dest) {
		t.Fatal("expected miss from a nil-backed cache")
	}

	// Must not panic.
	s.Set(ctx, "whatever", map[string]string{"a": "b"}, time.Minute)
	s.InvalidateAll(ctx)

	stats := s.Stats(ctx)
	if connected, _ := stats["connected"].(bool); connected {
		t.Fatal("expected connected=false without a client")
	}
}

func TestNewAppliesDefaultTTL(t *testing.T) {
	s := New(nil, 0, nil)
	if s.DefaultTTL() != DefaultTTL {
		t.Fatalf("expected default TTL %v, got %v", DefaultTTL, s.DefaultTTL())
	}
	s = New(nil, 42*time.Second, nil)
	if s.DefaultTTL() != 42*time.Second {
		t.Fatalf("expected 42s TTL, got %v", s.DefaultTTL())
	}
}
