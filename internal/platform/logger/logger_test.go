package logger

import (
	"strings"
	"testing"
)

func TestSanitizeKVsRedactsAndHashes(t *testing.T) {
	out := sanitizeKVs([]interface{}{"api_token", "secret-value", "player_id", "player-1", "scenes", 3})
	if len(out) != 6 {
		t.Fatalf("expected 6 entries, got %d", len(out))
	}
	if out[1] != "[REDACTED]" {
		t.Fatalf("token not redacted: %v", out[1])
	}
	hashed, ok := out[3].(string)
	if !ok || !strings.HasPrefix(hashed, "hash:") || strings.Contains(hashed, "player-1") {
		t.Fatalf("player_id not pseudonymized: %v", out[3])
	}
	if out[5] != 3 {
		t.Fatalf("plain value changed: %v", out[5])
	}
}

func TestSanitizeKVsOddLength(t *testing.T) {
	out := sanitizeKVs([]interface{}{"campaign_id", "c1", "dangling"})
	if len(out) != 3 || out[2] != "dangling" {
		t.Fatalf("unexpected output: %#v", out)
	}
}

func TestNopLogger(t *testing.T) {
	l := Nop().With("service", "test")
	l.Info("ignored", "k", "v")
	l.Sync()
}

func TestSanitizeNestedMap(t *testing.T) {
	out := sanitizeKVs([]interface{}{"postgres", map[string]interface{}{"DSN": "postgres://u:p@h/db", "host": "h"}})
	m, ok := out[1].(map[string]interface{})
	if !ok {
		t.Fatalf("expected map, got %T", out[1])
	}
	if m["DSN"] != "[REDACTED]" || m["host"] != "h" {
		t.Fatalf("unexpected nested sanitize: %#v", m)
	}
}
