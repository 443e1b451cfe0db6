package envutil

import (
	"testing"
	"time"
)

func TestHelpersFallBackToDefaults(t *testing.T) {
	t.Setenv("CASCADE_TEST_INT", "nope")
	t.Setenv("CASCADE_TEST_BOOL", "")
	t.Setenv("CASCADE_TEST_DUR", "bogus")
	if got := Int("CASCADE_TEST_INT", 7); got != 7 {
		t.Fatalf("Int fallback: got %d", got)
	}
	if got := Bool("CASCADE_TEST_BOOL", true); !got {
		t.Fatalf("Bool fallback: got %v", got)
	}
	if got := Duration("CASCADE_TEST_DUR", time.Second); got != time.Second {
		t.Fatalf("Duration fallback: got %v", got)
	}
	if got := String("CASCADE_TEST_MISSING", "x"); got != "x" {
		t.Fatalf("String fallback: got %q", got)
	}
}

func TestHelpersParse(t *testing.T) {
	t.Setenv("CASCADE_TEST_INT", "42")
	t.Setenv("CASCADE_TEST_BOOL", "off")
	t.Setenv("CASCADE_TEST_DUR", "250")
	t.Setenv("CASCADE_TEST_DUR2", "2s")
	if got := Int("CASCADE_TEST_INT", 0); got != 42 {
		t.Fatalf("Int: got %d", got)
	}
	if got := Bool("CASCADE_TEST_BOOL", true); got {
		t.Fatalf("Bool: got %v", got)
	}
	if got := Duration("CASCADE_TEST_DUR", 0); got != 250*time.Millisecond {
		t.Fatalf("Duration ms: got %v", got)
	}
	if got := Duration("CASCADE_TEST_DUR2", 0); got != 2*time.Second {
		t.Fatalf("Duration: got %v", got)
	}
}
