package logx

import (
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw  string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"INFO", zerolog.InfoLevel},
		{" Warn ", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"", zerolog.InfoLevel},
		{"nonsense", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.raw, zerolog.InfoLevel); got != tt.want {
			t.Fatalf("parseLevel(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}

func TestNopLoggerIsSafe(t *testing.T) {
	t.Parallel()
	l := Nop()
	// Must not panic, even with fields.
	l.Debug("x", String("k", "v"))
	l.Error("y", Err(nil), Any("n", nil))
	if l.IsZero() {
		t.Fatal("Nop logger must be usable (non-zero)")
	}
}

func TestWithAccumulatesFields(t *testing.T) {
	t.Parallel()
	base := Nop().With(String("comp", "test"))
	child := base.With(Int("n", 1))
	// The parent must not see the child's fields.
	if len(child.fields) <= len(base.fields) {
		t.Fatalf("child fields = %d, base = %d", len(child.fields), len(base.fields))
	}
}

func TestFormatTelegramJSON(t *testing.T) {
	t.Parallel()
	line := `{"level":"warn","time":"2026-03-01T12:00:00Z","message":"send retry scheduled","chat":"42","attempt":2}`
	got := formatTelegramJSON([]byte(line))

	if !strings.HasPrefix(got, "[WARN] send retry scheduled") {
		t.Fatalf("prefix wrong: %q", got)
	}
	if !strings.Contains(got, "chat=42") || !strings.Contains(got, "attempt=2") {
		t.Fatalf("fields missing: %q", got)
	}
	if strings.Contains(got, "time=") {
		t.Fatalf("time field leaked: %q", got)
	}
}

func TestFormatTelegramJSONNonJSON(t *testing.T) {
	t.Parallel()
	if got := formatTelegramJSON([]byte("  plain panic output \n")); got != "plain panic output" {
		t.Fatalf("got %q", got)
	}
}

func TestTruncate(t *testing.T) {
	t.Parallel()
	if got := truncate("short", 100); got != "short" {
		t.Fatalf("got %q", got)
	}
	long := strings.Repeat("a", 50)
	got := truncate(long, 10)
	if len([]rune(got)) != 10 {
		t.Fatalf("truncated length = %d", len([]rune(got)))
	}
	if !strings.HasSuffix(got, "…") {
		t.Fatalf("no ellipsis: %q", got)
	}
}
