package adapter

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	tele "gopkg.in/telebot.v4"

	kit "digestbot/internal/transport"
)

func TestClassifyFloodError(t *testing.T) {
	t.Parallel()
	src := tele.FloodError{RetryAfter: 5}
	got := classify(src)

	var rl kit.RateLimitedError
	if !errors.As(got, &rl) {
		t.Fatalf("flood error not classified as rate-limited: %v", got)
	}
	if rl.RetryAfter() != 5*time.Second {
		t.Fatalf("RetryAfter = %v, want 5s", rl.RetryAfter())
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestClassifyTransient(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		err  error
	}{
		{"net timeout", timeoutErr{}},
		{"deadline", context.DeadlineExceeded},
		{"eof", io.EOF},
		{"unexpected eof", io.ErrUnexpectedEOF},
		{"telegram internal", tele.ErrInternal},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			if got := classify(tc.err); !kit.IsTransient(got) {
				t.Fatalf("classify(%v) = %v, want transient", tc.err, got)
			}
		})
	}
}

func TestClassifyUnknownPassesThrough(t *testing.T) {
	t.Parallel()
	cause := errors.New("Bad Request: chat not found")
	got := classify(cause)
	if got != cause {
		t.Fatalf("classify rewrote permanent error: %v", got)
	}
	if kit.IsTransient(got) {
		t.Fatal("permanent error classified as transient")
	}
}

func TestClassifyNil(t *testing.T) {
	t.Parallel()
	if classify(nil) != nil {
		t.Fatal("classify(nil) != nil")
	}
}
