package adapter

import (
	"context"
	"errors"
	"io"
	"net"
	"time"

	tele "gopkg.in/telebot.v4"

	kit "digestbot/internal/transport"
)

// classify maps a telebot/network failure onto the transport error taxonomy.
// This is the single place Telegram error shapes are interpreted; downstream
// (the send queue) only sees the tagged variants.
//
// Unrecognized errors pass through unchanged and are treated as permanent.
func classify(err error) error {
	if err == nil {
		return nil
	}

	// 429: Telegram tells us exactly how long to back off.
	var fe tele.FloodError
	if errors.As(err, &fe) {
		return kit.RateLimited(err, time.Duration(fe.RetryAfter)*time.Second)
	}

	// Network-level trouble: timeouts, resets, interrupted responses.
	var ne net.Error
	switch {
	case errors.As(err, &ne),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, io.EOF):
		return kit.Transient(err)
	}

	// Telegram-side 5xx responses are worth retrying too.
	if errors.Is(err, tele.ErrInternal) {
		return kit.Transient(err)
	}

	return err
}
