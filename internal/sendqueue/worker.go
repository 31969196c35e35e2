package sendqueue

import (
	"context"
	"errors"
	"time"

	"digestbot/internal/eventbus"
	kit "digestbot/internal/transport"
	logx "digestbot/pkg/logx"
)

// run is the dispatch loop: sleep until the earliest entry is due (or a new,
// earlier admission wakes us), re-validate it against the sliding window and
// the chat cooldown, then dispatch.
func (s *Service) run(ctx context.Context) error {
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		s.mu.Lock()
		if s.h.Len() == 0 {
			s.mu.Unlock()
			select {
			case <-ctx.Done():
				return context.Canceled
			case <-s.wake:
			}
			continue
		}

		now := time.Now()
		next := s.h[0]
		wait := next.readyAt.Sub(now)

		if wait <= 0 {
			e := s.h.remove(0)

			// Re-validate at dispatch time: the world may have moved since
			// admission (other dispatches, retries, config changes).
			if !s.window.allow(now) {
				s.requeueLocked(e, s.window.nextFree(now))
				s.mu.Unlock()
				continue
			}
			if chatReady := s.cooldown.nextAllowed(e.key, now); chatReady.After(now) {
				s.requeueLocked(e, chatReady)
				s.mu.Unlock()
				continue
			}
			s.mu.Unlock()

			s.dispatch(ctx, e)
			continue
		}
		s.mu.Unlock()

		if timer == nil {
			timer = time.NewTimer(wait)
		} else {
			timer.Reset(wait)
		}
		select {
		case <-ctx.Done():
			return context.Canceled
		case <-s.wake:
			// An earlier-deadline entry may have arrived; re-evaluate.
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		case <-timer.C:
		}
	}
}

func (s *Service) dispatch(ctx context.Context, e *entry) {
	start := time.Now()
	waited := start.Sub(e.enqueuedAt)

	s.log.Debug("send dispatching",
		logx.String("chat", string(e.key)),
		logx.Duration("waited", waited),
		logx.Int("retries", e.retries))

	ref, err := e.op(ctx)
	now := time.Now()

	if err == nil {
		s.mu.Lock()
		s.window.record(now)
		s.cooldown.record(e.key, now)
		s.mu.Unlock()
		e.retries = 0
		e.res.resolve(ref, nil)
		s.publish(eventbus.EventSendDispatched, e, now.Sub(e.enqueuedAt), nil)
		s.log.Debug("send completed",
			logx.String("chat", string(e.key)),
			logx.Duration("total_wait", now.Sub(e.enqueuedAt)))
		return
	}

	// The worker was stopped mid-dispatch; surface the shutdown, don't retry.
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		e.res.resolve(kit.MessageRef{}, ErrStopped)
		return
	}

	var rl kit.RateLimitedError
	switch {
	case errors.As(err, &rl):
		// The platform told us how long to wait; honor the larger of the
		// hint and our own backoff.
		s.retryOrFail(e, err, rl.RetryAfter(), now)
	case kit.IsTransient(err):
		s.retryOrFail(e, err, 0, now)
	default:
		// Permanent: invalid chat, malformed payload, revoked token, ...
		e.res.resolve(kit.MessageRef{}, err)
		s.publish(eventbus.EventSendFailed, e, now.Sub(e.enqueuedAt), err)
		s.log.Error("send failed permanently", logx.String("chat", string(e.key)), logx.Err(err))
	}
}

func (s *Service) retryOrFail(e *entry, cause error, hint time.Duration, now time.Time) {
	s.mu.Lock()
	cfg := s.cfg

	attempt := e.retries + 1
	if attempt > cfg.RetryMax {
		s.mu.Unlock()
		e.res.resolve(kit.MessageRef{}, cause)
		s.publish(eventbus.EventSendFailed, e, now.Sub(e.enqueuedAt), cause)
		s.log.Error("send dropped after retry exhaustion",
			logx.String("chat", string(e.key)),
			logx.Int("attempts", attempt),
			logx.Err(cause))
		return
	}
	e.retries = attempt

	delay := backoffDelay(cfg.RetryBase, attempt)
	if hint > delay {
		delay = hint
	}

	if !s.running {
		s.mu.Unlock()
		e.res.resolve(kit.MessageRef{}, ErrStopped)
		return
	}
	s.requeueLocked(e, now.Add(delay))
	s.mu.Unlock()
	s.wakeWorker()

	s.publish(eventbus.EventSendRetried, e, now.Sub(e.enqueuedAt), cause)
	s.log.Warn("send retry scheduled",
		logx.String("chat", string(e.key)),
		logx.Duration("delay", delay),
		logx.Int("attempt", attempt),
		logx.Err(cause))
}

// backoffDelay is base * 2^(attempt-1), attempt starting at 1.
func backoffDelay(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	return d
}
