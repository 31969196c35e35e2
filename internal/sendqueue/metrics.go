package sendqueue

import (
	"context"
	"fmt"
	"time"

	"digestbot/internal/eventbus"
	rtsup "digestbot/internal/runtime/supervisor"
	kit "digestbot/internal/transport"
	logx "digestbot/pkg/logx"
)

// Metrics returns delay statistics for the currently queued entries.
// On an empty queue every numeric field is zero and MaxDelayChat is "".
func (s *Service) Metrics() Metrics {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	m := Metrics{SampledAt: now, QueueDepth: s.h.Len()}
	if m.QueueDepth == 0 {
		return m
	}

	var total time.Duration
	perChat := map[kit.ChatKey]time.Duration{}
	for _, e := range s.h {
		d := e.readyAt.Sub(now)
		if d < 0 {
			d = 0
		}
		total += d
		if d > m.MaxDelay {
			m.MaxDelay = d
		}
		if d > perChat[e.key] {
			perChat[e.key] = d
		}
	}
	m.AvgDelay = total / time.Duration(m.QueueDepth)
	for key, d := range perChat {
		if d > m.MaxDelayChatDelay || m.MaxDelayChat == "" {
			m.MaxDelayChat = key
			m.MaxDelayChatDelay = d
		}
	}
	return m
}

// maybeAlert sends a debounced backlog notification to the operator chat.
// Delivery failures are logged and swallowed so alerting can never cascade
// into the failure it reports.
func (s *Service) maybeAlert(sup *rtsup.Supervisor) {
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()
	if cfg.AlertTarget.ChatID == 0 || s.adapter == nil || sup == nil {
		return
	}

	m := s.Metrics()
	if m.QueueDepth == 0 || m.MaxDelay < cfg.AlertDelayThreshold {
		return
	}

	now := time.Now()
	s.mu.Lock()
	if !s.lastAlertAt.IsZero() && now.Sub(s.lastAlertAt) < cfg.AlertCooldown {
		s.mu.Unlock()
		return
	}
	s.lastAlertAt = now
	s.mu.Unlock()

	text := formatAlert(m)
	sup.Go0("sendqueue.alert", func(ctx context.Context) {
		if _, err := s.adapter.SendText(ctx, cfg.AlertTarget, text, &kit.SendOptions{DisablePreview: true}); err != nil {
			s.log.Debug("backlog alert delivery failed", logx.Err(err))
		}
	})

	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.EventQueueAlert, Time: now, Data: m})
	}
	s.log.Warn("send queue backlog alert",
		logx.Int("queue_depth", m.QueueDepth),
		logx.Duration("max_delay", m.MaxDelay),
		logx.Duration("avg_delay", m.AvgDelay),
		logx.String("worst_chat", string(m.MaxDelayChat)))
}

func formatAlert(m Metrics) string {
	text := fmt.Sprintf(
		"Warning: send queue backlog detected.\nQueue depth: %d\nMax delay: %.2fs\nAverage delay: %.2fs",
		m.QueueDepth, m.MaxDelay.Seconds(), m.AvgDelay.Seconds())
	if m.MaxDelayChat != "" {
		text += fmt.Sprintf("\nWorst chat: %s (%.2fs)", m.MaxDelayChat, m.MaxDelayChatDelay.Seconds())
	}
	return text
}
