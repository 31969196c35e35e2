// Package report sends a scheduled queue status summary to the operator chat.
package report

import (
	"context"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"digestbot/internal/messenger"
	"digestbot/internal/router"
	"digestbot/internal/sendqueue"
	kit "digestbot/internal/transport"
	logx "digestbot/pkg/logx"
)

type Config struct {
	Enabled bool
	// Schedule is a 5-field cron spec or a descriptor like "@every 6h".
	Schedule string
	// Timezone for cron evaluation. Empty means UTC.
	Timezone string
	// Operator is the chat receiving the report.
	Operator kit.ChatTarget
}

type Service struct {
	cfg    Config
	queue  *sendqueue.Service
	msgr   *messenger.Service
	log    logx.Logger
	parser cron.Parser

	c *cron.Cron
}

func New(cfg Config, queue *sendqueue.Service, msgr *messenger.Service, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:   cfg,
		queue: queue,
		msgr:  msgr,
		log:   log,
		parser: cron.NewParser(
			cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

// Start registers the cron entry and begins ticking. Idempotent; a no-op
// when disabled or misconfigured.
func (s *Service) Start(ctx context.Context) error {
	if !s.cfg.Enabled || s.queue == nil || s.cfg.Operator.ChatID == 0 {
		return nil
	}
	if s.c != nil {
		return nil
	}

	loc := time.UTC
	if tz := strings.TrimSpace(s.cfg.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return err
		}
		loc = l
	}

	c := cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))
	_, err := c.AddFunc(s.cfg.Schedule, func() { s.emit(ctx) })
	if err != nil {
		return err
	}
	s.c = c
	c.Start()
	s.log.Debug("report schedule started",
		logx.String("schedule", s.cfg.Schedule), logx.String("tz", loc.String()))
	return nil
}

// Stop halts the schedule and waits for a running emit to finish.
func (s *Service) Stop(ctx context.Context) {
	if s.c == nil {
		return
	}
	done := s.c.Stop()
	s.c = nil
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}

func (s *Service) emit(ctx context.Context) {
	sctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	text := router.FormatMetrics(s.queue.Metrics())
	if _, err := s.msgr.SendText(sctx, s.cfg.Operator, text, nil); err != nil {
		s.log.Warn("status report send failed", logx.Err(err))
		return
	}
	s.log.Debug("status report sent", logx.Int64("chat_id", s.cfg.Operator.ChatID))
}
