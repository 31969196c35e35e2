// Package app wires config, transport, pacing, and the command surface into
// one lifecycle.
package app

import (
	"context"
	"strconv"
	"strings"
	"time"

	"digestbot/internal/config"
	"digestbot/internal/eventbus"
	"digestbot/internal/messenger"
	"digestbot/internal/report"
	"digestbot/internal/router"
	rtsup "digestbot/internal/runtime/supervisor"
	"digestbot/internal/sendqueue"
	"digestbot/internal/storage"
	kit "digestbot/internal/transport"
	telegram "digestbot/internal/transport/telegram/adapter"
	logx "digestbot/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store   storage.Store
	adapter kit.Adapter

	queue *sendqueue.Service
	msgr  *messenger.Service
	rtr   *router.Service
	rep   *report.Service

	updates chan kit.Update
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "telegram"))

	pollTimeout, err := config.ParseDurationOrDefault(
		"telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, bootLog)
	if err != nil {
		return nil, err
	}

	// Bootstrap logging with the Telegram sink off, set the target, then
	// apply the final config. Avoids a false "no target" warning on start.
	baseLogCfg := mapLoggingConfig(cfg)
	baseLogCfg.Telegram.Enabled = false
	logSvc, log := logx.New(baseLogCfg, ad)
	log = log.With(logx.String("comp", "app"))

	if cfg.Telegram.OperatorChatID != 0 {
		logSvc.SetTelegramTarget(cfg.Telegram.OperatorChatID, cfg.Logging.Telegram.ThreadID)
	}
	logSvc.Apply(mapLoggingConfig(cfg))

	bus := eventbus.New()

	var store storage.Store
	if cfg.Storage != nil {
		sc, err := mapStorageConfig(cfg.Storage)
		if err != nil {
			return nil, err
		}
		st, err := storage.Open(sc)
		if err != nil {
			return nil, err
		}
		if st != nil {
			store = st
			log.Info("storage enabled", logx.String("driver", sc.Driver))
		}
	}

	qcfg, err := mapSendQueueConfig(cfg)
	if err != nil {
		return nil, err
	}
	queue := sendqueue.New(qcfg, ad, log.With(logx.String("comp", "sendqueue")), bus)
	msgr := messenger.New(ad, queue, log.With(logx.String("comp", "messenger")))

	rtr := router.New(router.Config{
		OperatorChatID: cfg.Telegram.OperatorChatID,
	}, msgr, store, log.With(logx.String("comp", "router")))
	rtr.RegisterBuiltins(queue)

	var rep *report.Service
	if rc := cfg.Report; rc != nil && rc.Enabled {
		rep = report.New(report.Config{
			Enabled:  true,
			Schedule: rc.Schedule,
			Timezone: rc.Timezone,
			Operator: kit.ChatTarget{ChatID: cfg.Telegram.OperatorChatID},
		}, queue, msgr, log.With(logx.String("comp", "report")))
	}

	return &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		adapter: ad,
		queue:   queue,
		msgr:    msgr,
		rtr:     rtr,
		rep:     rep,
		updates: make(chan kit.Update, 256),
	}, nil
}

// Done is closed when the app supervisor context is canceled (fatal error
// or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return config.Validate(cfg)
	})

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}

	a.queue.Start(a.sup.Context())
	a.rtr.Start(a.sup.Context(), a.updates)
	a.rtr.PublishMenu(a.sup.Context(), a.adapter)
	if a.rep != nil {
		if err := a.rep.Start(a.sup.Context()); err != nil {
			a.log.Warn("report schedule rejected", logx.Err(err))
		}
	}

	// Send-lifecycle events feed the audit trail and debug logs.
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.drain", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.handleEvent(c, e)
			}
		}
	})

	// Config file watch + hot reload fan-out.
	a.sup.Go("config.watch", a.cfgm.Watch)
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				a.applyReload(lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.log.Info("started", logx.Bool("storage", a.store != nil), logx.Bool("report", a.rep != nil))
	return nil
}

func (a *App) applyReload(oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)

	for _, s := range sections {
		switch s {
		case "logging", "telegram":
			if newCfg.Telegram.OperatorChatID != 0 {
				a.logs.SetTelegramTarget(newCfg.Telegram.OperatorChatID, newCfg.Logging.Telegram.ThreadID)
			} else {
				a.logs.SetTelegramTarget(0, 0)
			}
			a.logs.Apply(mapLoggingConfig(newCfg))
			a.rtr.Apply(router.Config{OperatorChatID: newCfg.Telegram.OperatorChatID})
		case "send_queue":
			qcfg, err := mapSendQueueConfig(newCfg)
			if err != nil {
				a.log.Warn("invalid send_queue config; keeping previous", logx.Err(err))
				continue
			}
			a.queue.Apply(qcfg)
		case "report", "storage":
			a.log.Warn("config section changed; restart required",
				logx.String("section", s))
		}
	}
	a.bus.Publish(eventbus.Event{Type: eventbus.EventConfigReloaded, Time: time.Now()})
}

func (a *App) handleEvent(ctx context.Context, e eventbus.Event) {
	a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
	if a.store == nil {
		return
	}
	switch e.Type {
	case eventbus.EventSendDispatched, eventbus.EventSendFailed:
		se, ok := e.Data.(sendqueue.SendEvent)
		if !ok {
			return
		}
		chatID, _ := strconv.ParseInt(string(se.Chat), 10, 64)
		entry := storage.AuditEntry{
			At:       e.Time,
			ChatID:   chatID,
			Action:   "send",
			OK:       e.Type == eventbus.EventSendDispatched,
			Error:    se.Error,
			WaitedMS: se.Waited.Milliseconds(),
			Retries:  se.Retries,
		}
		if err := a.store.AppendAudit(ctx, entry); err != nil {
			a.log.Debug("audit append failed", logx.Err(err))
		}
	}
}

// Stop shuts components down in reverse dependency order: inbound first so
// no new sends arrive, then the queue so pending results resolve.
func (a *App) Stop(ctx context.Context) error {
	if a.rep != nil {
		a.rep.Stop(ctx)
	}
	a.rtr.Stop(ctx)
	a.queue.Stop(ctx)
	_ = a.adapter.Stop(ctx)

	var err error
	if a.sup != nil {
		a.sup.Cancel()
		err = a.sup.Stop(ctx)
	}
	if a.store != nil {
		if cerr := a.store.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return err
}
