package sendqueue

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"digestbot/internal/eventbus"
	rtsup "digestbot/internal/runtime/supervisor"
	kit "digestbot/internal/transport"
	logx "digestbot/pkg/logx"
)

// Service coordinates outbound sends with global and per-chat rate controls.
//
// A single worker goroutine owns dispatch; the heap, sliding window, and
// cooldown map are all mutated under one mutex, acquired for the minimum
// time needed. It is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	cfg     Config
	adapter kit.Adapter
	log     logx.Logger
	bus     eventbus.Bus

	h        entryHeap
	seq      uint64
	window   *slidingWindow
	cooldown *cooldownTracker

	// wake has capacity 1; admissions nudge the worker to re-evaluate its
	// sleep deadline.
	wake chan struct{}

	running   bool
	runCancel context.CancelFunc
	sup       *rtsup.Supervisor

	lastAlertAt time.Time
}

// SendEvent is the bus payload for send.* events.
type SendEvent struct {
	Chat    kit.ChatKey
	Retries int
	Waited  time.Duration
	Error   string
}

func New(cfg Config, adapter kit.Adapter, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.withDefaults()
	return &Service{
		cfg:      cfg,
		adapter:  adapter,
		log:      log,
		bus:      bus,
		window:   newSlidingWindow(cfg.GlobalRatePerSec, windowInterval),
		cooldown: newCooldownTracker(cfg.PerChatCooldown),
		wake:     make(chan struct{}, 1),
	}
}

// Apply updates the configuration at runtime. The window limit and cooldown
// take effect for subsequent admissions and dispatches; queued entries keep
// their computed ready times.
func (s *Service) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	s.cfg = cfg
	s.window.limit = cfg.GlobalRatePerSec
	s.cooldown.cooldown = cfg.PerChatCooldown
	s.mu.Unlock()
}

// Start launches the dispatch worker. It is idempotent.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	runCtx, cancel := context.WithCancel(ctx)
	s.runCancel = cancel
	s.sup = rtsup.New(runCtx,
		rtsup.WithLogger(s.log),
		// A failing send must never take down pacing for everyone else.
		rtsup.WithCancelOnError(false),
	)
	sup := s.sup
	cfg := s.cfg
	s.mu.Unlock()

	sup.GoRestart("sendqueue.worker", s.run)
	s.log.Info("send queue started",
		logx.Int("global_rate_per_sec", cfg.GlobalRatePerSec),
		logx.Duration("per_chat_cooldown", cfg.PerChatCooldown))
}

// Stop cancels the worker, waits for it to exit (bounded by ctx), and
// rejects every still-queued entry with ErrStopped. It is idempotent.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.runCancel
	s.runCancel = nil
	sup := s.sup
	s.sup = nil
	s.mu.Unlock()

	cancel()
	if sup != nil {
		_ = sup.Stop(ctx)
	}

	// Flush after the worker has exited so no rejected entry can dispatch.
	s.mu.Lock()
	drained := make([]*entry, 0, len(s.h))
	for s.h.Len() > 0 {
		drained = append(drained, heap.Pop(&s.h).(*entry))
	}
	s.window.reset()
	s.cooldown.reset()
	s.mu.Unlock()

	for _, e := range drained {
		e.res.resolve(kit.MessageRef{}, ErrStopped)
	}
	if len(drained) > 0 {
		s.log.Warn("send queue stopped with pending entries", logx.Int("rejected", len(drained)))
	} else {
		s.log.Info("send queue stopped")
	}
}

// Enqueue admits a send operation for the given target. It returns the
// result handle immediately; completion is observed asynchronously.
//
// Admissions expecting to wait beyond the heavy-load threshold trigger a
// best-effort typing indicator toward the chat. Failure of that side signal
// never affects the admission.
func (s *Service) Enqueue(op Op, target kit.ChatTarget, meta any) (*Result, error) {
	key := target.Key()

	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil, ErrNotStarted
	}
	now := time.Now()
	readyAt := s.cooldown.nextAllowed(key, now)
	delay := readyAt.Sub(now)

	res := newResult(s)
	e := &entry{
		op:         op,
		key:        key,
		target:     target,
		meta:       meta,
		res:        res,
		enqueuedAt: now,
		readyAt:    readyAt,
	}
	res.e = e
	s.seq++
	e.seq = s.seq
	heap.Push(&s.h, e)
	depth := s.h.Len()
	cfg := s.cfg
	sup := s.sup
	s.mu.Unlock()

	s.wakeWorker()

	s.log.Debug("send enqueued",
		logx.String("chat", string(key)),
		logx.Duration("delay", delay),
		logx.Int("queue_depth", depth))

	if delay > cfg.HeavyLoadDelayThreshold && s.adapter != nil && sup != nil {
		// Mask the expected latency with a typing indicator.
		sup.Go0("sendqueue.typing", func(ctx context.Context) {
			if err := s.adapter.SendTyping(ctx, target); err != nil {
				s.log.Debug("typing indicator failed", logx.String("chat", string(key)), logx.Err(err))
			}
		})
	}

	if depth > cfg.GlobalRatePerSec || delay > cfg.HeavyLoadDelayThreshold {
		s.maybeAlert(sup)
	}

	return res, nil
}

func (s *Service) wakeWorker() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// cancelEntry removes a still-queued entry. No effect once the worker has
// popped it for dispatch (heapIdx is -1 from then on).
func (s *Service) cancelEntry(r *Result) {
	s.mu.Lock()
	e := r.e
	if e == nil || e.heapIdx < 0 {
		s.mu.Unlock()
		return
	}
	s.h.remove(e.heapIdx)
	s.mu.Unlock()

	r.resolve(kit.MessageRef{}, ErrCancelled)
	s.wakeWorker()
	s.log.Debug("send cancelled before dispatch", logx.String("chat", string(e.key)))
}

// requeueLocked reschedules e to at. Callers must hold s.mu. readyAt only
// ever moves forward here: at is always computed from a later now.
func (s *Service) requeueLocked(e *entry, at time.Time) {
	e.readyAt = at
	s.seq++
	e.seq = s.seq
	heap.Push(&s.h, e)
}

func (s *Service) publish(typ string, e *entry, waited time.Duration, err error) {
	if s.bus == nil {
		return
	}
	ev := SendEvent{Chat: e.key, Retries: e.retries, Waited: waited}
	if err != nil {
		ev.Error = err.Error()
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: ev})
}
