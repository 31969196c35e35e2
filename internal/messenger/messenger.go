// Package messenger is the single entry point for outbound sends.
//
// With a send queue configured, every send is admitted for pacing and the
// caller transparently awaits the queued result. Without one (optional
// deployments), sends forward straight to the adapter with no pacing or
// retry.
package messenger

import (
	"context"

	"digestbot/internal/sendqueue"
	kit "digestbot/internal/transport"
	logx "digestbot/pkg/logx"
)

type Service struct {
	adapter kit.Adapter
	queue   *sendqueue.Service // nil means direct sends
	log     logx.Logger
}

func New(adapter kit.Adapter, queue *sendqueue.Service, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{adapter: adapter, queue: queue, log: log}
}

// Paced reports whether sends go through the pacing queue.
func (s *Service) Paced() bool { return s.queue != nil }

// Direct returns the underlying adapter, bypassing the queue. Used for
// paths that must not sit behind the backlog (e.g. backlog alerts).
func (s *Service) Direct() kit.Adapter { return s.adapter }

// SendText delivers text to the target, paced when a queue is configured.
// It blocks until the send resolves; ctx cancellation abandons the wait and
// withdraws the entry if it has not been dispatched yet.
func (s *Service) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if s.queue == nil {
		return s.adapter.SendText(ctx, to, text, opt)
	}
	res, err := s.queue.Enqueue(func(opCtx context.Context) (kit.MessageRef, error) {
		return s.adapter.SendText(opCtx, to, text, opt)
	}, to, nil)
	if err != nil {
		return kit.MessageRef{}, err
	}
	ref, err := res.Wait(ctx)
	if err != nil && ctx.Err() != nil {
		res.Cancel()
	}
	return ref, err
}

// SendTextAsync admits a send and returns the handle without waiting.
// With no queue configured the send happens synchronously and the returned
// handle is already resolved.
func (s *Service) SendTextAsync(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (*sendqueue.Result, error) {
	if s.queue == nil {
		ref, err := s.adapter.SendText(ctx, to, text, opt)
		return sendqueue.ResolvedResult(ref, err), nil
	}
	return s.queue.Enqueue(func(opCtx context.Context) (kit.MessageRef, error) {
		return s.adapter.SendText(opCtx, to, text, opt)
	}, to, nil)
}

// EditText edits a previously sent message, paced like a send: Telegram
// counts edits against the same per-chat limits.
func (s *Service) EditText(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	if s.queue == nil {
		return s.adapter.EditText(ctx, ref, text, opt)
	}
	target := kit.ChatTarget{ChatID: ref.ChatID, ThreadID: ref.ThreadID}
	res, err := s.queue.Enqueue(func(opCtx context.Context) (kit.MessageRef, error) {
		return ref, s.adapter.EditText(opCtx, ref, text, opt)
	}, target, nil)
	if err != nil {
		return err
	}
	_, err = res.Wait(ctx)
	if err != nil && ctx.Err() != nil {
		res.Cancel()
	}
	return err
}

// SendTyping forwards the chat action directly: it is the latency-masking
// side signal itself and must not queue behind what it masks.
func (s *Service) SendTyping(ctx context.Context, to kit.ChatTarget) error {
	return s.adapter.SendTyping(ctx, to)
}

// AnswerCallback is direct: callback answers are ephemeral and expire before
// any queueing delay would pay off.
func (s *Service) AnswerCallback(ctx context.Context, callbackID string, text string) error {
	return s.adapter.AnswerCallback(ctx, callbackID, text)
}
