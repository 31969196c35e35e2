package report

import (
	"context"
	"testing"
	"time"

	"digestbot/internal/messenger"
	"digestbot/internal/sendqueue"
	kit "digestbot/internal/transport"
	logx "digestbot/pkg/logx"
)

type nopAdapter struct{}

func (nopAdapter) Start(ctx context.Context, out chan<- kit.Update) error { return nil }
func (nopAdapter) Stop(ctx context.Context) error                         { return nil }
func (nopAdapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	return kit.MessageRef{ChatID: to.ChatID, MessageID: 1}, nil
}
func (nopAdapter) SendTyping(ctx context.Context, to kit.ChatTarget) error { return nil }
func (nopAdapter) EditText(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	return nil
}
func (nopAdapter) AnswerCallback(ctx context.Context, callbackID string, text string) error {
	return nil
}

func testDeps() (*sendqueue.Service, *messenger.Service) {
	ad := nopAdapter{}
	q := sendqueue.New(sendqueue.Config{GlobalRatePerSec: 100, PerChatCooldown: time.Millisecond}, ad, logx.Nop(), nil)
	return q, messenger.New(ad, nil, logx.Nop())
}

func TestStartDisabledIsNoop(t *testing.T) {
	t.Parallel()
	q, m := testDeps()
	s := New(Config{Enabled: false, Schedule: "garbage"}, q, m, logx.Nop())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("disabled Start: %v", err)
	}
	s.Stop(context.Background())
}

func TestStartRejectsBadSchedule(t *testing.T) {
	t.Parallel()
	q, m := testDeps()
	s := New(Config{
		Enabled:  true,
		Schedule: "not a cron line",
		Operator: kit.ChatTarget{ChatID: 1},
	}, q, m, logx.Nop())
	if err := s.Start(context.Background()); err == nil {
		t.Fatal("bad schedule accepted")
	}
}

func TestStartRejectsBadTimezone(t *testing.T) {
	t.Parallel()
	q, m := testDeps()
	s := New(Config{
		Enabled:  true,
		Schedule: "@every 1h",
		Timezone: "Mars/Olympus",
		Operator: kit.ChatTarget{ChatID: 1},
	}, q, m, logx.Nop())
	if err := s.Start(context.Background()); err == nil {
		t.Fatal("bad timezone accepted")
	}
}

func TestStartStopLifecycle(t *testing.T) {
	t.Parallel()
	q, m := testDeps()
	s := New(Config{
		Enabled:  true,
		Schedule: "@every 12h",
		Operator: kit.ChatTarget{ChatID: 1},
	}, q, m, logx.Nop())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	// Second Start is a no-op.
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("re-Start: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Stop(ctx)
	s.Stop(ctx) // idempotent
}
