package sendqueue

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	kit "digestbot/internal/transport"
	logx "digestbot/pkg/logx"
)

type fakeSend struct {
	at   time.Time
	chat int64
	text string
}

type fakeAdapter struct {
	mu     sync.Mutex
	sends  []fakeSend
	typing []int64

	// sendErr, when set, decides the error for the n-th SendText call
	// (0-based). nil return means success.
	sendErr func(call int) error
	calls   int
}

func (f *fakeAdapter) Start(ctx context.Context, out chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(ctx context.Context) error                         { return nil }

func (f *fakeAdapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	call := f.calls
	f.calls++
	errFn := f.sendErr
	f.mu.Unlock()

	if errFn != nil {
		if err := errFn(call); err != nil {
			return kit.MessageRef{}, err
		}
	}
	f.mu.Lock()
	f.sends = append(f.sends, fakeSend{at: time.Now(), chat: to.ChatID, text: text})
	f.mu.Unlock()
	return kit.MessageRef{ChatID: to.ChatID, MessageID: call + 1}, nil
}

func (f *fakeAdapter) SendTyping(ctx context.Context, to kit.ChatTarget) error {
	f.mu.Lock()
	f.typing = append(f.typing, to.ChatID)
	f.mu.Unlock()
	return nil
}

func (f *fakeAdapter) EditText(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	return nil
}

func (f *fakeAdapter) AnswerCallback(ctx context.Context, callbackID string, text string) error {
	return nil
}

func (f *fakeAdapter) sentTo(chat int64) []fakeSend {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []fakeSend
	for _, s := range f.sends {
		if s.chat == chat {
			out = append(out, s)
		}
	}
	return out
}

func (f *fakeAdapter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func startQueue(t *testing.T, cfg Config) (*Service, *fakeAdapter) {
	t.Helper()
	ad := &fakeAdapter{}
	s := New(cfg, ad, logx.Nop(), nil)
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s, ad
}

func sendOp(ad *fakeAdapter, chat int64, text string) Op {
	return func(ctx context.Context) (kit.MessageRef, error) {
		return ad.SendText(ctx, kit.ChatTarget{ChatID: chat}, text, nil)
	}
}

func mustWait(t *testing.T, res *Result) kit.MessageRef {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	ref, err := res.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	return ref
}

func TestEnqueueBeforeStart(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{}
	s := New(Config{}, ad, logx.Nop(), nil)
	if _, err := s.Enqueue(sendOp(ad, 1, "x"), kit.ChatTarget{ChatID: 1}, nil); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("err = %v, want ErrNotStarted", err)
	}
}

func TestPerChatCooldownSpacing(t *testing.T) {
	t.Parallel()
	s, ad := startQueue(t, Config{
		GlobalRatePerSec: 100,
		PerChatCooldown:  150 * time.Millisecond,
	})

	r1, err := s.Enqueue(sendOp(ad, 1, "first"), kit.ChatTarget{ChatID: 1}, nil)
	if err != nil {
		t.Fatal(err)
	}
	r2, err := s.Enqueue(sendOp(ad, 1, "second"), kit.ChatTarget{ChatID: 1}, nil)
	if err != nil {
		t.Fatal(err)
	}
	// A different chat is not held back by chat 1's cooldown.
	r3, err := s.Enqueue(sendOp(ad, 2, "other"), kit.ChatTarget{ChatID: 2}, nil)
	if err != nil {
		t.Fatal(err)
	}
	mustWait(t, r1)
	mustWait(t, r2)
	mustWait(t, r3)

	one := ad.sentTo(1)
	if len(one) != 2 {
		t.Fatalf("chat 1 sends = %d, want 2", len(one))
	}
	if gap := one[1].at.Sub(one[0].at); gap < 140*time.Millisecond {
		t.Fatalf("same-chat gap = %v, want >= cooldown", gap)
	}
	two := ad.sentTo(2)
	if len(two) != 1 {
		t.Fatalf("chat 2 sends = %d, want 1", len(two))
	}
	if gap := two[0].at.Sub(one[0].at); gap > 100*time.Millisecond {
		t.Fatalf("independent chat waited %v", gap)
	}
}

func TestGlobalWindowCap(t *testing.T) {
	t.Parallel()
	s, ad := startQueue(t, Config{
		GlobalRatePerSec: 2,
		PerChatCooldown:  time.Millisecond,
	})

	var results []*Result
	for chat := int64(1); chat <= 3; chat++ {
		r, err := s.Enqueue(sendOp(ad, chat, "x"), kit.ChatTarget{ChatID: chat}, nil)
		if err != nil {
			t.Fatal(err)
		}
		results = append(results, r)
	}
	for _, r := range results {
		mustWait(t, r)
	}

	var all []fakeSend
	for chat := int64(1); chat <= 3; chat++ {
		all = append(all, ad.sentTo(chat)...)
	}
	if len(all) != 3 {
		t.Fatalf("sends = %d, want 3", len(all))
	}
	first, last := all[0].at, all[0].at
	for _, s := range all {
		if s.at.Before(first) {
			first = s.at
		}
		if s.at.After(last) {
			last = s.at
		}
	}
	// Two fit in the trailing second; the third must wait for a slot.
	if spread := last.Sub(first); spread < 900*time.Millisecond {
		t.Fatalf("three sends within %v despite window of 2/s", spread)
	}
}

func TestRetryHonorsRateLimitHint(t *testing.T) {
	t.Parallel()
	s, ad := startQueue(t, Config{
		GlobalRatePerSec: 100,
		PerChatCooldown:  time.Millisecond,
		RetryBase:        10 * time.Millisecond,
	})
	const hint = 200 * time.Millisecond
	ad.sendErr = func(call int) error {
		if call == 0 {
			return kit.RateLimited(errors.New("too many requests"), hint)
		}
		return nil
	}

	start := time.Now()
	r, err := s.Enqueue(sendOp(ad, 1, "x"), kit.ChatTarget{ChatID: 1}, nil)
	if err != nil {
		t.Fatal(err)
	}
	mustWait(t, r)

	if got := ad.callCount(); got != 2 {
		t.Fatalf("attempts = %d, want 2", got)
	}
	// The platform hint exceeds our backoff, so it sets the floor.
	if elapsed := time.Since(start); elapsed < hint {
		t.Fatalf("resolved after %v, want >= %v", elapsed, hint)
	}
}

func TestRetryExhaustionSurfacesCause(t *testing.T) {
	t.Parallel()
	s, ad := startQueue(t, Config{
		GlobalRatePerSec: 100,
		PerChatCooldown:  time.Millisecond,
		RetryMax:         2,
		RetryBase:        5 * time.Millisecond,
	})
	cause := errors.New("connection reset")
	ad.sendErr = func(call int) error { return kit.Transient(cause) }

	r, err := s.Enqueue(sendOp(ad, 1, "x"), kit.ChatTarget{ChatID: 1}, nil)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, werr := r.Wait(ctx)
	if werr == nil || !errors.Is(werr, cause) {
		t.Fatalf("Wait err = %v, want wrapped %v", werr, cause)
	}
	// Initial attempt plus RetryMax retries.
	if got := ad.callCount(); got != 3 {
		t.Fatalf("attempts = %d, want 3", got)
	}
}

func TestPermanentErrorFailsWithoutRetry(t *testing.T) {
	t.Parallel()
	s, ad := startQueue(t, Config{
		GlobalRatePerSec: 100,
		PerChatCooldown:  time.Millisecond,
		RetryBase:        5 * time.Millisecond,
	})
	cause := errors.New("chat not found")
	ad.sendErr = func(call int) error { return cause }

	r, err := s.Enqueue(sendOp(ad, 1, "x"), kit.ChatTarget{ChatID: 1}, nil)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, werr := r.Wait(ctx); !errors.Is(werr, cause) {
		t.Fatalf("Wait err = %v, want %v", werr, cause)
	}
	if got := ad.callCount(); got != 1 {
		t.Fatalf("attempts = %d, want 1", got)
	}
}

func TestCancelBeforeDispatch(t *testing.T) {
	t.Parallel()
	s, ad := startQueue(t, Config{
		GlobalRatePerSec: 100,
		PerChatCooldown:  300 * time.Millisecond,
	})

	r1, err := s.Enqueue(sendOp(ad, 1, "first"), kit.ChatTarget{ChatID: 1}, nil)
	if err != nil {
		t.Fatal(err)
	}
	mustWait(t, r1)

	var invoked sync.Once
	var wasInvoked bool
	op := func(ctx context.Context) (kit.MessageRef, error) {
		invoked.Do(func() { wasInvoked = true })
		return kit.MessageRef{}, nil
	}
	// Sits on chat 1's cooldown; withdraw it before it becomes due.
	r2, err := s.Enqueue(op, kit.ChatTarget{ChatID: 1}, nil)
	if err != nil {
		t.Fatal(err)
	}
	r2.Cancel()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, werr := r2.Wait(ctx); !errors.Is(werr, ErrCancelled) {
		t.Fatalf("Wait err = %v, want ErrCancelled", werr)
	}
	// Give a would-be dispatch time to happen, then verify it never did.
	time.Sleep(400 * time.Millisecond)
	if wasInvoked {
		t.Fatal("cancelled op was invoked")
	}
}

func TestStopRejectsPending(t *testing.T) {
	t.Parallel()
	s, ad := startQueue(t, Config{
		GlobalRatePerSec: 100,
		PerChatCooldown:  500 * time.Millisecond,
	})

	r1, err := s.Enqueue(sendOp(ad, 1, "first"), kit.ChatTarget{ChatID: 1}, nil)
	if err != nil {
		t.Fatal(err)
	}
	mustWait(t, r1)

	r2, err := s.Enqueue(sendOp(ad, 1, "pending"), kit.ChatTarget{ChatID: 1}, nil)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.Stop(ctx)

	if _, werr := r2.Wait(ctx); !errors.Is(werr, ErrStopped) {
		t.Fatalf("Wait err = %v, want ErrStopped", werr)
	}
	// The rejected entry's operation is never invoked.
	if got := ad.callCount(); got != 1 {
		t.Fatalf("adapter calls after stop = %d, want 1", got)
	}
	if _, err := s.Enqueue(sendOp(ad, 1, "late"), kit.ChatTarget{ChatID: 1}, nil); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("Enqueue after stop = %v, want ErrNotStarted", err)
	}
}

func TestMetricsEmptyQueue(t *testing.T) {
	t.Parallel()
	s, _ := startQueue(t, Config{GlobalRatePerSec: 100, PerChatCooldown: time.Millisecond})

	m := s.Metrics()
	if m.QueueDepth != 0 || m.MaxDelay != 0 || m.AvgDelay != 0 || m.MaxDelayChat != "" {
		t.Fatalf("empty queue metrics = %+v", m)
	}
	if m.SampledAt.IsZero() {
		t.Fatal("SampledAt not set")
	}
}

func TestMetricsReportBacklog(t *testing.T) {
	t.Parallel()
	s, ad := startQueue(t, Config{
		GlobalRatePerSec: 100,
		PerChatCooldown:  time.Second,
	})

	r1, err := s.Enqueue(sendOp(ad, 7, "first"), kit.ChatTarget{ChatID: 7}, nil)
	if err != nil {
		t.Fatal(err)
	}
	mustWait(t, r1)

	if _, err := s.Enqueue(sendOp(ad, 7, "backlogged"), kit.ChatTarget{ChatID: 7}, nil); err != nil {
		t.Fatal(err)
	}

	m := s.Metrics()
	if m.QueueDepth != 1 {
		t.Fatalf("QueueDepth = %d, want 1", m.QueueDepth)
	}
	if m.MaxDelay <= 0 || m.MaxDelay > time.Second {
		t.Fatalf("MaxDelay = %v", m.MaxDelay)
	}
	if m.MaxDelayChat != kit.ChatKey("7") {
		t.Fatalf("MaxDelayChat = %q, want \"7\"", m.MaxDelayChat)
	}
	if m.AvgDelay != m.MaxDelay {
		t.Fatalf("single entry: AvgDelay %v != MaxDelay %v", m.AvgDelay, m.MaxDelay)
	}
}

func TestBacklogAlertDebounced(t *testing.T) {
	t.Parallel()
	const operator = int64(999)
	s, ad := startQueue(t, Config{
		GlobalRatePerSec:        100,
		PerChatCooldown:         400 * time.Millisecond,
		HeavyLoadDelayThreshold: 50 * time.Millisecond,
		AlertDelayThreshold:     100 * time.Millisecond,
		AlertCooldown:           time.Minute,
		AlertTarget:             kit.ChatTarget{ChatID: operator},
	})

	r1, err := s.Enqueue(sendOp(ad, 1, "first"), kit.ChatTarget{ChatID: 1}, nil)
	if err != nil {
		t.Fatal(err)
	}
	mustWait(t, r1)

	// These sit on the cooldown long enough to cross the alert threshold.
	if _, err := s.Enqueue(sendOp(ad, 1, "b1"), kit.ChatTarget{ChatID: 1}, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Enqueue(sendOp(ad, 1, "b2"), kit.ChatTarget{ChatID: 1}, nil); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	var alerts []fakeSend
	for time.Now().Before(deadline) {
		alerts = ad.sentTo(operator)
		if len(alerts) > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if len(alerts) != 1 {
		t.Fatalf("alerts = %d, want exactly 1 (debounced)", len(alerts))
	}
	if !strings.Contains(alerts[0].text, "backlog") {
		t.Fatalf("alert text = %q", alerts[0].text)
	}
}

func TestApplyConcurrentWithStart(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{}
	s := New(Config{GlobalRatePerSec: 10, PerChatCooldown: time.Millisecond}, ad, logx.Nop(), nil)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.Apply(Config{GlobalRatePerSec: 50, PerChatCooldown: 2 * time.Millisecond})
	}()
	s.Start(context.Background())
	wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.Stop(ctx)
}

func TestConfigDefaults(t *testing.T) {
	t.Parallel()

	got := Config{}.withDefaults()
	if got.GlobalRatePerSec != 25 || got.PerChatCooldown != time.Second ||
		got.RetryMax != 3 || got.RetryBase != 500*time.Millisecond {
		t.Fatalf("zero config defaults = %+v", got)
	}
	if got.HeavyLoadDelayThreshold != 3*time.Second ||
		got.AlertDelayThreshold != 6*time.Second || got.AlertCooldown != 5*time.Minute {
		t.Fatalf("zero config thresholds = %+v", got)
	}

	// Negative means explicitly off, not "use the default".
	off := Config{PerChatCooldown: -1, RetryMax: -1}.withDefaults()
	if off.PerChatCooldown != 0 {
		t.Fatalf("PerChatCooldown = %v, want 0 (pacing off)", off.PerChatCooldown)
	}
	if off.RetryMax != 0 {
		t.Fatalf("RetryMax = %d, want 0 (retries off)", off.RetryMax)
	}

	kept := Config{PerChatCooldown: 2 * time.Second, RetryMax: 1}.withDefaults()
	if kept.PerChatCooldown != 2*time.Second || kept.RetryMax != 1 {
		t.Fatalf("explicit values rewritten: %+v", kept)
	}
}

func TestCooldownOffDispatchesBackToBack(t *testing.T) {
	t.Parallel()
	s, ad := startQueue(t, Config{
		GlobalRatePerSec: 100,
		PerChatCooldown:  -1,
	})

	r1, err := s.Enqueue(sendOp(ad, 1, "first"), kit.ChatTarget{ChatID: 1}, nil)
	if err != nil {
		t.Fatal(err)
	}
	r2, err := s.Enqueue(sendOp(ad, 1, "second"), kit.ChatTarget{ChatID: 1}, nil)
	if err != nil {
		t.Fatal(err)
	}
	mustWait(t, r1)
	mustWait(t, r2)

	one := ad.sentTo(1)
	if len(one) != 2 {
		t.Fatalf("sends = %d, want 2", len(one))
	}
	// No per-chat pacing: both dispatch well inside the default 1s cooldown.
	if gap := one[1].at.Sub(one[0].at); gap > 500*time.Millisecond {
		t.Fatalf("same-chat gap = %v with pacing off", gap)
	}
}

func TestRetriesOffFailsTransientImmediately(t *testing.T) {
	t.Parallel()
	s, ad := startQueue(t, Config{
		GlobalRatePerSec: 100,
		PerChatCooldown:  time.Millisecond,
		RetryMax:         -1,
		RetryBase:        5 * time.Millisecond,
	})
	cause := errors.New("connection reset")
	ad.sendErr = func(call int) error { return kit.Transient(cause) }

	r, err := s.Enqueue(sendOp(ad, 1, "x"), kit.ChatTarget{ChatID: 1}, nil)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, werr := r.Wait(ctx); !errors.Is(werr, cause) {
		t.Fatalf("Wait err = %v, want %v", werr, cause)
	}
	if got := ad.callCount(); got != 1 {
		t.Fatalf("attempts = %d, want 1 (retries off)", got)
	}
}

func TestBackoffDelayDoubles(t *testing.T) {
	t.Parallel()
	base := 100 * time.Millisecond
	for attempt, want := range map[int]time.Duration{
		1: 100 * time.Millisecond,
		2: 200 * time.Millisecond,
		3: 400 * time.Millisecond,
		4: 800 * time.Millisecond,
	} {
		if got := backoffDelay(base, attempt); got != want {
			t.Fatalf("backoffDelay(attempt=%d) = %v, want %v", attempt, got, want)
		}
	}
}
