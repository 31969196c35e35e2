package router

import (
	"context"
	"fmt"
	"strings"
	"time"

	"digestbot/internal/sendqueue"
)

// RegisterBuiltins wires the stock command set. queue may be nil when
// pacing is disabled; storage-backed commands degrade gracefully without
// a store.
func (s *Service) RegisterBuiltins(queue *sendqueue.Service) {
	s.Register(Command{
		Name:        "start",
		Description: "greeting and quick usage",
		Handle: func(ctx context.Context, req *Request) error {
			_, err := req.Msgr.SendText(ctx, req.Chat,
				"Hi! I deliver channel digests.\n"+
					"Use /sub <channel> to subscribe and /help for all commands.", nil)
			return err
		},
	})

	s.Register(Command{
		Name:        "help",
		Description: "list available commands",
		Handle: func(ctx context.Context, req *Request) error {
			s.mu.Lock()
			operator := s.cfg.OperatorChatID != 0 && req.Msg.ChatID == s.cfg.OperatorChatID
			s.mu.Unlock()

			var b strings.Builder
			b.WriteString("Commands:\n")
			for _, c := range s.Commands(!operator) {
				fmt.Fprintf(&b, "/%s - %s\n", c.Name, c.Description)
			}
			_, err := req.Msgr.SendText(ctx, req.Chat, b.String(), nil)
			return err
		},
	})

	s.Register(Command{
		Name:        "sub",
		Description: "subscribe this chat to a channel",
		Handle:      s.handleSub,
	})

	s.Register(Command{
		Name:        "unsub",
		Description: "unsubscribe this chat from a channel",
		Handle:      s.handleUnsub,
	})

	s.Register(Command{
		Name:        "list",
		Description: "show this chat's subscriptions",
		Handle: func(ctx context.Context, req *Request) error {
			if s.st == nil {
				_, err := req.Msgr.SendText(ctx, req.Chat, "Subscriptions are disabled on this deployment.", nil)
				return err
			}
			chans, err := s.st.Subscriptions(ctx, req.Msg.ChatID)
			if err != nil {
				return err
			}
			if len(chans) == 0 {
				_, err := req.Msgr.SendText(ctx, req.Chat, "No subscriptions yet. Try /sub <channel>.", nil)
				return err
			}
			_, err = req.Msgr.SendText(ctx, req.Chat,
				"Subscribed to:\n"+strings.Join(chans, "\n"), nil)
			return err
		},
	})

	s.Register(Command{
		Name:         "queue",
		Description:  "show outbound queue status",
		OperatorOnly: true,
		Handle: func(ctx context.Context, req *Request) error {
			if queue == nil {
				_, err := req.Msgr.SendText(ctx, req.Chat, "Send pacing is disabled; all sends go direct.", nil)
				return err
			}
			_, err := req.Msgr.SendText(ctx, req.Chat, FormatMetrics(queue.Metrics()), nil)
			return err
		},
	})
}

func (s *Service) handleSub(ctx context.Context, req *Request) error {
	if s.st == nil {
		_, err := req.Msgr.SendText(ctx, req.Chat, "Subscriptions are disabled on this deployment.", nil)
		return err
	}
	ch := normalizeChannel(req.Args)
	if ch == "" {
		_, err := req.Msgr.SendText(ctx, req.Chat, "Usage: /sub <channel>", nil)
		return err
	}
	added, err := s.st.AddSubscription(ctx, req.Msg.ChatID, ch)
	if err != nil {
		return err
	}
	text := "Already subscribed to " + ch + "."
	if added {
		text = "Subscribed to " + ch + "."
	}
	_, err = req.Msgr.SendText(ctx, req.Chat, text, nil)
	return err
}

func (s *Service) handleUnsub(ctx context.Context, req *Request) error {
	if s.st == nil {
		_, err := req.Msgr.SendText(ctx, req.Chat, "Subscriptions are disabled on this deployment.", nil)
		return err
	}
	ch := normalizeChannel(req.Args)
	if ch == "" {
		_, err := req.Msgr.SendText(ctx, req.Chat, "Usage: /unsub <channel>", nil)
		return err
	}
	removed, err := s.st.RemoveSubscription(ctx, req.Msg.ChatID, ch)
	if err != nil {
		return err
	}
	text := "Not subscribed to " + ch + "."
	if removed {
		text = "Unsubscribed from " + ch + "."
	}
	_, err = req.Msgr.SendText(ctx, req.Chat, text, nil)
	return err
}

func normalizeChannel(args []string) string {
	if len(args) == 0 {
		return ""
	}
	ch := strings.ToLower(strings.TrimSpace(args[0]))
	ch = strings.TrimPrefix(ch, "@")
	if ch == "" {
		return ""
	}
	return ch
}

// FormatMetrics renders a queue snapshot for operator chats. Shared with the
// scheduled status report so both read the same way.
func FormatMetrics(m sendqueue.Metrics) string {
	var b strings.Builder
	b.WriteString("Send queue status\n")
	fmt.Fprintf(&b, "Depth: %d\n", m.QueueDepth)
	fmt.Fprintf(&b, "Max delay: %s\n", roundDelay(m.MaxDelay))
	fmt.Fprintf(&b, "Avg delay: %s\n", roundDelay(m.AvgDelay))
	if m.MaxDelayChat != "" {
		fmt.Fprintf(&b, "Slowest chat: %s (%s)\n", m.MaxDelayChat, roundDelay(m.MaxDelayChatDelay))
	}
	return strings.TrimRight(b.String(), "\n")
}

func roundDelay(d time.Duration) time.Duration {
	return d.Round(10 * time.Millisecond)
}
