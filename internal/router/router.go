package router

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"digestbot/internal/messenger"
	rtsup "digestbot/internal/runtime/supervisor"
	"digestbot/internal/storage"
	kit "digestbot/internal/transport"
	logx "digestbot/pkg/logx"
)

// HandlerFunc handles one parsed command.
type HandlerFunc func(ctx context.Context, req *Request) error

// Request carries one inbound command to its handler.
type Request struct {
	Msg     kit.Message
	Chat    kit.ChatTarget
	Command string
	Args    []string

	Msgr *messenger.Service
	Log  logx.Logger
}

// Command is one registered slash command.
type Command struct {
	Name         string
	Description  string
	OperatorOnly bool
	Handle       HandlerFunc
}

type Config struct {
	// OperatorChatID gates operator-only commands. Zero disables them.
	OperatorChatID int64
	// HandlerTimeout bounds one handler invocation. Default 30s.
	HandlerTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.HandlerTimeout <= 0 {
		c.HandlerTimeout = 30 * time.Second
	}
	return c
}

// Service owns the update pump and the command table.
type Service struct {
	mu   sync.Mutex
	cfg  Config
	msgr *messenger.Service
	st   storage.Store // may be nil
	log  logx.Logger

	cmds map[string]Command

	running bool
	cancel  context.CancelFunc
	sup     *rtsup.Supervisor
}

func New(cfg Config, msgr *messenger.Service, st storage.Store, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:  cfg.withDefaults(),
		msgr: msgr,
		st:   st,
		log:  log,
		cmds: map[string]Command{},
	}
}

// Apply updates runtime-tunable settings. Safe while running.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.cfg = cfg.withDefaults()
	s.mu.Unlock()
}

// Register adds a command. Later registrations replace earlier ones.
func (s *Service) Register(cmd Command) {
	name := strings.TrimPrefix(strings.TrimSpace(cmd.Name), "/")
	if name == "" || cmd.Handle == nil {
		return
	}
	cmd.Name = name
	s.mu.Lock()
	s.cmds[name] = cmd
	s.mu.Unlock()
}

// Commands returns the registered commands sorted by name, omitting
// operator-only entries when public is true.
func (s *Service) Commands(public bool) []Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Command, 0, len(s.cmds))
	for _, c := range s.cmds {
		if public && c.OperatorOnly {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Start begins consuming updates. Idempotent.
func (s *Service) Start(ctx context.Context, updates <-chan kit.Update) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.sup = rtsup.New(runCtx, rtsup.WithLogger(s.log))
	s.running = true

	s.sup.Go("router.pump", func(ctx context.Context) error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case upd, ok := <-updates:
				if !ok {
					return nil
				}
				s.handle(ctx, upd)
			}
		}
	})
}

// Stop halts the pump and waits for in-flight handlers.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	sup := s.sup
	s.cancel = nil
	s.sup = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if sup != nil {
		_ = sup.Stop(ctx)
	}
}

// PublishMenu pushes the public command list to the platform menu, when the
// adapter supports it.
func (s *Service) PublishMenu(ctx context.Context, adapter kit.Adapter) {
	upd, ok := adapter.(kit.CommandMenuUpdater)
	if !ok {
		return
	}
	cmds := s.Commands(true)
	menu := make([]kit.BotCommand, 0, len(cmds))
	for _, c := range cmds {
		menu = append(menu, kit.BotCommand{Command: c.Name, Description: c.Description})
	}
	if err := upd.UpdateMenuCommands(ctx, menu); err != nil {
		s.log.Warn("command menu update failed", logx.Err(err))
	}
}

func (s *Service) handle(ctx context.Context, upd kit.Update) {
	if upd.Kind != kit.UpdateMessage || upd.Message == nil {
		return
	}
	msg := *upd.Message
	name, args, ok := parseCommand(msg.Text)
	if !ok {
		return
	}

	s.mu.Lock()
	cmd, found := s.cmds[name]
	cfg := s.cfg
	sup := s.sup
	s.mu.Unlock()
	if !found || sup == nil {
		return
	}
	if cmd.OperatorOnly && (cfg.OperatorChatID == 0 || msg.ChatID != cfg.OperatorChatID) {
		s.log.Debug("command denied",
			logx.String("command", name), logx.Int64("chat_id", msg.ChatID))
		return
	}

	req := &Request{
		Msg:     msg,
		Chat:    kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID},
		Command: name,
		Args:    args,
		Msgr:    s.msgr,
		Log:     s.log.With(logx.String("command", name), logx.Int64("chat_id", msg.ChatID)),
	}

	sup.Go0("router.cmd."+name, func(hctx context.Context) {
		hctx, cancel := context.WithTimeout(hctx, cfg.HandlerTimeout)
		defer cancel()

		start := time.Now()
		err := cmd.Handle(hctx, req)
		if err != nil {
			req.Log.Warn("command failed",
				logx.Err(err), logx.Duration("took", time.Since(start)))
		} else {
			req.Log.Debug("command handled", logx.Duration("took", time.Since(start)))
		}
		s.audit(hctx, msg.ChatID, name, err)
	})
}

func (s *Service) audit(ctx context.Context, chatID int64, action string, err error) {
	if s.st == nil {
		return
	}
	e := storage.AuditEntry{
		At:     time.Now(),
		ChatID: chatID,
		Action: "cmd." + action,
		OK:     err == nil,
	}
	if err != nil {
		e.Error = err.Error()
	}
	if aerr := s.st.AppendAudit(ctx, e); aerr != nil {
		s.log.Debug("audit append failed", logx.Err(aerr))
	}
}

// parseCommand extracts a slash command and its arguments from message text.
// "@botname" suffixes are stripped so group mentions route the same way.
func parseCommand(text string) (name string, args []string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", nil, false
	}
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return "", nil, false
	}
	name = strings.TrimPrefix(fields[0], "/")
	if at := strings.IndexByte(name, '@'); at >= 0 {
		name = name[:at]
	}
	name = strings.ToLower(name)
	if name == "" {
		return "", nil, false
	}
	return name, fields[1:], true
}
