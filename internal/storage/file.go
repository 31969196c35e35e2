package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	logx "digestbot/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.audit.jsonl        (append-only JSON Lines)
//   - <prefix>.subs.snapshot.json (periodic snapshot)
//   - <prefix>.subs.journal.jsonl (append-only journal)
//
// The journal is periodically compacted into the snapshot.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	auditFile *os.File

	subsSnapshotPath string
	subsJournalFile  *os.File
	subs             map[int64]map[string]struct{}

	subsWrites   int
	compactEvery int
}

type subRecord struct {
	ChatID  int64  `json:"chat_id"`
	Channel string `json:"channel"`
	On      bool   `json:"on"`
}

func openFile(cfg Config) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	auditPath := prefix + ".audit.jsonl"
	snapPath := prefix + ".subs.snapshot.json"
	journalPath := prefix + ".subs.journal.jsonl"

	af, err := os.OpenFile(auditPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}

	// Load subscriptions from snapshot + journal.
	subs := map[int64]map[string]struct{}{}
	_ = loadSubsSnapshot(snapPath, subs)
	_ = replaySubsJournal(journalPath, subs)

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		_ = af.Close()
		return nil, err
	}

	every := cfg.CompactEvery
	if every <= 0 {
		every = 1000
	}

	return &fileStore{
		log:              logx.Nop(),
		auditFile:        af,
		subsSnapshotPath: snapPath,
		subsJournalFile:  jf,
		subs:             subs,
		compactEvery:     every,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err1, err2 error
	if s.auditFile != nil {
		err1 = s.auditFile.Close()
		s.auditFile = nil
	}
	if s.subsJournalFile != nil {
		err2 = s.subsJournalFile.Close()
		s.subsJournalFile = nil
	}
	if err1 != nil {
		return err1
	}
	return err2
}

func (s *fileStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return errors.New("audit file closed")
	}
	return json.NewEncoder(s.auditFile).Encode(e)
}

func (s *fileStore) Subscriptions(ctx context.Context, chatID int64) ([]string, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.subs[chatID]
	if len(set) == 0 {
		return nil, nil
	}
	out := make([]string, 0, len(set))
	for ch := range set {
		out = append(out, ch)
	}
	sort.Strings(out)
	return out, nil
}

func (s *fileStore) Subscribers(ctx context.Context, channel string) ([]int64, error) {
	_ = ctx
	channel = strings.TrimSpace(channel)
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []int64
	for id, set := range s.subs {
		if _, ok := set[channel]; ok {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (s *fileStore) AddSubscription(ctx context.Context, chatID int64, channel string) (bool, error) {
	return s.write(ctx, chatID, channel, true)
}

func (s *fileStore) RemoveSubscription(ctx context.Context, chatID int64, channel string) (bool, error) {
	return s.write(ctx, chatID, channel, false)
}

func (s *fileStore) write(ctx context.Context, chatID int64, channel string, on bool) (bool, error) {
	_ = ctx
	channel = strings.TrimSpace(channel)
	if channel == "" {
		return false, errors.New("channel is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subsJournalFile == nil {
		return false, errors.New("subscription journal closed")
	}

	set := s.subs[chatID]
	if on {
		if set == nil {
			set = map[string]struct{}{}
			s.subs[chatID] = set
		}
		if _, ok := set[channel]; ok {
			return false, nil
		}
		set[channel] = struct{}{}
	} else {
		if _, ok := set[channel]; !ok {
			return false, nil
		}
		delete(set, channel)
		if len(set) == 0 {
			delete(s.subs, chatID)
		}
	}

	enc := json.NewEncoder(s.subsJournalFile)
	if err := enc.Encode(subRecord{ChatID: chatID, Channel: channel, On: on}); err != nil {
		return false, err
	}
	s.subsWrites++
	if s.subsWrites%s.compactEvery == 0 {
		// Best-effort compact.
		if err := s.compactLocked(); err != nil {
			s.log.Debug("subscription compact failed", logx.Any("err", err))
		}
	}
	return true, nil
}

func (s *fileStore) compactLocked() error {
	snap := make(map[string][]string, len(s.subs))
	for id, set := range s.subs {
		chans := make([]string, 0, len(set))
		for ch := range set {
			chans = append(chans, ch)
		}
		sort.Strings(chans)
		snap[strconv.FormatInt(id, 10)] = chans
	}

	tmp := s.subsSnapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(snap); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.subsSnapshotPath); err != nil {
		return err
	}
	// Truncate journal.
	if err := s.subsJournalFile.Truncate(0); err != nil {
		return err
	}
	_, err = s.subsJournalFile.Seek(0, 2)
	return err
}

func loadSubsSnapshot(path string, out map[int64]map[string]struct{}) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var m map[string][]string
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return err
	}
	for k, chans := range m {
		id, err := strconv.ParseInt(k, 10, 64)
		if err != nil {
			continue
		}
		set := map[string]struct{}{}
		for _, ch := range chans {
			if ch != "" {
				set[ch] = struct{}{}
			}
		}
		if len(set) > 0 {
			out[id] = set
		}
	}
	return nil
}

func replaySubsJournal(path string, out map[int64]map[string]struct{}) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r subRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			continue
		}
		if r.Channel == "" {
			continue
		}
		if r.On {
			set := out[r.ChatID]
			if set == nil {
				set = map[string]struct{}{}
				out[r.ChatID] = set
			}
			set[r.Channel] = struct{}{}
		} else {
			delete(out[r.ChatID], r.Channel)
			if len(out[r.ChatID]) == 0 {
				delete(out, r.ChatID)
			}
		}
	}
	return sc.Err()
}
