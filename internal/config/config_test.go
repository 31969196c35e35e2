package config

import (
	"strings"
	"testing"
	"time"
)

func intp(v int) *int { return &v }

const sampleYAML = `
telegram:
  token: "123:abc"
  operator_chat_id: 42
  poll_timeout: "10s"
logging:
  level: debug
  console: true
send_queue:
  rate_per_sec: 25
  per_chat_cooldown: "1s"
  retry_max: 3
  retry_base: "500ms"
report:
  enabled: true
  schedule: "@every 6h"
storage:
  driver: file
  path: ./digestbot_store
`

func TestParseBytesYAML(t *testing.T) {
	t.Parallel()
	cfg, err := ParseBytes("config.yaml", []byte(sampleYAML))
	if err != nil {
		t.Fatalf("ParseBytes: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" {
		t.Fatalf("token = %q", cfg.Telegram.Token)
	}
	if cfg.Telegram.OperatorChatID != 42 {
		t.Fatalf("operator = %d", cfg.Telegram.OperatorChatID)
	}
	if cfg.SendQueue == nil || cfg.SendQueue.RatePerSec != 25 {
		t.Fatalf("send_queue = %+v", cfg.SendQueue)
	}
	if cfg.SendQueue.RetryMax == nil || *cfg.SendQueue.RetryMax != 3 {
		t.Fatalf("retry_max = %v", cfg.SendQueue.RetryMax)
	}
	if cfg.Report == nil || !cfg.Report.Enabled || cfg.Report.Schedule != "@every 6h" {
		t.Fatalf("report = %+v", cfg.Report)
	}
	if cfg.Storage == nil || cfg.Storage.Driver != "file" {
		t.Fatalf("storage = %+v", cfg.Storage)
	}
}

func TestParseBytesJSON(t *testing.T) {
	t.Parallel()
	cfg, err := ParseBytes("config.json",
		[]byte(`{"telegram":{"token":"t","operator_chat_id":1,"poll_timeout":"5s"},"logging":{"level":"info","console":true,"file":{"enabled":false,"path":""},"telegram":{"enabled":false,"thread_id":0,"min_level":"","rate_per_sec":0}}}`))
	if err != nil {
		t.Fatalf("ParseBytes: %v", err)
	}
	if cfg.Telegram.Token != "t" {
		t.Fatalf("token = %q", cfg.Telegram.Token)
	}
}

func TestParseBytesRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	_, err := ParseBytes("config.json", []byte(`{"telegram":{"token":"t"},"surprise":1}`))
	if err == nil || !strings.Contains(err.Error(), "unknown field") {
		t.Fatalf("err = %v, want unknown-field rejection", err)
	}
}

func TestParseBytesRejectsTrailingData(t *testing.T) {
	t.Parallel()
	_, err := ParseBytes("config.json", []byte(`{"telegram":{"token":"t"}}{"more":true}`))
	if err == nil {
		t.Fatal("expected error for trailing data")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "missing token", mutate: func(c *Config) { c.Telegram.Token = " " }, wantErr: "telegram.token"},
		{name: "bad poll timeout", mutate: func(c *Config) { c.Telegram.PollTimeout = "soon" }, wantErr: "poll_timeout"},
		{name: "bad cooldown", mutate: func(c *Config) { c.SendQueue.PerChatCooldown = "1 second" }, wantErr: "per_chat_cooldown"},
		{name: "negative retries", mutate: func(c *Config) { c.SendQueue.RetryMax = intp(-1) }, wantErr: "retry_max"},
		{name: "zero retries allowed", mutate: func(c *Config) { c.SendQueue.RetryMax = intp(0) }},
		{name: "omitted retries allowed", mutate: func(c *Config) { c.SendQueue.RetryMax = nil }},
		{name: "report without schedule", mutate: func(c *Config) { c.Report.Schedule = "" }, wantErr: "report.schedule"},
		{name: "bad timezone", mutate: func(c *Config) { c.Report.Timezone = "Mars/Olympus" }, wantErr: "report.timezone"},
		{name: "storage without path", mutate: func(c *Config) { c.Storage.Path = "" }, wantErr: "storage.path"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := ParseBytes("config.yaml", []byte(sampleYAML))
			if err != nil {
				t.Fatal(err)
			}
			tt.mutate(cfg)
			err = Validate(cfg)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("err = %v, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	if d, err := ParseDurationField("x", " 1m30s "); err != nil || d != 90*time.Second {
		t.Fatalf("got %v, %v", d, err)
	}
	if d, err := ParseDurationField("x", ""); err != nil || d != 0 {
		t.Fatalf("empty: got %v, %v", d, err)
	}
	if _, err := ParseDurationField("x", "-5s"); err == nil {
		t.Fatal("negative duration accepted")
	}
	if _, err := ParseDurationField("x", "five"); err == nil {
		t.Fatal("garbage accepted")
	}
	if d, err := ParseDurationOrDefault("x", "", 7*time.Second); err != nil || d != 7*time.Second {
		t.Fatalf("default: got %v, %v", d, err)
	}
}

func TestSummarizeChange(t *testing.T) {
	t.Parallel()
	oldCfg, err := ParseBytes("config.yaml", []byte(sampleYAML))
	if err != nil {
		t.Fatal(err)
	}
	newCfg, err := ParseBytes("config.yaml", []byte(sampleYAML))
	if err != nil {
		t.Fatal(err)
	}

	if sections, _ := SummarizeChange(oldCfg, newCfg); len(sections) != 0 {
		t.Fatalf("identical configs report changes: %v", sections)
	}

	newCfg.SendQueue.RatePerSec = 10
	newCfg.Logging.Level = "warn"
	sections, _ := SummarizeChange(oldCfg, newCfg)
	want := map[string]bool{"send_queue": true, "logging": true}
	if len(sections) != 2 {
		t.Fatalf("sections = %v", sections)
	}
	for _, s := range sections {
		if !want[s] {
			t.Fatalf("unexpected section %q in %v", s, sections)
		}
	}
}
