package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte("{}"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Browser.Mode != "headless" {
		t.Errorf("mode: got %q, want headless", cfg.Browser.Mode)
	}
	if cfg.Serializer.ContainmentThreshold != 0.99 {
		t.Errorf("threshold: got %v, want 0.99", cfg.Serializer.ContainmentThreshold)
	}
	if len(cfg.Action.Nudges) != 4 {
		t.Errorf("nudges: got %d, want 4", len(cfg.Action.Nudges))
	}
	if cfg.Action.PollInterval != 100*time.Millisecond {
		t.Errorf("poll interval: got %v", cfg.Action.PollInterval)
	}
	if cfg.Journal.BusyTimeout != 5*time.Second || cfg.Journal.Synchronous != "NORMAL" {
		t.Errorf("journal: got %+v", cfg.Journal)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "webpilot.yaml")
	data := `
browser:
  remote: ws://127.0.0.1:9222/devtools/browser/abc
  stealth: true
  resource_blocking: [image, font]
serializer:
  containment_threshold: 0.95
  include_attributes: [id, name]
action:
  settle_delay: 50ms
  max_wait: 3s
  nudges:
    - {dx: 0, dy: -120}
journal:
  path: /tmp/journal.db
  busy_timeout: 2s
  synchronous: full
http:
  addr: ":9000"
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.Browser.Stealth || len(cfg.Browser.ResourceBlocking) != 2 {
		t.Errorf("browser: got %+v", cfg.Browser)
	}
	if cfg.Serializer.ContainmentThreshold != 0.95 {
		t.Errorf("threshold: got %v, want 0.95", cfg.Serializer.ContainmentThreshold)
	}
	if got := cfg.Action.SettleDelay; got != 50*time.Millisecond {
		t.Errorf("settle delay: got %v, want 50ms", got)
	}
	if got := cfg.Action.MaxWait; got != 3*time.Second {
		t.Errorf("max wait: got %v, want 3s", got)
	}
	if len(cfg.Action.Nudges) != 1 || cfg.Action.Nudges[0].DY != -120 {
		t.Errorf("nudges: got %+v", cfg.Action.Nudges)
	}
	if cfg.Journal.BusyTimeout != 2*time.Second || cfg.Journal.Synchronous != "FULL" {
		t.Errorf("journal: got %+v", cfg.Journal)
	}
	if cfg.HTTP.Addr != ":9000" {
		t.Errorf("addr: got %q", cfg.HTTP.Addr)
	}
	if cfg.Action.TypeDelay != 20*time.Millisecond {
		t.Errorf("type delay default: got %v", cfg.Action.TypeDelay)
	}
}

func TestParse_Invalid(t *testing.T) {
	cases := []string{
		"browser: {mode: windowed}",
		"serializer: {containment_threshold: 1.5}",
		"http: {password_hash: x}",
		"journal: {synchronous: sometimes}",
		"action: [",
	}
	for _, c := range cases {
		if _, err := Parse([]byte(c)); err == nil {
			t.Errorf("%q: expected error", c)
		}
	}
}
