// Package browser starts or connects to Chrome and opens page tabs wired to
// the cdp session and driver. It does not supervise the process: a crashed
// browser surfaces as stale sessions.
package browser

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/webpilot/domagent/internal/cdp"
)

// Config configures the browser manager.
type Config struct {
	// RemoteURL is the DevTools websocket of a running Chrome. Empty
	// launches a local one.
	RemoteURL   string
	Bin         string
	Headless    bool
	Stealth     bool
	UserDataDir string

	// ResourceBlocking lists resource types to fail: image, font, media,
	// stylesheet (plural forms accepted).
	ResourceBlocking []string

	// CallTimeout bounds every protocol call made through a tab.
	CallTimeout time.Duration

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.CallTimeout <= 0 {
		c.CallTimeout = 10 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Manager owns one browser connection.
type Manager struct {
	cfg     Config
	mu      sync.Mutex
	browser *rod.Browser
	lnch    *launcher.Launcher
	closed  bool
}

// NewManager creates a Manager. Call Start before opening tabs.
func NewManager(cfg Config) *Manager {
	cfg.defaults()
	return &Manager{cfg: cfg}
}

// Start launches or connects to Chrome.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("browser: manager is closed")
	}
	if m.browser != nil {
		return nil
	}
	log := m.cfg.Logger

	wsURL := m.cfg.RemoteURL
	if wsURL != "" {
		log.Info("browser: connecting to remote", "url", wsURL)
	} else {
		l := launcher.New().Headless(m.cfg.Headless)
		if m.cfg.Bin != "" {
			l = l.Bin(m.cfg.Bin)
		}
		if m.cfg.UserDataDir != "" {
			l = l.UserDataDir(m.cfg.UserDataDir)
		}
		if m.cfg.Stealth {
			l = l.Set("disable-blink-features", "AutomationControlled")
		}
		u, err := l.Context(ctx).Launch()
		if err != nil {
			return fmt.Errorf("browser: launch: %w", err)
		}
		wsURL = u
		m.lnch = l
		log.Info("browser: launched local chrome", "url", wsURL, "headless", m.cfg.Headless)
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		m.cleanup()
		return fmt.Errorf("browser: connect: %w", err)
	}
	m.browser = b
	return nil
}

// Close disconnects and, for a launched Chrome, kills the process.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.cleanup()
	return nil
}

func (m *Manager) cleanup() {
	if m.browser != nil {
		if m.lnch != nil {
			m.browser.Close()
		}
		m.browser = nil
	}
	if m.lnch != nil {
		m.lnch.Cleanup()
		m.lnch = nil
	}
}

func (m *Manager) current() (*rod.Browser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.browser == nil {
		return nil, fmt.Errorf("browser: not started")
	}
	return m.browser, nil
}

// Targets lists the open page targets.
func (m *Manager) Targets(ctx context.Context) ([]cdp.TargetInfo, error) {
	b, err := m.current()
	if err != nil {
		return nil, err
	}
	res, err := proto.TargetGetTargets{}.Call(b.Context(ctx))
	if err != nil {
		return nil, fmt.Errorf("browser: targets: %w", err)
	}
	var out []cdp.TargetInfo
	for _, t := range res.TargetInfos {
		if t.Type != "page" {
			continue
		}
		out = append(out, cdp.TargetInfo{ID: string(t.TargetID), Type: string(t.Type), URL: t.URL, Title: t.Title})
	}
	return out, nil
}
