// Package domagent extracts an indexed map of the interactive elements of
// live pages and performs actions against them.
//
// An Agent keeps a registry of Sessions, one per page target. A Session
// publishes the result of each extraction pass atomically and serializes
// its own passes and actions; distinct sessions run concurrently.
package domagent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/hazyhaar/webpilot/dbopen"
	"github.com/hazyhaar/webpilot/domagent/dom"
	"github.com/hazyhaar/webpilot/domagent/internal/action"
	"github.com/hazyhaar/webpilot/domagent/internal/browser"
	"github.com/hazyhaar/webpilot/domagent/internal/cdp"
	"github.com/hazyhaar/webpilot/domagent/internal/journal"
	"github.com/hazyhaar/webpilot/idgen"
)

// Target is one page as seen by a Session. Driver may be nil; Close may be
// nil for targets the agent does not own.
type Target struct {
	Session cdp.Session
	Driver  cdp.Driver
	Close   func() error
}

// Opener produces targets.
type Opener interface {
	Open(ctx context.Context, url string) (*Target, error)
	Attach(ctx context.Context, targetID string) (*Target, error)
}

// Agent is the session registry.
type Agent struct {
	cfg     *Config
	opener  Opener
	journal *journal.Journal
	logger  *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	closers  []func() error
}

// Option configures an Agent.
type Option func(*Agent)

// WithJournal records every performed action in j.
func WithJournal(j *journal.Journal) Option {
	return func(a *Agent) { a.journal = j }
}

// New creates an Agent. opener may be nil when sessions are only adopted.
func New(cfg *Config, opener Opener, logger *slog.Logger, opts ...Option) *Agent {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	a := &Agent{
		cfg:      cfg,
		opener:   opener,
		logger:   logger,
		sessions: make(map[string]*Session),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Start builds an Agent that drives Chrome as configured, opening the
// journal when a path is set.
func Start(ctx context.Context, cfg *Config, logger *slog.Logger) (*Agent, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	mgr := browser.NewManager(browser.Config{
		RemoteURL:        cfg.Browser.Remote,
		Bin:              cfg.Browser.Bin,
		Headless:         cfg.Browser.Mode != "headful",
		Stealth:          cfg.Browser.Stealth,
		UserDataDir:      cfg.Browser.UserDataDir,
		ResourceBlocking: cfg.Browser.ResourceBlocking,
		CallTimeout:      cfg.Action.CallTimeout,
		Logger:           logger,
	})
	if err := mgr.Start(ctx); err != nil {
		return nil, fmt.Errorf("domagent: %w", err)
	}
	var opts []Option
	var j *journal.Journal
	if cfg.Journal.Path != "" {
		var err error
		j, err = journal.Open(cfg.Journal.Path, cfg.Journal.Buffer, logger,
			dbopen.WithBusyTimeout(int(cfg.Journal.BusyTimeout.Milliseconds())),
			dbopen.WithSynchronous(cfg.Journal.Synchronous))
		if err != nil {
			mgr.Close()
			return nil, fmt.Errorf("domagent: %w", err)
		}
		opts = append(opts, WithJournal(j))
	}
	a := New(cfg, managerOpener{mgr}, logger, opts...)
	a.closers = append(a.closers, mgr.Close)
	if j != nil {
		a.closers = append(a.closers, j.Close)
	}
	return a, nil
}

type managerOpener struct{ m *browser.Manager }

func tabTarget(t *browser.Tab) *Target {
	return &Target{Session: t.Session, Driver: t.Driver, Close: t.Close}
}

func (o managerOpener) Open(ctx context.Context, url string) (*Target, error) {
	t, err := o.m.Open(ctx, url)
	if err != nil {
		return nil, err
	}
	return tabTarget(t), nil
}

func (o managerOpener) Attach(ctx context.Context, targetID string) (*Target, error) {
	t, err := o.m.Attach(ctx, targetID)
	if err != nil {
		return nil, err
	}
	return tabTarget(t), nil
}

// Open opens a new page, navigates it to url and registers a session.
func (a *Agent) Open(ctx context.Context, url string) (*Session, error) {
	if a.opener == nil {
		return nil, dom.Unsupported("open", "no browser configured")
	}
	t, err := a.opener.Open(ctx, url)
	if err != nil {
		return nil, dom.Protocol("open", err)
	}
	return a.Adopt(t), nil
}

// Attach registers a session for an existing target, typically the
// NewTargetID reported by a click. Attaching twice returns the same
// session.
func (a *Agent) Attach(ctx context.Context, targetID string) (*Session, error) {
	if s := a.byTarget(targetID); s != nil {
		return s, nil
	}
	if a.opener == nil {
		return nil, dom.Unsupported("attach", "no browser configured")
	}
	t, err := a.opener.Attach(ctx, targetID)
	if err != nil {
		return nil, &dom.Error{Kind: dom.KindStaleSession, Op: "attach", Detail: targetID, Err: err}
	}
	return a.Adopt(t), nil
}

// Adopt registers a session over t.
func (a *Agent) Adopt(t *Target) *Session {
	s := newSession(a, idgen.Session(), t)
	a.mu.Lock()
	a.sessions[s.id] = s
	a.mu.Unlock()
	a.logger.Info("domagent: session opened", "session", s.id, "target", t.Session.TargetID())
	return s
}

func (a *Agent) byTarget(targetID string) *Session {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, s := range a.sessions {
		if s.TargetID() == targetID {
			return s
		}
	}
	return nil
}

// Session returns a registered session.
func (a *Agent) Session(id string) (*Session, error) {
	a.mu.Lock()
	s, ok := a.sessions[id]
	a.mu.Unlock()
	if !ok {
		return nil, dom.StaleSession("session", fmt.Errorf("unknown session %q", id))
	}
	return s, nil
}

// Sessions lists registered sessions ordered by ID.
func (a *Agent) Sessions() []*Session {
	a.mu.Lock()
	out := make([]*Session, 0, len(a.sessions))
	for _, s := range a.sessions {
		out = append(out, s)
	}
	a.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// CloseSession unregisters a session and closes its target.
func (a *Agent) CloseSession(id string) error {
	a.mu.Lock()
	s, ok := a.sessions[id]
	delete(a.sessions, id)
	a.mu.Unlock()
	if !ok {
		return dom.StaleSession("close", fmt.Errorf("unknown session %q", id))
	}
	a.logger.Info("domagent: session closed", "session", id)
	return s.close()
}

// Journal returns the most recent journal entries of a session, or of all
// sessions when sessionID is empty.
func (a *Agent) Journal(ctx context.Context, sessionID string, limit int) ([]*JournalEntry, error) {
	if a.journal == nil {
		return nil, dom.Unsupported("journal", "the action journal is disabled")
	}
	return a.journal.Recent(ctx, sessionID, limit)
}

// Close closes every session, then the browser and the journal.
func (a *Agent) Close() error {
	a.mu.Lock()
	sessions := a.sessions
	a.sessions = make(map[string]*Session)
	a.mu.Unlock()
	var errs []error
	for _, s := range sessions {
		errs = append(errs, s.close())
	}
	for _, c := range a.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

func (a *Agent) actionOptions() action.Options {
	ac := a.cfg.Action
	var nudges []action.Nudge
	for _, n := range ac.Nudges {
		nudges = append(nudges, action.Nudge{DX: n.DX, DY: n.DY})
	}
	return action.Options{
		SettleDelay:     ac.SettleDelay,
		TypeDelay:       ac.TypeDelay,
		MaxWait:         ac.MaxWait,
		PollInterval:    ac.PollInterval,
		TextTimeout:     ac.TextTimeout,
		SelectorTimeout: ac.SelectorTimeout,
		Nudges:          nudges,
		Logger:          a.logger,
	}
}
