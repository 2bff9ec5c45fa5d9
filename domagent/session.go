package domagent

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hazyhaar/webpilot/domagent/dom"
	"github.com/hazyhaar/webpilot/domagent/internal/action"
	"github.com/hazyhaar/webpilot/domagent/internal/cdp"
	"github.com/hazyhaar/webpilot/domagent/internal/journal"
	"github.com/hazyhaar/webpilot/domagent/internal/serializer"
	"github.com/hazyhaar/webpilot/domagent/internal/snapshot"
	"github.com/hazyhaar/webpilot/idgen"
)

// Session drives one page target.
type Session struct {
	id      string
	agent   *Agent
	target  *Target
	exec    *action.Executor
	logger  *slog.Logger
	created time.Time

	mu    sync.Mutex // serializes passes and actions
	prev  dom.SelectorMap
	state atomic.Pointer[dom.SerializedDOMState]
}

func newSession(a *Agent, id string, t *Target) *Session {
	logger := a.logger.With("session", id)
	opts := a.actionOptions()
	opts.Logger = logger
	return &Session{
		id:      id,
		agent:   a,
		target:  t,
		exec:    action.New(t.Session, t.Driver, opts),
		logger:  logger,
		created: time.Now(),
	}
}

// ID returns the session ID.
func (s *Session) ID() string { return s.id }

// TargetID returns the page target the session drives.
func (s *Session) TargetID() string { return s.target.Session.TargetID() }

// CreatedAt returns when the session was registered.
func (s *Session) CreatedAt() time.Time { return s.created }

// State returns the last published state, nil when none was extracted or
// an action invalidated it.
func (s *Session) State() *dom.SerializedDOMState { return s.state.Load() }

// Invalidate drops the published state.
func (s *Session) Invalidate() { s.state.Store(nil) }

// ExtractState runs one extraction pass and publishes its result. Readers
// of State see either the previous state or the complete new one.
func (s *Session) ExtractState(ctx context.Context) (*dom.SerializedDOMState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.extract(ctx)
}

func (s *Session) extract(ctx context.Context) (*dom.SerializedDOMState, error) {
	sess := s.target.Session
	if err := sess.Alive(ctx); err != nil {
		return nil, dom.StaleSession("extract", err)
	}
	start := time.Now()
	raw, err := snapshot.Build(ctx, sess, s.logger)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &dom.Error{Kind: dom.KindTimeout, Op: "extract", Err: err}
		}
		return nil, dom.Protocol("extract", err)
	}
	cfg := s.agent.cfg.Serializer
	root, sel := serializer.Serialize(raw, s.prev, serializer.Options{ContainmentThreshold: cfg.ContainmentThreshold})

	st := &dom.SerializedDOMState{
		PassID:    idgen.Pass(),
		CreatedAt: time.Now(),
		Root:      root,
		Selectors: sel,
	}
	if v, err := sess.Evaluate(ctx, cdp.ScriptPageInfo); err == nil {
		var info struct{ URL, Title string }
		if v.Decode(&info) == nil {
			st.URL, st.Title = info.URL, info.Title
		}
	} else {
		s.logger.Debug("domagent: page info unavailable", "error", err)
	}
	s.prev = sel
	s.state.Store(st)
	s.logger.Info("domagent: state extracted", "pass", st.PassID, "elements", len(sel), "duration", time.Since(start))
	return st, nil
}

// Text renders a state for the decision-maker with the configured
// attribute allow-list.
func (s *Session) Text(st *dom.SerializedDOMState) string {
	return serializer.Text(st, s.agent.cfg.Serializer.IncludeAttributes)
}

// Perform executes one action against the published state.
func (s *Session) Perform(ctx context.Context, req action.Request) (*action.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.state.Load()
	start := time.Now()
	res, err := s.exec.Do(ctx, st, req)
	s.record(st, req, res, err, time.Since(start))
	if err != nil {
		if dom.KindOf(err) == dom.KindStaleSession {
			s.Invalidate()
		}
		return nil, err
	}
	if res.StateInvalidated {
		s.Invalidate()
	}
	if res.NewTargetID != "" {
		s.logger.Info("domagent: action opened a new target", "kind", req.Kind, "target", res.NewTargetID)
	}
	return res, nil
}

func (s *Session) record(st *dom.SerializedDOMState, req action.Request, res *action.Result, err error, d time.Duration) {
	j := s.agent.journal
	if j == nil {
		return
	}
	e := &journal.Entry{
		SessionID:  s.id,
		Kind:       string(req.Kind),
		DurationMs: d.Milliseconds(),
	}
	if st != nil {
		e.PassID = st.PassID
	}
	if req.Index > 0 {
		i := req.Index
		e.Index = &i
	}
	if err != nil {
		e.Status = journal.StatusError
		e.ErrorKind = dom.KindOf(err).String()
		e.Error = err.Error()
	} else {
		e.Tier = string(res.Tier)
		e.Message = res.Message
	}
	j.RecordAsync(e)
}

func (s *Session) close() error {
	s.Invalidate()
	if s.target.Close == nil {
		return nil
	}
	if err := s.target.Close(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
