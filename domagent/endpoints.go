package domagent

import (
	"context"
	"time"

	"github.com/hazyhaar/webpilot/domagent/dom"
	"github.com/hazyhaar/webpilot/domagent/internal/action"
	"github.com/hazyhaar/webpilot/kit"
)

// Endpoint requests, shared by the MCP and HTTP surfaces.

type openRequest struct {
	URL string `json:"url"`
}

type sessionRequest struct {
	SessionID string `json:"session_id"`
}

type stateRequest struct {
	SessionID string `json:"session_id"`
	Cached    bool   `json:"cached,omitempty"` // return the published state without a new pass
}

type actRequest struct {
	SessionID string `json:"session_id"`
	action.Request
}

type journalRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

// SessionView describes a registered session.
type SessionView struct {
	ID        string    `json:"id"`
	TargetID  string    `json:"target_id"`
	CreatedAt time.Time `json:"created_at"`
	HasState  bool      `json:"has_state"`
}

// StateView is the decision-maker artifact of one pass.
type StateView struct {
	SessionID string    `json:"session_id"`
	PassID    string    `json:"pass_id"`
	URL       string    `json:"url"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	Elements  int       `json:"elements"`
	Text      string    `json:"text"`
}

func viewOf(s *Session) SessionView {
	return SessionView{ID: s.ID(), TargetID: s.TargetID(), CreatedAt: s.CreatedAt(), HasState: s.State() != nil}
}

func (a *Agent) endpoint(name string, ep kit.Endpoint) kit.Endpoint {
	return kit.Chain(kit.Logging(a.logger, name))(ep)
}

func (a *Agent) openEndpoint() kit.Endpoint {
	return a.endpoint("open", func(ctx context.Context, req any) (any, error) {
		r := req.(*openRequest)
		s, err := a.Open(ctx, r.URL)
		if err != nil {
			return nil, err
		}
		return viewOf(s), nil
	})
}

func (a *Agent) sessionsEndpoint() kit.Endpoint {
	return a.endpoint("sessions", func(ctx context.Context, _ any) (any, error) {
		out := []SessionView{}
		for _, s := range a.Sessions() {
			out = append(out, viewOf(s))
		}
		return out, nil
	})
}

func (a *Agent) closeEndpoint() kit.Endpoint {
	return a.endpoint("close", func(ctx context.Context, req any) (any, error) {
		r := req.(*sessionRequest)
		if err := a.CloseSession(r.SessionID); err != nil {
			return nil, err
		}
		return map[string]string{"closed": r.SessionID}, nil
	})
}

func (a *Agent) stateEndpoint() kit.Endpoint {
	return a.endpoint("state", func(ctx context.Context, req any) (any, error) {
		r := req.(*stateRequest)
		s, err := a.Session(r.SessionID)
		if err != nil {
			return nil, err
		}
		st := s.State()
		if !r.Cached || st == nil {
			if st, err = s.ExtractState(ctx); err != nil {
				return nil, err
			}
		}
		return StateView{
			SessionID: s.ID(),
			PassID:    st.PassID,
			URL:       st.URL,
			Title:     st.Title,
			CreatedAt: st.CreatedAt,
			Elements:  len(st.Selectors),
			Text:      s.Text(st),
		}, nil
	})
}

func (a *Agent) actEndpoint() kit.Endpoint {
	return a.endpoint("act", func(ctx context.Context, req any) (any, error) {
		r := req.(*actRequest)
		s, err := a.Session(r.SessionID)
		if err != nil {
			return nil, err
		}
		return s.Perform(ctx, r.Request)
	})
}

func (a *Agent) journalEndpoint() kit.Endpoint {
	return a.endpoint("journal", func(ctx context.Context, req any) (any, error) {
		r := req.(*journalRequest)
		entries, err := a.Journal(ctx, r.SessionID, r.Limit)
		if err != nil {
			return nil, err
		}
		if entries == nil {
			entries = []*JournalEntry{}
		}
		return entries, nil
	})
}

// withSession tags ctx with the request's session for logging.
func withSession(id string) func(context.Context) context.Context {
	return func(ctx context.Context) context.Context { return kit.WithSessionID(ctx, id) }
}

// errorKind is the wire name of an error's kind.
func errorKind(err error) string {
	switch dom.KindOf(err) {
	case dom.KindNotFound:
		return "not_found"
	case dom.KindUnsupported:
		return "unsupported"
	case dom.KindTimeout:
		return "timeout"
	case dom.KindStaleSession:
		return "stale_session"
	}
	return "protocol_failure"
}
