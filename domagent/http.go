package domagent

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/hazyhaar/webpilot/domagent/dom"
	"github.com/hazyhaar/webpilot/kit"
)

// Handler returns the HTTP API. When a password hash is configured every
// route except /healthz requires basic auth.
func (a *Agent) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(a.requestContext, apiHeaders)
	r.Get("/healthz", healthz)
	r.Group(func(r chi.Router) {
		if a.cfg.HTTP.PasswordHash != "" {
			r.Use(basicAuth(a.cfg.HTTP.User, a.cfg.HTTP.PasswordHash))
		}
		a.RegisterHTTP(r)
	})
	return r
}

func healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// RegisterHTTP registers the API routes on r. /healthz is not included.
func (a *Agent) RegisterHTTP(r chi.Router) {
	r.Get("/sessions", a.serve(a.sessionsEndpoint(), func(*http.Request) (any, error) { return nil, nil }))
	r.Post("/sessions", a.serve(a.openEndpoint(), func(r *http.Request) (any, error) {
		var req openRequest
		return &req, decodeBody(r, &req)
	}))
	r.Delete("/sessions/{id}", a.serve(a.closeEndpoint(), func(r *http.Request) (any, error) {
		return &sessionRequest{SessionID: chi.URLParam(r, "id")}, nil
	}))
	r.Get("/sessions/{id}/state", a.serve(a.stateEndpoint(), func(r *http.Request) (any, error) {
		cached, _ := strconv.ParseBool(r.URL.Query().Get("cached"))
		return &stateRequest{SessionID: chi.URLParam(r, "id"), Cached: cached}, nil
	}))
	r.Post("/sessions/{id}/actions", a.serve(a.actEndpoint(), func(r *http.Request) (any, error) {
		req := actRequest{}
		if err := decodeBody(r, &req.Request); err != nil {
			return nil, err
		}
		req.SessionID = chi.URLParam(r, "id")
		return &req, nil
	}))
	r.Get("/sessions/{id}/journal", a.serve(a.journalEndpoint(), func(r *http.Request) (any, error) {
		return journalQuery(r, chi.URLParam(r, "id"))
	}))
	r.Get("/journal", a.serve(a.journalEndpoint(), func(r *http.Request) (any, error) {
		return journalQuery(r, "")
	}))
}

func journalQuery(r *http.Request, sessionID string) (any, error) {
	req := &journalRequest{SessionID: sessionID}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, errors.New("limit must be an integer")
		}
		req.Limit = n
	}
	return req, nil
}

func (a *Agent) requestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := kit.WithTransport(r.Context(), "http")
		if id := r.Header.Get("X-Request-ID"); id != "" {
			ctx = kit.WithRequestID(ctx, id)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// apiHeaders sets the headers every API response carries.
func apiHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

// serve adapts an endpoint to an HTTP handler.
func (a *Agent) serve(ep kit.Endpoint, decode func(*http.Request) (any, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := decode(r)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error(), Kind: "bad_request"})
			return
		}
		ctx := r.Context()
		if id := chi.URLParam(r, "id"); id != "" {
			ctx = kit.WithSessionID(ctx, id)
		}
		resp, err := ep(ctx, req)
		if err != nil {
			writeJSON(w, statusOf(err), errorBody{Error: err.Error(), Kind: errorKind(err)})
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func statusOf(err error) int {
	if errors.Is(err, context.Canceled) {
		return 499
	}
	switch dom.KindOf(err) {
	case dom.KindNotFound:
		return http.StatusNotFound
	case dom.KindUnsupported:
		return http.StatusUnprocessableEntity
	case dom.KindTimeout:
		return http.StatusGatewayTimeout
	case dom.KindStaleSession:
		return http.StatusGone
	}
	return http.StatusBadGateway
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.New("invalid JSON body: " + err.Error())
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// basicAuth checks credentials against a bcrypt hash.
func basicAuth(user, hash string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			u, p, ok := r.BasicAuth()
			if !ok || u != user || bcrypt.CompareHashAndPassword([]byte(hash), []byte(p)) != nil {
				w.Header().Set("WWW-Authenticate", `Basic realm="webpilot"`)
				writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthorized", Kind: "unauthorized"})
				return
			}
			next.ServeHTTP(w, r.WithContext(kit.WithUser(r.Context(), u)))
		})
	}
}
