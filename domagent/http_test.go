package domagent

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/hazyhaar/webpilot/domagent/internal/action"
)

func do(t *testing.T, srv *httptest.Server, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, srv.URL+path, rd)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	buf.ReadFrom(resp.Body)
	return resp, buf.Bytes()
}

func TestHTTP_StateAndActions(t *testing.T) {
	a, s, f := testAgent(t)
	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	resp, body := do(t, srv, http.MethodGet, "/sessions/"+s.ID()+"/state", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("state: status %d: %s", resp.StatusCode, body)
	}
	if got := resp.Header.Get("Cache-Control"); got != "no-store" {
		t.Errorf("cache-control: got %q", got)
	}
	var view StateView
	if err := json.Unmarshal(body, &view); err != nil {
		t.Fatal(err)
	}
	if view.SessionID != s.ID() || view.Elements != 2 {
		t.Fatalf("view: %+v", view)
	}

	resp, body = do(t, srv, http.MethodPost, "/sessions/"+s.ID()+"/actions",
		action.Request{Kind: action.Click, Index: 1})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("click: status %d: %s", resp.StatusCode, body)
	}
	if f.ByID("go").Clicks != 1 {
		t.Errorf("clicks: got %d, want 1", f.ByID("go").Clicks)
	}

	resp, body = do(t, srv, http.MethodPost, "/sessions/"+s.ID()+"/actions",
		action.Request{Kind: action.Click, Index: 1})
	if resp.StatusCode != http.StatusNotFound || !strings.Contains(string(body), `"not_found"`) {
		t.Fatalf("click after invalidation: status %d: %s", resp.StatusCode, body)
	}

	resp, _ = do(t, srv, http.MethodPost, "/sessions/"+s.ID()+"/actions", map[string]any{"bogus": 1})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("unknown field: status %d, want 400", resp.StatusCode)
	}

	resp, _ = do(t, srv, http.MethodGet, "/sessions/ses_gone/state", nil)
	if resp.StatusCode != http.StatusGone {
		t.Errorf("unknown session: status %d, want 410", resp.StatusCode)
	}

	resp, body = do(t, srv, http.MethodGet, "/sessions", nil)
	var list []SessionView
	if err := json.Unmarshal(body, &list); err != nil || len(list) != 1 {
		t.Fatalf("sessions: %s (%v)", body, err)
	}

	resp, _ = do(t, srv, http.MethodDelete, "/sessions/"+s.ID(), nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("close: status %d", resp.StatusCode)
	}
	if len(a.Sessions()) != 0 {
		t.Errorf("sessions after close: %d", len(a.Sessions()))
	}
}

func TestHTTP_BasicAuth(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	a, _, _ := testAgent(t)
	a.cfg.HTTP.User = "pilot"
	a.cfg.HTTP.PasswordHash = string(hash)
	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	resp, _ := do(t, srv, http.MethodGet, "/healthz", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz without credentials: status %d, want 200", resp.StatusCode)
	}
	resp, _ = do(t, srv, http.MethodGet, "/sessions", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("no credentials: status %d, want 401", resp.StatusCode)
	}

	for _, c := range []struct {
		user, pass string
		want       int
	}{
		{"pilot", "wrong", http.StatusUnauthorized},
		{"other", "s3cret", http.StatusUnauthorized},
		{"pilot", "s3cret", http.StatusOK},
	} {
		req, _ := http.NewRequest(http.MethodGet, srv.URL+"/sessions", nil)
		req.SetBasicAuth(c.user, c.pass)
		resp, err := srv.Client().Do(req)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != c.want {
			t.Errorf("%s/%s: status %d, want %d", c.user, c.pass, resp.StatusCode, c.want)
		}
	}
}
