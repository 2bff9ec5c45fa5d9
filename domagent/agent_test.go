package domagent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/webpilot/dbopen"
	"github.com/hazyhaar/webpilot/domagent/dom"
	"github.com/hazyhaar/webpilot/domagent/internal/action"
	"github.com/hazyhaar/webpilot/domagent/internal/cdp/cdptest"
	"github.com/hazyhaar/webpilot/domagent/internal/journal"
)

// fakeOpener hands out cdptest pages.
type fakeOpener struct {
	mu    sync.Mutex
	pages map[string]*cdptest.Fake
	build func() *cdptest.Fake
}

func (o *fakeOpener) Open(ctx context.Context, url string) (*Target, error) {
	f := o.build()
	f.URL = url
	return &Target{Session: f, Driver: cdptest.NewDriver(f)}, nil
}

func (o *fakeOpener) Attach(ctx context.Context, targetID string) (*Target, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	f, ok := o.pages[targetID]
	if !ok {
		return nil, fmt.Errorf("no target %s", targetID)
	}
	return &Target{Session: f, Driver: cdptest.NewDriver(f)}, nil
}

func testPage() *cdptest.Fake {
	return cdptest.New(cdptest.Page(
		cdptest.El("button", "id", "go").At(10, 10, 100, 30).Add(cdptest.Text("Go")),
		cdptest.El("input", "id", "q", "type", "text", "name", "q").At(10, 60, 200, 30),
	))
}

func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.Action.SettleDelay = time.Millisecond
	cfg.Action.TypeDelay = time.Millisecond
	cfg.Action.PollInterval = 5 * time.Millisecond
	cfg.Action.SelectorTimeout = 50 * time.Millisecond
	return cfg
}

func testAgent(t *testing.T, opts ...Option) (*Agent, *Session, *cdptest.Fake) {
	t.Helper()
	f := testPage()
	a := New(testConfig(), &fakeOpener{build: testPage, pages: map[string]*cdptest.Fake{}}, nil, opts...)
	s := a.Adopt(&Target{Session: f, Driver: cdptest.NewDriver(f)})
	t.Cleanup(func() { a.Close() })
	return a, s, f
}

func TestExtractState_Publish(t *testing.T) {
	_, s, _ := testAgent(t)
	if s.State() != nil {
		t.Fatal("state published before any pass")
	}
	st, err := s.ExtractState(context.Background())
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if s.State() != st {
		t.Fatal("extracted state was not published")
	}
	if len(st.Selectors) != 2 {
		t.Fatalf("selectors: got %d, want 2", len(st.Selectors))
	}
	if n, _ := st.Node(1); n == nil || n.Tag != "button" {
		t.Errorf("index 1: got %+v, want button", n)
	}
	if !strings.HasPrefix(st.PassID, "pass_") {
		t.Errorf("pass id: got %q", st.PassID)
	}
	if st.URL != "https://example.test/" || st.Title != "Fake page" {
		t.Errorf("page info: got %q %q", st.URL, st.Title)
	}
	text := s.Text(st)
	if !strings.Contains(text, "[1]<button") || !strings.Contains(text, "[2]<input") {
		t.Errorf("text:\n%s", text)
	}
}

func TestPerform_ClickInvalidatesAndMarksNew(t *testing.T) {
	_, s, f := testAgent(t)
	ctx := context.Background()
	f.OnActivate = func(f *cdptest.Fake, n *cdptest.Node, _ int) {
		if n.Attrs["id"] == "go" {
			b := cdptest.El("button", "id", "more").At(10, 110, 100, 30)
			f.Graft(cdptest.Body(f.Doc), b.Add(cdptest.Text("More")))
		}
	}
	if _, err := s.ExtractState(ctx); err != nil {
		t.Fatal(err)
	}
	res, err := s.Perform(ctx, action.Request{Kind: action.Click, Index: 1})
	if err != nil {
		t.Fatalf("click: %v", err)
	}
	if !res.StateInvalidated || s.State() != nil {
		t.Fatalf("state not invalidated: %+v", res)
	}
	if f.ByID("go").Clicks != 1 {
		t.Errorf("clicks: got %d, want 1", f.ByID("go").Clicks)
	}

	// Acting on an index after invalidation needs a new pass.
	if _, err := s.Perform(ctx, action.Request{Kind: action.Click, Index: 1}); !errors.Is(err, dom.ErrNotFound) {
		t.Fatalf("click on invalidated state: got %v, want not found", err)
	}

	st, err := s.ExtractState(ctx)
	if err != nil {
		t.Fatal(err)
	}
	text := s.Text(st)
	if !strings.Contains(text, "*[3]<button") {
		t.Errorf("new button not marked:\n%s", text)
	}
	if strings.Contains(text, "*[1]") {
		t.Errorf("old button marked new:\n%s", text)
	}
}

func TestPerform_StaleSession(t *testing.T) {
	_, s, f := testAgent(t)
	ctx := context.Background()
	if _, err := s.ExtractState(ctx); err != nil {
		t.Fatal(err)
	}
	f.Dead = true
	if _, err := s.Perform(ctx, action.Request{Kind: action.Click, Index: 1}); !errors.Is(err, dom.ErrStaleSession) {
		t.Fatalf("got %v, want stale session", err)
	}
	if s.State() != nil {
		t.Error("stale session kept its state")
	}
	if _, err := s.ExtractState(ctx); !errors.Is(err, dom.ErrStaleSession) {
		t.Fatalf("extract: got %v, want stale session", err)
	}
}

func TestAttach_NewTarget(t *testing.T) {
	a, s, f := testAgent(t)
	ctx := context.Background()
	popup := testPage()
	a.opener.(*fakeOpener).pages["TARGET-2"] = popup
	f.OnActivate = func(f *cdptest.Fake, n *cdptest.Node, _ int) {
		f.OpenTarget("TARGET-2", "https://example.test/popup")
	}
	if _, err := s.ExtractState(ctx); err != nil {
		t.Fatal(err)
	}
	res, err := s.Perform(ctx, action.Request{Kind: action.Click, Index: 1})
	if err != nil {
		t.Fatal(err)
	}
	if res.NewTargetID != "TARGET-2" {
		t.Fatalf("new target: got %q, want TARGET-2", res.NewTargetID)
	}
	ns, err := a.Attach(ctx, res.NewTargetID)
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	if ns.ID() == s.ID() {
		t.Fatal("attach reused the opener's session")
	}
	if len(a.Sessions()) != 2 {
		t.Fatalf("sessions: got %d, want 2", len(a.Sessions()))
	}
	if _, err := a.Attach(ctx, "TARGET-9"); !errors.Is(err, dom.ErrStaleSession) {
		t.Fatalf("unknown target: got %v, want stale session", err)
	}
}

func TestSessions_Concurrent(t *testing.T) {
	a := New(testConfig(), &fakeOpener{build: testPage}, nil)
	defer a.Close()
	ctx := context.Background()
	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := a.Open(ctx, "https://example.test/")
			if err != nil {
				errs <- err
				return
			}
			if _, err := s.ExtractState(ctx); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
	if got := len(a.Sessions()); got != 8 {
		t.Fatalf("sessions: got %d, want 8", got)
	}
}

func TestJournal_RecordsActions(t *testing.T) {
	db := dbopen.OpenMemory(t, dbopen.WithSchema(journal.Schema))
	j := journal.New(db, 8, nil)
	a, s, _ := testAgent(t, WithJournal(j))
	ctx := context.Background()
	if _, err := s.ExtractState(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Perform(ctx, action.Request{Kind: action.InputText, Index: 2, Text: "hello"}); err != nil {
		t.Fatalf("input: %v", err)
	}
	if _, err := s.Perform(ctx, action.Request{Kind: action.Click, Index: 42}); err == nil {
		t.Fatal("click on unknown index succeeded")
	}
	j.Close()

	entries, err := a.Journal(ctx, s.ID(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries: got %d, want 2", len(entries))
	}
	var ok, failed int
	for _, e := range entries {
		switch e.Status {
		case journal.StatusOK:
			ok++
			if e.Kind != "input_text" || e.Tier == "" || e.PassID == "" {
				t.Errorf("ok entry: %+v", e)
			}
		case journal.StatusError:
			failed++
			if e.ErrorKind != "not found" || e.Index == nil || *e.Index != 42 {
				t.Errorf("error entry: %+v", e)
			}
		}
	}
	if ok != 1 || failed != 1 {
		t.Errorf("statuses: got %d ok, %d failed", ok, failed)
	}
}

func TestSession_Unknown(t *testing.T) {
	a := New(nil, nil, nil)
	if _, err := a.Session("ses_missing"); !errors.Is(err, dom.ErrStaleSession) {
		t.Fatalf("got %v, want stale session", err)
	}
	if _, err := a.Open(context.Background(), "about:blank"); !errors.Is(err, dom.ErrUnsupported) {
		t.Fatalf("open without browser: got %v, want unsupported", err)
	}
	if _, err := a.Journal(context.Background(), "", 1); !errors.Is(err, dom.ErrUnsupported) {
		t.Fatalf("journal disabled: got %v, want unsupported", err)
	}
}
