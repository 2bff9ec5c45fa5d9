package action

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/hazyhaar/webpilot/domagent/dom"
	"github.com/hazyhaar/webpilot/domagent/internal/cdp"
	"github.com/hazyhaar/webpilot/domagent/internal/cdp/cdptest"
	"github.com/hazyhaar/webpilot/domagent/internal/serializer"
	"github.com/hazyhaar/webpilot/domagent/internal/snapshot"
)

type harness struct {
	f  *cdptest.Fake
	ex *Executor
	st *dom.SerializedDOMState
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func testOptions() Options {
	return Options{
		SettleDelay:     time.Millisecond,
		TypeDelay:       time.Millisecond,
		MaxWait:         50 * time.Millisecond,
		PollInterval:    5 * time.Millisecond,
		TextTimeout:     40 * time.Millisecond,
		SelectorTimeout: 40 * time.Millisecond,
		Logger:          quiet(),
	}
}

// newHarness wires an executor to a fake page and extracts its state. The
// driver tier is present only when driver is true.
func newHarness(t *testing.T, doc *cdptest.Node, driver bool, tune ...func(*Options)) *harness {
	t.Helper()
	f := cdptest.New(doc)
	var drv cdp.Driver
	if driver {
		drv = cdptest.NewDriver(f)
	}
	opts := testOptions()
	for _, fn := range tune {
		fn(&opts)
	}
	h := &harness{f: f, ex: New(f, drv, opts)}
	h.extract(t)
	return h
}

func (h *harness) extract(t *testing.T) {
	t.Helper()
	root, err := snapshot.Build(context.Background(), h.f, quiet())
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	tree, sel := serializer.Serialize(root, nil, serializer.Options{})
	h.st = &dom.SerializedDOMState{Root: tree, Selectors: sel}
}

// index returns the interactive index of the element with the given id.
func (h *harness) index(t *testing.T, id string) int {
	t.Helper()
	for _, i := range h.st.Selectors.Indices() {
		if n, _ := h.st.Selectors.Lookup(i); n.Attr("id") == id {
			return i
		}
	}
	t.Fatalf("#%s has no interactive index", id)
	return 0
}

func (h *harness) do(req Request) (*Result, error) {
	return h.ex.Do(context.Background(), h.st, req)
}

func (h *harness) must(t *testing.T, req Request) *Result {
	t.Helper()
	res, err := h.do(req)
	if err != nil {
		t.Fatalf("%s: %v", req.Kind, err)
	}
	if res.Kind != req.Kind {
		t.Errorf("result kind: got %q, want %q", res.Kind, req.Kind)
	}
	return res
}

func wantKind(t *testing.T, err error, kind dom.Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("got nil error, want %v", kind)
	}
	if got := dom.KindOf(err); got != kind {
		t.Errorf("kind: got %v, want %v (%v)", got, kind, err)
	}
}

func TestDo_UnknownKind(t *testing.T) {
	h := newHarness(t, cdptest.Page(), true)
	_, err := h.do(Request{Kind: "teleport"})
	wantKind(t, err, dom.KindUnsupported)
}

func TestDo_DeadSession(t *testing.T) {
	h := newHarness(t, cdptest.Page(cdptest.El("button", "id", "go").At(0, 0, 50, 20)), true)
	idx := h.index(t, "go")
	h.f.Dead = true
	_, err := h.do(Request{Kind: Click, Index: idx})
	if !errors.Is(err, dom.ErrStaleSession) {
		t.Errorf("got %v, want stale session", err)
	}
}

func TestDo_CancelledContext(t *testing.T) {
	h := newHarness(t, cdptest.Page(), true)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := h.ex.Do(ctx, h.st, Request{Kind: Wait, Seconds: 1})
	wantKind(t, err, dom.KindTimeout)
}

func TestDo_IndexWithoutState(t *testing.T) {
	h := newHarness(t, cdptest.Page(), true)
	_, err := h.ex.Do(context.Background(), nil, Request{Kind: Click, Index: 1})
	wantKind(t, err, dom.KindNotFound)
	_, err = h.ex.Do(context.Background(), h.st, Request{Kind: Click})
	wantKind(t, err, dom.KindNotFound)
}

func TestChain_SkipsAbsentAndReportsExhaustion(t *testing.T) {
	h := newHarness(t, cdptest.Page(), false)
	ran := []Tier{}
	fail := func(name Tier) tier {
		return tier{name: name, run: func(context.Context) (outcome, error) {
			ran = append(ran, name)
			return outcome{}, dom.NotFound("test", "%s missed", name)
		}}
	}
	_, err := h.ex.chain(context.Background(), "test", h.ex.driverTier(nil), fail(TierProtocol), fail(TierScript))
	wantKind(t, err, dom.KindNotFound)
	if len(ran) != 2 || ran[0] != TierProtocol || ran[1] != TierScript {
		t.Errorf("ran: got %v", ran)
	}
	_, err = h.ex.chain(context.Background(), "test", tier{name: TierDriver})
	wantKind(t, err, dom.KindUnsupported)
}
