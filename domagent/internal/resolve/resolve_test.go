package resolve

import (
	"context"
	"errors"
	"testing"

	"github.com/hazyhaar/webpilot/domagent/dom"
	"github.com/hazyhaar/webpilot/domagent/internal/cdp/cdptest"
)

func page() (*cdptest.Fake, *cdptest.Node, *cdptest.Node, *cdptest.Node) {
	direct := cdptest.El("button", "id", "go").At(0, 0, 50, 20)
	shadowed := cdptest.El("button", "class", "inner").At(0, 40, 50, 20)
	framed := cdptest.El("input", "name", "q").At(0, 100, 50, 20)
	f := cdptest.New(cdptest.Page(
		direct,
		cdptest.El("x-widget", "id", "host").AttachShadow(
			cdptest.El("div").Add(shadowed),
		),
		cdptest.El("iframe", "id", "frame").Embed(cdptest.Document(
			cdptest.El("html").Add(cdptest.El("body").Add(framed)),
		)),
	))
	return f, direct, shadowed, framed
}

func TestSelector_Direct(t *testing.T) {
	f, direct, _, _ := page()
	r := New(f, nil)
	tg, err := r.Selector(context.Background(), "  #go  ")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if tg.Ref.BackendNodeID != direct.ID || tg.Ref.ObjectID == "" || tg.Tag != "button" {
		t.Errorf("got %+v", tg.Ref)
	}
	if tg.Attr("id") != "go" {
		t.Errorf("attrs: got %v", tg.Attrs)
	}
}

func TestSelector_ShadowAndFrame(t *testing.T) {
	f, _, shadowed, framed := page()
	r := New(f, nil)
	cases := []struct {
		sel  string
		want int
	}{
		{"#host >>> button.inner", shadowed.ID},
		{"x-widget>>>div > button", shadowed.ID},
		{"iframe#frame >>> input[name=q]", framed.ID},
	}
	for _, c := range cases {
		tg, err := r.Selector(context.Background(), c.sel)
		if err != nil {
			t.Errorf("%q: %v", c.sel, err)
			continue
		}
		if tg.Ref.BackendNodeID != c.want {
			t.Errorf("%q: got node %d, want %d", c.sel, tg.Ref.BackendNodeID, c.want)
		}
	}
}

func TestSelector_DoesNotPierceImplicitly(t *testing.T) {
	f, _, _, _ := page()
	r := New(f, nil)
	if _, err := r.Selector(context.Background(), "button.inner"); !errors.Is(err, dom.ErrNotFound) {
		t.Errorf("got %v, want not found", err)
	}
}

func TestSelector_SegmentErrors(t *testing.T) {
	f, _, _, _ := page()
	r := New(f, nil)
	for _, sel := range []string{
		"",
		">>>",
		"#missing >>> button",
		"#go >>> span",
		"#host >>> #nothing",
	} {
		_, err := r.Selector(context.Background(), sel)
		if !errors.Is(err, dom.ErrNotFound) {
			t.Errorf("%q: got %v, want not found", sel, err)
		}
	}
}

func TestIndex(t *testing.T) {
	f, direct, _, _ := page()
	r := New(f, nil)
	raw := &dom.RawNode{NodeType: dom.ElementNode, Tag: "button", BackendNodeID: direct.ID, Attributes: map[string]string{"id": "go"}}
	sel := dom.SelectorMap{1: raw}
	tg, err := r.Index(context.Background(), sel, 1)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if tg.Node != raw || tg.Ref.ObjectID == "" {
		t.Errorf("got %+v", tg)
	}
	if _, err := r.Index(context.Background(), sel, 2); !errors.Is(err, dom.ErrNotFound) {
		t.Errorf("missing index: got %v, want not found", err)
	}
}

func TestNode_FallbackSelectors(t *testing.T) {
	f, direct, _, _ := page()
	r := New(f, nil)
	stale := &dom.RawNode{NodeType: dom.ElementNode, Tag: "button", BackendNodeID: 9999, Attributes: map[string]string{"id": "go"}}
	tg, err := r.Node(context.Background(), stale)
	if err != nil {
		t.Fatalf("fallback: %v", err)
	}
	if tg.Ref.BackendNodeID != direct.ID || tg.Node != stale {
		t.Errorf("fallback target: got %+v", tg.Ref)
	}

	anon := &dom.RawNode{NodeType: dom.ElementNode, Tag: "div", BackendNodeID: 9999}
	if _, err := r.Node(context.Background(), anon); !errors.Is(err, dom.ErrNotFound) {
		t.Errorf("no identifiers: got %v, want not found", err)
	}
	ghost := &dom.RawNode{NodeType: dom.ElementNode, Tag: "input", Attributes: map[string]string{"name": "nope"}}
	if _, err := r.Node(context.Background(), ghost); !errors.Is(err, dom.ErrNotFound) {
		t.Errorf("unmatched fallback: got %v, want not found", err)
	}
}

func TestFallbacksAndBestSelector(t *testing.T) {
	attrs := map[string]string{"id": "1st", "name": "email", "type": "text"}
	got := Fallbacks("input", attrs)
	want := []string{`[id="1st"]`, `[name="email"]`, `input[type="text"]`}
	if len(got) != len(want) {
		t.Fatalf("fallbacks: got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("fallback %d: got %s, want %s", i, got[i], want[i])
		}
	}
	if s := BestSelector("input", map[string]string{"id": "q"}); s != "#q" {
		t.Errorf("id: got %s", s)
	}
	if s := BestSelector("input", map[string]string{"name": "q"}); s != `input[name="q"]` {
		t.Errorf("name: got %s", s)
	}
	if s := BestSelector("button", nil); s != "button" {
		t.Errorf("bare: got %s", s)
	}
}

func TestSplit(t *testing.T) {
	got := Split(" a >>> b>>>  >>>c ")
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Errorf("got %q", got)
	}
}

func TestTarget_RefOutlivesDocumentRefetch(t *testing.T) {
	f, direct, _, _ := page()
	r := New(f, nil)
	raw := &dom.RawNode{NodeType: dom.ElementNode, Tag: "button", BackendNodeID: direct.ID, Attributes: map[string]string{"id": "go"}}
	tg, err := r.Index(context.Background(), dom.SelectorMap{1: raw}, 1)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if tg.Ref.NodeID != 0 {
		t.Errorf("ref carries node id %d", tg.Ref.NodeID)
	}
	for i := 0; i < 2; i++ {
		if _, err := r.Selector(context.Background(), "#host >>> button.inner"); err != nil {
			t.Fatalf("selector: %v", err)
		}
	}
	ctx := context.Background()
	if _, err := f.ContentQuads(ctx, tg.Ref); err != nil {
		t.Errorf("content quads after refetch: %v", err)
	}
	if err := f.ScrollIntoView(ctx, tg.Ref); err != nil {
		t.Errorf("scroll after refetch: %v", err)
	}
}

func TestQuery_ReusesDocumentAcrossMisses(t *testing.T) {
	slot := cdptest.El("div", "id", "slot").At(0, 0, 100, 100)
	f := cdptest.New(cdptest.Page(slot))
	q, err := New(f, nil).Query("#late")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := q.Find(ctx); !errors.Is(err, dom.ErrNotFound) {
			t.Fatalf("miss %d: got %v, want not found", i, err)
		}
	}
	late := cdptest.El("span", "id", "late").At(0, 0, 10, 10)
	f.Insert(slot, late)
	tg, err := q.Find(ctx)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if tg.Ref.BackendNodeID != late.ID {
		t.Errorf("got node %d, want %d", tg.Ref.BackendNodeID, late.ID)
	}
	docs := 0
	for _, c := range f.Calls {
		if c == "Document" {
			docs++
		}
	}
	if docs != 1 {
		t.Errorf("document fetched %d times, want 1", docs)
	}
}
