package serializer

import (
	"context"
	"strings"
	"testing"

	"github.com/hazyhaar/webpilot/domagent/dom"
	"github.com/hazyhaar/webpilot/domagent/internal/cdp/cdptest"
	"github.com/hazyhaar/webpilot/domagent/internal/snapshot"
)

func run(t *testing.T, f *cdptest.Fake, prev dom.SelectorMap) (*dom.SimplifiedNode, dom.SelectorMap) {
	t.Helper()
	root, err := snapshot.Build(context.Background(), f, nil)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	return Serialize(root, prev, Options{})
}

func pointer(n *cdptest.Node) *cdptest.Node {
	if n.Style == nil {
		n.Style = map[string]string{}
	}
	n.Style["cursor"] = "pointer"
	return n
}

func basicPage() *cdptest.Node {
	return cdptest.Page(
		cdptest.El("button", "id", "a").At(10, 10, 100, 30).Add(cdptest.Text("Submit")),
		cdptest.El("div").At(0, 100, 500, 200).Add(
			cdptest.El("input", "id", "b", "type", "text").At(10, 110, 200, 30),
			cdptest.El("a", "href", "/docs").At(10, 150, 100, 20).Add(cdptest.Text("Docs")),
		),
		cdptest.El("p").At(0, 400, 500, 20).Add(cdptest.Text("Plain paragraph")),
	)
}

func TestSerialize_IndexOrderAndFormat(t *testing.T) {
	f := cdptest.New(basicPage())
	tree, sel := run(t, f, nil)
	if len(sel) != 3 {
		t.Fatalf("selectors: got %d, want 3", len(sel))
	}
	for i, tag := range []string{"button", "input", "a"} {
		n, ok := sel.Lookup(i + 1)
		if !ok || n.Tag != tag {
			t.Errorf("index %d: got %v, want %s", i+1, n.Describe(), tag)
		}
		if n.Index() != i+1 {
			t.Errorf("index %d: node records %d", i+1, n.Index())
		}
	}
	want := strings.Join([]string{
		"[1]<button id=a />",
		"\tSubmit",
		"[2]<input type=text id=b />",
		"[3]<a href=/docs />",
		"\tDocs",
		"Plain paragraph",
	}, "\n")
	if got := Format(tree, nil); got != want {
		t.Errorf("format:\ngot:\n%s\nwant:\n%s", got, want)
	}
}

func TestSerialize_StableAcrossPasses(t *testing.T) {
	f := cdptest.New(basicPage())
	_, first := run(t, f, nil)
	_, second := run(t, f, first)
	for _, i := range first.Indices() {
		a, _ := first.Lookup(i)
		b, ok := second.Lookup(i)
		if !ok || a.Identity() != b.Identity() {
			t.Errorf("index %d: identity changed", i)
		}
	}
}

func TestSerialize_NewNodes(t *testing.T) {
	f := cdptest.New(basicPage())
	tree, first := run(t, f, nil)
	if strings.Contains(Format(tree, nil), "*[") {
		t.Error("first pass must not mark new nodes")
	}
	f.Insert(cdptest.Body(f.Doc), cdptest.El("button", "id", "late").At(10, 500, 100, 30).Add(cdptest.Text("Late")))
	tree, _ = run(t, f, first)
	out := Format(tree, nil)
	if !strings.Contains(out, "*[4]<button id=late />") {
		t.Errorf("new button not marked:\n%s", out)
	}
	if strings.Contains(out, "*[1]") || strings.Contains(out, "*[2]") {
		t.Errorf("existing nodes marked new:\n%s", out)
	}
}

func TestSerialize_Containment(t *testing.T) {
	f := cdptest.New(cdptest.Page(
		cdptest.El("a", "id", "card", "href", "/item").At(0, 0, 300, 100).Add(
			pointer(cdptest.El("span", "id", "inside").At(10, 10, 50, 20)),
			cdptest.El("input", "id", "qty").At(10, 50, 100, 20),
			pointer(cdptest.El("span", "id", "edge").At(250, 10, 100, 20)),
		),
	))
	tree, sel := run(t, f, nil)
	var ids []string
	for _, i := range sel.Indices() {
		n, _ := sel.Lookup(i)
		ids = append(ids, n.Attr("id"))
	}
	if got := strings.Join(ids, ","); got != "card,qty,edge" {
		t.Errorf("indexed: got %s, want card,qty,edge", got)
	}
	if strings.Contains(Format(tree, nil), "inside") {
		t.Error("contained span should not be rendered")
	}
}

func TestSerialize_ContainmentThreshold(t *testing.T) {
	f := cdptest.New(cdptest.Page(
		cdptest.El("button", "id", "btn").At(0, 0, 100, 40).Add(
			pointer(cdptest.El("span", "id", "icon").At(90, 10, 20, 20)),
		),
	))
	root, err := snapshot.Build(context.Background(), f, nil)
	if err != nil {
		t.Fatal(err)
	}
	_, sel := Serialize(root, nil, Options{ContainmentThreshold: 0.5})
	if len(sel) != 1 {
		t.Errorf("threshold 0.5: got %d indices, want 1", len(sel))
	}
	root, _ = snapshot.Build(context.Background(), f, nil)
	_, sel = Serialize(root, nil, Options{})
	if len(sel) != 2 {
		t.Errorf("default threshold: got %d indices, want 2", len(sel))
	}
}

func TestSerialize_ShadowAndFrames(t *testing.T) {
	frameDoc := cdptest.Document(cdptest.El("html").At(0, 300, 400, 200).Add(
		cdptest.El("body").At(0, 300, 400, 200).Add(
			cdptest.El("input", "id", "framed").At(10, 310, 100, 20),
		),
	))
	f := cdptest.New(cdptest.Page(
		cdptest.El("x-widget").At(0, 0, 300, 100).AttachShadow(
			cdptest.El("button", "id", "shadowed").At(10, 10, 80, 30).Add(cdptest.Text("Inner")),
		),
		cdptest.El("iframe", "id", "ext").At(0, 300, 400, 200).Embed(frameDoc),
	))
	tree, sel := run(t, f, nil)
	if len(sel) != 2 {
		t.Fatalf("selectors: got %d, want 2", len(sel))
	}
	if n, _ := sel.Lookup(1); n.Attr("id") != "shadowed" {
		t.Errorf("index 1: got %s", n.Describe())
	}
	if n, _ := sel.Lookup(2); n.Attr("id") != "framed" || n.FrameID == "" {
		t.Errorf("index 2: got %s frame %q", n.Describe(), n.FrameID)
	}
	out := Format(tree, nil)
	if !strings.Contains(out, "|IFRAME|<iframe id=ext />") {
		t.Errorf("iframe marker missing:\n%s", out)
	}
	if !strings.Contains(out, "\t[2]<input id=framed />") {
		t.Errorf("frame content should nest under the iframe:\n%s", out)
	}
}

func TestSerialize_HiddenAndDenied(t *testing.T) {
	hidden := cdptest.El("button", "id", "ghost").At(0, 0, 100, 30).Add(cdptest.Text("Ghost"))
	hidden.Hidden = true
	f := cdptest.New(cdptest.Page(
		hidden,
		cdptest.El("script").At(0, 0, 10, 10).Add(cdptest.Text("alert('x')")),
		cdptest.El("input", "type", "hidden", "name", "csrf").At(0, 50, 10, 10),
		cdptest.El("button", "id", "off", "disabled", "").At(0, 60, 100, 30),
	))
	tree, sel := run(t, f, nil)
	if len(sel) != 0 {
		t.Errorf("selectors: got %d, want 0", len(sel))
	}
	if out := Format(tree, nil); strings.Contains(out, "Ghost") || strings.Contains(out, "alert") {
		t.Errorf("hidden or denied content rendered:\n%s", out)
	}
}

func TestSerialize_ScrollContainer(t *testing.T) {
	list := cdptest.El("div", "id", "list").At(0, 0, 300, 100).Scrolls(100, 500)
	list.Add(cdptest.El("p").At(0, 0, 300, 20).Add(cdptest.Text("Row one")))
	f := cdptest.New(cdptest.Page(list))
	tree, sel := run(t, f, nil)
	if len(sel) != 1 {
		t.Fatalf("selectors: got %d, want 1", len(sel))
	}
	want := "|SCROLL[1]|<div id=list /> scroll: 0.0 pages above, 4.0 pages below"
	if out := Format(tree, nil); !strings.HasPrefix(out, want) {
		t.Errorf("got:\n%s\nwant prefix:\n%s", out, want)
	}
}

func TestFormat_Attributes(t *testing.T) {
	long := strings.Repeat("x", 120)
	idx := 4
	sn := &dom.SimplifiedNode{
		Raw: &dom.RawNode{NodeType: dom.ElementNode, Tag: "input", Attributes: map[string]string{
			"type": "checkbox", "checked": "", "name": "subscribe", "id": "subscribe",
			"aria-label": long, "onclick": "go()",
		}},
		Index:         &idx,
		ShouldDisplay: true,
	}
	want := "[4]<input type=checkbox checked=true name=subscribe aria-label=" + strings.Repeat("x", 100) + "... />"
	if got := Format(sn, nil); got != want {
		t.Errorf("got:\n%s\nwant:\n%s", got, want)
	}
}

func TestFormat_DropsTextDuplicates(t *testing.T) {
	idx := 1
	btn := &dom.RawNode{NodeType: dom.ElementNode, Tag: "button", Attributes: map[string]string{
		"aria-label": "Submit", "value": "Submit", "title": "Send",
	}}
	btn.Children = []*dom.RawNode{{NodeType: dom.TextNode, NodeValue: "Submit", Parent: btn}}
	sn := &dom.SimplifiedNode{Raw: btn, Index: &idx, ShouldDisplay: true}
	if got, want := Format(sn, nil), "[1]<button title=Send value=Submit />"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	if got, want := Format(sn, []string{"title"}), "[1]<button title=Send />"; got != want {
		t.Errorf("custom include: got %q, want %q", got, want)
	}
	if got, want := Format(sn, []string{"aria-label", "value"}), "[1]<button />"; got != want {
		t.Errorf("text duplicate: got %q, want %q", got, want)
	}
}

func TestText_NilState(t *testing.T) {
	if got := Text(nil, nil); got != "" {
		t.Errorf("got %q", got)
	}
	if got := Text(&dom.SerializedDOMState{}, nil); got != "" {
		t.Errorf("empty state: got %q", got)
	}
}
