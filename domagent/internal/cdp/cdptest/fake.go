package cdptest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/hazyhaar/webpilot/domagent/dom"
	"github.com/hazyhaar/webpilot/domagent/internal/cdp"
)

// ErrInjected is returned by operations failed through Fail.
var ErrInjected = errors.New("cdptest: injected failure")

// Fake is an in-memory page implementing cdp.Session.
type Fake struct {
	mu sync.Mutex

	Doc      *Node
	URL      string
	Title    string
	target   string
	session  string
	nodes    map[int]*Node
	nextID   int
	focused  *Node
	pressed  *Node
	gen      int // document fetches so far; node IDs are bound to one
	failures map[string]error

	// Overlays are hit-tested before the document, last one on top.
	Overlays []*Node

	ViewWidth, ViewHeight float64
	ScrollX, ScrollY      float64

	Dead        bool
	TargetInfos []cdp.TargetInfo

	// OnActivate runs after a node is activated by a click, with the page
	// locked. Use Graft, not Insert, to add nodes from it.
	OnActivate func(f *Fake, n *Node, modifiers int)

	Calls    []string
	History  []int
	Reloads  int
	KeyLog   []cdp.KeyEvent
	Scrolled *Node // last node scrolled to by text
}

var _ cdp.Session = (*Fake)(nil)

// New builds a fake page around doc.
func New(doc *Node) *Fake {
	f := &Fake{
		Doc:        doc,
		URL:        "https://example.test/",
		Title:      "Fake page",
		target:     "TARGET-1",
		session:    "SESSION-1",
		nodes:      map[int]*Node{},
		failures:   map[string]error{},
		ViewWidth:  1280,
		ViewHeight: 800,
	}
	f.TargetInfos = []cdp.TargetInfo{{ID: f.target, Type: "page", URL: f.URL}}
	f.register(doc)
	return f
}

func (f *Fake) register(root *Node) {
	walk(root, true, func(n *Node) bool {
		if n.ID == 0 {
			f.nextID++
			n.ID = f.nextID
		} else if n.ID > f.nextID {
			f.nextID = n.ID
		}
		f.nodes[n.ID] = n
		return true
	})
}

// Insert appends child to parent and registers the new subtree.
func (f *Fake) Insert(parent, child *Node) {
	f.mu.Lock()
	defer f.mu.Unlock()
	parent.Add(child)
	f.register(child)
}

// Graft is Insert without locking, for use from OnActivate.
func (f *Fake) Graft(parent, child *Node) {
	parent.Add(child)
	f.register(child)
}

// AddOverlay registers a fixed node hit-tested above the page.
func (f *Fake) AddOverlay(n *Node) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n.Fixed = true
	f.Overlays = append(f.Overlays, n)
	f.register(n)
}

// Fail makes the named operations return ErrInjected. Names are Session
// method names, "script:<name>", "script:*", "driver:<method>" or "driver:*".
func (f *Fake) Fail(names ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, n := range names {
		f.failures[n] = ErrInjected
	}
}

// FailInteractions fails every path that can change the page.
func (f *Fake) FailInteractions() {
	f.Fail("ContentQuads", "BoxModel", "ScrollIntoView", "Focus", "DispatchMouse",
		"DispatchKey", "InsertText", "SetFileInputFiles", "script:*", "driver:*")
}

// Node returns the node with the given backend ID.
func (f *Fake) Node(id int) *Node {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nodes[id]
}

// Focused returns the focused node.
func (f *Fake) Focused() *Node {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.focused
}

// ByID returns the first element with the given id attribute.
func (f *Fake) ByID(id string) *Node {
	f.mu.Lock()
	defer f.mu.Unlock()
	return find(f.Doc, func(n *Node) bool { return n.Attrs["id"] == id })
}

func (f *Fake) enter(ctx context.Context, op string) error {
	f.Calls = append(f.Calls, op)
	if err := ctx.Err(); err != nil {
		return err
	}
	if f.Dead {
		return errors.New("cdptest: target closed")
	}
	if err := f.failures[op]; err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if strings.HasPrefix(op, "script:") {
		if err := f.failures["script:*"]; err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	if strings.HasPrefix(op, "driver:") {
		if err := f.failures["driver:*"]; err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	return nil
}

// nodeID is n's protocol node ID for the current document fetch, 0 before
// the first fetch.
func (f *Fake) nodeID(n *Node) int {
	if f.gen == 0 {
		return 0
	}
	return n.ID + 1000*f.gen
}

// lookup resolves ref the way the browser does: a node ID wins when set,
// and only node IDs from the latest document fetch are valid.
func (f *Fake) lookup(ref cdp.NodeRef) (*Node, error) {
	switch {
	case ref.NodeID != 0:
		id := ref.NodeID - 1000*f.gen
		if f.gen > 0 && id > 0 && id < 1000 {
			if n := f.nodes[id]; n != nil {
				return n, nil
			}
		}
		return nil, fmt.Errorf("cdptest: could not find node with given id %d", ref.NodeID)
	case ref.BackendNodeID != 0:
		if n := f.nodes[ref.BackendNodeID]; n != nil {
			return n, nil
		}
	case ref.ObjectID != "":
		id, err := strconv.Atoi(strings.TrimPrefix(ref.ObjectID, "obj-"))
		if err == nil {
			if n := f.nodes[id]; n != nil {
				return n, nil
			}
		}
	}
	return nil, fmt.Errorf("cdptest: no node for %+v", ref)
}

func (f *Fake) attached(n *Node) bool {
	for cur := n; cur != nil; cur = cur.Parent {
		if cur == f.Doc {
			return true
		}
	}
	for _, o := range f.Overlays {
		if o == n {
			return true
		}
	}
	return false
}

func (f *Fake) TargetID() string  { return f.target }
func (f *Fake) SessionID() string { return f.session }

func (f *Fake) Alive(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.enter(ctx, "Alive")
}

func (f *Fake) Document(ctx context.Context, pierce bool) (*cdp.Node, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(ctx, "Document"); err != nil {
		return nil, err
	}
	f.gen++
	return f.protoNode(f.Doc, pierce, true), nil
}

func nodeType(n *Node) int {
	switch {
	case n.isText():
		return int(dom.TextNode)
	case n.isDocument():
		return int(dom.DocumentNode)
	case n.isShadow():
		return int(dom.DocumentFragmentNode)
	}
	return int(dom.ElementNode)
}

func (f *Fake) protoNode(n *Node, pierce, deep bool) *cdp.Node {
	out := &cdp.Node{
		NodeID:        f.nodeID(n),
		BackendNodeID: n.ID,
		NodeType:      nodeType(n),
		NodeName:      strings.ToUpper(n.Tag),
		Attributes:    n.attrPairs(),
	}
	switch {
	case n.isText():
		out.NodeName, out.NodeValue = "#text", n.Text
	case n.isDocument(), n.isShadow():
		out.NodeName = n.Tag
	}
	if n.isShadow() {
		out.ShadowRootType = "open"
	}
	if !deep {
		return out
	}
	for _, c := range n.Children {
		out.Children = append(out.Children, f.protoNode(c, pierce, deep))
	}
	if pierce {
		if n.Shadow != nil {
			out.ShadowRoots = []*cdp.Node{f.protoNode(n.Shadow, pierce, deep)}
		}
		if n.Frame != nil {
			out.ContentDocument = f.protoNode(n.Frame, pierce, deep)
			out.FrameID = "FRAME-" + strconv.Itoa(n.ID)
		}
	}
	return out
}

func (f *Fake) CaptureSnapshot(ctx context.Context, styles []string) (*cdp.Layout, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(ctx, "CaptureSnapshot"); err != nil {
		return nil, err
	}
	lay := &cdp.Layout{Nodes: map[int]*cdp.LayoutNode{}, ViewportWidth: f.ViewWidth, ViewportHeight: f.ViewHeight}
	var visit func(n *Node, parentRect dom.Rect, hidden bool)
	visit = func(n *Node, parentRect dom.Rect, hidden bool) {
		hidden = hidden || n.Hidden
		rect := n.Rect
		if n.isText() {
			rect = parentRect
		}
		if !hidden && !n.isDocument() && !n.isShadow() {
			ln := &cdp.LayoutNode{Bounds: rect, Clickable: n.Clickable, Styles: map[string]string{}}
			for _, s := range styles {
				ln.Styles[s] = n.computedStyle(s)
			}
			if n.ScrollHeight > 0 {
				ln.ClientRect = &dom.Rect{Width: rect.Width, Height: n.ClientHeight}
				ln.ScrollRect = &dom.Rect{Y: n.ScrollTop, Width: rect.Width, Height: n.ScrollHeight}
			}
			lay.Nodes[n.ID] = ln
		}
		for _, c := range n.Children {
			visit(c, rect, hidden)
		}
		if n.Shadow != nil {
			visit(n.Shadow, rect, hidden)
		}
		if n.Frame != nil {
			visit(n.Frame, rect, hidden)
		}
	}
	visit(f.Doc, dom.Rect{}, false)
	return lay, nil
}

func (n *Node) computedStyle(name string) string {
	if v, ok := n.Style[name]; ok {
		return v
	}
	switch name {
	case "display":
		if n.isText() {
			return ""
		}
		return "block"
	case "visibility":
		return "visible"
	case "opacity":
		return "1"
	case "overflow", "overflow-x", "overflow-y":
		return "visible"
	case "cursor", "pointer-events":
		return "auto"
	}
	return ""
}

func (f *Fake) AXTree(ctx context.Context) ([]cdp.AXNode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(ctx, "AXTree"); err != nil {
		return nil, err
	}
	var out []cdp.AXNode
	walk(f.Doc, true, func(n *Node) bool {
		if n.AXRole != "" || n.AXName != "" || len(n.AXProps) > 0 {
			out = append(out, cdp.AXNode{BackendNodeID: n.ID, Role: n.AXRole, Name: n.AXName, Properties: n.AXProps})
		}
		return true
	})
	return out, nil
}

func (f *Fake) QuerySelector(ctx context.Context, rootNodeID int, selector string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(ctx, "QuerySelector"); err != nil {
		return 0, err
	}
	root, err := f.lookup(cdp.NodeRef{NodeID: rootNodeID})
	if err != nil {
		return 0, err
	}
	hits, err := queryAll(root, selector)
	if err != nil {
		return 0, err
	}
	if len(hits) == 0 {
		return 0, nil
	}
	return f.nodeID(hits[0]), nil
}

func (f *Fake) DescribeNode(ctx context.Context, ref cdp.NodeRef) (*cdp.Node, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(ctx, "DescribeNode"); err != nil {
		return nil, err
	}
	n, err := f.lookup(ref)
	if err != nil {
		return nil, err
	}
	pn := f.protoNode(n, false, false)
	if n.Shadow != nil {
		pn.ShadowRoots = []*cdp.Node{f.protoNode(n.Shadow, false, false)}
	}
	if n.Frame != nil {
		pn.ContentDocument = f.protoNode(n.Frame, false, false)
	}
	return pn, nil
}

func (f *Fake) ResolveNode(ctx context.Context, ref cdp.NodeRef) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(ctx, "ResolveNode"); err != nil {
		return "", err
	}
	n, err := f.lookup(ref)
	if err != nil {
		return "", err
	}
	if !f.attached(n) {
		return "", fmt.Errorf("cdptest: node %d is detached", n.ID)
	}
	return "obj-" + strconv.Itoa(n.ID), nil
}

// viewRect returns the node's rectangle in viewport coordinates.
func (f *Fake) viewRect(n *Node) dom.Rect {
	if n.Fixed {
		return n.Rect
	}
	off := dom.Rect{}
	for cur := n.Parent; cur != nil; cur = cur.Parent {
		off.Y -= cur.ScrollTop
	}
	return n.Rect.Offset(-f.ScrollX+off.X, -f.ScrollY+off.Y)
}

func (f *Fake) rendered(n *Node) bool {
	for cur := n; cur != nil; cur = cur.Parent {
		if cur.Hidden {
			return false
		}
	}
	return !n.Rect.Empty()
}

func (f *Fake) quad(ctx context.Context, op string, ref cdp.NodeRef) (cdp.Quad, error) {
	if err := f.enter(ctx, op); err != nil {
		return nil, err
	}
	n, err := f.lookup(ref)
	if err != nil {
		return nil, err
	}
	if !f.rendered(n) {
		return nil, errors.New("cdptest: could not compute box model")
	}
	r := f.viewRect(n)
	return cdp.Quad{r.X, r.Y, r.X + r.Width, r.Y, r.X + r.Width, r.Y + r.Height, r.X, r.Y + r.Height}, nil
}

func (f *Fake) ContentQuads(ctx context.Context, ref cdp.NodeRef) ([]cdp.Quad, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	q, err := f.quad(ctx, "ContentQuads", ref)
	if err != nil {
		return nil, err
	}
	return []cdp.Quad{q}, nil
}

func (f *Fake) BoxModel(ctx context.Context, ref cdp.NodeRef) (cdp.Quad, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.quad(ctx, "BoxModel", ref)
}

func (f *Fake) ScrollIntoView(ctx context.Context, ref cdp.NodeRef) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(ctx, "ScrollIntoView"); err != nil {
		return err
	}
	n, err := f.lookup(ref)
	if err != nil {
		return err
	}
	f.scrollTo(n)
	return nil
}

func (f *Fake) scrollTo(n *Node) {
	r := f.viewRect(n)
	if r.Y >= 0 && r.Y+r.Height <= f.ViewHeight {
		return
	}
	f.ScrollY = max(0, f.ScrollY+r.Y+r.Height/2-f.ViewHeight/2)
}

func (f *Fake) Focus(ctx context.Context, ref cdp.NodeRef) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(ctx, "Focus"); err != nil {
		return err
	}
	n, err := f.lookup(ref)
	if err != nil {
		return err
	}
	return f.focus(n)
}

func (f *Fake) focus(n *Node) error {
	if !f.rendered(n) {
		return errors.New("cdptest: element is not focusable")
	}
	if f.focused != n {
		f.focused = n
		if !n.selSet {
			end := len([]rune(n.value()))
			n.SelStart, n.SelEnd = end, end
		}
	}
	return nil
}

func (f *Fake) SetFileInputFiles(ctx context.Context, ref cdp.NodeRef, files []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(ctx, "SetFileInputFiles"); err != nil {
		return err
	}
	n, err := f.lookup(ref)
	if err != nil {
		return err
	}
	if n.Tag != "input" || n.Attrs["type"] != "file" {
		return errors.New("cdptest: node is not a file input")
	}
	n.Files = append([]string(nil), files...)
	return nil
}

// wireArgs round-trips script arguments through JSON like the protocol does.
func wireArgs(args []any) ([]any, error) {
	b, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}
	var out []any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (f *Fake) CallFunction(ctx context.Context, objectID string, s cdp.Script, args ...any) (cdp.Value, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(ctx, "script:"+s.Name); err != nil {
		return nil, err
	}
	n, err := f.lookup(cdp.NodeRef{ObjectID: objectID})
	if err != nil {
		return nil, err
	}
	wa, err := wireArgs(args)
	if err != nil {
		return nil, err
	}
	v, err := f.runElementScript(n, s.Name, wa)
	if err != nil {
		return nil, err
	}
	return cdp.ValueOf(v), nil
}

func (f *Fake) Evaluate(ctx context.Context, s cdp.Script, args ...any) (cdp.Value, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(ctx, "script:"+s.Name); err != nil {
		return nil, err
	}
	wa, err := wireArgs(args)
	if err != nil {
		return nil, err
	}
	v, err := f.runPageScript(s.Name, wa)
	if err != nil {
		return nil, err
	}
	return cdp.ValueOf(v), nil
}

func (f *Fake) DispatchMouse(ctx context.Context, ev cdp.MouseEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(ctx, "DispatchMouse"); err != nil {
		return err
	}
	switch ev.Type {
	case cdp.MousePressed:
		f.pressed = f.hitTest(ev.X, ev.Y)
	case cdp.MouseReleased:
		hit := f.hitTest(ev.X, ev.Y)
		if hit != nil && hit == f.pressed {
			f.click(hit, ev.Modifiers)
		}
		f.pressed = nil
	case cdp.MouseWheel:
		f.wheel(ev.X, ev.Y, ev.DeltaX, ev.DeltaY)
	}
	return nil
}

func (f *Fake) DispatchKey(ctx context.Context, ev cdp.KeyEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(ctx, "DispatchKey"); err != nil {
		return err
	}
	f.KeyLog = append(f.KeyLog, ev)
	f.key(ev)
	return nil
}

func (f *Fake) InsertText(ctx context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(ctx, "InsertText"); err != nil {
		return err
	}
	return f.insert(text)
}

func (f *Fake) NavigateHistory(ctx context.Context, delta int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(ctx, "NavigateHistory"); err != nil {
		return err
	}
	f.History = append(f.History, delta)
	return nil
}

func (f *Fake) Reload(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(ctx, "Reload"); err != nil {
		return err
	}
	f.Reloads++
	return nil
}

func (f *Fake) Navigate(ctx context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(ctx, "Navigate"); err != nil {
		return err
	}
	f.URL = url
	return nil
}

func (f *Fake) Targets(ctx context.Context) ([]cdp.TargetInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(ctx, "Targets"); err != nil {
		return nil, err
	}
	return append([]cdp.TargetInfo(nil), f.TargetInfos...), nil
}

// OpenTarget simulates a new tab appearing.
func (f *Fake) OpenTarget(id, url string) {
	f.TargetInfos = append(f.TargetInfos, cdp.TargetInfo{ID: id, Type: "page", URL: url})
}
