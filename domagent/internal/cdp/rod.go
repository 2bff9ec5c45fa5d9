package cdp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/ysmood/gson"

	"github.com/hazyhaar/webpilot/domagent/dom"
)

// RodSession implements Session over a go-rod page. Each call is bounded by
// the configured timeout on top of the caller's context.
type RodSession struct {
	page    *rod.Page
	timeout time.Duration
}

// NewRodSession wraps a rod page. timeout <= 0 defaults to 10s.
func NewRodSession(page *rod.Page, timeout time.Duration) *RodSession {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &RodSession{page: page, timeout: timeout}
}

// Page exposes the underlying rod page.
func (s *RodSession) Page() *rod.Page { return s.page }

func (s *RodSession) TargetID() string  { return string(s.page.TargetID) }
func (s *RodSession) SessionID() string { return string(s.page.SessionID) }

func (s *RodSession) bind(ctx context.Context) (*rod.Page, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	return s.page.Context(ctx), cancel
}

func (s *RodSession) Alive(ctx context.Context) error {
	p, cancel := s.bind(ctx)
	defer cancel()
	if _, err := (proto.TargetGetTargetInfo{TargetID: s.page.TargetID}).Call(p); err != nil {
		return fmt.Errorf("cdp: target %s: %w", s.page.TargetID, err)
	}
	return nil
}

func (s *RodSession) Document(ctx context.Context, pierce bool) (*Node, error) {
	p, cancel := s.bind(ctx)
	defer cancel()
	depth := -1
	res, err := proto.DOMGetDocument{Depth: &depth, Pierce: pierce}.Call(p)
	if err != nil {
		return nil, fmt.Errorf("cdp: get document: %w", err)
	}
	return convertNode(res.Root), nil
}

func convertNode(n *proto.DOMNode) *Node {
	if n == nil {
		return nil
	}
	out := &Node{
		NodeID:         int(n.NodeID),
		BackendNodeID:  int(n.BackendNodeID),
		NodeType:       n.NodeType,
		NodeName:       n.NodeName,
		NodeValue:      n.NodeValue,
		Attributes:     n.Attributes,
		ShadowRootType: string(n.ShadowRootType),
		FrameID:        string(n.FrameID),
	}
	for _, c := range n.Children {
		out.Children = append(out.Children, convertNode(c))
	}
	for _, sr := range n.ShadowRoots {
		out.ShadowRoots = append(out.ShadowRoots, convertNode(sr))
	}
	out.ContentDocument = convertNode(n.ContentDocument)
	return out
}

func (s *RodSession) CaptureSnapshot(ctx context.Context, styles []string) (*Layout, error) {
	p, cancel := s.bind(ctx)
	defer cancel()
	res, err := proto.DOMSnapshotCaptureSnapshot{
		ComputedStyles:    styles,
		IncludePaintOrder: true,
		IncludeDOMRects:   true,
	}.Call(p)
	if err != nil {
		return nil, fmt.Errorf("cdp: capture snapshot: %w", err)
	}
	lay := flattenSnapshot(res, styles)
	if vp, err := s.Evaluate(ctx, ScriptViewport); err == nil {
		var v struct{ Width, Height float64 }
		if vp.Decode(&v) == nil {
			lay.ViewportWidth, lay.ViewportHeight = v.Width, v.Height
		}
	}
	return lay, nil
}

func rectOf(r proto.DOMSnapshotRectangle) dom.Rect {
	if len(r) < 4 {
		return dom.Rect{}
	}
	return dom.Rect{X: r[0], Y: r[1], Width: r[2], Height: r[3]}
}

// flattenSnapshot turns the columnar DOMSnapshot result into per-node
// layout keyed by backend node ID. Nested documents are shifted by the
// origin of their owning iframe.
func flattenSnapshot(res *proto.DOMSnapshotCaptureSnapshotResult, styles []string) *Layout {
	lay := &Layout{Nodes: map[int]*LayoutNode{}}
	str := func(i proto.DOMSnapshotStringIndex) string {
		if int(i) < 0 || int(i) >= len(res.Strings) {
			return ""
		}
		return res.Strings[i]
	}

	// Document index -> offset, resolved parent-first via contentDocumentIndex.
	offsets := make([]dom.Rect, len(res.Documents))
	owner := make(map[int]struct{ doc, node int })
	for di, d := range res.Documents {
		if d.Nodes == nil || d.Nodes.ContentDocumentIndex == nil {
			continue
		}
		cdi := d.Nodes.ContentDocumentIndex
		for k, ni := range cdi.Index {
			if k < len(cdi.Value) {
				owner[cdi.Value[k]] = struct{ doc, node int }{di, ni}
			}
		}
	}
	boundsByNode := func(di, ni int) (dom.Rect, bool) {
		l := res.Documents[di].Layout
		if l == nil {
			return dom.Rect{}, false
		}
		for li, idx := range l.NodeIndex {
			if idx == ni && li < len(l.Bounds) {
				return rectOf(l.Bounds[li]), true
			}
		}
		return dom.Rect{}, false
	}
	var resolve func(di int, seen map[int]bool) dom.Rect
	resolve = func(di int, seen map[int]bool) dom.Rect {
		o, ok := owner[di]
		if !ok || seen[di] {
			return dom.Rect{}
		}
		seen[di] = true
		parent := resolve(o.doc, seen)
		b, _ := boundsByNode(o.doc, o.node)
		return dom.Rect{X: parent.X + b.X, Y: parent.Y + b.Y}
	}
	for di := range res.Documents {
		offsets[di] = resolve(di, map[int]bool{})
	}

	for di, d := range res.Documents {
		if d.Nodes == nil || d.Layout == nil {
			continue
		}
		clickable := map[int]bool{}
		if d.Nodes.IsClickable != nil {
			for _, ni := range d.Nodes.IsClickable.Index {
				clickable[ni] = true
			}
		}
		off := offsets[di]
		for li, ni := range d.Layout.NodeIndex {
			if ni < 0 || ni >= len(d.Nodes.BackendNodeID) {
				continue
			}
			ln := &LayoutNode{Clickable: clickable[ni]}
			if li < len(d.Layout.Bounds) {
				ln.Bounds = rectOf(d.Layout.Bounds[li]).Offset(off.X, off.Y)
			}
			if li < len(d.Layout.Styles) {
				ln.Styles = make(map[string]string, len(styles))
				for si, idx := range d.Layout.Styles[li] {
					if si < len(styles) {
						ln.Styles[styles[si]] = str(idx)
					}
				}
			}
			if li < len(d.Layout.ClientRects) && len(d.Layout.ClientRects[li]) >= 4 {
				r := rectOf(d.Layout.ClientRects[li])
				ln.ClientRect = &r
			}
			if li < len(d.Layout.ScrollRects) && len(d.Layout.ScrollRects[li]) >= 4 {
				r := rectOf(d.Layout.ScrollRects[li])
				ln.ScrollRect = &r
			}
			if li < len(d.Layout.PaintOrders) {
				ln.PaintOrder = d.Layout.PaintOrders[li]
			}
			lay.Nodes[int(d.Nodes.BackendNodeID[ni])] = ln
		}
	}
	return lay
}

func (s *RodSession) AXTree(ctx context.Context) ([]AXNode, error) {
	p, cancel := s.bind(ctx)
	defer cancel()
	res, err := proto.AccessibilityGetFullAXTree{}.Call(p)
	if err != nil {
		return nil, fmt.Errorf("cdp: ax tree: %w", err)
	}
	out := make([]AXNode, 0, len(res.Nodes))
	for _, n := range res.Nodes {
		if n.BackendDOMNodeID == 0 {
			continue
		}
		ax := AXNode{
			BackendNodeID: int(n.BackendDOMNodeID),
			Ignored:       n.Ignored,
			Role:          axValueStr(n.Role),
			Name:          axValueStr(n.Name),
		}
		if len(n.Properties) > 0 {
			ax.Properties = make(map[string]string, len(n.Properties))
			for _, prop := range n.Properties {
				ax.Properties[string(prop.Name)] = axValueStr(prop.Value)
			}
		}
		out = append(out, ax)
	}
	return out, nil
}

func axValueStr(v *proto.AccessibilityAXValue) string {
	if v == nil {
		return ""
	}
	raw := v.Value.JSON("", "")
	if len(raw) >= 2 && raw[0] == '"' && raw[len(raw)-1] == '"' {
		var s string
		if err := json.Unmarshal([]byte(raw), &s); err == nil {
			return s
		}
	}
	if raw == "null" {
		return ""
	}
	return raw
}

// nodeIDs holds the one identifier a DOM command is sent. The browser
// prefers a node ID over the others when several are set, and node IDs die
// with every document fetch, so a ref is narrowed to its most durable
// identifier.
type nodeIDs struct {
	node    proto.DOMNodeID
	backend proto.DOMBackendNodeID
	object  proto.RuntimeRemoteObjectID
}

func pick(ref NodeRef) nodeIDs {
	switch {
	case ref.ObjectID != "":
		return nodeIDs{object: proto.RuntimeRemoteObjectID(ref.ObjectID)}
	case ref.BackendNodeID != 0:
		return nodeIDs{backend: proto.DOMBackendNodeID(ref.BackendNodeID)}
	}
	return nodeIDs{node: proto.DOMNodeID(ref.NodeID)}
}

func (s *RodSession) QuerySelector(ctx context.Context, rootNodeID int, selector string) (int, error) {
	p, cancel := s.bind(ctx)
	defer cancel()
	res, err := proto.DOMQuerySelector{NodeID: proto.DOMNodeID(rootNodeID), Selector: selector}.Call(p)
	if err != nil {
		return 0, fmt.Errorf("cdp: query selector %q: %w", selector, err)
	}
	return int(res.NodeID), nil
}

func (s *RodSession) DescribeNode(ctx context.Context, ref NodeRef) (*Node, error) {
	p, cancel := s.bind(ctx)
	defer cancel()
	id := pick(ref)
	res, err := proto.DOMDescribeNode{
		NodeID:        id.node,
		BackendNodeID: id.backend,
		ObjectID:      id.object,
	}.Call(p)
	if err != nil {
		return nil, fmt.Errorf("cdp: describe node: %w", err)
	}
	return convertNode(res.Node), nil
}

func (s *RodSession) ResolveNode(ctx context.Context, ref NodeRef) (string, error) {
	if ref.ObjectID != "" {
		return ref.ObjectID, nil
	}
	p, cancel := s.bind(ctx)
	defer cancel()
	id := pick(ref)
	res, err := proto.DOMResolveNode{NodeID: id.node, BackendNodeID: id.backend}.Call(p)
	if err != nil {
		return "", fmt.Errorf("cdp: resolve node: %w", err)
	}
	if res.Object == nil || res.Object.ObjectID == "" {
		return "", errors.New("cdp: resolve node: no object id")
	}
	return string(res.Object.ObjectID), nil
}

func (s *RodSession) ContentQuads(ctx context.Context, ref NodeRef) ([]Quad, error) {
	p, cancel := s.bind(ctx)
	defer cancel()
	id := pick(ref)
	res, err := proto.DOMGetContentQuads{
		NodeID:        id.node,
		BackendNodeID: id.backend,
		ObjectID:      id.object,
	}.Call(p)
	if err != nil {
		return nil, fmt.Errorf("cdp: content quads: %w", err)
	}
	out := make([]Quad, 0, len(res.Quads))
	for _, q := range res.Quads {
		out = append(out, Quad(q))
	}
	return out, nil
}

func (s *RodSession) BoxModel(ctx context.Context, ref NodeRef) (Quad, error) {
	p, cancel := s.bind(ctx)
	defer cancel()
	id := pick(ref)
	res, err := proto.DOMGetBoxModel{
		NodeID:        id.node,
		BackendNodeID: id.backend,
		ObjectID:      id.object,
	}.Call(p)
	if err != nil {
		return nil, fmt.Errorf("cdp: box model: %w", err)
	}
	if res.Model == nil {
		return nil, errors.New("cdp: box model: empty")
	}
	return Quad(res.Model.Content), nil
}

func (s *RodSession) ScrollIntoView(ctx context.Context, ref NodeRef) error {
	p, cancel := s.bind(ctx)
	defer cancel()
	id := pick(ref)
	err := proto.DOMScrollIntoViewIfNeeded{
		NodeID:        id.node,
		BackendNodeID: id.backend,
		ObjectID:      id.object,
	}.Call(p)
	if err != nil {
		return fmt.Errorf("cdp: scroll into view: %w", err)
	}
	return nil
}

func (s *RodSession) Focus(ctx context.Context, ref NodeRef) error {
	p, cancel := s.bind(ctx)
	defer cancel()
	id := pick(ref)
	err := proto.DOMFocus{
		NodeID:        id.node,
		BackendNodeID: id.backend,
		ObjectID:      id.object,
	}.Call(p)
	if err != nil {
		return fmt.Errorf("cdp: focus: %w", err)
	}
	return nil
}

func (s *RodSession) SetFileInputFiles(ctx context.Context, ref NodeRef, files []string) error {
	p, cancel := s.bind(ctx)
	defer cancel()
	id := pick(ref)
	err := proto.DOMSetFileInputFiles{
		Files:         files,
		NodeID:        id.node,
		BackendNodeID: id.backend,
		ObjectID:      id.object,
	}.Call(p)
	if err != nil {
		return fmt.Errorf("cdp: set files: %w", err)
	}
	return nil
}

func callArgs(args []any) []*proto.RuntimeCallArgument {
	out := make([]*proto.RuntimeCallArgument, 0, len(args))
	for _, a := range args {
		out = append(out, &proto.RuntimeCallArgument{Value: gson.New(a)})
	}
	return out
}

func scriptResult(name string, res *proto.RuntimeCallFunctionOnResult) (Value, error) {
	if res.ExceptionDetails != nil {
		msg := res.ExceptionDetails.Text
		if ex := res.ExceptionDetails.Exception; ex != nil && ex.Description != "" {
			msg = ex.Description
		}
		return nil, fmt.Errorf("cdp: script %s: %s", name, strings.TrimSpace(msg))
	}
	if res.Result == nil {
		return Value("null"), nil
	}
	return Value(res.Result.Value.JSON("", "")), nil
}

func (s *RodSession) CallFunction(ctx context.Context, objectID string, sc Script, args ...any) (Value, error) {
	p, cancel := s.bind(ctx)
	defer cancel()
	res, err := proto.RuntimeCallFunctionOn{
		FunctionDeclaration: sc.Source,
		ObjectID:            proto.RuntimeRemoteObjectID(objectID),
		Arguments:           callArgs(args),
		ReturnByValue:       true,
		AwaitPromise:        true,
	}.Call(p)
	if err != nil {
		return nil, fmt.Errorf("cdp: script %s: %w", sc.Name, err)
	}
	return scriptResult(sc.Name, res)
}

func (s *RodSession) Evaluate(ctx context.Context, sc Script, args ...any) (Value, error) {
	p, cancel := s.bind(ctx)
	defer cancel()
	obj, err := p.Evaluate(rod.Eval(sc.Source, args...).ByPromise())
	if err != nil {
		return nil, fmt.Errorf("cdp: script %s: %w", sc.Name, err)
	}
	return Value(obj.Value.JSON("", "")), nil
}

func (s *RodSession) DispatchMouse(ctx context.Context, ev MouseEvent) error {
	p, cancel := s.bind(ctx)
	defer cancel()
	button := proto.InputMouseButtonNone
	if ev.Button == "left" {
		button = proto.InputMouseButtonLeft
	}
	err := proto.InputDispatchMouseEvent{
		Type:       proto.InputDispatchMouseEventType(ev.Type),
		X:          ev.X,
		Y:          ev.Y,
		Modifiers:  ev.Modifiers,
		Button:     button,
		ClickCount: ev.ClickCount,
		DeltaX:     ev.DeltaX,
		DeltaY:     ev.DeltaY,
	}.Call(p)
	if err != nil {
		return fmt.Errorf("cdp: mouse %s: %w", ev.Type, err)
	}
	return nil
}

func (s *RodSession) DispatchKey(ctx context.Context, ev KeyEvent) error {
	p, cancel := s.bind(ctx)
	defer cancel()
	err := proto.InputDispatchKeyEvent{
		Type:                  proto.InputDispatchKeyEventType(ev.Type),
		Modifiers:             ev.Modifiers,
		Text:                  ev.Text,
		UnmodifiedText:        ev.Text,
		Key:                   ev.Key,
		Code:                  ev.Code,
		WindowsVirtualKeyCode: ev.KeyCode,
	}.Call(p)
	if err != nil {
		return fmt.Errorf("cdp: key %s %q: %w", ev.Type, ev.Key, err)
	}
	return nil
}

func (s *RodSession) InsertText(ctx context.Context, text string) error {
	p, cancel := s.bind(ctx)
	defer cancel()
	if err := (proto.InputInsertText{Text: text}).Call(p); err != nil {
		return fmt.Errorf("cdp: insert text: %w", err)
	}
	return nil
}

func (s *RodSession) NavigateHistory(ctx context.Context, delta int) error {
	p, cancel := s.bind(ctx)
	defer cancel()
	hist, err := proto.PageGetNavigationHistory{}.Call(p)
	if err != nil {
		return fmt.Errorf("cdp: history: %w", err)
	}
	i := hist.CurrentIndex + delta
	if i < 0 || i >= len(hist.Entries) {
		return dom.NotFound("history", "no history entry at offset %d", delta)
	}
	if err := (proto.PageNavigateToHistoryEntry{EntryID: hist.Entries[i].ID}).Call(p); err != nil {
		return fmt.Errorf("cdp: history: %w", err)
	}
	return nil
}

func (s *RodSession) Reload(ctx context.Context) error {
	p, cancel := s.bind(ctx)
	defer cancel()
	if err := (proto.PageReload{}).Call(p); err != nil {
		return fmt.Errorf("cdp: reload: %w", err)
	}
	return nil
}

func (s *RodSession) Navigate(ctx context.Context, url string) error {
	p, cancel := s.bind(ctx)
	defer cancel()
	res, err := proto.PageNavigate{URL: url}.Call(p)
	if err != nil {
		return fmt.Errorf("cdp: navigate %s: %w", url, err)
	}
	if res.ErrorText != "" {
		return fmt.Errorf("cdp: navigate %s: %s", url, res.ErrorText)
	}
	return nil
}

func (s *RodSession) Targets(ctx context.Context) ([]TargetInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	res, err := proto.TargetGetTargets{}.Call(s.page.Browser().Context(ctx))
	if err != nil {
		return nil, fmt.Errorf("cdp: targets: %w", err)
	}
	out := make([]TargetInfo, 0, len(res.TargetInfos))
	for _, t := range res.TargetInfos {
		out = append(out, TargetInfo{ID: string(t.TargetID), Type: string(t.Type), URL: t.URL, Title: t.Title})
	}
	return out, nil
}
