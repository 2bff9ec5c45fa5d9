// Package cdp is the protocol boundary of webpilot. Session is the raw
// remote-debugging channel to one page target; Driver is the optional
// high-level automation path. Both have go-rod implementations and an
// in-memory fake in cdptest.
package cdp

import (
	"context"

	"github.com/hazyhaar/webpilot/domagent/dom"
)

// NodeRef addresses a node by any of its protocol identifiers.
// Implementations prefer ObjectID, then BackendNodeID, then NodeID.
type NodeRef struct {
	NodeID        int
	BackendNodeID int
	ObjectID      string
}

// Empty reports whether no identifier is set.
func (r NodeRef) Empty() bool {
	return r.NodeID == 0 && r.BackendNodeID == 0 && r.ObjectID == ""
}

// Node is a protocol DOM node as returned by DOM.getDocument / DOM.describeNode.
type Node struct {
	NodeID          int
	BackendNodeID   int
	NodeType        int
	NodeName        string
	NodeValue       string
	Attributes      []string // flat name, value pairs
	Children        []*Node
	ShadowRoots     []*Node
	ShadowRootType  string
	ContentDocument *Node
	FrameID         string
}

// Attr returns an attribute value from the flat pair list.
func (n *Node) Attr(name string) (string, bool) {
	for i := 0; i+1 < len(n.Attributes); i += 2 {
		if n.Attributes[i] == name {
			return n.Attributes[i+1], true
		}
	}
	return "", false
}

// LayoutNode is the per-node layout captured by DOMSnapshot. Rectangles are
// in top-level viewport coordinates.
type LayoutNode struct {
	Bounds     dom.Rect
	ClientRect *dom.Rect
	ScrollRect *dom.Rect
	Styles     map[string]string
	Clickable  bool
	PaintOrder int
}

// Layout maps backend node IDs to captured layout.
type Layout struct {
	Nodes          map[int]*LayoutNode
	ViewportWidth  float64
	ViewportHeight float64
}

// AXNode is one accessibility tree node bound to a DOM node.
type AXNode struct {
	BackendNodeID int
	Ignored       bool
	Role          string
	Name          string
	Properties    map[string]string
}

// Quad is a protocol quad: four x,y points clockwise from top-left.
type Quad []float64

// Rect returns the quad's bounding rectangle.
func (q Quad) Rect() dom.Rect {
	if len(q) < 8 {
		return dom.Rect{}
	}
	minX, minY, maxX, maxY := q[0], q[1], q[0], q[1]
	for i := 2; i+1 < len(q); i += 2 {
		minX = min(minX, q[i])
		maxX = max(maxX, q[i])
		minY = min(minY, q[i+1])
		maxY = max(maxY, q[i+1])
	}
	return dom.Rect{X: minX, Y: minY, Width: maxX - minX, Height: maxY - minY}
}

// Mouse event types.
const (
	MousePressed  = "mousePressed"
	MouseReleased = "mouseReleased"
	MouseMoved    = "mouseMoved"
	MouseWheel    = "mouseWheel"
)

// Key event types.
const (
	KeyDown    = "keyDown"
	KeyUp      = "keyUp"
	KeyRawDown = "rawKeyDown"
	KeyChar    = "char"
)

// Modifier bits as defined by Input.dispatch*Event.
const (
	ModAlt   = 1
	ModCtrl  = 2
	ModMeta  = 4
	ModShift = 8
)

// MouseEvent mirrors Input.dispatchMouseEvent.
type MouseEvent struct {
	Type       string
	X, Y       float64
	Button     string // "left", "none"
	ClickCount int
	Modifiers  int
	DeltaX     float64
	DeltaY     float64
}

// KeyEvent mirrors Input.dispatchKeyEvent.
type KeyEvent struct {
	Type      string
	Key       string
	Code      string
	Text      string
	KeyCode   int
	Modifiers int
}

// TargetInfo describes one browsing target.
type TargetInfo struct {
	ID    string
	Type  string
	URL   string
	Title string
}

// Session is an addressable channel to one browsing context. Every method
// may block on IPC and must honour ctx.
type Session interface {
	TargetID() string
	SessionID() string

	// Alive returns an error when the target can no longer be addressed.
	Alive(ctx context.Context) error

	Document(ctx context.Context, pierce bool) (*Node, error)
	CaptureSnapshot(ctx context.Context, styles []string) (*Layout, error)
	AXTree(ctx context.Context) ([]AXNode, error)

	// QuerySelector runs a CSS selector inside the root node and returns the
	// first match's NodeID, 0 when nothing matches.
	QuerySelector(ctx context.Context, rootNodeID int, selector string) (int, error)
	DescribeNode(ctx context.Context, ref NodeRef) (*Node, error)
	ResolveNode(ctx context.Context, ref NodeRef) (string, error)

	ContentQuads(ctx context.Context, ref NodeRef) ([]Quad, error)
	BoxModel(ctx context.Context, ref NodeRef) (Quad, error)
	ScrollIntoView(ctx context.Context, ref NodeRef) error
	Focus(ctx context.Context, ref NodeRef) error
	SetFileInputFiles(ctx context.Context, ref NodeRef, files []string) error

	// CallFunction invokes an element script with this bound to objectID.
	CallFunction(ctx context.Context, objectID string, s Script, args ...any) (Value, error)
	// Evaluate invokes a page script in the main frame.
	Evaluate(ctx context.Context, s Script, args ...any) (Value, error)

	DispatchMouse(ctx context.Context, ev MouseEvent) error
	DispatchKey(ctx context.Context, ev KeyEvent) error
	InsertText(ctx context.Context, text string) error

	NavigateHistory(ctx context.Context, delta int) error
	Reload(ctx context.Context) error
	Navigate(ctx context.Context, url string) error
	Targets(ctx context.Context) ([]TargetInfo, error)
}
