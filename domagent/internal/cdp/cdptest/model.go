// Package cdptest provides an in-memory page model that implements
// cdp.Session and cdp.Driver. Scripts from the cdp catalogue are simulated
// by name against the model, so action tiers can be exercised without a
// browser.
package cdptest

import (
	"html"
	"sort"
	"strings"

	"github.com/hazyhaar/webpilot/domagent/dom"
)

// Node is one node of the fake page.
type Node struct {
	ID       int // backend node ID; protocol node IDs are ID+1000*fetch
	Tag      string
	Text     string // text nodes only
	Attrs    map[string]string
	Style    map[string]string
	Children []*Node
	Shadow   *Node // attached shadow root
	Frame    *Node // iframe content document
	Parent   *Node

	Rect   dom.Rect
	Hidden bool // display:none
	Fixed  bool // unaffected by window scroll

	AXRole  string
	AXName  string
	AXProps map[string]string

	Clickable bool
	Value     string
	Checked   bool
	Selected  bool
	Multiple  bool
	Files     []string

	SelStart, SelEnd int
	selSet           bool

	ScrollTop    float64
	ScrollHeight float64
	ClientHeight float64

	Clicks        int
	CheckedWrites int
}

func (n *Node) isText() bool     { return n.Tag == "#text" }
func (n *Node) isDocument() bool { return n.Tag == "#document" }
func (n *Node) isShadow() bool   { return n.Tag == "#shadow-root" }

// El builds an element from tag and name/value attribute pairs.
func El(tag string, attrs ...string) *Node {
	n := &Node{Tag: strings.ToLower(tag), Attrs: map[string]string{}}
	for i := 0; i+1 < len(attrs); i += 2 {
		n.Attrs[attrs[i]] = attrs[i+1]
	}
	switch n.Tag {
	case "input", "textarea":
		n.Value = n.Attrs["value"]
		_, n.Checked = n.Attrs["checked"]
	case "option":
		_, n.Selected = n.Attrs["selected"]
	case "select":
		_, n.Multiple = n.Attrs["multiple"]
	}
	if v, ok := n.Attrs["contenteditable"]; ok && v != "false" {
		n.Attrs["contenteditable"] = "true"
	}
	return n
}

// Text builds a text node.
func Text(s string) *Node { return &Node{Tag: "#text", Text: s} }

// At sets the node's rectangle in page coordinates.
func (n *Node) At(x, y, w, h float64) *Node {
	n.Rect = dom.Rect{X: x, Y: y, Width: w, Height: h}
	return n
}

// Add appends children.
func (n *Node) Add(children ...*Node) *Node {
	for _, c := range children {
		c.Parent = n
		n.Children = append(n.Children, c)
	}
	return n
}

// AttachShadow attaches an open shadow root holding children.
func (n *Node) AttachShadow(children ...*Node) *Node {
	sr := &Node{Tag: "#shadow-root", Parent: n}
	sr.Add(children...)
	n.Shadow = sr
	return n
}

// Embed sets doc as the iframe's content document.
func (n *Node) Embed(doc *Node) *Node {
	doc.Parent = n
	n.Frame = doc
	return n
}

// Scrolls makes the node a scroll container.
func (n *Node) Scrolls(clientHeight, scrollHeight float64) *Node {
	n.ClientHeight, n.ScrollHeight = clientHeight, scrollHeight
	if n.Style == nil {
		n.Style = map[string]string{}
	}
	n.Style["overflow"] = "auto"
	n.Style["overflow-y"] = "auto"
	return n
}

// Page builds a document whose body holds children.
func Page(children ...*Node) *Node {
	return Document(El("html").At(0, 0, 1280, 800).Add(El("body").At(0, 0, 1280, 800).Add(children...)))
}

// Document wraps a root element in a document node.
func Document(root *Node) *Node {
	doc := &Node{Tag: "#document"}
	return doc.Add(root)
}

// Body returns the first body element under doc.
func Body(doc *Node) *Node {
	return find(doc, func(n *Node) bool { return n.Tag == "body" })
}

func find(root *Node, fn func(*Node) bool) *Node {
	var hit *Node
	walk(root, true, func(n *Node) bool {
		if hit != nil {
			return false
		}
		if fn(n) {
			hit = n
			return false
		}
		return true
	})
	return hit
}

// walk visits n and its subtree; crossing controls shadow/frame traversal.
func walk(n *Node, crossing bool, fn func(*Node) bool) {
	if n == nil || !fn(n) {
		return
	}
	for _, c := range n.Children {
		walk(c, crossing, fn)
	}
	if crossing {
		walk(n.Shadow, crossing, fn)
		walk(n.Frame, crossing, fn)
	}
}

// host returns the element owning a shadow root or frame document.
func (n *Node) host() *Node {
	if n.Parent != nil && (n.isShadow() || n.isDocument()) {
		return n.Parent
	}
	return nil
}

// contains reports whether d is n or lives below n, crossing shadow roots.
func (n *Node) contains(d *Node) bool {
	for cur := d; cur != nil; cur = cur.Parent {
		if cur == n {
			return true
		}
	}
	return false
}

// root returns the document or shadow root the node lives in.
func (n *Node) root() *Node {
	cur := n
	for cur.Parent != nil && !cur.isShadow() && !cur.isDocument() {
		cur = cur.Parent
	}
	return cur
}

func (n *Node) editable() bool {
	for cur := n; cur != nil && !cur.isShadow() && !cur.isDocument(); cur = cur.Parent {
		if cur.Attrs["contenteditable"] == "true" {
			return true
		}
	}
	return false
}

func (n *Node) textInput() bool { return n.Tag == "input" || n.Tag == "textarea" }

// TextContent concatenates descendant text.
func (n *Node) TextContent() string {
	if n.isText() {
		return n.Text
	}
	var b strings.Builder
	for _, c := range n.Children {
		b.WriteString(c.TextContent())
	}
	return b.String()
}

func (n *Node) setTextContent(s string) {
	n.Children = nil
	if s != "" {
		n.Add(Text(s))
	}
}

func (n *Node) value() string {
	if n.textInput() {
		return n.Value
	}
	return n.TextContent()
}

func (n *Node) setValue(s string) {
	if n.textInput() {
		n.Value = s
		return
	}
	n.setTextContent(s)
}

func (n *Node) options() []*Node {
	var out []*Node
	walk(n, false, func(c *Node) bool {
		if c.Tag == "option" {
			out = append(out, c)
		}
		return true
	})
	return out
}

// SelectedValues returns the values of selected options.
func (n *Node) SelectedValues() []string {
	var out []string
	for _, o := range n.options() {
		if o.Selected {
			out = append(out, o.optionValue())
		}
	}
	return out
}

func (n *Node) optionValue() string {
	if v, ok := n.Attrs["value"]; ok {
		return v
	}
	return strings.TrimSpace(n.TextContent())
}

func (n *Node) attrPairs() []string {
	keys := make([]string, 0, len(n.Attrs))
	for k := range n.Attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, 2*len(keys))
	for _, k := range keys {
		out = append(out, k, n.Attrs[k])
	}
	return out
}

// HTML renders the subtree as markup.
func (n *Node) HTML() string {
	var b strings.Builder
	n.render(&b)
	return b.String()
}

func (n *Node) render(b *strings.Builder) {
	switch {
	case n.isText():
		b.WriteString(html.EscapeString(n.Text))
		return
	case n.isDocument() || n.isShadow():
		for _, c := range n.Children {
			c.render(b)
		}
		return
	}
	b.WriteString("<" + n.Tag)
	pairs := n.attrPairs()
	for i := 0; i < len(pairs); i += 2 {
		b.WriteString(" " + pairs[i] + `="` + html.EscapeString(pairs[i+1]) + `"`)
	}
	b.WriteString(">")
	for _, c := range n.Children {
		c.render(b)
	}
	b.WriteString("</" + n.Tag + ">")
}
