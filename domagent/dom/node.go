// Package dom defines the node model produced by one extraction pass.
// These types are the public contract between the serializer, the element
// resolver and the action executor: consumers import this package to read
// a SerializedDOMState and to address elements by interactive index.
package dom

import (
	"strings"
)

// NodeType mirrors the DOM nodeType constants.
type NodeType int

const (
	ElementNode          NodeType = 1
	TextNode             NodeType = 3
	CommentNode          NodeType = 8
	DocumentNode         NodeType = 9
	DocumentTypeNode     NodeType = 10
	DocumentFragmentNode NodeType = 11
)

// AXInfo is the accessibility view of a node.
type AXInfo struct {
	Role       string            `json:"role,omitempty"`
	Name       string            `json:"name,omitempty"`
	Properties map[string]string `json:"properties,omitempty"`
}

// RawNode is the per-pass snapshot of one protocol-level node. Builders
// populate it once; nothing else writes to it except the index assigner,
// which records the pass's interactive index exactly once.
type RawNode struct {
	NodeID        int      `json:"node_id,omitempty"`
	BackendNodeID int      `json:"backend_node_id"`
	NodeType      NodeType `json:"node_type"`
	Tag           string   `json:"tag"` // lower-case node name
	NodeValue     string   `json:"value,omitempty"`

	Attributes map[string]string `json:"attributes,omitempty"`
	Styles     map[string]string `json:"-"`

	Bounds     *Rect       `json:"bounds,omitempty"` // nil: geometry unknown
	Visible    bool        `json:"visible"`
	Scrollable bool        `json:"scrollable,omitempty"`
	Scroll     *ScrollInfo `json:"scroll,omitempty"`
	Clickable  bool        `json:"clickable,omitempty"` // snapshot reports a click listener

	AX *AXInfo `json:"ax,omitempty"`

	Parent          *RawNode   `json:"-"`
	Children        []*RawNode `json:"-"`
	ShadowRoots     []*RawNode `json:"-"`
	ShadowRootType  string     `json:"shadow_root_type,omitempty"`
	ContentDocument *RawNode   `json:"-"`

	FrameID   string `json:"frame_id,omitempty"`
	TargetID  string `json:"target_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`

	index int
}

// Identity is the stable identity used to compare nodes across passes.
func (n *RawNode) Identity() int { return n.BackendNodeID }

// Index returns the interactive index assigned in this pass (0 if none).
func (n *RawNode) Index() int { return n.index }

// AssignIndex records the pass's interactive index. Later calls are ignored.
func (n *RawNode) AssignIndex(i int) {
	if n.index == 0 {
		n.index = i
	}
}

// Attr returns the attribute value or "".
func (n *RawNode) Attr(name string) string {
	if n.Attributes == nil {
		return ""
	}
	return n.Attributes[name]
}

// HasAttr reports whether the attribute is present, even if empty.
func (n *RawNode) HasAttr(name string) bool {
	if n.Attributes == nil {
		return false
	}
	_, ok := n.Attributes[name]
	return ok
}

// Style returns a computed style value captured by the snapshot.
func (n *RawNode) Style(name string) string {
	if n.Styles == nil {
		return ""
	}
	return n.Styles[name]
}

// Role returns the explicit ARIA role, falling back to the AX role.
func (n *RawNode) Role() string {
	if r := strings.TrimSpace(n.Attr("role")); r != "" {
		return strings.ToLower(r)
	}
	if n.AX != nil {
		return strings.ToLower(n.AX.Role)
	}
	return ""
}

// AXProperty returns an accessibility property value or "".
func (n *RawNode) AXProperty(name string) string {
	if n.AX == nil || n.AX.Properties == nil {
		return ""
	}
	return n.AX.Properties[name]
}

// IsElement reports whether the node is an element.
func (n *RawNode) IsElement() bool { return n.NodeType == ElementNode }

// IsText reports whether the node is a text node.
func (n *RawNode) IsText() bool { return n.NodeType == TextNode }

// IsFrame reports whether the node is an iframe or frame owner.
func (n *RawNode) IsFrame() bool {
	return n.NodeType == ElementNode && (n.Tag == "iframe" || n.Tag == "frame")
}

// IsContentEditable reports whether the element accepts rich text input.
func (n *RawNode) IsContentEditable() bool {
	if n.HasAttr("contenteditable") {
		v := strings.ToLower(n.Attr("contenteditable"))
		return v == "" || v == "true" || v == "plaintext-only"
	}
	switch n.AXProperty("editable") {
	case "richtext", "plaintext":
		return n.Tag != "input" && n.Tag != "textarea"
	}
	return false
}

// Walk visits the node, its light-DOM children, its shadow roots and its
// content document, depth first. Returning false from fn skips the subtree.
func (n *RawNode) Walk(fn func(*RawNode) bool) {
	if n == nil || !fn(n) {
		return
	}
	for _, c := range n.Children {
		c.Walk(fn)
	}
	for _, sr := range n.ShadowRoots {
		sr.Walk(fn)
	}
	if n.ContentDocument != nil {
		n.ContentDocument.Walk(fn)
	}
}

// TextContent concatenates the trimmed text of all descendant text nodes,
// stopping at frame boundaries.
func (n *RawNode) TextContent() string {
	var parts []string
	var walk func(*RawNode)
	walk = func(x *RawNode) {
		if x.IsText() {
			if t := strings.TrimSpace(x.NodeValue); t != "" {
				parts = append(parts, t)
			}
			return
		}
		for _, c := range x.Children {
			walk(c)
		}
		for _, sr := range x.ShadowRoots {
			walk(sr)
		}
	}
	walk(n)
	return strings.Join(parts, " ")
}

// Describe returns a short human-readable label for logs and errors.
func (n *RawNode) Describe() string {
	if n == nil {
		return "<nil>"
	}
	var b strings.Builder
	b.WriteString("<")
	b.WriteString(n.Tag)
	if id := n.Attr("id"); id != "" {
		b.WriteString(" id=")
		b.WriteString(id)
	}
	if name := n.Attr("name"); name != "" {
		b.WriteString(" name=")
		b.WriteString(name)
	}
	b.WriteString(">")
	return b.String()
}
