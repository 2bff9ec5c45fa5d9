package serializer

import (
	"strconv"
	"strings"

	"github.com/hazyhaar/webpilot/domagent/dom"
)

var interactiveTags = map[string]bool{
	"a": true, "button": true, "input": true, "select": true, "textarea": true,
	"details": true, "summary": true, "option": true, "optgroup": true,
}

var interactiveRoles = map[string]bool{
	"button": true, "link": true, "menuitem": true, "menuitemcheckbox": true,
	"menuitemradio": true, "option": true, "radio": true, "checkbox": true,
	"tab": true, "switch": true, "slider": true, "spinbutton": true,
	"combobox": true, "searchbox": true, "textbox": true, "listbox": true,
	"treeitem": true,
}

var handlerAttrs = []string{"onclick", "onmousedown", "onmouseup", "onpointerdown", "onkeydown", "onkeyup"}

// AX properties whose presence marks a control-like node.
var axStateProps = []string{"checked", "expanded", "pressed", "selected"}

func hasHandler(n *dom.RawNode) bool {
	for _, a := range handlerAttrs {
		if n.HasAttr(a) {
			return true
		}
	}
	return false
}

func disabled(n *dom.RawNode) bool {
	if n.HasAttr("disabled") || n.Attr("aria-disabled") == "true" || n.Attr("aria-hidden") == "true" {
		return true
	}
	if n.Tag == "input" && strings.EqualFold(n.Attr("type"), "hidden") {
		return true
	}
	return n.AXProperty("disabled") == "true"
}

// isInteractive is a pure function of the node's tag, attributes,
// accessibility data and captured styles.
func isInteractive(n *dom.RawNode) bool {
	if !n.IsElement() || disabled(n) {
		return false
	}
	if interactiveTags[n.Tag] {
		return true
	}
	if n.Tag == "label" && n.Attr("for") != "" {
		return true
	}
	if r := strings.ToLower(strings.TrimSpace(n.Attr("role"))); interactiveRoles[r] {
		return true
	}
	if hasHandler(n) || n.IsContentEditable() {
		return true
	}
	if t := n.Attr("tabindex"); t != "" {
		if i, err := strconv.Atoi(strings.TrimSpace(t)); err == nil && i >= 0 {
			return true
		}
	}
	if n.Tag == "html" || n.Tag == "body" {
		return false
	}
	if n.Clickable {
		return true
	}
	if n.AX != nil {
		if interactiveRoles[strings.ToLower(n.AX.Role)] {
			return true
		}
		if n.AXProperty("focusable") == "true" {
			return true
		}
		if e := n.AXProperty("editable"); e != "" && e != "false" {
			return true
		}
		for _, p := range axStateProps {
			if _, ok := n.AX.Properties[p]; ok {
				return true
			}
		}
	}
	return n.Style("cursor") == "pointer"
}

// isPropagating matches elements whose box swallows clicks for their
// visually contained descendants.
func isPropagating(n *dom.RawNode) bool {
	if !n.IsElement() {
		return false
	}
	switch n.Tag {
	case "a", "button":
		return true
	case "div", "span", "input":
		r := strings.ToLower(n.Attr("role"))
		return r == "button" || r == "combobox"
	}
	return false
}

// predicateCache memoizes the three capability checks for one pass.
type predicateCache struct {
	interactive map[*dom.RawNode]bool
	scrollable  map[*dom.RawNode]bool
	visible     map[*dom.RawNode]bool
}

func newPredicateCache() *predicateCache {
	return &predicateCache{
		interactive: map[*dom.RawNode]bool{},
		scrollable:  map[*dom.RawNode]bool{},
		visible:     map[*dom.RawNode]bool{},
	}
}

func memo(m map[*dom.RawNode]bool, n *dom.RawNode, fn func(*dom.RawNode) bool) bool {
	if v, ok := m[n]; ok {
		return v
	}
	v := fn(n)
	m[n] = v
	return v
}

func (c *predicateCache) isInteractive(n *dom.RawNode) bool {
	return memo(c.interactive, n, isInteractive)
}

func (c *predicateCache) isScrollable(n *dom.RawNode) bool {
	return memo(c.scrollable, n, func(n *dom.RawNode) bool { return n.Scrollable })
}

func (c *predicateCache) isVisible(n *dom.RawNode) bool {
	return memo(c.visible, n, func(n *dom.RawNode) bool { return n.Visible })
}
