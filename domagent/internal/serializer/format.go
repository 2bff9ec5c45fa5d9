package serializer

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/hazyhaar/webpilot/domagent/dom"
)

// DefaultAttributes is the attribute allow-list used when a caller supplies
// none. Its order decides which attribute survives value de-duplication.
var DefaultAttributes = []string{
	"title", "type", "checked", "name", "role", "value", "placeholder", "alt",
	"aria-label", "aria-expanded", "aria-checked", "aria-selected", "data-state",
	"href", "id", "for", "selected", "expanded", "pressed", "required", "disabled",
}

const maxAttrRunes = 100

// Attributes kept even when they repeat the node's text.
var keepDuplicateOfText = map[string]bool{"value": true, "type": true}

// Boolean attributes render as true when present without a value.
var booleanAttrs = map[string]bool{
	"checked": true, "selected": true, "disabled": true, "required": true,
	"expanded": true, "pressed": true,
}

// Format renders the tree. include is the attribute allow-list; nil means
// DefaultAttributes.
func Format(root *dom.SimplifiedNode, include []string) string {
	if root == nil {
		return ""
	}
	if include == nil {
		include = DefaultAttributes
	}
	var b strings.Builder
	render(&b, root, 0, include)
	return strings.TrimRight(b.String(), "\n")
}

// Text renders a published state.
func Text(st *dom.SerializedDOMState, include []string) string {
	if st == nil {
		return ""
	}
	return Format(st.Root, include)
}

func render(b *strings.Builder, sn *dom.SimplifiedNode, depth int, include []string) {
	n := sn.Raw
	if n.IsText() {
		if sn.ShouldDisplay {
			b.WriteString(strings.Repeat("\t", depth))
			b.WriteString(strings.TrimSpace(n.NodeValue))
			b.WriteByte('\n')
		}
		return
	}
	childDepth := depth
	if !sn.Excluded && sn.ShouldDisplay && n.IsElement() {
		b.WriteString(strings.Repeat("\t", depth))
		b.WriteString(marker(sn))
		b.WriteString("<")
		b.WriteString(n.Tag)
		for _, kv := range attributes(n, include) {
			b.WriteString(" ")
			b.WriteString(kv[0])
			b.WriteString("=")
			b.WriteString(kv[1])
		}
		b.WriteString(" />")
		if sn.Scrollable && n.Scroll != nil {
			fmt.Fprintf(b, " scroll: %.1f pages above, %.1f pages below", n.Scroll.PagesAbove(), n.Scroll.PagesBelow())
		}
		b.WriteByte('\n')
		childDepth++
	}
	for _, c := range sn.Children {
		render(b, c, childDepth, include)
	}
}

func marker(sn *dom.SimplifiedNode) string {
	switch {
	case sn.Index != nil && sn.Scrollable:
		m := fmt.Sprintf("|SCROLL[%d]|", *sn.Index)
		if sn.IsNew {
			m = "*" + m
		}
		return m
	case sn.Index != nil:
		if sn.IsNew {
			return fmt.Sprintf("*[%d]", *sn.Index)
		}
		return fmt.Sprintf("[%d]", *sn.Index)
	case sn.Scrollable:
		return "|SCROLL|"
	case sn.Raw.Tag == "frame":
		return "|FRAME|"
	case sn.Raw.IsFrame():
		return "|IFRAME|"
	}
	return ""
}

func truncate(s string) string {
	if utf8.RuneCountInString(s) <= maxAttrRunes {
		return s
	}
	r := []rune(s)
	return string(r[:maxAttrRunes]) + "..."
}

// attributes returns the name/value pairs to print, in allow-list order,
// after merging AX properties, collapsing repeated values onto the
// earliest allow-list entry and dropping copies of the node's text.
func attributes(n *dom.RawNode, include []string) [][2]string {
	var out [][2]string
	seen := map[string]bool{}
	for _, name := range include {
		v, ok := n.Attributes[name]
		if !ok && n.AX != nil {
			v, ok = n.AX.Properties[name]
		}
		if !ok {
			continue
		}
		v = strings.TrimSpace(v)
		if v == "" {
			if !booleanAttrs[name] {
				continue
			}
			v = "true"
		}
		if utf8.RuneCountInString(v) > 5 {
			if seen[v] {
				continue
			}
			seen[v] = true
		}
		out = append(out, [2]string{name, truncate(v)})
	}
	text := strings.TrimSpace(n.TextContent())
	if text == "" {
		return out
	}
	kept := out[:0]
	for _, kv := range out {
		if kv[1] == text && !keepDuplicateOfText[kv[0]] {
			continue
		}
		kept = append(kept, kv)
	}
	return kept
}
