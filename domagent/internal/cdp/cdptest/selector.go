package cdptest

import (
	"fmt"
	"strings"
)

// A small CSS subset: comma lists of compound selectors (tag, #id, .class,
// [attr], [attr=value]) joined by descendant or child combinators.

type attrSel struct {
	name  string
	value string
	has   bool // value given
}

type compound struct {
	tag     string
	id      string
	classes []string
	attrs   []attrSel
	child   bool // combinator to the previous compound is '>'
}

type complexSel []compound

func parseSelector(s string) ([]complexSel, error) {
	var out []complexSel
	for _, part := range splitTop(s, ',') {
		cs, err := parseComplex(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		out = append(out, cs)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("cdptest: empty selector")
	}
	return out, nil
}

// splitTop splits on sep outside brackets and quotes.
func splitTop(s string, sep byte) []string {
	var out []string
	depth, start := 0, 0
	var quote byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == '\\' {
				i++
			} else if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
		case c == '[':
			depth++
		case c == ']':
			depth--
		case c == sep && depth == 0:
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	return append(out, s[start:])
}

func parseComplex(s string) (complexSel, error) {
	if s == "" {
		return nil, fmt.Errorf("cdptest: empty selector")
	}
	var out complexSel
	child := false
	i := 0
	for i < len(s) {
		switch s[i] {
		case ' ', '\t', '\n':
			i++
			continue
		case '>':
			child = true
			i++
			continue
		}
		c, n, err := parseCompound(s[i:])
		if err != nil {
			return nil, err
		}
		c.child = child && len(out) > 0
		child = false
		out = append(out, c)
		i += n
	}
	return out, nil
}

func isIdent(c byte) bool {
	return c == '-' || c == '_' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

func ident(s string) (string, int) {
	i := 0
	for i < len(s) && isIdent(s[i]) {
		i++
	}
	return s[:i], i
}

func parseCompound(s string) (compound, int, error) {
	var c compound
	i := 0
	if i < len(s) && s[i] == '*' {
		i++
	} else if id, n := ident(s); n > 0 {
		c.tag = strings.ToLower(id)
		i += n
	}
	for i < len(s) {
		switch s[i] {
		case '#':
			id, n := ident(s[i+1:])
			if n == 0 {
				return c, 0, fmt.Errorf("cdptest: bad id in %q", s)
			}
			c.id = id
			i += n + 1
		case '.':
			cl, n := ident(s[i+1:])
			if n == 0 {
				return c, 0, fmt.Errorf("cdptest: bad class in %q", s)
			}
			c.classes = append(c.classes, cl)
			i += n + 1
		case '[':
			a, n, err := parseAttr(s[i:])
			if err != nil {
				return c, 0, err
			}
			c.attrs = append(c.attrs, a)
			i += n
		default:
			if i == 0 {
				return c, 0, fmt.Errorf("cdptest: unsupported selector %q", s)
			}
			return c, i, nil
		}
	}
	return c, i, nil
}

func parseAttr(s string) (attrSel, int, error) {
	end := strings.IndexByte(s, ']')
	if end < 0 {
		return attrSel{}, 0, fmt.Errorf("cdptest: unterminated attribute in %q", s)
	}
	// Quoted values may contain ']'.
	if q := strings.IndexAny(s, `"'`); q >= 0 && q < end {
		quote := s[q]
		j := q + 1
		for j < len(s) && s[j] != quote {
			if s[j] == '\\' {
				j++
			}
			j++
		}
		end = strings.IndexByte(s[j:], ']')
		if end < 0 {
			return attrSel{}, 0, fmt.Errorf("cdptest: unterminated attribute in %q", s)
		}
		end += j
	}
	body := s[1:end]
	eq := strings.IndexByte(body, '=')
	if eq < 0 {
		return attrSel{name: strings.TrimSpace(body)}, end + 1, nil
	}
	v := strings.TrimSpace(body[eq+1:])
	if len(v) >= 2 && (v[0] == '"' || v[0] == '\'') {
		v = unescape(v[1 : len(v)-1])
	}
	return attrSel{name: strings.TrimSpace(body[:eq]), value: v, has: true}, end + 1, nil
}

func unescape(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			i++
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

func (c compound) match(n *Node) bool {
	if n.Tag == "" || n.isText() || n.isDocument() || n.isShadow() {
		return false
	}
	if c.tag != "" && c.tag != n.Tag {
		return false
	}
	if c.id != "" && n.Attrs["id"] != c.id {
		return false
	}
	for _, cl := range c.classes {
		if !hasClass(n.Attrs["class"], cl) {
			return false
		}
	}
	for _, a := range c.attrs {
		v, ok := n.Attrs[a.name]
		if !ok || a.has && v != a.value {
			return false
		}
	}
	return true
}

func hasClass(list, cl string) bool {
	for _, f := range strings.Fields(list) {
		if f == cl {
			return true
		}
	}
	return false
}

// matches tests n against the complex selector, scoped to root.
func (cs complexSel) matches(n, root *Node) bool {
	return matchFrom(cs, len(cs)-1, n, root)
}

func matchFrom(cs complexSel, i int, n, root *Node) bool {
	if !cs[i].match(n) {
		return false
	}
	if i == 0 {
		return true
	}
	for p := n.Parent; p != nil && p != root; p = p.Parent {
		if p.isShadow() || p.isDocument() {
			return false
		}
		if matchFrom(cs, i-1, p, root) {
			return true
		}
		if cs[i].child {
			return false
		}
	}
	return false
}

// queryAll returns matches below root in document order, without crossing
// shadow or frame boundaries.
func queryAll(root *Node, selector string) ([]*Node, error) {
	sels, err := parseSelector(selector)
	if err != nil {
		return nil, err
	}
	var out []*Node
	walk(root, false, func(n *Node) bool {
		if n == root {
			return true
		}
		for _, cs := range sels {
			if cs.matches(n, root) {
				out = append(out, n)
				break
			}
		}
		return true
	})
	return out, nil
}
