package cdptest

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/hazyhaar/webpilot/domagent/internal/cdp"
)

func (f *Fake) hitTest(x, y float64) *Node {
	inside := func(n *Node) bool {
		if !f.rendered(n) || n.Style["pointer-events"] == "none" {
			return false
		}
		r := f.viewRect(n)
		return x >= r.X && x < r.X+r.Width && y >= r.Y && y < r.Y+r.Height
	}
	for i := len(f.Overlays) - 1; i >= 0; i-- {
		if inside(f.Overlays[i]) {
			return f.Overlays[i]
		}
	}
	var hit *Node
	walk(f.Doc, true, func(n *Node) bool {
		if n.isText() || n.isDocument() || n.isShadow() {
			return true
		}
		if n.Hidden {
			return false
		}
		if inside(n) {
			hit = n
		}
		return true
	})
	return hit
}

func focusable(n *Node) bool {
	switch n.Tag {
	case "input", "textarea", "select", "button", "a":
		return true
	}
	_, tab := n.Attrs["tabindex"]
	return tab || n.Attrs["contenteditable"] == "true"
}

// click activates n the way a real pointer click on n would.
func (f *Fake) click(n *Node, modifiers int) {
	n.Clicks++
	for cur := n; cur != nil; cur = cur.Parent {
		if focusable(cur) && f.rendered(cur) {
			_ = f.focus(cur)
			break
		}
	}
	for cur := n; cur != nil && !cur.isDocument(); cur = cur.Parent {
		if cur.Tag == "input" && (cur.Attrs["type"] == "checkbox" || cur.Attrs["type"] == "radio") || cur.Attrs["role"] == "checkbox" {
			f.toggle(cur)
			break
		}
		if cur.Tag == "label" {
			if ctrl := labelControl(cur); ctrl != nil {
				f.toggle(ctrl)
			}
			break
		}
	}
	if f.OnActivate != nil {
		f.OnActivate(f, n, modifiers)
	}
}

func labelControl(label *Node) *Node {
	if id := label.Attrs["for"]; id != "" {
		return find(label.root(), func(n *Node) bool { return n.Tag != "label" && n.Attrs["id"] == id })
	}
	return find(label, func(n *Node) bool { return n.Tag == "input" || n.Tag == "select" || n.Tag == "textarea" })
}

func (f *Fake) toggle(n *Node) {
	switch {
	case n.Attrs["role"] == "checkbox" && n.Tag != "input":
		if n.Attrs["aria-checked"] == "true" {
			n.Attrs["aria-checked"] = "false"
		} else {
			n.Attrs["aria-checked"] = "true"
		}
		n.CheckedWrites++
	case n.Attrs["type"] == "radio":
		if n.Checked {
			return
		}
		name := n.Attrs["name"]
		walk(n.root(), false, func(o *Node) bool {
			if o != n && o.Attrs["type"] == "radio" && o.Attrs["name"] == name {
				o.Checked = false
			}
			return true
		})
		n.Checked = true
		n.CheckedWrites++
	default:
		n.Checked = !n.Checked
		n.CheckedWrites++
	}
}

func (f *Fake) wheel(x, y, dx, dy float64) {
	for cur := f.hitTest(x, y); cur != nil; cur = cur.Parent {
		if cur.ScrollHeight > cur.ClientHeight && cur.ClientHeight > 0 {
			cur.ScrollTop = clamp(cur.ScrollTop+dy, 0, cur.ScrollHeight-cur.ClientHeight)
			return
		}
	}
	f.ScrollX = max(0, f.ScrollX+dx)
	f.ScrollY = max(0, f.ScrollY+dy)
}

func clamp(v, lo, hi float64) float64 {
	return max(lo, min(v, hi))
}

func (f *Fake) key(ev cdp.KeyEvent) {
	ctrl := ev.Modifiers&(cdp.ModCtrl|cdp.ModMeta) != 0
	switch {
	case (ev.Type == cdp.KeyDown || ev.Type == cdp.KeyChar) && ev.Text != "" && !ctrl:
		text := ev.Text
		if text == "\r" {
			if f.focused == nil || f.focused.Tag != "textarea" {
				return
			}
			text = "\n"
		}
		_ = f.insert(text)
	case ev.Type == cdp.KeyRawDown && ctrl && strings.EqualFold(ev.Key, "a"):
		if n := f.focused; n != nil {
			n.SelStart, n.SelEnd, n.selSet = 0, len([]rune(n.value())), true
		}
	case ev.Type == cdp.KeyRawDown && (ev.Key == "Backspace" || ev.Key == "Delete"):
		n := f.focused
		if n == nil || !(n.textInput() || n.editable()) {
			return
		}
		v := []rune(n.value())
		s, e := n.span(len(v))
		if s == e {
			if ev.Key == "Backspace" && s > 0 {
				s--
			} else if ev.Key == "Delete" && e < len(v) {
				e++
			}
		}
		n.setValue(string(v[:s]) + string(v[e:]))
		n.SelStart, n.SelEnd, n.selSet = s, s, true
	}
}

func (n *Node) span(length int) (int, int) {
	s := min(max(n.SelStart, 0), length)
	e := min(max(n.SelEnd, s), length)
	return s, e
}

func (f *Fake) insert(text string) error {
	n := f.focused
	if n == nil {
		return errors.New("cdptest: nothing is focused")
	}
	return insertInto(n, text, true)
}

// insertInto replaces n's selection with text. Typed text honours a
// maxlength attribute; script edits do not.
func insertInto(n *Node, text string, typed bool) error {
	if !n.textInput() && !n.editable() {
		return errors.New("cdptest: element is not editable")
	}
	v := []rune(n.value())
	s, e := n.span(len(v))
	if limit, err := strconv.Atoi(n.Attrs["maxlength"]); typed && err == nil && n.textInput() {
		room := max(limit-(len(v)-(e-s)), 0)
		if r := []rune(text); len(r) > room {
			text = string(r[:room])
		}
	}
	n.setValue(string(v[:s]) + text + string(v[e:]))
	caret := s + len([]rune(text))
	n.SelStart, n.SelEnd, n.selSet = caret, caret, true
	return nil
}

func str(args []any, i int) string {
	if i >= len(args) || args[i] == nil {
		return ""
	}
	if s, ok := args[i].(string); ok {
		return s
	}
	return fmt.Sprint(args[i])
}

func num(args []any, i int) float64 {
	if i >= len(args) {
		return 0
	}
	v, _ := args[i].(float64)
	return v
}

func boolean(args []any, i int) bool {
	if i >= len(args) {
		return false
	}
	v, _ := args[i].(bool)
	return v
}

func (f *Fake) runElementScript(n *Node, name string, args []any) (any, error) {
	switch name {
	case cdp.ScriptOcclusion.Name:
		if !f.rendered(n) {
			return true, nil
		}
		x, y := f.viewRect(n).Center()
		if len(args) >= 2 {
			x, y = num(args, 0), num(args, 1)
		}
		if x < 0 || y < 0 || x >= f.ViewWidth || y >= f.ViewHeight {
			return true, nil
		}
		hit := f.hitTest(x, y)
		return hit == nil || !n.contains(hit), nil

	case cdp.ScriptForceClick.Name:
		f.click(n, 0)
		return true, nil

	case cdp.ScriptBoundingRect.Name:
		r := f.viewRect(n)
		if !f.rendered(n) {
			r.Width, r.Height = 0, 0
		}
		return map[string]float64{"x": r.X, "y": r.Y, "width": r.Width, "height": r.Height}, nil

	case cdp.ScriptScrollIntoView.Name:
		f.scrollTo(n)
		return true, nil

	case cdp.ScriptSetValue.Name:
		if !n.textInput() && !n.editable() {
			return nil, errors.New("TypeError: Illegal invocation")
		}
		text := str(args, 0)
		if boolean(args, 1) {
			n.setValue(text)
		} else {
			n.setValue(n.value() + text)
		}
		end := len([]rune(n.value()))
		n.SelStart, n.SelEnd = end, end
		return n.value(), nil

	case cdp.ScriptReadValue.Name:
		return n.value(), nil

	case cdp.ScriptAssignSelect.Name:
		if n.Tag != "select" {
			return nil, errors.New("Error: not a select element")
		}
		items, _ := args[0].([]any)
		if !n.Multiple && len(items) > 1 {
			items = items[:1]
		}
		by := str(args, 1)
		opts := n.options()
		flags := make([]bool, len(opts))
		matched := false
		for i, o := range opts {
			for _, w := range items {
				ws := strings.TrimSpace(fmt.Sprint(w))
				switch by {
				case "index":
					flags[i] = flags[i] || fmt.Sprint(i) == ws
				case "label":
					flags[i] = flags[i] || strings.TrimSpace(o.TextContent()) == ws || o.Attrs["label"] == ws
				default:
					flags[i] = flags[i] || o.optionValue() == fmt.Sprint(w)
				}
			}
			matched = matched || flags[i]
		}
		if !matched {
			return nil, errors.New("Error: no matching option")
		}
		for i, o := range opts {
			o.Selected = flags[i]
		}
		return nonNil(n.SelectedValues()), nil

	case cdp.ScriptSelectedValues.Name:
		return nonNil(n.SelectedValues()), nil

	case cdp.ScriptListOptions.Name:
		if n.Tag != "select" {
			return nil, errors.New("Error: not a select element")
		}
		var opts []map[string]any
		for i, o := range n.options() {
			opts = append(opts, map[string]any{
				"index": i, "text": strings.TrimSpace(o.TextContent()), "value": o.optionValue(), "selected": o.Selected,
			})
		}
		return map[string]any{"multiple": n.Multiple, "options": opts}, nil

	case cdp.ScriptCheckedState.Name:
		visible := f.rendered(n) && n.Style["visibility"] != "hidden" && n.Style["opacity"] != "0"
		return map[string]bool{"checked": n.Checked || n.Attrs["aria-checked"] == "true", "visible": visible}, nil

	case cdp.ScriptClickLabel.Name:
		var label *Node
		if id := n.Attrs["id"]; id != "" {
			label = find(n.root(), func(c *Node) bool { return c.Tag == "label" && c.Attrs["for"] == id })
		}
		for cur := n.Parent; label == nil && cur != nil && !cur.isDocument() && !cur.isShadow(); cur = cur.Parent {
			if cur.Tag == "label" {
				label = cur
			}
		}
		if label == nil {
			return false, nil
		}
		f.click(label, 0)
		return true, nil

	case cdp.ScriptForceChecked.Name:
		state := boolean(args, 0)
		if n.Tag == "input" {
			if n.Checked != state {
				n.Checked = state
				n.CheckedWrites++
			}
			return n.Checked, nil
		}
		n.Attrs["aria-checked"] = fmt.Sprint(state)
		n.CheckedWrites++
		return state, nil

	case cdp.ScriptSetSelection.Name:
		if !n.textInput() && !n.editable() {
			return nil, errors.New("Error: element does not support selection")
		}
		f.focused = n
		v := n.value()
		length := len([]rune(v))
		n.SelStart, n.SelEnd, n.selSet = cdp.RuneOffset(v, int(num(args, 0))), cdp.RuneOffset(v, int(num(args, 1))), true
		n.SelStart, n.SelEnd = n.span(length)
		return true, nil

	case cdp.ScriptSelectionInfo.Name:
		v := n.value()
		s, e := n.span(len([]rune(v)))
		if !n.selSet {
			s, e = len([]rune(v)), len([]rune(v))
		}
		return map[string]any{"value": v, "start": cdp.UTF16Offset(v, s), "end": cdp.UTF16Offset(v, e)}, nil

	case cdp.ScriptCaretEnd.Name:
		if !n.textInput() && !n.editable() {
			return nil, errors.New("Error: element is not editable")
		}
		if err := f.focus(n); err != nil {
			return nil, err
		}
		end := len([]rune(n.value()))
		n.SelStart, n.SelEnd, n.selSet = end, end, true
		return true, nil

	case cdp.ScriptInsertAtCaret.Name:
		if err := insertInto(n, str(args, 0), false); err != nil {
			return nil, err
		}
		return n.value(), nil

	case cdp.ScriptFocusWithin.Name:
		return f.focused != nil && n.contains(f.focused), nil

	case cdp.ScriptScrollBy.Name:
		if n.ScrollHeight <= n.ClientHeight {
			return false, nil
		}
		before := n.ScrollTop
		n.ScrollTop = clamp(n.ScrollTop+num(args, 1), 0, n.ScrollHeight-n.ClientHeight)
		return n.ScrollTop != before, nil

	case cdp.ScriptOuterHTML.Name:
		return n.HTML(), nil
	}
	return nil, fmt.Errorf("cdptest: unknown element script %q", name)
}

var nonText = map[string]bool{
	"checkbox": true, "radio": true, "file": true, "button": true, "submit": true,
	"reset": true, "image": true, "hidden": true,
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func (f *Fake) runPageScript(name string, args []any) (any, error) {
	switch name {
	case cdp.ScriptViewport.Name:
		return map[string]float64{"width": f.ViewWidth, "height": f.ViewHeight, "scroll_x": f.ScrollX, "scroll_y": f.ScrollY}, nil

	case cdp.ScriptWindowScrollTo.Name:
		f.ScrollX, f.ScrollY = max(0, num(args, 0)), max(0, num(args, 1))
		return true, nil

	case cdp.ScriptPageInfo.Name:
		return map[string]string{"url": f.URL, "title": f.Title}, nil

	case cdp.ScriptWindowScrollBy.Name:
		x, y := f.ScrollX, f.ScrollY
		f.ScrollX = max(0, f.ScrollX+num(args, 0))
		f.ScrollY = max(0, f.ScrollY+num(args, 1))
		return x != f.ScrollX || y != f.ScrollY, nil

	case cdp.ScriptFocusedField.Name:
		n := f.focused
		if n == nil || !(n.textInput() && !nonText[n.Attrs["type"]] || n.editable()) {
			return map[string]any{"editable": false, "value": ""}, nil
		}
		if boolean(args, 0) {
			end := len([]rune(n.value()))
			n.SelStart, n.SelEnd, n.selSet = end, end, true
		}
		return map[string]any{"editable": true, "value": n.value()}, nil

	case cdp.ScriptDocumentHTML.Name:
		return f.Doc.HTML(), nil

	case cdp.ScriptScrollToText.Name:
		hit := f.findText(strings.ToLower(strings.TrimSpace(str(args, 0))), str(args, 1))
		if hit == nil {
			return false, nil
		}
		f.Scrolled = hit
		f.scrollTo(hit)
		return true, nil

	case cdp.ScriptDispatchKeys.Name:
		strokes, _ := args[0].([]any)
		for _, s := range strokes {
			m, _ := s.(map[string]any)
			key, _ := m["key"].(string)
			ctrl, _ := m["ctrl"].(bool)
			meta, _ := m["meta"].(bool)
			alt, _ := m["alt"].(bool)
			if len([]rune(key)) == 1 && !ctrl && !meta && !alt {
				_ = f.insert(key)
			}
		}
		return true, nil
	}
	return nil, fmt.Errorf("cdptest: unknown page script %q", name)
}

func (f *Fake) findText(needle, strategy string) *Node {
	if needle == "" {
		return nil
	}
	has := func(n *Node) bool { return strings.Contains(strings.ToLower(n.TextContent()), needle) }
	element := func(n *Node) bool {
		return !n.isText() && !n.isDocument() && !n.isShadow() && f.rendered(n)
	}
	switch strategy {
	case "exact":
		return find(f.Doc, func(n *Node) bool {
			return element(n) && strings.ToLower(strings.TrimSpace(n.TextContent())) == needle
		})
	case "descendant":
		return find(f.Doc, func(n *Node) bool {
			if !element(n) || !has(n) {
				return false
			}
			for _, c := range n.Children {
				if !c.isText() && has(c) {
					return false
				}
			}
			return true
		})
	case "attribute":
		return find(f.Doc, func(n *Node) bool {
			if !element(n) {
				return false
			}
			for _, v := range n.Attrs {
				if strings.Contains(strings.ToLower(v), needle) {
					return true
				}
			}
			return false
		})
	}
	t := find(f.Doc, func(n *Node) bool {
		return n.isText() && strings.Contains(strings.ToLower(n.Text), needle)
	})
	if t == nil {
		return nil
	}
	return t.Parent
}
