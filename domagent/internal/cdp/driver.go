package cdp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/proto"
)

// Driver is the optional high-level automation path: selector-based
// handles with native waiting, scrolling and interaction.
type Driver interface {
	// Element returns the handle for selector whose backend node ID equals
	// backendNodeID. A selector match on a different node is an error.
	Element(ctx context.Context, selector string, backendNodeID int) (Element, error)
	Scroll(ctx context.Context, x, y, dx, dy float64) error
	InsertText(ctx context.Context, text string) error
	Keys(ctx context.Context, strokes []KeyStroke) error
	History(ctx context.Context, delta int) error
	Reload(ctx context.Context) error
	Navigate(ctx context.Context, url string) error
}

// Element is a live high-level element handle.
type Element interface {
	ScrollIntoView(ctx context.Context) error
	Click(ctx context.Context, modifiers int) error
	Focus(ctx context.Context) error
	Input(ctx context.Context, text string, clear bool) error
	// Select selects the options matched by CSS selectors after clearing
	// the current selection.
	Select(ctx context.Context, selectors []string) error
	SetFiles(ctx context.Context, paths []string) error
	Eval(ctx context.Context, s Script, args ...any) (Value, error)
	Center(ctx context.Context) (x, y float64, err error)
}

// RodDriver implements Driver over a rod page.
type RodDriver struct {
	page    *rod.Page
	timeout time.Duration
}

// NewRodDriver wraps a rod page. timeout <= 0 defaults to 10s.
func NewRodDriver(page *rod.Page, timeout time.Duration) *RodDriver {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &RodDriver{page: page, timeout: timeout}
}

func (d *RodDriver) bind(ctx context.Context) (*rod.Page, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	return d.page.Context(ctx), cancel
}

func (d *RodDriver) Element(ctx context.Context, selector string, backendNodeID int) (Element, error) {
	p, cancel := d.bind(ctx)
	defer cancel()
	els, err := p.Elements(selector)
	if err != nil {
		return nil, fmt.Errorf("cdp: driver: elements %q: %w", selector, err)
	}
	for _, el := range els {
		n, err := el.Describe(0, false)
		if err != nil {
			continue
		}
		if int(n.BackendNodeID) == backendNodeID {
			return &rodElement{el: el, page: d.page, timeout: d.timeout}, nil
		}
	}
	return nil, fmt.Errorf("cdp: driver: %q matched %d elements, none is node %d", selector, len(els), backendNodeID)
}

func (d *RodDriver) Scroll(ctx context.Context, x, y, dx, dy float64) error {
	p, cancel := d.bind(ctx)
	defer cancel()
	if err := p.Mouse.MoveTo(proto.Point{X: x, Y: y}); err != nil {
		return fmt.Errorf("cdp: driver: mouse move: %w", err)
	}
	if err := p.Mouse.Scroll(dx, dy, 1); err != nil {
		return fmt.Errorf("cdp: driver: wheel: %w", err)
	}
	return nil
}

func (d *RodDriver) InsertText(ctx context.Context, text string) error {
	p, cancel := d.bind(ctx)
	defer cancel()
	return p.InsertText(text)
}

var rodNamed = map[string]input.Key{
	"Enter":      input.Enter,
	"Tab":        input.Tab,
	"Escape":     input.Escape,
	"Backspace":  input.Backspace,
	"Delete":     input.Delete,
	" ":          input.Space,
	"ArrowUp":    input.ArrowUp,
	"ArrowDown":  input.ArrowDown,
	"ArrowLeft":  input.ArrowLeft,
	"ArrowRight": input.ArrowRight,
	"Home":       input.Home,
	"End":        input.End,
	"PageUp":     input.PageUp,
	"PageDown":   input.PageDown,
}

func rodKey(ks KeyStroke) (input.Key, error) {
	if k, ok := rodNamed[ks.Key]; ok {
		return k, nil
	}
	if len(ks.Key) == 1 && ks.Key[0] >= 0x20 && ks.Key[0] < 0x7f {
		return input.Key(ks.Key[0]), nil
	}
	return 0, fmt.Errorf("cdp: driver: no key mapping for %q", ks.Key)
}

func rodModifiers(mod int) []input.Key {
	var out []input.Key
	if mod&ModCtrl != 0 {
		out = append(out, input.ControlLeft)
	}
	if mod&ModShift != 0 {
		out = append(out, input.ShiftLeft)
	}
	if mod&ModAlt != 0 {
		out = append(out, input.AltLeft)
	}
	if mod&ModMeta != 0 {
		out = append(out, input.MetaLeft)
	}
	return out
}

func (d *RodDriver) Keys(ctx context.Context, strokes []KeyStroke) error {
	p, cancel := d.bind(ctx)
	defer cancel()
	for _, ks := range strokes {
		k, err := rodKey(ks)
		if err != nil {
			return err
		}
		mods := rodModifiers(ks.Modifiers)
		for _, m := range mods {
			if err := p.Keyboard.Press(m); err != nil {
				return fmt.Errorf("cdp: driver: press modifier: %w", err)
			}
		}
		err = p.Keyboard.Type(k)
		for i := len(mods) - 1; i >= 0; i-- {
			_ = p.Keyboard.Release(mods[i])
		}
		if err != nil {
			return fmt.Errorf("cdp: driver: type %q: %w", ks.Key, err)
		}
	}
	return nil
}

func (d *RodDriver) History(ctx context.Context, delta int) error {
	p, cancel := d.bind(ctx)
	defer cancel()
	switch {
	case delta < 0:
		return p.NavigateBack()
	case delta > 0:
		return p.NavigateForward()
	}
	return errors.New("cdp: driver: zero history delta")
}

func (d *RodDriver) Reload(ctx context.Context) error {
	p, cancel := d.bind(ctx)
	defer cancel()
	return p.Reload()
}

func (d *RodDriver) Navigate(ctx context.Context, url string) error {
	p, cancel := d.bind(ctx)
	defer cancel()
	return p.Navigate(url)
}

type rodElement struct {
	el      *rod.Element
	page    *rod.Page
	timeout time.Duration
}

func (e *rodElement) bind(ctx context.Context) (*rod.Element, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	return e.el.Context(ctx), cancel
}

func (e *rodElement) ScrollIntoView(ctx context.Context) error {
	el, cancel := e.bind(ctx)
	defer cancel()
	return el.ScrollIntoView()
}

func (e *rodElement) Click(ctx context.Context, modifiers int) error {
	el, cancel := e.bind(ctx)
	defer cancel()
	mods := rodModifiers(modifiers)
	kb := e.page.Context(ctx).Keyboard
	for _, m := range mods {
		if err := kb.Press(m); err != nil {
			return fmt.Errorf("cdp: driver: press modifier: %w", err)
		}
	}
	err := el.Click(proto.InputMouseButtonLeft, 1)
	for i := len(mods) - 1; i >= 0; i-- {
		_ = kb.Release(mods[i])
	}
	return err
}

func (e *rodElement) Focus(ctx context.Context) error {
	el, cancel := e.bind(ctx)
	defer cancel()
	return el.Focus()
}

func (e *rodElement) Input(ctx context.Context, text string, clear bool) error {
	el, cancel := e.bind(ctx)
	defer cancel()
	if clear {
		if err := el.SelectAllText(); err != nil {
			return fmt.Errorf("cdp: driver: select all: %w", err)
		}
	}
	return el.Input(text)
}

func (e *rodElement) Select(ctx context.Context, selectors []string) error {
	el, cancel := e.bind(ctx)
	defer cancel()
	if _, err := el.Eval(`function() { for (const o of this.options) o.selected = false; }`); err != nil {
		return fmt.Errorf("cdp: driver: clear selection: %w", err)
	}
	return el.Select(selectors, true, rod.SelectorTypeCSSSector)
}

func (e *rodElement) SetFiles(ctx context.Context, paths []string) error {
	el, cancel := e.bind(ctx)
	defer cancel()
	return el.SetFiles(paths)
}

func (e *rodElement) Eval(ctx context.Context, s Script, args ...any) (Value, error) {
	el, cancel := e.bind(ctx)
	defer cancel()
	obj, err := el.Eval(s.Source, args...)
	if err != nil {
		return nil, fmt.Errorf("cdp: driver: script %s: %w", s.Name, err)
	}
	return Value(obj.Value.JSON("", "")), nil
}

func (e *rodElement) Center(ctx context.Context) (float64, float64, error) {
	el, cancel := e.bind(ctx)
	defer cancel()
	shape, err := el.Shape()
	if err != nil {
		return 0, 0, fmt.Errorf("cdp: driver: shape: %w", err)
	}
	box := shape.Box()
	if box == nil {
		return 0, 0, errors.New("cdp: driver: element has no box")
	}
	return box.X + box.Width/2, box.Y + box.Height/2, nil
}

// CSSString quotes s for use inside a CSS attribute selector.
func CSSString(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\a `)
	return `"` + r.Replace(s) + `"`
}
