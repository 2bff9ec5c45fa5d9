package cdptest

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hazyhaar/webpilot/domagent/internal/cdp"
)

// Driver is a high-level driver over the same page model. Clicks are hit
// tested so occlusion behaves as in a browser.
type Driver struct {
	f *Fake
}

var _ cdp.Driver = (*Driver)(nil)

// NewDriver returns a driver bound to f.
func NewDriver(f *Fake) *Driver { return &Driver{f: f} }

func (d *Driver) Element(ctx context.Context, selector string, backendNodeID int) (cdp.Element, error) {
	f := d.f
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(ctx, "driver:Element"); err != nil {
		return nil, err
	}
	hits, err := queryAll(f.Doc, selector)
	if err != nil {
		return nil, err
	}
	for _, n := range hits {
		if n.ID == backendNodeID {
			return &element{f: f, n: n}, nil
		}
	}
	return nil, fmt.Errorf("cdptest: driver: %q does not match node %d", selector, backendNodeID)
}

func (d *Driver) Scroll(ctx context.Context, x, y, dx, dy float64) error {
	f := d.f
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(ctx, "driver:Scroll"); err != nil {
		return err
	}
	f.wheel(x, y, dx, dy)
	return nil
}

func (d *Driver) InsertText(ctx context.Context, text string) error {
	f := d.f
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(ctx, "driver:InsertText"); err != nil {
		return err
	}
	return f.insert(text)
}

func (d *Driver) Keys(ctx context.Context, strokes []cdp.KeyStroke) error {
	f := d.f
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(ctx, "driver:Keys"); err != nil {
		return err
	}
	for _, ks := range strokes {
		for _, ev := range ks.Events() {
			f.KeyLog = append(f.KeyLog, ev)
			f.key(ev)
		}
	}
	return nil
}

func (d *Driver) History(ctx context.Context, delta int) error {
	f := d.f
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(ctx, "driver:History"); err != nil {
		return err
	}
	f.History = append(f.History, delta)
	return nil
}

func (d *Driver) Reload(ctx context.Context) error {
	f := d.f
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(ctx, "driver:Reload"); err != nil {
		return err
	}
	f.Reloads++
	return nil
}

func (d *Driver) Navigate(ctx context.Context, url string) error {
	f := d.f
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(ctx, "driver:Navigate"); err != nil {
		return err
	}
	f.URL = url
	return nil
}

type element struct {
	f *Fake
	n *Node
}

func (e *element) do(ctx context.Context, op string, fn func() error) error {
	e.f.mu.Lock()
	defer e.f.mu.Unlock()
	if err := e.f.enter(ctx, "driver:"+op); err != nil {
		return err
	}
	if !e.f.attached(e.n) {
		return errors.New("cdptest: driver: element is detached")
	}
	return fn()
}

func (e *element) ScrollIntoView(ctx context.Context) error {
	return e.do(ctx, "ScrollIntoView", func() error {
		e.f.scrollTo(e.n)
		return nil
	})
}

func (e *element) Click(ctx context.Context, modifiers int) error {
	return e.do(ctx, "Click", func() error {
		if !e.f.rendered(e.n) {
			return errors.New("cdptest: driver: element is not visible")
		}
		x, y := e.f.viewRect(e.n).Center()
		if hit := e.f.hitTest(x, y); hit != nil {
			e.f.click(hit, modifiers)
		}
		return nil
	})
}

func (e *element) Focus(ctx context.Context) error {
	return e.do(ctx, "Focus", func() error { return e.f.focus(e.n) })
}

func (e *element) Input(ctx context.Context, text string, clear bool) error {
	return e.do(ctx, "Input", func() error {
		if err := e.f.focus(e.n); err != nil {
			return err
		}
		if clear {
			e.n.SelStart, e.n.SelEnd, e.n.selSet = 0, len([]rune(e.n.value())), true
		}
		return e.f.insert(text)
	})
}

func (e *element) Select(ctx context.Context, selectors []string) error {
	return e.do(ctx, "Select", func() error {
		if e.n.Tag != "select" {
			return errors.New("cdptest: driver: not a select")
		}
		opts := e.n.options()
		for _, o := range opts {
			o.Selected = false
		}
		matched := 0
		for _, sel := range selectors {
			hits, err := queryAll(e.n, sel)
			if err != nil {
				return err
			}
			for _, h := range hits {
				if h.Tag != "option" {
					continue
				}
				if !e.n.Multiple {
					for _, o := range opts {
						o.Selected = false
					}
				}
				h.Selected = true
				matched++
			}
		}
		if matched == 0 {
			return fmt.Errorf("cdptest: driver: no option matches %s", strings.Join(selectors, ", "))
		}
		return nil
	})
}

func (e *element) SetFiles(ctx context.Context, paths []string) error {
	return e.do(ctx, "SetFiles", func() error {
		if e.n.Tag != "input" || e.n.Attrs["type"] != "file" {
			return errors.New("cdptest: driver: not a file input")
		}
		e.n.Files = append([]string(nil), paths...)
		return nil
	})
}

func (e *element) Eval(ctx context.Context, s cdp.Script, args ...any) (cdp.Value, error) {
	var out cdp.Value
	err := e.do(ctx, "Eval", func() error {
		wa, err := wireArgs(args)
		if err != nil {
			return err
		}
		v, err := e.f.runElementScript(e.n, s.Name, wa)
		if err != nil {
			return err
		}
		out = cdp.ValueOf(v)
		return nil
	})
	return out, err
}

func (e *element) Center(ctx context.Context) (float64, float64, error) {
	var x, y float64
	err := e.do(ctx, "Center", func() error {
		if !e.f.rendered(e.n) {
			return errors.New("cdptest: driver: element has no box")
		}
		x, y = e.f.viewRect(e.n).Center()
		return nil
	})
	return x, y, err
}
