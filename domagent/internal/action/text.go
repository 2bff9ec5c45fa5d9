package action

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hazyhaar/webpilot/domagent/dom"
	"github.com/hazyhaar/webpilot/domagent/internal/cdp"
	"github.com/hazyhaar/webpilot/domagent/internal/resolve"
)

var clearStrokes = mustKeys("ControlOrMeta+a Backspace")

func mustKeys(spec string) []cdp.KeyStroke {
	ks, err := cdp.ParseKeys(spec)
	if err != nil {
		panic(err)
	}
	return ks
}

// strokes dispatches key events, pausing delay between strokes.
func (e *Executor) strokes(ctx context.Context, ks []cdp.KeyStroke, delay time.Duration) error {
	for i, s := range ks {
		if i > 0 {
			if err := sleep(ctx, delay); err != nil {
				return err
			}
		}
		for _, ev := range s.Events() {
			if err := e.sess.DispatchKey(ctx, ev); err != nil {
				return err
			}
		}
	}
	return nil
}

func charStrokes(text string) []cdp.KeyStroke {
	out := make([]cdp.KeyStroke, 0, len(text))
	for _, r := range text {
		out = append(out, cdp.CharStroke(r))
	}
	return out
}

// readValue reads t's current value, through the driver when the page
// script path fails.
func (e *Executor) readValue(ctx context.Context, t *resolve.Target) (string, error) {
	v, err := e.call(ctx, t, cdp.ScriptReadValue)
	if err == nil {
		return v.Str(), nil
	}
	if e.drv == nil {
		return "", err
	}
	el, derr := e.element(ctx, t)
	if derr == nil {
		if v, derr = el.Eval(ctx, cdp.ScriptReadValue); derr == nil {
			return v.Str(), nil
		}
	}
	return "", errors.Join(err, derr)
}

// restoreValue puts t's value back to want when an earlier attempt left
// it changed. It fails when the value cannot be confirmed.
func (e *Executor) restoreValue(ctx context.Context, t *resolve.Target, want string) error {
	got, err := e.readValue(ctx, t)
	if err != nil {
		return fmt.Errorf("confirm value: %w", err)
	}
	if got == want {
		return nil
	}
	if _, err := e.call(ctx, t, cdp.ScriptSetValue, want, true); err != nil {
		return fmt.Errorf("restore value: %w", err)
	}
	if got, err = e.readValue(ctx, t); err != nil {
		return fmt.Errorf("confirm value: %w", err)
	}
	if got != want {
		return fmt.Errorf("value is %q after restore, want %q", got, want)
	}
	return nil
}

func (e *Executor) inputText(ctx context.Context, state *dom.SerializedDOMState, req Request) (*Result, error) {
	t, err := e.target(ctx, state, req)
	if err != nil {
		return nil, err
	}
	if t.Tag == "select" || isFileInput(t) {
		return nil, dom.Unsupported("input_text", "%s does not accept text", t.Describe())
	}
	text, clear := req.Text, req.Clear
	before, readErr := e.readValue(ctx, t)
	want := text
	if !clear {
		want = before + text
	}
	typed := fmt.Sprintf("typed %q into %s", text, t.Describe())
	verify := func(ctx context.Context) (outcome, error) {
		got, err := e.readValue(ctx, t)
		if err != nil {
			return outcome{}, fmt.Errorf("read back: %w", err)
		}
		if got != want {
			return outcome{}, fmt.Errorf("value is %q after typing, want %q", got, want)
		}
		return outcome{Message: typed}, nil
	}
	// Each element tier starts from the original value. An attempt that
	// cannot confirm it does not type.
	touched := false
	ready := func(ctx context.Context) error {
		if readErr != nil {
			return fmt.Errorf("read value: %w", readErr)
		}
		if touched {
			if err := e.restoreValue(ctx, t, before); err != nil {
				return err
			}
		}
		touched = true
		return nil
	}

	out, err := e.chain(ctx, "input_text",
		e.driverTier(func(ctx context.Context) (outcome, error) {
			if err := ready(ctx); err != nil {
				return outcome{}, err
			}
			el, err := e.element(ctx, t)
			if err != nil {
				return outcome{}, err
			}
			if !clear {
				if _, err := el.Eval(ctx, cdp.ScriptCaretEnd); err != nil {
					return outcome{}, fmt.Errorf("caret: %w", err)
				}
			}
			if err := el.Input(ctx, text, clear); err != nil {
				return outcome{}, err
			}
			return verify(ctx)
		}),
		tier{name: TierProtocol, run: func(ctx context.Context) (outcome, error) {
			if err := ready(ctx); err != nil {
				return outcome{}, err
			}
			if err := e.sess.Focus(ctx, t.Ref); err != nil {
				return outcome{}, err
			}
			if clear {
				if err := e.strokes(ctx, clearStrokes, 0); err != nil {
					return outcome{}, err
				}
			} else if _, err := e.call(ctx, t, cdp.ScriptCaretEnd); err != nil {
				return outcome{}, fmt.Errorf("caret: %w", err)
			}
			if err := e.strokes(ctx, charStrokes(text), 0); err != nil {
				return outcome{}, err
			}
			return verify(ctx)
		}},
		tier{name: TierScript, run: func(ctx context.Context) (outcome, error) {
			if err := ready(ctx); err != nil {
				return outcome{}, err
			}
			if _, err := e.call(ctx, t, cdp.ScriptSetValue, text, clear); err != nil {
				return outcome{}, err
			}
			return verify(ctx)
		}},
		tier{name: TierFocused, run: func(ctx context.Context) (outcome, error) {
			if touched {
				if err := e.restoreValue(ctx, t, before); err != nil {
					return outcome{}, err
				}
			}
			return e.typeFocused(ctx, text, clear)
		}},
	)
	if err != nil {
		if touched {
			if rerr := e.restoreValue(ctx, t, before); rerr != nil {
				e.logger.Warn("action: value not restored", "target", t.Describe(), "error", rerr)
			}
		}
		return nil, err
	}
	return &Result{Tier: out.Tier, Message: out.Message, StateInvalidated: true}, nil
}

type focusedField struct {
	Editable bool   `json:"editable"`
	Value    string `json:"value"`
}

func (e *Executor) focusedField(ctx context.Context, toEnd bool) (focusedField, error) {
	var f focusedField
	v, err := e.sess.Evaluate(ctx, cdp.ScriptFocusedField, toEnd)
	if err != nil {
		return f, err
	}
	if err := v.Decode(&f); err != nil {
		return f, err
	}
	if !f.Editable {
		return f, errors.New("no editable element has focus")
	}
	return f, nil
}

// typeFocused types into whatever editable element has focus and reads
// the result back.
func (e *Executor) typeFocused(ctx context.Context, text string, clear bool) (outcome, error) {
	f, err := e.focusedField(ctx, !clear)
	if err != nil {
		return outcome{}, err
	}
	want := text
	if !clear {
		want = f.Value + text
	}
	if clear {
		if err := e.strokes(ctx, clearStrokes, e.opts.TypeDelay); err != nil {
			return outcome{}, err
		}
	}
	if err := e.strokes(ctx, charStrokes(text), e.opts.TypeDelay); err != nil {
		return outcome{}, err
	}
	got, err := e.focusedField(ctx, false)
	if err != nil {
		return outcome{}, fmt.Errorf("read back: %w", err)
	}
	if got.Value != want {
		return outcome{}, fmt.Errorf("focused value is %q after typing, want %q", got.Value, want)
	}
	return outcome{Message: fmt.Sprintf("typed %q into the focused element", text)}, nil
}

// selection offsets are UTF-16 code units, as the DOM reports them.
type selection struct {
	Value string `json:"value"`
	Start int    `json:"start"`
	End   int    `json:"end"`
}

// runes converts the selection to rune offsets into Value.
func (s selection) runes() (int, int) {
	n := len([]rune(s.Value))
	start := min(max(cdp.RuneOffset(s.Value, s.Start), 0), n)
	end := min(max(cdp.RuneOffset(s.Value, s.End), start), n)
	return start, end
}

func (e *Executor) selectionInfo(ctx context.Context, t *resolve.Target) (selection, error) {
	var s selection
	v, err := e.call(ctx, t, cdp.ScriptSelectionInfo)
	if err != nil {
		return s, err
	}
	if err := v.Decode(&s); err != nil {
		return s, err
	}
	return s, nil
}

func (e *Executor) setSelection(ctx context.Context, state *dom.SerializedDOMState, req Request) (*Result, error) {
	if req.Start < 0 || req.End < req.Start {
		return nil, dom.Unsupported("set_selection_range", "invalid range %d..%d", req.Start, req.End)
	}
	t, err := e.target(ctx, state, req)
	if err != nil {
		return nil, err
	}
	// Requests count runes; the page counts UTF-16 units.
	start, end := req.Start, req.End
	if cur, err := e.selectionInfo(ctx, t); err == nil {
		start, end = cdp.UTF16Offset(cur.Value, start), cdp.UTF16Offset(cur.Value, end)
	} else {
		e.logger.Debug("action: selection unreadable before set", "target", t.Describe(), "error", err)
	}
	verify := func(ctx context.Context) (outcome, error) {
		s, err := e.selectionInfo(ctx, t)
		if err != nil {
			return outcome{}, fmt.Errorf("read back: %w", err)
		}
		n := cdp.UTF16Offset(s.Value, len([]rune(s.Value)))
		if s.Start != min(start, n) || s.End != min(end, n) {
			return outcome{}, fmt.Errorf("selection is %d..%d", s.Start, s.End)
		}
		rs, re := s.runes()
		return outcome{Message: fmt.Sprintf("selected %d..%d in %s", rs, re, t.Describe())}, nil
	}
	apply := func(ctx context.Context, eval func(context.Context) (cdp.Value, error)) (outcome, error) {
		v, err := eval(ctx)
		if err != nil {
			return outcome{}, err
		}
		if !v.Bool() {
			return outcome{}, errors.New("selection was not applied")
		}
		return verify(ctx)
	}

	out, err := e.chain(ctx, "set_selection_range",
		e.driverTier(func(ctx context.Context) (outcome, error) {
			el, err := e.element(ctx, t)
			if err != nil {
				return outcome{}, err
			}
			if err := el.Focus(ctx); err != nil {
				return outcome{}, err
			}
			return apply(ctx, func(ctx context.Context) (cdp.Value, error) {
				return el.Eval(ctx, cdp.ScriptSetSelection, start, end)
			})
		}),
		tier{name: TierProtocol, run: func(ctx context.Context) (outcome, error) {
			if err := e.sess.Focus(ctx, t.Ref); err != nil {
				return outcome{}, err
			}
			return apply(ctx, func(ctx context.Context) (cdp.Value, error) {
				return e.call(ctx, t, cdp.ScriptSetSelection, start, end)
			})
		}},
		tier{name: TierScript, run: func(ctx context.Context) (outcome, error) {
			return apply(ctx, func(ctx context.Context) (cdp.Value, error) {
				return e.call(ctx, t, cdp.ScriptSetSelection, start, end)
			})
		}},
	)
	if err != nil {
		return nil, err
	}
	return &Result{Tier: out.Tier, Message: out.Message}, nil
}

func (e *Executor) insertText(ctx context.Context, state *dom.SerializedDOMState, req Request) (*Result, error) {
	t, err := e.target(ctx, state, req)
	if err != nil {
		return nil, err
	}
	if v, err := e.call(ctx, t, cdp.ScriptFocusWithin); err != nil || !v.Bool() {
		if err := e.sess.Focus(ctx, t.Ref); err != nil {
			e.logger.Debug("action: focus before insert failed", "target", t.Describe(), "error", err)
		}
	}
	sel, err := e.selectionInfo(ctx, t)
	if err != nil {
		return nil, dom.Protocol("insert_text", err)
	}
	s, end := sel.runes()
	runes := []rune(sel.Value)
	want := string(runes[:s]) + req.Text + string(runes[end:])

	verify := func(ctx context.Context) (outcome, error) {
		got, err := e.readValue(ctx, t)
		if err != nil {
			return outcome{}, fmt.Errorf("read back: %w", err)
		}
		if got != want {
			return outcome{}, fmt.Errorf("value is %q, want %q", got, want)
		}
		return outcome{Message: fmt.Sprintf("inserted %q at %d..%d in %s", req.Text, s, end, t.Describe())}, nil
	}
	// A retry starts from the original value and selection.
	touched := false
	restore := func(ctx context.Context) error {
		if err := e.restoreValue(ctx, t, sel.Value); err != nil {
			return err
		}
		if _, err := e.call(ctx, t, cdp.ScriptSetSelection, sel.Start, sel.End); err != nil {
			return fmt.Errorf("restore selection: %w", err)
		}
		return nil
	}
	ready := func(ctx context.Context) error {
		if touched {
			if err := restore(ctx); err != nil {
				return err
			}
		}
		touched = true
		return nil
	}

	out, err := e.chain(ctx, "insert_text",
		e.driverTier(func(ctx context.Context) (outcome, error) {
			if err := ready(ctx); err != nil {
				return outcome{}, err
			}
			if err := e.drv.InsertText(ctx, req.Text); err != nil {
				return outcome{}, err
			}
			return verify(ctx)
		}),
		tier{name: TierProtocol, run: func(ctx context.Context) (outcome, error) {
			if err := ready(ctx); err != nil {
				return outcome{}, err
			}
			if err := e.sess.InsertText(ctx, req.Text); err != nil {
				return outcome{}, err
			}
			return verify(ctx)
		}},
		tier{name: TierScript, run: func(ctx context.Context) (outcome, error) {
			if err := ready(ctx); err != nil {
				return outcome{}, err
			}
			if _, err := e.call(ctx, t, cdp.ScriptInsertAtCaret, req.Text); err != nil {
				return outcome{}, err
			}
			return verify(ctx)
		}},
	)
	if err != nil {
		if touched {
			if rerr := restore(ctx); rerr != nil {
				e.logger.Warn("action: value not restored", "target", t.Describe(), "error", rerr)
			}
		}
		return nil, err
	}
	return &Result{Tier: out.Tier, Message: out.Message, StateInvalidated: true}, nil
}
