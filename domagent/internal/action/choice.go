package action

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/hazyhaar/webpilot/domagent/dom"
	"github.com/hazyhaar/webpilot/domagent/internal/cdp"
	"github.com/hazyhaar/webpilot/domagent/internal/resolve"
)

type optionList struct {
	Multiple bool     `json:"multiple"`
	Options  []Option `json:"options"`
}

func (e *Executor) listOptions(ctx context.Context, t *resolve.Target) (optionList, error) {
	var l optionList
	v, err := e.call(ctx, t, cdp.ScriptListOptions)
	if err != nil {
		return l, err
	}
	err = v.Decode(&l)
	return l, err
}

// wanted maps the request's values, labels or indices onto option values.
func wanted(req Request, l optionList) ([]string, error) {
	set := 0
	for _, n := range []int{len(req.Values), len(req.Labels), len(req.Indices)} {
		if n > 0 {
			set++
		}
	}
	if set != 1 {
		return nil, dom.Unsupported("select_option", "exactly one of values, labels or indices is required")
	}
	var out []string
	add := func(v string) {
		if !slices.Contains(out, v) {
			out = append(out, v)
		}
	}
	switch {
	case len(req.Values) > 0:
		for _, v := range req.Values {
			if !slices.ContainsFunc(l.Options, func(o Option) bool { return o.Value == v }) {
				return nil, dom.NotFound("select_option", "no option with value %q", v)
			}
			add(v)
		}
	case len(req.Labels) > 0:
		for _, lb := range req.Labels {
			i := slices.IndexFunc(l.Options, func(o Option) bool { return o.Text == strings.TrimSpace(lb) })
			if i < 0 {
				return nil, dom.NotFound("select_option", "no option labelled %q", lb)
			}
			add(l.Options[i].Value)
		}
	default:
		for _, i := range req.Indices {
			if i < 0 || i >= len(l.Options) {
				return nil, dom.NotFound("select_option", "option index %d out of range [0,%d)", i, len(l.Options))
			}
			add(l.Options[i].Value)
		}
	}
	if !l.Multiple && len(out) > 1 {
		out = out[:1]
	}
	return out, nil
}

func (e *Executor) selectOption(ctx context.Context, state *dom.SerializedDOMState, req Request) (*Result, error) {
	t, err := e.target(ctx, state, req)
	if err != nil {
		return nil, err
	}
	if t.Tag != "select" {
		return nil, dom.Unsupported("select_option", "%s is not a select control", t.Describe())
	}
	l, err := e.listOptions(ctx, t)
	if err != nil {
		return nil, dom.Protocol("select_option", err)
	}
	want, err := wanted(req, l)
	if err != nil {
		return nil, err
	}
	verify := func(ctx context.Context) (outcome, error) {
		v, err := e.call(ctx, t, cdp.ScriptSelectedValues)
		if err != nil {
			return outcome{}, fmt.Errorf("read back: %w", err)
		}
		var got []string
		if err := v.Decode(&got); err != nil {
			return outcome{}, err
		}
		if !sameSet(got, want) {
			return outcome{}, fmt.Errorf("selected %q, want %q", got, want)
		}
		return outcome{Message: fmt.Sprintf("selected %q in %s", want, t.Describe())}, nil
	}

	out, err := e.chain(ctx, "select_option",
		e.driverTier(func(ctx context.Context) (outcome, error) {
			el, err := e.element(ctx, t)
			if err != nil {
				return outcome{}, err
			}
			sels := make([]string, len(want))
			for i, v := range want {
				sels[i] = "option[value=" + cdp.CSSString(v) + "]"
			}
			if err := el.Select(ctx, sels); err != nil {
				return outcome{}, err
			}
			return verify(ctx)
		}),
		tier{name: TierScript, run: func(ctx context.Context) (outcome, error) {
			if _, err := e.call(ctx, t, cdp.ScriptAssignSelect, want, "value"); err != nil {
				return outcome{}, err
			}
			return verify(ctx)
		}},
	)
	if err != nil {
		return nil, err
	}
	return &Result{Tier: out.Tier, Message: out.Message, StateInvalidated: true}, nil
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for _, v := range a {
		if !slices.Contains(b, v) {
			return false
		}
	}
	for _, v := range b {
		if !slices.Contains(a, v) {
			return false
		}
	}
	return true
}

func (e *Executor) dropdownOptions(ctx context.Context, state *dom.SerializedDOMState, req Request) (*Result, error) {
	t, err := e.target(ctx, state, req)
	if err != nil {
		return nil, err
	}
	if t.Tag != "select" {
		return nil, dom.Unsupported("get_dropdown_options", "%s is not a select control", t.Describe())
	}
	var l optionList
	list := func(ctx context.Context, v cdp.Value, err error) (outcome, error) {
		if err != nil {
			return outcome{}, err
		}
		if err := v.Decode(&l); err != nil {
			return outcome{}, err
		}
		return outcome{Message: formatOptions(l)}, nil
	}
	out, err := e.chain(ctx, "get_dropdown_options",
		e.driverTier(func(ctx context.Context) (outcome, error) {
			el, err := e.drv.Element(ctx, t.Selector(), t.Ref.BackendNodeID)
			if err != nil {
				return outcome{}, err
			}
			v, err := el.Eval(ctx, cdp.ScriptListOptions)
			return list(ctx, v, err)
		}),
		tier{name: TierScript, run: func(ctx context.Context) (outcome, error) {
			v, err := e.call(ctx, t, cdp.ScriptListOptions)
			return list(ctx, v, err)
		}},
	)
	if err != nil {
		return nil, err
	}
	return &Result{Tier: out.Tier, Message: out.Message, Options: l.Options}, nil
}

func formatOptions(l optionList) string {
	var b strings.Builder
	if l.Multiple {
		b.WriteString("multiple selection\n")
	}
	for _, o := range l.Options {
		b.WriteString(strconv.Itoa(o.Index))
		b.WriteString(": ")
		b.WriteString(o.Text)
		if o.Value != o.Text {
			fmt.Fprintf(&b, " (value=%q)", o.Value)
		}
		if o.Selected {
			b.WriteString(" [selected]")
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

type checkState struct {
	Checked bool `json:"checked"`
	Visible bool `json:"visible"`
}

func (e *Executor) checkedState(ctx context.Context, t *resolve.Target) (checkState, error) {
	var s checkState
	v, err := e.call(ctx, t, cdp.ScriptCheckedState)
	if err != nil {
		return s, err
	}
	err = v.Decode(&s)
	return s, err
}

func (e *Executor) setChecked(ctx context.Context, state *dom.SerializedDOMState, req Request) (*Result, error) {
	t, err := e.target(ctx, state, req)
	if err != nil {
		return nil, err
	}
	cur, err := e.checkedState(ctx, t)
	if err != nil {
		return nil, dom.Protocol("set_checked", err)
	}
	want := req.Checked
	word := "unchecked"
	if want {
		word = "checked"
	}
	if cur.Checked == want {
		return &Result{Message: fmt.Sprintf("%s is already %s", t.Describe(), word)}, nil
	}
	verify := func(ctx context.Context) (outcome, error) {
		s, err := e.checkedState(ctx, t)
		if err != nil {
			return outcome{}, fmt.Errorf("read back: %w", err)
		}
		if s.Checked != want {
			return outcome{}, fmt.Errorf("control is still not %s", word)
		}
		return outcome{Message: fmt.Sprintf("%s is now %s", t.Describe(), word)}, nil
	}
	script := tier{name: TierScript, run: func(ctx context.Context) (outcome, error) {
		if _, err := e.call(ctx, t, cdp.ScriptForceChecked, want); err != nil {
			return outcome{}, err
		}
		return verify(ctx)
	}}

	var out outcome
	if !cur.Visible {
		out, err = e.chain(ctx, "set_checked",
			tier{name: TierLabel, run: func(ctx context.Context) (outcome, error) {
				v, err := e.call(ctx, t, cdp.ScriptClickLabel)
				if err != nil {
					return outcome{}, err
				}
				if !v.Bool() {
					return outcome{}, fmt.Errorf("%s is hidden and has no label", t.Describe())
				}
				return verify(ctx)
			}},
			script,
		)
	} else {
		out, err = e.chain(ctx, "set_checked",
			e.driverTier(func(ctx context.Context) (outcome, error) {
				el, err := e.element(ctx, t)
				if err != nil {
					return outcome{}, err
				}
				a, err := e.clearShot(ctx, t, el.Center)
				if err != nil {
					return outcome{}, err
				}
				if !a.Forced {
					if err := el.Click(ctx, 0); err != nil {
						return outcome{}, err
					}
				}
				return verify(ctx)
			}),
			tier{name: TierProtocol, run: func(ctx context.Context) (outcome, error) {
				if err := e.sess.ScrollIntoView(ctx, t.Ref); err != nil {
					e.logger.Debug("action: scroll into view failed", "target", t.Describe(), "error", err)
				}
				a, err := e.clearShot(ctx, t, e.locate(t))
				if err != nil {
					return outcome{}, err
				}
				if !a.Forced {
					if err := e.mouseClick(ctx, a.X, a.Y, 0); err != nil {
						return outcome{}, err
					}
				}
				return verify(ctx)
			}},
			script,
		)
	}
	if err != nil {
		return nil, err
	}
	return &Result{Tier: out.Tier, Message: out.Message, StateInvalidated: true}, nil
}
