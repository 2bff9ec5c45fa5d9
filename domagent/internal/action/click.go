package action

import (
	"context"

	"github.com/hazyhaar/webpilot/domagent/dom"
	"github.com/hazyhaar/webpilot/domagent/internal/cdp"
	"github.com/hazyhaar/webpilot/domagent/internal/resolve"
)

func (e *Executor) click(ctx context.Context, state *dom.SerializedDOMState, req Request) (*Result, error) {
	t, err := e.target(ctx, state, req)
	if err != nil {
		return nil, err
	}
	switch {
	case t.Tag == "select":
		return nil, dom.Unsupported("click", "%s is a select control, use select_option", t.Describe())
	case isFileInput(t):
		return nil, dom.Unsupported("click", "%s is a file input, use upload_file", t.Describe())
	}
	mods := 0
	if req.NewTab {
		mods = cdp.PlatformModifier()
	}
	before := e.targets(ctx)

	out, err := e.chain(ctx, "click",
		e.driverTier(func(ctx context.Context) (outcome, error) {
			el, err := e.element(ctx, t)
			if err != nil {
				return outcome{}, err
			}
			a, err := e.clearShot(ctx, t, el.Center)
			if err != nil {
				return outcome{}, err
			}
			if a.Forced {
				return forcedOutcome(t), nil
			}
			if err := el.Click(ctx, mods); err != nil {
				return outcome{}, err
			}
			return outcome{Message: "clicked " + t.Describe()}, nil
		}),
		tier{name: TierProtocol, run: func(ctx context.Context) (outcome, error) {
			if err := e.sess.ScrollIntoView(ctx, t.Ref); err != nil {
				e.logger.Debug("action: scroll into view failed", "target", t.Describe(), "error", err)
			}
			a, err := e.clearShot(ctx, t, e.locate(t))
			if err != nil {
				return outcome{}, err
			}
			if a.Forced {
				return forcedOutcome(t), nil
			}
			if err := e.mouseClick(ctx, a.X, a.Y, mods); err != nil {
				return outcome{}, err
			}
			return outcome{Message: "clicked " + t.Describe()}, nil
		}},
		tier{name: TierScript, run: func(ctx context.Context) (outcome, error) {
			if _, err := e.call(ctx, t, cdp.ScriptForceClick); err != nil {
				return outcome{}, err
			}
			return outcome{Message: "script click on " + t.Describe()}, nil
		}},
	)
	if err != nil {
		return nil, err
	}
	res := &Result{Tier: out.Tier, Message: out.Message, StateInvalidated: true}
	if err := sleep(ctx, e.opts.SettleDelay); err != nil {
		return res, nil
	}
	if id := newTarget(before, e.targets(ctx)); id != "" {
		res.NewTargetID = id
		res.Message += ", opened target " + id
	}
	return res, nil
}

func forcedOutcome(t *resolve.Target) outcome {
	return outcome{Tier: TierScript, Message: "forced script click on occluded " + t.Describe()}
}

// locate is the protocol tier's locator for t.
func (e *Executor) locate(t *resolve.Target) locator {
	return func(ctx context.Context) (float64, float64, error) { return e.measure(ctx, t) }
}

func (e *Executor) mouseClick(ctx context.Context, x, y float64, mods int) error {
	events := []cdp.MouseEvent{
		{Type: cdp.MouseMoved, X: x, Y: y, Button: "none", Modifiers: mods},
		{Type: cdp.MousePressed, X: x, Y: y, Button: "left", ClickCount: 1, Modifiers: mods},
		{Type: cdp.MouseReleased, X: x, Y: y, Button: "left", ClickCount: 1, Modifiers: mods},
	}
	for _, ev := range events {
		if err := e.sess.DispatchMouse(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

// targets returns the open page target IDs in protocol order, nil when
// they cannot be read.
func (e *Executor) targets(ctx context.Context) []string {
	infos, err := e.sess.Targets(ctx)
	if err != nil {
		e.logger.Debug("action: target list unavailable", "error", err)
		return nil
	}
	out := make([]string, 0, len(infos))
	for _, ti := range infos {
		if ti.Type == "page" {
			out = append(out, ti.ID)
		}
	}
	return out
}

func newTarget(before, after []string) string {
	if before == nil || after == nil {
		return ""
	}
	seen := make(map[string]bool, len(before))
	for _, id := range before {
		seen[id] = true
	}
	for _, id := range after {
		if !seen[id] {
			return id
		}
	}
	return ""
}
