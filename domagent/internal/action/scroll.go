package action

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hazyhaar/webpilot/domagent/dom"
	"github.com/hazyhaar/webpilot/domagent/internal/cdp"
	"github.com/hazyhaar/webpilot/domagent/internal/resolve"
)

// delta converts a direction and amount into wheel deltas. page is the
// distance used when amount is zero.
func delta(direction string, amount, page float64) (float64, float64, error) {
	if amount <= 0 {
		amount = page
	}
	switch strings.ToLower(strings.TrimSpace(direction)) {
	case "", "down":
		return 0, amount, nil
	case "up":
		return 0, -amount, nil
	case "right":
		return amount, 0, nil
	case "left":
		return -amount, 0, nil
	}
	return 0, 0, dom.Unsupported("scroll", "unknown direction %q", direction)
}

func (e *Executor) scroll(ctx context.Context, state *dom.SerializedDOMState, req Request) (*Result, error) {
	t, err := e.optionalTarget(ctx, state, req)
	if err != nil {
		return nil, err
	}
	if t != nil && (t.Tag == "html" || t.Tag == "body") {
		t = nil
	}
	vp, known := e.viewport(ctx)
	page := 800.0
	if known {
		page = vp.Height
	}
	if t != nil && t.Node != nil && t.Node.Scroll != nil && t.Node.Scroll.ClientHeight > 0 {
		page = t.Node.Scroll.ClientHeight
	}
	dx, dy, err := delta(req.Direction, req.Amount, page)
	if err != nil {
		return nil, err
	}
	var out outcome
	if t == nil {
		out, err = e.scrollViewport(ctx, vp, known, dx, dy)
	} else {
		out, err = e.scrollContainer(ctx, t, dx, dy)
	}
	if err != nil {
		return nil, err
	}
	return &Result{Tier: out.Tier, Message: out.Message, StateInvalidated: true}, nil
}

func (e *Executor) scrollViewport(ctx context.Context, vp dom.Rect, known bool, dx, dy float64) (outcome, error) {
	if !known {
		vp = dom.Rect{Width: 1280, Height: 800}
	}
	cx, cy := vp.Center()
	msg := fmt.Sprintf("scrolled the page by (%.0f, %.0f)", dx, dy)
	return e.chain(ctx, "scroll",
		e.driverTier(func(ctx context.Context) (outcome, error) {
			if err := e.drv.Scroll(ctx, cx, cy, dx, dy); err != nil {
				return outcome{}, err
			}
			return outcome{Message: msg}, nil
		}),
		tier{name: TierProtocol, run: func(ctx context.Context) (outcome, error) {
			if err := e.wheel(ctx, cx, cy, dx, dy); err != nil {
				return outcome{}, err
			}
			return outcome{Message: msg}, nil
		}},
		tier{name: TierScript, run: func(ctx context.Context) (outcome, error) {
			v, err := e.sess.Evaluate(ctx, cdp.ScriptWindowScrollBy, dx, dy)
			if err != nil {
				return outcome{}, err
			}
			if !v.Bool() {
				return outcome{Message: "the page is already at its scroll edge"}, nil
			}
			return outcome{Message: msg}, nil
		}},
	)
}

func (e *Executor) scrollContainer(ctx context.Context, t *resolve.Target, dx, dy float64) (outcome, error) {
	msg := fmt.Sprintf("scrolled %s by (%.0f, %.0f)", t.Describe(), dx, dy)
	return e.chain(ctx, "scroll",
		e.driverTier(func(ctx context.Context) (outcome, error) {
			el, err := e.element(ctx, t)
			if err != nil {
				return outcome{}, err
			}
			x, y, err := el.Center(ctx)
			if err != nil {
				return outcome{}, err
			}
			if err := e.drv.Scroll(ctx, x, y, dx, dy); err != nil {
				return outcome{}, err
			}
			return outcome{Message: msg}, nil
		}),
		tier{name: TierProtocol, run: func(ctx context.Context) (outcome, error) {
			x, y, err := e.point(ctx, t)
			if err != nil {
				return outcome{}, err
			}
			if err := e.wheel(ctx, x, y, dx, dy); err != nil {
				return outcome{}, err
			}
			return outcome{Message: msg}, nil
		}},
		tier{name: TierScript, run: func(ctx context.Context) (outcome, error) {
			v, err := e.call(ctx, t, cdp.ScriptScrollBy, dx, dy)
			if err != nil {
				return outcome{}, err
			}
			if !v.Bool() {
				return outcome{Message: t.Describe() + " is already at its scroll edge"}, nil
			}
			return outcome{Message: msg}, nil
		}},
	)
}

func (e *Executor) wheel(ctx context.Context, x, y, dx, dy float64) error {
	if err := e.sess.DispatchMouse(ctx, cdp.MouseEvent{Type: cdp.MouseMoved, X: x, Y: y, Button: "none"}); err != nil {
		return err
	}
	return e.sess.DispatchMouse(ctx, cdp.MouseEvent{Type: cdp.MouseWheel, X: x, Y: y, Button: "none", DeltaX: dx, DeltaY: dy})
}

// Text match strategies, from strict to lax. walk is the polled fallback.
var textStrategies = []string{"exact", "descendant", "attribute"}

func (e *Executor) scrollToText(ctx context.Context, req Request) (*Result, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, dom.NotFound("scroll_to_text", "empty text")
	}
	var errs []error
	attempts := 0
	try := func(ctx context.Context, strategy string) bool {
		attempts++
		v, err := e.sess.Evaluate(ctx, cdp.ScriptScrollToText, text, strategy)
		if err != nil {
			e.logger.Debug("action: scroll to text failed", "strategy", strategy, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", strategy, err))
			return false
		}
		return v.Bool()
	}
	found := func(strategy string) *Result {
		return &Result{
			Tier:             TierScript,
			Message:          fmt.Sprintf("scrolled to %q (%s match)", text, strategy),
			StateInvalidated: true,
		}
	}
	for _, s := range textStrategies {
		if try(ctx, s) {
			return found(s), nil
		}
	}

	deadline := time.Now().Add(e.opts.TextTimeout)
	tick := time.NewTicker(e.opts.PollInterval)
	defer tick.Stop()
	for !time.Now().After(deadline) {
		if try(ctx, "walk") {
			return found("walk"), nil
		}
		select {
		case <-ctx.Done():
			return nil, &dom.Error{Kind: dom.KindTimeout, Op: "scroll_to_text",
				Detail: fmt.Sprintf("searching for %q", text), Err: ctx.Err()}
		case <-tick.C:
		}
	}
	if len(errs) == attempts {
		return nil, &dom.Error{Kind: dom.KindProtocolFailure, Op: "scroll_to_text",
			Detail: "every text search failed", Err: errors.Join(errs...)}
	}
	return nil, dom.NotFound("scroll_to_text", "text %q is not on the page", text)
}
