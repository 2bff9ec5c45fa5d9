package action

import (
	"context"
	"errors"
	"fmt"

	"github.com/hazyhaar/webpilot/domagent/dom"
	"github.com/hazyhaar/webpilot/domagent/internal/cdp"
	"github.com/hazyhaar/webpilot/domagent/internal/resolve"
)

type viewportInfo struct {
	Width   float64 `json:"width"`
	Height  float64 `json:"height"`
	ScrollX float64 `json:"scroll_x"`
	ScrollY float64 `json:"scroll_y"`
}

func (e *Executor) viewportInfo(ctx context.Context) (viewportInfo, bool) {
	var vp viewportInfo
	v, err := e.sess.Evaluate(ctx, cdp.ScriptViewport)
	if err != nil {
		e.logger.Debug("action: viewport unavailable", "error", err)
		return vp, false
	}
	if err := v.Decode(&vp); err != nil || vp.Width <= 0 || vp.Height <= 0 {
		return vp, false
	}
	return vp, true
}

// viewport returns the layout viewport in CSS pixels. ok is false when it
// could not be read.
func (e *Executor) viewport(ctx context.Context) (dom.Rect, bool) {
	vp, ok := e.viewportInfo(ctx)
	if !ok {
		return dom.Rect{}, false
	}
	return dom.Rect{Width: vp.Width, Height: vp.Height}, true
}

// visibleArea is the part of r inside the viewport, or r itself when the
// viewport is unknown.
func visibleArea(r, vp dom.Rect, known bool) float64 {
	if !known {
		return r.Area()
	}
	return r.Intersect(vp).Area()
}

// box finds t's on-screen rectangle: content quads (largest visible), then
// the box model, then a script-measured bounding rect.
func (e *Executor) box(ctx context.Context, t *resolve.Target, vp dom.Rect, known bool) (dom.Rect, error) {
	var errs []error
	quads, err := e.sess.ContentQuads(ctx, t.Ref)
	if err == nil {
		best, bestArea := dom.Rect{}, 0.0
		for _, q := range quads {
			r := q.Rect()
			if a := visibleArea(r, vp, known); a > bestArea {
				best, bestArea = r, a
			}
		}
		if bestArea > 0 {
			return best, nil
		}
		err = errors.New("no visible content quad")
	}
	errs = append(errs, fmt.Errorf("content quads: %w", err))

	q, err := e.sess.BoxModel(ctx, t.Ref)
	if err == nil {
		if r := q.Rect(); visibleArea(r, vp, known) > 0 {
			return r, nil
		}
		err = errors.New("box model is off screen")
	}
	errs = append(errs, fmt.Errorf("box model: %w", err))

	v, err := e.call(ctx, t, cdp.ScriptBoundingRect)
	if err == nil {
		var r dom.Rect
		if err = v.Decode(&r); err == nil {
			if visibleArea(r, vp, known) > 0 {
				return r, nil
			}
			err = errors.New("bounding rect is empty or off screen")
		}
	}
	errs = append(errs, fmt.Errorf("bounding rect: %w", err))
	return dom.Rect{}, errors.Join(errs...)
}

// point scrolls t into view and returns its viewport-clamped click point.
func (e *Executor) point(ctx context.Context, t *resolve.Target) (float64, float64, error) {
	if err := e.sess.ScrollIntoView(ctx, t.Ref); err != nil {
		e.logger.Debug("action: scroll into view failed", "target", t.Describe(), "error", err)
	}
	return e.measure(ctx, t)
}

// measure returns t's viewport-clamped click point without scrolling.
func (e *Executor) measure(ctx context.Context, t *resolve.Target) (float64, float64, error) {
	vp, known := e.viewport(ctx)
	r, err := e.box(ctx, t, vp, known)
	if err != nil {
		return 0, 0, err
	}
	if known {
		if in := r.Intersect(vp); !in.Empty() {
			r = in
		}
	}
	x, y := r.Center()
	if known {
		x = clamp(x, 0, vp.Width-1)
		y = clamp(y, 0, vp.Height-1)
	}
	return x, y, nil
}

func clamp(v, lo, hi float64) float64 {
	return max(lo, min(v, hi))
}

// locator reports where a pointer click on the target would land, in
// top-level viewport coordinates. It must not scroll.
type locator func(ctx context.Context) (float64, float64, error)

// aim is a cleared click point, or Forced when no point could be cleared
// and a script click already activated the target.
type aim struct {
	X, Y   float64
	Forced bool
}

// coveredAt reports whether a pointer event at (x, y) would miss t. A
// failing check counts as clear.
func (e *Executor) coveredAt(ctx context.Context, t *resolve.Target, x, y float64) bool {
	v, err := e.call(ctx, t, cdp.ScriptOcclusion, x, y)
	if err != nil {
		e.logger.Debug("action: occlusion check failed", "target", t.Describe(), "error", err)
		return false
	}
	return v.Bool()
}

// clearShot checks the exact point a click would use. While it is covered
// or off screen the configured scroll nudges are tried, re-measuring after
// each. When none clears it the scroll position is restored and a script
// click is forced.
func (e *Executor) clearShot(ctx context.Context, t *resolve.Target, at locator) (aim, error) {
	x, y, err := at(ctx)
	if err != nil {
		return aim{}, err
	}
	if !e.coveredAt(ctx, t, x, y) {
		return aim{X: x, Y: y}, nil
	}
	home, homeKnown := e.viewportInfo(ctx)
	for _, n := range e.opts.Nudges {
		if _, err := e.sess.Evaluate(ctx, cdp.ScriptWindowScrollBy, n.DX, n.DY); err != nil {
			e.logger.Debug("action: nudge failed", "dx", n.DX, "dy", n.DY, "error", err)
			continue
		}
		x, y, err := at(ctx)
		if err != nil {
			e.logger.Debug("action: target not measurable after nudge", "dx", n.DX, "dy", n.DY, "error", err)
			continue
		}
		if !e.coveredAt(ctx, t, x, y) {
			e.logger.Debug("action: occlusion cleared", "target", t.Describe(), "dx", n.DX, "dy", n.DY)
			return aim{X: x, Y: y}, nil
		}
	}
	if homeKnown {
		if _, err := e.sess.Evaluate(ctx, cdp.ScriptWindowScrollTo, home.ScrollX, home.ScrollY); err != nil {
			e.logger.Debug("action: scroll restore failed", "error", err)
		}
	}
	if _, err := e.call(ctx, t, cdp.ScriptForceClick); err != nil {
		return aim{}, fmt.Errorf("target is occluded and forced click failed: %w", err)
	}
	return aim{Forced: true}, nil
}
