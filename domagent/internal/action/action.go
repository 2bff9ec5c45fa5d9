// Package action executes primitive interactions against indexed elements.
//
// Every element action is a fixed-order chain of tiers: the high-level
// driver, the raw protocol, and a forced in-page script. A tier failure is
// logged at debug level and the next tier runs; only exhaustion is
// returned to the caller, as a *dom.Error.
package action

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hazyhaar/webpilot/domagent/dom"
	"github.com/hazyhaar/webpilot/domagent/internal/cdp"
	"github.com/hazyhaar/webpilot/domagent/internal/content"
	"github.com/hazyhaar/webpilot/domagent/internal/resolve"
)

// Kind names an action.
type Kind string

const (
	Click              Kind = "click"
	InputText          Kind = "input_text"
	SelectOption       Kind = "select_option"
	GetDropdownOptions Kind = "get_dropdown_options"
	SetChecked         Kind = "set_checked"
	SetSelectionRange  Kind = "set_selection_range"
	InsertText         Kind = "insert_text"
	Scroll             Kind = "scroll"
	ScrollToText       Kind = "scroll_to_text"
	SendKeys           Kind = "send_keys"
	UploadFile         Kind = "upload_file"
	NavigateHistory    Kind = "navigate_history"
	Navigate           Kind = "navigate"
	Wait               Kind = "wait"
	WaitForSelector    Kind = "wait_for_selector"
	ExtractContent     Kind = "extract_content"
)

// Kinds lists every supported action kind.
var Kinds = []Kind{
	Click, InputText, SelectOption, GetDropdownOptions, SetChecked,
	SetSelectionRange, InsertText, Scroll, ScrollToText, SendKeys,
	UploadFile, NavigateHistory, Navigate, Wait, WaitForSelector, ExtractContent,
}

// Tier names the path that completed an action.
type Tier string

const (
	TierDriver   Tier = "driver"
	TierProtocol Tier = "protocol"
	TierScript   Tier = "script"
	TierLabel    Tier = "label"
	TierFocused  Tier = "focused"
)

// Request describes one action. Element actions address their target by
// Index or, when Index is zero, by a compound Selector.
type Request struct {
	Kind     Kind   `json:"kind"`
	Index    int    `json:"index,omitempty"`
	Selector string `json:"selector,omitempty"`

	Text  string `json:"text,omitempty"`
	Clear bool   `json:"clear,omitempty"`

	// Exactly one of Values, Labels and Indices for select_option.
	Values  []string `json:"values,omitempty"`
	Labels  []string `json:"labels,omitempty"`
	Indices []int    `json:"indices,omitempty"`

	Checked bool `json:"checked,omitempty"`

	Start int `json:"start,omitempty"`
	End   int `json:"end,omitempty"`

	// Direction is up, down, left or right; Amount is in pixels, zero
	// meaning one viewport.
	Direction string  `json:"direction,omitempty"`
	Amount    float64 `json:"amount,omitempty"`

	Keys    string   `json:"keys,omitempty"`
	Files   []string `json:"files,omitempty"`
	History string   `json:"history,omitempty"` // back, forward or reload
	URL     string   `json:"url,omitempty"`
	NewTab  bool     `json:"new_tab,omitempty"`

	// Seconds is the wait duration, or the wait_for_selector deadline.
	Seconds float64 `json:"seconds,omitempty"`
}

// Option is one entry of a select control.
type Option struct {
	Index    int    `json:"index"`
	Text     string `json:"text"`
	Value    string `json:"value"`
	Selected bool   `json:"selected"`
}

// Result reports a completed action.
type Result struct {
	Kind    Kind   `json:"kind"`
	Tier    Tier   `json:"tier,omitempty"`
	Message string `json:"message"`

	// NewTargetID is set when a click opened a new browsing target.
	NewTargetID string `json:"new_target_id,omitempty"`

	// StateInvalidated reports that the published DOM state is stale.
	StateInvalidated bool `json:"state_invalidated"`

	Options []Option `json:"options,omitempty"`
	Content string   `json:"content,omitempty"`
	Links   []string `json:"links,omitempty"`
}

// Nudge is one scroll delta tried to uncover an occluded element.
type Nudge struct {
	DX float64 `yaml:"dx" json:"dx"`
	DY float64 `yaml:"dy" json:"dy"`
}

// DefaultNudges are the occlusion nudges used when none are configured.
var DefaultNudges = []Nudge{{0, -50}, {0, 50}, {-50, 0}, {50, 0}}

// Options configures an Executor.
type Options struct {
	SettleDelay     time.Duration // after a click, before target diffing
	TypeDelay       time.Duration // between keystrokes typed into focus
	MaxWait         time.Duration // upper bound for wait
	PollInterval    time.Duration
	TextTimeout     time.Duration // scroll_to_text polling deadline
	SelectorTimeout time.Duration // default wait_for_selector deadline
	Nudges          []Nudge
	Logger          *slog.Logger
}

func (o *Options) defaults() {
	if o.SettleDelay <= 0 {
		o.SettleDelay = 300 * time.Millisecond
	}
	if o.TypeDelay <= 0 {
		o.TypeDelay = 20 * time.Millisecond
	}
	if o.MaxWait <= 0 {
		o.MaxWait = 10 * time.Second
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 100 * time.Millisecond
	}
	if o.TextTimeout <= 0 {
		o.TextTimeout = 2 * time.Second
	}
	if o.SelectorTimeout <= 0 {
		o.SelectorTimeout = 5 * time.Second
	}
	if o.Nudges == nil {
		o.Nudges = DefaultNudges
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Executor runs actions against one session.
type Executor struct {
	sess    cdp.Session
	drv     cdp.Driver
	res     *resolve.Resolver
	content *content.Extractor
	opts    Options
	logger  *slog.Logger
}

// New returns an Executor. drv may be nil, which removes the driver tier.
func New(sess cdp.Session, drv cdp.Driver, opts Options) *Executor {
	opts.defaults()
	return &Executor{
		sess:    sess,
		drv:     drv,
		res:     resolve.New(sess, opts.Logger),
		content: content.New(),
		opts:    opts,
		logger:  opts.Logger,
	}
}

// Resolver exposes the executor's resolver.
func (e *Executor) Resolver() *resolve.Resolver { return e.res }

// Do performs req. state is the latest published DOM state and may be nil
// for actions that address no indexed element.
func (e *Executor) Do(ctx context.Context, state *dom.SerializedDOMState, req Request) (*Result, error) {
	op := string(req.Kind)
	if err := ctx.Err(); err != nil {
		return nil, &dom.Error{Kind: dom.KindTimeout, Op: op, Detail: "cancelled", Err: err}
	}
	if err := e.sess.Alive(ctx); err != nil {
		return nil, dom.StaleSession(op, err)
	}
	var (
		res *Result
		err error
	)
	switch req.Kind {
	case Click:
		res, err = e.click(ctx, state, req)
	case InputText:
		res, err = e.inputText(ctx, state, req)
	case SelectOption:
		res, err = e.selectOption(ctx, state, req)
	case GetDropdownOptions:
		res, err = e.dropdownOptions(ctx, state, req)
	case SetChecked:
		res, err = e.setChecked(ctx, state, req)
	case SetSelectionRange:
		res, err = e.setSelection(ctx, state, req)
	case InsertText:
		res, err = e.insertText(ctx, state, req)
	case Scroll:
		res, err = e.scroll(ctx, state, req)
	case ScrollToText:
		res, err = e.scrollToText(ctx, req)
	case SendKeys:
		res, err = e.sendKeys(ctx, state, req)
	case UploadFile:
		res, err = e.uploadFile(ctx, state, req)
	case NavigateHistory:
		res, err = e.navigateHistory(ctx, req)
	case Navigate:
		res, err = e.navigate(ctx, req)
	case Wait:
		res, err = e.wait(ctx, req)
	case WaitForSelector:
		res, err = e.waitForSelector(ctx, req)
	case ExtractContent:
		res, err = e.extractContent(ctx, state, req)
	default:
		return nil, dom.Unsupported("action", "unknown kind %q", req.Kind)
	}
	if err != nil {
		return nil, err
	}
	res.Kind = req.Kind
	return res, nil
}

// target resolves the request's element.
func (e *Executor) target(ctx context.Context, state *dom.SerializedDOMState, req Request) (*resolve.Target, error) {
	if req.Index > 0 {
		if state == nil {
			return nil, dom.NotFound(string(req.Kind), "index %d: no state has been extracted", req.Index)
		}
		return e.res.Index(ctx, state.Selectors, req.Index)
	}
	if strings.TrimSpace(req.Selector) != "" {
		return e.res.Selector(ctx, req.Selector)
	}
	return nil, dom.NotFound(string(req.Kind), "an index or selector is required")
}

// optionalTarget is target for actions where the element is optional.
func (e *Executor) optionalTarget(ctx context.Context, state *dom.SerializedDOMState, req Request) (*resolve.Target, error) {
	if req.Index <= 0 && strings.TrimSpace(req.Selector) == "" {
		return nil, nil
	}
	return e.target(ctx, state, req)
}

// outcome is what a successful tier reports. An empty Tier means the tier
// that ran.
type outcome struct {
	Tier    Tier
	Message string
}

type tier struct {
	name Tier
	run  func(ctx context.Context) (outcome, error)
}

// chain runs tiers in order and returns the first success. Tiers with a
// nil run are absent and skipped.
func (e *Executor) chain(ctx context.Context, op string, tiers ...tier) (outcome, error) {
	var errs []error
	var last error
	for _, t := range tiers {
		if t.run == nil {
			continue
		}
		if err := ctx.Err(); err != nil {
			return outcome{}, &dom.Error{Kind: dom.KindTimeout, Op: op, Detail: "cancelled", Err: err}
		}
		out, err := t.run(ctx)
		if err == nil {
			if out.Tier == "" {
				out.Tier = t.name
			}
			return out, nil
		}
		e.logger.Debug("action: tier failed", "action", op, "tier", t.name, "error", err)
		errs = append(errs, fmt.Errorf("%s: %w", t.name, err))
		last = err
	}
	if last == nil {
		return outcome{}, dom.Unsupported(op, "no tier available")
	}
	kind := dom.KindOf(last)
	if errors.Is(last, context.DeadlineExceeded) {
		kind = dom.KindTimeout
	}
	e.logger.Warn("action: all tiers failed", "action", op, "error", last)
	return outcome{}, &dom.Error{Kind: kind, Op: op, Detail: "all tiers failed", Err: errors.Join(errs...)}
}

// driverTier returns run unless no driver is configured.
func (e *Executor) driverTier(run func(ctx context.Context) (outcome, error)) tier {
	if e.drv == nil {
		return tier{name: TierDriver}
	}
	return tier{name: TierDriver, run: run}
}

// element obtains a scrolled-into-view driver handle for t.
func (e *Executor) element(ctx context.Context, t *resolve.Target) (cdp.Element, error) {
	el, err := e.drv.Element(ctx, t.Selector(), t.Ref.BackendNodeID)
	if err != nil {
		return nil, err
	}
	if err := el.ScrollIntoView(ctx); err != nil {
		return nil, fmt.Errorf("scroll into view: %w", err)
	}
	return el, nil
}

// call runs an element script on t.
func (e *Executor) call(ctx context.Context, t *resolve.Target, s cdp.Script, args ...any) (cdp.Value, error) {
	return e.sess.CallFunction(ctx, t.Ref.ObjectID, s, args...)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	tm := time.NewTimer(d)
	defer tm.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-tm.C:
		return nil
	}
}

func isFileInput(t *resolve.Target) bool {
	return t.Tag == "input" && strings.EqualFold(t.Attr("type"), "file")
}
