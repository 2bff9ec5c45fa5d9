package action

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hazyhaar/webpilot/domagent/dom"
	"github.com/hazyhaar/webpilot/domagent/internal/cdp"
	"github.com/hazyhaar/webpilot/domagent/internal/content"
)

func (e *Executor) sendKeys(ctx context.Context, state *dom.SerializedDOMState, req Request) (*Result, error) {
	ks, err := cdp.ParseKeys(req.Keys)
	if err != nil {
		return nil, &dom.Error{Kind: dom.KindUnsupported, Op: "send_keys", Detail: "bad key sequence", Err: err}
	}
	t, err := e.optionalTarget(ctx, state, req)
	if err != nil {
		return nil, err
	}
	if t != nil {
		if err := e.sess.Focus(ctx, t.Ref); err != nil {
			e.logger.Debug("action: focus before keys failed", "target", t.Describe(), "error", err)
		}
	}
	msg := fmt.Sprintf("sent %q", req.Keys)
	out, err := e.chain(ctx, "send_keys",
		e.driverTier(func(ctx context.Context) (outcome, error) {
			if err := e.drv.Keys(ctx, ks); err != nil {
				return outcome{}, err
			}
			return outcome{Message: msg}, nil
		}),
		tier{name: TierProtocol, run: func(ctx context.Context) (outcome, error) {
			if err := e.strokes(ctx, ks, 0); err != nil {
				return outcome{}, err
			}
			return outcome{Message: msg}, nil
		}},
		tier{name: TierScript, run: func(ctx context.Context) (outcome, error) {
			if _, err := e.sess.Evaluate(ctx, cdp.ScriptDispatchKeys, scriptStrokes(ks)); err != nil {
				return outcome{}, err
			}
			return outcome{Message: msg}, nil
		}},
	)
	if err != nil {
		return nil, err
	}
	return &Result{Tier: out.Tier, Message: out.Message, StateInvalidated: true}, nil
}

type scriptStroke struct {
	Key   string `json:"key"`
	Code  string `json:"code"`
	Ctrl  bool   `json:"ctrl"`
	Shift bool   `json:"shift"`
	Alt   bool   `json:"alt"`
	Meta  bool   `json:"meta"`
}

func scriptStrokes(ks []cdp.KeyStroke) []scriptStroke {
	out := make([]scriptStroke, len(ks))
	for i, k := range ks {
		out[i] = scriptStroke{
			Key:   k.Key,
			Code:  k.Code,
			Ctrl:  k.Modifiers&cdp.ModCtrl != 0,
			Shift: k.Modifiers&cdp.ModShift != 0,
			Alt:   k.Modifiers&cdp.ModAlt != 0,
			Meta:  k.Modifiers&cdp.ModMeta != 0,
		}
	}
	return out
}

func (e *Executor) uploadFile(ctx context.Context, state *dom.SerializedDOMState, req Request) (*Result, error) {
	if len(req.Files) == 0 {
		return nil, dom.NotFound("upload_file", "no files given")
	}
	files := make([]string, len(req.Files))
	for i, f := range req.Files {
		abs, err := filepath.Abs(f)
		if err != nil {
			return nil, &dom.Error{Kind: dom.KindNotFound, Op: "upload_file", Detail: f, Err: err}
		}
		if _, err := os.Stat(abs); err != nil {
			return nil, &dom.Error{Kind: dom.KindNotFound, Op: "upload_file", Detail: f, Err: err}
		}
		files[i] = abs
	}
	t, err := e.target(ctx, state, req)
	if err != nil {
		return nil, err
	}
	if !isFileInput(t) {
		return nil, dom.Unsupported("upload_file", "%s is not a file input", t.Describe())
	}
	msg := fmt.Sprintf("attached %d file(s) to %s", len(files), t.Describe())
	out, err := e.chain(ctx, "upload_file",
		e.driverTier(func(ctx context.Context) (outcome, error) {
			el, err := e.drv.Element(ctx, t.Selector(), t.Ref.BackendNodeID)
			if err != nil {
				return outcome{}, err
			}
			if err := el.SetFiles(ctx, files); err != nil {
				return outcome{}, err
			}
			return outcome{Message: msg}, nil
		}),
		tier{name: TierProtocol, run: func(ctx context.Context) (outcome, error) {
			if err := e.sess.SetFileInputFiles(ctx, t.Ref, files); err != nil {
				return outcome{}, err
			}
			return outcome{Message: msg}, nil
		}},
	)
	if err != nil {
		return nil, err
	}
	return &Result{Tier: out.Tier, Message: out.Message, StateInvalidated: true}, nil
}

func (e *Executor) navigateHistory(ctx context.Context, req Request) (*Result, error) {
	var (
		drvRun, protoRun func(ctx context.Context) error
		msg              string
	)
	switch strings.ToLower(strings.TrimSpace(req.History)) {
	case "back":
		msg = "went back"
		drvRun = func(ctx context.Context) error { return e.drv.History(ctx, -1) }
		protoRun = func(ctx context.Context) error { return e.sess.NavigateHistory(ctx, -1) }
	case "forward":
		msg = "went forward"
		drvRun = func(ctx context.Context) error { return e.drv.History(ctx, 1) }
		protoRun = func(ctx context.Context) error { return e.sess.NavigateHistory(ctx, 1) }
	case "reload":
		msg = "reloaded"
		drvRun = func(ctx context.Context) error { return e.drv.Reload(ctx) }
		protoRun = e.sess.Reload
	default:
		return nil, dom.Unsupported("navigate_history", "history must be back, forward or reload, got %q", req.History)
	}
	out, err := e.chain(ctx, "navigate_history",
		e.driverTier(func(ctx context.Context) (outcome, error) {
			if err := drvRun(ctx); err != nil {
				return outcome{}, err
			}
			return outcome{Message: msg}, nil
		}),
		tier{name: TierProtocol, run: func(ctx context.Context) (outcome, error) {
			if err := protoRun(ctx); err != nil {
				return outcome{}, err
			}
			return outcome{Message: msg}, nil
		}},
	)
	if err != nil {
		return nil, err
	}
	return &Result{Tier: out.Tier, Message: out.Message, StateInvalidated: true}, nil
}

func (e *Executor) navigate(ctx context.Context, req Request) (*Result, error) {
	u, err := url.Parse(strings.TrimSpace(req.URL))
	if err != nil {
		return nil, &dom.Error{Kind: dom.KindUnsupported, Op: "navigate", Detail: req.URL, Err: err}
	}
	switch u.Scheme {
	case "http", "https", "file", "about", "data":
	default:
		return nil, dom.Unsupported("navigate", "scheme %q is not allowed", u.Scheme)
	}
	target := u.String()
	msg := "navigated to " + target
	out, err := e.chain(ctx, "navigate",
		e.driverTier(func(ctx context.Context) (outcome, error) {
			if err := e.drv.Navigate(ctx, target); err != nil {
				return outcome{}, err
			}
			return outcome{Message: msg}, nil
		}),
		tier{name: TierProtocol, run: func(ctx context.Context) (outcome, error) {
			if err := e.sess.Navigate(ctx, target); err != nil {
				return outcome{}, err
			}
			return outcome{Message: msg}, nil
		}},
	)
	if err != nil {
		return nil, err
	}
	return &Result{Tier: out.Tier, Message: out.Message, StateInvalidated: true}, nil
}

func seconds(s float64) time.Duration {
	if s <= 0 {
		return 0
	}
	return time.Duration(s * float64(time.Second))
}

// wait suspends for the requested duration clamped to MaxWait.
func (e *Executor) wait(ctx context.Context, req Request) (*Result, error) {
	d := min(seconds(req.Seconds), e.opts.MaxWait)
	if err := sleep(ctx, d); err != nil {
		return nil, &dom.Error{Kind: dom.KindTimeout, Op: "wait", Detail: "interrupted", Err: err}
	}
	return &Result{Message: fmt.Sprintf("waited %s", d)}, nil
}

// waitForSelector polls a compound selector until it resolves or the
// deadline passes. The deadline is checked before every attempt. The
// document tree is fetched once and reused across polls.
func (e *Executor) waitForSelector(ctx context.Context, req Request) (*Result, error) {
	sel := strings.TrimSpace(req.Selector)
	if sel == "" {
		return nil, dom.NotFound("wait_for_selector", "empty selector")
	}
	q, err := e.res.Query(sel)
	if err != nil {
		return nil, err
	}
	timeout := e.opts.SelectorTimeout
	if d := seconds(req.Seconds); d > 0 {
		timeout = min(d, e.opts.MaxWait)
	}
	start := time.Now()
	deadline := start.Add(timeout)
	tick := time.NewTicker(e.opts.PollInterval)
	defer tick.Stop()
	var last error
	for !time.Now().After(deadline) {
		t, err := q.Find(ctx)
		if err == nil {
			return &Result{Message: fmt.Sprintf("%q present after %s: %s", sel, time.Since(start).Round(time.Millisecond), t.Describe())}, nil
		}
		last = err
		select {
		case <-ctx.Done():
			return nil, &dom.Error{Kind: dom.KindTimeout, Op: "wait_for_selector", Detail: sel, Err: ctx.Err()}
		case <-tick.C:
		}
	}
	return nil, &dom.Error{Kind: dom.KindTimeout, Op: "wait_for_selector",
		Detail: fmt.Sprintf("%q not present after %s", sel, timeout), Err: last}
}

func (e *Executor) extractContent(ctx context.Context, state *dom.SerializedDOMState, req Request) (*Result, error) {
	t, err := e.optionalTarget(ctx, state, req)
	if err != nil {
		return nil, err
	}
	pageURL := ""
	if v, err := e.sess.Evaluate(ctx, cdp.ScriptPageInfo); err == nil {
		var info struct{ URL string }
		if v.Decode(&info) == nil {
			pageURL = info.URL
		}
	}
	var raw string
	grab := func(v cdp.Value, err error) (outcome, error) {
		if err != nil {
			return outcome{}, err
		}
		raw = v.Str()
		return outcome{}, nil
	}
	var out outcome
	if t != nil {
		out, err = e.chain(ctx, "extract_content",
			e.driverTier(func(ctx context.Context) (outcome, error) {
				el, err := e.drv.Element(ctx, t.Selector(), t.Ref.BackendNodeID)
				if err != nil {
					return outcome{}, err
				}
				return grab(el.Eval(ctx, cdp.ScriptOuterHTML))
			}),
			tier{name: TierScript, run: func(ctx context.Context) (outcome, error) {
				return grab(e.call(ctx, t, cdp.ScriptOuterHTML))
			}},
		)
	} else {
		out, err = e.chain(ctx, "extract_content",
			tier{name: TierScript, run: func(ctx context.Context) (outcome, error) {
				return grab(e.sess.Evaluate(ctx, cdp.ScriptDocumentHTML))
			}},
		)
	}
	if err != nil {
		return nil, err
	}
	md, err := e.content.Markdown(raw, pageURL)
	if err != nil {
		return nil, &dom.Error{Kind: dom.KindProtocolFailure, Op: "extract_content", Detail: "markdown conversion", Err: err}
	}
	links, err := content.Links(raw, pageURL)
	if err != nil {
		e.logger.Debug("action: link extraction failed", "error", err)
	}
	return &Result{
		Tier:    out.Tier,
		Message: fmt.Sprintf("extracted %d characters of markdown and %d links", len(md), len(links)),
		Content: md,
		Links:   links,
	}, nil
}
