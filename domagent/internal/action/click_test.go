package action

import (
	"errors"
	"strings"
	"testing"

	"github.com/hazyhaar/webpilot/domagent/dom"
	"github.com/hazyhaar/webpilot/domagent/internal/cdp"
	"github.com/hazyhaar/webpilot/domagent/internal/cdp/cdptest"
)

func buttonPage() *cdptest.Node {
	return cdptest.Page(cdptest.El("button", "id", "go").At(10, 10, 100, 30).Add(cdptest.Text("Go!")))
}

func TestClick_DriverTier(t *testing.T) {
	h := newHarness(t, buttonPage(), true)
	res := h.must(t, Request{Kind: Click, Index: h.index(t, "go")})
	if res.Tier != TierDriver {
		t.Errorf("tier: got %q, want %q", res.Tier, TierDriver)
	}
	if !res.StateInvalidated {
		t.Error("click should invalidate the state")
	}
	if got := h.f.ByID("go").Clicks; got != 1 {
		t.Errorf("clicks: got %d, want 1", got)
	}
}

func TestClick_ProtocolTierWithoutDriver(t *testing.T) {
	h := newHarness(t, buttonPage(), false)
	res := h.must(t, Request{Kind: Click, Index: h.index(t, "go")})
	if res.Tier != TierProtocol {
		t.Errorf("tier: got %q, want %q", res.Tier, TierProtocol)
	}
	if got := h.f.ByID("go").Clicks; got != 1 {
		t.Errorf("clicks: got %d, want 1", got)
	}
}

func TestClick_BySelector(t *testing.T) {
	h := newHarness(t, buttonPage(), true)
	h.must(t, Request{Kind: Click, Selector: "button#go"})
	if got := h.f.ByID("go").Clicks; got != 1 {
		t.Errorf("clicks: got %d, want 1", got)
	}
}

func TestClick_NudgeClearsOverlay(t *testing.T) {
	doc := cdptest.Page(cdptest.El("button", "id", "go").At(10, 120, 100, 30).Add(cdptest.Text("Go!")))
	h := newHarness(t, doc, true, func(o *Options) { o.Nudges = []Nudge{{DY: -100}} })
	banner := cdptest.El("div", "id", "banner").At(0, 0, 1280, 60)
	h.f.AddOverlay(banner)
	h.f.ScrollY = 100

	res := h.must(t, Request{Kind: Click, Index: h.index(t, "go")})
	if res.Tier != TierDriver {
		t.Errorf("tier: got %q, want %q", res.Tier, TierDriver)
	}
	if got := h.f.ByID("go").Clicks; got != 1 {
		t.Errorf("button clicks: got %d, want 1", got)
	}
	if banner.Clicks != 0 {
		t.Errorf("overlay clicks: got %d, want 0", banner.Clicks)
	}
	if h.f.ScrollY != 0 {
		t.Errorf("scroll: got %v, want 0 after nudge", h.f.ScrollY)
	}
}

func TestClick_OccludedForcesScript(t *testing.T) {
	h := newHarness(t, buttonPage(), true)
	modal := cdptest.El("div", "id", "modal").At(0, 0, 1280, 800)
	h.f.AddOverlay(modal)

	res := h.must(t, Request{Kind: Click, Index: h.index(t, "go")})
	if res.Tier != TierScript {
		t.Errorf("tier: got %q, want %q", res.Tier, TierScript)
	}
	if !strings.Contains(res.Message, "occluded") {
		t.Errorf("message: got %q", res.Message)
	}
	if got := h.f.ByID("go").Clicks; got != 1 {
		t.Errorf("button clicks: got %d, want 1", got)
	}
	if modal.Clicks != 0 {
		t.Errorf("overlay clicks: got %d, want 0", modal.Clicks)
	}
	if h.f.ScrollX != 0 || h.f.ScrollY != 0 {
		t.Errorf("scroll: got (%v, %v), want nudges undone", h.f.ScrollX, h.f.ScrollY)
	}
}

func TestClick_OccludedForcesScriptWithoutDriver(t *testing.T) {
	h := newHarness(t, buttonPage(), false)
	modal := cdptest.El("div", "id", "modal").At(0, 0, 1280, 800)
	h.f.AddOverlay(modal)

	res := h.must(t, Request{Kind: Click, Index: h.index(t, "go")})
	if res.Tier != TierScript {
		t.Errorf("tier: got %q, want %q", res.Tier, TierScript)
	}
	if got := h.f.ByID("go").Clicks; got != 1 {
		t.Errorf("button clicks: got %d, want 1", got)
	}
	if modal.Clicks != 0 {
		t.Errorf("overlay clicks: got %d, want 0", modal.Clicks)
	}
	if h.f.ScrollY != 0 {
		t.Errorf("scroll: got %v, want 0", h.f.ScrollY)
	}
}

func TestClick_NudgeOffScreenIsNotCleared(t *testing.T) {
	h := newHarness(t, buttonPage(), false, func(o *Options) { o.Nudges = []Nudge{{DY: 50}} })
	banner := cdptest.El("div", "id", "banner").At(0, 0, 1280, 60)
	h.f.AddOverlay(banner)

	res := h.must(t, Request{Kind: Click, Index: h.index(t, "go")})
	if res.Tier != TierScript {
		t.Errorf("tier: got %q, want %q", res.Tier, TierScript)
	}
	if banner.Clicks != 0 {
		t.Errorf("overlay clicks: got %d, want 0", banner.Clicks)
	}
	if got := h.f.ByID("go").Clicks; got != 1 {
		t.Errorf("button clicks: got %d, want 1", got)
	}
	if h.f.ScrollY != 0 {
		t.Errorf("scroll: got %v, want 0 after restoring the nudge", h.f.ScrollY)
	}
}

func TestClick_NewTarget(t *testing.T) {
	h := newHarness(t, buttonPage(), true)
	var mods int
	h.f.OnActivate = func(f *cdptest.Fake, n *cdptest.Node, modifiers int) {
		if n.Attrs["id"] == "go" {
			mods = modifiers
			f.OpenTarget("TARGET-2", "https://example.test/popup")
		}
	}
	res := h.must(t, Request{Kind: Click, Index: h.index(t, "go"), NewTab: true})
	if res.NewTargetID != "TARGET-2" {
		t.Errorf("new target: got %q, want TARGET-2", res.NewTargetID)
	}
	if mods != cdp.PlatformModifier() {
		t.Errorf("modifiers: got %d, want %d", mods, cdp.PlatformModifier())
	}
}

func TestClick_AllTiersFail(t *testing.T) {
	h := newHarness(t, buttonPage(), true)
	h.f.FailInteractions()
	_, err := h.do(Request{Kind: Click, Index: h.index(t, "go")})
	wantKind(t, err, dom.KindProtocolFailure)
	if !errors.Is(err, cdptest.ErrInjected) {
		t.Errorf("tier causes should be joined: %v", err)
	}
	if got := h.f.ByID("go").Clicks; got != 0 {
		t.Errorf("clicks: got %d, want 0", got)
	}
}

func TestClick_RejectsSelectAndFile(t *testing.T) {
	h := newHarness(t, cdptest.Page(
		cdptest.El("select", "id", "s").At(0, 0, 100, 20).Add(cdptest.El("option", "value", "a")),
		cdptest.El("input", "id", "f", "type", "file").At(0, 40, 100, 20),
	), true)
	for _, id := range []string{"s", "f"} {
		_, err := h.do(Request{Kind: Click, Index: h.index(t, id)})
		wantKind(t, err, dom.KindUnsupported)
	}
}

func TestClick_StaleIndex(t *testing.T) {
	h := newHarness(t, buttonPage(), true)
	_, err := h.do(Request{Kind: Click, Index: 99})
	wantKind(t, err, dom.KindNotFound)
}

func TestNewTarget(t *testing.T) {
	if got := newTarget([]string{"a"}, []string{"a", "b"}); got != "b" {
		t.Errorf("got %q, want b", got)
	}
	if got := newTarget(nil, []string{"a"}); got != "" {
		t.Errorf("unknown before list: got %q", got)
	}
	if got := newTarget([]string{"a", "b"}, []string{"b"}); got != "" {
		t.Errorf("closed tab: got %q", got)
	}
}
