package action

import (
	"testing"

	"github.com/hazyhaar/webpilot/domagent/dom"
	"github.com/hazyhaar/webpilot/domagent/internal/cdp/cdptest"
)

func formPage(value string) *cdptest.Node {
	return cdptest.Page(
		cdptest.El("input", "id", "q", "type", "text", "value", value).At(10, 10, 200, 30),
		cdptest.El("textarea", "id", "notes").At(10, 60, 300, 100),
		cdptest.El("div", "id", "ed", "contenteditable", "true").At(10, 200, 300, 100).Add(cdptest.Text("hello")),
	)
}

func TestInputText_ClearDriver(t *testing.T) {
	h := newHarness(t, formPage("old"), true)
	res := h.must(t, Request{Kind: InputText, Index: h.index(t, "q"), Text: "new", Clear: true})
	if res.Tier != TierDriver {
		t.Errorf("tier: got %q, want %q", res.Tier, TierDriver)
	}
	if got := h.f.ByID("q").Value; got != "new" {
		t.Errorf("value: got %q, want new", got)
	}
}

func TestInputText_ContentEditableProtocol(t *testing.T) {
	h := newHarness(t, formPage(""), false)
	res := h.must(t, Request{Kind: InputText, Index: h.index(t, "ed"), Text: " world"})
	if res.Tier != TierProtocol {
		t.Errorf("tier: got %q, want %q", res.Tier, TierProtocol)
	}
	if got := h.f.ByID("ed").TextContent(); got != "hello world" {
		t.Errorf("content: got %q, want %q", got, "hello world")
	}
}

func TestInputText_ScriptFallback(t *testing.T) {
	h := newHarness(t, formPage("old"), false)
	h.f.Fail("Focus")
	res := h.must(t, Request{Kind: InputText, Index: h.index(t, "q"), Text: "abc"})
	if res.Tier != TierScript {
		t.Errorf("tier: got %q, want %q", res.Tier, TierScript)
	}
	if got := h.f.ByID("q").Value; got != "oldabc" {
		t.Errorf("value: got %q, want oldabc", got)
	}
}

func limitedPage(value string, limit string) *cdptest.Node {
	return cdptest.Page(cdptest.El("input", "id", "q", "type", "text", "value", value, "maxlength", limit).At(10, 10, 200, 30))
}

func TestInputText_AppendsOnceWhenValueReadFallsBack(t *testing.T) {
	h := newHarness(t, formPage("old"), true)
	h.f.Fail("script:readValue")
	res := h.must(t, Request{Kind: InputText, Index: h.index(t, "q"), Text: "abc"})
	if res.Tier != TierDriver {
		t.Errorf("tier: got %q, want %q", res.Tier, TierDriver)
	}
	if got := h.f.ByID("q").Value; got != "oldabc" {
		t.Errorf("value: got %q, want oldabc", got)
	}
}

func TestInputText_UnreadableValueIsNotRetyped(t *testing.T) {
	h := newHarness(t, formPage("old"), false)
	h.f.Fail("script:readValue")
	_, err := h.do(Request{Kind: InputText, Index: h.index(t, "q"), Text: "abc"})
	wantKind(t, err, dom.KindProtocolFailure)
	if got := h.f.ByID("q").Value; got != "old" {
		t.Errorf("value: got %q, want old", got)
	}
	if n := len(h.f.KeyLog); n != 0 {
		t.Errorf("%d key events, want 0", n)
	}
}

func TestInputText_EachTierStartsFromOriginalValue(t *testing.T) {
	for _, driver := range []bool{true, false} {
		h := newHarness(t, limitedPage("old", "5"), driver)
		res := h.must(t, Request{Kind: InputText, Index: h.index(t, "q"), Text: "abc"})
		if res.Tier != TierScript {
			t.Errorf("driver=%v: tier %q, want %q", driver, res.Tier, TierScript)
		}
		if got := h.f.ByID("q").Value; got != "oldabc" {
			t.Errorf("driver=%v: value %q, want oldabc", driver, got)
		}
	}
}

func TestInputText_AppendsAtEndRegardlessOfCaret(t *testing.T) {
	for _, driver := range []bool{true, false} {
		h := newHarness(t, formPage("old"), driver)
		idx := h.index(t, "q")
		h.must(t, Request{Kind: SetSelectionRange, Index: idx, Start: 0, End: 0})
		h.must(t, Request{Kind: InputText, Index: idx, Text: "abc"})
		if got := h.f.ByID("q").Value; got != "oldabc" {
			t.Errorf("driver=%v: value %q, want oldabc", driver, got)
		}
	}
}

func TestInputText_FocusedTierReadsBack(t *testing.T) {
	h := newHarness(t, formPage("old"), false)
	idx := h.index(t, "q")
	h.must(t, Request{Kind: SetSelectionRange, Index: idx, Start: 0, End: 0})
	h.f.Fail("script:readValue")
	res := h.must(t, Request{Kind: InputText, Index: idx, Text: "abc"})
	if res.Tier != TierFocused {
		t.Errorf("tier: got %q, want %q", res.Tier, TierFocused)
	}
	if got := h.f.ByID("q").Value; got != "oldabc" {
		t.Errorf("value: got %q, want oldabc", got)
	}
}

func TestInputText_FocusedTierRejectsShortValue(t *testing.T) {
	h := newHarness(t, limitedPage("old", "4"), false)
	idx := h.index(t, "q")
	h.must(t, Request{Kind: SetSelectionRange, Index: idx, Start: 0, End: 0})
	h.f.Fail("script:readValue")
	_, err := h.do(Request{Kind: InputText, Index: idx, Text: "abc"})
	wantKind(t, err, dom.KindProtocolFailure)
}

func TestInputText_TextareaNewlines(t *testing.T) {
	h := newHarness(t, formPage(""), false)
	h.must(t, Request{Kind: InputText, Index: h.index(t, "notes"), Text: "a\nb"})
	if got := h.f.ByID("notes").Value; got != "a\nb" {
		t.Errorf("value: got %q", got)
	}
}

func TestInputText_RejectsFileInput(t *testing.T) {
	h := newHarness(t, cdptest.Page(cdptest.El("input", "id", "f", "type", "file").At(0, 0, 100, 20)), true)
	_, err := h.do(Request{Kind: InputText, Index: h.index(t, "f"), Text: "x"})
	wantKind(t, err, dom.KindUnsupported)
}

func TestSelectionThenInsert(t *testing.T) {
	cases := []struct {
		name       string
		id         string
		initial    string
		start, end int
		insert     string
		want       string
	}{
		{"input", "q", "hello world", 6, 11, "there", "hello there"},
		{"runes", "q", "héllo", 1, 2, "E", "hEllo"},
		{"contenteditable", "ed", "", 1, 3, "EL", "hELlo"},
	}
	for _, c := range cases {
		for _, driver := range []bool{true, false} {
			h := newHarness(t, formPage(c.initial), driver)
			idx := h.index(t, c.id)
			sel := h.must(t, Request{Kind: SetSelectionRange, Index: idx, Start: c.start, End: c.end})
			if sel.StateInvalidated {
				t.Errorf("%s: selection should not invalidate the state", c.name)
			}
			h.must(t, Request{Kind: InsertText, Index: idx, Text: c.insert})
			n := h.f.ByID(c.id)
			got := n.Value
			if c.id == "ed" {
				got = n.TextContent()
			}
			if got != c.want {
				t.Errorf("%s (driver=%v): got %q, want %q", c.name, driver, got, c.want)
			}
		}
	}
}

func TestSetSelection_ClampsToLength(t *testing.T) {
	h := newHarness(t, formPage("abc"), true)
	res := h.must(t, Request{Kind: SetSelectionRange, Index: h.index(t, "q"), Start: 2, End: 50})
	if res.Message != "selected 2..3 in <input id=q>" {
		t.Errorf("message: got %q", res.Message)
	}
}

func TestSetSelection_InvalidRange(t *testing.T) {
	h := newHarness(t, formPage("abc"), true)
	_, err := h.do(Request{Kind: SetSelectionRange, Index: h.index(t, "q"), Start: 3, End: 1})
	wantKind(t, err, dom.KindUnsupported)
}

func TestInsertText_AtCaretWithoutSelection(t *testing.T) {
	h := newHarness(t, formPage("abc"), false)
	h.must(t, Request{Kind: InsertText, Index: h.index(t, "q"), Text: "d"})
	if got := h.f.ByID("q").Value; got != "abcd" {
		t.Errorf("value: got %q, want abcd", got)
	}
}

func TestInsertText_RetriesFromOriginalSelection(t *testing.T) {
	for _, driver := range []bool{true, false} {
		h := newHarness(t, limitedPage("abcdef", "6"), driver)
		idx := h.index(t, "q")
		h.must(t, Request{Kind: SetSelectionRange, Index: idx, Start: 2, End: 4})
		res := h.must(t, Request{Kind: InsertText, Index: idx, Text: "XYZ"})
		if res.Tier != TierScript {
			t.Errorf("driver=%v: tier %q, want %q", driver, res.Tier, TierScript)
		}
		if got := h.f.ByID("q").Value; got != "abXYZef" {
			t.Errorf("driver=%v: value %q, want abXYZef", driver, got)
		}
	}
}

func TestInsertText_FailureRestoresValue(t *testing.T) {
	h := newHarness(t, limitedPage("abcdef", "6"), true)
	idx := h.index(t, "q")
	h.must(t, Request{Kind: SetSelectionRange, Index: idx, Start: 2, End: 4})
	h.f.Fail("script:insertAtCaret")
	_, err := h.do(Request{Kind: InsertText, Index: idx, Text: "XYZ"})
	wantKind(t, err, dom.KindProtocolFailure)
	if got := h.f.ByID("q").Value; got != "abcdef" {
		t.Errorf("value: got %q, want abcdef", got)
	}
}

func TestSelection_AstralCharacters(t *testing.T) {
	for _, driver := range []bool{true, false} {
		h := newHarness(t, formPage("😀abc"), driver)
		idx := h.index(t, "q")
		sel := h.must(t, Request{Kind: SetSelectionRange, Index: idx, Start: 1, End: 2})
		if sel.Message != "selected 1..2 in <input id=q>" {
			t.Errorf("driver=%v: message %q", driver, sel.Message)
		}
		h.must(t, Request{Kind: InsertText, Index: idx, Text: "X"})
		if got := h.f.ByID("q").Value; got != "😀Xbc" {
			t.Errorf("driver=%v: value %q, want 😀Xbc", driver, got)
		}
	}
}

func TestSendKeys(t *testing.T) {
	for _, driver := range []bool{true, false} {
		h := newHarness(t, formPage(""), driver)
		res := h.must(t, Request{Kind: SendKeys, Index: h.index(t, "q"), Keys: "a b Enter"})
		want := TierProtocol
		if driver {
			want = TierDriver
		}
		if res.Tier != want {
			t.Errorf("driver=%v: tier %q, want %q", driver, res.Tier, want)
		}
		if got := h.f.ByID("q").Value; got != "ab" {
			t.Errorf("driver=%v: value %q, want ab", driver, got)
		}
		if n := len(h.f.KeyLog); n != 6 {
			t.Errorf("driver=%v: %d key events, want 6", driver, n)
		}
	}
}

func TestSendKeys_BadSequence(t *testing.T) {
	h := newHarness(t, formPage(""), true)
	_, err := h.do(Request{Kind: SendKeys, Keys: "Hyper+x"})
	wantKind(t, err, dom.KindUnsupported)
}
