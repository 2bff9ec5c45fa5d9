package cdp

import (
	"testing"
)

func TestParseKeys(t *testing.T) {
	ks, err := ParseKeys("Tab Control+a Shift+Enter +")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(ks) != 4 {
		t.Fatalf("got %d strokes, want 4", len(ks))
	}
	if ks[0].Key != "Tab" || ks[0].KeyCode != 9 || ks[0].Text != "" {
		t.Errorf("tab: got %+v", ks[0])
	}
	if ks[1].Key != "a" || ks[1].Code != "KeyA" || ks[1].Modifiers != ModCtrl || ks[1].Text != "" {
		t.Errorf("ctrl+a: got %+v", ks[1])
	}
	if ks[2].Key != "Enter" || ks[2].Modifiers != ModShift || ks[2].Text != "\r" {
		t.Errorf("shift+enter: got %+v", ks[2])
	}
	if ks[3].Key != "+" || ks[3].Text != "+" {
		t.Errorf("plus: got %+v", ks[3])
	}
}

func TestParseKeys_PlusWithModifier(t *testing.T) {
	ks, err := ParseKeys("Shift++")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if ks[0].Key != "+" || ks[0].Modifiers != ModShift {
		t.Errorf("got %+v", ks[0])
	}
}

func TestParseKeys_Errors(t *testing.T) {
	for _, spec := range []string{"", "   ", "Hyper+a", "NotAKey"} {
		if _, err := ParseKeys(spec); err == nil {
			t.Errorf("%q: expected error", spec)
		}
	}
}

func TestKeyStroke_Events(t *testing.T) {
	evs := CharStroke('x').Events()
	if len(evs) != 2 || evs[0].Type != KeyDown || evs[0].Text != "x" || evs[1].Type != KeyUp {
		t.Errorf("char events: got %+v", evs)
	}
	evs = mustParse(t, "Escape")[0].Events()
	if evs[0].Type != KeyRawDown {
		t.Errorf("control key down: got %q, want %q", evs[0].Type, KeyRawDown)
	}
	if nl := CharStroke('\n'); nl.Key != "Enter" || nl.Text != "\r" {
		t.Errorf("newline: got %+v", nl)
	}
}

func mustParse(t *testing.T, spec string) []KeyStroke {
	t.Helper()
	ks, err := ParseKeys(spec)
	if err != nil {
		t.Fatalf("parse %q: %v", spec, err)
	}
	return ks
}

func TestValue_Decoding(t *testing.T) {
	if !ValueOf(true).Bool() || ValueOf("true").Bool() {
		t.Error("bool decoding")
	}
	if got := ValueOf("hi").Str(); got != "hi" {
		t.Errorf("str: got %q", got)
	}
	if got := Value("null").Str(); got != "" {
		t.Errorf("null str: got %q", got)
	}
	var out struct{ A int }
	if err := Value("null").Decode(&out); err == nil {
		t.Error("decoding null should fail")
	}
	if err := ValueOf(map[string]int{"A": 3}).Decode(&out); err != nil || out.A != 3 {
		t.Errorf("decode: got %+v, %v", out, err)
	}
}

func TestCSSString(t *testing.T) {
	if got := CSSString(`a"b\c`); got != `"a\"b\\c"` {
		t.Errorf("got %s", got)
	}
}
