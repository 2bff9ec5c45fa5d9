package cdp

import (
	"fmt"
	"runtime"
	"strings"
	"unicode/utf8"
)

// KeyStroke is one key press with held modifiers.
type KeyStroke struct {
	Key       string // DOM key value, e.g. "Enter", "a"
	Code      string // DOM code value, e.g. "Enter", "KeyA"
	Text      string // text the key produces, empty for control keys
	KeyCode   int    // windowsVirtualKeyCode
	Modifiers int    // Mod* bits
}

type keyDef struct {
	key, code, text string
	keyCode         int
}

var namedKeys = map[string]keyDef{
	"enter":      {"Enter", "Enter", "\r", 13},
	"tab":        {"Tab", "Tab", "", 9},
	"escape":     {"Escape", "Escape", "", 27},
	"esc":        {"Escape", "Escape", "", 27},
	"backspace":  {"Backspace", "Backspace", "", 8},
	"delete":     {"Delete", "Delete", "", 46},
	"space":      {" ", "Space", " ", 32},
	"arrowup":    {"ArrowUp", "ArrowUp", "", 38},
	"arrowdown":  {"ArrowDown", "ArrowDown", "", 40},
	"arrowleft":  {"ArrowLeft", "ArrowLeft", "", 37},
	"arrowright": {"ArrowRight", "ArrowRight", "", 39},
	"home":       {"Home", "Home", "", 36},
	"end":        {"End", "End", "", 35},
	"pageup":     {"PageUp", "PageUp", "", 33},
	"pagedown":   {"PageDown", "PageDown", "", 34},
}

// PlatformModifier is the modifier that opens links in a new tab.
func PlatformModifier() int {
	if runtime.GOOS == "darwin" {
		return ModMeta
	}
	return ModCtrl
}

func modifierBit(name string) (int, bool) {
	switch strings.ToLower(name) {
	case "control", "ctrl":
		return ModCtrl, true
	case "shift":
		return ModShift, true
	case "alt", "option":
		return ModAlt, true
	case "meta", "cmd", "command":
		return ModMeta, true
	case "controlormeta":
		return PlatformModifier(), true
	}
	return 0, false
}

// ParseKeys parses whitespace-separated strokes such as "Tab Control+a Enter".
func ParseKeys(spec string) ([]KeyStroke, error) {
	fields := strings.Fields(spec)
	if len(fields) == 0 {
		return nil, fmt.Errorf("cdp: empty key sequence")
	}
	out := make([]KeyStroke, 0, len(fields))
	for _, f := range fields {
		ks, err := parseStroke(f)
		if err != nil {
			return nil, err
		}
		out = append(out, ks)
	}
	return out, nil
}

func parseStroke(s string) (KeyStroke, error) {
	parts := []string{s}
	if s != "+" {
		parts = strings.Split(s, "+")
		if strings.HasSuffix(s, "++") {
			parts = append(strings.Split(strings.TrimSuffix(s, "++"), "+"), "+")
		}
	}
	var ks KeyStroke
	for _, m := range parts[:len(parts)-1] {
		bit, ok := modifierBit(m)
		if !ok {
			return KeyStroke{}, fmt.Errorf("cdp: unknown modifier %q", m)
		}
		ks.Modifiers |= bit
	}
	name := parts[len(parts)-1]
	if def, ok := namedKeys[strings.ToLower(name)]; ok {
		ks.Key, ks.Code, ks.Text, ks.KeyCode = def.key, def.code, def.text, def.keyCode
		return ks, nil
	}
	if utf8.RuneCountInString(name) != 1 {
		return KeyStroke{}, fmt.Errorf("cdp: unknown key %q", name)
	}
	r, _ := utf8.DecodeRuneInString(name)
	ks.Key, ks.Text = name, name
	switch {
	case r >= 'a' && r <= 'z':
		ks.Code, ks.KeyCode = "Key"+strings.ToUpper(name), int(r-'a'+'A')
	case r >= 'A' && r <= 'Z':
		ks.Code, ks.KeyCode = "Key"+name, int(r)
	case r >= '0' && r <= '9':
		ks.Code, ks.KeyCode = "Digit"+name, int(r)
	}
	if ks.Modifiers&(ModCtrl|ModMeta|ModAlt) != 0 {
		ks.Text = ""
	}
	return ks, nil
}

// CharStroke returns the stroke that types a single rune.
func CharStroke(r rune) KeyStroke {
	if r == '\n' {
		return KeyStroke{Key: "Enter", Code: "Enter", Text: "\r", KeyCode: 13}
	}
	ks, err := parseStroke(string(r))
	if err != nil {
		return KeyStroke{Key: string(r), Text: string(r)}
	}
	return ks
}

// Events expands a stroke into the Input.dispatchKeyEvent sequence.
func (ks KeyStroke) Events() []KeyEvent {
	down := KeyEvent{Type: KeyDown, Key: ks.Key, Code: ks.Code, Text: ks.Text, KeyCode: ks.KeyCode, Modifiers: ks.Modifiers}
	if ks.Text == "" {
		down.Type = KeyRawDown
	}
	up := KeyEvent{Type: KeyUp, Key: ks.Key, Code: ks.Code, KeyCode: ks.KeyCode, Modifiers: ks.Modifiers}
	return []KeyEvent{down, up}
}
