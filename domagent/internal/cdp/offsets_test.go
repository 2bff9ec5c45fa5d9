package cdp

import "testing"

func TestUTF16Offsets(t *testing.T) {
	const s = "😀abc"
	cases := []struct{ runes, units int }{
		{0, 0}, {1, 2}, {2, 3}, {4, 5},
	}
	for _, c := range cases {
		if got := UTF16Offset(s, c.runes); got != c.units {
			t.Errorf("UTF16Offset(%d): got %d, want %d", c.runes, got, c.units)
		}
		if got := RuneOffset(s, c.units); got != c.runes {
			t.Errorf("RuneOffset(%d): got %d, want %d", c.units, got, c.runes)
		}
	}
	if got := UTF16Offset(s, 10); got != 5 {
		t.Errorf("past the end: got %d, want 5", got)
	}
	if got := RuneOffset(s, 1); got != 0 {
		t.Errorf("inside a surrogate pair: got %d, want 0", got)
	}
	if got := RuneOffset("héllo", 3); got != 3 {
		t.Errorf("BMP text: got %d, want 3", got)
	}
}
