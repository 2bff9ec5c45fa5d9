package idgen

import (
	"strings"
	"testing"
)

func TestUUIDv7_Format(t *testing.T) {
	id := UUIDv7()()
	if len(id) != 36 || strings.Count(id, "-") != 4 {
		t.Fatalf("UUIDv7: got %q", id)
	}
	if id[14] != '7' {
		t.Errorf("version nibble: got %q, want 7", id[14])
	}
}

func TestUUIDv7_Sortable(t *testing.T) {
	gen := UUIDv7()
	prev := gen()
	for i := 0; i < 200; i++ {
		id := gen()
		if id <= prev {
			t.Fatalf("iteration %d: %q not after %q", i, id, prev)
		}
		prev = id
	}
}

func TestPrefixed(t *testing.T) {
	for _, c := range []struct {
		gen    Generator
		prefix string
	}{
		{Session, "ses_"},
		{Pass, "pass_"},
		{Entry, "act_"},
	} {
		id := c.gen()
		if !strings.HasPrefix(id, c.prefix) {
			t.Errorf("got %q, want prefix %q", id, c.prefix)
		}
		if _, err := Parse(id); err != nil {
			t.Errorf("Parse(%q): %v", id, err)
		}
	}
}

func TestParse_Invalid(t *testing.T) {
	for _, id := range []string{"", "ses_", "ses_nope", "not-a-uuid"} {
		if _, err := Parse(id); err == nil {
			t.Errorf("Parse(%q): expected error", id)
		}
	}
}
