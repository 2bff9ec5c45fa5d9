package browser

import "testing"

func TestBlockSet(t *testing.T) {
	got := blockSet([]string{"Images", "font", " stylesheets ", "media", ""})
	for _, want := range []string{"image", "font", "stylesheet", "media"} {
		if !got[want] {
			t.Errorf("missing %q in %v", want, got)
		}
	}
	if len(got) != 4 {
		t.Errorf("size: got %d, want 4", len(got))
	}
}

func TestConfigDefaults(t *testing.T) {
	var c Config
	c.defaults()
	if c.CallTimeout <= 0 || c.Logger == nil {
		t.Fatalf("defaults not applied: %+v", c)
	}
}
