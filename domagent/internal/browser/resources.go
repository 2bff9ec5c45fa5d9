package browser

import (
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// blockResources fails requests whose resource type is listed in types.
func blockResources(page *rod.Page, types []string) *rod.HijackRouter {
	blocked := blockSet(types)
	router := page.HijackRequests()
	router.MustAdd("*", func(h *rod.Hijack) {
		if blocked[strings.ToLower(string(h.Request.Type()))] {
			h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		h.ContinueRequest(&proto.FetchContinueRequest{})
	})
	go router.Run()
	return router
}

// blockSet normalizes configured names to protocol resource types.
func blockSet(types []string) map[string]bool {
	set := make(map[string]bool, len(types))
	for _, t := range types {
		t = strings.ToLower(strings.TrimSpace(t))
		switch t {
		case "images":
			t = "image"
		case "fonts":
			t = "font"
		case "stylesheets", "css":
			t = "stylesheet"
		}
		if t != "" {
			set[t] = true
		}
	}
	return set
}
