package domagent

import (
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/webpilot/domagent/internal/action"
	"github.com/hazyhaar/webpilot/kit"
)

// RegisterMCP registers the webpilot tools on an MCP server.
func (a *Agent) RegisterMCP(srv *mcp.Server) {
	a.registerOpenTool(srv)
	a.registerSessionsTool(srv)
	a.registerCloseTool(srv)
	a.registerStateTool(srv)
	a.registerActTool(srv)
	a.registerJournalTool(srv)
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

var sessionProp = map[string]any{"type": "string", "description": "Session ID returned by webpilot_open or webpilot_sessions"}

// decodeInto unmarshals tool arguments into a fresh T.
func decodeInto[T any](session func(*T) string) func(*mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
	return func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		r := new(T)
		if len(req.Params.Arguments) > 0 {
			if err := json.Unmarshal(req.Params.Arguments, r); err != nil {
				return nil, err
			}
		}
		res := &kit.MCPDecodeResult{Request: r}
		if session != nil {
			res.EnrichCtx = withSession(session(r))
		}
		return res, nil
	}
}

func (a *Agent) registerOpenTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "webpilot_open",
		Description: "Open a new browser tab at a URL and return its session.",
		InputSchema: inputSchema(map[string]any{
			"url": map[string]any{"type": "string", "description": "Page URL"},
		}, []string{"url"}),
	}
	kit.RegisterMCPTool(srv, tool, a.openEndpoint(), decodeInto[openRequest](nil))
}

func (a *Agent) registerSessionsTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "webpilot_sessions",
		Description: "List open sessions.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}
	kit.RegisterMCPTool(srv, tool, a.sessionsEndpoint(), decodeInto[struct{}](nil))
}

func (a *Agent) registerCloseTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "webpilot_close",
		Description: "Close a session and its tab.",
		InputSchema: inputSchema(map[string]any{"session_id": sessionProp}, []string{"session_id"}),
	}
	kit.RegisterMCPTool(srv, tool, a.closeEndpoint(),
		decodeInto(func(r *sessionRequest) string { return r.SessionID }))
}

func (a *Agent) registerStateTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name: "webpilot_state",
		Description: "Extract the page's interactive elements. Each line is one element; " +
			"[N] marks an actionable index, *[N] an element new since the previous pass, " +
			"|SCROLL| a scrollable container and |IFRAME| an embedded document.",
		InputSchema: inputSchema(map[string]any{
			"session_id": sessionProp,
			"cached":     map[string]any{"type": "boolean", "description": "Return the last published state instead of running a new pass"},
		}, []string{"session_id"}),
	}
	kit.RegisterMCPTool(srv, tool, a.stateEndpoint(),
		decodeInto(func(r *stateRequest) string { return r.SessionID }))
}

func (a *Agent) registerActTool(srv *mcp.Server) {
	kinds := make([]any, len(action.Kinds))
	for i, k := range action.Kinds {
		kinds[i] = string(k)
	}
	str := func(desc string) map[string]any { return map[string]any{"type": "string", "description": desc} }
	strs := func(desc string) map[string]any {
		return map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "description": desc}
	}
	tool := &mcp.Tool{
		Name:        "webpilot_act",
		Description: "Perform one action. Element actions take the index from the latest webpilot_state, or a selector (segments joined by >>> cross shadow roots and iframes).",
		InputSchema: inputSchema(map[string]any{
			"session_id": sessionProp,
			"kind":       map[string]any{"type": "string", "enum": kinds},
			"index":      map[string]any{"type": "integer", "description": "Interactive index"},
			"selector":   str("Compound CSS selector, used when index is absent"),
			"text":       str("Text to type, insert or scroll to"),
			"clear":      map[string]any{"type": "boolean", "description": "input_text: replace the current value"},
			"values":     strs("select_option: option values"),
			"labels":     strs("select_option: option labels"),
			"indices":    map[string]any{"type": "array", "items": map[string]any{"type": "integer"}, "description": "select_option: option positions"},
			"checked":    map[string]any{"type": "boolean", "description": "set_checked: desired state"},
			"start":      map[string]any{"type": "integer", "description": "set_selection_range: start offset"},
			"end":        map[string]any{"type": "integer", "description": "set_selection_range: end offset"},
			"direction":  map[string]any{"type": "string", "enum": []any{"up", "down", "left", "right"}},
			"amount":     map[string]any{"type": "number", "description": "scroll: pixels, 0 for one page"},
			"keys":       str("send_keys: e.g. \"Control+a Backspace\""),
			"files":      strs("upload_file: local paths"),
			"history":    map[string]any{"type": "string", "enum": []any{"back", "forward", "reload"}},
			"url":        str("navigate: destination"),
			"new_tab":    map[string]any{"type": "boolean", "description": "click: open links in a new tab"},
			"seconds":    map[string]any{"type": "number", "description": "wait duration or wait_for_selector deadline"},
		}, []string{"session_id", "kind"}),
	}
	kit.RegisterMCPTool(srv, tool, a.actEndpoint(),
		decodeInto(func(r *actRequest) string { return r.SessionID }))
}

func (a *Agent) registerJournalTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "webpilot_journal",
		Description: "List recently performed actions, newest first.",
		InputSchema: inputSchema(map[string]any{
			"session_id": sessionProp,
			"limit":      map[string]any{"type": "integer", "description": "Max entries (default 50)"},
		}, nil),
	}
	kit.RegisterMCPTool(srv, tool, a.journalEndpoint(),
		decodeInto(func(r *journalRequest) string { return r.SessionID }))
}
