package kit

import "context"

type ctxKey int

const (
	transportKey ctxKey = iota
	sessionIDKey
	requestIDKey
	userKey
)

// WithTransport records which surface a call arrived on: "http" or "mcp".
func WithTransport(ctx context.Context, transport string) context.Context {
	return context.WithValue(ctx, transportKey, transport)
}

// GetTransport defaults to "http".
func GetTransport(ctx context.Context) string {
	if v, ok := ctx.Value(transportKey).(string); ok && v != "" {
		return v
	}
	return "http"
}

// WithSessionID records the browser session a call addresses.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionIDKey, id)
}

func GetSessionID(ctx context.Context) string { return str(ctx, sessionIDKey) }

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

func GetRequestID(ctx context.Context) string { return str(ctx, requestIDKey) }

// WithUser records the authenticated HTTP user.
func WithUser(ctx context.Context, user string) context.Context {
	return context.WithValue(ctx, userKey, user)
}

func GetUser(ctx context.Context) string { return str(ctx, userKey) }

// LogAttrs returns the call metadata present in ctx as slog key/value
// pairs. Transport is always included.
func LogAttrs(ctx context.Context) []any {
	attrs := []any{"transport", GetTransport(ctx)}
	for _, kv := range []struct {
		name string
		key  ctxKey
	}{{"session", sessionIDKey}, {"request_id", requestIDKey}, {"user", userKey}} {
		if v := str(ctx, kv.key); v != "" {
			attrs = append(attrs, kv.name, v)
		}
	}
	return attrs
}

func str(ctx context.Context, k ctxKey) string {
	v, _ := ctx.Value(k).(string)
	return v
}
