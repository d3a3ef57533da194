package logger

import "context"

// Context keys are unexported struct types so no other package can
// collide with them.
type (
	traceIDKey   struct{}
	sessionIDKey struct{}
)

// WithTraceID attaches a request trace id; FromContext emits it on
// every record.
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceIDKey{}, id)
}

func GetTraceID(ctx context.Context) string {
	id, _ := ctx.Value(traceIDKey{}).(string)
	return id
}

// WithSessionID attaches the conversation session id.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionIDKey{}, id)
}

func GetSessionID(ctx context.Context) string {
	id, _ := ctx.Value(sessionIDKey{}).(string)
	return id
}
