// Package requestcontext provides HTTP-independent context accessors for
// request-scoped values. Middleware sets them, services read them, tests
// inject them, and none of it drags net/http into the domain packages.
package requestcontext

import "context"

// Context key types (unexported for encapsulation).
type (
	requestIDKey struct{}
	actorKey     struct{}
)

// WithRequestID attaches a request ID for log correlation.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID returns the request ID, or "" when none was set.
func RequestID(ctx context.Context) string {
	v, _ := ctx.Value(requestIDKey{}).(string)
	return v
}

// WithActor attaches the identity behind an authenticated mutation. Audit
// entries record it as the acting user.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// Actor returns the authenticated actor, or "" for anonymous requests.
func Actor(ctx context.Context) string {
	v, _ := ctx.Value(actorKey{}).(string)
	return v
}
