package stream

import "context"

type actorKey struct{}

// SystemActor is recorded when no caller identity is on the context
const SystemActor = "system"

// WithActor returns a context carrying the identity recorded in audit fields
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFrom returns the identity carried by ctx, or SystemActor
func ActorFrom(ctx context.Context) string {
	if actor, ok := ctx.Value(actorKey{}).(string); ok && actor != "" {
		return actor
	}
	return SystemActor
}
