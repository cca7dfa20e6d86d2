package shared

import "context"

// Actor identifies the staff member behind a request, as asserted by the upstream auth proxy.
type Actor struct {
	ID   string
	Role string
}

type actorContextKey struct{}

// ContextWithActor stores the actor in context.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the actor from context.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(Actor)
	return actor, ok && actor.ID != ""
}

// ActorID returns the actor id stored in context or an empty string.
func ActorID(ctx context.Context) string {
	actor, _ := ActorFromContext(ctx)
	return actor.ID
}
