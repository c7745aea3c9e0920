package auditctx

import (
	"context"
	"strings"
)

// Actor describes who made a request and from where. Handlers attach it to the
// request context so services can stamp audit entries without extra parameters.
type Actor struct {
	UserID    string
	Username  string
	IPAddress string
	UserAgent string
}

type actorContextKey struct{}

// WithActor returns a derived context carrying actor.
func WithActor(ctx context.Context, actor Actor) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// FromContext extracts previously stored actor metadata from the context.
func FromContext(ctx context.Context) (Actor, bool) {
	if ctx == nil {
		return Actor{}, false
	}
	actor, ok := ctx.Value(actorContextKey{}).(Actor)
	return actor, ok
}

// WithUser returns a copy of the actor in ctx with the user identity filled in.
// Used once a login attempt has resolved to an account.
func WithUser(ctx context.Context, userID, username string) context.Context {
	actor, _ := FromContext(ctx)
	if id := strings.TrimSpace(userID); id != "" {
		actor.UserID = id
	}
	if name := strings.TrimSpace(username); name != "" {
		actor.Username = name
	}
	return WithActor(ctx, actor)
}
