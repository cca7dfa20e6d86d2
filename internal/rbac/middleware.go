package rbac

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/cesta-solidaria/cesta/internal/platform/httpx"
	"github.com/cesta-solidaria/cesta/internal/shared"
)

// Middleware wires actor resolution and role checks for HTTP handlers.
type Middleware struct {
	Logger *slog.Logger
}

// Actor copies the actor headers into the request context. Requests without an actor id
// pass through unchanged and are refused later by RequireAny.
func (m Middleware) Actor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(HeaderActorID))
		if id == "" {
			next.ServeHTTP(w, r)
			return
		}
		actor := shared.Actor{ID: id, Role: NormalizeRole(r.Header.Get(HeaderActorRole))}
		next.ServeHTTP(w, r.WithContext(shared.ContextWithActor(r.Context(), actor)))
	})
}

// RequireAny ensures the current actor holds at least one of the roles.
func (m Middleware) RequireAny(roles ...string) func(http.Handler) http.Handler {
	allowed := normalizeRoles(roles)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := shared.ActorFromContext(r.Context())
			if !ok {
				httpx.RespondError(w, shared.ErrActorMissing, httpx.Rule{
					Err: shared.ErrActorMissing, Status: http.StatusUnauthorized, Code: "ACTOR_REQUIRED",
				})
				return
			}
			if len(allowed) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			if _, ok := allowed[actor.Role]; ok {
				next.ServeHTTP(w, r)
				return
			}
			if m.Logger != nil {
				m.Logger.Warn("rbac denied",
					slog.String("actor_id", actor.ID),
					slog.String("role", actor.Role),
					slog.String("path", r.URL.Path))
			}
			httpx.RespondError(w, httpx.ErrForbidden)
		})
	}
}
