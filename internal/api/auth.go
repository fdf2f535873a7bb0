package api

import (
	"context"
	"net/http"

	"supportdesk/internal/config"
	"supportdesk/internal/websocket"
	"supportdesk/pkg/types"
)

// UserDirectory resolves bearer tokens to the users seeded from configuration.
type UserDirectory struct {
	byToken map[string]types.Actor
	actors  []types.Actor
}

// NewUserDirectory indexes the configured users by token.
func NewUserDirectory(users []config.UserConfig) *UserDirectory {
	d := &UserDirectory{byToken: make(map[string]types.Actor, len(users))}
	for _, u := range users {
		actor := types.Actor{ID: u.ID, FullName: u.FullName, Role: u.Role}
		d.byToken[u.Token] = actor
		d.actors = append(d.actors, actor)
	}
	return d
}

// Authenticate implements websocket.Authenticator.
func (d *UserDirectory) Authenticate(token string) (types.Actor, bool) {
	actor, ok := d.byToken[token]
	return actor, ok
}

// Actors returns every known user.
func (d *UserDirectory) Actors() []types.Actor {
	return append([]types.Actor(nil), d.actors...)
}

type actorKey struct{}

// WithActor stores the authenticated caller in ctx.
func WithActor(ctx context.Context, actor types.Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFromContext returns the caller stored by the auth middleware.
func ActorFromContext(ctx context.Context) (types.Actor, bool) {
	actor, ok := ctx.Value(actorKey{}).(types.Actor)
	return actor, ok
}

// authMiddleware rejects requests without a known bearer token
// ARCHITECTURAL DISCOVERY: Token parsing is shared with the WebSocket endpoint so both
// transports accept the same credentials
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := websocket.BearerToken(r)
		if err != nil {
			s.sendError(w, r, http.StatusUnauthorized, err.Error())
			return
		}
		actor, ok := s.users.Authenticate(token)
		if !ok {
			s.sendError(w, r, http.StatusUnauthorized, websocket.ErrInvalidToken.Error())
			return
		}
		next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
	})
}
