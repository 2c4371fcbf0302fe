package identity

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

type Role string

const (
	RoleClient Role = "client"
	RoleCoach  Role = "coach"
	RoleAdmin  Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RoleClient, RoleCoach, RoleAdmin:
		return true
	}
	return false
}

var (
	ErrInvalidToken = errors.New("invalid access token")
	ErrNoActor      = errors.New("no actor in context")
)

// Actor is the resolved caller of a request. ProfileID is the client or
// coach record the caller owns; it is uuid.Nil for administrators.
type Actor struct {
	UserID    uuid.UUID
	Role      Role
	ProfileID uuid.UUID
}

func (a Actor) IsClient() bool { return a.Role == RoleClient }
func (a Actor) IsCoach() bool  { return a.Role == RoleCoach }
func (a Actor) IsAdmin() bool  { return a.Role == RoleAdmin }

// Resolver turns a bearer token into an Actor.
type Resolver interface {
	Resolve(ctx context.Context, token string) (Actor, error)
}

type ctxKey struct{}

func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, ctxKey{}, a)
}

func FromContext(ctx context.Context) (Actor, error) {
	a, ok := ctx.Value(ctxKey{}).(Actor)
	if !ok {
		return Actor{}, ErrNoActor
	}
	return a, nil
}
