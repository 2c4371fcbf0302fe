package identity

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
)

type claims struct {
	Role      string `json:"role"`
	ProfileID string `json:"profile_id,omitempty"`
	jwt.RegisteredClaims
}

// JWTResolver verifies HS256 tokens issued by the auth subsystem.
type JWTResolver struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewJWTResolver(secret string, ttl time.Duration) *JWTResolver {
	return &JWTResolver{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

func (r *JWTResolver) Resolve(_ context.Context, token string) (Actor, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Actor{}, ErrInvalidToken
	}

	var c claims
	parsed, err := jwt.ParseWithClaims(token, &c, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, fmt.Errorf("unexpected signing method: %s", t.Header["alg"])
		}
		return r.secret, nil
	})
	if err != nil || !parsed.Valid {
		return Actor{}, ErrInvalidToken
	}

	userID, err := uuid.Parse(c.Subject)
	if err != nil {
		return Actor{}, ErrInvalidToken
	}

	role := Role(c.Role)
	if !role.Valid() {
		return Actor{}, ErrInvalidToken
	}

	actor := Actor{UserID: userID, Role: role}
	if role != RoleAdmin {
		profileID, err := uuid.Parse(c.ProfileID)
		if err != nil {
			return Actor{}, ErrInvalidToken
		}
		actor.ProfileID = profileID
	}

	return actor, nil
}

// Issue signs a token for an actor. Only seed and simulation tooling mint
// tokens; production tokens come from the auth subsystem.
func (r *JWTResolver) Issue(a Actor) (string, error) {
	now := r.now()
	c := claims{
		Role: string(a.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   a.UserID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(r.ttl)),
		},
	}
	if a.ProfileID != uuid.Nil {
		c.ProfileID = a.ProfileID.String()
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(r.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}
