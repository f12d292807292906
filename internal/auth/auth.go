package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/saravenpi/alljobs-chat/internal/models"
)

var ErrNoSubject = errors.New("token carries no user id")

// Context is the credential bundle handed to the session on connect. The
// signature is verified by the backend, the client only reads the claims.
type Context struct {
	Token     string
	User      models.User
	ExpiresAt time.Time
}

// Expired reports whether the token has a known expiry in the past.
func (c Context) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && now.After(c.ExpiresAt)
}

// FromToken decodes the viewer identity from a JWT. The user id comes from
// "sub", then "user_id", then "id".
func FromToken(token string) (Context, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return Context{}, fmt.Errorf("failed to parse token: %w", err)
	}

	var uid string
	for _, key := range []string{"sub", "user_id", "id", "_id"} {
		if v, ok := claims[key].(string); ok && v != "" {
			uid = v
			break
		}
	}
	if uid == "" {
		return Context{}, ErrNoSubject
	}

	ctx := Context{Token: token, User: models.User{ID: uid}}
	if name, ok := claims["name"].(string); ok {
		ctx.User.Name = name
	}
	if avatar, ok := claims["avatar"].(string); ok {
		ctx.User.Avatar = avatar
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		ctx.ExpiresAt = exp.Time
	}
	return ctx, nil
}
