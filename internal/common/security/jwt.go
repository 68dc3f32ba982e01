package security

import (
	"errors"
	"time"

	"github.com/go-chi/jwtauth/v5"
	"github.com/golang-jwt/jwt/v5"
)

// TokenAuth wraps the JWT verifier handle. The identity provider itself is
// external; this side only verifies bearer tokens and reads the user_id and
// role claims.
type TokenAuth struct {
	auth *jwtauth.JWTAuth
	exp  time.Duration
}

func NewTokenAuth(key []byte, exp time.Duration) *TokenAuth {
	return &TokenAuth{
		auth: jwtauth.New("HS256", key, nil),
		exp:  exp,
	}
}

// JWTAuth exposes the underlying verifier for jwtauth.Verifier middleware.
func (t *TokenAuth) JWTAuth() *jwtauth.JWTAuth {
	return t.auth
}

// GenerateToken mints a token carrying user_id and role claims. Used for
// service-to-service calls and integration testing; end users get their
// tokens from the external identity service.
func (t *TokenAuth) GenerateToken(userID, role string) (string, error) {
	claims := jwt.MapClaims{
		"user_id": userID,
		"role":    role,
		"exp":     time.Now().Add(t.exp).Unix(),
		"iat":     time.Now().Unix(),
	}
	_, tokenString, err := t.auth.Encode(claims)
	return tokenString, err
}

func GetUserIDFromClaims(claims map[string]interface{}) (string, error) {
	id, ok := claims["user_id"].(string)
	if !ok {
		return "", errors.New("user_id claim is missing or not a string")
	}
	return id, nil
}

func GetUserRoleFromClaims(claims map[string]interface{}) (string, error) {
	role, ok := claims["role"].(string)
	if !ok {
		return "", errors.New("role claim is missing or not a string")
	}
	return role, nil
}
