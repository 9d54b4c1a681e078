package httpserver

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// PromoteScope must appear in the token's scope or roles claim.
const PromoteScope = "release:promote"

// TokenVerifier checks HS256 bearer tokens.
type TokenVerifier struct {
	secret []byte
	scope  string
}

func NewTokenVerifier(secret, scope string) (*TokenVerifier, error) {
	if secret == "" {
		return nil, errors.New("jwt secret required")
	}
	if scope == "" {
		scope = PromoteScope
	}
	return &TokenVerifier{secret: []byte(secret), scope: scope}, nil
}

// VerifyRequest returns the token subject when the request carries a valid
// token with the required scope.
func (v *TokenVerifier) VerifyRequest(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", errors.New("bearer token required")
	}
	token, err := jwt.Parse(strings.TrimPrefix(authHeader, "Bearer "), func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return "", fmt.Errorf("token parse error: %w", err)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", errors.New("invalid claims")
	}
	if !hasScope(claims, v.scope) {
		return "", errors.New("missing required scope")
	}
	sub, _ := claims.GetSubject()
	return sub, nil
}

func hasScope(claims jwt.MapClaims, want string) bool {
	if scope, ok := claims["scope"].(string); ok {
		for _, s := range strings.Fields(scope) {
			if s == want {
				return true
			}
		}
	}
	if roles, ok := claims["roles"].([]interface{}); ok {
		for _, r := range roles {
			if s, ok := r.(string); ok && s == want {
				return true
			}
		}
	}
	return false
}
