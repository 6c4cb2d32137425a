package auth

import (
	"fmt"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// JWTSecret returns the configured HS256 secret, or "" when the JWT bearer
// mode is off.
func JWTSecret() string {
	return strings.TrimSpace(os.Getenv("LEDGERFLOW_JWT_SECRET"))
}

// VerifyJWT validates a bearer token against the shared secret and converts
// its claims into key metadata. Expiry is enforced by the parser when an exp
// claim is present.
func VerifyJWT(token, secret string) (KeyMeta, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return KeyMeta{}, fmt.Errorf("parse bearer token: %w", err)
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return KeyMeta{}, fmt.Errorf("unexpected claims type")
	}

	id := "jwt"
	if sub, err := claims.GetSubject(); err == nil && sub != "" {
		id = sub
	}
	scopes := parseScopes(claims["scopes"])
	if len(scopes) == 0 {
		scopes = map[string]bool{ScopeRead: true, ScopeWrite: true}
	}
	var workspaces []string
	if list, ok := claims["workspaces"].([]any); ok {
		for _, w := range list {
			ws := strings.TrimSpace(fmt.Sprintf("%v", w))
			if ws != "" {
				workspaces = append(workspaces, ws)
			}
		}
	}
	return KeyMeta{
		ID:         id,
		Kind:       "jwt",
		Scopes:     sortedScopes(scopes),
		Enabled:    true,
		Workspaces: workspaces,
	}, nil
}
