package server

import (
	"github.com/golang-jwt/jwt/v5"
)

// anonymousUser is the identifier assigned when verified claims carry no
// usable subject.
const anonymousUser = "anon"

// verifyToken validates an HMAC-signed bearer token and returns its
// claims, or nil when the token is missing, malformed, expired, or signed
// with the wrong key or algorithm.
func verifyToken(token, secret, alg string) jwt.MapClaims {
	if token == "" {
		return nil
	}

	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{alg}))
	if err != nil || !parsed.Valid {
		return nil
	}
	return claims
}

// subjectFromClaims derives a stable user identifier from verified claims:
// "sub", then "user_id", then the anonymous fallback.
func subjectFromClaims(claims jwt.MapClaims) string {
	if sub, ok := claims["sub"].(string); ok && sub != "" {
		return sub
	}
	if id, ok := claims["user_id"].(string); ok && id != "" {
		return id
	}
	return anonymousUser
}
