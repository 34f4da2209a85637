// Package auth is the boundary to the identity collaborator. Token
// issuance happens elsewhere; this core only verifies the identity a
// connection presents at handshake time and rejects it before registry
// admission when verification fails.
package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Logan27/1000-messenger-sub002/errors"
)

// CustomClaims defines the structure of the data stored inside the JWT.
type CustomClaims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

type Verifier struct {
	key []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{key: []byte(secret)}
}

// Verify parses and validates the signature and expiration of a token
// string, returning the verified user identity.
func (v *Verifier) Verify(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &CustomClaims{}, func(token *jwt.Token) (interface{}, error) {
		return v.key, nil
	})
	if err != nil {
		return "", errors.ErrUnauthorized
	}
	claims, ok := token.Claims.(*CustomClaims)
	if !ok || !token.Valid || claims.UserID == "" {
		return "", errors.ErrUnauthorized
	}
	return claims.UserID, nil
}

// Issue creates a signed token for a user. The serving path never calls
// this; it exists for tests and local tooling.
func (v *Verifier) Issue(userID string, lifetime time.Duration) (string, error) {
	claims := &CustomClaims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(lifetime)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "messenger-core",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.key)
}
