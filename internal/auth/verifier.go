package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken covers every verification failure: bad signature, expired,
// malformed, or missing required claims. Callers map it to 403.
var ErrInvalidToken = errors.New("invalid bearer token")

// Identity is the caller extracted from a verified token.
type Identity struct {
	UserID string
	Name   string
}

// Verifier validates bearer tokens issued by the auth collaborator. Only the
// signature and claims are checked here; issuing tokens is out of scope.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

type tokenClaims struct {
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// Verify checks the token signature and registered claims and returns the
// caller identity. Tokens must be HS256-signed, carry an expiry, and name a
// subject.
func (v *Verifier) Verify(tokenString string) (*Identity, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &tokenClaims{}, v.keyFunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := parsed.Claims.(*tokenClaims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}

	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing sub claim", ErrInvalidToken)
	}

	return &Identity{UserID: claims.Subject, Name: claims.Name}, nil
}

func (v *Verifier) keyFunc(_ *jwt.Token) (interface{}, error) {
	return v.secret, nil
}

type identityKey struct{}

// WithIdentity stores a verified identity in the request context.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext retrieves the verified caller, if any.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(*Identity)
	return id, ok
}
