package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgrijalva/jwt-go"
	"github.com/rs/zerolog"
)

// Verification failures. None of these reach API callers directly: the auth
// middleware collapses them into one generic unauthorized response and only
// logs the specific kind.
var (
	ErrMalformedToken      = errors.New("malformed_token")
	ErrExpiredToken        = errors.New("expired_token")
	ErrInvalidSignature    = errors.New("invalid_signature")
	ErrInvalidAudience     = errors.New("invalid_audience")
	ErrUnexpectedAlgorithm = errors.New("unexpected_signing_algorithm")
)

// TokenVerifier validates bearer credentials against the remote key set.
// Signing algorithm and audience are fixed by configuration; a credential
// asserting any other algorithm is rejected before signature verification.
type TokenVerifier struct {
	keys     *KeySetCache
	audience string
	logger   zerolog.Logger
}

// NewTokenVerifier creates a TokenVerifier bound to a key set cache and the
// expected audience.
func NewTokenVerifier(keys *KeySetCache, audience string, logger zerolog.Logger) *TokenVerifier {
	return &TokenVerifier{
		keys:     keys,
		audience: audience,
		logger:   logger.With().Str("component", "TokenVerifier").Logger(),
	}
}

// Verify checks the credential's signature, algorithm, expiry and audience
// and returns its claims. Aside from the key cache lookup it has no side
// effects.
func (v *TokenVerifier) Verify(ctx context.Context, tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok || t.Method.Alg() != jwt.SigningMethodRS256.Alg() {
			return nil, fmt.Errorf("%w: %s", ErrUnexpectedAlgorithm, t.Method.Alg())
		}
		kid, ok := t.Header["kid"].(string)
		if !ok || kid == "" {
			return nil, fmt.Errorf("%w: missing kid header", ErrMalformedToken)
		}
		return v.keys.GetOrFetch(ctx, kid)
	})
	if err != nil {
		return nil, v.mapError(err)
	}
	if !token.Valid {
		return nil, ErrInvalidSignature
	}
	if !claims.VerifyAudience(v.audience, true) {
		return nil, ErrInvalidAudience
	}
	return claims, nil
}

// mapError folds jwt library errors onto the package sentinels so callers can
// branch without importing the library.
func (v *TokenVerifier) mapError(err error) error {
	var ve *jwt.ValidationError
	if !errors.As(err, &ve) {
		return fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	if ve.Inner != nil {
		switch {
		case errors.Is(ve.Inner, ErrUnknownSigningKey),
			errors.Is(ve.Inner, ErrMalformedToken),
			errors.Is(ve.Inner, ErrUnexpectedAlgorithm):
			return ve.Inner
		}
	}
	switch {
	case ve.Errors&jwt.ValidationErrorExpired != 0:
		return ErrExpiredToken
	case ve.Errors&jwt.ValidationErrorSignatureInvalid != 0:
		return ErrInvalidSignature
	case ve.Errors&jwt.ValidationErrorMalformed != 0:
		return ErrMalformedToken
	}
	if ve.Inner != nil {
		return fmt.Errorf("verify token: %w", ve.Inner)
	}
	return fmt.Errorf("%w: %v", ErrMalformedToken, err)
}
