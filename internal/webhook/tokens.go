// Package webhook signs and verifies the bearer tokens that accompany
// direct fallback deliveries between modules. All modules share one
// organization secret; the token binds the sending module (issuer) to the
// receiving module (audience) for a short window.
package webhook

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken  = errors.New("invalid delivery token")
	ErrWrongAudience = errors.New("delivery token for different module")
)

type Claims struct {
	Module string `json:"module"`
	jwt.RegisteredClaims
}

// TokenSigner mints and verifies delivery tokens for one module.
type TokenSigner struct {
	secret []byte
	module string
	ttl    time.Duration
}

func NewTokenSigner(secret, module string, ttl time.Duration) *TokenSigner {
	return &TokenSigner{
		secret: []byte(secret),
		module: module,
		ttl:    ttl,
	}
}

// Sign mints a token for a delivery to targetModule.
func (ts *TokenSigner) Sign(targetModule string) (string, error) {
	now := time.Now()
	claims := Claims{
		Module: ts.module,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ts.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    ts.module,
			Audience:  jwt.ClaimStrings{targetModule},
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(ts.secret)
}

// Verify checks an inbound delivery token and returns the sending module.
// The token must be addressed to this module.
func (ts *TokenSigner) Verify(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return ts.secret, nil
	})
	if err != nil {
		return "", err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return "", ErrInvalidToken
	}

	addressed := false
	for _, aud := range claims.Audience {
		if aud == ts.module {
			addressed = true
			break
		}
	}
	if !addressed {
		return "", ErrWrongAudience
	}

	if claims.Module == "" {
		return "", ErrInvalidToken
	}
	return claims.Module, nil
}
