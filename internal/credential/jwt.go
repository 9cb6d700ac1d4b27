package credential

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"pupitre/access/internal/model"
)

// Claims carries only what the credential proves: the subject. Role and
// school are resolved server-side from the profile store; a role claim
// in a token would be ignored even if present.
type Claims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// JWTValidator verifies RS256 tokens signed by the identity provider.
// maxAge caps the accepted credential lifetime on top of exp: a token
// minted longer ago than the configured session TTL is rejected even if
// its own expiry has not passed.
type JWTValidator struct {
	publicKey *rsa.PublicKey
	issuer    string
	maxAge    time.Duration
}

func NewJWTValidator(publicKeyPEM, issuer string, maxAge time.Duration) (*JWTValidator, error) {
	publicKey, err := ParseRSAPublicKey(publicKeyPEM)
	if err != nil {
		return nil, err
	}
	return &JWTValidator{publicKey: publicKey, issuer: issuer, maxAge: maxAge}, nil
}

func (v *JWTValidator) Validate(_ context.Context, tokenString string) (model.Subject, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
	}
	if v.issuer != "" {
		options = append(options, jwt.WithIssuer(v.issuer))
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return v.publicKey, nil
	}, options...)
	if err != nil {
		return model.Subject{}, model.ErrUnauthenticated
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return model.Subject{}, model.ErrUnauthenticated
	}
	if claims.ExpiresAt == nil {
		return model.Subject{}, model.ErrUnauthenticated
	}
	if v.maxAge > 0 {
		if claims.IssuedAt == nil || time.Since(claims.IssuedAt.Time) > v.maxAge {
			return model.Subject{}, model.ErrUnauthenticated
		}
	}
	return model.Subject{
		ID:        claims.Subject,
		Email:     claims.Email,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

func ParseRSAPublicKey(pemData string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, errors.New("invalid_public_key")
	}
	switch block.Type {
	case "PUBLIC KEY":
		parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		publicKey, ok := parsed.(*rsa.PublicKey)
		if !ok {
			return nil, errors.New("invalid_public_key_type")
		}
		return publicKey, nil
	case "RSA PUBLIC KEY":
		return x509.ParsePKCS1PublicKey(block.Bytes)
	default:
		return nil, errors.New("invalid_public_key")
	}
}
