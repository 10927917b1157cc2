// Copyright (c) 2026 AuthForge Contributors
//
// This file is part of go-passkey.
//
// go-passkey is licensed under the GNU Affero General Public License v3.0.
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

package ceremony

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rsa"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JWTIssuer issues signed JWTs for users who completed a ceremony.
type JWTIssuer struct {
	privateKey crypto.PrivateKey
	publicKey  crypto.PublicKey
	method     jwt.SigningMethod
	issuer     string
	audience   []string
	expiresIn  time.Duration
	keyID      string
}

// JWTIssuerConfig contains configuration for the JWT issuer.
type JWTIssuerConfig struct {
	// PrivateKey signs tokens (required). ECDSA, Ed25519, and RSA keys are
	// supported; the signing algorithm is derived from the key type.
	PrivateKey crypto.PrivateKey

	// PublicKey verifies tokens. Derived from PrivateKey if not set.
	PublicKey crypto.PublicKey

	// Issuer is the JWT issuer claim (default: "go-passkey").
	Issuer string

	// Audience is the JWT audience claim (default: ["go-passkey"]).
	Audience []string

	// ExpiresIn is how long tokens are valid (default: 1 hour).
	ExpiresIn time.Duration

	// KeyID sets the kid header (optional).
	KeyID string
}

// NewJWTIssuer creates a JWT issuer with the given configuration.
func NewJWTIssuer(config *JWTIssuerConfig) (*JWTIssuer, error) {
	if config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if config.PrivateKey == nil {
		return nil, fmt.Errorf("private key is required")
	}

	method, err := signingMethodFromKey(config.PrivateKey)
	if err != nil {
		return nil, err
	}

	issuer := config.Issuer
	if issuer == "" {
		issuer = "go-passkey"
	}
	audience := config.Audience
	if len(audience) == 0 {
		audience = []string{"go-passkey"}
	}
	expiresIn := config.ExpiresIn
	if expiresIn == 0 {
		expiresIn = time.Hour
	}

	publicKey := config.PublicKey
	if publicKey == nil {
		if pk, ok := config.PrivateKey.(interface{ Public() crypto.PublicKey }); ok {
			publicKey = pk.Public()
		}
	}

	return &JWTIssuer{
		privateKey: config.PrivateKey,
		publicKey:  publicKey,
		method:     method,
		issuer:     issuer,
		audience:   audience,
		expiresIn:  expiresIn,
		keyID:      config.KeyID,
	}, nil
}

// IssueToken creates a JWT for the authenticated identity.
func (g *JWTIssuer) IssueToken(ctx context.Context, identity *UserIdentity) (string, error) {
	now := time.Now()

	claims := jwt.MapClaims{
		"iss":      g.issuer,
		"aud":      g.audience,
		"sub":      base64.RawURLEncoding.EncodeToString(identity.Handle),
		"iat":      now.Unix(),
		"exp":      now.Add(g.expiresIn).Unix(),
		"nbf":      now.Unix(),
		"username": identity.Username,
		"name":     identity.DisplayName,
	}

	token := jwt.NewWithClaims(g.method, claims)
	if g.keyID != "" {
		token.Header["kid"] = g.keyID
	}

	signed, err := token.SignedString(g.privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// VerifyToken verifies a JWT and returns its claims.
func (g *JWTIssuer) VerifyToken(tokenString string) (jwt.MapClaims, error) {
	if g.publicKey == nil {
		return nil, fmt.Errorf("public key not available for verification")
	}

	token, err := jwt.Parse(tokenString,
		func(t *jwt.Token) (interface{}, error) { return g.publicKey, nil },
		jwt.WithValidMethods([]string{g.method.Alg()}),
		jwt.WithIssuer(g.issuer),
		jwt.WithAudience(g.audience[0]),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("token verification failed: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("invalid claims type")
	}
	return claims, nil
}

// PublicKey returns the public key for token verification.
func (g *JWTIssuer) PublicKey() crypto.PublicKey {
	return g.publicKey
}

// signingMethodFromKey derives the JWT signing method from the key type.
func signingMethodFromKey(key crypto.PrivateKey) (jwt.SigningMethod, error) {
	switch k := key.(type) {
	case *ecdsa.PrivateKey:
		switch k.Curve {
		case elliptic.P256():
			return jwt.SigningMethodES256, nil
		case elliptic.P384():
			return jwt.SigningMethodES384, nil
		case elliptic.P521():
			return jwt.SigningMethodES512, nil
		default:
			return nil, fmt.Errorf("unsupported ECDSA curve: %s", k.Curve.Params().Name)
		}
	case ed25519.PrivateKey:
		return jwt.SigningMethodEdDSA, nil
	case *rsa.PrivateKey:
		return jwt.SigningMethodRS256, nil
	default:
		return nil, fmt.Errorf("unsupported private key type: %T", key)
	}
}
