// Package auth implements the API token codec and the key validator
// that gates every request.
package auth

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/HanTheDev/embedding-service/internal/models"
)

// Authentication failures, surfaced to clients as 401 with a stable
// error kind. ErrStoreUnavailable is the exception: the token itself was
// fine but the key could not be resolved, so it maps to 503.
var (
	ErrMalformed        = errors.New("malformed token")
	ErrInvalidSignature = errors.New("invalid token signature")
	ErrExpired          = errors.New("token expired")
	ErrRevoked          = errors.New("api key revoked")
	ErrNotFound         = errors.New("api key not found")
	ErrStoreUnavailable = errors.New("key store unavailable")
)

// Claims is the compact signed token payload. Single-letter claim names
// keep the encoded token short.
type Claims struct {
	KeyID          string      `json:"k"`
	OrganizationID string      `json:"o"`
	Tier           models.Tier `json:"t"`
	MaxTokens      int         `json:"m"`
	MonthlyQuota   int64       `json:"q"`
	jwt.RegisteredClaims
}

// SignToken issues an Ed25519-signed token for the given key.
func SignToken(key *models.APIKeyRecord, maxTokens int, quota int64, ttl time.Duration, priv ed25519.PrivateKey) (string, error) {
	now := time.Now()
	claims := &Claims{
		KeyID:          key.ID.String(),
		OrganizationID: key.OrganizationID.String(),
		Tier:           key.Tier,
		MaxTokens:      maxTokens,
		MonthlyQuota:   quota,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	return token.SignedString(priv)
}

// VerifyToken decodes and verifies a presented token: structure, Ed25519
// signature, then expiry. Identity resolution against the key store is
// the Validator's job, not this function's.
func VerifyToken(tokenString string, pub ed25519.PublicKey) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return pub, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}))

	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return nil, ErrInvalidSignature
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrExpired
	default:
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	if !token.Valid {
		return nil, ErrMalformed
	}
	if _, err := uuid.Parse(claims.KeyID); err != nil {
		return nil, fmt.Errorf("%w: bad key id", ErrMalformed)
	}
	if _, err := uuid.Parse(claims.OrganizationID); err != nil {
		return nil, fmt.Errorf("%w: bad organization id", ErrMalformed)
	}
	return claims, nil
}

// ParseKeyPair decodes hex-encoded Ed25519 key material. The private key
// may be empty when the process only verifies tokens.
func ParseKeyPair(pubHex, privHex string) (ed25519.PublicKey, ed25519.PrivateKey, error) {
	pubBytes, err := hex.DecodeString(pubHex)
	if err != nil || len(pubBytes) != ed25519.PublicKeySize {
		return nil, nil, fmt.Errorf("invalid token public key")
	}

	var priv ed25519.PrivateKey
	if privHex != "" {
		privBytes, err := hex.DecodeString(privHex)
		if err != nil || len(privBytes) != ed25519.PrivateKeySize {
			return nil, nil, fmt.Errorf("invalid token private key")
		}
		priv = ed25519.PrivateKey(privBytes)
	}

	return ed25519.PublicKey(pubBytes), priv, nil
}
