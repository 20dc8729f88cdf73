package auth

import (
	"context"
	"crypto/ed25519"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"github.com/HanTheDev/embedding-service/internal/models"
)

// KeyStore is the authoritative source of API key records. A missing key
// is (nil, nil), not an error.
type KeyStore interface {
	GetAPIKey(ctx context.Context, id uuid.UUID) (*models.APIKeyRecord, error)
}

// Validator resolves presented tokens to identities. Signature and
// expiry checks are pure CPU work; key resolution goes through a short
// TTL cache so revocation propagates within the TTL without a store
// round trip per request. Lookups that find nothing are cached too
// (shorter TTL), so a guessed key id cannot hammer the store at high QPS.
type Validator struct {
	publicKey ed25519.PublicKey
	store     KeyStore
	keys      *expirable.LRU[uuid.UUID, *models.APIKeyRecord]
	negative  *expirable.LRU[uuid.UUID, struct{}]
	logger    *zap.Logger
}

// ValidatorConfig carries the cache tuning knobs.
type ValidatorConfig struct {
	CacheSize   int
	PositiveTTL time.Duration
	NegativeTTL time.Duration
}

// NewValidator builds a validator over the given verification key and store.
func NewValidator(pub ed25519.PublicKey, store KeyStore, cfg ValidatorConfig, logger *zap.Logger) *Validator {
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 10000
	}
	return &Validator{
		publicKey: pub,
		store:     store,
		keys:      expirable.NewLRU[uuid.UUID, *models.APIKeyRecord](cfg.CacheSize, nil, cfg.PositiveTTL),
		negative:  expirable.NewLRU[uuid.UUID, struct{}](cfg.CacheSize, nil, cfg.NegativeTTL),
		logger:    logger,
	}
}

// Validate checks the token and resolves it to an Identity.
// Failure order is fixed: malformed, then signature, then expiry, then
// key resolution. A revoked or unknown key fails even when the token
// itself verifies.
func (v *Validator) Validate(ctx context.Context, token string) (*models.Identity, error) {
	claims, err := VerifyToken(token, v.publicKey)
	if err != nil {
		return nil, err
	}

	keyID := uuid.MustParse(claims.KeyID)
	record, err := v.resolveKey(ctx, keyID)
	if err != nil {
		return nil, err
	}
	if !record.Active {
		return nil, ErrRevoked
	}

	quota := claims.MonthlyQuota
	if quota <= 0 {
		quota = record.Tier.MonthlyQuota()
	}

	// Organization and tier come from the store record, which is
	// authoritative; token claims only carry the issued-at-signing view.
	return &models.Identity{
		OrganizationID: record.OrganizationID,
		APIKeyID:       record.ID,
		Tier:           record.Tier,
		MaxTokens:      claims.MaxTokens,
		MonthlyQuota:   quota,
		Active:         record.Active,
	}, nil
}

func (v *Validator) resolveKey(ctx context.Context, keyID uuid.UUID) (*models.APIKeyRecord, error) {
	if _, ok := v.negative.Get(keyID); ok {
		return nil, ErrNotFound
	}
	if record, ok := v.keys.Get(keyID); ok {
		return record, nil
	}

	record, err := v.store.GetAPIKey(ctx, keyID)
	if err != nil {
		v.logger.Error("key lookup failed", zap.String("key_id", keyID.String()), zap.Error(err))
		return nil, ErrStoreUnavailable
	}
	if record == nil {
		v.negative.Add(keyID, struct{}{})
		return nil, ErrNotFound
	}

	v.keys.Add(keyID, record)
	return record, nil
}

// Invalidate drops a key from both caches, used by the admin API so a
// revocation in the same process takes effect immediately.
func (v *Validator) Invalidate(keyID uuid.UUID) {
	v.keys.Remove(keyID)
	v.negative.Remove(keyID)
}
