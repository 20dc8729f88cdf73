package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Tier is an organization's subscription tier.
type Tier string

const (
	TierFree       Tier = "free"
	TierPro        Tier = "pro"
	TierScale      Tier = "scale"
	TierEnterprise Tier = "enterprise"
)

// Default monthly request quotas per tier. A token may carry an explicit
// quota claim that overrides these. Enterprise is unmetered.
const (
	QuotaFree  int64 = 10_000
	QuotaPro   int64 = 100_000
	QuotaScale int64 = 1_000_000
)

// MonthlyQuota returns the default request ceiling for the tier.
// Enterprise returns 0, meaning no quota applies.
func (t Tier) MonthlyQuota() int64 {
	switch t {
	case TierPro:
		return QuotaPro
	case TierScale:
		return QuotaScale
	case TierEnterprise:
		return 0
	default:
		return QuotaFree
	}
}

// ParseTier converts a string into a Tier.
func ParseTier(s string) (Tier, error) {
	switch Tier(s) {
	case TierFree, TierPro, TierScale, TierEnterprise:
		return Tier(s), nil
	}
	return "", fmt.Errorf("invalid tier %q", s)
}

// Identity is the resolved (organization, key, tier) tuple behind an
// authenticated request.
type Identity struct {
	OrganizationID uuid.UUID `json:"organization_id"`
	APIKeyID       uuid.UUID `json:"api_key_id"`
	Tier           Tier      `json:"tier"`
	MaxTokens      int       `json:"max_tokens"`
	MonthlyQuota   int64     `json:"monthly_quota"`
	Active         bool      `json:"active"`
}

// APIKeyRecord is the persistent-store view of an API key.
type APIKeyRecord struct {
	ID             uuid.UUID  `json:"id"`
	OrganizationID uuid.UUID  `json:"organization_id"`
	Name           string     `json:"name"`
	Tier           Tier       `json:"tier"`
	Active         bool       `json:"active"`
	CreatedAt      time.Time  `json:"created_at"`
	LastUsedAt     *time.Time `json:"last_used_at,omitempty"`
}

// Organization is a billing/tenancy unit.
type Organization struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Tier      Tier      `json:"tier"`
	CreatedAt time.Time `json:"created_at"`
}

// CacheEntry is an embedding result as stored in both cache tiers.
// Immutable once created; entries with equal fingerprints hold equal
// vectors because inference is deterministic per model.
type CacheEntry struct {
	Vector  []float32 `json:"vector"`
	Tokens  int       `json:"tokens"`
	ModelID string    `json:"model_id"`
}

// RequestStatus tracks a usage event through its lifecycle.
type RequestStatus string

const (
	StatusPending RequestStatus = "pending"
	StatusSuccess RequestStatus = "success"
	StatusError   RequestStatus = "error"
)

// RequestStarted is an insert-shaped usage event recorded at request arrival.
type RequestStarted struct {
	RequestID      uuid.UUID `json:"request_id"`
	OrganizationID uuid.UUID `json:"organization_id"`
	APIKeyID       uuid.UUID `json:"api_key_id"`
	Product        string    `json:"product"`
	Endpoint       string    `json:"endpoint"`
	InputText      string    `json:"input_text"`
	Normalize      bool      `json:"normalize"`
	Timestamp      time.Time `json:"timestamp"`
}

// RequestCompleted is an update-shaped usage event recorded at response time.
type RequestCompleted struct {
	RequestID      uuid.UUID     `json:"request_id"`
	OrganizationID uuid.UUID     `json:"organization_id"`
	APIKeyID       uuid.UUID     `json:"api_key_id"`
	Product        string        `json:"product"`
	Status         RequestStatus `json:"status"`
	Tokens         int           `json:"tokens"`
	Cached         bool          `json:"cached"`
	LatencyMs      float64       `json:"latency_ms"`
	Timestamp      time.Time     `json:"timestamp"`
}

// UsagePeriod is an aggregate over an organization's request log for one
// billing period.
type UsagePeriod struct {
	OrganizationID uuid.UUID `json:"organization_id"`
	PeriodStart    time.Time `json:"period_start"`
	Requests       int64     `json:"requests"`
	Tokens         int64     `json:"tokens"`
}
