// Package admin exposes the management API: organizations, API key
// issuance and revocation, and usage analytics. It is gated by a shared
// admin secret, separate from the customer-facing token scheme.
package admin

import (
	"context"
	"crypto/ed25519"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/HanTheDev/embedding-service/internal/auth"
	"github.com/HanTheDev/embedding-service/internal/models"
)

// Store is the persistence surface the admin API needs.
type Store interface {
	CreateOrganization(ctx context.Context, name string, tier models.Tier) (*models.Organization, error)
	CreateAPIKey(ctx context.Context, orgID uuid.UUID, name string, tier models.Tier) (*models.APIKeyRecord, error)
	ListAPIKeys(ctx context.Context, orgID uuid.UUID) ([]models.APIKeyRecord, error)
	DeactivateAPIKey(ctx context.Context, id uuid.UUID) (bool, error)
	OrgUsage(ctx context.Context, orgID uuid.UUID, since time.Time) (*models.UsagePeriod, error)
}

type AdminHandler struct {
	store      Store
	validator  *auth.Validator
	signingKey ed25519.PrivateKey
	secret     string
	logger     *zap.Logger
}

func NewAdminHandler(store Store, validator *auth.Validator, signingKey ed25519.PrivateKey, secret string, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{
		store:      store,
		validator:  validator,
		signingKey: signingKey,
		secret:     secret,
		logger:     logger,
	}
}

func (h *AdminHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/admin/organizations", h.auth(h.CreateOrganization)).Methods("POST")
	router.HandleFunc("/admin/organizations/{id}/usage", h.auth(h.GetUsage)).Methods("GET")
	router.HandleFunc("/admin/keys", h.auth(h.CreateKey)).Methods("POST")
	router.HandleFunc("/admin/keys", h.auth(h.ListKeys)).Methods("GET").Queries("organization_id", "{organization_id}")
	router.HandleFunc("/admin/keys/{id}", h.auth(h.RevokeKey)).Methods("DELETE")
}

func (h *AdminHandler) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.secret == "" {
			writeError(w, http.StatusForbidden, "admin_disabled", "admin API is not configured")
			return
		}
		presented := r.Header.Get("X-Admin-Secret")
		if subtle.ConstantTimeCompare([]byte(presented), []byte(h.secret)) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid_admin_secret", "invalid admin secret")
			return
		}
		next(w, r)
	}
}

func (h *AdminHandler) CreateOrganization(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
		Tier string `json:"tier"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "name is required")
		return
	}

	tier, err := models.ParseTier(req.Tier)
	if err != nil {
		tier = models.TierFree
	}

	org, err := h.store.CreateOrganization(r.Context(), req.Name, tier)
	if err != nil {
		h.logger.Error("create organization failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to create organization")
		return
	}

	writeJSON(w, http.StatusCreated, org)
}

func (h *AdminHandler) CreateKey(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OrganizationID string `json:"organization_id"`
		Name           string `json:"name"`
		Tier           string `json:"tier"`
		MaxTokens      int    `json:"max_tokens"`
		MonthlyQuota   int64  `json:"monthly_quota"`
		TTLDays        int    `json:"ttl_days"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}

	orgID, err := uuid.Parse(req.OrganizationID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "organization_id must be a UUID")
		return
	}
	tier, err := models.ParseTier(req.Tier)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if h.signingKey == nil {
		writeError(w, http.StatusInternalServerError, "signing_unavailable", "token signing key is not configured")
		return
	}

	key, err := h.store.CreateAPIKey(r.Context(), orgID, req.Name, tier)
	if err != nil {
		h.logger.Error("create api key failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to create api key")
		return
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 512
	}
	quota := req.MonthlyQuota
	if quota <= 0 {
		quota = tier.MonthlyQuota()
	}
	ttl := time.Duration(req.TTLDays) * 24 * time.Hour
	if ttl <= 0 {
		ttl = 365 * 24 * time.Hour
	}

	token, err := auth.SignToken(key, maxTokens, quota, ttl, h.signingKey)
	if err != nil {
		h.logger.Error("token signing failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to sign token")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"key":   key,
		"token": token,
	})
}

func (h *AdminHandler) ListKeys(w http.ResponseWriter, r *http.Request) {
	orgID, err := uuid.Parse(r.URL.Query().Get("organization_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "organization_id must be a UUID")
		return
	}

	keys, err := h.store.ListAPIKeys(r.Context(), orgID)
	if err != nil {
		h.logger.Error("list api keys failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to list api keys")
		return
	}
	if keys == nil {
		keys = []models.APIKeyRecord{}
	}

	writeJSON(w, http.StatusOK, keys)
}

func (h *AdminHandler) RevokeKey(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "key id must be a UUID")
		return
	}

	found, err := h.store.DeactivateAPIKey(r.Context(), id)
	if err != nil {
		h.logger.Error("revoke api key failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to revoke api key")
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "key_not_found", "no such api key")
		return
	}

	// Other instances converge within their key-cache TTL; this one
	// drops the key immediately.
	if h.validator != nil {
		h.validator.Invalidate(id)
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}

func (h *AdminHandler) GetUsage(w http.ResponseWriter, r *http.Request) {
	orgID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "organization id must be a UUID")
		return
	}

	now := time.Now().UTC()
	since := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	if s := r.URL.Query().Get("since"); s != "" {
		parsed, err := time.Parse(time.RFC3339, s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "since must be RFC3339")
			return
		}
		since = parsed
	}

	usage, err := h.store.OrgUsage(r.Context(), orgID, since)
	if err != nil {
		h.logger.Error("usage query failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to query usage")
		return
	}

	writeJSON(w, http.StatusOK, usage)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, map[string]string{"error": kind, "message": message})
}
