package admin

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/HanTheDev/embedding-service/internal/auth"
	"github.com/HanTheDev/embedding-service/internal/models"
)

type fakeStore struct {
	orgs        map[uuid.UUID]*models.Organization
	keys        map[uuid.UUID]*models.APIKeyRecord
	deactivated []uuid.UUID
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		orgs: map[uuid.UUID]*models.Organization{},
		keys: map[uuid.UUID]*models.APIKeyRecord{},
	}
}

func (s *fakeStore) CreateOrganization(ctx context.Context, name string, tier models.Tier) (*models.Organization, error) {
	org := &models.Organization{ID: uuid.New(), Name: name, Tier: tier, CreatedAt: time.Now()}
	s.orgs[org.ID] = org
	return org, nil
}

func (s *fakeStore) CreateAPIKey(ctx context.Context, orgID uuid.UUID, name string, tier models.Tier) (*models.APIKeyRecord, error) {
	key := &models.APIKeyRecord{
		ID:             uuid.New(),
		OrganizationID: orgID,
		Name:           name,
		Tier:           tier,
		Active:         true,
		CreatedAt:      time.Now(),
	}
	s.keys[key.ID] = key
	return key, nil
}

func (s *fakeStore) ListAPIKeys(ctx context.Context, orgID uuid.UUID) ([]models.APIKeyRecord, error) {
	var out []models.APIKeyRecord
	for _, k := range s.keys {
		if k.OrganizationID == orgID {
			out = append(out, *k)
		}
	}
	return out, nil
}

func (s *fakeStore) DeactivateAPIKey(ctx context.Context, id uuid.UUID) (bool, error) {
	key, ok := s.keys[id]
	if !ok {
		return false, nil
	}
	key.Active = false
	s.deactivated = append(s.deactivated, id)
	return true, nil
}

// GetAPIKey also satisfies auth.KeyStore so the same fake can back the
// validator in revocation tests.
func (s *fakeStore) GetAPIKey(ctx context.Context, id uuid.UUID) (*models.APIKeyRecord, error) {
	return s.keys[id], nil
}

func (s *fakeStore) OrgUsage(ctx context.Context, orgID uuid.UUID, since time.Time) (*models.UsagePeriod, error) {
	return &models.UsagePeriod{OrganizationID: orgID, PeriodStart: since, Requests: 42, Tokens: 1234}, nil
}

const adminSecret = "test-secret"

type adminEnv struct {
	store     *fakeStore
	validator *auth.Validator
	router    *mux.Router
	pub       ed25519.PublicKey
}

func newAdminEnv(t *testing.T, secret string) *adminEnv {
	t.Helper()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	store := newFakeStore()
	validator := auth.NewValidator(pub, store, auth.ValidatorConfig{
		CacheSize:   64,
		PositiveTTL: time.Minute,
		NegativeTTL: time.Minute,
	}, zap.NewNop())

	router := mux.NewRouter()
	NewAdminHandler(store, validator, priv, secret, zap.NewNop()).RegisterRoutes(router)

	return &adminEnv{store: store, validator: validator, router: router, pub: pub}
}

func (e *adminEnv) do(method, path, secret string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	if secret != "" {
		req.Header.Set("X-Admin-Secret", secret)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func TestAdminSecretGating(t *testing.T) {
	env := newAdminEnv(t, adminSecret)

	rec := env.do(http.MethodPost, "/admin/organizations", "", map[string]string{"name": "acme"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(http.MethodPost, "/admin/organizations", "wrong", map[string]string{"name": "acme"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(http.MethodPost, "/admin/organizations", adminSecret, map[string]string{"name": "acme"})
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestAdminDisabledWithoutSecret(t *testing.T) {
	env := newAdminEnv(t, "")

	rec := env.do(http.MethodPost, "/admin/organizations", "anything", map[string]string{"name": "acme"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestCreateKeyIssuesVerifiableToken(t *testing.T) {
	env := newAdminEnv(t, adminSecret)
	orgID := uuid.New()

	rec := env.do(http.MethodPost, "/admin/keys", adminSecret, map[string]interface{}{
		"organization_id": orgID.String(),
		"name":            "prod",
		"tier":            "pro",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp struct {
		Key   models.APIKeyRecord `json:"key"`
		Token string              `json:"token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, orgID, resp.Key.OrganizationID)
	assert.Equal(t, models.TierPro, resp.Key.Tier)

	claims, err := auth.VerifyToken(resp.Token, env.pub)
	require.NoError(t, err)
	assert.Equal(t, resp.Key.ID.String(), claims.KeyID)
	assert.Equal(t, orgID.String(), claims.OrganizationID)
	assert.Equal(t, models.QuotaPro, claims.MonthlyQuota)

	// The issued token must clear the full validation path too.
	identity, err := env.validator.Validate(context.Background(), resp.Token)
	require.NoError(t, err)
	assert.Equal(t, orgID, identity.OrganizationID)
}

func TestCreateKeyRejectsBadTier(t *testing.T) {
	env := newAdminEnv(t, adminSecret)

	rec := env.do(http.MethodPost, "/admin/keys", adminSecret, map[string]interface{}{
		"organization_id": uuid.NewString(),
		"name":            "prod",
		"tier":            "platinum",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRevokeKeyInvalidatesValidatorCache(t *testing.T) {
	env := newAdminEnv(t, adminSecret)
	orgID := uuid.New()

	rec := env.do(http.MethodPost, "/admin/keys", adminSecret, map[string]interface{}{
		"organization_id": orgID.String(),
		"name":            "prod",
		"tier":            "free",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp struct {
		Key   models.APIKeyRecord `json:"key"`
		Token string              `json:"token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	// Prime the validator's positive cache.
	_, err := env.validator.Validate(context.Background(), resp.Token)
	require.NoError(t, err)

	rec = env.do(http.MethodDelete, "/admin/keys/"+resp.Key.ID.String(), adminSecret, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// The cached entry is gone, so validation sees the deactivated record.
	_, err = env.validator.Validate(context.Background(), resp.Token)
	assert.ErrorIs(t, err, auth.ErrRevoked)
}

func TestRevokeUnknownKeyReturns404(t *testing.T) {
	env := newAdminEnv(t, adminSecret)

	rec := env.do(http.MethodDelete, "/admin/keys/"+uuid.NewString(), adminSecret, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetUsage(t *testing.T) {
	env := newAdminEnv(t, adminSecret)
	orgID := uuid.New()

	rec := env.do(http.MethodGet, "/admin/organizations/"+orgID.String()+"/usage", adminSecret, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var usage models.UsagePeriod
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &usage))
	assert.Equal(t, orgID, usage.OrganizationID)
	assert.Equal(t, int64(42), usage.Requests)
}
