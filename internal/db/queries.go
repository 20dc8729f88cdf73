package db

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/HanTheDev/embedding-service/internal/models"
)

// GetAPIKey resolves a key id to its record, or (nil, nil) when no such
// key exists.
func (db *DB) GetAPIKey(ctx context.Context, id uuid.UUID) (*models.APIKeyRecord, error) {
	query := `
        SELECT id, organization_id, name, tier, is_active, created_at, last_used_at
        FROM api_keys
        WHERE id = $1
    `

	var key models.APIKeyRecord
	err := db.Pool.QueryRow(ctx, query, id).Scan(
		&key.ID,
		&key.OrganizationID,
		&key.Name,
		&key.Tier,
		&key.Active,
		&key.CreatedAt,
		&key.LastUsedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &key, nil
}

// RequestsSince is the authoritative quota aggregate: total requests an
// organization has made since the period start.
func (db *DB) RequestsSince(ctx context.Context, orgID string, since time.Time) (int64, error) {
	query := `
        SELECT COALESCE(SUM(requests), 0)
        FROM usage_events
        WHERE organization_id = $1 AND timestamp >= $2
    `

	var total int64
	err := db.Pool.QueryRow(ctx, query, orgID, since).Scan(&total)
	if err != nil {
		return 0, err
	}

	return total, nil
}

// InsertRequestsStarted appends pending rows to the request log in one
// batch round trip.
func (db *DB) InsertRequestsStarted(ctx context.Context, events []models.RequestStarted) error {
	if len(events) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, e := range events {
		batch.Queue(
			`INSERT INTO api_request_log
             (request_id, organization_id, api_key_id, product, endpoint, input_text, normalize, request_timestamp, status)
             VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'pending')`,
			e.RequestID, e.OrganizationID, e.APIKeyID, e.Product, e.Endpoint, e.InputText, e.Normalize, e.Timestamp,
		)
	}

	return db.Pool.SendBatch(ctx, batch).Close()
}

// UpdateRequestsCompleted marks logged requests finished, filling status
// and token counts.
func (db *DB) UpdateRequestsCompleted(ctx context.Context, events []models.RequestCompleted) error {
	if len(events) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, e := range events {
		batch.Queue(
			`UPDATE api_request_log
             SET status = $1, tokens = $2, cached = $3, latency_ms = $4, response_timestamp = $5, updated_at = NOW()
             WHERE request_id = $6`,
			e.Status, e.Tokens, e.Cached, e.LatencyMs, e.Timestamp, e.RequestID,
		)
	}

	return db.Pool.SendBatch(ctx, batch).Close()
}

// InsertUsageEvents appends billing rows, one per completed request.
func (db *DB) InsertUsageEvents(ctx context.Context, events []models.RequestCompleted) error {
	if len(events) == 0 {
		return nil
	}

	rows := make([][]interface{}, 0, len(events))
	for _, e := range events {
		rows = append(rows, []interface{}{
			e.OrganizationID, e.APIKeyID, e.Product, "inference", e.Tokens, 1, e.Timestamp,
		})
	}

	_, err := db.Pool.CopyFrom(
		ctx,
		pgx.Identifier{"usage_events"},
		[]string{"organization_id", "api_key_id", "product", "event_type", "tokens", "requests", "timestamp"},
		pgx.CopyFromRows(rows),
	)
	return err
}

// CreateOrganization registers a new billing unit.
func (db *DB) CreateOrganization(ctx context.Context, name string, tier models.Tier) (*models.Organization, error) {
	query := `
        INSERT INTO organizations (id, name, tier, created_at)
        VALUES ($1, $2, $3, NOW())
        RETURNING id, name, tier, created_at
    `

	var org models.Organization
	err := db.Pool.QueryRow(ctx, query, uuid.New(), name, tier).Scan(
		&org.ID, &org.Name, &org.Tier, &org.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	return &org, nil
}

// CreateAPIKey registers an active key for an organization.
func (db *DB) CreateAPIKey(ctx context.Context, orgID uuid.UUID, name string, tier models.Tier) (*models.APIKeyRecord, error) {
	query := `
        INSERT INTO api_keys (id, organization_id, name, tier, is_active, created_at)
        VALUES ($1, $2, $3, $4, TRUE, NOW())
        RETURNING id, organization_id, name, tier, is_active, created_at
    `

	var key models.APIKeyRecord
	err := db.Pool.QueryRow(ctx, query, uuid.New(), orgID, name, tier).Scan(
		&key.ID, &key.OrganizationID, &key.Name, &key.Tier, &key.Active, &key.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	return &key, nil
}

// ListAPIKeys returns all keys for an organization, newest first.
func (db *DB) ListAPIKeys(ctx context.Context, orgID uuid.UUID) ([]models.APIKeyRecord, error) {
	query := `
        SELECT id, organization_id, name, tier, is_active, created_at, last_used_at
        FROM api_keys
        WHERE organization_id = $1
        ORDER BY created_at DESC
    `

	rows, err := db.Pool.Query(ctx, query, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []models.APIKeyRecord
	for rows.Next() {
		var key models.APIKeyRecord
		if err := rows.Scan(&key.ID, &key.OrganizationID, &key.Name, &key.Tier, &key.Active, &key.CreatedAt, &key.LastUsedAt); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}

	return keys, rows.Err()
}

// DeactivateAPIKey revokes a key. Returns false when the key does not exist.
func (db *DB) DeactivateAPIKey(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := db.Pool.Exec(ctx,
		`UPDATE api_keys SET is_active = FALSE WHERE id = $1`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// OrgUsage aggregates an organization's requests and tokens since the
// given period start.
func (db *DB) OrgUsage(ctx context.Context, orgID uuid.UUID, since time.Time) (*models.UsagePeriod, error) {
	query := `
        SELECT COALESCE(SUM(requests), 0), COALESCE(SUM(tokens), 0)
        FROM usage_events
        WHERE organization_id = $1 AND timestamp >= $2
    `

	usage := &models.UsagePeriod{OrganizationID: orgID, PeriodStart: since}
	err := db.Pool.QueryRow(ctx, query, orgID, since).Scan(&usage.Requests, &usage.Tokens)
	if err != nil {
		return nil, err
	}

	return usage, nil
}
