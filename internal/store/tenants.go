package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"content-pipeline-engine/internal/models"
)

// GetTenant loads the tenant context passed into steps. Tenant CRUD belongs
// to the dashboard backend; the engine only reads.
func (s *Store) GetTenant(ctx context.Context, id string) (models.Tenant, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, business_name, domain_url, icp_profile, brand_voice, wp_credentials, api_config, created_at
		FROM tenants WHERE id = $1
	`, id)

	var t models.Tenant
	var wpCreds, apiConfig []byte
	err := row.Scan(&t.ID, &t.BusinessName, &t.DomainURL, &t.ICPProfile, &t.BrandVoice,
		&wpCreds, &apiConfig, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Tenant{}, ErrNotFound
	}
	if err != nil {
		return models.Tenant{}, fmt.Errorf("scan tenant: %w", err)
	}

	if len(wpCreds) > 0 {
		if err := json.Unmarshal(wpCreds, &t.WPCredentials); err != nil {
			return models.Tenant{}, fmt.Errorf("unmarshal wp_credentials: %w", err)
		}
	}
	if len(apiConfig) > 0 {
		if err := json.Unmarshal(apiConfig, &t.APIConfig); err != nil {
			return models.Tenant{}, fmt.Errorf("unmarshal api_config: %w", err)
		}
	}
	return t, nil
}
