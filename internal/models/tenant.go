package models

import (
	"time"
)

// Tenant holds per-customer settings passed into steps as opaque context.
// Tenant CRUD lives outside the engine; the engine only reads these rows.
type Tenant struct {
	ID            string         `json:"id"`
	BusinessName  string         `json:"business_name"`
	DomainURL     string         `json:"domain_url"`
	ICPProfile    string         `json:"icp_profile"`
	BrandVoice    string         `json:"brand_voice"`
	WPCredentials map[string]any `json:"wp_credentials,omitempty"`
	APIConfig     map[string]any `json:"api_config,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

// AutoPublish reports whether the tenant opted into publishing without a
// human approval step.
func (t Tenant) AutoPublish() bool {
	if t.APIConfig == nil {
		return false
	}
	v, ok := t.APIConfig["auto_publish"].(bool)
	return ok && v
}
