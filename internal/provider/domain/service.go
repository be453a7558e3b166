package domain

import (
	"context"
	"errors"
)

type Service interface {
	Create(ctx context.Context, req CreateRequest) (*Provider, error)
	Update(ctx context.Context, id string, req UpdateRequest) (*Provider, error)
	Get(ctx context.Context, id string) (*Provider, error)
	List(ctx context.Context, req ListRequest) ([]Provider, error)
	ListActive(ctx context.Context) ([]Provider, error)
	SetActive(ctx context.Context, id string, active bool) (*Provider, error)
	SetHealthStatus(ctx context.Context, id string, status HealthStatus) (*Provider, error)
	SetDerivedHealth(ctx context.Context, id string, status HealthStatus) (*Provider, error)
	Delete(ctx context.Context, id string) error
}

// Invalidator is notified after every provider write so cached snapshots
// never outlive a configuration change.
type Invalidator interface {
	Invalidate(ctx context.Context)
}

type CreateRequest struct {
	ProviderName        string       `json:"provider_name"`
	DisplayName         string       `json:"display_name"`
	IsActive            *bool        `json:"is_active,omitempty"`
	IsTestMode          bool         `json:"is_test_mode"`
	Priority            int          `json:"priority"`
	SupportedCurrencies []string     `json:"supported_currencies"`
	SupportedCountries  []string     `json:"supported_countries"`
	HealthStatus        HealthStatus `json:"health_status,omitempty"`
}

type UpdateRequest struct {
	DisplayName         *string   `json:"display_name,omitempty"`
	IsTestMode          *bool     `json:"is_test_mode,omitempty"`
	Priority            *int      `json:"priority,omitempty"`
	SupportedCurrencies *[]string `json:"supported_currencies,omitempty"`
	SupportedCountries  *[]string `json:"supported_countries,omitempty"`
}

type ListRequest struct {
	ActiveOnly bool `form:"active_only"`
}

var (
	ErrInvalidID       = errors.New("invalid_provider_id")
	ErrInvalidName     = errors.New("invalid_provider_name")
	ErrInvalidPriority = errors.New("invalid_provider_priority")
	ErrInvalidCode     = errors.New("invalid_currency_or_country_code")
	ErrInvalidHealth   = errors.New("invalid_health_status")
	ErrInvalidUpdate   = errors.New("invalid_provider_update")
	ErrDuplicateName   = errors.New("provider_name_taken")
	ErrNotFound        = errors.New("provider_not_found")
)
