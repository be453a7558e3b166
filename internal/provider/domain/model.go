package domain

import (
	"slices"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/payrouter/internal/condition"
)

type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
	HealthUnknown   HealthStatus = "unknown"
)

func (h HealthStatus) Valid() bool {
	switch h {
	case HealthHealthy, HealthDegraded, HealthUnhealthy, HealthUnknown:
		return true
	default:
		return false
	}
}

// Routable reports whether traffic may be sent to a provider in this state.
func (h HealthStatus) Routable() bool {
	return h == HealthHealthy || h == HealthUnknown
}

// HealthSource records who set the current health status. Derived
// statuses belong to the health job and may be lifted by it; manual ones
// stay until an administrator changes them.
type HealthSource string

const (
	HealthSourceManual  HealthSource = "manual"
	HealthSourceDerived HealthSource = "derived"
)

const (
	MinPriority = 0
	MaxPriority = 100
)

type Provider struct {
	ID                  snowflake.ID `json:"id"`
	ProviderName        string       `json:"provider_name"`
	DisplayName         string       `json:"display_name"`
	IsActive            bool         `json:"is_active"`
	IsTestMode          bool         `json:"is_test_mode"`
	Priority            int          `json:"priority"`
	SupportedCurrencies []string     `json:"supported_currencies"`
	SupportedCountries  []string     `json:"supported_countries"`
	HealthStatus        HealthStatus `json:"health_status"`
	HealthSource        HealthSource `json:"health_source"`
	CreatedAt           time.Time    `json:"created_at"`
	UpdatedAt           time.Time    `json:"updated_at"`
}

// Supports checks currency and country membership. An empty supported set
// means the provider is unrestricted on that axis.
func (p Provider) Supports(currency, country string) bool {
	if len(p.SupportedCurrencies) > 0 && !slices.Contains(p.SupportedCurrencies, currency) {
		return false
	}
	if len(p.SupportedCountries) > 0 && !slices.Contains(p.SupportedCountries, country) {
		return false
	}
	return true
}

// Usable is eligibility without the health check: active, supports the
// context and matches a pinned test mode.
func (p Provider) Usable(tx condition.TransactionContext) bool {
	if !p.IsActive {
		return false
	}
	if tx.TestMode != nil && *tx.TestMode != p.IsTestMode {
		return false
	}
	return p.Supports(tx.Currency, tx.Country)
}

// Eligible reports whether the provider can take the transaction right now.
// The context is expected to carry defaults already.
func (p Provider) Eligible(tx condition.TransactionContext) bool {
	return p.Usable(tx) && p.HealthStatus.Routable()
}

// Less orders providers for the priority fallback: priority descending,
// then creation time and id ascending.
func Less(a, b Provider) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}
