package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/payrouter/internal/provider/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

type providerRow struct {
	ID                  int64
	ProviderName        string
	DisplayName         string
	IsActive            bool
	IsTestMode          bool
	Priority            int
	SupportedCurrencies datatypes.JSON
	SupportedCountries  datatypes.JSON
	HealthStatus        string
	HealthSource        string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

const selectColumns = `SELECT id, provider_name, display_name, is_active, is_test_mode, priority,
		supported_currencies, supported_countries, health_status, health_source, created_at, updated_at
	 FROM payment_providers`

func (r *repo) Insert(ctx context.Context, db *gorm.DB, p *domain.Provider) error {
	currencies, countries, err := encodeCodes(p)
	if err != nil {
		return err
	}
	return db.WithContext(ctx).Exec(
		`INSERT INTO payment_providers (
			id, provider_name, display_name, is_active, is_test_mode, priority,
			supported_currencies, supported_countries, health_status, health_source, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		int64(p.ID),
		p.ProviderName,
		p.DisplayName,
		p.IsActive,
		p.IsTestMode,
		p.Priority,
		currencies,
		countries,
		string(p.HealthStatus),
		string(healthSource(p.HealthSource)),
		p.CreatedAt,
		p.UpdatedAt,
	).Error
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, p *domain.Provider) error {
	currencies, countries, err := encodeCodes(p)
	if err != nil {
		return err
	}
	return db.WithContext(ctx).Exec(
		`UPDATE payment_providers
		 SET display_name = ?, is_active = ?, is_test_mode = ?, priority = ?,
			supported_currencies = ?, supported_countries = ?, health_status = ?, health_source = ?, updated_at = ?
		 WHERE id = ?`,
		p.DisplayName,
		p.IsActive,
		p.IsTestMode,
		p.Priority,
		currencies,
		countries,
		string(p.HealthStatus),
		string(healthSource(p.HealthSource)),
		p.UpdatedAt,
		int64(p.ID),
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Provider, error) {
	var row providerRow
	err := db.WithContext(ctx).Raw(selectColumns+` WHERE id = ? LIMIT 1`, int64(id)).Scan(&row).Error
	if err != nil {
		return nil, err
	}
	if row.ID == 0 {
		return nil, nil
	}
	return decode(row)
}

func (r *repo) FindByName(ctx context.Context, db *gorm.DB, name string) (*domain.Provider, error) {
	var row providerRow
	err := db.WithContext(ctx).Raw(selectColumns+` WHERE provider_name = ? LIMIT 1`, name).Scan(&row).Error
	if err != nil {
		return nil, err
	}
	if row.ID == 0 {
		return nil, nil
	}
	return decode(row)
}

func (r *repo) List(ctx context.Context, db *gorm.DB, activeOnly bool) ([]domain.Provider, error) {
	query := selectColumns
	args := []any{}
	if activeOnly {
		query += ` WHERE is_active = ?`
		args = append(args, true)
	}
	query += ` ORDER BY priority DESC, created_at ASC, id ASC`

	var rows []providerRow
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&rows).Error; err != nil {
		return nil, err
	}

	providers := make([]domain.Provider, 0, len(rows))
	for _, row := range rows {
		p, err := decode(row)
		if err != nil {
			return nil, err
		}
		providers = append(providers, *p)
	}
	return providers, nil
}

func (r *repo) Delete(ctx context.Context, db *gorm.DB, id snowflake.ID) (int64, error) {
	result := db.WithContext(ctx).Exec(`DELETE FROM payment_providers WHERE id = ?`, int64(id))
	return result.RowsAffected, result.Error
}

func encodeCodes(p *domain.Provider) (datatypes.JSON, datatypes.JSON, error) {
	currencies, err := encodeList(p.SupportedCurrencies)
	if err != nil {
		return nil, nil, err
	}
	countries, err := encodeList(p.SupportedCountries)
	if err != nil {
		return nil, nil, err
	}
	return currencies, countries, nil
}

func encodeList(values []string) (datatypes.JSON, error) {
	if values == nil {
		values = []string{}
	}
	raw, err := json.Marshal(values)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(raw), nil
}

func decodeList(raw datatypes.JSON) ([]string, error) {
	if len(raw) == 0 {
		return []string{}, nil
	}
	var values []string
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil, err
	}
	if values == nil {
		values = []string{}
	}
	return values, nil
}

func decode(row providerRow) (*domain.Provider, error) {
	currencies, err := decodeList(row.SupportedCurrencies)
	if err != nil {
		return nil, err
	}
	countries, err := decodeList(row.SupportedCountries)
	if err != nil {
		return nil, err
	}
	return &domain.Provider{
		ID:                  snowflake.ID(row.ID),
		ProviderName:        row.ProviderName,
		DisplayName:         row.DisplayName,
		IsActive:            row.IsActive,
		IsTestMode:          row.IsTestMode,
		Priority:            row.Priority,
		SupportedCurrencies: currencies,
		SupportedCountries:  countries,
		HealthStatus:        domain.HealthStatus(row.HealthStatus),
		HealthSource:        healthSource(domain.HealthSource(row.HealthSource)),
		CreatedAt:           row.CreatedAt.UTC(),
		UpdatedAt:           row.UpdatedAt.UTC(),
	}, nil
}

func healthSource(src domain.HealthSource) domain.HealthSource {
	if src == "" {
		return domain.HealthSourceManual
	}
	return src
}
