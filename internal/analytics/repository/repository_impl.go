package repository

import (
	"context"
	"strings"
	"time"

	"github.com/smallbiznis/payrouter/internal/analytics/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, e *domain.Event) error {
	metadata := datatypes.JSONMap(e.Metadata)
	if metadata == nil {
		metadata = datatypes.JSONMap{}
	}
	var configID *int64
	if e.ConfigID != nil {
		v := int64(*e.ConfigID)
		configID = &v
	}
	return db.WithContext(ctx).Exec(
		`INSERT INTO provider_analytics_events (
			id, config_id, transaction_id, provider_name, amount, currency, status,
			response_time_ms, error_code, error_message, metadata, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		int64(e.ID),
		configID,
		e.TransactionID,
		e.ProviderName,
		e.Amount,
		e.Currency,
		string(e.Status),
		e.ResponseTimeMs,
		e.ErrorCode,
		e.ErrorMessage,
		metadata,
		e.CreatedAt,
	).Error
}

type successRow struct {
	ProviderName      string
	TotalCount        int64
	SuccessCount      int64
	FailedCount       int64
	AvgResponseTimeMs float64
}

func (r *repo) SuccessRates(ctx context.Context, db *gorm.DB, filter domain.Filter) ([]domain.SuccessRate, error) {
	where, args := whereClause(filter)
	var rows []successRow
	err := db.WithContext(ctx).Raw(
		`SELECT provider_name,
			COUNT(*) AS total_count,
			SUM(CASE WHEN status = 'success' THEN 1 ELSE 0 END) AS success_count,
			SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END) AS failed_count,
			CAST(AVG(response_time_ms) AS DOUBLE PRECISION) AS avg_response_time_ms
		 FROM provider_analytics_events`+where+`
		 GROUP BY provider_name
		 ORDER BY provider_name ASC`,
		args...,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]domain.SuccessRate, 0, len(rows))
	for _, row := range rows {
		out = append(out, domain.SuccessRate{
			ProviderName:      row.ProviderName,
			TotalCount:        row.TotalCount,
			SuccessCount:      row.SuccessCount,
			FailedCount:       row.FailedCount,
			AvgResponseTimeMs: row.AvgResponseTimeMs,
		})
	}
	return out, nil
}

type volumeRow struct {
	CreatedAt time.Time
	Amount    float64
	Status    string
}

func (r *repo) VolumeSamples(ctx context.Context, db *gorm.DB, filter domain.Filter) ([]domain.VolumeSample, error) {
	where, args := whereClause(filter)
	var rows []volumeRow
	err := db.WithContext(ctx).Raw(
		`SELECT created_at, amount, status
		 FROM provider_analytics_events`+where+`
		 ORDER BY created_at ASC, id ASC`,
		args...,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]domain.VolumeSample, 0, len(rows))
	for _, row := range rows {
		out = append(out, domain.VolumeSample{
			CreatedAt: row.CreatedAt.UTC(),
			Amount:    row.Amount,
			Status:    domain.Status(row.Status),
		})
	}
	return out, nil
}

type errorRow struct {
	ErrorCode    *string
	ErrorMessage *string
	ProviderName string
	ErrorCount   int64
}

func (r *repo) ErrorGroups(ctx context.Context, db *gorm.DB, filter domain.Filter) ([]domain.ErrorGroup, error) {
	where, args := whereClause(filter)
	if where == "" {
		where = ` WHERE status = ?`
	} else {
		where += ` AND status = ?`
	}
	args = append(args, string(domain.StatusFailed))

	var rows []errorRow
	err := db.WithContext(ctx).Raw(
		`SELECT error_code, error_message, provider_name, COUNT(*) AS error_count
		 FROM provider_analytics_events`+where+`
		 GROUP BY error_code, error_message, provider_name`,
		args...,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]domain.ErrorGroup, 0, len(rows))
	for _, row := range rows {
		out = append(out, domain.ErrorGroup{
			ErrorCode:    row.ErrorCode,
			ErrorMessage: row.ErrorMessage,
			ProviderName: row.ProviderName,
			ErrorCount:   row.ErrorCount,
		})
	}
	return out, nil
}

type latencyRow struct {
	ProviderName   string
	ResponseTimeMs int64
}

func (r *repo) LatencySamples(ctx context.Context, db *gorm.DB, filter domain.Filter) ([]domain.LatencySample, error) {
	where, args := whereClause(filter)
	var rows []latencyRow
	err := db.WithContext(ctx).Raw(
		`SELECT provider_name, response_time_ms
		 FROM provider_analytics_events`+where+`
		 ORDER BY provider_name ASC, response_time_ms ASC`,
		args...,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]domain.LatencySample, 0, len(rows))
	for _, row := range rows {
		out = append(out, domain.LatencySample{ProviderName: row.ProviderName, ResponseTimeMs: row.ResponseTimeMs})
	}
	return out, nil
}

func (r *repo) DeleteBefore(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error) {
	result := db.WithContext(ctx).Exec(`DELETE FROM provider_analytics_events WHERE created_at < ?`, cutoff)
	return result.RowsAffected, result.Error
}

func whereClause(filter domain.Filter) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	if filter.ProviderName != "" {
		clauses = append(clauses, "provider_name = ?")
		args = append(args, filter.ProviderName)
	}
	if filter.ConfigID != nil {
		clauses = append(clauses, "config_id = ?")
		args = append(args, int64(*filter.ConfigID))
	}
	if filter.From != nil {
		clauses = append(clauses, "created_at >= ?")
		args = append(args, filter.From.UTC())
	}
	if filter.To != nil {
		clauses = append(clauses, "created_at <= ?")
		args = append(args, filter.To.UTC())
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}
