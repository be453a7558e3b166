package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/payrouter/internal/delivery/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

type webhookRow struct {
	ID                int64
	ConfigID          int64
	WebhookType       string
	EventType         string
	ProviderWebhookID *string
	URL               string `gorm:"column:url"`
	Secret            datatypes.JSON
	IsActive          bool
	RetryCount        int
	MaxRetries        int
	LastTriggered     *time.Time
	LastSuccess       *time.Time
	LastFailure       *time.Time
	FailureReason     *string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

const selectColumns = `SELECT id, config_id, webhook_type, event_type, provider_webhook_id, url, secret,
		is_active, retry_count, max_retries, last_triggered, last_success, last_failure,
		failure_reason, created_at, updated_at
	 FROM provider_webhooks`

func (r *repo) Insert(ctx context.Context, db *gorm.DB, w *domain.Webhook) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO provider_webhooks (
			id, config_id, webhook_type, event_type, provider_webhook_id, url, secret,
			is_active, retry_count, max_retries, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		int64(w.ID),
		int64(w.ConfigID),
		w.WebhookType,
		w.EventType,
		w.ProviderWebhookID,
		w.URL,
		sealed(w.SealedSecret),
		w.IsActive,
		w.RetryCount,
		w.MaxRetries,
		w.CreatedAt,
		w.UpdatedAt,
	).Error
}

// Update writes administrative fields only. Delivery counters move through
// the dedicated statements below.
func (r *repo) Update(ctx context.Context, db *gorm.DB, w *domain.Webhook) error {
	return db.WithContext(ctx).Exec(
		`UPDATE provider_webhooks
		 SET webhook_type = ?, event_type = ?, provider_webhook_id = ?, url = ?, secret = ?,
			is_active = ?, max_retries = ?,
			retry_count = CASE WHEN retry_count > ? THEN ? ELSE retry_count END,
			updated_at = ?
		 WHERE id = ?`,
		w.WebhookType,
		w.EventType,
		w.ProviderWebhookID,
		w.URL,
		sealed(w.SealedSecret),
		w.IsActive,
		w.MaxRetries,
		w.MaxRetries,
		w.MaxRetries,
		w.UpdatedAt,
		int64(w.ID),
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Webhook, error) {
	var row webhookRow
	err := db.WithContext(ctx).Raw(selectColumns+` WHERE id = ? LIMIT 1`, int64(id)).Scan(&row).Error
	if err != nil {
		return nil, err
	}
	if row.ID == 0 {
		return nil, nil
	}
	w := decode(row)
	return &w, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]domain.Webhook, error) {
	query := selectColumns + ` WHERE id > ?`
	args := []any{int64(filter.AfterID)}
	if filter.ConfigID != nil {
		query += ` AND config_id = ?`
		args = append(args, int64(*filter.ConfigID))
	}
	if filter.ActiveOnly {
		query += ` AND is_active = ?`
		args = append(args, true)
	}
	query += ` ORDER BY id ASC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}
	return r.scanAll(ctx, db, query, args...)
}

func (r *repo) Delete(ctx context.Context, db *gorm.DB, id snowflake.ID) (int64, error) {
	result := db.WithContext(ctx).Exec(`DELETE FROM provider_webhooks WHERE id = ?`, int64(id))
	return result.RowsAffected, result.Error
}

func (r *repo) RecordSuccess(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) (int64, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE provider_webhooks
		 SET last_triggered = ?, last_success = ?, retry_count = 0, updated_at = ?
		 WHERE id = ?`,
		at,
		at,
		at,
		int64(id),
	)
	return result.RowsAffected, result.Error
}

func (r *repo) RecordFailure(ctx context.Context, db *gorm.DB, id snowflake.ID, reason *string, at time.Time) (int64, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE provider_webhooks
		 SET last_triggered = ?, last_failure = ?, failure_reason = ?,
			retry_count = CASE WHEN retry_count < max_retries THEN retry_count + 1 ELSE retry_count END,
			updated_at = ?
		 WHERE id = ?`,
		at,
		at,
		reason,
		at,
		int64(id),
	)
	return result.RowsAffected, result.Error
}

func (r *repo) ResetRetries(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) (int64, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE provider_webhooks
		 SET retry_count = 0, failure_reason = NULL, updated_at = ?
		 WHERE id = ?`,
		at,
		int64(id),
	)
	return result.RowsAffected, result.Error
}

func (r *repo) DueForRetry(ctx context.Context, db *gorm.DB, triggeredBefore time.Time, limit int) ([]domain.Webhook, error) {
	return r.scanAll(ctx, db,
		selectColumns+`
		 WHERE is_active = ?
		   AND last_failure IS NOT NULL
		   AND (last_success IS NULL OR last_failure > last_success)
		   AND retry_count < max_retries
		   AND last_triggered < ?
		 ORDER BY last_triggered ASC, id ASC
		 LIMIT ?`,
		true,
		triggeredBefore,
		limit,
	)
}

func (r *repo) scanAll(ctx context.Context, db *gorm.DB, query string, args ...any) ([]domain.Webhook, error) {
	var rows []webhookRow
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&rows).Error; err != nil {
		return nil, err
	}
	webhooks := make([]domain.Webhook, 0, len(rows))
	for _, row := range rows {
		webhooks = append(webhooks, decode(row))
	}
	return webhooks, nil
}

func sealed(secret []byte) any {
	if len(secret) == 0 {
		return nil
	}
	return datatypes.JSON(secret)
}

func decode(row webhookRow) domain.Webhook {
	w := domain.Webhook{
		ID:                snowflake.ID(row.ID),
		ConfigID:          snowflake.ID(row.ConfigID),
		WebhookType:       row.WebhookType,
		EventType:         row.EventType,
		ProviderWebhookID: row.ProviderWebhookID,
		URL:               row.URL,
		IsActive:          row.IsActive,
		RetryCount:        row.RetryCount,
		MaxRetries:        row.MaxRetries,
		LastTriggered:     utc(row.LastTriggered),
		LastSuccess:       utc(row.LastSuccess),
		LastFailure:       utc(row.LastFailure),
		FailureReason:     row.FailureReason,
		CreatedAt:         row.CreatedAt.UTC(),
		UpdatedAt:         row.UpdatedAt.UTC(),
	}
	if len(row.Secret) > 0 {
		w.SealedSecret = []byte(row.Secret)
	}
	return w
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
