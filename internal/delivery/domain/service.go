package domain

import (
	"context"
	"errors"

	"github.com/smallbiznis/payrouter/pkg/db/pagination"
)

type Service interface {
	CreateWebhook(ctx context.Context, req CreateWebhookRequest) (*Webhook, error)
	GetWebhook(ctx context.Context, id string) (*Webhook, error)
	ListWebhooks(ctx context.Context, req ListWebhooksRequest) (*ListWebhooksResponse, error)
	UpdateWebhook(ctx context.Context, id string, req UpdateWebhookRequest) (*Webhook, error)
	DeleteWebhook(ctx context.Context, id string) error

	RecordTrigger(ctx context.Context, id string, success bool, failureReason *string) (*Webhook, error)
	ResetRetries(ctx context.Context, id string) (*Webhook, error)
	DueForRetry(ctx context.Context, limit int) ([]Webhook, error)
	VerifySignature(ctx context.Context, id string, payload []byte, signature string) (bool, error)
}

type CreateWebhookRequest struct {
	ConfigID          string  `json:"config_id"`
	WebhookType       string  `json:"webhook_type"`
	EventType         string  `json:"event_type"`
	ProviderWebhookID *string `json:"provider_webhook_id,omitempty"`
	URL               string  `json:"url"`
	Secret            string  `json:"secret,omitempty"`
	IsActive          *bool   `json:"is_active,omitempty"`
	MaxRetries        *int    `json:"max_retries,omitempty"`
}

// UpdateWebhookRequest is a patch; at least one field must be set. An empty
// Secret removes the stored secret.
type UpdateWebhookRequest struct {
	WebhookType       *string `json:"webhook_type,omitempty"`
	EventType         *string `json:"event_type,omitempty"`
	ProviderWebhookID *string `json:"provider_webhook_id,omitempty"`
	URL               *string `json:"url,omitempty"`
	Secret            *string `json:"secret,omitempty"`
	IsActive          *bool   `json:"is_active,omitempty"`
	MaxRetries        *int    `json:"max_retries,omitempty"`
}

func (r UpdateWebhookRequest) Empty() bool {
	return r.WebhookType == nil && r.EventType == nil && r.ProviderWebhookID == nil &&
		r.URL == nil && r.Secret == nil && r.IsActive == nil && r.MaxRetries == nil
}

type ListWebhooksRequest struct {
	pagination.Pagination
	ConfigID   string `form:"config_id"`
	ActiveOnly bool   `form:"active_only"`
}

type ListWebhooksResponse struct {
	pagination.PageInfo
	Webhooks []Webhook `json:"webhooks"`
}

var (
	ErrInvalidID            = errors.New("invalid_webhook_id")
	ErrInvalidConfig        = errors.New("invalid_webhook_config")
	ErrInvalidURL           = errors.New("invalid_webhook_url")
	ErrInvalidType          = errors.New("invalid_webhook_type")
	ErrInvalidMaxRetries    = errors.New("invalid_max_retries")
	ErrInvalidUpdate        = errors.New("invalid_webhook_update")
	ErrSecretMissing        = errors.New("webhook_secret_missing")
	ErrEncryptionKeyMissing = errors.New("encryption_key_missing")
	ErrNotFound             = errors.New("webhook_not_found")
)
