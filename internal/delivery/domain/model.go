package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

const DefaultMaxRetries = 3

type State string

const (
	StateFresh     State = "fresh"
	StateHealthy   State = "healthy"
	StateRetrying  State = "retrying"
	StateExhausted State = "exhausted"
)

// Webhook tracks delivery attempts for one provider notification endpoint.
// Its state is derived from the counters and timestamps, never stored.
type Webhook struct {
	ID                snowflake.ID `json:"id"`
	ConfigID          snowflake.ID `json:"config_id"`
	WebhookType       string       `json:"webhook_type"`
	EventType         string       `json:"event_type"`
	ProviderWebhookID *string      `json:"provider_webhook_id,omitempty"`
	URL               string       `json:"url"`
	IsActive          bool         `json:"is_active"`
	RetryCount        int          `json:"retry_count"`
	MaxRetries        int          `json:"max_retries"`
	LastTriggered     *time.Time   `json:"last_triggered,omitempty"`
	LastSuccess       *time.Time   `json:"last_success,omitempty"`
	LastFailure       *time.Time   `json:"last_failure,omitempty"`
	FailureReason     *string      `json:"failure_reason,omitempty"`
	CreatedAt         time.Time    `json:"created_at"`
	UpdatedAt         time.Time    `json:"updated_at"`

	// SealedSecret is the encrypted signing secret. It never leaves the
	// service layer in plaintext and is never serialized.
	SealedSecret []byte `json:"-"`
}

func (w Webhook) State() State {
	if w.LastTriggered == nil || (w.LastSuccess == nil && w.LastFailure == nil) {
		return StateFresh
	}
	if w.LastSuccess != nil && (w.LastFailure == nil || !w.LastSuccess.Before(*w.LastFailure)) {
		return StateHealthy
	}
	if w.RetryCount < w.MaxRetries {
		return StateRetrying
	}
	return StateExhausted
}

func (w Webhook) NeedsRetry() bool {
	return w.State() == StateRetrying
}

func (w Webhook) HasSecret() bool {
	return len(w.SealedSecret) > 0
}

// View is the outward shape of a webhook with its derived state.
type View struct {
	Webhook
	State      State `json:"state"`
	NeedsRetry bool  `json:"needs_retry"`
	HasSecret  bool  `json:"has_secret"`
}

func NewView(w Webhook) View {
	return View{
		Webhook:    w,
		State:      w.State(),
		NeedsRetry: w.NeedsRetry(),
		HasSecret:  w.HasSecret(),
	}
}
