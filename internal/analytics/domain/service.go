package domain

import (
	"context"
	"errors"
)

// Service appends analytics events and answers read-side views over them.
// RecordEvent is the only mutation apart from retention pruning.
type Service interface {
	RecordEvent(ctx context.Context, req RecordEventRequest) (*Event, error)
	SuccessRates(ctx context.Context, filter Filter) ([]SuccessRate, error)
	VolumeOverTime(ctx context.Context, filter Filter, period Period) ([]VolumeBucket, error)
	ErrorAnalysis(ctx context.Context, filter Filter) ([]ErrorGroup, error)
	PerformanceMetrics(ctx context.Context, filter Filter) ([]Performance, error)
	CleanupOldData(ctx context.Context, daysToKeep int) (int64, error)
}

type RecordEventRequest struct {
	ConfigID       string         `json:"config_id,omitempty"`
	TransactionID  string         `json:"transaction_id"`
	ProviderName   string         `json:"provider_name"`
	Amount         float64        `json:"amount"`
	Currency       string         `json:"currency,omitempty"`
	Status         Status         `json:"status"`
	ResponseTimeMs int64          `json:"response_time_ms"`
	ErrorCode      *string        `json:"error_code,omitempty"`
	ErrorMessage   *string        `json:"error_message,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

var (
	ErrInvalidConfig       = errors.New("invalid_config_id")
	ErrInvalidTransaction  = errors.New("invalid_transaction_id")
	ErrInvalidProvider     = errors.New("invalid_provider_name")
	ErrInvalidAmount       = errors.New("invalid_amount")
	ErrInvalidCurrency     = errors.New("invalid_currency")
	ErrInvalidStatus       = errors.New("invalid_status")
	ErrInvalidResponseTime = errors.New("invalid_response_time")
	ErrInvalidPeriod       = errors.New("invalid_period")
	ErrInvalidRange        = errors.New("invalid_date_range")
	ErrInvalidRetention    = errors.New("invalid_retention_days")
)
