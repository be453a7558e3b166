package domain

import (
	"math"
	"time"

	"github.com/bwmarrin/snowflake"
)

type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusPending Status = "pending"
)

func (s Status) Valid() bool {
	switch s {
	case StatusSuccess, StatusFailed, StatusPending:
		return true
	}
	return false
}

const (
	DefaultCurrency      = "USD"
	DefaultRetentionDays = 90
)

// Event is one append-only record of a routed payment attempt.
type Event struct {
	ID             snowflake.ID   `json:"id"`
	ConfigID       *snowflake.ID  `json:"config_id,omitempty"`
	TransactionID  string         `json:"transaction_id"`
	ProviderName   string         `json:"provider_name"`
	Amount         float64        `json:"amount"`
	Currency       string         `json:"currency"`
	Status         Status         `json:"status"`
	ResponseTimeMs int64          `json:"response_time_ms"`
	ErrorCode      *string        `json:"error_code,omitempty"`
	ErrorMessage   *string        `json:"error_message,omitempty"`
	Metadata       map[string]any `json:"metadata"`
	CreatedAt      time.Time      `json:"created_at"`
}

// Filter narrows every read view. From and To are inclusive.
type Filter struct {
	ProviderName string
	ConfigID     *snowflake.ID
	From         *time.Time
	To           *time.Time
}

type Period string

const (
	PeriodHour  Period = "hour"
	PeriodDay   Period = "day"
	PeriodWeek  Period = "week"
	PeriodMonth Period = "month"
)

func (p Period) Valid() bool {
	switch p {
	case PeriodHour, PeriodDay, PeriodWeek, PeriodMonth:
		return true
	}
	return false
}

// Truncate returns the UTC start of the period containing t. Weeks start on
// Monday.
func (p Period) Truncate(t time.Time) time.Time {
	t = t.UTC()
	switch p {
	case PeriodHour:
		return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, time.UTC)
	case PeriodWeek:
		day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset)
	case PeriodMonth:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	default:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	}
}

type SuccessRate struct {
	ProviderName      string  `json:"provider_name"`
	TotalCount        int64   `json:"total_count"`
	SuccessCount      int64   `json:"success_count"`
	FailedCount       int64   `json:"failed_count"`
	SuccessRate       float64 `json:"success_rate"`
	AvgResponseTimeMs float64 `json:"avg_response_time_ms"`
}

type VolumeBucket struct {
	PeriodStart  time.Time `json:"period_start"`
	Count        int64     `json:"count"`
	TotalAmount  float64   `json:"total_amount"`
	AvgAmount    float64   `json:"avg_amount"`
	SuccessCount int64     `json:"success_count"`
	FailedCount  int64     `json:"failed_count"`
}

type ErrorGroup struct {
	ErrorCode       *string `json:"error_code"`
	ErrorMessage    *string `json:"error_message"`
	ProviderName    string  `json:"provider_name"`
	ErrorCount      int64   `json:"error_count"`
	ErrorPercentage float64 `json:"error_percentage"`
}

type Performance struct {
	ProviderName string  `json:"provider_name"`
	SampleCount  int     `json:"sample_count"`
	MeanMs       float64 `json:"mean_ms"`
	MinMs        float64 `json:"min_ms"`
	MaxMs        float64 `json:"max_ms"`
	P50Ms        float64 `json:"p50_ms"`
	P95Ms        float64 `json:"p95_ms"`
	P99Ms        float64 `json:"p99_ms"`
}

// Percentile interpolates linearly between order statistics at rank
// p*(n-1). sorted must be ascending; an empty sample yields 0.
func Percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[n-1]
	}
	rank := p * float64(n-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	return sorted[lo] + (sorted[hi]-sorted[lo])*(rank-float64(lo))
}

// Round2 rounds half away from zero to two decimals.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
