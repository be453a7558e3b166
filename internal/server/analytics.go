package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	analyticsdomain "github.com/smallbiznis/payrouter/internal/analytics/domain"
	obstracing "github.com/smallbiznis/payrouter/internal/observability/tracing"
	"go.opentelemetry.io/otel/attribute"
)

func (s *Server) RecordAnalyticsEvent(c *gin.Context) {
	var req analyticsdomain.RecordEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	event, err := s.analyticsSvc.RecordEvent(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": event})
}

func (s *Server) GetSuccessRates(c *gin.Context) {
	filter, ok := bindAnalyticsFilter(c)
	if !ok {
		return
	}

	rates, err := s.analyticsSvc.SuccessRates(c.Request.Context(), filter)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": rates})
}

func (s *Server) GetVolumeOverTime(c *gin.Context) {
	filter, ok := bindAnalyticsFilter(c)
	if !ok {
		return
	}

	period := analyticsdomain.Period(strings.ToLower(strings.TrimSpace(c.Query("period"))))
	if period == "" {
		period = analyticsdomain.PeriodDay
	}
	obstracing.Annotate(c, attribute.String("analytics.period", string(period)))

	buckets, err := s.analyticsSvc.VolumeOverTime(c.Request.Context(), filter, period)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": buckets})
}

func (s *Server) GetErrorAnalysis(c *gin.Context) {
	filter, ok := bindAnalyticsFilter(c)
	if !ok {
		return
	}

	groups, err := s.analyticsSvc.ErrorAnalysis(c.Request.Context(), filter)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": groups})
}

func (s *Server) GetPerformanceMetrics(c *gin.Context) {
	filter, ok := bindAnalyticsFilter(c)
	if !ok {
		return
	}

	metrics, err := s.analyticsSvc.PerformanceMetrics(c.Request.Context(), filter)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": metrics})
}

// CleanupAnalytics prunes events older than days_to_keep. Omitting the
// parameter applies the configured retention.
func (s *Server) CleanupAnalytics(c *gin.Context) {
	q := readQuery(c)
	days := q.int("days_to_keep")
	if err := q.Err(); err != nil {
		AbortWithError(c, err)
		return
	}

	keep := 0
	if days != nil {
		keep = *days
	}
	deleted, err := s.analyticsSvc.CleanupOldData(c.Request.Context(), keep)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"deleted": deleted}})
}

func bindAnalyticsFilter(c *gin.Context) (analyticsdomain.Filter, bool) {
	q := readQuery(c)
	filter := analyticsdomain.Filter{
		ProviderName: q.text("provider_name"),
		ConfigID:     q.snowflakeID("config_id"),
		From:         q.instant("from", false),
		To:           q.instant("to", true),
	}
	if err := q.Err(); err != nil {
		AbortWithError(c, err)
		return analyticsdomain.Filter{}, false
	}
	return filter, true
}
