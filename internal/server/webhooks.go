package server

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	deliverydomain "github.com/smallbiznis/payrouter/internal/delivery/domain"
	obstracing "github.com/smallbiznis/payrouter/internal/observability/tracing"
	"github.com/smallbiznis/payrouter/pkg/db/pagination"
	"go.opentelemetry.io/otel/attribute"
)

const (
	HeaderWebhookSignature = "X-Webhook-Signature"
	maxVerifyPayloadBytes  = 1 << 20
)

type recordTriggerRequest struct {
	Success       *bool   `json:"success"`
	FailureReason *string `json:"failure_reason,omitempty"`
}

type listWebhooksResponse struct {
	pagination.PageInfo
	Webhooks []deliverydomain.View `json:"webhooks"`
}

func (s *Server) CreateWebhook(c *gin.Context) {
	var req deliverydomain.CreateWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	webhook, err := s.deliverySvc.CreateWebhook(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": deliverydomain.NewView(*webhook)})
}

func (s *Server) ListWebhooks(c *gin.Context) {
	var query deliverydomain.ListWebhooksRequest
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.deliverySvc.ListWebhooks(c.Request.Context(), query)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": listWebhooksResponse{
		PageInfo: resp.PageInfo,
		Webhooks: views(resp.Webhooks),
	}})
}

func (s *Server) ListDueWebhooks(c *gin.Context) {
	q := readQuery(c)
	size := q.limit("limit", pagination.MaxPageSize)
	if err := q.Err(); err != nil {
		AbortWithError(c, err)
		return
	}
	webhooks, err := s.deliverySvc.DueForRetry(c.Request.Context(), size)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": views(webhooks)})
}

func (s *Server) GetWebhook(c *gin.Context) {
	webhook, err := s.deliverySvc.GetWebhook(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": deliverydomain.NewView(*webhook)})
}

func (s *Server) UpdateWebhook(c *gin.Context) {
	var req deliverydomain.UpdateWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	webhook, err := s.deliverySvc.UpdateWebhook(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": deliverydomain.NewView(*webhook)})
}

func (s *Server) DeleteWebhook(c *gin.Context) {
	if err := s.deliverySvc.DeleteWebhook(c.Request.Context(), c.Param("id")); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (s *Server) RecordWebhookTrigger(c *gin.Context) {
	var req recordTriggerRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Success == nil {
		AbortWithError(c, newValidationError("success", "invalid_success", "success is required"))
		return
	}

	webhook, err := s.deliverySvc.RecordTrigger(c.Request.Context(), c.Param("id"), *req.Success, req.FailureReason)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	annotateWebhook(c, webhook)

	c.JSON(http.StatusOK, gin.H{"data": deliverydomain.NewView(*webhook)})
}

func (s *Server) ResetWebhookRetries(c *gin.Context) {
	webhook, err := s.deliverySvc.ResetRetries(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	annotateWebhook(c, webhook)

	c.JSON(http.StatusOK, gin.H{"data": deliverydomain.NewView(*webhook)})
}

// VerifyWebhookSignature checks the raw request body against the signature
// header using the webhook's stored secret.
func (s *Server) VerifyWebhookSignature(c *gin.Context) {
	signature := strings.TrimSpace(c.GetHeader(HeaderWebhookSignature))
	if signature == "" {
		AbortWithError(c, newValidationError("signature", "invalid_signature", "signature header is required"))
		return
	}

	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxVerifyPayloadBytes))
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	valid, err := s.deliverySvc.VerifySignature(c.Request.Context(), c.Param("id"), payload, signature)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"valid": valid}})
}

func views(webhooks []deliverydomain.Webhook) []deliverydomain.View {
	out := make([]deliverydomain.View, 0, len(webhooks))
	for _, w := range webhooks {
		out = append(out, deliverydomain.NewView(w))
	}
	return out
}

func annotateWebhook(c *gin.Context, webhook *deliverydomain.Webhook) {
	obstracing.Annotate(c,
		attribute.String("webhook.state", string(webhook.State())),
		attribute.Int("webhook.retry_count", webhook.RetryCount),
	)
}
