package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/payrouter/internal/condition"
	obstracing "github.com/smallbiznis/payrouter/internal/observability/tracing"
	routingdomain "github.com/smallbiznis/payrouter/internal/routing/domain"
	"go.opentelemetry.io/otel/attribute"
)

// SelectProvider answers with 200 for both outcomes; a missing provider is
// reported through the decision body.
func (s *Server) SelectProvider(c *gin.Context) {
	var req condition.TransactionContext
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	decision, err := s.routingSvc.SelectProvider(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	annotateDecision(c, *decision)
	c.JSON(http.StatusOK, gin.H{"data": decision})
}

func (s *Server) CreateRule(c *gin.Context) {
	var req routingdomain.CreateRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	rule, err := s.routingSvc.CreateRule(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": rule})
}

func (s *Server) ListRules(c *gin.Context) {
	var query routingdomain.ListRulesRequest
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	rules, err := s.routingSvc.ListRules(c.Request.Context(), query)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": rules})
}

func (s *Server) GetRule(c *gin.Context) {
	rule, err := s.routingSvc.GetRule(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": rule})
}

func (s *Server) UpdateRule(c *gin.Context) {
	var req routingdomain.UpdateRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	rule, err := s.routingSvc.UpdateRule(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": rule})
}

func (s *Server) DeleteRule(c *gin.Context) {
	if err := s.routingSvc.DeleteRule(c.Request.Context(), c.Param("id")); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func annotateDecision(c *gin.Context, decision routingdomain.Decision) {
	attrs := []attribute.KeyValue{
		attribute.String("routing.outcome", string(decision.Outcome)),
		attribute.String("routing.reason", string(decision.Reason)),
	}
	if decision.Routed() {
		attrs = append(attrs, attribute.String("routing.provider", decision.ProviderName()))
	}
	if decision.RuleID != nil {
		attrs = append(attrs, attribute.String("routing.rule_id", decision.RuleID.String()))
	}
	obstracing.Annotate(c, attrs...)
}
