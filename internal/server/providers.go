package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	providerdomain "github.com/smallbiznis/payrouter/internal/provider/domain"
)

type setProviderHealthRequest struct {
	HealthStatus providerdomain.HealthStatus `json:"health_status"`
}

func (s *Server) CreateProvider(c *gin.Context) {
	var req providerdomain.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	provider, err := s.providerSvc.Create(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": provider})
}

func (s *Server) ListProviders(c *gin.Context) {
	var query providerdomain.ListRequest
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	providers, err := s.providerSvc.List(c.Request.Context(), query)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": providers})
}

func (s *Server) ListActiveProviders(c *gin.Context) {
	providers, err := s.providerSvc.ListActive(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": providers})
}

func (s *Server) GetProvider(c *gin.Context) {
	provider, err := s.providerSvc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": provider})
}

func (s *Server) UpdateProvider(c *gin.Context) {
	var req providerdomain.UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	provider, err := s.providerSvc.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": provider})
}

func (s *Server) ActivateProvider(c *gin.Context) {
	s.setProviderActive(c, true)
}

func (s *Server) DeactivateProvider(c *gin.Context) {
	s.setProviderActive(c, false)
}

func (s *Server) setProviderActive(c *gin.Context, active bool) {
	provider, err := s.providerSvc.SetActive(c.Request.Context(), c.Param("id"), active)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": provider})
}

func (s *Server) SetProviderHealth(c *gin.Context) {
	var req setProviderHealthRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	provider, err := s.providerSvc.SetHealthStatus(c.Request.Context(), c.Param("id"), req.HealthStatus)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": provider})
}

func (s *Server) DeleteProvider(c *gin.Context) {
	if err := s.providerSvc.Delete(c.Request.Context(), c.Param("id")); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}
