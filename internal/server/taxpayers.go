package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	taxpayerdomain "github.com/mapato/taxcore/internal/taxpayer/domain"
)

func (s *Server) RegisterTaxpayer(c *gin.Context) {
	var req taxpayerdomain.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.taxpayerSvc.Register(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

func (s *Server) GetTaxpayer(c *gin.Context) {
	resp, err := s.taxpayerSvc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) GetTaxpayerByPIN(c *gin.Context) {
	pin := strings.TrimSpace(c.Query("pin"))
	if pin == "" {
		AbortWithError(c, newValidationError("pin", "missing_pin", "pin query parameter is required"))
		return
	}

	resp, err := s.taxpayerSvc.GetByPIN(c.Request.Context(), pin)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) DeactivateTaxpayer(c *gin.Context) {
	resp, err := s.taxpayerSvc.Deactivate(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}
