package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	amendmentdomain "github.com/mapato/taxcore/internal/amendment/domain"
)

func (s *Server) CreateAmendment(c *gin.Context) {
	var req amendmentdomain.CreateAmendmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.amendmentSvc.CreateAmendment(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

func (s *Server) GetAmendment(c *gin.Context) {
	resp, err := s.amendmentSvc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}
