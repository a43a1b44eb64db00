package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mapato/taxcore/internal/calculator"
	"github.com/mapato/taxcore/internal/deduction"
	"github.com/shopspring/decimal"
)

type assessRequest struct {
	Year        int               `json:"year"`
	FilingType  string            `json:"filing_type"`
	GrossIncome decimal.Decimal   `json:"gross_income"`
	Category    string            `json:"category,omitempty"`
	Claims      []deduction.Claim `json:"deductions,omitempty"`
}

// Assess runs a standalone liability computation without persisting a
// filing. Useful for what-if estimates ahead of drafting.
func (s *Server) Assess(c *gin.Context) {
	var req assessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	assessment, err := s.calcSvc.Compute(c.Request.Context(), calculator.ComputeRequest{
		Year:        req.Year,
		FilingType:  req.FilingType,
		GrossIncome: req.GrossIncome,
		Category:    req.Category,
		Claims:      req.Claims,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, assessment)
}
