package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	filingdomain "github.com/mapato/taxcore/internal/filing/domain"
	"github.com/mapato/taxcore/pkg/db/pagination"
)

func (s *Server) CreateFiling(c *gin.Context) {
	var req filingdomain.CreateDraftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.filingSvc.CreateDraft(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

func (s *Server) GetFiling(c *gin.Context) {
	resp, err := s.filingSvc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) UpdateFiling(c *gin.Context) {
	var req filingdomain.UpdateDraftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.ID = c.Param("id")

	resp, err := s.filingSvc.UpdateDraft(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

type listFilingsQuery struct {
	PageToken  string `form:"page_token"`
	PageSize   int    `form:"page_size"`
	TaxpayerID string `form:"taxpayer_id"`
	Year       string `form:"year"`
	FilingType string `form:"filing_type"`
	Status     string `form:"status"`
}

func (s *Server) ListFilings(c *gin.Context) {
	var query listFilingsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	year, err := parseOptionalInt(query.Year)
	if err != nil {
		AbortWithError(c, newValidationError("year", "invalid_year", "invalid year"))
		return
	}

	req := filingdomain.ListRequest{
		Pagination: pagination.Pagination{
			PageToken: strings.TrimSpace(query.PageToken),
			PageSize:  query.PageSize,
		},
		TaxpayerID: strings.TrimSpace(query.TaxpayerID),
		FilingType: strings.TrimSpace(query.FilingType),
		Status:     strings.TrimSpace(query.Status),
	}
	if year != nil {
		req.Year = *year
	}

	resp, err := s.filingSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Filings, "page_info": resp.PageInfo})
}

func (s *Server) ValidateFiling(c *gin.Context) {
	result, err := s.filingSvc.Validate(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (s *Server) ComputeFiling(c *gin.Context) {
	resp, err := s.filingSvc.Compute(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) MarkReadyFiling(c *gin.Context) {
	resp, err := s.filingSvc.MarkReady(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) SubmitFiling(c *gin.Context) {
	resp, err := s.filingSvc.Submit(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) SyncFiling(c *gin.Context) {
	resp, err := s.filingSvc.SyncStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) ListFilingPayments(c *gin.Context) {
	events, err := s.paymentSvc.ListByFiling(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": events})
}

func (s *Server) ListFilingAmendments(c *gin.Context) {
	amendments, err := s.amendmentSvc.ListByFiling(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": amendments})
}
