package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	filingdomain "github.com/mapato/taxcore/internal/filing/domain"
	"github.com/mapato/taxcore/internal/validation"
	"github.com/shopspring/decimal"
)

type fakeFilingService struct {
	submitErr error
	getErr    error
	submitted []string
	filing    *filingdomain.Response
}

func (f *fakeFilingService) CreateDraft(ctx context.Context, req filingdomain.CreateDraftRequest) (*filingdomain.Response, error) {
	_ = ctx
	_ = req
	return f.filing, nil
}

func (f *fakeFilingService) UpdateDraft(ctx context.Context, req filingdomain.UpdateDraftRequest) (*filingdomain.Response, error) {
	_ = ctx
	_ = req
	return f.filing, nil
}

func (f *fakeFilingService) Validate(ctx context.Context, id string) (*validation.Result, error) {
	_ = ctx
	_ = id
	return &validation.Result{Valid: true}, nil
}

func (f *fakeFilingService) Compute(ctx context.Context, id string) (*filingdomain.Response, error) {
	_ = ctx
	_ = id
	return f.filing, nil
}

func (f *fakeFilingService) MarkReady(ctx context.Context, id string) (*filingdomain.Response, error) {
	_ = ctx
	_ = id
	return f.filing, nil
}

func (f *fakeFilingService) Submit(ctx context.Context, id string) (*filingdomain.Response, error) {
	_ = ctx
	f.submitted = append(f.submitted, id)
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	return f.filing, nil
}

func (f *fakeFilingService) SyncStatus(ctx context.Context, id string) (*filingdomain.Response, error) {
	_ = ctx
	_ = id
	return f.filing, nil
}

func (f *fakeFilingService) Get(ctx context.Context, id string) (*filingdomain.Response, error) {
	_ = ctx
	_ = id
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.filing, nil
}

func (f *fakeFilingService) List(ctx context.Context, req filingdomain.ListRequest) (*filingdomain.ListResponse, error) {
	_ = ctx
	_ = req
	return &filingdomain.ListResponse{}, nil
}

func (f *fakeFilingService) Settle(ctx context.Context, id string, paidTotal decimal.Decimal) (*filingdomain.Response, error) {
	_ = ctx
	_ = id
	_ = paidTotal
	return f.filing, nil
}

func (f *fakeFilingService) MarkOverdue(ctx context.Context, batchSize int) (int, error) {
	_ = ctx
	_ = batchSize
	return 0, nil
}

func (f *fakeFilingService) SyncPendingBatch(ctx context.Context, batchSize int) (int, error) {
	_ = ctx
	_ = batchSize
	return 0, nil
}

var _ filingdomain.Service = (*fakeFilingService)(nil)

func newFilingRouter(svc filingdomain.Service) *gin.Engine {
	gin.SetMode(gin.TestMode)

	srv := &Server{filingSvc: svc}
	router := gin.New()
	router.Use(ErrorHandlingMiddleware())
	router.GET("/v1/filings/:id", srv.GetFiling)
	router.POST("/v1/filings/:id/submit", srv.SubmitFiling)
	return router
}

func TestSubmitFilingHandler(t *testing.T) {
	svc := &fakeFilingService{
		filing: &filingdomain.Response{ID: "42", Status: filingdomain.StatusAccepted},
	}
	router := newFilingRouter(svc)

	req := httptest.NewRequest(http.MethodPost, "/v1/filings/42/submit", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
	if len(svc.submitted) != 1 || svc.submitted[0] != "42" {
		t.Fatalf("expected submit call for filing 42, got %v", svc.submitted)
	}
	if !strings.Contains(resp.Body.String(), `"accepted"`) {
		t.Fatalf("expected accepted status in body, got %s", resp.Body.String())
	}
}

func TestSubmitFilingHandlerValidationFailure(t *testing.T) {
	svc := &fakeFilingService{submitErr: filingdomain.ErrValidationFailed}
	router := newFilingRouter(svc)

	req := httptest.NewRequest(http.MethodPost, "/v1/filings/42/submit", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422, got %d", resp.Code)
	}
}

func TestSubmitFilingHandlerConflict(t *testing.T) {
	svc := &fakeFilingService{submitErr: filingdomain.ErrDuplicateFiling}
	router := newFilingRouter(svc)

	req := httptest.NewRequest(http.MethodPost, "/v1/filings/42/submit", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", resp.Code)
	}
}

func TestSubmitFilingHandlerInvalidTransition(t *testing.T) {
	svc := &fakeFilingService{submitErr: &filingdomain.InvalidTransitionError{
		From: filingdomain.StatusPaid,
		To:   filingdomain.StatusSubmitted,
	}}
	router := newFilingRouter(svc)

	req := httptest.NewRequest(http.MethodPost, "/v1/filings/42/submit", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), "invalid_transition") {
		t.Fatalf("expected invalid_transition in body, got %s", resp.Body.String())
	}
}

func TestGetFilingHandlerNotFound(t *testing.T) {
	svc := &fakeFilingService{getErr: filingdomain.ErrNotFound}
	router := newFilingRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/v1/filings/42", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", resp.Code)
	}
}
