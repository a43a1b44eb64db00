package service

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/mapato/taxcore/internal/amendment/domain"
	auditdomain "github.com/mapato/taxcore/internal/audit/domain"
	"github.com/mapato/taxcore/internal/calculator"
	"github.com/mapato/taxcore/internal/clock"
	filingdomain "github.com/mapato/taxcore/internal/filing/domain"
	obsmetrics "github.com/mapato/taxcore/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Repo       domain.Repository
	FilingRepo filingdomain.Repository
	Audit      auditdomain.Service `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       domain.Repository
	filingRepo filingdomain.Repository
	audit      auditdomain.Service
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("amendment.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		filingRepo: p.FilingRepo,
		audit:      p.Audit,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) CreateAmendment(ctx context.Context, req domain.CreateAmendmentRequest) (*domain.CreateAmendmentResponse, error) {
	filingID, err := snowflake.ParseString(req.FilingID)
	if err != nil || filingID == 0 {
		return nil, domain.ErrInvalidID
	}

	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return nil, domain.ErrInvalidReason
	}
	if req.GrossIncome == nil && req.Category == nil && req.Claims == nil && req.FormsData == nil {
		return nil, domain.ErrNoChanges
	}
	if req.GrossIncome != nil && req.GrossIncome.IsNegative() {
		return nil, calculator.ErrInvalidIncome
	}

	var (
		amendment *domain.Amendment
		draft     *filingdomain.Filing
	)

	err = s.db.Transaction(func(tx *gorm.DB) error {
		original, err := s.filingRepo.FindByIDForUpdate(ctx, tx, filingID)
		if err != nil {
			return err
		}
		if !amendable(original.Status) {
			return domain.ErrNotAmendable
		}

		// A second amendment has to wait until the first one is resolved.
		exists, err := s.filingRepo.HasOpenFiling(ctx, tx, original.TaxpayerID, original.Year, original.FilingType, original.ID)
		if err != nil {
			return err
		}
		if exists {
			return domain.ErrAmendmentInProgress
		}

		draft, err = s.buildDraft(original, req)
		if err != nil {
			return err
		}
		diff, err := diffJSON(original, draft)
		if err != nil {
			return err
		}

		if err := s.filingRepo.Insert(ctx, tx, draft); err != nil {
			return err
		}

		amendment = &domain.Amendment{
			ID:               s.genID.Generate(),
			TaxpayerID:       original.TaxpayerID,
			OriginalFilingID: original.ID,
			AmendedFilingID:  draft.ID,
			Reason:           reason,
			Diff:             diff,
			CreatedAt:        s.clock.Now(),
		}
		return s.repo.Insert(ctx, tx, amendment)
	})
	if err != nil {
		return nil, err
	}

	if s.obsMetrics != nil {
		s.obsMetrics.RecordAmendment(ctx, "created")
	}
	s.auditLog(ctx, amendment)

	resp, err := toResponse(amendment, domain.DeriveStatus(draft.Status))
	if err != nil {
		return nil, err
	}
	return &domain.CreateAmendmentResponse{
		Amendment: *resp,
		Draft:     filingdomain.ToResponse(draft),
	}, nil
}

func (s *Service) Get(ctx context.Context, id string) (*domain.Response, error) {
	amendmentID, err := snowflake.ParseString(id)
	if err != nil || amendmentID == 0 {
		return nil, domain.ErrInvalidID
	}
	amendment, err := s.repo.FindByID(ctx, s.db, amendmentID)
	if err != nil {
		return nil, err
	}
	status, err := s.deriveStatus(ctx, amendment)
	if err != nil {
		return nil, err
	}
	return toResponse(amendment, status)
}

func (s *Service) ListByFiling(ctx context.Context, filingID string) ([]domain.Response, error) {
	id, err := snowflake.ParseString(filingID)
	if err != nil || id == 0 {
		return nil, domain.ErrInvalidID
	}

	amendments, err := s.repo.ListByFiling(ctx, s.db, id)
	if err != nil {
		return nil, err
	}

	out := make([]domain.Response, 0, len(amendments))
	for _, amendment := range amendments {
		status, err := s.deriveStatus(ctx, amendment)
		if err != nil {
			return nil, err
		}
		resp, err := toResponse(amendment, status)
		if err != nil {
			return nil, err
		}
		out = append(out, *resp)
	}
	return out, nil
}

// deriveStatus reads the replacing filing's lifecycle for the amendment.
func (s *Service) deriveStatus(ctx context.Context, amendment *domain.Amendment) (string, error) {
	filing, err := s.filingRepo.FindByID(ctx, s.db, amendment.AmendedFilingID)
	if err != nil {
		return "", err
	}
	return domain.DeriveStatus(filing.Status), nil
}

func (s *Service) buildDraft(original *filingdomain.Filing, req domain.CreateAmendmentRequest) (*filingdomain.Filing, error) {
	now := s.clock.Now()
	supersedes := original.ID
	draft := &filingdomain.Filing{
		ID:           s.genID.Generate(),
		TaxpayerID:   original.TaxpayerID,
		Year:         original.Year,
		FilingType:   original.FilingType,
		Category:     original.Category,
		Status:       filingdomain.StatusDraft,
		Revision:     original.Revision + 1,
		SupersedesID: &supersedes,
		Currency:     original.Currency,
		GrossIncome:  original.GrossIncome,
		Deductions:   original.Deductions,
		FormsData:    original.FormsData,
		DueDate:      original.DueDate,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if req.GrossIncome != nil {
		draft.GrossIncome = *req.GrossIncome
	}
	if req.Category != nil {
		draft.Category = *req.Category
	}
	if req.Claims != nil {
		claimsJSON, err := json.Marshal(*req.Claims)
		if err != nil {
			return nil, err
		}
		draft.Deductions = datatypes.JSON(claimsJSON)
	}
	if req.FormsData != nil {
		formsJSON, err := json.Marshal(req.FormsData)
		if err != nil {
			return nil, err
		}
		draft.FormsData = datatypes.JSON(formsJSON)
	}
	return draft, nil
}

func amendable(status filingdomain.Status) bool {
	switch status {
	case filingdomain.StatusAccepted, filingdomain.StatusPaid:
		return true
	default:
		return false
	}
}

// diffJSON records the fields the amendment changes, old value first.
func diffJSON(original, draft *filingdomain.Filing) (datatypes.JSON, error) {
	diff := map[string]any{}

	if !original.GrossIncome.Equal(draft.GrossIncome) {
		diff["gross_income"] = map[string]string{
			"old": original.GrossIncome.StringFixed(2),
			"new": draft.GrossIncome.StringFixed(2),
		}
	}
	if original.Category != draft.Category {
		diff["category"] = map[string]string{
			"old": original.Category,
			"new": draft.Category,
		}
	}
	if !jsonEqual(original.Deductions, draft.Deductions) {
		diff["deductions"] = map[string]json.RawMessage{
			"old": rawOrNull(original.Deductions),
			"new": rawOrNull(draft.Deductions),
		}
	}
	if !jsonEqual(original.FormsData, draft.FormsData) {
		diff["forms_data"] = map[string]json.RawMessage{
			"old": rawOrNull(original.FormsData),
			"new": rawOrNull(draft.FormsData),
		}
	}

	if len(diff) == 0 {
		return nil, domain.ErrNoChanges
	}

	b, err := json.Marshal(diff)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(b), nil
}

func jsonEqual(a, b datatypes.JSON) bool {
	return string(a) == string(b)
}

func rawOrNull(v datatypes.JSON) json.RawMessage {
	if len(v) == 0 {
		return json.RawMessage("null")
	}
	return json.RawMessage(v)
}

func (s *Service) auditLog(ctx context.Context, amendment *domain.Amendment) {
	if s.audit == nil || amendment == nil {
		return
	}
	taxpayerID := amendment.TaxpayerID
	targetID := amendment.AmendedFilingID.String()
	if err := s.audit.AuditLog(ctx, &taxpayerID, "", nil, "filing.amended", "filing", &targetID, map[string]any{
		"original_filing_id": amendment.OriginalFilingID.String(),
		"reason":             amendment.Reason,
	}); err != nil {
		s.log.Warn("audit log failed", zap.Error(err))
	}
}

func toResponse(a *domain.Amendment, status string) (*domain.Response, error) {
	resp := &domain.Response{
		ID:               a.ID.String(),
		TaxpayerID:       a.TaxpayerID.String(),
		OriginalFilingID: a.OriginalFilingID.String(),
		AmendedFilingID:  a.AmendedFilingID.String(),
		Reason:           a.Reason,
		Status:           status,
		CreatedAt:        a.CreatedAt,
	}
	if len(a.Diff) > 0 {
		if err := json.Unmarshal(a.Diff, &resp.Diff); err != nil {
			return nil, err
		}
	}
	return resp, nil
}
