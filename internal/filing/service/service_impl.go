package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/mapato/taxcore/internal/audit/domain"
	"github.com/mapato/taxcore/internal/calculator"
	"github.com/mapato/taxcore/internal/clock"
	"github.com/mapato/taxcore/internal/deduction"
	"github.com/mapato/taxcore/internal/filing/domain"
	gwdomain "github.com/mapato/taxcore/internal/gateway/domain"
	obsmetrics "github.com/mapato/taxcore/internal/observability/metrics"
	"github.com/mapato/taxcore/internal/ratetable"
	taxpayerdomain "github.com/mapato/taxcore/internal/taxpayer/domain"
	"github.com/mapato/taxcore/internal/validation"
	"github.com/mapato/taxcore/pkg/db/pagination"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	GenID        *snowflake.Node
	Clock        clock.Clock
	Repo         domain.Repository
	TaxpayerRepo taxpayerdomain.Repository
	Validator    *validation.Engine
	Calculator   *calculator.Service
	Tables       *ratetable.Store
	Gateway      gwdomain.Gateway
	Audit        auditdomain.Service `optional:"true"`
	ObsMetrics   *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db           *gorm.DB
	log          *zap.Logger
	genID        *snowflake.Node
	clock        clock.Clock
	repo         domain.Repository
	taxpayerRepo taxpayerdomain.Repository
	validator    *validation.Engine
	calculator   *calculator.Service
	tables       *ratetable.Store
	gateway      gwdomain.Gateway
	audit        auditdomain.Service
	obsMetrics   *obsmetrics.Metrics

	locks *filingLocks
}

func NewService(p Params) domain.Service {
	return &Service{
		db:           p.DB,
		log:          p.Log.Named("filing.service"),
		genID:        p.GenID,
		clock:        p.Clock,
		repo:         p.Repo,
		taxpayerRepo: p.TaxpayerRepo,
		validator:    p.Validator,
		calculator:   p.Calculator,
		tables:       p.Tables,
		gateway:      p.Gateway,
		audit:        p.Audit,
		obsMetrics:   p.ObsMetrics,
		locks:        newFilingLocks(),
	}
}

func (s *Service) CreateDraft(ctx context.Context, req domain.CreateDraftRequest) (*domain.Response, error) {
	taxpayerID, err := snowflake.ParseString(req.TaxpayerID)
	if err != nil || taxpayerID == 0 {
		return nil, domain.ErrInvalidID
	}

	table, err := s.tables.ForYear(req.Year)
	if err != nil {
		return nil, err
	}
	if !calculator.ValidType(req.FilingType) {
		return nil, calculator.ErrUnsupportedFilingType
	}
	if req.GrossIncome.IsNegative() {
		return nil, calculator.ErrInvalidIncome
	}

	claimsJSON, err := marshalClaims(req.Claims)
	if err != nil {
		return nil, err
	}
	formsJSON, err := marshalForms(req.FormsData)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	filing := &domain.Filing{
		ID:          s.genID.Generate(),
		TaxpayerID:  taxpayerID,
		Year:        req.Year,
		FilingType:  req.FilingType,
		Category:    req.Category,
		Status:      domain.StatusDraft,
		Revision:    0,
		Currency:    table.Currency,
		GrossIncome: req.GrossIncome,
		Deductions:  claimsJSON,
		FormsData:   formsJSON,
		DueDate:     domain.DueDateFor(req.Year),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		taxpayer, err := s.taxpayerRepo.FindByID(ctx, tx, taxpayerID)
		if err != nil {
			return err
		}
		if !taxpayer.IsActive {
			return domain.ErrTaxpayerInactive
		}

		exists, err := s.repo.HasOpenFiling(ctx, tx, taxpayerID, req.Year, req.FilingType)
		if err != nil {
			return err
		}
		if exists {
			return domain.ErrDuplicateFiling
		}

		return s.repo.Insert(ctx, tx, filing)
	})
	if err != nil {
		return nil, err
	}

	s.auditLog(ctx, filing, "filing.draft_created", map[string]any{
		"year":        filing.Year,
		"filing_type": filing.FilingType,
		"revision":    filing.Revision,
	})

	return domain.ToResponse(filing), nil
}

func (s *Service) UpdateDraft(ctx context.Context, req domain.UpdateDraftRequest) (*domain.Response, error) {
	id, err := snowflake.ParseString(req.ID)
	if err != nil || id == 0 {
		return nil, domain.ErrInvalidID
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	var filing *domain.Filing
	err = s.db.Transaction(func(tx *gorm.DB) error {
		f, err := s.repo.FindByIDForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		// An unresolved submission may already be with the authority;
		// the inputs are frozen until reconciliation settles it.
		if !f.Editable() || f.SyncPending {
			return domain.ErrNotDraft
		}
		// Editing a ready filing demotes it, the ready guard has to be
		// re-earned on the new inputs.
		if f.Status == domain.StatusReady {
			if err := s.transition(ctx, f, domain.StatusDraft); err != nil {
				return err
			}
		}

		if req.GrossIncome != nil {
			if req.GrossIncome.IsNegative() {
				return calculator.ErrInvalidIncome
			}
			f.GrossIncome = *req.GrossIncome
		}
		if req.Category != nil {
			f.Category = *req.Category
		}
		if req.Claims != nil {
			claimsJSON, err := marshalClaims(*req.Claims)
			if err != nil {
				return err
			}
			f.Deductions = claimsJSON
		}
		if req.FormsData != nil {
			formsJSON, err := marshalForms(req.FormsData)
			if err != nil {
				return err
			}
			f.FormsData = formsJSON
		}

		// Stale results do not survive an edit.
		f.Assessment = nil
		f.ValidationResult = nil
		f.TaxableIncome = decimal.Zero
		f.TaxDue = decimal.Zero

		if err := s.repo.Update(ctx, tx, f); err != nil {
			return err
		}
		filing = f
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.auditLog(ctx, filing, "filing.draft_updated", nil)

	return domain.ToResponse(filing), nil
}

func (s *Service) Validate(ctx context.Context, id string) (*validation.Result, error) {
	filingID, err := snowflake.ParseString(id)
	if err != nil || filingID == 0 {
		return nil, domain.ErrInvalidID
	}

	unlock := s.locks.Lock(filingID)
	defer unlock()

	var result *validation.Result
	err = s.db.Transaction(func(tx *gorm.DB) error {
		f, err := s.repo.FindByIDForUpdate(ctx, tx, filingID)
		if err != nil {
			return err
		}

		taxpayer, err := s.taxpayerRepo.FindByID(ctx, tx, f.TaxpayerID)
		if err != nil {
			return err
		}

		in, err := validationInput(f, taxpayer)
		if err != nil {
			return err
		}
		result = s.validator.Validate(ctx, in)

		resultJSON, err := json.Marshal(result)
		if err != nil {
			return err
		}
		f.ValidationResult = datatypes.JSON(resultJSON)
		return s.repo.Update(ctx, tx, f)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Service) Compute(ctx context.Context, id string) (*domain.Response, error) {
	filingID, err := snowflake.ParseString(id)
	if err != nil || filingID == 0 {
		return nil, domain.ErrInvalidID
	}

	unlock := s.locks.Lock(filingID)
	defer unlock()

	var filing *domain.Filing
	err = s.db.Transaction(func(tx *gorm.DB) error {
		f, err := s.repo.FindByIDForUpdate(ctx, tx, filingID)
		if err != nil {
			return err
		}
		if !f.Editable() {
			return domain.ErrNotDraft
		}

		if err := s.assess(ctx, f); err != nil {
			return err
		}
		if err := s.repo.Update(ctx, tx, f); err != nil {
			return err
		}
		filing = f
		return nil
	})
	if err != nil {
		return nil, err
	}

	return domain.ToResponse(filing), nil
}

// MarkReady validates and assesses a draft. Zero error findings is the
// guard for the ready state; the findings are persisted either way so
// the filer can review them.
func (s *Service) MarkReady(ctx context.Context, id string) (*domain.Response, error) {
	filingID, err := snowflake.ParseString(id)
	if err != nil || filingID == 0 {
		return nil, domain.ErrInvalidID
	}

	unlock := s.locks.Lock(filingID)
	defer unlock()

	var (
		filing  *domain.Filing
		already bool
		invalid bool
	)

	err = s.db.Transaction(func(tx *gorm.DB) error {
		f, err := s.repo.FindByIDForUpdate(ctx, tx, filingID)
		if err != nil {
			return err
		}

		switch f.Status {
		case domain.StatusDraft:
		case domain.StatusReady:
			filing = f
			already = true
			return nil
		default:
			return domain.ErrNotDraft
		}

		tp, err := s.taxpayerRepo.FindByID(ctx, tx, f.TaxpayerID)
		if err != nil {
			return err
		}
		if !tp.IsActive {
			return domain.ErrTaxpayerInactive
		}

		exclude := []snowflake.ID{f.ID}
		if f.SupersedesID != nil {
			exclude = append(exclude, *f.SupersedesID)
		}
		exists, err := s.repo.HasOpenFiling(ctx, tx, f.TaxpayerID, f.Year, f.FilingType, exclude...)
		if err != nil {
			return err
		}
		if exists {
			return domain.ErrDuplicateFiling
		}

		in, err := validationInput(f, tp)
		if err != nil {
			return err
		}
		result := s.validator.Validate(ctx, in)
		resultJSON, err := json.Marshal(result)
		if err != nil {
			return err
		}
		f.ValidationResult = datatypes.JSON(resultJSON)

		if !result.Valid {
			invalid = true
			return s.repo.Update(ctx, tx, f)
		}

		if err := s.assess(ctx, f); err != nil {
			return err
		}
		if err := s.transition(ctx, f, domain.StatusReady); err != nil {
			return err
		}
		if err := s.repo.Update(ctx, tx, f); err != nil {
			return err
		}
		filing = f
		return nil
	})
	if err != nil {
		return nil, err
	}
	if invalid {
		return nil, domain.ErrValidationFailed
	}
	if already {
		return domain.ToResponse(filing), nil
	}

	s.auditLog(ctx, filing, "filing.ready", map[string]any{
		"tax_due": filing.TaxDue.StringFixed(2),
	})

	return domain.ToResponse(filing), nil
}

// Submit hands a ready filing to the authority and applies the outcome.
// Submitting a filing that is already with the authority returns its
// current state unchanged.
func (s *Service) Submit(ctx context.Context, id string) (*domain.Response, error) {
	filingID, err := snowflake.ParseString(id)
	if err != nil || filingID == 0 {
		return nil, domain.ErrInvalidID
	}

	unlock := s.locks.Lock(filingID)
	defer unlock()

	var (
		filing   *domain.Filing
		taxpayer *taxpayerdomain.Taxpayer
		settled  bool
	)

	err = s.db.Transaction(func(tx *gorm.DB) error {
		f, err := s.repo.FindByIDForUpdate(ctx, tx, filingID)
		if err != nil {
			return err
		}

		switch f.Status {
		case domain.StatusReady:
		case domain.StatusSubmitted, domain.StatusAccepted:
			filing = f
			settled = true
			return nil
		default:
			return domain.ErrNotReady
		}

		tp, err := s.taxpayerRepo.FindByID(ctx, tx, f.TaxpayerID)
		if err != nil {
			return err
		}
		if !tp.IsActive {
			return domain.ErrTaxpayerInactive
		}
		taxpayer = tp
		filing = f
		return nil
	})
	if err != nil {
		return nil, err
	}
	if settled {
		return domain.ToResponse(filing), nil
	}

	receipt, err := s.gateway.SubmitFiling(ctx, gwdomain.Submission{
		FilingID:   filing.ID.String(),
		Revision:   filing.Revision,
		PIN:        taxpayer.PIN,
		Year:       filing.Year,
		FilingType: filing.FilingType,
		TaxDue:     filing.TaxDue,
		FormsData:  []byte(filing.FormsData),
	})

	switch {
	case err == nil:
		filing, err = s.markSubmitted(ctx, filingID, receipt.Ref)
		if err != nil {
			return nil, err
		}
	case errors.Is(err, gwdomain.ErrIndeterminate):
		// The authority may or may not hold the submission. The filing
		// keeps its pre-call state plus a marker for the sync job.
		filing, err = s.markIndeterminate(ctx, filingID)
		if err != nil {
			return nil, err
		}
		s.auditLog(ctx, filing, "filing.sync_pending", nil)
		return domain.ToResponse(filing), nil
	default:
		s.log.Warn("submission failed",
			zap.String("filing_id", filing.ID.String()),
			zap.Error(err),
		)
		return nil, err
	}

	if s.obsMetrics != nil {
		s.obsMetrics.RecordFilingSubmitted(ctx, filing.FilingType)
	}
	s.auditLog(ctx, filing, "filing.submitted", map[string]any{
		"external_ref": filing.ExternalRef,
		"tax_due":      filing.TaxDue.StringFixed(2),
	})

	// One immediate status check resolves most submissions without
	// waiting for the sync job. A flaky authority here is not an error.
	if resolved, err := s.resolveOutcome(ctx, filingID, filing.ExternalRef); err == nil {
		filing = resolved
	} else if !errors.Is(err, gwdomain.ErrUnavailable) {
		return nil, err
	}

	return domain.ToResponse(filing), nil
}

// SyncStatus reconciles one submitted filing against the authority. For
// filings with no receipt the submission is replayed; the authority
// dedupes by filing id and revision.
func (s *Service) SyncStatus(ctx context.Context, id string) (*domain.Response, error) {
	filingID, err := snowflake.ParseString(id)
	if err != nil || filingID == 0 {
		return nil, domain.ErrInvalidID
	}

	unlock := s.locks.Lock(filingID)
	defer unlock()

	filing, err := s.syncOne(ctx, filingID)
	if err != nil {
		return nil, err
	}
	return domain.ToResponse(filing), nil
}

func (s *Service) syncOne(ctx context.Context, filingID snowflake.ID) (*domain.Filing, error) {
	filing, err := s.repo.FindByID(ctx, s.db, filingID)
	if err != nil {
		return nil, err
	}

	switch {
	case filing.Status == domain.StatusReady && filing.SyncPending:
		// An indeterminate submission. Replaying it recovers the
		// receipt: the authority dedupes by filing id and revision.
		taxpayer, err := s.taxpayerRepo.FindByID(ctx, s.db, filing.TaxpayerID)
		if err != nil {
			return nil, err
		}
		receipt, err := s.gateway.SubmitFiling(ctx, gwdomain.Submission{
			FilingID:   filing.ID.String(),
			Revision:   filing.Revision,
			PIN:        taxpayer.PIN,
			Year:       filing.Year,
			FilingType: filing.FilingType,
			TaxDue:     filing.TaxDue,
			FormsData:  []byte(filing.FormsData),
		})
		if err != nil {
			if errors.Is(err, gwdomain.ErrIndeterminate) || errors.Is(err, gwdomain.ErrUnavailable) {
				// Still unresolved, the next run tries again.
				return filing, nil
			}
			return nil, err
		}
		filing, err = s.markSubmitted(ctx, filingID, receipt.Ref)
		if err != nil {
			return nil, err
		}
	case filing.Status == domain.StatusSubmitted:
	default:
		return nil, domain.ErrNothingToSync
	}

	resolved, err := s.resolveOutcome(ctx, filingID, filing.ExternalRef)
	if err != nil {
		if errors.Is(err, gwdomain.ErrUnavailable) {
			return filing, nil
		}
		return nil, err
	}
	return resolved, nil
}

func (s *Service) Get(ctx context.Context, id string) (*domain.Response, error) {
	filingID, err := snowflake.ParseString(id)
	if err != nil || filingID == 0 {
		return nil, domain.ErrInvalidID
	}
	filing, err := s.repo.FindByID(ctx, s.db, filingID)
	if err != nil {
		return nil, err
	}
	return domain.ToResponse(filing), nil
}

func (s *Service) List(ctx context.Context, req domain.ListRequest) (*domain.ListResponse, error) {
	taxpayerID, err := snowflake.ParseString(req.TaxpayerID)
	if err != nil || taxpayerID == 0 {
		return nil, domain.ErrInvalidID
	}

	var cursor *domain.Cursor
	if req.PageToken != "" {
		decoded, err := pagination.DecodeCursor(req.PageToken)
		if err != nil {
			return nil, domain.ErrInvalidPageToken
		}
		cursor, err = parseCursor(decoded)
		if err != nil {
			return nil, domain.ErrInvalidPageToken
		}
	}

	limit := req.PageSize
	if limit <= 0 {
		limit = 10
	}

	filings, err := s.repo.List(ctx, s.db, domain.ListFilter{
		TaxpayerID: taxpayerID,
		Year:       req.Year,
		FilingType: req.FilingType,
		Status:     domain.Status(req.Status),
		Cursor:     cursor,
		Limit:      limit,
	})
	if err != nil {
		return nil, err
	}

	pageInfo := pagination.BuildCursorPageInfo(filings, int32(limit), func(f *domain.Filing) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        f.ID.String(),
			CreatedAt: f.CreatedAt.Format(time.RFC3339Nano),
		})
		if err != nil {
			return ""
		}
		return token
	})

	if len(filings) > limit {
		filings = filings[:limit]
	}

	out := make([]domain.Response, 0, len(filings))
	for _, f := range filings {
		out = append(out, *domain.ToResponse(f))
	}

	return &domain.ListResponse{
		PageInfo: *pageInfo,
		Filings:  out,
	}, nil
}

// Settle reconciles the completed payment total against the liability.
// An overpayment is flagged, never clamped; a partial payment is
// recorded without a transition.
func (s *Service) Settle(ctx context.Context, id string, paidTotal decimal.Decimal) (*domain.Response, error) {
	filingID, err := snowflake.ParseString(id)
	if err != nil || filingID == 0 {
		return nil, domain.ErrInvalidID
	}
	if paidTotal.IsNegative() {
		return nil, domain.ErrInvalidAmount
	}

	unlock := s.locks.Lock(filingID)
	defer unlock()

	var filing *domain.Filing
	err = s.db.Transaction(func(tx *gorm.DB) error {
		f, err := s.repo.FindByIDForUpdate(ctx, tx, filingID)
		if err != nil {
			return err
		}

		f.PaidTotal = paidTotal
		if paidTotal.GreaterThan(f.TaxDue) {
			f.OverpaymentFlagged = true
		}
		// Only an exact settlement closes the filing. An overpaid
		// balance stays on the flagged filing until someone resolves
		// the excess.
		if paidTotal.Equal(f.TaxDue) && domain.CanTransition(f.Status, domain.StatusPaid) {
			if err := s.transition(ctx, f, domain.StatusPaid); err != nil {
				return err
			}
			paidAt := s.clock.Now()
			f.PaidAt = &paidAt
		}

		if err := s.repo.Update(ctx, tx, f); err != nil {
			return err
		}
		filing = f
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.auditLog(ctx, filing, "filing.settled", map[string]any{
		"paid_total":          filing.PaidTotal.StringFixed(2),
		"status":              string(filing.Status),
		"overpayment_flagged": filing.OverpaymentFlagged,
	})

	return domain.ToResponse(filing), nil
}

// MarkOverdue flags unpaid filings past their due date. The flag is
// advisory late-filing metadata; submission and payment stay possible.
func (s *Service) MarkOverdue(ctx context.Context, batchSize int) (int, error) {
	now := s.clock.Now()
	candidates, err := s.repo.ListOverdueCandidates(ctx, s.db, now, batchSize)
	if err != nil {
		return 0, err
	}

	var count int
	for _, candidate := range candidates {
		if err := s.markOverdueOne(ctx, candidate.ID, now); err != nil {
			s.log.Warn("failed to mark filing overdue",
				zap.String("filing_id", candidate.ID.String()),
				zap.Error(err),
			)
			continue
		}
		count++
	}
	return count, nil
}

func (s *Service) markOverdueOne(ctx context.Context, id snowflake.ID, now time.Time) error {
	unlock := s.locks.Lock(id)
	defer unlock()

	return s.db.Transaction(func(tx *gorm.DB) error {
		f, err := s.repo.FindByIDForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		// Re-check under the lock, a settle may have landed in between.
		if f.Overdue || !f.DueDate.Before(now) {
			return nil
		}
		switch f.Status {
		case domain.StatusPaid, domain.StatusRejected, domain.StatusSuperseded:
			return nil
		}
		if !f.TaxDue.GreaterThan(f.PaidTotal) {
			return nil
		}

		f.Overdue = true
		if err := s.repo.Update(ctx, tx, f); err != nil {
			return err
		}
		s.auditLog(ctx, f, "filing.overdue", map[string]any{
			"due_date": f.DueDate,
		})
		return nil
	})
}

// SyncPendingBatch reconciles filings left with an indeterminate
// submission outcome.
func (s *Service) SyncPendingBatch(ctx context.Context, batchSize int) (int, error) {
	pending, err := s.repo.ListSyncPending(ctx, s.db, batchSize)
	if err != nil {
		return 0, err
	}

	var count int
	for _, candidate := range pending {
		unlock := s.locks.Lock(candidate.ID)
		resolved, err := s.syncOne(ctx, candidate.ID)
		unlock()
		if err != nil {
			if errors.Is(err, domain.ErrNothingToSync) {
				continue
			}
			s.log.Warn("failed to sync filing",
				zap.String("filing_id", candidate.ID.String()),
				zap.Error(err),
			)
			continue
		}
		if !resolved.SyncPending {
			count++
		}
	}
	return count, nil
}

// markSubmitted moves a ready filing to submitted and records the
// immutable receipt. A filing already past ready is returned as is, the
// authority outcome won the race.
func (s *Service) markSubmitted(ctx context.Context, id snowflake.ID, ref string) (*domain.Filing, error) {
	var filing *domain.Filing
	err := s.db.Transaction(func(tx *gorm.DB) error {
		f, err := s.repo.FindByIDForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}

		if f.Status == domain.StatusReady {
			if err := s.transition(ctx, f, domain.StatusSubmitted); err != nil {
				return err
			}
			submittedAt := s.clock.Now()
			f.SubmittedAt = &submittedAt
		}
		if f.ExternalRef == "" && ref != "" {
			f.ExternalRef = ref
		}
		f.SyncPending = false

		if err := s.repo.Update(ctx, tx, f); err != nil {
			return err
		}
		filing = f
		return nil
	})
	if err != nil {
		return nil, err
	}
	return filing, nil
}

// markIndeterminate flags an unresolved submission outcome without
// touching the filing's state.
func (s *Service) markIndeterminate(ctx context.Context, id snowflake.ID) (*domain.Filing, error) {
	var filing *domain.Filing
	err := s.db.Transaction(func(tx *gorm.DB) error {
		f, err := s.repo.FindByIDForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if f.Status == domain.StatusReady {
			f.SyncPending = true
			if err := s.repo.Update(ctx, tx, f); err != nil {
				return err
			}
		}
		filing = f
		return nil
	})
	if err != nil {
		return nil, err
	}
	return filing, nil
}

// resolveOutcome asks the authority for the submission state and applies
// a final accepted or rejected outcome.
func (s *Service) resolveOutcome(ctx context.Context, id snowflake.ID, ref string) (*domain.Filing, error) {
	status, err := s.gateway.FilingStatus(ctx, ref)
	if err != nil {
		return nil, err
	}

	var filing *domain.Filing
	err = s.db.Transaction(func(tx *gorm.DB) error {
		f, err := s.repo.FindByIDForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if f.Status != domain.StatusSubmitted {
			filing = f
			return nil
		}

		switch status.Status {
		case gwdomain.StatusAccepted:
			if err := s.applyAccepted(ctx, tx, f); err != nil {
				return err
			}
		case gwdomain.StatusRejected:
			if err := s.applyRejected(ctx, tx, f, status.Reason); err != nil {
				return err
			}
		default:
			// Still in flight at the authority.
		}
		filing = f
		return nil
	})
	if err != nil {
		return nil, err
	}
	return filing, nil
}

func (s *Service) applyAccepted(ctx context.Context, tx *gorm.DB, f *domain.Filing) error {
	if err := s.transition(ctx, f, domain.StatusAccepted); err != nil {
		return err
	}
	acceptedAt := s.clock.Now()
	f.AcceptedAt = &acceptedAt
	f.SyncPending = false
	if err := s.repo.Update(ctx, tx, f); err != nil {
		return err
	}

	// An accepted amendment retires the filing it replaces.
	if f.SupersedesID != nil {
		prev, err := s.repo.FindByIDForUpdate(ctx, tx, *f.SupersedesID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil
			}
			return err
		}
		if domain.CanTransition(prev.Status, domain.StatusSuperseded) {
			if err := s.transition(ctx, prev, domain.StatusSuperseded); err != nil {
				return err
			}
			if err := s.repo.Update(ctx, tx, prev); err != nil {
				return err
			}
			s.auditLog(ctx, prev, "filing.superseded", map[string]any{
				"superseded_by": f.ID.String(),
			})
		}
	}

	s.auditLog(ctx, f, "filing.accepted", map[string]any{
		"external_ref": f.ExternalRef,
	})
	return nil
}

// applyRejected finalizes the rejection and opens the next revision as a
// fresh draft so the filer can correct and resubmit.
func (s *Service) applyRejected(ctx context.Context, tx *gorm.DB, f *domain.Filing, reason string) error {
	if err := s.transition(ctx, f, domain.StatusRejected); err != nil {
		return err
	}
	f.RejectReason = reason
	f.SyncPending = false
	if err := s.repo.Update(ctx, tx, f); err != nil {
		return err
	}

	now := s.clock.Now()
	supersedes := f.ID
	next := &domain.Filing{
		ID:           s.genID.Generate(),
		TaxpayerID:   f.TaxpayerID,
		Year:         f.Year,
		FilingType:   f.FilingType,
		Category:     f.Category,
		Status:       domain.StatusDraft,
		Revision:     f.Revision + 1,
		SupersedesID: &supersedes,
		Currency:     f.Currency,
		GrossIncome:  f.GrossIncome,
		Deductions:   f.Deductions,
		FormsData:    f.FormsData,
		DueDate:      f.DueDate,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repo.Insert(ctx, tx, next); err != nil {
		return err
	}

	s.auditLog(ctx, f, "filing.rejected", map[string]any{
		"reason":        reason,
		"next_revision": next.ID.String(),
	})
	return nil
}

// assess computes the liability and stores it on the filing.
func (s *Service) assess(ctx context.Context, f *domain.Filing) error {
	claims, err := claimsFrom(f)
	if err != nil {
		return err
	}

	assessment, err := s.calculator.Compute(ctx, calculator.ComputeRequest{
		Year:        f.Year,
		FilingType:  f.FilingType,
		GrossIncome: f.GrossIncome,
		Category:    f.Category,
		Claims:      claims,
	})
	if err != nil {
		return err
	}

	assessmentJSON, err := json.Marshal(assessment)
	if err != nil {
		return err
	}

	f.Currency = assessment.Currency
	f.TaxableIncome = assessment.TaxableIncome
	f.TaxDue = assessment.NetLiability
	f.Assessment = datatypes.JSON(assessmentJSON)
	return nil
}

func (s *Service) transition(ctx context.Context, f *domain.Filing, to domain.Status) error {
	if !domain.CanTransition(f.Status, to) {
		return &domain.InvalidTransitionError{From: f.Status, To: to}
	}
	if s.obsMetrics != nil {
		s.obsMetrics.RecordFilingTransition(ctx, string(f.Status), string(to))
	}
	f.Status = to
	return nil
}

func (s *Service) auditLog(ctx context.Context, f *domain.Filing, action string, metadata map[string]any) {
	if s.audit == nil || f == nil {
		return
	}
	taxpayerID := f.TaxpayerID
	targetID := f.ID.String()
	if err := s.audit.AuditLog(ctx, &taxpayerID, "", nil, action, "filing", &targetID, metadata); err != nil {
		s.log.Warn("audit log failed", zap.String("action", action), zap.Error(err))
	}
}

func validationInput(f *domain.Filing, taxpayer *taxpayerdomain.Taxpayer) (validation.Input, error) {
	claims, err := claimsFrom(f)
	if err != nil {
		return validation.Input{}, err
	}
	forms, err := formsFrom(f)
	if err != nil {
		return validation.Input{}, err
	}
	in := validation.Input{
		PIN:         taxpayer.PIN,
		Year:        f.Year,
		FilingType:  f.FilingType,
		GrossIncome: f.GrossIncome,
		Category:    f.Category,
		Claims:      claims,
		FormsData:   forms,
		DueDate:     f.DueDate,
	}
	if len(f.Assessment) > 0 {
		taxDue := f.TaxDue
		in.TaxDue = &taxDue
	}
	return in, nil
}

func claimsFrom(f *domain.Filing) ([]deduction.Claim, error) {
	if len(f.Deductions) == 0 {
		return nil, nil
	}
	var claims []deduction.Claim
	if err := json.Unmarshal(f.Deductions, &claims); err != nil {
		return nil, err
	}
	return claims, nil
}

func formsFrom(f *domain.Filing) (map[string]any, error) {
	if len(f.FormsData) == 0 {
		return nil, nil
	}
	var forms map[string]any
	if err := json.Unmarshal(f.FormsData, &forms); err != nil {
		return nil, err
	}
	return forms, nil
}

func marshalClaims(claims []deduction.Claim) (datatypes.JSON, error) {
	if len(claims) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(claims)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(b), nil
}

func marshalForms(forms map[string]any) (datatypes.JSON, error) {
	if len(forms) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(forms)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(b), nil
}

func parseCursor(decoded *pagination.Cursor) (*domain.Cursor, error) {
	id, err := snowflake.ParseString(decoded.ID)
	if err != nil {
		return nil, err
	}
	createdAt, err := time.Parse(time.RFC3339Nano, decoded.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &domain.Cursor{ID: id, CreatedAt: createdAt}, nil
}
