package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/mapato/taxcore/internal/audit/domain"
	"github.com/mapato/taxcore/internal/clock"
	filingdomain "github.com/mapato/taxcore/internal/filing/domain"
	gwdomain "github.com/mapato/taxcore/internal/gateway/domain"
	obsmetrics "github.com/mapato/taxcore/internal/observability/metrics"
	"github.com/mapato/taxcore/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Repo       domain.Repository
	Filings    filingdomain.Service
	Gateway    gwdomain.Gateway
	Audit      auditdomain.Service `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       domain.Repository
	filings    filingdomain.Service
	gateway    gwdomain.Gateway
	audit      auditdomain.Service
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("payment.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		filings:    p.Filings,
		gateway:    p.Gateway,
		audit:      p.Audit,
		obsMetrics: p.ObsMetrics,
	}
}

// RecordPayment stores a confirmed payment and reconciles the filing's
// paid total. A replayed external ref returns the stored event without
// touching the filing again.
func (s *Service) RecordPayment(ctx context.Context, req domain.RecordPaymentRequest) (*domain.RecordPaymentResponse, error) {
	filingID, err := snowflake.ParseString(req.FilingID)
	if err != nil || filingID == 0 {
		return nil, domain.ErrInvalidFiling
	}

	ref := strings.TrimSpace(req.ExternalRef)
	if ref == "" {
		return nil, domain.ErrInvalidRef
	}
	if !req.Amount.IsPositive() {
		return nil, domain.ErrInvalidAmount
	}
	if !domain.ValidSource(req.Source) {
		return nil, domain.ErrInvalidSource
	}

	filing, err := s.filings.Get(ctx, req.FilingID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	paidAt := now
	if req.PaidAt != nil {
		paidAt = req.PaidAt.UTC()
	}

	event := &domain.PaymentEvent{
		ID:          s.genID.Generate(),
		FilingID:    filingID,
		ExternalRef: ref,
		Amount:      req.Amount,
		Source:      req.Source,
		Status:      domain.StatusConfirmed,
		PaidAt:      &paidAt,
		CreatedAt:   now,
	}

	inserted, err := s.repo.Insert(ctx, s.db, event)
	if err != nil {
		return nil, err
	}

	if !inserted {
		existing, err := s.repo.FindByRef(ctx, s.db, ref)
		if err != nil {
			return nil, err
		}
		s.log.Info("replayed payment ref absorbed",
			zap.String("external_ref", ref),
			zap.String("filing_id", existing.FilingID.String()),
		)
		if s.obsMetrics != nil {
			s.obsMetrics.RecordPaymentEvent(ctx, req.Source, "duplicate")
		}
		return &domain.RecordPaymentResponse{
			Event:     domain.ToResponse(existing),
			Duplicate: true,
			Filing:    filing,
		}, nil
	}

	settled, err := s.reconcile(ctx, filingID)
	if err != nil {
		return nil, err
	}

	if s.obsMetrics != nil {
		s.obsMetrics.RecordPaymentEvent(ctx, req.Source, "recorded")
	}
	s.auditLog(ctx, event, settled, "payment.recorded")

	return &domain.RecordPaymentResponse{
		Event:  domain.ToResponse(event),
		Filing: settled,
	}, nil
}

// InitiatePayment opens a payment with the authority against the filing's
// submission receipt and stores the initiated event under the issued
// registration number.
func (s *Service) InitiatePayment(ctx context.Context, req domain.InitiatePaymentRequest) (*domain.InitiatePaymentResponse, error) {
	filingID, err := snowflake.ParseString(req.FilingID)
	if err != nil || filingID == 0 {
		return nil, domain.ErrInvalidFiling
	}
	if !req.Amount.IsPositive() {
		return nil, domain.ErrInvalidAmount
	}
	if !domain.ValidSource(req.Source) {
		return nil, domain.ErrInvalidSource
	}

	filing, err := s.filings.Get(ctx, req.FilingID)
	if err != nil {
		return nil, err
	}
	if filing.ExternalRef == "" {
		return nil, domain.ErrNotPayable
	}

	slip, err := s.gateway.InitiatePayment(ctx, gwdomain.PaymentRequest{
		FilingRef: filing.ExternalRef,
		Amount:    req.Amount,
		Method:    req.Source,
	})
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	event := &domain.PaymentEvent{
		ID:          s.genID.Generate(),
		FilingID:    filingID,
		ExternalRef: slip.Ref,
		Amount:      req.Amount,
		Source:      req.Source,
		Status:      domain.StatusInitiated,
		CreatedAt:   now,
	}
	if _, err := s.repo.Insert(ctx, s.db, event); err != nil {
		return nil, err
	}

	if s.obsMetrics != nil {
		s.obsMetrics.RecordPaymentEvent(ctx, req.Source, "initiated")
	}
	s.auditLog(ctx, event, filing, "payment.initiated")

	return &domain.InitiatePaymentResponse{
		Event:        domain.ToResponse(event),
		Instructions: slip.Instructions,
		Expiry:       slip.Expiry,
	}, nil
}

// ConfirmPayment polls the authority for an initiated payment's outcome.
// A confirmed outcome reconciles the filing; a failed one is recorded
// and carries no weight. Confirming twice is a no-op.
func (s *Service) ConfirmPayment(ctx context.Context, externalRef string) (*domain.RecordPaymentResponse, error) {
	ref := strings.TrimSpace(externalRef)
	if ref == "" {
		return nil, domain.ErrInvalidRef
	}

	event, err := s.repo.FindByRef(ctx, s.db, ref)
	if err != nil {
		return nil, err
	}

	filingID := event.FilingID.String()
	if event.Status != domain.StatusInitiated {
		filing, err := s.filings.Get(ctx, filingID)
		if err != nil {
			return nil, err
		}
		return &domain.RecordPaymentResponse{
			Event:     domain.ToResponse(event),
			Duplicate: true,
			Filing:    filing,
		}, nil
	}

	result, err := s.gateway.ConfirmPayment(ctx, ref)
	if err != nil {
		return nil, err
	}

	switch result.Status {
	case gwdomain.PaymentConfirmed:
		paidAt := s.clock.Now()
		event.Status = domain.StatusConfirmed
		event.PaidAt = &paidAt
	case gwdomain.PaymentFailed:
		event.Status = domain.StatusFailed
	default:
		// Still pending with the channel, nothing to apply yet.
		filing, err := s.filings.Get(ctx, filingID)
		if err != nil {
			return nil, err
		}
		return &domain.RecordPaymentResponse{
			Event:  domain.ToResponse(event),
			Filing: filing,
		}, nil
	}

	if err := s.repo.UpdateStatus(ctx, s.db, event); err != nil {
		return nil, err
	}

	var filing *filingdomain.Response
	if event.Status == domain.StatusConfirmed {
		filing, err = s.reconcile(ctx, event.FilingID)
	} else {
		filing, err = s.filings.Get(ctx, filingID)
	}
	if err != nil {
		return nil, err
	}

	if s.obsMetrics != nil {
		s.obsMetrics.RecordPaymentEvent(ctx, event.Source, event.Status)
	}
	s.auditLog(ctx, event, filing, "payment."+event.Status)

	return &domain.RecordPaymentResponse{
		Event:  domain.ToResponse(event),
		Filing: filing,
	}, nil
}

// reconcile recomputes the confirmed total and settles the filing.
func (s *Service) reconcile(ctx context.Context, filingID snowflake.ID) (*filingdomain.Response, error) {
	total, err := s.repo.SumConfirmedByFiling(ctx, s.db, filingID)
	if err != nil {
		return nil, err
	}
	return s.filings.Settle(ctx, filingID.String(), total)
}

func (s *Service) ListByFiling(ctx context.Context, filingID string) ([]domain.Response, error) {
	id, err := snowflake.ParseString(filingID)
	if err != nil || id == 0 {
		return nil, domain.ErrInvalidFiling
	}

	events, err := s.repo.ListByFiling(ctx, s.db, id)
	if err != nil {
		return nil, err
	}

	out := make([]domain.Response, 0, len(events))
	for _, event := range events {
		out = append(out, domain.ToResponse(event))
	}
	return out, nil
}

func (s *Service) auditLog(ctx context.Context, event *domain.PaymentEvent, filing *filingdomain.Response, action string) {
	if s.audit == nil {
		return
	}
	targetID := event.ID.String()
	metadata := map[string]any{
		"filing_id":    event.FilingID.String(),
		"external_ref": event.ExternalRef,
		"amount":       event.Amount.StringFixed(2),
		"source":       event.Source,
	}
	var taxpayerID *snowflake.ID
	if filing != nil {
		metadata["filing_status"] = string(filing.Status)
		metadata["paid_total"] = filing.PaidTotal
		if id, err := snowflake.ParseString(filing.TaxpayerID); err == nil {
			taxpayerID = &id
		}
	}
	if err := s.audit.AuditLog(ctx, taxpayerID, "", nil, action, "payment_event", &targetID, metadata); err != nil {
		s.log.Warn("audit log failed", zap.Error(err))
	}
}
