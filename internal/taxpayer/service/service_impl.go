package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/mapato/taxcore/internal/audit/domain"
	"github.com/mapato/taxcore/internal/clock"
	gwdomain "github.com/mapato/taxcore/internal/gateway/domain"
	"github.com/mapato/taxcore/internal/taxpayer/domain"
	"github.com/mapato/taxcore/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Repo    domain.Repository
	Gateway gwdomain.Gateway
	Audit   auditdomain.Service `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	repo    domain.Repository
	gateway gwdomain.Gateway
	audit   auditdomain.Service
}

func NewService(p Params) domain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("taxpayer.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		repo:    p.Repo,
		gateway: p.Gateway,
		audit:   p.Audit,
	}
}

// Register creates a taxpayer after the authority confirms the PIN.
func (s *Service) Register(ctx context.Context, req domain.RegisterRequest) (*domain.Response, error) {
	now := s.clock.Now()
	taxpayer := &domain.Taxpayer{
		ID:        s.genID.Generate(),
		PIN:       strings.ToUpper(strings.TrimSpace(req.PIN)),
		Name:      strings.TrimSpace(req.Name),
		Email:     strings.TrimSpace(req.Email),
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := taxpayer.Validate(); err != nil {
		return nil, err
	}

	if err := s.gateway.ValidatePIN(ctx, taxpayer.PIN); err != nil {
		return nil, err
	}

	if err := s.repo.Insert(ctx, s.db, taxpayer); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, domain.ErrPINExists
		}
		return nil, err
	}

	s.auditLog(ctx, taxpayer, "taxpayer.registered")

	return domain.ToResponse(taxpayer), nil
}

func (s *Service) Get(ctx context.Context, id string) (*domain.Response, error) {
	taxpayerID, err := snowflake.ParseString(id)
	if err != nil || taxpayerID == 0 {
		return nil, domain.ErrNotFound
	}
	taxpayer, err := s.repo.FindByID(ctx, s.db, taxpayerID)
	if err != nil {
		return nil, err
	}
	return domain.ToResponse(taxpayer), nil
}

func (s *Service) GetByPIN(ctx context.Context, pin string) (*domain.Response, error) {
	pin = strings.ToUpper(strings.TrimSpace(pin))
	if !domain.ValidPIN(pin) {
		return nil, domain.ErrInvalidPIN
	}
	taxpayer, err := s.repo.FindByPIN(ctx, s.db, pin)
	if err != nil {
		return nil, err
	}
	return domain.ToResponse(taxpayer), nil
}

// Deactivate blocks further filings for the taxpayer. Existing filings
// keep their state.
func (s *Service) Deactivate(ctx context.Context, id string) (*domain.Response, error) {
	taxpayerID, err := snowflake.ParseString(id)
	if err != nil || taxpayerID == 0 {
		return nil, domain.ErrNotFound
	}

	taxpayer, err := s.repo.FindByID(ctx, s.db, taxpayerID)
	if err != nil {
		return nil, err
	}
	if taxpayer.IsActive {
		taxpayer.IsActive = false
		taxpayer.UpdatedAt = s.clock.Now()
		if err := s.repo.Update(ctx, s.db, taxpayer); err != nil {
			return nil, err
		}
		s.auditLog(ctx, taxpayer, "taxpayer.deactivated")
	}

	return domain.ToResponse(taxpayer), nil
}

func (s *Service) auditLog(ctx context.Context, taxpayer *domain.Taxpayer, action string) {
	if s.audit == nil {
		return
	}
	taxpayerID := taxpayer.ID
	targetID := taxpayer.ID.String()
	if err := s.audit.AuditLog(ctx, &taxpayerID, "", nil, action, "taxpayer", &targetID, map[string]any{
		"pin": taxpayer.PIN,
	}); err != nil {
		s.log.Warn("audit log failed", zap.String("action", action), zap.Error(err))
	}
}
