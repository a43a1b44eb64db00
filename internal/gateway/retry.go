package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/mapato/taxcore/internal/config"
	gatewaydomain "github.com/mapato/taxcore/internal/gateway/domain"
	obsmetrics "github.com/mapato/taxcore/internal/observability/metrics"
	"go.uber.org/zap"
)

// retryGateway decorates a Gateway with exponential backoff on transient
// failures. Submissions are never replayed after an indeterminate outcome,
// only the caller may reconcile those via FilingStatus.
type retryGateway struct {
	next       gatewaydomain.Gateway
	log        *zap.Logger
	cfg        config.GatewayConfig
	obsMetrics *obsmetrics.Metrics
}

// WithRetry wraps next with retry semantics.
func WithRetry(next gatewaydomain.Gateway, cfg config.GatewayConfig, log *zap.Logger, m *obsmetrics.Metrics) gatewaydomain.Gateway {
	return &retryGateway{
		next:       next,
		log:        log.Named("gateway.retry"),
		cfg:        cfg,
		obsMetrics: m,
	}
}

func (g *retryGateway) SubmitFiling(ctx context.Context, sub gatewaydomain.Submission) (*gatewaydomain.Receipt, error) {
	var receipt *gatewaydomain.Receipt
	err := g.retry(ctx, "submit_filing", func(ctx context.Context) error {
		var err error
		receipt, err = g.next.SubmitFiling(ctx, sub)
		if errors.Is(err, gatewaydomain.ErrIndeterminate) {
			// The authority may already hold this submission. Replaying
			// it blind risks a duplicate, so surface it for reconciliation.
			return backoff.Permanent(err)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

func (g *retryGateway) FilingStatus(ctx context.Context, ref string) (*gatewaydomain.StatusResult, error) {
	var result *gatewaydomain.StatusResult
	err := g.retry(ctx, "filing_status", func(ctx context.Context) error {
		var err error
		result, err = g.next.FilingStatus(ctx, ref)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (g *retryGateway) ValidatePIN(ctx context.Context, pin string) error {
	return g.retry(ctx, "validate_pin", func(ctx context.Context) error {
		return g.next.ValidatePIN(ctx, pin)
	})
}

func (g *retryGateway) InitiatePayment(ctx context.Context, req gatewaydomain.PaymentRequest) (*gatewaydomain.PaymentSlip, error) {
	var slip *gatewaydomain.PaymentSlip
	err := g.retry(ctx, "initiate_payment", func(ctx context.Context) error {
		var err error
		slip, err = g.next.InitiatePayment(ctx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	return slip, nil
}

func (g *retryGateway) ConfirmPayment(ctx context.Context, ref string) (*gatewaydomain.PaymentResult, error) {
	var result *gatewaydomain.PaymentResult
	err := g.retry(ctx, "confirm_payment", func(ctx context.Context) error {
		var err error
		result, err = g.next.ConfirmPayment(ctx, ref)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (g *retryGateway) retry(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 100 * time.Millisecond
	policy.MaxInterval = 5 * time.Second
	policy.MaxElapsedTime = g.cfg.MaxElapsedTime

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		opCtx := ctx
		if g.cfg.Timeout > 0 {
			var cancel context.CancelFunc
			opCtx, cancel = context.WithTimeout(ctx, g.cfg.Timeout)
			defer cancel()
		}

		err := fn(opCtx)
		if err == nil {
			return nil
		}

		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			return err
		}
		if !errors.Is(err, gatewaydomain.ErrUnavailable) {
			return backoff.Permanent(err)
		}

		if g.obsMetrics != nil {
			g.obsMetrics.RecordGatewayRetry(ctx, operation)
		}
		g.log.Warn("gateway retry",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		return err
	}, backoff.WithContext(policy, ctx))

	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	if g.obsMetrics != nil {
		g.obsMetrics.RecordGatewayRequest(ctx, operation, outcome)
	}

	return err
}
