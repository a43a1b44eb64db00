package itax

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/mapato/taxcore/internal/clock"
	gatewaydomain "github.com/mapato/taxcore/internal/gateway/domain"
	"go.uber.org/zap"
)

// pinPattern mirrors the authority's registration format: the letter P,
// nine digits and a check letter.
var pinPattern = regexp.MustCompile(`^P\d{9}[A-Z]$`)

type record struct {
	sub    gatewaydomain.Submission
	status string
	reason string
}

type paymentRecord struct {
	req    gatewaydomain.PaymentRequest
	status string
	expiry time.Time
}

// Gateway is an in-process stand-in for the authority's e-filing API.
// It mirrors the authority's observable behavior closely enough to run
// the filing lifecycle end to end without the real endpoint.
type Gateway struct {
	log   *zap.Logger
	clock clock.Clock

	mu       sync.Mutex
	seq      int
	records  map[string]*record
	byKey    map[string]string
	payments map[string]*paymentRecord

	failNext error
}

func New(log *zap.Logger, clk clock.Clock) *Gateway {
	return &Gateway{
		log:      log.Named("gateway.itax"),
		clock:    clk,
		records:  make(map[string]*record),
		byKey:    make(map[string]string),
		payments: make(map[string]*paymentRecord),
	}
}

// FailNext makes the next call fail with err. Test hook.
func (g *Gateway) FailNext(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failNext = err
}

func (g *Gateway) takeFailure() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	err := g.failNext
	g.failNext = nil
	return err
}

func (g *Gateway) SubmitFiling(ctx context.Context, sub gatewaydomain.Submission) (*gatewaydomain.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := g.takeFailure(); err != nil {
		return nil, err
	}

	if err := g.ValidatePIN(ctx, sub.PIN); err != nil {
		return nil, err
	}
	if sub.TaxDue.IsNegative() {
		return nil, gatewaydomain.ErrRejected
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	// Resubmitting the same filing revision returns the original receipt.
	key := fmt.Sprintf("%s:%d", sub.FilingID, sub.Revision)
	if ref, ok := g.byKey[key]; ok {
		return &gatewaydomain.Receipt{
			Ref:        ref,
			ReceivedAt: g.clock.Now(),
		}, nil
	}

	now := g.clock.Now()
	g.seq++
	ref := fmt.Sprintf("KRA%d%04d", now.Unix(), g.seq)
	g.records[ref] = &record{
		sub:    sub,
		status: gatewaydomain.StatusAccepted,
	}
	g.byKey[key] = ref

	g.log.Info("filing received",
		zap.String("ref", ref),
		zap.String("filing_id", sub.FilingID),
		zap.Int("revision", sub.Revision),
	)

	return &gatewaydomain.Receipt{
		Ref:        ref,
		ReceivedAt: now,
	}, nil
}

func (g *Gateway) FilingStatus(ctx context.Context, ref string) (*gatewaydomain.StatusResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := g.takeFailure(); err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	rec, ok := g.records[strings.TrimSpace(ref)]
	if !ok {
		return nil, gatewaydomain.ErrUnknownRef
	}
	return &gatewaydomain.StatusResult{
		Ref:       ref,
		Status:    rec.status,
		Reason:    rec.reason,
		CheckedAt: g.clock.Now(),
	}, nil
}

func (g *Gateway) ValidatePIN(ctx context.Context, pin string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !pinPattern.MatchString(strings.ToUpper(strings.TrimSpace(pin))) {
		return gatewaydomain.ErrInvalidPIN
	}
	return nil
}

// InitiatePayment registers a payment against a received filing and
// issues a payment registration number with channel instructions.
func (g *Gateway) InitiatePayment(ctx context.Context, req gatewaydomain.PaymentRequest) (*gatewaydomain.PaymentSlip, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := g.takeFailure(); err != nil {
		return nil, err
	}
	if !req.Amount.IsPositive() {
		return nil, gatewaydomain.ErrRejected
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.records[strings.TrimSpace(req.FilingRef)]; !ok {
		return nil, gatewaydomain.ErrUnknownRef
	}

	now := g.clock.Now()
	g.seq++
	ref := fmt.Sprintf("PRN%d%04d", now.Unix(), g.seq)
	g.payments[ref] = &paymentRecord{
		req:    req,
		status: gatewaydomain.PaymentInitiated,
		expiry: now.Add(48 * time.Hour),
	}

	g.log.Info("payment initiated",
		zap.String("ref", ref),
		zap.String("filing_ref", req.FilingRef),
		zap.String("method", req.Method),
	)

	return &gatewaydomain.PaymentSlip{
		Ref:          ref,
		Instructions: fmt.Sprintf("pay %s KES %s quoting %s", req.Method, req.Amount.StringFixed(2), ref),
		Expiry:       g.payments[ref].expiry,
	}, nil
}

// ConfirmPayment reports the payment's state. An initiated payment that
// has not failed or expired settles on the first poll.
func (g *Gateway) ConfirmPayment(ctx context.Context, ref string) (*gatewaydomain.PaymentResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := g.takeFailure(); err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	rec, ok := g.payments[strings.TrimSpace(ref)]
	if !ok {
		return nil, gatewaydomain.ErrUnknownRef
	}

	now := g.clock.Now()
	if rec.status == gatewaydomain.PaymentInitiated {
		if now.After(rec.expiry) {
			rec.status = gatewaydomain.PaymentFailed
		} else {
			rec.status = gatewaydomain.PaymentConfirmed
		}
	}

	return &gatewaydomain.PaymentResult{
		Ref:       ref,
		Status:    rec.status,
		CheckedAt: now,
	}, nil
}

// FailPayment marks an initiated payment failed. Test hook for the
// channel-failure path.
func (g *Gateway) FailPayment(ref string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if rec, ok := g.payments[ref]; ok {
		rec.status = gatewaydomain.PaymentFailed
	}
}

// Reject marks a received submission rejected. Test hook for the
// rejection and amendment paths.
func (g *Gateway) Reject(ref, reason string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if rec, ok := g.records[ref]; ok {
		rec.status = gatewaydomain.StatusRejected
		rec.reason = reason
	}
}
