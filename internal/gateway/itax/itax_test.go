package itax

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mapato/taxcore/internal/clock"
	gatewaydomain "github.com/mapato/taxcore/internal/gateway/domain"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func newTestGateway() (*Gateway, *clock.FakeClock) {
	clk := clock.NewFakeClock(time.Date(2025, 6, 30, 12, 0, 0, 0, time.UTC))
	return New(zap.NewNop(), clk), clk
}

func TestSubmitAndStatus(t *testing.T) {
	g, _ := newTestGateway()
	ctx := context.Background()

	receipt, err := g.SubmitFiling(ctx, gatewaydomain.Submission{
		FilingID:   "42",
		Revision:   1,
		PIN:        "P051234567A",
		Year:       2024,
		FilingType: "individual",
		TaxDue:     decimal.NewFromInt(28600),
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if receipt.Ref == "" || receipt.Ref[:3] != "KRA" {
		t.Fatalf("unexpected ref %q", receipt.Ref)
	}

	status, err := g.FilingStatus(ctx, receipt.Ref)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Status != gatewaydomain.StatusAccepted {
		t.Fatalf("expected accepted, got %s", status.Status)
	}
}

func TestSubmitIsIdempotentPerRevision(t *testing.T) {
	g, _ := newTestGateway()
	ctx := context.Background()

	sub := gatewaydomain.Submission{
		FilingID: "42",
		Revision: 1,
		PIN:      "P051234567A",
		TaxDue:   decimal.NewFromInt(100),
	}

	first, err := g.SubmitFiling(ctx, sub)
	if err != nil {
		t.Fatalf("first submit: %v", err)
	}
	second, err := g.SubmitFiling(ctx, sub)
	if err != nil {
		t.Fatalf("second submit: %v", err)
	}
	if first.Ref != second.Ref {
		t.Fatalf("expected same ref, got %s and %s", first.Ref, second.Ref)
	}

	// A new revision is a new submission.
	sub.Revision = 2
	third, err := g.SubmitFiling(ctx, sub)
	if err != nil {
		t.Fatalf("third submit: %v", err)
	}
	if third.Ref == first.Ref {
		t.Fatalf("expected new ref for new revision")
	}
}

func TestSubmitRejectsInvalidPIN(t *testing.T) {
	g, _ := newTestGateway()
	ctx := context.Background()

	for _, pin := range []string{"", "A051234567A", "P05123A", "p051234567a1"} {
		_, err := g.SubmitFiling(ctx, gatewaydomain.Submission{FilingID: "1", PIN: pin})
		if !errors.Is(err, gatewaydomain.ErrInvalidPIN) {
			t.Fatalf("pin %q: expected invalid pin, got %v", pin, err)
		}
	}

	// Lowercase input is normalized before matching.
	if err := g.ValidatePIN(ctx, "p051234567a"); err != nil {
		t.Fatalf("expected normalized pin to pass, got %v", err)
	}
}

func TestStatusUnknownRef(t *testing.T) {
	g, _ := newTestGateway()

	_, err := g.FilingStatus(context.Background(), "KRA0000")
	if !errors.Is(err, gatewaydomain.ErrUnknownRef) {
		t.Fatalf("expected unknown ref, got %v", err)
	}
}

func TestInitiateAndConfirmPayment(t *testing.T) {
	g, clk := newTestGateway()
	ctx := context.Background()

	receipt, err := g.SubmitFiling(ctx, gatewaydomain.Submission{
		FilingID:   "7",
		PIN:        "P051234567A",
		Year:       2024,
		FilingType: "individual",
		TaxDue:     decimal.NewFromInt(28600),
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	slip, err := g.InitiatePayment(ctx, gatewaydomain.PaymentRequest{
		FilingRef: receipt.Ref,
		Amount:    decimal.NewFromInt(28600),
		Method:    "mpesa",
	})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if slip.Ref == "" || slip.Ref[:3] != "PRN" {
		t.Fatalf("unexpected slip ref %q", slip.Ref)
	}
	if slip.Instructions == "" {
		t.Fatalf("expected channel instructions")
	}
	if want := clk.Now().Add(48 * time.Hour); !slip.Expiry.Equal(want) {
		t.Fatalf("expected expiry %v, got %v", want, slip.Expiry)
	}

	result, err := g.ConfirmPayment(ctx, slip.Ref)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if result.Status != gatewaydomain.PaymentConfirmed {
		t.Fatalf("expected confirmed, got %s", result.Status)
	}
}

func TestConfirmFailedPayment(t *testing.T) {
	g, _ := newTestGateway()
	ctx := context.Background()

	receipt, err := g.SubmitFiling(ctx, gatewaydomain.Submission{
		FilingID: "8",
		PIN:      "P051234567A",
		Year:     2024,
		TaxDue:   decimal.NewFromInt(1000),
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	slip, err := g.InitiatePayment(ctx, gatewaydomain.PaymentRequest{
		FilingRef: receipt.Ref,
		Amount:    decimal.NewFromInt(1000),
		Method:    "bank",
	})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}

	g.FailPayment(slip.Ref)

	result, err := g.ConfirmPayment(ctx, slip.Ref)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if result.Status != gatewaydomain.PaymentFailed {
		t.Fatalf("expected failed, got %s", result.Status)
	}
}

func TestExpiredPaymentFailsOnConfirm(t *testing.T) {
	g, clk := newTestGateway()
	ctx := context.Background()

	receipt, err := g.SubmitFiling(ctx, gatewaydomain.Submission{
		FilingID: "9",
		PIN:      "P051234567A",
		Year:     2024,
		TaxDue:   decimal.NewFromInt(500),
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	slip, err := g.InitiatePayment(ctx, gatewaydomain.PaymentRequest{
		FilingRef: receipt.Ref,
		Amount:    decimal.NewFromInt(500),
		Method:    "mpesa",
	})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}

	clk.Set(slip.Expiry.Add(time.Minute))

	result, err := g.ConfirmPayment(ctx, slip.Ref)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if result.Status != gatewaydomain.PaymentFailed {
		t.Fatalf("expected failed after expiry, got %s", result.Status)
	}
}

func TestInitiatePaymentUnknownFilingRef(t *testing.T) {
	g, _ := newTestGateway()

	_, err := g.InitiatePayment(context.Background(), gatewaydomain.PaymentRequest{
		FilingRef: "KRA0000",
		Amount:    decimal.NewFromInt(100),
		Method:    "mpesa",
	})
	if !errors.Is(err, gatewaydomain.ErrUnknownRef) {
		t.Fatalf("expected unknown ref, got %v", err)
	}
}

func TestConfirmPaymentUnknownRef(t *testing.T) {
	g, _ := newTestGateway()

	_, err := g.ConfirmPayment(context.Background(), "PRN0000")
	if !errors.Is(err, gatewaydomain.ErrUnknownRef) {
		t.Fatalf("expected unknown ref, got %v", err)
	}
}
