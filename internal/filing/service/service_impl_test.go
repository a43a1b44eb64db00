package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/mapato/taxcore/internal/calculator"
	"github.com/mapato/taxcore/internal/clock"
	"github.com/mapato/taxcore/internal/config"
	"github.com/mapato/taxcore/internal/deduction"
	"github.com/mapato/taxcore/internal/filing/domain"
	"github.com/mapato/taxcore/internal/filing/repository"
	gwdomain "github.com/mapato/taxcore/internal/gateway/domain"
	"github.com/mapato/taxcore/internal/gateway/itax"
	"github.com/mapato/taxcore/internal/ratetable"
	taxpayerrepo "github.com/mapato/taxcore/internal/taxpayer/repository"
	"github.com/mapato/taxcore/internal/validation"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type fixture struct {
	svc      domain.Service
	db       *gorm.DB
	gw       *itax.Gateway
	clk      *clock.FakeClock
	node     *snowflake.Node
	taxpayer snowflake.ID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := setupTestDB(t)

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}

	log := zap.NewNop()
	clk := clock.NewFakeClock(time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC))

	tables, err := ratetable.NewStore(config.Config{}, log)
	if err != nil {
		t.Fatalf("rate table store: %v", err)
	}

	calc := calculator.NewService(calculator.Params{
		Log:        log,
		Tables:     tables,
		Deductions: deduction.NewEngine(),
	})
	validator := validation.NewEngine(validation.Params{
		Log:        log,
		Tables:     tables,
		Calculator: calc,
	})
	gw := itax.New(log, clk)

	svc := NewService(Params{
		DB:           db,
		Log:          log,
		GenID:        node,
		Clock:        clk,
		Repo:         repository.Provide(),
		TaxpayerRepo: taxpayerrepo.Provide(),
		Validator:    validator,
		Calculator:   calc,
		Tables:       tables,
		Gateway:      gw,
	})

	taxpayerID := node.Generate()
	if err := db.Exec(
		"INSERT INTO taxpayers (id, pin, name, email, is_active, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
		taxpayerID, "P051234567A", "Wanjiku Kamau", "wanjiku@example.com", true, clk.Now(), clk.Now(),
	).Error; err != nil {
		t.Fatalf("seed taxpayer: %v", err)
	}

	return &fixture{
		svc:      svc,
		db:       db,
		gw:       gw,
		clk:      clk,
		node:     node,
		taxpayer: taxpayerID,
	}
}

func (f *fixture) createDraft(t *testing.T, year int, filingType string, gross string) *domain.Response {
	t.Helper()
	resp, err := f.svc.CreateDraft(context.Background(), domain.CreateDraftRequest{
		TaxpayerID:  f.taxpayer.String(),
		Year:        year,
		FilingType:  filingType,
		GrossIncome: decimal.RequireFromString(gross),
	})
	if err != nil {
		t.Fatalf("create draft: %v", err)
	}
	return resp
}

func (f *fixture) readyAndSubmit(t *testing.T, id string) *domain.Response {
	t.Helper()
	if _, err := f.svc.MarkReady(context.Background(), id); err != nil {
		t.Fatalf("mark ready: %v", err)
	}
	resp, err := f.svc.Submit(context.Background(), id)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	return resp
}

func TestSubmitLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	draft := f.createDraft(t, 2024, calculator.TypeIndividual, "400000")
	if draft.Status != domain.StatusDraft {
		t.Fatalf("expected draft, got %s", draft.Status)
	}
	if draft.Revision != 0 {
		t.Fatalf("expected first revision 0, got %d", draft.Revision)
	}
	if !draft.DueDate.Equal(time.Date(2025, time.June, 30, 23, 59, 59, 0, time.UTC)) {
		t.Fatalf("unexpected due date %v", draft.DueDate)
	}

	// A draft is not submittable until it passes the ready gate.
	if _, err := f.svc.Submit(ctx, draft.ID); !errors.Is(err, domain.ErrNotReady) {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}

	ready, err := f.svc.MarkReady(ctx, draft.ID)
	if err != nil {
		t.Fatalf("mark ready: %v", err)
	}
	if ready.Status != domain.StatusReady {
		t.Fatalf("expected ready, got %s", ready.Status)
	}
	if ready.TaxDue != "28600.00" {
		t.Fatalf("expected tax due 28600.00, got %s", ready.TaxDue)
	}

	// Marking an already-ready filing is a no-op.
	again, err := f.svc.MarkReady(ctx, draft.ID)
	if err != nil {
		t.Fatalf("repeat mark ready: %v", err)
	}
	if again.Status != domain.StatusReady {
		t.Fatalf("expected ready, got %s", again.Status)
	}

	resp, err := f.svc.Submit(ctx, draft.ID)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if resp.Status != domain.StatusAccepted {
		t.Fatalf("expected accepted, got %s", resp.Status)
	}
	if !strings.HasPrefix(resp.ExternalRef, "KRA") {
		t.Fatalf("expected authority ref, got %q", resp.ExternalRef)
	}
	if resp.AcceptedAt == nil || resp.SubmittedAt == nil {
		t.Fatal("expected submitted and accepted timestamps")
	}

	// Resubmitting an already-accepted filing is a no-op.
	resubmit, err := f.svc.Submit(ctx, draft.ID)
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if resubmit.Status != domain.StatusAccepted || resubmit.ExternalRef != resp.ExternalRef {
		t.Fatalf("expected unchanged filing, got %s %s", resubmit.Status, resubmit.ExternalRef)
	}

	assertCount(t, f.db, "SELECT COUNT(1) FROM filings", 1)
}

func TestMarkReadyValidationFailureKeepsDraft(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	draft, err := f.svc.CreateDraft(ctx, domain.CreateDraftRequest{
		TaxpayerID:  f.taxpayer.String(),
		Year:        2024,
		FilingType:  calculator.TypeWithholding,
		Category:    "royalties",
		GrossIncome: decimal.RequireFromString("100000"),
	})
	if err != nil {
		t.Fatalf("create draft: %v", err)
	}

	_, err = f.svc.MarkReady(ctx, draft.ID)
	if !errors.Is(err, domain.ErrValidationFailed) {
		t.Fatalf("expected ErrValidationFailed, got %v", err)
	}

	resp, err := f.svc.Get(ctx, draft.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if resp.Status != domain.StatusDraft {
		t.Fatalf("expected filing to stay draft, got %s", resp.Status)
	}

	var result string
	if err := f.db.Raw("SELECT validation_result FROM filings WHERE id = ?", draft.ID).Scan(&result).Error; err != nil {
		t.Fatalf("scan validation_result: %v", err)
	}
	if !strings.Contains(result, "unknown_withholding_category") {
		t.Fatalf("expected persisted findings, got %s", result)
	}
}

func TestEditDemotesReadyFiling(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	draft := f.createDraft(t, 2024, calculator.TypeIndividual, "400000")
	if _, err := f.svc.MarkReady(ctx, draft.ID); err != nil {
		t.Fatalf("mark ready: %v", err)
	}

	gross := decimal.RequireFromString("500000")
	resp, err := f.svc.UpdateDraft(ctx, domain.UpdateDraftRequest{ID: draft.ID, GrossIncome: &gross})
	if err != nil {
		t.Fatalf("update draft: %v", err)
	}
	if resp.Status != domain.StatusDraft {
		t.Fatalf("expected edit to demote filing to draft, got %s", resp.Status)
	}
	if resp.TaxDue != "0.00" {
		t.Fatalf("expected stale assessment cleared, got %s", resp.TaxDue)
	}
}

func TestDuplicateOpenFiling(t *testing.T) {
	f := newFixture(t)

	f.createDraft(t, 2024, calculator.TypeIndividual, "400000")

	_, err := f.svc.CreateDraft(context.Background(), domain.CreateDraftRequest{
		TaxpayerID:  f.taxpayer.String(),
		Year:        2024,
		FilingType:  calculator.TypeIndividual,
		GrossIncome: decimal.RequireFromString("500000"),
	})
	if !errors.Is(err, domain.ErrDuplicateFiling) {
		t.Fatalf("expected ErrDuplicateFiling, got %v", err)
	}
}

func TestUpdateAfterSubmitRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	draft := f.createDraft(t, 2024, calculator.TypeIndividual, "400000")
	f.readyAndSubmit(t, draft.ID)

	gross := decimal.RequireFromString("1")
	_, err := f.svc.UpdateDraft(ctx, domain.UpdateDraftRequest{ID: draft.ID, GrossIncome: &gross})
	if !errors.Is(err, domain.ErrNotDraft) {
		t.Fatalf("expected ErrNotDraft, got %v", err)
	}
}

func TestRejectionOpensNextRevision(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Put a submitted filing into the store with a live authority record.
	filingID := f.node.Generate()
	receipt, err := f.gw.SubmitFiling(ctx, gwdomain.Submission{
		FilingID:   filingID.String(),
		Revision:   0,
		PIN:        "P051234567A",
		Year:       2024,
		FilingType: calculator.TypeIndividual,
		TaxDue:     decimal.RequireFromString("28600"),
	})
	if err != nil {
		t.Fatalf("seed submission: %v", err)
	}

	now := f.clk.Now()
	submittedAt := now
	filing := &domain.Filing{
		ID:          filingID,
		TaxpayerID:  f.taxpayer,
		Year:        2024,
		FilingType:  calculator.TypeIndividual,
		Status:      domain.StatusSubmitted,
		Revision:    0,
		Currency:    "KES",
		GrossIncome: decimal.RequireFromString("400000"),
		TaxDue:      decimal.RequireFromString("28600"),
		ExternalRef: receipt.Ref,
		DueDate:     domain.DueDateFor(2024),
		SubmittedAt: &submittedAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := repository.Provide().Insert(ctx, f.db, filing); err != nil {
		t.Fatalf("insert filing: %v", err)
	}

	f.gw.Reject(receipt.Ref, "missing income schedule")

	resp, err := f.svc.SyncStatus(ctx, filingID.String())
	if err != nil {
		t.Fatalf("sync status: %v", err)
	}
	if resp.Status != domain.StatusRejected {
		t.Fatalf("expected rejected, got %s", resp.Status)
	}
	if resp.RejectReason != "missing income schedule" {
		t.Fatalf("unexpected reason %q", resp.RejectReason)
	}

	assertCount(t, f.db, "SELECT COUNT(1) FROM filings", 2)

	var revision int
	if err := f.db.Raw("SELECT revision FROM filings WHERE supersedes_id = ?", filingID).Scan(&revision).Error; err != nil {
		t.Fatalf("scan revision: %v", err)
	}
	if revision != 1 {
		t.Fatalf("expected revision 1, got %d", revision)
	}

	var status string
	if err := f.db.Raw("SELECT status FROM filings WHERE supersedes_id = ?", filingID).Scan(&status).Error; err != nil {
		t.Fatalf("scan status: %v", err)
	}
	if status != string(domain.StatusDraft) {
		t.Fatalf("expected new revision to be draft, got %s", status)
	}
}

func TestIndeterminateSubmissionReconciles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	draft := f.createDraft(t, 2024, calculator.TypeIndividual, "400000")
	if _, err := f.svc.MarkReady(ctx, draft.ID); err != nil {
		t.Fatalf("mark ready: %v", err)
	}

	f.gw.FailNext(gwdomain.ErrIndeterminate)
	resp, err := f.svc.Submit(ctx, draft.ID)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	// The pre-call state is preserved until the outcome is known.
	if resp.Status != domain.StatusReady {
		t.Fatalf("expected ready, got %s", resp.Status)
	}
	if !resp.SyncPending || resp.ExternalRef != "" {
		t.Fatalf("expected sync pending with no ref, got pending=%v ref=%q", resp.SyncPending, resp.ExternalRef)
	}

	// Inputs stay frozen while the outcome is unresolved.
	gross := decimal.RequireFromString("1")
	if _, err := f.svc.UpdateDraft(ctx, domain.UpdateDraftRequest{ID: draft.ID, GrossIncome: &gross}); !errors.Is(err, domain.ErrNotDraft) {
		t.Fatalf("expected ErrNotDraft, got %v", err)
	}

	count, err := f.svc.SyncPendingBatch(ctx, 10)
	if err != nil {
		t.Fatalf("sync pending batch: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 reconciled filing, got %d", count)
	}

	resolved, err := f.svc.Get(ctx, draft.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if resolved.Status != domain.StatusAccepted {
		t.Fatalf("expected accepted after sync, got %s", resolved.Status)
	}
	if resolved.ExternalRef == "" || resolved.SyncPending {
		t.Fatalf("expected resolved submission, got ref=%q pending=%v", resolved.ExternalRef, resolved.SyncPending)
	}

	assertCount(t, f.db, "SELECT COUNT(1) FROM filings", 1)
}

func TestSettlePartialThenFull(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	draft := f.createDraft(t, 2024, calculator.TypeIndividual, "400000")
	f.readyAndSubmit(t, draft.ID)

	partial, err := f.svc.Settle(ctx, draft.ID, decimal.RequireFromString("10000"))
	if err != nil {
		t.Fatalf("settle partial: %v", err)
	}
	if partial.Status != domain.StatusAccepted {
		t.Fatalf("partial payment must not transition, got %s", partial.Status)
	}
	if partial.PaidTotal != "10000.00" {
		t.Fatalf("expected paid total 10000.00, got %s", partial.PaidTotal)
	}

	full, err := f.svc.Settle(ctx, draft.ID, decimal.RequireFromString("28600"))
	if err != nil {
		t.Fatalf("settle full: %v", err)
	}
	if full.Status != domain.StatusPaid {
		t.Fatalf("expected paid, got %s", full.Status)
	}
	if full.PaidAt == nil {
		t.Fatal("expected paid timestamp")
	}
	if full.OverpaymentFlagged {
		t.Fatal("exact payment must not flag overpayment")
	}
}

func TestSettleOverpaymentFlagged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	draft := f.createDraft(t, 2024, calculator.TypeIndividual, "400000")
	f.readyAndSubmit(t, draft.ID)

	resp, err := f.svc.Settle(ctx, draft.ID, decimal.RequireFromString("30000"))
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	// An overpaid filing is flagged but never closed automatically.
	if resp.Status != domain.StatusAccepted {
		t.Fatalf("expected accepted, got %s", resp.Status)
	}
	if !resp.OverpaymentFlagged {
		t.Fatal("expected overpayment flag")
	}
	// The excess stays on record.
	if resp.PaidTotal != "30000.00" {
		t.Fatalf("expected paid total 30000.00, got %s", resp.PaidTotal)
	}

	// Settling the exact liability afterwards closes the filing; the
	// flag stays for the manual follow-up.
	resp, err = f.svc.Settle(ctx, draft.ID, decimal.RequireFromString("28600"))
	if err != nil {
		t.Fatalf("settle exact: %v", err)
	}
	if resp.Status != domain.StatusPaid {
		t.Fatalf("expected paid after exact settlement, got %s", resp.Status)
	}
	if !resp.OverpaymentFlagged {
		t.Fatal("flag must survive settlement")
	}
}

func TestMarkOverdueFlagsWithoutBlocking(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	draft := f.createDraft(t, 2024, calculator.TypeIndividual, "400000")
	f.readyAndSubmit(t, draft.ID)

	// Not yet due.
	count, err := f.svc.MarkOverdue(ctx, 100)
	if err != nil {
		t.Fatalf("mark overdue: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected no overdue filings, got %d", count)
	}

	f.clk.Set(time.Date(2025, time.July, 1, 0, 0, 0, 0, time.UTC))

	count, err = f.svc.MarkOverdue(ctx, 100)
	if err != nil {
		t.Fatalf("mark overdue: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 overdue filing, got %d", count)
	}

	resp, err := f.svc.Get(ctx, draft.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	// The flag is advisory, the lifecycle status is untouched.
	if resp.Status != domain.StatusAccepted {
		t.Fatalf("expected accepted, got %s", resp.Status)
	}
	if !resp.Overdue {
		t.Fatal("expected overdue flag")
	}

	// A second run must not re-flag the same filing.
	count, err = f.svc.MarkOverdue(ctx, 100)
	if err != nil {
		t.Fatalf("mark overdue: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected no new overdue filings, got %d", count)
	}

	paid, err := f.svc.Settle(ctx, draft.ID, decimal.RequireFromString("28600"))
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if paid.Status != domain.StatusPaid {
		t.Fatalf("expected paid after settling overdue filing, got %s", paid.Status)
	}
	if !paid.Overdue {
		t.Fatal("expected overdue flag to survive settlement")
	}
}

func TestListPagination(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	years := []int{2024, 2025}
	types := []string{calculator.TypeIndividual, calculator.TypeVAT, calculator.TypeRental}
	for _, year := range years {
		for _, filingType := range types {
			f.createDraft(t, year, filingType, "100000")
			f.clk.Advance(time.Second)
		}
	}

	page, err := f.svc.List(ctx, domain.ListRequest{TaxpayerID: f.taxpayer.String()})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page.Filings) != 6 {
		t.Fatalf("expected 6 filings, got %d", len(page.Filings))
	}
	if page.HasMore {
		t.Fatal("expected single page")
	}

	filtered, err := f.svc.List(ctx, domain.ListRequest{
		TaxpayerID: f.taxpayer.String(),
		Year:       2024,
		FilingType: calculator.TypeVAT,
	})
	if err != nil {
		t.Fatalf("list filtered: %v", err)
	}
	if len(filtered.Filings) != 1 {
		t.Fatalf("expected 1 filing, got %d", len(filtered.Filings))
	}
}

func TestCreateDraftUnsupportedYear(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CreateDraft(context.Background(), domain.CreateDraftRequest{
		TaxpayerID:  f.taxpayer.String(),
		Year:        1999,
		FilingType:  calculator.TypeIndividual,
		GrossIncome: decimal.RequireFromString("100000"),
	})
	if !errors.Is(err, ratetable.ErrYearNotSupported) {
		t.Fatalf("expected ErrYearNotSupported, got %v", err)
	}
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}

	schema := []string{
		`CREATE TABLE taxpayers (
			id BIGINT PRIMARY KEY,
			pin TEXT NOT NULL,
			name TEXT NOT NULL,
			email TEXT NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE UNIQUE INDEX ux_taxpayers_pin ON taxpayers(pin)`,
		`CREATE TABLE filings (
			id BIGINT PRIMARY KEY,
			taxpayer_id BIGINT NOT NULL,
			year INTEGER NOT NULL,
			filing_type TEXT NOT NULL,
			category TEXT,
			status TEXT NOT NULL,
			revision INTEGER NOT NULL DEFAULT 0,
			supersedes_id BIGINT,
			currency TEXT NOT NULL,
			gross_income NUMERIC NOT NULL DEFAULT 0,
			taxable_income NUMERIC NOT NULL DEFAULT 0,
			tax_due NUMERIC NOT NULL DEFAULT 0,
			paid_total NUMERIC NOT NULL DEFAULT 0,
			overpayment_flagged BOOLEAN NOT NULL DEFAULT FALSE,
			overdue BOOLEAN NOT NULL DEFAULT FALSE,
			forms_data TEXT,
			deductions TEXT,
			assessment TEXT,
			validation_result TEXT,
			external_ref TEXT,
			reject_reason TEXT,
			sync_pending BOOLEAN NOT NULL DEFAULT FALSE,
			due_date TIMESTAMP NOT NULL,
			submitted_at TIMESTAMP,
			accepted_at TIMESTAMP,
			paid_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX ix_filings_taxpayer ON filings(taxpayer_id)`,
	}

	for _, stmt := range schema {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("schema exec failed: %v", err)
		}
	}

	return db
}

func assertCount(t *testing.T, db *gorm.DB, query string, want int) {
	t.Helper()

	var got int
	if err := db.Raw(query).Scan(&got).Error; err != nil {
		t.Fatalf("count query failed: %v", err)
	}
	if got != want {
		t.Fatalf("%s: expected %d, got %d", query, want, got)
	}
}
