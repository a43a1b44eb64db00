package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/mapato/taxcore/internal/clock"
	"github.com/mapato/taxcore/internal/gateway/itax"
	"github.com/mapato/taxcore/internal/taxpayer/domain"
	"github.com/mapato/taxcore/internal/taxpayer/repository"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) domain.Service {
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
	}
	for _, stmt := range schema {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("schema exec failed: %v", err)
		}
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}

	log := zap.NewNop()
	clk := clock.NewFakeClock(time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC))

	return NewService(Params{
		DB:      db,
		Log:     log,
		GenID:   node,
		Clock:   clk,
		Repo:    repository.Provide(),
		Gateway: itax.New(log, clk),
	})
}

func TestRegisterAndLookup(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	created, err := svc.Register(ctx, domain.RegisterRequest{
		PIN:   "p051234567a",
		Name:  "Wanjiku Kamau",
		Email: "wanjiku@example.com",
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if created.PIN != "P051234567A" {
		t.Fatalf("expected normalized PIN, got %s", created.PIN)
	}
	if !created.IsActive {
		t.Fatal("expected active taxpayer")
	}

	byPIN, err := svc.GetByPIN(ctx, "P051234567A")
	if err != nil {
		t.Fatalf("get by pin: %v", err)
	}
	if byPIN.ID != created.ID {
		t.Fatalf("expected %s, got %s", created.ID, byPIN.ID)
	}

	byID, err := svc.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("get by id: %v", err)
	}
	if byID.PIN != created.PIN {
		t.Fatalf("expected %s, got %s", created.PIN, byID.PIN)
	}
}

func TestRegisterDuplicatePIN(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	req := domain.RegisterRequest{
		PIN:   "P051234567A",
		Name:  "Wanjiku Kamau",
		Email: "wanjiku@example.com",
	}
	if _, err := svc.Register(ctx, req); err != nil {
		t.Fatalf("register: %v", err)
	}

	req.Email = "other@example.com"
	_, err := svc.Register(ctx, req)
	if !errors.Is(err, domain.ErrPINExists) {
		t.Fatalf("expected ErrPINExists, got %v", err)
	}
}

func TestRegisterAuthorityRejectsPIN(t *testing.T) {
	svc := newTestService(t)

	// Locally well-formed but not in the authority's registration format.
	_, err := svc.Register(context.Background(), domain.RegisterRequest{
		PIN:   "A051234567A",
		Name:  "Wanjiku Kamau",
		Email: "wanjiku@example.com",
	})
	if err == nil {
		t.Fatal("expected authority to reject the PIN")
	}
}

func TestDeactivate(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	created, err := svc.Register(ctx, domain.RegisterRequest{
		PIN:   "P051234567A",
		Name:  "Wanjiku Kamau",
		Email: "wanjiku@example.com",
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	deactivated, err := svc.Deactivate(ctx, created.ID)
	if err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if deactivated.IsActive {
		t.Fatal("expected inactive taxpayer")
	}

	// Deactivating twice is a no-op.
	again, err := svc.Deactivate(ctx, created.ID)
	if err != nil {
		t.Fatalf("deactivate again: %v", err)
	}
	if again.IsActive {
		t.Fatal("expected taxpayer to stay inactive")
	}
}
