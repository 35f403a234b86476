package rates_test

import (
	"context"
	"errors"
	"testing"

	"ApexLedger/internal/persistence"
	"ApexLedger/internal/rates"
	"ApexLedger/internal/testutil"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func setupProvider(t *testing.T) *rates.PostgresProvider {
	t.Helper()
	testutil.RequireIntegration(t)

	db, cleanup := testutil.SetupTestDB(t)
	t.Cleanup(cleanup)

	migrator := persistence.NewMigrator(db, "../../migrations")
	if err := migrator.Up(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	return rates.NewPostgresProvider(db)
}

func TestProviderUnconfigured(t *testing.T) {
	p := setupProvider(t)
	ctx := context.Background()

	if _, err := p.CurrentROIRatePercent(ctx); !errors.Is(err, rates.ErrRateNotConfigured) {
		t.Errorf("ROI on empty table: err = %v, want rates.ErrRateNotConfigured", err)
	}
	if _, err := p.CurrentCoinRate(ctx); !errors.Is(err, rates.ErrRateNotConfigured) {
		t.Errorf("coin rate on empty table: err = %v, want rates.ErrRateNotConfigured", err)
	}
}

func TestProviderNewestRateWins(t *testing.T) {
	p := setupProvider(t)
	ctx := context.Background()
	admin := uuid.New()

	if err := p.SetROIRate(ctx, decimal.NewFromInt(5), admin); err != nil {
		t.Fatalf("SetROIRate: %v", err)
	}
	if err := p.SetROIRate(ctx, decimal.RequireFromString("7.5"), admin); err != nil {
		t.Fatalf("SetROIRate: %v", err)
	}

	got, err := p.CurrentROIRatePercent(ctx)
	if err != nil {
		t.Fatalf("CurrentROIRatePercent: %v", err)
	}
	if !got.Equal(decimal.RequireFromString("7.5")) {
		t.Errorf("roi = %s, want 7.5 (newest row)", got)
	}

	if err := p.SetCoinRate(ctx, decimal.NewFromInt(2), admin); err != nil {
		t.Fatalf("SetCoinRate: %v", err)
	}
	coin, err := p.CurrentCoinRate(ctx)
	if err != nil {
		t.Fatalf("CurrentCoinRate: %v", err)
	}
	if !coin.Equal(decimal.NewFromInt(2)) {
		t.Errorf("coin rate = %s, want 2", coin)
	}
}

func TestProviderRejectsNonPositiveRate(t *testing.T) {
	p := setupProvider(t)

	if err := p.SetROIRate(context.Background(), decimal.Zero, uuid.New()); err == nil {
		t.Error("zero rate accepted")
	}
}
