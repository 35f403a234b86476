package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"ApexLedger/internal/ledger"
	"ApexLedger/internal/observability"
	"ApexLedger/internal/persistence"
	"ApexLedger/internal/rates"
	"ApexLedger/internal/testutil"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

var (
	day = 24 * time.Hour
	t0  = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type testRig struct {
	eng   *Engine
	store *persistence.MemoryStore
	clock *testutil.FakeClock
	rates *testutil.FixedRates
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()

	store := persistence.NewMemoryStore()
	clock := testutil.NewFakeClock(t0)
	fixed := testutil.NewFixedRates("5", "2")
	metrics := observability.NewMetricsWithRegistry(prometheus.NewRegistry())

	eng := New(store, fixed, clock, nil, zerolog.Nop(), metrics)
	return &testRig{eng: eng, store: store, clock: clock, rates: fixed}
}

// fundCoins credits cash and converts it to spendable coins at the fixed
// coin rate of 2.
func (r *testRig) fundCoins(t *testing.T, userID uuid.UUID, coins string) {
	t.Helper()

	cash := dec(coins).Mul(dec("2"))
	if _, err := r.eng.CreditDeposit(context.Background(), userID, "fund-"+uuid.NewString(), cash); err != nil {
		t.Fatalf("fund deposit: %v", err)
	}
	if _, err := r.eng.BuyCoins(context.Background(), userID, cash); err != nil {
		t.Fatalf("fund buy: %v", err)
	}
}

func TestOpenLockAndClaimAfterTenDays(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()
	userID := uuid.New()
	rig.fundCoins(t, userID, "100")

	lockRes, err := rig.eng.OpenLock(ctx, userID, dec("100"))
	if err != nil {
		t.Fatalf("OpenLock: %v", err)
	}
	if lockRes.Entry.Status != ledger.StatusActive {
		t.Errorf("status = %s, want active", lockRes.Entry.Status)
	}
	if !lockRes.Ledger.LockedCoins.Equal(dec("100")) {
		t.Errorf("locked = %s, want 100", lockRes.Ledger.LockedCoins)
	}

	rig.clock.Advance(10 * day)

	claimRes, err := rig.eng.ClaimProfit(ctx, userID)
	if err != nil {
		t.Fatalf("ClaimProfit: %v", err)
	}
	if !claimRes.Summary.TotalCash.Equal(dec("3.33")) {
		t.Errorf("total cash = %s, want 3.33", claimRes.Summary.TotalCash)
	}

	// The persisted state reflects the claim.
	l, err := rig.eng.GetLedger(ctx, userID)
	if err != nil {
		t.Fatalf("GetLedger: %v", err)
	}
	if !l.CashBalance.Round(2).Equal(dec("3.33")) {
		t.Errorf("cash = %s, want ~3.33", l.CashBalance)
	}
	if !l.LifetimeReturn.Equal(l.CashBalance) {
		t.Errorf("lifetime return %s != cash %s", l.LifetimeReturn, l.CashBalance)
	}
}

func TestOpenLockCooldown(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()
	userID := uuid.New()
	rig.fundCoins(t, userID, "100")

	if _, err := rig.eng.OpenLock(ctx, userID, dec("40")); err != nil {
		t.Fatalf("first lock: %v", err)
	}

	rig.clock.Advance(12 * time.Hour)
	if _, err := rig.eng.OpenLock(ctx, userID, dec("40")); !errors.Is(err, ledger.ErrCooldownActive) {
		t.Errorf("second lock within 24h: err = %v, want ErrCooldownActive", err)
	}

	rig.clock.Advance(12 * time.Hour)
	if _, err := rig.eng.OpenLock(ctx, userID, dec("40")); err != nil {
		t.Errorf("lock after cooldown: %v", err)
	}
}

func TestEarlyUnlockFullFlow(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()
	userID := uuid.New()
	rig.fundCoins(t, userID, "200")

	lockRes, err := rig.eng.OpenLock(ctx, userID, dec("200"))
	if err != nil {
		t.Fatalf("OpenLock: %v", err)
	}
	entryID := lockRes.Entry.ID

	// Day 75: in the 25% tier.
	rig.clock.Advance(75 * day)

	reqRes, err := rig.eng.RequestUnlock(ctx, userID, entryID)
	if err != nil {
		t.Fatalf("RequestUnlock: %v", err)
	}
	u := reqRes.Entry.Unlock
	if u.PenaltyPercent != 25 {
		t.Errorf("penalty = %d%%, want 25%%", u.PenaltyPercent)
	}
	if !u.PenaltyAmount.Equal(dec("50")) || !u.AmountAfterPenalty.Equal(dec("150")) {
		t.Errorf("split = %s/%s, want 50/150", u.PenaltyAmount, u.AmountAfterPenalty)
	}

	// Approval inside the 7-day processing window is refused.
	approver := uuid.New()
	rig.clock.Advance(6 * day)
	if _, err := rig.eng.ApproveUnlock(ctx, userID, entryID, approver); !errors.Is(err, ledger.ErrProcessingPeriodNotElapsed) {
		t.Errorf("early approve: err = %v, want ErrProcessingPeriodNotElapsed", err)
	}

	rig.clock.Advance(1 * day)
	appRes, err := rig.eng.ApproveUnlock(ctx, userID, entryID, approver)
	if err != nil {
		t.Fatalf("ApproveUnlock: %v", err)
	}
	if !appRes.CoinsCredited.Equal(dec("150")) {
		t.Errorf("credited = %s, want 150", appRes.CoinsCredited)
	}
	if !appRes.Ledger.SpendableCoins.Equal(dec("150")) {
		t.Errorf("spendable = %s, want 150 (penalty destroyed)", appRes.Ledger.SpendableCoins)
	}
	if !appRes.Ledger.LockedCoins.IsZero() {
		t.Errorf("locked = %s, want 0", appRes.Ledger.LockedCoins)
	}

	// Re-approving cannot double-credit.
	if _, err := rig.eng.ApproveUnlock(ctx, userID, entryID, approver); !errors.Is(err, ledger.ErrInvalidState) {
		t.Errorf("re-approve: err = %v, want ErrInvalidState", err)
	}
}

func TestRequestUnlockTooEarly(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()
	userID := uuid.New()
	rig.fundCoins(t, userID, "100")

	lockRes, err := rig.eng.OpenLock(ctx, userID, dec("100"))
	if err != nil {
		t.Fatalf("OpenLock: %v", err)
	}

	rig.clock.Advance(30 * day)
	if _, err := rig.eng.RequestUnlock(ctx, userID, lockRes.Entry.ID); !errors.Is(err, ledger.ErrTooEarly) {
		t.Errorf("day 30: err = %v, want ErrTooEarly", err)
	}
}

func TestOperationsRequireConfiguredRates(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()
	userID := uuid.New()
	rig.fundCoins(t, userID, "100")

	rig.rates.HasROI = false
	if _, err := rig.eng.OpenLock(ctx, userID, dec("50")); !errors.Is(err, rates.ErrRateNotConfigured) {
		t.Errorf("OpenLock without ROI rate: err = %v, want ErrRateNotConfigured", err)
	}
	if _, err := rig.eng.ClaimProfit(ctx, userID); !errors.Is(err, rates.ErrRateNotConfigured) {
		t.Errorf("ClaimProfit without ROI rate: err = %v, want ErrRateNotConfigured", err)
	}

	rig.rates.HasROI = true
	rig.rates.HasCoin = false
	if _, err := rig.eng.BuyCoins(ctx, userID, dec("10")); !errors.Is(err, rates.ErrRateNotConfigured) {
		t.Errorf("BuyCoins without coin rate: err = %v, want ErrRateNotConfigured", err)
	}
}

func TestConcurrentClaimsCreditExactlyOnce(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()
	userID := uuid.New()
	rig.fundCoins(t, userID, "100")

	if _, err := rig.eng.OpenLock(ctx, userID, dec("100")); err != nil {
		t.Fatalf("OpenLock: %v", err)
	}
	rig.clock.Advance(10 * day)

	// Two racing claims: the version check makes the loser re-read, and the
	// re-read sees the advanced claim anchor, so it credits nothing.
	var wg sync.WaitGroup
	results := make([]*ClaimResult, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = rig.eng.ClaimProfit(ctx, userID)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("claim %d: %v", i, err)
		}
	}

	total := results[0].Summary.TotalCash.Add(results[1].Summary.TotalCash)
	if !total.Equal(dec("3.33")) {
		t.Errorf("combined credit = %s, want exactly one claim of 3.33", total)
	}

	l, err := rig.eng.GetLedger(ctx, userID)
	if err != nil {
		t.Fatalf("GetLedger: %v", err)
	}
	if !l.CashBalance.Round(2).Equal(dec("3.33")) {
		t.Errorf("final cash = %s, want ~3.33", l.CashBalance)
	}
}

// flakyStore refuses saves while failing is set, then behaves normally.
type flakyStore struct {
	*persistence.MemoryStore
	failing bool
}

func (s *flakyStore) Save(ctx context.Context, l *ledger.Ledger, expectedVersion int64) error {
	if s.failing {
		return persistence.ErrConflict
	}
	return s.MemoryStore.Save(ctx, l, expectedVersion)
}

func (s *flakyStore) SaveWithDeposit(ctx context.Context, l *ledger.Ledger, expectedVersion int64, dep persistence.Deposit) error {
	if s.failing {
		return persistence.ErrConflict
	}
	return s.MemoryStore.SaveWithDeposit(ctx, l, expectedVersion, dep)
}

func TestConflictRetryBudgetExhausts(t *testing.T) {
	store := &flakyStore{MemoryStore: persistence.NewMemoryStore(), failing: true}
	clock := testutil.NewFakeClock(t0)
	metrics := observability.NewMetricsWithRegistry(prometheus.NewRegistry())
	eng := New(store, testutil.NewFixedRates("5", "2"), clock, nil, zerolog.Nop(), metrics)

	_, err := eng.CreditDeposit(context.Background(), uuid.New(), "ref-1", dec("100"))
	if !errors.Is(err, persistence.ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict after retries", err)
	}
}

func TestDepositReferenceSurvivesFailedSave(t *testing.T) {
	store := &flakyStore{MemoryStore: persistence.NewMemoryStore(), failing: true}
	clock := testutil.NewFakeClock(t0)
	metrics := observability.NewMetricsWithRegistry(prometheus.NewRegistry())
	eng := New(store, testutil.NewFixedRates("5", "2"), clock, nil, zerolog.Nop(), metrics)
	ctx := context.Background()
	userID := uuid.New()

	// Every save fails: the credit is rejected AND the reference stays
	// unclaimed, because both live in the same atomic write.
	if _, err := eng.CreditDeposit(ctx, userID, "dep-123", dec("100")); !errors.Is(err, persistence.ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict while store is down", err)
	}

	// The store recovers and the notice is redelivered. It must credit in
	// full, not be swallowed as a duplicate.
	store.failing = false
	res, err := eng.CreditDeposit(ctx, userID, "dep-123", dec("100"))
	if err != nil {
		t.Fatalf("redelivered credit: %v", err)
	}
	if !res.Credited {
		t.Fatal("redelivered notice reported as duplicate, deposit lost")
	}

	l, err := eng.GetLedger(ctx, userID)
	if err != nil {
		t.Fatalf("GetLedger: %v", err)
	}
	if !l.CashBalance.Equal(dec("100")) {
		t.Errorf("cash = %s, want 100", l.CashBalance)
	}

	// And a second redelivery after success is still a no-op.
	again, err := eng.CreditDeposit(ctx, userID, "dep-123", dec("100"))
	if err != nil {
		t.Fatalf("post-credit redelivery: %v", err)
	}
	if again.Credited {
		t.Error("claimed reference credited twice")
	}
}

func TestCreditDepositIdempotentOnReference(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()
	userID := uuid.New()

	first, err := rig.eng.CreditDeposit(ctx, userID, "dep-abc", dec("250"))
	if err != nil {
		t.Fatalf("first credit: %v", err)
	}
	if !first.Credited {
		t.Error("first credit reported as duplicate")
	}

	second, err := rig.eng.CreditDeposit(ctx, userID, "dep-abc", dec("250"))
	if err != nil {
		t.Fatalf("duplicate credit: %v", err)
	}
	if second.Credited {
		t.Error("duplicate reference credited again")
	}

	l, err := rig.eng.GetLedger(ctx, userID)
	if err != nil {
		t.Fatalf("GetLedger: %v", err)
	}
	if !l.CashBalance.Equal(dec("250")) {
		t.Errorf("cash = %s, want 250 (credited once)", l.CashBalance)
	}
}

func TestCreditDepositRejectsNonPositiveAmount(t *testing.T) {
	rig := newTestRig(t)

	if _, err := rig.eng.CreditDeposit(context.Background(), uuid.New(), "dep-zero", dec("0")); !errors.Is(err, ledger.ErrInvalidAmount) {
		t.Errorf("zero deposit: err = %v, want ErrInvalidAmount", err)
	}
}

func TestBuyCoins(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()
	userID := uuid.New()

	if _, err := rig.eng.CreditDeposit(ctx, userID, "dep-1", dec("100")); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	res, err := rig.eng.BuyCoins(ctx, userID, dec("100"))
	if err != nil {
		t.Fatalf("BuyCoins: %v", err)
	}
	if !res.CoinsPurchased.Equal(dec("50")) {
		t.Errorf("coins = %s, want 50 at rate 2", res.CoinsPurchased)
	}
	if !res.Ledger.CashBalance.IsZero() {
		t.Errorf("cash = %s, want 0", res.Ledger.CashBalance)
	}

	if _, err := rig.eng.BuyCoins(ctx, userID, dec("1")); !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Errorf("overdraw: err = %v, want ErrInsufficientFunds", err)
	}
}

func TestGetLedgerForUnknownUserIsEmpty(t *testing.T) {
	rig := newTestRig(t)

	l, err := rig.eng.GetLedger(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("GetLedger: %v", err)
	}
	if !l.SpendableCoins.IsZero() || !l.CashBalance.IsZero() || len(l.Entries) != 0 {
		t.Errorf("new user ledger not empty: %+v", l)
	}
	if l.Version != 0 {
		t.Errorf("version = %d, want 0 for never-saved ledger", l.Version)
	}
}
