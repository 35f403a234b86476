package ledger

import (
	"time"

	"ApexLedger/internal/money"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Ledger is the single point of truth for one user's coin and cash state.
// All mutations are pure in-memory operations; the engine wraps each one in
// a versioned read-modify-write so at most one mutation per user is in
// flight at a time.
type Ledger struct {
	UserID         uuid.UUID
	SpendableCoins decimal.Decimal
	CashBalance    decimal.Decimal
	LockedCoins    decimal.Decimal // derived cache: Σ Amount over locked entries
	LifetimeReturn decimal.Decimal // monotonically non-decreasing
	LastLockAt     *time.Time
	Entries        []*LockEntry

	// Version is the optimistic concurrency token checked by the store on
	// save. A failed mutation leaves the ledger untouched by convention:
	// callers discard the loaded copy on error.
	Version int64
}

// New returns an empty ledger for a user seen for the first time.
func New(userID uuid.UUID) *Ledger {
	return &Ledger{
		UserID:         userID,
		SpendableCoins: decimal.Zero,
		CashBalance:    decimal.Zero,
		LockedCoins:    decimal.Zero,
		LifetimeReturn: decimal.Zero,
	}
}

// Entry finds a lock entry by id.
func (l *Ledger) Entry(id uuid.UUID) (*LockEntry, bool) {
	for _, e := range l.Entries {
		if e.ID == id {
			return e, true
		}
	}
	return nil, false
}

// OpenLock commits amount spendable coins into a new active lock entry.
// The 24h cooldown is per-user across all entries, keyed by LastLockAt.
func (l *Ledger) OpenLock(amount decimal.Decimal, now time.Time, roiRate decimal.Decimal) (*LockEntry, error) {
	if amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if amount.GreaterThan(l.SpendableCoins) {
		return nil, ErrInsufficientFunds
	}
	if l.LastLockAt != nil && now.Sub(*l.LastLockAt) < money.LockCooldown {
		return nil, ErrCooldownActive
	}

	entry := &LockEntry{
		ID:            uuid.New(),
		Amount:        amount,
		LockStart:     now,
		LockEnd:       now.AddDate(0, 0, money.MaturityDays),
		ROIRateAtLock: roiRate,
		Status:        StatusActive,
		TotalClaimed:  decimal.Zero,
	}

	l.SpendableCoins = l.SpendableCoins.Sub(amount)
	l.LockedCoins = l.LockedCoins.Add(amount)
	l.Entries = append(l.Entries, entry)
	lockAt := now
	l.LastLockAt = &lockAt

	return entry, nil
}

// EntryClaim is the per-entry outcome of a profit claim.
type EntryClaim struct {
	EntryID      uuid.UUID
	ElapsedDays  int64
	CoinsAccrued decimal.Decimal
	CashCredited decimal.Decimal
}

// ClaimSummary is the result of sweeping accrued profit to cash.
type ClaimSummary struct {
	Claims    []EntryClaim
	TotalCash decimal.Decimal
}

// ClaimProfit sweeps accrued-but-unclaimed profit from every active entry
// into the cash balance. Entries with zero whole elapsed days contribute
// nothing and keep their claim anchor, preserving fractional-day accrual for
// a later claim. A zero total is a reported no-op, not an error.
func (l *Ledger) ClaimProfit(now time.Time, roiRate, coinRate decimal.Decimal) *ClaimSummary {
	summary := &ClaimSummary{TotalCash: decimal.Zero}

	for _, e := range l.Entries {
		if e.Status != StatusActive {
			continue
		}

		days := money.ElapsedDays(e.AccrualAnchor(), now)
		if days == 0 {
			continue
		}

		coins := money.Accrue(e.Amount, roiRate, days)
		cash := money.ToCash(coins, coinRate)

		claimAt := now
		e.LastClaimAt = &claimAt
		e.TotalClaimed = e.TotalClaimed.Add(cash)

		l.CashBalance = l.CashBalance.Add(cash)
		l.LifetimeReturn = l.LifetimeReturn.Add(cash)

		summary.Claims = append(summary.Claims, EntryClaim{
			EntryID:      e.ID,
			ElapsedDays:  days,
			CoinsAccrued: coins,
			CashCredited: money.RoundCash(cash),
		})
		summary.TotalCash = summary.TotalCash.Add(cash)
	}

	summary.TotalCash = money.RoundCash(summary.TotalCash)
	return summary
}

// RequestUnlock transitions an active entry to unlock_pending, freezing the
// penalty snapshot from the tier table at request time.
func (l *Ledger) RequestUnlock(entryID uuid.UUID, now time.Time) (*LockEntry, error) {
	entry, ok := l.Entry(entryID)
	if !ok {
		return nil, ErrEntryNotFound
	}
	if !entry.Status.CanTransitionTo(StatusUnlockPending) {
		return nil, ErrInvalidState
	}

	days := money.ElapsedDays(entry.LockStart, now)
	if days < money.MinLockAge {
		return nil, ErrTooEarly
	}

	pct := money.PenaltyPercent(days)
	penalty, afterPenalty := money.PenaltySplit(entry.Amount, pct)

	entry.Status = StatusUnlockPending
	entry.Unlock = &UnlockRequest{
		RequestedAt:        now,
		ProcessAfter:       now.Add(money.ProcessingDelay),
		PenaltyPercent:     pct,
		PenaltyAmount:      penalty,
		AmountAfterPenalty: afterPenalty,
		DaysElapsed:        days,
	}

	return entry, nil
}

// ApproveUnlock settles a pending unlock: the penalty-adjusted amount is
// credited to spendable coins, the locked aggregate drops by the original
// amount, and the penalty is destroyed (credited nowhere). Re-approving an
// unlocked entry fails with ErrInvalidState — it never double-credits.
func (l *Ledger) ApproveUnlock(entryID, approver uuid.UUID, now time.Time) (*LockEntry, error) {
	entry, ok := l.Entry(entryID)
	if !ok {
		return nil, ErrEntryNotFound
	}
	if !entry.Status.CanTransitionTo(StatusUnlocked) || entry.Unlock == nil {
		return nil, ErrInvalidState
	}
	if now.Before(entry.Unlock.ProcessAfter) {
		return nil, ErrProcessingPeriodNotElapsed
	}

	entry.Status = StatusUnlocked
	approvedAt := now
	entry.Unlock.ApprovedAt = &approvedAt
	entry.Unlock.ApprovedBy = &approver

	l.SpendableCoins = l.SpendableCoins.Add(entry.Unlock.AmountAfterPenalty)
	l.LockedCoins = l.LockedCoins.Sub(entry.Amount)

	return entry, nil
}

// Deposit credits an approved cash deposit.
func (l *Ledger) Deposit(amount decimal.Decimal) error {
	if amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	l.CashBalance = l.CashBalance.Add(amount)
	return nil
}

// BuyCoins converts cash into spendable coins at the current coin rate.
func (l *Ledger) BuyCoins(cashAmount, coinRate decimal.Decimal) (coins decimal.Decimal, err error) {
	if cashAmount.Sign() <= 0 {
		return decimal.Zero, ErrInvalidAmount
	}
	// The schema forbids non-positive rates; reject rather than divide by a
	// hand-edited zero row.
	if coinRate.Sign() <= 0 {
		return decimal.Zero, ErrInvalidRate
	}
	if cashAmount.GreaterThan(l.CashBalance) {
		return decimal.Zero, ErrInsufficientFunds
	}

	coins = cashAmount.Div(coinRate)
	l.CashBalance = l.CashBalance.Sub(cashAmount)
	l.SpendableCoins = l.SpendableCoins.Add(coins)
	return coins, nil
}
