package ledger

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Validate recomputes the derived state and checks every cross-entry
// invariant. The engine runs it after each mutation, before persisting; a
// failure means the mutation is discarded.
func Validate(l *Ledger) error {
	if l.SpendableCoins.Sign() < 0 {
		return fmt.Errorf("%w: spendable coins negative: %s", ErrInvariantViolated, l.SpendableCoins)
	}
	if l.CashBalance.Sign() < 0 {
		return fmt.Errorf("%w: cash balance negative: %s", ErrInvariantViolated, l.CashBalance)
	}
	if l.LockedCoins.Sign() < 0 {
		return fmt.Errorf("%w: locked aggregate negative: %s", ErrInvariantViolated, l.LockedCoins)
	}
	if l.LifetimeReturn.Sign() < 0 {
		return fmt.Errorf("%w: lifetime return negative: %s", ErrInvariantViolated, l.LifetimeReturn)
	}

	// The locked aggregate is a cache of Σ amount over locked entries.
	// Recompute and compare; divergence is a defect.
	sum := SumLockedEntries(l)
	if !sum.Equal(l.LockedCoins) {
		return fmt.Errorf("%w: locked aggregate %s != entry sum %s",
			ErrInvariantViolated, l.LockedCoins, sum)
	}

	for _, e := range l.Entries {
		if e.Amount.Sign() <= 0 {
			return fmt.Errorf("%w: entry %s has non-positive amount %s",
				ErrInvariantViolated, e.ID, e.Amount)
		}
		if e.TotalClaimed.Sign() < 0 {
			return fmt.Errorf("%w: entry %s has negative total claimed %s",
				ErrInvariantViolated, e.ID, e.TotalClaimed)
		}
		if e.Status == StatusUnlockPending || e.Status == StatusUnlocked {
			if e.Unlock == nil {
				return fmt.Errorf("%w: entry %s is %s without an unlock snapshot",
					ErrInvariantViolated, e.ID, e.Status)
			}
		}
	}

	return nil
}

// SumLockedEntries returns Σ amount over entries in {active, unlock_pending}.
func SumLockedEntries(l *Ledger) decimal.Decimal {
	sum := decimal.Zero
	for _, e := range l.Entries {
		if e.IsLocked() {
			sum = sum.Add(e.Amount)
		}
	}
	return sum
}
