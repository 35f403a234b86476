package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ApexLedger/internal/ledger"
	"ApexLedger/internal/observability"
	"ApexLedger/internal/persistence"
	"ApexLedger/internal/rates"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// maxConflictRetries bounds how many times an operation re-reads and
// retries after losing the version race before surfacing the conflict.
const maxConflictRetries = 3

// Publisher receives outbound ledger events after a successful mutation.
// Publishing is best-effort; failures never roll back the operation.
type Publisher interface {
	PublishLedgerEvent(ctx context.Context, eventType string, userID uuid.UUID, payload interface{})
}

// Engine exposes every ledger operation as a single callable on primitive
// inputs. Each operation is one atomic read-modify-write: load the ledger,
// apply the pure mutation, re-validate invariants, save with the expected
// version. The store's version check guarantees at most one in-flight
// mutation per user; a conflict retries the whole operation from the load.
type Engine struct {
	store   persistence.LedgerStore
	rates   rates.Provider
	clock   Clock
	pub     Publisher
	log     zerolog.Logger
	metrics *observability.Metrics
}

func New(
	store persistence.LedgerStore,
	rateProvider rates.Provider,
	clock Clock,
	pub Publisher,
	log zerolog.Logger,
	metrics *observability.Metrics,
) *Engine {
	return &Engine{
		store:   store,
		rates:   rateProvider,
		clock:   clock,
		pub:     pub,
		log:     log,
		metrics: metrics,
	}
}

// OpenLockResult is the success payload of OpenLock.
type OpenLockResult struct {
	Entry  *ledger.LockEntry
	Ledger *ledger.Ledger
}

// OpenLock commits spendable coins into a new lock entry.
func (e *Engine) OpenLock(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) (*OpenLockResult, error) {
	var result OpenLockResult

	l, err := e.mutate(ctx, "open_lock", userID, func(l *ledger.Ledger) error {
		roiRate, err := e.rates.CurrentROIRatePercent(ctx)
		if err != nil {
			return err
		}

		entry, err := l.OpenLock(amount, e.clock.Now(), roiRate)
		if err != nil {
			return err
		}
		result.Entry = entry
		return nil
	})
	if err != nil {
		return nil, err
	}
	result.Ledger = l

	e.publish(ctx, "lock_opened", userID, result.Entry)
	return &result, nil
}

// ClaimResult is the success payload of ClaimProfit. TotalCash is rounded
// to 2dp; a zero total means no entry had a whole elapsed day.
type ClaimResult struct {
	Summary *ledger.ClaimSummary
	Ledger  *ledger.Ledger
}

// ClaimProfit sweeps accrued profit from every active entry into cash.
func (e *Engine) ClaimProfit(ctx context.Context, userID uuid.UUID) (*ClaimResult, error) {
	var result ClaimResult

	l, err := e.mutate(ctx, "claim_profit", userID, func(l *ledger.Ledger) error {
		roiRate, err := e.rates.CurrentROIRatePercent(ctx)
		if err != nil {
			return err
		}
		coinRate, err := e.rates.CurrentCoinRate(ctx)
		if err != nil {
			return err
		}

		result.Summary = l.ClaimProfit(e.clock.Now(), roiRate, coinRate)
		return nil
	})
	if err != nil {
		return nil, err
	}
	result.Ledger = l

	if result.Summary.TotalCash.Sign() > 0 {
		claimed, _ := result.Summary.TotalCash.Float64()
		e.metrics.ProfitClaimed.Add(claimed)
		e.publish(ctx, "profit_claimed", userID, result.Summary)
	}
	return &result, nil
}

// UnlockRequestResult is the success payload of RequestUnlock. The entry
// carries the frozen penalty snapshot.
type UnlockRequestResult struct {
	Entry  *ledger.LockEntry
	Ledger *ledger.Ledger
}

// RequestUnlock moves one entry to unlock_pending with a frozen penalty.
func (e *Engine) RequestUnlock(ctx context.Context, userID, entryID uuid.UUID) (*UnlockRequestResult, error) {
	var result UnlockRequestResult

	l, err := e.mutate(ctx, "request_unlock", userID, func(l *ledger.Ledger) error {
		entry, err := l.RequestUnlock(entryID, e.clock.Now())
		if err != nil {
			return err
		}
		result.Entry = entry
		return nil
	})
	if err != nil {
		return nil, err
	}
	result.Ledger = l

	e.publish(ctx, "unlock_requested", userID, result.Entry)
	return &result, nil
}

// ApproveUnlockResult is the success payload of ApproveUnlock.
type ApproveUnlockResult struct {
	Entry         *ledger.LockEntry
	CoinsCredited decimal.Decimal
	Ledger        *ledger.Ledger
}

// ApproveUnlock settles a pending unlock after its processing delay.
func (e *Engine) ApproveUnlock(ctx context.Context, userID, entryID, approverID uuid.UUID) (*ApproveUnlockResult, error) {
	var result ApproveUnlockResult

	l, err := e.mutate(ctx, "approve_unlock", userID, func(l *ledger.Ledger) error {
		entry, err := l.ApproveUnlock(entryID, approverID, e.clock.Now())
		if err != nil {
			return err
		}
		result.Entry = entry
		result.CoinsCredited = entry.Unlock.AmountAfterPenalty
		return nil
	})
	if err != nil {
		return nil, err
	}
	result.Ledger = l

	destroyed, _ := result.Entry.Unlock.PenaltyAmount.Float64()
	e.metrics.PenaltyDestroyed.Add(destroyed)
	e.publish(ctx, "unlock_approved", userID, result.Entry)
	return &result, nil
}

// BuyCoinsResult is the success payload of BuyCoins.
type BuyCoinsResult struct {
	CoinsPurchased decimal.Decimal
	Ledger         *ledger.Ledger
}

// BuyCoins converts cash into spendable coins at the current coin rate.
func (e *Engine) BuyCoins(ctx context.Context, userID uuid.UUID, cashAmount decimal.Decimal) (*BuyCoinsResult, error) {
	var result BuyCoinsResult

	l, err := e.mutate(ctx, "buy_coins", userID, func(l *ledger.Ledger) error {
		coinRate, err := e.rates.CurrentCoinRate(ctx)
		if err != nil {
			return err
		}

		coins, err := l.BuyCoins(cashAmount, coinRate)
		if err != nil {
			return err
		}
		result.CoinsPurchased = coins
		return nil
	})
	if err != nil {
		return nil, err
	}
	result.Ledger = l

	e.publish(ctx, "coins_purchased", userID, map[string]string{
		"cash_spent": cashAmount.String(),
		"coins":      result.CoinsPurchased.String(),
	})
	return &result, nil
}

// DepositResult is the success payload of CreditDeposit. Credited is false
// when the reference was already processed (safe re-delivery).
type DepositResult struct {
	Credited bool
	Ledger   *ledger.Ledger
}

// CreditDeposit credits a back-office approved deposit to the user's cash
// balance. The deposit reference is claimed inside the same save that
// credits the cash: a failed save leaves the reference unclaimed, so the
// redelivered notice credits on retry, and a claimed reference is a reported
// no-op so redelivery cannot double-credit. Money is never lost to a burned
// reference.
func (e *Engine) CreditDeposit(ctx context.Context, userID uuid.UUID, reference string, amount decimal.Decimal) (*DepositResult, error) {
	if amount.Sign() <= 0 {
		e.metrics.OpsRejected.WithLabelValues("credit_deposit", rejectReason(ledger.ErrInvalidAmount)).Inc()
		return nil, ledger.ErrInvalidAmount
	}

	dep := persistence.Deposit{
		Reference: reference,
		UserID:    userID,
		Amount:    amount,
	}

	l, err := e.mutateWith(ctx, "credit_deposit", userID,
		func(l *ledger.Ledger) error {
			return l.Deposit(amount)
		},
		func(ctx context.Context, l *ledger.Ledger, expectedVersion int64) error {
			return e.store.SaveWithDeposit(ctx, l, expectedVersion, dep)
		})
	if errors.Is(err, persistence.ErrDuplicateDeposit) {
		e.metrics.DepositsDuplicate.Inc()
		return &DepositResult{Credited: false}, nil
	}
	if err != nil {
		return nil, err
	}

	e.metrics.DepositsCredited.Inc()
	e.publish(ctx, "deposit_credited", userID, map[string]string{
		"reference": reference,
		"amount":    amount.String(),
	})
	return &DepositResult{Credited: true, Ledger: l}, nil
}

// GetLedger returns a snapshot of the user's ledger.
func (e *Engine) GetLedger(ctx context.Context, userID uuid.UUID) (*ledger.Ledger, error) {
	l, err := e.store.Load(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load ledger: %w", err)
	}
	return l, nil
}

// mutate runs one read-modify-write cycle, retrying the whole cycle on a
// version conflict. fn sees a private copy of the ledger; a failed attempt
// discards it, so a validation or rate error leaves no partial state.
func (e *Engine) mutate(ctx context.Context, op string, userID uuid.UUID, fn func(l *ledger.Ledger) error) (*ledger.Ledger, error) {
	return e.mutateWith(ctx, op, userID, fn, e.store.Save)
}

// mutateWith is mutate with a caller-chosen save, so an operation can bundle
// extra rows into the same atomic write.
func (e *Engine) mutateWith(ctx context.Context, op string, userID uuid.UUID, fn func(l *ledger.Ledger) error, save func(ctx context.Context, l *ledger.Ledger, expectedVersion int64) error) (*ledger.Ledger, error) {
	start := time.Now()
	defer func() {
		e.metrics.OpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}()

	for attempt := 0; ; attempt++ {
		l, err := e.store.Load(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("load ledger: %w", err)
		}

		if err := fn(l); err != nil {
			e.metrics.OpsRejected.WithLabelValues(op, rejectReason(err)).Inc()
			return nil, err
		}

		if err := ledger.Validate(l); err != nil {
			// Defect, never persisted. Loud on purpose.
			e.log.Error().Err(err).Str("op", op).Stringer("user_id", userID).
				Msg("ledger invariant violated, mutation discarded")
			return nil, err
		}

		err = save(ctx, l, l.Version)
		if err == nil {
			e.metrics.OpsApplied.WithLabelValues(op).Inc()
			return l, nil
		}
		if !errors.Is(err, persistence.ErrConflict) {
			return nil, fmt.Errorf("save ledger: %w", err)
		}

		if attempt >= maxConflictRetries {
			e.metrics.ConflictFailures.Inc()
			e.log.Warn().Str("op", op).Stringer("user_id", userID).
				Int("attempts", attempt+1).Msg("conflict retry budget exhausted")
			return nil, persistence.ErrConflict
		}
		e.metrics.ConflictRetries.Inc()
	}
}

func (e *Engine) publish(ctx context.Context, eventType string, userID uuid.UUID, payload interface{}) {
	if e.pub == nil {
		return
	}
	e.pub.PublishLedgerEvent(ctx, eventType, userID, payload)
}

// rejectReason maps a client error to a stable metric label.
func rejectReason(err error) string {
	switch {
	case errors.Is(err, ledger.ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, ledger.ErrInvalidRate):
		return "invalid_rate"
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ledger.ErrCooldownActive):
		return "cooldown_active"
	case errors.Is(err, ledger.ErrEntryNotFound):
		return "entry_not_found"
	case errors.Is(err, ledger.ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ledger.ErrTooEarly):
		return "too_early"
	case errors.Is(err, ledger.ErrProcessingPeriodNotElapsed):
		return "processing_period_not_elapsed"
	case errors.Is(err, rates.ErrRateNotConfigured):
		return "rate_not_configured"
	default:
		return "other"
	}
}
