package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EntryStatus is the lifecycle state of a lock entry.
type EntryStatus int32

const (
	StatusActive EntryStatus = iota
	StatusUnlockPending
	StatusUnlocked
)

func (s EntryStatus) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusUnlockPending:
		return "unlock_pending"
	case StatusUnlocked:
		return "unlocked"
	default:
		return "unknown"
	}
}

// ParseEntryStatus maps a stored status string back to its enum value.
func ParseEntryStatus(s string) (EntryStatus, bool) {
	switch s {
	case "active":
		return StatusActive, true
	case "unlock_pending":
		return StatusUnlockPending, true
	case "unlocked":
		return StatusUnlocked, true
	default:
		return 0, false
	}
}

// CanTransitionTo validates status transitions. The lifecycle is strictly
// forward: active → unlock_pending → unlocked. No entry regresses and
// unlocked is terminal.
func (s EntryStatus) CanTransitionTo(next EntryStatus) bool {
	validTransitions := map[EntryStatus][]EntryStatus{
		StatusActive:        {StatusUnlockPending},
		StatusUnlockPending: {StatusUnlocked},
		StatusUnlocked:      {},
	}

	for _, allowed := range validTransitions[s] {
		if next == allowed {
			return true
		}
	}
	return false
}

// UnlockRequest is the penalty snapshot frozen when an entry moves to
// unlock_pending. None of its figures are recomputed later — the penalty is
// locked in at request time even if more days pass before approval.
type UnlockRequest struct {
	RequestedAt        time.Time
	ProcessAfter       time.Time
	PenaltyPercent     int64
	PenaltyAmount      decimal.Decimal
	AmountAfterPenalty decimal.Decimal
	DaysElapsed        int64
	ApprovedAt         *time.Time
	ApprovedBy         *uuid.UUID
}

// LockEntry is one commitment of coins, owned exclusively by its user's
// ledger. Entries are never deleted; unlocked entries are retained for
// history.
type LockEntry struct {
	ID            uuid.UUID
	Amount        decimal.Decimal // immutable after creation
	LockStart     time.Time
	LockEnd       time.Time       // informational maturity target; never gates
	ROIRateAtLock decimal.Decimal // audit only, accrual uses the current rate
	Status        EntryStatus
	LastClaimAt   *time.Time
	TotalClaimed  decimal.Decimal
	Unlock        *UnlockRequest
}

// IsLocked reports whether the entry still counts toward the locked
// aggregate (active or unlock_pending).
func (e *LockEntry) IsLocked() bool {
	return e.Status == StatusActive || e.Status == StatusUnlockPending
}

// AccrualAnchor returns the instant unclaimed accrual is measured from:
// the last claim if one happened, otherwise the lock start.
func (e *LockEntry) AccrualAnchor() time.Time {
	if e.LastClaimAt != nil {
		return *e.LastClaimAt
	}
	return e.LockStart
}
