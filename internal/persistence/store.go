package persistence

import (
	"context"
	"errors"

	"ApexLedger/internal/ledger"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	// ErrConflict means another mutation won the version race. The caller
	// re-reads the ledger and retries the whole operation.
	ErrConflict = errors.New("ledger version conflict")

	// ErrDuplicateDeposit means the deposit reference was already credited.
	ErrDuplicateDeposit = errors.New("deposit reference already credited")
)

// LedgerStore persists user ledgers with optimistic concurrency. Save fails
// with ErrConflict when the stored version no longer matches
// expectedVersion — that check is what guarantees at most one in-flight
// mutation per user ledger. Any other failure is a storage error, wrapped
// and surfaced opaquely, never interpreted as a business-rule failure.
type LedgerStore interface {
	// Load returns the user's ledger, creating an empty one in memory (not
	// persisted) for a user seen for the first time.
	Load(ctx context.Context, userID uuid.UUID) (*ledger.Ledger, error)

	// Save writes the ledger if its stored version still equals
	// expectedVersion, then bumps the version.
	Save(ctx context.Context, l *ledger.Ledger, expectedVersion int64) error

	// SaveWithDeposit is Save plus claiming the deposit reference, as one
	// atomic unit. A failed save leaves the reference unclaimed so a
	// redelivered notice can credit; a reference already claimed fails the
	// whole save with ErrDuplicateDeposit and credits nothing. References
	// are unique, which is what makes deposit delivery retries safe.
	SaveWithDeposit(ctx context.Context, l *ledger.Ledger, expectedVersion int64, dep Deposit) error
}

// Deposit is an approved cash deposit from the payment back office.
type Deposit struct {
	Reference string
	UserID    uuid.UUID
	Amount    decimal.Decimal
}
