package ledger

import "errors"

// Client-rule errors. These surface to the caller as-is and are never
// retried internally.
var (
	ErrInvalidAmount              = errors.New("amount must be positive")
	ErrInvalidRate                = errors.New("rate must be positive")
	ErrInsufficientFunds          = errors.New("insufficient funds")
	ErrCooldownActive             = errors.New("lock cooldown active")
	ErrEntryNotFound              = errors.New("lock entry not found")
	ErrInvalidState               = errors.New("lock entry in invalid state for operation")
	ErrTooEarly                   = errors.New("lock too young for unlock request")
	ErrProcessingPeriodNotElapsed = errors.New("unlock processing period not elapsed")
)

// ErrInvariantViolated indicates the ledger failed its post-mutation
// self-check. It is a defect, not a client error; the mutation is discarded
// and never persisted.
var ErrInvariantViolated = errors.New("ledger invariant violated")
