package rates

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// ErrRateNotConfigured is returned when no administrator has ever set a
// value. The engine surfaces it as a precondition failure — it never
// silently defaults.
var ErrRateNotConfigured = errors.New("rate not configured")

// Provider supplies the currently active ROI percentage and coin→cash
// exchange rate. Both are administrative settings with append-only history;
// the newest active row wins.
type Provider interface {
	CurrentROIRatePercent(ctx context.Context) (decimal.Decimal, error)
	CurrentCoinRate(ctx context.Context) (decimal.Decimal, error)
}
