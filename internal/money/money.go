package money

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product-wide time rules. Accrual uses a fixed 30-day month regardless of
// calendar length — this matches the live product's payout behavior and must
// not be "corrected" to calendar months.
const (
	DaysPerMonth    = 30
	LockCooldown    = 24 * time.Hour
	MinLockAge      = 60 // whole days before an unlock request is accepted
	ProcessingDelay = 7 * 24 * time.Hour
	MaturityDays    = 180 // informational lock target; never gates anything
)

var (
	hundred      = decimal.NewFromInt(100)
	daysPerMonth = decimal.NewFromInt(DaysPerMonth)
)

// ElapsedDays returns the number of whole 24h days between from and to.
// Partial days are dropped; negative spans clamp to zero.
func ElapsedDays(from, to time.Time) int64 {
	if !to.After(from) {
		return 0
	}
	return int64(to.Sub(from) / (24 * time.Hour))
}

// RoundCash rounds a money value to 2 decimal places for externally visible
// results. Internal accumulation keeps full precision — round only at the edge.
func RoundCash(v decimal.Decimal) decimal.Decimal {
	return v.Round(2)
}

// ToCash converts a coin amount to cash at the given coin→cash rate.
func ToCash(coins, coinRate decimal.Decimal) decimal.Decimal {
	return coins.Mul(coinRate)
}
