package money

import "github.com/shopspring/decimal"

// MonthlyProfit returns the coins earned over one 30-day month at the given
// ROI percentage: amount * ratePct / 100.
func MonthlyProfit(amount, ratePct decimal.Decimal) decimal.Decimal {
	return amount.Mul(ratePct).Div(hundred)
}

// DailyProfit returns the per-day accrual in coins.
func DailyProfit(amount, ratePct decimal.Decimal) decimal.Decimal {
	return MonthlyProfit(amount, ratePct).Div(daysPerMonth)
}

// Accrue returns the coins accrued over elapsedDays whole days at the
// currently configured ROI rate. Accrual is linear: the per-day amount is
// computed once and multiplied, so Accrue(a, r, d) == d * Accrue(a, r, 1)
// exactly. The rate is always the current one, never the rate captured at
// lock time — an administrative rate change applies to every still-active
// lock from that moment forward.
func Accrue(amount, ratePct decimal.Decimal, elapsedDays int64) decimal.Decimal {
	if elapsedDays <= 0 {
		return decimal.Zero
	}
	return DailyProfit(amount, ratePct).Mul(decimal.NewFromInt(elapsedDays))
}

// PenaltyPercent returns the early-unlock penalty tier for the number of
// whole days elapsed at request time. Tiers are evaluated highest first with
// inclusive lower bounds; below the 60-day minimum the caller rejects the
// request before consulting the tier, so 0 is returned.
func PenaltyPercent(elapsedDays int64) int64 {
	switch {
	case elapsedDays >= 180:
		return 10
	case elapsedDays >= 90:
		return 20
	case elapsedDays >= MinLockAge:
		return 25
	default:
		return 0
	}
}

// PenaltySplit applies a penalty percentage to a locked amount, returning the
// penalty and the remainder credited back on approval.
func PenaltySplit(amount decimal.Decimal, penaltyPct int64) (penalty, afterPenalty decimal.Decimal) {
	penalty = amount.Mul(decimal.NewFromInt(penaltyPct)).Div(hundred)
	return penalty, amount.Sub(penalty)
}
