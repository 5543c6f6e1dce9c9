package library

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

const msPerDay = 24 * 60 * 60 * 1000

// OverdueDays is the number of whole days returned is past expected, with half
// a day rounding up. Early and on-time returns are zero days overdue.
func OverdueDays(returned, expected time.Time) int64 {
	diff := float64(returned.Sub(expected).Milliseconds()) / msPerDay
	days := int64(math.Floor(diff + 0.5))
	if days < 0 {
		return 0
	}
	return days
}

// LateFee charges perDay for every overdue day. The charge is per form, not
// per copy borrowed.
func LateFee(returned, expected time.Time, perDay decimal.Decimal) decimal.Decimal {
	return perDay.Mul(decimal.NewFromInt(OverdueDays(returned, expected)))
}

// LostFee is the replacement cost of qty copies at price.
func LostFee(price decimal.Decimal, qty int) decimal.Decimal {
	return price.Mul(decimal.NewFromInt(int64(qty)))
}
