package fees

import (
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// DefaultPercent — комиссия платформы по умолчанию, 10%.
var DefaultPercent = decimal.NewFromInt(10)

var hundred = decimal.NewFromInt(100)

// Split делит сумму сделки на комиссию платформы и выплату путешественнику.
// fee = round(total * percent / 100, 2), payout = total - fee,
// поэтому fee + payout == total сходится до копейки при любом округлении.
func Split(total, percent decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
	if total.IsNegative() {
		return decimal.Zero, decimal.Zero, errors.New("total must not be negative")
	}
	if percent.IsNegative() || percent.GreaterThan(hundred) {
		return decimal.Zero, decimal.Zero, errors.Errorf("fee percent out of range: %s", percent)
	}

	fee := total.Mul(percent).Div(hundred).Round(2)
	payout := total.Sub(fee)
	return fee, payout, nil
}
