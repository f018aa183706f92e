/*
tax.go - Tax withholding on payouts

PURPOSE:
  Pure calculation mapping (amount, tax status) to (rate, withheld, net).
  No persistence, no I/O. Exact decimal arithmetic: amounts are rounded to
  2 decimal places, half away from zero, never accumulated in binary floats.
*/
package partner

import "github.com/shopspring/decimal"

// TaxBreakdown is the result of a withholding calculation.
type TaxBreakdown struct {
	Status    TaxStatus
	Rate      decimal.Decimal
	TaxAmount decimal.Decimal
	NetAmount decimal.Decimal
}

// TaxCalculator applies jurisdiction-specific withholding rates.
type TaxCalculator struct {
	rates         map[TaxStatus]decimal.Decimal
	defaultStatus TaxStatus
}

func NewTaxCalculator(cfg Config) *TaxCalculator {
	return &TaxCalculator{
		rates:         cfg.TaxRates,
		defaultStatus: cfg.DefaultTaxStatus,
	}
}

// Resolve maps an unknown status to the permissive default rather than
// failing the payout.
func (c *TaxCalculator) Resolve(status TaxStatus) TaxStatus {
	if _, ok := c.rates[status]; ok {
		return status
	}
	return c.defaultStatus
}

// ComputeTax returns the withholding breakdown for a payout amount.
// Negative amounts are rejected; zero is allowed and withholds nothing.
func (c *TaxCalculator) ComputeTax(amount decimal.Decimal, status TaxStatus) (TaxBreakdown, error) {
	if amount.IsNegative() {
		return TaxBreakdown{}, ErrInvalidAmount
	}

	resolved := c.Resolve(status)
	rate := c.rates[resolved]

	tax := amount.Mul(rate).Round(2)
	return TaxBreakdown{
		Status:    resolved,
		Rate:      rate,
		TaxAmount: tax,
		NetAmount: amount.Sub(tax),
	}, nil
}
