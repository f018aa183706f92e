package partner_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/partner-engine/partner"
)

func newTaxCalculator() *partner.TaxCalculator {
	return partner.NewTaxCalculator(partner.DefaultConfig())
}

// =============================================================================
// WITHHOLDING TABLE TESTS
// =============================================================================

func TestComputeTax_StatusTable(t *testing.T) {
	// GIVEN: A 10000 payout
	// THEN: Each status withholds at its configured rate and net+tax == gross

	calc := newTaxCalculator()
	amount := partner.MustDecimal("10000")

	cases := []struct {
		status partner.TaxStatus
		tax    string
		net    string
	}{
		{partner.TaxIndividual, "1300", "8700"},
		{partner.TaxSelfEmployed, "400", "9600"},
		{partner.TaxEntrepreneur, "600", "9400"},
		{partner.TaxCompany, "0", "10000"},
	}

	for _, tc := range cases {
		t.Run(string(tc.status), func(t *testing.T) {
			breakdown, err := calc.ComputeTax(amount, tc.status)
			require.NoError(t, err)

			assert.True(t, breakdown.TaxAmount.Equal(partner.MustDecimal(tc.tax)),
				"tax: got %s, want %s", breakdown.TaxAmount, tc.tax)
			assert.True(t, breakdown.NetAmount.Equal(partner.MustDecimal(tc.net)),
				"net: got %s, want %s", breakdown.NetAmount, tc.net)
			assert.True(t, breakdown.TaxAmount.Add(breakdown.NetAmount).Equal(amount),
				"withholding must never lose money to rounding")
		})
	}
}

func TestComputeTax_UnknownStatusDefaultsToIndividual(t *testing.T) {
	// GIVEN: A status the table does not know
	// THEN: The individual rate applies and the breakdown reports the
	//       resolved status, not the unknown input

	calc := newTaxCalculator()

	breakdown, err := calc.ComputeTax(partner.MustDecimal("1000"), "llc")
	require.NoError(t, err)

	assert.Equal(t, partner.TaxIndividual, breakdown.Status)
	assert.True(t, breakdown.TaxAmount.Equal(partner.MustDecimal("130")))
}

func TestComputeTax_Rounding(t *testing.T) {
	// GIVEN: 100.50 at 13% = 13.065
	// THEN: Withheld 13.07 (half away from zero), net 87.43

	calc := newTaxCalculator()

	breakdown, err := calc.ComputeTax(partner.MustDecimal("100.50"), partner.TaxIndividual)
	require.NoError(t, err)

	assert.True(t, breakdown.TaxAmount.Equal(partner.MustDecimal("13.07")),
		"got %s", breakdown.TaxAmount)
	assert.True(t, breakdown.NetAmount.Equal(partner.MustDecimal("87.43")),
		"got %s", breakdown.NetAmount)
}

func TestComputeTax_NegativeRejected(t *testing.T) {
	calc := newTaxCalculator()

	_, err := calc.ComputeTax(partner.MustDecimal("-1"), partner.TaxIndividual)
	assert.ErrorIs(t, err, partner.ErrInvalidAmount)
}

func TestComputeTax_ZeroWithholdsNothing(t *testing.T) {
	calc := newTaxCalculator()

	breakdown, err := calc.ComputeTax(partner.MustDecimal("0"), partner.TaxIndividual)
	require.NoError(t, err)
	assert.True(t, breakdown.TaxAmount.IsZero())
	assert.True(t, breakdown.NetAmount.IsZero())
}

func TestResolve(t *testing.T) {
	calc := newTaxCalculator()

	assert.Equal(t, partner.TaxCompany, calc.Resolve(partner.TaxCompany))
	assert.Equal(t, partner.TaxIndividual, calc.Resolve("banana"))
	assert.Equal(t, partner.TaxIndividual, calc.Resolve(""))
}
