package partner_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/partner-engine/partner"
	memstore "github.com/warp/partner-engine/partner/store"
)

func newLedger(m *memstore.Memory) *partner.BalanceLedger {
	return partner.NewBalanceLedger(m, partner.NewTaxCalculator(partner.DefaultConfig()))
}

// seedCommission inserts a commission row directly, bypassing the engine.
func seedCommission(t *testing.T, m *memstore.Memory, partnerID, amount string, status partner.CommissionStatus) {
	t.Helper()
	id := fmt.Sprintf("c-%s-%s-%s", partnerID, amount, status)
	created, err := m.CreateCommissions(context.Background(), []partner.Commission{{
		ID:                  id,
		PartnerID:           partner.UserID(partnerID),
		SourceUserID:        "buyer",
		SourceTransactionID: partner.TransactionID("tx-" + id),
		Level:               1,
		Amount:              partner.MustDecimal(amount),
		Status:              status,
		CreatedAt:           time.Now().UTC(),
	}}, partner.AuditEntry{ID: "audit-" + id, TransactionID: partner.TransactionID("tx-" + id)})
	require.NoError(t, err)
	require.Equal(t, 1, created)
}

// =============================================================================
// AVAILABLE BALANCE TESTS
// =============================================================================

func TestAvailableBalance_OnlyApprovedCounts(t *testing.T) {
	// GIVEN: Commissions in every status
	// THEN: Only the approved one contributes to the balance

	m := newTestStore(t)
	seedCommission(t, m, "A", "100", partner.CommissionPending)
	seedCommission(t, m, "A", "200", partner.CommissionApproved)
	seedCommission(t, m, "A", "400", partner.CommissionRejected)
	ledger := newLedger(m)

	available, err := ledger.AvailableBalance(context.Background(), "A")
	require.NoError(t, err)
	assert.True(t, available.Equal(partner.MustDecimal("200")), "got %s", available)
}

func TestAvailableBalance_InFlightWithdrawalsReserve(t *testing.T) {
	// GIVEN: 1000 approved, one pending withdrawal of 300
	// THEN: 700 available; the pending request already holds its funds

	m := newTestStore(t)
	seedCommission(t, m, "A", "1000", partner.CommissionApproved)
	ledger := newLedger(m)
	ctx := context.Background()

	_, err := ledger.CreateWithdrawal(ctx, partner.WithdrawalSubmission{
		UserID: "A", Amount: partner.MustDecimal("300"), TaxStatus: partner.TaxCompany,
	})
	require.NoError(t, err)

	available, err := ledger.AvailableBalance(ctx, "A")
	require.NoError(t, err)
	assert.True(t, available.Equal(partner.MustDecimal("700")), "got %s", available)
}

func TestAvailableBalance_RejectedWithdrawalReleasesFunds(t *testing.T) {
	// GIVEN: A withdrawal that gets rejected
	// THEN: Its amount returns to the available balance

	m := newTestStore(t)
	seedCommission(t, m, "A", "1000", partner.CommissionApproved)
	ledger := newLedger(m)
	ctx := context.Background()

	w, err := ledger.CreateWithdrawal(ctx, partner.WithdrawalSubmission{
		UserID: "A", Amount: partner.MustDecimal("300"), TaxStatus: partner.TaxCompany,
	})
	require.NoError(t, err)

	require.NoError(t, m.UpdateWithdrawalStatus(ctx, w.ID, partner.WithdrawalRejected, "bad details"))

	available, err := ledger.AvailableBalance(ctx, "A")
	require.NoError(t, err)
	assert.True(t, available.Equal(partner.MustDecimal("1000")), "got %s", available)
}

// =============================================================================
// WITHDRAWAL CREATION TESTS
// =============================================================================

func TestCreateWithdrawal_Success(t *testing.T) {
	// GIVEN: 1000 approved
	// WHEN: Withdrawing 500 as an individual
	// THEN: Pending request with 13% withheld, gross amount reserved

	m := newTestStore(t)
	seedCommission(t, m, "A", "1000", partner.CommissionApproved)
	ledger := newLedger(m)
	ctx := context.Background()

	w, err := ledger.CreateWithdrawal(ctx, partner.WithdrawalSubmission{
		UserID:    "A",
		Amount:    partner.MustDecimal("500"),
		TaxStatus: partner.TaxIndividual,
	})
	require.NoError(t, err)

	assert.Equal(t, partner.WithdrawalPending, w.Status)
	assert.Equal(t, partner.DefaultCurrency, w.Currency)
	assert.True(t, w.TaxAmount.Equal(partner.MustDecimal("65")), "got %s", w.TaxAmount)
	assert.True(t, w.NetAmount().Equal(partner.MustDecimal("435")), "got %s", w.NetAmount())

	stored, err := m.GetWithdrawal(ctx, w.ID)
	require.NoError(t, err)
	assert.True(t, stored.Amount.Equal(partner.MustDecimal("500")))
}

func TestCreateWithdrawal_ExactBalanceAllowed(t *testing.T) {
	// Withdrawing the full balance is valid; only exceeding it fails.

	m := newTestStore(t)
	seedCommission(t, m, "A", "250", partner.CommissionApproved)
	ledger := newLedger(m)
	ctx := context.Background()

	_, err := ledger.CreateWithdrawal(ctx, partner.WithdrawalSubmission{
		UserID: "A", Amount: partner.MustDecimal("250"), TaxStatus: partner.TaxCompany,
	})
	require.NoError(t, err)

	available, err := ledger.AvailableBalance(ctx, "A")
	require.NoError(t, err)
	assert.True(t, available.IsZero(), "got %s", available)
}

func TestCreateWithdrawal_Overdraft(t *testing.T) {
	// GIVEN: 100 available
	// WHEN: Requesting 100.01
	// THEN: InsufficientBalanceError carrying the computed balance; no row

	m := newTestStore(t)
	seedCommission(t, m, "A", "100", partner.CommissionApproved)
	ledger := newLedger(m)
	ctx := context.Background()

	_, err := ledger.CreateWithdrawal(ctx, partner.WithdrawalSubmission{
		UserID: "A", Amount: partner.MustDecimal("100.01"), TaxStatus: partner.TaxCompany,
	})

	var balErr *partner.InsufficientBalanceError
	require.ErrorAs(t, err, &balErr)
	assert.ErrorIs(t, err, partner.ErrInsufficientBalance)
	assert.True(t, balErr.Available.Equal(partner.MustDecimal("100")))
	assert.True(t, balErr.Shortfall().Equal(partner.MustDecimal("0.01")))

	withdrawals, err := m.ListWithdrawalsByUser(ctx, "A")
	require.NoError(t, err)
	assert.Empty(t, withdrawals, "failed validation must write nothing")
}

func TestCreateWithdrawal_SequentialRequestsCannotDoubleSpend(t *testing.T) {
	// GIVEN: 100 available
	// WHEN: Two 60 requests arrive one after the other
	// THEN: The first succeeds, the second fails validation

	m := newTestStore(t)
	seedCommission(t, m, "A", "100", partner.CommissionApproved)
	ledger := newLedger(m)
	ctx := context.Background()
	sub := partner.WithdrawalSubmission{
		UserID: "A", Amount: partner.MustDecimal("60"), TaxStatus: partner.TaxCompany,
	}

	_, err := ledger.CreateWithdrawal(ctx, sub)
	require.NoError(t, err)

	_, err = ledger.CreateWithdrawal(ctx, sub)
	assert.ErrorIs(t, err, partner.ErrInsufficientBalance)
}

func TestCreateWithdrawal_ConcurrentRequestsCannotOverdraw(t *testing.T) {
	// GIVEN: 100 available
	// WHEN: Eight 60 requests race each other
	// THEN: Exactly one wins; the balance never goes negative

	m := newTestStore(t)
	seedCommission(t, m, "A", "100", partner.CommissionApproved)
	ledger := newLedger(m)
	ctx := context.Background()
	sub := partner.WithdrawalSubmission{
		UserID: "A", Amount: partner.MustDecimal("60"), TaxStatus: partner.TaxCompany,
	}

	const racers = 8
	errs := make(chan error, racers)
	var start sync.WaitGroup
	start.Add(1)
	for i := 0; i < racers; i++ {
		go func() {
			start.Wait()
			_, err := ledger.CreateWithdrawal(ctx, sub)
			errs <- err
		}()
	}
	start.Done()

	accepted := 0
	for i := 0; i < racers; i++ {
		err := <-errs
		if err == nil {
			accepted++
			continue
		}
		assert.ErrorIs(t, err, partner.ErrInsufficientBalance)
	}
	assert.Equal(t, 1, accepted, "only one 60-withdrawal fits in a 100 balance")

	available, err := ledger.AvailableBalance(ctx, "A")
	require.NoError(t, err)
	assert.True(t, available.Equal(partner.MustDecimal("40")), "got %s", available)
}

func TestCreateWithdrawal_InvalidAmount(t *testing.T) {
	m := newTestStore(t)
	ledger := newLedger(m)
	ctx := context.Background()

	_, err := ledger.CreateWithdrawal(ctx, partner.WithdrawalSubmission{
		UserID: "A", Amount: partner.MustDecimal("0"), TaxStatus: partner.TaxCompany,
	})
	assert.ErrorIs(t, err, partner.ErrInvalidAmount)

	_, err = ledger.CreateWithdrawal(ctx, partner.WithdrawalSubmission{
		UserID: "A", Amount: partner.MustDecimal("-10"), TaxStatus: partner.TaxCompany,
	})
	assert.ErrorIs(t, err, partner.ErrInvalidAmount)
}

func TestValidateWithdrawal(t *testing.T) {
	m := newTestStore(t)
	seedCommission(t, m, "A", "100", partner.CommissionApproved)
	ledger := newLedger(m)
	ctx := context.Background()

	assert.NoError(t, ledger.ValidateWithdrawal(ctx, "A", partner.MustDecimal("100")))
	assert.ErrorIs(t, ledger.ValidateWithdrawal(ctx, "A", partner.MustDecimal("101")),
		partner.ErrInsufficientBalance)
}
