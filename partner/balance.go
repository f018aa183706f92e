/*
balance.go - Available balance and withdrawal validation

PURPOSE:
  Reconciles the commission ledger against the withdrawal ledger to produce
  an available balance, and validates withdrawal requests against it under
  a no-overdraft invariant.

BALANCE DEFINITION:
  available = sum(approved commissions)
            - sum(withdrawals in pending/approved/processing/completed)

  In-flight withdrawals are reserved, not just completed ones. Two requests
  racing each other must not both spend the same approved-but-unpaid pool,
  so the read-validate-insert sequence for a withdrawal runs inside one
  store transaction (TxLedgerStore.WithTx).

SEE ALSO:
  - tax.go: Withholding applied at withdrawal creation
  - store.go: LedgerStore / TxLedgerStore contracts
*/
package partner

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DefaultCurrency is applied when a submission does not name one.
const DefaultCurrency = "USD"

// WithdrawalSubmission is the input to CreateWithdrawal.
type WithdrawalSubmission struct {
	UserID         UserID
	Amount         decimal.Decimal
	Currency       string
	TaxStatus      TaxStatus
	PaymentDetails string
}

// BalanceLedger exposes the available balance and creates validated
// withdrawal requests.
type BalanceLedger struct {
	Store TxLedgerStore
	Taxes *TaxCalculator
}

func NewBalanceLedger(store TxLedgerStore, taxes *TaxCalculator) *BalanceLedger {
	return &BalanceLedger{Store: store, Taxes: taxes}
}

// AvailableBalance computes the withdrawable amount for a user. Never
// negative: every withdrawal row was validated against this same definition
// at creation time.
func (l *BalanceLedger) AvailableBalance(ctx context.Context, userID UserID) (decimal.Decimal, error) {
	return availableBalance(ctx, l.Store, userID)
}

// ValidateWithdrawal checks a requested amount against the current balance
// without creating anything. Returns *InsufficientBalanceError carrying the
// computed balance for user feedback.
func (l *BalanceLedger) ValidateWithdrawal(ctx context.Context, userID UserID, requested decimal.Decimal) error {
	if !requested.IsPositive() {
		return ErrInvalidAmount
	}
	available, err := l.AvailableBalance(ctx, userID)
	if err != nil {
		return err
	}
	if requested.GreaterThan(available) {
		return &InsufficientBalanceError{UserID: userID, Available: available, Requested: requested}
	}
	return nil
}

// CreateWithdrawal validates the request, computes tax withholding, and
// persists a pending withdrawal with amount and tax fixed at creation.
// Validation and insert share one transaction: no partial withdrawals, no
// overdrafts under concurrent submissions.
func (l *BalanceLedger) CreateWithdrawal(ctx context.Context, sub WithdrawalSubmission) (*WithdrawalRequest, error) {
	if sub.UserID == "" {
		return nil, fmt.Errorf("withdrawal: %w", ErrPartnerNotFound)
	}
	if !sub.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	tax, err := l.Taxes.ComputeTax(sub.Amount, sub.TaxStatus)
	if err != nil {
		return nil, err
	}

	currency := sub.Currency
	if currency == "" {
		currency = DefaultCurrency
	}

	w := WithdrawalRequest{
		ID:             uuid.NewString(),
		UserID:         sub.UserID,
		Amount:         sub.Amount,
		Currency:       currency,
		TaxStatus:      tax.Status,
		TaxAmount:      tax.TaxAmount,
		Status:         WithdrawalPending,
		PaymentDetails: sub.PaymentDetails,
		CreatedAt:      time.Now().UTC(),
	}

	err = l.Store.WithTx(ctx, func(ls LedgerStore) error {
		available, err := availableBalance(ctx, ls, sub.UserID)
		if err != nil {
			return err
		}
		if sub.Amount.GreaterThan(available) {
			return &InsufficientBalanceError{UserID: sub.UserID, Available: available, Requested: sub.Amount}
		}
		return ls.CreateWithdrawal(ctx, w)
	})
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func availableBalance(ctx context.Context, ls LedgerStore, userID UserID) (decimal.Decimal, error) {
	earned, err := ls.SumCommissionsByStatus(ctx, userID, CommissionApproved)
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum approved commissions: %w", err)
	}
	reserved, err := ls.SumWithdrawalsByStatus(ctx, userID, ReservedWithdrawalStatuses...)
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum reserved withdrawals: %w", err)
	}
	return earned.Sub(reserved), nil
}
