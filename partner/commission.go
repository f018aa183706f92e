/*
commission.go - Commission computation on completed transactions

PURPOSE:
  On every completed-transaction event, reads the paying user's ancestor
  chain from the closure table and creates one pending commission per
  ancestor, rated by distance. The whole batch plus its audit entry is
  written in a single transaction.

IDEMPOTENCY:
  The payments subsystem delivers events at-least-once. Commission rows are
  keyed by (partner, source transaction, level); redelivery inserts nothing,
  errors nothing, and writes no second audit entry. The caller may retry a
  failed event wholesale - levels already applied stay applied once.

FAILURE SEMANTICS:
  Any persistence failure aborts the whole batch. There is never a partially
  applied set of ancestor commissions for a transaction.
*/
package partner

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CommissionEngine turns completed transactions into commission batches.
type CommissionEngine struct {
	Relationships RelationshipStore
	Commissions   CommissionStore
	Config        Config
}

func NewCommissionEngine(rels RelationshipStore, commissions CommissionStore, cfg Config) *CommissionEngine {
	return &CommissionEngine{Relationships: rels, Commissions: commissions, Config: cfg}
}

// OnTransactionCompleted processes one completed payment event. It returns
// the number of commission rows actually created: zero when the purchaser
// has no upline, when every rate is zero, or when the event is a redelivery.
func (e *CommissionEngine) OnTransactionCompleted(ctx context.Context, txID TransactionID, purchaserID UserID, amount decimal.Decimal) (int, error) {
	if txID == "" || purchaserID == "" {
		return 0, fmt.Errorf("transaction %q purchaser %q: missing identifiers", txID, purchaserID)
	}
	if !amount.IsPositive() {
		return 0, ErrInvalidAmount
	}

	ancestors, err := e.Relationships.Ancestors(ctx, purchaserID)
	if err != nil {
		return 0, fmt.Errorf("load upline for %s: %w", purchaserID, err)
	}
	if len(ancestors) == 0 {
		// Purchaser has no upline: nothing to pay, nothing to write.
		return 0, nil
	}

	now := time.Now().UTC()
	commissions := make([]Commission, 0, len(ancestors))
	for _, a := range ancestors {
		rate := e.Config.RateAt(a.Level)
		commissionAmount := amount.Mul(rate).Round(2)
		if !commissionAmount.IsPositive() {
			// Zero-rated depth: no row for this ancestor.
			continue
		}
		commissions = append(commissions, Commission{
			ID:                  uuid.NewString(),
			PartnerID:           a.PartnerID,
			SourceUserID:        purchaserID,
			SourceTransactionID: txID,
			Level:               a.Level,
			Amount:              commissionAmount,
			Status:              CommissionPending,
			CreatedAt:           now,
		})
	}
	if len(commissions) == 0 {
		return 0, nil
	}

	audit := AuditEntry{
		ID:               uuid.NewString(),
		TransactionID:    txID,
		PurchaserID:      purchaserID,
		Amount:           amount,
		CommissionsCount: len(commissions),
		CreatedAt:        now,
	}

	created, err := e.Commissions.CreateCommissions(ctx, commissions, audit)
	if err != nil {
		return 0, fmt.Errorf("persist commission batch for %s: %w", txID, err)
	}
	return created, nil
}
