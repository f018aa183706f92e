/*
Package partner provides the referral and commission engine.

PURPOSE:
  This package contains the domain types and algorithms for a multi-level
  partner program: the referral closure table, per-transaction commission
  computation, tier progression, the withdrawal balance ledger, and tax
  withholding on payouts.

KEY CONCEPTS IN THIS FILE (types.go):
  - Relationship: One ancestor/descendant pair in the closure table
  - Commission: A monetary credit owed to an ancestor for a descendant's purchase
  - WithdrawalRequest: A payout request validated against the balance ledger
  - AuditEntry: Append-only record of each commission batch

DESIGN PRINCIPLES:
  1. Precision: Uses decimal.Decimal for all money, never float64
  2. Immutability: Relationships and commissions are never re-parented or
     re-amounted; only their status advances
  3. Idempotency: Commission rows are keyed by (partner, transaction, level)
     so redelivered payment events are safe no-ops
  4. Auditability: Every commission batch writes an audit entry in the same
     atomic unit

SEE ALSO:
  - closure.go: Maintains the ancestor/descendant closure
  - commission.go: Computes commissions on completed transactions
  - balance.go: Available balance and withdrawal validation
  - store.go: Persistence interfaces
*/
package partner

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type UserID string
type TransactionID string

// =============================================================================
// PARTNER - Registered participant in the referral program
// =============================================================================

// Partner is the referral-link attachment point for a user. Registration and
// profile management live elsewhere; this record only carries what the engine
// needs to resolve referral codes and anchor relationship rows.
type Partner struct {
	ID           UserID
	Name         string
	ReferralCode string
	CreatedAt    time.Time
}

// =============================================================================
// RELATIONSHIP - Closure table row (ancestor, descendant, distance)
// =============================================================================

// Relationship links an ancestor partner to a descendant referral at a given
// distance. The table stores ALL ancestor/descendant pairs within MaxDepth
// hops, not only direct edges: a materialized transitive closure. Write
// amplification happens once at attachment time; ancestor lookup at
// commission time is a single indexed read.
//
// Invariants (enforced by the store):
//   - For a fixed ReferralID: at most one row per Level, at most MaxDepth rows
//   - Level is always relative to PartnerID, never absolute tree depth
//   - Rows are immutable; there is no re-parenting
type Relationship struct {
	PartnerID  UserID // ancestor
	ReferralID UserID // descendant
	Level      int    // distance from partner to referral, 1..MaxDepth
	CreatedAt  time.Time
}

// =============================================================================
// COMMISSION - Credit owed to an ancestor for a descendant's transaction
// =============================================================================

type CommissionStatus string

const (
	CommissionPending  CommissionStatus = "pending"
	CommissionApproved CommissionStatus = "approved"
	CommissionPaid     CommissionStatus = "paid"
	CommissionRejected CommissionStatus = "rejected"
)

// Commission is one ledger row per (partner, source transaction, level).
// The triple is unique in storage; that constraint is what makes commission
// creation idempotent under at-least-once delivery of payment events.
type Commission struct {
	ID                  string
	PartnerID           UserID
	SourceUserID        UserID // the paying user
	SourceTransactionID TransactionID
	Level               int
	Amount              decimal.Decimal
	Status              CommissionStatus
	CreatedAt           time.Time
	PaidAt              *time.Time
}

// =============================================================================
// WITHDRAWAL - Payout request against the approved commission pool
// =============================================================================

type WithdrawalStatus string

const (
	WithdrawalPending    WithdrawalStatus = "pending"
	WithdrawalApproved   WithdrawalStatus = "approved"
	WithdrawalProcessing WithdrawalStatus = "processing"
	WithdrawalCompleted  WithdrawalStatus = "completed"
	WithdrawalRejected   WithdrawalStatus = "rejected"
)

// ReservedWithdrawalStatuses are the statuses that hold funds against the
// available balance. In-flight withdrawals are reserved alongside completed
// ones so two requests can never double-spend the same commission pool.
var ReservedWithdrawalStatuses = []WithdrawalStatus{
	WithdrawalPending,
	WithdrawalApproved,
	WithdrawalProcessing,
	WithdrawalCompleted,
}

// WithdrawalRequest is created after balance validation. Amount and TaxAmount
// are fixed at creation and never mutated; only Status advances.
type WithdrawalRequest struct {
	ID              string
	UserID          UserID
	Amount          decimal.Decimal
	Currency        string
	TaxStatus       TaxStatus
	TaxAmount       decimal.Decimal
	Status          WithdrawalStatus
	PaymentDetails  string
	RejectionReason string
	CreatedAt       time.Time
	ProcessedAt     *time.Time
}

// NetAmount is the payout after tax withholding.
func (w WithdrawalRequest) NetAmount() decimal.Decimal {
	return w.Amount.Sub(w.TaxAmount)
}

// =============================================================================
// TAX STATUS - Jurisdiction-specific withholding category
// =============================================================================

type TaxStatus string

const (
	TaxIndividual   TaxStatus = "individual"
	TaxSelfEmployed TaxStatus = "self_employed"
	TaxEntrepreneur TaxStatus = "entrepreneur"
	TaxCompany      TaxStatus = "company"
)

// =============================================================================
// AUDIT ENTRY - One record per commission-creation batch
// =============================================================================

// AuditEntry summarizes a commission batch. It is written in the same atomic
// unit as the commission rows, and only when at least one new row was created,
// so a redelivered event never produces a second entry.
type AuditEntry struct {
	ID               string
	TransactionID    TransactionID
	PurchaserID      UserID
	Amount           decimal.Decimal
	CommissionsCount int
	CreatedAt        time.Time
}

// =============================================================================
// DECIMAL HELPERS
// =============================================================================

// MustDecimal parses a decimal literal, returning zero on malformed input.
// Intended for static configuration tables, not user input.
func MustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
