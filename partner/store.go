/*
store.go - Persistence interfaces for the partner engine

PURPOSE:
  Defines the interface between domain logic and the database. The engine
  never issues SQL itself; it expresses its atomicity and uniqueness needs
  through these interfaces and lets the store enforce them.

KEY INTERFACES:
  RelationshipStore: Closure table reads + atomic batch insert
  CommissionStore:   Idempotent commission batches, sums, filtered listing
  WithdrawalStore:   Withdrawal rows and reserved-amount sums
  LedgerStore:       The slice of storage the balance ledger needs atomically
  VolumeProvider:    Completed-transaction aggregation (payments subsystem)
  PartnerDirectory:  Partner records and referral-code resolution
  AuditLog:          Read access to commission batch audit entries

ATOMICITY CONTRACTS:
  - RelationshipStore.CreateRelationships: all closure rows for one attachment, or none
  - CommissionStore.CreateCommissions: all commission rows + audit entry, or none;
    rows that already exist are skipped, never duplicated, never an error
  - LedgerStore.WithTx: the read-validate-insert sequence for a withdrawal
    runs serialized against concurrent submissions for the same user

IMPLEMENTATIONS:
  - store/sqlite: Production SQLite (same patterns apply to PostgreSQL)
  - partner/store: In-memory for tests
*/
package partner

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// RELATIONSHIP STORE - Closure table
// =============================================================================

// RelationshipStore persists the referral closure table.
type RelationshipStore interface {
	// Ancestors returns all rows where the given user is the descendant,
	// ordered by level ascending. At most MaxDepth rows. This is the
	// commission hot path: no graph walk, one indexed read.
	Ancestors(ctx context.Context, referralID UserID) ([]Relationship, error)

	// DirectReferrals returns level-1 rows where the given user is the ancestor.
	DirectReferrals(ctx context.Context, partnerID UserID) ([]Relationship, error)

	// Descendants returns rows at any level where the given user is the ancestor.
	Descendants(ctx context.Context, partnerID UserID) ([]Relationship, error)

	// CountDirectReferrals counts level-1 descendants.
	CountDirectReferrals(ctx context.Context, partnerID UserID) (int, error)

	// CountTeam counts descendants at any level.
	CountTeam(ctx context.Context, partnerID UserID) (int, error)

	// IsAttached reports whether the user already has an upline.
	IsAttached(ctx context.Context, referralID UserID) (bool, error)

	// CreateRelationships inserts the closure rows for one attachment
	// atomically. Returns ErrAlreadyAttached if the descendant already has rows.
	CreateRelationships(ctx context.Context, rels []Relationship) error
}

// =============================================================================
// COMMISSION STORE
// =============================================================================

// CommissionFilter narrows commission listings. Nil/empty fields match all.
// Typed options instead of ad hoc query maps, so every filterable read path
// is explicit.
type CommissionFilter struct {
	Statuses []CommissionStatus
	Levels   []int
	From     *time.Time
	To       *time.Time
	Limit    int
	Offset   int
}

// CommissionStore persists commission rows.
type CommissionStore interface {
	// CreateCommissions inserts commission rows and the batch audit entry in
	// one transaction. Rows whose (partner, transaction, level) already exist
	// are silently skipped; the audit entry is written only when at least one
	// row was actually created. Returns the number of rows created.
	CreateCommissions(ctx context.Context, commissions []Commission, audit AuditEntry) (int, error)

	// ListCommissions returns commissions newest-first, honoring the filter.
	ListCommissions(ctx context.Context, partnerID UserID, filter CommissionFilter) ([]Commission, error)

	// CountCommissions returns the total matching the filter, ignoring paging.
	CountCommissions(ctx context.Context, partnerID UserID, filter CommissionFilter) (int, error)

	// SumCommissionsByStatus totals commission amounts for a partner in the
	// given statuses.
	SumCommissionsByStatus(ctx context.Context, partnerID UserID, statuses ...CommissionStatus) (decimal.Decimal, error)

	// UpdateCommissionStatus advances a commission's lifecycle (external
	// review subsystem). Sets PaidAt when the new status is paid.
	UpdateCommissionStatus(ctx context.Context, id string, status CommissionStatus) error
}

// =============================================================================
// WITHDRAWAL STORE
// =============================================================================

// WithdrawalStore persists withdrawal requests.
type WithdrawalStore interface {
	// CreateWithdrawal inserts a withdrawal row. Amount and TaxAmount are
	// fixed here.
	CreateWithdrawal(ctx context.Context, w WithdrawalRequest) error

	// GetWithdrawal returns a withdrawal by ID, ErrWithdrawalNotFound if missing.
	GetWithdrawal(ctx context.Context, id string) (*WithdrawalRequest, error)

	// ListWithdrawalsByUser returns a user's withdrawals newest-first.
	ListWithdrawalsByUser(ctx context.Context, userID UserID) ([]WithdrawalRequest, error)

	// SumWithdrawalsByStatus totals withdrawal amounts for a user in the
	// given statuses.
	SumWithdrawalsByStatus(ctx context.Context, userID UserID, statuses ...WithdrawalStatus) (decimal.Decimal, error)

	// UpdateWithdrawalStatus advances a withdrawal's lifecycle. Sets
	// ProcessedAt for terminal statuses and records the rejection reason.
	UpdateWithdrawalStatus(ctx context.Context, id string, status WithdrawalStatus, rejectionReason string) error
}

// =============================================================================
// LEDGER STORE - Atomic slice for withdrawal validation
// =============================================================================

// LedgerStore is the storage the balance ledger reads and writes. Both sums
// and the insert must observe the same snapshot during validation.
type LedgerStore interface {
	SumCommissionsByStatus(ctx context.Context, partnerID UserID, statuses ...CommissionStatus) (decimal.Decimal, error)
	SumWithdrawalsByStatus(ctx context.Context, userID UserID, statuses ...WithdrawalStatus) (decimal.Decimal, error)
	CreateWithdrawal(ctx context.Context, w WithdrawalRequest) error
}

// TxLedgerStore wraps LedgerStore with transaction support. WithTx serializes
// the read-then-validate-then-insert sequence so two concurrent withdrawal
// submissions can never both pass validation against the same stale balance.
type TxLedgerStore interface {
	LedgerStore

	// WithTx executes fn within a transaction. If fn returns an error the
	// transaction is rolled back, otherwise committed.
	WithTx(ctx context.Context, fn func(LedgerStore) error) error
}

// =============================================================================
// VOLUME PROVIDER - Payments subsystem aggregation
// =============================================================================

// VolumeProvider aggregates completed-transaction amounts. In production this
// is backed by the payments subsystem; the bundled stores implement it over
// the recorded payment events.
type VolumeProvider interface {
	// SumCompletedTransactions totals completed-transaction amounts across
	// the given users. An empty set sums to zero.
	SumCompletedTransactions(ctx context.Context, userIDs []UserID) (decimal.Decimal, error)
}

// PaymentRecorder records completed payment events so the store can serve as
// a VolumeProvider. Recording is idempotent by transaction ID.
type PaymentRecorder interface {
	RecordCompletedTransaction(ctx context.Context, txID TransactionID, userID UserID, amount decimal.Decimal) error
}

// =============================================================================
// PARTNER DIRECTORY
// =============================================================================

// PartnerDirectory stores partner records and resolves referral codes.
type PartnerDirectory interface {
	CreatePartner(ctx context.Context, p Partner) error
	GetPartner(ctx context.Context, id UserID) (*Partner, error)
	ListPartners(ctx context.Context) ([]Partner, error)

	// ResolveReferralCode maps a referral code to its partner,
	// ErrPartnerNotFound if no partner carries the code.
	ResolveReferralCode(ctx context.Context, code string) (*Partner, error)
}

// =============================================================================
// AUDIT LOG - Read side; appends happen inside CommissionStore.CreateCommissions
// =============================================================================

type AuditFilter struct {
	TransactionID *TransactionID
	PurchaserID   *UserID
	Limit         int
}

// AuditLog queries commission batch audit entries.
type AuditLog interface {
	QueryAudit(ctx context.Context, filter AuditFilter) ([]AuditEntry, error)
}
