/*
Package sqlite provides a SQLite-backed implementation of the partner
storage interfaces.

PURPOSE:
  Implements every persistence interface (RelationshipStore, CommissionStore,
  WithdrawalStore, TxLedgerStore, PartnerDirectory, AuditLog, VolumeProvider,
  PaymentRecorder) using SQLite. In production the same patterns apply to
  PostgreSQL - only minor SQL dialect differences.

INVARIANTS ENFORCED BY SCHEMA:
  idx_relationships_referral_level:  one ancestor per level per referral
  idx_commissions_source:            one commission per (partner, tx, level);
                                     this is what makes the commission engine
                                     idempotent under event redelivery
  completed_transactions PK:         payment events recorded at most once

AMOUNT STORAGE:
  Monetary values are stored as TEXT and re-parsed with shopspring/decimal.
  Sums are folded in Go over decimals; SQL SUM() over floats would reintroduce
  binary floating point into money math.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety, which also serializes the withdrawal
  validate-then-insert sequence in WithTx. In production with PostgreSQL,
  row-level locking or serializable isolation handles this instead.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency.

USAGE:
  st, err := sqlite.New("./data/partners.db")
  if err != nil {
      log.Fatal(err)
  }
  defer st.Close()

  engine := partner.NewCommissionEngine(st, st, partner.DefaultConfig())

SEE ALSO:
  - partner/store.go: Interface definitions
  - partner/store/memory.go: In-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/partner-engine/partner"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// Interface checks
var (
	_ partner.RelationshipStore = (*Store)(nil)
	_ partner.CommissionStore   = (*Store)(nil)
	_ partner.WithdrawalStore   = (*Store)(nil)
	_ partner.TxLedgerStore     = (*Store)(nil)
	_ partner.PartnerDirectory  = (*Store)(nil)
	_ partner.AuditLog          = (*Store)(nil)
	_ partner.VolumeProvider    = (*Store)(nil)
	_ partner.PaymentRecorder   = (*Store)(nil)
)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Partners (referral-link attachment point)
	CREATE TABLE IF NOT EXISTS partners (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		referral_code TEXT NOT NULL UNIQUE,
		created_at TEXT NOT NULL
	);

	-- Referral closure table: ALL ancestor/descendant pairs within 5 hops,
	-- not only direct edges. Level is relative to partner_id.
	CREATE TABLE IF NOT EXISTS partner_relationships (
		partner_id TEXT NOT NULL,
		referral_id TEXT NOT NULL,
		level INTEGER NOT NULL,
		created_at TEXT NOT NULL,
		PRIMARY KEY (partner_id, referral_id)
	);

	-- CRITICAL: at most one ancestor per level per referral. A concurrent
	-- double-attach trips this instead of corrupting the chain.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_relationships_referral_level
		ON partner_relationships(referral_id, level);

	-- Ancestor lookup (commission hot path)
	CREATE INDEX IF NOT EXISTS idx_relationships_referral
		ON partner_relationships(referral_id);

	-- Downline walks and counts
	CREATE INDEX IF NOT EXISTS idx_relationships_partner_level
		ON partner_relationships(partner_id, level);

	-- Commissions
	CREATE TABLE IF NOT EXISTS partner_commissions (
		id TEXT PRIMARY KEY,
		partner_id TEXT NOT NULL,
		source_user_id TEXT NOT NULL,
		source_transaction_id TEXT NOT NULL,
		level INTEGER NOT NULL,
		amount TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		created_at TEXT NOT NULL,
		paid_at TEXT
	);

	-- CRITICAL: idempotency guard. Redelivered payment events insert nothing.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_commissions_source
		ON partner_commissions(partner_id, source_transaction_id, level);

	CREATE INDEX IF NOT EXISTS idx_commissions_partner_status
		ON partner_commissions(partner_id, status);
	CREATE INDEX IF NOT EXISTS idx_commissions_partner_created
		ON partner_commissions(partner_id, created_at DESC);

	-- Withdrawal requests
	CREATE TABLE IF NOT EXISTS withdrawal_requests (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		currency TEXT NOT NULL,
		tax_status TEXT NOT NULL,
		tax_amount TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		payment_details TEXT,
		rejection_reason TEXT,
		created_at TEXT NOT NULL,
		processed_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_withdrawals_user_status
		ON withdrawal_requests(user_id, status);
	CREATE INDEX IF NOT EXISTS idx_withdrawals_user_created
		ON withdrawal_requests(user_id, created_at DESC);

	-- Commission batch audit (append-only)
	CREATE TABLE IF NOT EXISTS commission_audit (
		id TEXT PRIMARY KEY,
		transaction_id TEXT NOT NULL,
		purchaser_user_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		commissions_count INTEGER NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_audit_transaction
		ON commission_audit(transaction_id);
	CREATE INDEX IF NOT EXISTS idx_audit_purchaser
		ON commission_audit(purchaser_user_id);

	-- Completed payment events (volume aggregation source)
	CREATE TABLE IF NOT EXISTS completed_transactions (
		transaction_id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_completed_transactions_user
		ON completed_transactions(user_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// PARTNER DIRECTORY
// =============================================================================

// CreatePartner inserts a partner record.
func (s *Store) CreatePartner(ctx context.Context, p partner.Partner) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO partners (id, name, referral_code, created_at) VALUES (?, ?, ?, ?)`,
		p.ID, p.Name, p.ReferralCode, p.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to create partner: %w", err)
	}
	return nil
}

// GetPartner retrieves a partner by ID.
func (s *Store) GetPartner(ctx context.Context, id partner.UserID) (*partner.Partner, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.scanPartner(s.db.QueryRowContext(ctx,
		`SELECT id, name, referral_code, created_at FROM partners WHERE id = ?`, id))
}

// ResolveReferralCode maps a referral code to its partner.
func (s *Store) ResolveReferralCode(ctx context.Context, code string) (*partner.Partner, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.scanPartner(s.db.QueryRowContext(ctx,
		`SELECT id, name, referral_code, created_at FROM partners WHERE referral_code = ?`, code))
}

// ListPartners returns all partners.
func (s *Store) ListPartners(ctx context.Context) ([]partner.Partner, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, referral_code, created_at FROM partners ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var partners []partner.Partner
	for rows.Next() {
		var p partner.Partner
		var createdAt string
		if err := rows.Scan(&p.ID, &p.Name, &p.ReferralCode, &createdAt); err != nil {
			return nil, err
		}
		p.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		partners = append(partners, p)
	}
	return partners, rows.Err()
}

func (s *Store) scanPartner(row *sql.Row) (*partner.Partner, error) {
	var p partner.Partner
	var createdAt string
	err := row.Scan(&p.ID, &p.Name, &p.ReferralCode, &createdAt)
	if err == sql.ErrNoRows {
		return nil, partner.ErrPartnerNotFound
	}
	if err != nil {
		return nil, err
	}
	p.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &p, nil
}

// =============================================================================
// RELATIONSHIP STORE
// =============================================================================

// Ancestors returns the full upline of a referral, nearest first.
func (s *Store) Ancestors(ctx context.Context, referralID partner.UserID) ([]partner.Relationship, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryRelationships(ctx, `
		SELECT partner_id, referral_id, level, created_at
		FROM partner_relationships
		WHERE referral_id = ?
		ORDER BY level ASC
	`, referralID)
}

// DirectReferrals returns a partner's level-1 downline.
func (s *Store) DirectReferrals(ctx context.Context, partnerID partner.UserID) ([]partner.Relationship, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryRelationships(ctx, `
		SELECT partner_id, referral_id, level, created_at
		FROM partner_relationships
		WHERE partner_id = ? AND level = 1
		ORDER BY created_at ASC, referral_id ASC
	`, partnerID)
}

// Descendants returns a partner's downline at any level.
func (s *Store) Descendants(ctx context.Context, partnerID partner.UserID) ([]partner.Relationship, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryRelationships(ctx, `
		SELECT partner_id, referral_id, level, created_at
		FROM partner_relationships
		WHERE partner_id = ?
		ORDER BY level ASC, created_at ASC
	`, partnerID)
}

// CountDirectReferrals counts level-1 descendants.
func (s *Store) CountDirectReferrals(ctx context.Context, partnerID partner.UserID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM partner_relationships WHERE partner_id = ? AND level = 1`,
		partnerID).Scan(&count)
	return count, err
}

// CountTeam counts descendants at any level.
func (s *Store) CountTeam(ctx context.Context, partnerID partner.UserID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM partner_relationships WHERE partner_id = ?`,
		partnerID).Scan(&count)
	return count, err
}

// IsAttached reports whether the user already has an upline.
func (s *Store) IsAttached(ctx context.Context, referralID partner.UserID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM partner_relationships WHERE referral_id = ?`,
		referralID).Scan(&count)
	return count > 0, err
}

// CreateRelationships inserts the closure rows for one attachment atomically.
func (s *Store) CreateRelationships(ctx context.Context, rels []partner.Relationship) error {
	if len(rels) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	for _, r := range rels {
		_, err := sqlTx.ExecContext(ctx, `
			INSERT INTO partner_relationships (partner_id, referral_id, level, created_at)
			VALUES (?, ?, ?, ?)
		`, r.PartnerID, r.ReferralID, r.Level, r.CreatedAt.UTC().Format(time.RFC3339))
		if err != nil {
			if isUniqueConstraintError(err) {
				return partner.ErrAlreadyAttached
			}
			return fmt.Errorf("failed to insert relationship: %w", err)
		}
	}

	return sqlTx.Commit()
}

func (s *Store) queryRelationships(ctx context.Context, query string, args ...any) ([]partner.Relationship, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query relationships: %w", err)
	}
	defer rows.Close()

	var rels []partner.Relationship
	for rows.Next() {
		var r partner.Relationship
		var createdAt string
		if err := rows.Scan(&r.PartnerID, &r.ReferralID, &r.Level, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan relationship: %w", err)
		}
		r.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		rels = append(rels, r)
	}
	return rels, rows.Err()
}

// =============================================================================
// COMMISSION STORE
// =============================================================================

// CreateCommissions inserts a commission batch plus its audit entry in one
// transaction. Rows whose (partner, transaction, level) already exist are
// skipped via ON CONFLICT DO NOTHING; the audit entry is written only when at
// least one row was created, so redelivered events leave no trace.
func (s *Store) CreateCommissions(ctx context.Context, commissions []partner.Commission, audit partner.AuditEntry) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	created := 0
	for _, c := range commissions {
		res, err := sqlTx.ExecContext(ctx, `
			INSERT INTO partner_commissions
			(id, partner_id, source_user_id, source_transaction_id, level, amount, status, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(partner_id, source_transaction_id, level) DO NOTHING
		`, c.ID, c.PartnerID, c.SourceUserID, c.SourceTransactionID, c.Level,
			c.Amount.String(), c.Status, c.CreatedAt.UTC().Format(time.RFC3339))
		if err != nil {
			return 0, fmt.Errorf("failed to insert commission: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}
		created += int(n)
	}

	if created > 0 {
		_, err := sqlTx.ExecContext(ctx, `
			INSERT INTO commission_audit
			(id, transaction_id, purchaser_user_id, amount, commissions_count, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, audit.ID, audit.TransactionID, audit.PurchaserID,
			audit.Amount.String(), audit.CommissionsCount, audit.CreatedAt.UTC().Format(time.RFC3339))
		if err != nil {
			return 0, fmt.Errorf("failed to insert audit entry: %w", err)
		}
	}

	if err := sqlTx.Commit(); err != nil {
		return 0, err
	}
	return created, nil
}

// ListCommissions returns a partner's commissions newest-first.
func (s *Store) ListCommissions(ctx context.Context, partnerID partner.UserID, filter partner.CommissionFilter) ([]partner.Commission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	where, args := commissionFilterClause(partnerID, filter)
	query := `
		SELECT id, partner_id, source_user_id, source_transaction_id, level, amount, status, created_at, paid_at
		FROM partner_commissions
		` + where + `
		ORDER BY created_at DESC, id DESC
	`
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query commissions: %w", err)
	}
	defer rows.Close()

	var commissions []partner.Commission
	for rows.Next() {
		c, err := scanCommission(rows)
		if err != nil {
			return nil, err
		}
		commissions = append(commissions, c)
	}
	return commissions, rows.Err()
}

// CountCommissions returns the total matching the filter, ignoring paging.
func (s *Store) CountCommissions(ctx context.Context, partnerID partner.UserID, filter partner.CommissionFilter) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	where, args := commissionFilterClause(partnerID, filter)
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM partner_commissions `+where, args...).Scan(&count)
	return count, err
}

// SumCommissionsByStatus totals a partner's commission amounts in the given
// statuses. Amounts are folded as decimals, never as SQL floats.
func (s *Store) SumCommissionsByStatus(ctx context.Context, partnerID partner.UserID, statuses ...partner.CommissionStatus) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return sumCommissions(ctx, s.db, partnerID, statuses)
}

// UpdateCommissionStatus advances a commission's lifecycle.
func (s *Store) UpdateCommissionStatus(ctx context.Context, id string, status partner.CommissionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var paidAt any
	if status == partner.CommissionPaid {
		paidAt = time.Now().UTC().Format(time.RFC3339)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE partner_commissions
		SET status = ?, paid_at = COALESCE(?, paid_at)
		WHERE id = ?
	`, status, paidAt, id)
	if err != nil {
		return fmt.Errorf("failed to update commission status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return partner.ErrPartnerNotFound
	}
	return nil
}

func commissionFilterClause(partnerID partner.UserID, filter partner.CommissionFilter) (string, []any) {
	clauses := []string{"partner_id = ?"}
	args := []any{partnerID}

	if len(filter.Statuses) > 0 {
		clauses = append(clauses, "status IN ("+placeholders(len(filter.Statuses))+")")
		for _, st := range filter.Statuses {
			args = append(args, st)
		}
	}
	if len(filter.Levels) > 0 {
		clauses = append(clauses, "level IN ("+placeholders(len(filter.Levels))+")")
		for _, lvl := range filter.Levels {
			args = append(args, lvl)
		}
	}
	if filter.From != nil {
		clauses = append(clauses, "created_at >= ?")
		args = append(args, filter.From.UTC().Format(time.RFC3339))
	}
	if filter.To != nil {
		clauses = append(clauses, "created_at <= ?")
		args = append(args, filter.To.UTC().Format(time.RFC3339))
	}

	return "WHERE " + strings.Join(clauses, " AND "), args
}

func scanCommission(rows *sql.Rows) (partner.Commission, error) {
	var (
		c         partner.Commission
		amount    string
		createdAt string
		paidAt    sql.NullString
	)
	err := rows.Scan(&c.ID, &c.PartnerID, &c.SourceUserID, &c.SourceTransactionID,
		&c.Level, &amount, &c.Status, &createdAt, &paidAt)
	if err != nil {
		return c, fmt.Errorf("failed to scan commission: %w", err)
	}
	c.Amount = partner.MustDecimal(amount)
	c.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	if paidAt.Valid {
		t, _ := time.Parse(time.RFC3339, paidAt.String)
		c.PaidAt = &t
	}
	return c, nil
}

func sumCommissions(ctx context.Context, db dbtx, partnerID partner.UserID, statuses []partner.CommissionStatus) (decimal.Decimal, error) {
	if len(statuses) == 0 {
		return decimal.Zero, nil
	}

	args := []any{partnerID}
	for _, st := range statuses {
		args = append(args, st)
	}
	rows, err := db.QueryContext(ctx, `
		SELECT amount FROM partner_commissions
		WHERE partner_id = ? AND status IN (`+placeholders(len(statuses))+`)
	`, args...)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum commissions: %w", err)
	}
	defer rows.Close()

	return foldAmounts(rows)
}

// =============================================================================
// WITHDRAWAL STORE
// =============================================================================

// CreateWithdrawal inserts a withdrawal row.
func (s *Store) CreateWithdrawal(ctx context.Context, w partner.WithdrawalRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return insertWithdrawal(ctx, s.db, w)
}

// GetWithdrawal retrieves a withdrawal by ID.
func (s *Store) GetWithdrawal(ctx context.Context, id string) (*partner.WithdrawalRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, amount, currency, tax_status, tax_amount, status,
		       payment_details, rejection_reason, created_at, processed_at
		FROM withdrawal_requests WHERE id = ?
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, partner.ErrWithdrawalNotFound
	}
	w, err := scanWithdrawal(rows)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// ListWithdrawalsByUser returns a user's withdrawals newest-first.
func (s *Store) ListWithdrawalsByUser(ctx context.Context, userID partner.UserID) ([]partner.WithdrawalRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, amount, currency, tax_status, tax_amount, status,
		       payment_details, rejection_reason, created_at, processed_at
		FROM withdrawal_requests
		WHERE user_id = ?
		ORDER BY created_at DESC, id DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query withdrawals: %w", err)
	}
	defer rows.Close()

	var withdrawals []partner.WithdrawalRequest
	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return nil, err
		}
		withdrawals = append(withdrawals, w)
	}
	return withdrawals, rows.Err()
}

// SumWithdrawalsByStatus totals a user's withdrawal amounts in the given statuses.
func (s *Store) SumWithdrawalsByStatus(ctx context.Context, userID partner.UserID, statuses ...partner.WithdrawalStatus) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return sumWithdrawals(ctx, s.db, userID, statuses)
}

// UpdateWithdrawalStatus advances a withdrawal's lifecycle.
func (s *Store) UpdateWithdrawalStatus(ctx context.Context, id string, status partner.WithdrawalStatus, rejectionReason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var processedAt any
	if status == partner.WithdrawalCompleted || status == partner.WithdrawalRejected {
		processedAt = time.Now().UTC().Format(time.RFC3339)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE withdrawal_requests
		SET status = ?,
		    rejection_reason = CASE WHEN ? != '' THEN ? ELSE rejection_reason END,
		    processed_at = COALESCE(?, processed_at)
		WHERE id = ?
	`, status, rejectionReason, rejectionReason, processedAt, id)
	if err != nil {
		return fmt.Errorf("failed to update withdrawal status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return partner.ErrWithdrawalNotFound
	}
	return nil
}

func insertWithdrawal(ctx context.Context, db dbtx, w partner.WithdrawalRequest) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO withdrawal_requests
		(id, user_id, amount, currency, tax_status, tax_amount, status,
		 payment_details, rejection_reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, w.ID, w.UserID, w.Amount.String(), w.Currency, w.TaxStatus,
		w.TaxAmount.String(), w.Status, w.PaymentDetails, w.RejectionReason,
		w.CreatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to insert withdrawal: %w", err)
	}
	return nil
}

func scanWithdrawal(rows *sql.Rows) (partner.WithdrawalRequest, error) {
	var (
		w              partner.WithdrawalRequest
		amount         string
		taxAmount      string
		paymentDetails sql.NullString
		rejection      sql.NullString
		createdAt      string
		processedAt    sql.NullString
	)
	err := rows.Scan(&w.ID, &w.UserID, &amount, &w.Currency, &w.TaxStatus,
		&taxAmount, &w.Status, &paymentDetails, &rejection, &createdAt, &processedAt)
	if err != nil {
		return w, fmt.Errorf("failed to scan withdrawal: %w", err)
	}
	w.Amount = partner.MustDecimal(amount)
	w.TaxAmount = partner.MustDecimal(taxAmount)
	w.PaymentDetails = paymentDetails.String
	w.RejectionReason = rejection.String
	w.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	if processedAt.Valid {
		t, _ := time.Parse(time.RFC3339, processedAt.String)
		w.ProcessedAt = &t
	}
	return w, nil
}

func sumWithdrawals(ctx context.Context, db dbtx, userID partner.UserID, statuses []partner.WithdrawalStatus) (decimal.Decimal, error) {
	if len(statuses) == 0 {
		return decimal.Zero, nil
	}

	args := []any{userID}
	for _, st := range statuses {
		args = append(args, st)
	}
	rows, err := db.QueryContext(ctx, `
		SELECT amount FROM withdrawal_requests
		WHERE user_id = ? AND status IN (`+placeholders(len(statuses))+`)
	`, args...)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum withdrawals: %w", err)
	}
	defer rows.Close()

	return foldAmounts(rows)
}

// =============================================================================
// TRANSACTIONAL LEDGER STORE (partner.TxLedgerStore interface)
// =============================================================================

// WithTx executes fn within a database transaction. The store mutex is held
// for the duration, so the balance read and the withdrawal insert cannot be
// interleaved by a concurrent submission.
func (s *Store) WithTx(ctx context.Context, fn func(partner.LedgerStore) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&ledgerTx{tx: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

type ledgerTx struct {
	tx *sql.Tx
}

func (lt *ledgerTx) SumCommissionsByStatus(ctx context.Context, partnerID partner.UserID, statuses ...partner.CommissionStatus) (decimal.Decimal, error) {
	return sumCommissions(ctx, lt.tx, partnerID, statuses)
}

func (lt *ledgerTx) SumWithdrawalsByStatus(ctx context.Context, userID partner.UserID, statuses ...partner.WithdrawalStatus) (decimal.Decimal, error) {
	return sumWithdrawals(ctx, lt.tx, userID, statuses)
}

func (lt *ledgerTx) CreateWithdrawal(ctx context.Context, w partner.WithdrawalRequest) error {
	return insertWithdrawal(ctx, lt.tx, w)
}

// =============================================================================
// AUDIT LOG
// =============================================================================

// QueryAudit returns commission batch audit entries, newest-first.
func (s *Store) QueryAudit(ctx context.Context, filter partner.AuditFilter) ([]partner.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	clauses := []string{"1=1"}
	var args []any
	if filter.TransactionID != nil {
		clauses = append(clauses, "transaction_id = ?")
		args = append(args, *filter.TransactionID)
	}
	if filter.PurchaserID != nil {
		clauses = append(clauses, "purchaser_user_id = ?")
		args = append(args, *filter.PurchaserID)
	}

	query := `
		SELECT id, transaction_id, purchaser_user_id, amount, commissions_count, created_at
		FROM commission_audit
		WHERE ` + strings.Join(clauses, " AND ") + `
		ORDER BY created_at DESC
	`
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit entries: %w", err)
	}
	defer rows.Close()

	var entries []partner.AuditEntry
	for rows.Next() {
		var e partner.AuditEntry
		var amount, createdAt string
		if err := rows.Scan(&e.ID, &e.TransactionID, &e.PurchaserID, &amount,
			&e.CommissionsCount, &createdAt); err != nil {
			return nil, err
		}
		e.Amount = partner.MustDecimal(amount)
		e.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// =============================================================================
// PAYMENTS (VolumeProvider + PaymentRecorder)
// =============================================================================

// RecordCompletedTransaction records a payment event. Idempotent by
// transaction ID: redelivery inserts nothing.
func (s *Store) RecordCompletedTransaction(ctx context.Context, txID partner.TransactionID, userID partner.UserID, amount decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO completed_transactions (transaction_id, user_id, amount, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(transaction_id) DO NOTHING
	`, txID, userID, amount.String(), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to record transaction: %w", err)
	}
	return nil
}

// SumCompletedTransactions totals completed-transaction amounts across users.
func (s *Store) SumCompletedTransactions(ctx context.Context, userIDs []partner.UserID) (decimal.Decimal, error) {
	if len(userIDs) == 0 {
		return decimal.Zero, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	args := make([]any, len(userIDs))
	for i, id := range userIDs {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT amount FROM completed_transactions
		WHERE user_id IN (`+placeholders(len(userIDs))+`)
	`, args...)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum transactions: %w", err)
	}
	defer rows.Close()

	return foldAmounts(rows)
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{
		"partner_relationships", "partner_commissions", "withdrawal_requests",
		"commission_audit", "completed_transactions", "partners",
	}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// Helper functions

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func foldAmounts(rows *sql.Rows) (decimal.Decimal, error) {
	total := decimal.Zero
	for rows.Next() {
		var amount string
		if err := rows.Scan(&amount); err != nil {
			return decimal.Zero, err
		}
		total = total.Add(partner.MustDecimal(amount))
	}
	return total, rows.Err()
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}
