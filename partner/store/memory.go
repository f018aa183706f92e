// Package store provides an in-memory implementation of the partner storage
// interfaces, for tests and local development.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/partner-engine/partner"
)

// =============================================================================
// MEMORY STORE - Implements every partner storage interface
// =============================================================================

type Memory struct {
	mu            sync.Mutex
	partners      map[partner.UserID]partner.Partner
	relationships []partner.Relationship
	commissions   map[string]partner.Commission
	commissionKey map[commissionKey]string // (partner, tx, level) -> commission ID
	withdrawals   map[string]partner.WithdrawalRequest
	audit         []partner.AuditEntry
	payments      map[partner.TransactionID]payment
}

type commissionKey struct {
	PartnerID partner.UserID
	TxID      partner.TransactionID
	Level     int
}

type payment struct {
	UserID partner.UserID
	Amount decimal.Decimal
}

func NewMemory() *Memory {
	return &Memory{
		partners:      make(map[partner.UserID]partner.Partner),
		commissions:   make(map[string]partner.Commission),
		commissionKey: make(map[commissionKey]string),
		withdrawals:   make(map[string]partner.WithdrawalRequest),
		payments:      make(map[partner.TransactionID]payment),
	}
}

// Interface checks
var (
	_ partner.RelationshipStore = (*Memory)(nil)
	_ partner.CommissionStore   = (*Memory)(nil)
	_ partner.WithdrawalStore   = (*Memory)(nil)
	_ partner.TxLedgerStore     = (*Memory)(nil)
	_ partner.PartnerDirectory  = (*Memory)(nil)
	_ partner.AuditLog          = (*Memory)(nil)
	_ partner.VolumeProvider    = (*Memory)(nil)
	_ partner.PaymentRecorder   = (*Memory)(nil)
)

// =============================================================================
// PARTNER DIRECTORY
// =============================================================================

func (m *Memory) CreatePartner(_ context.Context, p partner.Partner) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.partners[p.ID] = p
	return nil
}

func (m *Memory) GetPartner(_ context.Context, id partner.UserID) (*partner.Partner, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.partners[id]; ok {
		return &p, nil
	}
	return nil, partner.ErrPartnerNotFound
}

func (m *Memory) ListPartners(_ context.Context) ([]partner.Partner, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]partner.Partner, 0, len(m.partners))
	for _, p := range m.partners {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) ResolveReferralCode(_ context.Context, code string) (*partner.Partner, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.partners {
		if p.ReferralCode == code {
			cp := p
			return &cp, nil
		}
	}
	return nil, partner.ErrPartnerNotFound
}

// =============================================================================
// RELATIONSHIP STORE
// =============================================================================

func (m *Memory) Ancestors(_ context.Context, referralID partner.UserID) ([]partner.Relationship, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []partner.Relationship
	for _, r := range m.relationships {
		if r.ReferralID == referralID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Level < out[j].Level })
	return out, nil
}

func (m *Memory) DirectReferrals(_ context.Context, partnerID partner.UserID) ([]partner.Relationship, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []partner.Relationship
	for _, r := range m.relationships {
		if r.PartnerID == partnerID && r.Level == 1 {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *Memory) Descendants(_ context.Context, partnerID partner.UserID) ([]partner.Relationship, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []partner.Relationship
	for _, r := range m.relationships {
		if r.PartnerID == partnerID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *Memory) CountDirectReferrals(ctx context.Context, partnerID partner.UserID) (int, error) {
	rels, err := m.DirectReferrals(ctx, partnerID)
	return len(rels), err
}

func (m *Memory) CountTeam(ctx context.Context, partnerID partner.UserID) (int, error) {
	rels, err := m.Descendants(ctx, partnerID)
	return len(rels), err
}

func (m *Memory) IsAttached(_ context.Context, referralID partner.UserID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.relationships {
		if r.ReferralID == referralID {
			return true, nil
		}
	}
	return false, nil
}

func (m *Memory) CreateRelationships(_ context.Context, rels []partner.Relationship) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range rels {
		for _, existing := range m.relationships {
			if existing.ReferralID == r.ReferralID && existing.Level == r.Level {
				return partner.ErrAlreadyAttached
			}
		}
	}
	m.relationships = append(m.relationships, rels...)
	return nil
}

// =============================================================================
// COMMISSION STORE
// =============================================================================

func (m *Memory) CreateCommissions(_ context.Context, commissions []partner.Commission, audit partner.AuditEntry) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	created := 0
	for _, c := range commissions {
		key := commissionKey{PartnerID: c.PartnerID, TxID: c.SourceTransactionID, Level: c.Level}
		if _, exists := m.commissionKey[key]; exists {
			continue
		}
		m.commissions[c.ID] = c
		m.commissionKey[key] = c.ID
		created++
	}
	if created > 0 {
		m.audit = append(m.audit, audit)
	}
	return created, nil
}

func (m *Memory) ListCommissions(_ context.Context, partnerID partner.UserID, filter partner.CommissionFilter) ([]partner.Commission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	matched := m.matchCommissionsLocked(partnerID, filter)
	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			return nil, nil
		}
		matched = matched[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(matched) {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

func (m *Memory) CountCommissions(_ context.Context, partnerID partner.UserID, filter partner.CommissionFilter) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.matchCommissionsLocked(partnerID, filter)), nil
}

func (m *Memory) matchCommissionsLocked(partnerID partner.UserID, filter partner.CommissionFilter) []partner.Commission {
	var out []partner.Commission
	for _, c := range m.commissions {
		if c.PartnerID != partnerID {
			continue
		}
		if len(filter.Statuses) > 0 && !containsStatus(filter.Statuses, c.Status) {
			continue
		}
		if len(filter.Levels) > 0 && !containsInt(filter.Levels, c.Level) {
			continue
		}
		if filter.From != nil && c.CreatedAt.Before(*filter.From) {
			continue
		}
		if filter.To != nil && c.CreatedAt.After(*filter.To) {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func (m *Memory) SumCommissionsByStatus(_ context.Context, partnerID partner.UserID, statuses ...partner.CommissionStatus) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sumCommissions(partnerID, statuses), nil
}

func (m *Memory) sumCommissions(partnerID partner.UserID, statuses []partner.CommissionStatus) decimal.Decimal {
	total := decimal.Zero
	for _, c := range m.commissions {
		if c.PartnerID == partnerID && containsStatus(statuses, c.Status) {
			total = total.Add(c.Amount)
		}
	}
	return total
}

func (m *Memory) UpdateCommissionStatus(_ context.Context, id string, status partner.CommissionStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.commissions[id]
	if !ok {
		return partner.ErrPartnerNotFound
	}
	c.Status = status
	if status == partner.CommissionPaid {
		now := time.Now().UTC()
		c.PaidAt = &now
	}
	m.commissions[id] = c
	return nil
}

// =============================================================================
// WITHDRAWAL STORE
// =============================================================================

func (m *Memory) CreateWithdrawal(_ context.Context, w partner.WithdrawalRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.insertWithdrawal(w)
	return nil
}

func (m *Memory) insertWithdrawal(w partner.WithdrawalRequest) {
	m.withdrawals[w.ID] = w
}

func (m *Memory) GetWithdrawal(_ context.Context, id string) (*partner.WithdrawalRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w, ok := m.withdrawals[id]; ok {
		return &w, nil
	}
	return nil, partner.ErrWithdrawalNotFound
}

func (m *Memory) ListWithdrawalsByUser(_ context.Context, userID partner.UserID) ([]partner.WithdrawalRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []partner.WithdrawalRequest
	for _, w := range m.withdrawals {
		if w.UserID == userID {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) SumWithdrawalsByStatus(_ context.Context, userID partner.UserID, statuses ...partner.WithdrawalStatus) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sumWithdrawals(userID, statuses), nil
}

func (m *Memory) sumWithdrawals(userID partner.UserID, statuses []partner.WithdrawalStatus) decimal.Decimal {
	total := decimal.Zero
	for _, w := range m.withdrawals {
		if w.UserID == userID && containsWithdrawalStatus(statuses, w.Status) {
			total = total.Add(w.Amount)
		}
	}
	return total
}

func (m *Memory) UpdateWithdrawalStatus(_ context.Context, id string, status partner.WithdrawalStatus, rejectionReason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.withdrawals[id]
	if !ok {
		return partner.ErrWithdrawalNotFound
	}
	w.Status = status
	if rejectionReason != "" {
		w.RejectionReason = rejectionReason
	}
	if status == partner.WithdrawalCompleted || status == partner.WithdrawalRejected {
		now := time.Now().UTC()
		w.ProcessedAt = &now
	}
	m.withdrawals[id] = w
	return nil
}

// =============================================================================
// LEDGER STORE
// =============================================================================

// WithTx holds the store mutex for the whole callback, so the balance reads
// and the withdrawal insert inside fn run against one consistent state and no
// other submission can interleave a write between them. fn receives an
// unlocked view; calling Memory methods directly from inside fn deadlocks.
func (m *Memory) WithTx(_ context.Context, fn func(partner.LedgerStore) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(memoryTx{m})
}

// memoryTx is the LedgerStore handed to WithTx callbacks. The caller already
// holds m.mu, so every method goes straight to the unlocked internals.
type memoryTx struct {
	m *Memory
}

func (t memoryTx) SumCommissionsByStatus(_ context.Context, partnerID partner.UserID, statuses ...partner.CommissionStatus) (decimal.Decimal, error) {
	return t.m.sumCommissions(partnerID, statuses), nil
}

func (t memoryTx) SumWithdrawalsByStatus(_ context.Context, userID partner.UserID, statuses ...partner.WithdrawalStatus) (decimal.Decimal, error) {
	return t.m.sumWithdrawals(userID, statuses), nil
}

func (t memoryTx) CreateWithdrawal(_ context.Context, w partner.WithdrawalRequest) error {
	t.m.insertWithdrawal(w)
	return nil
}

// =============================================================================
// AUDIT LOG
// =============================================================================

func (m *Memory) QueryAudit(_ context.Context, filter partner.AuditFilter) ([]partner.AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []partner.AuditEntry
	for _, e := range m.audit {
		if filter.TransactionID != nil && e.TransactionID != *filter.TransactionID {
			continue
		}
		if filter.PurchaserID != nil && e.PurchaserID != *filter.PurchaserID {
			continue
		}
		out = append(out, e)
	}
	if filter.Limit > 0 && filter.Limit < len(out) {
		out = out[:filter.Limit]
	}
	return out, nil
}

// =============================================================================
// PAYMENTS (VolumeProvider + PaymentRecorder)
// =============================================================================

func (m *Memory) RecordCompletedTransaction(_ context.Context, txID partner.TransactionID, userID partner.UserID, amount decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.payments[txID]; exists {
		return nil
	}
	m.payments[txID] = payment{UserID: userID, Amount: amount}
	return nil
}

func (m *Memory) SumCompletedTransactions(_ context.Context, userIDs []partner.UserID) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	members := make(map[partner.UserID]bool, len(userIDs))
	for _, id := range userIDs {
		members[id] = true
	}
	total := decimal.Zero
	for _, p := range m.payments {
		if members[p.UserID] {
			total = total.Add(p.Amount)
		}
	}
	return total, nil
}

// Helpers

func containsStatus(statuses []partner.CommissionStatus, s partner.CommissionStatus) bool {
	for _, v := range statuses {
		if v == s {
			return true
		}
	}
	return false
}

func containsWithdrawalStatus(statuses []partner.WithdrawalStatus, s partner.WithdrawalStatus) bool {
	for _, v := range statuses {
		if v == s {
			return true
		}
	}
	return false
}

func containsInt(values []int, v int) bool {
	for _, x := range values {
		if x == v {
			return true
		}
	}
	return false
}
