/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

AMOUNTS:
  Monetary values are decimal.Decimal end to end and serialize as JSON
  strings ("1300.00"), never as binary floats. Request bodies accept both
  string and number forms.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"github.com/shopspring/decimal"
	"github.com/warp/partner-engine/partner"
)

// =============================================================================
// PARTNERS
// =============================================================================

// PartnerDTO represents a partner in API responses.
type PartnerDTO struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	ReferralCode string `json:"referral_code"`
	CreatedAt    string `json:"created_at,omitempty"`
}

// CreatePartnerRequest is the request to register a partner.
type CreatePartnerRequest struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	ReferralCode string `json:"referral_code"`
}

// AttachReferralRequest links a new user under a referrer, either by
// referral code (resolved through the directory) or by referrer id.
type AttachReferralRequest struct {
	UserID       string `json:"user_id"`
	ReferralCode string `json:"referral_code,omitempty"`
	ReferrerID   string `json:"referrer_id,omitempty"`
}

// =============================================================================
// PAYMENTS
// =============================================================================

// TransactionCompletedRequest is the payments subsystem's completion event.
type TransactionCompletedRequest struct {
	TransactionID string          `json:"transaction_id"`
	UserID        string          `json:"user_id"`
	Amount        decimal.Decimal `json:"amount"`
}

// TransactionCompletedResponse reports the outcome of one event.
type TransactionCompletedResponse struct {
	TransactionID      string `json:"transaction_id"`
	CommissionsCreated int    `json:"commissions_created"`
}

// =============================================================================
// COMMISSIONS
// =============================================================================

// CommissionDTO represents a commission row.
type CommissionDTO struct {
	ID                  string          `json:"id"`
	PartnerID           string          `json:"partner_id"`
	SourceUserID        string          `json:"source_user_id"`
	SourceTransactionID string          `json:"source_transaction_id"`
	Level               int             `json:"level"`
	Amount              decimal.Decimal `json:"amount"`
	Status              string          `json:"status"`
	CreatedAt           string          `json:"created_at"`
	PaidAt              *string         `json:"paid_at,omitempty"`
}

// CommissionListDTO is a paginated commission history page.
type CommissionListDTO struct {
	Items  []CommissionDTO `json:"items"`
	Total  int             `json:"total"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`
}

// UpdateCommissionStatusRequest advances a commission's lifecycle (admin).
type UpdateCommissionStatusRequest struct {
	Status string `json:"status"`
}

// =============================================================================
// LEVELS
// =============================================================================

// LevelConfigDTO is one tier in the static levels listing.
type LevelConfigDTO struct {
	Level          int             `json:"level"`
	Name           string          `json:"name"`
	MinReferrals   int             `json:"min_referrals"`
	MinTeamVolume  decimal.Decimal `json:"min_team_volume"`
	CommissionRate decimal.Decimal `json:"commission_rate"`
}

// LevelProgressDTO is a partner's computed tier state.
type LevelProgressDTO struct {
	Level            int             `json:"level"`
	Name             string          `json:"name"`
	DirectReferrals  int             `json:"direct_referrals"`
	TeamVolume       decimal.Decimal `json:"team_volume"`
	NextLevel        int             `json:"next_level"`
	ReferralProgress decimal.Decimal `json:"referral_progress"`
	VolumeProgress   decimal.Decimal `json:"volume_progress"`
	Progress         int             `json:"progress"`
}

// =============================================================================
// TREE
// =============================================================================

// TreeNodeDTO is one referral in the downline view.
type TreeNodeDTO struct {
	UserID     string          `json:"user_id"`
	Depth      int             `json:"depth"`
	TotalSpent decimal.Decimal `json:"total_spent"`
	IsActive   bool            `json:"is_active"`
	Referrals  []TreeNodeDTO   `json:"referrals,omitempty"`
}

// TreeDTO is the downline view rooted at a partner.
type TreeDTO struct {
	RootID        string        `json:"root_id"`
	Depth         int           `json:"depth"`
	DirectCount   int           `json:"direct_count"`
	TotalTeamSize int           `json:"total_team_size"`
	Referrals     []TreeNodeDTO `json:"referrals"`
}

// =============================================================================
// BALANCE & WITHDRAWALS
// =============================================================================

// BalanceDTO is the available withdrawal balance.
type BalanceDTO struct {
	UserID    string          `json:"user_id"`
	Available decimal.Decimal `json:"available"`
}

// CreateWithdrawalRequest submits a withdrawal.
type CreateWithdrawalRequest struct {
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency,omitempty"`
	TaxStatus      string          `json:"tax_status"`
	PaymentDetails string          `json:"payment_details,omitempty"`
}

// WithdrawalDTO represents a withdrawal request.
type WithdrawalDTO struct {
	ID              string          `json:"id"`
	UserID          string          `json:"user_id"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	TaxStatus       string          `json:"tax_status"`
	TaxAmount       decimal.Decimal `json:"tax_amount"`
	NetAmount       decimal.Decimal `json:"net_amount"`
	Status          string          `json:"status"`
	RejectionReason string          `json:"rejection_reason,omitempty"`
	CreatedAt       string          `json:"created_at"`
	ProcessedAt     *string         `json:"processed_at,omitempty"`
}

// UpdateWithdrawalStatusRequest advances a withdrawal's lifecycle (admin).
type UpdateWithdrawalStatusRequest struct {
	Status          string `json:"status"`
	RejectionReason string `json:"rejection_reason,omitempty"`
}

// =============================================================================
// TAX
// =============================================================================

// TaxPreviewRequest asks for a withholding breakdown without creating anything.
type TaxPreviewRequest struct {
	Amount    decimal.Decimal `json:"amount"`
	TaxStatus string          `json:"tax_status"`
}

// TaxPreviewDTO is the withholding breakdown.
type TaxPreviewDTO struct {
	TaxStatus string          `json:"tax_status"`
	Rate      decimal.Decimal `json:"rate"`
	TaxAmount decimal.Decimal `json:"tax_amount"`
	NetAmount decimal.Decimal `json:"net_amount"`
}

// =============================================================================
// DASHBOARD
// =============================================================================

// DashboardDTO aggregates a partner's headline statistics.
type DashboardDTO struct {
	PartnerID           string           `json:"partner_id"`
	Level               LevelProgressDTO `json:"level"`
	DirectReferrals     int              `json:"direct_referrals"`
	TeamSize            int              `json:"team_size"`
	TeamVolume          decimal.Decimal  `json:"team_volume"`
	PendingCommissions  decimal.Decimal  `json:"pending_commissions"`
	ApprovedCommissions decimal.Decimal  `json:"approved_commissions"`
	PaidCommissions     decimal.Decimal  `json:"paid_commissions"`
	AvailableBalance    decimal.Decimal  `json:"available_balance"`
}

// =============================================================================
// AUDIT
// =============================================================================

// AuditEntryDTO is one commission batch audit record.
type AuditEntryDTO struct {
	ID               string          `json:"id"`
	TransactionID    string          `json:"transaction_id"`
	PurchaserID      string          `json:"purchaser_user_id"`
	Amount           decimal.Decimal `json:"amount"`
	CommissionsCount int             `json:"commissions_count"`
	CreatedAt        string          `json:"created_at"`
}

// ErrorResponse is the JSON error envelope. Available is populated for
// insufficient-balance rejections so the client can show the shortfall.
type ErrorResponse struct {
	Error     string           `json:"error"`
	Details   string           `json:"details,omitempty"`
	Available *decimal.Decimal `json:"available,omitempty"`
}

// =============================================================================
// CONVERTERS
// =============================================================================

func toCommissionDTO(c partner.Commission) CommissionDTO {
	dto := CommissionDTO{
		ID:                  c.ID,
		PartnerID:           string(c.PartnerID),
		SourceUserID:        string(c.SourceUserID),
		SourceTransactionID: string(c.SourceTransactionID),
		Level:               c.Level,
		Amount:              c.Amount,
		Status:              string(c.Status),
		CreatedAt:           c.CreatedAt.Format(timeFormat),
	}
	if c.PaidAt != nil {
		s := c.PaidAt.Format(timeFormat)
		dto.PaidAt = &s
	}
	return dto
}

func toWithdrawalDTO(w partner.WithdrawalRequest) WithdrawalDTO {
	dto := WithdrawalDTO{
		ID:              w.ID,
		UserID:          string(w.UserID),
		Amount:          w.Amount,
		Currency:        w.Currency,
		TaxStatus:       string(w.TaxStatus),
		TaxAmount:       w.TaxAmount,
		NetAmount:       w.NetAmount(),
		Status:          string(w.Status),
		RejectionReason: w.RejectionReason,
		CreatedAt:       w.CreatedAt.Format(timeFormat),
	}
	if w.ProcessedAt != nil {
		s := w.ProcessedAt.Format(timeFormat)
		dto.ProcessedAt = &s
	}
	return dto
}

func toLevelProgressDTO(p partner.LevelProgress) LevelProgressDTO {
	return LevelProgressDTO{
		Level:            p.Level,
		Name:             p.Name,
		DirectReferrals:  p.DirectReferrals,
		TeamVolume:       p.TeamVolume,
		NextLevel:        p.NextLevel,
		ReferralProgress: p.ReferralProgress.Round(2),
		VolumeProgress:   p.VolumeProgress.Round(2),
		Progress:         p.Progress,
	}
}

func toTreeNodeDTOs(nodes []*partner.TreeNode) []TreeNodeDTO {
	out := make([]TreeNodeDTO, len(nodes))
	for i, n := range nodes {
		out[i] = TreeNodeDTO{
			UserID:     string(n.UserID),
			Depth:      n.Depth,
			TotalSpent: n.TotalSpent,
			IsActive:   n.Active,
			Referrals:  toTreeNodeDTOs(n.Referrals),
		}
	}
	return out
}
