/*
handlers.go - HTTP API handlers for the partner referral engine

PURPOSE:
  Exposes the referral and commission engine via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Partners:
    GET    /api/partners                    List partners
    POST   /api/partners                    Register partner
    GET    /api/partners/{id}               Get partner
    POST   /api/partners/attach             Attach referral under a referrer
    GET    /api/partners/{id}/dashboard     Aggregate statistics
    GET    /api/partners/{id}/tree          Downline tree (depth query param)
    GET    /api/partners/{id}/level         Tier state and progress
    GET    /api/partners/{id}/commissions   Filtered commission history
    GET    /api/partners/{id}/balance       Available withdrawal balance
    POST   /api/partners/{id}/withdrawals   Submit withdrawal
    GET    /api/partners/{id}/withdrawals   Withdrawal history

  Payments:
    POST   /api/payments/completed          Transaction-completed event

  Tax:
    POST   /api/tax/preview                 Withholding breakdown, no writes

  Levels:
    GET    /api/levels                      Static tier configuration

  Audit:
    GET    /api/audit                       Commission batch audit entries

  Admin:
    PUT    /api/admin/commissions/{id}/status  Advance commission lifecycle
    PUT    /api/admin/withdrawals/{id}/status  Advance withdrawal lifecycle

ARCHITECTURE:
  Handler struct holds the store plus one engine per concern. Engines are
  constructed once at startup from a single Config.

ERROR HANDLING:
  Domain errors map onto HTTP status:
  - 400: Validation errors, invalid input, insufficient balance
  - 404: Missing partner or withdrawal
  - 409: Conflict (already attached, duplicate)
  - 500: Internal errors
  Insufficient-balance responses carry the available balance.

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.
  Admin routes must be gated before any production deployment.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/warp/partner-engine/partner"
)

const timeFormat = time.RFC3339

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Store is the persistence surface the API depends on. Both the SQLite store
// and the in-memory store satisfy it.
type Store interface {
	partner.PartnerDirectory
	partner.RelationshipStore
	partner.CommissionStore
	partner.WithdrawalStore
	partner.TxLedgerStore
	partner.VolumeProvider
	partner.PaymentRecorder
	partner.AuditLog
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store  Store
	Config partner.Config

	closure     *partner.ClosureMaintainer
	commissions *partner.CommissionEngine
	levels      *partner.LevelCalculator
	ledger      *partner.BalanceLedger
	trees       *partner.TreeBuilder
	taxes       *partner.TaxCalculator
}

// NewHandler creates a new handler with all engines wired to the store.
func NewHandler(store Store, cfg partner.Config) *Handler {
	taxes := partner.NewTaxCalculator(cfg)
	return &Handler{
		Store:       store,
		Config:      cfg,
		closure:     partner.NewClosureMaintainer(store, store, cfg),
		commissions: partner.NewCommissionEngine(store, store, cfg),
		levels:      partner.NewLevelCalculator(store, store, cfg),
		ledger:      partner.NewBalanceLedger(store, taxes),
		trees:       partner.NewTreeBuilder(store, store, cfg),
		taxes:       taxes,
	}
}

// =============================================================================
// PARTNER HANDLERS
// =============================================================================

// ListPartners returns all registered partners.
func (h *Handler) ListPartners(w http.ResponseWriter, r *http.Request) {
	partners, err := h.Store.ListPartners(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list partners", err)
		return
	}

	dtos := make([]PartnerDTO, len(partners))
	for i, p := range partners {
		dtos[i] = toPartnerDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreatePartner registers a partner.
func (h *Handler) CreatePartner(w http.ResponseWriter, r *http.Request) {
	var req CreatePartnerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ID == "" {
		writeError(w, http.StatusBadRequest, "Partner id is required", nil)
		return
	}

	code := req.ReferralCode
	if code == "" {
		code = strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	}

	p := partner.Partner{
		ID:           partner.UserID(req.ID),
		Name:         req.Name,
		ReferralCode: code,
		CreatedAt:    time.Now().UTC(),
	}
	if err := h.Store.CreatePartner(r.Context(), p); err != nil {
		h.writeDomainError(w, "Failed to create partner", err)
		return
	}

	writeJSON(w, http.StatusCreated, toPartnerDTO(p))
}

// GetPartner returns a single partner.
func (h *Handler) GetPartner(w http.ResponseWriter, r *http.Request) {
	p, err := h.Store.GetPartner(r.Context(), partner.UserID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeDomainError(w, "Failed to get partner", err)
		return
	}
	writeJSON(w, http.StatusOK, toPartnerDTO(*p))
}

// AttachReferral links a new user under a referrer. The referrer is named
// either by referral code or directly by id.
func (h *Handler) AttachReferral(w http.ResponseWriter, r *http.Request) {
	var req AttachReferralRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required", nil)
		return
	}

	ctx := r.Context()
	referrerID := partner.UserID(req.ReferrerID)
	if req.ReferralCode != "" {
		referrer, err := h.Store.ResolveReferralCode(ctx, req.ReferralCode)
		if err != nil {
			if partner.IsNotFound(err) {
				writeError(w, http.StatusBadRequest, "Unknown referral code", nil)
				return
			}
			writeError(w, http.StatusInternalServerError, "Failed to resolve referral code", err)
			return
		}
		referrerID = referrer.ID
	}

	if err := h.closure.AttachReferral(ctx, partner.UserID(req.UserID), referrerID); err != nil {
		h.writeDomainError(w, "Failed to attach referral", err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"status":      "attached",
		"user_id":     req.UserID,
		"referrer_id": string(referrerID),
	})
}

// =============================================================================
// PAYMENT HANDLERS
// =============================================================================

// TransactionCompleted ingests a completed payment event. Safe under
// at-least-once delivery: redelivery records and creates nothing new.
func (h *Handler) TransactionCompleted(w http.ResponseWriter, r *http.Request) {
	var req TransactionCompletedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.TransactionID == "" || req.UserID == "" {
		writeError(w, http.StatusBadRequest, "transaction_id and user_id are required", nil)
		return
	}
	if !req.Amount.IsPositive() {
		writeError(w, http.StatusBadRequest, "Amount must be positive", nil)
		return
	}

	ctx := r.Context()
	txID := partner.TransactionID(req.TransactionID)
	userID := partner.UserID(req.UserID)

	// Record the payment first so team volume reflects every completed
	// transaction, including ones whose purchaser has no upline.
	if err := h.Store.RecordCompletedTransaction(ctx, txID, userID, req.Amount); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to record transaction", err)
		return
	}

	created, err := h.commissions.OnTransactionCompleted(ctx, txID, userID, req.Amount)
	if err != nil {
		h.writeDomainError(w, "Failed to create commissions", err)
		return
	}

	writeJSON(w, http.StatusOK, TransactionCompletedResponse{
		TransactionID:      req.TransactionID,
		CommissionsCreated: created,
	})
}

// =============================================================================
// DASHBOARD / TREE / LEVEL HANDLERS
// =============================================================================

// GetDashboard aggregates a partner's headline statistics.
func (h *Handler) GetDashboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	partnerID := partner.UserID(chi.URLParam(r, "id"))

	if _, err := h.Store.GetPartner(ctx, partnerID); err != nil {
		h.writeDomainError(w, "Failed to get partner", err)
		return
	}

	progress, err := h.levels.ComputeLevel(ctx, partnerID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to compute level", err)
		return
	}

	teamSize, err := h.Store.CountTeam(ctx, partnerID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to count team", err)
		return
	}

	pending, err := h.Store.SumCommissionsByStatus(ctx, partnerID, partner.CommissionPending)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to sum commissions", err)
		return
	}
	approved, err := h.Store.SumCommissionsByStatus(ctx, partnerID, partner.CommissionApproved)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to sum commissions", err)
		return
	}
	paid, err := h.Store.SumCommissionsByStatus(ctx, partnerID, partner.CommissionPaid)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to sum commissions", err)
		return
	}

	available, err := h.ledger.AvailableBalance(ctx, partnerID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to compute balance", err)
		return
	}

	writeJSON(w, http.StatusOK, DashboardDTO{
		PartnerID:           string(partnerID),
		Level:               toLevelProgressDTO(progress),
		DirectReferrals:     progress.DirectReferrals,
		TeamSize:            teamSize,
		TeamVolume:          progress.TeamVolume,
		PendingCommissions:  pending,
		ApprovedCommissions: approved,
		PaidCommissions:     paid,
		AvailableBalance:    available,
	})
}

// GetTree returns the downline tree. The depth query parameter is clamped to
// the configured maximum.
func (h *Handler) GetTree(w http.ResponseWriter, r *http.Request) {
	partnerID := partner.UserID(chi.URLParam(r, "id"))

	depth := h.Config.MaxDepth
	if s := r.URL.Query().Get("depth"); s != "" {
		d, err := strconv.Atoi(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid depth", err)
			return
		}
		depth = d
	}

	tree, err := h.trees.BuildTree(r.Context(), partnerID, depth)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to build tree", err)
		return
	}

	writeJSON(w, http.StatusOK, TreeDTO{
		RootID:        string(tree.RootID),
		Depth:         tree.Depth,
		DirectCount:   tree.DirectCount,
		TotalTeamSize: tree.TotalTeamSize,
		Referrals:     toTreeNodeDTOs(tree.Referrals),
	})
}

// GetLevel returns a partner's tier state and progress toward the next tier.
func (h *Handler) GetLevel(w http.ResponseWriter, r *http.Request) {
	progress, err := h.levels.ComputeLevel(r.Context(), partner.UserID(chi.URLParam(r, "id")))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to compute level", err)
		return
	}
	writeJSON(w, http.StatusOK, toLevelProgressDTO(progress))
}

// ListLevels returns the static tier configuration with per-level rates.
func (h *Handler) ListLevels(w http.ResponseWriter, r *http.Request) {
	dtos := make([]LevelConfigDTO, len(h.Config.Levels))
	for i, lc := range h.Config.Levels {
		dtos[i] = LevelConfigDTO{
			Level:          lc.Level,
			Name:           lc.Name,
			MinReferrals:   lc.MinReferrals,
			MinTeamVolume:  lc.MinTeamVolume,
			CommissionRate: h.Config.RateAt(lc.Level),
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// COMMISSION HANDLERS
// =============================================================================

// ListCommissions returns a partner's commission history, filtered and paged.
// Query parameters: status (comma separated), level (comma separated),
// from, to (RFC3339), limit, offset.
func (h *Handler) ListCommissions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	partnerID := partner.UserID(chi.URLParam(r, "id"))

	filter, err := parseCommissionFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid filter", err)
		return
	}

	total, err := h.Store.CountCommissions(ctx, partnerID, filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to count commissions", err)
		return
	}

	commissions, err := h.Store.ListCommissions(ctx, partnerID, filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list commissions", err)
		return
	}

	items := make([]CommissionDTO, len(commissions))
	for i, c := range commissions {
		items[i] = toCommissionDTO(c)
	}

	writeJSON(w, http.StatusOK, CommissionListDTO{
		Items:  items,
		Total:  total,
		Limit:  filter.Limit,
		Offset: filter.Offset,
	})
}

const defaultPageSize = 50

func parseCommissionFilter(r *http.Request) (partner.CommissionFilter, error) {
	q := r.URL.Query()
	filter := partner.CommissionFilter{Limit: defaultPageSize}

	if s := q.Get("status"); s != "" {
		for _, v := range strings.Split(s, ",") {
			filter.Statuses = append(filter.Statuses, partner.CommissionStatus(strings.TrimSpace(v)))
		}
	}
	if s := q.Get("level"); s != "" {
		for _, v := range strings.Split(s, ",") {
			lvl, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return filter, err
			}
			filter.Levels = append(filter.Levels, lvl)
		}
	}
	if s := q.Get("from"); s != "" {
		t, err := time.Parse(timeFormat, s)
		if err != nil {
			return filter, err
		}
		filter.From = &t
	}
	if s := q.Get("to"); s != "" {
		t, err := time.Parse(timeFormat, s)
		if err != nil {
			return filter, err
		}
		filter.To = &t
	}
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return filter, err
		}
		filter.Limit = n
	}
	if s := q.Get("offset"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return filter, err
		}
		filter.Offset = n
	}
	return filter, nil
}

// =============================================================================
// BALANCE & WITHDRAWAL HANDLERS
// =============================================================================

// GetBalance returns the available withdrawal balance.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	partnerID := partner.UserID(chi.URLParam(r, "id"))

	available, err := h.ledger.AvailableBalance(r.Context(), partnerID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to compute balance", err)
		return
	}

	writeJSON(w, http.StatusOK, BalanceDTO{
		UserID:    string(partnerID),
		Available: available,
	})
}

// CreateWithdrawal submits a withdrawal request. Validation and insert run in
// one transaction, so the response either carries the created request or an
// error and nothing was written.
func (h *Handler) CreateWithdrawal(w http.ResponseWriter, r *http.Request) {
	var req CreateWithdrawalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	created, err := h.ledger.CreateWithdrawal(r.Context(), partner.WithdrawalSubmission{
		UserID:         partner.UserID(chi.URLParam(r, "id")),
		Amount:         req.Amount,
		Currency:       req.Currency,
		TaxStatus:      partner.TaxStatus(req.TaxStatus),
		PaymentDetails: req.PaymentDetails,
	})
	if err != nil {
		h.writeDomainError(w, "Failed to create withdrawal", err)
		return
	}

	writeJSON(w, http.StatusCreated, toWithdrawalDTO(*created))
}

// ListWithdrawals returns a partner's withdrawal history, newest first.
func (h *Handler) ListWithdrawals(w http.ResponseWriter, r *http.Request) {
	withdrawals, err := h.Store.ListWithdrawalsByUser(r.Context(), partner.UserID(chi.URLParam(r, "id")))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list withdrawals", err)
		return
	}

	dtos := make([]WithdrawalDTO, len(withdrawals))
	for i, wd := range withdrawals {
		dtos[i] = toWithdrawalDTO(wd)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// TAX HANDLERS
// =============================================================================

// PreviewTax returns the withholding breakdown for an amount without
// creating anything.
func (h *Handler) PreviewTax(w http.ResponseWriter, r *http.Request) {
	var req TaxPreviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	breakdown, err := h.taxes.ComputeTax(req.Amount, partner.TaxStatus(req.TaxStatus))
	if err != nil {
		h.writeDomainError(w, "Failed to compute tax", err)
		return
	}

	writeJSON(w, http.StatusOK, TaxPreviewDTO{
		TaxStatus: string(breakdown.Status),
		Rate:      breakdown.Rate,
		TaxAmount: breakdown.TaxAmount,
		NetAmount: breakdown.NetAmount,
	})
}

// =============================================================================
// AUDIT HANDLERS
// =============================================================================

// QueryAudit returns commission batch audit entries. Query parameters:
// transaction_id, purchaser_id, limit.
func (h *Handler) QueryAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := partner.AuditFilter{}

	if s := q.Get("transaction_id"); s != "" {
		id := partner.TransactionID(s)
		filter.TransactionID = &id
	}
	if s := q.Get("purchaser_id"); s != "" {
		id := partner.UserID(s)
		filter.PurchaserID = &id
	}
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid limit", err)
			return
		}
		filter.Limit = n
	}

	entries, err := h.Store.QueryAudit(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to query audit log", err)
		return
	}

	dtos := make([]AuditEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = AuditEntryDTO{
			ID:               e.ID,
			TransactionID:    string(e.TransactionID),
			PurchaserID:      string(e.PurchaserID),
			Amount:           e.Amount,
			CommissionsCount: e.CommissionsCount,
			CreatedAt:        e.CreatedAt.Format(timeFormat),
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

var validCommissionStatuses = map[partner.CommissionStatus]bool{
	partner.CommissionPending:  true,
	partner.CommissionApproved: true,
	partner.CommissionPaid:     true,
	partner.CommissionRejected: true,
}

// UpdateCommissionStatus advances a commission's lifecycle.
func (h *Handler) UpdateCommissionStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req UpdateCommissionStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	status := partner.CommissionStatus(req.Status)
	if !validCommissionStatuses[status] {
		writeError(w, http.StatusBadRequest, "Invalid commission status", nil)
		return
	}

	if err := h.Store.UpdateCommissionStatus(r.Context(), id, status); err != nil {
		h.writeDomainError(w, "Failed to update commission", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": req.Status})
}

var validWithdrawalStatuses = map[partner.WithdrawalStatus]bool{
	partner.WithdrawalPending:    true,
	partner.WithdrawalApproved:   true,
	partner.WithdrawalProcessing: true,
	partner.WithdrawalCompleted:  true,
	partner.WithdrawalRejected:   true,
}

// UpdateWithdrawalStatus advances a withdrawal's lifecycle.
func (h *Handler) UpdateWithdrawalStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req UpdateWithdrawalStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	status := partner.WithdrawalStatus(req.Status)
	if !validWithdrawalStatuses[status] {
		writeError(w, http.StatusBadRequest, "Invalid withdrawal status", nil)
		return
	}
	if status == partner.WithdrawalRejected && req.RejectionReason == "" {
		writeError(w, http.StatusBadRequest, "rejection_reason is required when rejecting", nil)
		return
	}

	if err := h.Store.UpdateWithdrawalStatus(r.Context(), id, status, req.RejectionReason); err != nil {
		h.writeDomainError(w, "Failed to update withdrawal", err)
		return
	}

	updated, err := h.Store.GetWithdrawal(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, "Failed to load withdrawal", err)
		return
	}
	writeJSON(w, http.StatusOK, toWithdrawalDTO(*updated))
}

// =============================================================================
// HELPERS
// =============================================================================

func toPartnerDTO(p partner.Partner) PartnerDTO {
	dto := PartnerDTO{
		ID:           string(p.ID),
		Name:         p.Name,
		ReferralCode: p.ReferralCode,
	}
	if !p.CreatedAt.IsZero() {
		dto.CreatedAt = p.CreatedAt.Format(timeFormat)
	}
	return dto
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps domain errors onto HTTP status codes.
func (h *Handler) writeDomainError(w http.ResponseWriter, message string, err error) {
	var balErr *partner.InsufficientBalanceError
	switch {
	case errors.As(err, &balErr):
		available := balErr.Available
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:     "Insufficient balance",
			Details:   err.Error(),
			Available: &available,
		})
	case errors.Is(err, partner.ErrAlreadyAttached) || errors.Is(err, partner.ErrDuplicateCommission):
		writeError(w, http.StatusConflict, message, err)
	case partner.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case partner.IsClientError(err):
		writeError(w, http.StatusBadRequest, message, err)
	default:
		writeError(w, http.StatusInternalServerError, message, err)
	}
}
