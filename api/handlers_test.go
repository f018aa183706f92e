package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/partner-engine/api"
	"github.com/warp/partner-engine/partner"
	memstore "github.com/warp/partner-engine/partner/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestServer(t *testing.T) (*httptest.Server, *memstore.Memory) {
	t.Helper()
	store := memstore.NewMemory()
	handler := api.NewHandler(store, partner.DefaultConfig())
	srv := httptest.NewServer(api.NewRouter(handler))
	t.Cleanup(srv.Close)
	return srv, store
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, map[string]any) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	var decoded map[string]any
	json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func createPartner(t *testing.T, baseURL, id string) {
	t.Helper()
	resp, _ := doJSON(t, http.MethodPost, baseURL+"/api/partners", map[string]any{
		"id": id, "name": "Partner " + id, "referral_code": "code-" + id,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
}

func attachUnder(t *testing.T, baseURL, userID, referrerID string) {
	t.Helper()
	createPartner(t, baseURL, userID)
	resp, _ := doJSON(t, http.MethodPost, baseURL+"/api/partners/attach", map[string]any{
		"user_id": userID, "referrer_id": referrerID,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
}

func completePayment(t *testing.T, baseURL, txID, userID, amount string) map[string]any {
	t.Helper()
	resp, body := doJSON(t, http.MethodPost, baseURL+"/api/payments/completed", map[string]any{
		"transaction_id": txID, "user_id": userID, "amount": amount,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, "body: %v", body)
	return body
}

// =============================================================================
// PARTNER ENDPOINT TESTS
// =============================================================================

func TestAPI_PartnerCRUD(t *testing.T) {
	srv, _ := newTestServer(t)

	createPartner(t, srv.URL, "A")

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/partners/A", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "A", body["id"])
	assert.Equal(t, "code-A", body["referral_code"])

	resp, body = doJSON(t, http.MethodGet, srv.URL+"/api/partners/ghost", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.NotEmpty(t, body["error"])

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/partners", map[string]any{"name": "No ID"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_AttachByReferralCode(t *testing.T) {
	srv, store := newTestServer(t)

	createPartner(t, srv.URL, "A")
	createPartner(t, srv.URL, "B")

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/partners/attach", map[string]any{
		"user_id": "B", "referral_code": "code-A",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "A", body["referrer_id"])

	attached, err := store.IsAttached(context.Background(), "B")
	require.NoError(t, err)
	assert.True(t, attached)
}

func TestAPI_AttachErrors(t *testing.T) {
	srv, _ := newTestServer(t)

	createPartner(t, srv.URL, "A")
	attachUnder(t, srv.URL, "B", "A")

	// Unknown referral code
	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/partners/attach", map[string]any{
		"user_id": "C", "referral_code": "nope",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Unknown referrer id
	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/partners/attach", map[string]any{
		"user_id": "C", "referrer_id": "ghost",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Double attach
	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/partners/attach", map[string]any{
		"user_id": "B", "referrer_id": "A",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

// =============================================================================
// PAYMENT AND COMMISSION ENDPOINT TESTS
// =============================================================================

func TestAPI_PaymentFansOutCommissions(t *testing.T) {
	srv, _ := newTestServer(t)

	createPartner(t, srv.URL, "A")
	attachUnder(t, srv.URL, "B", "A")
	attachUnder(t, srv.URL, "C", "B")

	body := completePayment(t, srv.URL, "tx-1", "C", "10000")
	assert.Equal(t, float64(2), body["commissions_created"])

	// Redelivery creates nothing.
	body = completePayment(t, srv.URL, "tx-1", "C", "10000")
	assert.Equal(t, float64(0), body["commissions_created"])

	resp, list := doJSON(t, http.MethodGet, srv.URL+"/api/partners/B/commissions", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), list["total"])

	items := list["items"].([]any)
	require.Len(t, items, 1)
	first := items[0].(map[string]any)
	assert.Equal(t, "1000", first["amount"])
	assert.Equal(t, "pending", first["status"])
	assert.Equal(t, float64(1), first["level"])
}

func TestAPI_PaymentValidation(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/payments/completed", map[string]any{
		"transaction_id": "tx-1", "user_id": "A", "amount": "-5",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/payments/completed", map[string]any{
		"user_id": "A", "amount": "100",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_CommissionFilters(t *testing.T) {
	srv, _ := newTestServer(t)

	createPartner(t, srv.URL, "A")
	attachUnder(t, srv.URL, "B", "A")
	attachUnder(t, srv.URL, "C", "B")
	for i := 0; i < 3; i++ {
		completePayment(t, srv.URL, fmt.Sprintf("tx-%d", i), "C", "1000")
	}

	resp, list := doJSON(t, http.MethodGet,
		srv.URL+"/api/partners/A/commissions?level=2&limit=2", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(3), list["total"])
	assert.Len(t, list["items"].([]any), 2)

	resp, list = doJSON(t, http.MethodGet,
		srv.URL+"/api/partners/A/commissions?status=paid", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(0), list["total"])
}

// =============================================================================
// WITHDRAWAL ENDPOINT TESTS
// =============================================================================

// approveAllCommissions flips every commission of a partner to approved
// through the admin endpoint.
func approveAllCommissions(t *testing.T, baseURL, partnerID string) {
	t.Helper()
	resp, list := doJSON(t, http.MethodGet, baseURL+"/api/partners/"+partnerID+"/commissions", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	for _, item := range list["items"].([]any) {
		id := item.(map[string]any)["id"].(string)
		resp, _ := doJSON(t, http.MethodPut, baseURL+"/api/admin/commissions/"+id+"/status",
			map[string]any{"status": "approved"})
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}
}

func TestAPI_WithdrawalFlow(t *testing.T) {
	srv, _ := newTestServer(t)

	createPartner(t, srv.URL, "A")
	attachUnder(t, srv.URL, "B", "A")
	completePayment(t, srv.URL, "tx-1", "B", "10000") // A earns 1000 at level 1
	approveAllCommissions(t, srv.URL, "A")

	resp, balance := doJSON(t, http.MethodGet, srv.URL+"/api/partners/A/balance", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "1000", balance["available"])

	// Overdraft rejected with the available balance in the payload.
	resp, errBody := doJSON(t, http.MethodPost, srv.URL+"/api/partners/A/withdrawals",
		map[string]any{"amount": "1500", "tax_status": "individual"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "1000", errBody["available"])

	// Valid withdrawal with individual withholding.
	resp, w := doJSON(t, http.MethodPost, srv.URL+"/api/partners/A/withdrawals",
		map[string]any{"amount": "500", "tax_status": "individual"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "pending", w["status"])
	assert.Equal(t, "65", w["tax_amount"])
	assert.Equal(t, "435", w["net_amount"])

	resp, balance = doJSON(t, http.MethodGet, srv.URL+"/api/partners/A/balance", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "500", balance["available"])

	// Rejecting the withdrawal releases the funds.
	id := w["id"].(string)
	resp, rejected := doJSON(t, http.MethodPut, srv.URL+"/api/admin/withdrawals/"+id+"/status",
		map[string]any{"status": "rejected", "rejection_reason": "invalid details"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "rejected", rejected["status"])
	assert.Equal(t, "invalid details", rejected["rejection_reason"])

	resp, balance = doJSON(t, http.MethodGet, srv.URL+"/api/partners/A/balance", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "1000", balance["available"])
}

func TestAPI_RejectionRequiresReason(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, _ := doJSON(t, http.MethodPut, srv.URL+"/api/admin/withdrawals/w1/status",
		map[string]any{"status": "rejected"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodPut, srv.URL+"/api/admin/withdrawals/w1/status",
		map[string]any{"status": "teleported"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodPut, srv.URL+"/api/admin/withdrawals/w1/status",
		map[string]any{"status": "approved"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// =============================================================================
// DASHBOARD / TREE / LEVEL ENDPOINT TESTS
// =============================================================================

func TestAPI_Dashboard(t *testing.T) {
	srv, _ := newTestServer(t)

	createPartner(t, srv.URL, "A")
	attachUnder(t, srv.URL, "B", "A")
	attachUnder(t, srv.URL, "C", "B")
	completePayment(t, srv.URL, "tx-1", "C", "10000")

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/partners/A/dashboard", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, "A", body["partner_id"])
	assert.Equal(t, float64(1), body["direct_referrals"])
	assert.Equal(t, float64(2), body["team_size"])
	assert.Equal(t, "10000", body["team_volume"])
	assert.Equal(t, "500", body["pending_commissions"])
	assert.Equal(t, "0", body["available_balance"])

	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/api/partners/ghost/dashboard", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_Tree(t *testing.T) {
	srv, _ := newTestServer(t)

	createPartner(t, srv.URL, "A")
	attachUnder(t, srv.URL, "B", "A")
	attachUnder(t, srv.URL, "C", "B")

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/partners/A/tree?depth=1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), body["depth"])
	assert.Equal(t, float64(2), body["total_team_size"])

	referrals := body["referrals"].([]any)
	require.Len(t, referrals, 1)
	node := referrals[0].(map[string]any)
	assert.Equal(t, "B", node["user_id"])
	assert.Nil(t, node["referrals"], "depth 1 must not include grandchildren")

	// Out-of-range depth clamps instead of failing.
	resp, body = doJSON(t, http.MethodGet, srv.URL+"/api/partners/A/tree?depth=99", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(5), body["depth"])
}

func TestAPI_Levels(t *testing.T) {
	srv, _ := newTestServer(t)

	createPartner(t, srv.URL, "A")

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/partners/A/level", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), body["level"])
	assert.Equal(t, "Starter", body["name"])

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/levels", nil)
	require.NoError(t, err)
	listResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer listResp.Body.Close()
	require.Equal(t, http.StatusOK, listResp.StatusCode)

	var tiers []map[string]any
	require.NoError(t, json.NewDecoder(listResp.Body).Decode(&tiers))
	require.Len(t, tiers, 5)
	assert.Equal(t, "Bronze", tiers[1]["name"])
	assert.Equal(t, "0.05", tiers[1]["commission_rate"])
}

// =============================================================================
// TAX AND AUDIT ENDPOINT TESTS
// =============================================================================

func TestAPI_TaxPreview(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/tax/preview",
		map[string]any{"amount": "10000", "tax_status": "self_employed"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, "self_employed", body["tax_status"])
	assert.Equal(t, "400", body["tax_amount"])
	assert.Equal(t, "9600", body["net_amount"])

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/tax/preview",
		map[string]any{"amount": "-1", "tax_status": "individual"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_AuditQuery(t *testing.T) {
	srv, _ := newTestServer(t)

	createPartner(t, srv.URL, "A")
	attachUnder(t, srv.URL, "B", "A")
	completePayment(t, srv.URL, "tx-1", "B", "10000")
	completePayment(t, srv.URL, "tx-2", "B", "500")

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/audit?transaction_id=tx-1", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var entries []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "tx-1", entries[0]["transaction_id"])
	assert.Equal(t, "B", entries[0]["purchaser_user_id"])
	assert.Equal(t, float64(1), entries[0]["commissions_count"])
}
