package checkout

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi"
	uuid "github.com/satori/go.uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cartfront/checkout-go/libs/requestutils"

	"github.com/cartfront/checkout-go/libs/clients/provider"
)

func testRouter(service *Service) chi.Router {
	r := chi.NewRouter()
	r.Mount("/v1", Router(service))
	return r
}

func doCheckout(t *testing.T, router chi.Router, key string, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("POST", "/v1/checkout", bytes.NewBufferString(body))
	if key != "" {
		req.Header.Set(requestutils.IdempotencyKeyHeaderKey, key)
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

const validCheckoutBody = `{"buyerId":"buyer-1","sellerId":"seller-1","amountCents":1299,"currency":"USD","buyerTrust":"trusted"}`

func TestCheckoutHandlerRequiresIdempotencyKey(t *testing.T) {
	router := testRouter(newTestService(newMockDatastore(), provider.NewSimulator()))

	rr := doCheckout(t, router, "", validCheckoutBody)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestCheckoutHandlerValidatesBody(t *testing.T) {
	router := testRouter(newTestService(newMockDatastore(), provider.NewSimulator()))

	// unknown trust tier
	rr := doCheckout(t, router, "key-1", `{"buyerId":"b","sellerId":"s","amountCents":10,"currency":"USD","buyerTrust":"vip"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	// negative amount
	rr = doCheckout(t, router, "key-2", `{"buyerId":"b","sellerId":"s","amountCents":-1,"currency":"USD","buyerTrust":"new"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	// malformed json
	rr = doCheckout(t, router, "key-3", `{"buyerId":`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestCheckoutHandlerSuccessAndReplay(t *testing.T) {
	router := testRouter(newTestService(newMockDatastore(), provider.NewSimulator(
		provider.SimResult{Status: provider.StatusSucceeded})))

	first := doCheckout(t, router, "key-1", validCheckoutBody)
	require.Equal(t, http.StatusOK, first.Code)

	var resp CheckoutResponse
	require.NoError(t, json.Unmarshal(first.Body.Bytes(), &resp))
	assert.Equal(t, OrderStatusPaid, resp.Status)
	assert.True(t, resp.ReadyToShip)

	// replay is byte for byte identical
	second := doCheckout(t, router, "key-1", validCheckoutBody)
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, first.Body.Bytes(), second.Body.Bytes())
}

func TestCheckoutHandlerKeyReuseConflicts(t *testing.T) {
	router := testRouter(newTestService(newMockDatastore(), provider.NewSimulator(
		provider.SimResult{Status: provider.StatusSucceeded})))

	first := doCheckout(t, router, "key-1", validCheckoutBody)
	require.Equal(t, http.StatusOK, first.Code)

	changed := doCheckout(t, router, "key-1",
		`{"buyerId":"buyer-1","sellerId":"seller-1","amountCents":1,"currency":"USD","buyerTrust":"trusted"}`)
	assert.Equal(t, http.StatusBadRequest, changed.Code)
}

func TestCheckoutHandlerRejectsUnsafeWith503(t *testing.T) {
	router := testRouter(newTestService(newMockDatastore(), provider.NewSimulator(
		provider.SimResult{Err: errors.New("connection refused")})))

	rr := doCheckout(t, router, "key-1",
		`{"buyerId":"b","sellerId":"s","amountCents":10,"currency":"USD","buyerTrust":"new"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestGetOrderHandler(t *testing.T) {
	ds := newMockDatastore()
	router := testRouter(newTestService(ds, provider.NewSimulator(
		provider.SimResult{Status: provider.StatusSucceeded})))

	first := doCheckout(t, router, "key-1", validCheckoutBody)
	require.Equal(t, http.StatusOK, first.Code)
	var resp CheckoutResponse
	require.NoError(t, json.Unmarshal(first.Body.Bytes(), &resp))

	req := httptest.NewRequest("GET", "/v1/orders/"+resp.OrderID.String(), nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	var order Order
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &order))
	assert.Equal(t, resp.OrderID, order.ID)
	assert.Equal(t, "buyer-1", order.BuyerID)

	// unknown order
	req = httptest.NewRequest("GET", "/v1/orders/"+uuid.NewV4().String(), nil)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	// not a uuid
	req = httptest.NewRequest("GET", "/v1/orders/not-a-uuid", nil)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestGetOrderTransactionsHandler(t *testing.T) {
	ds := newMockDatastore()
	router := testRouter(newTestService(ds, provider.NewSimulator(
		provider.SimResult{Status: provider.StatusSucceeded})))

	first := doCheckout(t, router, "key-1", validCheckoutBody)
	require.Equal(t, http.StatusOK, first.Code)
	var resp CheckoutResponse
	require.NoError(t, json.Unmarshal(first.Body.Bytes(), &resp))

	req := httptest.NewRequest("GET", "/v1/orders/"+resp.OrderID.String()+"/transactions", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	var body orderTransactionsResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Len(t, body.Transactions, 1)
	assert.Len(t, body.Transactions[0].Entries, 2)
	require.NotNil(t, body.Balance)
	assert.True(t, body.Balance.DebitsCents.Equal(body.Balance.CreditsCents))
}

func TestWebhookHandler(t *testing.T) {
	ds := newMockDatastore()
	router := testRouter(newTestService(ds, provider.NewSimulator(
		provider.SimResult{Status: provider.StatusSucceeded, Delay: time.Second})))

	first := doCheckout(t, router, "key-1", validCheckoutBody)
	require.Equal(t, http.StatusOK, first.Code)
	var resp CheckoutResponse
	require.NoError(t, json.Unmarshal(first.Body.Bytes(), &resp))
	require.Equal(t, OrderStatusPendingPayment, resp.Status)

	event := `{"eventId":"evt-1","orderId":"` + resp.OrderID.String() + `","outcome":"PAID"}`

	deliver := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest("POST", "/v1/webhooks/provider", bytes.NewBufferString(event))
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		return rr
	}

	rr := deliver()
	require.Equal(t, http.StatusOK, rr.Code)
	var whResp WebhookResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &whResp))
	assert.True(t, whResp.OK)
	assert.False(t, whResp.Duplicate)

	// second delivery still succeeds, marked duplicate
	rr = deliver()
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &whResp))
	assert.True(t, whResp.OK)
	assert.True(t, whResp.Duplicate)

	// bad outcome vocabulary
	req := httptest.NewRequest("POST", "/v1/webhooks/provider",
		bytes.NewBufferString(`{"eventId":"evt-2","orderId":"`+resp.OrderID.String()+`","outcome":"MAYBE"}`))
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}
