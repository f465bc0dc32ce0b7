package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AnthonyGillesRudolfo/Payment-Reconciliation-Service/internal/order"
	"github.com/AnthonyGillesRudolfo/Payment-Reconciliation-Service/internal/paystack"
	"github.com/AnthonyGillesRudolfo/Payment-Reconciliation-Service/internal/storage/memory"
)

const testSecret = "sk_test_secret"

// failingReconciler always reports a store failure.
type failingReconciler struct{ calls int }

func (f *failingReconciler) Reconcile(context.Context, order.Input) (order.Result, error) {
	f.calls++
	return order.Result{}, errors.New("reconcile R1 (insert): order store failure: connection refused")
}

const chargeSuccessBody = `{"event":"charge.success","data":{"reference":"R1","amount":5000,` +
	`"metadata":{"user_id":"U","provider_name":"MTN","bundle_id":"B","recipient_number":"0551234567"}}}`

func newWebhookFixture(t *testing.T) (*memory.Store, http.Handler) {
	t.Helper()
	store := memory.NewStore()
	mux := http.NewServeMux()
	RegisterWebhookRoutes(mux, NewWebhookHandler(testSecret, order.NewReconciler(store, nil), nil, nil))
	return store, mux
}

func postWebhook(h http.Handler, path, body, header, sig string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	if header != "" {
		req.Header.Set(header, sig)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestWebhookCreatesPaidOrder(t *testing.T) {
	store, h := newWebhookFixture(t)

	rec := postWebhook(h, "/webhook", chargeSuccessBody, paystack.SignatureHeader, paystack.Sign([]byte(chargeSuccessBody), []byte(testSecret)))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "R1", body["reference"])

	got, err := store.FindByReference(context.Background(), "R1")
	require.NoError(t, err)
	assert.Equal(t, order.StatusPaid, got.Status)
	assert.Equal(t, 50.0, got.Price)
	assert.Equal(t, "Paystack", got.PaymentNetwork)
	assert.Equal(t, "0551234567", got.RecipientNumber)
}

func TestWebhookRedeliveryIsIdempotent(t *testing.T) {
	store, h := newWebhookFixture(t)
	sig := paystack.Sign([]byte(chargeSuccessBody), []byte(testSecret))

	for i := 0; i < 3; i++ {
		rec := postWebhook(h, "/api/webhooks/paystack", chargeSuccessBody, paystack.SignatureHeader, sig)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	assert.Equal(t, 1, store.Count())
}

func TestWebhookAcceptsAlternateHeader(t *testing.T) {
	store, h := newWebhookFixture(t)
	rec := postWebhook(h, "/webhook", chargeSuccessBody, altSignatureHeader, paystack.Sign([]byte(chargeSuccessBody), []byte(testSecret)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, store.Count())
}

func TestWebhookIgnoresOtherEvents(t *testing.T) {
	store, h := newWebhookFixture(t)
	body := `{"event":"charge.failed","data":{"reference":"R1","amount":5000}}`

	rec := postWebhook(h, "/webhook", body, paystack.SignatureHeader, paystack.Sign([]byte(body), []byte(testSecret)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeBody(t, rec)["success"])
	assert.Zero(t, store.Count())
}

func TestWebhookRejections(t *testing.T) {
	signed := func(body string) string { return paystack.Sign([]byte(body), []byte(testSecret)) }
	noMetadata := `{"event":"charge.success","data":{"reference":"R1","amount":5000}}`
	noReference := `{"event":"charge.success","data":{"amount":5000,"metadata":{"user_id":"U"}}}`

	tests := []struct {
		name   string
		body   string
		header string
		sig    string
		status int
		errMsg string
	}{
		{name: "missing signature", body: chargeSuccessBody, status: http.StatusUnauthorized, errMsg: "Missing signature"},
		{name: "wrong signature", body: chargeSuccessBody, header: paystack.SignatureHeader, sig: "deadbeef", status: http.StatusUnauthorized, errMsg: "Invalid signature"},
		{name: "signed by other secret", body: chargeSuccessBody, header: paystack.SignatureHeader, sig: paystack.Sign([]byte(chargeSuccessBody), []byte("other")), status: http.StatusUnauthorized, errMsg: "Invalid signature"},
		{name: "malformed json", body: `{"event":`, header: paystack.SignatureHeader, sig: signed(`{"event":`), status: http.StatusBadRequest, errMsg: "Invalid payload"},
		{name: "missing metadata", body: noMetadata, header: paystack.SignatureHeader, sig: signed(noMetadata), status: http.StatusBadRequest, errMsg: "Missing reference or metadata"},
		{name: "missing reference", body: noReference, header: paystack.SignatureHeader, sig: signed(noReference), status: http.StatusBadRequest, errMsg: "Missing reference or metadata"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, h := newWebhookFixture(t)
			rec := postWebhook(h, "/webhook", tt.body, tt.header, tt.sig)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.errMsg, decodeBody(t, rec)["error"])
			assert.Zero(t, store.Count())
		})
	}
}

func TestWebhookTamperedBodyIsRejected(t *testing.T) {
	store, h := newWebhookFixture(t)
	sig := paystack.Sign([]byte(chargeSuccessBody), []byte(testSecret))
	tampered := bytes.Replace([]byte(chargeSuccessBody), []byte("5000"), []byte("5"), 1)

	rec := postWebhook(h, "/webhook", string(tampered), paystack.SignatureHeader, sig)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Zero(t, store.Count())
}

func TestWebhookWithoutSecretFailsClosed(t *testing.T) {
	rf := &failingReconciler{}
	mux := http.NewServeMux()
	RegisterWebhookRoutes(mux, NewWebhookHandler("", rf, nil, nil))

	rec := postWebhook(mux, "/webhook", chargeSuccessBody, paystack.SignatureHeader, paystack.Sign([]byte(chargeSuccessBody), nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Zero(t, rf.calls)
}

func TestWebhookStoreFailureReturns500(t *testing.T) {
	rf := &failingReconciler{}
	mux := http.NewServeMux()
	RegisterWebhookRoutes(mux, NewWebhookHandler(testSecret, rf, nil, nil))

	rec := postWebhook(mux, "/webhook", chargeSuccessBody, paystack.SignatureHeader, paystack.Sign([]byte(chargeSuccessBody), []byte(testSecret)))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "Internal server error", body["error"])
	assert.NotContains(t, rec.Body.String(), "connection refused")
	assert.Equal(t, 1, rf.calls)
}

func TestWebhookMethodAndPreflight(t *testing.T) {
	_, h := newWebhookFixture(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/webhook", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/webhook", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "content-type")
}
