package api

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AnthonyGillesRudolfo/Payment-Reconciliation-Service/internal/metrics"
	"github.com/AnthonyGillesRudolfo/Payment-Reconciliation-Service/internal/order"
	"github.com/AnthonyGillesRudolfo/Payment-Reconciliation-Service/internal/paystack"
	"github.com/AnthonyGillesRudolfo/Payment-Reconciliation-Service/internal/storage/memory"
)

type fakeOracle struct {
	tx    paystack.Transaction
	err   error
	calls []string
}

func (f *fakeOracle) FetchStatus(_ context.Context, reference string) (paystack.Transaction, error) {
	f.calls = append(f.calls, reference)
	tx := f.tx
	tx.Reference = reference
	return tx, f.err
}

func paidTransaction() paystack.Transaction {
	return paystack.Transaction{
		Status:         paystack.StatusSuccess,
		ProviderStatus: "success",
		Amount:         5000,
		Metadata: &order.Metadata{
			UserID:          "U",
			ProviderName:    "MTN",
			BundleID:        "B",
			RecipientNumber: "0551234567",
		},
	}
}

func postVerify(h http.Handler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/verify-payment", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func newVerifyFixture(oracle Oracle, rec Reconciler, m *metrics.Metrics) http.Handler {
	mux := http.NewServeMux()
	RegisterVerifyRoutes(mux, NewVerifyHandler(oracle, rec, nil, m))
	return mux
}

func TestVerifyReconcilesFromProviderData(t *testing.T) {
	store := memory.NewStore()
	oracle := &fakeOracle{tx: paidTransaction()}
	h := newVerifyFixture(oracle, order.NewReconciler(store, nil), nil)

	// Client-supplied price and metadata are ignored.
	rec := postVerify(h, `{"reference":"R1","price":1,"metadata":{"user_id":"attacker"}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["verified"])
	assert.Equal(t, "R1", body["reference"])

	got, err := store.FindByReference(context.Background(), "R1")
	require.NoError(t, err)
	assert.Equal(t, order.StatusPaid, got.Status)
	assert.Equal(t, 50.0, got.Price)
	assert.Equal(t, "U", got.UserID)
	assert.Equal(t, []string{"R1"}, oracle.calls)
}

func TestVerifyThenWebhookYieldsOneOrder(t *testing.T) {
	store := memory.NewStore()
	reconciler := order.NewReconciler(store, nil)
	mux := http.NewServeMux()
	RegisterVerifyRoutes(mux, NewVerifyHandler(&fakeOracle{tx: paidTransaction()}, reconciler, nil, nil))
	RegisterWebhookRoutes(mux, NewWebhookHandler(testSecret, reconciler, nil, nil))

	require.Equal(t, http.StatusOK, postVerify(mux, `{"reference":"R1"}`).Code)
	rec := postWebhook(mux, "/webhook", chargeSuccessBody, paystack.SignatureHeader, paystack.Sign([]byte(chargeSuccessBody), []byte(testSecret)))
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, 1, store.Count())
}

func TestVerifyNotSuccessful(t *testing.T) {
	tests := map[string]*fakeOracle{
		"provider failure": {tx: paystack.Transaction{Status: paystack.StatusFailure, ProviderStatus: "abandoned"}},
		"upstream error":   {tx: paystack.Transaction{Status: paystack.StatusUnknown}, err: &paystack.UpstreamError{StatusCode: 502}},
	}
	for name, oracle := range tests {
		t.Run(name, func(t *testing.T) {
			store := memory.NewStore()
			h := newVerifyFixture(oracle, order.NewReconciler(store, nil), nil)

			rec := postVerify(h, `{"reference":"R9"}`)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			body := decodeBody(t, rec)
			assert.Equal(t, false, body["verified"])
			assert.Equal(t, "Payment not successful", body["error"])
			assert.Zero(t, store.Count())
		})
	}
}

func TestVerifySuccessWithoutMetadataIsNotReconciled(t *testing.T) {
	store := memory.NewStore()
	reconciler := order.NewReconciler(store, nil)
	m := metrics.New()
	oracle := &fakeOracle{tx: paystack.Transaction{Status: paystack.StatusSuccess, ProviderStatus: "success", Amount: 5000}}
	mux := http.NewServeMux()
	RegisterVerifyRoutes(mux, NewVerifyHandler(oracle, reconciler, nil, m))
	RegisterWebhookRoutes(mux, NewWebhookHandler(testSecret, reconciler, nil, nil))

	rec := postVerify(mux, `{"reference":"R1"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, false, body["verified"])
	assert.Equal(t, "Payment not successful", body["error"])
	assert.Zero(t, store.Count())
	require.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(`
# HELP payment_verifications_total Client verification calls by result.
# TYPE payment_verifications_total counter
payment_verifications_total{result="malformed"} 1
`), "payment_verifications_total"))

	// The webhook still creates the order with its full metadata.
	rec = postWebhook(mux, "/webhook", chargeSuccessBody, paystack.SignatureHeader, paystack.Sign([]byte(chargeSuccessBody), []byte(testSecret)))
	require.Equal(t, http.StatusOK, rec.Code)
	got, err := store.FindByReference(context.Background(), "R1")
	require.NoError(t, err)
	assert.Equal(t, order.StatusPaid, got.Status)
	assert.NotEmpty(t, got.UserID)
	assert.NotEmpty(t, got.BundleID)
}

func TestVerifyBadRequests(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		errMsg string
	}{
		{name: "malformed json", body: `{"reference":`, errMsg: "Invalid request body"},
		{name: "missing reference", body: `{}`, errMsg: "Missing payment reference"},
		{name: "blank reference", body: `{"reference":"   "}`, errMsg: "Missing payment reference"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			oracle := &fakeOracle{tx: paidTransaction()}
			h := newVerifyFixture(oracle, order.NewReconciler(memory.NewStore(), nil), nil)

			rec := postVerify(h, tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.errMsg, decodeBody(t, rec)["error"])
			assert.Empty(t, oracle.calls)
		})
	}
}

func TestVerifyWithoutSecret(t *testing.T) {
	oracle := &fakeOracle{tx: paystack.Transaction{Status: paystack.StatusUnknown}, err: paystack.ErrNotConfigured}
	h := newVerifyFixture(oracle, order.NewReconciler(memory.NewStore(), nil), nil)

	rec := postVerify(h, `{"reference":"R1"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, false, decodeBody(t, rec)["verified"])
}

func TestVerifyReportsSuccessEvenWhenReconcileFails(t *testing.T) {
	m := metrics.New()
	rf := &failingReconciler{}
	h := newVerifyFixture(&fakeOracle{tx: paidTransaction()}, rf, m)

	rec := postVerify(h, `{"reference":"R1"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeBody(t, rec)["verified"])
	assert.Equal(t, 1, rf.calls)

	count, err := testutil.GatherAndCount(m.Registry(), "payment_verify_reconcile_failures_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestVerifyMethodAndPreflight(t *testing.T) {
	h := newVerifyFixture(&fakeOracle{}, order.NewReconciler(memory.NewStore(), nil), nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/payments/verify", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/api/payments/verify", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}
