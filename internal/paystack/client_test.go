package paystack

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AnthonyGillesRudolfo/Payment-Reconciliation-Service/internal/metrics"
	"github.com/AnthonyGillesRudolfo/Payment-Reconciliation-Service/internal/order"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, opts ...ClientOption) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, "sk_test_secret", time.Second, append([]ClientOption{WithHTTPClient(srv.Client())}, opts...)...)
}

func TestFetchStatusSuccess(t *testing.T) {
	var gotPath, gotAuth string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{"status":true,"message":"Verification successful","data":{
			"status":"success","reference":"R 1","amount":5000,
			"metadata":{"user_id":"U","provider_name":"MTN","bundle_id":"B","recipient_number":"055"}}}`))
	})

	tx, err := c.FetchStatus(context.Background(), "R 1")
	require.NoError(t, err)
	assert.Equal(t, "/transaction/verify/R%201", gotPath)
	assert.Equal(t, "Bearer sk_test_secret", gotAuth)
	assert.True(t, tx.Paid())
	assert.Equal(t, "success", tx.ProviderStatus)
	assert.Equal(t, int64(5000), tx.Amount)
	assert.Equal(t, &order.Metadata{UserID: "U", ProviderName: "MTN", BundleID: "B", RecipientNumber: "055"}, tx.Metadata)
}

func TestFetchStatusMetadataAsString(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":true,"data":{"status":"success","amount":250,
			"metadata":"{\"user_id\":\"U\",\"bundle_id\":\"B\"}"}}`))
	})

	tx, err := c.FetchStatus(context.Background(), "R1")
	require.NoError(t, err)
	require.NotNil(t, tx.Metadata)
	assert.Equal(t, "U", tx.Metadata.UserID)
	assert.Equal(t, "B", tx.Metadata.BundleID)
	assert.Equal(t, int64(250), tx.Amount)
}

func TestFetchStatusNotSuccessful(t *testing.T) {
	bodies := map[string]string{
		"abandoned":      `{"status":true,"data":{"status":"abandoned","amount":5000}}`,
		"failed":         `{"status":true,"data":{"status":"failed"}}`,
		"envelope false": `{"status":false,"message":"Transaction reference not found"}`,
		"no data":        `{"status":true}`,
	}
	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(body))
			})
			tx, err := c.FetchStatus(context.Background(), "R1")
			require.NoError(t, err)
			assert.Equal(t, StatusFailure, tx.Status)
			assert.False(t, tx.Paid())
		})
	}
}

func TestFetchStatusUpstreamErrors(t *testing.T) {
	t.Run("non-2xx", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		})
		tx, err := c.FetchStatus(context.Background(), "R1")
		var upstream *UpstreamError
		require.ErrorAs(t, err, &upstream)
		assert.Equal(t, http.StatusBadGateway, upstream.StatusCode)
		assert.Equal(t, StatusUnknown, tx.Status)
		assert.False(t, tx.Paid())
	})

	t.Run("malformed body", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`<html>gateway</html>`))
		})
		tx, err := c.FetchStatus(context.Background(), "R1")
		var upstream *UpstreamError
		require.ErrorAs(t, err, &upstream)
		assert.Equal(t, StatusUnknown, tx.Status)
	})

	t.Run("transport failure", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		srv.Close()
		c := NewClient(srv.URL, "sk_test_secret", time.Second)
		tx, err := c.FetchStatus(context.Background(), "R1")
		var upstream *UpstreamError
		require.ErrorAs(t, err, &upstream)
		assert.Equal(t, StatusUnknown, tx.Status)
	})
}

func TestFetchStatusWithoutSecret(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))
	defer srv.Close()

	c := NewClient(srv.URL, "", time.Second)
	tx, err := c.FetchStatus(context.Background(), "R1")
	assert.True(t, errors.Is(err, ErrNotConfigured))
	assert.Equal(t, StatusUnknown, tx.Status)
	assert.False(t, called)
}

func TestFetchStatusRecordsDuration(t *testing.T) {
	m := metrics.New()
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":true,"data":{"status":"success","amount":1}}`))
	}, WithClientMetrics(m))

	_, err := c.FetchStatus(context.Background(), "R1")
	require.NoError(t, err)

	count, err := testutil.GatherAndCount(m.Registry(), "paystack_verify_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
