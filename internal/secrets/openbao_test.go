package secrets

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openBaoServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/secret/data/reconciliation", r.URL.Path)
		assert.Equal(t, "root-token", r.Header.Get("X-Vault-Token"))
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func configure(t *testing.T, addr string) {
	t.Setenv("OPENBAO_ADDR", addr)
	t.Setenv("OPENBAO_TOKEN", "root-token")
	t.Setenv("OPENBAO_SECRET_PATH", "/reconciliation/")
	t.Setenv("OPENBAO_MOUNT", "")
	t.Setenv("OPENBAO_OVERRIDE", "")
}

func TestBootstrapDisabledWithoutConfig(t *testing.T) {
	t.Setenv("OPENBAO_ADDR", "")
	exported, err := Bootstrap(context.Background())
	require.NoError(t, err)
	assert.Empty(t, exported)
}

func TestBootstrapExportsMissingVariables(t *testing.T) {
	srv := openBaoServer(t, http.StatusOK, `{"data":{"data":{
		"PAYSTACK_SECRET_KEY":"sk_from_bao",
		"ORDER_DB_PORT":5433,
		"ORDER_DB_PASSWORD":"kept",
		"IGNORED":{"nested":true}
	}}}`)
	configure(t, srv.URL)
	t.Setenv("PAYSTACK_SECRET_KEY", "")
	os.Unsetenv("PAYSTACK_SECRET_KEY")
	t.Setenv("ORDER_DB_PORT", "")
	os.Unsetenv("ORDER_DB_PORT")
	t.Setenv("ORDER_DB_PASSWORD", "from-env")

	exported, err := Bootstrap(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"ORDER_DB_PORT", "PAYSTACK_SECRET_KEY"}, exported)
	assert.Equal(t, "sk_from_bao", os.Getenv("PAYSTACK_SECRET_KEY"))
	assert.Equal(t, "5433", os.Getenv("ORDER_DB_PORT"))
	assert.Equal(t, "from-env", os.Getenv("ORDER_DB_PASSWORD"))
}

func TestBootstrapOverride(t *testing.T) {
	srv := openBaoServer(t, http.StatusOK, `{"data":{"data":{"ORDER_DB_PASSWORD":"from-bao"}}}`)
	configure(t, srv.URL)
	t.Setenv("OPENBAO_OVERRIDE", "true")
	t.Setenv("ORDER_DB_PASSWORD", "from-env")

	_, err := Bootstrap(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "from-bao", os.Getenv("ORDER_DB_PASSWORD"))
}

func TestBootstrapErrors(t *testing.T) {
	t.Run("not found", func(t *testing.T) {
		srv := openBaoServer(t, http.StatusNotFound, `{}`)
		configure(t, srv.URL)
		_, err := Bootstrap(context.Background())
		assert.ErrorIs(t, err, ErrOpenBaoSecretNotFound)
	})

	t.Run("forbidden", func(t *testing.T) {
		srv := openBaoServer(t, http.StatusForbidden, `{}`)
		configure(t, srv.URL)
		_, err := Bootstrap(context.Background())
		assert.Error(t, err)
	})
}
