package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/AnthonyGillesRudolfo/Payment-Reconciliation-Service/internal/metrics"
	"github.com/AnthonyGillesRudolfo/Payment-Reconciliation-Service/internal/order"
	"github.com/AnthonyGillesRudolfo/Payment-Reconciliation-Service/internal/paystack"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

// Oracle is the provider's authoritative transaction lookup.
type Oracle interface {
	FetchStatus(ctx context.Context, reference string) (paystack.Transaction, error)
}

// VerifyHandler confirms a client-reported payment against the provider and
// reconciles it. Client-supplied fields other than the reference are ignored.
type VerifyHandler struct {
	oracle     Oracle
	reconciler Reconciler
	logger     *zap.Logger
	metrics    *metrics.Metrics
}

func NewVerifyHandler(oracle Oracle, reconciler Reconciler, logger *zap.Logger, m *metrics.Metrics) *VerifyHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VerifyHandler{
		oracle:     oracle,
		reconciler: reconciler,
		logger:     logger.Named("verify"),
		metrics:    m,
	}
}

// RegisterVerifyRoutes mounts the client verification endpoint.
func RegisterVerifyRoutes(mux *http.ServeMux, h *VerifyHandler) {
	handler := otelhttp.NewHandler(WithCORS(h), "verify-payment")
	mux.Handle("/verify-payment", handler)
	mux.Handle("/api/payments/verify", handler)
}

type verifyRequest struct {
	Reference string `json:"reference"`
}

func (h *VerifyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req verifyRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		h.metrics.Verification("invalid")
		writeJSON(w, http.StatusBadRequest, map[string]any{"verified": false, "error": "Invalid request body"})
		return
	}
	reference := strings.TrimSpace(req.Reference)
	if reference == "" {
		h.metrics.Verification("invalid")
		writeJSON(w, http.StatusBadRequest, map[string]any{"verified": false, "error": "Missing payment reference"})
		return
	}

	log := h.logger.With(zap.String("reference", reference))

	tx, err := h.oracle.FetchStatus(r.Context(), reference)
	if errors.Is(err, paystack.ErrNotConfigured) {
		log.Error("paystack secret key not configured")
		h.metrics.Verification("error")
		writeJSON(w, http.StatusInternalServerError, map[string]any{"verified": false, "error": "Payment verification unavailable"})
		return
	}
	if err != nil || !tx.Paid() {
		if err != nil {
			log.Warn("paystack verification failed", zap.Error(err))
		} else {
			log.Info("payment not successful", zap.String("provider_status", tx.ProviderStatus))
		}
		h.metrics.Verification("not_verified")
		writeJSON(w, http.StatusBadRequest, map[string]any{"verified": false, "error": "Payment not successful"})
		return
	}

	// A paid order without owner and bundle data cannot be repaired by a later
	// webhook, so a success without metadata is not reconciled.
	if tx.Metadata == nil {
		log.Warn("paystack reported success without metadata")
		h.metrics.Verification("malformed")
		writeJSON(w, http.StatusBadRequest, map[string]any{"verified": false, "error": "Payment not successful"})
		return
	}
	res, err := h.reconciler.Reconcile(r.Context(), order.Input{
		Reference: reference,
		Metadata:  *tx.Metadata,
		Price:     order.PriceFromMinorUnits(tx.Amount),
		Source:    order.SourceVerify,
	})
	if err != nil {
		// The payment is confirmed; the webhook path can still complete the bookkeeping.
		log.Error("order reconciliation failed after verified payment", zap.Error(err))
		h.metrics.VerifyReconcileFailed()
	} else {
		log.Info("payment verified", zap.String("outcome", string(res.Outcome)))
	}

	h.metrics.Verification("verified")
	writeJSON(w, http.StatusOK, map[string]any{"verified": true, "reference": reference})
}
