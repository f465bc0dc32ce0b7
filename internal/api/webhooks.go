package api

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/AnthonyGillesRudolfo/Payment-Reconciliation-Service/internal/metrics"
	"github.com/AnthonyGillesRudolfo/Payment-Reconciliation-Service/internal/order"
	"github.com/AnthonyGillesRudolfo/Payment-Reconciliation-Service/internal/paystack"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

// altSignatureHeader is accepted when the provider-specific header is absent.
const altSignatureHeader = "x-provider-signature"

// Reconciler is the part of order.Reconciler the handlers depend on.
type Reconciler interface {
	Reconcile(ctx context.Context, in order.Input) (order.Result, error)
}

// WebhookHandler authenticates Paystack deliveries and reconciles successful charges.
type WebhookHandler struct {
	secret     []byte
	reconciler Reconciler
	logger     *zap.Logger
	metrics    *metrics.Metrics
}

func NewWebhookHandler(secret string, reconciler Reconciler, logger *zap.Logger, m *metrics.Metrics) *WebhookHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookHandler{
		secret:     []byte(secret),
		reconciler: reconciler,
		logger:     logger.Named("webhook"),
		metrics:    m,
	}
}

// RegisterWebhookRoutes mounts the payment webhook endpoint.
func RegisterWebhookRoutes(mux *http.ServeMux, h *WebhookHandler) {
	handler := otelhttp.NewHandler(WithCORS(h), "paystack-webhook")
	mux.Handle("/webhook", handler)
	mux.Handle("/api/webhooks/paystack", handler)
}

func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	signature := r.Header.Get(paystack.SignatureHeader)
	if signature == "" {
		signature = r.Header.Get(altSignatureHeader)
	}
	if signature == "" {
		h.metrics.WebhookEvent("", "unauthenticated")
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "Missing signature"})
		return
	}

	if len(h.secret) == 0 {
		h.logger.Error("webhook secret not configured")
		h.metrics.WebhookEvent("", "error")
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "Internal server error"})
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		h.logger.Warn("failed to read webhook body", zap.Error(err))
		h.metrics.WebhookEvent("", "invalid")
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Invalid payload"})
		return
	}

	// Verification runs on the raw wire bytes, before any decoding.
	if !paystack.VerifySignature(body, signature, h.secret) {
		h.logger.Warn("invalid webhook signature", zap.String("remote_addr", r.RemoteAddr))
		h.metrics.WebhookEvent("", "unauthenticated")
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "Invalid signature"})
		return
	}

	evt, err := paystack.ParseEvent(body)
	if err != nil {
		h.logger.Warn("malformed webhook payload", zap.Error(err))
		h.metrics.WebhookEvent("", "invalid")
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Invalid payload"})
		return
	}

	if evt.Type != paystack.EventChargeSuccess {
		h.logger.Debug("ignoring webhook event", zap.String("event", evt.Type))
		h.metrics.WebhookEvent(evt.Type, "ignored")
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
		return
	}

	charge := evt.Charge
	if charge == nil || charge.Reference == "" || charge.Metadata == nil {
		h.logger.Warn("charge.success without reference or metadata")
		h.metrics.WebhookEvent(evt.Type, "invalid")
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Missing reference or metadata"})
		return
	}

	res, err := h.reconciler.Reconcile(r.Context(), order.Input{
		Reference: charge.Reference,
		Metadata:  *charge.Metadata,
		Price:     order.PriceFromMinorUnits(charge.Amount),
		Source:    order.SourceWebhook,
	})
	if err != nil {
		h.logger.Error("webhook reconciliation failed",
			zap.String("reference", charge.Reference),
			zap.String("event", evt.Type),
			zap.Bool("store_failure", errors.Is(err, order.ErrStore)),
			zap.Error(err),
		)
		h.metrics.WebhookEvent(evt.Type, "error")
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "Internal server error"})
		return
	}

	h.logger.Info("webhook reconciled",
		zap.String("reference", charge.Reference),
		zap.String("outcome", string(res.Outcome)),
	)
	h.metrics.WebhookEvent(evt.Type, "ok")
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "reference": charge.Reference})
}
