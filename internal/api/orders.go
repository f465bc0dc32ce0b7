package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/AnthonyGillesRudolfo/Payment-Reconciliation-Service/internal/authz"
	"github.com/AnthonyGillesRudolfo/Payment-Reconciliation-Service/internal/order"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

const ordersPrefix = "/api/orders/"

// OrderFinder is the read side of order.Store.
type OrderFinder interface {
	FindByReference(ctx context.Context, reference string) (order.Order, error)
}

// RegisterOrdersRoutes exposes GET /api/orders/{reference}, guarded by the
// "viewer" relation on order:{reference}.
func RegisterOrdersRoutes(mux *http.ServeMux, finder OrderFinder, az authz.Client, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	guard := authz.Require(az, logger, func(r *http.Request) (string, string) {
		reference := strings.TrimPrefix(r.URL.Path, ordersPrefix)
		if reference == "" || r.Method != http.MethodGet {
			return "", ""
		}
		return "order:" + reference, "viewer"
	})

	mux.Handle(ordersPrefix, otelhttp.NewHandler(WithCORS(guard(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handleGetOrder(finder, logger, w, r)
	}))), "orders"))
}

func handleGetOrder(finder OrderFinder, logger *zap.Logger, w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	reference := strings.TrimPrefix(r.URL.Path, ordersPrefix)
	if reference == "" || strings.Contains(reference, "/") {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "order reference required"})
		return
	}

	o, err := finder.FindByReference(r.Context(), reference)
	if errors.Is(err, order.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "order not found"})
		return
	}
	if err != nil {
		logger.Error("order lookup failed", zap.String("reference", reference), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "Internal server error"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"order": o})
}

// RegisterHealthRoutes mounts a liveness probe.
func RegisterHealthRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "healthy"})
	})
}
