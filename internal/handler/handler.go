// Package handler provides the HTTP API of the storefront checkout service.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"storefront-checkout/internal/adapter"
	"storefront-checkout/internal/cart"
	"storefront-checkout/internal/checkout"
	"storefront-checkout/internal/metrics"
	"storefront-checkout/internal/model"
	"storefront-checkout/internal/payment"
	"storefront-checkout/internal/pricing"
	"storefront-checkout/internal/reconcile"
	"storefront-checkout/internal/returns"
	"storefront-checkout/internal/store"
)

// Config wires a Handler.
type Config struct {
	Backend     adapter.Adapter
	Carts       *cart.Service
	Checkouts   *checkout.Orchestrator
	Catalog     *pricing.Catalog
	Webpay      *returns.Webpay
	MercadoPago *returns.MercadoPago
	Reconciler  *reconcile.Reconciler
	Snapshots   returns.SnapshotReader
	Metrics     *metrics.Metrics

	// Ping reports storage health on /health. Optional.
	Ping func(ctx context.Context) error

	Logger *slog.Logger
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	adapter     adapter.Adapter
	carts       *cart.Service
	checkouts   *checkout.Orchestrator
	catalog     *pricing.Catalog
	webpay      *returns.Webpay
	mercadopago *returns.MercadoPago
	reconciler  *reconcile.Reconciler
	snapshots   returns.SnapshotReader
	metrics     *metrics.Metrics
	ping        func(ctx context.Context) error
	logger      *slog.Logger
}

// New creates a new Handler.
func New(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		adapter:     cfg.Backend,
		carts:       cfg.Carts,
		checkouts:   cfg.Checkouts,
		catalog:     cfg.Catalog,
		webpay:      cfg.Webpay,
		mercadopago: cfg.MercadoPago,
		reconciler:  cfg.Reconciler,
		snapshots:   cfg.Snapshots,
		metrics:     cfg.Metrics,
		ping:        cfg.Ping,
		logger:      logger,
	}
}

// RegisterRoutes registers all HTTP routes with the given ServeMux.
// Uses Go 1.22+ method routing patterns.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Cart
	mux.HandleFunc("GET /cart", h.handleGetCart)
	mux.HandleFunc("POST /cart/items", h.handleAddItem)
	mux.HandleFunc("PUT /cart/items/{key}", h.handleSetQuantity)
	mux.HandleFunc("DELETE /cart/items/{key}", h.handleRemoveItem)
	mux.HandleFunc("DELETE /cart", h.handleClearCart)

	// Checkout steps and submission
	mux.HandleFunc("GET /checkout", h.handleGetCheckout)
	mux.HandleFunc("PUT /checkout/contact", h.handleSetContact)
	mux.HandleFunc("PUT /checkout/shipping", h.handleSelectShipping)
	mux.HandleFunc("POST /checkout/step", h.handleGoTo)
	mux.HandleFunc("GET /checkout/quote", h.handleQuote)
	mux.HandleFunc("POST /checkout/submit", h.handleSubmit)
	mux.HandleFunc("GET /checkout/redirect", h.handleRedirect)

	// Gateway returns, only for configured gateways
	if h.webpay != nil {
		mux.HandleFunc("GET /payments/webpay/return", h.handleWebpayReturn)
		mux.HandleFunc("POST /payments/webpay/return", h.handleWebpayReturn)
	}
	if h.mercadopago != nil {
		mux.HandleFunc("GET /payments/mercadopago/{view}", h.handleMercadoPagoReturn)
	}

	// Post-payment status stream
	mux.HandleFunc("GET /orders/{id}/events", h.handleOrderEvents)

	// MCP transport - JSON-RPC endpoint using official MCP SDK
	mux.Handle("/mcp", h.NewMCPHandler())

	if h.metrics != nil {
		mux.Handle("GET /metrics", h.metrics.Handler())
	}

	// Health check
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("GET /healthz", h.handleHealth)
}

// handleHealth returns a simple health check response.
// GET /health, GET /healthz
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if h.ping != nil {
		if err := h.ping(r.Context()); err != nil {
			h.logger.Error("health check failed", slog.String("error", err.Error()))
			h.writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unavailable"})
			return
		}
	}
	h.writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}

type healthResponse struct {
	Status string `json:"status"`
}

// === Response Helpers ===

// writeJSON sends a JSON response with the given status code.
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// writeError sends an error response, extracting status/code from the
// error chain.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	apiErr := h.apiError(err)
	h.writeJSON(w, apiErr.StatusCode, errorResponse{
		Error: errorBody{
			Code:      apiErr.Code,
			Message:   apiErr.Message,
			Retryable: apiErr.Retryable,
		},
	})
}

// apiError maps an error chain to the API error the client sees.
// Payment outcomes are checked before APIError because gateway clients wrap
// their upstream APIError inside a network failure.
func (h *Handler) apiError(err error) *model.APIError {
	var apiErr *model.APIError
	var decline *payment.DeclineError

	switch {
	case errors.Is(err, checkout.ErrAlreadyProcessing):
		return model.NewConflictError("CHECKOUT_PROCESSING", "a payment for this checkout is already in progress")
	case errors.Is(err, payment.ErrUserCancelled):
		return model.NewPaymentError("PAYMENT_CANCELLED", "the payment was cancelled")
	case errors.As(err, &decline):
		return model.NewPaymentError("PAYMENT_DECLINED", decline.Reason)
	case errors.Is(err, payment.ErrGatewayDeclined):
		return model.NewPaymentError("PAYMENT_DECLINED", "the payment was declined")
	case errors.Is(err, payment.ErrMissingCredential):
		return &model.APIError{
			Code:       "MISSING_CREDENTIAL",
			Message:    "the payment return carries no token",
			StatusCode: http.StatusBadRequest,
			Err:        model.ErrInvalidRequest,
		}
	case errors.Is(err, payment.ErrNetworkFailure):
		h.logger.Warn("payment gateway failure", slog.String("error", err.Error()))
		return model.NewUpstreamError("payment gateway", err)
	case errors.Is(err, payment.ErrAlreadyConfirmed):
		return model.NewConflictError("PAYMENT_ALREADY_CONFIRMED", "this payment was already confirmed")
	case errors.Is(err, payment.ErrAmountMismatch):
		return model.NewConflictError("AMOUNT_MISMATCH", "the confirmed amount does not match the order")
	case errors.Is(err, store.ErrSnapshotNotFound):
		return model.NewNotFoundError("order")
	case errors.As(err, &apiErr):
		return apiErr
	default:
		h.logger.Error("internal error", slog.String("error", err.Error()))
		return model.NewInternalError(err)
	}
}

// errorResponse is the JSON structure for error responses.
type errorResponse struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}

// MaxRequestBodySize limits JSON request bodies to 1MB to prevent DoS.
const MaxRequestBodySize = 1 << 20 // 1MB

// decodeJSON reads JSON from request body into v.
// Limits body size to MaxRequestBodySize to prevent memory exhaustion.
// Returns an APIError if decoding fails.
func decodeJSON(r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(nil, r.Body, MaxRequestBodySize)

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		// Don't expose internal error details to client
		return model.NewValidationError("body", "invalid JSON")
	}
	return nil
}
