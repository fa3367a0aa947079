package returns

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"strconv"

	"storefront-checkout/internal/metrics"
	"storefront-checkout/internal/model"
	"storefront-checkout/internal/payment"
	"storefront-checkout/internal/store"
)

// Mercado Pago back_url views.
const (
	ViewSuccess = "success"
	ViewFailure = "failure"
	ViewPending = "pending"
)

// Display is everything a Mercado Pago result screen shows.
type Display struct {
	View              string               `json:"view"`
	Status            Status               `json:"status"`
	PaymentID         string               `json:"payment_id,omitempty"`
	PaymentStatus     string               `json:"payment_status,omitempty"`
	ExternalReference string               `json:"external_reference,omitempty"`
	OrderID           int64                `json:"order_id,omitempty"`
	Order             *model.OrderSnapshot `json:"order,omitempty"`
}

// MercadoPago renders Mercado Pago returns. It never mutates the order:
// the webhook sent to notification_url is the authoritative confirmation.
type MercadoPago struct {
	snapshots SnapshotReader
	checkouts Checkouts
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewMercadoPago creates the display handler.
func NewMercadoPago(snapshots SnapshotReader, checkouts Checkouts, m *metrics.Metrics, logger *slog.Logger) *MercadoPago {
	if logger == nil {
		logger = slog.Default()
	}
	return &MercadoPago{snapshots: snapshots, checkouts: checkouts, metrics: m, logger: logger}
}

// Handle builds the display for view from the back_url query. checkoutID is
// the buyer's session; a failure view reopens it so the buyer can retry.
func (h *MercadoPago) Handle(ctx context.Context, checkoutID, view string, params url.Values) (*Display, error) {
	var status Status
	switch view {
	case ViewSuccess:
		status = StatusSuccess
	case ViewPending:
		status = StatusPending
	case ViewFailure:
		status = StatusDeclined
	default:
		return nil, model.NewValidationError("view", "unknown result view "+strconv.Quote(view))
	}

	d := &Display{
		View:              view,
		Status:            status,
		PaymentID:         params.Get("payment_id"),
		PaymentStatus:     params.Get("status"),
		ExternalReference: params.Get("external_reference"),
	}

	if id, err := strconv.ParseInt(d.ExternalReference, 10, 64); err == nil && id > 0 {
		d.OrderID = id
		snap, err := h.snapshots.Snapshot(ctx, id)
		switch {
		case err == nil:
			d.Order = snap
		case errors.Is(err, store.ErrSnapshotNotFound):
			h.logger.Debug("no snapshot for returned order", slog.Int64("order_id", id))
		default:
			h.logger.Warn("loading order snapshot",
				slog.Int64("order_id", id),
				slog.String("error", err.Error()),
			)
		}
	}

	if checkoutID != "" {
		if view == ViewFailure {
			h.checkouts.Reopen(checkoutID)
		} else {
			h.checkouts.Finish(checkoutID)
		}
	}

	h.metrics.Return(payment.GatewayMercadoPago, view)
	h.logger.Info("mercado pago return",
		slog.String("view", view),
		slog.String("payment_id", d.PaymentID),
		slog.String("payment_status", d.PaymentStatus),
		slog.Int64("order_id", d.OrderID),
	)
	return d, nil
}
