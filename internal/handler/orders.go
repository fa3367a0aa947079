package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"storefront-checkout/internal/model"
	"storefront-checkout/internal/reconcile"
)

// handleOrderEvents streams order status as Server-Sent Events until the
// order is paid and the client goes away, or the watch times out.
// GET /orders/{id}/events?key=...
func (h *Handler) handleOrderEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	orderID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || orderID <= 0 {
		h.writeError(w, model.NewValidationError("id", "must be a positive integer"))
		return
	}
	key := r.URL.Query().Get("key")
	if key == "" {
		h.writeError(w, model.NewValidationError("key", "order key required"))
		return
	}

	target := reconcile.Target{OrderID: orderID, OrderKey: key}
	if h.snapshots != nil {
		if snap, err := h.snapshots.Snapshot(ctx, orderID); err == nil {
			target.Total = snap.Total
		}
	}

	rc := http.NewResponseController(w)
	started := false
	emit := func(u reconcile.Update) {
		if !started {
			w.Header().Set("Content-Type", "text/event-stream")
			w.Header().Set("Cache-Control", "no-cache")
			w.Header().Set("Connection", "keep-alive")
			w.WriteHeader(http.StatusOK)
			started = true
		}
		data, err := json.Marshal(u)
		if err != nil {
			return
		}
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", u.State, data)
		if err := rc.Flush(); err != nil {
			h.logger.Debug("flushing order events", slog.String("error", err.Error()))
		}
	}

	state, err := h.reconciler.Run(ctx, target, emit)
	switch {
	case errors.Is(err, reconcile.ErrKeyMismatch):
		if !started {
			h.writeError(w, model.NewNotFoundError("order"))
		}
		return
	case err != nil && ctx.Err() == nil:
		h.logger.Warn("order watch ended",
			slog.Int64("order_id", orderID),
			slog.String("error", err.Error()),
		)
	}

	h.logger.Debug("order watch closed",
		slog.Int64("order_id", orderID),
		slog.String("state", string(state)),
	)
}
