package handler

import (
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"storefront-checkout/internal/returns"
	"storefront-checkout/internal/session"
)

// returnResponse is a resolved gateway return. EventsURL is set when the
// order can be watched until the backend marks it paid.
type returnResponse struct {
	*returns.Outcome
	EventsURL string `json:"events_url,omitempty"`
}

type displayResponse struct {
	*returns.Display
	EventsURL string `json:"events_url,omitempty"`
}

// handleWebpayReturn resolves the browser's way back from Webpay. Webpay
// returns by POST form on success and by GET with TBK_* parameters on
// abandonment; both arrive here.
// GET|POST /payments/webpay/return
func (h *Handler) handleWebpayReturn(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)
	if err := r.ParseForm(); err != nil {
		h.logger.Warn("unreadable webpay return", slog.String("error", err.Error()))
	}

	out, err := h.webpay.Handle(r.Context(), r.Form)
	if err != nil {
		h.writeError(w, err)
		return
	}

	status := http.StatusOK
	if out.Err != nil && !out.Paid() {
		status = h.apiError(out.Err).StatusCode
	}

	resp := returnResponse{Outcome: out}
	if out.Paid() {
		resp.EventsURL = eventsURL(out.OrderID, out.OrderKey)
	}
	h.writeJSON(w, status, resp)
}

// handleMercadoPagoReturn renders one of the three fixed result views.
// GET /payments/mercadopago/{view}
func (h *Handler) handleMercadoPagoReturn(w http.ResponseWriter, r *http.Request) {
	view := r.PathValue("view")
	d, err := h.mercadopago.Handle(r.Context(), session.CartID(r.Context()), view, r.URL.Query())
	if err != nil {
		h.writeError(w, err)
		return
	}

	resp := displayResponse{Display: d}
	if d.Order != nil && view != returns.ViewFailure {
		resp.EventsURL = eventsURL(d.Order.OrderID, d.Order.OrderKey)
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func eventsURL(orderID int64, key string) string {
	u := url.URL{
		Path:     "/orders/" + strconv.FormatInt(orderID, 10) + "/events",
		RawQuery: url.Values{"key": {key}}.Encode(),
	}
	return u.String()
}
