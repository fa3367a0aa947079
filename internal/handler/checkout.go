package handler

import (
	"html/template"
	"log/slog"
	"net/http"
	"slices"

	"storefront-checkout/internal/checkout"
	"storefront-checkout/internal/model"
	"storefront-checkout/internal/pricing"
)

// checkoutResponse is a session plus what the client needs to render it.
type checkoutResponse struct {
	checkout.View
	ShippingOptions []pricing.ShippingOption `json:"shipping_options"`
	Gateways        []string                 `json:"gateways"`
}

type selectShippingRequest struct {
	OptionID string `json:"option_id"`
}

type stepRequest struct {
	Step string `json:"step"`
}

type submitRequest struct {
	Gateway string `json:"gateway"`
}

func (h *Handler) checkoutResponse(v checkout.View) *checkoutResponse {
	gateways := h.checkouts.Gateways()
	slices.Sort(gateways)
	return &checkoutResponse{
		View:            v,
		ShippingOptions: h.catalog.Options(),
		Gateways:        gateways,
	}
}

// handleGetCheckout returns the checkout session for the cart.
// GET /checkout
func (h *Handler) handleGetCheckout(w http.ResponseWriter, r *http.Request) {
	id, err := cartID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.checkoutResponse(h.checkouts.Get(id)))
}

// handleSetContact replaces the contact record.
// PUT /checkout/contact
func (h *Handler) handleSetContact(w http.ResponseWriter, r *http.Request) {
	id, err := cartID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	var contact checkout.Contact
	if err := decodeJSON(r, &contact); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.checkoutResponse(h.checkouts.SetContact(id, contact)))
}

// handleSelectShipping selects a shipping option.
// PUT /checkout/shipping
func (h *Handler) handleSelectShipping(w http.ResponseWriter, r *http.Request) {
	id, err := cartID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	var req selectShippingRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	v, err := h.checkouts.SelectShipping(id, req.OptionID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.checkoutResponse(v))
}

// handleGoTo moves the session to another step.
// POST /checkout/step
func (h *Handler) handleGoTo(w http.ResponseWriter, r *http.Request) {
	id, err := cartID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	var req stepRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	step, ok := checkout.ParseStep(req.Step)
	if !ok {
		h.writeError(w, model.NewValidationError("step", "must be information, shipping or payment"))
		return
	}
	v, err := h.checkouts.GoTo(id, step)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.checkoutResponse(v))
}

// handleQuote prices the cart with the selected shipping option.
// GET /checkout/quote
func (h *Handler) handleQuote(w http.ResponseWriter, r *http.Request) {
	id, err := cartID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	q, err := h.checkouts.Quote(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, q)
}

// handleSubmit opens a payment attempt.
// POST /checkout/submit
func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := cartID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	var req submitRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "submitting checkout",
		slog.String("checkout_id", id),
		slog.String("gateway", req.Gateway),
	)

	sub, err := h.checkouts.Submit(ctx, id, req.Gateway)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, sub)
}

// redirectPage posts the gateway fields from the browser. Token gateways
// refuse GET navigations carrying the token.
var redirectPage = template.Must(template.New("redirect").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Redirecting to payment</title></head>
<body onload="document.forms[0].submit()">
<form method="post" action="{{.URL}}">
{{range $name, $value := .Fields}}<input type="hidden" name="{{$name}}" value="{{$value}}">
{{end}}<noscript><button type="submit">Continue to payment</button></noscript>
</form>
</body>
</html>
`))

// handleRedirect sends the browser to the gateway of the open attempt.
// GET /checkout/redirect
func (h *Handler) handleRedirect(w http.ResponseWriter, r *http.Request) {
	id, err := cartID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	v := h.checkouts.Get(id)
	if v.Attempt == nil || v.Attempt.Status != checkout.AttemptAwaitingReturn || v.Attempt.Instruction == nil {
		h.writeError(w, model.NewNotFoundError("payment attempt"))
		return
	}

	instr := v.Attempt.Instruction
	if instr.Method != http.MethodPost {
		http.Redirect(w, r, instr.URL, http.StatusSeeOther)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if err := redirectPage.Execute(w, instr); err != nil {
		h.logger.Error("rendering redirect page", slog.String("error", err.Error()))
	}
}
