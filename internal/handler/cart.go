package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"storefront-checkout/internal/cart"
	"storefront-checkout/internal/model"
	"storefront-checkout/internal/session"
)

// cartResponse is the JSON shape of a cart.
type cartResponse struct {
	ID    string         `json:"id"`
	Items []lineResponse `json:"items"`
	Count int            `json:"count"`
	Total int64          `json:"total"`
}

type lineResponse struct {
	Key            string            `json:"key"`
	ProductID      int64             `json:"product_id"`
	Name           string            `json:"name"`
	VariantOptions map[string]string `json:"variant_options,omitempty"`
	UnitPrice      int64             `json:"unit_price"`
	Quantity       int               `json:"quantity"`
	LineTotal      int64             `json:"line_total"`
}

func newCartResponse(id string, c *cart.Cart) *cartResponse {
	resp := &cartResponse{ID: id, Items: []lineResponse{}, Count: c.Count(), Total: c.Total()}
	for _, item := range c.Items() {
		resp.Items = append(resp.Items, lineResponse{
			Key:            item.Key(),
			ProductID:      item.ProductID,
			Name:           item.Name,
			VariantOptions: item.VariantOptions,
			UnitPrice:      item.UnitPrice,
			Quantity:       item.Quantity,
			LineTotal:      item.LineTotal(),
		})
	}
	return resp
}

// addItemRequest is the body of POST /cart/items.
type addItemRequest struct {
	ProductID int64             `json:"product_id"`
	Quantity  int               `json:"quantity"`
	Options   map[string]string `json:"options,omitempty"`
}

type setQuantityRequest struct {
	Quantity int `json:"quantity"`
}

// cartID returns the cart resolved by the session middleware.
func cartID(r *http.Request) (string, error) {
	id := session.CartID(r.Context())
	if id == "" {
		return "", model.NewValidationError("session", "no cart id")
	}
	return id, nil
}

// handleGetCart returns the current cart.
// GET /cart
func (h *Handler) handleGetCart(w http.ResponseWriter, r *http.Request) {
	id, err := cartID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	c, err := h.carts.Load(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, newCartResponse(id, c))
}

// handleAddItem adds a product to the cart at the backend's current price.
// POST /cart/items
func (h *Handler) handleAddItem(w http.ResponseWriter, r *http.Request) {
	id, err := cartID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	var req addItemRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}

	c, err := h.addItem(r.Context(), id, req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, newCartResponse(id, c))
}

// addItem prices the product from the backend and merges it into the cart.
// Shared by the REST and MCP transports.
func (h *Handler) addItem(ctx context.Context, id string, req addItemRequest) (*cart.Cart, error) {
	if req.ProductID <= 0 {
		return nil, model.NewValidationError("product_id", "must be positive")
	}
	if req.Quantity < 1 {
		req.Quantity = 1
	}

	product, err := h.adapter.GetProduct(ctx, req.ProductID)
	if err != nil {
		return nil, err
	}
	if !product.Purchasable {
		return nil, model.NewValidationError("product_id", fmt.Sprintf("product %d is not purchasable", req.ProductID))
	}
	if !product.InStock {
		return nil, model.NewConflictError("OUT_OF_STOCK", fmt.Sprintf("%s is out of stock", product.Name))
	}

	h.logger.InfoContext(ctx, "adding to cart",
		slog.String("cart_id", id),
		slog.Int64("product_id", product.ID),
		slog.Int("quantity", req.Quantity),
	)

	return h.carts.Add(ctx, id, cart.Item{
		ProductID:      product.ID,
		Name:           product.Name,
		VariantOptions: req.Options,
		UnitPrice:      product.Price,
	}, req.Quantity)
}

// handleSetQuantity sets the quantity of one line; zero removes it.
// PUT /cart/items/{key}
func (h *Handler) handleSetQuantity(w http.ResponseWriter, r *http.Request) {
	id, err := cartID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	var req setQuantityRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}

	c, err := h.carts.SetQuantity(r.Context(), id, r.PathValue("key"), req.Quantity)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, newCartResponse(id, c))
}

// handleRemoveItem removes one line.
// DELETE /cart/items/{key}
func (h *Handler) handleRemoveItem(w http.ResponseWriter, r *http.Request) {
	id, err := cartID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	c, err := h.carts.Remove(r.Context(), id, r.PathValue("key"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, newCartResponse(id, c))
}

// handleClearCart empties the cart.
// DELETE /cart
func (h *Handler) handleClearCart(w http.ResponseWriter, r *http.Request) {
	id, err := cartID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.carts.Clear(r.Context(), id); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
