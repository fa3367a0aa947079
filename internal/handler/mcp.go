// MCP transport for the storefront using the official MCP Go SDK.
// Exposes cart, pricing and order status as tools so agents can shop on a
// buyer's behalf. Payment stays with the buyer's browser.
package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"storefront-checkout/internal/model"
	"storefront-checkout/internal/pricing"
)

// === MCP Tool Input/Output Types ===
// Agents carry no cookie, so every cart tool names its cart explicitly.

// GetCartInput is the input schema for get_cart.
type GetCartInput struct {
	CartID string `json:"cart_id" jsonschema:"cart UUID"`
}

// AddToCartInput is the input schema for add_to_cart.
type AddToCartInput struct {
	CartID    string            `json:"cart_id" jsonschema:"cart UUID"`
	ProductID int64             `json:"product_id" jsonschema:"backend product ID"`
	Quantity  int               `json:"quantity" jsonschema:"units to add"`
	Options   map[string]string `json:"options,omitempty" jsonschema:"variant options such as size or color"`
}

// SetCartQuantityInput is the input schema for set_cart_quantity.
type SetCartQuantityInput struct {
	CartID   string `json:"cart_id" jsonschema:"cart UUID"`
	Key      string `json:"key" jsonschema:"line key as returned by get_cart"`
	Quantity int    `json:"quantity" jsonschema:"new quantity, 0 removes the line"`
}

// GetQuoteInput is the input schema for get_quote.
type GetQuoteInput struct {
	CartID           string `json:"cart_id" jsonschema:"cart UUID"`
	ShippingOptionID string `json:"shipping_option_id,omitempty" jsonschema:"shipping option to price, defaults to the checkout selection"`
}

// GetOrderStatusInput is the input schema for get_order_status.
type GetOrderStatusInput struct {
	OrderID  int64  `json:"order_id" jsonschema:"backend order ID"`
	OrderKey string `json:"order_key" jsonschema:"order key returned at submission"`
}

// OrderStatusOutput is the result of get_order_status.
type OrderStatusOutput struct {
	OrderID int64             `json:"order_id"`
	Status  model.OrderStatus `json:"status"`
	Paid    bool              `json:"paid"`
	Total   int64             `json:"total"`
}

// NewMCPServer creates an MCP server with the storefront tools registered.
func (h *Handler) NewMCPServer() *mcp.Server {
	server := mcp.NewServer(
		&mcp.Implementation{
			Name:    "storefront-checkout",
			Version: "1.0.0",
		},
		&mcp.ServerOptions{
			Instructions: "Storefront cart tools. Build a cart, price it with shipping, " +
				"and follow an order after the buyer pays in the browser.",
		},
	)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_cart",
		Description: "Get the lines, unit count and total of a cart.",
	}, h.mcpGetCart)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "add_to_cart",
		Description: "Add a product to a cart at its current price. Same product and options merge into one line.",
	}, h.mcpAddToCart)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "set_cart_quantity",
		Description: "Set the quantity of a cart line. Zero removes it.",
	}, h.mcpSetCartQuantity)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_quote",
		Description: "Price a cart with a shipping option: subtotal, shipping cost and total.",
	}, h.mcpGetQuote)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_order_status",
		Description: "Get the backend status of a submitted order.",
	}, h.mcpGetOrderStatus)

	return server
}

// NewMCPHandler returns an HTTP handler for the MCP endpoint.
// Mount this at /mcp on your mux.
func (h *Handler) NewMCPHandler() http.Handler {
	server := h.NewMCPServer()
	return mcp.NewStreamableHTTPHandler(
		func(r *http.Request) *mcp.Server { return server },
		nil,
	)
}

// === Tool Handlers ===

func (h *Handler) mcpGetCart(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input GetCartInput,
) (*mcp.CallToolResult, *cartResponse, error) {
	if err := validCartID(input.CartID); err != nil {
		return nil, nil, err
	}
	c, err := h.carts.Load(ctx, input.CartID)
	if err != nil {
		return nil, nil, h.mcpError(err)
	}
	return nil, newCartResponse(input.CartID, c), nil
}

func (h *Handler) mcpAddToCart(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input AddToCartInput,
) (*mcp.CallToolResult, *cartResponse, error) {
	if err := validCartID(input.CartID); err != nil {
		return nil, nil, err
	}
	c, err := h.addItem(ctx, input.CartID, addItemRequest{
		ProductID: input.ProductID,
		Quantity:  input.Quantity,
		Options:   input.Options,
	})
	if err != nil {
		return nil, nil, h.mcpError(err)
	}
	return nil, newCartResponse(input.CartID, c), nil
}

func (h *Handler) mcpSetCartQuantity(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input SetCartQuantityInput,
) (*mcp.CallToolResult, *cartResponse, error) {
	if err := validCartID(input.CartID); err != nil {
		return nil, nil, err
	}
	if input.Key == "" {
		return nil, nil, fmt.Errorf("key is required")
	}
	c, err := h.carts.SetQuantity(ctx, input.CartID, input.Key, input.Quantity)
	if err != nil {
		return nil, nil, h.mcpError(err)
	}
	return nil, newCartResponse(input.CartID, c), nil
}

func (h *Handler) mcpGetQuote(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input GetQuoteInput,
) (*mcp.CallToolResult, *pricing.Quote, error) {
	if err := validCartID(input.CartID); err != nil {
		return nil, nil, err
	}

	var q pricing.Quote
	var err error
	if input.ShippingOptionID == "" {
		q, err = h.checkouts.Quote(ctx, input.CartID)
	} else {
		if _, ok := h.catalog.Lookup(input.ShippingOptionID); !ok {
			return nil, nil, h.mcpError(model.NewValidationError("shipping_option_id", "unknown option"))
		}
		c, loadErr := h.carts.Load(ctx, input.CartID)
		if loadErr != nil {
			return nil, nil, h.mcpError(loadErr)
		}
		q, err = h.catalog.Price(c, input.ShippingOptionID)
	}
	if err != nil {
		return nil, nil, h.mcpError(err)
	}
	return nil, &q, nil
}

func (h *Handler) mcpGetOrderStatus(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input GetOrderStatusInput,
) (*mcp.CallToolResult, *OrderStatusOutput, error) {
	if input.OrderID <= 0 || input.OrderKey == "" {
		return nil, nil, fmt.Errorf("order_id and order_key are required")
	}

	order, err := h.adapter.GetOrder(ctx, input.OrderID)
	if err != nil {
		return nil, nil, h.mcpError(err)
	}
	// An order key mismatch looks the same as a missing order.
	if order.Key != input.OrderKey {
		return nil, nil, h.mcpError(model.NewNotFoundError("order"))
	}

	return nil, &OrderStatusOutput{
		OrderID: order.ID,
		Status:  order.Status,
		Paid:    order.Status.IsPaid(),
		Total:   order.Total,
	}, nil
}

// mcpError converts domain errors to MCP-friendly errors.
func (h *Handler) mcpError(err error) error {
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		apiErr = h.apiError(err)
	}
	if apiErr.StatusCode >= http.StatusInternalServerError && apiErr.StatusCode != http.StatusBadGateway {
		// Don't leak internal error details
		return fmt.Errorf("internal error")
	}
	return fmt.Errorf("%s: %s", apiErr.Code, apiErr.Message)
}

func validCartID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("cart_id must be a UUID")
	}
	return nil
}
