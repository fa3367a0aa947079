// Package adapter defines the narrow contract the checkout service uses to
// reach the merchant's order-management backend.
package adapter

import (
	"context"

	"storefront-checkout/internal/model"
)

// Adapter abstracts the external order backend. The backend owns orders
// and products; this service only creates orders, patches payment metadata
// onto them and reads their status.
//
// Implementations map platform errors onto model.APIError.
type Adapter interface {
	// GetProduct returns the catalog record used to price a cart line.
	GetProduct(ctx context.Context, id int64) (*model.Product, error)

	// CreateOrder places a pending order for the checkout being submitted.
	CreateOrder(ctx context.Context, req *model.NewOrder) (*model.Order, error)

	// GetOrder reads an order's current status and totals.
	GetOrder(ctx context.Context, id int64) (*model.Order, error)

	// UpdateOrder patches status and metadata onto an existing order.
	UpdateOrder(ctx context.Context, id int64, req *model.OrderUpdate) (*model.Order, error)
}
