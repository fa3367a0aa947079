package adapter

import (
	"context"

	"storefront-checkout/internal/model"
)

// Mock implements Adapter for testing.
// Each method can be configured via function fields.
type Mock struct {
	GetProductFunc  func(ctx context.Context, id int64) (*model.Product, error)
	CreateOrderFunc func(ctx context.Context, req *model.NewOrder) (*model.Order, error)
	GetOrderFunc    func(ctx context.Context, id int64) (*model.Order, error)
	UpdateOrderFunc func(ctx context.Context, id int64, req *model.OrderUpdate) (*model.Order, error)
}

// GetProduct calls the configured GetProductFunc or returns not found.
func (m *Mock) GetProduct(ctx context.Context, id int64) (*model.Product, error) {
	if m.GetProductFunc != nil {
		return m.GetProductFunc(ctx, id)
	}
	return nil, model.NewNotFoundError("product")
}

// CreateOrder calls the configured CreateOrderFunc or returns an error.
func (m *Mock) CreateOrder(ctx context.Context, req *model.NewOrder) (*model.Order, error) {
	if m.CreateOrderFunc != nil {
		return m.CreateOrderFunc(ctx, req)
	}
	return nil, model.NewInternalError(nil)
}

// GetOrder calls the configured GetOrderFunc or returns not found.
func (m *Mock) GetOrder(ctx context.Context, id int64) (*model.Order, error) {
	if m.GetOrderFunc != nil {
		return m.GetOrderFunc(ctx, id)
	}
	return nil, model.NewNotFoundError("order")
}

// UpdateOrder calls the configured UpdateOrderFunc or returns not found.
func (m *Mock) UpdateOrder(ctx context.Context, id int64, req *model.OrderUpdate) (*model.Order, error) {
	if m.UpdateOrderFunc != nil {
		return m.UpdateOrderFunc(ctx, id, req)
	}
	return nil, model.NewNotFoundError("order")
}

// Verify Mock implements Adapter interface at compile time.
var _ Adapter = (*Mock)(nil)
