package cart

import (
	"context"
	"fmt"
	"sync"
)

// Store persists cart lines by cart id.
// LoadItems returns an empty slice (not an error) for unknown ids.
type Store interface {
	LoadItems(ctx context.Context, cartID string) ([]Item, error)
	SaveItems(ctx context.Context, cartID string, items []Item) error
	DeleteCart(ctx context.Context, cartID string) error
}

// Service is the handle through which every component reads and mutates carts.
// Each mutation is load, apply, save under a single lock so concurrent
// requests for the same cart cannot lose updates.
type Service struct {
	store Store
	mu    sync.Mutex
}

// NewService creates a cart service backed by store.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// Load returns the current cart for id.
func (s *Service) Load(ctx context.Context, id string) (*Cart, error) {
	items, err := s.store.LoadItems(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("loading cart %s: %w", id, err)
	}
	return New(items), nil
}

// Add merges qty units of item into cart id.
func (s *Service) Add(ctx context.Context, id string, item Item, qty int) (*Cart, error) {
	return s.mutate(ctx, id, func(c *Cart) { c.Add(item, qty) })
}

// SetQuantity replaces the quantity of a line; qty <= 0 removes it.
func (s *Service) SetQuantity(ctx context.Context, id, key string, qty int) (*Cart, error) {
	return s.mutate(ctx, id, func(c *Cart) { c.SetQuantity(key, qty) })
}

// Remove deletes a line from cart id.
func (s *Service) Remove(ctx context.Context, id, key string) (*Cart, error) {
	return s.mutate(ctx, id, func(c *Cart) { c.Remove(key) })
}

// Clear empties cart id.
func (s *Service) Clear(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.DeleteCart(ctx, id); err != nil {
		return fmt.Errorf("clearing cart %s: %w", id, err)
	}
	return nil
}

func (s *Service) mutate(ctx context.Context, id string, apply func(*Cart)) (*Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	apply(c)
	if err := s.store.SaveItems(ctx, id, c.Items()); err != nil {
		return nil, fmt.Errorf("saving cart %s: %w", id, err)
	}
	return c, nil
}
