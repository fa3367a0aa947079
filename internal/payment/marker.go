package payment

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrMarkerNotFound is returned when no pending marker matches.
	ErrMarkerNotFound = errors.New("pending order marker not found")
	// ErrDuplicateBuyOrder is returned by PutMarker when the buy order is taken.
	ErrDuplicateBuyOrder = errors.New("buy order already in use")
)

// Marker is the durable record written before the client leaves for the
// gateway. The return handler reads it back, possibly from a fresh process,
// to recover which order the payment belongs to.
type Marker struct {
	BuyOrder   string    `json:"buy_order"`
	OrderID    int64     `json:"order_id"`
	OrderKey   string    `json:"order_key"`
	Gateway    string    `json:"gateway"`
	Amount     int64     `json:"amount"`
	SessionID  string    `json:"session_id,omitempty"`
	CheckoutID string    `json:"checkout_id"`
	Token      string    `json:"token,omitempty"`
	CreatedAt  time.Time `json:"created_at"`

	// AuthorizedAt is set when the payment went through but the order is
	// still unpatched.
	AuthorizedAt time.Time `json:"authorized_at,omitempty"`
}

// MarkerStore persists markers keyed by buy order.
type MarkerStore interface {
	PutMarker(ctx context.Context, m Marker) error
	MarkerByBuyOrder(ctx context.Context, buyOrder string) (*Marker, error)
	MarkerByToken(ctx context.Context, token string) (*Marker, error)
	SetMarkerToken(ctx context.Context, buyOrder, token string) error
	MarkAuthorized(ctx context.Context, buyOrder string) error
	DeleteMarker(ctx context.Context, buyOrder string) error
}
