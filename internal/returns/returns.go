// Package returns handles the buyer's way back from a payment gateway.
//
// Webpay returns carry a single-use token that must be confirmed exactly
// once; everything the handler does afterwards hangs off the pending order
// marker written before the redirect. Mercado Pago returns are display only:
// that gateway confirms out of band.
package returns

import (
	"context"

	"storefront-checkout/internal/model"
	"storefront-checkout/internal/payment"
)

// Checkouts releases or ends the checkout session behind a return.
type Checkouts interface {
	Reopen(id string)
	Finish(id string)
}

// SnapshotReader loads the display copy of an order.
type SnapshotReader interface {
	Snapshot(ctx context.Context, orderID int64) (*model.OrderSnapshot, error)
}

// Status is the terminal state of one gateway return.
type Status string

const (
	StatusSuccess          Status = "success"
	StatusPending          Status = "pending"
	StatusCancelled        Status = "cancelled"
	StatusDeclined         Status = "declined"
	StatusAmountMismatch   Status = "amount_mismatch"
	StatusAlreadyConfirmed Status = "already_confirmed"
)

// Outcome is what a return resolved to.
type Outcome struct {
	Status     Status `json:"status"`
	Gateway    string `json:"gateway"`
	CheckoutID string `json:"-"`

	OrderID  int64  `json:"order_id,omitempty"`
	OrderKey string `json:"order_key,omitempty"`
	Total    int64  `json:"total,omitempty"`
	BuyOrder string `json:"buy_order,omitempty"`

	// Result is the confirmation, or the recorded one for a replayed token.
	Result *payment.Result `json:"result,omitempty"`
	// Reason is the display message for anything but success.
	Reason string `json:"reason,omitempty"`
	// OrderUpdated is false when the payment went through but patching the
	// backend order failed.
	OrderUpdated bool `json:"order_updated"`
	// PaymentType is the display label of the card payment type.
	PaymentType string `json:"payment_type,omitempty"`
	// GatewayStatus is the transaction state read from the gateway when the
	// ledger had no result to show.
	GatewayStatus string `json:"gateway_status,omitempty"`

	// Err is the taxonomy error behind a non-success status.
	Err error `json:"-"`
}

// Paid reports whether the outcome carries a verified payment for a known
// order, which is what the status reconciler needs to start.
func (o *Outcome) Paid() bool {
	if o.OrderID == 0 || o.Result == nil {
		return false
	}
	return o.Status == StatusSuccess || (o.Status == StatusAlreadyConfirmed && o.Result.Authorized)
}
