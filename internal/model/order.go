package model

import "time"

// OrderStatus is the lifecycle status of an order in the external backend.
type OrderStatus string

const (
	OrderPending    OrderStatus = "pending"
	OrderOnHold     OrderStatus = "on-hold"
	OrderProcessing OrderStatus = "processing"
	OrderCompleted  OrderStatus = "completed"
	OrderCancelled  OrderStatus = "cancelled"
	OrderFailed     OrderStatus = "failed"
	OrderRefunded   OrderStatus = "refunded"
)

// IsPaid reports whether the status means the payment went through.
// Both "processing" and "completed" end post-redirect status polling.
func (s OrderStatus) IsPaid() bool {
	return s == OrderProcessing || s == OrderCompleted
}

// Order is the subset of the backend order record this service reads.
// The record is owned by the backend; the service only creates it and patches
// payment metadata onto it.
type Order struct {
	ID        int64           `json:"id"`
	Key       string          `json:"order_key"`
	Status    OrderStatus     `json:"status"`
	Total     int64           `json:"total"`
	Currency  string          `json:"currency"`
	LineItems []OrderLineItem `json:"line_items"`
	Billing   Address         `json:"billing"`
	Meta      []MetaData      `json:"meta_data,omitempty"`
}

// OrderLineItem is a purchased product line on an order.
type OrderLineItem struct {
	ProductID int64  `json:"product_id"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	Total     int64  `json:"total"`
}

// Address holds buyer contact and shipping data.
type Address struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
	Address1  string `json:"address_1"`
	Address2  string `json:"address_2,omitempty"`
	City      string `json:"city"`
	State     string `json:"state"`
	Postcode  string `json:"postcode,omitempty"`
	Country   string `json:"country"`
}

// MetaData is a key/value pair attached to an order.
type MetaData struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// OrderUpdate patches status and metadata on an existing order.
type OrderUpdate struct {
	Status   OrderStatus `json:"status,omitempty"`
	MetaData []MetaData  `json:"meta_data,omitempty"`
}

// NewOrder describes an order to place in the backend at checkout submission.
type NewOrder struct {
	PaymentMethod      string
	PaymentMethodTitle string
	Billing            Address
	LineItems          []NewOrderLine
	ShippingMethodID   string
	ShippingTitle      string
	ShippingTotal      int64
	MetaData           []MetaData
}

// NewOrderLine is a line item of a NewOrder.
// Variant options are attached as line metadata.
type NewOrderLine struct {
	ProductID int64
	Name      string
	Quantity  int
	UnitPrice int64
	Options   map[string]string
}

// Product is the catalog record used to price a cart line.
type Product struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Price       int64  `json:"price"`
	Purchasable bool   `json:"purchasable"`
	InStock     bool   `json:"in_stock"`
}

// OrderSnapshot is the display copy of an order taken at submission time.
// Result views read it instead of calling the backend.
type OrderSnapshot struct {
	OrderID      int64          `json:"order_id"`
	OrderKey     string         `json:"order_key"`
	Gateway      string         `json:"gateway"`
	Subtotal     int64          `json:"subtotal"`
	ShippingCost int64          `json:"shipping_cost"`
	Total        int64          `json:"total"`
	Currency     string         `json:"currency"`
	Lines        []SnapshotLine `json:"lines"`
	Email        string         `json:"email,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// SnapshotLine is one purchased line in an OrderSnapshot.
type SnapshotLine struct {
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	LineTotal int64  `json:"line_total"`
}

// PurchaseCompleted is the analytics event fired once an order is observed
// paid after the buyer returned from the gateway.
type PurchaseCompleted struct {
	OrderID    int64       `json:"order_id"`
	OrderKey   string      `json:"order_key"`
	Total      int64       `json:"total"`
	Currency   string      `json:"currency,omitempty"`
	Status     OrderStatus `json:"status"`
	Items      int         `json:"items"`
	ObservedAt time.Time   `json:"observed_at"`
}
