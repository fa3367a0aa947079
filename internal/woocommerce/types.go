// Package woocommerce implements the order backend adapter for WooCommerce
// stores using the REST API v3.
// All WooCommerce-specific types, transforms, and HTTP client logic live here.
package woocommerce

// === WooCommerce API Response Types ===

// WooOrder represents a WooCommerce REST v3 order.
type WooOrder struct {
	ID            int               `json:"id"`
	OrderKey      string            `json:"order_key"`
	Status        string            `json:"status"`
	Currency      string            `json:"currency"`
	Total         string            `json:"total"` // "145990.00" - string decimal
	ShippingTotal string            `json:"shipping_total"`
	Billing       WooAddress        `json:"billing"`
	LineItems     []WooLineItem     `json:"line_items"`
	ShippingLines []WooShippingLine `json:"shipping_lines,omitempty"`
	MetaData      []WooMeta         `json:"meta_data,omitempty"`
}

// WooLineItem represents an item on an order.
type WooLineItem struct {
	ID        int       `json:"id,omitempty"`
	ProductID int       `json:"product_id"`
	Name      string    `json:"name,omitempty"`
	Quantity  int       `json:"quantity"`
	Subtotal  string    `json:"subtotal,omitempty"`
	Total     string    `json:"total,omitempty"`
	MetaData  []WooMeta `json:"meta_data,omitempty"`
}

// WooShippingLine represents a shipping method applied to an order.
type WooShippingLine struct {
	MethodID    string `json:"method_id"`
	MethodTitle string `json:"method_title"`
	Total       string `json:"total"`
}

// WooAddress represents a WooCommerce billing or shipping address.
type WooAddress struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Address1  string `json:"address_1"`
	Address2  string `json:"address_2,omitempty"`
	City      string `json:"city"`
	State     string `json:"state"`
	Postcode  string `json:"postcode,omitempty"`
	Country   string `json:"country"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
}

// WooMeta represents a meta_data entry. Values written by plugins are not
// always strings, so Value is decoded loosely.
type WooMeta struct {
	ID    int         `json:"id,omitempty"`
	Key   string      `json:"key"`
	Value interface{} `json:"value"`
}

// WooProduct represents a catalog product.
type WooProduct struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	Price       string `json:"price"`
	Purchasable bool   `json:"purchasable"`
	StockStatus string `json:"stock_status"` // instock, outofstock, onbackorder
}

// === WooCommerce API Request Types ===

// WooOrderRequest is the body of POST /orders.
type WooOrderRequest struct {
	PaymentMethod      string            `json:"payment_method"`
	PaymentMethodTitle string            `json:"payment_method_title"`
	SetPaid            bool              `json:"set_paid"`
	Status             string            `json:"status"`
	Billing            WooAddress        `json:"billing"`
	Shipping           WooAddress        `json:"shipping"`
	LineItems          []WooLineItem     `json:"line_items"`
	ShippingLines      []WooShippingLine `json:"shipping_lines,omitempty"`
	MetaData           []WooMeta         `json:"meta_data,omitempty"`
}

// WooOrderUpdate is the body of PUT /orders/{id}.
type WooOrderUpdate struct {
	Status   string    `json:"status,omitempty"`
	MetaData []WooMeta `json:"meta_data,omitempty"`
}

// WooErrorResponse represents a WooCommerce API error.
type WooErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Data    struct {
		Status int `json:"status"`
	} `json:"data"`
}
