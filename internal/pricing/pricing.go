// Package pricing computes checkout totals from a cart and a shipping option.
package pricing

import (
	"fmt"

	"storefront-checkout/internal/cart"
)

// DefaultFreeShippingThreshold is the subtotal (CLP) at or above which
// shipping is free.
const DefaultFreeShippingThreshold int64 = 150000

// ShippingOption is a selectable shipping method with a flat cost.
type ShippingOption struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	FlatCost int64  `json:"flat_cost"`
	Pickup   bool   `json:"pickup,omitempty"`
}

// Quote is the priced result for one cart and shipping option.
type Quote struct {
	Subtotal     int64 `json:"subtotal"`
	ShippingCost int64 `json:"shipping_cost"`
	Total        int64 `json:"total"`
	FreeShipping bool  `json:"free_shipping"`
}

// Price computes subtotal, effective shipping cost and total.
// Pickup, or a subtotal at or above threshold, makes shipping free.
// A nil option prices the cart without shipping.
func Price(c *cart.Cart, option *ShippingOption, threshold int64) Quote {
	return PriceSubtotal(c.Total(), option, threshold)
}

// PriceSubtotal applies the shipping rule to an already computed subtotal.
func PriceSubtotal(subtotal int64, option *ShippingOption, threshold int64) Quote {
	q := Quote{Subtotal: subtotal}
	if option == nil {
		q.Total = subtotal
		return q
	}

	if option.Pickup || subtotal >= threshold {
		q.FreeShipping = !option.Pickup
	} else {
		q.ShippingCost = option.FlatCost
	}
	q.Total = q.Subtotal + q.ShippingCost
	return q
}

// DefaultOptions are the shipping methods offered when none are configured.
func DefaultOptions() []ShippingOption {
	return []ShippingOption{
		{ID: "pickup", Name: "Retiro en tienda", FlatCost: 0, Pickup: true},
		{ID: "home-delivery", Name: "Despacho a domicilio", FlatCost: 5990},
	}
}

// Catalog resolves shipping options by id.
type Catalog struct {
	options   []ShippingOption
	threshold int64
}

// NewCatalog validates options and builds a catalog.
// A threshold of zero or less falls back to DefaultFreeShippingThreshold.
func NewCatalog(options []ShippingOption, threshold int64) (*Catalog, error) {
	if len(options) == 0 {
		options = DefaultOptions()
	}
	if threshold <= 0 {
		threshold = DefaultFreeShippingThreshold
	}

	seen := make(map[string]bool, len(options))
	for _, opt := range options {
		if opt.ID == "" {
			return nil, fmt.Errorf("shipping option %q has no id", opt.Name)
		}
		if opt.FlatCost < 0 {
			return nil, fmt.Errorf("shipping option %s has negative cost", opt.ID)
		}
		if seen[opt.ID] {
			return nil, fmt.Errorf("duplicate shipping option %s", opt.ID)
		}
		seen[opt.ID] = true
	}

	return &Catalog{
		options:   append([]ShippingOption(nil), options...),
		threshold: threshold,
	}, nil
}

// Lookup returns the option with the given id.
func (c *Catalog) Lookup(id string) (ShippingOption, bool) {
	for _, opt := range c.options {
		if opt.ID == id {
			return opt, true
		}
	}
	return ShippingOption{}, false
}

// Options lists the configured options.
func (c *Catalog) Options() []ShippingOption {
	return append([]ShippingOption(nil), c.options...)
}

// Threshold is the free-shipping subtotal.
func (c *Catalog) Threshold() int64 {
	return c.threshold
}

// Price prices c with the option identified by optionID.
// An empty optionID prices without shipping.
func (c *Catalog) Price(ct *cart.Cart, optionID string) (Quote, error) {
	if optionID == "" {
		return Price(ct, nil, c.threshold), nil
	}
	opt, ok := c.Lookup(optionID)
	if !ok {
		return Quote{}, fmt.Errorf("unknown shipping option %q", optionID)
	}
	return Price(ct, &opt, c.threshold), nil
}
