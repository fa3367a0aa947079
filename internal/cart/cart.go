// Package cart implements the shopping-cart aggregate and the persisted cart service.
//
// A cart is a set of line items keyed by identity: product id plus the
// canonical serialization of the chosen variant options. Two items with the
// same key are the same logical line, so adding one merges quantities.
package cart

import (
	"net/url"
	"slices"
	"strconv"
)

// Item is a single cart line.
type Item struct {
	ProductID      int64             `json:"product_id"`
	Name           string            `json:"name"`
	VariantOptions map[string]string `json:"variant_options,omitempty"`
	UnitPrice      int64             `json:"unit_price"`
	Quantity       int               `json:"quantity"`
}

// Key returns the identity key of the item.
func (i Item) Key() string {
	return Key(i.ProductID, i.VariantOptions)
}

// LineTotal is unit price times quantity.
func (i Item) LineTotal() int64 {
	return i.UnitPrice * int64(i.Quantity)
}

// Key builds the identity key for a product and its variant options.
// url.Values.Encode sorts by option name, which makes the key independent of
// map iteration order: {size:M, color:red} and {color:red, size:M} collide.
func Key(productID int64, options map[string]string) string {
	base := url.Values{"p": {formatID(productID)}}.Encode()
	if len(options) == 0 {
		return base
	}
	values := make(url.Values, len(options))
	for name, value := range options {
		values.Set(name, value)
	}
	return base + "&" + values.Encode()
}

// Cart holds line items in insertion order with an index by identity key.
// The zero value is an empty cart ready to use.
type Cart struct {
	items []Item
	index map[string]int
}

// New builds a cart from previously persisted items, merging any duplicates.
func New(items []Item) *Cart {
	c := &Cart{}
	for _, item := range items {
		c.Add(item, item.Quantity)
	}
	return c
}

// Add merges qty units of item into the cart. A qty below 1 adds a single unit.
// The stored unit price and name are those of the first add for a key.
func (c *Cart) Add(item Item, qty int) {
	if qty < 1 {
		qty = 1
	}
	key := item.Key()
	if idx, ok := c.lookup(key); ok {
		c.items[idx].Quantity += qty
		return
	}

	item.Quantity = qty
	item.VariantOptions = cloneOptions(item.VariantOptions)
	if c.index == nil {
		c.index = make(map[string]int)
	}
	c.index[key] = len(c.items)
	c.items = append(c.items, item)
}

// SetQuantity replaces the quantity of the line with the given key.
// qty <= 0 removes the line. Unknown keys are ignored.
func (c *Cart) SetQuantity(key string, qty int) {
	if qty <= 0 {
		c.Remove(key)
		return
	}
	if idx, ok := c.lookup(key); ok {
		c.items[idx].Quantity = qty
	}
}

// Remove deletes the line with the given key. Unknown keys are ignored.
func (c *Cart) Remove(key string) {
	idx, ok := c.lookup(key)
	if !ok {
		return
	}
	c.items = slices.Delete(c.items, idx, idx+1)
	c.reindex()
}

// Clear empties the cart.
func (c *Cart) Clear() {
	c.items = nil
	c.index = nil
}

// Total is the sum of unit price times quantity over all lines.
func (c *Cart) Total() int64 {
	var total int64
	for _, item := range c.items {
		total += item.LineTotal()
	}
	return total
}

// Items returns a copy of the lines in insertion order.
func (c *Cart) Items() []Item {
	out := make([]Item, len(c.items))
	for i, item := range c.items {
		item.VariantOptions = cloneOptions(item.VariantOptions)
		out[i] = item
	}
	return out
}

// Get returns the line with the given key.
func (c *Cart) Get(key string) (Item, bool) {
	idx, ok := c.lookup(key)
	if !ok {
		return Item{}, false
	}
	return c.items[idx], true
}

// Len is the number of distinct lines.
func (c *Cart) Len() int {
	return len(c.items)
}

// Count is the number of units across all lines.
func (c *Cart) Count() int {
	n := 0
	for _, item := range c.items {
		n += item.Quantity
	}
	return n
}

// IsEmpty reports whether the cart has no lines.
func (c *Cart) IsEmpty() bool {
	return len(c.items) == 0
}

func (c *Cart) lookup(key string) (int, bool) {
	if c.index == nil {
		return 0, false
	}
	idx, ok := c.index[key]
	return idx, ok
}

func (c *Cart) reindex() {
	c.index = make(map[string]int, len(c.items))
	for i, item := range c.items {
		c.index[item.Key()] = i
	}
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}

func cloneOptions(options map[string]string) map[string]string {
	if len(options) == 0 {
		return nil
	}
	out := make(map[string]string, len(options))
	for k, v := range options {
		out[k] = v
	}
	return out
}
