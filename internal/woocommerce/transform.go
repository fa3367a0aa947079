package woocommerce

import (
	"fmt"
	"sort"
	"strconv"

	"storefront-checkout/internal/model"
)

// orderStatusMap translates WooCommerce order statuses to model statuses.
// checkout-draft is the Store API's pre-submission state; it reads as pending.
var orderStatusMap = map[string]model.OrderStatus{
	"checkout-draft": model.OrderPending,
	"pending":        model.OrderPending,
	"on-hold":        model.OrderOnHold,
	"processing":     model.OrderProcessing,
	"completed":      model.OrderCompleted,
	"cancelled":      model.OrderCancelled,
	"failed":         model.OrderFailed,
	"refunded":       model.OrderRefunded,
}

// MapOrderStatus converts a WooCommerce order status.
// Unknown statuses (custom plugin states) map to pending so they never end
// status polling early.
func MapOrderStatus(wcStatus string) model.OrderStatus {
	if status, ok := orderStatusMap[wcStatus]; ok {
		return status
	}
	return model.OrderPending
}

// OrderToModel converts a WooCommerce order.
func OrderToModel(o *WooOrder) *model.Order {
	order := &model.Order{
		ID:       int64(o.ID),
		Key:      o.OrderKey,
		Status:   MapOrderStatus(o.Status),
		Total:    model.ParseAmount(o.Total),
		Currency: o.Currency,
		Billing:  addressToModel(o.Billing),
	}
	for _, item := range o.LineItems {
		order.LineItems = append(order.LineItems, model.OrderLineItem{
			ProductID: int64(item.ProductID),
			Name:      item.Name,
			Quantity:  item.Quantity,
			Total:     model.ParseAmount(item.Total),
		})
	}
	for _, m := range o.MetaData {
		order.Meta = append(order.Meta, model.MetaData{Key: m.Key, Value: metaString(m.Value)})
	}
	return order
}

// ProductToModel converts a WooCommerce product.
func ProductToModel(p *WooProduct) *model.Product {
	return &model.Product{
		ID:          int64(p.ID),
		Name:        p.Name,
		Price:       model.ParseAmount(p.Price),
		Purchasable: p.Purchasable,
		InStock:     p.StockStatus != "outofstock",
	}
}

// BuildOrderRequest converts a new order into the REST create body.
// Orders are created pending and unpaid; payment metadata is patched on
// after the gateway confirms.
func BuildOrderRequest(req *model.NewOrder) *WooOrderRequest {
	addr := addressFromModel(req.Billing)
	wc := &WooOrderRequest{
		PaymentMethod:      req.PaymentMethod,
		PaymentMethodTitle: req.PaymentMethodTitle,
		Status:             string(model.OrderPending),
		Billing:            addr,
		Shipping:           addr,
		MetaData:           metaFromModel(req.MetaData),
	}
	// Shipping address carries no contact fields in WooCommerce.
	wc.Shipping.Email = ""
	wc.Shipping.Phone = ""

	for _, line := range req.LineItems {
		total := formatAmount(line.UnitPrice * int64(line.Quantity))
		wc.LineItems = append(wc.LineItems, WooLineItem{
			ProductID: int(line.ProductID),
			Quantity:  line.Quantity,
			Subtotal:  total,
			Total:     total,
			MetaData:  optionsToMeta(line.Options),
		})
	}
	if req.ShippingMethodID != "" {
		wc.ShippingLines = []WooShippingLine{{
			MethodID:    req.ShippingMethodID,
			MethodTitle: req.ShippingTitle,
			Total:       formatAmount(req.ShippingTotal),
		}}
	}
	return wc
}

// BuildOrderUpdate converts an order patch into the REST update body.
func BuildOrderUpdate(req *model.OrderUpdate) *WooOrderUpdate {
	return &WooOrderUpdate{
		Status:   string(req.Status),
		MetaData: metaFromModel(req.MetaData),
	}
}

func addressToModel(a WooAddress) model.Address {
	return model.Address{
		FirstName: a.FirstName,
		LastName:  a.LastName,
		Email:     a.Email,
		Phone:     a.Phone,
		Address1:  a.Address1,
		Address2:  a.Address2,
		City:      a.City,
		State:     a.State,
		Postcode:  a.Postcode,
		Country:   a.Country,
	}
}

func addressFromModel(a model.Address) WooAddress {
	return WooAddress{
		FirstName: a.FirstName,
		LastName:  a.LastName,
		Email:     a.Email,
		Phone:     a.Phone,
		Address1:  a.Address1,
		Address2:  a.Address2,
		City:      a.City,
		State:     a.State,
		Postcode:  a.Postcode,
		Country:   a.Country,
	}
}

func metaFromModel(meta []model.MetaData) []WooMeta {
	if len(meta) == 0 {
		return nil
	}
	out := make([]WooMeta, len(meta))
	for i, m := range meta {
		out[i] = WooMeta{Key: m.Key, Value: m.Value}
	}
	return out
}

// optionsToMeta renders variant options as line meta in name order.
func optionsToMeta(options map[string]string) []WooMeta {
	if len(options) == 0 {
		return nil
	}
	names := make([]string, 0, len(options))
	for name := range options {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]WooMeta, len(names))
	for i, name := range names {
		out[i] = WooMeta{Key: name, Value: options[name]}
	}
	return out
}

func metaString(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		return fmt.Sprint(val)
	}
}

// formatAmount renders whole units the way WooCommerce expects totals.
func formatAmount(amount int64) string {
	return strconv.FormatInt(amount, 10)
}
