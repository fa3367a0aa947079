// Package checkout implements the step state machine that takes a cart
// through contact details, shipping selection and payment submission.
//
// The orchestrator owns the per-checkout processing lock: it is the only
// guard against a double click opening two payment attempts for one cart.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"storefront-checkout/internal/adapter"
	"storefront-checkout/internal/cart"
	"storefront-checkout/internal/metrics"
	"storefront-checkout/internal/model"
	"storefront-checkout/internal/payment"
	"storefront-checkout/internal/pricing"
)

// ErrAlreadyProcessing is returned by Submit while an attempt holds the lock.
var ErrAlreadyProcessing = errors.New("checkout is already processing a payment")

const (
	// maxBuyOrderAttempts bounds buy order regeneration on marker collisions.
	maxBuyOrderAttempts = 3
	// buyOrderLen is the longest buy order Webpay accepts.
	buyOrderLen = 26
)

// SnapshotStore persists the display copy of submitted orders.
type SnapshotStore interface {
	PutSnapshot(ctx context.Context, snap *model.OrderSnapshot) error
}

// Config wires the orchestrator's collaborators.
type Config struct {
	Carts     *cart.Service
	Catalog   *pricing.Catalog
	Backend   adapter.Adapter
	Markers   payment.MarkerStore
	Snapshots SnapshotStore
	Gateways  []payment.Gateway
	Currency  string
	Country   string

	// ClearCartOnPreferenceRedirect empties the cart as soon as a
	// preference-style gateway hands back its redirect, before any
	// confirmation. Token gateways clear only after a verified payment.
	ClearCartOnPreferenceRedirect bool

	// AttemptTimeout releases a lock held by an attempt that never came
	// back from the gateway. Zero disables expiry.
	AttemptTimeout time.Duration

	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Orchestrator drives checkout sessions, one per cart id.
type Orchestrator struct {
	carts     *cart.Service
	catalog   *pricing.Catalog
	backend   adapter.Adapter
	markers   payment.MarkerStore
	snapshots SnapshotStore
	gateways  map[string]payment.Gateway
	currency  string
	country   string

	clearOnPreference bool
	attemptTimeout    time.Duration

	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
	newID   func() string

	mu       sync.Mutex
	sessions map[string]*session
}

// New creates an orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Carts == nil || cfg.Catalog == nil || cfg.Backend == nil || cfg.Markers == nil || cfg.Snapshots == nil {
		return nil, fmt.Errorf("checkout: carts, catalog, backend, markers and snapshots are required")
	}
	if len(cfg.Gateways) == 0 {
		return nil, fmt.Errorf("checkout: at least one payment gateway is required")
	}

	gateways := make(map[string]payment.Gateway, len(cfg.Gateways))
	for _, gw := range cfg.Gateways {
		gateways[gw.Name()] = gw
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	currency := cfg.Currency
	if currency == "" {
		currency = "CLP"
	}
	country := cfg.Country
	if country == "" {
		country = "CL"
	}

	return &Orchestrator{
		carts:             cfg.Carts,
		catalog:           cfg.Catalog,
		backend:           cfg.Backend,
		markers:           cfg.Markers,
		snapshots:         cfg.Snapshots,
		gateways:          gateways,
		currency:          currency,
		country:           country,
		clearOnPreference: cfg.ClearCartOnPreferenceRedirect,
		attemptTimeout:    cfg.AttemptTimeout,
		metrics:           cfg.Metrics,
		logger:            logger,
		now:               time.Now,
		newID:             uuid.NewString,
		sessions:          make(map[string]*session),
	}, nil
}

// Get returns the session for id, starting one at the information step.
func (o *Orchestrator) Get(id string) View {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sessionLocked(id).view()
}

// SetContact replaces the contact record. An incomplete record moves a
// session that was past the information step back to it.
func (o *Orchestrator) SetContact(id string, contact Contact) View {
	o.mu.Lock()
	defer o.mu.Unlock()

	s := o.sessionLocked(id)
	s.contact = contact
	if !contact.Complete() && s.step > StepInformation {
		s.step = StepInformation
	}
	s.updatedAt = o.now()
	return s.view()
}

// SelectShipping selects a shipping option by id.
func (o *Orchestrator) SelectShipping(id, optionID string) (View, error) {
	if _, ok := o.catalog.Lookup(optionID); !ok {
		return View{}, model.NewValidationError("shipping_option", fmt.Sprintf("unknown option %q", optionID))
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	s := o.sessionLocked(id)
	s.shippingOptionID = optionID
	s.updatedAt = o.now()
	return s.view(), nil
}

// GoTo moves the session to target. Moving back is always allowed; moving
// forward requires a complete contact record and, for payment, a selected
// shipping option.
func (o *Orchestrator) GoTo(id string, target Step) (View, error) {
	if target < StepInformation || target > StepPayment {
		return View{}, model.NewValidationError("step", "unknown step")
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	s := o.sessionLocked(id)
	if target > s.step {
		if missing := s.contact.Missing(); len(missing) > 0 {
			return s.view(), model.NewValidationError("contact", "missing "+strings.Join(missing, ", "))
		}
		if target == StepPayment && s.shippingOptionID == "" {
			return s.view(), model.NewValidationError("shipping_option", "select a shipping option first")
		}
	}
	s.step = target
	s.updatedAt = o.now()
	return s.view(), nil
}

// Quote prices the current cart with the selected shipping option.
func (o *Orchestrator) Quote(ctx context.Context, id string) (pricing.Quote, error) {
	o.mu.Lock()
	optionID := o.sessionLocked(id).shippingOptionID
	o.mu.Unlock()

	c, err := o.carts.Load(ctx, id)
	if err != nil {
		return pricing.Quote{}, err
	}
	return o.catalog.Price(c, optionID)
}

// Submission is the result of a successful Submit.
type Submission struct {
	Instruction *payment.Instruction `json:"instruction"`
	OrderID     int64                `json:"order_id"`
	OrderKey    string               `json:"order_key"`
	BuyOrder    string               `json:"buy_order"`
	Amount      int64                `json:"amount"`
	CartCleared bool                 `json:"cart_cleared"`
}

// Submit opens a payment attempt with the named gateway.
//
// A Submit while another attempt holds the lock returns ErrAlreadyProcessing
// without touching the backend or the gateway. On success the lock stays
// held until the gateway return releases it via Reopen or Finish. On failure
// the marker is removed, the lock released and the cart left intact.
func (o *Orchestrator) Submit(ctx context.Context, id, gatewayName string) (*Submission, error) {
	gw, ok := o.gateways[gatewayName]
	if !ok {
		return nil, model.NewValidationError("gateway", fmt.Sprintf("unknown gateway %q", gatewayName))
	}

	attempt, snapshot, err := o.lock(id, gw.Name())
	if err != nil {
		return nil, err
	}

	sub, err := o.submit(ctx, id, gw, attempt, snapshot)
	if err != nil {
		o.release(id, attempt)
		o.metrics.Submission(gw.Name(), "failed")
		o.logger.Warn("checkout submission failed",
			slog.String("checkout_id", id),
			slog.String("gateway", gw.Name()),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	o.metrics.Submission(gw.Name(), "redirect")
	return sub, nil
}

// lock takes the processing lock for id and returns the new attempt plus a
// copy of the session fields the submission needs.
func (o *Orchestrator) lock(id, gateway string) (*Attempt, session, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	s := o.sessionLocked(id)
	if s.processing && !o.expiredLocked(s) {
		o.metrics.Submission(gateway, "duplicate")
		return nil, session{}, ErrAlreadyProcessing
	}
	if s.step != StepPayment {
		return nil, session{}, model.NewValidationError("step", "checkout is not at the payment step")
	}
	if s.processing {
		o.logger.Warn("releasing expired payment attempt",
			slog.String("checkout_id", id),
			slog.String("buy_order", s.attempt.BuyOrder),
		)
	}

	attempt := &Attempt{Gateway: gateway, Status: AttemptCreating, CreatedAt: o.now()}
	s.processing = true
	s.attempt = attempt
	s.updatedAt = o.now()

	snapshot := *s
	if s.order != nil {
		order := *s.order
		snapshot.order = &order
	}
	return attempt, snapshot, nil
}

func (o *Orchestrator) expiredLocked(s *session) bool {
	if o.attemptTimeout <= 0 || s.attempt == nil || s.attempt.Status != AttemptAwaitingReturn {
		return false
	}
	return o.now().Sub(s.attempt.CreatedAt) > o.attemptTimeout
}

// release drops the lock if attempt still owns it.
func (o *Orchestrator) release(id string, attempt *Attempt) {
	o.mu.Lock()
	defer o.mu.Unlock()

	s, ok := o.sessions[id]
	if !ok || s.attempt != attempt {
		return
	}
	s.processing = false
	s.attempt = nil
	s.updatedAt = o.now()
}

func (o *Orchestrator) submit(ctx context.Context, id string, gw payment.Gateway, attempt *Attempt, s session) (*Submission, error) {
	c, err := o.carts.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.IsEmpty() {
		return nil, model.NewValidationError("cart", "cart is empty")
	}

	quote, err := o.catalog.Price(c, s.shippingOptionID)
	if err != nil {
		return nil, model.NewValidationError("shipping_option", err.Error())
	}
	option, _ := o.catalog.Lookup(s.shippingOptionID)

	order, err := o.placeOrder(ctx, id, gw, c, option, quote, s)
	if err != nil {
		return nil, err
	}

	lines := make([]model.SnapshotLine, 0, c.Len())
	for _, item := range c.Items() {
		lines = append(lines, model.SnapshotLine{Name: item.Name, Quantity: item.Quantity, LineTotal: item.LineTotal()})
	}
	if err := o.snapshots.PutSnapshot(ctx, &model.OrderSnapshot{
		OrderID:      order.ID,
		OrderKey:     order.Key,
		Gateway:      gw.Name(),
		Subtotal:     quote.Subtotal,
		ShippingCost: quote.ShippingCost,
		Total:        order.Total,
		Currency:     o.currency,
		Lines:        lines,
		Email:        s.contact.Email,
	}); err != nil {
		return nil, fmt.Errorf("storing order snapshot: %w", err)
	}

	confirmsByToken := payment.ConfirmsByToken(gw)
	marker := payment.Marker{
		OrderID:    order.ID,
		OrderKey:   order.Key,
		Gateway:    gw.Name(),
		Amount:     order.Total,
		CheckoutID: id,
		CreatedAt:  o.now(),
	}
	if confirmsByToken {
		marker.SessionID = o.newID()
	}
	if err := o.putMarker(ctx, &marker); err != nil {
		return nil, err
	}

	o.mu.Lock()
	attempt.BuyOrder = marker.BuyOrder
	attempt.SessionID = marker.SessionID
	attempt.Amount = marker.Amount
	o.mu.Unlock()

	instr, err := gw.CreateTransaction(ctx, payment.Order{
		OrderID:   order.ID,
		OrderKey:  order.Key,
		BuyOrder:  marker.BuyOrder,
		SessionID: marker.SessionID,
		Amount:    order.Total,
		Currency:  o.currency,
		Items:     gatewayItems(c, option, quote, order),
		Payer: payment.Payer{
			FirstName: s.contact.FirstName,
			LastName:  s.contact.LastName,
			Email:     s.contact.Email,
			Phone:     s.contact.Phone,
			Address:   s.contact.Address,
		},
	})
	if err != nil {
		if delErr := o.markers.DeleteMarker(context.WithoutCancel(ctx), marker.BuyOrder); delErr != nil {
			o.logger.Error("deleting marker after failed create",
				slog.String("buy_order", marker.BuyOrder),
				slog.String("error", delErr.Error()),
			)
		}
		if !errors.Is(err, payment.ErrNetworkFailure) {
			err = payment.NetworkError(gw.Name()+" create", err)
		}
		return nil, err
	}

	if instr.Token != "" {
		if err := o.markers.SetMarkerToken(ctx, marker.BuyOrder, instr.Token); err != nil {
			if delErr := o.markers.DeleteMarker(context.WithoutCancel(ctx), marker.BuyOrder); delErr != nil {
				o.logger.Error("deleting marker after failed token record",
					slog.String("buy_order", marker.BuyOrder),
					slog.String("error", delErr.Error()),
				)
			}
			return nil, fmt.Errorf("recording gateway token: %w", err)
		}
	}

	o.mu.Lock()
	attempt.Status = AttemptAwaitingReturn
	attempt.Instruction = instr
	o.mu.Unlock()

	sub := &Submission{
		Instruction: instr,
		OrderID:     order.ID,
		OrderKey:    order.Key,
		BuyOrder:    marker.BuyOrder,
		Amount:      order.Total,
	}

	if !confirmsByToken && o.clearOnPreference {
		// Preference payments confirm by webhook, so the cart is emptied
		// before anything is known about the outcome.
		if err := o.carts.Clear(ctx, id); err != nil {
			o.logger.Error("clearing cart at preference redirect",
				slog.String("checkout_id", id),
				slog.String("error", err.Error()),
			)
		} else {
			sub.CartCleared = true
			o.logger.Warn("cart cleared before payment confirmation",
				slog.String("checkout_id", id),
				slog.String("gateway", gw.Name()),
				slog.Int64("order_id", order.ID),
			)
		}
	}

	o.logger.Info("payment attempt created",
		slog.String("checkout_id", id),
		slog.String("gateway", gw.Name()),
		slog.String("buy_order", marker.BuyOrder),
		slog.Int64("order_id", order.ID),
		slog.Int64("amount", order.Total),
	)
	return sub, nil
}

// placeOrder reuses the order from an earlier attempt when nothing that
// went into it changed: lines, shipping, contact, total and gateway.
// Otherwise it creates a new pending order and cancels the abandoned one.
func (o *Orchestrator) placeOrder(ctx context.Context, id string, gw payment.Gateway, c *cart.Cart, option pricing.ShippingOption, quote pricing.Quote, s session) (*placedOrder, error) {
	fingerprint := orderFingerprint(c, s.shippingOptionID, s.contact)
	if prev := s.order; prev != nil {
		if prev.Fingerprint == fingerprint && prev.Total == quote.Total && prev.Gateway == gw.Name() {
			return prev, nil
		}
	}

	req := &model.NewOrder{
		PaymentMethod:      gw.Name(),
		PaymentMethodTitle: gatewayTitle(gw.Name()),
		Billing:            s.contact.toAddress(o.country),
		MetaData:           []model.MetaData{{Key: "_checkout_id", Value: id}},
	}
	for _, item := range c.Items() {
		req.LineItems = append(req.LineItems, model.NewOrderLine{
			ProductID: item.ProductID,
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			Options:   item.VariantOptions,
		})
	}
	if option.ID != "" {
		req.ShippingMethodID = option.ID
		req.ShippingTitle = option.Name
		req.ShippingTotal = quote.ShippingCost
	}

	created, err := o.backend.CreateOrder(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("creating order: %w", err)
	}

	total := created.Total
	if total <= 0 {
		total = quote.Total
	} else if total != quote.Total {
		o.logger.Warn("backend total differs from quote",
			slog.Int64("order_id", created.ID),
			slog.Int64("backend_total", total),
			slog.Int64("quote_total", quote.Total),
		)
	}

	placed := &placedOrder{
		ID:          created.ID,
		Key:         created.Key,
		Total:       total,
		Gateway:     gw.Name(),
		Fingerprint: fingerprint,
	}

	o.mu.Lock()
	if sess, ok := o.sessions[id]; ok {
		sess.order = placed
	}
	o.mu.Unlock()

	if s.order != nil {
		o.cancelOrder(ctx, s.order.ID, placed.ID)
	}
	return placed, nil
}

// cancelOrder marks an order superseded by a newer attempt as cancelled.
// Failure leaves a stale pending order behind, which the backend expires on
// its own, so it is only logged.
func (o *Orchestrator) cancelOrder(ctx context.Context, id, replacedBy int64) {
	_, err := o.backend.UpdateOrder(context.WithoutCancel(ctx), id, &model.OrderUpdate{
		Status:   model.OrderCancelled,
		MetaData: []model.MetaData{{Key: "_replaced_by_order", Value: strconv.FormatInt(replacedBy, 10)}},
	})
	if err != nil {
		o.logger.Warn("cancelling superseded order",
			slog.Int64("order_id", id),
			slog.Int64("replaced_by", replacedBy),
			slog.String("error", err.Error()),
		)
		return
	}
	o.logger.Info("superseded order cancelled",
		slog.Int64("order_id", id),
		slog.Int64("replaced_by", replacedBy),
	)
}

// putMarker writes the marker under a fresh buy order, regenerating on
// collision.
func (o *Orchestrator) putMarker(ctx context.Context, m *payment.Marker) error {
	for i := 0; i < maxBuyOrderAttempts; i++ {
		m.BuyOrder = newBuyOrder(o.newID())
		err := o.markers.PutMarker(ctx, *m)
		if err == nil {
			return nil
		}
		if !errors.Is(err, payment.ErrDuplicateBuyOrder) {
			return fmt.Errorf("writing pending order marker: %w", err)
		}
		o.logger.Warn("buy order collision, regenerating", slog.String("buy_order", m.BuyOrder))
	}
	return fmt.Errorf("writing pending order marker: %w", payment.ErrDuplicateBuyOrder)
}

// Reopen releases the lock after a cancelled or declined return so the
// buyer can submit again. The placed order is kept for reuse.
func (o *Orchestrator) Reopen(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	s, ok := o.sessions[id]
	if !ok {
		return
	}
	s.processing = false
	s.attempt = nil
	s.step = StepPayment
	s.updatedAt = o.now()
}

// Finish ends the session after a verified payment.
func (o *Orchestrator) Finish(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.sessions, id)
}

// Gateways lists the configured gateway names.
func (o *Orchestrator) Gateways() []string {
	names := make([]string, 0, len(o.gateways))
	for name := range o.gateways {
		names = append(names, name)
	}
	return names
}

func (o *Orchestrator) sessionLocked(id string) *session {
	s, ok := o.sessions[id]
	if !ok {
		s = &session{id: id, step: StepInformation, updatedAt: o.now()}
		o.sessions[id] = s
	}
	return s
}

// newBuyOrder derives a buy order from a uuid: "BO" plus 24 hex digits,
// exactly the 26 characters Webpay allows.
func newBuyOrder(id string) string {
	hex := strings.ReplaceAll(id, "-", "")
	if n := buyOrderLen - 2; len(hex) > n {
		hex = hex[:n]
	}
	return "BO" + hex
}

// gatewayItems lists the cart lines, plus shipping when charged, for
// gateways that display an itemized order. The items always add up to the
// order total: when the backend priced the order differently from the
// quote, a single line for the whole order replaces the itemization.
func gatewayItems(c *cart.Cart, option pricing.ShippingOption, quote pricing.Quote, order *placedOrder) []payment.Item {
	items := make([]payment.Item, 0, c.Len()+1)
	var sum int64
	for _, item := range c.Items() {
		items = append(items, payment.Item{Title: item.Name, Quantity: item.Quantity, UnitPrice: item.UnitPrice})
		sum += item.LineTotal()
	}
	if quote.ShippingCost > 0 {
		items = append(items, payment.Item{Title: option.Name, Quantity: 1, UnitPrice: quote.ShippingCost})
		sum += quote.ShippingCost
	}
	if sum != order.Total {
		return []payment.Item{{Title: fmt.Sprintf("Pedido #%d", order.ID), Quantity: 1, UnitPrice: order.Total}}
	}
	return items
}

func gatewayTitle(name string) string {
	switch name {
	case payment.GatewayWebpay:
		return "Webpay Plus"
	case payment.GatewayMercadoPago:
		return "Mercado Pago"
	default:
		return name
	}
}
