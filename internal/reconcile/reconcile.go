// Package reconcile watches an order after the buyer comes back from the
// gateway until the backend reports it paid.
//
// The backend learns about the payment on its own schedule (the Webpay
// return patches it, Mercado Pago's webhook patches it), so the confirmation
// view polls. Polling stops at the first paid observation; the purchase
// notification fires exactly once per order.
package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"storefront-checkout/internal/metrics"
	"storefront-checkout/internal/model"
)

// ErrKeyMismatch is returned when the order key does not match the order.
var ErrKeyMismatch = errors.New("order key does not match")

const (
	DefaultPollInterval = 5 * time.Second
	DefaultMaxPolls     = 120
)

// OrderReader is the slice of the order backend the reconciler needs.
type OrderReader interface {
	GetOrder(ctx context.Context, id int64) (*model.Order, error)
}

// Notifier receives the purchase-completed event.
type Notifier interface {
	PurchaseCompleted(ctx context.Context, event model.PurchaseCompleted) error
}

// Ticker is the polling clock. Tests drive it by hand.
type Ticker interface {
	Chan() <-chan time.Time
	Stop()
}

type timeTicker struct{ *time.Ticker }

func (t timeTicker) Chan() <-chan time.Time { return t.C }

// Target identifies the order to watch.
type Target struct {
	OrderID  int64  `json:"order_id"`
	OrderKey string `json:"order_key"`
	Total    int64  `json:"total"`
}

// State is where a watch stands.
type State string

const (
	StatePolling   State = "polling"
	StateConfirmed State = "confirmed"
	StateTimedOut  State = "timed_out"
)

// Update is one observation, emitted after every poll.
type Update struct {
	OrderID int64             `json:"order_id"`
	Status  model.OrderStatus `json:"status,omitempty"`
	State   State             `json:"state"`
	Polls   int               `json:"polls"`
	Error   string            `json:"error,omitempty"`
}

// Config wires a Reconciler.
type Config struct {
	Orders       OrderReader
	Notifier     Notifier
	PollInterval time.Duration
	MaxPolls     int
	Currency     string

	// NewTicker overrides the wall-clock ticker.
	NewTicker func(d time.Duration) Ticker

	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Reconciler runs order watches. One Reconciler serves every view; the
// notification guard is shared so two tabs on the same order fire once.
type Reconciler struct {
	orders    OrderReader
	notifier  Notifier
	interval  time.Duration
	maxPolls  int
	currency  string
	newTicker func(d time.Duration) Ticker
	metrics   *metrics.Metrics
	logger    *slog.Logger

	mu       sync.Mutex
	notified map[int64]time.Time // order id -> when the event fired
}

// New creates a Reconciler.
func New(cfg Config) *Reconciler {
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	maxPolls := cfg.MaxPolls
	if maxPolls <= 0 {
		maxPolls = DefaultMaxPolls
	}
	newTicker := cfg.NewTicker
	if newTicker == nil {
		newTicker = func(d time.Duration) Ticker { return timeTicker{time.NewTicker(d)} }
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		orders:    cfg.Orders,
		notifier:  cfg.Notifier,
		interval:  interval,
		maxPolls:  maxPolls,
		currency:  cfg.Currency,
		newTicker: newTicker,
		metrics:   cfg.Metrics,
		logger:    logger,
		notified:  make(map[int64]time.Time),
	}
}

// Run polls target until it is paid, MaxPolls pass, or ctx ends. emit is
// called synchronously with every observation.
//
// The first poll happens immediately. Polls never overlap: a tick that
// arrives while a request is out is dropped by the ticker. Once the order is
// paid Run stops polling and holds the confirmed state until ctx ends,
// returning StateConfirmed. The ticker is stopped on every return path.
func (r *Reconciler) Run(ctx context.Context, target Target, emit func(Update)) (State, error) {
	ticker := r.newTicker(r.interval)
	defer ticker.Stop()

	polls := 0
	for {
		polls++
		order, err := r.orders.GetOrder(ctx, target.OrderID)
		u := Update{OrderID: target.OrderID, State: StatePolling, Polls: polls}

		switch {
		case ctx.Err() != nil:
			return StatePolling, ctx.Err()
		case err != nil:
			r.metrics.Poll("error")
			u.Error = err.Error()
			r.logger.Debug("order poll failed",
				slog.Int64("order_id", target.OrderID),
				slog.String("error", err.Error()),
			)
		case target.OrderKey != "" && order.Key != target.OrderKey:
			return StatePolling, ErrKeyMismatch
		default:
			r.metrics.Poll(string(order.Status))
			u.Status = order.Status
			if order.Status.IsPaid() {
				u.State = StateConfirmed
				emit(u)
				ticker.Stop()
				r.notify(ctx, target, order)
				<-ctx.Done()
				return StateConfirmed, nil
			}
		}

		if polls >= r.maxPolls {
			u.State = StateTimedOut
			emit(u)
			r.logger.Info("order watch timed out",
				slog.Int64("order_id", target.OrderID),
				slog.Int("polls", polls),
			)
			return StateTimedOut, nil
		}
		emit(u)

		select {
		case <-ctx.Done():
			return StatePolling, ctx.Err()
		case <-ticker.Chan():
		}
	}
}

// Forget drops notification guards recorded before cutoff and returns how
// many were dropped. Views opened on a forgotten order fire again.
func (r *Reconciler) Forget(cutoff time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, at := range r.notified {
		if at.Before(cutoff) {
			delete(r.notified, id)
			n++
		}
	}
	return n
}

// notify fires the purchase event unless this order already fired it.
func (r *Reconciler) notify(ctx context.Context, target Target, order *model.Order) {
	r.mu.Lock()
	if _, done := r.notified[target.OrderID]; done {
		r.mu.Unlock()
		return
	}
	r.notified[target.OrderID] = time.Now()
	r.mu.Unlock()

	total := order.Total
	if total == 0 {
		total = target.Total
	}
	items := 0
	for _, line := range order.LineItems {
		items += line.Quantity
	}
	currency := order.Currency
	if currency == "" {
		currency = r.currency
	}

	err := r.notifier.PurchaseCompleted(context.WithoutCancel(ctx), model.PurchaseCompleted{
		OrderID:    target.OrderID,
		OrderKey:   order.Key,
		Total:      total,
		Currency:   currency,
		Status:     order.Status,
		Items:      items,
		ObservedAt: time.Now(),
	})
	r.metrics.Notification(err)
	if err != nil {
		r.logger.Error("purchase notification failed",
			slog.Int64("order_id", target.OrderID),
			slog.String("error", err.Error()),
		)
	}
}
