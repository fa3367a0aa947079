package returns

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"storefront-checkout/internal/adapter"
	"storefront-checkout/internal/cart"
	"storefront-checkout/internal/metrics"
	"storefront-checkout/internal/model"
	"storefront-checkout/internal/payment"
	"storefront-checkout/internal/webpay"
)

// Query and form parameters Webpay sends back to the return URL.
const (
	ParamToken          = webpay.TokenField
	ParamCancelToken    = "TBK_TOKEN"
	ParamCancelBuyOrder = "TBK_ORDEN_COMPRA"
)

// Order meta keys written on a verified payment.
const (
	MetaAuthorizationCode  = "_webpay_authorization_code"
	MetaCardNumber         = "_webpay_card_number"
	MetaPaymentTypeCode    = "_webpay_payment_type_code"
	MetaInstallmentsNumber = "_webpay_installments_number"
	MetaBuyOrder           = "_webpay_buy_order"
)

// StatusReader reads a transaction's state at the gateway without
// committing it. *webpay.Client implements it.
type StatusReader interface {
	Status(ctx context.Context, token string) (*payment.Result, error)
}

var _ StatusReader = (*webpay.Client)(nil)

// WebpayConfig wires the Webpay return handler.
type WebpayConfig struct {
	Confirmer payment.Confirmer
	Markers   payment.MarkerStore
	Ledger    payment.Ledger
	// Status is asked about replayed tokens whose ledger row holds no
	// result. Optional.
	Status    StatusReader
	Backend   adapter.Adapter
	Carts     *cart.Service
	Checkouts Checkouts
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

// Webpay resolves Webpay returns.
type Webpay struct {
	confirmer payment.Confirmer
	markers   payment.MarkerStore
	ledger    payment.Ledger
	status    StatusReader
	backend   adapter.Adapter
	carts     *cart.Service
	checkouts Checkouts
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewWebpay creates the handler. Confirmer should be a
// *payment.OnceConfirmer so a replayed token never reaches the gateway.
func NewWebpay(cfg WebpayConfig) *Webpay {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Webpay{
		confirmer: cfg.Confirmer,
		markers:   cfg.Markers,
		ledger:    cfg.Ledger,
		status:    cfg.Status,
		backend:   cfg.Backend,
		carts:     cfg.Carts,
		checkouts: cfg.Checkouts,
		metrics:   cfg.Metrics,
		logger:    logger,
	}
}

// Handle resolves one return. params is the merged query and form.
//
// Cancelled, declined, mismatched and replayed returns come back as an
// Outcome with Err set. A returned error means the return could not be
// resolved at all: no token, unknown token, or a failed confirm call.
func (w *Webpay) Handle(ctx context.Context, params url.Values) (*Outcome, error) {
	// A failed payment form sends both tokens; TBK_TOKEN wins.
	if cancel := params.Get(ParamCancelToken); cancel != "" {
		return w.cancel(ctx, cancel, params.Get(ParamCancelBuyOrder)), nil
	}

	token := strings.TrimSpace(params.Get(ParamToken))
	if token == "" {
		w.metrics.Return(payment.GatewayWebpay, "missing_credential")
		return nil, payment.ErrMissingCredential
	}
	return w.confirm(ctx, token)
}

func (w *Webpay) cancel(ctx context.Context, token, buyOrder string) *Outcome {
	var marker *payment.Marker
	var err error
	if buyOrder != "" {
		marker, err = w.markers.MarkerByBuyOrder(ctx, buyOrder)
	}
	if marker == nil {
		marker, err = w.markers.MarkerByToken(ctx, token)
	}
	if err != nil && !errors.Is(err, payment.ErrMarkerNotFound) {
		w.logger.Error("loading marker for cancelled return",
			slog.String("buy_order", buyOrder),
			slog.String("error", err.Error()),
		)
	}
	// A buy order alone proves nothing: the cancel token must be the one
	// issued for that marker.
	if marker != nil && marker.Token != "" && marker.Token != token {
		w.logger.Warn("cancel token does not match pending order",
			slog.String("buy_order", marker.BuyOrder),
		)
		marker = nil
	}

	out := &Outcome{
		Status:   StatusCancelled,
		Gateway:  payment.GatewayWebpay,
		BuyOrder: buyOrder,
		Reason:   "El pago fue anulado",
		Err:      payment.ErrUserCancelled,
	}
	if marker != nil {
		out.fromMarker(marker)
		w.discard(ctx, marker)
		w.checkouts.Reopen(marker.CheckoutID)
	}

	w.metrics.Return(payment.GatewayWebpay, string(StatusCancelled))
	w.logger.Info("payment cancelled by buyer",
		slog.String("buy_order", out.BuyOrder),
		slog.Int64("order_id", out.OrderID),
	)
	return out
}

func (w *Webpay) confirm(ctx context.Context, token string) (*Outcome, error) {
	marker, err := w.markers.MarkerByToken(ctx, token)
	if errors.Is(err, payment.ErrMarkerNotFound) {
		return w.replay(ctx, token)
	}
	if err != nil {
		return nil, fmt.Errorf("loading pending order: %w", err)
	}

	result, err := w.confirmer.Confirm(ctx, payment.ConfirmRequest{Token: token, BuyOrder: marker.BuyOrder})
	var replayed *payment.AlreadyConfirmedError
	switch {
	case errors.As(err, &replayed):
		return w.resume(ctx, marker, replayed), nil
	case err != nil:
		// The token is spent either way; the buyer starts a new attempt.
		w.discard(ctx, marker)
		w.checkouts.Reopen(marker.CheckoutID)
		w.metrics.Return(payment.GatewayWebpay, "network_failure")
		if !errors.Is(err, payment.ErrNetworkFailure) {
			err = payment.NetworkError("webpay commit", err)
		}
		return nil, err
	}

	out := &Outcome{Gateway: payment.GatewayWebpay, Result: result}
	out.fromMarker(marker)

	if !result.Authorized {
		out.Status = StatusDeclined
		out.Reason = result.DeclineReason
		out.Err = result.Err()
		w.discard(ctx, marker)
		w.checkouts.Reopen(marker.CheckoutID)
		w.metrics.Return(payment.GatewayWebpay, string(StatusDeclined))
		w.logger.Info("payment declined",
			slog.String("buy_order", marker.BuyOrder),
			slog.Int("response_code", result.ResponseCode),
		)
		return out, nil
	}

	if result.Amount != marker.Amount {
		out.Status = StatusAmountMismatch
		out.Reason = "El monto pagado no coincide con el pedido"
		out.Err = &payment.AmountMismatchError{Expected: marker.Amount, Got: result.Amount}
		w.discard(ctx, marker)
		w.checkouts.Reopen(marker.CheckoutID)
		w.metrics.Return(payment.GatewayWebpay, string(StatusAmountMismatch))
		w.logger.Error("confirmed amount differs from order",
			slog.String("buy_order", marker.BuyOrder),
			slog.Int64("order_id", marker.OrderID),
			slog.Int64("expected", marker.Amount),
			slog.Int64("got", result.Amount),
		)
		return out, nil
	}

	return w.settle(ctx, marker, out), nil
}

// settle records a verified payment. The gateway has already taken the
// money, so nothing here depends on the buyer staying connected.
func (w *Webpay) settle(ctx context.Context, marker *payment.Marker, out *Outcome) *Outcome {
	ctx = context.WithoutCancel(ctx)
	result := out.Result
	out.Status = StatusSuccess
	out.PaymentType = webpay.PaymentTypeLabel(result.PaymentTypeCode)

	if err := w.patchOrder(ctx, marker, result); err != nil {
		// The marker is the only link between the payment and the order.
		// Flagged, it outlives the janitor and the next return retries.
		w.logger.Error("payment authorized but order update failed",
			slog.Int64("order_id", marker.OrderID),
			slog.String("buy_order", marker.BuyOrder),
			slog.String("authorization_code", result.AuthorizationCode),
			slog.String("error", err.Error()),
		)
		if err := w.markers.MarkAuthorized(ctx, marker.BuyOrder); err != nil {
			w.logger.Error("flagging authorized marker",
				slog.String("buy_order", marker.BuyOrder),
				slog.String("error", err.Error()),
			)
		}
	} else {
		out.OrderUpdated = true
		w.discard(ctx, marker)
	}

	if err := w.carts.Clear(ctx, marker.CheckoutID); err != nil {
		w.logger.Error("clearing cart after payment",
			slog.String("checkout_id", marker.CheckoutID),
			slog.String("error", err.Error()),
		)
	}
	w.checkouts.Finish(marker.CheckoutID)

	w.metrics.Return(payment.GatewayWebpay, string(StatusSuccess))
	w.logger.Info("payment confirmed",
		slog.Int64("order_id", marker.OrderID),
		slog.String("buy_order", marker.BuyOrder),
		slog.Int64("amount", result.Amount),
	)
	return out
}

// resume answers a token the ledger already holds while its marker is still
// present. A flagged marker means the payment went through and the order
// patch failed, so the patch is retried.
func (w *Webpay) resume(ctx context.Context, marker *payment.Marker, replayed *payment.AlreadyConfirmedError) *Outcome {
	out := alreadyConfirmed(replayed)
	out.fromMarker(marker)
	w.lookupStatus(ctx, out, replayed)

	last := replayed.Last
	if last != nil && last.Authorized && last.Amount == marker.Amount && !marker.AuthorizedAt.IsZero() {
		ctx = context.WithoutCancel(ctx)
		if err := w.patchOrder(ctx, marker, last); err != nil {
			w.logger.Error("retrying order update",
				slog.Int64("order_id", marker.OrderID),
				slog.String("buy_order", marker.BuyOrder),
				slog.String("error", err.Error()),
			)
		} else {
			out.OrderUpdated = true
			w.discard(ctx, marker)
			w.logger.Info("order updated on retry",
				slog.Int64("order_id", marker.OrderID),
				slog.String("buy_order", marker.BuyOrder),
			)
		}
	}

	w.metrics.Return(payment.GatewayWebpay, string(StatusAlreadyConfirmed))
	return out
}

func (w *Webpay) patchOrder(ctx context.Context, marker *payment.Marker, result *payment.Result) error {
	_, err := w.backend.UpdateOrder(ctx, marker.OrderID, &model.OrderUpdate{
		Status: model.OrderProcessing,
		MetaData: []model.MetaData{
			{Key: MetaAuthorizationCode, Value: result.AuthorizationCode},
			{Key: MetaCardNumber, Value: result.CardNumber},
			{Key: MetaPaymentTypeCode, Value: result.PaymentTypeCode},
			{Key: MetaInstallmentsNumber, Value: strconv.Itoa(result.InstallmentsNumber)},
			{Key: MetaBuyOrder, Value: marker.BuyOrder},
		},
	})
	return err
}

// lookupStatus asks the gateway about a token whose ledger row has no
// result, either still claimed or failed. The answer is unverified: it sets
// the display fields and never Result.
func (w *Webpay) lookupStatus(ctx context.Context, out *Outcome, replayed *payment.AlreadyConfirmedError) {
	if w.status == nil || replayed.Last != nil {
		return
	}
	live, err := w.status.Status(ctx, replayed.Token)
	if err != nil {
		w.logger.Warn("reading transaction status",
			slog.String("buy_order", out.BuyOrder),
			slog.String("error", err.Error()),
		)
		return
	}
	out.GatewayStatus = live.Status
	switch {
	case live.Authorized:
		out.Reason = "El pago fue autorizado y está pendiente de registro"
		out.PaymentType = webpay.PaymentTypeLabel(live.PaymentTypeCode)
	case live.Status != webpay.StatusInitialized:
		out.Reason = live.DeclineReason
	}
}

// replay answers a token whose marker is gone, from the ledger alone.
func (w *Webpay) replay(ctx context.Context, token string) (*Outcome, error) {
	conf, err := w.ledger.ConfirmationByToken(ctx, token)
	if errors.Is(err, payment.ErrConfirmationNotFound) {
		w.logger.Warn("return for unknown token")
		w.metrics.Return(payment.GatewayWebpay, "unknown_token")
		return nil, model.NewNotFoundError("payment attempt")
	}
	if err != nil {
		return nil, fmt.Errorf("loading confirmation: %w", err)
	}

	replayed := &payment.AlreadyConfirmedError{Token: token, Last: conf.Result, Failure: conf.Failure}
	out := alreadyConfirmed(replayed)
	out.BuyOrder = conf.BuyOrder
	w.lookupStatus(ctx, out, replayed)
	w.metrics.Return(payment.GatewayWebpay, string(StatusAlreadyConfirmed))
	return out, nil
}

func (w *Webpay) discard(ctx context.Context, marker *payment.Marker) {
	if err := w.markers.DeleteMarker(context.WithoutCancel(ctx), marker.BuyOrder); err != nil {
		w.logger.Error("deleting pending order marker",
			slog.String("buy_order", marker.BuyOrder),
			slog.String("error", err.Error()),
		)
	}
}

func alreadyConfirmed(e *payment.AlreadyConfirmedError) *Outcome {
	out := &Outcome{
		Status:  StatusAlreadyConfirmed,
		Gateway: payment.GatewayWebpay,
		Result:  e.Last,
		Err:     e,
	}
	switch {
	case e.Last == nil && e.Failure == "":
		out.Reason = "El pago se está confirmando"
	case e.Last == nil:
		out.Reason = "No fue posible confirmar el pago"
	case !e.Last.Authorized:
		out.Reason = e.Last.DeclineReason
	default:
		out.PaymentType = webpay.PaymentTypeLabel(e.Last.PaymentTypeCode)
	}
	return out
}

func (o *Outcome) fromMarker(m *payment.Marker) {
	o.CheckoutID = m.CheckoutID
	o.OrderID = m.OrderID
	o.OrderKey = m.OrderKey
	o.Total = m.Amount
	o.BuyOrder = m.BuyOrder
}
