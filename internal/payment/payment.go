// Package payment defines the gateway capability shared by the payment
// backends, the pending-order marker that bridges the redirect away from the
// storefront, and the confirm-once guard for single-use gateway tokens.
package payment

import (
	"context"
	"time"
)

// Gateway names as stored on markers and accepted by the submit endpoint.
const (
	GatewayWebpay      = "webpay"
	GatewayMercadoPago = "mercadopago"
)

// Gateway starts a payment with an external provider.
//
// Every gateway can create a transaction. Gateways whose confirmation is
// driven by the storefront (a token returned on the redirect back) also
// implement Confirmer. Gateways confirmed out of band, by webhook, do not.
type Gateway interface {
	Name() string
	CreateTransaction(ctx context.Context, order Order) (*Instruction, error)
}

// Confirmer is the optional capability of gateways that confirm by token.
// Confirm must be called at most once per token; wrap it in OnceConfirmer.
type Confirmer interface {
	Confirm(ctx context.Context, req ConfirmRequest) (*Result, error)
}

// ConfirmsByToken reports whether the gateway is confirmed by the storefront
// on return rather than out of band.
func ConfirmsByToken(g Gateway) bool {
	_, ok := g.(Confirmer)
	return ok
}

// Order is what a gateway needs to open a transaction.
type Order struct {
	OrderID   int64  `json:"order_id"`
	OrderKey  string `json:"order_key"`
	BuyOrder  string `json:"buy_order"`
	SessionID string `json:"session_id,omitempty"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	Items     []Item `json:"items"`
	Payer     Payer  `json:"payer"`
}

// Item is a purchasable line sent to preference-style gateways.
type Item struct {
	Title     string `json:"title"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
}

// Payer identifies the buyer to the gateway.
type Payer struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Phone     string `json:"phone,omitempty"`
	Address   string `json:"address,omitempty"`
}

// Instruction tells the client how to leave for the gateway.
// Token gateways need a POST form carrying Fields; preference gateways a
// plain GET navigation to URL.
type Instruction struct {
	Gateway      string            `json:"gateway"`
	Method       string            `json:"method"`
	URL          string            `json:"url"`
	Fields       map[string]string `json:"fields,omitempty"`
	Token        string            `json:"token,omitempty"`
	PreferenceID string            `json:"preference_id,omitempty"`
}

// ConfirmRequest identifies the transaction to confirm.
type ConfirmRequest struct {
	Token    string
	BuyOrder string
}

// Result is the outcome of a confirmation call.
type Result struct {
	Authorized         bool      `json:"authorized"`
	ResponseCode       int       `json:"response_code"`
	Status             string    `json:"status"`
	Amount             int64     `json:"amount"`
	BuyOrder           string    `json:"buy_order"`
	SessionID          string    `json:"session_id"`
	AuthorizationCode  string    `json:"authorization_code,omitempty"`
	CardNumber         string    `json:"card_number,omitempty"`
	PaymentTypeCode    string    `json:"payment_type_code,omitempty"`
	InstallmentsNumber int       `json:"installments_number"`
	InstallmentsAmount int64     `json:"installments_amount,omitempty"`
	Balance            int64     `json:"balance,omitempty"`
	AccountingDate     string    `json:"accounting_date,omitempty"`
	TransactionDate    time.Time `json:"transaction_date,omitempty"`
	VCI                string    `json:"vci,omitempty"`
	DeclineReason      string    `json:"decline_reason,omitempty"`
}

// Err returns a *DeclineError when the result is not authorized.
func (r *Result) Err() error {
	if r.Authorized {
		return nil
	}
	return &DeclineError{Code: r.ResponseCode, Reason: r.DeclineReason}
}
