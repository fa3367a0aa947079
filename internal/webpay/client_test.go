package webpay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"storefront-checkout/internal/model"
	"storefront-checkout/internal/payment"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	c, err := New(Config{
		BaseURL:      server.URL,
		CommerceCode: "597055555532",
		APIKey:       "secret",
		ReturnURL:    "https://shop.test/payments/webpay/return",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c
}

func TestNew_RequiresCredentials(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"no commerce code", Config{APIKey: "k", ReturnURL: "u"}},
		{"no api key", Config{CommerceCode: "c", ReturnURL: "u"}},
		{"no return url", Config{CommerceCode: "c", APIKey: "k"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.cfg); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestCreateTransaction(t *testing.T) {
	var got createRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != transactionsPath {
			t.Errorf("request = %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Tbk-Api-Key-Id") != "597055555532" || r.Header.Get("Tbk-Api-Key-Secret") != "secret" {
			t.Error("missing Transbank auth headers")
		}
		json.NewDecoder(r.Body).Decode(&got)
		json.NewEncoder(w).Encode(createResponse{
			Token: "01ab",
			URL:   "https://webpay3gint.transbank.cl/webpayserver/initTransaction",
		})
	})

	instr, err := c.CreateTransaction(context.Background(), payment.Order{
		BuyOrder:  "BO0123456789abcdef01234567",
		SessionID: "9d1c2f0e-1111-2222-3333-444455556666",
		Amount:    145990,
	})
	if err != nil {
		t.Fatalf("CreateTransaction() error = %v", err)
	}

	if got.Amount != 145990 || got.ReturnURL != "https://shop.test/payments/webpay/return" {
		t.Errorf("request body = %+v", got)
	}
	if instr.Method != http.MethodPost {
		t.Errorf("Method = %s, want POST", instr.Method)
	}
	if len(instr.Fields) != 1 || instr.Fields[TokenField] != "01ab" {
		t.Errorf("Fields = %v, want only token_ws", instr.Fields)
	}
}

func TestCreateTransaction_Validation(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})

	tests := []struct {
		name  string
		order payment.Order
	}{
		{"buy order too long", payment.Order{BuyOrder: strings.Repeat("x", 27), SessionID: "s", Amount: 1}},
		{"missing session", payment.Order{BuyOrder: "BO1", Amount: 1}},
		{"zero amount", payment.Order{BuyOrder: "BO1", SessionID: "s"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.CreateTransaction(context.Background(), tt.order)
			if !errors.Is(err, model.ErrInvalidRequest) {
				t.Errorf("error = %v, want ErrInvalidRequest", err)
			}
		})
	}
}

func TestCreateTransaction_UpstreamFailure(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"error_message":"Invalid value for parameter: amount"}`))
	})

	_, err := c.CreateTransaction(context.Background(), payment.Order{BuyOrder: "BO1", SessionID: "s", Amount: 1})
	if !errors.Is(err, payment.ErrNetworkFailure) {
		t.Errorf("error = %v, want ErrNetworkFailure", err)
	}
	if !errors.Is(err, model.ErrUpstreamError) {
		t.Errorf("error = %v, want ErrUpstreamError in chain", err)
	}
}

const authorizedBody = `{
	"vci": "TSY",
	"amount": 10000,
	"status": "AUTHORIZED",
	"buy_order": "BO1",
	"session_id": "sess",
	"card_detail": {"card_number": "6623"},
	"accounting_date": "0522",
	"transaction_date": "2026-05-22T14:20:11.384Z",
	"authorization_code": "1213",
	"payment_type_code": "VN",
	"response_code": 0,
	"installments_number": 0
}`

const declinedBody = `{
	"vci": "TSY",
	"amount": 10000,
	"status": "FAILED",
	"buy_order": "BO1",
	"session_id": "sess",
	"card_detail": {"card_number": "6623"},
	"accounting_date": "0522",
	"transaction_date": "2026-05-22T14:20:11.384Z",
	"authorization_code": "000000",
	"payment_type_code": "VN",
	"response_code": -1,
	"installments_number": 0
}`

func TestConfirm(t *testing.T) {
	tests := []struct {
		name           string
		body           string
		wantAuthorized bool
		wantReason     string
	}{
		{"authorized", authorizedBody, true, ""},
		{"declined", declinedBody, false, declineReasons[-1]},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPut || r.URL.Path != transactionsPath+"/tok-1" {
					t.Errorf("request = %s %s", r.Method, r.URL.Path)
				}
				w.Write([]byte(tt.body))
			})

			result, err := c.Confirm(context.Background(), payment.ConfirmRequest{Token: "tok-1", BuyOrder: "BO1"})
			if err != nil {
				t.Fatalf("Confirm() error = %v", err)
			}
			if result.Authorized != tt.wantAuthorized {
				t.Errorf("Authorized = %v, want %v", result.Authorized, tt.wantAuthorized)
			}
			if result.DeclineReason != tt.wantReason {
				t.Errorf("DeclineReason = %q, want %q", result.DeclineReason, tt.wantReason)
			}
			if result.CardNumber != "**** **** **** 6623" {
				t.Errorf("CardNumber = %q", result.CardNumber)
			}
			if result.Amount != 10000 {
				t.Errorf("Amount = %d, want 10000", result.Amount)
			}
		})
	}
}

func TestConfirm_AuthorizedStatusWithNonZeroCode(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"AUTHORIZED","response_code":-3,"amount":1}`))
	})
	result, err := c.Confirm(context.Background(), payment.ConfirmRequest{Token: "t"})
	if err != nil {
		t.Fatalf("Confirm() error = %v", err)
	}
	if result.Authorized {
		t.Error("non-zero response code must not be authorized")
	}
}

func TestStatus_DoesNotCommit(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("Method = %s, want GET", r.Method)
		}
		w.Write([]byte(authorizedBody))
	})
	result, err := c.Status(context.Background(), "tok-1")
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if result.Status != StatusAuthorized {
		t.Errorf("Status = %q", result.Status)
	}
}

func TestDeclineReason(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{-1, "Error en el ingreso de los datos de la tarjeta"},
		{-4, "Rechazada por el emisor"},
		{-97, "Excede monto máximo diario de pago"},
		{-42, genericDecline},
		{7, genericDecline},
	}
	for _, tt := range tests {
		if got := DeclineReason(tt.code); got != tt.want {
			t.Errorf("DeclineReason(%d) = %q, want %q", tt.code, got, tt.want)
		}
	}
}

func TestMaskCard(t *testing.T) {
	tests := []struct{ in, want string }{
		{"6623", "**** **** **** 6623"},
		{"4051885600446623", "**** **** **** 6623"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := MaskCard(tt.in); got != tt.want {
			t.Errorf("MaskCard(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestPaymentTypeLabel(t *testing.T) {
	if got := PaymentTypeLabel("VD"); got != "Venta Débito" {
		t.Errorf("PaymentTypeLabel(VD) = %q", got)
	}
	if got := PaymentTypeLabel("ZZ"); got != "ZZ" {
		t.Errorf("unknown code should pass through, got %q", got)
	}
}
