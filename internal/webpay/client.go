// Package webpay implements the Transbank Webpay Plus REST gateway.
//
// Webpay is a token-redirect protocol: create returns a token and a URL, the
// client POSTs a form carrying token_ws to that URL, and on return the
// storefront commits the token exactly once.
package webpay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"storefront-checkout/internal/model"
	"storefront-checkout/internal/payment"
)

// Transbank hosts per environment.
const (
	IntegrationURL = "https://webpay3gint.transbank.cl"
	ProductionURL  = "https://webpay3g.transbank.cl"
)

const transactionsPath = "/rswebpaytransaction/api/webpay/v1.2/transactions"

// Protocol limits on identifiers.
const (
	MaxBuyOrderLen  = 26
	MaxSessionIDLen = 61
)

// TokenField is the form field the redirect POST must carry.
const TokenField = "token_ws"

// Config holds Webpay credentials and endpoints.
type Config struct {
	BaseURL      string
	CommerceCode string
	APIKey       string
	ReturnURL    string
	HTTPClient   *http.Client
	Logger       *slog.Logger
}

// Client talks to the Webpay Plus REST API.
type Client struct {
	httpClient   *http.Client
	baseURL      string
	commerceCode string
	apiKey       string
	returnURL    string
	logger       *slog.Logger
}

// New creates a Webpay client.
func New(cfg Config) (*Client, error) {
	if cfg.CommerceCode == "" || cfg.APIKey == "" {
		return nil, fmt.Errorf("webpay commerce code and API key are required")
	}
	if cfg.ReturnURL == "" {
		return nil, fmt.Errorf("webpay return URL is required")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = IntegrationURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		httpClient:   httpClient,
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		commerceCode: cfg.CommerceCode,
		apiKey:       cfg.APIKey,
		returnURL:    cfg.ReturnURL,
		logger:       logger,
	}, nil
}

// Name identifies the gateway.
func (c *Client) Name() string {
	return payment.GatewayWebpay
}

// CreateTransaction opens a Webpay transaction and returns the POST-form
// redirect instruction.
func (c *Client) CreateTransaction(ctx context.Context, order payment.Order) (*payment.Instruction, error) {
	switch {
	case order.BuyOrder == "" || len(order.BuyOrder) > MaxBuyOrderLen:
		return nil, model.NewValidationError("buy_order", fmt.Sprintf("must be 1-%d characters", MaxBuyOrderLen))
	case order.SessionID == "" || len(order.SessionID) > MaxSessionIDLen:
		return nil, model.NewValidationError("session_id", fmt.Sprintf("must be 1-%d characters", MaxSessionIDLen))
	case order.Amount <= 0:
		return nil, model.NewValidationError("amount", "must be positive")
	}

	body := createRequest{
		BuyOrder:  order.BuyOrder,
		SessionID: order.SessionID,
		Amount:    order.Amount,
		ReturnURL: c.returnURL,
	}
	var resp createResponse
	if err := c.do(ctx, http.MethodPost, transactionsPath, body, &resp); err != nil {
		return nil, payment.NetworkError("webpay create", err)
	}
	if resp.Token == "" || resp.URL == "" {
		return nil, payment.NetworkError("webpay create", fmt.Errorf("response missing token or url"))
	}

	c.logger.Info("webpay transaction created",
		slog.String("buy_order", order.BuyOrder),
		slog.Int64("amount", order.Amount),
	)

	return &payment.Instruction{
		Gateway: payment.GatewayWebpay,
		Method:  http.MethodPost,
		URL:     resp.URL,
		Fields:  map[string]string{TokenField: resp.Token},
		Token:   resp.Token,
	}, nil
}

// Confirm commits the transaction for req.Token. A declined transaction is
// a successful call: the result comes back with Authorized false.
func (c *Client) Confirm(ctx context.Context, req payment.ConfirmRequest) (*payment.Result, error) {
	if req.Token == "" {
		return nil, payment.ErrMissingCredential
	}
	var resp transactionResponse
	if err := c.do(ctx, http.MethodPut, transactionsPath+"/"+url.PathEscape(req.Token), nil, &resp); err != nil {
		return nil, payment.NetworkError("webpay commit", err)
	}

	result := toResult(&resp)
	c.logger.Info("webpay transaction committed",
		slog.String("buy_order", result.BuyOrder),
		slog.Int("response_code", result.ResponseCode),
		slog.String("status", result.Status),
	)
	return result, nil
}

// Status reads the transaction state without committing it.
func (c *Client) Status(ctx context.Context, token string) (*payment.Result, error) {
	if token == "" {
		return nil, payment.ErrMissingCredential
	}
	var resp transactionResponse
	if err := c.do(ctx, http.MethodGet, transactionsPath+"/"+url.PathEscape(token), nil, &resp); err != nil {
		return nil, payment.NetworkError("webpay status", err)
	}
	return toResult(&resp), nil
}

func toResult(r *transactionResponse) *payment.Result {
	result := &payment.Result{
		ResponseCode:       r.ResponseCode,
		Status:             r.Status,
		Amount:             int64(math.Round(r.Amount)),
		BuyOrder:           r.BuyOrder,
		SessionID:          r.SessionID,
		AuthorizationCode:  r.AuthorizationCode,
		CardNumber:         MaskCard(r.CardDetail.CardNumber),
		PaymentTypeCode:    r.PaymentTypeCode,
		InstallmentsNumber: r.InstallmentsNumber,
		InstallmentsAmount: int64(math.Round(r.InstallmentsAmount)),
		Balance:            int64(math.Round(r.Balance)),
		AccountingDate:     r.AccountingDate,
		TransactionDate:    r.TransactionDate,
		VCI:                r.VCI,
	}
	result.Authorized = r.ResponseCode == 0 && r.Status == StatusAuthorized
	if !result.Authorized {
		result.DeclineReason = DeclineReason(r.ResponseCode)
	}
	return result
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Tbk-Api-Key-Id", c.commerceCode)
	req.Header.Set("Tbk-Api-Key-Secret", c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return model.NewUpstreamError("Webpay", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var tbkErr errorResponse
		json.Unmarshal(respBody, &tbkErr) // Best effort parse
		return model.NewUpstreamError("Webpay",
			fmt.Errorf("status %d: %s", resp.StatusCode, tbkErr.ErrorMessage))
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}
	return nil
}
