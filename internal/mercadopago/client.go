// Package mercadopago implements the Mercado Pago Checkout Pro preference
// gateway. Preferences are confirmed out of band by webhook, so the client
// only creates them; the return views are display-only.
package mercadopago

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"storefront-checkout/internal/model"
	"storefront-checkout/internal/payment"
)

// DefaultBaseURL is the Mercado Pago API host.
const DefaultBaseURL = "https://api.mercadopago.com"

const preferencesPath = "/checkout/preferences"

// BackURLs are the three result routes the buyer returns to.
type BackURLs struct {
	Success string `json:"success"`
	Failure string `json:"failure"`
	Pending string `json:"pending"`
}

// Config holds Mercado Pago credentials and routing.
type Config struct {
	BaseURL         string
	AccessToken     string
	Sandbox         bool
	NotificationURL string
	BackURLs        BackURLs
	HTTPClient      *http.Client
	Logger          *slog.Logger
}

// Client creates Checkout Pro preferences.
type Client struct {
	httpClient      *http.Client
	baseURL         string
	accessToken     string
	sandbox         bool
	notificationURL string
	backURLs        BackURLs
	logger          *slog.Logger
}

// New creates a Mercado Pago client.
func New(cfg Config) (*Client, error) {
	if cfg.AccessToken == "" {
		return nil, fmt.Errorf("mercadopago access token is required")
	}
	if cfg.BackURLs.Success == "" || cfg.BackURLs.Failure == "" || cfg.BackURLs.Pending == "" {
		return nil, fmt.Errorf("mercadopago back URLs are required")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
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
		httpClient:      httpClient,
		baseURL:         strings.TrimSuffix(baseURL, "/"),
		accessToken:     cfg.AccessToken,
		sandbox:         cfg.Sandbox,
		notificationURL: cfg.NotificationURL,
		backURLs:        cfg.BackURLs,
		logger:          logger,
	}, nil
}

// Name identifies the gateway.
func (c *Client) Name() string {
	return payment.GatewayMercadoPago
}

// CreateTransaction creates a preference and returns a GET redirect to its
// init point (the sandbox init point in sandbox mode).
func (c *Client) CreateTransaction(ctx context.Context, order payment.Order) (*payment.Instruction, error) {
	if len(order.Items) == 0 {
		return nil, model.NewValidationError("items", "at least one item required")
	}

	pref := preferenceRequest{
		Items:             make([]preferenceItem, 0, len(order.Items)),
		Payer:             toPayer(order.Payer),
		BackURLs:          c.backURLs,
		AutoReturn:        "approved",
		ExternalReference: strconv.FormatInt(order.OrderID, 10),
		NotificationURL:   c.notificationURL,
	}
	for _, item := range order.Items {
		pref.Items = append(pref.Items, preferenceItem{
			Title:      item.Title,
			Quantity:   item.Quantity,
			CurrencyID: order.Currency,
			UnitPrice:  float64(item.UnitPrice),
		})
	}

	var resp preferenceResponse
	if err := c.do(ctx, http.MethodPost, preferencesPath, pref, &resp); err != nil {
		return nil, payment.NetworkError("mercadopago preference", err)
	}

	target := resp.InitPoint
	if c.sandbox && resp.SandboxInitPoint != "" {
		target = resp.SandboxInitPoint
	}
	if target == "" {
		return nil, payment.NetworkError("mercadopago preference", fmt.Errorf("response missing init_point"))
	}

	c.logger.Info("mercadopago preference created",
		slog.String("preference_id", resp.ID),
		slog.Int64("order_id", order.OrderID),
		slog.Bool("sandbox", c.sandbox),
	)

	return &payment.Instruction{
		Gateway:      payment.GatewayMercadoPago,
		Method:       http.MethodGet,
		URL:          target,
		PreferenceID: resp.ID,
	}, nil
}

func toPayer(p payment.Payer) preferencePayer {
	payer := preferencePayer{
		Name:    p.FirstName,
		Surname: p.LastName,
		Email:   p.Email,
	}
	if p.Phone != "" {
		payer.Phone = &preferencePhone{Number: p.Phone}
	}
	if p.Address != "" {
		payer.Address = &preferenceAddress{StreetName: p.Address}
	}
	return payer
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return model.NewUpstreamError("MercadoPago", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return model.NewUnauthorizedError("MercadoPago authentication failed")
	case resp.StatusCode == http.StatusTooManyRequests:
		return model.NewRateLimitError("MercadoPago")
	case resp.StatusCode >= 400:
		var mpErr errorResponse
		json.Unmarshal(respBody, &mpErr) // Best effort parse
		return model.NewUpstreamError("MercadoPago",
			fmt.Errorf("status %d: %s - %s", resp.StatusCode, mpErr.Error, mpErr.Message))
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}
	return nil
}
