package woocommerce

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"storefront-checkout/internal/adapter"
	"storefront-checkout/internal/model"
	"storefront-checkout/internal/transport"
)

// =============================================================================
// AUTHENTICATION AND FAILURE ISOLATION
// =============================================================================
//
// The REST API v3 authenticates server-to-server calls with the consumer
// key/secret pair over HTTPS basic auth. No nonce or Cart-Token is involved:
// orders are created directly, not built up through a Store API cart.
//
// Every call runs through a circuit breaker. When the store is down the
// status reconciler would otherwise keep one request per open confirmation
// view hanging for the full timeout; an open breaker fails those polls fast
// until the half-open probe succeeds.
//
// Client errors (4xx) do not count as breaker failures: a missing order or a
// rejected payload says nothing about the store's health.
// =============================================================================

// restAPIPath is the base path for WooCommerce REST API v3 endpoints.
const restAPIPath = "/wp-json/wc/v3"

// userAgent identifies this client to upstream servers.
// Required: WooCommerce CDN/WAF rate-limits requests without User-Agent.
const userAgent = "Storefront-Checkout/1.0"

// Config holds WooCommerce-specific adapter configuration.
type Config struct {
	StoreURL  string
	APIKey    string
	APISecret string

	// HTTPClient overrides the Chrome-fingerprint client. Tests set this.
	HTTPClient *http.Client

	// BreakerFailures is the consecutive failure count that opens the
	// breaker. Default 5.
	BreakerFailures uint32
	// BreakerCooldown is how long the breaker stays open. Default 30s.
	BreakerCooldown time.Duration

	Logger *slog.Logger
}

// Client implements the adapter interface for WooCommerce stores using the
// REST API v3.
type Client struct {
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	storeURL   string
	apiKey     string
	apiSecret  string
	logger     *slog.Logger
}

// Verify Client implements Adapter interface at compile time.
var _ adapter.Adapter = (*Client)(nil)

// New creates a WooCommerce client with the given configuration.
func New(cfg Config) (*Client, error) {
	if cfg.StoreURL == "" {
		return nil, fmt.Errorf("store URL is required")
	}
	if cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, fmt.Errorf("API credentials are required")
	}

	// Shops sit behind CDNs that throttle Go's TLS fingerprint.
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = transport.NewClient(30 * time.Second)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = 5
	}
	cooldown := cfg.BreakerCooldown
	if cooldown == 0 {
		cooldown = 30 * time.Second
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "woocommerce",
		MaxRequests: 1,
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !isUpstreamFailure(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
	})

	return &Client{
		httpClient: httpClient,
		breaker:    breaker,
		storeURL:   strings.TrimSuffix(cfg.StoreURL, "/"),
		apiKey:     cfg.APIKey,
		apiSecret:  cfg.APISecret,
		logger:     logger,
	}, nil
}

// GetProduct fetches a catalog product.
func (c *Client) GetProduct(ctx context.Context, id int64) (*model.Product, error) {
	var product WooProduct
	if err := c.do(ctx, http.MethodGet, "/products/"+strconv.FormatInt(id, 10), nil, &product, "product"); err != nil {
		return nil, err
	}
	return ProductToModel(&product), nil
}

// CreateOrder places a pending, unpaid order.
func (c *Client) CreateOrder(ctx context.Context, req *model.NewOrder) (*model.Order, error) {
	if len(req.LineItems) == 0 {
		return nil, model.NewValidationError("line_items", "at least one item required")
	}

	var order WooOrder
	if err := c.do(ctx, http.MethodPost, "/orders", BuildOrderRequest(req), &order, "order"); err != nil {
		return nil, err
	}

	c.logger.Info("order created",
		slog.Int("order_id", order.ID),
		slog.String("total", order.Total),
	)
	return OrderToModel(&order), nil
}

// GetOrder fetches an order by id.
func (c *Client) GetOrder(ctx context.Context, id int64) (*model.Order, error) {
	var order WooOrder
	if err := c.do(ctx, http.MethodGet, "/orders/"+strconv.FormatInt(id, 10), nil, &order, "order"); err != nil {
		return nil, err
	}
	return OrderToModel(&order), nil
}

// UpdateOrder patches status and meta_data onto an order.
func (c *Client) UpdateOrder(ctx context.Context, id int64, req *model.OrderUpdate) (*model.Order, error) {
	var order WooOrder
	if err := c.do(ctx, http.MethodPut, "/orders/"+strconv.FormatInt(id, 10), BuildOrderUpdate(req), &order, "order"); err != nil {
		return nil, err
	}

	c.logger.Info("order updated",
		slog.Int64("order_id", id),
		slog.String("status", order.Status),
	)
	return OrderToModel(&order), nil
}

// do executes a REST request through the circuit breaker.
// resource names the entity in not-found errors.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}, resource string) error {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.roundTrip(ctx, method, path, body, out, resource)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return model.NewUpstreamError("WooCommerce", err)
	}
	return err
}

func (c *Client) roundTrip(ctx context.Context, method, path string, body, out interface{}, resource string) error {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.storeURL+restAPIPath+path, bodyReader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	c.setRESTHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return model.NewUpstreamError("WooCommerce", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return c.parseErrorResponse(resp.StatusCode, respBody, resource)
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}
	return nil
}

// setRESTHeaders sets headers for WooCommerce REST API v3 requests.
func (c *Client) setRESTHeaders(req *http.Request) {
	req.SetBasicAuth(c.apiKey, c.apiSecret)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
}

// parseErrorResponse converts WooCommerce error to APIError.
func (c *Client) parseErrorResponse(statusCode int, body []byte, resource string) error {
	var wcErr WooErrorResponse
	json.Unmarshal(body, &wcErr) // Best effort parse

	switch statusCode {
	case 404:
		return model.NewNotFoundError(resource)
	case 401, 403:
		return model.NewUnauthorizedError("WooCommerce authentication failed")
	case 400:
		msg := wcErr.Message
		if msg == "" {
			msg = "invalid request"
		}
		return model.NewValidationError("request", msg)
	case 429:
		return model.NewRateLimitError("WooCommerce")
	default:
		return model.NewUpstreamError("WooCommerce",
			fmt.Errorf("status %d: %s - %s", statusCode, wcErr.Code, wcErr.Message))
	}
}

// isUpstreamFailure reports whether err reflects store health rather than
// a bad request.
func isUpstreamFailure(err error) bool {
	return errors.Is(err, model.ErrUpstreamError) || errors.Is(err, model.ErrRateLimited)
}
