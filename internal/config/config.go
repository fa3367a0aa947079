// Package config handles loading and validation of service configuration.
// Supports both development (env vars) and production (Secret Manager) modes.
package config

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"

	"storefront-checkout/internal/pricing"
	"storefront-checkout/internal/webpay"
)

// Webpay environments.
const (
	WebpayIntegration = "integration"
	WebpayProduction  = "production"
)

// Config holds all service configuration.
// Environment determines whether credentials load from env vars (development)
// or Secret Manager (production).
type Config struct {
	// Server settings
	Port        string `json:"port"`
	Environment string `json:"environment"` // "development" or "production"
	LogLevel    string `json:"log_level"`   // "debug", "info", "warn", "error"

	// PublicBaseURL is where browsers reach this service; gateway return
	// URLs are built from it.
	PublicBaseURL string `json:"public_base_url"`
	DatabasePath  string `json:"database_path"`

	// GCP settings (required in production)
	GCPProject string `json:"gcp_project,omitempty"`
	StoreID    string `json:"store_id"`

	// Purchase analytics. No brokers logs events instead.
	KafkaBrokers []string `json:"kafka_brokers,omitempty"`
	KafkaTopic   string   `json:"kafka_topic,omitempty"`

	// Post-payment status polling
	PollInterval time.Duration `json:"-"`
	MaxPolls     int           `json:"max_polls"`

	// Pricing
	Currency              string                   `json:"currency"`
	Country               string                   `json:"country"`
	FreeShippingThreshold int64                    `json:"free_shipping_threshold"`
	ShippingOptions       []pricing.ShippingOption `json:"shipping_options,omitempty"`

	// Checkout behaviour
	MinClientVersion              string        `json:"min_client_version,omitempty"`
	ClearCartOnPreferenceRedirect bool          `json:"clear_cart_on_preference_redirect"`
	AttemptTimeout                time.Duration `json:"-"`

	// Per-client limit on mutating requests. Zero RateLimitRPS disables it.
	RateLimitRPS   float64 `json:"rate_limit_rps"`
	RateLimitBurst int     `json:"rate_limit_burst"`

	// Credentials (loaded from secrets)
	Credentials Credentials `json:"credentials"`
}

// Credentials contains store and gateway secrets.
// In production, this is loaded from Secret Manager as JSON.
// In development, loaded from individual env vars or CONFIG_FILE.
type Credentials struct {
	WooCommerce WooCommerceCredentials `json:"woocommerce"`
	Webpay      WebpayCredentials      `json:"webpay"`
	MercadoPago MercadoPagoCredentials `json:"mercadopago"`
}

// WooCommerceCredentials authenticate against the order backend.
type WooCommerceCredentials struct {
	StoreURL       string `json:"store_url"`
	ConsumerKey    string `json:"consumer_key"`
	ConsumerSecret string `json:"consumer_secret"`
}

// WebpayCredentials configure the Webpay Plus gateway. An empty commerce
// code disables Webpay.
type WebpayCredentials struct {
	CommerceCode string `json:"commerce_code,omitempty"`
	APIKey       string `json:"api_key,omitempty"`
	Environment  string `json:"environment,omitempty"`

	// BaseURL is derived from Environment at load.
	BaseURL string `json:"-"`
}

// Enabled reports whether Webpay is configured.
func (w WebpayCredentials) Enabled() bool {
	return w.CommerceCode != ""
}

// MercadoPagoCredentials configure the Mercado Pago gateway. An empty
// access token disables it.
type MercadoPagoCredentials struct {
	AccessToken     string `json:"access_token,omitempty"`
	Sandbox         bool   `json:"sandbox,omitempty"`
	NotificationURL string `json:"notification_url,omitempty"`
}

// Enabled reports whether Mercado Pago is configured.
func (m MercadoPagoCredentials) Enabled() bool {
	return m.AccessToken != ""
}

// Load reads configuration from file, environment, or Secret Manager.
// Priority: CONFIG_FILE (if set) → ENV vars / Secret Manager.
// Validates all required fields and returns an error if any are missing.
func Load(ctx context.Context) (*Config, error) {
	// If CONFIG_FILE is set, load everything from the JSON file
	if configPath := os.Getenv("CONFIG_FILE"); configPath != "" {
		return loadFromFile(configPath)
	}

	cfg := defaults()
	cfg.Port = envOrDefault("PORT", cfg.Port)
	cfg.Environment = envOrDefault("ENVIRONMENT", cfg.Environment)
	cfg.LogLevel = envOrDefault("LOG_LEVEL", cfg.LogLevel)
	cfg.PublicBaseURL = os.Getenv("PUBLIC_BASE_URL")
	cfg.DatabasePath = envOrDefault("DATABASE_PATH", cfg.DatabasePath)
	cfg.GCPProject = os.Getenv("GCP_PROJECT")
	cfg.StoreID = os.Getenv("STORE_ID")
	cfg.KafkaBrokers = splitList(os.Getenv("KAFKA_BROKERS"))
	cfg.KafkaTopic = envOrDefault("KAFKA_TOPIC", cfg.KafkaTopic)
	cfg.Currency = envOrDefault("CURRENCY", cfg.Currency)
	cfg.Country = envOrDefault("COUNTRY", cfg.Country)
	cfg.MinClientVersion = os.Getenv("MIN_CLIENT_VERSION")

	if err := cfg.loadSettingsFromEnv(); err != nil {
		return nil, err
	}

	// StoreID required in all environments
	if cfg.StoreID == "" {
		return nil, fmt.Errorf("STORE_ID environment variable required")
	}

	// Load credentials based on environment
	var err error
	if cfg.Environment == "production" {
		if cfg.GCPProject == "" {
			return nil, fmt.Errorf("GCP_PROJECT required in production environment")
		}
		err = cfg.loadFromSecretManager(ctx)
	} else {
		cfg.loadCredentialsFromEnv()
	}
	if err != nil {
		return nil, fmt.Errorf("loading credentials: %w", err)
	}

	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// defaults returns a Config with every optional setting filled in.
func defaults() *Config {
	return &Config{
		Port:                          "8080",
		Environment:                   "development",
		LogLevel:                      "info",
		DatabasePath:                  "data/storefront.db",
		KafkaTopic:                    "storefront.purchases",
		PollInterval:                  5 * time.Second,
		MaxPolls:                      120,
		Currency:                      "CLP",
		Country:                       "CL",
		FreeShippingThreshold:         pricing.DefaultFreeShippingThreshold,
		ClearCartOnPreferenceRedirect: true,
		AttemptTimeout:                10 * time.Minute,
		RateLimitRPS:                  5,
		RateLimitBurst:                10,
	}
}

// loadFromFile reads all configuration from a JSON file.
// Used for local development to avoid multiple ENV vars.
func loadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := defaults()
	// Durations are written as strings ("5s", "10m").
	var durations struct {
		PollInterval   string `json:"poll_interval"`
		AttemptTimeout string `json:"attempt_timeout"`
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	if err := json.Unmarshal(data, &durations); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	if durations.PollInterval != "" {
		if cfg.PollInterval, err = time.ParseDuration(durations.PollInterval); err != nil {
			return nil, fmt.Errorf("invalid poll_interval: %w", err)
		}
	}
	if durations.AttemptTimeout != "" {
		if cfg.AttemptTimeout, err = time.ParseDuration(durations.AttemptTimeout); err != nil {
			return nil, fmt.Errorf("invalid attempt_timeout: %w", err)
		}
	}

	if cfg.StoreID == "" {
		return nil, fmt.Errorf("store_id is required")
	}

	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadSettingsFromEnv parses the typed settings from environment variables.
func (c *Config) loadSettingsFromEnv() error {
	var err error
	if v := os.Getenv("POLL_INTERVAL"); v != "" {
		if c.PollInterval, err = time.ParseDuration(v); err != nil {
			return fmt.Errorf("invalid POLL_INTERVAL: %w", err)
		}
	}
	if v := os.Getenv("ATTEMPT_TIMEOUT"); v != "" {
		if c.AttemptTimeout, err = time.ParseDuration(v); err != nil {
			return fmt.Errorf("invalid ATTEMPT_TIMEOUT: %w", err)
		}
	}
	if v := os.Getenv("MAX_POLLS"); v != "" {
		if c.MaxPolls, err = strconv.Atoi(v); err != nil {
			return fmt.Errorf("invalid MAX_POLLS: %w", err)
		}
	}
	if v := os.Getenv("FREE_SHIPPING_THRESHOLD"); v != "" {
		if c.FreeShippingThreshold, err = strconv.ParseInt(v, 10, 64); err != nil {
			return fmt.Errorf("invalid FREE_SHIPPING_THRESHOLD: %w", err)
		}
	}
	if v := os.Getenv("CLEAR_CART_ON_PREFERENCE_REDIRECT"); v != "" {
		if c.ClearCartOnPreferenceRedirect, err = strconv.ParseBool(v); err != nil {
			return fmt.Errorf("invalid CLEAR_CART_ON_PREFERENCE_REDIRECT: %w", err)
		}
	}
	if v := os.Getenv("RATE_LIMIT_RPS"); v != "" {
		if c.RateLimitRPS, err = strconv.ParseFloat(v, 64); err != nil {
			return fmt.Errorf("invalid RATE_LIMIT_RPS: %w", err)
		}
	}
	if v := os.Getenv("RATE_LIMIT_BURST"); v != "" {
		if c.RateLimitBurst, err = strconv.Atoi(v); err != nil {
			return fmt.Errorf("invalid RATE_LIMIT_BURST: %w", err)
		}
	}
	// Parse shipping options JSON if provided
	if v := os.Getenv("SHIPPING_OPTIONS"); v != "" {
		if err := json.Unmarshal([]byte(v), &c.ShippingOptions); err != nil {
			return fmt.Errorf("parsing SHIPPING_OPTIONS JSON: %w", err)
		}
	}
	return nil
}

// loadFromSecretManager fetches credentials from GCP Secret Manager.
// Secret name format: projects/{project}/secrets/{store_id}/versions/latest
func (c *Config) loadFromSecretManager(ctx context.Context) error {
	client, err := secretmanager.NewClient(ctx)
	if err != nil {
		return fmt.Errorf("creating secret manager client: %w", err)
	}
	defer client.Close()

	secretName := fmt.Sprintf("projects/%s/secrets/%s/versions/latest",
		c.GCPProject, c.StoreID)

	result, err := client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
		Name: secretName,
	})
	if err != nil {
		return fmt.Errorf("accessing secret %s: %w", secretName, err)
	}

	if err := json.Unmarshal(result.Payload.Data, &c.Credentials); err != nil {
		return fmt.Errorf("parsing secret JSON: %w", err)
	}

	return nil
}

// loadCredentialsFromEnv reads credentials from individual environment
// variables. Used in development mode for local testing.
func (c *Config) loadCredentialsFromEnv() {
	sandbox, _ := strconv.ParseBool(os.Getenv("MERCADOPAGO_SANDBOX"))
	c.Credentials = Credentials{
		WooCommerce: WooCommerceCredentials{
			StoreURL:       os.Getenv("WOOCOMMERCE_STORE_URL"),
			ConsumerKey:    os.Getenv("WOOCOMMERCE_CONSUMER_KEY"),
			ConsumerSecret: os.Getenv("WOOCOMMERCE_CONSUMER_SECRET"),
		},
		Webpay: WebpayCredentials{
			CommerceCode: os.Getenv("WEBPAY_COMMERCE_CODE"),
			APIKey:       os.Getenv("WEBPAY_API_KEY"),
			Environment:  os.Getenv("WEBPAY_ENVIRONMENT"),
		},
		MercadoPago: MercadoPagoCredentials{
			AccessToken:     os.Getenv("MERCADOPAGO_ACCESS_TOKEN"),
			Sandbox:         sandbox,
			NotificationURL: os.Getenv("MERCADOPAGO_NOTIFICATION_URL"),
		},
	}
}

// finish derives computed values and validates.
func (c *Config) finish() error {
	if len(c.ShippingOptions) == 0 {
		c.ShippingOptions = pricing.DefaultOptions()
	}
	c.PublicBaseURL = strings.TrimSuffix(c.PublicBaseURL, "/")

	switch c.Credentials.Webpay.Environment {
	case "", WebpayIntegration:
		c.Credentials.Webpay.Environment = WebpayIntegration
		c.Credentials.Webpay.BaseURL = webpay.IntegrationURL
	case WebpayProduction:
		c.Credentials.Webpay.BaseURL = webpay.ProductionURL
	default:
		return fmt.Errorf("webpay environment must be %q or %q, got %q",
			WebpayIntegration, WebpayProduction, c.Credentials.Webpay.Environment)
	}

	return c.validate()
}

// validate checks that all required configuration fields are present.
func (c *Config) validate() error {
	woo := c.Credentials.WooCommerce
	if woo.StoreURL == "" {
		return fmt.Errorf("woocommerce store_url is required")
	}
	if woo.ConsumerKey == "" || woo.ConsumerSecret == "" {
		return fmt.Errorf("woocommerce consumer_key and consumer_secret are required")
	}
	if err := validURL("woocommerce store_url", woo.StoreURL); err != nil {
		return err
	}

	if c.PublicBaseURL == "" {
		return fmt.Errorf("public_base_url is required")
	}
	if err := validURL("public_base_url", c.PublicBaseURL); err != nil {
		return err
	}

	wp, mp := c.Credentials.Webpay, c.Credentials.MercadoPago
	if !wp.Enabled() && !mp.Enabled() {
		return fmt.Errorf("at least one payment gateway (webpay or mercadopago) must be configured")
	}
	if wp.Enabled() && wp.APIKey == "" {
		return fmt.Errorf("webpay api_key is required with a commerce code")
	}
	if c.Environment == "production" && wp.Enabled() && wp.Environment != WebpayProduction {
		return fmt.Errorf("webpay integration environment cannot be used in production")
	}
	if mp.NotificationURL != "" {
		if err := validURL("mercadopago notification_url", mp.NotificationURL); err != nil {
			return err
		}
	}

	if c.PollInterval <= 0 || c.MaxPolls <= 0 {
		return fmt.Errorf("poll interval and max polls must be positive")
	}
	if c.FreeShippingThreshold < 0 {
		return fmt.Errorf("free_shipping_threshold cannot be negative")
	}
	if _, err := pricing.NewCatalog(c.ShippingOptions, c.FreeShippingThreshold); err != nil {
		return fmt.Errorf("invalid shipping options: %w", err)
	}
	if c.RateLimitRPS < 0 {
		return fmt.Errorf("rate_limit_rps cannot be negative")
	}
	return nil
}

// WebpayReturnURL is where Webpay sends the buyer back.
func (c *Config) WebpayReturnURL() string {
	return c.PublicBaseURL + "/payments/webpay/return"
}

// MercadoPagoBackURL is the result route for one Mercado Pago view.
func (c *Config) MercadoPagoBackURL(view string) string {
	return c.PublicBaseURL + "/payments/mercadopago/" + view
}

// SecureCookies reports whether cookies need the Secure flag.
func (c *Config) SecureCookies() bool {
	return strings.HasPrefix(c.PublicBaseURL, "https://")
}

func validURL(name, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid %s: %q is not an absolute http(s) URL", name, raw)
	}
	return nil
}

// splitList splits a comma-separated list, dropping blanks.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// envOrDefault returns the environment variable value or the default if not set.
func envOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
