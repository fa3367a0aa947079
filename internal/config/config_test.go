package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"storefront-checkout/internal/webpay"
)

var configEnvVars = []string{
	"CONFIG_FILE", "PORT", "ENVIRONMENT", "LOG_LEVEL", "PUBLIC_BASE_URL",
	"DATABASE_PATH", "GCP_PROJECT", "STORE_ID", "KAFKA_BROKERS", "KAFKA_TOPIC",
	"CURRENCY", "COUNTRY", "MIN_CLIENT_VERSION", "POLL_INTERVAL", "ATTEMPT_TIMEOUT",
	"MAX_POLLS", "FREE_SHIPPING_THRESHOLD", "CLEAR_CART_ON_PREFERENCE_REDIRECT",
	"RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "SHIPPING_OPTIONS",
	"WOOCOMMERCE_STORE_URL", "WOOCOMMERCE_CONSUMER_KEY", "WOOCOMMERCE_CONSUMER_SECRET",
	"WEBPAY_COMMERCE_CODE", "WEBPAY_API_KEY", "WEBPAY_ENVIRONMENT",
	"MERCADOPAGO_ACCESS_TOKEN", "MERCADOPAGO_SANDBOX", "MERCADOPAGO_NOTIFICATION_URL",
}

// setEnv clears every variable Load reads, then applies vars.
// t.Setenv restores the previous values when the test ends.
func setEnv(t *testing.T, vars map[string]string) {
	t.Helper()
	for _, k := range configEnvVars {
		t.Setenv(k, "")
	}
	for k, v := range vars {
		t.Setenv(k, v)
	}
}

func baseEnv() map[string]string {
	return map[string]string{
		"ENVIRONMENT":                 "development",
		"STORE_ID":                    "tienda-sur",
		"PUBLIC_BASE_URL":             "https://shop.example.cl/",
		"WOOCOMMERCE_STORE_URL":       "https://wp.example.cl",
		"WOOCOMMERCE_CONSUMER_KEY":    "ck_test123",
		"WOOCOMMERCE_CONSUMER_SECRET": "cs_test456",
		"WEBPAY_COMMERCE_CODE":        "597055555532",
		"WEBPAY_API_KEY":              "wp_key",
	}
}

func TestLoadFromEnv(t *testing.T) {
	env := baseEnv()
	env["PORT"] = "9090"
	env["LOG_LEVEL"] = "debug"
	env["KAFKA_BROKERS"] = "kafka-1:9092, kafka-2:9092,"
	env["POLL_INTERVAL"] = "2s"
	env["MAX_POLLS"] = "30"
	env["CLEAR_CART_ON_PREFERENCE_REDIRECT"] = "false"
	env["MERCADOPAGO_ACCESS_TOKEN"] = "APP_USR-1"
	env["MERCADOPAGO_SANDBOX"] = "true"
	env["SHIPPING_OPTIONS"] = `[{"id":"express","name":"Express","flat_cost":8990}]`
	setEnv(t, env)

	cfg, err := Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	// Verify server settings
	if cfg.Port != "9090" {
		t.Errorf("Port = %s, want 9090", cfg.Port)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %s, want debug", cfg.LogLevel)
	}
	if cfg.PublicBaseURL != "https://shop.example.cl" {
		t.Errorf("PublicBaseURL = %s, want trailing slash trimmed", cfg.PublicBaseURL)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "kafka-2:9092" {
		t.Errorf("KafkaBrokers = %v", cfg.KafkaBrokers)
	}
	if cfg.PollInterval != 2*time.Second || cfg.MaxPolls != 30 {
		t.Errorf("polling = %v x %d", cfg.PollInterval, cfg.MaxPolls)
	}
	if cfg.ClearCartOnPreferenceRedirect {
		t.Error("ClearCartOnPreferenceRedirect = true, want false")
	}
	if len(cfg.ShippingOptions) != 1 || cfg.ShippingOptions[0].ID != "express" {
		t.Errorf("ShippingOptions = %+v", cfg.ShippingOptions)
	}

	// Verify credentials
	if cfg.Credentials.WooCommerce.ConsumerKey != "ck_test123" {
		t.Errorf("ConsumerKey = %s, want ck_test123", cfg.Credentials.WooCommerce.ConsumerKey)
	}
	if !cfg.Credentials.MercadoPago.Enabled() || !cfg.Credentials.MercadoPago.Sandbox {
		t.Errorf("MercadoPago = %+v", cfg.Credentials.MercadoPago)
	}

	// Verify derived values
	if cfg.Credentials.Webpay.Environment != WebpayIntegration {
		t.Errorf("Webpay environment = %s, want integration", cfg.Credentials.Webpay.Environment)
	}
	if cfg.Credentials.Webpay.BaseURL != webpay.IntegrationURL {
		t.Errorf("Webpay BaseURL = %s", cfg.Credentials.Webpay.BaseURL)
	}
	if got := cfg.WebpayReturnURL(); got != "https://shop.example.cl/payments/webpay/return" {
		t.Errorf("WebpayReturnURL() = %s", got)
	}
	if got := cfg.MercadoPagoBackURL("pending"); got != "https://shop.example.cl/payments/mercadopago/pending" {
		t.Errorf("MercadoPagoBackURL() = %s", got)
	}
	if !cfg.SecureCookies() {
		t.Error("SecureCookies() = false for https base URL")
	}
}

func TestLoadDefaults(t *testing.T) {
	setEnv(t, baseEnv())

	cfg, err := Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Port != "8080" || cfg.Currency != "CLP" || cfg.Country != "CL" {
		t.Errorf("defaults = port %s currency %s country %s", cfg.Port, cfg.Currency, cfg.Country)
	}
	if cfg.AttemptTimeout != 10*time.Minute {
		t.Errorf("AttemptTimeout = %v, want 10m", cfg.AttemptTimeout)
	}
	if !cfg.ClearCartOnPreferenceRedirect {
		t.Error("ClearCartOnPreferenceRedirect should default to true")
	}
	if len(cfg.ShippingOptions) != 2 {
		t.Errorf("ShippingOptions = %+v, want defaults", cfg.ShippingOptions)
	}
	if len(cfg.KafkaBrokers) != 0 {
		t.Errorf("KafkaBrokers = %v, want none", cfg.KafkaBrokers)
	}
	if cfg.Credentials.MercadoPago.Enabled() {
		t.Error("MercadoPago should be disabled without an access token")
	}
}

func TestLoadMissingStoreID(t *testing.T) {
	env := baseEnv()
	delete(env, "STORE_ID")
	setEnv(t, env)

	_, err := Load(context.Background())
	if err == nil || !strings.Contains(err.Error(), "STORE_ID") {
		t.Errorf("expected STORE_ID error, got: %v", err)
	}
}

func TestLoadProductionRequiresProject(t *testing.T) {
	env := baseEnv()
	env["ENVIRONMENT"] = "production"
	setEnv(t, env)

	_, err := Load(context.Background())
	if err == nil || !strings.Contains(err.Error(), "GCP_PROJECT") {
		t.Errorf("expected GCP_PROJECT error, got: %v", err)
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name    string
		change  map[string]string
		wantErr string
	}{
		{
			name:    "missing store_url",
			change:  map[string]string{"WOOCOMMERCE_STORE_URL": ""},
			wantErr: "store_url is required",
		},
		{
			name:    "missing consumer secret",
			change:  map[string]string{"WOOCOMMERCE_CONSUMER_SECRET": ""},
			wantErr: "consumer_secret are required",
		},
		{
			name:    "relative store_url",
			change:  map[string]string{"WOOCOMMERCE_STORE_URL": "wp.example.cl"},
			wantErr: "not an absolute http(s) URL",
		},
		{
			name:    "missing public base url",
			change:  map[string]string{"PUBLIC_BASE_URL": ""},
			wantErr: "public_base_url is required",
		},
		{
			name:    "no gateway",
			change:  map[string]string{"WEBPAY_COMMERCE_CODE": ""},
			wantErr: "at least one payment gateway",
		},
		{
			name:    "webpay without key",
			change:  map[string]string{"WEBPAY_API_KEY": ""},
			wantErr: "webpay api_key is required",
		},
		{
			name:    "unknown webpay environment",
			change:  map[string]string{"WEBPAY_ENVIRONMENT": "staging"},
			wantErr: "webpay environment must be",
		},
		{
			name:    "bad poll interval",
			change:  map[string]string{"POLL_INTERVAL": "soon"},
			wantErr: "invalid POLL_INTERVAL",
		},
		{
			name:    "zero max polls",
			change:  map[string]string{"MAX_POLLS": "0"},
			wantErr: "max polls must be positive",
		},
		{
			name:    "negative threshold",
			change:  map[string]string{"FREE_SHIPPING_THRESHOLD": "-1"},
			wantErr: "free_shipping_threshold cannot be negative",
		},
		{
			name:    "bad shipping options JSON",
			change:  map[string]string{"SHIPPING_OPTIONS": "{"},
			wantErr: "SHIPPING_OPTIONS",
		},
		{
			name:    "bad notification url",
			change:  map[string]string{"MERCADOPAGO_NOTIFICATION_URL": "/hooks/mp"},
			wantErr: "mercadopago notification_url",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := baseEnv()
			for k, v := range tt.change {
				env[k] = v
			}
			setEnv(t, env)

			_, err := Load(context.Background())
			if err == nil {
				t.Fatalf("expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want containing %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestMercadoPagoOnly(t *testing.T) {
	env := baseEnv()
	env["WEBPAY_COMMERCE_CODE"] = ""
	env["WEBPAY_API_KEY"] = ""
	env["MERCADOPAGO_ACCESS_TOKEN"] = "APP_USR-1"
	setEnv(t, env)

	cfg, err := Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Credentials.Webpay.Enabled() {
		t.Error("Webpay should be disabled")
	}
}

func TestValidateProductionWebpay(t *testing.T) {
	cfg := defaults()
	cfg.Environment = "production"
	cfg.PublicBaseURL = "https://shop.example.cl"
	cfg.Credentials = Credentials{
		WooCommerce: WooCommerceCredentials{StoreURL: "https://wp.example.cl", ConsumerKey: "ck", ConsumerSecret: "cs"},
		Webpay:      WebpayCredentials{CommerceCode: "597055555532", APIKey: "k"},
	}

	err := cfg.finish()
	if err == nil || !strings.Contains(err.Error(), "integration environment cannot be used in production") {
		t.Fatalf("expected production webpay error, got: %v", err)
	}

	cfg.Credentials.Webpay.Environment = WebpayProduction
	if err := cfg.finish(); err != nil {
		t.Fatalf("finish() error: %v", err)
	}
	if cfg.Credentials.Webpay.BaseURL != webpay.ProductionURL {
		t.Errorf("BaseURL = %s, want production", cfg.Credentials.Webpay.BaseURL)
	}
}

func TestSplitList(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"a", 1},
		{"a,b", 2},
		{" a , ,b ,", 2},
	}
	for _, tt := range tests {
		if got := splitList(tt.in); len(got) != tt.want {
			t.Errorf("splitList(%q) = %v, want %d items", tt.in, got, tt.want)
		}
	}
}

func TestEnvOrDefault(t *testing.T) {
	t.Setenv("TEST_ENV_VAR", "custom")
	if got := envOrDefault("TEST_ENV_VAR", "default"); got != "custom" {
		t.Errorf("envOrDefault = %q, want custom", got)
	}

	t.Setenv("TEST_ENV_VAR", "")
	if got := envOrDefault("TEST_ENV_VAR", "default"); got != "default" {
		t.Errorf("envOrDefault = %q, want default", got)
	}
}

func TestLoadFromFile(t *testing.T) {
	content := `{
		"port": "9090",
		"environment": "development",
		"store_id": "file-store",
		"public_base_url": "http://localhost:9090",
		"poll_interval": "1s",
		"attempt_timeout": "3m",
		"max_polls": 10,
		"credentials": {
			"woocommerce": {
				"store_url": "https://wp.example.cl",
				"consumer_key": "ck_file",
				"consumer_secret": "cs_file"
			},
			"mercadopago": {"access_token": "TEST-1", "sandbox": true}
		}
	}`
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	setEnv(t, map[string]string{"CONFIG_FILE": path})

	cfg, err := Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Port != "9090" || cfg.StoreID != "file-store" {
		t.Errorf("cfg = port %s store %s", cfg.Port, cfg.StoreID)
	}
	if cfg.PollInterval != time.Second || cfg.AttemptTimeout != 3*time.Minute || cfg.MaxPolls != 10 {
		t.Errorf("durations = %v %v %d", cfg.PollInterval, cfg.AttemptTimeout, cfg.MaxPolls)
	}
	if cfg.Currency != "CLP" {
		t.Errorf("Currency = %s, want default CLP", cfg.Currency)
	}
	if !cfg.Credentials.MercadoPago.Sandbox {
		t.Error("MercadoPago sandbox not loaded")
	}
	if cfg.SecureCookies() {
		t.Error("SecureCookies() = true for http base URL")
	}
}

func TestLoadFromFileErrors(t *testing.T) {
	writeFile := func(t *testing.T, content string) string {
		path := filepath.Join(t.TempDir(), "config.json")
		if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
			t.Fatalf("failed to write config file: %v", err)
		}
		return path
	}

	t.Run("file not found", func(t *testing.T) {
		setEnv(t, map[string]string{"CONFIG_FILE": "/nonexistent/config.json"})
		if _, err := Load(context.Background()); err == nil {
			t.Error("expected error for nonexistent file")
		}
	})

	t.Run("invalid JSON", func(t *testing.T) {
		setEnv(t, map[string]string{"CONFIG_FILE": writeFile(t, "{invalid json")})
		if _, err := Load(context.Background()); err == nil {
			t.Error("expected error for invalid JSON")
		}
	})

	t.Run("missing store_id", func(t *testing.T) {
		setEnv(t, map[string]string{"CONFIG_FILE": writeFile(t, `{"port": "8080"}`)})
		_, err := Load(context.Background())
		if err == nil || !strings.Contains(err.Error(), "store_id is required") {
			t.Errorf("expected store_id error, got: %v", err)
		}
	})

	t.Run("bad duration", func(t *testing.T) {
		setEnv(t, map[string]string{"CONFIG_FILE": writeFile(t, `{"store_id": "s", "poll_interval": "often"}`)})
		_, err := Load(context.Background())
		if err == nil || !strings.Contains(err.Error(), "invalid poll_interval") {
			t.Errorf("expected poll_interval error, got: %v", err)
		}
	})
}
