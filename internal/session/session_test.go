package session

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

const testCart = "3f0c9d4e-8a1b-4c2d-9e3f-0a1b2c3d4e5f"

func TestParseHeader(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		want    Client
		wantErr bool
	}{
		{
			name:   "cart only",
			header: `cart="` + testCart + `"`,
			want:   Client{CartID: testCart},
		},
		{
			name:   "cart and version",
			header: `cart="` + testCart + `", version="1.4.0"`,
			want:   Client{CartID: testCart, Version: "1.4.0"},
		},
		{
			name:   "version as token with params",
			header: `version=v1.4.0;build=7`,
			want:   Client{Version: "v1.4.0"},
		},
		{
			name:   "unknown members ignored",
			header: `other="x", cart="` + testCart + `"`,
			want:   Client{CartID: testCart},
		},
		{
			name:    "empty",
			header:  "   ",
			wantErr: true,
		},
		{
			name:    "malformed",
			header:  `cart=`,
			wantErr: true,
		},
		{
			name:    "inner list",
			header:  `cart=("a" "b")`,
			wantErr: true,
		},
		{
			name:    "integer cart",
			header:  `cart=42`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseHeader(tt.header)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseHeader() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseHeader() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestCheckVersion(t *testing.T) {
	tests := []struct {
		name     string
		min      string
		client   string
		wantCode string
	}{
		{"no minimum", "", "0.1.0", ""},
		{"no client version", "1.4.0", "", ""},
		{"equal", "1.4.0", "1.4.0", ""},
		{"newer", "v1.4.0", "v1.10.0", ""},
		{"older", "1.4.0", "1.3.9", CodeVersionUnsupported},
		{"garbage", "1.4.0", "latest", CodeInvalidVersion},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckVersion(tt.min, tt.client)
			if tt.wantCode == "" {
				if err != nil {
					t.Errorf("CheckVersion() error = %v", err)
				}
				return
			}
			var verErr *VersionError
			if !errors.As(err, &verErr) || verErr.Code != tt.wantCode {
				t.Errorf("CheckVersion() error = %v, want code %s", err, tt.wantCode)
			}
		})
	}
}

func serve(t *testing.T, cfg Config, req *http.Request) (*httptest.ResponseRecorder, string) {
	t.Helper()
	var seen string
	h := Middleware(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = CartID(r.Context())
			w.WriteHeader(http.StatusOK)
		}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w, seen
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	json.NewDecoder(w.Body).Decode(&resp)
	return resp.Error.Code
}

func TestMiddleware_HeaderWins(t *testing.T) {
	req := httptest.NewRequest("GET", "/cart", nil)
	req.Header.Set(HeaderName, `cart="`+testCart+`"`)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: "11111111-2222-3333-4444-555555555555"})

	w, seen := serve(t, Config{}, req)
	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d", w.Code)
	}
	if seen != testCart {
		t.Errorf("CartID = %q, want %q", seen, testCart)
	}
	if len(w.Result().Cookies()) != 0 {
		t.Error("cookie set although the header carried a cart")
	}
}

func TestMiddleware_CookieFallback(t *testing.T) {
	req := httptest.NewRequest("GET", "/checkout", nil)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: testCart})

	_, seen := serve(t, Config{}, req)
	if seen != testCart {
		t.Errorf("CartID = %q, want %q", seen, testCart)
	}
}

func TestMiddleware_MintsCookie(t *testing.T) {
	req := httptest.NewRequest("GET", "/cart", nil)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: "not-a-uuid"})

	w, seen := serve(t, Config{SecureCookie: true}, req)
	if seen == "" || seen == "not-a-uuid" {
		t.Fatalf("CartID = %q, want minted id", seen)
	}
	cookies := w.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Value != seen {
		t.Fatalf("cookies = %+v", cookies)
	}
	if !cookies[0].HttpOnly || !cookies[0].Secure || cookies[0].SameSite != http.SameSiteLaxMode {
		t.Errorf("cookie flags = %+v", cookies[0])
	}
}

func TestMiddleware_Rejections(t *testing.T) {
	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantCode   string
	}{
		{"malformed header", `cart=`, http.StatusBadRequest, CodeInvalidSession},
		{"cart not uuid", `cart="abc"`, http.StatusBadRequest, CodeInvalidSession},
		{"old client", `version="1.2.0"`, http.StatusUpgradeRequired, CodeVersionUnsupported},
		{"bad version", `version="soon"`, http.StatusBadRequest, CodeInvalidVersion},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/checkout/submit", nil)
			req.Header.Set(HeaderName, tt.header)

			w, _ := serve(t, Config{MinClientVersion: "1.4.0"}, req)
			if w.Code != tt.wantStatus {
				t.Errorf("Status = %d, want %d", w.Code, tt.wantStatus)
			}
			if got := errorCode(t, w); got != tt.wantCode {
				t.Errorf("code = %q, want %q", got, tt.wantCode)
			}
		})
	}
}

func TestMiddleware_ExemptPaths(t *testing.T) {
	for _, path := range []string{"/health", "/healthz", "/metrics", "/mcp"} {
		t.Run(path, func(t *testing.T) {
			req := httptest.NewRequest("GET", path, nil)
			req.Header.Set(HeaderName, `version="0.0.1"`)

			w, seen := serve(t, Config{MinClientVersion: "1.4.0"}, req)
			if w.Code != http.StatusOK {
				t.Errorf("Status = %d, want 200", w.Code)
			}
			if seen != "" || len(w.Result().Cookies()) != 0 {
				t.Error("exempt path got a cart id")
			}
		})
	}
}

func TestMiddleware_ReturnPathsReadCookieOnly(t *testing.T) {
	req := httptest.NewRequest("GET", "/payments/mercadopago/success", nil)
	req.Header.Set(HeaderName, `version="0.0.1"`)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: testCart})

	w, seen := serve(t, Config{MinClientVersion: "1.4.0"}, req)
	if w.Code != http.StatusOK {
		t.Errorf("Status = %d, want 200", w.Code)
	}
	if seen != testCart {
		t.Errorf("CartID = %q, want %q", seen, testCart)
	}

	req = httptest.NewRequest("POST", "/payments/webpay/return", nil)
	w, seen = serve(t, Config{}, req)
	if seen != "" || len(w.Result().Cookies()) != 0 {
		t.Error("return path minted a cart id")
	}
}
