package session

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// CookieName carries the cart id for browser navigations.
const CookieName = "cart_id"

const cookieMaxAge = 30 * 24 * time.Hour

type contextKey struct{}

// Config controls the session middleware.
type Config struct {
	// MinClientVersion refuses script clients older than this. Empty
	// disables the gate.
	MinClientVersion string
	// SecureCookie sets the Secure flag; on outside development.
	SecureCookie bool
}

// Middleware resolves the cart id for every request and stores it in the
// request context. The header wins over the cookie; with neither, a new id
// is minted and set as cookie.
//
// Infrastructure paths are skipped. Gateway return paths read an existing
// cookie but never mint one or apply the version gate: the gateway, not
// our client, shapes that request.
func Middleware(cfg Config, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isExemptPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			if isReturnPath(r.URL.Path) {
				if id := cookieCartID(r); id != "" {
					r = r.WithContext(WithCartID(r.Context(), id))
				}
				next.ServeHTTP(w, r)
				return
			}

			var client Client
			if header := r.Header.Get(HeaderName); header != "" {
				var err error
				client, err = ParseHeader(header)
				if err != nil {
					logger.Warn("invalid session header",
						slog.String("header", header),
						slog.String("error", err.Error()))
					writeSessionError(w, http.StatusBadRequest, CodeInvalidSession, err.Error())
					return
				}
				if client.CartID != "" && !validID(client.CartID) {
					writeSessionError(w, http.StatusBadRequest, CodeInvalidSession, "cart must be a UUID")
					return
				}
			}

			if err := CheckVersion(cfg.MinClientVersion, client.Version); err != nil {
				var verErr *VersionError
				if errors.As(err, &verErr) {
					status := http.StatusBadRequest
					if verErr.Code == CodeVersionUnsupported {
						status = http.StatusUpgradeRequired
					}
					writeSessionError(w, status, verErr.Code, verErr.Message)
					return
				}
			}

			id := client.CartID
			if id == "" {
				id = cookieCartID(r)
			}
			if id == "" {
				id = uuid.NewString()
				http.SetCookie(w, &http.Cookie{
					Name:     CookieName,
					Value:    id,
					Path:     "/",
					MaxAge:   int(cookieMaxAge.Seconds()),
					HttpOnly: true,
					Secure:   cfg.SecureCookie,
					SameSite: http.SameSiteLaxMode,
				})
				logger.Debug("cart id minted", slog.String("cart_id", id))
			}

			next.ServeHTTP(w, r.WithContext(WithCartID(r.Context(), id)))
		})
	}
}

// WithCartID stores id in ctx.
func WithCartID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// CartID returns the cart id resolved for the request, or "".
func CartID(ctx context.Context) string {
	id, _ := ctx.Value(contextKey{}).(string)
	return id
}

func cookieCartID(r *http.Request) string {
	c, err := r.Cookie(CookieName)
	if err != nil || !validID(c.Value) {
		return ""
	}
	return c.Value
}

func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// isExemptPath returns true for paths that carry no cart.
func isExemptPath(path string) bool {
	switch {
	case path == "/health" || path == "/healthz" || path == "/metrics":
		return true
	case path == "/mcp" || strings.HasPrefix(path, "/mcp/"):
		return true
	default:
		return false
	}
}

func isReturnPath(path string) bool {
	return strings.HasPrefix(path, "/payments/")
}

// writeSessionError writes the standard error envelope.
func writeSessionError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}{}
	resp.Error.Code = code
	resp.Error.Message = message

	json.NewEncoder(w).Encode(resp)
}
