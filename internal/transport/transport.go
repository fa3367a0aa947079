// Package transport builds the HTTP client used against the store backend.
package transport

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	utls "github.com/refraction-networking/utls"
	"golang.org/x/net/http2"
)

// Shops behind CDNs rate limit Go's TLS fingerprint. The transport dials
// with uTLS using Chrome's ClientHello and lets ALPN pick the protocol per
// host. Hosts that answer with http/1.1 are remembered and go straight to
// the HTTP/1.1 transport afterwards.
//
// A request is only moved to HTTP/1.1 when the h2 dial itself reported a
// non-h2 ALPN result. Anything else is returned to the caller: an order
// POST must never be replayed on a second transport.

// errNotH2 means the server negotiated something other than h2. No request
// bytes were written.
var errNotH2 = errors.New("transport: server did not negotiate h2")

const (
	protoH2 = "h2"
	protoH1 = "http/1.1"
)

// Options tune the Chrome transport.
type Options struct {
	// DialTimeout bounds TCP connect plus TLS handshake.
	DialTimeout time.Duration
	// RootCAs overrides the system roots. Tests use it.
	RootCAs *x509.CertPool
}

// NewClient returns an http.Client over NewChromeTransport.
func NewClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: NewChromeTransport(Options{DialTimeout: timeout}),
	}
}

// NewChromeTransport creates an http.RoundTripper that presents Chrome's TLS
// fingerprint. Plain http:// requests use a standard HTTP/1.1 transport.
func NewChromeTransport(opts Options) *ChromeTransport {
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 30 * time.Second
	}
	t := &ChromeTransport{
		dialer:  &net.Dialer{Timeout: opts.DialTimeout},
		roots:   opts.RootCAs,
		timeout: opts.DialTimeout,
		protos:  make(map[string]string),
	}

	t.h2 = &http2.Transport{
		DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
			conn, err := t.dial(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			if proto := conn.ConnectionState().NegotiatedProtocol; proto != protoH2 {
				conn.Close()
				t.remember(addr, protoH1)
				return nil, errNotH2
			}
			t.remember(addr, protoH2)
			return conn, nil
		},
	}
	t.h1 = &http.Transport{
		Proxy:       http.ProxyFromEnvironment,
		DialContext: t.dialer.DialContext,
		DialTLSContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			conn, err := t.dial(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			return conn, nil
		},
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     90 * time.Second,
	}
	return t
}

// ChromeTransport routes requests to an HTTP/2 or HTTP/1.1 transport, both
// dialing with a Chrome TLS fingerprint.
type ChromeTransport struct {
	dialer  *net.Dialer
	roots   *x509.CertPool
	timeout time.Duration

	h2 *http2.Transport
	h1 *http.Transport

	mu     sync.Mutex
	protos map[string]string // host:port -> negotiated protocol
}

// RoundTrip implements http.RoundTripper.
func (t *ChromeTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL.Scheme != "https" {
		return t.h1.RoundTrip(req)
	}

	addr := hostPort(req.URL.Host)
	if t.protocol(addr) == protoH1 {
		return t.h1.RoundTrip(req)
	}

	resp, err := t.h2.RoundTrip(req)
	if errors.Is(err, errNotH2) {
		return t.h1.RoundTrip(req)
	}
	return resp, err
}

// CloseIdleConnections closes idle connections on both transports.
func (t *ChromeTransport) CloseIdleConnections() {
	t.h2.CloseIdleConnections()
	t.h1.CloseIdleConnections()
}

func (t *ChromeTransport) protocol(addr string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.protos[addr]
}

func (t *ChromeTransport) remember(addr, proto string) {
	t.mu.Lock()
	t.protos[addr] = proto
	t.mu.Unlock()
}

// dial establishes a TLS connection with Chrome's fingerprint and default
// ALPN (h2, http/1.1).
func (t *ChromeTransport) dial(ctx context.Context, network, addr string) (*utls.UConn, error) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}

	conn, err := t.dialer.DialContext(ctx, network, addr)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	tlsConn := utls.UClient(conn, &utls.Config{
		ServerName: host,
		RootCAs:    t.roots,
	}, utls.HelloChrome_Auto)

	hctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	if err := tlsConn.HandshakeContext(hctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("tls handshake: %w", err)
	}
	return tlsConn, nil
}

// hostPort adds the default https port when the URL host has none.
func hostPort(host string) string {
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host
	}
	return net.JoinHostPort(host, "443")
}
