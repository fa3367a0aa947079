package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCounters(t *testing.T) {
	m := New()

	m.Submission("webpay", "redirect")
	m.Submission("webpay", "redirect")
	m.Return("webpay", "declined")
	m.Poll("processing")
	m.Notification(nil)
	m.Notification(errors.New("broker down"))

	if got := testutil.ToFloat64(m.Submissions.WithLabelValues("webpay", "redirect")); got != 2 {
		t.Errorf("submissions = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.Confirmations.WithLabelValues("webpay", "declined")); got != 1 {
		t.Errorf("returns = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.Notifications.WithLabelValues("error")); got != 1 {
		t.Errorf("failed notifications = %v, want 1", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.Submission("webpay", "redirect")
	m.Return("webpay", "success")
	m.Poll("pending")
	m.Notification(nil)
	m.ObserveRequest("cart", 200, time.Millisecond)
}

func TestHandler(t *testing.T) {
	m := New()
	m.ObserveRequest("GET /cart", 200, 12*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `storefront_http_requests_total{handler="GET /cart",status="200"} 1`) {
		t.Error("exposition missing request counter")
	}
}
