package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"storefront-checkout/internal/cart"
	"storefront-checkout/internal/model"
	"storefront-checkout/internal/payment"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "data", "checkout.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCartRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	items := []cart.Item{
		{ProductID: 1, Name: "Carpa", UnitPrice: 140000, Quantity: 1, VariantOptions: map[string]string{"size": "2p"}},
		{ProductID: 2, Name: "Linterna", UnitPrice: 9990, Quantity: 3},
	}
	if err := s.SaveItems(ctx, "c1", items); err != nil {
		t.Fatalf("SaveItems() error = %v", err)
	}

	got, err := s.LoadItems(ctx, "c1")
	if err != nil {
		t.Fatalf("LoadItems() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].VariantOptions["size"] != "2p" || got[1].VariantOptions != nil {
		t.Errorf("options = %v / %v", got[0].VariantOptions, got[1].VariantOptions)
	}
	if got[1].Quantity != 3 || got[1].Name != "Linterna" {
		t.Errorf("second line = %+v", got[1])
	}

	if err := s.SaveItems(ctx, "c1", items[1:]); err != nil {
		t.Fatalf("SaveItems() error = %v", err)
	}
	got, _ = s.LoadItems(ctx, "c1")
	if len(got) != 1 || got[0].ProductID != 2 {
		t.Errorf("after replace = %+v", got)
	}

	if err := s.DeleteCart(ctx, "c1"); err != nil {
		t.Fatalf("DeleteCart() error = %v", err)
	}
	got, _ = s.LoadItems(ctx, "c1")
	if len(got) != 0 {
		t.Errorf("after delete = %+v", got)
	}
}

func TestCart_RejectsDuplicateKeys(t *testing.T) {
	s := openTestStore(t)
	dup := []cart.Item{
		{ProductID: 1, UnitPrice: 1, Quantity: 1},
		{ProductID: 1, UnitPrice: 1, Quantity: 2},
	}
	if err := s.SaveItems(context.Background(), "c1", dup); err == nil {
		t.Error("SaveItems() should reject two lines with one identity key")
	}
}

func TestCartService_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkout.db")
	ctx := context.Background()

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	svc := cart.NewService(s)
	svc.Add(ctx, "c1", cart.Item{ProductID: 1, UnitPrice: 10000}, 2)
	s.Close()

	s, err = Open(path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer s.Close()

	c, err := cart.NewService(s).Load(ctx, "c1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if c.Total() != 20000 {
		t.Errorf("Total() = %d, want 20000", c.Total())
	}
}

func TestMarkers(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	m := payment.Marker{
		BuyOrder:   "BO1",
		OrderID:    812,
		OrderKey:   "wc_order_abc",
		Gateway:    payment.GatewayWebpay,
		Amount:     145990,
		SessionID:  "sess",
		CheckoutID: "c1",
	}
	if err := s.PutMarker(ctx, m); err != nil {
		t.Fatalf("PutMarker() error = %v", err)
	}
	if err := s.PutMarker(ctx, m); !errors.Is(err, payment.ErrDuplicateBuyOrder) {
		t.Errorf("duplicate PutMarker() error = %v, want ErrDuplicateBuyOrder", err)
	}

	if _, err := s.MarkerByToken(ctx, "tok"); !errors.Is(err, payment.ErrMarkerNotFound) {
		t.Errorf("MarkerByToken() before token error = %v", err)
	}
	if err := s.SetMarkerToken(ctx, "BO1", "tok"); err != nil {
		t.Fatalf("SetMarkerToken() error = %v", err)
	}

	got, err := s.MarkerByToken(ctx, "tok")
	if err != nil {
		t.Fatalf("MarkerByToken() error = %v", err)
	}
	if got.OrderID != 812 || got.Amount != 145990 || got.CheckoutID != "c1" || got.CreatedAt.IsZero() {
		t.Errorf("marker = %+v", got)
	}

	if err := s.DeleteMarker(ctx, "BO1"); err != nil {
		t.Fatalf("DeleteMarker() error = %v", err)
	}
	if _, err := s.MarkerByBuyOrder(ctx, "BO1"); !errors.Is(err, payment.ErrMarkerNotFound) {
		t.Errorf("after delete error = %v, want ErrMarkerNotFound", err)
	}
	if err := s.SetMarkerToken(ctx, "BO1", "tok2"); !errors.Is(err, payment.ErrMarkerNotFound) {
		t.Errorf("SetMarkerToken() on missing marker error = %v", err)
	}
}

func TestDeleteMarkersBefore(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	s.PutMarker(ctx, payment.Marker{BuyOrder: "old", Gateway: "webpay", CreatedAt: now.Add(-48 * time.Hour)})
	s.PutMarker(ctx, payment.Marker{BuyOrder: "paid", Gateway: "webpay", CreatedAt: now.Add(-48 * time.Hour)})
	s.PutMarker(ctx, payment.Marker{BuyOrder: "new", Gateway: "webpay", CreatedAt: now})

	if err := s.MarkAuthorized(ctx, "paid"); err != nil {
		t.Fatalf("MarkAuthorized() error = %v", err)
	}
	if err := s.MarkAuthorized(ctx, "missing"); !errors.Is(err, payment.ErrMarkerNotFound) {
		t.Errorf("MarkAuthorized() on missing marker error = %v", err)
	}

	n, err := s.DeleteMarkersBefore(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("DeleteMarkersBefore() error = %v", err)
	}
	if n != 1 {
		t.Errorf("purged = %d, want 1", n)
	}
	if _, err := s.MarkerByBuyOrder(ctx, "new"); err != nil {
		t.Errorf("recent marker purged: %v", err)
	}
	paid, err := s.MarkerByBuyOrder(ctx, "paid")
	if err != nil {
		t.Fatalf("authorized marker purged: %v", err)
	}
	if paid.AuthorizedAt.IsZero() {
		t.Error("AuthorizedAt not read back")
	}
	if _, err := s.MarkerByBuyOrder(ctx, "old"); !errors.Is(err, payment.ErrMarkerNotFound) {
		t.Errorf("abandoned marker kept: %v", err)
	}
}

func TestLedger_ClaimOnce(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, claimed, err := s.ClaimConfirmation(ctx, "BO1", "tok")
	if err != nil || !claimed {
		t.Fatalf("first claim = %v, %v; want claimed", claimed, err)
	}

	existing, claimed, err := s.ClaimConfirmation(ctx, "BO1", "tok")
	if err != nil {
		t.Fatalf("second claim error = %v", err)
	}
	if claimed {
		t.Fatal("second claim must not succeed")
	}
	if existing.Settled() {
		t.Error("unsettled row reported as settled")
	}

	result := &payment.Result{Authorized: true, Status: "AUTHORIZED", Amount: 10000, CardNumber: "**** **** **** 6623"}
	if err := s.SettleConfirmation(ctx, "tok", result, ""); err != nil {
		t.Fatalf("SettleConfirmation() error = %v", err)
	}

	row, err := s.ConfirmationByToken(ctx, "tok")
	if err != nil {
		t.Fatalf("ConfirmationByToken() error = %v", err)
	}
	if !row.Settled() || row.Result == nil || row.Result.CardNumber != result.CardNumber {
		t.Errorf("row = %+v", row)
	}

	if err := s.SettleConfirmation(ctx, "unknown", nil, "x"); !errors.Is(err, payment.ErrConfirmationNotFound) {
		t.Errorf("settle unknown error = %v", err)
	}
}

func TestLedger_ConcurrentClaims(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, claimed, err := s.ClaimConfirmation(ctx, "BO1", "tok")
			if err != nil {
				t.Errorf("claim error = %v", err)
				return
			}
			if claimed {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("winning claims = %d, want 1", wins)
	}
}

func TestLedger_WithOnceConfirmer(t *testing.T) {
	s := openTestStore(t)
	calls := 0
	inner := &payment.ConfirmingMock{ConfirmFunc: func(ctx context.Context, req payment.ConfirmRequest) (*payment.Result, error) {
		calls++
		return &payment.Result{Authorized: true, Amount: 10000}, nil
	}}
	once := payment.NewOnceConfirmer(inner, s, nil)

	req := payment.ConfirmRequest{Token: "tok", BuyOrder: "BO1"}
	if _, err := once.Confirm(context.Background(), req); err != nil {
		t.Fatalf("Confirm() error = %v", err)
	}
	_, err := once.Confirm(context.Background(), req)
	var ace *payment.AlreadyConfirmedError
	if !errors.As(err, &ace) || ace.Last == nil || ace.Last.Amount != 10000 {
		t.Errorf("replay error = %v, want cached result", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestSnapshots(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.Snapshot(ctx, 1); !errors.Is(err, ErrSnapshotNotFound) {
		t.Errorf("missing snapshot error = %v", err)
	}

	snap := &model.OrderSnapshot{
		OrderID: 812, OrderKey: "k", Gateway: "mercadopago", Subtotal: 140000, ShippingCost: 5990, Total: 145990,
		Lines: []model.SnapshotLine{{Name: "Carpa", Quantity: 1, LineTotal: 140000}},
	}
	if err := s.PutSnapshot(ctx, snap); err != nil {
		t.Fatalf("PutSnapshot() error = %v", err)
	}
	snap.Total = 1
	if err := s.PutSnapshot(ctx, snap); err != nil {
		t.Fatalf("PutSnapshot() replace error = %v", err)
	}

	got, err := s.Snapshot(ctx, 812)
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if got.Total != 1 || len(got.Lines) != 1 {
		t.Errorf("snapshot = %+v", got)
	}
}

func TestOpen_Memory(t *testing.T) {
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) error = %v", err)
	}
	defer s.Close()
	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("Ping() error = %v", err)
	}
}
