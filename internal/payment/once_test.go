package payment

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type memLedger struct {
	mu   sync.Mutex
	rows map[string]*Confirmation
}

func newMemLedger() *memLedger {
	return &memLedger{rows: make(map[string]*Confirmation)}
}

func (l *memLedger) ClaimConfirmation(_ context.Context, buyOrder, token string) (*Confirmation, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if row, ok := l.rows[token]; ok {
		cp := *row
		return &cp, false, nil
	}
	row := &Confirmation{BuyOrder: buyOrder, Token: token, ClaimedAt: time.Now()}
	l.rows[token] = row
	cp := *row
	return &cp, true, nil
}

func (l *memLedger) SettleConfirmation(_ context.Context, token string, result *Result, failure string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	row, ok := l.rows[token]
	if !ok {
		return ErrConfirmationNotFound
	}
	row.Result = result
	row.Failure = failure
	row.SettledAt = time.Now()
	return nil
}

func (l *memLedger) ConfirmationByToken(_ context.Context, token string) (*Confirmation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	row, ok := l.rows[token]
	if !ok {
		return nil, ErrConfirmationNotFound
	}
	cp := *row
	return &cp, nil
}

func authorized() *Result {
	return &Result{Authorized: true, Status: "AUTHORIZED", Amount: 10000, BuyOrder: "BO1", AuthorizationCode: "1213"}
}

func TestOnceConfirmer_SecondCallReturnsCachedResult(t *testing.T) {
	var calls atomic.Int32
	inner := &ConfirmingMock{ConfirmFunc: func(ctx context.Context, req ConfirmRequest) (*Result, error) {
		calls.Add(1)
		return authorized(), nil
	}}
	once := NewOnceConfirmer(inner, newMemLedger(), nil)
	req := ConfirmRequest{Token: "tok-1", BuyOrder: "BO1"}

	first, err := once.Confirm(context.Background(), req)
	if err != nil {
		t.Fatalf("first Confirm() error = %v", err)
	}
	if !first.Authorized {
		t.Error("first result should be authorized")
	}

	_, err = once.Confirm(context.Background(), req)
	if !errors.Is(err, ErrAlreadyConfirmed) {
		t.Fatalf("second Confirm() error = %v, want ErrAlreadyConfirmed", err)
	}
	var ace *AlreadyConfirmedError
	if !errors.As(err, &ace) {
		t.Fatal("error is not *AlreadyConfirmedError")
	}
	if ace.Last == nil || ace.Last.AuthorizationCode != "1213" {
		t.Errorf("cached result = %+v, want first result", ace.Last)
	}

	if got := calls.Load(); got != 1 {
		t.Errorf("network confirm calls = %d, want 1", got)
	}
}

func TestOnceConfirmer_ConcurrentCallsHitNetworkOnce(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	inner := &ConfirmingMock{ConfirmFunc: func(ctx context.Context, req ConfirmRequest) (*Result, error) {
		calls.Add(1)
		<-release
		return authorized(), nil
	}}
	once := NewOnceConfirmer(inner, newMemLedger(), nil)

	var wg sync.WaitGroup
	var replays atomic.Int32
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := once.Confirm(context.Background(), ConfirmRequest{Token: "tok", BuyOrder: "BO1"})
			if errors.Is(err, ErrAlreadyConfirmed) {
				replays.Add(1)
			}
		}()
	}

	// Losers return without waiting for the winner.
	deadline := time.After(2 * time.Second)
	for replays.Load() < 7 {
		select {
		case <-deadline:
			t.Fatalf("replays = %d, want 7", replays.Load())
		default:
			time.Sleep(time.Millisecond)
		}
	}
	close(release)
	wg.Wait()

	if got := calls.Load(); got != 1 {
		t.Errorf("network confirm calls = %d, want 1", got)
	}
}

func TestOnceConfirmer_FailureConsumesToken(t *testing.T) {
	var calls atomic.Int32
	inner := &ConfirmingMock{ConfirmFunc: func(ctx context.Context, req ConfirmRequest) (*Result, error) {
		calls.Add(1)
		return nil, NetworkError("commit", errors.New("connection reset"))
	}}
	ledger := newMemLedger()
	once := NewOnceConfirmer(inner, ledger, nil)
	req := ConfirmRequest{Token: "tok", BuyOrder: "BO1"}

	if _, err := once.Confirm(context.Background(), req); !errors.Is(err, ErrNetworkFailure) {
		t.Fatalf("first Confirm() error = %v, want ErrNetworkFailure", err)
	}

	_, err := once.Confirm(context.Background(), req)
	var ace *AlreadyConfirmedError
	if !errors.As(err, &ace) {
		t.Fatalf("second Confirm() error = %v, want *AlreadyConfirmedError", err)
	}
	if ace.Last != nil || ace.Failure == "" {
		t.Errorf("replay = %+v, want failure without result", ace)
	}
	if calls.Load() != 1 {
		t.Errorf("network confirm calls = %d, want 1", calls.Load())
	}

	row, _ := ledger.ConfirmationByToken(context.Background(), "tok")
	if !row.Settled() {
		t.Error("failed confirmation should be settled")
	}
}

func TestOnceConfirmer_EmptyToken(t *testing.T) {
	once := NewOnceConfirmer(&ConfirmingMock{}, newMemLedger(), nil)
	if _, err := once.Confirm(context.Background(), ConfirmRequest{}); !errors.Is(err, ErrMissingCredential) {
		t.Errorf("Confirm() error = %v, want ErrMissingCredential", err)
	}
}

func TestResultErr(t *testing.T) {
	if err := authorized().Err(); err != nil {
		t.Errorf("authorized Err() = %v, want nil", err)
	}

	declined := &Result{ResponseCode: -1, DeclineReason: "card data error"}
	err := declined.Err()
	if !errors.Is(err, ErrGatewayDeclined) {
		t.Fatalf("Err() = %v, want ErrGatewayDeclined", err)
	}
	var de *DeclineError
	if !errors.As(err, &de) || de.Code != -1 {
		t.Errorf("DeclineError = %+v, want code -1", de)
	}
}

func TestConfirmsByToken(t *testing.T) {
	if ConfirmsByToken(&Mock{}) {
		t.Error("plain Mock should not confirm by token")
	}
	if !ConfirmsByToken(&ConfirmingMock{}) {
		t.Error("ConfirmingMock should confirm by token")
	}
}
