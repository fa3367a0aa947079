package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrConfirmationNotFound is returned by the ledger for unknown tokens.
var ErrConfirmationNotFound = errors.New("confirmation not found")

// Confirmation is the ledger row for one token.
// Result is nil until the network call returns; Failure is set when it
// returned an error instead.
type Confirmation struct {
	BuyOrder  string
	Token     string
	Result    *Result
	Failure   string
	ClaimedAt time.Time
	SettledAt time.Time
}

// Settled reports whether the confirmation call has finished.
func (c *Confirmation) Settled() bool {
	return !c.SettledAt.IsZero()
}

// Ledger records confirmation attempts durably.
//
// ClaimConfirmation atomically inserts a row for token. It returns
// claimed=true only for the first caller; every other caller gets the
// existing row.
type Ledger interface {
	ClaimConfirmation(ctx context.Context, buyOrder, token string) (existing *Confirmation, claimed bool, err error)
	SettleConfirmation(ctx context.Context, token string, result *Result, failure string) error
	ConfirmationByToken(ctx context.Context, token string) (*Confirmation, error)
}

// OnceConfirmer guarantees at most one network confirmation per token.
// A failed call consumes the token too: the gateway may have committed the
// transaction even when the response was lost.
type OnceConfirmer struct {
	inner  Confirmer
	ledger Ledger
	logger *slog.Logger
}

// NewOnceConfirmer wraps inner with ledger.
func NewOnceConfirmer(inner Confirmer, ledger Ledger, logger *slog.Logger) *OnceConfirmer {
	if logger == nil {
		logger = slog.Default()
	}
	return &OnceConfirmer{inner: inner, ledger: ledger, logger: logger}
}

// Confirm performs the confirmation for req.Token if no earlier call claimed
// it. Otherwise it returns an *AlreadyConfirmedError carrying the recorded
// result without touching the network.
func (o *OnceConfirmer) Confirm(ctx context.Context, req ConfirmRequest) (*Result, error) {
	if req.Token == "" {
		return nil, ErrMissingCredential
	}

	existing, claimed, err := o.ledger.ClaimConfirmation(ctx, req.BuyOrder, req.Token)
	if err != nil {
		return nil, fmt.Errorf("claiming token: %w", err)
	}
	if !claimed {
		o.logger.Warn("confirmation replay blocked",
			slog.String("buy_order", existing.BuyOrder),
			slog.Bool("settled", existing.Settled()),
		)
		return nil, &AlreadyConfirmedError{Token: req.Token, Last: existing.Result, Failure: existing.Failure}
	}

	result, callErr := o.inner.Confirm(ctx, req)

	// Settle on a context that survives the caller hanging up mid-call.
	settleCtx := context.WithoutCancel(ctx)
	if callErr != nil {
		if err := o.ledger.SettleConfirmation(settleCtx, req.Token, nil, callErr.Error()); err != nil {
			o.logger.Error("recording failed confirmation",
				slog.String("buy_order", req.BuyOrder),
				slog.String("error", err.Error()),
			)
		}
		return nil, callErr
	}
	if err := o.ledger.SettleConfirmation(settleCtx, req.Token, result, ""); err != nil {
		o.logger.Error("recording confirmation",
			slog.String("buy_order", req.BuyOrder),
			slog.String("error", err.Error()),
		)
	}
	return result, nil
}
