package payment

import (
	"errors"
	"fmt"
)

// Payment outcome taxonomy. Use errors.Is against these.
var (
	ErrUserCancelled     = errors.New("payment cancelled by user")
	ErrMissingCredential = errors.New("return carries no payment token")
	ErrGatewayDeclined   = errors.New("payment declined")
	ErrNetworkFailure    = errors.New("payment gateway unreachable")
	ErrAlreadyConfirmed  = errors.New("payment token already confirmed")
	ErrAmountMismatch    = errors.New("confirmed amount does not match order")
)

// DeclineError carries the gateway response code and its display reason.
type DeclineError struct {
	Code   int
	Reason string
}

func (e *DeclineError) Error() string {
	return fmt.Sprintf("payment declined (code %d): %s", e.Code, e.Reason)
}

func (e *DeclineError) Is(target error) bool {
	return target == ErrGatewayDeclined
}

// AlreadyConfirmedError is returned for a token whose confirmation was
// already attempted. Last is the recorded result; it is nil while the first
// attempt is still in flight or when that attempt failed before a result.
type AlreadyConfirmedError struct {
	Token   string
	Last    *Result
	Failure string
}

func (e *AlreadyConfirmedError) Error() string {
	return "token " + e.Token + " already confirmed"
}

func (e *AlreadyConfirmedError) Is(target error) bool {
	return target == ErrAlreadyConfirmed
}

// NetworkError wraps a failed create or confirm call.
func NetworkError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrNetworkFailure, err)
}

// AmountMismatchError reports a confirmed amount that differs from the
// amount recorded when the transaction was created.
type AmountMismatchError struct {
	Expected int64
	Got      int64
}

func (e *AmountMismatchError) Error() string {
	return fmt.Sprintf("confirmed amount %d, expected %d", e.Got, e.Expected)
}

func (e *AmountMismatchError) Is(target error) bool {
	return target == ErrAmountMismatch
}
