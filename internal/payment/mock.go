package payment

import (
	"context"
	"errors"
)

// Mock implements Gateway for testing.
// Behaviour is configured via function fields.
type Mock struct {
	GatewayName           string
	CreateTransactionFunc func(ctx context.Context, order Order) (*Instruction, error)
}

// Name returns GatewayName, defaulting to "mock".
func (m *Mock) Name() string {
	if m.GatewayName == "" {
		return "mock"
	}
	return m.GatewayName
}

// CreateTransaction calls CreateTransactionFunc or returns a GET instruction.
func (m *Mock) CreateTransaction(ctx context.Context, order Order) (*Instruction, error) {
	if m.CreateTransactionFunc != nil {
		return m.CreateTransactionFunc(ctx, order)
	}
	return &Instruction{Gateway: m.Name(), Method: "GET", URL: "https://gateway.test/pay/" + order.BuyOrder}, nil
}

// ConfirmingMock is a Mock that also implements Confirmer.
type ConfirmingMock struct {
	Mock
	ConfirmFunc func(ctx context.Context, req ConfirmRequest) (*Result, error)
}

// Confirm calls ConfirmFunc or returns an error.
func (m *ConfirmingMock) Confirm(ctx context.Context, req ConfirmRequest) (*Result, error) {
	if m.ConfirmFunc != nil {
		return m.ConfirmFunc(ctx, req)
	}
	return nil, errors.New("ConfirmFunc not set")
}
