//go:build !integration

package usecase_test

import (
	"context"
	"io"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"nowpayments-gateway/internal/domain/model"
	"nowpayments-gateway/internal/domain/ports/adapter"
)

// =============================
// Adapters
// =============================

// ---- Mock PaymentGateway ----

type MockPaymentGateway struct {
	NameVal string

	mu    sync.Mutex
	Calls []string // operation names in call order

	CreatePaymentFunc    func(ctx context.Context, amount decimal.Decimal, userID string) (model.Document, error)
	CreateWithdrawalFunc func(ctx context.Context, address string, amount decimal.Decimal, userID string) (model.Document, error)
	GetPaymentStatusFunc func(ctx context.Context, paymentID string) (model.Document, error)
	GetMinAmountFunc     func(ctx context.Context) (float64, error)
	VerifyCallbackFunc   func(ctx context.Context, ipnData model.Document) bool
	ProcessCallbackFunc  func(data model.Document) (*model.NormalizedPayment, error)
}

var _ adapter.PaymentGateway = (*MockPaymentGateway)(nil)

func (m *MockPaymentGateway) record(op string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, op)
}

func (m *MockPaymentGateway) count(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.Calls {
		if c == op {
			n++
		}
	}
	return n
}

func (m *MockPaymentGateway) Name() string {
	if m.NameVal == "" {
		return "mockpay"
	}
	return m.NameVal
}

func (m *MockPaymentGateway) CreatePayment(ctx context.Context, amount decimal.Decimal, userID string) (model.Document, error) {
	m.record("create_payment")
	if m.CreatePaymentFunc != nil {
		return m.CreatePaymentFunc(ctx, amount, userID)
	}
	return model.Document{"payment_id": uuid.NewString(), "payment_status": "waiting"}, nil
}

func (m *MockPaymentGateway) CreateWithdrawal(ctx context.Context, address string, amount decimal.Decimal, userID string) (model.Document, error) {
	m.record("create_withdrawal")
	if m.CreateWithdrawalFunc != nil {
		return m.CreateWithdrawalFunc(ctx, address, amount, userID)
	}
	return model.Document{"id": uuid.NewString()}, nil
}

func (m *MockPaymentGateway) GetPaymentStatus(ctx context.Context, paymentID string) (model.Document, error) {
	m.record("get_payment_status")
	if m.GetPaymentStatusFunc != nil {
		return m.GetPaymentStatusFunc(ctx, paymentID)
	}
	return model.Document{"payment_id": paymentID, "payment_status": "finished"}, nil
}

func (m *MockPaymentGateway) GetMinimumPaymentAmount(ctx context.Context) (float64, error) {
	m.record("get_min_amount")
	if m.GetMinAmountFunc != nil {
		return m.GetMinAmountFunc(ctx)
	}
	return 0, nil
}

func (m *MockPaymentGateway) VerifyCallback(ctx context.Context, ipnData model.Document) bool {
	m.record("verify_callback")
	if m.VerifyCallbackFunc != nil {
		return m.VerifyCallbackFunc(ctx, ipnData)
	}
	return true
}

func (m *MockPaymentGateway) ProcessCallback(data model.Document) (*model.NormalizedPayment, error) {
	m.record("process_callback")
	if m.ProcessCallbackFunc != nil {
		return m.ProcessCallbackFunc(data)
	}
	return model.NormalizeCallback(data)
}

// ---- Mock MinAmountCache ----

type MockMinAmountCache struct {
	mu     sync.Mutex
	values map[string]float64

	GetErr error
	SetErr error
	Sets   int
}

var _ adapter.MinAmountCache = (*MockMinAmountCache)(nil)

func NewMockMinAmountCache() *MockMinAmountCache {
	return &MockMinAmountCache{values: map[string]float64{}}
}

func (c *MockMinAmountCache) GetMinAmount(ctx context.Context, currency string) (float64, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.GetErr != nil {
		return 0, false, c.GetErr
	}
	v, ok := c.values[currency]
	return v, ok, nil
}

func (c *MockMinAmountCache) SetMinAmount(ctx context.Context, currency string, amount float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Sets++
	if c.SetErr != nil {
		return c.SetErr
	}
	c.values[currency] = amount
	return nil
}

func newTestLogger() *zerolog.Logger {
	logger := zerolog.New(io.Discard)
	return &logger
}
