package payment

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"nowpayments-gateway/internal/domain"
	"nowpayments-gateway/internal/domain/model"
	"nowpayments-gateway/internal/domain/ports/adapter"
)

var _ adapter.PaymentGateway = (*NoopPaymentGateway)(nil)

// NoopPaymentGateway is a simple in-memory gateway to use in tests and dev mode.
type NoopPaymentGateway struct {
	mu        sync.Mutex
	seq       int64
	minAmount float64
	payments  map[string]model.Document // payment id -> document
	confirmed map[string]bool           // verification keys that verify
}

func NewNoopPaymentGateway(minAmount float64) *NoopPaymentGateway {
	return &NoopPaymentGateway{
		minAmount: minAmount,
		payments:  make(map[string]model.Document),
		confirmed: make(map[string]bool),
	}
}

func (g *NoopPaymentGateway) Name() string { return "noop" }

func (g *NoopPaymentGateway) next() string {
	g.seq++
	return fmt.Sprintf("noop-%d", g.seq)
}

func (g *NoopPaymentGateway) CreatePayment(ctx context.Context, amount decimal.Decimal, userID string) (model.Document, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := g.next()
	doc := model.Document{
		"payment_id":     id,
		"payment_status": string(model.PaymentStatusWaiting),
		"price_amount":   amount.String(),
		"price_currency": model.PriceCurrencyUSD,
		"pay_currency":   model.PayCurrencyUSDT,
		"order_id":       model.DepositOrderID(userID, time.Now()),
		"invoice_url":    "https://example.test/pay/" + id,
	}
	g.payments[id] = doc
	return copyDoc(doc), nil
}

func (g *NoopPaymentGateway) CreateWithdrawal(ctx context.Context, address string, amount decimal.Decimal, userID string) (model.Document, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return model.Document{
		"id": g.next(),
		"withdrawals": []any{model.Document{
			"address":  address,
			"currency": model.PayCurrencyUSDT,
			"amount":   amount.String(),
			"status":   "WAITING",
			"payload":  model.Document{"user_id": userID},
		}},
	}, nil
}

func (g *NoopPaymentGateway) GetPaymentStatus(ctx context.Context, paymentID string) (model.Document, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	doc, ok := g.payments[paymentID]
	if !ok {
		return nil, &domain.GatewayRequestError{Op: "get_payment_status", StatusCode: 404, Body: "payment not found"}
	}
	return copyDoc(doc), nil
}

func (g *NoopPaymentGateway) GetMinimumPaymentAmount(ctx context.Context) (float64, error) {
	return g.minAmount, nil
}

// SetStatus moves a stored payment to status, as the provider would.
func (g *NoopPaymentGateway) SetStatus(paymentID string, status model.PaymentStatus) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	doc, ok := g.payments[paymentID]
	if !ok {
		return fmt.Errorf("noop: payment %s not found", paymentID)
	}
	doc["payment_status"] = string(status)
	return nil
}

// Confirm makes VerifyCallback accept key.
func (g *NoopPaymentGateway) Confirm(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.confirmed[key] = true
}

func (g *NoopPaymentGateway) VerifyCallback(ctx context.Context, ipnData model.Document) bool {
	key, _ := ipnData["verification_key"].(string)
	g.mu.Lock()
	defer g.mu.Unlock()
	return key != "" && g.confirmed[key]
}

func (g *NoopPaymentGateway) ProcessCallback(callbackData model.Document) (*model.NormalizedPayment, error) {
	return model.NormalizeCallback(callbackData)
}

func copyDoc(d model.Document) model.Document {
	out := make(model.Document, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}
