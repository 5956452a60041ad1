package adapter

import (
	"context"

	"github.com/shopspring/decimal"

	"nowpayments-gateway/internal/domain/model"
)

// PaymentGateway is the hex port for the crypto payment provider.
type PaymentGateway interface {
	Name() string

	// CreatePayment opens a USD-priced deposit payable in USDT and returns the provider response
	// (payment id, pay address/URL, ...).
	CreatePayment(ctx context.Context, amount decimal.Decimal, userID string) (model.Document, error)
	// CreateWithdrawal requests a single USDT payout to address.
	CreateWithdrawal(ctx context.Context, address string, amount decimal.Decimal, userID string) (model.Document, error)
	// GetPaymentStatus returns the provider's payment document as-is.
	GetPaymentStatus(ctx context.Context, paymentID string) (model.Document, error)
	// GetMinimumPaymentAmount returns the smallest accepted USDT payment; 0 when the provider omits it.
	GetMinimumPaymentAmount(ctx context.Context) (float64, error)

	// VerifyCallback asks the provider whether an IPN is genuine. Any failure reports false.
	VerifyCallback(ctx context.Context, ipnData model.Document) bool
	// ProcessCallback normalizes an IPN callback; no I/O.
	ProcessCallback(callbackData model.Document) (*model.NormalizedPayment, error)
}

// MinAmountCache stores the provider minimum so repeated lookups skip the round-trip.
type MinAmountCache interface {
	GetMinAmount(ctx context.Context, currency string) (float64, bool, error)
	SetMinAmount(ctx context.Context, currency string, amount float64) error
}
