// File: internal/usecase/payment_uc.go
package usecase

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"nowpayments-gateway/internal/domain"
	"nowpayments-gateway/internal/domain/model"
	"nowpayments-gateway/internal/domain/ports/adapter"
	"nowpayments-gateway/internal/infra/logging"
	"nowpayments-gateway/internal/infra/metrics"
)

// Compile-time check
var _ PaymentUseCase = (*paymentUC)(nil)

type PaymentUseCase interface {
	// Deposit opens a gateway payment for userID and returns the provider response.
	Deposit(ctx context.Context, amount decimal.Decimal, userID string) (model.Document, error)
	// Withdraw requests a USDT payout to address.
	Withdraw(ctx context.Context, address string, amount decimal.Decimal, userID string) (model.Document, error)
	// Status returns the provider's payment document.
	Status(ctx context.Context, paymentID string) (model.Document, error)
	// MinimumAmount returns the provider minimum, served from cache when one is configured.
	MinimumAmount(ctx context.Context) (float64, error)
	// RefreshMinimumAmount fetches the minimum from the provider and rewrites the cache.
	RefreshMinimumAmount(ctx context.Context) (float64, error)
	// HandleCallback verifies an IPN with the provider and normalizes it.
	HandleCallback(ctx context.Context, data model.Document) (*model.NormalizedPayment, error)
}

type PaymentOptions struct {
	EnforceMinAmount bool
	Dev              bool
}

type paymentUC struct {
	gateway adapter.PaymentGateway
	cache   adapter.MinAmountCache // optional
	opts    PaymentOptions
	log     *zerolog.Logger
}

// NewPaymentUseCase wires the gateway; cache may be nil.
func NewPaymentUseCase(gateway adapter.PaymentGateway, cache adapter.MinAmountCache, opts PaymentOptions, logger *zerolog.Logger) *paymentUC {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &paymentUC{gateway: gateway, cache: cache, opts: opts, log: logger}
}

func (u *paymentUC) Deposit(ctx context.Context, amount decimal.Decimal, userID string) (model.Document, error) {
	defer logging.TraceDuration(u.log, "PaymentUC.Deposit")()
	userID = strings.TrimSpace(userID)
	if userID == "" || !amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be positive and user_id set", domain.ErrInvalidArgument)
	}
	ctx = logging.WithUserID(ctx, userID)
	l := logging.With(ctx, u.log)

	if u.opts.EnforceMinAmount {
		min, err := u.MinimumAmount(ctx)
		if err != nil {
			return nil, err
		}
		if amount.LessThan(decimal.NewFromFloat(min)) {
			metrics.IncPayment("deposit", "below_minimum")
			return nil, fmt.Errorf("%w: %s < %v", domain.ErrBelowMinimum, amount.String(), min)
		}
	}

	doc, err := u.gateway.CreatePayment(ctx, amount, userID)
	if err != nil {
		metrics.IncPayment("deposit", "failed")
		return nil, err
	}
	metrics.IncPayment("deposit", "created")
	metrics.AddPaymentAmount("deposit", model.PriceCurrencyUSD, amount.InexactFloat64())
	l.Info().Str("amount", amount.String()).Interface("payment_id", doc["payment_id"]).Msg("deposit created")
	return doc, nil
}

func (u *paymentUC) Withdraw(ctx context.Context, address string, amount decimal.Decimal, userID string) (model.Document, error) {
	defer logging.TraceDuration(u.log, "PaymentUC.Withdraw")()
	address = strings.TrimSpace(address)
	userID = strings.TrimSpace(userID)
	if address == "" || userID == "" || !amount.IsPositive() {
		return nil, fmt.Errorf("%w: address, user_id and a positive amount are required", domain.ErrInvalidArgument)
	}
	ctx = logging.WithUserID(ctx, userID)

	doc, err := u.gateway.CreateWithdrawal(ctx, address, amount, userID)
	if err != nil {
		metrics.IncPayment("withdrawal", "failed")
		return nil, err
	}
	metrics.IncPayment("withdrawal", "created")
	metrics.AddPaymentAmount("withdrawal", model.PayCurrencyUSDT, amount.InexactFloat64())
	logging.With(ctx, u.log).Info().
		Str("address", logging.Redact(address, u.opts.Dev)).
		Str("amount", amount.String()).
		Msg("withdrawal requested")
	return doc, nil
}

func (u *paymentUC) Status(ctx context.Context, paymentID string) (model.Document, error) {
	paymentID = strings.TrimSpace(paymentID)
	if paymentID == "" {
		return nil, fmt.Errorf("%w: payment id required", domain.ErrInvalidArgument)
	}
	return u.gateway.GetPaymentStatus(ctx, paymentID)
}

func (u *paymentUC) MinimumAmount(ctx context.Context) (float64, error) {
	l := logging.With(ctx, u.log)
	if u.cache != nil {
		v, ok, err := u.cache.GetMinAmount(ctx, model.PayCurrencyUSDT)
		switch {
		case err != nil:
			metrics.IncCacheRequest("min_amount", "error")
			l.Warn().Err(err).Msg("min amount cache read failed")
		case ok:
			metrics.IncCacheRequest("min_amount", "hit")
			return v, nil
		default:
			metrics.IncCacheRequest("min_amount", "miss")
		}
	}

	return u.RefreshMinimumAmount(ctx)
}

func (u *paymentUC) RefreshMinimumAmount(ctx context.Context) (float64, error) {
	v, err := u.gateway.GetMinimumPaymentAmount(ctx)
	if err != nil {
		return 0, err
	}
	if u.cache != nil {
		if err := u.cache.SetMinAmount(ctx, model.PayCurrencyUSDT, v); err != nil {
			logging.With(ctx, u.log).Warn().Err(err).Msg("min amount cache write failed")
		}
	}
	return v, nil
}

func (u *paymentUC) HandleCallback(ctx context.Context, data model.Document) (*model.NormalizedPayment, error) {
	l := logging.With(ctx, u.log)
	if !u.gateway.VerifyCallback(ctx, data) {
		metrics.IncPayment("callback", "unverified")
		l.Warn().Interface("order_id", data["order_id"]).Msg("callback rejected by verification")
		return nil, domain.ErrCallbackNotVerified
	}
	np, err := u.gateway.ProcessCallback(data)
	if err != nil {
		metrics.IncPayment("callback", "invalid")
		metrics.IncVerify("fail", "invalid_callback")
		return nil, err
	}
	metrics.IncPayment("callback", np.Status)
	l.Info().Str("user_id", np.UserID).Str("status", np.Status).Msg("callback processed")
	return np, nil
}
