// File: internal/infra/adapters/payment/nowpayments_gateway.go
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"nowpayments-gateway/internal/config"
	"nowpayments-gateway/internal/domain"
	"nowpayments-gateway/internal/domain/model"
	"nowpayments-gateway/internal/domain/ports/adapter"
	"nowpayments-gateway/internal/infra/logging"
	"nowpayments-gateway/internal/infra/metrics"
)

var _ adapter.PaymentGateway = (*NowPaymentsGateway)(nil)

const (
	maxResponseBytes = 1 << 20
	maxErrorBody     = 512
)

// NowPaymentsGateway implements adapter.PaymentGateway against the NOWPayments REST API.
// It is immutable after construction and safe for concurrent use.
type NowPaymentsGateway struct {
	apiKey  string
	baseURL string

	ipnCallbackURL    string
	payoutCallbackURL string
	successURL        string
	cancelURL         string

	client *http.Client
	log    *zerolog.Logger

	now   func() time.Time
	newID func() string
}

// NewNowPaymentsGateway builds a gateway from the payment.nowpayments config section.
func NewNowPaymentsGateway(cfg config.NowPaymentsConfig, logger *zerolog.Logger) (*NowPaymentsGateway, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("nowpayments api key empty")
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = config.DefaultBaseURL
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "nowpayments").Logger()
	return &NowPaymentsGateway{
		apiKey:            cfg.APIKey,
		baseURL:           base,
		ipnCallbackURL:    cfg.IPNCallbackURL,
		payoutCallbackURL: cfg.PayoutCallbackURL,
		successURL:        cfg.SuccessURL,
		cancelURL:         cfg.CancelURL,
		client:            &http.Client{Timeout: timeout},
		log:               &l,
		now:               time.Now,
		newID:             func() string { return ulid.Make().String() },
	}, nil
}

func (g *NowPaymentsGateway) Name() string { return "nowpayments" }

// CreatePayment calls POST /payment and returns the raw response (payment_id, pay_address, ...).
func (g *NowPaymentsGateway) CreatePayment(ctx context.Context, amount decimal.Decimal, userID string) (model.Document, error) {
	payload := map[string]any{
		"price_amount":      json.Number(amount.String()),
		"price_currency":    model.PriceCurrencyUSD,
		"pay_currency":      model.PayCurrencyUSDT,
		"order_id":          model.DepositOrderID(userID, g.now()),
		"order_description": "Deposit for user " + userID,
		"ipn_callback_url":  g.ipnCallbackURL,
		"success_url":       g.successURL,
		"cancel_url":        g.cancelURL,
	}
	var out model.Document
	if err := g.do(ctx, "create_payment", http.MethodPost, "/payment", nil, payload, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateWithdrawal calls POST /payout with a single-entry batch. user_id travels in the
// opaque payload so the payout IPN can be correlated later.
func (g *NowPaymentsGateway) CreateWithdrawal(ctx context.Context, address string, amount decimal.Decimal, userID string) (model.Document, error) {
	payload := map[string]any{
		"withdrawals": []map[string]any{{
			"address":          address,
			"currency":         model.PayCurrencyUSDT,
			"amount":           json.Number(amount.String()),
			"ipn_callback_url": g.payoutCallbackURL,
			"payload": map[string]any{
				"user_id":    userID,
				"timestamp":  g.now().UTC().Format(time.RFC3339Nano),
				"request_id": g.newID(),
			},
		}},
	}
	var out model.Document
	if err := g.do(ctx, "create_withdrawal", http.MethodPost, "/payout", nil, payload, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetPaymentStatus calls GET /payment/{id}.
func (g *NowPaymentsGateway) GetPaymentStatus(ctx context.Context, paymentID string) (model.Document, error) {
	var out model.Document
	if err := g.do(ctx, "get_payment_status", http.MethodGet, "/payment/"+url.PathEscape(paymentID), nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetMinimumPaymentAmount calls GET /min-amount?currency_from=usdt.
func (g *NowPaymentsGateway) GetMinimumPaymentAmount(ctx context.Context) (float64, error) {
	const op = "get_min_amount"
	q := url.Values{"currency_from": []string{model.PayCurrencyUSDT}}
	var out model.Document
	if err := g.do(ctx, op, http.MethodGet, "/min-amount", q, nil, &out); err != nil {
		return 0, err
	}
	v, err := toFloat(out["min_amount"])
	if err != nil {
		gerr := &domain.GatewayRequestError{Op: op, Err: err}
		logging.With(ctx, g.log).Error().Err(gerr).Msg("nowpayments min amount decode failed")
		return 0, gerr
	}
	return v, nil
}

// VerifyCallback asks GET /payment-verification/{verification_key} and reports whether the
// gateway answered "confirmed". This is a second round-trip to the same service, not a
// signature check. Every failure is logged and reported as false, so callers cannot tell
// a network error from a rejected callback.
func (g *NowPaymentsGateway) VerifyCallback(ctx context.Context, ipnData model.Document) bool {
	l := logging.With(ctx, g.log)
	key, _ := ipnData["verification_key"].(string)
	if key == "" {
		l.Warn().Msg("nowpayments callback without verification_key")
		metrics.IncVerify("fail", "missing_key")
		return false
	}
	var out struct {
		VerificationStatus string `json:"verification_status"`
	}
	if err := g.do(ctx, "verify_callback", http.MethodGet, "/payment-verification/"+url.PathEscape(key), nil, nil, &out); err != nil {
		metrics.IncVerify("fail", verifyReason(err))
		return false
	}
	if out.VerificationStatus != "confirmed" {
		l.Info().Str("verification_status", out.VerificationStatus).Msg("nowpayments callback not confirmed")
		metrics.IncVerify("fail", "not_confirmed")
		return false
	}
	metrics.IncVerify("ok", "")
	return true
}

// ProcessCallback normalizes an IPN payload; see model.NormalizeCallback.
func (g *NowPaymentsGateway) ProcessCallback(callbackData model.Document) (*model.NormalizedPayment, error) {
	np, err := model.NormalizeCallback(callbackData)
	if err != nil {
		g.log.Error().Err(err).Msg("nowpayments callback processing failed")
		return nil, err
	}
	return np, nil
}

// do sends one request and decodes a 2xx JSON body into out. Failures are logged and
// returned as *domain.GatewayRequestError; there is no retry.
func (g *NowPaymentsGateway) do(ctx context.Context, op, method, path string, query url.Values, body any, out any) error {
	start := time.Now()
	err := g.roundTrip(ctx, op, method, path, query, body, out)
	metrics.ObserveGatewayCall(op, time.Since(start), err)
	if err != nil {
		logging.With(ctx, g.log).Error().Err(err).Str("op", op).Str("method", method).Str("path", path).
			Msg("nowpayments request failed")
	}
	return err
}

func (g *NowPaymentsGateway) roundTrip(ctx context.Context, op, method, path string, query url.Values, body any, out any) error {
	endpoint := g.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return &domain.GatewayRequestError{Op: op, Err: fmt.Errorf("marshal request: %w", err)}
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return &domain.GatewayRequestError{Op: op, Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("x-api-key", g.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return &domain.GatewayRequestError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return &domain.GatewayRequestError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &domain.GatewayRequestError{Op: op, StatusCode: resp.StatusCode, Body: truncate(string(raw), maxErrorBody)}
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return &domain.GatewayRequestError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func toFloat(v any) (float64, error) {
	switch t := v.(type) {
	case nil:
		return 0, nil
	case json.Number:
		return t.Float64()
	case float64:
		return t, nil
	case string:
		return strconv.ParseFloat(strings.TrimSpace(t), 64)
	default:
		return 0, fmt.Errorf("min_amount: unexpected type %T", v)
	}
}

func verifyReason(err error) string {
	var gerr *domain.GatewayRequestError
	if !errors.As(err, &gerr) {
		return "unknown"
	}
	switch {
	case gerr.StatusCode != 0 && gerr.Err != nil:
		return "bad_json"
	case gerr.StatusCode != 0:
		return "http_status"
	default:
		return "transport"
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
