package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	PriceCurrencyUSD = "usd"
	PayCurrencyUSDT  = "usdt"

	depositOrderPrefix = "deposit"
)

// PaymentStatus mirrors the gateway's payment_status values. The set is open; unknown
// values pass through unchanged.
type PaymentStatus string

const (
	PaymentStatusWaiting       PaymentStatus = "waiting"
	PaymentStatusConfirming    PaymentStatus = "confirming"
	PaymentStatusConfirmed     PaymentStatus = "confirmed"
	PaymentStatusSending       PaymentStatus = "sending"
	PaymentStatusPartiallyPaid PaymentStatus = "partially_paid"
	PaymentStatusFinished      PaymentStatus = "finished"
	PaymentStatusFailed        PaymentStatus = "failed"
	PaymentStatusRefunded      PaymentStatus = "refunded"
	PaymentStatusExpired       PaymentStatus = "expired"
)

// Document is an opaque JSON object returned by (or posted from) the gateway.
type Document = map[string]any

// PaymentRequest is a deposit intent in USD, settled in USDT.
type PaymentRequest struct {
	Amount decimal.Decimal `json:"amount"`
	UserID string          `json:"user_id"`
}

// WithdrawalRequest is a single USDT payout to Address.
type WithdrawalRequest struct {
	Address string          `json:"address"`
	Amount  decimal.Decimal `json:"amount"`
	UserID  string          `json:"user_id"`
}

// NormalizedPayment is the subset of an IPN callback the rest of the system consumes.
// Amount, Currency and Timestamp hold whatever the gateway sent (nil when absent).
type NormalizedPayment struct {
	UserID    string `json:"user_id"`
	Status    string `json:"status"`
	Amount    any    `json:"amount"`
	Currency  any    `json:"currency"`
	Timestamp any    `json:"timestamp"`
}

// DepositOrderID builds "deposit_<userID>_<unix seconds with fraction>".
// Two calls for the same user within one clock tick yield the same id.
func DepositOrderID(userID string, at time.Time) string {
	return fmt.Sprintf("%s_%s_%s", depositOrderPrefix, userID, unixSeconds(at))
}

// unixSeconds renders t as fractional Unix seconds, always with at least one decimal.
func unixSeconds(t time.Time) string {
	secs := float64(t.UnixMicro()) / 1e6
	s := strconv.FormatFloat(secs, 'f', -1, 64)
	if strings.Contains(s, ".") {
		return s
	}
	return s + ".0"
}
