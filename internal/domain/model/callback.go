package model

import (
	"strings"

	"nowpayments-gateway/internal/domain"
)

// NormalizeCallback extracts the fields of an IPN callback that the rest of the system uses.
// order_id must follow "deposit_<userID>_<timestamp>"; a user id containing "_" is truncated
// at its first underscore.
func NormalizeCallback(data Document) (*NormalizedPayment, error) {
	orderID, _ := data["order_id"].(string)
	status, _ := data["payment_status"].(string)
	if orderID == "" || status == "" {
		return nil, &domain.InvalidCallbackError{Reason: "order_id and payment_status are required"}
	}

	parts := strings.Split(orderID, "_")
	if len(parts) < 2 {
		return nil, &domain.InvalidCallbackError{Reason: "malformed order_id " + orderID}
	}

	return &NormalizedPayment{
		UserID:    parts[1],
		Status:    status,
		Amount:    data["actually_paid"],
		Currency:  data["pay_currency"],
		Timestamp: data["created_at"],
	}, nil
}
