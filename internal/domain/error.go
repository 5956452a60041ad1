package domain

import (
	"errors"
	"fmt"
)

var (
	// Common domain errors
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrBelowMinimum        = errors.New("amount below gateway minimum")
	ErrGatewayRequest      = errors.New("gateway request failed")
	ErrInvalidCallback     = errors.New("invalid callback data")
	ErrCallbackNotVerified = errors.New("callback not verified")
)

// GatewayRequestError wraps a transport failure or a non-2xx response from the payment gateway.
type GatewayRequestError struct {
	Op         string // e.g. "create payment"
	StatusCode int    // 0 when the request never got a response
	Body       string // response body (truncated) for non-2xx
	Err        error  // transport/decode error, if any
}

func (e *GatewayRequestError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Err != nil:
		return fmt.Sprintf("%s: http %d: %v", e.Op, e.StatusCode, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s: http %d: %s", e.Op, e.StatusCode, e.Body)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return e.Op + ": gateway request failed"
	}
}

func (e *GatewayRequestError) Unwrap() error { return e.Err }

func (e *GatewayRequestError) Is(target error) bool { return target == ErrGatewayRequest }

// InvalidCallbackError is returned when a callback lacks the fields needed to normalize it.
type InvalidCallbackError struct {
	Reason string
}

func (e *InvalidCallbackError) Error() string {
	if e.Reason == "" {
		return ErrInvalidCallback.Error()
	}
	return ErrInvalidCallback.Error() + ": " + e.Reason
}

func (e *InvalidCallbackError) Is(target error) bool { return target == ErrInvalidCallback }
