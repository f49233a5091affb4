package payment

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidSignature   = errors.New("webhook signature verification failed")
	ErrUnrecognized       = errors.New("webhook payload not recognized")
	ErrBelowMinimumCharge = errors.New("order total is below the provider minimum charge")
	ErrDummyDisabled      = errors.New("dummy payments are disabled")
	ErrUnknownProvider    = errors.New("unknown payment provider")
	ErrCheckoutInProgress = errors.New("a checkout session is already being created for this order")
	ErrProviderFailure    = errors.New("payment provider request failed")
)

// WebhookError separates what the provider may see from what we log.
type WebhookError struct {
	Category      string
	StatusCode    int
	PublicError   string
	InternalError string
	OriginalErr   error
}

func (e *WebhookError) Error() string {
	return fmt.Sprintf("%s: %s", e.Category, e.InternalError)
}

func (e *WebhookError) Unwrap() error {
	return e.OriginalErr
}
