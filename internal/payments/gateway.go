// Package payments reaches the payment processor that actually holds funds.
package payments

import (
	"context"
	"errors"
	"fmt"
)

// Gateway is the subset of processor operations escrow needs.
type Gateway interface {
	// CreateHold authorizes amount without capturing it.
	CreateHold(ctx context.Context, req HoldRequest) (Hold, error)
	Capture(ctx context.Context, paymentIntentID, idempotencyKey string) error
	Transfer(ctx context.Context, req TransferRequest) (Transfer, error)
}

type HoldRequest struct {
	Amount         int64
	Currency       string
	Description    string
	Metadata       map[string]string
	IdempotencyKey string
}

type Hold struct {
	PaymentIntentID string
	ClientSecret    string
}

type TransferRequest struct {
	Amount         int64
	Currency       string
	Destination    string
	TransferGroup  string
	Metadata       map[string]string
	IdempotencyKey string
}

type Transfer struct {
	ID string
}

// ProcessorError carries the processor's failure classification.
type ProcessorError struct {
	Op         string
	Code       string
	Type       string
	Message    string
	HTTPStatus int
	Err        error
}

func (e *ProcessorError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Code != "" {
		return fmt.Sprintf("payment processor %s failed (%s): %s", e.Op, e.Code, msg)
	}
	return fmt.Sprintf("payment processor %s failed: %s", e.Op, msg)
}

func (e *ProcessorError) Unwrap() error { return e.Err }

// AsProcessorError unwraps err into a ProcessorError when possible.
func AsProcessorError(err error) (*ProcessorError, bool) {
	var pe *ProcessorError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}
