package payments

import (
	"context"
	"fmt"
	"sync"
)

// Fake is an in-memory Gateway for local runs and tests. Set the *Err
// fields to make the next calls fail.
type Fake struct {
	mu sync.Mutex

	HoldErr     error
	CaptureErr  error
	TransferErr error

	Holds     []HoldRequest
	Captures  []string
	Transfers []TransferRequest

	transfersByKey map[string]string
}

func (f *Fake) CreateHold(_ context.Context, req HoldRequest) (Hold, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.HoldErr != nil {
		return Hold{}, f.HoldErr
	}
	f.Holds = append(f.Holds, req)
	n := len(f.Holds)
	return Hold{
		PaymentIntentID: fmt.Sprintf("pi_fake_%d", n),
		ClientSecret:    fmt.Sprintf("pi_fake_%d_secret", n),
	}, nil
}

func (f *Fake) Capture(_ context.Context, paymentIntentID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CaptureErr != nil {
		return f.CaptureErr
	}
	f.Captures = append(f.Captures, paymentIntentID)
	return nil
}

// Transfer returns the same transfer for a repeated idempotency key.
func (f *Fake) Transfer(_ context.Context, req TransferRequest) (Transfer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.TransferErr != nil {
		return Transfer{}, f.TransferErr
	}
	if f.transfersByKey == nil {
		f.transfersByKey = map[string]string{}
	}
	if id, ok := f.transfersByKey[req.IdempotencyKey]; ok && req.IdempotencyKey != "" {
		return Transfer{ID: id}, nil
	}
	f.Transfers = append(f.Transfers, req)
	id := fmt.Sprintf("tr_fake_%d", len(f.Transfers))
	if req.IdempotencyKey != "" {
		f.transfersByKey[req.IdempotencyKey] = id
	}
	return Transfer{ID: id}, nil
}

func (f *Fake) HoldCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Holds)
}

func (f *Fake) CaptureCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Captures)
}

func (f *Fake) TransferCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Transfers)
}

// SetTransferErr swaps the transfer failure under the lock.
func (f *Fake) SetTransferErr(err error) {
	f.mu.Lock()
	f.TransferErr = err
	f.mu.Unlock()
}
