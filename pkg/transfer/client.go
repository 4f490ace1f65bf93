// Package transfer is the boundary to the external network that moves SOL out
// of the engine pool. Callers submit exactly once and then observe the outcome.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// LamportsPerSOL is the number of lamports in one SOL.
const LamportsPerSOL = 1_000_000_000

// MaxAmountSOL is the largest amount expressible as a lamport count.
var MaxAmountSOL = decimal.New(math.MaxInt64, -9)

// Status is the network-level state of a submitted transfer.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
)

// Final reports whether the status can no longer change.
func (s Status) Final() bool {
	return s == StatusConfirmed || s == StatusFailed
}

// Request describes one transfer from the pool authority to Destination.
// Reference is the caller's idempotency handle (the withdrawal id).
type Request struct {
	Reference   string
	Destination string
	Amount      decimal.Decimal
}

// Client submits transfers and reports their status. Lookup resolves the
// signature recorded for a reference, found is false if nothing was sent.
type Client interface {
	Submit(ctx context.Context, req Request) (string, error)
	Status(ctx context.Context, signature string) (Status, error)
	Lookup(ctx context.Context, reference string) (signature string, found bool, err error)
}

// ErrUnconfirmed is returned by Await when no final status was observed in time.
var ErrUnconfirmed = errors.New("transfer not confirmed before deadline")

// FailedError reports a transfer the network rejected.
type FailedError struct {
	Signature string
	Reason    string
}

func (e *FailedError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("transfer %s failed", e.Signature)
	}
	return fmt.Sprintf("transfer %s failed: %s", e.Signature, e.Reason)
}

// Await polls Status until the transfer is final or ctx expires. Status errors
// are treated as transient; the last one is attached to ErrUnconfirmed.
func Await(ctx context.Context, client Client, signature string, poll time.Duration) (Status, error) {
	if poll <= 0 {
		poll = time.Second
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	var lastErr error
	for {
		status, err := client.Status(ctx, signature)
		switch {
		case err != nil:
			lastErr = err
		case status == StatusConfirmed:
			return status, nil
		case status == StatusFailed:
			return status, &FailedError{Signature: signature}
		}

		select {
		case <-ctx.Done():
			if lastErr != nil {
				return StatusPending, fmt.Errorf("%w: %v", ErrUnconfirmed, lastErr)
			}
			return StatusPending, ErrUnconfirmed
		case <-ticker.C:
		}
	}
}

// ToLamports converts a SOL amount to lamports and rejects sub-lamport precision.
func ToLamports(amount decimal.Decimal) (int64, error) {
	if !amount.IsPositive() {
		return 0, fmt.Errorf("amount must be positive")
	}
	lamports := amount.Shift(9)
	if !lamports.Equal(lamports.Truncate(0)) {
		return 0, fmt.Errorf("amount %s is finer than one lamport", amount.String())
	}
	if lamports.GreaterThan(decimal.NewFromInt(math.MaxInt64)) {
		return 0, fmt.Errorf("amount %s exceeds %s SOL", amount.String(), MaxAmountSOL.String())
	}
	return lamports.IntPart(), nil
}

// FromLamports converts lamports back to SOL.
func FromLamports(lamports int64) decimal.Decimal {
	return decimal.New(lamports, -9)
}

func validate(req Request) error {
	if strings.TrimSpace(req.Destination) == "" {
		return fmt.Errorf("destination is required")
	}
	if _, err := ToLamports(req.Amount); err != nil {
		return err
	}
	return nil
}

// RejectedError means the transfer was refused before reaching the network.
// Any other Submit error leaves the outcome unknown.
type RejectedError struct {
	Code    string
	Message string
}

func (e *RejectedError) Error() string {
	if e.Code == "" {
		return "transfer rejected: " + e.Message
	}
	return fmt.Sprintf("transfer rejected (%s): %s", e.Code, e.Message)
}

// IsRejected reports whether err is a definitive submission rejection.
func IsRejected(err error) bool {
	var rejected *RejectedError
	return errors.As(err, &rejected)
}
