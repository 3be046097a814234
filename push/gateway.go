package push

import (
	"context"
	"errors"
	"fmt"
)

// Gateway delivers payloads to device addresses.
type Gateway interface {
	// SendToOne returns nil on success or a *SendError.
	SendToOne(ctx context.Context, address string, p Payload) error
	// SendMulticast delivers one payload to many addresses. A returned error means the call
	// itself failed before any per-address accounting.
	SendMulticast(ctx context.Context, addresses []string, p Payload) (MulticastResult, error)
}

// FailureKind classifies a failed send.
type FailureKind string

const (
	FailureUnreachable    FailureKind = "unreachable"
	FailureRejected       FailureKind = "rejected"
	FailureInvalidAddress FailureKind = "invalid-address"
	FailureTimeout        FailureKind = "timeout"
)

// SendError is a typed delivery failure.
type SendError struct {
	Kind    FailureKind
	Address string
	Err     error
}

func (e *SendError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("push to %s: %s", e.Address, e.Kind)
	}
	return fmt.Sprintf("push to %s: %s: %v", e.Address, e.Kind, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// KindOf returns the failure kind of err. Deadline and cancellation errors count as
// timeouts; anything untyped is unreachable.
func KindOf(err error) FailureKind {
	var se *SendError
	if errors.As(err, &se) {
		return se.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return FailureTimeout
	}
	return FailureUnreachable
}

// AddressResult is the outcome for one address of a multicast.
type AddressResult struct {
	Address string
	Err     error
}

// MulticastResult carries the provider-reported counts.
type MulticastResult struct {
	SuccessCount int
	FailureCount int
	Responses    []AddressResult
}

// FailedAddresses returns the addresses that failed with kind.
func (m MulticastResult) FailedAddresses(kind FailureKind) []string {
	var out []string
	for _, r := range m.Responses {
		if r.Err != nil && KindOf(r.Err) == kind {
			out = append(out, r.Address)
		}
	}
	return out
}

func (m *MulticastResult) merge(o MulticastResult) {
	m.SuccessCount += o.SuccessCount
	m.FailureCount += o.FailureCount
	m.Responses = append(m.Responses, o.Responses...)
}
