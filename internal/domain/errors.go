package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMissingIdentifier is returned when no candidate path yields an order number.
	ErrMissingIdentifier = errors.New("missing orderNumber")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrNotFound          = errors.New("order not found")
	ErrStore             = errors.New("order store failure")
	// ErrCarrierUnavailable matches every *CarrierUnavailableError.
	ErrCarrierUnavailable = errors.New("carrier unavailable")
	// ErrShipmentNotCreated means the carrier has not issued an official reference yet.
	ErrShipmentNotCreated = errors.New("shipment not created at carrier")
	// ErrDeliveryRegressed means the stored record is further along than the write.
	ErrDeliveryRegressed = errors.New("delivery state would move backwards")
)

// NormalizationError is fatal for persistence: the payload cannot be keyed.
type NormalizationError struct {
	Field string
}

func (e *NormalizationError) Error() string {
	return fmt.Sprintf("normalize: no value for required field %q", e.Field)
}

func (e *NormalizationError) Unwrap() error {
	return ErrMissingIdentifier
}

// StoreError wraps a persistence failure. Callers may retry: every write is an idempotent upsert.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() []error {
	return []error{ErrStore, e.Err}
}

// AttemptFailure is the outcome of one endpoint in a fallback list.
type AttemptFailure struct {
	Endpoint string
	Status   int
	Err      string
	Body     string
}

func (a AttemptFailure) String() string {
	if a.Err != "" {
		return fmt.Sprintf("%s: %s", a.Endpoint, a.Err)
	}
	return fmt.Sprintf("%s: HTTP %d", a.Endpoint, a.Status)
}

// CarrierUnavailableError is returned when every candidate endpoint failed or
// answered without a recognizable payload.
type CarrierUnavailableError struct {
	Op       string
	Attempts []AttemptFailure
	LastBody string
}

func (e *CarrierUnavailableError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, a.String())
	}
	if len(parts) == 0 {
		return fmt.Sprintf("carrier %s: no endpoint configured", e.Op)
	}
	return fmt.Sprintf("carrier %s: all endpoints failed [%s]", e.Op, strings.Join(parts, "; "))
}

func (e *CarrierUnavailableError) Is(target error) bool {
	return target == ErrCarrierUnavailable
}
