package telephonyprovider

import (
	"context"
	"errors"
	"fmt"

	"github.com/virtnum/golang_services/internal/provisioning_service/domain"
)

// ErrorKind classifies a provider failure for the retry policy.
type ErrorKind string

const (
	// ErrorKindTransient covers network failures, timeouts and provider 5xx
	// responses. Transient failures are retried with backoff.
	ErrorKindTransient ErrorKind = "transient"
	// ErrorKindPermanent covers semantic rejections and provider 4xx
	// responses. Permanent failures bypass retry entirely.
	ErrorKindPermanent ErrorKind = "permanent"
)

// ProviderError is a classified failure from the external telephony provider.
type ProviderError struct {
	Kind       ErrorKind
	Operation  string // e.g. "provision", "cancel"
	StatusCode int    // provider or HTTP status code, 0 if not applicable
	Message    string
	Err        error // underlying cause, may be nil
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("provider %s failed (%s, code=%d): %s: %v", e.Operation, e.Kind, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("provider %s failed (%s, code=%d): %s", e.Operation, e.Kind, e.StatusCode, e.Message)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Transient builds a transient provider error.
func Transient(operation string, code int, message string, err error) *ProviderError {
	return &ProviderError{Kind: ErrorKindTransient, Operation: operation, StatusCode: code, Message: message, Err: err}
}

// Permanent builds a permanent provider error.
func Permanent(operation string, code int, message string, err error) *ProviderError {
	return &ProviderError{Kind: ErrorKindPermanent, Operation: operation, StatusCode: code, Message: message, Err: err}
}

// IsTransient reports whether err should be retried. Unclassified errors
// (including context deadline) are treated as transient so a flaky network
// path never terminally fails a number on its own.
func IsTransient(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind == ErrorKindTransient
	}
	return true
}

// IsPermanent reports whether err must not be retried.
func IsPermanent(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind == ErrorKindPermanent
	}
	return false
}

// ProvisionRequest carries everything the provider needs to activate a
// number resource.
type ProvisionRequest struct {
	NumberID    string                  // our internal number ID, for provider-side idempotency keys
	PhoneNumber string                  // the number string to activate
	ExternalID  string                  // existing provider resource ID, empty on first attempt
	Forwarding  domain.ForwardingConfig // initial routing configuration
}

// Adapter is the interface to the external telephony provider. It is an
// untrusted, latent, fallible dependency: every method may block on network
// I/O and may fail with a classified ProviderError.
//
// Provision must be idempotent on retry: when the request carries an
// existing ExternalID the adapter verifies it instead of creating a second
// external resource.
type Adapter interface {
	Provision(ctx context.Context, req ProvisionRequest) (externalID string, err error)
	UpdateConfig(ctx context.Context, externalID string, cfg domain.ForwardingConfig) error
	Cancel(ctx context.Context, externalID string) error
	Suspend(ctx context.Context, externalID string) error
	Reactivate(ctx context.Context, externalID string) error
	GetName() string
}
