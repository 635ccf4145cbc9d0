package fault

import (
	"errors"
	"fmt"
)

// Kind is the machine-readable classification of a pipeline failure
type Kind string

// Defining every Kind the pipeline can surface
const (
	KindInvalidInput             Kind = "InvalidInput"
	KindNoSubscription           Kind = "NoSubscription"
	KindSubscriptionInactive     Kind = "SubscriptionInactive"
	KindSubscriptionExpired      Kind = "SubscriptionExpired"
	KindQuotaExceeded            Kind = "QuotaExceeded"
	KindConcurrencyLimitExceeded Kind = "ConcurrencyLimitExceeded"
	KindInvalidVoice             Kind = "InvalidVoice"
	KindUnsupportedFormat        Kind = "UnsupportedFormat"
	KindUnsupportedEngine        Kind = "UnsupportedEngine"
	KindSynthesisProviderError   Kind = "SynthesisProviderError"
	KindStorageError             Kind = "StorageError"
	KindSigningError             Kind = "SigningError"
	KindNotFound                 Kind = "NotFound"
)

// QuotaTelemetry carries remaining-capacity data so a client can decide
// whether to retry later or upgrade the plan
type QuotaTelemetry struct {
	CharactersUsed  int64   `json:"charactersUsed"`
	CharactersLimit int64   `json:"charactersLimit"`
	Remaining       int64   `json:"remaining"`
	UsagePercentage float64 `json:"usagePercentage"`
}

// ConcurrencyTelemetry reports in-flight counts on admission denial
type ConcurrencyTelemetry struct {
	Active  int64 `json:"active"`
	Allowed int64 `json:"allowed"`
}

// Error is a classified pipeline error with optional structured telemetry
type Error struct {
	Kind        Kind                  `json:"kind"`
	Message     string                `json:"message"`
	Quota       *QuotaTelemetry       `json:"quota,omitempty"`
	Concurrency *ConcurrencyTelemetry `json:"concurrency,omitempty"`

	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// WithQuota attaches quota telemetry to the error
func (e *Error) WithQuota(t QuotaTelemetry) *Error {
	e.Quota = &t
	return e
}

// WithConcurrency attaches admission telemetry to the error
func (e *Error) WithConcurrency(t ConcurrencyTelemetry) *Error {
	e.Concurrency = &t
	return e
}

// New returns a classified error with the given message
func New(kind Kind, message string) *Error {
	return &Error{
		Kind:    kind,
		Message: message,
	}
}

// Wrap classifies an underlying error, preserving it for errors.Unwrap
func Wrap(err error, kind Kind, message string) *Error {
	return &Error{
		Kind:    kind,
		Message: message,
		cause:   err,
	}
}

// KindOf extracts the Kind from any error in the chain, or empty string
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// IsKind reports whether any error in the chain carries the given Kind
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
