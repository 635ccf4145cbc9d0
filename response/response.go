package response

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/utterlabs/utter/fault"
)

type envelope struct {
	Success  bool        `json:"success"`
	Kind     string      `json:"kind,omitempty"`
	Message  string      `json:"message,omitempty"`
	Messages []string    `json:"messages,omitempty"`
	Result   interface{} `json:"result"`
}

// WriteResponse writes a 200 JSON envelope with the given result
func WriteResponse(w http.ResponseWriter, r *http.Request, result interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(envelope{
		Success: true,
		Result:  result,
	})
}

// WriteError writes the error envelope with its embedded status code
func WriteError(w http.ResponseWriter, r *http.Request, e *Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.StatusCode)
	json.NewEncoder(w).Encode(envelope{
		Success:  false,
		Kind:     e.Kind,
		Message:  e.Message,
		Messages: e.Messages,
		Result:   e.Result,
	})
}

// FromFault maps a classified pipeline error into an HTTP error envelope.
// Quota and concurrency telemetry ride along in Result.
func FromFault(err error) *Error {
	var fe *fault.Error
	if !errors.As(err, &fe) {
		return ErrUnexpected()
	}

	var httpErr *Error
	switch fe.Kind {
	case fault.KindInvalidInput, fault.KindUnsupportedFormat, fault.KindUnsupportedEngine, fault.KindInvalidVoice:
		httpErr = ErrBadRequest()
	case fault.KindNoSubscription, fault.KindSubscriptionInactive, fault.KindSubscriptionExpired:
		httpErr = ErrPaymentRequired()
	case fault.KindQuotaExceeded, fault.KindConcurrencyLimitExceeded:
		httpErr = ErrTooManyRequests()
	case fault.KindSynthesisProviderError:
		httpErr = ErrBadGateway()
	case fault.KindStorageError, fault.KindSigningError:
		httpErr = ErrUnexpected()
	case fault.KindNotFound:
		httpErr = ErrNotFound()
	default:
		httpErr = ErrUnexpected()
	}

	httpErr = httpErr.WithKind(fe.Kind).AddMessages(fe.Message)
	if fe.Quota != nil {
		httpErr = httpErr.WithResult(fe.Quota)
	}
	if fe.Concurrency != nil {
		httpErr = httpErr.WithResult(fe.Concurrency)
	}
	return httpErr
}
