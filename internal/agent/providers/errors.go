package providers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorClass categorizes provider failures for retry decisions.
type ErrorClass string

const (
	ClassRateLimit      ErrorClass = "rate_limit"
	ClassAuth           ErrorClass = "auth"
	ClassBilling        ErrorClass = "billing"
	ClassTimeout        ErrorClass = "timeout"
	ClassServerError    ErrorClass = "server_error"
	ClassInvalidRequest ErrorClass = "invalid_request"
	ClassUnknown        ErrorClass = "unknown"
)

// IsRetryable reports whether retrying may succeed for this class.
func (c ErrorClass) IsRetryable() bool {
	switch c {
	case ClassRateLimit, ClassTimeout, ClassServerError:
		return true
	default:
		return false
	}
}

// ProviderError is a classified error from an LLM backend.
type ProviderError struct {
	Class    ErrorClass
	Provider string
	Model    string
	Status   int
	Message  string
	Cause    error
}

func (e *ProviderError) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[%s]", e.Class))
	if e.Provider != "" {
		parts = append(parts, e.Provider)
	}
	if e.Model != "" {
		parts = append(parts, "model="+e.Model)
	}
	if e.Status != 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.Status))
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, " ")
}

func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// NewProviderError wraps cause with provider context and a classification.
func NewProviderError(provider, model string, cause error) *ProviderError {
	err := &ProviderError{
		Provider: provider,
		Model:    model,
		Cause:    cause,
		Class:    ClassUnknown,
	}
	if cause != nil {
		err.Message = cause.Error()
		err.Class = Classify(cause)
	}
	return err
}

// WithStatus attaches an HTTP status and reclassifies from it.
func (e *ProviderError) WithStatus(status int) *ProviderError {
	e.Status = status
	e.Class = classifyStatus(status)
	return e
}

// Classify inspects an error message and assigns an ErrorClass.
func Classify(err error) ErrorClass {
	if err == nil {
		return ClassUnknown
	}
	msg := strings.ToLower(err.Error())

	switch {
	case strings.Contains(msg, "timeout"),
		strings.Contains(msg, "deadline exceeded"):
		return ClassTimeout
	case strings.Contains(msg, "rate limit"),
		strings.Contains(msg, "rate_limit"),
		strings.Contains(msg, "too many requests"),
		strings.Contains(msg, "429"):
		return ClassRateLimit
	case strings.Contains(msg, "unauthorized"),
		strings.Contains(msg, "invalid api key"),
		strings.Contains(msg, "authentication"),
		strings.Contains(msg, "401"),
		strings.Contains(msg, "403"):
		return ClassAuth
	case strings.Contains(msg, "billing"),
		strings.Contains(msg, "insufficient"),
		strings.Contains(msg, "quota"):
		return ClassBilling
	case strings.Contains(msg, "internal server"),
		strings.Contains(msg, "server error"),
		strings.Contains(msg, "500"),
		strings.Contains(msg, "502"),
		strings.Contains(msg, "503"),
		strings.Contains(msg, "529"):
		return ClassServerError
	default:
		return ClassUnknown
	}
}

func classifyStatus(status int) ErrorClass {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ClassAuth
	case status == http.StatusPaymentRequired:
		return ClassBilling
	case status == http.StatusTooManyRequests:
		return ClassRateLimit
	case status == http.StatusBadRequest:
		return ClassInvalidRequest
	case status >= 500:
		return ClassServerError
	default:
		return ClassUnknown
	}
}

// IsRetryable reports whether the error is worth retrying.
func IsRetryable(err error) bool {
	var perr *ProviderError
	if errors.As(err, &perr) {
		return perr.Class.IsRetryable()
	}
	return Classify(err).IsRetryable()
}
