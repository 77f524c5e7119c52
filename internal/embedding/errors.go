package embedding

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidArgument         = errors.New("invalid argument")
	ErrProviderAuth            = errors.New("embedding provider authentication failed")
	ErrProviderTransient       = errors.New("embedding provider transient failure")
	ErrProviderRejected        = errors.New("embedding provider rejected request")
	ErrProviderResponseInvalid = errors.New("embedding provider response invalid")
)

type ErrorKind string

const (
	KindAuth            ErrorKind = "auth"
	KindTransient       ErrorKind = "transient"
	KindRejected        ErrorKind = "rejected"
	KindInvalidResponse ErrorKind = "invalid_response"
)

// ProviderError is the only error shape a Provider returns for remote failures.
type ProviderError struct {
	Kind       ErrorKind
	Provider   string
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := fmt.Sprintf("%s provider %s failure", e.Provider, e.Kind)
	if e.StatusCode > 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProviderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *ProviderError) Is(target error) bool {
	if e == nil {
		return false
	}
	switch e.Kind {
	case KindAuth:
		return target == ErrProviderAuth
	case KindTransient:
		return target == ErrProviderTransient
	case KindRejected:
		return target == ErrProviderRejected
	case KindInvalidResponse:
		return target == ErrProviderResponseInvalid
	default:
		return false
	}
}

// Retryable reports whether the caller may retry the same request later.
func Retryable(err error) bool {
	return errors.Is(err, ErrProviderTransient)
}

func classifyStatus(status int) ErrorKind {
	switch {
	case status == 401 || status == 403:
		return KindAuth
	case status == 408 || status == 409 || status == 429 || status >= 500:
		return KindTransient
	case status >= 400:
		return KindRejected
	default:
		return KindInvalidResponse
	}
}

func invalidResponse(provider string, format string, args ...any) error {
	return &ProviderError{
		Kind:     KindInvalidResponse,
		Provider: provider,
		Err:      fmt.Errorf(format, args...),
	}
}
