// Package dataerr defines the closed taxonomy of client-visible data errors and
// the rules that map raw transport failures onto it.
package dataerr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// Code enumerates every classified failure.
type Code string

const (
	CodeNetworkOffline   Code = "E.NETWORK_OFFLINE"
	CodeTimeout          Code = "E.TIMEOUT"
	CodeRLSForbidden     Code = "E.RLS_FORBIDDEN"
	CodeValidationFailed Code = "E.VALIDATION_FAILED"
	CodeConflictVersion  Code = "E.CONFLICT_VERSION"
	CodeCapExceeded      Code = "E.CAP_EXCEEDED"
	CodePurchaseNotFound Code = "E.PURCHASE_NOT_FOUND"
	CodeInvalidSKU       Code = "E.INVALID_SKU"
	CodeNetworkError     Code = "E.NETWORK_ERROR"
	CodeUnknown          Code = "E.UNKNOWN"
)

// Codes lists the taxonomy in declaration order.
var Codes = []Code{
	CodeNetworkOffline,
	CodeTimeout,
	CodeRLSForbidden,
	CodeValidationFailed,
	CodeConflictVersion,
	CodeCapExceeded,
	CodePurchaseNotFound,
	CodeInvalidSKU,
	CodeNetworkError,
	CodeUnknown,
}

// Valid reports whether the code belongs to the taxonomy.
func (c Code) Valid() bool {
	for _, known := range Codes {
		if c == known {
			return true
		}
	}
	return false
}

// IsPermanent reports whether a failure with this code can never succeed on retry.
func IsPermanent(code Code) bool {
	return code == CodeRLSForbidden || code == CodeValidationFailed
}

// IsConflict reports whether the server already reflects a concurrent writer's change.
func IsConflict(code Code) bool {
	return code == CodeConflictVersion
}

// Error is a classified failure. Raw provider errors stay behind Unwrap.
type Error struct {
	Code    Code
	Message string
	Status  int
	Meta    map[string]any
	cause   error
}

// New builds a classified error.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap classifies cause under code, keeping it reachable through errors.Unwrap.
func Wrap(code Code, cause error) *Error {
	message := ""
	if cause != nil {
		message = cause.Error()
	}
	return &Error{Code: code, Message: message, cause: cause}
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// WithStatus records the HTTP status the error was derived from.
func (e *Error) WithStatus(status int) *Error {
	e.Status = status
	return e
}

// CodeOf extracts the classified code from err. Unclassified errors are E.UNKNOWN.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Code
	}
	return CodeUnknown
}

// Connectivity reports whether the device believes it has network access.
type Connectivity interface {
	Online() bool
}

// ConnectivityFunc adapts a function to Connectivity.
type ConnectivityFunc func() bool

func (f ConnectivityFunc) Online() bool {
	return f()
}

// AlwaysOnline is used when no connectivity signal is available.
var AlwaysOnline Connectivity = ConnectivityFunc(func() bool { return true })

// TransportFailure is the raw shape of a failed remote call.
type TransportFailure struct {
	Status  int
	Message string
	Err     error
}

// Classifier maps transport failures to codes using a connectivity signal.
type Classifier struct {
	connectivity Connectivity
}

// NewClassifier returns a classifier; nil connectivity means always online.
func NewClassifier(connectivity Connectivity) *Classifier {
	if connectivity == nil {
		connectivity = AlwaysOnline
	}
	return &Classifier{connectivity: connectivity}
}

// Classify applies the mapping rules in order:
// 401/403, 409, 408 or timeout, offline, other 4xx, 5xx, everything else.
func (c *Classifier) Classify(failure TransportFailure) *Error {
	message := failure.Message
	if message == "" && failure.Err != nil {
		message = failure.Err.Error()
	}
	if message == "" && failure.Status != 0 {
		message = http.StatusText(failure.Status)
	}
	status := failure.Status

	classified := func(code Code) *Error {
		return &Error{Code: code, Message: message, Status: status, cause: failure.Err}
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return classified(CodeRLSForbidden)
	case status == http.StatusConflict:
		return classified(CodeConflictVersion)
	case status == http.StatusRequestTimeout || isTimeout(failure.Err, message):
		return classified(CodeTimeout)
	case c != nil && c.connectivity != nil && !c.connectivity.Online():
		return classified(CodeNetworkOffline)
	case status >= 400 && status < 500:
		return classified(CodeValidationFailed)
	case status >= 500:
		return classified(CodeUnknown)
	default:
		return classified(CodeUnknown)
	}
}

// Classify uses an always-online classifier.
func Classify(failure TransportFailure) *Error {
	return NewClassifier(nil).Classify(failure)
}

func isTimeout(err error, message string) bool {
	if strings.Contains(strings.ToLower(message), "timeout") {
		return true
	}
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// ClassifyClaimResponse maps a failed claim call onto the store codes.
func ClassifyClaimResponse(status int, body string) *Error {
	message := strings.TrimSpace(body)
	lowered := strings.ToLower(message)
	classified := func(code Code) *Error {
		return &Error{Code: code, Message: message, Status: status}
	}
	switch {
	case status == http.StatusConflict || strings.Contains(lowered, "cap exceeded"):
		return classified(CodeCapExceeded)
	case status == http.StatusNotFound || strings.Contains(lowered, "purchase not found"):
		return classified(CodePurchaseNotFound)
	case status == http.StatusBadRequest || strings.Contains(lowered, "sku not claimable"):
		return classified(CodeInvalidSKU)
	default:
		return classified(CodeNetworkError)
	}
}

// HTTPStatus is the status a server reports for a classified error.
func HTTPStatus(code Code) int {
	switch code {
	case CodeRLSForbidden:
		return http.StatusForbidden
	case CodeConflictVersion, CodeCapExceeded:
		return http.StatusConflict
	case CodeTimeout:
		return http.StatusRequestTimeout
	case CodeValidationFailed, CodeInvalidSKU:
		return http.StatusBadRequest
	case CodePurchaseNotFound:
		return http.StatusNotFound
	case CodeNetworkOffline, CodeNetworkError:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
