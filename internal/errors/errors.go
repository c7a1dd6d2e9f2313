package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode represents different types of errors that can occur
type ErrorCode int

const (
	// Configuration errors
	ErrorConfigNotFound ErrorCode = iota + 1000
	ErrorConfigInvalid
	ErrorConfigParsingFailed

	// File I/O errors
	ErrorFileNotFound
	ErrorFileReadFailed
	ErrorFileWriteFailed
	ErrorFileEmpty
	ErrorFileInvalidFormat

	// Network/Connection errors
	ErrorConnectionFailed
	ErrorConnectionTimeout
	ErrorConnectionRefused
	ErrorDNSResolutionFailed
	ErrorTLSHandshakeFailed
	ErrorProxyAuthRequired
	ErrorProxyConnectionFailed

	// HTTP errors
	ErrorHTTPRequestFailed
	ErrorHTTPInvalidResponse
	ErrorHTTPUnexpectedStatus

	// Probe errors
	ErrorProbeFailed
	ErrorProbeNoIP
	ErrorPortClosed
	ErrorCurrentIPUnavailable
	ErrorUnsupportedProtocol

	// Store errors
	ErrorStoreUnavailable
	ErrorStoreQueryFailed
	ErrorStoreWriteFailed
	ErrorStoreUnsupportedDSN

	// System errors
	ErrorSystemTimeout
	ErrorSystemShutdown
	ErrorUnexpectedPanic

	// API request errors
	ErrorRequestInvalid
	ErrorRequestTooLarge
)

// ProxyError represents a structured error with context and error codes
type ProxyError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Operation string                 `json:"operation,omitempty"`
	Proxy     string                 `json:"proxy,omitempty"`
	URL       string                 `json:"url,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Cause     error                  `json:"-"`
}

func (e *ProxyError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%d] %s", e.Code, e.Message)

	sep := " ["
	for _, kv := range [][2]string{{"operation", e.Operation}, {"proxy", e.Proxy}, {"url", e.URL}} {
		if kv[1] == "" {
			continue
		}
		b.WriteString(sep + kv[0] + "=" + kv[1])
		sep = ", "
	}
	if sep == ", " {
		b.WriteByte(']')
	}

	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	return b.String()
}

func (e *ProxyError) Unwrap() error {
	return e.Cause
}

// Is matches any *ProxyError carrying the same code
func (e *ProxyError) Is(target error) bool {
	pe, ok := target.(*ProxyError)
	return ok && e.Code == pe.Code
}

// WithDetail sets one detail and returns e for chaining
func (e *ProxyError) WithDetail(key string, value interface{}) *ProxyError {
	if e.Details == nil {
		e.Details = map[string]interface{}{}
	}
	e.Details[key] = value
	return e
}

func (e *ProxyError) WithProxy(proxy string) *ProxyError {
	e.Proxy = proxy
	return e
}

func (e *ProxyError) WithURL(url string) *ProxyError {
	e.URL = url
	return e
}

func newError(operation string, code ErrorCode, message string, cause error) *ProxyError {
	return &ProxyError{Code: code, Message: message, Operation: operation, Cause: cause}
}

// NewConfigError reports a problem loading or validating configuration
func NewConfigError(code ErrorCode, message string, cause error) *ProxyError {
	return newError("config", code, message, cause)
}

// NewFileError reports a problem with a proxy list or output file
func NewFileError(code ErrorCode, message string, filename string, cause error) *ProxyError {
	return newError("file", code, message, cause).WithDetail("filename", filename)
}

func NewNetworkError(code ErrorCode, message string, proxy string, cause error) *ProxyError {
	return newError("network", code, message, cause).WithProxy(proxy)
}

func NewHTTPError(code ErrorCode, message string, url string, cause error) *ProxyError {
	return newError("http", code, message, cause).WithURL(url)
}

// NewCheckError is raised by the checker itself, not by a single attempt
func NewCheckError(code ErrorCode, message string, proxy string, cause error) *ProxyError {
	return newError("check", code, message, cause).WithProxy(proxy)
}

func NewStoreError(code ErrorCode, message string, proxy string, cause error) *ProxyError {
	return newError("store", code, message, cause).WithProxy(proxy)
}

func NewSystemError(code ErrorCode, message string, cause error) *ProxyError {
	return newError("system", code, message, cause)
}

// NewRequestError rejects an API request before any check runs
func NewRequestError(code ErrorCode, message string, cause error) *ProxyError {
	return newError("request", code, message, cause)
}

// ProbeError is a failed attempt of one protocol/TLS combination. It is never
// fatal to a check; the checker moves on to the next combination.
type ProbeError struct {
	Protocol string
	UseTLS   bool
	URL      string
	Code     ErrorCode
	Cause    error
}

func (e *ProbeError) Error() string {
	mode := "plain"
	if e.UseTLS {
		mode = "tls"
	}
	msg := fmt.Sprintf("[%d] probe %s/%s failed", e.Code, e.Protocol, mode)
	if e.URL != "" {
		msg += fmt.Sprintf(" [url=%s]", e.URL)
	}
	if e.Cause != nil {
		msg += fmt.Sprintf(": %v", e.Cause)
	}
	return msg
}

func (e *ProbeError) Unwrap() error {
	return e.Cause
}

// NewProbeError creates a probe error for the given protocol and TLS mode
func NewProbeError(code ErrorCode, protocol string, useTLS bool, url string, cause error) *ProbeError {
	return &ProbeError{
		Protocol: protocol,
		UseTLS:   useTLS,
		URL:      url,
		Code:     code,
		Cause:    cause,
	}
}

// IsProbeError reports whether err (or anything it wraps) is a ProbeError
func IsProbeError(err error) bool {
	var pe *ProbeError
	return errors.As(err, &pe)
}

func codeOf(err error) (ErrorCode, bool) {
	var pe *ProxyError
	if errors.As(err, &pe) {
		return pe.Code, true
	}
	var probe *ProbeError
	if errors.As(err, &probe) {
		return probe.Code, true
	}
	return 0, false
}

// IsConfigError checks if the error is configuration-related
func IsConfigError(err error) bool {
	code, ok := codeOf(err)
	return ok && code >= ErrorConfigNotFound && code <= ErrorConfigParsingFailed
}

// IsFileError checks if the error is file I/O related
func IsFileError(err error) bool {
	code, ok := codeOf(err)
	return ok && code >= ErrorFileNotFound && code <= ErrorFileInvalidFormat
}

// IsNetworkError checks if the error is network-related
func IsNetworkError(err error) bool {
	code, ok := codeOf(err)
	return ok && code >= ErrorConnectionFailed && code <= ErrorProxyConnectionFailed
}

// IsHTTPError checks if the error is HTTP-related
func IsHTTPError(err error) bool {
	code, ok := codeOf(err)
	return ok && code >= ErrorHTTPRequestFailed && code <= ErrorHTTPUnexpectedStatus
}

// IsStoreError checks if the error came from a persistence adapter
func IsStoreError(err error) bool {
	code, ok := codeOf(err)
	return ok && code >= ErrorStoreUnavailable && code <= ErrorStoreUnsupportedDSN
}

// IsRequestError checks if the error rejects an API request
func IsRequestError(err error) bool {
	code, ok := codeOf(err)
	return ok && code >= ErrorRequestInvalid && code <= ErrorRequestTooLarge
}

// IsCritical determines if an error is critical and should stop processing
func IsCritical(err error) bool {
	code, ok := codeOf(err)
	if !ok {
		return false
	}
	switch code {
	case ErrorConfigNotFound,
		ErrorConfigInvalid,
		ErrorFileNotFound,
		ErrorStoreUnavailable,
		ErrorSystemShutdown,
		ErrorUnexpectedPanic:
		return true
	}
	return false
}

// GetErrorCategory returns a human-readable category for the error
func GetErrorCategory(err error) string {
	code, ok := codeOf(err)
	if !ok {
		return "Generic"
	}
	switch {
	case IsConfigError(err):
		return "Configuration"
	case IsFileError(err):
		return "File I/O"
	case IsNetworkError(err):
		return "Network"
	case IsHTTPError(err):
		return "HTTP"
	case code >= ErrorProbeFailed && code <= ErrorUnsupportedProtocol:
		return "Probe"
	case IsStoreError(err):
		return "Store"
	case code >= ErrorSystemTimeout && code <= ErrorUnexpectedPanic:
		return "System"
	case IsRequestError(err):
		return "Request"
	default:
		return fmt.Sprintf("Unknown (%d)", code)
	}
}
