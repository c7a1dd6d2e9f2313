package validation

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// ValidationError represents a validation error with details
type ValidationError struct {
	Field   string
	Value   string
	Message string
	Code    ValidationErrorCode
}

// ValidationErrorCode represents different types of validation errors
type ValidationErrorCode int

const (
	ErrorInvalidHost ValidationErrorCode = iota
	ErrorInvalidPort
	ErrorInvalidFormat
	ErrorInvalidURL
	ErrorInvalidScheme
)

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error in %s: %s (value: %s)", e.Field, e.Message, e.Value)
}

// AddressValidator checks candidate proxy addresses. Only dotted IPv4 hosts
// are accepted because that is what the scraper produces and what the store
// is keyed on.
type AddressValidator struct {
	maxPortNumber int
}

// NewAddressValidator creates a validator with default settings
func NewAddressValidator() *AddressValidator {
	return &AddressValidator{
		maxPortNumber: 65535,
	}
}

// ValidateAddress validates an ip:port pair
func (v *AddressValidator) ValidateAddress(address string) error {
	if strings.TrimSpace(address) == "" {
		return ValidationError{
			Field:   "address",
			Value:   address,
			Message: "address cannot be empty",
			Code:    ErrorInvalidFormat,
		}
	}

	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return ValidationError{
			Field:   "address",
			Value:   address,
			Message: fmt.Sprintf("invalid ip:port format: %v", err),
			Code:    ErrorInvalidFormat,
		}
	}

	if _, err := v.CanonicalIPv4(host); err != nil {
		return err
	}

	return v.ValidatePort(port)
}

// NormalizeAddress validates an ip:port pair and returns it with octets and
// port in canonical decimal form.
func (v *AddressValidator) NormalizeAddress(address string) (string, error) {
	host, port, err := net.SplitHostPort(strings.TrimSpace(address))
	if err != nil {
		return "", ValidationError{
			Field:   "address",
			Value:   address,
			Message: fmt.Sprintf("invalid ip:port format: %v", err),
			Code:    ErrorInvalidFormat,
		}
	}
	return v.Join(host, port)
}

// Join validates host and port separately and returns the canonical address
func (v *AddressValidator) Join(host, port string) (string, error) {
	ip, err := v.CanonicalIPv4(host)
	if err != nil {
		return "", err
	}
	if err := v.ValidatePort(port); err != nil {
		return "", err
	}
	n, _ := strconv.Atoi(port)
	return net.JoinHostPort(ip, strconv.Itoa(n)), nil
}

// CanonicalIPv4 validates a dotted IPv4 literal and strips leading zeros from
// its octets.
func (v *AddressValidator) CanonicalIPv4(host string) (string, error) {
	parts := strings.Split(host, ".")
	if len(parts) != 4 {
		return "", ValidationError{
			Field:   "ip_address",
			Value:   host,
			Message: "expected four dotted octets",
			Code:    ErrorInvalidHost,
		}
	}

	octets := make([]string, 4)
	for i, part := range parts {
		if part == "" || len(part) > 3 {
			return "", ValidationError{
				Field:   "ip_address",
				Value:   host,
				Message: "octet must be 1 to 3 digits",
				Code:    ErrorInvalidHost,
			}
		}
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 || n > 255 || strings.ContainsAny(part, "+-") {
			return "", ValidationError{
				Field:   "ip_address",
				Value:   host,
				Message: "octet must be between 0 and 255",
				Code:    ErrorInvalidHost,
			}
		}
		octets[i] = strconv.Itoa(n)
	}

	return strings.Join(octets, "."), nil
}

// ValidatePort validates a port number
func (v *AddressValidator) ValidatePort(portStr string) error {
	if portStr == "" {
		return ValidationError{
			Field:   "port",
			Value:   portStr,
			Message: "port is required",
			Code:    ErrorInvalidPort,
		}
	}

	if strings.ContainsAny(portStr, "+-") {
		return ValidationError{
			Field:   "port",
			Value:   portStr,
			Message: "port must be a number",
			Code:    ErrorInvalidPort,
		}
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		return ValidationError{
			Field:   "port",
			Value:   portStr,
			Message: "port must be a number",
			Code:    ErrorInvalidPort,
		}
	}

	if port <= 0 || port > v.maxPortNumber {
		return ValidationError{
			Field:   "port",
			Value:   portStr,
			Message: fmt.Sprintf("port must be between 1 and %d", v.maxPortNumber),
			Code:    ErrorInvalidPort,
		}
	}

	return nil
}

// ValidateJudgeURL checks that a judge endpoint is an absolute http(s) URL
// whose scheme matches the transport it is configured for.
func ValidateJudgeURL(raw string, wantScheme string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return ValidationError{
			Field:   "judge_url",
			Value:   raw,
			Message: fmt.Sprintf("failed to parse URL: %v", err),
			Code:    ErrorInvalidURL,
		}
	}
	if parsed.Host == "" {
		return ValidationError{
			Field:   "judge_url",
			Value:   raw,
			Message: "URL must be absolute",
			Code:    ErrorInvalidURL,
		}
	}
	if !strings.EqualFold(parsed.Scheme, wantScheme) {
		return ValidationError{
			Field:   "judge_url",
			Value:   raw,
			Message: fmt.Sprintf("scheme must be %s", wantScheme),
			Code:    ErrorInvalidScheme,
		}
	}
	return nil
}
