package miner

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"syscall"
)

// ErrorType represents the category of error that occurred
type ErrorType int

const (
	// ErrTypeConnection indicates the device refused the connection or is unreachable
	ErrTypeConnection ErrorType = iota
	// ErrTypeTimeout indicates a connect or read timeout
	ErrTypeTimeout
	// ErrTypeAuth indicates every credential candidate was rejected
	ErrTypeAuth
	// ErrTypeMalformed indicates a reply that is not JSON or does not match the schema
	ErrTypeMalformed
	// ErrTypeProtocolUnavailable indicates neither protocol passed detection
	ErrTypeProtocolUnavailable
	// ErrTypeCommandRejected indicates the device refused a well-formed command
	ErrTypeCommandRejected
	// ErrTypeValidation indicates invalid caller input
	ErrTypeValidation
	// ErrTypeUnknown indicates an unknown or unexpected error
	ErrTypeUnknown
)

// NetworkErrorSubtype provides more specific network error classification
type NetworkErrorSubtype int

const (
	NetworkErrorGeneral NetworkErrorSubtype = iota
	NetworkErrorTimeout
	NetworkErrorConnectionRefused
	NetworkErrorDNS
	NetworkErrorHostUnreachable
	NetworkErrorNetworkUnreachable
)

// String returns a human-readable name for the error type
func (et ErrorType) String() string {
	switch et {
	case ErrTypeConnection:
		return "Connection Error"
	case ErrTypeTimeout:
		return "Timeout"
	case ErrTypeAuth:
		return "Authentication Failed"
	case ErrTypeMalformed:
		return "Malformed Response"
	case ErrTypeProtocolUnavailable:
		return "Protocol Unavailable"
	case ErrTypeCommandRejected:
		return "Command Rejected"
	case ErrTypeValidation:
		return "Validation Error"
	case ErrTypeUnknown:
		return "Unknown Error"
	default:
		return fmt.Sprintf("ErrorType(%d)", et)
	}
}

// DeviceError represents an error that occurred while talking to a miner
type DeviceError struct {
	Type           ErrorType           // Category of error
	Message        string              // Human-readable error message
	Command        string              // API command being issued (if any)
	Protocol       Protocol            // Protocol the command went out on
	StatusCode     int                 // HTTP status code (if applicable)
	Err            error               // Underlying error (if any)
	NetworkSubtype NetworkErrorSubtype // More specific network error type
	DeviceHost     string              // Device host (for context)
}

// Error implements the error interface
func (e *DeviceError) Error() string {
	var b strings.Builder
	b.WriteString(e.Type.String())
	if e.Command != "" {
		fmt.Fprintf(&b, " [%s", e.Command)
		if e.Protocol != ProtocolUnknown {
			fmt.Fprintf(&b, " via %s", e.Protocol)
		}
		b.WriteString("]")
	}
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Err != nil {
		fmt.Fprintf(&b, " (caused by: %v)", e.Err)
	}
	return b.String()
}

// Unwrap returns the underlying error for error chain inspection
func (e *DeviceError) Unwrap() error {
	return e.Err
}

// ClassifyNetworkError analyzes a dial, read or HTTP transport error and
// returns a typed DeviceError. Deadlines map to Timeout, everything else to
// Connection with a subtype.
func ClassifyNetworkError(err error, host string) *DeviceError {
	if err == nil {
		return nil
	}

	if os.IsTimeout(err) || errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return &DeviceError{
			Type:           ErrTypeTimeout,
			Message:        "request timed out",
			Err:            err,
			NetworkSubtype: NetworkErrorTimeout,
			DeviceHost:     host,
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &DeviceError{
			Type:           ErrTypeTimeout,
			Message:        "request timed out",
			Err:            err,
			NetworkSubtype: NetworkErrorTimeout,
			DeviceHost:     host,
		}
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return &DeviceError{
			Type:           ErrTypeConnection,
			Message:        fmt.Sprintf("DNS resolution failed for %s", dnsErr.Name),
			Err:            err,
			NetworkSubtype: NetworkErrorDNS,
			DeviceHost:     host,
		}
	}

	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		return &DeviceError{
			Type:           ErrTypeConnection,
			Message:        "device refused connection",
			Err:            err,
			NetworkSubtype: NetworkErrorConnectionRefused,
			DeviceHost:     host,
		}
	case errors.Is(err, syscall.EHOSTUNREACH):
		return &DeviceError{
			Type:           ErrTypeConnection,
			Message:        "host unreachable",
			Err:            err,
			NetworkSubtype: NetworkErrorHostUnreachable,
			DeviceHost:     host,
		}
	case errors.Is(err, syscall.ENETUNREACH):
		return &DeviceError{
			Type:           ErrTypeConnection,
			Message:        "network unreachable",
			Err:            err,
			NetworkSubtype: NetworkErrorNetworkUnreachable,
			DeviceHost:     host,
		}
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Err != nil {
		// Recursively classify the underlying error
		classified := ClassifyNetworkError(urlErr.Err, host)
		classified.Err = err
		return classified
	}

	// Generic connection error
	return &DeviceError{
		Type:           ErrTypeConnection,
		Message:        "connection error occurred",
		Err:            err,
		NetworkSubtype: NetworkErrorGeneral,
		DeviceHost:     host,
	}
}

// NewConnectionError creates a connection-class error with automatic classification
func NewConnectionError(message string, err error) *DeviceError {
	classified := ClassifyNetworkError(err, "")
	if classified != nil {
		classified.Message = message
		return classified
	}
	return &DeviceError{
		Type:    ErrTypeConnection,
		Message: message,
	}
}

// NewAuthError creates an authentication error
func NewAuthError(message string) *DeviceError {
	return &DeviceError{
		Type:     ErrTypeAuth,
		Message:  message,
		Protocol: ProtocolHTTP,
	}
}

// NewMalformedError creates a malformed-response error
func NewMalformedError(message string, err error) *DeviceError {
	return &DeviceError{
		Type:    ErrTypeMalformed,
		Message: message,
		Err:     err,
	}
}

// NewRejectedError creates an error for a command the device refused
func NewRejectedError(command, reason string) *DeviceError {
	return &DeviceError{
		Type:    ErrTypeCommandRejected,
		Message: reason,
		Command: command,
	}
}

// NewProtocolUnavailableError creates an error for a device that passed no
// protocol detection
func NewProtocolUnavailableError(host string, err error) *DeviceError {
	return &DeviceError{
		Type:       ErrTypeProtocolUnavailable,
		Message:    "no supported protocol answered",
		Err:        err,
		DeviceHost: host,
	}
}

// NewValidationError creates a validation error
func NewValidationError(message string) *DeviceError {
	return &DeviceError{
		Type:    ErrTypeValidation,
		Message: message,
	}
}

func errorType(err error) (ErrorType, bool) {
	var devErr *DeviceError
	if errors.As(err, &devErr) {
		return devErr.Type, true
	}
	return ErrTypeUnknown, false
}

// IsConnectionClass reports whether err is a connection or timeout failure.
// These are the errors that trigger protocol fallback.
func IsConnectionClass(err error) bool {
	t, ok := errorType(err)
	return ok && (t == ErrTypeConnection || t == ErrTypeTimeout)
}

// IsTimeout checks if an error is a timeout
func IsTimeout(err error) bool {
	t, ok := errorType(err)
	return ok && t == ErrTypeTimeout
}

// IsAuthError checks if an error is an authentication error
func IsAuthError(err error) bool {
	t, ok := errorType(err)
	return ok && t == ErrTypeAuth
}

// IsMalformed checks if an error is a malformed-response error
func IsMalformed(err error) bool {
	t, ok := errorType(err)
	return ok && t == ErrTypeMalformed
}

// IsRejected checks if the device refused the command
func IsRejected(err error) bool {
	t, ok := errorType(err)
	return ok && t == ErrTypeCommandRejected
}

// IsProtocolUnavailable checks if detection failed on both protocols
func IsProtocolUnavailable(err error) bool {
	t, ok := errorType(err)
	return ok && t == ErrTypeProtocolUnavailable
}

// IsValidation checks if an error is a validation error
func IsValidation(err error) bool {
	t, ok := errorType(err)
	return ok && t == ErrTypeValidation
}

// GetTroubleshootingHint returns operator-facing advice for an error
func GetTroubleshootingHint(err error) string {
	var devErr *DeviceError
	if !errors.As(err, &devErr) {
		return "An unexpected error occurred. Please try again."
	}

	switch devErr.Type {
	case ErrTypeTimeout:
		return strings.Join([]string{
			"The miner did not respond in time.",
			"Troubleshooting:",
			"  • Check that the miner is powered on and hashing",
			"  • Increase control.read_timeout_seconds for slow firmware",
			"  • Check the network path between this host and the miner",
		}, "\n")

	case ErrTypeConnection:
		hint := []string{"The miner could not be reached."}

		switch devErr.NetworkSubtype {
		case NetworkErrorConnectionRefused:
			hint = append(hint, "Troubleshooting:",
				"  • Confirm the API is enabled in the miner firmware",
				"  • Verify the socket port (default 4028)",
				"  • Some firmwares only expose the HTTP API")
		case NetworkErrorDNS:
			hint = append(hint, "Troubleshooting:",
				"  • Use the miner's IP address instead of its hostname",
				"  • Run 'solminer scan' to find miners on the local network")
		case NetworkErrorHostUnreachable, NetworkErrorNetworkUnreachable:
			hint = append(hint, "Troubleshooting:",
				"  • Verify the miner IP address is correct",
				"  • Check that this host is on the same network as the miner",
				"  • Try pinging the miner: ping "+devErr.DeviceHost)
		default:
			hint = append(hint, "Troubleshooting:",
				"  • Check your network connection",
				"  • Verify the miner is powered on")
		}
		return strings.Join(hint, "\n")

	case ErrTypeAuth:
		return strings.Join([]string{
			"The HTTP API rejected every credential.",
			"Troubleshooting:",
			"  • Add the miner's username and password to the device config",
			"  • Try the separators comma, colon and pipe",
			"  • Check whether the firmware password was changed",
		}, "\n")

	case ErrTypeMalformed:
		return strings.Join([]string{
			"The miner sent a reply that could not be parsed.",
			"This may indicate an unsupported firmware.",
			"Run with SOLMINER_LOG_LEVEL=debug to see the raw reply.",
		}, "\n")

	case ErrTypeProtocolUnavailable:
		return strings.Join([]string{
			"Neither the socket API nor the HTTP API answered.",
			"Detection will be retried on the next control cycle.",
		}, "\n")

	case ErrTypeCommandRejected:
		return "The miner refused the command: " + devErr.Message

	case ErrTypeValidation:
		return "The requested value is invalid. Check the error message for details."

	default:
		return "An error occurred. Please check the error message for details."
	}
}

// GetShortErrorMessage returns a concise, user-friendly error message
func GetShortErrorMessage(err error) string {
	var devErr *DeviceError
	if !errors.As(err, &devErr) {
		return err.Error()
	}

	switch devErr.Type {
	case ErrTypeTimeout:
		return "Miner not responding (timeout)"
	case ErrTypeConnection:
		switch devErr.NetworkSubtype {
		case NetworkErrorConnectionRefused:
			return "Miner refused connection"
		case NetworkErrorDNS:
			return "Cannot resolve miner hostname"
		case NetworkErrorHostUnreachable:
			return "Miner unreachable - check network connection"
		case NetworkErrorNetworkUnreachable:
			return "Network unreachable"
		default:
			return "Connection error - check network"
		}
	case ErrTypeAuth:
		return "Authentication failed - check credentials"
	case ErrTypeMalformed:
		return "Failed to parse miner response"
	case ErrTypeProtocolUnavailable:
		return "No supported API on miner"
	case ErrTypeCommandRejected:
		return "Command rejected: " + devErr.Message
	default:
		return devErr.Message
	}
}
