package fetch

import (
	"context"
	"errors"
	"net"
	"strings"
)

// ErrorKind is the failure taxonomy shared by both fetch paths.
type ErrorKind string

// Error kinds recorded on failed results.
const (
	ErrorKindNetwork        ErrorKind = "network_error"
	ErrorKindTimeout        ErrorKind = "timeout_error"
	ErrorKindNavigation     ErrorKind = "navigation_error"
	ErrorKindCaptcha        ErrorKind = "captcha_error"
	ErrorKindProxy          ErrorKind = "proxy_error"
	ErrorKindInfrastructure ErrorKind = "infrastructure_error"
	ErrorKindUnknown        ErrorKind = "unknown_error"
)

// Sentinel failure causes wrapped by the fetch paths.
var (
	// ErrChallengeDetected marks content that still shows an anti-bot
	// interstitial after the extra settle re-read.
	ErrChallengeDetected = errors.New("challenge page detected")
	// ErrChallengeUnsolved is the solver's explicit "could not solve"
	// outcome, distinct from transport failures reaching the solver.
	ErrChallengeUnsolved = errors.New("challenge unsolved")
	// ErrNavigation covers render/navigation failures including HTTP
	// error statuses from the target.
	ErrNavigation = errors.New("navigation failed")
	// ErrProxy covers proxy handshake and tunnel failures.
	ErrProxy = errors.New("proxy connection failed")
	// ErrJobNotFound is returned when a polled job identifier is unknown.
	ErrJobNotFound = errors.New("job not found")
)

// ValidationError rejects a malformed submission before any job exists.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid request: " + e.Reason
}

// NewValidationError builds a ValidationError with the given reason.
func NewValidationError(reason string) error {
	return &ValidationError{Reason: reason}
}

// IsValidation reports whether err is a submission validation failure.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Classify maps a raised failure onto the error taxonomy. Order matters:
// explicit domain sentinels win over transport-level signals so a challenge
// wrapped around a read error still counts as a captcha.
func Classify(err error) ErrorKind {
	if err == nil {
		return ""
	}
	switch {
	case errors.Is(err, ErrChallengeDetected), errors.Is(err, ErrChallengeUnsolved):
		return ErrorKindCaptcha
	case errors.Is(err, ErrProxy), isProxyTransport(err):
		return ErrorKindProxy
	case errors.Is(err, context.DeadlineExceeded), isNetTimeout(err):
		return ErrorKindTimeout
	case isNetworkFailure(err):
		return ErrorKindNetwork
	case errors.Is(err, ErrNavigation):
		return ErrorKindNavigation
	case errors.Is(err, context.Canceled):
		// Cancellation comes from service shutdown, not the target.
		return ErrorKindInfrastructure
	default:
		return ErrorKindUnknown
	}
}

func isNetTimeout(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	// Chrome surfaces its own net stack timeouts only as "net::ERR_*"
	// strings inside the navigation error (ERR_TIMED_OUT,
	// ERR_CONNECTION_TIMED_OUT).
	return strings.Contains(err.Error(), "_TIMED_OUT")
}

func isNetworkFailure(err error) bool {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

// net/http reports CONNECT failures only through the error string (the
// "proxyconnect" prefix added by http.Transport), and Chrome reports proxy
// and tunnel failures as net::ERR_PROXY_* / net::ERR_TUNNEL_* codes.
func isProxyTransport(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "proxyconnect") ||
		strings.Contains(msg, "net::ERR_PROXY") ||
		strings.Contains(msg, "net::ERR_TUNNEL")
}
