package fetch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{
			name: "challenge detected",
			err:  fmt.Errorf("%w: https://example.com", ErrChallengeDetected),
			want: ErrorKindCaptcha,
		},
		{
			name: "challenge unsolved",
			err:  fmt.Errorf("refresh session: %w", ErrChallengeUnsolved),
			want: ErrorKindCaptcha,
		},
		{
			name: "proxy sentinel",
			err:  fmt.Errorf("%w: bad tunnel", ErrProxy),
			want: ErrorKindProxy,
		},
		{
			name: "proxyconnect transport string",
			err:  errors.New(`Get "https://example.com": proxyconnect tcp: dial tcp: connection refused`),
			want: ErrorKindProxy,
		},
		{
			name: "deadline exceeded",
			err:  fmt.Errorf("navigate: %w", context.DeadlineExceeded),
			want: ErrorKindTimeout,
		},
		{
			name: "net timeout",
			err:  fmt.Errorf("visit: %w", timeoutErr{}),
			want: ErrorKindTimeout,
		},
		{
			name: "dns failure",
			err:  fmt.Errorf("visit: %w", &net.DNSError{Err: "no such host", Name: "nope.invalid"}),
			want: ErrorKindNetwork,
		},
		{
			name: "connection refused",
			err:  fmt.Errorf("visit: %w", &net.OpError{Op: "dial", Err: errors.New("connection refused")}),
			want: ErrorKindNetwork,
		},
		{
			name: "navigation sentinel",
			err:  fmt.Errorf("%w: https://example.com: net::ERR_ABORTED", ErrNavigation),
			want: ErrorKindNavigation,
		},
		{
			name: "deadline through navigation wrapper",
			err:  fmt.Errorf("%w: https://example.com: %w", ErrNavigation, context.DeadlineExceeded),
			want: ErrorKindTimeout,
		},
		{
			name: "chrome timed out code",
			err:  fmt.Errorf("%w: https://example.com: %w", ErrNavigation, errors.New("page load error net::ERR_CONNECTION_TIMED_OUT")),
			want: ErrorKindTimeout,
		},
		{
			name: "chrome proxy code",
			err:  fmt.Errorf("%w: https://example.com: %w", ErrNavigation, errors.New("page load error net::ERR_PROXY_CONNECTION_FAILED")),
			want: ErrorKindProxy,
		},
		{
			name: "chrome tunnel code",
			err:  fmt.Errorf("%w: https://example.com: %w", ErrNavigation, errors.New("page load error net::ERR_TUNNEL_CONNECTION_FAILED")),
			want: ErrorKindProxy,
		},
		{
			name: "canceled context",
			err:  fmt.Errorf("acquire fetch slot: %w", context.Canceled),
			want: ErrorKindInfrastructure,
		},
		{
			name: "anything else",
			err:  errors.New("page crashed"),
			want: ErrorKindUnknown,
		},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, Classify(tc.err))
		})
	}
}

func TestClassifyNil(t *testing.T) {
	t.Parallel()
	require.Equal(t, ErrorKind(""), Classify(nil))
}

// A challenge wrapped around a timeout still counts as a captcha; the
// sentinel outranks transport signals.
func TestClassifySentinelWins(t *testing.T) {
	t.Parallel()
	err := fmt.Errorf("%w: read after settle: %w", ErrChallengeDetected, context.DeadlineExceeded)
	require.Equal(t, ErrorKindCaptcha, Classify(err))
}

func TestValidationError(t *testing.T) {
	t.Parallel()

	err := NewValidationError("urls must not be empty")
	require.True(t, IsValidation(err))
	require.True(t, IsValidation(fmt.Errorf("submit: %w", err)))
	require.False(t, IsValidation(errors.New("urls must not be empty")))
	require.Contains(t, err.Error(), "urls must not be empty")
}
