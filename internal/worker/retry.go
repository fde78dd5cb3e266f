package worker

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"syscall"

	"github.com/meetingscribe/backend/internal/integrations"
	"github.com/meetingscribe/backend/internal/zoom"
)

// isRetryable classifies a job failure at the runner boundary. Network
// timeouts, connection resets and transient provider responses are worth a
// bounded retry; everything else is terminal.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNoDownloadableFiles) {
		return false
	}
	if errors.Is(err, integrations.ErrNoIntegration) {
		return false
	}
	// Per-job timeouts count as retryable: a stuck download must not consume
	// the job's retry budget silently, but it must not fail it for good
	// either.
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var apiErr *zoom.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Transient()
	}
	var exchErr *integrations.ExchangeError
	if errors.As(err, &exchErr) {
		return exchErr.StatusCode == 429 || exchErr.StatusCode >= 500
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "temporarily unavailable")
}
