package transport

import (
	"errors"
	"fmt"
	"strings"
)

// ProtocolError is an explicit error event from a transport backend.
type ProtocolError struct {
	StatusCode int    `json:"status_code,omitempty"`
	Code       string `json:"code,omitempty"`
	Message    string `json:"message"`
}

func (e *ProtocolError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("model transport error (status=%d, code=%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("model transport error: %s", e.Message)
}

// ErrNotDeployed signals that the mediated proxy is unavailable for this
// deployment. It is the only condition under which the fallback chain moves
// to the direct backend.
var ErrNotDeployed = errors.New("transport not deployed")

// IsNotDeployed reports whether err carries a not-deployed signal.
func IsNotDeployed(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNotDeployed) {
		return true
	}
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return pe.Code == "not_deployed" ||
			strings.Contains(strings.ToLower(pe.Message), "not deployed")
	}
	return false
}

// transientFragments are error message patterns that mark a failure as
// retryable even without a usable status code.
var transientFragments = []string{
	"timeout",
	"timed out",
	"overloaded",
	"connection reset",
	"connection refused",
	"temporarily unavailable",
	"rate limit",
	"eof",
}

// IsTransient reports whether err is a retryable provider or network failure:
// HTTP 429/500/502/503/504/529 or a recognized timeout/overload message.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var pe *ProtocolError
	if errors.As(err, &pe) {
		switch pe.StatusCode {
		case 429, 500, 502, 503, 504, 529:
			return true
		case 400, 401, 403, 404, 413, 422:
			return false
		}
		// No usable status; fall through to message matching.
	}

	msg := strings.ToLower(err.Error())
	for _, frag := range transientFragments {
		if strings.Contains(msg, frag) {
			return true
		}
	}
	return false
}
