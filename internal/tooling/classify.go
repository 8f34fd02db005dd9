package tooling

import "strings"

// ErrorClass is the small taxonomy tool failures are sorted into, for
// telemetry and for the circuit breaker's pattern matching.
type ErrorClass string

const (
	// ClassNone marks a successful call.
	ClassNone ErrorClass = ""
	// ClassTimeout is a deadline or timeout failure.
	ClassTimeout ErrorClass = "timeout"
	// ClassPermission is a permission or access failure.
	ClassPermission ErrorClass = "permission"
	// ClassNotFound is a missing file, path or tool.
	ClassNotFound ErrorClass = "not_found"
	// ClassSyntax is a syntax or parse failure.
	ClassSyntax ErrorClass = "syntax_error"
	// ClassInvalidInput is malformed tool input.
	ClassInvalidInput ErrorClass = "invalid_input"
	// ClassRateLimit is provider throttling.
	ClassRateLimit ErrorClass = "rate_limit"
	// ClassNetwork is a connectivity failure.
	ClassNetwork ErrorClass = "network"
	// ClassUnknown is everything else.
	ClassUnknown ErrorClass = "unknown"
)

// classPatterns is checked in order; the first matching fragment wins.
var classPatterns = []struct {
	class     ErrorClass
	fragments []string
}{
	{ClassTimeout, []string{"timed out", "timeout", "deadline exceeded"}},
	{ClassPermission, []string{"permission denied", "access denied", "operation not permitted", "forbidden"}},
	{ClassNotFound, []string{"no such file", "not found", "does not exist", "unknown tool"}},
	{ClassSyntax, []string{"syntax error", "parse error", "unexpected token", "invalid syntax"}},
	{ClassInvalidInput, []string{"invalid parameters", "invalid input", "missing required", "unmarshal"}},
	{ClassRateLimit, []string{"rate limit", "too many requests", "429"}},
	{ClassNetwork, []string{"connection refused", "connection reset", "no such host", "network is unreachable", "broken pipe"}},
}

// Classify maps an error message onto the taxonomy.
func Classify(message string) ErrorClass {
	msg := strings.ToLower(message)
	for _, p := range classPatterns {
		for _, frag := range p.fragments {
			if strings.Contains(msg, frag) {
				return p.class
			}
		}
	}
	return ClassUnknown
}
