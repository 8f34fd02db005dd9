// Package breaker stops runaway tool-call loops. It watches the stream of
// tool invocations in one conversation and hard-blocks a call once the same
// (tool, input) pair has kept failing, instead of letting the model retry
// forever.
package breaker

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sync"
)

const (
	// DefaultFailureThreshold is the attempt number at which an identical
	// consecutive failing call is blocked. With a threshold of 3, the first
	// two identical failures pass through and the third attempt is stopped.
	DefaultFailureThreshold = 3

	// DefaultRepeatBailCount is how many calls to the same tool inside one
	// turn, with zero successful results, trigger an end-of-turn bail.
	DefaultRepeatBailCount = 5

	// maxSignatureInput caps how many bytes of input feed the signature, so
	// pathological inputs stay cheap to hash.
	maxSignatureInput = 1 << 16

	// maxHistory bounds the per-conversation call history.
	maxHistory = 100
)

// Verdict is the outcome of a pre-call check.
type Verdict struct {
	Blocked bool
	Reason  string
}

// Bail is the outcome of an end-of-turn inspection.
type Bail struct {
	ShouldBail bool
	Message    string
}

type callRecord struct {
	signature string
	tool      string
	success   bool
}

// Breaker tracks tool invocations for one conversation. It is owned by a
// single conversation engine; the mutex exists for the tool batch, whose
// calls record results concurrently.
type Breaker struct {
	mu sync.Mutex

	failureThreshold int
	repeatBailCount  int

	// consecutiveFailures counts failures per signature, cleared when the
	// same signature succeeds.
	consecutiveFailures map[string]int

	history []callRecord

	// Per-turn counters, cleared by ResetTurn.
	turnCallsByTool map[string]int
	turnSuccesses   int
}

// New creates a breaker with default thresholds.
func New() *Breaker {
	return &Breaker{
		failureThreshold:    DefaultFailureThreshold,
		repeatBailCount:     DefaultRepeatBailCount,
		consecutiveFailures: make(map[string]int),
		turnCallsByTool:     make(map[string]int),
	}
}

// SetThresholds overrides the failure and repeat-bail thresholds. Values
// below 1 keep the defaults.
func (b *Breaker) SetThresholds(failureThreshold, repeatBailCount int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if failureThreshold >= 1 {
		b.failureThreshold = failureThreshold
	}
	if repeatBailCount >= 1 {
		b.repeatBailCount = repeatBailCount
	}
}

// Signature computes a deterministic key for a tool call. JSON encoding
// gives stable map-key ordering; anything that fails to encode falls back
// to its fmt representation. This never fails.
func Signature(tool string, input any) string {
	var raw []byte
	switch v := input.(type) {
	case nil:
		raw = []byte("null")
	case json.RawMessage:
		raw = v
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			encoded = []byte(fmt.Sprintf("%v", v))
		}
		raw = encoded
	}
	if len(raw) > maxSignatureInput {
		raw = raw[:maxSignatureInput]
	}
	h := sha256.Sum256(raw)
	return fmt.Sprintf("%s:%x", tool, h[:8])
}

// RecordCall checks whether the call may proceed and counts it against the
// current turn. A blocked call must not be executed; the caller turns the
// reason into a failed tool result.
func (b *Breaker) RecordCall(tool string, input any) Verdict {
	sig := Signature(tool, input)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.turnCallsByTool[tool]++

	if fails := b.consecutiveFailures[sig]; fails >= b.failureThreshold-1 {
		return Verdict{
			Blocked: true,
			Reason: fmt.Sprintf(
				"tool %q has failed %d consecutive times with identical input; "+
					"blocking this attempt. Change the input or try a different approach.",
				tool, fails),
		}
	}

	return Verdict{}
}

// RecordResult records the outcome of an executed call.
func (b *Breaker) RecordResult(tool string, success bool, input any) {
	sig := Signature(tool, input)

	b.mu.Lock()
	defer b.mu.Unlock()

	if success {
		delete(b.consecutiveFailures, sig)
		b.turnSuccesses++
	} else {
		b.consecutiveFailures[sig]++
	}

	b.history = append(b.history, callRecord{signature: sig, tool: tool, success: success})
	if len(b.history) > maxHistory {
		b.history = b.history[len(b.history)-maxHistory:]
	}
}

// ResetTurn clears the per-turn counters. Failure counts survive: a loop
// that spans turns is still a loop.
func (b *Breaker) ResetTurn() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.turnCallsByTool = make(map[string]int)
	b.turnSuccesses = 0
}

// EndTurn inspects the finished turn. A turn with zero successful tool
// results that hammered one tool repeatedly signals a bail; the caller
// injects the message into the next tool result so the model sees it
// without the conversation erroring out.
func (b *Breaker) EndTurn() Bail {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.turnSuccesses > 0 {
		return Bail{}
	}

	for tool, count := range b.turnCallsByTool {
		if count >= b.repeatBailCount {
			return Bail{
				ShouldBail: true,
				Message: fmt.Sprintf(
					"this turn produced no successful tool results and called %q %d times; "+
						"stopping to avoid a loop. Reconsider the approach before retrying.",
					tool, count),
			}
		}
	}

	return Bail{}
}
