// Package engine drives one tool-calling conversation with a model: it
// streams output, executes requested tools, retries transient failures and
// keeps the context inside the token budget.
package engine

import "github.com/floradistro/whale/pkg/models"

// EventType identifies the kind of engine event.
type EventType string

const (
	// EventTextDelta carries a fragment of assistant text.
	EventTextDelta EventType = "text_delta"
	// EventToolStarted fires when a tool call is dispatched.
	EventToolStarted EventType = "tool_started"
	// EventToolFinished fires when a tool call returns.
	EventToolFinished EventType = "tool_finished"
	// EventUsage carries updated token counts after a model round-trip.
	EventUsage EventType = "usage"
	// EventAutoCompact fires when the provider compacted the context
	// mid-stream.
	EventAutoCompact EventType = "auto_compact"
	// EventDone fires once per turn when the turn ends normally.
	EventDone EventType = "done"
	// EventTurnError fires when the turn fails.
	EventTurnError EventType = "error"
)

// Event is one engine event streamed to the consumer.
type Event struct {
	Type EventType

	// Text is the payload for text_delta and auto_compact events.
	Text string

	// Tool describes the call for tool_started/tool_finished events.
	Tool *models.ToolCallRecord

	// TokensIn and TokensOut accompany usage events.
	TokensIn  int64
	TokensOut int64

	// Err accompanies error events.
	Err error
}

// Phase is the engine's position in its turn state machine.
type Phase string

const (
	// PhaseIdle means no turn is running.
	PhaseIdle Phase = "idle"
	// PhaseStreaming means a model response is being consumed.
	PhaseStreaming Phase = "streaming"
	// PhaseToolDispatch means a tool batch is executing.
	PhaseToolDispatch Phase = "tool_dispatch"
	// PhaseDone means the last turn completed.
	PhaseDone Phase = "done"
	// PhaseCancelled means the last turn was cancelled.
	PhaseCancelled Phase = "cancelled"
	// PhaseFatal means the last turn failed.
	PhaseFatal Phase = "fatal"
)
