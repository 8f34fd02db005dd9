// Package transport abstracts the model provider behind a single streaming
// interface. Both backends (the mediated proxy and the direct Anthropic call)
// normalize their wire formats into one closed event type so provider field
// names never reach the conversation engine.
package transport

import (
	"context"

	"github.com/floradistro/whale/pkg/models"
)

// ToolDefinition describes one tool in the request catalogue.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Properties  map[string]any `json:"properties"`
	Required    []string       `json:"required,omitempty"`
}

// ContextEdit is a server-assisted context-management directive. Transports
// without server support ignore these; they are a performance contract only.
type ContextEdit struct {
	// Type is "clear_tool_uses" or "compact".
	Type string `json:"type"`
	// TriggerInputTokens is the running input-token estimate above which the
	// edit applies.
	TriggerInputTokens int `json:"trigger_input_tokens,omitempty"`
	// KeepToolUses is how many recent tool uses survive a clear_tool_uses edit.
	KeepToolUses int `json:"keep_tool_uses,omitempty"`
}

// Request is one streaming model call.
type Request struct {
	Model        string           `json:"model"`
	System       string           `json:"system"`
	Messages     []models.Message `json:"messages"`
	Tools        []ToolDefinition `json:"tools,omitempty"`
	MaxTokens    int              `json:"max_tokens"`
	ContextEdits []ContextEdit    `json:"context_edits,omitempty"`
}

// Usage is the token accounting reported by the provider.
type Usage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// StopReason explains why the model stopped emitting.
type StopReason string

const (
	// StopEndTurn indicates natural completion.
	StopEndTurn StopReason = "end_turn"
	// StopToolUse indicates the model is waiting on tool results.
	StopToolUse StopReason = "tool_use"
	// StopMaxTokens indicates the output token limit was hit.
	StopMaxTokens StopReason = "max_tokens"
)

// EventType identifies the variant of a stream Event.
type EventType string

const (
	// EventMessageStart opens a model message and carries initial usage.
	EventMessageStart EventType = "message_start"
	// EventBlockStart opens a content block.
	EventBlockStart EventType = "block_start"
	// EventBlockDelta carries an incremental payload for the open block.
	EventBlockDelta EventType = "block_delta"
	// EventBlockStop closes the open content block.
	EventBlockStop EventType = "block_stop"
	// EventMessageDelta closes the message with a stop reason and final usage.
	EventMessageDelta EventType = "message_delta"
	// EventError is a protocol-level failure; the stream ends after it.
	EventError EventType = "error"
)

// DeltaKind identifies the payload of a block_delta event.
type DeltaKind string

const (
	// DeltaText is plain assistant text.
	DeltaText DeltaKind = "text"
	// DeltaInputJSON is a partial tool-input JSON fragment.
	DeltaInputJSON DeltaKind = "input_json"
	// DeltaCompaction is provider-generated summary content that must be
	// carried forward verbatim.
	DeltaCompaction DeltaKind = "compaction"
)

// Event is the closed tagged union every backend normalizes into.
// The fields populated depend on Type.
type Event struct {
	Type EventType `json:"type"`

	// Index is the content block index for block-scoped events.
	Index int `json:"index,omitempty"`

	// Block describes the opened block for block_start events.
	Block models.ContentBlock `json:"block,omitempty"`

	// Delta and Text carry the payload of block_delta events.
	Delta DeltaKind `json:"delta,omitempty"`
	Text  string    `json:"text,omitempty"`

	// Usage is set on message_start and message_delta events.
	Usage *Usage `json:"usage,omitempty"`

	// StopReason is set on message_delta events.
	StopReason StopReason `json:"stop_reason,omitempty"`

	// Err is set on error events.
	Err *ProtocolError `json:"error,omitempty"`
}

// Transport sends one request and yields an ordered stream of typed events.
// The returned channel is closed when the stream ends; implementations stop
// producing when ctx is cancelled.
type Transport interface {
	Stream(ctx context.Context, req Request) (<-chan Event, error)
}
