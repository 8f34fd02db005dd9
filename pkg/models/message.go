// Package models contains the shared data types for the whale agent runtime.
package models

import "encoding/json"

// Role identifies the author of a conversation message.
type Role string

const (
	// RoleUser marks a message authored by the user (or tool results).
	RoleUser Role = "user"
	// RoleAssistant marks a message authored by the model.
	RoleAssistant Role = "assistant"
)

// BlockType identifies the variant of a ContentBlock.
type BlockType string

const (
	// BlockText is a plain text block.
	BlockText BlockType = "text"
	// BlockToolUse is a model-requested tool invocation.
	BlockToolUse BlockType = "tool_use"
	// BlockToolResult is the outcome of a tool invocation.
	BlockToolResult BlockType = "tool_result"
	// BlockCompaction is an opaque provider-generated summary that must be
	// carried forward verbatim in subsequent requests.
	BlockCompaction BlockType = "compaction"
	// BlockImage is inline image data.
	BlockImage BlockType = "image"
)

// ContentBlock is one unit of message content. Exactly the fields for the
// block's Type are populated; the rest are zero.
type ContentBlock struct {
	Type BlockType `json:"type"`

	// Text holds the content for text and compaction blocks.
	Text string `json:"text,omitempty"`

	// ID, Name and Input describe a tool_use block.
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// ToolUseID, Content and IsImage describe a tool_result block.
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
	IsImage   bool   `json:"is_image,omitempty"`

	// MediaType and Data describe an image block.
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`

	// IsError marks a tool_result that carries a failure.
	IsError bool `json:"is_error,omitempty"`
}

// TextBlock returns a text content block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockText, Text: text}
}

// ToolUseBlock returns a tool_use content block.
func ToolUseBlock(id, name string, input json.RawMessage) ContentBlock {
	return ContentBlock{Type: BlockToolUse, ID: id, Name: name, Input: input}
}

// ToolResultBlock returns a tool_result content block correlated to the
// tool_use with the given id.
func ToolResultBlock(toolUseID, content string, isError bool) ContentBlock {
	return ContentBlock{Type: BlockToolResult, ToolUseID: toolUseID, Content: content, IsError: isError}
}

// CompactionBlock returns a compaction content block.
func CompactionBlock(content string) ContentBlock {
	return ContentBlock{Type: BlockCompaction, Text: content}
}

// Message is one turn of conversation.
type Message struct {
	Role    Role           `json:"role"`
	Content []ContentBlock `json:"content"`
}

// UserMessage builds a user message from the given blocks.
func UserMessage(blocks ...ContentBlock) Message {
	return Message{Role: RoleUser, Content: blocks}
}

// AssistantMessage builds an assistant message from the given blocks.
func AssistantMessage(blocks ...ContentBlock) Message {
	return Message{Role: RoleAssistant, Content: blocks}
}

// ToolUses returns the tool_use blocks of the message in order.
func (m Message) ToolUses() []ContentBlock {
	var uses []ContentBlock
	for _, b := range m.Content {
		if b.Type == BlockToolUse {
			uses = append(uses, b)
		}
	}
	return uses
}

// Text concatenates the message's text blocks.
func (m Message) Text() string {
	var out string
	for _, b := range m.Content {
		if b.Type == BlockText {
			out += b.Text
		}
	}
	return out
}

// ToolCallStatus is the UI-facing state of one tool invocation.
type ToolCallStatus string

const (
	// ToolCallRunning indicates the call is in flight.
	ToolCallRunning ToolCallStatus = "running"
	// ToolCallSuccess indicates the call completed without error.
	ToolCallSuccess ToolCallStatus = "success"
	// ToolCallError indicates the call failed.
	ToolCallError ToolCallStatus = "error"
)

// ToolCallRecord is an ephemeral, telemetry-facing view of one tool call.
// It is rebuilt per turn and never persisted.
type ToolCallRecord struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Input      json.RawMessage `json:"input,omitempty"`
	Status     ToolCallStatus  `json:"status"`
	Output     string          `json:"output,omitempty"`
	DurationMs int64           `json:"duration_ms"`
}
