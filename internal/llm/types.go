// Package llm implements the chat(messages, tools?, temperature,
// maxTokens) -> {text, toolCalls?} collaborator contract used throughout
// this repository.
package llm

import "context"

// Message is one entry of the conversation passed to a chat call. The
// conversation memory for multi-turn parsing is represented as this
// append-only list, never as hidden state inside a client.
type Message struct {
	Role       string // "system" | "user" | "assistant" | "tool"
	Content    string
	Name       string
	ToolCallID string
	ToolCalls  []ToolCall
}

// ToolCall is one function-call the model asked for.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string // raw JSON
}

// ToolDefinition describes a callable tool, passed to Complete when the
// caller wants tool-calling (used only by the Teammate-Delay workflow).
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any // JSON schema
}

// CompletionRequest is the input to one chat call.
type CompletionRequest struct {
	SystemPrompt string
	Messages     []Message
	Temperature  float64
	MaxTokens    int
	Tools        []ToolDefinition
}

// CompletionResponse is the output of one chat call.
type CompletionResponse struct {
	Text      string
	ToolCalls []ToolCall
}

// Client is the collaborator interface every caller in this repository
// programs against — the Intent Classifier, the time/entity parsers in
// the Customer-Reschedule workflow, and the tool-calling extraction in
// the Teammate-Delay workflow.
type Client interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}
