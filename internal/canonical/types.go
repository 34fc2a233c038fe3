// Package canonical holds the provider-agnostic request, response and
// stream model that every provider wire format is translated to and from.
package canonical

import (
	"encoding/json"
	"strings"
)

// Role is one of the four conversation roles every provider maps onto.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// PartType discriminates the populated fields of a Part.
type PartType string

const (
	PartText     PartType = "text"
	PartImage    PartType = "image"
	PartToolCall PartType = "tool_call"
	PartThinking PartType = "thinking"
)

// FinishReason is the normalized reason generation stopped.
type FinishReason string

const (
	FinishStop          FinishReason = "stop"
	FinishLength        FinishReason = "length"
	FinishToolCalls     FinishReason = "tool_calls"
	FinishContentFilter FinishReason = "content_filter"
	FinishError         FinishReason = "error"
)

// Part is one ordered piece of message content.
type Part struct {
	Type PartType `json:"type"`

	// Text carries the text of PartText and PartThinking parts.
	Text string `json:"text,omitempty"`

	Image    *Image    `json:"image,omitempty"`
	ToolCall *ToolCall `json:"tool_call,omitempty"`
}

// Image is either a URL reference or inline base64 data.
type Image struct {
	URL       string `json:"url,omitempty"`
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
}

// ToolCall is a model-issued function invocation. Arguments is the raw
// JSON object text as produced by the model.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Message is one conversation turn. ToolCallID is set on RoleTool
// messages and names the call being answered.
type Message struct {
	Role       Role   `json:"role"`
	Parts      []Part `json:"parts"`
	Name       string `json:"name,omitempty"`
	ToolCallID string `json:"tool_call_id,omitempty"`
}

// Text concatenates the message's text parts.
func (m Message) Text() string {
	var b strings.Builder

	for _, p := range m.Parts {
		if p.Type == PartText {
			b.WriteString(p.Text)
		}
	}

	return b.String()
}

// ToolCalls returns the tool calls carried by the message in order.
func (m Message) ToolCalls() []ToolCall {
	var calls []ToolCall

	for _, p := range m.Parts {
		if p.Type == PartToolCall && p.ToolCall != nil {
			calls = append(calls, *p.ToolCall)
		}
	}

	return calls
}

// TextMessage builds a single text part message.
func TextMessage(role Role, text string) Message {
	return Message{Role: role, Parts: []Part{{Type: PartText, Text: text}}}
}

// Tool is a function definition offered to the model.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// Params are the optional sampling parameters. Nil means "not set" so
// that translators never invent values the client did not send.
type Params struct {
	MaxTokens   *int     `json:"max_tokens,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
	Stop        []string `json:"stop,omitempty"`
	Seed        *int64   `json:"seed,omitempty"`
}

// Request is a parsed chat request. Values returned by the translators
// are not mutated afterwards; use WithModel to retarget a request.
type Request struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
	Params   Params    `json:"params"`
	Tools    []Tool    `json:"tools,omitempty"`

	// ToolChoice is passed through as the client's JSON value, in the
	// chat-completions vocabulary ("auto", "none", "required" or an object).
	ToolChoice json.RawMessage `json:"tool_choice,omitempty"`
}

// WithModel returns a shallow copy of r targeting model.
func (r *Request) WithModel(model string) *Request {
	cp := *r
	cp.Model = model

	return &cp
}

// Text joins every text part of the conversation, used for token estimates.
func (r *Request) Text() string {
	var b strings.Builder

	for i, m := range r.Messages {
		if i > 0 {
			b.WriteByte('\n')
		}

		b.WriteString(m.Text())
	}

	return b.String()
}

// LastUserMessage returns the text of the most recent user turn.
func (r *Request) LastUserMessage() (string, bool) {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == RoleUser {
			return r.Messages[i].Text(), true
		}
	}

	return "", false
}

// Choice is one generated alternative.
type Choice struct {
	Index        int          `json:"index"`
	Message      Message      `json:"message"`
	FinishReason FinishReason `json:"finish_reason,omitempty"`
}

// Response is a parsed non-streaming completion.
type Response struct {
	ID      string   `json:"id,omitempty"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   *Usage   `json:"usage,omitempty"`
}

// ToolCallDelta is an incremental tool call fragment. ID and Name are set
// on the first fragment of a call; Arguments accumulate across fragments
// sharing the same Index.
type ToolCallDelta struct {
	Index     int    `json:"index"`
	ID        string `json:"id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

// StreamChunk is one canonical streaming increment.
type StreamChunk struct {
	// Index is the chunk's position in the decoded stream.
	Index int `json:"index"`

	ID           string          `json:"id,omitempty"`
	Model        string          `json:"model,omitempty"`
	Role         Role            `json:"role,omitempty"`
	Delta        string          `json:"delta,omitempty"`
	Thinking     string          `json:"thinking,omitempty"`
	ToolCalls    []ToolCallDelta `json:"tool_calls,omitempty"`
	FinishReason FinishReason    `json:"finish_reason,omitempty"`
	Usage        *Usage          `json:"usage,omitempty"`
}

// Empty reports whether the chunk carries nothing a client would see.
func (c *StreamChunk) Empty() bool {
	return c.Delta == "" && c.Thinking == "" && len(c.ToolCalls) == 0 &&
		c.FinishReason == "" && c.Usage == nil
}
