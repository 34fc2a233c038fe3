package canonical

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewUsage(t *testing.T) {
	assert.Equal(t, Usage{PromptTokens: 12, CompletionTokens: 34, TotalTokens: 46}, NewUsage(12, 34, nil))

	total := 50
	assert.Equal(t, Usage{PromptTokens: 12, CompletionTokens: 34, TotalTokens: 50}, NewUsage(12, 34, &total))

	negative := -2
	assert.Equal(t, Usage{CompletionTokens: 3, TotalTokens: 3}, NewUsage(-5, 3, &negative))
}

func TestExtractUsage(t *testing.T) {
	_, ok := ExtractUsage(&Response{})
	assert.False(t, ok)

	u, ok := ExtractUsage(&Response{Usage: &Usage{}})
	assert.True(t, ok)
	assert.Zero(t, u.TotalTokens)
}

func TestMessage_Helpers(t *testing.T) {
	m := Message{
		Role: RoleAssistant,
		Parts: []Part{
			{Type: PartThinking, Text: "plan"},
			{Type: PartText, Text: "Hello, "},
			{Type: PartToolCall, ToolCall: &ToolCall{ID: "c1", Name: "f", Arguments: "{}"}},
			{Type: PartText, Text: "world"},
			{Type: PartToolCall},
		},
	}

	assert.Equal(t, "Hello, world", m.Text())
	assert.Equal(t, []ToolCall{{ID: "c1", Name: "f", Arguments: "{}"}}, m.ToolCalls())
	assert.Nil(t, TextMessage(RoleUser, "x").ToolCalls())
}

func TestRequest_Helpers(t *testing.T) {
	r := &Request{
		Model: "gpt-4o",
		Messages: []Message{
			TextMessage(RoleSystem, "sys"),
			TextMessage(RoleUser, "first"),
			TextMessage(RoleAssistant, "reply"),
			TextMessage(RoleUser, "second"),
		},
	}

	last, ok := r.LastUserMessage()
	assert.True(t, ok)
	assert.Equal(t, "second", last)
	assert.Equal(t, "sys\nfirst\nreply\nsecond", r.Text())

	other := r.WithModel("claude-sonnet-4-5")
	assert.Equal(t, "claude-sonnet-4-5", other.Model)
	assert.Equal(t, "gpt-4o", r.Model)

	_, ok = (&Request{}).LastUserMessage()
	assert.False(t, ok)
}

func TestStreamChunk_Empty(t *testing.T) {
	assert.True(t, (&StreamChunk{ID: "x", Model: "m", Role: RoleAssistant}).Empty())
	assert.False(t, (&StreamChunk{FinishReason: FinishStop}).Empty())
	assert.False(t, (&StreamChunk{Usage: &Usage{}}).Empty())
	assert.False(t, (&StreamChunk{ToolCalls: []ToolCallDelta{{Index: 0}}}).Empty())
}
