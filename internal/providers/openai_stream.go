package providers

import (
	"encoding/json"
	"strings"

	"github.com/mihaisavezi/hermesllm/internal/canonical"
	"github.com/mihaisavezi/hermesllm/internal/sse"
)

type chatChunk struct {
	ID      string            `json:"id,omitempty"`
	Object  string            `json:"object,omitempty"`
	Model   string            `json:"model,omitempty"`
	Choices []chatChunkChoice `json:"choices"`
	Usage   *chatUsage        `json:"usage,omitempty"`
}

type chatChunkChoice struct {
	Index        int       `json:"index"`
	Delta        chatDelta `json:"delta"`
	FinishReason *string   `json:"finish_reason"`
}

type chatDelta struct {
	Role             string         `json:"role,omitempty"`
	Content          *string        `json:"content,omitempty"`
	ToolCalls        []chatToolCall `json:"tool_calls,omitempty"`
	ReasoningContent string         `json:"reasoning_content,omitempty"`
	Reasoning        string         `json:"reasoning,omitempty"`
}

func (chatCodec) newFrameParser(d *dialect) frameParser {
	return &chatFrameParser{d: d}
}

type chatFrameParser struct {
	d *dialect
}

// parse handles one chat-completions frame. Only the first choice is
// streamed; n>1 streams are not relayed.
func (p *chatFrameParser) parse(ev sse.Event) (*canonical.StreamChunk, bool, error) {
	data := strings.TrimSpace(ev.Data)
	if !ev.HasData || data == "" {
		return nil, false, nil
	}

	if data == sse.Done {
		return nil, true, nil
	}

	raw := []byte(data)

	if e, ok := upstreamError(raw); ok {
		return nil, false, e
	}

	var wire chatChunk
	if err := decode(raw, &wire); err != nil {
		return nil, false, err
	}

	chunk := &canonical.StreamChunk{
		ID:    wire.ID,
		Model: wire.Model,
		Usage: extractUsage(p.d, raw),
	}

	if len(wire.Choices) == 0 {
		return chunk, false, nil
	}

	c := wire.Choices[0]

	if c.Delta.Role != "" {
		role, ok := p.d.roles[c.Delta.Role]
		if !ok {
			return nil, false, canonical.UnmappableRole(c.Delta.Role)
		}

		chunk.Role = role
	}

	if c.Delta.Content != nil {
		chunk.Delta = *c.Delta.Content
	}

	switch p.d.reasoning {
	case "reasoning_content":
		chunk.Thinking = c.Delta.ReasoningContent
	case "reasoning":
		chunk.Thinking = c.Delta.Reasoning
	}

	for i, tc := range c.Delta.ToolCalls {
		args, err := argumentsString(tc.Function.Arguments)
		if err != nil {
			return nil, false, canonical.Malformed(err)
		}

		idx := i
		if tc.Index != nil {
			idx = *tc.Index
		}

		chunk.ToolCalls = append(chunk.ToolCalls, canonical.ToolCallDelta{
			Index:     idx,
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: args,
		})
	}

	if c.FinishReason != nil {
		chunk.FinishReason = chatFinish(p.d, *c.FinishReason)
	}

	return chunk, false, nil
}

func (chatCodec) newChunkEncoder(d *dialect) chunkEncoder {
	return &chatChunkEncoder{d: d}
}

type chatChunkEncoder struct {
	d         *dialect
	roleSent  bool
	id, model string
}

func (e *chatChunkEncoder) encode(chunk *canonical.StreamChunk) ([]byte, error) {
	if chunk.ID != "" {
		e.id = chunk.ID
	}

	if chunk.Model != "" {
		e.model = chunk.Model
	}

	wire := chatChunk{
		ID:     e.id,
		Object: "chat.completion.chunk",
		Model:  e.model,
		Usage:  chatUsageOf(chunk.Usage),
	}

	hasChoice := chunk.Delta != "" || chunk.Thinking != "" || len(chunk.ToolCalls) > 0 || chunk.FinishReason != ""
	if hasChoice {
		var delta chatDelta

		if !e.roleSent {
			delta.Role = "assistant"
			e.roleSent = true
		}

		if chunk.Delta != "" {
			text := chunk.Delta
			delta.Content = &text
		}

		switch e.d.reasoning {
		case "reasoning":
			delta.Reasoning = chunk.Thinking
		default:
			delta.ReasoningContent = chunk.Thinking
		}

		for _, tc := range chunk.ToolCalls {
			idx := tc.Index

			call := chatToolCall{Index: &idx, ID: tc.ID, Function: chatFunction{Name: tc.Name}}
			if tc.ID != "" {
				call.Type = "function"
			}

			call.Function.Arguments, _ = json.Marshal(tc.Arguments)
			delta.ToolCalls = append(delta.ToolCalls, call)
		}

		choice := chatChunkChoice{Delta: delta}
		if chunk.FinishReason != "" {
			reason := string(chunk.FinishReason)
			choice.FinishReason = &reason
		}

		wire.Choices = []chatChunkChoice{choice}
	} else {
		wire.Choices = []chatChunkChoice{}
	}

	return sse.FormatJSON("", wire)
}

func (e *chatChunkEncoder) end() []byte {
	return sse.Format("", []byte(sse.Done))
}
