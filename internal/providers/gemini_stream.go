package providers

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/mihaisavezi/hermesllm/internal/canonical"
	"github.com/mihaisavezi/hermesllm/internal/sse"
)

func (geminiCodec) newFrameParser(d *dialect) frameParser {
	return &geminiFrameParser{d: d}
}

// geminiFrameParser handles streamGenerateContent?alt=sse output. There is
// no sentinel: the frame whose candidate carries a finishReason is the last.
type geminiFrameParser struct {
	d     *dialect
	ids   callIDs
	calls bool
}

func (p *geminiFrameParser) parse(ev sse.Event) (*canonical.StreamChunk, bool, error) {
	data := strings.TrimSpace(ev.Data)
	if !ev.HasData || data == "" {
		return nil, false, nil
	}

	raw := []byte(data)

	if e, ok := upstreamError(raw); ok {
		return nil, false, e
	}

	var wire geminiResponse
	if err := decode(raw, &wire); err != nil {
		return nil, false, err
	}

	chunk := &canonical.StreamChunk{ID: wire.ResponseID, Model: wire.ModelVersion}

	if len(wire.Candidates) == 0 {
		if wire.PromptFeedback != nil && wire.PromptFeedback.BlockReason != "" {
			chunk.FinishReason = canonical.FinishContentFilter
			chunk.Usage = extractUsage(p.d, raw)

			return chunk, true, nil
		}

		return nil, false, nil
	}

	c := wire.Candidates[0]

	if c.Content != nil {
		var text, thought strings.Builder

		for _, part := range c.Content.Parts {
			if fc := part.FunctionCall; fc != nil {
				args := "{}"
				if len(fc.Args) > 0 && string(fc.Args) != "null" {
					args = string(fc.Args)
				}

				index := p.ids.n
				id := p.ids.call(fc.ID, fc.Name)

				chunk.ToolCalls = append(chunk.ToolCalls, canonical.ToolCallDelta{
					Index:     index,
					ID:        id,
					Name:      fc.Name,
					Arguments: args,
				})
				p.calls = true

				continue
			}

			if part.Thought {
				thought.WriteString(part.Text)
			} else {
				text.WriteString(part.Text)
			}
		}

		chunk.Delta = text.String()
		chunk.Thinking = thought.String()
	}

	if c.FinishReason == "" {
		return chunk, false, nil
	}

	chunk.FinishReason = candidateFinish(c.FinishReason, p.calls)
	chunk.Usage = extractUsage(p.d, raw)

	return chunk, true, nil
}

func (geminiCodec) newChunkEncoder(_ *dialect) chunkEncoder {
	return &geminiChunkEncoder{calls: make(map[int]*canonical.ToolCall)}
}

// geminiChunkEncoder buffers tool calls: function call arguments must be
// sent whole, so they are flushed with the final frame.
type geminiChunkEncoder struct {
	id, model string

	calls  map[int]*canonical.ToolCall
	finish canonical.FinishReason
	done   bool
}

func (e *geminiChunkEncoder) encode(chunk *canonical.StreamChunk) ([]byte, error) {
	if chunk.ID != "" {
		e.id = chunk.ID
	}

	if chunk.Model != "" {
		e.model = chunk.Model
	}

	for _, tc := range chunk.ToolCalls {
		call, ok := e.calls[tc.Index]
		if !ok {
			call = &canonical.ToolCall{}
			e.calls[tc.Index] = call
		}

		if tc.ID != "" {
			call.ID = tc.ID
		}

		if tc.Name != "" {
			call.Name = tc.Name
		}

		call.Arguments += tc.Arguments
	}

	var parts []geminiPart

	if chunk.Thinking != "" {
		parts = append(parts, geminiPart{Text: chunk.Thinking, Thought: true})
	}

	if chunk.Delta != "" {
		parts = append(parts, geminiPart{Text: chunk.Delta})
	}

	var out []byte

	if len(parts) > 0 {
		frame, err := e.frame(parts, "", nil)
		if err != nil {
			return nil, err
		}

		out = append(out, frame...)
	}

	if chunk.FinishReason != "" {
		e.finish = chunk.FinishReason
	}

	if e.finish != "" && chunk.Usage != nil {
		final, err := e.final(chunk.Usage)
		if err != nil {
			return nil, err
		}

		out = append(out, final...)
	}

	return out, nil
}

func (e *geminiChunkEncoder) final(u *canonical.Usage) ([]byte, error) {
	if e.done {
		return nil, nil
	}

	e.done = true

	idx := make([]int, 0, len(e.calls))
	for i := range e.calls {
		idx = append(idx, i)
	}

	sort.Ints(idx)

	parts := make([]geminiPart, 0, len(idx))

	for _, i := range idx {
		call := e.calls[i]

		args, ok := argumentsObject(call.Arguments)
		if !ok {
			parts = append(parts, geminiPart{Text: toolCallText(call)})
			continue
		}

		parts = append(parts, geminiPart{FunctionCall: &geminiFunctionCall{ID: call.ID, Name: call.Name, Args: args}})
	}

	finish := e.finish
	if finish == "" {
		finish = canonical.FinishStop
	}

	return e.frame(parts, geminiFinishReason(finish), u)
}

func (e *geminiChunkEncoder) frame(parts []geminiPart, finish string, u *canonical.Usage) ([]byte, error) {
	if parts == nil {
		parts = []geminiPart{}
	}

	wire := geminiResponse{
		Candidates: []geminiCandidate{{
			Content:      &geminiContent{Role: "model", Parts: parts},
			FinishReason: finish,
		}},
		UsageMetadata: geminiUsageOf(u),
		ModelVersion:  e.model,
		ResponseID:    e.id,
	}

	data, err := json.Marshal(wire)
	if err != nil {
		return nil, err
	}

	return sse.Format("", data), nil
}

func (e *geminiChunkEncoder) end() []byte {
	out, err := e.final(nil)
	if err != nil {
		return nil
	}

	return out
}
