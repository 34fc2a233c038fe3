package providers

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/mihaisavezi/hermesllm/internal/canonical"
	"github.com/mihaisavezi/hermesllm/internal/sse"
)

// Messages stream event types.
const (
	EventMessageStart      = "message_start"
	EventContentBlockStart = "content_block_start"
	EventContentBlockDelta = "content_block_delta"
	EventContentBlockStop  = "content_block_stop"
	EventMessageDelta      = "message_delta"
	EventMessageStop       = "message_stop"
	EventPing              = "ping"
	EventError             = "error"
)

func (messagesCodec) newFrameParser(d *dialect) frameParser {
	return &messagesFrameParser{d: d, toolIndex: make(map[int]int)}
}

// messagesFrameParser carries what the messages stream sends once and the
// canonical stream repeats: identity, prompt usage and tool block indices.
type messagesFrameParser struct {
	d *dialect

	id, model string
	prompt    *canonical.Usage

	// toolIndex maps content block index to canonical tool call index.
	toolIndex map[int]int
}

func (p *messagesFrameParser) parse(ev sse.Event) (*canonical.StreamChunk, bool, error) {
	data := strings.TrimSpace(ev.Data)

	typ := ev.Event
	if data != "" {
		if !gjson.Valid(data) {
			return nil, false, canonical.Malformed(fmt.Errorf("invalid JSON in %q event", typ))
		}

		if t := gjson.Get(data, "type").String(); t != "" {
			typ = t
		}
	}

	switch typ {
	case EventPing, EventContentBlockStop, "":
		return nil, false, nil
	case EventMessageStop:
		return nil, true, nil
	case EventError:
		if e, ok := upstreamError([]byte(data)); ok {
			return nil, false, e
		}

		return nil, false, canonical.Upstream("api_error", data)
	case EventMessageStart:
		msg := gjson.Get(data, "message")
		p.id = msg.Get("id").String()
		p.model = msg.Get("model").String()
		p.prompt = extractUsage(p.d, []byte(data))

		return nil, false, nil
	case EventContentBlockStart:
		return p.blockStart(data)
	case EventContentBlockDelta:
		return p.blockDelta(data)
	case EventMessageDelta:
		return p.messageDelta(data)
	default:
		return nil, false, nil
	}
}

func (p *messagesFrameParser) chunk() *canonical.StreamChunk {
	return &canonical.StreamChunk{ID: p.id, Model: p.model}
}

func (p *messagesFrameParser) blockStart(data string) (*canonical.StreamChunk, bool, error) {
	index := int(gjson.Get(data, "index").Int())
	block := gjson.Get(data, "content_block")
	c := p.chunk()

	switch block.Get("type").String() {
	case ContentTypeText:
		c.Delta = block.Get("text").String()
	case ContentTypeThinking:
		c.Thinking = block.Get("thinking").String()
	case ContentTypeToolUse:
		n := len(p.toolIndex)
		p.toolIndex[index] = n

		c.ToolCalls = []canonical.ToolCallDelta{{
			Index: n,
			ID:    block.Get("id").String(),
			Name:  block.Get("name").String(),
		}}

		if input := block.Get("input"); input.IsObject() && len(input.Map()) > 0 {
			c.ToolCalls[0].Arguments = input.Raw
		}
	}

	return c, false, nil
}

func (p *messagesFrameParser) blockDelta(data string) (*canonical.StreamChunk, bool, error) {
	index := int(gjson.Get(data, "index").Int())
	delta := gjson.Get(data, "delta")
	c := p.chunk()

	switch delta.Get("type").String() {
	case "text_delta":
		c.Delta = delta.Get("text").String()
	case "thinking_delta":
		c.Thinking = delta.Get("thinking").String()
	case "input_json_delta":
		n, ok := p.toolIndex[index]
		if !ok {
			return nil, false, canonical.Malformed(fmt.Errorf("input_json_delta for unknown block %d", index))
		}

		c.ToolCalls = []canonical.ToolCallDelta{{Index: n, Arguments: delta.Get("partial_json").String()}}
	}

	return c, false, nil
}

func (p *messagesFrameParser) messageDelta(data string) (*canonical.StreamChunk, bool, error) {
	c := p.chunk()
	c.FinishReason = messagesFinish(gjson.Get(data, "delta.stop_reason").String())

	usage := gjson.Get(data, "usage")
	if usage.IsObject() {
		u := canonical.Usage{}
		if p.prompt != nil {
			u = *p.prompt
		}

		if in := usage.Get("input_tokens"); in.Exists() && in.Int() > 0 {
			u.CachedTokens = tokenCount(usage.Get("cache_read_input_tokens"))
			u.PromptTokens = tokenCount(in) + u.CachedTokens + tokenCount(usage.Get("cache_creation_input_tokens"))
		}

		u.CompletionTokens = tokenCount(usage.Get("output_tokens"))
		u.TotalTokens = u.PromptTokens + u.CompletionTokens
		c.Usage = &u
	}

	return c, false, nil
}

func (messagesCodec) newChunkEncoder(_ *dialect) chunkEncoder {
	return &messagesChunkEncoder{}
}

// messageStreamState tracks what the messages event grammar requires to be
// opened and closed around canonical deltas.
type messageStreamState struct {
	MessageStartSent bool
	MessageID        string
	Model            string

	ContentBlocks map[int]*ContentBlockState
	CurrentIndex  int
	Open          bool

	// Tools holds tool calls in arrival order until they are complete.
	// Blocks cannot be reopened, and fragments of parallel calls may
	// interleave, so tool_use blocks are written only once the message ends.
	Tools     []*PendingTool
	ToolIndex map[int]int

	StopReason   string
	DeltaPending bool
	StopSent     bool
}

// ContentBlockState tracks one content block during encoding.
type ContentBlockState struct {
	Type      string
	StartSent bool
	StopSent  bool
	ToolName  string
}

// PendingTool is a tool call whose arguments are still arriving.
type PendingTool struct {
	ID        string
	Name      string
	Arguments strings.Builder
}

type messagesChunkEncoder struct {
	s messageStreamState
}

func (e *messagesChunkEncoder) encode(chunk *canonical.StreamChunk) ([]byte, error) {
	var out []byte

	if !e.s.MessageStartSent {
		out = append(out, e.messageStart(chunk)...)
	}

	if chunk.Thinking != "" {
		idx := e.ensureBlock(ContentTypeThinking, &out)
		out = append(out, event(EventContentBlockDelta, map[string]any{
			"type":  EventContentBlockDelta,
			"index": idx,
			"delta": map[string]any{"type": "thinking_delta", "thinking": chunk.Thinking},
		})...)
	}

	if chunk.Delta != "" {
		idx := e.ensureBlock(ContentTypeText, &out)
		out = append(out, event(EventContentBlockDelta, map[string]any{
			"type":  EventContentBlockDelta,
			"index": idx,
			"delta": map[string]any{"type": "text_delta", "text": chunk.Delta},
		})...)
	}

	for _, tc := range chunk.ToolCalls {
		e.toolCall(tc)
	}

	if chunk.FinishReason != "" {
		out = append(out, e.flushTools()...)
		e.s.StopReason = messagesStopReason(chunk.FinishReason)
		e.s.DeltaPending = true
	}

	if e.s.DeltaPending && chunk.Usage != nil {
		out = append(out, e.messageDelta(chunk.Usage)...)
	}

	return out, nil
}

func (e *messagesChunkEncoder) messageStart(chunk *canonical.StreamChunk) []byte {
	e.s.MessageStartSent = true
	e.s.MessageID = chunk.ID
	e.s.Model = chunk.Model
	e.s.ContentBlocks = make(map[int]*ContentBlockState)
	e.s.ToolIndex = make(map[int]int)
	e.s.CurrentIndex = -1

	usage := map[string]any{"input_tokens": 0, "output_tokens": 0}
	if chunk.Usage != nil {
		usage["input_tokens"] = chunk.Usage.PromptTokens - chunk.Usage.CachedTokens
		if chunk.Usage.CachedTokens > 0 {
			usage["cache_read_input_tokens"] = chunk.Usage.CachedTokens
		}
	}

	return event(EventMessageStart, map[string]any{
		"type": EventMessageStart,
		"message": map[string]any{
			"id":            e.s.MessageID,
			"type":          "message",
			"role":          "assistant",
			"model":         e.s.Model,
			"content":       []any{},
			"stop_reason":   nil,
			"stop_sequence": nil,
			"usage":         usage,
		},
	})
}

// ensureBlock returns the index of an open block of typ, closing any other
// open block and starting a new one when needed.
func (e *messagesChunkEncoder) ensureBlock(typ string, out *[]byte) int {
	if e.s.Open && e.s.ContentBlocks[e.s.CurrentIndex].Type == typ {
		return e.s.CurrentIndex
	}

	*out = append(*out, e.closeBlock()...)

	block := map[string]any{"type": typ}

	switch typ {
	case ContentTypeText:
		block["text"] = ""
	case ContentTypeThinking:
		block["thinking"] = ""
	}

	*out = append(*out, e.openBlock(typ, block)...)

	return e.s.CurrentIndex
}

func (e *messagesChunkEncoder) openBlock(typ string, block map[string]any) []byte {
	e.s.CurrentIndex++
	e.s.Open = true
	e.s.ContentBlocks[e.s.CurrentIndex] = &ContentBlockState{Type: typ, StartSent: true}

	return event(EventContentBlockStart, map[string]any{
		"type":          EventContentBlockStart,
		"index":         e.s.CurrentIndex,
		"content_block": block,
	})
}

func (e *messagesChunkEncoder) closeBlock() []byte {
	if !e.s.Open {
		return nil
	}

	e.s.Open = false
	e.s.ContentBlocks[e.s.CurrentIndex].StopSent = true

	return event(EventContentBlockStop, map[string]any{
		"type":  EventContentBlockStop,
		"index": e.s.CurrentIndex,
	})
}

func (e *messagesChunkEncoder) toolCall(tc canonical.ToolCallDelta) {
	pos, known := e.s.ToolIndex[tc.Index]
	if !known {
		pos = len(e.s.Tools)
		e.s.ToolIndex[tc.Index] = pos
		e.s.Tools = append(e.s.Tools, &PendingTool{})
	}

	t := e.s.Tools[pos]
	if t.ID == "" {
		t.ID = tc.ID
	}

	if t.Name == "" {
		t.Name = tc.Name
	}

	t.Arguments.WriteString(tc.Arguments)
}

// flushTools closes the open block and writes every pending tool call as a
// complete tool_use block.
func (e *messagesChunkEncoder) flushTools() []byte {
	out := e.closeBlock()

	for _, t := range e.s.Tools {
		out = append(out, e.openBlock(ContentTypeToolUse, map[string]any{
			"type":  ContentTypeToolUse,
			"id":    t.ID,
			"name":  t.Name,
			"input": map[string]any{},
		})...)
		e.s.ContentBlocks[e.s.CurrentIndex].ToolName = t.Name

		if t.Arguments.Len() > 0 {
			out = append(out, event(EventContentBlockDelta, map[string]any{
				"type":  EventContentBlockDelta,
				"index": e.s.CurrentIndex,
				"delta": map[string]any{"type": "input_json_delta", "partial_json": t.Arguments.String()},
			})...)
		}

		out = append(out, e.closeBlock()...)
	}

	e.s.Tools = nil
	clear(e.s.ToolIndex)

	return out
}

func (e *messagesChunkEncoder) messageDelta(u *canonical.Usage) []byte {
	e.s.DeltaPending = false

	delta := map[string]any{
		"type": EventMessageDelta,
		"delta": map[string]any{
			"stop_reason":   e.s.StopReason,
			"stop_sequence": nil,
		},
	}

	if u != nil {
		usage := map[string]any{"output_tokens": u.CompletionTokens}
		if u.PromptTokens > 0 {
			usage["input_tokens"] = u.PromptTokens - u.CachedTokens
		}

		delta["usage"] = usage
	}

	return event(EventMessageDelta, delta)
}

// end closes every open block, the pending message_delta and the message,
// in the order the messages grammar requires.
func (e *messagesChunkEncoder) end() []byte {
	if e.s.StopSent {
		return nil
	}

	var out []byte

	if !e.s.MessageStartSent {
		out = append(out, e.messageStart(&canonical.StreamChunk{})...)
	}

	out = append(out, e.flushTools()...)

	for _, idx := range sortedBlocks(e.s.ContentBlocks) {
		if b := e.s.ContentBlocks[idx]; b.StartSent && !b.StopSent {
			out = append(out, event(EventContentBlockStop, map[string]any{"type": EventContentBlockStop, "index": idx})...)
			b.StopSent = true
		}
	}

	if e.s.StopReason == "" {
		e.s.StopReason = "end_turn"
		e.s.DeltaPending = true
	}

	if e.s.DeltaPending {
		out = append(out, e.messageDelta(nil)...)
	}

	e.s.StopSent = true

	return append(out, event(EventMessageStop, map[string]any{"type": EventMessageStop})...)
}

func sortedBlocks(blocks map[int]*ContentBlockState) []int {
	idx := make([]int, 0, len(blocks))
	for i := range blocks {
		idx = append(idx, i)
	}

	sort.Ints(idx)

	return idx
}

// event renders one named SSE event. The payloads are built from plain
// maps and strings, so marshaling cannot fail.
func event(eventType string, data map[string]any) []byte {
	payload, err := json.Marshal(data)
	if err != nil {
		return []byte("event: error\ndata: {\"type\":\"error\",\"error\":{\"type\":\"api_error\",\"message\":\"failed to marshal event\"}}\n\n")
	}

	return sse.Format(eventType, payload)
}
