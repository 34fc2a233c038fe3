package providers

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mihaisavezi/hermesllm/internal/canonical"
)

// messagesCodec implements the messages wire format (/v1/messages).
type messagesCodec struct{}

const (
	ContentTypeText       = "text"
	ContentTypeToolUse    = "tool_use"
	ContentTypeToolResult = "tool_result"
	ContentTypeThinking   = "thinking"
	ContentTypeImage      = "image"
)

type messagesRequest struct {
	Model         *string           `json:"model,omitempty"`
	System        json.RawMessage   `json:"system,omitempty"`
	Messages      []messagesMessage `json:"messages"`
	MaxTokens     *int              `json:"max_tokens,omitempty"`
	Temperature   *float64          `json:"temperature,omitempty"`
	TopP          *float64          `json:"top_p,omitempty"`
	StopSequences []string          `json:"stop_sequences,omitempty"`
	Stream        bool              `json:"stream,omitempty"`
	Tools         []messagesTool    `json:"tools,omitempty"`
	ToolChoice    json.RawMessage   `json:"tool_choice,omitempty"`
}

type messagesMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

type contentBlock struct {
	Type string `json:"type"`

	Text string `json:"text,omitempty"`

	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`

	Source *imageSource `json:"source,omitempty"`

	Thinking  string `json:"thinking,omitempty"`
	Signature string `json:"signature,omitempty"`
}

type imageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

type messagesTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema"`
}

func (messagesCodec) parseRequest(_ *dialect, body []byte, o *options) (*canonical.Request, error) {
	var wire messagesRequest
	if err := decode(body, &wire); err != nil {
		return nil, err
	}

	model := o.model
	if wire.Model != nil {
		model = *wire.Model
	}

	if model == "" {
		return nil, canonical.MissingField("model")
	}

	if wire.Messages == nil {
		return nil, canonical.MissingField("messages")
	}

	req := &canonical.Request{
		Model:      model,
		Stream:     wire.Stream,
		ToolChoice: toolChoiceFromMessages(wire.ToolChoice),
		Params: canonical.Params{
			MaxTokens:   wire.MaxTokens,
			Temperature: wire.Temperature,
			TopP:        wire.TopP,
			Stop:        wire.StopSequences,
		},
	}

	system, err := stringOrTexts(wire.System)
	if err != nil {
		return nil, err
	}

	if len(system) > 0 {
		req.Messages = append(req.Messages, canonical.Message{Role: canonical.RoleSystem, Parts: textParts(system)})
	}

	for _, m := range wire.Messages {
		msgs, err := parseMessagesTurn(m)
		if err != nil {
			return nil, err
		}

		req.Messages = append(req.Messages, msgs...)
	}

	if req.Messages == nil {
		req.Messages = []canonical.Message{}
	}

	for _, t := range wire.Tools {
		req.Tools = append(req.Tools, canonical.Tool{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.InputSchema,
		})
	}

	return req, nil
}

// parseMessagesTurn maps one wire turn onto canonical messages. tool_result
// blocks become canonical tool messages in place, so one user turn may
// yield several messages.
func parseMessagesTurn(m messagesMessage) ([]canonical.Message, error) {
	var role canonical.Role

	switch m.Role {
	case "user":
		role = canonical.RoleUser
	case "assistant":
		role = canonical.RoleAssistant
	default:
		return nil, canonical.UnmappableRole(m.Role)
	}

	blocks, err := parseBlocks(m.Content)
	if err != nil {
		return nil, err
	}

	var (
		out     []canonical.Message
		current *canonical.Message
	)

	flush := func() {
		if current != nil {
			out = append(out, *current)
			current = nil
		}
	}

	for _, b := range blocks {
		if b.Type == ContentTypeToolResult {
			flush()

			texts, err := stringOrTexts(b.Content)
			if err != nil {
				return nil, err
			}

			out = append(out, canonical.Message{
				Role:       canonical.RoleTool,
				ToolCallID: b.ToolUseID,
				Parts:      textParts([]string{strings.Join(texts, "\n")}),
			})

			continue
		}

		part, ok, err := blockPart(b)
		if err != nil {
			return nil, err
		}

		if !ok {
			continue
		}

		if current == nil {
			current = &canonical.Message{Role: role}
		}

		current.Parts = append(current.Parts, part)
	}

	flush()

	if len(out) == 0 {
		out = append(out, canonical.Message{Role: role})
	}

	return out, nil
}

func parseBlocks(raw json.RawMessage) ([]contentBlock, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, canonical.MissingField("content")
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return []contentBlock{{Type: ContentTypeText, Text: s}}, nil
	}

	var blocks []contentBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return nil, canonical.Malformed(fmt.Errorf("content: %w", err))
	}

	return blocks, nil
}

// blockPart converts a non tool_result block. Unknown block types are
// skipped for forward compatibility.
func blockPart(b contentBlock) (canonical.Part, bool, error) {
	switch b.Type {
	case ContentTypeText:
		return canonical.Part{Type: canonical.PartText, Text: b.Text}, true, nil
	case ContentTypeThinking:
		return canonical.Part{Type: canonical.PartThinking, Text: b.Thinking}, true, nil
	case ContentTypeToolUse:
		args := "{}"
		if len(b.Input) > 0 && string(b.Input) != "null" {
			args = string(b.Input)
		}

		return canonical.Part{
			Type:     canonical.PartToolCall,
			ToolCall: &canonical.ToolCall{ID: b.ID, Name: b.Name, Arguments: args},
		}, true, nil
	case ContentTypeImage:
		if b.Source == nil {
			return canonical.Part{}, false, canonical.MissingField("source")
		}

		img := &canonical.Image{URL: b.Source.URL, MediaType: b.Source.MediaType, Data: b.Source.Data}

		return canonical.Part{Type: canonical.PartImage, Image: img}, true, nil
	default:
		return canonical.Part{}, false, nil
	}
}

func (messagesCodec) serializeRequest(_ *dialect, req *canonical.Request) ([]byte, []Downgrade, error) {
	if req.Model == "" {
		return nil, nil, canonical.MissingField("model")
	}

	model := req.Model
	wire := messagesRequest{
		Model:         &model,
		Stream:        req.Stream,
		MaxTokens:     req.Params.MaxTokens,
		Temperature:   req.Params.Temperature,
		TopP:          req.Params.TopP,
		StopSequences: req.Params.Stop,
		ToolChoice:    toolChoiceToMessages(req.ToolChoice),
		Messages:      make([]messagesMessage, 0, len(req.Messages)),
	}

	if wire.MaxTokens == nil {
		n := DefaultMaxTokens
		wire.MaxTokens = &n
	}

	var (
		ds     downgrades
		ids    callIDs
		system []string
	)

	for i, m := range req.Messages {
		if m.Role == canonical.RoleSystem {
			for j, p := range m.Parts {
				if p.Type != canonical.PartText {
					ds.omit(i, j, p.Type, "system prompts carry text only")
					continue
				}

				system = append(system, p.Text)
			}

			continue
		}

		msg, err := serializeMessagesTurn(i, m, &ds, &ids)
		if err != nil {
			return nil, nil, err
		}

		wire.Messages = append(wire.Messages, msg)
	}

	switch len(system) {
	case 0:
	case 1:
		wire.System, _ = json.Marshal(system[0])
	default:
		blocks := make([]contentBlock, 0, len(system))
		for _, s := range system {
			blocks = append(blocks, contentBlock{Type: ContentTypeText, Text: s})
		}

		wire.System, _ = json.Marshal(blocks)
	}

	for _, t := range req.Tools {
		schema := t.Parameters
		if len(schema) == 0 {
			schema = json.RawMessage(`{"type":"object","properties":{}}`)
		}

		wire.Tools = append(wire.Tools, messagesTool{Name: t.Name, Description: t.Description, InputSchema: schema})
	}

	out, err := encode(wire)

	return out, ds, err
}

// serializeMessagesTurn encodes one turn. tool_use blocks need an id and
// tool_result blocks need the id they answer; ids fills in missing ones.
func serializeMessagesTurn(idx int, m canonical.Message, ds *downgrades, ids *callIDs) (messagesMessage, error) {
	switch m.Role {
	case canonical.RoleTool:
		id := ids.response(m.ToolCallID, m.Name)
		if id == "" {
			ds.flatten(idx, 0, canonical.PartToolCall, "tool result answers no tool call")

			return messagesMessage{Role: "user", Content: messagesContent([]contentBlock{{Type: ContentTypeText, Text: m.Text()}})}, nil
		}

		content, _ := json.Marshal(m.Text())
		block := contentBlock{Type: ContentTypeToolResult, ToolUseID: id, Content: content}

		for j, p := range m.Parts {
			if p.Type != canonical.PartText {
				ds.omit(idx, j, p.Type, "tool results carry text only")
			}
		}

		raw, err := json.Marshal([]contentBlock{block})
		if err != nil {
			return messagesMessage{}, fmt.Errorf("marshal tool result: %w", err)
		}

		return messagesMessage{Role: "user", Content: raw}, nil
	case canonical.RoleUser, canonical.RoleAssistant:
	default:
		return messagesMessage{}, canonical.UnmappableRole(string(m.Role))
	}

	blocks := messagesBlocks(idx, m.Parts, ds, ids, false)

	return messagesMessage{Role: string(m.Role), Content: messagesContent(blocks)}, nil
}

// messagesBlocks encodes parts as content blocks. Thinking is kept only in
// responses; requests would need the provider's signature to echo it.
func messagesBlocks(idx int, parts []canonical.Part, ds *downgrades, ids *callIDs, response bool) []contentBlock {
	blocks := make([]contentBlock, 0, len(parts))

	for j, p := range parts {
		switch p.Type {
		case canonical.PartText:
			blocks = append(blocks, contentBlock{Type: ContentTypeText, Text: p.Text})
		case canonical.PartThinking:
			if !response {
				ds.omit(idx, j, p.Type, "thinking blocks require a signature")
				continue
			}

			blocks = append(blocks, contentBlock{Type: ContentTypeThinking, Thinking: p.Text})
		case canonical.PartImage:
			if p.Image == nil {
				continue
			}

			src := &imageSource{Type: "url", URL: p.Image.URL}
			if p.Image.URL == "" {
				src = &imageSource{Type: "base64", MediaType: p.Image.MediaType, Data: p.Image.Data}
			}

			blocks = append(blocks, contentBlock{Type: ContentTypeImage, Source: src})
		case canonical.PartToolCall:
			if p.ToolCall == nil {
				continue
			}

			input, ok := argumentsObject(p.ToolCall.Arguments)
			if !ok {
				ds.flatten(idx, j, p.Type, "tool call arguments are not a JSON object")
				blocks = append(blocks, contentBlock{Type: ContentTypeText, Text: toolCallText(p.ToolCall)})

				continue
			}

			blocks = append(blocks, contentBlock{
				Type:  ContentTypeToolUse,
				ID:    ids.call(p.ToolCall.ID, p.ToolCall.Name),
				Name:  p.ToolCall.Name,
				Input: input,
			})
		}
	}

	return blocks
}

// messagesContent uses the plain string form whenever it is lossless.
func messagesContent(blocks []contentBlock) json.RawMessage {
	if len(blocks) == 1 && blocks[0].Type == ContentTypeText {
		out, _ := json.Marshal(blocks[0].Text)
		return out
	}

	if len(blocks) == 0 {
		return json.RawMessage(`""`)
	}

	out, _ := json.Marshal(blocks)

	return out
}

type messagesResponse struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	Role         string         `json:"role"`
	Model        string         `json:"model"`
	Content      []contentBlock `json:"content"`
	StopReason   *string        `json:"stop_reason"`
	StopSequence *string        `json:"stop_sequence"`
	Usage        *messagesUsage `json:"usage,omitempty"`
}

type messagesUsage struct {
	InputTokens          int  `json:"input_tokens"`
	OutputTokens         int  `json:"output_tokens"`
	CacheReadInputTokens *int `json:"cache_read_input_tokens,omitempty"`
}

func (messagesCodec) parseResponse(d *dialect, body []byte) (*canonical.Response, error) {
	if e, ok := upstreamError(body); ok {
		return nil, e
	}

	var wire messagesResponse
	if err := decode(body, &wire); err != nil {
		return nil, err
	}

	if wire.Content == nil {
		return nil, canonical.MissingField("content")
	}

	msg := canonical.Message{Role: canonical.RoleAssistant}

	for _, b := range wire.Content {
		part, ok, err := blockPart(b)
		if err != nil {
			return nil, err
		}

		if ok {
			msg.Parts = append(msg.Parts, part)
		}
	}

	choice := canonical.Choice{Message: msg}
	if wire.StopReason != nil {
		choice.FinishReason = messagesFinish(*wire.StopReason)
	}

	return &canonical.Response{
		ID:      wire.ID,
		Model:   wire.Model,
		Choices: []canonical.Choice{choice},
		Usage:   extractUsage(d, body),
	}, nil
}

func (messagesCodec) serializeResponse(_ *dialect, resp *canonical.Response) ([]byte, error) {
	wire := messagesResponse{
		ID:      resp.ID,
		Type:    "message",
		Role:    "assistant",
		Model:   resp.Model,
		Content: []contentBlock{},
		Usage:   messagesUsageOf(resp.Usage),
	}

	if len(resp.Choices) > 0 {
		c := resp.Choices[0]

		var ds downgrades
		wire.Content = messagesBlocks(0, c.Message.Parts, &ds, &callIDs{}, true)

		if c.FinishReason != "" {
			reason := messagesStopReason(c.FinishReason)
			wire.StopReason = &reason
		}
	}

	return encode(wire)
}

// messagesUsageOf reports cached prompt tokens separately, as input_tokens
// on this surface excludes cache reads.
func messagesUsageOf(u *canonical.Usage) *messagesUsage {
	if u == nil {
		return nil
	}

	out := &messagesUsage{
		InputTokens:  u.PromptTokens - u.CachedTokens,
		OutputTokens: u.CompletionTokens,
	}

	if u.CachedTokens > 0 {
		cached := u.CachedTokens
		out.CacheReadInputTokens = &cached
	}

	return out
}
