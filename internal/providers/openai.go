package providers

import (
	"encoding/json"
	"fmt"

	"github.com/mihaisavezi/hermesllm/internal/canonical"
)

// chatCodec implements the chat-completions wire family shared by OpenAI
// and every OpenAI-compatible provider. Per-provider quirks live in the
// dialect.
type chatCodec struct{}

type chatRequest struct {
	Model               *string         `json:"model,omitempty"`
	Messages            []chatMessage   `json:"messages"`
	Stream              bool            `json:"stream,omitempty"`
	StreamOptions       *streamOptions  `json:"stream_options,omitempty"`
	MaxTokens           *int            `json:"max_tokens,omitempty"`
	MaxCompletionTokens *int            `json:"max_completion_tokens,omitempty"`
	Temperature         *float64        `json:"temperature,omitempty"`
	TopP                *float64        `json:"top_p,omitempty"`
	Stop                json.RawMessage `json:"stop,omitempty"`
	Seed                *int64          `json:"seed,omitempty"`
	RandomSeed          *int64          `json:"random_seed,omitempty"`
	Tools               []chatTool      `json:"tools,omitempty"`
	ToolChoice          json.RawMessage `json:"tool_choice,omitempty"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type chatMessage struct {
	Role             string          `json:"role"`
	Content          json.RawMessage `json:"content,omitempty"`
	Name             string          `json:"name,omitempty"`
	ToolCalls        []chatToolCall  `json:"tool_calls,omitempty"`
	ToolCallID       string          `json:"tool_call_id,omitempty"`
	FunctionCall     *chatFunction   `json:"function_call,omitempty"`
	ReasoningContent string          `json:"reasoning_content,omitempty"`
	Reasoning        string          `json:"reasoning,omitempty"`
}

type chatContentPart struct {
	Type     string        `json:"type"`
	Text     string        `json:"text,omitempty"`
	ImageURL *chatImageURL `json:"image_url,omitempty"`
}

type chatImageURL struct {
	URL string `json:"url"`
}

type chatToolCall struct {
	Index    *int         `json:"index,omitempty"`
	ID       string       `json:"id,omitempty"`
	Type     string       `json:"type,omitempty"`
	Function chatFunction `json:"function"`
}

type chatFunction struct {
	Name      string          `json:"name,omitempty"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

type chatTool struct {
	Type     string          `json:"type"`
	Function chatFunctionDef `json:"function"`
}

type chatFunctionDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

func (chatCodec) parseRequest(d *dialect, body []byte, o *options) (*canonical.Request, error) {
	var wire chatRequest
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
		Messages:   make([]canonical.Message, 0, len(wire.Messages)),
		ToolChoice: wire.ToolChoice,
	}

	var ids callIDs

	for _, m := range wire.Messages {
		msg, err := parseChatMessage(d, m, &ids)
		if err != nil {
			return nil, err
		}

		req.Messages = append(req.Messages, msg)
	}

	req.Params.MaxTokens = wire.MaxTokens
	if req.Params.MaxTokens == nil {
		req.Params.MaxTokens = wire.MaxCompletionTokens
	}

	req.Params.Temperature = wire.Temperature
	req.Params.TopP = wire.TopP

	req.Params.Seed = wire.Seed
	if req.Params.Seed == nil {
		req.Params.Seed = wire.RandomSeed
	}

	stop, err := parseStop(wire.Stop)
	if err != nil {
		return nil, err
	}

	req.Params.Stop = stop

	for _, t := range wire.Tools {
		req.Tools = append(req.Tools, canonical.Tool{
			Name:        t.Function.Name,
			Description: t.Function.Description,
			Parameters:  t.Function.Parameters,
		})
	}

	return req, nil
}

func parseStop(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var one string
	if err := json.Unmarshal(raw, &one); err == nil {
		return []string{one}, nil
	}

	var many []string
	if err := json.Unmarshal(raw, &many); err != nil {
		return nil, canonical.Malformed(fmt.Errorf("stop: %w", err))
	}

	return many, nil
}

// parseChatMessage converts one message. Legacy function_call messages and
// function role results carry no ids; ids pairs them up.
func parseChatMessage(d *dialect, m chatMessage, ids *callIDs) (canonical.Message, error) {
	role, ok := d.roles[m.Role]
	if !ok {
		return canonical.Message{}, canonical.UnmappableRole(m.Role)
	}

	msg := canonical.Message{Role: role, Name: m.Name, ToolCallID: m.ToolCallID}
	if role == canonical.RoleTool {
		msg.ToolCallID = ids.response(m.ToolCallID, m.Name)
	}

	if d.reasoning != "" {
		if text := reasoningOf(d, m); text != "" {
			msg.Parts = append(msg.Parts, canonical.Part{Type: canonical.PartThinking, Text: text})
		}
	}

	parts, err := parseChatContent(m.Content)
	if err != nil {
		return canonical.Message{}, err
	}

	msg.Parts = append(msg.Parts, parts...)

	for _, tc := range m.ToolCalls {
		args, err := argumentsString(tc.Function.Arguments)
		if err != nil {
			return canonical.Message{}, canonical.Malformed(err)
		}

		msg.Parts = append(msg.Parts, canonical.Part{
			Type:     canonical.PartToolCall,
			ToolCall: &canonical.ToolCall{ID: ids.call(tc.ID, tc.Function.Name), Name: tc.Function.Name, Arguments: args},
		})
	}

	if m.FunctionCall != nil {
		args, err := argumentsString(m.FunctionCall.Arguments)
		if err != nil {
			return canonical.Message{}, canonical.Malformed(err)
		}

		msg.Parts = append(msg.Parts, canonical.Part{
			Type:     canonical.PartToolCall,
			ToolCall: &canonical.ToolCall{ID: ids.call("", m.FunctionCall.Name), Name: m.FunctionCall.Name, Arguments: args},
		})
	}

	return msg, nil
}

func reasoningOf(d *dialect, m chatMessage) string {
	switch d.reasoning {
	case "reasoning_content":
		return m.ReasoningContent
	case "reasoning":
		return m.Reasoning
	default:
		return ""
	}
}

func parseChatContent(raw json.RawMessage) ([]canonical.Part, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return []canonical.Part{{Type: canonical.PartText, Text: s}}, nil
	}

	var items []chatContentPart
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, canonical.Malformed(fmt.Errorf("content: %w", err))
	}

	parts := make([]canonical.Part, 0, len(items))

	for _, it := range items {
		switch it.Type {
		case "text", "input_text":
			parts = append(parts, canonical.Part{Type: canonical.PartText, Text: it.Text})
		case "image_url":
			if it.ImageURL == nil {
				return nil, canonical.MissingField("image_url")
			}

			parts = append(parts, canonical.Part{Type: canonical.PartImage, Image: imageFromURL(it.ImageURL.URL)})
		}
	}

	return parts, nil
}

func (chatCodec) serializeRequest(d *dialect, req *canonical.Request) ([]byte, []Downgrade, error) {
	if req.Model == "" {
		return nil, nil, canonical.MissingField("model")
	}

	model := req.Model
	wire := chatRequest{
		Model:       &model,
		Stream:      req.Stream,
		Messages:    make([]chatMessage, 0, len(req.Messages)),
		MaxTokens:   req.Params.MaxTokens,
		Temperature: req.Params.Temperature,
		TopP:        req.Params.TopP,
		ToolChoice:  req.ToolChoice,
	}

	if req.Stream && d.streamUsage {
		wire.StreamOptions = &streamOptions{IncludeUsage: true}
	}

	if d.seedField == "random_seed" {
		wire.RandomSeed = req.Params.Seed
	} else {
		wire.Seed = req.Params.Seed
	}

	if len(req.Params.Stop) > 0 {
		wire.Stop, _ = json.Marshal(req.Params.Stop)
	}

	var ds downgrades

	for i, m := range req.Messages {
		wire.Messages = append(wire.Messages, serializeChatMessage(d, i, m, &ds, false))
	}

	for _, t := range req.Tools {
		wire.Tools = append(wire.Tools, chatTool{
			Type:     "function",
			Function: chatFunctionDef{Name: t.Name, Description: t.Description, Parameters: t.Parameters},
		})
	}

	out, err := encode(wire)

	return out, ds, err
}

// serializeChatMessage encodes one message. Thinking parts are carried only
// in responses; providers reject reasoning text echoed back in requests.
func serializeChatMessage(d *dialect, idx int, m canonical.Message, ds *downgrades, response bool) chatMessage {
	out := chatMessage{Role: string(m.Role), Name: m.Name, ToolCallID: m.ToolCallID}

	var (
		content  []chatContentPart
		thinking string
	)

	for j, p := range m.Parts {
		switch p.Type {
		case canonical.PartText:
			content = append(content, chatContentPart{Type: "text", Text: p.Text})
		case canonical.PartImage:
			if !d.images || m.Role != canonical.RoleUser || p.Image == nil {
				ds.flatten(idx, j, p.Type, d.display+" does not accept image input here")
				content = append(content, chatContentPart{Type: "text", Text: imageText(p.Image)})

				continue
			}

			content = append(content, chatContentPart{Type: "image_url", ImageURL: &chatImageURL{URL: dataURL(p.Image)}})
		case canonical.PartToolCall:
			if p.ToolCall == nil {
				continue
			}

			if m.Role != canonical.RoleAssistant {
				ds.flatten(idx, j, p.Type, "tool calls are only carried on assistant messages")
				content = append(content, chatContentPart{Type: "text", Text: toolCallText(p.ToolCall)})

				continue
			}

			args, _ := json.Marshal(p.ToolCall.Arguments)
			out.ToolCalls = append(out.ToolCalls, chatToolCall{
				ID:       p.ToolCall.ID,
				Type:     "function",
				Function: chatFunction{Name: p.ToolCall.Name, Arguments: args},
			})
		case canonical.PartThinking:
			if !response || d.reasoning == "" {
				ds.omit(idx, j, p.Type, "reasoning is not accepted as input")

				continue
			}

			thinking += p.Text
		}
	}

	switch d.reasoning {
	case "reasoning_content":
		out.ReasoningContent = thinking
	case "reasoning":
		out.Reasoning = thinking
	}

	out.Content = chatContent(content)

	return out
}

// chatContent uses the plain string form whenever it is lossless.
func chatContent(parts []chatContentPart) json.RawMessage {
	switch {
	case len(parts) == 0:
		return nil
	case len(parts) == 1 && parts[0].Type == "text":
		out, _ := json.Marshal(parts[0].Text)
		return out
	default:
		out, _ := json.Marshal(parts)
		return out
	}
}

type chatResponse struct {
	ID      string       `json:"id,omitempty"`
	Object  string       `json:"object,omitempty"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   *chatUsage   `json:"usage,omitempty"`
}

type chatChoice struct {
	Index        int          `json:"index"`
	Message      *chatMessage `json:"message,omitempty"`
	Delta        *chatMessage `json:"delta,omitempty"`
	FinishReason *string      `json:"finish_reason"`
}

type chatUsage struct {
	PromptTokens        int                 `json:"prompt_tokens"`
	CompletionTokens    int                 `json:"completion_tokens"`
	TotalTokens         int                 `json:"total_tokens"`
	PromptTokensDetails *promptTokenDetails `json:"prompt_tokens_details,omitempty"`
}

type promptTokenDetails struct {
	CachedTokens int `json:"cached_tokens"`
}

func (chatCodec) parseResponse(d *dialect, body []byte) (*canonical.Response, error) {
	if e, ok := upstreamError(body); ok {
		return nil, e
	}

	var wire struct {
		ID      string `json:"id"`
		Model   string `json:"model"`
		Choices []struct {
			Index        int          `json:"index"`
			Message      *chatMessage `json:"message"`
			FinishReason *string      `json:"finish_reason"`
		} `json:"choices"`
	}
	if err := decode(body, &wire); err != nil {
		return nil, err
	}

	if wire.Choices == nil {
		return nil, canonical.MissingField("choices")
	}

	resp := &canonical.Response{
		ID:      wire.ID,
		Model:   wire.Model,
		Choices: make([]canonical.Choice, 0, len(wire.Choices)),
		Usage:   extractUsage(d, body),
	}

	for _, c := range wire.Choices {
		if c.Message == nil {
			return nil, canonical.MissingField("message")
		}

		if c.Message.Role == "" {
			c.Message.Role = "assistant"
		}

		msg, err := parseChatMessage(d, *c.Message, &callIDs{})
		if err != nil {
			return nil, err
		}

		choice := canonical.Choice{Index: c.Index, Message: msg}
		if c.FinishReason != nil {
			choice.FinishReason = chatFinish(d, *c.FinishReason)
		}

		resp.Choices = append(resp.Choices, choice)
	}

	return resp, nil
}

func (chatCodec) serializeResponse(d *dialect, resp *canonical.Response) ([]byte, error) {
	wire := chatResponse{
		ID:      resp.ID,
		Object:  "chat.completion",
		Model:   resp.Model,
		Choices: make([]chatChoice, 0, len(resp.Choices)),
		Usage:   chatUsageOf(resp.Usage),
	}

	var ds downgrades

	for i, c := range resp.Choices {
		msg := serializeChatMessage(d, i, c.Message, &ds, true)
		if msg.Role == "" {
			msg.Role = "assistant"
		}

		choice := chatChoice{Index: c.Index, Message: &msg}
		if c.FinishReason != "" {
			reason := string(c.FinishReason)
			choice.FinishReason = &reason
		}

		wire.Choices = append(wire.Choices, choice)
	}

	return encode(wire)
}

func chatUsageOf(u *canonical.Usage) *chatUsage {
	if u == nil {
		return nil
	}

	out := &chatUsage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
	}

	if u.CachedTokens > 0 {
		out.PromptTokensDetails = &promptTokenDetails{CachedTokens: u.CachedTokens}
	}

	return out
}
