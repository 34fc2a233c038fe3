package providers

import (
	"encoding/json"

	"github.com/tidwall/gjson"

	"github.com/mihaisavezi/hermesllm/internal/canonical"
)

// geminiCodec implements the native generate-content wire format. The
// model and streaming flag travel in the URL path, not the body.
type geminiCodec struct{}

type geminiRequest struct {
	Contents          []geminiContent         `json:"contents"`
	SystemInstruction *geminiContent          `json:"systemInstruction,omitempty"`
	Tools             []geminiTool            `json:"tools,omitempty"`
	ToolConfig        *geminiToolConfig       `json:"toolConfig,omitempty"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text             string                  `json:"text,omitempty"`
	Thought          bool                    `json:"thought,omitempty"`
	InlineData       *geminiBlob             `json:"inlineData,omitempty"`
	FileData         *geminiFileData         `json:"fileData,omitempty"`
	FunctionCall     *geminiFunctionCall     `json:"functionCall,omitempty"`
	FunctionResponse *geminiFunctionResponse `json:"functionResponse,omitempty"`
}

type geminiBlob struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type geminiFileData struct {
	MimeType string `json:"mimeType,omitempty"`
	FileURI  string `json:"fileUri"`
}

type geminiFunctionCall struct {
	ID   string          `json:"id,omitempty"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
}

type geminiFunctionResponse struct {
	ID       string          `json:"id,omitempty"`
	Name     string          `json:"name"`
	Response json.RawMessage `json:"response"`
}

type geminiTool struct {
	FunctionDeclarations []geminiFunctionDecl `json:"functionDeclarations,omitempty"`
}

type geminiFunctionDecl struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type geminiToolConfig struct {
	FunctionCallingConfig struct {
		Mode                 string   `json:"mode,omitempty"`
		AllowedFunctionNames []string `json:"allowedFunctionNames,omitempty"`
	} `json:"functionCallingConfig"`
}

type geminiGenerationConfig struct {
	MaxOutputTokens *int     `json:"maxOutputTokens,omitempty"`
	Temperature     *float64 `json:"temperature,omitempty"`
	TopP            *float64 `json:"topP,omitempty"`
	StopSequences   []string `json:"stopSequences,omitempty"`
	Seed            *int64   `json:"seed,omitempty"`
}

func (geminiCodec) parseRequest(_ *dialect, body []byte, o *options) (*canonical.Request, error) {
	var wire geminiRequest
	if err := decode(body, &wire); err != nil {
		return nil, err
	}

	model, stream := o.model, false
	if o.path != "" {
		if m, s := modelFromPath(o.path); m != "" {
			model, stream = m, s
		}
	}

	if model == "" {
		return nil, canonical.MissingField("model")
	}

	if wire.Contents == nil {
		return nil, canonical.MissingField("contents")
	}

	req := &canonical.Request{
		Model:    model,
		Stream:   stream,
		Messages: make([]canonical.Message, 0, len(wire.Contents)+1),
	}

	if si := wire.SystemInstruction; si != nil {
		sys := canonical.Message{Role: canonical.RoleSystem}
		for _, p := range si.Parts {
			sys.Parts = append(sys.Parts, canonical.Part{Type: canonical.PartText, Text: p.Text})
		}

		req.Messages = append(req.Messages, sys)
	}

	var ids callIDs

	for _, c := range wire.Contents {
		msgs, err := parseGeminiContent(c, &ids)
		if err != nil {
			return nil, err
		}

		req.Messages = append(req.Messages, msgs...)
	}

	if gc := wire.GenerationConfig; gc != nil {
		req.Params = canonical.Params{
			MaxTokens:   gc.MaxOutputTokens,
			Temperature: gc.Temperature,
			TopP:        gc.TopP,
			Stop:        gc.StopSequences,
			Seed:        gc.Seed,
		}
	}

	for _, t := range wire.Tools {
		for _, fd := range t.FunctionDeclarations {
			req.Tools = append(req.Tools, canonical.Tool{
				Name:        fd.Name,
				Description: fd.Description,
				Parameters:  fd.Parameters,
			})
		}
	}

	if tc := wire.ToolConfig; tc != nil {
		req.ToolChoice = toolChoiceFromGemini(tc)
	}

	return req, nil
}

func geminiRole(role string) (canonical.Role, error) {
	switch role {
	case "user", "":
		return canonical.RoleUser, nil
	case "model":
		return canonical.RoleAssistant, nil
	case "function", "tool":
		return canonical.RoleTool, nil
	default:
		return "", canonical.UnmappableRole(role)
	}
}

// parseGeminiContent splits function responses out into canonical tool
// messages, keeping every other part in order on the content's own role.
func parseGeminiContent(c geminiContent, ids *callIDs) ([]canonical.Message, error) {
	role, err := geminiRole(c.Role)
	if err != nil {
		return nil, err
	}

	if role == canonical.RoleTool {
		role = canonical.RoleUser
	}

	var (
		out     []canonical.Message
		current *canonical.Message
	)

	for _, p := range c.Parts {
		if fr := p.FunctionResponse; fr != nil {
			if current != nil {
				out = append(out, *current)
				current = nil
			}

			out = append(out, canonical.Message{
				Role:       canonical.RoleTool,
				Name:       fr.Name,
				ToolCallID: ids.response(fr.ID, fr.Name),
				Parts:      []canonical.Part{{Type: canonical.PartText, Text: functionResponseText(fr.Response)}},
			})

			continue
		}

		part, ok := geminiPartToCanonical(p, ids)
		if !ok {
			continue
		}

		if current == nil {
			current = &canonical.Message{Role: role}
		}

		current.Parts = append(current.Parts, part)
	}

	if current != nil {
		out = append(out, *current)
	}

	if len(out) == 0 {
		out = append(out, canonical.Message{Role: role})
	}

	return out, nil
}

func geminiPartToCanonical(p geminiPart, ids *callIDs) (canonical.Part, bool) {
	switch {
	case p.FunctionCall != nil:
		args := "{}"
		if len(p.FunctionCall.Args) > 0 && string(p.FunctionCall.Args) != "null" {
			args = string(p.FunctionCall.Args)
		}

		return canonical.Part{
			Type: canonical.PartToolCall,
			ToolCall: &canonical.ToolCall{
				ID:        ids.call(p.FunctionCall.ID, p.FunctionCall.Name),
				Name:      p.FunctionCall.Name,
				Arguments: args,
			},
		}, true
	case p.InlineData != nil:
		return canonical.Part{
			Type:  canonical.PartImage,
			Image: &canonical.Image{MediaType: p.InlineData.MimeType, Data: p.InlineData.Data},
		}, true
	case p.FileData != nil:
		return canonical.Part{
			Type:  canonical.PartImage,
			Image: &canonical.Image{URL: p.FileData.FileURI, MediaType: p.FileData.MimeType},
		}, true
	case p.Thought:
		return canonical.Part{Type: canonical.PartThinking, Text: p.Text}, true
	default:
		return canonical.Part{Type: canonical.PartText, Text: p.Text}, true
	}
}

// functionResponseText unwraps {"content": "..."} responses, the shape
// plain-text tool output is wrapped in on the way out.
func functionResponseText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	v := gjson.ParseBytes(raw)
	if c := v.Get("content"); c.Type == gjson.String && len(v.Map()) == 1 {
		return c.String()
	}

	return string(raw)
}

func functionResponseBody(text string) json.RawMessage {
	if gjson.Valid(text) && gjson.Parse(text).IsObject() {
		return json.RawMessage(text)
	}

	out, _ := json.Marshal(map[string]string{"content": text})

	return out
}

func toolChoiceFromGemini(tc *geminiToolConfig) json.RawMessage {
	cfg := tc.FunctionCallingConfig

	switch cfg.Mode {
	case "NONE":
		return json.RawMessage(`"none"`)
	case "ANY":
		if len(cfg.AllowedFunctionNames) == 1 {
			return namedToolChoice(cfg.AllowedFunctionNames[0])
		}

		return json.RawMessage(`"required"`)
	case "AUTO":
		return json.RawMessage(`"auto"`)
	default:
		return nil
	}
}

func toolChoiceToGemini(raw json.RawMessage) *geminiToolConfig {
	if len(raw) == 0 {
		return nil
	}

	tc := &geminiToolConfig{}
	v := gjson.ParseBytes(raw)

	switch {
	case v.Type == gjson.String && v.String() == "none":
		tc.FunctionCallingConfig.Mode = "NONE"
	case v.Type == gjson.String && v.String() == "required":
		tc.FunctionCallingConfig.Mode = "ANY"
	case v.Get("function.name").Exists():
		tc.FunctionCallingConfig.Mode = "ANY"
		tc.FunctionCallingConfig.AllowedFunctionNames = []string{v.Get("function.name").String()}
	default:
		tc.FunctionCallingConfig.Mode = "AUTO"
	}

	return tc
}

func (geminiCodec) serializeRequest(_ *dialect, req *canonical.Request) ([]byte, []Downgrade, error) {
	if req.Model == "" {
		return nil, nil, canonical.MissingField("model")
	}

	wire := geminiRequest{
		Contents:   make([]geminiContent, 0, len(req.Messages)),
		ToolConfig: toolChoiceToGemini(req.ToolChoice),
	}

	p := req.Params
	if p.MaxTokens != nil || p.Temperature != nil || p.TopP != nil || len(p.Stop) > 0 || p.Seed != nil {
		wire.GenerationConfig = &geminiGenerationConfig{
			MaxOutputTokens: p.MaxTokens,
			Temperature:     p.Temperature,
			TopP:            p.TopP,
			StopSequences:   p.Stop,
			Seed:            p.Seed,
		}
	}

	var (
		ds    downgrades
		names = make(map[string]string)

		// toolTurn is the content collecting consecutive tool results, or -1.
		toolTurn = -1
	)

	for i, m := range req.Messages {
		if m.Role != canonical.RoleTool {
			toolTurn = -1
		}

		switch m.Role {
		case canonical.RoleSystem:
			if wire.SystemInstruction == nil {
				wire.SystemInstruction = &geminiContent{}
			}

			for j, part := range m.Parts {
				if part.Type != canonical.PartText {
					ds.omit(i, j, part.Type, "system instructions carry text only")
					continue
				}

				wire.SystemInstruction.Parts = append(wire.SystemInstruction.Parts, geminiPart{Text: part.Text})
			}
		case canonical.RoleTool:
			// Responses to parallel calls must share one content.
			part := geminiToolResponse(i, m, names, &ds)
			if toolTurn >= 0 {
				wire.Contents[toolTurn].Parts = append(wire.Contents[toolTurn].Parts, part)
				continue
			}

			toolTurn = len(wire.Contents)
			wire.Contents = append(wire.Contents, geminiContent{Role: "user", Parts: []geminiPart{part}})
		case canonical.RoleUser, canonical.RoleAssistant:
			role := "user"
			if m.Role == canonical.RoleAssistant {
				role = "model"
			}

			wire.Contents = append(wire.Contents, geminiContent{
				Role:  role,
				Parts: geminiParts(i, m.Parts, names, &ds, false),
			})
		default:
			return nil, nil, canonical.UnmappableRole(string(m.Role))
		}
	}

	if len(req.Tools) > 0 {
		decls := make([]geminiFunctionDecl, 0, len(req.Tools))
		for _, t := range req.Tools {
			decls = append(decls, geminiFunctionDecl{Name: t.Name, Description: t.Description, Parameters: t.Parameters})
		}

		wire.Tools = []geminiTool{{FunctionDeclarations: decls}}
	}

	out, err := encode(wire)

	return out, ds, err
}

// geminiToolResponse encodes a tool message as one part. The function name
// is required here; it is recovered from the earlier call when the message
// lacks one.
func geminiToolResponse(idx int, m canonical.Message, names map[string]string, ds *downgrades) geminiPart {
	name := m.Name
	if name == "" {
		name = names[m.ToolCallID]
	}

	if name == "" {
		ds.flatten(idx, 0, canonical.PartToolCall, "tool result does not name its function")

		return geminiPart{Text: m.Text()}
	}

	return geminiPart{FunctionResponse: &geminiFunctionResponse{
		ID:       m.ToolCallID,
		Name:     name,
		Response: functionResponseBody(m.Text()),
	}}
}

// geminiParts encodes parts. Thought parts are kept only in responses.
func geminiParts(idx int, parts []canonical.Part, names map[string]string, ds *downgrades, response bool) []geminiPart {
	out := make([]geminiPart, 0, len(parts))

	for j, p := range parts {
		switch p.Type {
		case canonical.PartText:
			out = append(out, geminiPart{Text: p.Text})
		case canonical.PartThinking:
			if !response {
				ds.omit(idx, j, p.Type, "thought parts are not accepted as input")
				continue
			}

			out = append(out, geminiPart{Text: p.Text, Thought: true})
		case canonical.PartImage:
			if p.Image == nil {
				continue
			}

			if p.Image.URL != "" {
				out = append(out, geminiPart{FileData: &geminiFileData{MimeType: p.Image.MediaType, FileURI: p.Image.URL}})
			} else {
				out = append(out, geminiPart{InlineData: &geminiBlob{MimeType: p.Image.MediaType, Data: p.Image.Data}})
			}
		case canonical.PartToolCall:
			if p.ToolCall == nil {
				continue
			}

			args, ok := argumentsObject(p.ToolCall.Arguments)
			if !ok {
				ds.flatten(idx, j, p.Type, "tool call arguments are not a JSON object")
				out = append(out, geminiPart{Text: toolCallText(p.ToolCall)})

				continue
			}

			if names != nil {
				names[p.ToolCall.ID] = p.ToolCall.Name
			}

			out = append(out, geminiPart{FunctionCall: &geminiFunctionCall{
				ID:   p.ToolCall.ID,
				Name: p.ToolCall.Name,
				Args: args,
			}})
		}
	}

	return out
}

type geminiResponse struct {
	Candidates     []geminiCandidate     `json:"candidates"`
	PromptFeedback *geminiPromptFeedback `json:"promptFeedback,omitempty"`
	UsageMetadata  *geminiUsageMetadata  `json:"usageMetadata,omitempty"`
	ModelVersion   string                `json:"modelVersion,omitempty"`
	ResponseID     string                `json:"responseId,omitempty"`
}

type geminiCandidate struct {
	Content      *geminiContent `json:"content,omitempty"`
	FinishReason string         `json:"finishReason,omitempty"`
	Index        int            `json:"index"`
}

type geminiPromptFeedback struct {
	BlockReason string `json:"blockReason,omitempty"`
}

type geminiUsageMetadata struct {
	PromptTokenCount        int `json:"promptTokenCount"`
	CandidatesTokenCount    int `json:"candidatesTokenCount"`
	TotalTokenCount         int `json:"totalTokenCount"`
	CachedContentTokenCount int `json:"cachedContentTokenCount,omitempty"`
}

func (geminiCodec) parseResponse(d *dialect, body []byte) (*canonical.Response, error) {
	if e, ok := upstreamError(body); ok {
		return nil, e
	}

	var wire geminiResponse
	if err := decode(body, &wire); err != nil {
		return nil, err
	}

	resp := &canonical.Response{
		ID:    wire.ResponseID,
		Model: wire.ModelVersion,
		Usage: extractUsage(d, body),
	}

	if wire.Candidates == nil {
		if wire.PromptFeedback == nil || wire.PromptFeedback.BlockReason == "" {
			return nil, canonical.MissingField("candidates")
		}

		resp.Choices = []canonical.Choice{{
			Message:      canonical.Message{Role: canonical.RoleAssistant},
			FinishReason: canonical.FinishContentFilter,
		}}

		return resp, nil
	}

	var ids callIDs

	for _, c := range wire.Candidates {
		msg := canonical.Message{Role: canonical.RoleAssistant}

		if c.Content != nil {
			for _, p := range c.Content.Parts {
				if part, ok := geminiPartToCanonical(p, &ids); ok {
					msg.Parts = append(msg.Parts, part)
				}
			}
		}

		resp.Choices = append(resp.Choices, canonical.Choice{
			Index:        c.Index,
			Message:      msg,
			FinishReason: candidateFinish(c.FinishReason, len(msg.ToolCalls()) > 0),
		})
	}

	return resp, nil
}

// candidateFinish reports tool_calls for a normal stop carrying function
// calls; the generate-content vocabulary has no separate reason for it.
func candidateFinish(reason string, calls bool) canonical.FinishReason {
	r := geminiFinish(reason)
	if r == canonical.FinishStop && calls {
		return canonical.FinishToolCalls
	}

	return r
}

func (geminiCodec) serializeResponse(_ *dialect, resp *canonical.Response) ([]byte, error) {
	wire := geminiResponse{
		ResponseID:    resp.ID,
		ModelVersion:  resp.Model,
		Candidates:    make([]geminiCandidate, 0, len(resp.Choices)),
		UsageMetadata: geminiUsageOf(resp.Usage),
	}

	var ds downgrades

	for _, c := range resp.Choices {
		wire.Candidates = append(wire.Candidates, geminiCandidate{
			Index:        c.Index,
			FinishReason: geminiFinishReason(c.FinishReason),
			Content: &geminiContent{
				Role:  "model",
				Parts: geminiParts(c.Index, c.Message.Parts, nil, &ds, true),
			},
		})
	}

	return encode(wire)
}

func geminiUsageOf(u *canonical.Usage) *geminiUsageMetadata {
	if u == nil {
		return nil
	}

	return &geminiUsageMetadata{
		PromptTokenCount:        u.PromptTokens,
		CandidatesTokenCount:    u.CompletionTokens,
		TotalTokenCount:         u.TotalTokens,
		CachedContentTokenCount: u.CachedTokens,
	}
}
