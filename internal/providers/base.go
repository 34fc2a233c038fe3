package providers

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"
	"github.com/tidwall/gjson"

	"github.com/mihaisavezi/hermesllm/internal/canonical"
)

const (
	// DefaultMaxTokens is sent on the messages surface when the canonical
	// request leaves MaxTokens unset; the field is mandatory there.
	DefaultMaxTokens = 4096

	ContentTypeEventStream = "text/event-stream"
)

// Downgrade records a content part the target wire format could not carry
// natively. To is empty when the part was omitted rather than flattened.
type Downgrade struct {
	Message int                `json:"message"`
	Part    int                `json:"part"`
	From    canonical.PartType `json:"from"`
	To      canonical.PartType `json:"to,omitempty"`
	Reason  string             `json:"reason"`
}

func (d Downgrade) String() string {
	to := string(d.To)
	if to == "" {
		to = "omitted"
	}

	return fmt.Sprintf("messages[%d].parts[%d]: %s -> %s (%s)", d.Message, d.Part, d.From, to, d.Reason)
}

// callIDs assigns ids to tool calls that arrive without one and pairs tool
// results with the call they answer. Calls are numbered from 1 in the order
// they appear, whether or not they carried an id.
type callIDs struct {
	n       int
	pending []pendingCall
}

type pendingCall struct {
	id   string
	name string
}

func (c *callIDs) call(id, name string) string {
	c.n++

	if id == "" {
		id = fmt.Sprintf("call_%d", c.n)
	}

	c.pending = append(c.pending, pendingCall{id: id, name: name})

	return id
}

// response returns the id of the call a result answers: its own id when it
// has one, else the oldest open call of the same name. An unnamed result
// takes the oldest open call. It returns "" when nothing matches.
func (c *callIDs) response(id, name string) string {
	for i, pc := range c.pending {
		if (id != "" && pc.id == id) || (id == "" && (name == "" || pc.name == name)) {
			c.pending = append(c.pending[:i:i], c.pending[i+1:]...)
			return pc.id
		}
	}

	return id
}

// downgrades accumulates Downgrade records during one serialization.
type downgrades []Downgrade

func (ds *downgrades) flatten(msg, part int, from canonical.PartType, reason string) {
	*ds = append(*ds, Downgrade{Message: msg, Part: part, From: from, To: canonical.PartText, Reason: reason})
}

func (ds *downgrades) omit(msg, part int, from canonical.PartType, reason string) {
	*ds = append(*ds, Downgrade{Message: msg, Part: part, From: from, Reason: reason})
}

// imageText is the text stand-in for an image the target cannot accept.
func imageText(img *canonical.Image) string {
	if img == nil {
		return "[image]"
	}

	if img.URL != "" {
		return "[image: " + img.URL + "]"
	}

	if img.MediaType != "" {
		return "[image: " + img.MediaType + "]"
	}

	return "[image]"
}

// toolCallText is the text stand-in for a tool call whose arguments cannot
// be encoded as a JSON object.
func toolCallText(tc *canonical.ToolCall) string {
	return fmt.Sprintf("[tool call %s(%s)]", tc.Name, tc.Arguments)
}

// argumentsObject returns tool call arguments as a JSON object suitable
// for wire formats that embed them structurally. Slightly malformed model
// output is repaired; ok is false when nothing usable remains.
func argumentsObject(args string) (json.RawMessage, bool) {
	args = strings.TrimSpace(args)
	if args == "" {
		return json.RawMessage(`{}`), true
	}

	if gjson.Valid(args) && gjson.Parse(args).IsObject() {
		return json.RawMessage(args), true
	}

	repaired, err := jsonrepair.JSONRepair(args)
	if err != nil {
		return nil, false
	}

	if !gjson.Valid(repaired) || !gjson.Parse(repaired).IsObject() {
		return nil, false
	}

	return json.RawMessage(repaired), true
}

// argumentsString accepts tool call arguments encoded either as a JSON
// string (the chat-completions convention) or as an embedded object.
func argumentsString(raw json.RawMessage) (string, error) {
	raw = json.RawMessage(strings.TrimSpace(string(raw)))
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}

	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", fmt.Errorf("tool call arguments: %w", err)
		}

		return s, nil
	}

	if !json.Valid(raw) {
		return "", errors.New("tool call arguments: invalid JSON")
	}

	return string(raw), nil
}

// upstreamError recognizes the error envelopes every provider uses:
// {"error":{"type"|"code"|"status","message"}} and {"error":"message"}.
func upstreamError(body []byte) (*canonical.Error, bool) {
	e := gjson.GetBytes(body, "error")
	if !e.Exists() || e.Type == gjson.Null {
		return nil, false
	}

	if e.Type == gjson.String {
		return canonical.Upstream("error", e.String()), true
	}

	typ := e.Get("type").String()
	if typ == "" {
		typ = e.Get("status").String()
	}

	if typ == "" {
		typ = e.Get("code").String()
	}

	if typ == "" {
		typ = "api_error"
	}

	return canonical.Upstream(typ, e.Get("message").String()), true
}

// decode unmarshals body and wraps syntax errors as MalformedInput.
func decode(body []byte, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		return canonical.Malformed(err)
	}

	return nil
}

func encode(v any) ([]byte, error) {
	out, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	return out, nil
}

// stringOrTexts accepts a JSON string or an array of {"type":"text"}
// blocks, as used for system prompts and tool results.
func stringOrTexts(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return []string{s}, nil
	}

	var blocks []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return nil, canonical.Malformed(err)
	}

	texts := make([]string, 0, len(blocks))
	for _, b := range blocks {
		if b.Type == "text" {
			texts = append(texts, b.Text)
		}
	}

	return texts, nil
}

func textParts(texts []string) []canonical.Part {
	parts := make([]canonical.Part, 0, len(texts))
	for _, t := range texts {
		parts = append(parts, canonical.Part{Type: canonical.PartText, Text: t})
	}

	return parts
}

// splitDataURL splits "data:image/png;base64,AAAA" into media type and data.
func splitDataURL(url string) (mediaType, data string, ok bool) {
	rest, found := strings.CutPrefix(url, "data:")
	if !found {
		return "", "", false
	}

	meta, data, found := strings.Cut(rest, ",")
	if !found {
		return "", "", false
	}

	mediaType, _, _ = strings.Cut(meta, ";")

	return mediaType, data, true
}

func dataURL(img *canonical.Image) string {
	if img.URL != "" {
		return img.URL
	}

	return "data:" + img.MediaType + ";base64," + img.Data
}

func imageFromURL(url string) *canonical.Image {
	if mt, data, ok := splitDataURL(url); ok {
		return &canonical.Image{MediaType: mt, Data: data}
	}

	return &canonical.Image{URL: url}
}

// chatFinish maps chat-completions finish reasons. Unknown values map to
// stop, as the stream did end normally from the provider's point of view.
func chatFinish(d *dialect, reason string) canonical.FinishReason {
	if r, ok := d.finish[reason]; ok {
		return r
	}

	switch reason {
	case "":
		return ""
	case "stop", "end_turn", "eos":
		return canonical.FinishStop
	case "length", "max_tokens":
		return canonical.FinishLength
	case "tool_calls", "function_call", "tool_use":
		return canonical.FinishToolCalls
	case "content_filter":
		return canonical.FinishContentFilter
	case "error":
		return canonical.FinishError
	default:
		return canonical.FinishStop
	}
}

func messagesFinish(reason string) canonical.FinishReason {
	switch reason {
	case "":
		return ""
	case "max_tokens", "model_context_window_exceeded":
		return canonical.FinishLength
	case "tool_use":
		return canonical.FinishToolCalls
	case "refusal":
		return canonical.FinishContentFilter
	default:
		return canonical.FinishStop
	}
}

func messagesStopReason(r canonical.FinishReason) string {
	switch r {
	case canonical.FinishLength:
		return "max_tokens"
	case canonical.FinishToolCalls:
		return "tool_use"
	case canonical.FinishContentFilter:
		return "refusal"
	default:
		return "end_turn"
	}
}

func geminiFinish(reason string) canonical.FinishReason {
	switch reason {
	case "", "FINISH_REASON_UNSPECIFIED":
		return ""
	case "STOP":
		return canonical.FinishStop
	case "MAX_TOKENS":
		return canonical.FinishLength
	case "SAFETY", "RECITATION", "BLOCKLIST", "PROHIBITED_CONTENT", "SPII", "IMAGE_SAFETY":
		return canonical.FinishContentFilter
	case "MALFORMED_FUNCTION_CALL", "OTHER", "LANGUAGE":
		return canonical.FinishError
	default:
		return canonical.FinishStop
	}
}

func geminiFinishReason(r canonical.FinishReason) string {
	switch r {
	case canonical.FinishLength:
		return "MAX_TOKENS"
	case canonical.FinishContentFilter:
		return "SAFETY"
	case canonical.FinishError:
		return "OTHER"
	case "":
		return ""
	default:
		return "STOP"
	}
}

// toolChoiceToMessages converts the chat-completions tool_choice vocabulary
// to the messages one.
func toolChoiceToMessages(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return nil
	}

	v := gjson.ParseBytes(raw)

	switch {
	case v.Type == gjson.String && v.String() == "required":
		return json.RawMessage(`{"type":"any"}`)
	case v.Type == gjson.String && v.String() == "none":
		return json.RawMessage(`{"type":"none"}`)
	case v.Type == gjson.String:
		return json.RawMessage(`{"type":"auto"}`)
	case v.Get("function.name").Exists():
		out, _ := json.Marshal(map[string]string{"type": "tool", "name": v.Get("function.name").String()})
		return out
	default:
		return nil
	}
}

func toolChoiceFromMessages(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return nil
	}

	v := gjson.ParseBytes(raw)

	switch v.Get("type").String() {
	case "any":
		return json.RawMessage(`"required"`)
	case "none":
		return json.RawMessage(`"none"`)
	case "tool":
		return namedToolChoice(v.Get("name").String())
	default:
		return json.RawMessage(`"auto"`)
	}
}

func namedToolChoice(name string) json.RawMessage {
	out, _ := json.Marshal(map[string]any{
		"type":     "function",
		"function": map[string]string{"name": name},
	})

	return out
}
