package providers

import (
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/mihaisavezi/hermesllm/internal/canonical"
)

func intPtr(n int) *int { return &n }

func floatPtr(f float64) *float64 { return &f }

func int64Ptr(n int64) *int64 { return &n }

func TestChatCompletions_ParseRequest_SingleUserMessage(t *testing.T) {
	body := `{"model":"gpt-4o","messages":[{"role":"user","content":"hi"}]}`

	req, err := ParseRequest(OpenAI, ChatCompletions, []byte(body))
	require.NoError(t, err)

	assert.Equal(t, "gpt-4o", req.Model)
	assert.False(t, req.Stream)
	require.Len(t, req.Messages, 1)
	assert.Equal(t, canonical.RoleUser, req.Messages[0].Role)
	assert.Equal(t, "hi", req.Messages[0].Text())
	assert.Nil(t, req.Params.MaxTokens)
	assert.Nil(t, req.Params.Temperature)
}

func TestChatCompletions_ParseRequest_Errors(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		kind  error
		field string
	}{
		{
			name:  "missing model",
			body:  `{"messages":[{"role":"user","content":"hi"}]}`,
			kind:  canonical.ErrMissingRequiredField,
			field: "model",
		},
		{
			name:  "missing messages",
			body:  `{"model":"gpt-4o"}`,
			kind:  canonical.ErrMissingRequiredField,
			field: "messages",
		},
		{
			name: "truncated body",
			body: `{"model":"gpt-4o","messages":[`,
			kind: canonical.ErrMalformedInput,
		},
		{
			name: "stop of wrong type",
			body: `{"model":"gpt-4o","messages":[],"stop":42}`,
			kind: canonical.ErrMalformedInput,
		},
		{
			name:  "image part without url",
			body:  `{"model":"gpt-4o","messages":[{"role":"user","content":[{"type":"image_url"}]}]}`,
			kind:  canonical.ErrMissingRequiredField,
			field: "image_url",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := ParseRequest(OpenAI, ChatCompletions, []byte(tt.body))
			require.Error(t, err)
			assert.Nil(t, req)
			assert.ErrorIs(t, err, tt.kind)
			assert.Equal(t, http.StatusBadRequest, canonical.HTTPStatus(err))

			var e *canonical.Error
			require.True(t, errors.As(err, &e))
			assert.Equal(t, "openai", e.Provider)
			assert.Equal(t, "chat_completions", e.API)

			if tt.field != "" {
				assert.Equal(t, tt.field, e.Field)
			}
		})
	}
}

func TestChatCompletions_ParseRequest_ModelOption(t *testing.T) {
	body := `{"messages":[{"role":"user","content":"hi"}]}`

	req, err := ParseRequest(OpenAI, ChatCompletions, []byte(body), WithModel("gpt-4o-mini"))
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", req.Model)

	req, err = ParseRequest(OpenAI, ChatCompletions, []byte(`{"model":"gpt-4o","messages":[]}`), WithModel("ignored"))
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", req.Model)
	assert.Empty(t, req.Messages)
}

func TestChatCompletions_RoleNormalization(t *testing.T) {
	body := []byte(`{"model":"m","messages":[{"role":"developer","content":"be brief"},{"role":"user","content":"hi"}]}`)

	req, err := ParseRequest(OpenAI, ChatCompletions, body)
	require.NoError(t, err)
	assert.Equal(t, canonical.RoleSystem, req.Messages[0].Role)

	req, err = ParseRequest(OpenRouter, ChatCompletions, body)
	require.NoError(t, err)
	assert.Equal(t, canonical.RoleSystem, req.Messages[0].Role)

	_, err = ParseRequest(Mistral, ChatCompletions, body)
	require.Error(t, err)
	assert.ErrorIs(t, err, canonical.ErrUnmappableRole)

	var e *canonical.Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, "developer", e.Role)
	assert.Equal(t, "mistral", e.Provider)

	legacy := []byte(`{"model":"m","messages":[{"role":"function","name":"lookup","content":"42"}]}`)

	req, err = ParseRequest(Groq, ChatCompletions, legacy)
	require.NoError(t, err)
	assert.Equal(t, canonical.RoleTool, req.Messages[0].Role)
	assert.Equal(t, "lookup", req.Messages[0].Name)
}

func TestChatCompletions_ParseRequest_ContentParts(t *testing.T) {
	body := `{
		"model": "gpt-4o",
		"stream": true,
		"max_completion_tokens": 256,
		"stop": "END",
		"messages": [{
			"role": "user",
			"content": [
				{"type": "text", "text": "what is this?"},
				{"type": "image_url", "image_url": {"url": "data:image/png;base64,iVBORw0KGgo="}},
				{"type": "image_url", "image_url": {"url": "https://example.com/cat.jpg"}}
			]
		}, {
			"role": "assistant",
			"tool_calls": [{"id": "call_1", "type": "function", "function": {"name": "lookup", "arguments": "{\"q\":\"cat\"}"}}]
		}]
	}`

	req, err := ParseRequest(OpenAI, ChatCompletions, []byte(body))
	require.NoError(t, err)

	assert.True(t, req.Stream)
	assert.Equal(t, intPtr(256), req.Params.MaxTokens)
	assert.Equal(t, []string{"END"}, req.Params.Stop)

	parts := req.Messages[0].Parts
	require.Len(t, parts, 3)
	assert.Equal(t, canonical.Part{Type: canonical.PartText, Text: "what is this?"}, parts[0])
	assert.Equal(t, &canonical.Image{MediaType: "image/png", Data: "iVBORw0KGgo="}, parts[1].Image)
	assert.Equal(t, &canonical.Image{URL: "https://example.com/cat.jpg"}, parts[2].Image)

	calls := req.Messages[1].ToolCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, canonical.ToolCall{ID: "call_1", Name: "lookup", Arguments: `{"q":"cat"}`}, calls[0])
}

func TestChatCompletions_ObjectArguments(t *testing.T) {
	body := `{"model":"m","messages":[{"role":"assistant","tool_calls":[{"id":"c","function":{"name":"f","arguments":{"a":1}}}]}]}`

	req, err := ParseRequest(Groq, ChatCompletions, []byte(body))
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, req.Messages[0].ToolCalls()[0].Arguments)
}

func chatRoundTripRequest() *canonical.Request {
	return &canonical.Request{
		Model: "test-model",
		Messages: []canonical.Message{
			canonical.TextMessage(canonical.RoleSystem, "You are terse."),
			canonical.TextMessage(canonical.RoleUser, "Weather in Paris?"),
			{
				Role: canonical.RoleAssistant,
				Parts: []canonical.Part{{
					Type:     canonical.PartToolCall,
					ToolCall: &canonical.ToolCall{ID: "call_1", Name: "get_weather", Arguments: `{"city":"Paris"}`},
				}},
			},
			{
				Role:       canonical.RoleTool,
				ToolCallID: "call_1",
				Parts:      []canonical.Part{{Type: canonical.PartText, Text: "sunny"}},
			},
		},
		Params: canonical.Params{
			MaxTokens:   intPtr(100),
			Temperature: floatPtr(0.2),
			TopP:        floatPtr(0.9),
			Stop:        []string{"END"},
			Seed:        int64Ptr(7),
		},
		Tools: []canonical.Tool{{
			Name:        "get_weather",
			Description: "Current weather",
			Parameters:  json.RawMessage(`{"type":"object","properties":{"city":{"type":"string"}}}`),
		}},
		ToolChoice: json.RawMessage(`"auto"`),
	}
}

func TestChatCompletions_RoundTrip_AllProviders(t *testing.T) {
	for _, id := range All() {
		t.Run(id.String(), func(t *testing.T) {
			original := chatRoundTripRequest()

			enc, err := SerializeRequest(id, ChatCompletions, original)
			require.NoError(t, err)
			assert.Empty(t, enc.Downgrades)

			c, err := Lookup(id, ChatCompletions)
			require.NoError(t, err)
			assert.Equal(t, c.ResolvePath(original.Model, original.Stream), enc.Path)

			parsed, err := ParseRequest(id, ChatCompletions, enc.Body)
			require.NoError(t, err)
			assert.Equal(t, original, parsed)
		})
	}
}

func TestChatCompletions_SerializeRequest_Dialects(t *testing.T) {
	req := &canonical.Request{
		Model:    "m",
		Stream:   true,
		Messages: []canonical.Message{canonical.TextMessage(canonical.RoleUser, "hi")},
		Params:   canonical.Params{Seed: int64Ptr(42)},
	}

	enc, err := SerializeRequest(Mistral, ChatCompletions, req)
	require.NoError(t, err)
	assert.Equal(t, int64(42), gjson.GetBytes(enc.Body, "random_seed").Int())
	assert.False(t, gjson.GetBytes(enc.Body, "seed").Exists())
	assert.False(t, gjson.GetBytes(enc.Body, "stream_options").Exists())

	enc, err = SerializeRequest(OpenAI, ChatCompletions, req)
	require.NoError(t, err)
	assert.Equal(t, int64(42), gjson.GetBytes(enc.Body, "seed").Int())
	assert.True(t, gjson.GetBytes(enc.Body, "stream_options.include_usage").Bool())
	assert.Equal(t, "hi", gjson.GetBytes(enc.Body, "messages.0.content").String())
}

func TestChatCompletions_SerializeRequest_MissingModel(t *testing.T) {
	req := &canonical.Request{Messages: []canonical.Message{canonical.TextMessage(canonical.RoleUser, "hi")}}

	enc, err := SerializeRequest(OpenAI, ChatCompletions, req)
	assert.Nil(t, enc)
	assert.ErrorIs(t, err, canonical.ErrMissingRequiredField)

	enc, err = SerializeRequest(OpenAI, ChatCompletions, nil)
	assert.Nil(t, enc)
	assert.ErrorIs(t, err, canonical.ErrMalformedInput)
}

func TestChatCompletions_ThinkingOmittedFromRequests(t *testing.T) {
	req := &canonical.Request{
		Model: "deepseek-reasoner",
		Messages: []canonical.Message{
			canonical.TextMessage(canonical.RoleUser, "2+2?"),
			{
				Role: canonical.RoleAssistant,
				Parts: []canonical.Part{
					{Type: canonical.PartThinking, Text: "simple sum"},
					{Type: canonical.PartText, Text: "4"},
				},
			},
		},
	}

	enc, err := SerializeRequest(Deepseek, ChatCompletions, req)
	require.NoError(t, err)

	require.Len(t, enc.Downgrades, 1)
	assert.Equal(t, Downgrade{
		Message: 1,
		Part:    0,
		From:    canonical.PartThinking,
		Reason:  "reasoning is not accepted as input",
	}, enc.Downgrades[0])
	assert.False(t, gjson.GetBytes(enc.Body, "messages.1.reasoning_content").Exists())
	assert.Equal(t, "4", gjson.GetBytes(enc.Body, "messages.1.content").String())
}

func TestChatCompletions_ParseResponse(t *testing.T) {
	body := `{
		"id": "chatcmpl-1",
		"object": "chat.completion",
		"model": "gpt-4o",
		"choices": [{
			"index": 0,
			"message": {
				"role": "assistant",
				"content": null,
				"tool_calls": [{"id": "call_9", "type": "function", "function": {"name": "lookup", "arguments": "{}"}}]
			},
			"finish_reason": "tool_calls"
		}],
		"usage": {"prompt_tokens": 12, "completion_tokens": 34, "total_tokens": 46}
	}`

	resp, err := ParseResponse(OpenAI, ChatCompletions, []byte(body))
	require.NoError(t, err)

	assert.Equal(t, "chatcmpl-1", resp.ID)
	assert.Equal(t, "gpt-4o", resp.Model)
	require.Len(t, resp.Choices, 1)
	assert.Equal(t, canonical.FinishToolCalls, resp.Choices[0].FinishReason)
	assert.Equal(t, "lookup", resp.Choices[0].Message.ToolCalls()[0].Name)

	usage, ok := ExtractUsage(resp)
	require.True(t, ok)
	assert.Equal(t, canonical.Usage{PromptTokens: 12, CompletionTokens: 34, TotalTokens: 46}, usage)
}

func TestChatCompletions_ParseResponse_Errors(t *testing.T) {
	_, err := ParseResponse(OpenAI, ChatCompletions, []byte(`{"id":"x"}`))
	assert.ErrorIs(t, err, canonical.ErrMissingRequiredField)

	_, err = ParseResponse(OpenAI, ChatCompletions, []byte(`{"choices":[{"index":0}]}`))
	assert.ErrorIs(t, err, canonical.ErrMissingRequiredField)

	_, err = ParseResponse(OpenAI, ChatCompletions, []byte(`<html>`))
	assert.ErrorIs(t, err, canonical.ErrMalformedInput)

	_, err = ParseResponse(OpenAI, ChatCompletions,
		[]byte(`{"error":{"message":"Incorrect API key","type":"invalid_request_error"}}`))
	require.ErrorIs(t, err, canonical.ErrUpstream)
	assert.Equal(t, http.StatusBadGateway, canonical.HTTPStatus(err))

	var e *canonical.Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, "invalid_request_error", e.Type)
	assert.Equal(t, "Incorrect API key", e.Message)
}

func TestChatCompletions_DialectFinishReasons(t *testing.T) {
	body := []byte(`{"model":"m","choices":[{"index":0,"message":{"content":"cut"},"finish_reason":"model_length"}]}`)

	resp, err := ParseResponse(Mistral, ChatCompletions, body)
	require.NoError(t, err)
	assert.Equal(t, canonical.FinishLength, resp.Choices[0].FinishReason)
	assert.Equal(t, canonical.RoleAssistant, resp.Choices[0].Message.Role)

	_, ok := ExtractUsage(resp)
	assert.False(t, ok, "absent usage is not zero usage")

	body = []byte(`{"model":"m","choices":[{"index":0,"message":{"content":""},"finish_reason":"insufficient_system_resource"}]}`)

	resp, err = ParseResponse(Deepseek, ChatCompletions, body)
	require.NoError(t, err)
	assert.Equal(t, canonical.FinishError, resp.Choices[0].FinishReason)

	resp, err = ParseResponse(OpenAI, ChatCompletions, body)
	require.NoError(t, err)
	assert.Equal(t, canonical.FinishStop, resp.Choices[0].FinishReason)
}

func TestChatCompletions_ReasoningResponse(t *testing.T) {
	body := []byte(`{"model":"deepseek-reasoner","choices":[{"index":0,"message":{"role":"assistant","reasoning_content":"think","content":"4"},"finish_reason":"stop"}]}`)

	resp, err := ParseResponse(Deepseek, ChatCompletions, body)
	require.NoError(t, err)

	parts := resp.Choices[0].Message.Parts
	require.Len(t, parts, 2)
	assert.Equal(t, canonical.Part{Type: canonical.PartThinking, Text: "think"}, parts[0])
	assert.Equal(t, "4", resp.Choices[0].Message.Text())

	out, err := SerializeResponse(Deepseek, ChatCompletions, resp)
	require.NoError(t, err)
	assert.Equal(t, "think", gjson.GetBytes(out, "choices.0.message.reasoning_content").String())
	assert.Equal(t, "chat.completion", gjson.GetBytes(out, "object").String())
	assert.Equal(t, "stop", gjson.GetBytes(out, "choices.0.finish_reason").String())

	// OpenAI carries no reasoning field; the thinking part is dropped there.
	resp, err = ParseResponse(OpenAI, ChatCompletions, body)
	require.NoError(t, err)
	assert.Len(t, resp.Choices[0].Message.Parts, 1)
}

func TestChatCompletions_ResponseRoundTrip(t *testing.T) {
	original := &canonical.Response{
		ID:    "chatcmpl-7",
		Model: "gpt-4o",
		Choices: []canonical.Choice{{
			Message:      canonical.TextMessage(canonical.RoleAssistant, "Hello!"),
			FinishReason: canonical.FinishStop,
		}},
		Usage: &canonical.Usage{PromptTokens: 12, CompletionTokens: 34, TotalTokens: 46, CachedTokens: 10},
	}

	out, err := SerializeResponse(OpenAI, ChatCompletions, original)
	require.NoError(t, err)
	assert.Equal(t, int64(10), gjson.GetBytes(out, "usage.prompt_tokens_details.cached_tokens").Int())

	parsed, err := ParseResponse(OpenAI, ChatCompletions, out)
	require.NoError(t, err)
	assert.Equal(t, original, parsed)
}
