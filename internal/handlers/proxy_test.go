package handlers

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/mihaisavezi/hermesllm/internal/canonical"
	"github.com/mihaisavezi/hermesllm/internal/config"
	"github.com/mihaisavezi/hermesllm/internal/providers"
	"github.com/mihaisavezi/hermesllm/internal/sse"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestManager(t *testing.T, yamlConfig string) *config.Manager {
	t.Helper()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, config.DefaultYAMLFilename), []byte(yamlConfig), 0644))

	mgr := config.NewManager(dir)
	_, err := mgr.Load()
	require.NoError(t, err)

	return mgr
}

func newTestHandler(t *testing.T, yamlConfig string) *ProxyHandler {
	t.Helper()

	h := NewProxyHandler(newTestManager(t, yamlConfig), testLogger())
	h.tokens = func(text string) int { return len(strings.Fields(text)) }

	return h
}

func post(h http.Handler, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer proxy-key")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	return rec
}

// decodeStream reads a whole SSE body in the wire format of (id, api).
func decodeStream(t *testing.T, id providers.ProviderID, api providers.API, body []byte) ([]*canonical.StreamChunk, *providers.Stream) {
	t.Helper()

	s, err := providers.OpenStream(id, api)
	require.NoError(t, err)

	_, err = s.Write(body)
	require.NoError(t, err)
	s.Close()

	var chunks []*canonical.StreamChunk

	for {
		chunk, err := s.Next()
		if errors.Is(err, io.EOF) {
			return chunks, s
		}

		require.NoError(t, err)

		chunks = append(chunks, chunk)
	}
}

const chatCompletionBody = `{"id":"chatcmpl-1","object":"chat.completion","model":"gpt-4o","choices":[{"index":0,"message":{"role":"assistant","content":"Hi there"},"finish_reason":"stop"}],"usage":{"prompt_tokens":12,"completion_tokens":34,"total_tokens":46}}`

func TestProxy_PassThroughRewritesOnlyModel(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-upstream", r.Header.Get("Authorization"))

		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "gpt-4o", gjson.GetBytes(body, "model").String())
		assert.Equal(t, "u-1", gjson.GetBytes(body, "user").String(), "unknown fields survive")

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Request-Id", "req_1")
		_, _ = w.Write([]byte(chatCompletionBody))
	}))
	defer upstream.Close()

	h := newTestHandler(t, fmt.Sprintf(`
providers:
  - name: openai
    api_key: sk-upstream
    url: %s
`, upstream.URL))

	rec := post(h, "/v1/chat/completions", `{"model":"openai,gpt-4o","user":"u-1","messages":[{"role":"user","content":"Hi"}]}`)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, chatCompletionBody, rec.Body.String())
	assert.Equal(t, "req_1", rec.Header().Get("X-Request-Id"))
}

func TestProxy_TranslatesChatToMessages(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "sk-ant", r.Header.Get("X-Api-Key"))
		assert.Equal(t, "2023-06-01", r.Header.Get("Anthropic-Version"))
		assert.Empty(t, r.Header.Get("Authorization"), "the proxy key is not forwarded")

		body, _ := io.ReadAll(r.Body)

		req, err := providers.ParseRequest(providers.Anthropic, providers.Messages, body)
		if assert.NoError(t, err) {
			assert.Equal(t, "claude-sonnet-4-5", req.Model)
			assert.Equal(t, canonical.RoleSystem, req.Messages[0].Role)
			assert.Equal(t, "Be brief", req.Messages[0].Text())
			assert.Equal(t, "Hi", req.Messages[1].Text())
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"msg_1","type":"message","role":"assistant","model":"claude-sonnet-4-5","content":[{"type":"text","text":"Hi there"}],"stop_reason":"end_turn","usage":{"input_tokens":12,"output_tokens":34}}`))
	}))
	defer upstream.Close()

	h := newTestHandler(t, fmt.Sprintf(`
providers:
  - name: anthropic
    api_key: sk-ant
    url: %s
    api: messages
`, upstream.URL))

	rec := post(h, "/v1/chat/completions", `{"model":"claude-sonnet-4-5","messages":[{"role":"system","content":"Be brief"},{"role":"user","content":"Hi"}]}`)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	out := rec.Body.Bytes()
	assert.Equal(t, "chat.completion", gjson.GetBytes(out, "object").String())
	assert.Equal(t, "Hi there", gjson.GetBytes(out, "choices.0.message.content").String())
	assert.Equal(t, "stop", gjson.GetBytes(out, "choices.0.finish_reason").String())
	assert.Equal(t, int64(46), gjson.GetBytes(out, "usage.total_tokens").Int())
}

func TestProxy_StreamsGeminiToMessagesClient(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1beta/models/gemini-2.0-flash:streamGenerateContent", r.URL.Path)
		assert.Equal(t, "sse", r.URL.Query().Get("alt"))
		assert.Equal(t, "g-key", r.Header.Get("X-Goog-Api-Key"))

		body, _ := io.ReadAll(r.Body)

		req, err := providers.ParseRequest(providers.Gemini, providers.GenerateContent, body, providers.WithModel("gemini-2.0-flash"))
		if assert.NoError(t, err) {
			last, ok := req.LastUserMessage()
			assert.True(t, ok)
			assert.Equal(t, "Hi", last)
		}

		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte(`data: {"candidates":[{"content":{"role":"model","parts":[{"text":"Bon"}]},"index":0}],"modelVersion":"gemini-2.0-flash","responseId":"r1"}` + "\r\n\r\n"))
		w.(http.Flusher).Flush()
		_, _ = w.Write([]byte(`data: {"candidates":[{"content":{"role":"model","parts":[{"text":"jour"}]},"finishReason":"STOP","index":0}],"usageMetadata":{"promptTokenCount":12,"candidatesTokenCount":34,"totalTokenCount":46},"modelVersion":"gemini-2.0-flash","responseId":"r1"}` + "\r\n\r\n"))
	}))
	defer upstream.Close()

	h := newTestHandler(t, fmt.Sprintf(`
providers:
  - name: gemini
    api_key: g-key
    url: %s
    api: generate_content
`, upstream.URL))

	rec := post(h, "/v1/messages", `{"model":"gemini,gemini-2.0-flash","max_tokens":64,"stream":true,"messages":[{"role":"user","content":"Hi"}]}`)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	chunks, s := decodeStream(t, providers.Anthropic, providers.Messages, rec.Body.Bytes())
	assert.Equal(t, providers.StreamTerminated, s.State())
	require.NotEmpty(t, chunks)

	var text strings.Builder

	var usage *canonical.Usage

	for _, c := range chunks {
		text.WriteString(c.Delta)

		if c.Usage != nil {
			usage = c.Usage
		}
	}

	assert.Equal(t, "Bonjour", text.String())
	assert.Equal(t, canonical.FinishStop, chunks[len(chunks)-1].FinishReason)
	require.NotNil(t, usage)
	assert.Equal(t, 46, usage.TotalTokens)
}

func TestProxy_StreamPassThrough(t *testing.T) {
	stream := "data: {\"id\":\"c1\",\"model\":\"gpt-4o\",\"choices\":[{\"index\":0,\"delta\":{\"content\":\"Hel\"}}]}\n\n" +
		": keep-alive\n\n" +
		"data: {\"id\":\"c1\",\"model\":\"gpt-4o\",\"choices\":[{\"index\":0,\"delta\":{\"content\":\"lo\"}}]}\n\n" +
		"data: [DONE]\n\n"

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.True(t, gjson.GetBytes(body, "stream").Bool())

		w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
		_, _ = w.Write([]byte(stream))
	}))
	defer upstream.Close()

	h := newTestHandler(t, fmt.Sprintf(`
providers:
  - name: openai
    url: %s
`, upstream.URL))

	rec := post(h, "/v1/chat/completions", `{"model":"gpt-4o","stream":true,"messages":[{"role":"user","content":"Hi"}]}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, stream, rec.Body.String(), "pass-through streams are relayed byte for byte")
}

func TestProxy_StreamEndsAbnormally(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte(
			"event: message_start\n" + `data: {"type":"message_start","message":{"id":"msg_1","type":"message","role":"assistant","model":"claude-sonnet-4-5","content":[],"usage":{"input_tokens":3,"output_tokens":1}}}` + "\n\n" +
				"event: content_block_start\n" + `data: {"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}` + "\n\n" +
				"event: content_block_delta\n" + `data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hel"}}` + "\n\n",
		))
	}))
	defer upstream.Close()

	h := newTestHandler(t, fmt.Sprintf(`
providers:
  - name: anthropic
    url: %s
    api: messages
`, upstream.URL))

	rec := post(h, "/v1/chat/completions", `{"model":"anthropic,claude-sonnet-4-5","stream":true,"messages":[{"role":"user","content":"Hi"}]}`)

	require.Equal(t, http.StatusOK, rec.Code)

	out := rec.Body.String()
	assert.Contains(t, out, `"content":"Hel"`)
	assert.Contains(t, out, `"error"`)
	assert.NotContains(t, out, sse.Done, "a cut-off stream must not look complete")
}

func TestProxy_UpstreamErrors(t *testing.T) {
	testCases := []struct {
		name     string
		provider string
		api      string
		model    string
		status   int
		body     string
		check    func(t *testing.T, rec *httptest.ResponseRecorder)
	}{
		{
			name:     "translated error envelope",
			provider: "anthropic",
			api:      "messages",
			model:    "anthropic,claude-sonnet-4-5",
			status:   http.StatusTooManyRequests,
			body:     `{"type":"error","error":{"type":"rate_limit_error","message":"slow down"}}`,
			check: func(t *testing.T, rec *httptest.ResponseRecorder) {
				assert.JSONEq(t, `{"error":{"message":"slow down","type":"rate_limit_error"}}`, rec.Body.String())
			},
		},
		{
			name:     "translated non-JSON failure",
			provider: "anthropic",
			api:      "messages",
			model:    "anthropic,claude-sonnet-4-5",
			status:   http.StatusServiceUnavailable,
			body:     `<html>down</html>`,
			check: func(t *testing.T, rec *httptest.ResponseRecorder) {
				out := rec.Body.Bytes()
				assert.Equal(t, "upstream_error", gjson.GetBytes(out, "error.type").String())
				assert.Contains(t, gjson.GetBytes(out, "error.message").String(), "503 Service Unavailable")
				assert.Contains(t, gjson.GetBytes(out, "error.message").String(), "<html>down</html>")
			},
		},
		{
			name:     "pass-through error forwarded as is",
			provider: "openai",
			api:      "chat_completions",
			model:    "openai,gpt-4o",
			status:   http.StatusBadRequest,
			body:     `{"error":{"type":"invalid_request_error","message":"Invalid model specified"}}`,
			check: func(t *testing.T, rec *httptest.ResponseRecorder) {
				assert.Equal(t, `{"error":{"type":"invalid_request_error","message":"Invalid model specified"}}`, rec.Body.String())
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer upstream.Close()

			h := newTestHandler(t, fmt.Sprintf(`
providers:
  - name: %s
    url: %s
    api: %s
`, tc.provider, upstream.URL, tc.api))

			rec := post(h, "/v1/chat/completions", fmt.Sprintf(`{"model":%q,"messages":[{"role":"user","content":"Hi"}]}`, tc.model))

			assert.Equal(t, tc.status, rec.Code, "status code should be preserved")
			tc.check(t, rec)
		})
	}
}

func TestProxy_DecompressesUpstreamBodies(t *testing.T) {
	compressors := map[string]func(w io.Writer) io.WriteCloser{
		"gzip": func(w io.Writer) io.WriteCloser { return gzip.NewWriter(w) },
		"br":   func(w io.Writer) io.WriteCloser { return brotli.NewWriter(w) },
	}

	for encoding, newWriter := range compressors {
		t.Run(encoding, func(t *testing.T) {
			var compressed bytes.Buffer

			zw := newWriter(&compressed)
			_, err := zw.Write([]byte(chatCompletionBody))
			require.NoError(t, err)
			require.NoError(t, zw.Close())

			upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Contains(t, r.Header.Get("Accept-Encoding"), encoding)

				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Content-Encoding", encoding)
				_, _ = w.Write(compressed.Bytes())
			}))
			defer upstream.Close()

			h := newTestHandler(t, fmt.Sprintf(`
providers:
  - name: openai
    url: %s
`, upstream.URL))

			rec := post(h, "/v1/chat/completions", `{"model":"gpt-4o","messages":[{"role":"user","content":"Hi"}]}`)

			require.Equal(t, http.StatusOK, rec.Code)
			assert.Empty(t, rec.Header().Get("Content-Encoding"))
			assert.JSONEq(t, chatCompletionBody, rec.Body.String())
		})
	}
}

func TestProxy_ClientErrors(t *testing.T) {
	h := newTestHandler(t, `
providers:
  - name: openai
    url: http://127.0.0.1:1
`)

	testCases := []struct {
		name   string
		path   string
		body   string
		status int
		want   map[string]string
	}{
		{
			name:   "missing model",
			path:   "/v1/chat/completions",
			body:   `{"messages":[{"role":"user","content":"Hi"}]}`,
			status: http.StatusBadRequest,
			want:   map[string]string{"error.type": "invalid_request_error"},
		},
		{
			name:   "malformed messages body",
			path:   "/v1/messages",
			body:   `not json`,
			status: http.StatusBadRequest,
			want:   map[string]string{"type": "error", "error.type": "invalid_request_error"},
		},
		{
			name:   "unmappable gemini role",
			path:   "/v1beta/models/gemini-2.0-flash:generateContent",
			body:   `{"contents":[{"role":"narrator","parts":[{"text":"x"}]}]}`,
			status: http.StatusBadRequest,
			want:   map[string]string{"error.status": "INVALID_ARGUMENT", "error.code": "400"},
		},
		{
			name:   "provider not configured",
			path:   "/v1/chat/completions",
			body:   `{"model":"mistral,mistral-large-latest","messages":[{"role":"user","content":"Hi"}]}`,
			status: http.StatusNotFound,
			want:   map[string]string{"error.type": "not_found_error"},
		},
		{
			name:   "no route for bare model",
			path:   "/v1/chat/completions",
			body:   `{"model":"mystery-model","messages":[{"role":"user","content":"Hi"}]}`,
			status: http.StatusNotFound,
			want:   map[string]string{"error.type": "not_found_error"},
		},
		{
			name:   "upstream unreachable",
			path:   "/v1/chat/completions",
			body:   `{"model":"gpt-4o","messages":[{"role":"user","content":"Hi"}]}`,
			status: http.StatusBadGateway,
			want:   map[string]string{"error.type": "api_error"},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rec := post(h, tc.path, tc.body)

			assert.Equal(t, tc.status, rec.Code, rec.Body.String())
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

			for path, want := range tc.want {
				assert.Equal(t, want, gjson.Get(rec.Body.String(), path).String(), path)
			}
		})
	}
}

func TestProxy_MethodAndPath(t *testing.T) {
	h := newTestHandler(t, `
providers:
  - name: openai
`)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/chat/completions", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, http.MethodPost, rec.Header().Get("Allow"))

	rec = post(h, "/v1/embeddings", `{}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestResolveRoute(t *testing.T) {
	cfg := &config.Config{
		Providers: []config.Provider{
			{Name: "anthropic", DefaultModels: []string{"claude-sonnet-4-5"}},
			{Name: "openrouter", ModelWhitelist: []string{"claude"}},
			{Name: "gemini", API: "generate_content"},
			{Name: "groq", DefaultModels: []string{"llama-3.3-70b-versatile"}},
		},
		Router: config.RouterConfig{Default: "groq,llama-3.3-70b-versatile"},
	}

	testCases := []struct {
		name      string
		clientAPI providers.API
		model     string
		wantID    providers.ProviderID
		wantAPI   providers.API
		wantModel string
	}{
		{"explicit provider", providers.ChatCompletions, "openrouter,anthropic/claude-sonnet-4", providers.OpenRouter, providers.ChatCompletions, "anthropic/claude-sonnet-4"},
		{"bare model on native surface", providers.Messages, "claude-sonnet-4-5", providers.Anthropic, providers.Messages, "claude-sonnet-4-5"},
		{"bare model from chat client", providers.ChatCompletions, "claude-sonnet-4-5", providers.Anthropic, providers.ChatCompletions, "claude-sonnet-4-5"},
		{"unknown model uses default", providers.ChatCompletions, "mystery", providers.Groq, providers.ChatCompletions, "llama-3.3-70b-versatile"},
		{"pinned surface", providers.ChatCompletions, "gemini,gemini-2.5-pro", providers.Gemini, providers.GenerateContent, "gemini-2.5-pro"},
		{"fallback to chat completions", providers.GenerateContent, "groq,llama-3.1-8b-instant", providers.Groq, providers.ChatCompletions, "llama-3.1-8b-instant"},
		{"provider alias", providers.Messages, "claude,claude-opus-4-1", providers.Anthropic, providers.Messages, "claude-opus-4-1"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rt, err := resolveRoute(cfg, tc.clientAPI, tc.model)
			require.NoError(t, err)
			assert.Equal(t, tc.wantID, rt.id)
			assert.Equal(t, tc.wantAPI, rt.api)
			assert.Equal(t, tc.wantModel, rt.model)
		})
	}
}

func TestResolveRoute_Errors(t *testing.T) {
	cfg := &config.Config{
		Providers: []config.Provider{
			{Name: "openrouter", ModelWhitelist: []string{"claude"}},
			{Name: "groq", API: "messages"},
		},
	}

	_, err := resolveRoute(cfg, providers.ChatCompletions, "openrouter,openai/gpt-4o")
	assert.ErrorIs(t, err, canonical.ErrUnsupportedProvider)
	assert.Contains(t, err.Error(), "not allowed")

	_, err = resolveRoute(cfg, providers.ChatCompletions, "mystery")
	assert.ErrorIs(t, err, canonical.ErrUnsupportedProvider)
	assert.Contains(t, err.Error(), "no route")

	_, err = resolveRoute(cfg, providers.ChatCompletions, "groq,llama-3.1-8b-instant")
	assert.ErrorIs(t, err, canonical.ErrUnsupportedSurface)
}

func TestUpstreamHeaders(t *testing.T) {
	in := http.Header{}
	in.Set("Authorization", "Bearer proxy-key")
	in.Set("X-Api-Key", "proxy-key")
	in.Set("Content-Length", "99")
	in.Set("Accept-Encoding", "identity")
	in.Set("Anthropic-Beta", "tools-2024-04-04")

	chat := upstreamHeaders(in, providers.OpenAI, providers.ChatCompletions, "sk-1")
	assert.Equal(t, "Bearer sk-1", chat.Get("Authorization"))
	assert.Empty(t, chat.Get("X-Api-Key"))
	assert.Empty(t, chat.Get("Content-Length"))
	assert.Equal(t, "gzip, br", chat.Get("Accept-Encoding"))
	assert.Empty(t, chat.Get("Anthropic-Version"))

	msgs := upstreamHeaders(in, providers.Anthropic, providers.Messages, "sk-2")
	assert.Equal(t, "sk-2", msgs.Get("X-Api-Key"))
	assert.Empty(t, msgs.Get("Authorization"))
	assert.Equal(t, "2023-06-01", msgs.Get("Anthropic-Version"))
	assert.Equal(t, "tools-2024-04-04", msgs.Get("Anthropic-Beta"))

	gen := upstreamHeaders(in, providers.Gemini, providers.GenerateContent, "g-1")
	assert.Equal(t, "g-1", gen.Get("X-Goog-Api-Key"))

	azure := upstreamHeaders(in, providers.AzureOpenAI, providers.ChatCompletions, "az-1")
	assert.Equal(t, "az-1", azure.Get("Api-Key"))
	assert.Empty(t, azure.Get("Authorization"))

	anon := upstreamHeaders(nil, providers.OpenAI, providers.ChatCompletions, "")
	assert.Empty(t, anon.Get("Authorization"))
	assert.Equal(t, "application/json", anon.Get("Content-Type"))

	assert.Equal(t, "Bearer proxy-key", in.Get("Authorization"), "the client headers are not modified")
}

func TestIsStreaming(t *testing.T) {
	testCases := []struct {
		contentType string
		want        bool
	}{
		{"text/event-stream", true},
		{"text/event-stream; charset=utf-8", true},
		{"TEXT/EVENT-STREAM", true},
		{"application/json", false},
		{"", false},
	}

	for _, tc := range testCases {
		h := http.Header{}
		h.Set("Content-Type", tc.contentType)
		assert.Equal(t, tc.want, IsStreaming(h), tc.contentType)
	}
}

func TestErrorEnvelope(t *testing.T) {
	frameErr := &canonical.Error{
		Kind: canonical.KindStreamFrameError,
		Err:  canonical.Upstream("overloaded_error", "Overloaded"),
	}

	chat, err := json.Marshal(errorEnvelope(providers.ChatCompletions, http.StatusBadGateway, frameErr))
	require.NoError(t, err)
	assert.JSONEq(t, `{"error":{"message":"Overloaded","type":"overloaded_error"}}`, string(chat))

	msgs, err := json.Marshal(errorEnvelope(providers.Messages, http.StatusBadRequest, canonical.MissingField("model")))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"error","error":{"type":"invalid_request_error","message":"missing required field: \"model\""}}`, string(msgs))

	gen, err := json.Marshal(errorEnvelope(providers.GenerateContent, http.StatusTooManyRequests, errors.New("busy")))
	require.NoError(t, err)
	assert.JSONEq(t, `{"error":{"code":429,"message":"busy","status":"RESOURCE_EXHAUSTED"}}`, string(gen))

	frame := string(streamErrorFrame(providers.Messages, frameErr))
	assert.True(t, strings.HasPrefix(frame, "event: error\ndata: "))
	assert.True(t, strings.HasSuffix(frame, "\n\n"))

	frame = string(streamErrorFrame(providers.ChatCompletions, frameErr))
	assert.True(t, strings.HasPrefix(frame, "data: {\"error\""))
}
