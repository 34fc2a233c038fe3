package handlers

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"sync"

	"github.com/andybalholm/brotli"
	"github.com/pkoukk/tiktoken-go"
	"github.com/tidwall/sjson"

	"github.com/mihaisavezi/hermesllm/internal/canonical"
	"github.com/mihaisavezi/hermesllm/internal/config"
	"github.com/mihaisavezi/hermesllm/internal/providers"
)

const maxRequestBody = 32 << 20

type ProxyHandler struct {
	config *config.Manager
	client *http.Client
	logger *slog.Logger

	// tokens estimates the prompt size of a request.
	tokens func(text string) int
}

func NewProxyHandler(config *config.Manager, logger *slog.Logger) *ProxyHandler {
	h := &ProxyHandler{
		config: config,
		client: http.DefaultClient,
		logger: logger,
	}
	h.tokens = h.countInputTokens

	return h
}

func (h *ProxyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	clientAPI, ok := providers.ParseAPI(r.URL.Path)
	if !ok {
		h.httpError(w, http.StatusNotFound, "no API surface at %s", r.URL.Path)
		return
	}

	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		h.httpError(w, http.StatusMethodNotAllowed, "method %s not allowed", r.Method)

		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err != nil {
		h.writeError(w, clientAPI, http.StatusBadRequest, fmt.Errorf("read request body: %w", err))
		return
	}

	clientID := clientDialect(clientAPI)

	req, err := providers.ParseRequest(clientID, clientAPI, body, providers.WithPath(r.URL.RequestURI()))
	if err != nil {
		h.writeError(w, clientAPI, canonical.HTTPStatus(err), err)
		return
	}

	cfg := h.config.Get()

	rt, err := resolveRoute(cfg, clientAPI, req.Model)
	if err != nil {
		h.writeError(w, clientAPI, canonical.HTTPStatus(err), err)
		return
	}

	req = req.WithModel(rt.model)
	inputTokens := h.tokens(req.Text())
	passthrough := rt.id == clientID && rt.api == clientAPI

	var (
		upstreamBody []byte
		path         string
	)

	if passthrough {
		upstreamBody, path, err = rewriteModel(body, rt, req.Stream)
	} else {
		var enc *providers.Encoded

		enc, err = providers.SerializeRequest(rt.id, rt.api, req)
		if err == nil {
			upstreamBody, path = enc.Body, enc.Path

			for _, d := range enc.Downgrades {
				h.logger.Warn("Request downgraded", "provider", rt.id, "downgrade", d.String())
			}
		}
	}

	if err != nil {
		h.writeError(w, clientAPI, canonical.HTTPStatus(err), err)
		return
	}

	upstreamURL := strings.TrimRight(rt.provider.APIBase, "/") + path

	upReq, err := http.NewRequestWithContext(r.Context(), http.MethodPost, upstreamURL, bytes.NewReader(upstreamBody))
	if err != nil {
		h.writeError(w, clientAPI, http.StatusInternalServerError, fmt.Errorf("create upstream request: %w", err))
		return
	}

	upReq.Header = upstreamHeaders(r.Header, rt.id, rt.api, rt.provider.APIKey)

	h.logger.Info("Proxying request",
		"provider", rt.id,
		"client_api", clientAPI,
		"upstream_api", rt.api,
		"model", rt.model,
		"stream", req.Stream,
		"passthrough", passthrough,
		"input_tokens", inputTokens,
	)

	resp, err := h.client.Do(upReq)
	if err != nil {
		h.writeError(w, clientAPI, http.StatusBadGateway, fmt.Errorf("upstream request failed: %w", err))
		return
	}
	defer resp.Body.Close()

	bodyReader, err := decompressReader(resp)
	if err != nil {
		h.writeError(w, clientAPI, http.StatusBadGateway, fmt.Errorf("decompression error: %w", err))
		return
	}

	if closer, ok := bodyReader.(io.Closer); ok {
		defer closer.Close()
	}

	x := &exchange{
		clientID:    clientID,
		clientAPI:   clientAPI,
		route:       rt,
		passthrough: passthrough,
		inputTokens: inputTokens,
	}

	switch {
	case resp.StatusCode >= http.StatusBadRequest:
		h.handleUpstreamError(w, resp, bodyReader, x)
	case IsStreaming(resp.Header):
		h.handleStreamingResponse(w, resp, bodyReader, x)
	default:
		h.handleResponse(w, resp, bodyReader, x)
	}
}

// exchange carries what the response half of a proxied call needs.
type exchange struct {
	clientID    providers.ProviderID
	clientAPI   providers.API
	route       *route
	passthrough bool
	inputTokens int
}

// clientDialect is the provider whose wire format clients of api speak.
func clientDialect(api providers.API) providers.ProviderID {
	switch api {
	case providers.Messages:
		return providers.Anthropic
	case providers.GenerateContent:
		return providers.Gemini
	default:
		return providers.OpenAI
	}
}

// rewriteModel forwards a same-format body untouched apart from the model.
func rewriteModel(body []byte, rt *route, stream bool) ([]byte, string, error) {
	c, err := providers.Lookup(rt.id, rt.api)
	if err != nil {
		return nil, "", err
	}

	if rt.api != providers.GenerateContent {
		body, err = sjson.SetBytes(body, "model", rt.model)
		if err != nil {
			return nil, "", canonical.Malformed(err)
		}
	}

	return body, c.ResolvePath(rt.model, stream), nil
}

var strippedRequestHeaders = []string{
	"Authorization",
	"X-Api-Key",
	"X-Goog-Api-Key",
	"Api-Key",
	"Content-Length",
	"Accept-Encoding",
	"Host",
}

func upstreamHeaders(in http.Header, id providers.ProviderID, api providers.API, key string) http.Header {
	h := in.Clone()
	if h == nil {
		h = make(http.Header)
	}

	for _, k := range strippedRequestHeaders {
		h.Del(k)
	}

	h.Set("Content-Type", "application/json")
	// Asking explicitly keeps the transport from decoding gzip itself.
	h.Set("Accept-Encoding", "gzip, br")

	if api == providers.Messages && h.Get("Anthropic-Version") == "" {
		h.Set("Anthropic-Version", "2023-06-01")
	}

	if key == "" {
		return h
	}

	switch api {
	case providers.Messages:
		h.Set("X-Api-Key", key)
	case providers.GenerateContent:
		h.Set("X-Goog-Api-Key", key)
	default:
		if kh := providers.KeyHeader(id); kh != "" {
			h.Set(kh, key)
		} else {
			h.Set("Authorization", "Bearer "+key)
		}
	}

	return h
}

// IsStreaming reports whether a response carries server-sent events.
func IsStreaming(h http.Header) bool {
	mt, _, err := mime.ParseMediaType(h.Get("Content-Type"))
	if err != nil {
		return false
	}

	return mt == "text/event-stream"
}

var (
	encodingOnce sync.Once
	encoding     *tiktoken.Tiktoken
	encodingErr  error
)

func (h *ProxyHandler) countInputTokens(text string) int {
	encodingOnce.Do(func() {
		encoding, encodingErr = tiktoken.GetEncoding("cl100k_base")
	})

	if encodingErr != nil {
		h.logger.Error("Failed to get tiktoken encoding", "error", encodingErr)
		return 0
	}

	return len(encoding.Encode(text, nil, nil))
}

func decompressReader(resp *http.Response) (io.Reader, error) {
	var bodyReader io.Reader = resp.Body

	switch strings.ToLower(resp.Header.Get("Content-Encoding")) {
	case "gzip":
		gzipReader, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, err
		}

		bodyReader = gzipReader
	case "br":
		bodyReader = brotli.NewReader(resp.Body)
	}

	return bodyReader, nil
}

func copyHeaders(w http.ResponseWriter, resp *http.Response) {
	for key, values := range resp.Header {
		// Bodies are decoded before they are relayed.
		if key == "Content-Encoding" || key == "Content-Length" {
			continue
		}

		for _, value := range values {
			w.Header().Add(key, value)
		}
	}
}

func flushResponse(w http.ResponseWriter) {
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (h *ProxyHandler) httpError(w http.ResponseWriter, code int, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	h.logger.Error("HTTP Error", "code", code, "message", msg)
	http.Error(w, msg, code)
}
