package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/mihaisavezi/hermesllm/internal/canonical"
	"github.com/mihaisavezi/hermesllm/internal/providers"
	"github.com/mihaisavezi/hermesllm/internal/sse"
)

const maxLoggedBody = 2048

func (h *ProxyHandler) handleResponse(w http.ResponseWriter, resp *http.Response, body io.Reader, x *exchange) {
	respBody, err := io.ReadAll(body)
	if err != nil {
		h.writeError(w, x.clientAPI, http.StatusBadGateway, fmt.Errorf("read upstream response: %w", err))
		return
	}

	out := respBody

	if !x.passthrough {
		parsed, err := providers.ParseResponse(x.route.id, x.route.api, respBody)
		if err != nil {
			h.writeError(w, x.clientAPI, canonical.HTTPStatus(err), err)
			return
		}

		out, err = providers.SerializeResponse(x.clientID, x.clientAPI, parsed)
		if err != nil {
			h.writeError(w, x.clientAPI, canonical.HTTPStatus(err), err)
			return
		}
	}

	copyHeaders(w, resp)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.StatusCode)

	if _, err := w.Write(out); err != nil {
		h.logger.Error("Failed to write response", "error", err)
	}

	usage, ok := providers.UsageFromBody(x.route.id, respBody)
	h.logUsage("Successful response", x, resp.StatusCode, usage, ok)
}

// handleUpstreamError relays an upstream failure. Translated calls get the
// provider's error envelope re-encoded in the client's format.
func (h *ProxyHandler) handleUpstreamError(w http.ResponseWriter, resp *http.Response, body io.Reader, x *exchange) {
	respBody, err := io.ReadAll(body)
	if err != nil {
		h.writeError(w, x.clientAPI, http.StatusBadGateway, fmt.Errorf("read upstream response: %w", err))
		return
	}

	h.logger.Error("Upstream error response",
		"provider", x.route.id,
		"status", resp.StatusCode,
		"body", truncate(respBody, maxLoggedBody),
	)

	if x.passthrough {
		copyHeaders(w, resp)
		w.WriteHeader(resp.StatusCode)
		_, _ = w.Write(respBody)

		return
	}

	_, err = providers.ParseResponse(x.route.id, x.route.api, respBody)

	var e *canonical.Error
	if err == nil || !errors.As(err, &e) || e.Kind != canonical.KindUpstreamError {
		err = canonical.Upstream("upstream_error", fmt.Sprintf("%s: %s", resp.Status, truncate(respBody, 256)))
	}

	h.writeError(w, x.clientAPI, resp.StatusCode, err)
}

func (h *ProxyHandler) handleStreamingResponse(w http.ResponseWriter, resp *http.Response, body io.Reader, x *exchange) {
	stream, err := providers.OpenStream(x.route.id, x.route.api)
	if err != nil {
		h.writeError(w, x.clientAPI, canonical.HTTPStatus(err), err)
		return
	}

	r := &relay{h: h, w: w, x: x, stream: stream}

	if !x.passthrough {
		r.enc, err = providers.NewStreamEncoder(x.clientID, x.clientAPI)
		if err != nil {
			h.writeError(w, x.clientAPI, canonical.HTTPStatus(err), err)
			return
		}
	} else {
		copyHeaders(w, resp)
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flushResponse(w)

	buf := make([]byte, 32<<10)

	for {
		n, rerr := body.Read(buf)
		if n > 0 {
			if x.passthrough {
				if _, err := w.Write(buf[:n]); err != nil {
					h.logger.Warn("Client went away", "error", err)
					return
				}
			}

			_, _ = stream.Write(buf[:n])
			r.drain()
			flushResponse(w)
		}

		if rerr != nil {
			if !errors.Is(rerr, io.EOF) {
				h.logger.Error("Stream read error", "error", rerr)
			}

			break
		}

		if stream.State() == providers.StreamTerminated {
			break
		}
	}

	stream.Close()
	r.drain()

	if r.enc != nil && r.clean {
		_, _ = w.Write(r.enc.End())
	}

	flushResponse(w)

	var usage canonical.Usage
	if r.usage != nil {
		usage = *r.usage
	}

	h.logUsage("Completed streaming response", x, resp.StatusCode, usage, r.usage != nil,
		"chunks", stream.Chunks(),
		"clean", r.clean,
	)
}

// relay moves decoded chunks to the client.
type relay struct {
	h      *ProxyHandler
	w      http.ResponseWriter
	x      *exchange
	stream *providers.Stream
	enc    *providers.StreamEncoder

	usage *canonical.Usage
	// clean is set once the upstream sent its terminal frame.
	clean  bool
	failed bool
}

func (r *relay) drain() {
	for {
		chunk, err := r.stream.Next()

		var e *canonical.Error

		switch {
		case err == nil:
			if chunk.Usage != nil {
				r.usage = chunk.Usage
			}

			r.forward(chunk)
		case errors.Is(err, sse.ErrIncomplete):
			return
		case errors.Is(err, io.EOF):
			r.clean = !r.failed
			return
		case errors.As(err, &e) && e.Recoverable():
			r.h.logger.Warn("Skipping stream frame", "error", err)
			r.forwardError(err)
		default:
			r.h.logger.Error("Stream ended", "error", err)
			r.failed = true
			r.forwardError(err)

			return
		}
	}
}

func (r *relay) forward(chunk *canonical.StreamChunk) {
	if r.enc == nil {
		return
	}

	out, err := r.enc.EncodeChunk(chunk)
	if err != nil {
		r.h.logger.Warn("Failed to encode stream chunk", "error", err)
		return
	}

	if len(out) > 0 {
		_, _ = r.w.Write(out)
	}
}

// forwardError surfaces upstream error frames to translated clients.
// Pass-through clients already received the frame verbatim.
func (r *relay) forwardError(err error) {
	if r.enc == nil || (!errors.Is(err, canonical.ErrUpstream) && !errors.Is(err, canonical.ErrStreamTerminatedAbnormally)) {
		return
	}

	_, _ = r.w.Write(streamErrorFrame(r.x.clientAPI, err))
}

func (h *ProxyHandler) logUsage(msg string, x *exchange, status int, usage canonical.Usage, ok bool, extra ...any) {
	fields := []any{
		"provider", x.route.id,
		"model", x.route.model,
		"status", status,
		"input_tokens", x.inputTokens,
	}

	if ok {
		fields = append(fields,
			"prompt_tokens", usage.PromptTokens,
			"completion_tokens", usage.CompletionTokens,
			"total_tokens", usage.TotalTokens,
		)
	}

	h.logger.Info(msg, append(fields, extra...)...)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}

	return string(b[:n]) + "..."
}
