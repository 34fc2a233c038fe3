package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/mihaisavezi/hermesllm/internal/canonical"
	"github.com/mihaisavezi/hermesllm/internal/providers"
	"github.com/mihaisavezi/hermesllm/internal/sse"
)

type chatError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

type messagesError struct {
	Type  string `json:"type"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

type geminiError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// errorEnvelope renders err the way the client's surface reports errors.
func errorEnvelope(api providers.API, status int, err error) any {
	msg, typ := err.Error(), ""
	if up, ok := upstreamCause(err); ok {
		msg, typ = up.Message, up.Type
	}

	switch api {
	case providers.Messages:
		var out messagesError
		out.Type = "error"
		out.Error.Type = orDefault(typ, errorType(status))
		out.Error.Message = msg

		return out
	case providers.GenerateContent:
		var out geminiError
		out.Error.Code = status
		out.Error.Message = msg
		out.Error.Status = orDefault(typ, geminiStatus(status))

		return out
	default:
		var out chatError
		out.Error.Message = msg
		out.Error.Type = orDefault(typ, errorType(status))

		return out
	}
}

// upstreamCause finds a provider error envelope anywhere in err's chain.
func upstreamCause(err error) (*canonical.Error, bool) {
	for err != nil {
		var e *canonical.Error
		if !errors.As(err, &e) {
			return nil, false
		}

		if e.Kind == canonical.KindUpstreamError {
			return e, true
		}

		err = e.Err
	}

	return nil, false
}

func (h *ProxyHandler) writeError(w http.ResponseWriter, api providers.API, status int, err error) {
	h.logger.Error("Request failed", "api", api, "status", status, "error", err)

	body, merr := json.Marshal(errorEnvelope(api, status, err))
	if merr != nil {
		http.Error(w, err.Error(), status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// streamErrorFrame renders err as an SSE frame of the client's surface.
func streamErrorFrame(api providers.API, err error) []byte {
	eventType := ""
	if api == providers.Messages {
		eventType = "error"
	}

	frame, ferr := sse.FormatJSON(eventType, errorEnvelope(api, canonical.HTTPStatus(err), err))
	if ferr != nil {
		return nil
	}

	return frame
}

func errorType(status int) string {
	switch {
	case status == http.StatusUnauthorized:
		return "authentication_error"
	case status == http.StatusForbidden:
		return "permission_error"
	case status == http.StatusNotFound:
		return "not_found_error"
	case status == http.StatusTooManyRequests:
		return "rate_limit_error"
	case status >= http.StatusInternalServerError:
		return "api_error"
	default:
		return "invalid_request_error"
	}
}

func geminiStatus(status int) string {
	switch {
	case status == http.StatusUnauthorized:
		return "UNAUTHENTICATED"
	case status == http.StatusForbidden:
		return "PERMISSION_DENIED"
	case status == http.StatusNotFound:
		return "NOT_FOUND"
	case status == http.StatusTooManyRequests:
		return "RESOURCE_EXHAUSTED"
	case status == http.StatusBadGateway || status == http.StatusServiceUnavailable:
		return "UNAVAILABLE"
	case status >= http.StatusInternalServerError:
		return "INTERNAL"
	default:
		return "INVALID_ARGUMENT"
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}

	return s
}
