package providers

import (
	"strings"

	"github.com/mihaisavezi/hermesllm/internal/canonical"
)

// API is a logical request surface. Each API has exactly one wire format.
type API int

const (
	// ChatCompletions is the OpenAI-style /v1/chat/completions surface.
	ChatCompletions API = iota
	// Messages is the Anthropic-style /v1/messages surface.
	Messages
	// GenerateContent is the native Gemini models/{model}:generateContent surface.
	GenerateContent

	apiCount
)

var apiNames = [...]string{
	ChatCompletions: "chat_completions",
	Messages:        "messages",
	GenerateContent: "generate_content",
}

var _ = [1]struct{}{}[len(apiNames)-int(apiCount)]

// APIs returns every known surface.
func APIs() []API {
	return []API{ChatCompletions, Messages, GenerateContent}
}

// Valid reports whether a is a known surface.
func (a API) Valid() bool {
	return a >= 0 && a < apiCount
}

func (a API) String() string {
	if !a.Valid() {
		return "unknown"
	}

	return apiNames[a]
}

func (a API) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *API) UnmarshalText(text []byte) error {
	parsed, err := ParseAPIName(string(text))
	if err != nil {
		return err
	}

	*a = parsed

	return nil
}

// Endpoint returns the client-facing path of the surface.
func (a API) Endpoint() string {
	switch a {
	case ChatCompletions:
		return "/v1/chat/completions"
	case Messages:
		return "/v1/messages"
	case GenerateContent:
		return "/v1beta/models/{model}:generateContent"
	default:
		return ""
	}
}

// ParseAPIName resolves a surface by its name, e.g. "messages".
func ParseAPIName(name string) (API, error) {
	name = strings.ToLower(strings.TrimSpace(name))

	for i, n := range apiNames {
		if n == name {
			return API(i), nil
		}
	}

	return 0, &canonical.Error{Kind: canonical.KindUnsupportedSurface, API: name}
}

// ParseAPI identifies the surface a client request path targets.
func ParseAPI(path string) (API, bool) {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}

	switch {
	case strings.HasSuffix(path, "/chat/completions"):
		return ChatCompletions, true
	case strings.HasSuffix(path, "/messages"):
		return Messages, true
	case strings.Contains(path, "/models/") &&
		(strings.HasSuffix(path, ":generateContent") || strings.HasSuffix(path, ":streamGenerateContent")):
		return GenerateContent, true
	default:
		return 0, false
	}
}

// modelFromPath extracts the model and streaming flag from a native Gemini
// path such as /v1beta/models/gemini-2.0-flash:streamGenerateContent?alt=sse.
func modelFromPath(path string) (model string, stream bool) {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}

	i := strings.LastIndex(path, "/models/")
	if i < 0 {
		return "", false
	}

	rest := path[i+len("/models/"):]

	j := strings.LastIndexByte(rest, ':')
	if j < 0 {
		return rest, false
	}

	return rest[:j], rest[j+1:] == "streamGenerateContent"
}
