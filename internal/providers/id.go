package providers

import (
	"strings"

	"github.com/mihaisavezi/hermesllm/internal/canonical"
)

// ProviderID identifies an upstream LLM vendor. The set is closed: adding a
// value requires a dialect entry (see dialects.go), which the compiler
// checks by length.
type ProviderID int

const (
	OpenAI ProviderID = iota
	Anthropic
	Gemini
	Mistral
	Groq
	Deepseek
	GitHub
	OpenRouter
	Nvidia
	XAI
	AzureOpenAI
	TogetherAI
	Ollama
	Moonshotai
	Zhipu
	Qwen
	Arch

	providerCount
)

// All returns every known provider in declaration order.
func All() []ProviderID {
	ids := make([]ProviderID, 0, providerCount)
	for id := ProviderID(0); id < providerCount; id++ {
		ids = append(ids, id)
	}

	return ids
}

// Valid reports whether id is a known provider.
func (id ProviderID) Valid() bool {
	return id >= 0 && id < providerCount
}

// String returns the lowercase configuration name, e.g. "openai".
func (id ProviderID) String() string {
	if !id.Valid() {
		return "unknown"
	}

	return dialects[id].name
}

// DisplayName returns the vendor's human readable name.
func (id ProviderID) DisplayName() string {
	if !id.Valid() {
		return "Unknown"
	}

	return dialects[id].display
}

// ParseProviderID resolves a configuration name, case-insensitively.
func ParseProviderID(name string) (ProviderID, error) {
	name = strings.ToLower(strings.TrimSpace(name))

	for id := ProviderID(0); id < providerCount; id++ {
		d := &dialects[id]
		if d.name == name {
			return id, nil
		}

		for _, alias := range d.aliases {
			if alias == name {
				return id, nil
			}
		}
	}

	return 0, &canonical.Error{Kind: canonical.KindUnsupportedProvider, Provider: name}
}

// MarshalText implements encoding.TextMarshaler for config files and JSON.
func (id ProviderID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ProviderID) UnmarshalText(text []byte) error {
	parsed, err := ParseProviderID(string(text))
	if err != nil {
		return err
	}

	*id = parsed

	return nil
}
