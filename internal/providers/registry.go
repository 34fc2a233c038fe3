package providers

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/mihaisavezi/hermesllm/internal/canonical"
)

// Capability answers whether a provider serves a surface and where.
type Capability struct {
	Provider     ProviderID `json:"provider"`
	API          API        `json:"api"`
	Supported    bool       `json:"supported"`
	PathTemplate string     `json:"path,omitempty"`
}

// ResolvePath expands the template for model. Native generate-content
// streams use the streamGenerateContent method with SSE framing.
func (c Capability) ResolvePath(model string, stream bool) string {
	path := strings.ReplaceAll(c.PathTemplate, "{model}", model)

	if c.API == GenerateContent && stream {
		path = strings.TrimSuffix(path, ":generateContent") + ":streamGenerateContent?alt=sse"
	}

	return path
}

// Lookup returns the capability of id on api. It is total over known
// providers and surfaces: an unsupported pair is an error, never a zero
// value silently treated as usable.
func Lookup(id ProviderID, api API) (Capability, error) {
	if !id.Valid() {
		return Capability{}, &canonical.Error{
			Kind:     canonical.KindUnsupportedProvider,
			Provider: fmt.Sprintf("provider(%d)", int(id)),
		}
	}

	if !api.Valid() {
		return Capability{}, &canonical.Error{
			Kind:     canonical.KindUnsupportedSurface,
			Provider: id.String(),
			API:      fmt.Sprintf("api(%d)", int(api)),
		}
	}

	c := capability(id, api)
	if !c.Supported {
		return c, &canonical.Error{
			Kind:     canonical.KindUnsupportedSurface,
			Provider: id.String(),
			API:      api.String(),
		}
	}

	return c, nil
}

// Supports reports whether id serves api.
func Supports(id ProviderID, api API) bool {
	_, err := Lookup(id, api)

	return err == nil
}

// Capabilities lists one entry per known surface for id, supported or not.
func Capabilities(id ProviderID) []Capability {
	if !id.Valid() {
		return nil
	}

	caps := make([]Capability, 0, apiCount)
	for api := API(0); api < apiCount; api++ {
		caps = append(caps, capability(id, api))
	}

	return caps
}

func capability(id ProviderID, api API) Capability {
	path := dialects[id].surfaces[api]

	return Capability{
		Provider:     id,
		API:          api,
		Supported:    path != "",
		PathTemplate: path,
	}
}

// BaseURL returns the provider's default upstream origin.
func BaseURL(id ProviderID) string {
	if !id.Valid() {
		return ""
	}

	return dialects[id].baseURL
}

// KeyHeader names the header carrying the API key on chat completions
// when the provider does not take a bearer token, or "".
func KeyHeader(id ProviderID) string {
	if !id.Valid() {
		return ""
	}

	return dialects[id].keyHeader
}

// ProviderForHost maps an API base URL or bare hostname to its provider.
func ProviderForHost(apiBase string) (ProviderID, error) {
	host := apiBase
	if strings.Contains(apiBase, "://") {
		u, err := url.Parse(apiBase)
		if err != nil {
			return 0, fmt.Errorf("invalid API base URL: %w", err)
		}

		host = u.Hostname()
	}

	host = strings.ToLower(host)

	for id := ProviderID(0); id < providerCount; id++ {
		for _, h := range dialects[id].hosts {
			if host == h || strings.HasSuffix(host, "."+h) {
				return id, nil
			}
		}
	}

	return 0, &canonical.Error{Kind: canonical.KindUnsupportedProvider, Provider: host}
}
