package handlers

import (
	"fmt"

	"github.com/mihaisavezi/hermesllm/internal/canonical"
	"github.com/mihaisavezi/hermesllm/internal/config"
	"github.com/mihaisavezi/hermesllm/internal/providers"
)

type route struct {
	provider *config.Provider
	id       providers.ProviderID
	api      providers.API
	model    string
}

// resolveRoute picks the upstream for a requested model. A model written
// "provider,model" names its provider; a bare model goes to the first
// provider listing it, and anything else to the router default.
func resolveRoute(cfg *config.Config, clientAPI providers.API, requested string) (*route, error) {
	name, model := config.SplitRoute(requested)

	var p *config.Provider

	if name != "" {
		var ok bool

		p, ok = cfg.Provider(name)
		if !ok {
			return nil, &canonical.Error{
				Kind:     canonical.KindUnsupportedProvider,
				Provider: name,
				Err:      fmt.Errorf("provider %q is not configured", name),
			}
		}
	} else {
		for i := range cfg.Providers {
			if cfg.Providers[i].Serves(model) {
				p = &cfg.Providers[i]
				break
			}
		}
	}

	if p == nil {
		defName, defModel := config.SplitRoute(cfg.Router.Default)

		var ok bool

		p, ok = cfg.Provider(defName)
		if !ok || defModel == "" {
			return nil, &canonical.Error{
				Kind: canonical.KindUnsupportedProvider,
				Err:  fmt.Errorf("no route for model %q", model),
			}
		}

		model = defModel
	}

	id, err := p.ID()
	if err != nil {
		return nil, err
	}

	if !p.IsModelAllowed(model) {
		return nil, &canonical.Error{
			Kind:     canonical.KindUnsupportedProvider,
			Provider: id.String(),
			Err:      fmt.Errorf("model %q is not allowed", model),
		}
	}

	api, err := upstreamAPI(*p, id, clientAPI)
	if err != nil {
		return nil, err
	}

	return &route{provider: p, id: id, api: api, model: model}, nil
}

// upstreamAPI prefers a pinned surface, then the client's own surface, and
// falls back to chat completions, which every provider serves.
func upstreamAPI(p config.Provider, id providers.ProviderID, clientAPI providers.API) (providers.API, error) {
	api, pinned, err := p.UpstreamAPI()
	if err != nil {
		return 0, err
	}

	if pinned {
		if _, err := providers.Lookup(id, api); err != nil {
			return 0, err
		}

		return api, nil
	}

	if providers.Supports(id, clientAPI) {
		return clientAPI, nil
	}

	return providers.ChatCompletions, nil
}
