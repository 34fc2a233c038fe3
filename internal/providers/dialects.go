package providers

import "github.com/mihaisavezi/hermesllm/internal/canonical"

// dialect captures everything that differs between providers sharing a
// wire family. One entry per ProviderID; the array length is checked
// against providerCount below so a new provider cannot compile without one.
type dialect struct {
	id      ProviderID
	name    string
	display string
	aliases []string
	baseURL string
	hosts   []string

	// surfaces holds the upstream path template per API; "" is unsupported.
	surfaces [apiCount]string

	// roles maps chat-completions role strings onto canonical roles.
	roles map[string]canonical.Role

	// keyHeader replaces the bearer Authorization header when set.
	keyHeader string

	images bool
	// streamUsage requests usage on the final stream frame.
	streamUsage bool

	// reasoning names the assistant field carrying thinking text, if any.
	reasoning string
	// seedField is the request field for canonical Params.Seed.
	seedField string
	// usagePaths are extra gjson containers searched for usage counters.
	usagePaths []string

	finish map[string]canonical.FinishReason
}

var (
	baseRoles = map[string]canonical.Role{
		"system":    canonical.RoleSystem,
		"user":      canonical.RoleUser,
		"assistant": canonical.RoleAssistant,
		"tool":      canonical.RoleTool,
	}
	openAIRoles = withRoles(baseRoles, map[string]canonical.Role{
		"developer": canonical.RoleSystem,
		"function":  canonical.RoleTool,
	})
	functionRoles = withRoles(baseRoles, map[string]canonical.Role{
		"function": canonical.RoleTool,
	})
	developerRoles = withRoles(baseRoles, map[string]canonical.Role{
		"developer": canonical.RoleSystem,
	})
)

var dialects = [...]dialect{
	OpenAI: {
		id:          OpenAI,
		name:        "openai",
		display:     "OpenAI",
		baseURL:     "https://api.openai.com",
		hosts:       []string{"openai.com"},
		surfaces:    surfaces("/v1/chat/completions", "", ""),
		roles:       openAIRoles,
		images:      true,
		seedField:   "seed",
		streamUsage: true,
	},
	Anthropic: {
		id:        Anthropic,
		name:      "anthropic",
		display:   "Anthropic",
		aliases:   []string{"claude"},
		baseURL:   "https://api.anthropic.com",
		hosts:     []string{"anthropic.com"},
		surfaces:  surfaces("/v1/chat/completions", "/v1/messages", ""),
		roles:     openAIRoles,
		images:    true,
		seedField: "seed",
	},
	Gemini: {
		id:        Gemini,
		name:      "gemini",
		display:   "Google Gemini",
		aliases:   []string{"google"},
		baseURL:   "https://generativelanguage.googleapis.com",
		hosts:     []string{"generativelanguage.googleapis.com", "googleapis.com"},
		surfaces:  surfaces("/v1beta/openai/chat/completions", "", "/v1beta/models/{model}:generateContent"),
		roles:     functionRoles,
		images:    true,
		seedField: "seed",
	},
	Mistral: {
		id:        Mistral,
		name:      "mistral",
		display:   "Mistral",
		baseURL:   "https://api.mistral.ai",
		hosts:     []string{"mistral.ai"},
		surfaces:  surfaces("/v1/chat/completions", "", ""),
		roles:     baseRoles,
		images:    true,
		seedField: "random_seed",
		finish: map[string]canonical.FinishReason{
			"model_length": canonical.FinishLength,
		},
	},
	Groq: {
		id:         Groq,
		name:       "groq",
		display:    "Groq",
		baseURL:    "https://api.groq.com",
		hosts:      []string{"groq.com"},
		surfaces:   surfaces("/openai/v1/chat/completions", "", ""),
		roles:      functionRoles,
		images:     true,
		seedField:  "seed",
		usagePaths: []string{"x_groq.usage"},
	},
	Deepseek: {
		id:          Deepseek,
		name:        "deepseek",
		display:     "DeepSeek",
		baseURL:     "https://api.deepseek.com",
		hosts:       []string{"deepseek.com"},
		surfaces:    surfaces("/chat/completions", "", ""),
		roles:       baseRoles,
		reasoning:   "reasoning_content",
		seedField:   "seed",
		streamUsage: true,
		finish: map[string]canonical.FinishReason{
			"insufficient_system_resource": canonical.FinishError,
		},
	},
	GitHub: {
		id:          GitHub,
		name:        "github",
		display:     "GitHub Models",
		aliases:     []string{"github-models"},
		baseURL:     "https://models.github.ai",
		hosts:       []string{"models.github.ai", "models.inference.ai.azure.com"},
		surfaces:    surfaces("/inference/chat/completions", "", ""),
		roles:       openAIRoles,
		images:      true,
		seedField:   "seed",
		streamUsage: true,
	},
	OpenRouter: {
		id:        OpenRouter,
		name:      "openrouter",
		display:   "OpenRouter",
		baseURL:   "https://openrouter.ai",
		hosts:     []string{"openrouter.ai"},
		surfaces:  surfaces("/api/v1/chat/completions", "", ""),
		roles:     developerRoles,
		images:    true,
		reasoning: "reasoning",
		seedField: "seed",
	},
	Nvidia: {
		id:        Nvidia,
		name:      "nvidia",
		display:   "NVIDIA NIM",
		baseURL:   "https://integrate.api.nvidia.com",
		hosts:     []string{"integrate.api.nvidia.com", "api.nvidia.com"},
		surfaces:  surfaces("/v1/chat/completions", "", ""),
		roles:     baseRoles,
		seedField: "seed",
	},
	XAI: {
		id:          XAI,
		name:        "xai",
		display:     "xAI",
		aliases:     []string{"grok"},
		baseURL:     "https://api.x.ai",
		hosts:       []string{"x.ai"},
		surfaces:    surfaces("/v1/chat/completions", "", ""),
		roles:       developerRoles,
		images:      true,
		reasoning:   "reasoning_content",
		seedField:   "seed",
		streamUsage: true,
	},
	AzureOpenAI: {
		id:      AzureOpenAI,
		name:    "azure_openai",
		display: "Azure OpenAI",
		aliases: []string{"azure", "azure-openai"},
		// Resource specific; configure the real origin per provider.
		baseURL:     "https://YOUR-RESOURCE.openai.azure.com",
		hosts:       []string{"openai.azure.com", "cognitiveservices.azure.com"},
		surfaces:    surfaces("/openai/deployments/{model}/chat/completions?api-version=2025-01-01-preview", "", ""),
		roles:       openAIRoles,
		keyHeader:   "Api-Key",
		images:      true,
		seedField:   "seed",
		streamUsage: true,
	},
	TogetherAI: {
		id:        TogetherAI,
		name:      "together_ai",
		display:   "Together AI",
		aliases:   []string{"together", "togetherai"},
		baseURL:   "https://api.together.xyz",
		hosts:     []string{"together.xyz", "together.ai"},
		surfaces:  surfaces("/v1/chat/completions", "", ""),
		roles:     baseRoles,
		images:    true,
		seedField: "seed",
	},
	Ollama: {
		id:        Ollama,
		name:      "ollama",
		display:   "Ollama",
		baseURL:   "http://localhost:11434",
		hosts:     []string{"ollama.com", "ollama"},
		surfaces:  surfaces("/v1/chat/completions", "", ""),
		roles:     baseRoles,
		images:    true,
		reasoning: "reasoning",
		seedField: "seed",
	},
	Moonshotai: {
		id:        Moonshotai,
		name:      "moonshotai",
		display:   "Moonshot AI",
		aliases:   []string{"moonshot", "kimi"},
		baseURL:   "https://api.moonshot.ai",
		hosts:     []string{"moonshot.ai", "moonshot.cn"},
		surfaces:  surfaces("/v1/chat/completions", "", ""),
		roles:     baseRoles,
		reasoning: "reasoning_content",
		seedField: "seed",
	},
	Zhipu: {
		id:        Zhipu,
		name:      "zhipu",
		display:   "Zhipu AI",
		aliases:   []string{"glm", "bigmodel"},
		baseURL:   "https://open.bigmodel.cn",
		hosts:     []string{"bigmodel.cn", "z.ai"},
		surfaces:  surfaces("/api/paas/v4/chat/completions", "", ""),
		roles:     baseRoles,
		images:    true,
		reasoning: "reasoning_content",
		seedField: "seed",
		finish: map[string]canonical.FinishReason{
			"sensitive":     canonical.FinishContentFilter,
			"network_error": canonical.FinishError,
		},
	},
	Qwen: {
		id:          Qwen,
		name:        "qwen",
		display:     "Qwen (DashScope)",
		aliases:     []string{"dashscope", "alibaba"},
		baseURL:     "https://dashscope.aliyuncs.com",
		hosts:       []string{"aliyuncs.com"},
		surfaces:    surfaces("/compatible-mode/v1/chat/completions", "", ""),
		roles:       baseRoles,
		images:      true,
		reasoning:   "reasoning_content",
		seedField:   "seed",
		streamUsage: true,
	},
	Arch: {
		id:        Arch,
		name:      "arch",
		display:   "Arch Gateway",
		aliases:   []string{"archgw"},
		baseURL:   "http://localhost:12000",
		hosts:     []string{"archgw"},
		surfaces:  surfaces("/v1/chat/completions", "", ""),
		roles:     openAIRoles,
		images:    true,
		seedField: "seed",
	},
}

// Fails to compile when a ProviderID has no dialect entry.
var _ = [1]struct{}{}[len(dialects)-int(providerCount)]

func surfaces(chat, messages, generate string) [apiCount]string {
	return [apiCount]string{
		ChatCompletions: chat,
		Messages:        messages,
		GenerateContent: generate,
	}
}

func withRoles(base, extra map[string]canonical.Role) map[string]canonical.Role {
	out := make(map[string]canonical.Role, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}

	for k, v := range extra {
		out[k] = v
	}

	return out
}

func dialectOf(id ProviderID) *dialect {
	return &dialects[id]
}
