package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"gopkg.in/yaml.v3"

	"github.com/mihaisavezi/hermesllm/internal/providers"
)

const (
	DefaultPort           = 6970
	DefaultConfigFilename = "config.json"
	DefaultYAMLFilename   = "config.yaml"
	DefaultHost           = "127.0.0.1"
)

// DefaultProviderURLs holds the upstream origin of every known provider,
// keyed by provider name.
var DefaultProviderURLs = defaultProviderURLs()

// DefaultProviderModels lists well known models per provider. They are used
// for static routing when a client names a bare model.
var DefaultProviderModels = map[string][]string{
	"openai": {
		"gpt-4o",
		"gpt-4o-mini",
		"gpt-4.1",
		"o3-mini",
	},
	"anthropic": {
		"claude-sonnet-4-5",
		"claude-opus-4-1",
		"claude-3-5-haiku-latest",
	},
	"gemini": {
		"gemini-2.5-pro",
		"gemini-2.5-flash",
		"gemini-2.0-flash",
	},
	"mistral": {
		"mistral-large-latest",
		"mistral-small-latest",
		"codestral-latest",
	},
	"groq": {
		"llama-3.3-70b-versatile",
		"llama-3.1-8b-instant",
	},
	"deepseek": {
		"deepseek-chat",
		"deepseek-reasoner",
	},
	"github": {
		"openai/gpt-4.1",
		"meta/Llama-4-Scout-17B-16E-Instruct",
	},
	"openrouter": {
		"anthropic/claude-sonnet-4",
		"openai/gpt-4o",
		"google/gemini-2.5-pro",
		"meta-llama/llama-3.1-70b-instruct",
	},
	"nvidia": {
		"nvidia/llama-3.1-nemotron-70b-instruct",
		"meta/llama-3.1-405b-instruct",
	},
	"xai": {
		"grok-4",
		"grok-3-mini",
	},
	"azure_openai": {
		"gpt-4o",
		"gpt-4o-mini",
	},
	"together_ai": {
		"meta-llama/Llama-3.3-70B-Instruct-Turbo",
		"Qwen/Qwen2.5-Coder-32B-Instruct",
	},
	"ollama": {
		"llama3.2",
		"qwen2.5-coder",
	},
	"moonshotai": {
		"kimi-k2-0905-preview",
		"moonshot-v1-8k",
	},
	"zhipu": {
		"glm-4.5",
		"glm-4.5-air",
	},
	"qwen": {
		"qwen-plus",
		"qwen-max",
		"qwen3-coder-plus",
	},
	"arch": {
		"Arch-Router",
	},
}

func defaultProviderURLs() map[string]string {
	urls := make(map[string]string)
	for _, id := range providers.All() {
		urls[id.String()] = providers.BaseURL(id)
	}

	return urls
}

// Provider is one configured upstream.
type Provider struct {
	Name    string `json:"name" yaml:"name"`
	APIBase string `json:"api_base_url,omitempty" yaml:"url,omitempty"`
	APIKey  string `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	// API pins the upstream surface, e.g. "messages". Empty means the
	// client's surface when the provider serves it, chat completions otherwise.
	API            string   `json:"api,omitempty" yaml:"api,omitempty"`
	Models         []string `json:"models,omitempty" yaml:"models,omitempty"`
	ModelWhitelist []string `json:"model_whitelist,omitempty" yaml:"model_whitelist,omitempty"`
	DefaultModels  []string `json:"default_models,omitempty" yaml:"default_models,omitempty"`
}

// ID resolves the provider name against the registry.
func (p Provider) ID() (providers.ProviderID, error) {
	return providers.ParseProviderID(p.Name)
}

// UpstreamAPI returns the pinned surface, if any.
func (p Provider) UpstreamAPI() (providers.API, bool, error) {
	if p.API == "" {
		return 0, false, nil
	}

	api, err := providers.ParseAPIName(p.API)
	if err != nil {
		return 0, false, err
	}

	return api, true, nil
}

// IsModelAllowed reports whether model passes the whitelist. Whitelist
// entries match as substrings; an empty whitelist allows everything.
func (p Provider) IsModelAllowed(model string) bool {
	if len(p.ModelWhitelist) == 0 {
		return true
	}

	for _, w := range p.ModelWhitelist {
		if strings.Contains(model, w) {
			return true
		}
	}

	return false
}

// GetAllowedModels returns the explicit and default models that pass the
// whitelist.
func (p Provider) GetAllowedModels() []string {
	var allowed []string

	for _, m := range append(append([]string(nil), p.Models...), p.DefaultModels...) {
		if p.IsModelAllowed(m) {
			allowed = append(allowed, m)
		}
	}

	return allowed
}

// Serves reports whether model is one of the provider's allowed models.
func (p Provider) Serves(model string) bool {
	for _, m := range p.GetAllowedModels() {
		if m == model {
			return true
		}
	}

	return false
}

// RouterConfig holds static routes. Routes are written "provider,model".
type RouterConfig struct {
	Default string `json:"default" yaml:"default"`
}

type Config struct {
	Host      string       `json:"HOST,omitempty" yaml:"host,omitempty"`
	Port      int          `json:"PORT,omitempty" yaml:"port,omitempty"`
	APIKey    string       `json:"APIKEY,omitempty" yaml:"api_key,omitempty"`
	Providers []Provider   `json:"Providers" yaml:"providers"`
	Router    RouterConfig `json:"Router" yaml:"router"`
}

// Provider returns the configured provider named name.
func (c *Config) Provider(name string) (*Provider, bool) {
	for i := range c.Providers {
		if strings.EqualFold(c.Providers[i].Name, name) {
			return &c.Providers[i], true
		}
	}

	if id, err := providers.ParseProviderID(name); err == nil {
		for i := range c.Providers {
			if pid, err := c.Providers[i].ID(); err == nil && pid == id {
				return &c.Providers[i], true
			}
		}
	}

	return nil, false
}

// SplitRoute splits "provider,model". A route without a comma has no
// provider part.
func SplitRoute(route string) (provider, model string) {
	if p, m, ok := strings.Cut(route, ","); ok {
		return strings.TrimSpace(p), strings.TrimSpace(m)
	}

	return "", strings.TrimSpace(route)
}

// Validate reports every problem in the configuration at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}

	if len(c.Providers) == 0 {
		errs = append(errs, errors.New("no providers configured"))
	}

	seen := make(map[providers.ProviderID]bool)

	for i, p := range c.Providers {
		id, err := p.ID()
		if err != nil {
			errs = append(errs, fmt.Errorf("providers[%d]: %w", i, err))
			continue
		}

		if seen[id] {
			errs = append(errs, fmt.Errorf("providers[%d]: duplicate provider %q", i, p.Name))
		}

		seen[id] = true

		if p.APIBase == "" {
			errs = append(errs, fmt.Errorf("providers[%d]: no url for %q", i, p.Name))
		}

		api, pinned, err := p.UpstreamAPI()
		if err != nil {
			errs = append(errs, fmt.Errorf("providers[%d]: %w", i, err))
		} else if pinned && !providers.Supports(id, api) {
			errs = append(errs, fmt.Errorf("providers[%d]: %s does not serve %s", i, id.DisplayName(), api))
		}
	}

	if c.Router.Default != "" {
		name, model := SplitRoute(c.Router.Default)
		if name == "" || model == "" {
			errs = append(errs, fmt.Errorf("router default %q: want \"provider,model\"", c.Router.Default))
		} else if _, ok := c.Provider(name); !ok {
			errs = append(errs, fmt.Errorf("router default %q: provider %q not configured", c.Router.Default, name))
		}
	}

	return errors.Join(errs...)
}

type Manager struct {
	baseDir     string
	configValue atomic.Value
}

func NewManager(baseDir string) *Manager {
	return &Manager{
		baseDir: baseDir,
	}
}

func (m *Manager) yamlPath() string {
	return filepath.Join(m.baseDir, DefaultYAMLFilename)
}

func (m *Manager) jsonPath() string {
	return filepath.Join(m.baseDir, DefaultConfigFilename)
}

// Load reads config.yaml when present and config.json otherwise.
func (m *Manager) Load() (*Config, error) {
	var cfg Config

	if m.HasYAML() {
		data, err := os.ReadFile(m.yamlPath())
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("unmarshal yaml config: %w", err)
		}
	} else {
		data, err := os.ReadFile(m.jsonPath())
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}

		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("unmarshal config: %w", err)
		}
	}

	applyDefaults(&cfg)

	m.configValue.Store(&cfg)

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}

	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}

	for i := range cfg.Providers {
		p := &cfg.Providers[i]

		id, err := p.ID()
		if err != nil {
			// Left for Validate to report.
			continue
		}

		if p.APIBase == "" {
			p.APIBase = DefaultProviderURLs[id.String()]
		}

		if len(p.DefaultModels) == 0 {
			p.DefaultModels = DefaultProviderModels[id.String()]
		}
	}
}

func (m *Manager) Get() *Config {
	if v := m.configValue.Load(); v != nil {
		return v.(*Config)
	}

	cfg, err := m.Load()
	if err != nil {
		// Return a config with defaults if loading fails
		return &Config{
			Host: DefaultHost,
			Port: DefaultPort,
		}
	}

	return cfg
}

// Save writes cfg as JSON.
func (m *Manager) Save(cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return m.write(m.jsonPath(), data, cfg)
}

// SaveAsYAML writes cfg as YAML, which takes precedence on the next Load.
func (m *Manager) SaveAsYAML(cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal yaml config: %w", err)
	}

	return m.write(m.yamlPath(), data, cfg)
}

func (m *Manager) write(path string, data []byte, cfg *Config) error {
	if err := os.MkdirAll(m.baseDir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	m.configValue.Store(cfg)

	return nil
}

// CreateExampleYAML writes a starter configuration covering each wire
// family.
func (m *Manager) CreateExampleYAML() error {
	cfg := &Config{
		Host:   DefaultHost,
		Port:   DefaultPort,
		APIKey: "your-proxy-api-key-here",
		Providers: []Provider{
			{Name: "openai", APIKey: "your-openai-api-key"},
			{Name: "anthropic", APIKey: "your-anthropic-api-key"},
			{Name: "gemini", APIKey: "your-gemini-api-key", API: "generate_content"},
			{Name: "groq", APIKey: "your-groq-api-key"},
			{
				Name:           "openrouter",
				APIKey:         "your-openrouter-api-key",
				ModelWhitelist: []string{"claude", "gpt-4o"},
			},
		},
		Router: RouterConfig{
			Default: "anthropic,claude-sonnet-4-5",
		},
	}

	return m.SaveAsYAML(cfg)
}

// GetPath returns the file Load reads from.
func (m *Manager) GetPath() string {
	if m.HasYAML() {
		return m.yamlPath()
	}

	return m.jsonPath()
}

func (m *Manager) Exists() bool {
	return m.HasYAML() || m.HasJSON()
}

func (m *Manager) HasYAML() bool {
	_, err := os.Stat(m.yamlPath())
	return err == nil
}

func (m *Manager) HasJSON() bool {
	_, err := os.Stat(m.jsonPath())
	return err == nil
}
