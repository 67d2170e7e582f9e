package config

import "time"

// Config is the root configuration for Orbit.
type Config struct {
	Gateway   GatewayConfig   `json:"gateway"`
	Models    ModelsConfig    `json:"models"`
	Embedding EmbeddingConfig `json:"embedding"`
	Events    EventsConfig    `json:"events"`
	Agent     AgentConfig     `json:"agent"`
	Cache     CacheConfig     `json:"cache"`
	Planner   PlannerConfig   `json:"planner"`
	Executor  ExecutorConfig  `json:"executor"`
	Context   ContextConfig   `json:"context_window"`
	Decision  DecisionConfig  `json:"decision"`
	Tools     ToolsConfig     `json:"tools"`
}

// GatewayConfig holds the gateway server settings.
type GatewayConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// ModelsConfig holds model provider configuration. Planner names an
// optional cheaper provider used only for plan generation; empty means the
// default provider plans too.
type ModelsConfig struct {
	Default   string                    `json:"default"`
	Planner   string                    `json:"planner,omitempty"`
	Providers map[string]ProviderConfig `json:"providers"`
}

// ProviderConfig configures a single LLM provider.
type ProviderConfig struct {
	Driver        string         `json:"driver"` // "anthropic", "openai", "mistral", "ollama"
	Model         string         `json:"model"`
	BaseURL       string         `json:"base_url,omitempty"`
	Auth          AuthConfig     `json:"auth"`
	MaxTokens     int            `json:"max_tokens,omitempty"`
	ContextWindow int            `json:"context_window,omitempty"`
	Tags          []string       `json:"tags,omitempty"`
	Timeout       Duration       `json:"timeout,omitempty"`
	Options       map[string]any `json:"options,omitempty"`
}

// AuthConfig configures API key resolution.
type AuthConfig struct {
	APIKey string `json:"api_key,omitempty"` // Direct API key or ${{ .Env.VAR }} template
	Token  string `json:"token,omitempty"`   // OAuth/Bearer token
}

// EmbeddingConfig configures the embedding provider used by the semantic
// plan cache and decision memory. An empty driver disables semantic
// features.
type EmbeddingConfig struct {
	Driver  string     `json:"driver,omitempty"` // "openai", "ollama"
	Model   string     `json:"model,omitempty"`
	BaseURL string     `json:"base_url,omitempty"`
	Dims    int        `json:"dims,omitempty"`
	Auth    AuthConfig `json:"auth,omitempty"`
}

// EventsConfig holds event bus settings.
type EventsConfig struct {
	BufferSize int    `json:"buffer_size"`
	LogLevel   string `json:"log_level,omitempty"`
}

// AgentConfig holds agent settings.
type AgentConfig struct {
	SystemPrompt string `json:"system_prompt,omitempty"`
}

// CacheConfig holds response cache settings. Path is the SQLite file; an
// empty path keeps the cache in memory only.
type CacheConfig struct {
	Path        string `json:"path,omitempty"`
	JanitorSpec string `json:"janitor_spec,omitempty"` // cron spec for expired-entry sweeps
}

// PlannerConfig holds planner settings.
type PlannerConfig struct {
	PatternsFile       string  `json:"patterns_file,omitempty"` // extra regex patterns, YAML
	SemanticThreshold  float64 `json:"semantic_threshold,omitempty"`
	SemanticMaxEntries int     `json:"semantic_max_entries,omitempty"`
}

// ExecutorConfig holds step execution settings.
type ExecutorConfig struct {
	MaxParallel int      `json:"max_parallel,omitempty"`
	RetryDelay  Duration `json:"retry_delay,omitempty"`
	StepTimeout Duration `json:"step_timeout,omitempty"`
}

// ContextConfig holds conversation window settings.
type ContextConfig struct {
	MaxTokens        int     `json:"max_tokens,omitempty"`
	CompactThreshold float64 `json:"compact_threshold,omitempty"`
	KeepRecent       int     `json:"keep_recent,omitempty"`
}

// DecisionConfig holds decision memory budgets.
type DecisionConfig struct {
	MaxSameQuestion     int     `json:"max_same_question,omitempty"`
	MaxSameTool         int     `json:"max_same_tool,omitempty"`
	MaxFailedAttempts   int     `json:"max_failed_attempts,omitempty"`
	SimilarityThreshold float64 `json:"similarity_threshold,omitempty"`
	LoopWindow          int     `json:"loop_window,omitempty"`
}

// ToolsConfig configures the builtin tool registry.
type ToolsConfig struct {
	Enabled   []string        `json:"enabled,omitempty"` // enabled tool names (empty = all)
	WebSearch WebSearchConfig `json:"web_search,omitempty"`
}

// WebSearchConfig selects and credentials the web search backend.
type WebSearchConfig struct {
	Provider string     `json:"provider,omitempty"` // "duckduckgo", "google", "bing"
	Auth     AuthConfig `json:"auth,omitempty"`
	CX       string     `json:"cx,omitempty"` // Google custom search engine id
}

// Duration wraps time.Duration for JSON unmarshaling.
type Duration time.Duration

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	// Remove quotes
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Duration(d).String() + `"`), nil
}
