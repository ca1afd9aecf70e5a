package domain

import "time"

// LLMProviderConfig configures the generation backend
type LLMProviderConfig struct {
	Mode         string `json:"mode" mapstructure:"mode"`                   // "local" or "remote"
	LocalURL     string `json:"local_url" mapstructure:"local_url"`         // "http://localhost:11434"
	RemoteURL    string `json:"remote_url" mapstructure:"remote_url"`       // "https://api.openai.com/v1"
	APIKey       string `json:"api_key" mapstructure:"api_key"`             // may be "enc:..."
	DefaultModel string `json:"default_model" mapstructure:"default_model"` // "mistral" or "gpt-4o-mini"
	Stream       bool   `json:"stream" mapstructure:"stream"`
}

// EmbedProviderConfig configures the embedding backend used for retrieval
type EmbedProviderConfig struct {
	Mode      string `json:"mode" mapstructure:"mode"` // "local" or "remote"
	LocalURL  string `json:"local_url" mapstructure:"local_url"`
	RemoteURL string `json:"remote_url" mapstructure:"remote_url"`
	APIKey    string `json:"api_key" mapstructure:"api_key"`
	Model     string `json:"model" mapstructure:"model"`
	// CacheDir enables the on-disk embedding cache. Empty keeps it in memory.
	CacheDir string `json:"cache_dir" mapstructure:"cache_dir"`
	Cache    bool   `json:"cache" mapstructure:"cache"`
}

// ProviderConfig holds configuration for all model providers
type ProviderConfig struct {
	LLM   LLMProviderConfig   `json:"llm" mapstructure:"llm"`
	Embed EmbedProviderConfig `json:"embed" mapstructure:"embed"`
}

// SearchConfig configures SearchAndRetrieve
type SearchConfig struct {
	Provider     string        `json:"provider" mapstructure:"provider"` // "auto", "brave", "duckduckgo", "static"
	Links        []string      `json:"links,omitempty" mapstructure:"links"` // used by the static provider
	BraveAPIKey  string        `json:"brave_api_key" mapstructure:"brave_api_key"`
	FanOut       int           `json:"fan_out" mapstructure:"fan_out"`
	K            int           `json:"k" mapstructure:"k"`
	FetchTimeout time.Duration `json:"fetch_timeout" mapstructure:"fetch_timeout"`
	ChunkSize    int           `json:"chunk_size" mapstructure:"chunk_size"`
	ChunkOverlap int           `json:"chunk_overlap" mapstructure:"chunk_overlap"`
	// Index is "memory" or "duckdb".
	Index string `json:"index" mapstructure:"index"`
	// PersistDir keeps indexed chunks across runs when set.
	PersistDir string `json:"persist_dir" mapstructure:"persist_dir"`
}

// AgentConfig bounds the agent loop
type AgentConfig struct {
	MaxTurns     int  `json:"max_turns" mapstructure:"max_turns"`
	MaxIdleTurns int  `json:"max_idle_turns" mapstructure:"max_idle_turns"`
	RepairJSON   bool `json:"repair_json" mapstructure:"repair_json"`
	FuzzyTools   bool `json:"fuzzy_tools" mapstructure:"fuzzy_tools"`
	HistorySize  int  `json:"history_size" mapstructure:"history_size"`
}

// DrawConfig configures the drawing surface
type DrawConfig struct {
	Width  int    `json:"width" mapstructure:"width"`
	Height int    `json:"height" mapstructure:"height"`
	Output string `json:"output" mapstructure:"output"`
}

// ServerConfig configures the HTTP API
type ServerConfig struct {
	Addr           string   `json:"addr" mapstructure:"addr"`
	AllowedOrigins []string `json:"allowed_origins" mapstructure:"allowed_origins"`
	TraceDB        string   `json:"trace_db" mapstructure:"trace_db"`
}

// UIConfig configures terminal rendering
type UIConfig struct {
	Width   int  `json:"width" mapstructure:"width"`
	Verbose bool `json:"verbose" mapstructure:"verbose"`
	Timing  bool `json:"timing" mapstructure:"timing"`
}

// AppConfig is the main application configuration
type AppConfig struct {
	Providers ProviderConfig `json:"providers" mapstructure:"providers"`
	Search    SearchConfig   `json:"search" mapstructure:"search"`
	Agent     AgentConfig    `json:"agent" mapstructure:"agent"`
	Draw      DrawConfig     `json:"draw" mapstructure:"draw"`
	Server    ServerConfig   `json:"server" mapstructure:"server"`
	UI        UIConfig       `json:"ui" mapstructure:"ui"`
}

// DefaultConfig returns safe defaults
func DefaultConfig() *AppConfig {
	return &AppConfig{
		Providers: ProviderConfig{
			LLM: LLMProviderConfig{
				Mode:         "local",
				LocalURL:     "http://localhost:11434",
				DefaultModel: "mistral",
			},
			Embed: EmbedProviderConfig{
				Mode:     "local",
				LocalURL: "http://localhost:11434",
				Model:    "nomic-embed-text",
			},
		},
		Search: SearchConfig{
			Provider:     "auto",
			FanOut:       5,
			K:            3,
			FetchTimeout: 4 * time.Second,
			ChunkSize:    500,
			ChunkOverlap: 50,
			Index:        "memory",
		},
		Agent: AgentConfig{
			MaxTurns:     10,
			MaxIdleTurns: 3,
			HistorySize:  20,
		},
		Draw: DrawConfig{
			Width:  800,
			Height: 600,
			Output: "drawing.svg",
		},
		Server: ServerConfig{
			Addr:           ":8080",
			AllowedOrigins: []string{"http://localhost:5173"},
		},
		UI: UIConfig{
			Width: 62,
		},
	}
}
