package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/manthysbr/qagent/internal/core/domain"
)

// EnvPrefix prefixes every environment override, e.g. QAGENT_AGENT_MAX_TURNS.
const EnvPrefix = "QAGENT"

// legacyEnv maps config keys to the environment variables of the older qsearch
// and qagent scripts. They are consulted after the QAGENT_ variable.
var legacyEnv = map[string][]string{
	"providers.llm.default_model": {"USE_MODEL"},
	"providers.llm.local_url":     {"OLLAMA_HOST"},
	"providers.llm.api_key":       {"OPENAI_API_KEY"},
	"providers.embed.local_url":   {"OLLAMA_HOST"},
	"providers.embed.api_key":     {"OPENAI_API_KEY"},
	"search.brave_api_key":        {"BRAVE_SEARCH_API_KEY"},
	"ui.verbose":                  {"QSEARCH_VERBOSE"},
	"ui.timing":                   {"QSEARCH_RUNTIME"},
}

// Load reads configuration from (in increasing precedence) defaults, the
// config file, environment variables and the bound flags. An empty path
// searches for .qagent.yaml in the working directory and $HOME.
func Load(path string, flags map[string]*pflag.Flag) (*domain.AppConfig, error) {
	v := viper.New()
	setDefaults(v, domain.DefaultConfig())

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(".qagent")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, names := range legacyEnv {
		envs := append([]string{EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))}, names...)
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	for key, flag := range flags {
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return nil, fmt.Errorf("bind flag %s: %w", key, err)
		}
	}

	cfg := &domain.AppConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	normalize(cfg)
	return cfg, nil
}

func normalize(cfg *domain.AppConfig) {
	cfg.Providers.LLM.LocalURL = withScheme(cfg.Providers.LLM.LocalURL)
	cfg.Providers.Embed.LocalURL = withScheme(cfg.Providers.Embed.LocalURL)
	// an OpenAI model name with a key and no explicit mode means remote
	if cfg.Providers.LLM.Mode == "" {
		cfg.Providers.LLM.Mode = "local"
		if cfg.Providers.LLM.APIKey != "" && strings.HasPrefix(cfg.Providers.LLM.DefaultModel, "gpt") {
			cfg.Providers.LLM.Mode = "remote"
		}
	}
}

// withScheme accepts OLLAMA_HOST style "host:port" values.
func withScheme(u string) string {
	if u == "" || strings.Contains(u, "://") {
		return u
	}
	return "http://" + u
}

func setDefaults(v *viper.Viper, d *domain.AppConfig) {
	v.SetDefault("providers.llm.mode", "")
	v.SetDefault("providers.llm.local_url", d.Providers.LLM.LocalURL)
	v.SetDefault("providers.llm.remote_url", d.Providers.LLM.RemoteURL)
	v.SetDefault("providers.llm.api_key", d.Providers.LLM.APIKey)
	v.SetDefault("providers.llm.default_model", d.Providers.LLM.DefaultModel)
	v.SetDefault("providers.llm.stream", d.Providers.LLM.Stream)

	v.SetDefault("providers.embed.mode", d.Providers.Embed.Mode)
	v.SetDefault("providers.embed.local_url", d.Providers.Embed.LocalURL)
	v.SetDefault("providers.embed.remote_url", d.Providers.Embed.RemoteURL)
	v.SetDefault("providers.embed.api_key", d.Providers.Embed.APIKey)
	v.SetDefault("providers.embed.model", d.Providers.Embed.Model)
	v.SetDefault("providers.embed.cache", d.Providers.Embed.Cache)
	v.SetDefault("providers.embed.cache_dir", d.Providers.Embed.CacheDir)

	v.SetDefault("search.provider", d.Search.Provider)
	v.SetDefault("search.links", d.Search.Links)
	v.SetDefault("search.brave_api_key", d.Search.BraveAPIKey)
	v.SetDefault("search.fan_out", d.Search.FanOut)
	v.SetDefault("search.k", d.Search.K)
	v.SetDefault("search.fetch_timeout", d.Search.FetchTimeout)
	v.SetDefault("search.chunk_size", d.Search.ChunkSize)
	v.SetDefault("search.chunk_overlap", d.Search.ChunkOverlap)
	v.SetDefault("search.index", d.Search.Index)
	v.SetDefault("search.persist_dir", d.Search.PersistDir)

	v.SetDefault("agent.max_turns", d.Agent.MaxTurns)
	v.SetDefault("agent.max_idle_turns", d.Agent.MaxIdleTurns)
	v.SetDefault("agent.repair_json", d.Agent.RepairJSON)
	v.SetDefault("agent.fuzzy_tools", d.Agent.FuzzyTools)
	v.SetDefault("agent.history_size", d.Agent.HistorySize)

	v.SetDefault("draw.width", d.Draw.Width)
	v.SetDefault("draw.height", d.Draw.Height)
	v.SetDefault("draw.output", d.Draw.Output)

	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.allowed_origins", d.Server.AllowedOrigins)
	v.SetDefault("server.trace_db", d.Server.TraceDB)

	v.SetDefault("ui.width", d.UI.Width)
	v.SetDefault("ui.verbose", d.UI.Verbose)
	v.SetDefault("ui.timing", d.UI.Timing)
}
