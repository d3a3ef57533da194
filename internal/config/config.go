package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/soratobu/jeeves/internal/pathutil"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/cobra"
)

type Config struct {
	Server     ServerConfig      `koanf:"server"`
	Models     ModelsConfig      `koanf:"models"`
	Agent      AgentConfig       `koanf:"agent"`
	History    HistoryConfig     `koanf:"history"`
	Memory     MemoryConfig      `koanf:"memory"`
	MCPServers []MCPServerConfig `koanf:"mcp_servers"`
	Adapters   AdaptersConfig    `koanf:"adapters"`
	Scheduler  SchedulerConfig   `koanf:"scheduler"`
}

type ServerConfig struct {
	Port            int    `koanf:"port"`
	LogLevel        string `koanf:"log_level"`
	LogFormat       string `koanf:"log_format"`
	ReadTimeout     string `koanf:"read_timeout"`
	WriteTimeout    string `koanf:"write_timeout"`
	IdleTimeout     string `koanf:"idle_timeout"`
	ShutdownTimeout string `koanf:"shutdown_timeout"`
}

type ModelsConfig struct {
	Default             string          `koanf:"default"`
	Fallback            string          `koanf:"fallback"`
	Embedding           string          `koanf:"embedding"`
	MaxFallbackAttempts int             `koanf:"max_fallback_attempts"`
	Registry            []ModelRegistry `koanf:"registry"`
}

type ModelRegistry struct {
	Name           string `koanf:"name"`
	Provider       string `koanf:"provider"`
	BaseURL        string `koanf:"base_url"`
	APIKey         string `koanf:"api_key"`
	RequestTimeout string `koanf:"request_timeout"`
}

type AgentConfig struct {
	SystemPrompt         string `koanf:"system_prompt"`
	MaxTurns             int    `koanf:"max_turns"`
	DriverIterationLimit int    `koanf:"driver_iteration_limit"`
	LLMTimeout           string `koanf:"llm_timeout"`
	ToolTimeout          string `koanf:"tool_timeout"`
}

type HistoryConfig struct {
	Dir          string `koanf:"dir"`
	InMemory     bool   `koanf:"in_memory"`
	LockTimeout  string `koanf:"lock_timeout"`
	LockRetry    string `koanf:"lock_retry"`
	LockMaxRetry int    `koanf:"lock_max_retry"`
}

type MemoryConfig struct {
	Enabled       bool    `koanf:"enabled"`
	Path          string  `koanf:"path"`
	TopK          int     `koanf:"top_k"`
	MinSimilarity float32 `koanf:"min_similarity"`
}

// MCPServerConfig describes one tool-server connection. Transport selects
// the wiring: "stdio" spawns Command, "sse" and "streamable_http" dial URL.
type MCPServerConfig struct {
	Name           string            `koanf:"name"`
	Transport      string            `koanf:"transport"`
	URL            string            `koanf:"url"`
	Headers        map[string]string `koanf:"headers"`
	Command        string            `koanf:"command"`
	Args           []string          `koanf:"args"`
	Env            map[string]string `koanf:"env"`
	RequestTimeout string            `koanf:"request_timeout"`
}

type AdaptersConfig struct {
	Slack    SlackConfig    `koanf:"slack"`
	Telegram TelegramConfig `koanf:"telegram"`
}

type SlackConfig struct {
	Enabled       bool   `koanf:"enabled"`
	Port          int    `koanf:"port"`
	SigningSecret string `koanf:"signing_secret"`
	BotToken      string `koanf:"bot_token"`
}

type TelegramConfig struct {
	Enabled       bool   `koanf:"enabled"`
	BotToken      string `koanf:"bot_token"`
	UpdateTimeout int    `koanf:"update_timeout"`
}

type SchedulerConfig struct {
	Enabled bool           `koanf:"enabled"`
	Jobs    []ScheduledJob `koanf:"jobs"`
}

type ScheduledJob struct {
	Name     string `koanf:"name"`
	Schedule string `koanf:"schedule"`
	Prompt   string `koanf:"prompt"`
	Session  string `koanf:"session"`
}

const (
	DefaultServerPort            = 8080
	DefaultServerLogLevel        = "info"
	DefaultServerLogFormat       = "console"
	DefaultServerReadTimeout     = "10s"
	DefaultServerWriteTimeout    = "10s"
	DefaultServerIdleTimeout     = "60s"
	DefaultServerShutdownTimeout = "5s"

	DefaultModelDefault             = "gpt-4-turbo"
	DefaultModelFallback            = "claude-3-haiku"
	DefaultModelEmbedding           = "nomic-embed-text"
	DefaultModelMaxFallbackAttempts = 2
	DefaultOpenAIBaseURL            = "https://api.openai.com/v1"
	DefaultOllamaBaseURL            = "http://localhost:11434/v1"
	DefaultOllamaAPIKey             = "ollama"

	DefaultAgentSystemPrompt         = "You are a helpful assistant."
	DefaultAgentMaxTurns             = 5
	DefaultAgentDriverIterationLimit = 20
	DefaultAgentLLMTimeout           = "120s"
	DefaultAgentToolTimeout          = "60s"

	DefaultHistoryLockTimeout  = "30s"
	DefaultHistoryLockRetry    = "100ms"
	DefaultHistoryLockMaxRetry = 300

	DefaultMemoryTopK          = 5
	DefaultMemoryMinSimilarity = 0.3

	DefaultMCPRequestTimeout = "30s"

	DefaultSlackPort             = 3000
	DefaultTelegramUpdateTimeout = 60
)

func Load(cmd *cobra.Command) (*Config, error) {
	k := koanf.New(".")

	defaults := map[string]interface{}{
		"server.port":                  DefaultServerPort,
		"server.log_level":             DefaultServerLogLevel,
		"server.log_format":            DefaultServerLogFormat,
		"server.read_timeout":          DefaultServerReadTimeout,
		"server.write_timeout":         DefaultServerWriteTimeout,
		"server.idle_timeout":          DefaultServerIdleTimeout,
		"server.shutdown_timeout":      DefaultServerShutdownTimeout,
		"models.default":               DefaultModelDefault,
		"models.fallback":              DefaultModelFallback,
		"models.embedding":             DefaultModelEmbedding,
		"models.max_fallback_attempts": DefaultModelMaxFallbackAttempts,
		"models.registry": []ModelRegistry{
			{Name: DefaultModelDefault, Provider: "openai"},
			{Name: DefaultModelFallback, Provider: "anthropic"},
			{Name: "local-llama", Provider: "ollama", BaseURL: DefaultOllamaBaseURL},
		},
		"agent.system_prompt":              DefaultAgentSystemPrompt,
		"agent.max_turns":                  DefaultAgentMaxTurns,
		"agent.driver_iteration_limit":     DefaultAgentDriverIterationLimit,
		"agent.llm_timeout":                DefaultAgentLLMTimeout,
		"agent.tool_timeout":               DefaultAgentToolTimeout,
		"history.dir":                      filepath.Join(os.Getenv("HOME"), ".jeeves", "history"),
		"history.in_memory":                false,
		"history.lock_timeout":             DefaultHistoryLockTimeout,
		"history.lock_retry":               DefaultHistoryLockRetry,
		"history.lock_max_retry":           DefaultHistoryLockMaxRetry,
		"memory.enabled":                   false,
		"memory.path":                      filepath.Join(os.Getenv("HOME"), ".jeeves", "memory"),
		"memory.top_k":                     DefaultMemoryTopK,
		"memory.min_similarity":            DefaultMemoryMinSimilarity,
		"adapters.slack.port":              DefaultSlackPort,
		"adapters.telegram.update_timeout": DefaultTelegramUpdateTimeout,
	}
	for key, value := range defaults {
		k.Set(key, value)
	}

	configPath := ""
	if cmd != nil {
		if flag := cmd.Flags().Lookup("config"); flag != nil {
			configPath = strings.TrimSpace(flag.Value.String())
		}
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, err
		}
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			globalPath := filepath.Join(home, ".jeeves", "config.yaml")
			if err := k.Load(file.Provider(globalPath), yaml.Parser()); err != nil {
				slog.Debug("Global config not found or invalid", "path", globalPath, "error", err)
			}
		}
	}

	k.Load(env.Provider("JEEVES_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "JEEVES_")), "_", ".", -1)
	}), nil)

	if cmd != nil {
		k.Load(posflag.Provider(cmd.Flags(), ".", k), nil)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	for i, m := range cfg.Models.Registry {
		if m.Provider == "" {
			cfg.Models.Registry[i].Provider = "openai"
		}
	}
	for i, s := range cfg.MCPServers {
		if s.Transport == "" {
			cfg.MCPServers[i].Transport = "stdio"
		}
		if s.RequestTimeout == "" {
			cfg.MCPServers[i].RequestTimeout = DefaultMCPRequestTimeout
		}
	}

	if err := normalizePathFields(&cfg); err != nil {
		return nil, err
	}

	// Standard provider env vars fill registry entries that omit api_key.
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		for i, m := range cfg.Models.Registry {
			if m.Provider == "openai" && m.APIKey == "" {
				cfg.Models.Registry[i].APIKey = key
			}
		}
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		for i, m := range cfg.Models.Registry {
			if m.Provider == "anthropic" && m.APIKey == "" {
				cfg.Models.Registry[i].APIKey = key
			}
		}
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		for i, m := range cfg.Models.Registry {
			if m.Provider == "gemini" && m.APIKey == "" {
				cfg.Models.Registry[i].APIKey = key
			}
		}
	}

	return &cfg, nil
}

func normalizePathFields(cfg *Config) error {
	if cfg == nil {
		return nil
	}

	historyDir, err := pathutil.Expand(cfg.History.Dir)
	if err != nil {
		return err
	}
	if historyDir != "" {
		cfg.History.Dir = historyDir
	}

	memoryPath, err := pathutil.Expand(cfg.Memory.Path)
	if err != nil {
		return err
	}
	if memoryPath != "" {
		cfg.Memory.Path = memoryPath
	}

	return nil
}
