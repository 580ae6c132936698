package profile

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/pkg/errors"
)

// Profile is configuration to start the main server.
type Profile struct {
	// Unified LLM configuration (OpenAI-compatible protocol).
	// All providers (deepseek, openai, siliconflow, ollama) use the same config.
	LLMProvider string // Provider identifier: deepseek, openai, siliconflow, openrouter, ollama
	LLMAPIKey   string // Unified LLM API key
	LLMBaseURL  string // Unified LLM base URL (optional, has default per provider)
	LLMModel    string // Model name: deepseek-chat, gpt-4o, etc.
	LLMTimeout  int    // LLM request timeout in seconds (default: 60)

	// Query engine configuration.
	EngineDriver  string // Driver for the analytics query engine: postgres, sqlite
	EngineDSN     string // DSN for the analytics query engine
	EngineTimeout int    // Per-query timeout in seconds (default: 30)

	// Conversation store configuration.
	Driver string // postgres, sqlite
	DSN    string

	Mode    string // dev, prod
	Addr    string
	Port    int
	Data    string // data directory for sqlite mode
	Version string
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// Provider default base URLs for the LLM.
// Used when INSIGHTGRID_LLM_BASE_URL is not explicitly set.
var llmProviderDefaults = map[string]struct {
	BaseURL string
	Model   string
}{
	"deepseek": {
		BaseURL: "https://api.deepseek.com",
		Model:   "deepseek-chat",
	},
	"openai": {
		BaseURL: "https://api.openai.com/v1",
		Model:   "gpt-4o",
	},
	"siliconflow": {
		BaseURL: "https://api.siliconflow.cn/v1",
		Model:   "Qwen/Qwen2.5-72B-Instruct",
	},
	"openrouter": {
		BaseURL: "https://openrouter.ai/api/v1",
		Model:   "deepseek/deepseek-chat",
	},
	"ollama": {
		BaseURL: "http://localhost:11434",
		Model:   "llama3.1",
	},
}

// getEnvOrDefault returns environment variable value or default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvOrDefaultInt returns environment variable value as int or default value.
func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// FromEnv loads configuration from environment variables.
func (p *Profile) FromEnv() {
	p.LLMProvider = getEnvOrDefault("INSIGHTGRID_LLM_PROVIDER", "openai")
	p.LLMAPIKey = getEnvOrDefault("INSIGHTGRID_LLM_API_KEY", "")
	p.LLMBaseURL = getEnvOrDefault("INSIGHTGRID_LLM_BASE_URL", "")
	p.LLMModel = getEnvOrDefault("INSIGHTGRID_LLM_MODEL", "")
	p.LLMTimeout = getEnvOrDefaultInt("INSIGHTGRID_LLM_TIMEOUT_SECONDS", 60)

	p.EngineDriver = getEnvOrDefault("INSIGHTGRID_ENGINE_DRIVER", p.Driver)
	p.EngineDSN = getEnvOrDefault("INSIGHTGRID_ENGINE_DSN", "")
	p.EngineTimeout = getEnvOrDefaultInt("INSIGHTGRID_ENGINE_TIMEOUT_SECONDS", 30)

	// Apply provider defaults for anything not explicitly set.
	if defaults, ok := llmProviderDefaults[p.LLMProvider]; ok {
		if p.LLMBaseURL == "" {
			p.LLMBaseURL = defaults.BaseURL
		}
		if p.LLMModel == "" {
			p.LLMModel = defaults.Model
		}
	} else if p.LLMProvider != "" {
		slog.Warn("unknown LLM provider, keeping as OpenAI-compatible passthrough", "provider", p.LLMProvider)
	}
}

// Validate checks the profile for required fields and normalizes defaults.
func (p *Profile) Validate() error {
	if p.Mode != "dev" && p.Mode != "prod" && p.Mode != "demo" {
		p.Mode = "dev"
	}
	if p.Port <= 0 {
		p.Port = 8233
	}
	if p.Driver == "" {
		p.Driver = "sqlite"
	}
	if p.Driver != "postgres" && p.Driver != "sqlite" {
		return errors.Errorf("unsupported store driver %q (expected postgres or sqlite)", p.Driver)
	}
	if p.Driver == "postgres" && p.DSN == "" {
		return errors.New("postgres driver requires a DSN")
	}
	if p.Driver == "sqlite" && p.DSN == "" {
		if p.Data == "" {
			p.Data = "."
		}
		p.DSN = fmt.Sprintf("%s/insightgrid.db", p.Data)
	}
	if p.EngineDriver == "" {
		p.EngineDriver = p.Driver
	}
	if p.EngineDSN == "" {
		p.EngineDSN = p.DSN
	}
	return nil
}
