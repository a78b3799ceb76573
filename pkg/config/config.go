package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

type LLMConfig struct {
	BaseURL        string   `yaml:"base_url"`
	Model          string   `yaml:"model"`
	FallbackModels []string `yaml:"fallback_models"`
	TranslateModel string   `yaml:"translate_model"`
	MaxTokens      int      `yaml:"max_tokens"`
	Temperature    float64  `yaml:"temperature"`
}

// Models returns the full fallback chain: the primary model followed by the
// configured fallbacks.
func (c LLMConfig) Models() []string {
	return append([]string{c.Model}, c.FallbackModels...)
}

type EmbeddingConfig struct {
	Model string `yaml:"model"`
}

type DatabaseConfig struct {
	URL       string `yaml:"url"`
	TableName string `yaml:"table_name"`
	VectorDim int    `yaml:"vector_dim"`
}

type RetrievalConfig struct {
	SearchLimit int `yaml:"search_limit"`
}

type TranslationConfig struct {
	Workers    int     `yaml:"workers"`
	MaxRetries int     `yaml:"max_retries"`
	RetryDelay float64 `yaml:"retry_delay_seconds"`
}

type CollectorConfig struct {
	RateLimit       float64 `yaml:"rate_limit"`
	TimeoutSeconds  int     `yaml:"timeout_seconds"`
	MaxContentChars int     `yaml:"max_content_chars"`
}

type ServerConfig struct {
	Port string `yaml:"port"`
}

type Config struct {
	LLM         LLMConfig         `yaml:"llm"`
	Embedding   EmbeddingConfig   `yaml:"embedding"`
	Database    DatabaseConfig    `yaml:"database"`
	Retrieval   RetrievalConfig   `yaml:"retrieval"`
	Translation TranslationConfig `yaml:"translation"`
	Collector   CollectorConfig   `yaml:"collector"`
	Server      ServerConfig      `yaml:"server"`

	// KnowledgeDir holds the JSON seed files loaded when the store is empty.
	KnowledgeDir string `yaml:"knowledge_dir"`
}

func LoadConfig(path string) (*Config, error) {
	// If no path provided, try default locations
	if path == "" {
		locations := []string{
			"config.yaml",
			"config.yml",
			filepath.Join(os.Getenv("HOME"), ".config/healthkb/config.yaml"),
			"/etc/healthkb/config.yaml",
		}

		for _, loc := range locations {
			if _, err := os.Stat(loc); err == nil {
				path = loc
				break
			}
		}
	}

	if path == "" {
		return getDefaultConfig()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %v", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %v", err)
	}

	mergeWithEnv(&config)
	applyDefaults(&config)

	return &config, nil
}

func getDefaultConfig() (*Config, error) {
	config := &Config{}
	applyDefaults(config)
	mergeWithEnv(config)
	return config, nil
}

func applyDefaults(config *Config) {
	if config.LLM.BaseURL == "" {
		config.LLM.BaseURL = "http://localhost:11434"
	}
	if config.LLM.Model == "" {
		config.LLM.Model = "llama3.1"
	}
	if len(config.LLM.FallbackModels) == 0 {
		config.LLM.FallbackModels = []string{"mistral", "qwen2.5"}
	}
	if config.LLM.TranslateModel == "" {
		config.LLM.TranslateModel = config.LLM.Model
	}
	if config.LLM.MaxTokens == 0 {
		config.LLM.MaxTokens = 2000
	}
	if config.LLM.Temperature == 0 {
		config.LLM.Temperature = 0.7
	}

	if config.Embedding.Model == "" {
		config.Embedding.Model = "nomic-embed-text:latest"
	}

	if config.Database.TableName == "" {
		config.Database.TableName = "health_knowledge"
	}
	if config.Database.VectorDim == 0 {
		config.Database.VectorDim = 768
	}

	if config.Retrieval.SearchLimit == 0 {
		config.Retrieval.SearchLimit = 5
	}

	if config.Translation.Workers == 0 {
		config.Translation.Workers = 5
	}
	if config.Translation.MaxRetries == 0 {
		config.Translation.MaxRetries = 3
	}
	if config.Translation.RetryDelay == 0 {
		config.Translation.RetryDelay = 1.0
	}

	if config.Collector.RateLimit == 0 {
		config.Collector.RateLimit = 2.0
	}
	if config.Collector.TimeoutSeconds == 0 {
		config.Collector.TimeoutSeconds = 30
	}
	if config.Collector.MaxContentChars == 0 {
		config.Collector.MaxContentChars = 10000
	}

	if config.Server.Port == "" {
		config.Server.Port = "8080"
	}

	if config.KnowledgeDir == "" {
		config.KnowledgeDir = "knowledge_base"
	}
}

func mergeWithEnv(config *Config) {
	if baseURL := os.Getenv("OLLAMA_BASE_URL"); baseURL != "" {
		config.LLM.BaseURL = baseURL
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		config.Database.URL = dbURL
	}
	if port := os.Getenv("PORT"); port != "" {
		config.Server.Port = port
	}
}
