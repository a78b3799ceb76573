package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"go.uber.org/zap"

	"github.com/jwen/healthkb/internal/types"
)

// GeneratorConfig configures the text generation client.
type GeneratorConfig struct {
	BaseURL     string // Ollama server URL
	Model       string // default model when the caller passes none
	MaxTokens   int
	Temperature float64
}

// Generator is the text generation client. It sends prompts to an Ollama
// server and classifies failures as rate-limited or generation errors so the
// answer driver can run its fallback policy.
type Generator struct {
	config GeneratorConfig
	llm    *ollama.LLM
	logger *zap.Logger
}

// NewGeneratorWithConfig creates a Generator, defaulting unset fields.
func NewGeneratorWithConfig(config GeneratorConfig, logger *zap.Logger) (*Generator, error) {
	if config.Model == "" {
		config.Model = "llama3.1"
	}
	if config.Temperature <= 0 || config.Temperature > 2 {
		return nil, fmt.Errorf("temperature must be between 0 and 2")
	}
	if config.MaxTokens < 0 {
		return nil, fmt.Errorf("max tokens cannot be negative")
	} else if config.MaxTokens == 0 {
		config.MaxTokens = 2000
	}
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:11434"
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client, err := ollama.New(ollama.WithModel(config.Model),
		ollama.WithServerURL(config.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize LLM: %w", err)
	}

	return &Generator{
		config: config,
		llm:    client,
		logger: logger,
	}, nil
}

// Generate sends prompt to the given model and returns the generated text.
// When structured is set, the model is constrained to JSON-only output.
// Errors wrap types.ErrRateLimited or types.ErrGeneration.
func (g *Generator) Generate(ctx context.Context, model, prompt string, structured bool) (string, error) {
	if model == "" {
		model = g.config.Model
	}

	opts := []llms.CallOption{
		llms.WithModel(model),
		llms.WithMaxTokens(g.config.MaxTokens),
		llms.WithTemperature(g.config.Temperature),
	}
	if structured {
		opts = append(opts, llms.WithJSONMode())
	}

	out, err := llms.GenerateFromSinglePrompt(ctx, g.llm, prompt, opts...)
	if err != nil {
		classified := classify(err)
		g.logger.Warn("generation call failed",
			zap.String("model", model),
			zap.Error(err))
		return "", classified
	}

	return strings.TrimSpace(out), nil
}

// classify maps a raw client error onto the two failure kinds the retry
// policies distinguish.
func classify(err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "429") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "too many requests") ||
		strings.Contains(msg, "resource exhausted") {
		return fmt.Errorf("%w: %v", types.ErrRateLimited, err)
	}
	return fmt.Errorf("%w: %v", types.ErrGeneration, err)
}
