package config

import (
	"fmt"
	"net/url"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	if c.LLM.BaseURL == "" {
		errors = append(errors, ValidationError{
			Field:   "llm.base_url",
			Message: "Ollama base URL is required",
		})
	} else if _, err := url.Parse(c.LLM.BaseURL); err != nil {
		errors = append(errors, ValidationError{
			Field:   "llm.base_url",
			Message: "invalid Ollama base URL",
		})
	}

	if c.LLM.MaxTokens < 1 || c.LLM.MaxTokens > 8192 {
		errors = append(errors, ValidationError{
			Field:   "llm.max_tokens",
			Message: "max_tokens must be between 1 and 8192",
		})
	}

	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		errors = append(errors, ValidationError{
			Field:   "llm.temperature",
			Message: "temperature must be between 0 and 2",
		})
	}

	if c.LLM.Model == "" {
		errors = append(errors, ValidationError{
			Field:   "llm.model",
			Message: "primary model is required",
		})
	}

	if c.Database.URL != "" {
		if _, err := url.Parse(c.Database.URL); err != nil {
			errors = append(errors, ValidationError{
				Field:   "database.url",
				Message: "invalid database URL",
			})
		}
	}

	if c.Database.VectorDim < 1 {
		errors = append(errors, ValidationError{
			Field:   "database.vector_dim",
			Message: "vector_dim must be positive",
		})
	}

	if c.Retrieval.SearchLimit < 1 {
		errors = append(errors, ValidationError{
			Field:   "retrieval.search_limit",
			Message: "search_limit must be positive",
		})
	}

	// The worker ceiling exists to respect external rate limits.
	if c.Translation.Workers < 1 || c.Translation.Workers > 5 {
		errors = append(errors, ValidationError{
			Field:   "translation.workers",
			Message: "workers must be between 1 and 5",
		})
	}

	if c.Translation.MaxRetries < 1 {
		errors = append(errors, ValidationError{
			Field:   "translation.max_retries",
			Message: "max_retries must be positive",
		})
	}

	if c.Collector.RateLimit <= 0 {
		errors = append(errors, ValidationError{
			Field:   "collector.rate_limit",
			Message: "rate_limit must be positive",
		})
	}

	return errors
}
