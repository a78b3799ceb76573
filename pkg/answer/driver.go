package answer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jwen/healthkb/internal/models"
	"github.com/jwen/healthkb/internal/types"
	"github.com/jwen/healthkb/pkg/retrieval"
)

// Confidence is a coarse label summarizing retrieval quality for an answer.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// maxHistoryTurns bounds how much conversation history enters the prompt.
const maxHistoryTurns = 6

// maxSources caps the source references returned with an answer, regardless
// of how many documents built the context.
const maxSources = 3

// SourceRef is a citation attached to a generated answer.
type SourceRef struct {
	Title     string  `json:"title"`
	Source    string  `json:"source"`
	URL       string  `json:"url,omitempty"`
	Tier      int     `json:"tier"`
	Relevance float64 `json:"relevance_score"`
}

// Response is the outcome of one answer call. It is always structurally
// valid; degradation shows up as a low confidence, empty sources and an
// apology text, never as a transport-visible error.
type Response struct {
	Answer     string      `json:"answer"`
	Sources    []SourceRef `json:"sources"`
	Confidence Confidence  `json:"confidence"`
}

type DriverConfig struct {
	// Models is the fallback chain, tried in order.
	Models []string
	// TopK is how many documents ground the answer.
	TopK int
}

// Driver builds grounded prompts from retrieved documents and drives the
// generation call through the model fallback chain.
type Driver struct {
	engine  *retrieval.Engine
	gen     types.TextGenerator
	config  DriverConfig
	backoff BackoffPolicy
	logger  *zap.Logger
	sleep   func(time.Duration)
}

func NewDriver(engine *retrieval.Engine, gen types.TextGenerator, config DriverConfig, backoff BackoffPolicy, logger *zap.Logger) *Driver {
	if len(config.Models) == 0 {
		config.Models = []string{"llama3.1"}
	}
	if config.TopK == 0 {
		config.TopK = 5
	}
	if backoff.MaxAttempts == 0 {
		backoff = DefaultBackoff()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Driver{
		engine:  engine,
		gen:     gen,
		config:  config,
		backoff: backoff,
		logger:  logger,
		sleep:   time.Sleep,
	}
}

// Answer retrieves context for the query, generates a grounded response and
// derives a confidence label from retrieval quality. It never returns an
// error: storage failures and fallback-chain exhaustion both degrade into a
// localized apology with low confidence and no sources.
func (d *Driver) Answer(ctx context.Context, query string, history []models.ChatMessage, lang models.Lang) Response {
	results, err := d.engine.Search(ctx, query, d.config.TopK, "", 0)
	if err != nil {
		d.logger.Error("retrieval failed", zap.Error(err))
		return Response{
			Answer:     apology(lang),
			Sources:    []SourceRef{},
			Confidence: ConfidenceLow,
		}
	}

	confidence := deriveConfidence(results)

	sources := make([]SourceRef, 0, maxSources)
	for _, r := range results {
		if len(sources) == maxSources {
			break
		}
		sources = append(sources, SourceRef{
			Title:     r.Metadata.Title,
			Source:    r.Metadata.Source,
			URL:       r.Metadata.SourceURL,
			Tier:      r.Metadata.Tier,
			Relevance: r.Relevance,
		})
	}

	prompt := buildPrompt(query, results, history, lang)

	text, err := d.generate(ctx, prompt)
	if err != nil {
		d.logger.Error("generation exhausted", zap.Error(err))
		return Response{
			Answer:     apology(lang),
			Sources:    []SourceRef{},
			Confidence: ConfidenceLow,
		}
	}

	return Response{
		Answer:     text,
		Sources:    sources,
		Confidence: confidence,
	}
}

// generate walks the model fallback chain. Rate-limited failures retry the
// same model with exponential backoff; any other failure abandons the model
// immediately and advances the chain.
func (d *Driver) generate(ctx context.Context, prompt string) (string, error) {
	for _, model := range d.config.Models {
		for attempt := 0; attempt < d.backoff.MaxAttempts; attempt++ {
			out, err := d.gen.Generate(ctx, model, prompt, false)
			if err == nil {
				return out, nil
			}
			if !errors.Is(err, types.ErrRateLimited) {
				d.logger.Warn("model failed, advancing chain",
					zap.String("model", model),
					zap.Error(err))
				break
			}
			if attempt < d.backoff.MaxAttempts-1 {
				delay := d.backoff.Delay(attempt)
				d.logger.Warn("rate limited, backing off",
					zap.String("model", model),
					zap.Int("attempt", attempt+1),
					zap.Duration("delay", delay))
				d.sleep(delay)
			}
		}
	}
	return "", types.ErrModelsExhausted
}

// deriveConfidence is a pure function of retrieval quality, independent of
// whether generation succeeded.
func deriveConfidence(results []models.SearchResult) Confidence {
	switch {
	case len(results) >= 3 && results[0].Relevance > 0.7:
		return ConfidenceHigh
	case len(results) >= 1 && results[0].Relevance > 0.5:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

func buildPrompt(query string, results []models.SearchResult, history []models.ChatMessage, lang models.Lang) string {
	var contextParts []string
	for i, r := range results {
		contextParts = append(contextParts, fmt.Sprintf("[Document %d] %s\nSource: %s\n%s\n",
			i+1, r.Metadata.Title, r.Metadata.Source, r.Content))
	}

	contextText := "No relevant documents found."
	if len(contextParts) > 0 {
		contextText = strings.Join(contextParts, "\n---\n")
	}

	if len(history) > maxHistoryTurns {
		history = history[len(history)-maxHistoryTurns:]
	}
	var historyText strings.Builder
	for _, msg := range history {
		label := "Assistant"
		if msg.Role == "user" {
			label = "User"
		}
		fmt.Fprintf(&historyText, "%s: %s\n", label, msg.Content)
	}

	if lang == models.LangZH {
		historyBlock := ""
		if historyText.Len() > 0 {
			historyBlock = fmt.Sprintf("对话历史：\n%s\n", historyText.String())
		}
		return fmt.Sprintf(`你是一个专业的健康顾问 AI，基于权威医疗健康和运动科学资料来回答用户问题。

规则：
1. 只基于提供的参考资料回答问题
2. 如果资料不足以回答问题，诚实说明
3. 使用清晰、易懂的语言
4. 适当引用来源（如"根据 WHO 指南..."）
5. 对于医疗建议，始终建议咨询专业医生

参考资料：
%s

%s用户问题：%s

请根据以上资料回答用户的问题：`, contextText, historyBlock, query)
	}

	historyBlock := ""
	if historyText.Len() > 0 {
		historyBlock = fmt.Sprintf("Conversation history:\n%s\n", historyText.String())
	}
	return fmt.Sprintf(`You are a professional health advisor AI answering questions from authoritative medical and sports science sources.

Rules:
1. Answer only from the reference material provided
2. If the material is insufficient, say so honestly
3. Use clear, plain language
4. Cite sources where appropriate (e.g. "According to WHO guidelines...")
5. For medical advice, always recommend consulting a professional doctor

Reference material:
%s

%sUser question: %s

Answer the user's question from the material above:`, contextText, historyBlock, query)
}

func apology(lang models.Lang) string {
	if lang == models.LangZH {
		return "抱歉，所有可用模型均忙碌，请稍后重试。"
	}
	return "Sorry, all available models are busy right now. Please try again later."
}
