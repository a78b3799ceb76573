package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"

	"github.com/jwen/healthkb/internal/models"
	"github.com/jwen/healthkb/pkg/answer"
	"github.com/jwen/healthkb/pkg/collector"
	"github.com/jwen/healthkb/pkg/config"
	"github.com/jwen/healthkb/pkg/llm"
	"github.com/jwen/healthkb/pkg/retrieval"
	"github.com/jwen/healthkb/pkg/seed"
	"github.com/jwen/healthkb/pkg/store"
	"github.com/jwen/healthkb/pkg/translate"
	"github.com/jwen/healthkb/server"
)

type flags struct {
	ConfigPath        string
	DBUrl             string
	OllamaURL         string
	Model             string
	Port              string
	SeedDir           string
	Ask               string
	Lang              string
	Chat              bool
	ClearTranslations bool
	Debug             bool
}

func main() {
	f := parseFlags()

	if err := run(f); err != nil {
		log.Fatal(err)
	}
}

func parseFlags() flags {
	var f flags

	flag.StringVar(&f.ConfigPath, "config", "", "Path to config file")
	flag.StringVar(&f.OllamaURL, "ollama-url", "", "Ollama server URL")
	flag.StringVar(&f.DBUrl, "db-url", "", "PostgreSQL connection string")
	flag.StringVar(&f.Model, "model", "", "Primary LLM model")
	flag.StringVar(&f.Port, "port", "", "HTTP server port")
	flag.StringVar(&f.SeedDir, "seed", "", "Seed the knowledge base from a directory of JSON files and exit")
	flag.StringVar(&f.Ask, "ask", "", "Ask a single question and exit")
	flag.StringVar(&f.Lang, "lang", "zh", "Language for -ask and -chat (zh/en)")
	flag.BoolVar(&f.Chat, "chat", false, "Interactive chat mode")
	flag.BoolVar(&f.ClearTranslations, "clear-translations", false, "Force-clear the translation cache across the store and exit")
	flag.BoolVar(&f.Debug, "debug", false, "Verbose logging")
	flag.Parse()

	return f
}

func run(f flags) error {
	cfg, err := config.LoadConfig(f.ConfigPath)
	if err != nil {
		return err
	}

	// Flags override file and environment values.
	if f.OllamaURL != "" {
		cfg.LLM.BaseURL = f.OllamaURL
	}
	if f.DBUrl != "" {
		cfg.Database.URL = f.DBUrl
	}
	if f.Model != "" {
		cfg.LLM.Model = f.Model
	}
	if f.Port != "" {
		cfg.Server.Port = f.Port
	}
	if f.SeedDir != "" {
		cfg.KnowledgeDir = f.SeedDir
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		for _, e := range errs {
			fmt.Fprintln(os.Stderr, "config error:", e)
		}
		return fmt.Errorf("invalid configuration")
	}

	logger, err := newLogger(f.Debug)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx := context.Background()

	embedder, err := llm.NewEmbedderWithConfig(llm.EmbedderConfig{
		Model:   cfg.Embedding.Model,
		BaseURL: cfg.LLM.BaseURL,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize embedder: %v", err)
	}

	docStore, err := store.NewWithConfig(ctx, store.DocumentStoreConfig{
		ConnString: cfg.Database.URL,
		TableName:  cfg.Database.TableName,
		VectorDim:  cfg.Database.VectorDim,
	}, embedder, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize document store: %v", err)
	}
	defer docStore.Close()

	generator, err := llm.NewGeneratorWithConfig(llm.GeneratorConfig{
		BaseURL:     cfg.LLM.BaseURL,
		Model:       cfg.LLM.Model,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize generator: %v", err)
	}

	translator := translate.NewManager(docStore, generator, translate.ManagerConfig{
		Model:      cfg.LLM.TranslateModel,
		MaxRetries: cfg.Translation.MaxRetries,
		RetryDelay: time.Duration(cfg.Translation.RetryDelay * float64(time.Second)),
		Workers:    cfg.Translation.Workers,
	}, logger)

	engine := retrieval.NewEngine(docStore, translator, retrieval.EngineConfig{
		SearchLimit: cfg.Retrieval.SearchLimit,
	}, logger)

	driver := answer.NewDriver(engine, generator, answer.DriverConfig{
		Models: cfg.LLM.Models(),
		TopK:   cfg.Retrieval.SearchLimit,
	}, answer.DefaultBackoff(), logger)

	col := collector.NewWithConfig(collector.CollectorConfig{
		RateLimit:       cfg.Collector.RateLimit,
		Timeout:         time.Duration(cfg.Collector.TimeoutSeconds) * time.Second,
		MaxContentChars: cfg.Collector.MaxContentChars,
		Model:           cfg.LLM.Model,
	}, generator, logger)

	switch {
	case f.ClearTranslations:
		n, err := docStore.ClearTranslations(ctx)
		if err != nil {
			return err
		}
		color.Green("Cleared translation cache on %d documents\n", n)
		return nil

	case f.SeedDir != "":
		return runSeed(ctx, docStore, cfg.KnowledgeDir, logger)

	case f.Ask != "":
		printAnswer(driver.Answer(ctx, f.Ask, nil, models.Lang(f.Lang)))
		return nil

	case f.Chat:
		return runChat(ctx, driver, models.Lang(f.Lang))

	default:
		// Seed on first start against an empty store.
		if count, err := docStore.Count(ctx); err == nil && count == 0 {
			logger.Info("knowledge base is empty, seeding", zap.String("dir", cfg.KnowledgeDir))
			loader := seed.NewLoader(docStore, seed.LoaderConfig{Dir: cfg.KnowledgeDir}, logger)
			if results, err := loader.LoadAll(ctx); err == nil {
				for file, n := range results {
					logger.Info("seeded", zap.String("file", file), zap.Int("items", n))
				}
			}
		}

		srv := server.New(server.Config{Port: cfg.Server.Port}, engine, driver, col, logger)
		return srv.ListenAndServe()
	}
}

func runSeed(ctx context.Context, docStore *store.DocumentStore, dir string, logger *zap.Logger) error {
	files, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return err
	}
	if len(files) == 0 {
		color.Yellow("No JSON files found in %s\n", dir)
		return nil
	}

	bar := progressbar.NewOptions(len(files),
		progressbar.OptionSetDescription(color.BlueString("Seeding knowledge base...")),
		progressbar.OptionShowCount(),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetRenderBlankState(true),
	)

	total := 0
	loader := seed.NewLoader(docStore, seed.LoaderConfig{
		Dir: dir,
		OnProgress: func(file string, loaded int) {
			total += loaded
			bar.Add(1)
		},
	}, logger)

	if _, err := loader.LoadAll(ctx); err != nil {
		return err
	}
	bar.Finish()
	color.Green("\n✓ Seeded %d documents from %d files\n", total, len(files))
	return nil
}

func runChat(ctx context.Context, driver *answer.Driver, lang models.Lang) error {
	color.Cyan("Health knowledge chat. Type 'exit' to quit.\n")
	scanner := bufio.NewScanner(os.Stdin)
	var history []models.ChatMessage

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		query := strings.TrimSpace(scanner.Text())
		if query == "" {
			continue
		}
		if query == "exit" || query == "quit" {
			return nil
		}

		resp := driver.Answer(ctx, query, history, lang)
		printAnswer(resp)

		history = append(history,
			models.ChatMessage{Role: "user", Content: query, Timestamp: time.Now()},
			models.ChatMessage{Role: "assistant", Content: resp.Answer, Timestamp: time.Now()},
		)
	}
}

func printAnswer(resp answer.Response) {
	fmt.Println(resp.Answer)
	if len(resp.Sources) > 0 {
		color.Blue("\nSources:")
		for _, src := range resp.Sources {
			color.Blue("  - %s (%s, tier %d)", src.Title, src.Source, src.Tier)
		}
	}
	color.Yellow("Confidence: %s\n", resp.Confidence)
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
