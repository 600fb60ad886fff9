package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/essay-grader/backend/internal/api"
	"github.com/essay-grader/backend/internal/batch"
	"github.com/essay-grader/backend/internal/cache/memory"
	"github.com/essay-grader/backend/internal/cache/redis"
	"github.com/essay-grader/backend/internal/corpus"
	"github.com/essay-grader/backend/internal/evaluation"
	"github.com/essay-grader/backend/internal/llm"
	"github.com/essay-grader/backend/internal/metrics"
	"github.com/essay-grader/backend/internal/sink"
	"github.com/essay-grader/backend/internal/storage/models"
	"github.com/essay-grader/backend/internal/storage/sqlite"
	"github.com/essay-grader/backend/pkg/config"
	"github.com/essay-grader/backend/pkg/logger"
	"github.com/essay-grader/backend/pkg/ratelimit"
)

// flagKeys maps command-line flags onto config keys.
var flagKeys = map[string]string{
	"log-level":   "logging.level",
	"log-format":  "logging.format",
	"provider":    "llm.provider",
	"base-url":    "llm.baseURL",
	"model":       "llm.model",
	"temperature": "llm.temperature",
	"timeout":     "llm.timeoutSec",
	"corpus":      "corpus.path",
	"pattern":     "corpus.pattern",
	"sample":      "corpus.sampleSize",
	"seed":        "corpus.seed",
	"workers":     "grading.workers",
	"output":      "output.csvPath",
	"sqlite":      "output.sqlitePath",
	"cache":       "cache.backend",
	"serve":       "server.enabled",
	"port":        "server.port",
}

func newGradeCommand(mode, short string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   mode,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, func(v *viper.Viper) error {
				v.Set("grading.mode", mode)
				return nil
			})
			if err != nil {
				return err
			}
			return runGrade(cmd.Context(), cfg)
		},
	}

	f := cmd.Flags()
	f.String("provider", "", "text-generation backend: ollama or openai")
	f.String("base-url", "", "backend base URL")
	f.String("model", "", "model identifier")
	f.Float32("temperature", 0, "sampling temperature")
	f.Int("timeout", 0, "per-call timeout in seconds, 0 for none")
	f.String("corpus", "", "essay pool directory or file")
	f.String("pattern", "", "file pattern inside the pool directory")
	f.Int("sample", 0, "number of essays to grade, 0 for all")
	f.Int64("seed", 0, "sampling seed, 0 for a random one")
	f.Int("workers", 0, "essays graded concurrently")
	f.String("output", "", "CSV output path")
	f.String("sqlite", "", "SQLite archive path, empty to disable")
	f.String("cache", "", "response cache: none, memory or redis")
	f.Bool("serve", false, "expose progress and metrics over HTTP")
	f.Int("port", 0, "status server port")

	return cmd
}

func loadConfig(cmd *cobra.Command, extra ...func(*viper.Viper) error) (*config.Config, error) {
	configFile, _ := cmd.Flags().GetString("config")

	bindFlags := func(v *viper.Viper) error {
		for name, key := range flagKeys {
			flag := cmd.Flags().Lookup(name)
			if flag == nil {
				continue
			}
			if err := v.BindPFlag(key, flag); err != nil {
				return fmt.Errorf("failed to bind flag %s: %w", name, err)
			}
		}
		return nil
	}

	cfg, err := config.Load(configFile, append([]func(*viper.Viper) error{bindFlags}, extra...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := logger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, nil
}

func runGrade(parent context.Context, cfg *config.Config) error {
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics.Init()
	mode := models.Mode(cfg.Grading.Mode)

	logger.Info("Starting essay grader",
		zap.String("version", version),
		zap.String("mode", string(mode)),
		zap.String("provider", cfg.LLM.Provider),
		zap.String("model", cfg.LLM.Model),
	)

	records, report, err := corpus.Load(cfg.Corpus.Path, corpus.Options{
		Pattern:    cfg.Corpus.Pattern,
		SampleSize: cfg.Corpus.SampleSize,
		Seed:       cfg.Corpus.Seed,
	})
	if err != nil {
		return err
	}
	if report.RecordsDropped > 0 || report.FilesSkipped > 0 {
		logger.Warn("Essay pool loaded with losses",
			zap.Int("records_dropped", report.RecordsDropped),
			zap.Int("files_skipped", report.FilesSkipped),
		)
	}

	client, closeCache, err := newGradingClient(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeCache()

	tracker := batch.NewTracker()
	evaluator := evaluation.NewEvaluator(client, evaluation.Options{
		ParallelCompetencies: cfg.Grading.ParallelCompetencies,
		SingleMaxAttempts:    cfg.Grading.SingleMaxAttempts,
		SingleRetryDelay:     cfg.Grading.SingleRetryDelay(),
		Hooks:                tracker.Hooks(),
	})

	csvPath := cfg.Output.CSVPath
	if csvPath == "" {
		csvPath = filepath.Join(cfg.Output.Dir, defaultCSVName(mode, time.Now()))
	}
	csvSink, err := sink.NewCSVSink(csvPath)
	if err != nil {
		return err
	}
	sinks := []sink.Sink{csvSink}

	opts := batch.Options{Mode: mode, Workers: cfg.Grading.Workers}

	if cfg.Output.SQLitePath != "" {
		db, err := sqlite.NewClient(cfg.Output.SQLitePath)
		if err != nil {
			csvSink.Close()
			return err
		}
		if err := db.InitSchema(); err != nil {
			csvSink.Close()
			db.Close()
			return err
		}
		sinks = append(sinks, db)
		opts.Archive = db
	}

	out := sink.NewMulti(sinks...)
	defer func() {
		if err := out.Close(); err != nil {
			logger.Error("Failed to close sinks", zap.Error(err))
		}
	}()

	if cfg.Server.Enabled {
		server := api.NewServer(tracker, api.Options{RequestsPerMinute: cfg.Server.RequestsPerMinute})
		server.Start(fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port))
		defer server.Shutdown()
	}

	summary, err := batch.NewRunner(evaluator, out, tracker, opts).Run(ctx, records)

	logger.Info("Results written",
		zap.String("csv", csvPath),
		zap.String("run_id", summary.RunID),
		zap.Int("written", summary.Written),
		zap.Int("total", summary.Total),
	)
	return err
}

func newGradingClient(ctx context.Context, cfg *config.Config) (*llm.Client, func(), error) {
	gen := llm.GenerationOptions{
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		Stream:      cfg.LLM.Stream,
	}

	var backend llm.Backend
	switch cfg.LLM.Provider {
	case "openai":
		backend = llm.NewOpenAIBackend(cfg.LLM.APIKey, cfg.LLM.BaseURL, gen)
	default:
		backend = llm.NewOllamaBackend(cfg.LLM.BaseURL, &http.Client{}, gen)
	}

	opts := llm.Options{
		Timeout:     cfg.LLM.Timeout(),
		MaxAttempts: cfg.LLM.MaxAttempts,
		Breaker: llm.NewBreaker(backend.Name(), cfg.LLM.BreakerFailures,
			time.Duration(cfg.LLM.BreakerCooldownSec)*time.Second, logger.Named("breaker")),
		Logger: logger.Named("llm"),
	}
	if cfg.LLM.RequestsPerMinute > 0 {
		opts.Limiter = ratelimit.New(ratelimit.Config{
			MaxRequestsPerMinute: cfg.LLM.RequestsPerMinute,
			Logger:               logger.Named("ratelimit"),
		})
	}

	cleanup := func() {}
	ttl := time.Duration(cfg.Cache.TTLSec) * time.Second

	switch cfg.Cache.Backend {
	case "memory":
		opts.Cache = memory.New(cfg.Cache.Size, ttl)
	case "redis":
		rc, err := redis.NewClient(ctx, cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB, ttl)
		if err != nil {
			return nil, nil, err
		}
		opts.Cache = rc
		cleanup = func() { rc.Close() }
	}

	return llm.NewClient(backend, opts), cleanup, nil
}

func defaultCSVName(mode models.Mode, now time.Time) string {
	prefix := "resultados_avaliacao"
	if mode == models.ModeSingle {
		prefix = "resultados_unicoagente"
	}
	return fmt.Sprintf("%s_%s.csv", prefix, now.Format("20060102_150405"))
}
