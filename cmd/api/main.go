package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/lymhealth/coaching-engine/cmd/mainconfig"
	"github.com/lymhealth/coaching-engine/internal/api/router"
	"github.com/lymhealth/coaching-engine/internal/coach"
	"github.com/lymhealth/coaching-engine/internal/compliance"
	appconfig "github.com/lymhealth/coaching-engine/internal/config"
	"github.com/lymhealth/coaching-engine/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	// Load configuration
	cfg := appconfig.Load()

	// Initialize logger
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting coaching-engine API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx := context.Background()

	// Redis backs turns, quotas, memories and profiles.
	redisOpts := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOpts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()

	tiers := coach.NewTierTable(
		cfg.FreeDailyMessages, cfg.FreeLLMCallsPerDay,
		cfg.PremiumDailyMessages, cfg.PremiumLLMCallsPerDay,
	)
	quota := coach.NewQuotaManager(redisClient, tiers, cfg.DefaultTimezone, logger)
	disclaimers := compliance.NewDisclaimerManager(compliance.DisclaimerConfig{
		Level:   compliance.DisclaimerLevel(cfg.DisclaimerLevel),
		Enabled: true,
	})
	whitelist := coach.DefaultWhitelist()

	turns := coach.NewRedisTurnStore(redisClient, cfg.MaxStoredTurns, nil)
	memory := coach.NewRedisMemoryStore(redisClient, nil)
	provider := coach.NewRedisProfileProvider(redisClient, cfg.DefaultTimezone, logger)

	// Postgres archive is optional; the coach runs on Redis alone.
	var archive *coach.TurnArchive
	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to connect to postgres", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		archive = coach.NewTurnArchive(pool)
	}

	// Generation providers: Bedrock primary, Gemini fallback. With neither
	// configured every reply takes the deterministic path.
	var llmClient coach.LLMClient
	var modelID string
	var sqsClient *sqs.Client
	if cfg.BedrockModelID != "" || !cfg.UseMemoryQueue {
		awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
		if err != nil {
			logger.Error("failed to load AWS config", "error", err)
			os.Exit(1)
		}
		if cfg.BedrockModelID != "" {
			llmClient = coach.NewBedrockLLMClient(bedrockruntime.NewFromConfig(awsCfg))
			modelID = cfg.BedrockModelID
		}
		if !cfg.UseMemoryQueue {
			sqsClient = sqs.NewFromConfig(awsCfg)
		}
	}
	if cfg.GeminiAPIKey != "" {
		gemini, err := coach.NewGeminiLLMClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModelID)
		if err != nil {
			logger.Error("failed to initialize gemini client", "error", err)
			os.Exit(1)
		}
		if llmClient != nil {
			llmClient = coach.NewFallbackLLMClient(llmClient, gemini, logger)
		} else {
			llmClient = gemini
			modelID = cfg.GeminiModelID
		}
	}
	var generator coach.Generator
	if llmClient != nil {
		generator = coach.NewLLMGenerator(llmClient, whitelist, modelID, int32(cfg.GenerationMaxTokens), logger)
	} else {
		logger.Warn("no LLM provider configured, rules path only")
	}

	// Background re-summarization.
	var summarizer *coach.Summarizer
	if cfg.UseMemoryQueue {
		summarizer = coach.NewSummarizer(turns, memory, coach.NewMemoryQueue(0), logger,
			coach.WithSummarizerWorkers(cfg.SummarizerWorkers))
	} else {
		summarizer = coach.NewSummarizer(turns, memory, coach.NewSQSQueue(sqsClient, cfg.SummaryQueueURL), logger,
			coach.WithSummarizerWorkers(cfg.SummarizerWorkers))
	}

	engine := coach.NewEngine(coach.EngineDeps{
		Extractor:   coach.NewExtractor(logger),
		Guard:       coach.NewSafetyGuard(disclaimers, logger),
		Quota:       quota,
		Tiers:       tiers,
		Compactor:   coach.NewCompactor(cfg.CompactBudgetChars, cfg.HistoryWindow),
		Gate:        coach.NewActionGate(whitelist, quota, tiers, logger),
		Turns:       turns,
		Context:     provider,
		Disclaimers: disclaimers,
		Generator:   generator,
		Memory:      memory,
		Archive:     archive,
		Summarizer:  summarizer,
		Logger:      logger,
	}, coach.EngineConfig{
		GenerationTimeout: cfg.GenerationTimeout,
		SummaryEvery:      cfg.MemorySummaryEvery,
	})

	coachHandler := coach.NewHandler(engine, logger)

	// Setup router
	r := router.New(&router.Config{
		Logger:             logger,
		CoachHandler:       coachHandler,
		AuthJWTSecret:      cfg.AuthJWTSecret,
		RateLimitPerSecond: cfg.RateLimitPerSecond,
		RateLimitBurst:     cfg.RateLimitBurst,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		MetricsHandler:     promhttp.Handler(),
	})

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	if err := summarizer.Shutdown(shutdownCtx); err != nil {
		logger.Error("summarizer shutdown incomplete", "error", err)
	}

	logger.Info("server stopped")
	fmt.Println("Server exited gracefully")
}
