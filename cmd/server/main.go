package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"

	"gwi.com/cited-answers/internal/api"
	"gwi.com/cited-answers/internal/config"
	"gwi.com/cited-answers/internal/core"
	"gwi.com/cited-answers/internal/store"
)

func main() {
	// Command line flag for document ingestion
	ingestFile := flag.String("ingest", "", "Ingest citable documents from a markdown table file and exit")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	logger, err := config.NewLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Logger error: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, *ingestFile, logger); err != nil {
		logger.Fatal("Service failed", zap.Error(err))
	}
}

func run(cfg config.Config, ingestFile string, logger *zap.Logger) error {
	ctx := context.Background()

	// Initialize database store
	dbStore, err := store.NewSQLiteStore(cfg.DatabaseURL, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbStore.Close()

	// Initialize LLM service; without a key the service runs read-only
	var llmService *core.LLMService
	if cfg.GeminiAPIKey != "" {
		llmService, err = core.NewLLMService(ctx, cfg.GeminiAPIKey, logger)
		if err != nil {
			return err
		}
		defer llmService.Close()
	} else {
		logger.Warn("GEMINI_API_KEY is not set; answer generation is disabled")
	}

	// Handle document ingestion if requested
	if ingestFile != "" {
		if llmService == nil {
			return errors.New("ingestion needs GEMINI_API_KEY for embeddings")
		}
		logger.Info("Starting document ingestion", zap.String("file", ingestFile))
		raw, err := os.ReadFile(ingestFile)
		if err != nil {
			return fmt.Errorf("failed to read ingestion file: %w", err)
		}
		bar := progressbar.NewOptions(len(store.ParseDocumentTable(string(raw))),
			progressbar.OptionSetDescription("Embedding documents"),
			progressbar.OptionSetWidth(40),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
		)
		embed := func(text string) ([]float32, error) {
			defer func() { _ = bar.Add(1) }()
			return llmService.GetEmbedding(ctx, text)
		}
		n, err := dbStore.IngestDocumentsFromFile(ingestFile, embed)
		_ = bar.Finish()
		if err != nil {
			return fmt.Errorf("document ingestion failed: %w", err)
		}
		logger.Info("Document ingestion complete", zap.Int("documents", n))
		return nil
	}

	if err := cfg.ValidateServer(); err != nil {
		return err
	}

	var ragService *core.RAGService
	var titler core.Titler
	if llmService != nil {
		ragService, err = core.NewRAGService(dbStore, llmService, llmService, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize RAG service: %w", err)
		}
		titler = llmService
	}

	chatService := core.NewChatService(dbStore, ragService, titler, cfg.HistoryPageSize, logger)
	contentService := core.NewContentService(dbStore, cfg.SearchEndpoint, cfg.SearchAPIKey, logger)

	settings := api.FrontendSettings{
		FeedbackEnabled: cfg.FeedbackEnabled,
		SanitizeAnswer:  cfg.SanitizeAnswer,
		MarkerGrammar:   cfg.MarkerGrammar,
		HistoryPageSize: cfg.HistoryPageSize,
	}
	apiHandler := api.NewAPIHandler(chatService, contentService, settings, cfg.JWTSecret, logger)
	router := api.NewRouter(apiHandler, cfg.CORSAllowedOrigins, logger)

	serverAddr := fmt.Sprintf(":%s", cfg.HTTPPort)
	srv := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second, // LLM calls can take time
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting server", zap.String("addr", serverAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return fmt.Errorf("could not listen on %s: %w", serverAddr, err)
	case <-quit:
	}
	logger.Info("Shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	chatService.WaitForTitles()
	logger.Info("Server exiting gracefully")
	return nil
}
