// Quizdeck - multiple-choice quiz server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/quizdeck/internal/api"
	"github.com/ashureev/quizdeck/internal/config"
	"github.com/ashureev/quizdeck/internal/identity"
	"github.com/ashureev/quizdeck/internal/live"
	"github.com/ashureev/quizdeck/internal/middleware"
	"github.com/ashureev/quizdeck/internal/persist"
	"github.com/ashureev/quizdeck/internal/question"
	"github.com/ashureev/quizdeck/internal/quiz"
	"github.com/ashureev/quizdeck/internal/retention"
	"github.com/ashureev/quizdeck/internal/runner"
	"github.com/ashureev/quizdeck/internal/store"
	"github.com/ashureev/quizdeck/internal/translate"
	"github.com/ashureev/quizdeck/web"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "store", cfg.Store.Driver)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize dependencies.
	repo, err := store.Open(ctx, store.Options{
		Driver:          cfg.Store.Driver,
		SQLitePath:      cfg.Store.DBPath,
		PostgresURL:     cfg.Store.DatabaseURL,
		MaxConns:        cfg.Store.MaxConns,
		MaxConnLifetime: cfg.Store.MaxConnLifetime,
	})
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(ctx); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	var catalog *question.Catalog
	if len(cfg.Subjects) > 0 {
		catalog = question.NewCatalog(cfg.DataDir, cfg.SourceBaseURL, cfg.Subjects)
	} else {
		catalog, err = question.Discover(cfg.DataDir, cfg.SourceBaseURL)
		if err != nil {
			slog.Error("Failed to discover question files", "error", err)
			os.Exit(1)
		}
	}
	slog.Info("Question catalog ready", "subjects", len(catalog.Subjects()), "data_dir", cfg.DataDir)

	gateway := persist.NewGateway(repo, persist.NewCodeGenerator(cfg.Quiz.ResumeCodeAttempts, nil, nil), nil)

	opts := []runner.Option{
		runner.WithAutoAdvanceDelay(cfg.Quiz.AutoAdvanceDelay),
		runner.WithLogger(logger),
	}

	// Translation service (optional).
	if cfg.TranslatorAddr != "" {
		slog.Info("Connecting to translation service via gRPC", "address", cfg.TranslatorAddr)
		translator, err := translate.NewGrpcTranslator(translate.DefaultGrpcConfig(cfg.TranslatorAddr), logger)
		if err != nil {
			slog.Warn("Failed to connect to translation service, translation disabled", "error", err)
		} else {
			defer translator.Close()
			opts = append(opts, runner.WithTranslator(translator))
		}
	} else {
		slog.Info("Translation disabled (TRANSLATOR_ADDR not set)")
	}

	quizRunner := runner.New(quiz.NewEngine(), gateway, catalog, opts...)
	hub := live.NewHub()
	quizRunner.SetPublisher(hub)

	limiter := middleware.NewRateLimiter(cfg.FeedbackRatePerMinute, 10*time.Minute)
	go limiter.Run(ctx)

	worker := retention.NewWorker(repo, quizRunner, retention.Config{
		TTL:      cfg.Retention.TTL,
		Schedule: cfg.Retention.Schedule,
		IdleTTL:  cfg.Quiz.IdleSessionTTL,
	})
	go func() {
		if err := worker.Run(ctx); err != nil {
			slog.Error("Retention worker failed", "error", err)
		}
	}()

	// Initialize handlers.
	healthHandler := api.NewHealthHandler(repo, quizRunner.Live)
	quizHandler := api.NewQuizHandler(quizRunner, catalog, identity.CookieMemory{IsDev: cfg.IsDevelopment()})
	feedbackHandler := api.NewFeedbackHandler(repo, quizRunner, middleware.RateLimit(limiter))
	wsHandler := live.NewWebSocketHandler(hub, quizRunner, cfg.FrontendURL, cfg.IsDevelopment())

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS(cfg.AllowedOrigins()))
	r.Use(identity.Middleware(cfg.IsDevelopment()))

	healthHandler.RegisterHealth(r)
	quizHandler.RegisterRoutes(r)
	feedbackHandler.RegisterRoutes(r)

	// WebSocket endpoint.
	r.Get("/ws/sessions/{code}", wsHandler.ServeHTTP)

	// Serve embedded frontend (SPA catch-all).
	r.Handle("/*", web.SPAHandler())

	// WebSocket connections stay open, so there is no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	// Flush live sessions and pending feedback before the store closes.
	saved := quizRunner.EvictIdle(shutdownCtx, 0)
	feedbackHandler.Wait()

	slog.Info("Server stopped successfully", "sessions_saved", saved)
}
