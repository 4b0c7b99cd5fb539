// Leadflow - conversational lead qualification and scheduling server
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/leadflow/internal/api"
	"github.com/ashureev/leadflow/internal/catalog"
	"github.com/ashureev/leadflow/internal/config"
	"github.com/ashureev/leadflow/internal/fsm"
	"github.com/ashureev/leadflow/internal/fsm/states"
	"github.com/ashureev/leadflow/internal/identity"
	"github.com/ashureev/leadflow/internal/language"
	"github.com/ashureev/leadflow/internal/leads"
	"github.com/ashureev/leadflow/internal/middleware"
	"github.com/ashureev/leadflow/internal/notify"
	"github.com/ashureev/leadflow/internal/orchestrator"
	"github.com/ashureev/leadflow/internal/scheduling"
	"github.com/ashureev/leadflow/internal/store"
	"github.com/ashureev/leadflow/web"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/openai/openai-go/option"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "language_provider", cfg.Language.Provider)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
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

	lang, closeLang, err := newLanguageService(cfg, logger)
	if err != nil {
		slog.Error("Failed to initialize language service", "error", err)
		os.Exit(1)
	}
	defer closeLang()

	bookingNotifier, leadNotifier := newNotifiers(ctx, cfg)

	agents, err := catalog.Load(ctx, cfg.AgentsPath, repo, logger)
	if err != nil {
		slog.Error("Failed to load agent definitions", "error", err, "path", cfg.AgentsPath)
		os.Exit(1)
	}
	slog.Info("Agent catalog loaded", "agents", len(agents.Agents()))
	if cfg.AgentsWatch {
		go func() {
			if err := agents.Watch(ctx); err != nil {
				slog.Error("Agent catalog watcher stopped", "error", err)
			}
		}()
	}

	// Initialize services.
	scheduler := scheduling.New(repo, bookingNotifier,
		scheduling.WithLocation(cfg.Location()),
		scheduling.WithLogger(logger))
	leadService := leads.New(repo, leadNotifier, logger)

	engine := fsm.NewEngine(logger)
	states.Register(engine, states.Deps{
		Language:  lang,
		Leads:     leadService,
		Scheduler: scheduler,
		Logger:    logger,
	})
	orch := orchestrator.New(repo, engine, logger)

	// Initialize handlers.
	chatHandler := api.NewHandler(agents, orch, repo, cfg.AllowedOrigins(), logger)
	healthHandler := api.NewHealthHandler(repo)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.AllowedOrigins()))
	r.Use(identity.Middleware(cfg.IsDevelopment()))

	healthHandler.RegisterHealth(r)
	chatHandler.RegisterRoutes(r)

	// Embedded chat widget.
	r.Handle("/widget/*", web.WidgetHandler("/widget"))

	// Language calls can take a while; no WriteTimeout for the same reason
	// WebSocket chats stay open.
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
	chatHandler.Sessions().CloseAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}

func newLanguageService(cfg *config.Config, logger *slog.Logger) (language.Service, func(), error) {
	nop := func() {}
	switch cfg.Language.Provider {
	case config.ProviderOpenAI:
		opts := []option.RequestOption{
			option.WithAPIKey(cfg.Language.OpenAIAPIKey),
			option.WithRequestTimeout(cfg.Language.Timeout),
		}
		if cfg.Language.OpenAIBaseURL != "" {
			opts = append(opts, option.WithBaseURL(cfg.Language.OpenAIBaseURL))
		}
		return language.NewOpenAI(language.OpenAIOptions{Model: cfg.Language.OpenAIModel}, opts...), nop, nil

	case config.ProviderGRPC:
		grpcCfg := language.DefaultGRPCConfig(cfg.Language.GRPCAddr)
		grpcCfg.RequestTimeout = cfg.Language.Timeout
		slog.Info("Connecting to language service via gRPC", "address", grpcCfg.Address)
		client, err := language.NewGRPCClient(grpcCfg, logger)
		if err != nil {
			return nil, nop, err
		}
		return client, client.Close, nil

	case config.ProviderRules:
		slog.Warn("Using offline rule-based language service")
		return language.NewRules(), nop, nil
	}
	return nil, nop, fmt.Errorf("unknown language provider %q", cfg.Language.Provider)
}

func newNotifiers(ctx context.Context, cfg *config.Config) (notify.BookingNotifier, notify.LeadNotifier) {
	var bookings notify.Fanout
	var leadNotifier notify.LeadNotifier = notify.Nop{}

	if cfg.Notify.ServiceKey != "" {
		internal := notify.NewInternalAPI(cfg.Notify.APIURL, cfg.Notify.ServiceKey, cfg.Notify.Timeout)
		bookings = append(bookings, internal)
		leadNotifier = internal
		slog.Info("Internal API notifications enabled", "url", cfg.Notify.APIURL)
	} else {
		slog.Warn("INTERNAL_SERVICE_KEY not set, CRM and calendar sync disabled")
	}

	if cfg.Notify.CalendarCredentialFile != "" {
		gcal, err := notify.NewGoogleCalendar(ctx, cfg.Notify.CalendarCredentialFile, cfg.Notify.CalendarID)
		if err != nil {
			slog.Warn("Google Calendar notifications disabled", "error", err)
		} else {
			bookings = append(bookings, gcal)
			slog.Info("Google Calendar notifications enabled", "calendar_id", cfg.Notify.CalendarID)
		}
	}

	if len(bookings) == 0 {
		return notify.Nop{}, leadNotifier
	}
	return bookings, leadNotifier
}
