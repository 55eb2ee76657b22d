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

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/b4its/next-kepin/internal/analyzer"
	"github.com/b4its/next-kepin/internal/auth"
	"github.com/b4its/next-kepin/internal/config"
	"github.com/b4its/next-kepin/internal/financial"
	"github.com/b4its/next-kepin/internal/httpx"
	"github.com/b4its/next-kepin/internal/logging"
	"github.com/b4its/next-kepin/internal/middleware"
	"github.com/b4its/next-kepin/internal/models"
	"github.com/b4its/next-kepin/internal/store"
	"github.com/b4its/next-kepin/internal/upload"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	logging.Setup(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("server", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	// ── PostgreSQL ────────────────────────────────────────────
	pgPool, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		return err
	}
	defer pgPool.Close()
	pgStore := store.NewPostgresStore(pgPool)
	if err := pgStore.Migrate(ctx); err != nil {
		return err
	}

	// ── MongoDB ──────────────────────────────────────────────
	mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return err
	}
	defer mongoClient.Disconnect(context.WithoutCancel(ctx))
	mongoStore := store.NewMongoStore(mongoClient.Database(cfg.MongoDB))
	if err := mongoStore.EnsureIndexes(ctx); err != nil {
		return err
	}

	// ── Redis ────────────────────────────────────────────────
	rdb, err := store.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword)
	if err != nil {
		return err
	}
	defer rdb.Close()
	sessions := auth.NewSessionStore(rdb, cfg.SessionTTL)
	locks := store.NewRedisLocker(rdb)

	// ── MinIO ────────────────────────────────────────────────
	minioStore, err := store.NewMinioStore(
		ctx, cfg.MinioEndpoint, cfg.MinioAccessKey,
		cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL,
	)
	if err != nil {
		return err
	}

	// ── Model ────────────────────────────────────────────────
	engine := analyzer.NewEngine(
		analyzer.NewClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL),
		analyzer.DefaultProfiles(cfg.Models.Fast, cfg.Models.Normal, cfg.Models.Deep),
		cfg.MaxDocumentChars,
	)

	// ── Handlers ─────────────────────────────────────────────
	authHandler := auth.NewHandler(pgStore, sessions, cfg.SessionCookieSecure)
	uploadHandler := upload.NewHandler(mongoStore, minioStore, cfg.MaxUploadMB)
	financialHandler := financial.NewHandler(mongoStore)
	analyzeHandler := analyzer.NewHandler(engine, mongoStore, minioStore, locks, analyzer.Options{
		MaxDocumentBytes: cfg.MaxUploadMB << 20,
		LockTTL:          cfg.AnalysisLockTTL,
		Timeout:          cfg.AnalysisTimeout,
		PerMinute:        cfg.AnalyzePerMinute,
		Burst:            cfg.AnalyzeBurst,
	})

	// ── Router ───────────────────────────────────────────────
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		// Auth routes (public)
		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", authHandler.Register)
			r.Post("/login", authHandler.Login)
			r.Post("/logout", authHandler.Logout)
			r.With(middleware.RequireAuth(sessions)).Get("/me", authHandler.Me)
		})

		// Everything else needs a session
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAuth(sessions))

			r.Post("/upload", uploadHandler.Upload)
			r.Delete("/upload/{id}", uploadHandler.Delete)
			r.Get("/uploads", uploadHandler.List)
			r.Get("/files/*", uploadHandler.File)

			r.Get("/financial-data", financialHandler.List)
			r.Get("/financial/stats", financialHandler.Stats)

			for _, mode := range models.Modes {
				r.Post("/"+string(mode)+"_analyze", analyzeHandler.Analyze(mode))
			}
		})
	})

	// ── Server ───────────────────────────────────────────────
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       5 * time.Minute,
		WriteTimeout:      cfg.AnalysisTimeout + time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("backend listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutCtx)
}
