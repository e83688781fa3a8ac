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

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mikeboe/research-agent/pkg/app"
	"github.com/mikeboe/research-agent/pkg/config"
	"github.com/mikeboe/research-agent/pkg/database"
	"github.com/mikeboe/research-agent/pkg/logging"
	"github.com/mikeboe/research-agent/pkg/server"
)

func main() {
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("Server stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gw, err := app.NewGateway(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer gw.Close()

	newEngine, err := app.EngineFactory(cfg, gw)
	if err != nil {
		return err
	}
	engine := newEngine(logger)

	// Runs need a database; without one only the stateless routes are served.
	var runs *server.Service
	if cfg.DatabaseURL != "" {
		db, err := database.NewPostgresDB(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()

		if err := db.InitSchema(ctx); err != nil {
			return err
		}

		var index server.SourceIndex
		if ix, err := app.OpenSourceIndex(ctx, cfg, db, logger); err != nil {
			logger.Warn("Source index disabled", "error", err)
		} else {
			index = ix
		}

		runs = server.NewService(db, newEngine, index, logger)
		defer runs.Close()
	} else {
		logger.Warn("DATABASE_URL not set, research runs are disabled")
	}

	var auth gin.HandlerFunc
	if cfg.JWTSecret != "" {
		auth = server.AuthMiddleware(server.JWTValidator{Secret: []byte(cfg.JWTSecret)})
	} else {
		logger.Warn("JWT_SECRET not set, API is unauthenticated")
		auth = server.AuthMiddleware(nil)
	}

	if logging.ParseLevel(cfg.LogLevel) > slog.LevelDebug {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "Mcp-Session-Id"},
		ExposeHeaders:    []string{"Content-Length", "Mcp-Session-Id"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	handler := server.NewHandler(engine, runs, logger)
	handler.RegisterRoutes(r, auth)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	mcpHandler := gin.WrapH(server.MCPHandler(server.NewMCPServer(engine)))
	r.Any("/mcp", auth, mcpHandler)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server starting", "port", cfg.Port, "provider", cfg.LLMProvider, "search", cfg.SearchBackend)
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

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
