package main

import (
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/gin-gonic/gin"

	"github.com/claude-bridge/backend/api/handlers"
	"github.com/claude-bridge/backend/internal/config"
	"github.com/claude-bridge/backend/internal/db"
	"github.com/claude-bridge/backend/internal/repository"
	"github.com/claude-bridge/backend/internal/session"
	"github.com/claude-bridge/backend/internal/ws"
)

func main() {
	cfg := config.Load()
	log := newLogger(cfg.LogLevel)

	// Ensure data directories exist
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath()), 0755); err != nil {
		log.Error("failed to create database directory", "error", err)
		os.Exit(1)
	}
	if err := os.MkdirAll(cfg.LogDir(), 0755); err != nil {
		log.Error("failed to create log directory", "error", err)
		os.Exit(1)
	}

	// Initialize database
	database, err := db.InitDB(cfg.DBPath())
	if err != nil {
		log.Error("failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer db.CloseDB()

	// Initialize registry
	resumeRepo := repository.NewResumeRepository(database)
	registry := session.NewRegistry(resumeRepo, session.Config{
		Command:        cfg.AgentCommand,
		MaxSessions:    cfg.MaxSessions,
		BufferSize:     cfg.BufferSize,
		SessionTimeout: cfg.SessionTimeout,
		LogDir:         cfg.LogDir(),
	}, log)
	defer registry.Close()

	// Initialize handlers
	sessionHandler := handlers.NewSessionHandler(registry)
	streamHandler := handlers.NewStreamHandler(registry)
	wsHandler := handlers.NewWebSocketHandler(registry, ws.NewHandler(log))

	// Initialize Gin router
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(corsMiddleware())

	// Health check is unauthenticated
	r.GET("/health", sessionHandler.Health)

	// API routes
	api := r.Group("/api")
	api.Use(handlers.AuthMiddleware(cfg.AuthTokens))
	{
		sessionHandler.RegisterRoutes(api)
		streamHandler.RegisterRoutes(api)
		wsHandler.RegisterRoutes(api)
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down server")
		registry.Close()
		db.CloseDB()
		os.Exit(0)
	}()

	// Start server
	log.Info("starting server", "addr", cfg.Addr(), "max_sessions", cfg.MaxSessions)
	if err := r.Run(cfg.Addr()); err != nil {
		log.Error("server failed", "error", err)
		os.Exit(1)
	}
}

// newLogger builds the process-wide structured logger.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

// corsMiddleware returns a CORS middleware for development.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
