// Command server is the gateway's HTTP entry point: it wires the
// credential store, token service, upstream registry/invoker, data
// cache, file store, tool registry, and LLM dispatcher into the
// request pipeline and serves the HTTP surface described in the
// external interfaces.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/sys3222/akshare-mcp-adapter/internal/auth"
	"github.com/sys3222/akshare-mcp-adapter/internal/cache"
	"github.com/sys3222/akshare-mcp-adapter/internal/config"
	"github.com/sys3222/akshare-mcp-adapter/internal/files"
	"github.com/sys3222/akshare-mcp-adapter/internal/llm"
	_ "github.com/sys3222/akshare-mcp-adapter/internal/llm/providers"
	"github.com/sys3222/akshare-mcp-adapter/internal/server"
	"github.com/sys3222/akshare-mcp-adapter/internal/tools"
	"github.com/sys3222/akshare-mcp-adapter/internal/upstream"
	"github.com/sys3222/akshare-mcp-adapter/pkg/logging"
)

func main() {
	cfg := config.Load()
	logger := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, Component: "gateway"})
	logger.Info("starting gateway", "env", cfg.Env, "config", cfg.String())

	if cfg.JWTSecret == "" {
		logger.Error("missing signing secret", "hint", "set JWT_SECRET")
		os.Exit(1)
	}

	db, err := auth.OpenDatabase(cfg.DatabaseDriver, cfg.DatabaseDSN)
	if err != nil {
		logger.Error("failed to open credential database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	credentialStore := auth.NewCredentialStore(db)
	if err := credentialStore.EnsureSchema(context.Background()); err != nil {
		logger.Error("failed to prepare credential schema", "error", err)
		os.Exit(1)
	}

	tokenService := auth.NewTokenService(cfg.JWTSecret, cfg.AccessTokenTTL)

	registry, err := upstream.LoadRegistry(cfg.CatalogPath)
	if err != nil {
		logger.Error("failed to load upstream catalog", "error", err)
		os.Exit(1)
	}

	metrics := server.NewMetrics("gateway")

	invoker := upstream.NewInvoker(registry, cfg.UpstreamBaseURL, cfg.UpstreamTimeout,
		upstream.WithRetryPolicy(upstream.DefaultRetryPolicy()),
		upstream.WithOutcomeHook(func(interfaceName, outcome string) {
			metrics.UpstreamCallsTotal.WithLabelValues(interfaceName, outcome).Inc()
		}),
	)

	if err := os.MkdirAll(cfg.CacheRoot, 0o755); err != nil {
		logger.Error("cache root is not writable", "error", err, "path", cfg.CacheRoot)
		os.Exit(1)
	}
	dataCache, err := cache.New(cfg.CacheRoot, invoker,
		cache.WithCeiling(cfg.CacheCeilingBytes),
		cache.WithOutcomeHook(func(outcome string) {
			metrics.CacheHits.WithLabelValues(outcome).Inc()
		}),
	)
	if err != nil {
		logger.Error("failed to initialize data cache", "error", err)
		os.Exit(1)
	}

	if err := os.MkdirAll(cfg.FilesRoot, 0o755); err != nil {
		logger.Error("files root is not writable", "error", err, "path", cfg.FilesRoot)
		os.Exit(1)
	}
	fileStore := files.New(cfg.FilesRoot)

	toolRegistry := tools.NewRegistry(tools.Deps{
		Cache:     dataCache,
		Registry:  registry,
		FileStore: fileStore,
	})

	provider := llm.GetProvider("anthropic")
	llmClient := llm.NewClient(provider, cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMModel)
	dispatcher := llm.NewDispatcher(llmClient, toolRegistry, cfg.LLMMaxTurns, cfg.LLMWallClock)

	srv := server.New(credentialStore, tokenService, registry, dataCache, fileStore, toolRegistry, dispatcher, metrics)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logger.Info("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			logger.Error("graceful shutdown failed", "error", err)
		}
	}()

	logger.Info("listening", "port", cfg.Port)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
