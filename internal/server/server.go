// Package server implements the Request Pipeline (C10): the stateless
// HTTP handlers for every endpoint in the gateway's external surface,
// wired to the injected service container.
package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sys3222/akshare-mcp-adapter/internal/auth"
	"github.com/sys3222/akshare-mcp-adapter/internal/cache"
	"github.com/sys3222/akshare-mcp-adapter/internal/files"
	"github.com/sys3222/akshare-mcp-adapter/internal/llm"
	"github.com/sys3222/akshare-mcp-adapter/internal/tools"
	"github.com/sys3222/akshare-mcp-adapter/internal/upstream"
	"github.com/sys3222/akshare-mcp-adapter/pkg/logging"
)

// Server holds every component C1-C9 inject into the HTTP handlers.
type Server struct {
	credentials *auth.CredentialStore
	tokens      *auth.TokenService
	registry    *upstream.Registry
	cache       *cache.Cache
	fileStore   *files.Store
	toolReg     *tools.Registry
	dispatcher  *llm.Dispatcher
	metrics     *Metrics
	logger      *logging.Logger
}

// New builds a Server from its service container.
func New(
	credentials *auth.CredentialStore,
	tokens *auth.TokenService,
	registry *upstream.Registry,
	dataCache *cache.Cache,
	fileStore *files.Store,
	toolReg *tools.Registry,
	dispatcher *llm.Dispatcher,
	metrics *Metrics,
) *Server {
	return &Server{
		credentials: credentials,
		tokens:      tokens,
		registry:    registry,
		cache:       dataCache,
		fileStore:   fileStore,
		toolReg:     toolReg,
		dispatcher:  dispatcher,
		metrics:     metrics,
		logger:      logging.Default("http-server"),
	}
}

// Router builds the gateway's HTTP route table.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()
	auth := requireAuth(s.tokens)

	register := func(pattern string, h http.HandlerFunc) {
		mux.HandleFunc(pattern, s.metrics.instrument(pattern, h))
	}

	register("GET /api/health", s.handleHealth)
	mux.Handle("GET /api/metrics", promhttp.Handler())

	register("POST /api/token", s.handleIssueToken)
	register("GET /api/users/me", auth(s.handleMe))
	register("GET /api/mcp-data/interfaces", auth(s.handleListInterfaces))
	register("POST /api/mcp-data", auth(s.handleFetchData))
	register("POST /api/data/upload", auth(s.handleUpload))
	register("GET /api/data/files", auth(s.handleListFiles))
	register("DELETE /api/data/files/{filename}", auth(s.handleDeleteFile))
	register("POST /api/data/explore/{filename}", auth(s.handleExploreFile))
	register("POST /api/llm/chat", auth(s.handleLLMChat))
	register("POST /api/llm/analyze", auth(s.handleLLMAnalyze))

	return mux
}
