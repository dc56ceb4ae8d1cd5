// Package api is the external interface layer: HTTP routing, request/response
// body parsing, and the translation of domain errors into status codes.
package api

import (
	"net/http"

	"github.com/kyrosq/mqs/internal/logging"
	"github.com/kyrosq/mqs/internal/observability"
	"github.com/kyrosq/mqs/internal/service"
	"github.com/kyrosq/mqs/internal/store"
)

// ServerConfig contains the dependencies wired into the HTTP server.
type ServerConfig struct {
	Service        *service.QueueService
	Store          store.Store
	MaxMessageSize int64
}

// StartHTTPServer builds the router, wraps it with tracing middleware, and
// starts serving on addr in a background goroutine.
func StartHTTPServer(addr string, cfg ServerConfig) *http.Server {
	mux := http.NewServeMux()

	h := &Handler{
		service:        cfg.Service,
		store:          cfg.Store,
		maxMessageSize: cfg.MaxMessageSize,
	}
	h.RegisterRoutes(mux)

	var handler http.Handler = mux
	handler = observability.HTTPMiddleware(handler)

	server := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Op().Error("HTTP server error", "error", err)
		}
	}()

	return server
}
