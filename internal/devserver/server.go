// Package devserver is a reference implementation of the ledger REST API,
// used for local development and end-to-end tests of the client.
package devserver

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"thebox/internal/kv"
	"thebox/internal/local"
	"thebox/internal/log"
	"thebox/internal/middleware/ratelimit"
	"thebox/internal/middleware/trace"
	"thebox/internal/mirror"
	"thebox/internal/tier"
)

// Publisher receives account events; mirror.Worker satisfies it.
type Publisher interface {
	Publish(e mirror.Event)
}

type Options struct {
	// FreeLimit caps transactions on the free plan (default tier.FreeLimit).
	FreeLimit int
	// AuthRequestsPerMinute limits register, login and refresh per client IP.
	AuthRequestsPerMinute int
	Publisher             Publisher
}

// Server embeds http.Server and owns the API state.
type Server struct {
	*http.Server

	accounts  *local.Accounts
	store     kv.Store
	limit     int
	publisher Publisher
	logger    *log.Logger
	tracer    *trace.Middleware
	limiter   *ratelimit.Limiter

	// mu serializes ledger writes together with the ownership index.
	mu           sync.Mutex
	shutdownOnce sync.Once
}

func New(addr string, accounts *local.Accounts, store kv.Store, opts Options, logger *log.Logger) *Server {
	if opts.FreeLimit <= 0 {
		opts.FreeLimit = tier.FreeLimit
	}
	logger = logger.WithComponent(log.ComponentDevServer)
	s := &Server{
		accounts:  accounts,
		store:     store,
		limit:     opts.FreeLimit,
		publisher: opts.Publisher,
		logger:    logger,
		tracer:    trace.NewMiddleware(logger, ratelimit.ClientIP),
		limiter: ratelimit.NewLimiter(ratelimit.Config{
			RequestsPerMinute: opts.AuthRequestsPerMinute,
		}, logger),
	}
	s.Server = &http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(s.tracer.Handler)
	r.Use(chimiddleware.Recoverer)

	r.Get("/health", handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(s.limiter.Middleware)
			r.Post("/auth/register", s.handleRegister)
			r.Post("/auth/login", s.handleLogin)
			r.Post("/auth/refresh", s.handleRefresh)
		})

		r.Post("/webhook/checkout", s.handleCheckoutWebhook)

		r.Group(func(r chi.Router) {
			r.Use(s.requireAuth)
			r.Get("/profile", s.handleProfile)
			r.Get("/transactions", s.handleListTransactions)
			r.Post("/transactions", s.handleCreateTransaction)
			r.Put("/transactions/{id}", s.handleUpdateTransaction)
			r.Delete("/transactions/{id}", s.handleDeleteTransaction)
			r.Get("/stats", s.handleStats)
			r.Post("/checkout", s.handleCheckout)
		})
	})
	return r
}

// Shutdown stops the rate limiter and gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		s.limiter.Stop()
		err = s.Server.Shutdown(ctx)
	})
	return err
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
