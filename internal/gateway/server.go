// Package gateway is the node's HTTP surface: the callback endpoints seller
// platforms and the registry call back into, and the live-update streams
// connected clients follow.
package gateway

import (
	"context"
	"crypto/ed25519"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"openbap/go-backend/internal/correlation"
	"openbap/go-backend/internal/identity"
	"openbap/go-backend/internal/outbound"
	"openbap/go-backend/internal/platform/ratelimiter"
	"openbap/go-backend/internal/stream"
)

// KeyResolver looks up a counterpart's published signing key for inbound
// signature verification. Returning false means the caller is unknown.
type KeyResolver func(subscriberID, uniqueKeyID string) (ed25519.PublicKey, bool)

type Options struct {
	ListenAddr string
	// NetworkPublicKey is the registry's published X25519 key for the
	// challenge handshake.
	NetworkPublicKey []byte
	// ResolveKey enables inbound signature verification when non-nil.
	ResolveKey KeyResolver
	Limiter    *ratelimiter.CallerLimiter
}

type Server struct {
	httpServer  *http.Server
	tenant      *identity.Tenant
	multi       *correlation.MultiReply
	single      *correlation.SingleReply
	status      *correlation.StatusStore
	broadcaster *stream.Broadcaster
	sender      *outbound.Sender
	opts        Options
	metrics     *Metrics
	log         *slog.Logger
}

func NewServer(tenant *identity.Tenant, multi *correlation.MultiReply, single *correlation.SingleReply, status *correlation.StatusStore, broadcaster *stream.Broadcaster, sender *outbound.Sender, metrics *Metrics, opts Options, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	if metrics == nil {
		metrics = NewMetrics()
	}
	s := &Server{
		tenant:      tenant,
		multi:       multi,
		single:      single,
		status:      status,
		broadcaster: broadcaster,
		sender:      sender,
		opts:        opts,
		metrics:     metrics,
		log:         log,
	}
	s.httpServer = &http.Server{
		Addr:              opts.ListenAddr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{}))

	// Network-facing callbacks.
	r.Post("/on_search", s.callbackHandler("search", s.applySearchReply))
	r.Post("/on_select", s.callbackHandler("select", s.applyActionReply("select")))
	r.Post("/on_init", s.callbackHandler("init", s.applyActionReply("init")))
	r.Post("/on_confirm", s.callbackHandler("confirm", s.applyActionReply("confirm")))
	r.Post("/on_status", s.callbackHandler("status", s.applyStatusReply))
	r.Post("/on_subscribe", s.handleOnSubscribe)

	// Client-facing live updates and action triggers.
	r.Get("/events/search/{transactionID}", s.handleSearchStream)
	r.Get("/events/{action}/{transactionID}/{messageID}", s.handleActionStream)
	if s.sender != nil {
		r.Post("/api/search", s.handleAPISearch)
		r.Post("/api/{action}", s.handleAPIAction)
		r.Get("/api/orders", s.handleAPIOrders)
		r.Get("/api/status/{orderID}", s.handleAPIOrderStatus)
	}
	return r
}

func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		err := s.httpServer.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			errCh <- nil
			return
		}
		errCh <- err
	}()
	s.log.Info("gateway listening", "addr", s.httpServer.Addr, "subscriber_id", s.tenant.SubscriberID)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return <-errCh
	case err := <-errCh:
		return err
	}
}

// Handler exposes the routed handler for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
