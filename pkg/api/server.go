package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/joripage/bess-exchange/pkg/distributor"
	"github.com/joripage/bess-exchange/pkg/exchange"
	"github.com/joripage/bess-exchange/pkg/logging"
	"github.com/joripage/bess-exchange/pkg/metrics"
	"github.com/joripage/bess-exchange/pkg/policy"
	"github.com/joripage/bess-exchange/pkg/pricefeed"
	"github.com/joripage/bess-exchange/pkg/signing"
	"github.com/rs/cors"
	"go.uber.org/zap"
)

const (
	apiKeyHeader = "X-API-Key"
	defaultOwner = "demo"
)

type Config struct {
	Addr           string   `yaml:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type PolicyStore interface {
	Current() *policy.Policy
	Reload() (*policy.Policy, error)
}

type Deps struct {
	Exchange    *exchange.Service
	Distributor *distributor.Distributor
	Policy      PolicyStore
	Keys        *signing.KeyRing
	PriceFeed   *pricefeed.Aggregator
	Metrics     *metrics.Metrics
}

// Server exposes the exchange over REST and websockets.
type Server struct {
	cfg    Config
	deps   Deps
	router *mux.Router
	http   *http.Server
	log    *zap.Logger
}

func NewServer(cfg Config, deps Deps, log *zap.Logger) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":9000"
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		cfg:    cfg,
		deps:   deps,
		router: mux.NewRouter(),
		log:    log.Named("api"),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := s.router
	r.Use(s.requestID)

	r.HandleFunc("/orders", s.handleSubmitOrder).Methods(http.MethodPost)
	r.HandleFunc("/orders", s.handleListOrders).Methods(http.MethodGet)
	r.HandleFunc("/orders/{id}", s.handleGetOrder).Methods(http.MethodGet)
	r.HandleFunc("/orders/{id}/events", s.handleOrderEvents).Methods(http.MethodGet)
	r.HandleFunc("/trades", s.handleListTrades).Methods(http.MethodGet)
	r.HandleFunc("/book/{market}", s.handleGetBook).Methods(http.MethodGet)
	r.HandleFunc("/book/{market}/depth", s.handleGetDepth).Methods(http.MethodGet)

	r.HandleFunc("/telemetry/bess", s.handlePostTelemetry).Methods(http.MethodPost)
	r.HandleFunc("/telemetry/bess", s.handleGetTelemetry).Methods(http.MethodGet)

	r.HandleFunc("/market/prices", s.handleMarketPrices).Methods(http.MethodGet)
	r.HandleFunc("/market/history", s.handleMarketHistory).Methods(http.MethodGet)
	r.HandleFunc("/market/stats", s.handleMarketStats).Methods(http.MethodGet)

	admin := r.PathPrefix("/admin").Subrouter()
	admin.HandleFunc("/policy", s.handleGetPolicy).Methods(http.MethodGet)
	admin.HandleFunc("/policy/reload", s.handleReloadPolicy).Methods(http.MethodPost)
	admin.HandleFunc("/book_inject", s.handleBookInject).Methods(http.MethodPost)
	admin.HandleFunc("/pricefeed/push", s.handlePricePush).Methods(http.MethodPost)
	admin.HandleFunc("/ws_hmac/rotate", s.handleRotateKey).Methods(http.MethodPost)

	r.HandleFunc("/.well-known/ws-keys", s.handleKeyDiscovery).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", s.deps.Metrics.Handler()).Methods(http.MethodGet)

	ws := r.PathPrefix("/ws").Subrouter()
	ws.HandleFunc("/book/{market}", s.handleWSBook)
	ws.HandleFunc("/trades", s.handleWSTrades)
	ws.HandleFunc("/orders", s.handleWSOrders)
	ws.HandleFunc("/prices/{market}", s.handleWSPrices)
}

// Handler is the router wrapped with CORS.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: s.cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization", apiKeyHeader},
	})
	return c.Handler(s.router)
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.http = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.log.Info("http server starting", zap.String("addr", s.cfg.Addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = logging.NewRequestID()
		}
		w.Header().Set("X-Request-ID", id)
		ctx := logging.WithRequestID(r.Context(), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func owner(r *http.Request) string {
	if k := r.Header.Get(apiKeyHeader); k != "" {
		return k
	}
	if k := r.URL.Query().Get("api_key"); k != "" {
		return k
	}
	return defaultOwner
}
