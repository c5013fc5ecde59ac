package server

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/accountsync/userservice/config"
	"github.com/accountsync/userservice/internal/archive"
	"github.com/accountsync/userservice/internal/db"
	"github.com/accountsync/userservice/internal/handlers"
	"github.com/accountsync/userservice/internal/mq"
	"github.com/accountsync/userservice/internal/services"
	"github.com/accountsync/userservice/internal/store"
	"github.com/accountsync/userservice/pkg/logger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Server wraps the HTTP server, router, and owned connections.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	db         *sql.DB
	broker     *mq.MQ
}

// New constructs a Server with basic middleware and defaults.
func New(ctx context.Context, cfg config.Config) (*Server, error) {
	log := logger.Get()

	dbConn, err := db.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}

	broker, err := NewBroker(ctx, cfg)
	if err != nil {
		_ = dbConn.Close()
		return nil, err
	}

	var archiver services.Archiver
	if a, err := newArchiver(ctx, cfg); err != nil {
		_ = broker.Close()
		_ = dbConn.Close()
		return nil, err
	} else if a != nil {
		archiver = a
	}

	accountRepo := store.NewAccountRepository(dbConn)
	accountService := services.NewAccountService(
		accountRepo,
		transactor{repo: accountRepo},
		broker,
		archiver,
		log,
	)

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		middleware.Logger,
		middleware.Timeout(60*time.Second),
	)
	router.Get("/healthz", handlers.Healthz)
	router.Route("/users", func(r chi.Router) {
		handlers.UserRouter(r, accountService, cfg.GatewayJWTSecret)
	})

	port := cfg.ServerPort
	if port == 0 {
		port = 8080
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: httpServer,
		router:     router,
		db:         dbConn,
		broker:     broker,
	}, nil
}

// Router exposes the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start runs the HTTP server.
func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown attempts a graceful shutdown.
func (s *Server) Shutdown() error {
	if s.db != nil {
		_ = s.db.Close()
	}
	if s.broker != nil {
		_ = s.broker.Close()
	}
	return s.httpServer.Close()
}

// NewBroker selects and connects the configured broker backend. Shared
// with the relay command so both processes agree on topology.
func NewBroker(ctx context.Context, cfg config.Config) (*mq.MQ, error) {
	switch cfg.MQBackend {
	case "", "rabbitmq":
		backend, err := mq.NewRabbitMQClient(cfg.RabbitMQ)
		if err != nil {
			return nil, err
		}
		return mq.New(backend), nil
	case "pubsub":
		backend, err := mq.NewPubSubClient(ctx, cfg.PubSub)
		if err != nil {
			return nil, err
		}
		return mq.New(backend), nil
	default:
		return nil, fmt.Errorf("unknown mq backend %q", cfg.MQBackend)
	}
}

func newArchiver(ctx context.Context, cfg config.Config) (*archive.Archiver, error) {
	var backend archive.ObjectStore
	switch cfg.ArchiveBackend {
	case "":
		return nil, nil
	case "minio":
		client, err := archive.NewMinioClient(cfg.Minio)
		if err != nil {
			return nil, err
		}
		backend = client
	case "gcs":
		client, err := archive.NewGCSClient(ctx, cfg.GCS)
		if err != nil {
			return nil, err
		}
		backend = client
	default:
		return nil, fmt.Errorf("unknown archive backend %q", cfg.ArchiveBackend)
	}

	archiver := archive.NewArchiver(backend)
	if err := archiver.EnsureBucket(ctx); err != nil {
		return nil, err
	}
	return archiver, nil
}

// transactor adapts the store's transaction scope to the interface the
// service layer consumes.
type transactor struct {
	repo *store.AccountRepository
}

func (t transactor) Transact(ctx context.Context, fn func(services.AccountRepository) error) error {
	return t.repo.Transact(ctx, func(tx *store.AccountRepository) error {
		return fn(tx)
	})
}
