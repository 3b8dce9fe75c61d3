package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/expense-tracker/apiserver/config"
	"github.com/expense-tracker/apiserver/internal/auth"
	"github.com/expense-tracker/apiserver/internal/db"
	"github.com/expense-tracker/apiserver/internal/handlers"
	"github.com/expense-tracker/apiserver/internal/mq"
	"github.com/expense-tracker/apiserver/internal/services"
	"github.com/expense-tracker/apiserver/internal/storage"
	"github.com/expense-tracker/apiserver/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// Server wraps the HTTP server and router.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	db         *sql.DB
	queue      *mq.MQ
	storage    *storage.Storage
}

// Dependencies are the collaborators the router dispatches to.
type Dependencies struct {
	DB          *sql.DB
	Users       *services.UserService
	Expenses    *services.ExpenseService
	CORSOrigins []string
}

// New connects the database, the optional event broker and the optional
// receipt store, and builds the HTTP server.
func New(ctx context.Context, cfg config.Config) (*Server, error) {
	tokens, err := auth.NewTokenIssuer(cfg.Auth.SecretKey, cfg.Auth.Algorithm, cfg.Auth.TokenTTL)
	if err != nil {
		return nil, fmt.Errorf("SECRET_KEY/ALGORITHM: %w", err)
	}

	dbConn, err := db.Open(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}

	srv := &Server{db: dbConn}

	queue, err := mq.Open(ctx, cfg.Events)
	if err != nil {
		_ = srv.close()
		return nil, err
	}
	srv.queue = queue

	receipts, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		_ = srv.close()
		return nil, err
	}
	srv.storage = receipts

	userService := services.NewUserService(store.NewUserRepository(dbConn), tokens)
	expenseService := services.NewExpenseService(store.NewExpenseRepository(dbConn))
	if queue != nil {
		expenseService.WithEvents(queue, cfg.Events.Channel)
	}
	if receipts != nil {
		expenseService.WithReceipts(receipts)
	}

	srv.router = NewRouter(Dependencies{
		DB:          dbConn,
		Users:       userService,
		Expenses:    expenseService,
		CORSOrigins: cfg.CORS.AllowedOrigins,
	})

	port := cfg.ServerPort
	if port == 0 {
		port = 8000
	}

	srv.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      srv.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return srv, nil
}

// NewRouter builds the chi router with the middleware stack and every route.
func NewRouter(deps Dependencies) *chi.Mux {
	authMiddleware := handlers.RequireAuth(deps.Users)

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		middleware.Logger,
		middleware.Timeout(60*time.Second),
		cors.Handler(cors.Options{
			AllowedOrigins:   deps.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS", "HEAD"},
			AllowedHeaders:   []string{"*"},
			AllowCredentials: true,
			MaxAge:           600,
		}),
	)
	router.Get("/", handlers.Root)
	router.Get("/healthz", handlers.Healthz(deps.DB))
	router.Group(func(r chi.Router) {
		r.Use(handlers.DBScope(deps.DB))
		handlers.AuthRouter(r, deps.Users)
		r.Route("/expenses", func(r chi.Router) {
			handlers.ExpenseRouter(r, deps.Expenses, authMiddleware)
		})
	})

	return router
}

// Router exposes the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Start runs the HTTP server until it is shut down.
func (s *Server) Start() error {
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, waits for in-flight ones and then
// releases the database, broker and storage clients.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	return errors.Join(err, s.close())
}

func (s *Server) close() error {
	var errs []error
	if s.queue != nil {
		errs = append(errs, s.queue.Close())
	}
	if s.storage != nil {
		errs = append(errs, s.storage.Close())
	}
	if s.db != nil {
		errs = append(errs, s.db.Close())
	}
	return errors.Join(errs...)
}
