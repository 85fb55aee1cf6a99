package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/vincentbai/shoptrace/internal/delivery"
	"github.com/vincentbai/shoptrace/internal/models"
	"github.com/vincentbai/shoptrace/internal/observability"
)

const maxBodyBytes = 5 << 20

// Store is where the sink puts what it receives.
type Store interface {
	InsertSession(ctx context.Context, session models.Session) error
	InsertEvents(ctx context.Context, events []models.Event) error
}

type Options struct {
	Address        string
	APIKey         string
	AllowedOrigins []string
	Logger         *slog.Logger
}

type Server struct {
	store   Store
	address string
	apiKey  string
	origins []string
	logger  *slog.Logger
	server  *http.Server

	eventsStored atomic.Int64
}

func NewServer(store Store, opts Options) *Server {
	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "sink")
	} else {
		logger = observability.WithFields("component", "sink")
	}
	return &Server{
		store:   store,
		address: opts.Address,
		apiKey:  opts.APIKey,
		origins: opts.AllowedOrigins,
		logger:  logger,
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Write([]byte("ok"))
}

func (s *Server) handleSessions(w http.ResponseWriter, request *http.Request) {
	sessions, err := decodeOneOrMany[models.Session](request.Body)
	if err != nil {
		http.Error(w, "Invalid JSON format", http.StatusBadRequest)
		return
	}
	for _, session := range sessions {
		if err := session.Validate(); err != nil {
			http.Error(w, fmt.Sprintf("Invalid session: %v", err), http.StatusBadRequest)
			return
		}
	}
	for _, session := range sessions {
		if err := s.store.InsertSession(request.Context(), session); err != nil {
			s.logger.Error("failed to store session", "request_id", requestID(request), "session_id", session.ID, "error", err)
			http.Error(w, "Failed to store session", http.StatusInternalServerError)
			return
		}
		s.logger.Info("session stored", "session_id", session.ID, "device_type", session.DeviceType)
	}
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) handleEvents(w http.ResponseWriter, request *http.Request) {
	events, err := decodeOneOrMany[models.Event](request.Body)
	if err != nil {
		http.Error(w, "Invalid JSON format", http.StatusBadRequest)
		return
	}
	if len(events) == 0 {
		w.WriteHeader(http.StatusCreated)
		return
	}
	for _, event := range events {
		if err := event.Validate(); err != nil {
			http.Error(w, fmt.Sprintf("Invalid event: %v", err), http.StatusBadRequest)
			return
		}
	}
	if err := s.store.InsertEvents(request.Context(), events); err != nil {
		s.logger.Error("failed to store events", "request_id", requestID(request), "count", len(events), "error", err)
		http.Error(w, "Failed to store events", http.StatusInternalServerError)
		return
	}
	total := s.eventsStored.Add(int64(len(events)))
	s.logger.Debug("events stored", "count", len(events), "total", humanize.Comma(total))
	w.WriteHeader(http.StatusCreated) // return=minimal, no body
}

// requireAPIKey rejects requests whose apikey header does not match. With no
// key configured every request passes.
func (s *Server) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey != "" && r.Header.Get("apikey") != s.apiKey {
			http.Error(w, "Invalid API key", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
			r.Header.Set("X-Request-ID", id)
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r)
	})
}

func requestID(r *http.Request) string {
	return r.Header.Get("X-Request-ID")
}

func (s *Server) setupRoutes() *mux.Router {
	router := mux.NewRouter()
	router.Use(withRequestID)
	router.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)

	rest := router.NewRoute().Subrouter()
	rest.Use(s.requireAPIKey)
	rest.HandleFunc(delivery.SessionsPath, s.handleSessions).Methods(http.MethodPost)
	rest.HandleFunc(delivery.EventsPath, s.handleEvents).Methods(http.MethodPost)
	return router
}

// Handler is the full sink handler, CORS included.
func (s *Server) Handler() http.Handler {
	origins := s.origins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"apikey", "Authorization", "Content-Type", "Prefer", "X-Request-ID"},
		MaxAge:         600,
	})
	return c.Handler(s.setupRoutes())
}

func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.address,
		Handler:      s.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	// Graceful shutdown
	shutdownChannel := make(chan os.Signal, 1)
	signal.Notify(shutdownChannel, syscall.SIGINT, syscall.SIGTERM)

	serveErr := make(chan error, 1)
	go func() {
		s.logger.Info("shoptrace sink listening", "address", s.address)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case err := <-serveErr:
		return fmt.Errorf("server failed to start: %w", err)
	case <-shutdownChannel:
	}
	s.logger.Info("shutting down server")

	shutdownContext, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.server.Shutdown(shutdownContext); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	s.logger.Info("server exited", "events_stored", humanize.Comma(s.eventsStored.Load()))
	return nil
}

// decodeOneOrMany accepts both a JSON object and an array of objects, as
// PostgREST inserts do.
func decodeOneOrMany[T any](body io.Reader) ([]T, error) {
	raw, err := io.ReadAll(io.LimitReader(body, maxBodyBytes))
	if err != nil {
		return nil, err
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, errors.New("empty body")
	}
	if raw[0] == '[' {
		var many []T
		if err := json.Unmarshal(raw, &many); err != nil {
			return nil, err
		}
		return many, nil
	}
	var one T
	if err := json.Unmarshal(raw, &one); err != nil {
		return nil, err
	}
	return []T{one}, nil
}
