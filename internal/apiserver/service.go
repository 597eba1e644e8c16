package apiserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/coldbell/solpool/internal/chain"
	"github.com/coldbell/solpool/internal/client"
	"github.com/coldbell/solpool/internal/config"
	"github.com/coldbell/solpool/internal/lottery"
	"github.com/coldbell/solpool/internal/metrics"
	"github.com/coldbell/solpool/internal/session"
	"github.com/coldbell/solpool/internal/store"
	"github.com/gagliardetto/solana-go"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Store is the persistence the server uses for pool history and the
// submission log. It is optional.
type Store interface {
	SavePoolSnapshot(ctx context.Context, snap store.PoolSnapshot, retention time.Duration) error
	ListPoolSnapshots(ctx context.Context, filter store.SnapshotFilter) ([]store.PoolSnapshot, int, int, error)
	RecordSubmission(ctx context.Context, sub store.Submission) (store.Submission, error)
	ListSubmissions(ctx context.Context, filter store.SubmissionFilter) ([]store.Submission, int, int, error)
	UpdateSubmissionOutcome(ctx context.Context, signature, outcome, reason string, slot uint64, updatedAt int64) error
	GetSubmission(ctx context.Context, signature string) (store.Submission, error)
	Close() error
}

type Deps struct {
	Client  *client.Client
	Monitor *session.Monitor
	// Confirmer answers signature status lookups.
	Confirmer chain.Confirmer
	// Store may be nil; history and the submission log are then disabled.
	Store Store
	Clock clockwork.Clock
}

type Service struct {
	cfg       config.APIServerConfig
	logger    *slog.Logger
	client    *client.Client
	monitor   *session.Monitor
	confirmer chain.Confirmer
	store     Store
	clock     clockwork.Clock
	pool      solana.PublicKey

	// lastSaved is the newest snapshot generation written to the store.
	lastSaved uint64
}

func New(cfg config.APIServerConfig, deps Deps, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		return nil, errors.New("logger is required")
	}
	if deps.Client == nil {
		return nil, errors.New("client is required")
	}
	if deps.Monitor == nil {
		return nil, errors.New("session monitor is required")
	}
	if deps.Confirmer == nil {
		return nil, errors.New("confirmer is required")
	}
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	addrs, err := deps.Client.Addresses(solana.PublicKey{})
	if err != nil {
		return nil, err
	}

	return &Service{
		cfg:       cfg,
		logger:    logger,
		client:    deps.Client,
		monitor:   deps.Monitor,
		confirmer: deps.Confirmer,
		store:     deps.Store,
		clock:     deps.Clock,
		pool:      addrs.Pool,
	}, nil
}

// Handler returns the routed HTTP handler.
func (s *Service) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
		MaxAge:         600,
	}))

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Get("/ws", s.handleWebsocket)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/pool", s.handlePool)
		r.Get("/pool/history", s.handlePoolHistory)
		r.Get("/deposits/{owner}", s.handleDeposit)
		r.Post("/transactions", s.handlePrepareTransaction)
		r.Get("/submissions", s.handleListSubmissions)
		r.Post("/submissions", s.handleRecordSubmission)
		r.Get("/submissions/{signature}", s.handleSubmissionStatus)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		s.respondMethodNotAllowed(w)
	})
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		s.respondError(w, http.StatusNotFound, "not found")
	})
	return r
}

func (s *Service) Run(ctx context.Context) error {
	if s.store != nil {
		defer func() {
			if err := s.store.Close(); err != nil {
				s.logger.Error("failed to close store", "err", err)
			}
		}()
	}

	// The server watches the pool only; deposit lookups go through the client.
	s.monitor.Connect(solana.PublicKey{})
	s.monitor.Start(ctx)
	if s.store != nil && s.cfg.SnapshotInterval > 0 {
		go s.runSnapshotRecorder(ctx)
	}

	server := &http.Server{
		Addr:         s.cfg.ListenAddr,
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		err := server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			errCh <- nil
			return
		}
		errCh <- err
	}()

	s.logger.Info("api-server started",
		"listen_addr", s.cfg.ListenAddr,
		"pool", s.pool,
		"store_enabled", s.store != nil,
		"allowed_origins", strings.Join(s.cfg.AllowedOrigins, ","),
	)

	select {
	case <-ctx.Done():
		s.logger.Info("api-server stopping")
		if err := server.Shutdown(context.Background()); err != nil {
			return fmt.Errorf("shutdown api-server: %w", err)
		}
		return <-errCh
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen and serve: %w", err)
		}
		return nil
	}
}

type listResponse[T any] struct {
	Items  []T `json:"items"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

type healthResponse struct {
	OK bool `json:"ok"`
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, healthResponse{OK: true})
}

func decodeJSONBody(r *http.Request, destination any) error {
	if r.Body == nil {
		return errors.New("request body is required")
	}
	defer r.Body.Close()

	decoder := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(destination); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	var extra json.RawMessage
	if err := decoder.Decode(&extra); err != io.EOF {
		return errors.New("invalid request body: multiple JSON values")
	}
	return nil
}

func parseOptionalInt(r *http.Request, key string, fallback int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return value, nil
}

func parseOptionalInt64(r *http.Request, key string) (*int64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return nil, nil
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", key, err)
	}
	return &value, nil
}

// statusForError maps the error taxonomy onto HTTP status codes.
func statusForError(err error) int {
	switch lottery.KindOf(err) {
	case lottery.KindArgumentOutOfRange:
		return http.StatusBadRequest
	case lottery.KindAccountNotFound:
		return http.StatusNotFound
	case lottery.KindReadUnavailable:
		return http.StatusServiceUnavailable
	case lottery.KindMalformedAccount:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Service) respondKindError(w http.ResponseWriter, err error, message string) {
	code := statusForError(err)
	if code >= http.StatusInternalServerError {
		s.logger.Error(message, "err", err)
	}
	kind := lottery.KindOf(err)
	if code == http.StatusBadRequest {
		message = err.Error()
	}
	s.respondJSON(w, code, errorResponse{Error: message, Kind: kind.String()})
}

func (s *Service) respondMethodNotAllowed(w http.ResponseWriter) {
	s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func (s *Service) respondError(w http.ResponseWriter, code int, message string) {
	s.respondJSON(w, code, errorResponse{Error: message})
}

func (s *Service) respondJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to write JSON response", "err", err)
	}
}
