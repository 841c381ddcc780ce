package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/conorfennell/cardcrawl/internal/aigen"
	"github.com/conorfennell/cardcrawl/internal/domain"
	"github.com/conorfennell/cardcrawl/internal/game"
	"github.com/conorfennell/cardcrawl/internal/storage"
	"github.com/conorfennell/cardcrawl/internal/sync"
)

const maxJSONBody = 1 << 20

// Options tunes request limits.
type Options struct {
	MaxUploadSize int64
	GenerateRate  float64
	GenerateBurst int
}

// Server holds the dependencies for the HTTP server.
type Server struct {
	db        *storage.DB
	game      *game.Controller
	syncer    *sync.Syncer
	gen       *aigen.Generator
	router    *http.ServeMux
	limiter   *RateLimiter
	log       *slog.Logger
	now       func() time.Time
	maxUpload int64
}

// NewServer creates and configures a new server. gen may be nil, in which
// case generation requests are answered with 503.
func NewServer(db *storage.DB, ctrl *game.Controller, syncer *sync.Syncer, gen *aigen.Generator, opts Options, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxUploadSize <= 0 {
		opts.MaxUploadSize = 16 << 20
	}
	s := &Server{
		db:        db,
		game:      ctrl,
		syncer:    syncer,
		gen:       gen,
		router:    http.NewServeMux(),
		limiter:   NewRateLimiter(opts.GenerateRate, opts.GenerateBurst),
		log:       logger.With("component", "web"),
		now:       time.Now,
		maxUpload: opts.MaxUploadSize,
	}
	s.routes()
	return s
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	s.router.ServeHTTP(rec, r)
	s.log.Debug("request", "method", r.Method, "path", r.URL.Path, "status", rec.status, "duration", time.Since(start))
}

// routes sets up the routing for the server.
func (s *Server) routes() {
	s.router.HandleFunc("GET /healthz", s.handleHealth())

	// Decks
	s.router.HandleFunc("GET /api/decks", s.handleListDecks())
	s.router.HandleFunc("POST /api/decks/import", s.handleImportDeck())
	s.router.HandleFunc("POST /api/decks/generate", s.handleGenerateDeck())
	s.router.HandleFunc("GET /api/decks/{deck}", s.handleGetDeck())
	s.router.HandleFunc("DELETE /api/decks/{deck}", s.handleDeleteDeck())
	s.router.HandleFunc("GET /api/decks/{deck}/stats", s.handleDeckStats())

	// Source management
	s.router.HandleFunc("GET /api/sources", s.handleGetSources())
	s.router.HandleFunc("POST /api/sources", s.handlePostSource())
	s.router.HandleFunc("DELETE /api/sources/{source}", s.handleDeleteSource())
	s.router.HandleFunc("POST /api/sync", s.handlePostSync())

	// Game
	s.router.HandleFunc("POST /api/decks/{deck}/game", s.handleStartGame())
	s.router.HandleFunc("GET /api/decks/{deck}/game", s.handleGameStatus())
	s.router.HandleFunc("DELETE /api/decks/{deck}/game", s.handleAbandonGame())
	s.router.HandleFunc("POST /api/decks/{deck}/game/reveal", s.handleReveal())
	s.router.HandleFunc("POST /api/decks/{deck}/game/answer", s.handleAnswer())
	s.router.HandleFunc("POST /api/decks/{deck}/game/powerup", s.handlePowerup())
	s.router.HandleFunc("POST /api/decks/{deck}/game/save", s.handleSave())
	s.router.HandleFunc("POST /api/decks/{deck}/game/load", s.handleLoad())
	s.router.HandleFunc("GET /api/decks/{deck}/game/saves", s.handleListSaves())
	s.router.HandleFunc("DELETE /api/decks/{deck}/game/saves/{name}", s.handleDeleteSave())
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.Is(err, aigen.ErrDisabled):
		return http.StatusServiceUnavailable
	case errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, domain.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrNoCards):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
		if status == http.StatusInternalServerError {
			msg = http.StatusText(status)
		}
	}
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeJSON reads a JSON body into v. Malformed bodies are validation
// errors.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			return err
		}
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: empty request body", domain.ErrValidation)
		}
		return fmt.Errorf("%w: invalid JSON: %v", domain.ErrValidation, err)
	}
	return nil
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid %s id %q", domain.ErrValidation, name, r.PathValue(name))
	}
	return id, nil
}

// deckID parses the deck path value and checks the deck exists.
func (s *Server) deckID(r *http.Request) (int64, error) {
	id, err := pathID(r, "deck")
	if err != nil {
		return 0, err
	}
	if _, err := s.db.GetDeck(r.Context(), id); err != nil {
		return 0, err
	}
	return id, nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
