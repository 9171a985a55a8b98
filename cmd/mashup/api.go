package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/CTAG07/Mashup/pkg/corpus"
	"github.com/CTAG07/Mashup/pkg/journal"
	"github.com/CTAG07/Mashup/pkg/markov"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const (
	defaultRunsLimit = 20
	maxRunsLimit     = 500
)

var errBadRequest = errors.New("bad request")

// API holds the dependencies for the HTTP handlers.
type API struct {
	config  *Config
	mashup  *Mashup
	journal *journal.Journal
	logger  *slog.Logger
}

// VersionInfo defines the structure for build/version information.
type VersionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
}

// GenerateRequest is the body of POST /api/generate. Omitted fields fall
// back to the generation config.
type GenerateRequest struct {
	Corpora     []string `json:"corpora"`
	Order       *int     `json:"order"`
	Length      *int     `json:"length"`
	Unit        string   `json:"unit"`
	Seed        *uint64  `json:"seed"`
	SkipHeader  *bool    `json:"skip_header"`
	Temperature *float64 `json:"temperature"`
	TopK        *int     `json:"top_k"`
}

// GenerateResponse is the body returned by POST /api/generate.
type GenerateResponse struct {
	Text   string   `json:"text"`
	Tokens []string `json:"tokens"`
	Order  int      `json:"order"`
	Length int      `json:"length"`
	RunID  string   `json:"run_id,omitempty"`
}

// NewAPI creates a new instance of the API. j may be nil, which disables the
// /api/runs endpoints.
func NewAPI(config *Config, j *journal.Journal, logger *slog.Logger) *API {
	return &API{
		config:  config,
		mashup:  NewMashup(j, logger),
		journal: j,
		logger:  logger,
	}
}

// Routes builds the router for all /api endpoints.
func (a *API) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLoggingMiddleware(a.logger))
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", a.handleHealth)
		r.Get("/version", a.handleVersion)
		r.Get("/corpora", a.handleCorpora)
		r.Post("/generate", a.handleGenerate)
		r.Post("/generate/stream", a.handleGenerateStream)

		r.Route("/runs", func(r chi.Router) {
			r.Use(a.requireJournal)
			r.Get("/", a.handleRuns)
			r.Get("/stats", a.handleRunStats)
			r.Get("/export", a.handleRunExport)
			r.Get("/{id}", a.handleRun)
		})
	})
	return r
}

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleVersion returns the application's build information.
func (a *API) handleVersion(w http.ResponseWriter, _ *http.Request) {
	respondWithJSON(w, http.StatusOK, VersionInfo{
		Version:   Version,
		Commit:    Commit,
		BuildDate: BuildDate,
	})
}

// handleCorpora lists the files available to /api/generate.
func (a *API) handleCorpora(w http.ResponseWriter, r *http.Request) {
	entries, err := os.ReadDir(a.config.Server.CorpusDir)
	if err != nil && !os.IsNotExist(err) {
		a.logger.ErrorContext(r.Context(), "Failed to list corpora", "error", err)
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to list corpora: %v", err))
		return
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.Type().IsRegular() {
			names = append(names, entry.Name())
		}
	}
	respondWithJSON(w, http.StatusOK, names)
}

func (a *API) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid JSON request body")
		return
	}

	run, err := a.buildRequest(req)
	if err != nil {
		respondWithError(w, statusFor(err), err.Error())
		return
	}

	res, err := a.mashup.Run(r.Context(), run, nil, nil)
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			a.logger.ErrorContext(r.Context(), "Generation failed", "error", err)
		}
		respondWithError(w, status, err.Error())
		return
	}

	respondWithJSON(w, http.StatusOK, GenerateResponse{
		Text:   res.Text,
		Tokens: res.Tokens,
		Order:  run.Generation.Order,
		Length: len(res.Tokens),
		RunID:  res.RunID,
	})
}

// handleGenerateStream writes generated text as plain text, flushing after
// every token. Errors that happen after the first byte are reported in the
// X-Mashup-Error trailer; the run ID, when journaled, in X-Mashup-Run-Id.
func (a *API) handleGenerateStream(w http.ResponseWriter, r *http.Request) {
	var req GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid JSON request body")
		return
	}
	run, err := a.buildRequest(req)
	if err != nil {
		respondWithError(w, statusFor(err), err.Error())
		return
	}
	p, err := a.mashup.prepare(r.Context(), run)
	if err != nil {
		respondWithError(w, statusFor(err), err.Error())
		return
	}
	if run.Generation.Length < p.table.Order() {
		respondWithError(w, http.StatusBadRequest, fmt.Sprintf("length %d is shorter than order %d", run.Generation.Length, p.table.Order()))
		return
	}

	flush := func() {}
	if flusher, ok := w.(http.Flusher); ok {
		flush = flusher.Flush
	} else {
		a.logger.WarnContext(r.Context(), "ResponseWriter does not support flushing, sending response at once.")
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Trailer", "X-Mashup-Error, X-Mashup-Run-Id")
	w.WriteHeader(http.StatusOK)

	res, err := a.mashup.stream(r.Context(), p, w, flush)
	if err != nil {
		a.logger.WarnContext(r.Context(), "Generation stream stopped early", "error", err)
		w.Header().Set("X-Mashup-Error", err.Error())
		return
	}
	if res.RunID != "" {
		w.Header().Set("X-Mashup-Run-Id", res.RunID)
	}
}

// buildRequest validates a GenerateRequest and resolves its corpus names.
func (a *API) buildRequest(req GenerateRequest) (Request, error) {
	if len(req.Corpora) == 0 {
		return Request{}, fmt.Errorf("%w: at least one corpus is required", errBadRequest)
	}

	gen := *a.config.Generation
	if req.Order != nil {
		gen.Order = *req.Order
	}
	if req.Length != nil {
		gen.Length = *req.Length
	}
	if req.Unit != "" {
		gen.Unit = req.Unit
	}
	if req.SkipHeader != nil {
		gen.SkipHeader = *req.SkipHeader
	}
	if req.Temperature != nil {
		gen.Temperature = *req.Temperature
	}
	if req.TopK != nil {
		gen.TopK = *req.TopK
	}
	if gen.Length > a.config.Server.MaxLength {
		return Request{}, fmt.Errorf("%w: length %d exceeds the maximum of %d", errBadRequest, gen.Length, a.config.Server.MaxLength)
	}

	files := make([]string, len(req.Corpora))
	for i, name := range req.Corpora {
		if name == "" || name == "." || name == ".." || filepath.Base(name) != name {
			return Request{}, fmt.Errorf("%w: invalid corpus name %q", errBadRequest, name)
		}
		files[i] = filepath.Join(a.config.Server.CorpusDir, name)
	}

	return Request{Files: files, Generation: gen, Seed: req.Seed}, nil
}

// requireJournal answers 404 for every route it guards when no journal is
// configured.
func (a *API) requireJournal(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.journal == nil {
			respondWithError(w, http.StatusNotFound, "The run journal is disabled")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *API) handleRuns(w http.ResponseWriter, r *http.Request) {
	limit := defaultRunsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			respondWithError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxRunsLimit)
	}
	runs, err := a.journal.Recent(r.Context(), limit)
	if err != nil {
		a.logger.ErrorContext(r.Context(), "Failed to query runs", "error", err)
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Database error: %v", err))
		return
	}
	respondWithJSON(w, http.StatusOK, runs)
}

func (a *API) handleRun(w http.ResponseWriter, r *http.Request) {
	run, err := a.journal.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondWithError(w, statusFor(err), err.Error())
		return
	}
	respondWithJSON(w, http.StatusOK, run)
}

func (a *API) handleRunStats(w http.ResponseWriter, r *http.Request) {
	stats, err := a.journal.Stats(r.Context())
	if err != nil {
		a.logger.ErrorContext(r.Context(), "Failed to query run stats", "error", err)
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Database error: %v", err))
		return
	}
	respondWithJSON(w, http.StatusOK, stats)
}

func (a *API) handleRunExport(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="mashup_journal.json"`)
	if err := a.journal.Export(r.Context(), w); err != nil {
		// Headers may already be sent; the log is all that is left.
		a.logger.ErrorContext(r.Context(), "Failed to export journal", "error", err)
	}
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, markov.ErrInvalidOrder),
		errors.Is(err, markov.ErrInvalidLength),
		errors.Is(err, markov.ErrInsufficientData),
		errors.Is(err, markov.ErrEmptyModel),
		errors.Is(err, corpus.ErrUnknownUnit),
		errors.Is(err, corpus.ErrNoSources):
		return http.StatusBadRequest
	case errors.Is(err, os.ErrNotExist), errors.Is(err, journal.ErrRunNotFound):
		return http.StatusNotFound
	case errors.Is(err, markov.ErrUnseenTransition):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// requestLoggingMiddleware logs every request once it has been served.
func requestLoggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.InfoContext(r.Context(), "HTTP request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"remote_addr", r.RemoteAddr,
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}

// serve runs handler on addr until ctx is cancelled, then shuts down
// gracefully.
func serve(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting API server", "address", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("api server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Stopping API server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api server shutdown failed: %w", err)
	}
	logger.Info("API server stopped.")
	return nil
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			slog.Error("Failed to encode JSON response", "error", err)
		}
	}
}
