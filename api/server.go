// Package api provides the HTTP REST API server for dcfscan.
//
// It exposes endpoints for single valuations, batch runs, stored history,
// trend analysis, screening, and WebSocket streaming of batch progress.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/dcfscan/dcfscan/internal/batch"
	"github.com/dcfscan/dcfscan/internal/config"
	"github.com/dcfscan/dcfscan/internal/datasource"
	"github.com/dcfscan/dcfscan/internal/history"
	"github.com/dcfscan/dcfscan/internal/report"
	"github.com/dcfscan/dcfscan/internal/screen"
	"github.com/dcfscan/dcfscan/internal/trend"
	"github.com/dcfscan/dcfscan/internal/valuation"
	"github.com/dcfscan/dcfscan/pkg/models"
)

// Server is the HTTP API server.
type Server struct {
	router   chi.Router
	cfg      *config.Config
	source   datasource.Source
	store    history.Store
	screener *screen.Screener
	analyzer *trend.Analyzer
	wsHub    *WSHub
}

// NewServer creates a configured API server with all routes and middleware.
func NewServer(cfg *config.Config, source datasource.Source, store history.Store) *Server {
	srv := &Server{
		cfg:      cfg,
		source:   source,
		store:    store,
		screener: screen.New(store),
		analyzer: trend.New(store),
		wsHub:    NewWSHub(),
	}
	srv.router = srv.buildRouter()
	go srv.wsHub.Run()
	return srv
}

// Router returns the chi router for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// ListenAndServe starts the HTTP server with graceful shutdown.
func (s *Server) ListenAndServe(addr string) error {
	httpSrv := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	<-done
	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	return httpSrv.Shutdown(ctx)
}

// buildRouter configures all routes and middleware.
func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(120 * time.Second))

	// Browsers reject credentialed responses with a wildcard origin, so
	// credentials are only allowed when explicit origins are configured.
	origins := s.cfg.API.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: len(origins) > 0 && origins[0] != "*",
		MaxAge:           300,
	}))

	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		// Valuations
		r.Post("/analyze", s.handleAnalyze)
		r.Post("/batch", s.handleBatch)
		r.Get("/valuations", s.handleScreen)
		r.Get("/valuations/{ticker}", s.handleLatest)
		r.Get("/valuations/{ticker}/history", s.handleHistory)
		r.Get("/valuations/{ticker}/trend", s.handleTrend)
		r.Get("/valuations/{ticker}/trend/chart", s.handleTrendChart)

		// Presets
		r.Get("/presets", s.handlePresets)

		// WebSocket batch progress stream
		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

// APIResponse is the standard JSON envelope.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// AnalyzeRequest is the body for POST /api/v1/analyze.
type AnalyzeRequest struct {
	Ticker string `json:"ticker"`
	Preset string `json:"preset,omitempty"`
	// Price overrides the fetched quote when positive.
	Price    float64            `json:"price,omitempty"`
	Params   *models.Parameters `json:"params,omitempty"`
	Lookback int                `json:"lookback,omitempty"`
}

// BatchRequest is the body for POST /api/v1/batch.
type BatchRequest struct {
	Tickers []string `json:"tickers"`
	Preset  string   `json:"preset,omitempty"`
	Workers int      `json:"workers,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data: map[string]any{
			"status": "ok",
			"source": s.source.Name(),
			"time":   time.Now().UTC().Format(time.RFC3339),
		},
	})
}

// handleAnalyze fetches the ticker's series, runs one valuation and appends
// it to the store.
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req AnalyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Ticker == "" {
		writeError(w, http.StatusBadRequest, "ticker is required")
		return
	}

	params, err := s.resolveParams(req.Preset, req.Params)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	lookback := req.Lookback
	if lookback <= 0 {
		lookback = s.cfg.Datasource.Lookback
	}
	series, err := s.source.FetchSeries(r.Context(), req.Ticker, lookback)
	if err != nil {
		writeError(w, statusForFetchError(err), err.Error())
		return
	}

	price := req.Price
	if price <= 0 {
		// A missing quote is not fatal; the result is stored unrated.
		if fetched, err := s.source.FetchQuote(r.Context(), req.Ticker); err == nil {
			price = fetched
		}
	}

	result, err := valuation.Value(series, params, price)
	if err != nil {
		writeError(w, statusForValuationError(err), err.Error())
		return
	}

	if _, err := s.store.Append(r.Context(), *result); err != nil && !errors.Is(err, history.ErrDuplicate) {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: result})
}

// handleBatch runs a batch valuation synchronously, broadcasting per-ticker
// progress on the WebSocket hub.
func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Tickers) == 0 {
		writeError(w, http.StatusBadRequest, "tickers are required")
		return
	}

	params, err := s.resolveParams(req.Preset, nil)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	workers := req.Workers
	if workers <= 0 {
		workers = s.cfg.Batch.Workers
	}

	runner := &batch.Runner{
		Source:   s.source,
		Store:    s.store,
		Workers:  workers,
		Lookback: s.cfg.Datasource.Lookback,
		OnProgress: func(p batch.Progress) {
			msg := WSMessage{Type: "batch_progress", Data: map[string]any{
				"job_id": p.JobID,
				"ticker": p.Ticker,
				"done":   p.Done,
				"total":  p.Total,
			}}
			if p.Err != nil {
				msg.Data.(map[string]any)["error"] = p.Err.Error()
			}
			s.wsHub.Broadcast(msg)
		},
	}

	summary, err := runner.Run(r.Context(), req.Tickers, params)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.wsHub.Broadcast(WSMessage{Type: "batch_done", Data: summary})
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: summary})
}

// handleScreen filters stored valuations. Query parameters mirror the
// screening filter; preset sets a baseline that explicit parameters refine.
func (s *Server) handleScreen(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var filter screen.Filter
	if name := q.Get("preset"); name != "" {
		preset, err := config.ScreeningPresetByName(name)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		filter = preset.Filter
	}

	var parseErr error
	setFloat := func(key string, dst **float64) {
		if v := q.Get(key); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				parseErr = errors.New("invalid " + key)
				return
			}
			*dst = &f
		}
	}
	setFloat("min_discount_pct", &filter.MinDiscountPct)
	setFloat("max_discount_pct", &filter.MaxDiscountPct)
	setFloat("min_intrinsic_value", &filter.MinIntrinsicValue)
	setFloat("max_intrinsic_value", &filter.MaxIntrinsicValue)
	setFloat("max_current_price", &filter.MaxCurrentPrice)
	if v := q.Get("max_age_days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			parseErr = errors.New("invalid max_age_days")
		} else {
			filter.MaxAgeDays = n
		}
	}
	if parseErr != nil {
		writeError(w, http.StatusBadRequest, parseErr.Error())
		return
	}

	source := screen.SourceLatest
	if v := q.Get("source"); v != "" {
		source = screen.Source(v)
	}

	recs, excluded, err := s.screener.Screen(r.Context(), filter, source)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: map[string]any{
		"results": recs,
		"summary": screen.Summarize(recs, excluded),
	}})
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	ticker := chi.URLParam(r, "ticker")
	rec, err := s.store.Latest(r.Context(), ticker)
	if err != nil {
		if errors.Is(err, history.ErrNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: rec})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	ticker := chi.URLParam(r, "ticker")

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	var since time.Time
	if v := r.URL.Query().Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid since; use RFC 3339")
			return
		}
		since = t
	}

	recs, err := s.store.Query(r.Context(), ticker, limit, since)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: recs})
}

func (s *Server) handleTrend(w http.ResponseWriter, r *http.Request) {
	ticker := chi.URLParam(r, "ticker")

	periods := 10
	if v := r.URL.Query().Get("periods"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid periods")
			return
		}
		periods = n
	}

	result, err := s.analyzer.Trend(r.Context(), ticker, periods)
	if err != nil {
		if errors.Is(err, trend.ErrInsufficientHistory) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: result})
}

// handleTrendChart renders the ticker's trend as an SVG image.
func (s *Server) handleTrendChart(w http.ResponseWriter, r *http.Request) {
	ticker := chi.URLParam(r, "ticker")

	periods := 10
	if v := r.URL.Query().Get("periods"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid periods")
			return
		}
		periods = n
	}

	result, err := s.analyzer.Trend(r.Context(), ticker, periods)
	if err != nil {
		if errors.Is(err, trend.ErrInsufficientHistory) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", "image/svg+xml")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(report.TrendChart(result, report.ChartConfig{}))); err != nil {
		log.Printf("write chart: %v", err)
	}
}

func (s *Server) handlePresets(w http.ResponseWriter, _ *http.Request) {
	valuations := make([]config.ValuationPreset, 0)
	for _, name := range config.ValuationPresetNames() {
		p, err := config.ValuationPresetByName(name)
		if err != nil {
			continue
		}
		valuations = append(valuations, p)
	}
	screens := make([]config.ScreeningPreset, 0)
	for _, name := range config.ScreeningPresetNames() {
		p, err := config.ScreeningPresetByName(name)
		if err != nil {
			continue
		}
		screens = append(screens, p)
	}

	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: map[string]any{
		"valuation": valuations,
		"screening": screens,
	}})
}

// resolveParams layers request parameters over a preset over the configured
// defaults. Explicit params win entirely when supplied.
func (s *Server) resolveParams(presetName string, override *models.Parameters) (models.Parameters, error) {
	if override != nil {
		return *override, nil
	}
	if presetName != "" {
		preset, err := config.ValuationPresetByName(presetName)
		if err != nil {
			return models.Parameters{}, err
		}
		return preset.Params, nil
	}
	return s.cfg.Valuation.ToParameters(), nil
}

func statusForFetchError(err error) int {
	switch {
	case errors.Is(err, datasource.ErrTickerNotFound):
		return http.StatusNotFound
	case errors.Is(err, datasource.ErrRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusBadGateway
	}
}

func statusForValuationError(err error) int {
	switch {
	case errors.Is(err, valuation.ErrInsufficientData),
		errors.Is(err, valuation.ErrInvalidParameters),
		errors.Is(err, valuation.ErrMalformedSeries):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, APIResponse{Success: false, Error: msg})
}
