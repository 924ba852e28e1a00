package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/zoning-cli/internal/model"
	"github.com/sells-group/zoning-cli/internal/prompt"
	"github.com/sells-group/zoning-cli/internal/search"
	"github.com/sells-group/zoning-cli/internal/store"
)

var servePort int

// lookupExtractor aggregates lookups into one row per (town, district).
type lookupExtractor interface {
	ExtractAll(ctx context.Context, towns []model.TownDistricts, terms []string, topK int, method model.ExtractionMethod) iter.Seq2[model.AllLookupOutput, error]
}

// extractRequest is the body of POST /v1/extract.
type extractRequest struct {
	Town      string         `json:"town"`
	District  model.District `json:"district"`
	Terms     []string       `json:"terms"`
	TopKPages int            `json:"top_k_pages"`
	Method    string         `json:"method"`
}

type extractResponse struct {
	RunID  string                `json:"run_id"`
	Result model.AllLookupOutput `json:"result"`
}

// server holds the dependencies of the HTTP API.
type server struct {
	extractor lookupExtractor
	store     store.Store
	registry  *prometheus.Registry
	defaults  extractRequest
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API for zoning lookups",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if servePort != 0 {
			cfg.Server.Port = servePort
		}

		env, err := initPipeline(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		s := &server{
			extractor: env.Extractor,
			store:     env.Store,
			registry:  env.Registry,
			defaults: extractRequest{
				Terms:     cfg.Extract.Terms,
				TopKPages: cfg.Extract.TopKPages,
				Method:    cfg.Extract.Method,
			},
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           s.routes(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	if s.registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/extract", s.handleExtract)
		r.Get("/runs", s.handleListRuns)
		r.Get("/runs/{id}", s.handleGetRun)
		r.Get("/runs/{id}/lookups", s.handleListLookups)
	})
	return r
}

func (s *server) handleExtract(w http.ResponseWriter, r *http.Request) {
	var req extractRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Town == "" || (req.District.ShortName == "" && req.District.FullName == "") {
		writeError(w, http.StatusBadRequest, "town and district are required")
		return
	}
	if len(req.Terms) == 0 {
		req.Terms = s.defaults.Terms
	}
	if req.TopKPages <= 0 {
		req.TopKPages = s.defaults.TopKPages
	}
	if req.Method == "" {
		req.Method = s.defaults.Method
	}
	method, err := model.ParseExtractionMethod(req.Method)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	run, err := s.store.CreateRun(ctx, method, req.Terms, req.TopKPages)
	if err != nil {
		zap.L().Error("create run", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not record run")
		return
	}

	var result model.AllLookupOutput
	runErr := func() error {
		towns := []model.TownDistricts{{Town: req.Town, Districts: []model.District{req.District}}}
		for row, err := range s.extractor.ExtractAll(ctx, towns, req.Terms, req.TopKPages, method) {
			if err != nil {
				return err
			}
			result = row
			break
		}
		return s.store.SaveLookups(ctx, run.ID, []model.AllLookupOutput{result})
	}()
	if ferr := s.store.FinishRun(context.WithoutCancel(ctx), run.ID, runErr); ferr != nil {
		zap.L().Error("finish run", zap.String("run_id", run.ID), zap.Error(ferr))
	}
	if runErr != nil {
		zap.L().Error("extract request failed",
			zap.String("run_id", run.ID),
			zap.String("town", req.Town),
			zap.Error(runErr),
		)
		writeError(w, statusFor(runErr), runErr.Error())
		return
	}

	writeJSON(w, http.StatusOK, extractResponse{RunID: run.ID, Result: result})
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if p, ok := s.store.(store.Pinger); ok {
		if err := p.Ping(r.Context()); err != nil {
			zap.L().Warn("health: store unreachable", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	filter := store.RunFilter{Status: model.RunStatus(r.URL.Query().Get("status"))}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		filter.Limit = n
	}
	runs, err := s.store.ListRuns(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if runs == nil {
		runs = []model.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *server) handleListLookups(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.store.GetRun(r.Context(), id); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	outs, err := s.store.ListLookups(r.Context(), id)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	if outs == nil {
		outs = []model.AllLookupOutput{}
	}
	writeJSON(w, http.StatusOK, outs)
}

// statusFor maps pipeline errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, search.ErrIndexNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrUnknownMethod), errors.Is(err, prompt.ErrUnknownModel):
		return http.StatusBadRequest
	case errors.Is(err, search.ErrSearchUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
