package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/yourusername/keiba-engine/internal/config"
	"github.com/yourusername/keiba-engine/internal/metrics"
	"github.com/yourusername/keiba-engine/internal/repository"
	"github.com/yourusername/keiba-engine/internal/service"
)

// Server is the REST front. Handlers are thin: validation, service call,
// envelope.
type Server struct {
	cfg     config.APIConfig
	repos   *repository.Repositories
	svc     *service.PredictionService
	metrics *metrics.Metrics
	limiter *clientLimiter
	log     *logrus.Logger
	http    *http.Server
}

// NewServer wires the router and middleware chain.
func NewServer(cfg config.APIConfig, repos *repository.Repositories, svc *service.PredictionService, m *metrics.Metrics, log *logrus.Logger) *Server {
	s := &Server{
		cfg:     cfg,
		repos:   repos,
		svc:     svc,
		metrics: m,
		limiter: newClientLimiter(cfg.RateLimitPerSecond, cfg.RateLimitBurst),
		log:     log,
	}

	r := mux.NewRouter()
	r.Use(s.loggingMiddleware, s.rateLimitMiddleware, s.timeoutMiddleware)

	r.HandleFunc("/races/today", s.handleRacesToday).Methods(http.MethodGet)
	r.HandleFunc("/races/upcoming", s.handleRacesUpcoming).Methods(http.MethodGet)
	r.HandleFunc("/races/date/{date}", s.handleRacesByDate).Methods(http.MethodGet)
	r.HandleFunc("/races/search/name", s.handleRaceSearch).Methods(http.MethodGet)
	r.HandleFunc("/races/{race_id}", s.handleRaceByID).Methods(http.MethodGet)

	r.HandleFunc("/predictions/", s.handleCreatePrediction).Methods(http.MethodPost)
	r.HandleFunc("/predictions/{prediction_id}", s.handleGetPrediction).Methods(http.MethodGet)
	r.HandleFunc("/predictions", s.handleListPredictions).Methods(http.MethodGet)

	r.HandleFunc("/horses/search", s.handleHorseSearch).Methods(http.MethodGet)
	r.HandleFunc("/horses/{horse_id}", s.handleHorseByID).Methods(http.MethodGet)
	r.HandleFunc("/jockeys/search", s.handleJockeySearch).Methods(http.MethodGet)
	r.HandleFunc("/odds/{race_id}", s.handleOdds).Methods(http.MethodGet)

	s.http = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: time.Duration(cfg.RequestTimeoutSeconds+5) * time.Second,
	}
	return s
}

// Handler exposes the configured router, used by tests.
func (s *Server) Handler() http.Handler { return s.http.Handler }

// Start blocks serving HTTP until the server is shut down.
func (s *Server) Start() error {
	s.log.WithField("addr", s.http.Addr).Info("API server listening")
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
