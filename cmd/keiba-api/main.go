package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/yourusername/keiba-engine/internal/adjust"
	"github.com/yourusername/keiba-engine/internal/api"
	"github.com/yourusername/keiba-engine/internal/config"
	"github.com/yourusername/keiba-engine/internal/database"
	"github.com/yourusername/keiba-engine/internal/health"
	"github.com/yourusername/keiba-engine/internal/logger"
	"github.com/yourusername/keiba-engine/internal/metrics"
	"github.com/yourusername/keiba-engine/internal/modelmanager"
	"github.com/yourusername/keiba-engine/internal/repository"
	"github.com/yourusername/keiba-engine/internal/scheduler"
	"github.com/yourusername/keiba-engine/internal/service"
	"github.com/yourusername/keiba-engine/internal/training"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Database.SecretName != "" && !cfg.IsMockMode() {
		if err := config.LoadSecretsFromAWS(cfg, cfg.Database.AWSRegion, cfg.Database.SecretName); err != nil {
			fmt.Fprintf(os.Stderr, "secrets: %v\n", err)
			os.Exit(1)
		}
	}
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log := logger.NewLogger(cfg.App.LogLevel)
	if cfg.IsProduction() {
		log.SetFormatter(&logrus.JSONFormatter{})
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var db *database.DB
	var repos *repository.Repositories
	if cfg.IsMockMode() {
		log.Warn("Running against the in-memory mock store")
		repos = repository.NewMockRepositories()
	} else {
		db, err = database.NewDB(ctx, &cfg.Database)
		if err != nil {
			log.WithError(err).Fatal("Database connection failed")
		}
		defer db.Close()
		repos, err = repository.NewRepositories(db)
		if err != nil {
			log.WithError(err).Fatal("Repository setup failed")
		}
	}

	m := metrics.New()
	manager := modelmanager.NewManager(cfg.Model, log)
	if err := manager.Reload(); err != nil {
		log.WithError(err).Warn("No model artifact loaded yet; predictions unavailable until one is promoted")
	} else {
		m.SetActiveModel(modelmanager.SurfaceMixed, manager.ActiveVersion())
	}

	svc := service.NewPredictionService(repos, manager, m, log)
	server := api.NewServer(cfg.API, repos, svc, m, log)

	trainer := training.NewTrainer(cfg, repos, manager, log)
	builder := adjust.NewSnapshotBuilder(repos, log)
	sched, err := scheduler.New(cfg, trainer, builder, m, log)
	if err != nil {
		log.WithError(err).Fatal("Scheduler setup failed")
	}
	sched.Start()
	defer sched.Stop()

	opsServer := startOpsServer(cfg, db, manager, m, log)

	go func() {
		if err := server.Start(); err != nil {
			log.WithError(err).Error("API server stopped")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
	_ = opsServer.Shutdown(shutdownCtx)
}

// startOpsServer serves /metrics, /health and /ready on the metrics port.
func startOpsServer(cfg *config.Config, db *database.DB, manager *modelmanager.Manager, m *metrics.Metrics, log *logrus.Logger) *http.Server {
	mux := http.NewServeMux()
	if cfg.Metrics.Enabled {
		mux.Handle(cfg.Metrics.Path, promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{}))
	}
	health.NewChecker(db, manager).Register(mux)

	srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Metrics.Port), Handler: mux}
	go func() {
		log.WithField("addr", srv.Addr).Info("Ops server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("Ops server stopped")
		}
	}()
	return srv
}
