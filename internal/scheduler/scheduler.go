package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/yourusername/keiba-engine/internal/adjust"
	"github.com/yourusername/keiba-engine/internal/config"
	"github.com/yourusername/keiba-engine/internal/metrics"
	"github.com/yourusername/keiba-engine/internal/models"
	"github.com/yourusername/keiba-engine/internal/training"
)

// Scheduler drives the recurring jobs: the weekly retrain and the daily
// bias snapshot build.
type Scheduler struct {
	cron    *cron.Cron
	cfg     *config.Config
	trainer *training.Trainer
	builder *adjust.SnapshotBuilder
	metrics *metrics.Metrics
	log     *logrus.Logger
}

// New registers the cron entries without starting them.
func New(cfg *config.Config, trainer *training.Trainer, builder *adjust.SnapshotBuilder, m *metrics.Metrics, log *logrus.Logger) (*Scheduler, error) {
	s := &Scheduler{
		cron:    cron.New(),
		cfg:     cfg,
		trainer: trainer,
		builder: builder,
		metrics: m,
		log:     log,
	}

	if _, err := s.cron.AddFunc(cfg.Training.RetrainCron, s.runRetrain); err != nil {
		return nil, err
	}
	if _, err := s.cron.AddFunc(cfg.Training.BiasSnapshotCron, s.runBiasBuild); err != nil {
		return nil, err
	}
	return s, nil
}

// Start launches the cron loop in its own goroutine.
func (s *Scheduler) Start() {
	s.log.WithFields(logrus.Fields{
		"retrain": s.cfg.Training.RetrainCron,
		"bias":    s.cfg.Training.BiasSnapshotCron,
	}).Info("Scheduler started")
	s.cron.Start()
}

// Stop halts scheduling and waits for running jobs.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Scheduler) runRetrain() {
	surface := models.Surface(s.cfg.Training.SurfaceFilter)
	if surface == "" {
		surface = models.SurfaceMixed
	}

	started := time.Now()
	res, err := s.trainer.Run(context.Background(), surface)
	s.metrics.TrainingDuration.Observe(time.Since(started).Seconds())
	if err != nil {
		s.log.WithError(err).Error("Scheduled retrain failed")
		return
	}
	if res.Promoted {
		s.metrics.SetActiveModel(res.Surface, res.Version)
	}
}

func (s *Scheduler) runBiasBuild() {
	if err := s.builder.BuildDay(context.Background(), time.Now()); err != nil {
		s.log.WithError(err).Error("Bias snapshot build failed")
	}
}
