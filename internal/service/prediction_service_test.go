package service

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/keiba-engine/internal/config"
	"github.com/yourusername/keiba-engine/internal/ensemble"
	"github.com/yourusername/keiba-engine/internal/features"
	"github.com/yourusername/keiba-engine/internal/metrics"
	"github.com/yourusername/keiba-engine/internal/modelmanager"
	"github.com/yourusername/keiba-engine/internal/models"
	"github.com/yourusername/keiba-engine/internal/repository"
)

const demoRaceID = "2025012506010911"

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	return log
}

// stubModel is a constant-output artifact over the live feature schema.
func stubModel() *ensemble.Model {
	return &ensemble.Model{
		ArtifactVersion: ensemble.CurrentArtifactVersion,
		FeatureNames:    features.Names(),
		Families: []ensemble.Family{{
			Strategy: ensemble.GrowHistogram,
			Ranker:   &ensemble.Booster{},
			Win:      &ensemble.Booster{},
			Quinella: &ensemble.Booster{},
			Place:    &ensemble.Booster{},
		}},
		Weights: []float64{1},
		Calibrators: map[ensemble.Task]*ensemble.Calibrator{
			ensemble.TaskWin:      {},
			ensemble.TaskQuinella: {},
			ensemble.TaskPlace:    {},
		},
		HigherIsBetter: true,
		Meta:           ensemble.Metadata{Version: "stub_v1", Surface: "mixed"},
	}
}

func newTestService(t *testing.T) *PredictionService {
	t.Helper()
	cfg := config.ModelConfig{Path: t.TempDir()}
	require.NoError(t, ensemble.SaveArtifact(stubModel(), cfg.ActivePath(modelmanager.SurfaceMixed)))

	manager := modelmanager.NewManager(cfg, quietLogger())
	require.NoError(t, manager.Reload())

	repos := repository.NewMockRepositories()
	return NewPredictionService(repos, manager, metrics.New(), quietLogger())
}

func TestGeneratePredictionMockMode(t *testing.T) {
	svc := newTestService(t)

	resp, err := svc.GeneratePrediction(context.Background(), demoRaceID, false, "")
	require.NoError(t, err)

	assert.Equal(t, demoRaceID, resp.RaceID)
	assert.False(t, resp.IsFinal)
	assert.Equal(t, "stub_v1", resp.ModelVersion)
	require.GreaterOrEqual(t, len(resp.Horses), 5)

	var winSum float64
	for i, h := range resp.Horses {
		assert.Equal(t, i+1, h.Rank)
		assert.GreaterOrEqual(t, h.WinProbability, 0.0)
		assert.LessOrEqual(t, h.WinProbability, 1.0)
		winSum += h.WinProbability
	}
	assert.InDelta(t, 1.0, winSum, 0.1)
}

func TestGeneratePredictionUpsertsPerFinalFlag(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.GeneratePrediction(ctx, demoRaceID, false, "")
	require.NoError(t, err)
	_, err = svc.GeneratePrediction(ctx, demoRaceID, false, "")
	require.NoError(t, err)

	stored, err := svc.GetPredictionsByRace(ctx, demoRaceID)
	require.NoError(t, err)
	assert.Len(t, stored, 1, "rerunning a preliminary prediction must overwrite, not append")

	_, err = svc.GeneratePrediction(ctx, demoRaceID, true, "")
	require.NoError(t, err)
	stored, err = svc.GetPredictionsByRace(ctx, demoRaceID)
	require.NoError(t, err)
	assert.Len(t, stored, 2, "final and preliminary are distinct rows")
}

func TestGeneratePredictionUnknownRace(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.GeneratePrediction(context.Background(), "1999010106010101", false, "")

	var missing *models.MissingDataError
	assert.ErrorAs(t, err, &missing)
}

func TestGeneratePredictionInvalidRaceID(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.GeneratePrediction(context.Background(), "short", false, "")
	assert.ErrorIs(t, err, models.ErrInvalidRaceID)
}

func TestGetPredictionNotFound(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.GetPrediction(context.Background(), uuid.New())
	assert.ErrorIs(t, err, models.ErrNotFound)
}
