package modelmanager

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/keiba-engine/internal/config"
	"github.com/yourusername/keiba-engine/internal/ensemble"
	"github.com/yourusername/keiba-engine/internal/models"
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	return log
}

func minimalModel(version string, featureNames []string) *ensemble.Model {
	return &ensemble.Model{
		ArtifactVersion: ensemble.CurrentArtifactVersion,
		FeatureNames:    featureNames,
		Families: []ensemble.Family{{
			Strategy: ensemble.GrowHistogram,
			Ranker:   &ensemble.Booster{},
			Win:      &ensemble.Booster{},
			Place:    &ensemble.Booster{},
		}},
		Weights: []float64{1},
		Calibrators: map[ensemble.Task]*ensemble.Calibrator{
			ensemble.TaskWin:   {},
			ensemble.TaskPlace: {},
		},
		HigherIsBetter: true,
		Meta:           ensemble.Metadata{Version: version, Surface: "mixed"},
	}
}

func TestManagerEmptyNotReady(t *testing.T) {
	m := NewManager(config.ModelConfig{Path: t.TempDir()}, quietLogger())
	assert.False(t, m.Ready())
	assert.Empty(t, m.ActiveVersion())

	_, err := m.Load(SurfaceMixed)
	assert.ErrorIs(t, err, models.ErrModelNotReady)
	assert.ErrorIs(t, m.Reload(), models.ErrModelNotReady)
}

func TestManagerReloadAndSurfaceFallback(t *testing.T) {
	cfg := config.ModelConfig{Path: t.TempDir()}
	require.NoError(t, ensemble.SaveArtifact(minimalModel("v1", []string{"a"}), cfg.ActivePath(SurfaceMixed)))

	m := NewManager(cfg, quietLogger())
	require.NoError(t, m.Reload())
	assert.True(t, m.Ready())
	assert.Equal(t, "v1", m.ActiveVersion())

	// no turf variant on disk: turf requests serve the mixed artifact
	model, err := m.LoadForSurface(models.SurfaceTurf)
	require.NoError(t, err)
	assert.Equal(t, "v1", model.Meta.Version)
}

func TestManagerPromoteSwapsAndBacksUp(t *testing.T) {
	cfg := config.ModelConfig{Path: t.TempDir()}
	require.NoError(t, ensemble.SaveArtifact(minimalModel("v1", []string{"a"}), cfg.ActivePath(SurfaceMixed)))

	m := NewManager(cfg, quietLogger())
	require.NoError(t, m.Reload())

	staged := cfg.StagingPath(SurfaceMixed)
	require.NoError(t, ensemble.SaveArtifact(minimalModel("v2", []string{"a"}), staged))
	require.NoError(t, m.Promote(staged, SurfaceMixed))

	assert.Equal(t, "v2", m.ActiveVersion())

	// staged file consumed, previous artifact backed up
	_, err := os.Stat(staged)
	assert.True(t, os.IsNotExist(err))
	backups, err := filepath.Glob(filepath.Join(cfg.BackupDir(), "*.json"))
	require.NoError(t, err)
	assert.Len(t, backups, 1)

	// the active file on disk is the promoted artifact
	onDisk, err := ensemble.LoadArtifact(cfg.ActivePath(SurfaceMixed))
	require.NoError(t, err)
	assert.Equal(t, "v2", onDisk.Meta.Version)
}

func TestSchemaDrifted(t *testing.T) {
	old := minimalModel("v1", []string{"a", "b"})
	assert.False(t, SchemaDrifted(old, minimalModel("v2", []string{"a", "b"})))
	assert.True(t, SchemaDrifted(old, minimalModel("v2", []string{"a", "c"})))
	assert.True(t, SchemaDrifted(old, minimalModel("v2", []string{"a"})))
	assert.True(t, SchemaDrifted(nil, minimalModel("v2", []string{"a"})))
}
