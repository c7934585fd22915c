package ensemble

import (
	"context"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// separableData builds rows where the label follows the first feature.
func separableData(n int, seed int64) ([][]float64, []float64) {
	rng := rand.New(rand.NewSource(seed))
	xs := make([][]float64, n)
	ys := make([]float64, n)
	for i := range xs {
		a := rng.Float64()
		b := rng.Float64()
		xs[i] = []float64{a, b}
		if a > 0.5 {
			ys[i] = 1
		}
	}
	return xs, ys
}

func smallHyperparams() Hyperparams {
	hp := DefaultHyperparams()
	hp.Rounds = 30
	hp.MaxDepth = 3
	hp.MinSamplesLeaf = 5
	return hp
}

func TestTrainBoosterLearnsSeparableData(t *testing.T) {
	xs, ys := separableData(400, 7)
	for _, strategy := range []GrowthStrategy{GrowHistogram, GrowLeafwise, GrowOrdered} {
		b, err := TrainBooster(context.Background(), strategy, ObjectiveLogistic, xs, ys, nil, nil, smallHyperparams())
		require.NoError(t, err, strategy)

		high := b.Predict([]float64{0.9, 0.5})
		low := b.Predict([]float64{0.1, 0.5})
		assert.Greater(t, high, low, "strategy %s must separate the classes", strategy)
		assert.GreaterOrEqual(t, high, 0.0)
		assert.LessOrEqual(t, high, 1.0)
	}
}

func TestTrainBoosterDeterministic(t *testing.T) {
	xs, ys := separableData(200, 11)
	a, err := TrainBooster(context.Background(), GrowHistogram, ObjectiveLogistic, xs, ys, nil, nil, smallHyperparams())
	require.NoError(t, err)
	b, err := TrainBooster(context.Background(), GrowHistogram, ObjectiveLogistic, xs, ys, nil, nil, smallHyperparams())
	require.NoError(t, err)

	probe := []float64{0.42, 0.77}
	assert.Equal(t, a.Predict(probe), b.Predict(probe))
}

func TestTrainBoosterKeepsBestValidationPrefix(t *testing.T) {
	xs, ys := separableData(200, 5)
	flipped := make([]float64, len(ys))
	for i, y := range ys {
		flipped[i] = 1 - y
	}

	// validation labels are inverted, so every round past the first only
	// degrades validation loss; with a round budget below the early-stop
	// patience the loop runs to the end and must still truncate
	hp := smallHyperparams()
	hp.Rounds = 5
	b, err := TrainBooster(context.Background(), GrowHistogram, ObjectiveLogistic, xs, ys, xs, flipped, hp)
	require.NoError(t, err)
	assert.Len(t, b.Trees, 1)
}

func TestTrainBoosterCancellation(t *testing.T) {
	xs, ys := separableData(100, 3)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := TrainBooster(ctx, GrowHistogram, ObjectiveLogistic, xs, ys, nil, nil, smallHyperparams())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIsotonicMonotone(t *testing.T) {
	ps := []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9}
	ys := []float64{0, 0, 1, 0, 1, 1, 0, 1, 1}
	iso := FitIsotonic(ps, ys)
	require.NotNil(t, iso)

	prev := -1.0
	for p := 0.0; p <= 1.0; p += 0.05 {
		v := iso.Predict(p)
		assert.GreaterOrEqual(t, v, prev, "isotonic output must not decrease")
		assert.GreaterOrEqual(t, v, 0.0)
		assert.LessOrEqual(t, v, 1.0)
		prev = v
	}
}

func TestCalibratorBlendsAndClips(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	ps := make([]float64, 200)
	ys := make([]float64, 200)
	for i := range ps {
		ps[i] = rng.Float64()
		if rng.Float64() < ps[i] {
			ys[i] = 1
		}
	}
	cal := FitCalibrator(ps, ys, 0.6)
	require.NotNil(t, cal)

	for _, p := range []float64{-0.5, 0, 0.25, 0.5, 0.75, 1, 1.5} {
		v := cal.Calibrate(p)
		assert.GreaterOrEqual(t, v, 0.0)
		assert.LessOrEqual(t, v, 1.0)
	}
}

func newTestModel(t *testing.T, withQuinella bool) *Model {
	t.Helper()
	xs, ys := separableData(300, 21)
	hp := smallHyperparams()

	families := make([]Family, 0, 2)
	for _, s := range []GrowthStrategy{GrowHistogram, GrowLeafwise} {
		ranker, err := TrainBooster(context.Background(), s, ObjectiveRank, xs, ys, nil, nil, hp)
		require.NoError(t, err)
		win, err := TrainBooster(context.Background(), s, ObjectiveLogistic, xs, ys, nil, nil, hp)
		require.NoError(t, err)
		place, err := TrainBooster(context.Background(), s, ObjectiveLogistic, xs, ys, nil, nil, hp)
		require.NoError(t, err)
		f := Family{Strategy: s, Ranker: ranker, Win: win, Place: place}
		if withQuinella {
			quin, err := TrainBooster(context.Background(), s, ObjectiveLogistic, xs, ys, nil, nil, hp)
			require.NoError(t, err)
			f.Quinella = quin
		}
		families = append(families, f)
	}

	ps := make([]float64, len(xs))
	for i, x := range xs {
		ps[i] = families[0].Win.Predict(x)
	}
	cal := FitCalibrator(ps, ys, DefaultIsoWeight)
	calibrators := map[Task]*Calibrator{TaskWin: cal, TaskPlace: cal}
	if withQuinella {
		calibrators[TaskQuinella] = cal
	}

	return &Model{
		ArtifactVersion: CurrentArtifactVersion,
		FeatureNames:    []string{"f0", "f1"},
		Families:        families,
		Weights:         []float64{0.55, 0.45},
		Calibrators:     calibrators,
		HigherIsBetter:  true,
	}
}

func TestModelScoreWidthMismatch(t *testing.T) {
	m := newTestModel(t, true)
	_, err := m.Score([]float64{1, 2, 3})
	assert.Error(t, err)
}

func TestModelScoreDeterministic(t *testing.T) {
	m := newTestModel(t, true)
	x := []float64{0.8, 0.2}
	a, err := m.Score(x)
	require.NoError(t, err)
	b, err := m.Score(x)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.True(t, a.HasQuinella)
}

func TestModelLegacyWeightsRenormalized(t *testing.T) {
	m := newTestModel(t, false)
	// legacy artifact: three stored weights, only two families survive
	m.Weights = []float64{0.5, 0.3, 0.2}

	w := m.normalizedWeights()
	require.Len(t, w, 2)
	assert.InDelta(t, 0.625, w[0], 1e-9)
	assert.InDelta(t, 0.375, w[1], 1e-9)

	s, err := m.Score([]float64{0.7, 0.3})
	require.NoError(t, err)
	assert.False(t, s.HasQuinella)
	assert.Zero(t, s.Quinella)
}

func TestModelBalancedFallbackWeights(t *testing.T) {
	m := newTestModel(t, true)
	m.Weights = nil
	w := m.normalizedWeights()
	assert.InDelta(t, 0.5, w[0], 1e-9)
	assert.InDelta(t, 0.5, w[1], 1e-9)
}

func TestArtifactRoundTrip(t *testing.T) {
	m := newTestModel(t, true)
	path := filepath.Join(t.TempDir(), "model.json")
	require.NoError(t, SaveArtifact(m, path))

	loaded, err := LoadArtifact(path)
	require.NoError(t, err)
	assert.Equal(t, m.ArtifactVersion, loaded.ArtifactVersion)
	assert.Equal(t, m.FeatureNames, loaded.FeatureNames)

	x := []float64{0.33, 0.66}
	orig, err := m.Score(x)
	require.NoError(t, err)
	rt, err := loaded.Score(x)
	require.NoError(t, err)
	assert.InDelta(t, orig.Win, rt.Win, 1e-12)
	assert.InDelta(t, orig.RankScore, rt.RankScore, 1e-12)
}

func TestLoadArtifactRejectsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.json")
	require.NoError(t, SaveArtifact(&Model{FeatureNames: []string{"a"}}, path))
	_, err := LoadArtifact(path)
	assert.Error(t, err)
}
