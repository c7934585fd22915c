package training

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAUCPerfectSeparation(t *testing.T) {
	scores := []float64{0.1, 0.2, 0.8, 0.9}
	labels := []float64{0, 0, 1, 1}
	assert.InDelta(t, 1.0, AUC(scores, labels), 1e-9)
	assert.InDelta(t, 0.0, AUC([]float64{0.9, 0.8, 0.2, 0.1}, labels), 1e-9)
}

func TestAUCSingleClass(t *testing.T) {
	assert.InDelta(t, 0.5, AUC([]float64{0.1, 0.9}, []float64{1, 1}), 1e-9)
	assert.InDelta(t, 0.5, AUC([]float64{0.1, 0.9}, []float64{0, 0}), 1e-9)
}

func TestAUCTiedScores(t *testing.T) {
	// all scores equal: every pairwise comparison is a tie, AUC is chance
	scores := []float64{0.5, 0.5, 0.5, 0.5}
	labels := []float64{0, 1, 0, 1}
	assert.InDelta(t, 0.5, AUC(scores, labels), 1e-9)
}

func TestBrier(t *testing.T) {
	assert.InDelta(t, 0.0, Brier([]float64{1, 0}, []float64{1, 0}), 1e-9)
	assert.InDelta(t, 1.0, Brier([]float64{0, 1}, []float64{1, 0}), 1e-9)
	assert.InDelta(t, 0.25, Brier([]float64{0.5, 0.5}, []float64{1, 0}), 1e-9)
	assert.InDelta(t, 0.0, Brier(nil, nil), 1e-9)
}

func TestTop3Coverage(t *testing.T) {
	scores := []float64{
		0.9, 0.5, 0.4, 0.3, 0.1, // winner scored highest
		0.1, 0.2, 0.3, 0.4, 0.9, // winner scored lowest
	}
	labels := []float64{
		1, 0, 0, 0, 0,
		1, 0, 0, 0, 0,
	}
	groups := []raceGroup{
		{RaceID: "a", Start: 0, End: 5},
		{RaceID: "b", Start: 5, End: 10},
	}
	assert.InDelta(t, 0.5, Top3Coverage(scores, labels, groups, true), 1e-9)
	// flipped polarity covers the second race instead
	assert.InDelta(t, 0.5, Top3Coverage(scores, labels, groups, false), 1e-9)
}

func TestCalibrationBins(t *testing.T) {
	raw := []float64{0.02, 0.04, 0.52, 0.97, 1.0}
	cal := []float64{0.05, 0.06, 0.50, 0.90, 0.95}
	labels := []float64{0, 0, 1, 1, 1}

	bins := CalibrationBins(raw, cal, labels)
	assert.Len(t, bins, CalibrationBinCount)

	total := 0
	for _, b := range bins {
		total += b.Count
	}
	assert.Equal(t, len(raw), total)

	// first bin holds the two low scores
	assert.Equal(t, 2, bins[0].Count)
	assert.InDelta(t, 0.03, bins[0].MeanRaw, 1e-9)
	// raw 1.0 lands in the last bin, not out of range
	assert.Equal(t, 2, bins[CalibrationBinCount-1].Count)
}

func TestAUC01Rescaling(t *testing.T) {
	assert.InDelta(t, 0.0, auc01(0.5), 1e-9)
	assert.InDelta(t, 1.0, auc01(1.0), 1e-9)
	assert.InDelta(t, -1.0, auc01(0.0), 1e-9)
}
