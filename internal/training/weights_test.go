package training

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptimizeWeightsPrefersAccurateFamily(t *testing.T) {
	rng := rand.New(rand.NewSource(9))
	n := 500
	labels := make([]float64, n)
	good := make([]float64, n)
	noise := make([]float64, n)
	for i := 0; i < n; i++ {
		if rng.Float64() < 0.3 {
			labels[i] = 1
		}
		// good tracks the label closely, noise ignores it
		good[i] = clamp(labels[i]*0.8+0.1+rng.NormFloat64()*0.05, 0, 1)
		noise[i] = rng.Float64()
	}

	w := OptimizeWeights([][]float64{good, noise}, labels)
	require.Len(t, w, 2)
	assert.InDelta(t, 1.0, w[0]+w[1], 1e-9)
	assert.Greater(t, w[0], w[1])
	// bounds hold even for a dominant family
	assert.LessOrEqual(t, w[0], 0.6/(0.6+0.1)+1e-9)
	assert.GreaterOrEqual(t, w[1], 0.1/(0.6+0.1)-1e-9)
}

func TestOptimizeWeightsDegenerateCases(t *testing.T) {
	assert.Nil(t, OptimizeWeights(nil, nil))
	assert.Equal(t, []float64{1}, OptimizeWeights([][]float64{{0.5}}, []float64{1}))
}

func TestNormalizeClipped(t *testing.T) {
	w := normalizeClipped([]float64{0.9, 0.05, 0.05})
	var sum float64
	for _, v := range w {
		sum += v
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
	// 0.9 clips to 0.6, 0.05 lifts to 0.1 before renormalizing
	assert.InDelta(t, 0.6/0.8, w[0], 1e-9)
	assert.InDelta(t, 0.1/0.8, w[1], 1e-9)
}

func TestNelderMeadConvergesOnQuadratic(t *testing.T) {
	f := func(p []float64) float64 {
		dx := p[0] - 2
		dy := p[1] + 1
		return dx*dx + dy*dy
	}
	best := nelderMead(f, []float64{0, 0}, 500)
	assert.InDelta(t, 2.0, best[0], 1e-3)
	assert.InDelta(t, -1.0, best[1], 1e-3)
}
