package probability

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fiveHorseField() []HorseScore {
	wins := []float64{0.40, 0.25, 0.15, 0.12, 0.08}
	quins := []float64{0.70, 0.55, 0.40, 0.30, 0.25}
	places := []float64{0.80, 0.70, 0.60, 0.55, 0.50}
	hs := make([]HorseScore, 5)
	for i := range hs {
		hs[i] = HorseScore{
			HorseNumber: i + 1,
			Post:        i + 1,
			RankScore:   float64(5 - i),
			Win:         wins[i],
			Quinella:    quins[i],
			Place:       places[i],
		}
	}
	return hs
}

func TestDeriveNormalizationSums(t *testing.T) {
	res, err := Derive(fiveHorseField(), Options{HasQuinella: true})
	require.NoError(t, err)
	require.Len(t, res.Horses, 5)

	var winSum, quinSum, placeSum float64
	for _, h := range res.Horses {
		winSum += h.WinProbability
		quinSum += h.QuinellaProb
		placeSum += h.PlaceProb
	}
	assert.InDelta(t, 1.0, winSum, 1e-9)
	assert.InDelta(t, 2.0, quinSum, 1e-9)
	assert.InDelta(t, 3.0, placeSum, 1e-9)
}

func TestDeriveTopHorseDistribution(t *testing.T) {
	res, err := Derive(fiveHorseField(), Options{HasQuinella: true})
	require.NoError(t, err)

	top := res.Horses[0]
	assert.Equal(t, 1, top.Rank)
	assert.Equal(t, 1, top.HorseNumber)
	assert.InDelta(t, 0.40, top.WinProbability, 1e-9)
	// quinella sum 2.20 scales by 2/2.2, place sum 3.15 by 3/3.15
	assert.InDelta(t, 0.70*2/2.2, top.QuinellaProb, 1e-9)
	assert.InDelta(t, 0.80*3/3.15, top.PlaceProb, 1e-9)

	d := top.Distribution
	assert.InDelta(t, top.WinProbability, d.First, 1e-9)
	assert.InDelta(t, top.QuinellaProb-top.WinProbability, d.Second, 1e-9)
	assert.InDelta(t, top.PlaceProb-top.QuinellaProb, d.Third, 1e-9)
	assert.GreaterOrEqual(t, d.First, 0.0)
	assert.GreaterOrEqual(t, d.Second, 0.0)
	assert.GreaterOrEqual(t, d.Third, 0.0)
	assert.GreaterOrEqual(t, d.OutOfPlace, 0.0)
	assert.InDelta(t, 1.0, d.First+d.Second+d.Third+d.OutOfPlace, 1e-9)
}

func TestDeriveMonotonePerHorse(t *testing.T) {
	res, err := Derive(fiveHorseField(), Options{HasQuinella: true})
	require.NoError(t, err)
	for _, h := range res.Horses {
		assert.LessOrEqual(t, h.WinProbability, h.QuinellaProb, "horse %d", h.HorseNumber)
		assert.LessOrEqual(t, h.QuinellaProb, h.PlaceProb, "horse %d", h.HorseNumber)
	}
}

func TestDeriveRankedByWinDescending(t *testing.T) {
	res, err := Derive(fiveHorseField(), Options{HasQuinella: true})
	require.NoError(t, err)
	for i := 1; i < len(res.Horses); i++ {
		assert.Equal(t, i+1, res.Horses[i].Rank)
		assert.LessOrEqual(t, res.Horses[i].WinProbability, res.Horses[i-1].WinProbability)
	}
}

func TestDeriveSingleHorse(t *testing.T) {
	res, err := Derive([]HorseScore{{HorseNumber: 7, Win: 0.3, Quinella: 0.4, Place: 0.5}}, Options{HasQuinella: true})
	require.NoError(t, err)
	require.Len(t, res.Horses, 1)

	h := res.Horses[0]
	assert.InDelta(t, 1.0, h.WinProbability, 1e-9)
	assert.InDelta(t, 1.0, h.QuinellaProb, 1e-9)
	assert.InDelta(t, 1.0, h.PlaceProb, 1e-9)
	assert.InDelta(t, 0.5, h.Confidence, 1e-9)
}

func TestDeriveEmptyField(t *testing.T) {
	_, err := Derive(nil, Options{})
	assert.Error(t, err)
}

func TestDeriveLegacyQuinellaReconstruction(t *testing.T) {
	hs := fiveHorseField()
	for i := range hs {
		hs[i].Quinella = 0
	}
	res, err := Derive(hs, Options{HasQuinella: false})
	require.NoError(t, err)

	var quinSum float64
	for _, h := range res.Horses {
		assert.Greater(t, h.QuinellaProb, 0.0)
		assert.GreaterOrEqual(t, h.QuinellaProb, h.WinProbability)
		quinSum += h.QuinellaProb
	}
	assert.InDelta(t, 2.0, quinSum, 1e-9)
}

func TestLegacyResidualSecondShare(t *testing.T) {
	assert.InDelta(t, 0.55, legacyResidualSecondShare(1), 1e-9)
	assert.InDelta(t, 0.55, legacyResidualSecondShare(3), 1e-9)
	assert.InDelta(t, 0.5, legacyResidualSecondShare(4), 1e-9)
	assert.InDelta(t, 0.5, legacyResidualSecondShare(6), 1e-9)
	assert.InDelta(t, 0.45, legacyResidualSecondShare(7), 1e-9)
}

func TestDeriveScoresOnlyFallback(t *testing.T) {
	hs := []HorseScore{
		{HorseNumber: 1, RankScore: 1.0},
		{HorseNumber: 2, RankScore: 2.0},
		{HorseNumber: 3, RankScore: 3.0},
	}
	res, err := Derive(hs, Options{ScoresOnly: true})
	require.NoError(t, err)

	var sum float64
	for _, h := range res.Horses {
		sum += h.WinProbability
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
	// lower rank score wins under softmax(-score)
	assert.Equal(t, 1, res.Horses[0].HorseNumber)
	assert.Empty(t, res.QuinellaRanking)
}

func TestDeriveConfidenceGap(t *testing.T) {
	res, err := Derive(fiveHorseField(), Options{HasQuinella: true})
	require.NoError(t, err)

	gap := res.Horses[0].WinProbability - res.Horses[1].WinProbability
	assert.InDelta(t, math.Min(0.95, math.Max(0.1, 0.5+5*gap)), res.Horses[0].Confidence, 1e-9)
	assert.InDelta(t, 0.5, res.Horses[len(res.Horses)-1].Confidence, 1e-9)
	assert.LessOrEqual(t, res.RaceConfidence, 0.95)
	assert.Greater(t, res.RaceConfidence, 0.0)
}

func TestDeriveDarkHorses(t *testing.T) {
	hs := []HorseScore{
		{HorseNumber: 1, Win: 0.50, Quinella: 0.7, Place: 0.80},
		{HorseNumber: 2, Win: 0.30, Quinella: 0.5, Place: 0.70},
		{HorseNumber: 3, Win: 0.08, Quinella: 0.3, Place: 0.60}, // qualifies
		{HorseNumber: 4, Win: 0.07, Quinella: 0.3, Place: 0.55}, // qualifies
		{HorseNumber: 5, Win: 0.05, Quinella: 0.2, Place: 0.35},
	}
	res, err := Derive(hs, Options{HasQuinella: true})
	require.NoError(t, err)

	assert.LessOrEqual(t, len(res.DarkHorses), 3)
	for _, d := range res.DarkHorses {
		assert.NotEqual(t, 1, d.HorseNumber)
		assert.NotEqual(t, 2, d.HorseNumber)
	}
	assert.Len(t, res.QuinellaRanking, 5)
	assert.Len(t, res.PlaceRanking, 5)
}

func TestDeriveRebalancesAfterMonotonicityRepair(t *testing.T) {
	// the favorite's quinella head came out inverted: after scaling to 2 it
	// would sit below its own win probability
	hs := []HorseScore{
		{HorseNumber: 1, Win: 0.6, Quinella: 0.2, Place: 0.1},
		{HorseNumber: 2, Win: 0.3, Quinella: 0.9, Place: 1.2},
		{HorseNumber: 3, Win: 0.1, Quinella: 0.9, Place: 1.7},
	}
	res, err := Derive(hs, Options{HasQuinella: true})
	require.NoError(t, err)
	require.Len(t, res.Horses, 3)

	var winSum, quinSum, placeSum float64
	for _, h := range res.Horses {
		winSum += h.WinProbability
		quinSum += h.QuinellaProb
		placeSum += h.PlaceProb
		assert.GreaterOrEqual(t, h.QuinellaProb, h.WinProbability)
		assert.GreaterOrEqual(t, h.PlaceProb, h.QuinellaProb)
		assert.LessOrEqual(t, h.PlaceProb, 1.0)
	}
	assert.InDelta(t, 1.0, winSum, 1e-9)
	assert.InDelta(t, 2.0, quinSum, 1e-9)
	assert.InDelta(t, 3.0, placeSum, 1e-9)

	// the lifted favorite takes its mass from the others' slack,
	// proportionally: 0.9 - 0.4*(0.6/1.4) and 0.9 - 0.4*(0.8/1.4)
	assert.InDelta(t, 0.6, res.Horses[0].QuinellaProb, 1e-9)
	assert.InDelta(t, 0.9-0.4*0.6/1.4, res.Horses[1].QuinellaProb, 1e-9)
	assert.InDelta(t, 0.9-0.4*0.8/1.4, res.Horses[2].QuinellaProb, 1e-9)
}

func TestDeriveCapsAtCertaintyInSmallField(t *testing.T) {
	// two starters: the quinella target equals the field size, so both
	// probabilities must land exactly at 1 even from a lopsided head
	hs := []HorseScore{
		{HorseNumber: 1, Win: 0.7, Quinella: 1.8, Place: 1.5},
		{HorseNumber: 2, Win: 0.3, Quinella: 0.2, Place: 0.5},
	}
	res, err := Derive(hs, Options{HasQuinella: true})
	require.NoError(t, err)
	require.Len(t, res.Horses, 2)

	for _, h := range res.Horses {
		assert.InDelta(t, 1.0, h.QuinellaProb, 1e-9)
		assert.InDelta(t, 1.0, h.PlaceProb, 1e-9)
	}
}
