package adjust

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/keiba-engine/internal/models"
	"github.com/yourusername/keiba-engine/internal/probability"
	"github.com/yourusername/keiba-engine/internal/repository"
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	return log
}

func saturdayRace() *models.Race {
	return &models.Race{
		RaceID:    "2025012506010911",
		VenueCode: "06",
		TrackCode: 15,
		DataKind:  models.DataKindDeclared,
	}
}

func TestBiasApplyWakuOnly(t *testing.T) {
	store := repository.NewMockStore()
	store.AddBias(&models.BiasSnapshot{
		Date:     mustParseDate("20250125"),
		Venue:    "06",
		WakuBias: 0.5,
	})

	horses := []probability.HorseScore{
		{HorseNumber: 1, Post: 2, Win: 0.10, Quinella: 0.2, Place: 0.3, RankScore: 1.0},
		{HorseNumber: 2, Post: 7, Win: 0.10, Quinella: 0.2, Place: 0.3, RankScore: 1.0},
	}

	adj := NewBiasAdjuster(store.Repositories().Bias, quietLogger())
	require.NoError(t, adj.Apply(context.Background(), saturdayRace(), horses, "20250125"))

	// inner post: delta = 0.5*0.02 = +0.01, factor 1.02
	assert.InDelta(t, 0.102, horses[0].Win, 1e-9)
	assert.InDelta(t, 0.99, horses[0].RankScore, 1e-9)
	// outer post: delta = -0.01, factor 0.98
	assert.InDelta(t, 0.098, horses[1].Win, 1e-9)
	assert.InDelta(t, 1.01, horses[1].RankScore, 1e-9)
}

func TestBiasApplyJockeyForm(t *testing.T) {
	store := repository.NewMockStore()
	store.AddBias(&models.BiasSnapshot{
		Date:  mustParseDate("20250125"),
		Venue: "06",
		Jockeys: map[string]models.JockeyDayForm{
			"J001": {Rides: 4, WinRate: 0.5, Top3Rate: 1.0},
		},
	})

	horses := []probability.HorseScore{
		{HorseNumber: 1, Post: 5, JockeyID: "J001", Win: 0.10, Quinella: 0.2, Place: 0.3},
		{HorseNumber: 2, Post: 5, JockeyID: "J999", Win: 0.10, Quinella: 0.2, Place: 0.3},
	}

	adj := NewBiasAdjuster(store.Repositories().Bias, quietLogger())
	require.NoError(t, adj.Apply(context.Background(), saturdayRace(), horses, "20250125"))

	// delta = 0.5*0.03 + 1.0*0.01 = 0.025, factor 1.05
	assert.InDelta(t, 0.10*1.05, horses[0].Win, 1e-9)
	// waku bias zero and unknown jockey: untouched
	assert.InDelta(t, 0.10, horses[1].Win, 1e-9)
}

func TestBiasApplyMissingSnapshotIsIdentity(t *testing.T) {
	store := repository.NewMockStore()
	horses := []probability.HorseScore{
		{HorseNumber: 1, Post: 1, Win: 0.42, Quinella: 0.5, Place: 0.6, RankScore: 2.0},
	}

	adj := NewBiasAdjuster(store.Repositories().Bias, quietLogger())
	require.NoError(t, adj.Apply(context.Background(), saturdayRace(), horses, ""))

	assert.Equal(t, 0.42, horses[0].Win)
	assert.Equal(t, 2.0, horses[0].RankScore)
}

func TestBiasApplyClipsProbabilities(t *testing.T) {
	store := repository.NewMockStore()
	store.AddBias(&models.BiasSnapshot{
		Date:     mustParseDate("20250125"),
		Venue:    "06",
		WakuBias: 1.0,
	})

	horses := []probability.HorseScore{
		{HorseNumber: 1, Post: 1, Win: 0.985, Quinella: 0.99, Place: 0.99},
		{HorseNumber: 2, Post: 8, Win: 0.0005, Quinella: 0.001, Place: 0.001},
	}

	adj := NewBiasAdjuster(store.Repositories().Bias, quietLogger())
	require.NoError(t, adj.Apply(context.Background(), saturdayRace(), horses, "20250125"))

	assert.InDelta(t, 0.99, horses[0].Win, 1e-9)
	assert.InDelta(t, 0.001, horses[1].Win, 1e-9)
}

func TestResolveBiasDate(t *testing.T) {
	saturday := mustParseDate("20250125")
	sunday := mustParseDate("20250126")

	// explicit parameter wins
	assert.Equal(t, mustParseDate("20250118"), ResolveBiasDate(sunday, "20250118"))

	// environment override beats the automatic rule
	t.Setenv(BiasDateEnv, "20250111")
	assert.Equal(t, mustParseDate("20250111"), ResolveBiasDate(sunday, ""))
	t.Setenv(BiasDateEnv, "")

	// Sunday falls back to Saturday; Saturday stays put
	assert.Equal(t, saturday, ResolveBiasDate(sunday, ""))
	assert.Equal(t, saturday, ResolveBiasDate(saturday, ""))
}

func mustParseDate(d string) time.Time {
	parsed, err := time.Parse("20060102", d)
	if err != nil {
		panic(err)
	}
	return parsed
}
