package features

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/keiba-engine/internal/models"
	"github.com/yourusername/keiba-engine/internal/repository"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	return log
}

// finalizedRace seeds one completed race with a single starter result.
func finalizedRace(store *repository.MockStore, date string, finish int) string {
	raceID := date + "06010101"
	store.AddRace(&models.Race{
		RaceID:     raceID,
		VenueCode:  "06",
		RaceNumber: 1,
		DistanceM:  1600,
		TrackCode:  15,
		StartTime:  mustDate(date).Add(13 * time.Hour),
		DataKind:   models.DataKindFinalized,
	}, []*models.Entry{{
		RaceID:         raceID,
		HorseNumber:    1,
		Post:           1,
		HorseID:        "H001",
		HorseName:      "Test Horse",
		JockeyID:       "J001",
		Age:            4,
		FinishPosition: finish,
		FinishTime:     96.5,
		Corner3:        4,
		Corner4:        3,
		Last3F:         34.8,
		Popularity:     2,
		DataKind:       models.DataKindFinalized,
	}})
	return raceID
}

func mustDate(d string) time.Time {
	t, err := time.Parse("20060102", d)
	if err != nil {
		panic(err)
	}
	return t
}

func TestExtractRaceExcludesFutureRuns(t *testing.T) {
	store := repository.NewMockStore()
	finalizedRace(store, "20230101", 1)
	finalizedRace(store, "20230401", 3)
	finalizedRace(store, "20230701", 2)

	targetID := "2023060106010111"
	store.AddRace(&models.Race{
		RaceID:     targetID,
		VenueCode:  "06",
		RaceNumber: 11,
		DistanceM:  1600,
		TrackCode:  15,
		StartTime:  mustDate("20230601").Add(15 * time.Hour),
		DataKind:   models.DataKindDeclared,
	}, []*models.Entry{
		{RaceID: targetID, HorseNumber: 1, Post: 1, HorseID: "H001", HorseName: "Test Horse", JockeyID: "J001", Age: 4, DataKind: models.DataKindDeclared},
		{RaceID: targetID, HorseNumber: 2, Post: 2, HorseID: "H002", HorseName: "Other Horse", JockeyID: "J002", Age: 5, DataKind: models.DataKindDeclared},
	})

	ex := NewExtractor(store.Repositories(), testLogger())
	rows, err := ex.ExtractRace(context.Background(), targetID)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	var row *FeatureRow
	for i := range rows {
		if rows[i].HorseID == "H001" {
			row = &rows[i]
		}
	}
	require.NotNil(t, row)

	// the 2023-07-01 run postdates the target race and must not count
	assert.Equal(t, 2.0, row.Get("run_count"))
	// both past runs within the window finished top-3
	assert.InDelta(t, 0.5, row.Get("win_rate"), 1e-9)
}

func TestExtractRaceAllHistoryCountsAfterwards(t *testing.T) {
	store := repository.NewMockStore()
	finalizedRace(store, "20230101", 1)
	finalizedRace(store, "20230401", 3)
	finalizedRace(store, "20230701", 2)

	targetID := "2023080106010111"
	store.AddRace(&models.Race{
		RaceID:    targetID,
		VenueCode: "06", RaceNumber: 11, DistanceM: 1600, TrackCode: 15,
		StartTime: mustDate("20230801").Add(15 * time.Hour),
		DataKind:  models.DataKindDeclared,
	}, []*models.Entry{
		{RaceID: targetID, HorseNumber: 1, Post: 1, HorseID: "H001", JockeyID: "J001", Age: 4, DataKind: models.DataKindDeclared},
	})

	ex := NewExtractor(store.Repositories(), testLogger())
	rows, err := ex.ExtractRace(context.Background(), targetID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 3.0, rows[0].Get("run_count"))
}

func TestExtractRaceUsesPriorsForDebutant(t *testing.T) {
	store := repository.NewMockStore()
	targetID := "2023060106010101"
	store.AddRace(&models.Race{
		RaceID:    targetID,
		VenueCode: "06", RaceNumber: 1, DistanceM: 1600, TrackCode: 15,
		StartTime: mustDate("20230601").Add(13 * time.Hour),
		DataKind:  models.DataKindDeclared,
	}, []*models.Entry{
		{RaceID: targetID, HorseNumber: 1, Post: 1, HorseID: "H900", JockeyID: "J900", Age: 3, DataKind: models.DataKindDeclared},
	})

	ex := NewExtractor(store.Repositories(), testLogger())
	rows, err := ex.ExtractRace(context.Background(), targetID)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	assert.Equal(t, 0.0, rows[0].Get("run_count"))
	assert.InDelta(t, 0.08, rows[0].Get("win_rate"), 1e-9)
	assert.InDelta(t, 0.25, rows[0].Get("place_rate"), 1e-9)
	assert.InDelta(t, 35.0, rows[0].Get("avg_last_3f"), 1e-9)
}

func TestFeatureSchemaStable(t *testing.T) {
	names := Names()
	assert.Equal(t, len(names), Count())

	seen := make(map[string]bool, len(names))
	for _, n := range names {
		assert.False(t, seen[n], "duplicate feature name %s", n)
		seen[n] = true
	}
	for k := 1; k <= prevRaceCount; k++ {
		assert.True(t, seen[fmt.Sprintf("prev%d_finish", k)])
	}
}

func TestExtractYearYieldsLabeledRows(t *testing.T) {
	store := repository.NewMockStore()
	store.SeedDemoYear(2024)
	ex := NewExtractor(store.Repositories(), testLogger())

	rows, err := ex.ExtractYear(context.Background(), 2024, models.SurfaceMixed)
	require.NoError(t, err)
	require.NotEmpty(t, rows)
	for _, r := range rows {
		assert.True(t, r.HasTarget)
		assert.Greater(t, r.Target, 0)
		assert.Len(t, r.Values, Count())
	}
}
