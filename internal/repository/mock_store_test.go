package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/keiba-engine/internal/models"
)

func finalizedEntry(raceID, horseID string, finish int, jockeyID string) *models.Entry {
	return &models.Entry{
		RaceID:         raceID,
		HorseNumber:    1,
		Post:           1,
		HorseID:        horseID,
		JockeyID:       jockeyID,
		FinishPosition: finish,
		FinishTime:     95.0,
		Last3F:         34.5,
		Corner3:        3,
		Corner4:        2,
		DataKind:       models.DataKindFinalized,
	}
}

func finalizedRace(raceID string) *models.Race {
	date, _ := models.RaceDateFromID(raceID)
	return &models.Race{
		RaceID:        raceID,
		MeetYear:      date.Year(),
		VenueCode:     models.VenueFromID(raceID),
		DistanceM:     1600,
		TrackCode:     models.TrackCodeTurfMin,
		GradeCode:     "normal",
		StartTime:     date,
		ConditionCode: models.ConditionGood,
		DataKind:      models.DataKindFinalized,
	}
}

func TestPastPerformanceOnlyCountsEarlierRaces(t *testing.T) {
	s := NewMockStore()
	s.AddRace(finalizedRace("2023010106010101"), []*models.Entry{finalizedEntry("2023010106010101", "H001", 1, "J010")})
	s.AddRace(finalizedRace("2023070106010101"), []*models.Entry{finalizedEntry("2023070106010101", "H001", 2, "J020")})
	// runs after the target race: must not leak into the aggregate
	s.AddRace(finalizedRace("2024010106010101"), []*models.Entry{finalizedEntry("2024010106010101", "H001", 3, "J030")})

	pair := HorseRacePair{HorseID: "H001", RaceID: "2023120106010111"}
	perf, err := s.Repositories().History.PastPerformance(context.Background(), []HorseRacePair{pair})
	require.NoError(t, err)
	require.Contains(t, perf, pair)

	p := perf[pair]
	assert.Equal(t, 2, p.RunCount)
	assert.InDelta(t, 0.5, p.WinRate, 1e-9)
	assert.InDelta(t, 1.0, p.PlaceRate, 1e-9)
	assert.Equal(t, 1, p.BestFinish)
	// newest qualifying run is the July race
	assert.Equal(t, "J020", p.LastJockeyID)
}

func TestPastPerformanceEmptyForDebutant(t *testing.T) {
	s := NewMockStore()
	pair := HorseRacePair{HorseID: "H999", RaceID: "2023120106010111"}
	perf, err := s.Repositories().History.PastPerformance(context.Background(), []HorseRacePair{pair})
	require.NoError(t, err)
	assert.NotContains(t, perf, pair)
}

func TestComboRecordsFilterByJockey(t *testing.T) {
	s := NewMockStore()
	s.AddRace(finalizedRace("2023010106010101"), []*models.Entry{finalizedEntry("2023010106010101", "H001", 1, "J010")})
	s.AddRace(finalizedRace("2023070106010101"), []*models.Entry{finalizedEntry("2023070106010101", "H001", 4, "J020")})

	pair := HorseJockeyPair{HorseID: "H001", JockeyID: "J010", RaceID: "2023120106010111"}
	combos, err := s.Repositories().History.ComboRecords(context.Background(), []HorseJockeyPair{pair})
	require.NoError(t, err)

	key := HorseRacePair{HorseID: "H001", RaceID: "2023120106010111"}
	require.Contains(t, combos, key)
	assert.Equal(t, 1, combos[key].Runs)
	assert.InDelta(t, 1.0, combos[key].WinRate, 1e-9)
}

func TestPredictionUpsertReplacesNewer(t *testing.T) {
	s := NewMockStore()
	repo := s.Repositories().Prediction
	ctx := context.Background()

	base := time.Date(2025, 1, 25, 10, 0, 0, 0, time.UTC)
	first := &models.PredictionRecord{
		ID: uuid.New(), RaceID: "2025012506010911", IsFinal: false,
		Result: []byte(`{}`), PredictedAt: base,
	}
	require.NoError(t, repo.Upsert(ctx, first))

	second := &models.PredictionRecord{
		ID: uuid.New(), RaceID: "2025012506010911", IsFinal: false,
		Result: []byte(`{}`), PredictedAt: base.Add(time.Minute),
	}
	require.NoError(t, repo.Upsert(ctx, second))

	recs, err := repo.GetByRace(ctx, "2025012506010911")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, second.ID, recs[0].ID)

	// the replaced record id no longer resolves
	_, err = repo.GetByID(ctx, first.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
	got, err := repo.GetByID(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, second.ID, got.ID)
}

func TestPredictionUpsertIgnoresStaleWrite(t *testing.T) {
	s := NewMockStore()
	repo := s.Repositories().Prediction
	ctx := context.Background()

	base := time.Date(2025, 1, 25, 10, 0, 0, 0, time.UTC)
	current := &models.PredictionRecord{
		ID: uuid.New(), RaceID: "2025012506010911", IsFinal: false,
		Result: []byte(`{}`), PredictedAt: base,
	}
	require.NoError(t, repo.Upsert(ctx, current))

	stale := &models.PredictionRecord{
		ID: uuid.New(), RaceID: "2025012506010911", IsFinal: false,
		Result: []byte(`{}`), PredictedAt: base.Add(-time.Hour),
	}
	require.NoError(t, repo.Upsert(ctx, stale))

	recs, err := repo.GetByRace(ctx, "2025012506010911")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, current.ID, recs[0].ID)
}

func TestPredictionFinalAndPrelimCoexist(t *testing.T) {
	s := NewMockStore()
	repo := s.Repositories().Prediction
	ctx := context.Background()

	now := time.Now()
	prelim := &models.PredictionRecord{ID: uuid.New(), RaceID: "2025012506010911", IsFinal: false, Result: []byte(`{}`), PredictedAt: now}
	final := &models.PredictionRecord{ID: uuid.New(), RaceID: "2025012506010911", IsFinal: true, Result: []byte(`{}`), PredictedAt: now}
	require.NoError(t, repo.Upsert(ctx, prelim))
	require.NoError(t, repo.Upsert(ctx, final))

	recs, err := repo.GetByRace(ctx, "2025012506010911")
	require.NoError(t, err)
	assert.Len(t, recs, 2)
}

func TestCalibrationSaveDeactivatesPrevious(t *testing.T) {
	s := NewMockStore()
	repo := s.Repositories().Calibration
	ctx := context.Background()

	_, err := repo.GetActive(ctx)
	assert.ErrorIs(t, err, models.ErrNotFound)

	require.NoError(t, repo.Save(ctx, &models.CalibrationRecord{ModelVersion: "v1", Data: []byte(`{}`)}))
	require.NoError(t, repo.Save(ctx, &models.CalibrationRecord{ModelVersion: "v2", Data: []byte(`{}`)}))

	active, err := repo.GetActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "v2", active.ModelVersion)
	assert.True(t, active.IsActive)
}

func TestOddsPopularityFollowsPrice(t *testing.T) {
	s := NewMockStore()
	s.AddWinOdds("2025012506010911", map[int]float64{1: 12.4, 2: 2.1, 3: 5.8})

	lines, err := s.Repositories().Odds.GetByRace(context.Background(), "2025012506010911", models.TicketWin)
	require.NoError(t, err)
	require.Len(t, lines, 3)
	assert.Equal(t, "2", lines[0].Combination)
	assert.Equal(t, 1, lines[0].Popularity)
	assert.Equal(t, "1", lines[2].Combination)
	assert.Equal(t, 3, lines[2].Popularity)
}

func TestRestBucket(t *testing.T) {
	assert.Equal(t, models.RestBucketBackToBack, restBucket(7))
	assert.Equal(t, models.RestBucket2W, restBucket(10))
	assert.Equal(t, models.RestBucket3W, restBucket(21))
	assert.Equal(t, models.RestBucket4W, restBucket(28))
	assert.Equal(t, models.RestBucketLong, restBucket(60))
}

func TestSeededStoreServesDemoCard(t *testing.T) {
	repos := NewSeededMockStore().Repositories()
	ctx := context.Background()

	race, err := repos.Race.GetByID(ctx, "2025012506010911")
	require.NoError(t, err)
	assert.False(t, race.IsFinalized())

	entries, err := repos.Entry.GetByRaceID(ctx, "2025012506010911")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(entries), 5)

	// every starter carries finalized history
	perf, err := repos.History.PastPerformance(ctx, []HorseRacePair{{HorseID: entries[0].HorseID, RaceID: race.RaceID}})
	require.NoError(t, err)
	assert.NotEmpty(t, perf)
}
