package adjust

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/keiba-engine/internal/models"
	"github.com/yourusername/keiba-engine/internal/probability"
	"github.com/yourusername/keiba-engine/internal/repository"
)

func TestConditionDelta(t *testing.T) {
	tests := []struct {
		name string
		rec  *models.ConditionRecord
		wet  bool
		want float64
	}{
		{"dry track never adjusts", &models.ConditionRecord{Runs: 10, WinRate: 0.5}, false, 0},
		{"no wet experience is penalized", nil, true, -0.02},
		{"zero runs is penalized", &models.ConditionRecord{Runs: 0}, true, -0.02},
		{"single run stays neutral", &models.ConditionRecord{Runs: 1, WinRate: 0.9}, true, 0},
		{"strong win rate", &models.ConditionRecord{Runs: 3, WinRate: 0.2}, true, 0.03},
		{"weak win rate", &models.ConditionRecord{Runs: 3, WinRate: 0.1}, true, 0.01},
		{"strong top3 rate", &models.ConditionRecord{Runs: 3, Top3Rate: 0.5}, true, 0.02},
		{"weak top3 rate", &models.ConditionRecord{Runs: 3, Top3Rate: 0.3}, true, 0.01},
		{"experience bonus", &models.ConditionRecord{Runs: 5}, true, 0.01},
		{"all bonuses stack", &models.ConditionRecord{Runs: 6, WinRate: 0.2, Top3Rate: 0.5}, true, 0.06},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, conditionDelta(tt.rec, tt.wet), 1e-9)
		})
	}
}

func TestTrackApplyPenalizesUnprovenOnWet(t *testing.T) {
	store := repository.NewMockStore()
	repos := store.Repositories()

	race := &models.Race{
		RaceID:        "2025012506010911",
		VenueCode:     "06",
		TrackCode:     15,
		ConditionCode: models.ConditionHeavy,
		DataKind:      models.DataKindDeclared,
	}
	horses := []probability.HorseScore{
		{HorseNumber: 1, Win: 0.10, Quinella: 0.20, Place: 0.30, RankScore: 1.0},
	}

	adj := NewTrackAdjuster(repos.Condition, repos.History, quietLogger())
	require.NoError(t, adj.Apply(context.Background(), race, horses, map[int]string{1: "H001"}))

	// unproven on wet: delta -0.02, win x(1-0.06), quin x(1-0.05), place x(1-0.04)
	assert.InDelta(t, 0.10*0.94, horses[0].Win, 1e-9)
	assert.InDelta(t, 0.20*0.95, horses[0].Quinella, 1e-9)
	assert.InDelta(t, 0.30*0.96, horses[0].Place, 1e-9)
	assert.InDelta(t, 1.02, horses[0].RankScore, 1e-9)
}

func TestTrackApplyDryTrackIsIdentity(t *testing.T) {
	store := repository.NewMockStore()
	repos := store.Repositories()

	race := &models.Race{
		RaceID:        "2025012506010911",
		VenueCode:     "06",
		TrackCode:     15,
		ConditionCode: models.ConditionGood,
		DataKind:      models.DataKindDeclared,
	}
	horses := []probability.HorseScore{
		{HorseNumber: 1, Win: 0.10, Quinella: 0.20, Place: 0.30, RankScore: 1.0},
	}

	adj := NewTrackAdjuster(repos.Condition, repos.History, quietLogger())
	require.NoError(t, adj.Apply(context.Background(), race, horses, map[int]string{1: "H001"}))

	assert.Equal(t, 0.10, horses[0].Win)
	assert.Equal(t, 1.0, horses[0].RankScore)
}

func TestTrackApplyUsesLatestConditionRow(t *testing.T) {
	store := repository.NewMockStore()
	store.AddCondition(&models.TrackCondition{
		RaceCode:      "20250125060109", // truncated to 14 chars
		Surface:       models.SurfaceTurf,
		ConditionCode: models.ConditionHeavy,
	})
	repos := store.Repositories()

	race := &models.Race{
		RaceID:        "2025012506010911",
		VenueCode:     "06",
		TrackCode:     15,
		ConditionCode: models.ConditionGood, // overridden by the snapshot
		DataKind:      models.DataKindDeclared,
	}
	horses := []probability.HorseScore{
		{HorseNumber: 1, Win: 0.10, Quinella: 0.20, Place: 0.30},
	}

	adj := NewTrackAdjuster(repos.Condition, repos.History, quietLogger())
	require.NoError(t, adj.Apply(context.Background(), race, horses, map[int]string{1: "H001"}))

	assert.InDelta(t, 0.10*0.94, horses[0].Win, 1e-9)
}
