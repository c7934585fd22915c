package training

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/keiba-engine/internal/config"
	"github.com/yourusername/keiba-engine/internal/ensemble"
	"github.com/yourusername/keiba-engine/internal/features"
	"github.com/yourusername/keiba-engine/internal/modelmanager"
	"github.com/yourusername/keiba-engine/internal/models"
	"github.com/yourusername/keiba-engine/internal/repository"
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	return log
}

func TestSimulateReturnsExpectedValueRule(t *testing.T) {
	ds := &Dataset{
		Rows: []features.FeatureRow{
			{RaceID: "R1", HorseNumber: 1},
			{RaceID: "R1", HorseNumber: 2},
		},
		Groups: []raceGroup{{RaceID: "R1", Start: 0, End: 2}},
	}
	winProbs := []float64{0.20, 0.05}
	placeProbs := []float64{0.45, 0.30}
	winOdds := map[string]map[int]float64{"R1": {1: 8.0, 2: 2.0}}
	payouts := map[string][]*models.PayoutLine{"R1": {
		{RaceID: "R1", TicketType: models.TicketWin, Combination: "1", Payout: decimal.NewFromInt(8000)},
		{RaceID: "R1", TicketType: models.TicketPlace, Combination: "1", Payout: decimal.NewFromInt(200)},
	}}

	ev := NewEvaluator(nil, quietLogger())
	out := &Evaluation{}
	ev.simulateReturns(ds, winProbs, placeProbs, winOdds, payouts, out)

	// horse 1 clears the EV threshold (0.20 x 8.0 = 1.6), horse 2 does not:
	// one 100 stake returns the 8000 win payout
	assert.InDelta(t, 80.0, out.EVReturn, 1e-9)
	// top win pick is horse 1, which won
	assert.InDelta(t, 80.0, out.WinReturn, 1e-9)
	// top place pick is horse 1, place payout 200 on a 100 stake
	assert.InDelta(t, 2.0, out.PlaceReturn, 1e-9)
}

func TestSimulateReturnsLosingBets(t *testing.T) {
	ds := &Dataset{
		Rows: []features.FeatureRow{
			{RaceID: "R1", HorseNumber: 1},
			{RaceID: "R1", HorseNumber: 2},
		},
		Groups: []raceGroup{{RaceID: "R1", Start: 0, End: 2}},
	}
	// model backs horse 2, but horse 1 won
	winProbs := []float64{0.10, 0.60}
	placeProbs := []float64{0.20, 0.70}
	winOdds := map[string]map[int]float64{"R1": {1: 10.0, 2: 3.0}}
	payouts := map[string][]*models.PayoutLine{"R1": {
		{RaceID: "R1", TicketType: models.TicketWin, Combination: "1", Payout: decimal.NewFromInt(1000)},
	}}

	ev := NewEvaluator(nil, quietLogger())
	out := &Evaluation{}
	ev.simulateReturns(ds, winProbs, placeProbs, winOdds, payouts, out)

	assert.InDelta(t, 0.0, out.WinReturn, 1e-9)
	assert.InDelta(t, 0.0, out.PlaceReturn, 1e-9)
	// horse 2 at 0.60 x 3.0 = 1.8 and horse 1 at 0.10 x 10.0 = 1.0:
	// only the losing horse 2 bet is placed
	assert.InDelta(t, 0.0, out.EVReturn, 1e-9)
}

func TestCompositeWeights(t *testing.T) {
	perfect := &Evaluation{
		WinAUC: 1, QuinellaAUC: 1, PlaceAUC: 1,
		Top3Coverage: 1, WinReturn: 1, PlaceReturn: 1, EVReturn: 1,
	}
	assert.InDelta(t, 1.0, Composite(perfect), 1e-9)

	chance := &Evaluation{WinAUC: 0.5, QuinellaAUC: 0.5, PlaceAUC: 0.5}
	assert.InDelta(t, 0.0, Composite(chance), 1e-9)
}

func TestDecidePromotionWithoutActiveArtifact(t *testing.T) {
	log := quietLogger()
	trainer := &Trainer{
		cfg:       &config.Config{Model: config.ModelConfig{Path: t.TempDir()}},
		evaluator: NewEvaluator(nil, log),
		log:       log,
	}
	trainer.manager = modelmanager.NewManager(trainer.cfg.Model, log)

	candidate := &ensemble.Model{Meta: ensemble.Metadata{Surface: "mixed"}}
	promoted, prev, reason, err := trainer.decidePromotion(context.Background(), candidate, nil, nil)
	require.NoError(t, err)
	assert.True(t, promoted)
	assert.Nil(t, prev)
	assert.Equal(t, "no active artifact", reason)
}

// flatModel is a one-feature artifact whose heads output a constant.
func flatModel(version string) *ensemble.Model {
	return &ensemble.Model{
		ArtifactVersion: ensemble.CurrentArtifactVersion,
		FeatureNames:    []string{"f0"},
		Families: []ensemble.Family{{
			Strategy: ensemble.GrowHistogram,
			Ranker:   &ensemble.Booster{Objective: ensemble.ObjectiveRank},
			Win:      &ensemble.Booster{Objective: ensemble.ObjectiveLogistic},
			Quinella: &ensemble.Booster{Objective: ensemble.ObjectiveLogistic},
			Place:    &ensemble.Booster{Objective: ensemble.ObjectiveLogistic},
		}},
		Weights: []float64{1},
		Calibrators: map[ensemble.Task]*ensemble.Calibrator{
			ensemble.TaskWin:      {},
			ensemble.TaskQuinella: {},
			ensemble.TaskPlace:    {},
		},
		HigherIsBetter: true,
		Meta:           ensemble.Metadata{Version: version, Surface: "mixed"},
	}
}

// stump favors low feature values, which syntheticRows assigns to winners.
func stump(obj ensemble.Objective) *ensemble.Booster {
	return &ensemble.Booster{
		Objective:    obj,
		LearningRate: 1,
		Trees: []ensemble.Tree{{Nodes: []ensemble.Node{
			{Feature: 0, Threshold: 0.5, Left: 1, Right: 2},
			{Leaf: true, Value: 2},
			{Leaf: true, Value: -2},
		}}},
	}
}

func sharpModel(version string) *ensemble.Model {
	m := flatModel(version)
	m.Families[0].Ranker = stump(ensemble.ObjectiveRank)
	m.Families[0].Win = stump(ensemble.ObjectiveLogistic)
	m.Families[0].Quinella = stump(ensemble.ObjectiveLogistic)
	m.Families[0].Place = stump(ensemble.ObjectiveLogistic)
	return m
}

func promotionTrainer(t *testing.T) *Trainer {
	t.Helper()
	log := quietLogger()
	cfg := &config.Config{Model: config.ModelConfig{Path: t.TempDir()}}
	require.NoError(t, ensemble.SaveArtifact(flatModel("active_v1"), cfg.Model.ActivePath(modelmanager.SurfaceMixed)))

	manager := modelmanager.NewManager(cfg.Model, log)
	require.NoError(t, manager.Reload())

	return &Trainer{
		cfg:       cfg,
		evaluator: NewEvaluator(repository.NewMockStore().Repositories(), log),
		manager:   manager,
		log:       log,
	}
}

func TestDecidePromotionRejectsNonImprovement(t *testing.T) {
	trainer := promotionTrainer(t)
	test := NewDataset(syntheticRows(6, 5))

	// the candidate is no better than the active artifact: a composite tie
	// must keep the active model live
	candidate := flatModel("cand_v2")
	eval, err := trainer.evaluator.Evaluate(context.Background(), candidate, test)
	require.NoError(t, err)

	promoted, prev, reason, err := trainer.decidePromotion(context.Background(), candidate, test, eval)
	require.NoError(t, err)
	assert.False(t, promoted)
	require.NotNil(t, prev)
	assert.InDelta(t, eval.Composite, *prev, 1e-9)
	assert.Contains(t, reason, "<=")
	assert.Equal(t, "active_v1", trainer.manager.ActiveVersion())
}

func TestDecidePromotionAdoptsStrictImprovement(t *testing.T) {
	trainer := promotionTrainer(t)
	test := NewDataset(syntheticRows(6, 5))

	candidate := sharpModel("cand_v2")
	eval, err := trainer.evaluator.Evaluate(context.Background(), candidate, test)
	require.NoError(t, err)

	promoted, prev, reason, err := trainer.decidePromotion(context.Background(), candidate, test, eval)
	require.NoError(t, err)
	assert.True(t, promoted)
	require.NotNil(t, prev)
	assert.Greater(t, eval.Composite, *prev)
	assert.Contains(t, reason, ">")
}
