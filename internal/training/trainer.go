package training

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yourusername/keiba-engine/internal/config"
	"github.com/yourusername/keiba-engine/internal/ensemble"
	"github.com/yourusername/keiba-engine/internal/features"
	"github.com/yourusername/keiba-engine/internal/modelmanager"
	"github.com/yourusername/keiba-engine/internal/models"
	"github.com/yourusername/keiba-engine/internal/repository"
)

// TrainResult is the sidecar summary written next to the staged artifact and
// returned to callers.
type TrainResult struct {
	Version      string      `json:"version"`
	Surface      string      `json:"surface"`
	Years        []int       `json:"years"`
	Samples      int         `json:"samples"`
	TrainRows    int         `json:"train_rows"`
	CalibRows    int         `json:"calibration_rows"`
	TestRows     int         `json:"test_rows"`
	SearchTrials int         `json:"search_trials"`
	SearchPruned int         `json:"search_pruned"`
	Weights      []float64   `json:"weights"`
	Evaluation   *Evaluation `json:"evaluation"`
	// Promotion outcome: the previous artifact's composite over the same
	// test split, when one existed.
	PreviousComposite *float64 `json:"previous_composite,omitempty"`
	Promoted          bool     `json:"promoted"`
	PromoteReason     string   `json:"promote_reason"`
	StartedAt         time.Time `json:"started_at"`
	FinishedAt        time.Time `json:"finished_at"`
}

// Trainer runs the full retrain pipeline: extract, split, search, train,
// blend, calibrate, evaluate, stage, and conditionally promote.
type Trainer struct {
	cfg       *config.Config
	repos     *repository.Repositories
	extractor *features.Extractor
	evaluator *Evaluator
	manager   *modelmanager.Manager
	log       *logrus.Logger
}

// NewTrainer wires a trainer against live repositories and a model manager.
func NewTrainer(cfg *config.Config, repos *repository.Repositories, manager *modelmanager.Manager, log *logrus.Logger) *Trainer {
	return &Trainer{
		cfg:       cfg,
		repos:     repos,
		extractor: features.NewExtractor(repos, log),
		evaluator: NewEvaluator(repos, log),
		manager:   manager,
		log:       log,
	}
}

// Run executes one retrain for the given surface variant. A failed run never
// touches the active artifact; the staged file is removed on error or
// cancellation.
func (t *Trainer) Run(ctx context.Context, surface models.Surface) (*TrainResult, error) {
	started := time.Now()
	version := fmt.Sprintf("%s_%s", surface, started.Format("20060102_150405"))
	log := t.log.WithFields(logrus.Fields{"surface": surface, "version": version})
	log.Info("Retrain starting")

	years := t.trainYears(started)
	if len(years) == 0 {
		return nil, &models.TrainingError{Stage: "extract", Err: fmt.Errorf("no training years after exclusions")}
	}

	var rows []features.FeatureRow
	for _, y := range years {
		yearRows, err := t.extractor.ExtractYear(ctx, y, surface)
		if err != nil {
			return nil, &models.TrainingError{Stage: "extract", Err: err}
		}
		rows = append(rows, yearRows...)
	}

	ds := NewDataset(rows)
	if ds.Len() == 0 {
		return nil, &models.TrainingError{Stage: "extract", Err: fmt.Errorf("no labeled rows for years %v", years)}
	}
	train, calib, test := ds.Split(t.cfg.Training.TrainRatio, t.cfg.Training.CalibrationRatio)
	if train.Len() == 0 || calib.Len() == 0 || test.Len() == 0 {
		return nil, &models.TrainingError{Stage: "split", Err: fmt.Errorf("degenerate split %d/%d/%d", train.Len(), calib.Len(), test.Len())}
	}
	log.WithFields(logrus.Fields{
		"rows": ds.Len(), "train": train.Len(), "calib": calib.Len(), "test": test.Len(),
	}).Info("Dataset split")

	budget := time.Duration(t.cfg.Training.SearchTimeoutMin) * time.Minute
	search, err := SearchHyperparams(ctx, train, calib, t.cfg.Training.MaxTrials, budget, t.log)
	if err != nil {
		return nil, &models.TrainingError{Stage: "search", Err: err}
	}
	hp := search.Best
	hp.Rounds = ensemble.DefaultHyperparams().Rounds
	log.WithFields(logrus.Fields{
		"trials": search.Trials, "pruned": search.Pruned, "score": search.BestScore,
	}).Info("Hyperparameter search finished")

	families, err := t.trainFamilies(ctx, train, calib, hp)
	if err != nil {
		return nil, &models.TrainingError{Stage: "train", Err: err}
	}

	weights := OptimizeWeights(familyPreds(families, calib.X, ensemble.TaskWin), calib.YWin)
	log.WithField("weights", weights).Info("Ensemble weights optimized")

	isoWeight := t.cfg.Training.IsotonicWeight
	if isoWeight == 0 {
		isoWeight = ensemble.DefaultIsoWeight
	}
	calibrators := make(map[ensemble.Task]*ensemble.Calibrator)
	rawWin := blendPreds(familyPreds(families, calib.X, ensemble.TaskWin), weights)
	calibrators[ensemble.TaskWin] = ensemble.FitCalibrator(rawWin, calib.YWin, isoWeight)
	calibrators[ensemble.TaskQuinella] = ensemble.FitCalibrator(
		blendPreds(familyPreds(families, calib.X, ensemble.TaskQuinella), weights), calib.YQuin, isoWeight)
	calibrators[ensemble.TaskPlace] = ensemble.FitCalibrator(
		blendPreds(familyPreds(families, calib.X, ensemble.TaskPlace), weights), calib.YPlace, isoWeight)

	model := &ensemble.Model{
		ArtifactVersion: ensemble.CurrentArtifactVersion,
		FeatureNames:    features.Names(),
		Families:        families,
		Weights:         weights,
		Calibrators:     calibrators,
		HigherIsBetter:  true,
		Meta: ensemble.Metadata{
			Version:   version,
			Surface:   string(surface),
			Years:     years,
			Samples:   ds.Len(),
			TrainedAt: started,
			Params:    hp,
		},
	}

	eval, err := t.evaluator.Evaluate(ctx, model, test)
	if err != nil {
		return nil, err
	}
	model.Meta.Metrics = map[string]float64{
		"win_auc":       eval.WinAUC,
		"quinella_auc":  eval.QuinellaAUC,
		"place_auc":     eval.PlaceAUC,
		"win_brier":     eval.WinBrier,
		"top3_coverage": eval.Top3Coverage,
		"composite":     eval.Composite,
	}

	if err := t.saveCalibrationBins(ctx, version, rawWin, calibrators[ensemble.TaskWin], calib.YWin); err != nil {
		log.WithError(err).Warn("Calibration bin persistence failed; continuing")
	}

	stagedPath := t.cfg.Model.StagingPath(string(surface))
	if err := ensemble.SaveArtifact(model, stagedPath); err != nil {
		return nil, &models.TrainingError{Stage: "stage", Err: err}
	}
	cleanupStaged := func() { _ = os.Remove(stagedPath) }
	if err := ctx.Err(); err != nil {
		cleanupStaged()
		return nil, err
	}

	res := &TrainResult{
		Version:      version,
		Surface:      string(surface),
		Years:        years,
		Samples:      ds.Len(),
		TrainRows:    train.Len(),
		CalibRows:    calib.Len(),
		TestRows:     test.Len(),
		SearchTrials: search.Trials,
		SearchPruned: search.Pruned,
		Weights:      weights,
		Evaluation:   eval,
		StartedAt:    started,
	}

	promoted, prevComposite, reason, err := t.decidePromotion(ctx, model, test, eval)
	if err != nil {
		cleanupStaged()
		return nil, err
	}
	res.Promoted = promoted
	res.PreviousComposite = prevComposite
	res.PromoteReason = reason
	if promoted {
		if err := t.manager.Promote(stagedPath, string(surface)); err != nil {
			return nil, &models.TrainingError{Stage: "promote", Err: err}
		}
	}

	res.FinishedAt = time.Now()
	if err := t.writeSidecar(res); err != nil {
		log.WithError(err).Warn("Sidecar write failed")
	}
	log.WithFields(logrus.Fields{
		"composite": eval.Composite,
		"promoted":  promoted,
		"reason":    reason,
		"elapsed":   res.FinishedAt.Sub(started).Round(time.Second).String(),
	}).Info("Retrain finished")
	return res, nil
}

// trainYears lists the finalized calendar years to extract, newest last,
// skipping the configured exclusions. The current year is never included.
func (t *Trainer) trainYears(now time.Time) []int {
	excluded := make(map[int]bool, len(t.cfg.Training.ExcludeYears))
	for _, y := range t.cfg.Training.ExcludeYears {
		excluded[y] = true
	}
	var years []int
	for y := now.Year() - t.cfg.Training.Years; y < now.Year(); y++ {
		if !excluded[y] {
			years = append(years, y)
		}
	}
	return years
}

// trainFamilies fits the ranker plus three classifier heads for each growth
// strategy, with early stopping against the calibration split.
func (t *Trainer) trainFamilies(ctx context.Context, train, calib *Dataset, hp ensemble.Hyperparams) ([]ensemble.Family, error) {
	strategies := []ensemble.GrowthStrategy{ensemble.GrowHistogram, ensemble.GrowLeafwise, ensemble.GrowOrdered}
	families := make([]ensemble.Family, 0, len(strategies))

	winHP := hp
	winHP.ScalePosWeight = ScalePosWeight(train.YWin)
	quinHP := hp
	quinHP.ScalePosWeight = ScalePosWeight(train.YQuin)
	placeHP := hp
	placeHP.ScalePosWeight = ScalePosWeight(train.YPlace)

	for _, s := range strategies {
		ranker, err := ensemble.TrainBooster(ctx, s, ensemble.ObjectiveRank, train.X, train.YRank, calib.X, calib.YRank, hp)
		if err != nil {
			return nil, err
		}
		win, err := ensemble.TrainBooster(ctx, s, ensemble.ObjectiveLogistic, train.X, train.YWin, calib.X, calib.YWin, winHP)
		if err != nil {
			return nil, err
		}
		quin, err := ensemble.TrainBooster(ctx, s, ensemble.ObjectiveLogistic, train.X, train.YQuin, calib.X, calib.YQuin, quinHP)
		if err != nil {
			return nil, err
		}
		place, err := ensemble.TrainBooster(ctx, s, ensemble.ObjectiveLogistic, train.X, train.YPlace, calib.X, calib.YPlace, placeHP)
		if err != nil {
			return nil, err
		}
		families = append(families, ensemble.Family{
			Strategy: s, Ranker: ranker, Win: win, Quinella: quin, Place: place,
		})
		t.log.WithField("strategy", s).Debug("Family trained")
	}
	return families, nil
}

// decidePromotion compares the candidate against the active artifact on the
// same held-out test split. Schema drift always adopts the candidate, since
// the old model cannot score the new feature matrix.
func (t *Trainer) decidePromotion(ctx context.Context, candidate *ensemble.Model, test *Dataset, eval *Evaluation) (bool, *float64, string, error) {
	old, err := t.manager.Load(candidate.Meta.Surface)
	if err != nil {
		return true, nil, "no active artifact", nil
	}
	if modelmanager.SchemaDrifted(old, candidate) {
		return true, nil, "feature schema drift", nil
	}
	oldEval, err := t.evaluator.Evaluate(ctx, old, test)
	if err != nil {
		return false, nil, "", err
	}
	if eval.Composite > oldEval.Composite {
		return true, &oldEval.Composite, fmt.Sprintf("composite %.4f > %.4f", eval.Composite, oldEval.Composite), nil
	}
	return false, &oldEval.Composite, fmt.Sprintf("composite %.4f <= %.4f", eval.Composite, oldEval.Composite), nil
}

func (t *Trainer) saveCalibrationBins(ctx context.Context, version string, raw []float64, cal *ensemble.Calibrator, labels []float64) error {
	calibrated := make([]float64, len(raw))
	for i, p := range raw {
		calibrated[i] = cal.Calibrate(p)
	}
	bins := CalibrationBins(raw, calibrated, labels)
	data, err := json.Marshal(bins)
	if err != nil {
		return err
	}
	return t.repos.Calibration.Save(ctx, &models.CalibrationRecord{
		ModelVersion: version,
		Data:         data,
		CreatedAt:    time.Now(),
		IsActive:     true,
	})
}

func (t *Trainer) writeSidecar(res *TrainResult) error {
	name := fmt.Sprintf("surface_train_result_%s_%s.json", res.Surface, res.StartedAt.Format("20060102"))
	path := filepath.Join(filepath.Dir(t.cfg.Model.StagingPath(res.Surface)), name)
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// familyPreds evaluates one task head of every family over a matrix.
func familyPreds(families []ensemble.Family, xs [][]float64, task ensemble.Task) [][]float64 {
	preds := make([][]float64, len(families))
	for f := range families {
		var b *ensemble.Booster
		switch task {
		case ensemble.TaskWin:
			b = families[f].Win
		case ensemble.TaskQuinella:
			b = families[f].Quinella
		case ensemble.TaskPlace:
			b = families[f].Place
		}
		out := make([]float64, len(xs))
		for i, x := range xs {
			out[i] = b.Predict(x)
		}
		preds[f] = out
	}
	return preds
}

// blendPreds mixes per-family probability vectors with the given weights.
func blendPreds(preds [][]float64, weights []float64) []float64 {
	if len(preds) == 0 {
		return nil
	}
	out := make([]float64, len(preds[0]))
	for f := range preds {
		for i := range out {
			out[i] += weights[f] * preds[f][i]
		}
	}
	return out
}
