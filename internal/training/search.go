package training

import (
	"context"
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yourusername/keiba-engine/internal/ensemble"
)

// Trial score weights: the search optimizes a blend of win discrimination,
// winner coverage in the top three, and place discrimination.
const (
	searchWinAUCWeight   = 0.4
	searchCoverageWeight = 0.3
	searchPlaceAUCWeight = 0.3
)

// trialRounds keeps search-phase boosters small; the winning configuration
// is retrained at full size afterwards.
const trialRounds = 40

// SearchResult is the outcome of the hyperparameter search.
type SearchResult struct {
	Best      ensemble.Hyperparams
	BestScore float64
	Trials    int
	Pruned    int
}

type trial struct {
	hp     ensemble.Hyperparams
	score  float64
	winAUC float64
	pruned bool
}

// SearchHyperparams runs up to maxTrials Parzen-style trials within the
// wall-clock budget. Each trial trains one small booster per family for the
// ranker plus the win and place heads, scores on the calibration split, and
// prunes below-median trials after the win head. Sampling is seeded so a
// search over the same data reproduces.
func SearchHyperparams(ctx context.Context, train, calib *Dataset, maxTrials int, budget time.Duration, log *logrus.Logger) (*SearchResult, error) {
	deadline := time.Now().Add(budget)
	rng := rand.New(rand.NewSource(1))

	res := &SearchResult{Best: ensemble.DefaultHyperparams(), BestScore: math.Inf(-1)}
	var done []trial

	for t := 0; t < maxTrials; t++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if time.Now().After(deadline) {
			log.WithField("trials", t).Warn("Hyperparameter search hit the wall-clock cap")
			break
		}

		hp := sampleHyperparams(rng, done)
		tr, err := runTrial(ctx, train, calib, hp, medianWinAUC(done))
		if err != nil {
			return nil, err
		}
		done = append(done, tr)
		res.Trials++
		if tr.pruned {
			res.Pruned++
			continue
		}
		if tr.score > res.BestScore {
			res.BestScore = tr.score
			res.Best = hp
		}

		log.WithFields(logrus.Fields{
			"trial": t,
			"score": tr.score,
			"best":  res.BestScore,
		}).Debug("Search trial complete")
	}

	if math.IsInf(res.BestScore, -1) {
		res.Best = ensemble.DefaultHyperparams()
		res.BestScore = 0
	}
	return res, nil
}

func runTrial(ctx context.Context, train, calib *Dataset, hp ensemble.Hyperparams, pruneBelow float64) (trial, error) {
	tr := trial{hp: hp}
	strategies := []ensemble.GrowthStrategy{ensemble.GrowHistogram, ensemble.GrowLeafwise, ensemble.GrowOrdered}

	winHP := hp
	winHP.ScalePosWeight = ScalePosWeight(train.YWin)

	// average the three family outputs with balanced weights
	rankScores := make([]float64, calib.Len())
	winProbs := make([]float64, calib.Len())
	for _, s := range strategies {
		ranker, err := ensemble.TrainBooster(ctx, s, ensemble.ObjectiveRank, train.X, train.YRank, nil, nil, hp)
		if err != nil {
			return tr, err
		}
		win, err := ensemble.TrainBooster(ctx, s, ensemble.ObjectiveLogistic, train.X, train.YWin, nil, nil, winHP)
		if err != nil {
			return tr, err
		}
		for i, x := range calib.X {
			rankScores[i] += ranker.RawScore(x) / float64(len(strategies))
			winProbs[i] += win.Predict(x) / float64(len(strategies))
		}
	}

	tr.winAUC = AUC(winProbs, calib.YWin)
	if pruneBelow > 0 && tr.winAUC < pruneBelow {
		tr.pruned = true
		return tr, nil
	}

	placeHP := hp
	placeHP.ScalePosWeight = ScalePosWeight(train.YPlace)
	placeProbs := make([]float64, calib.Len())
	for _, s := range strategies {
		place, err := ensemble.TrainBooster(ctx, s, ensemble.ObjectiveLogistic, train.X, train.YPlace, nil, nil, placeHP)
		if err != nil {
			return tr, err
		}
		for i, x := range calib.X {
			placeProbs[i] += place.Predict(x) / float64(len(strategies))
		}
	}

	coverage := Top3Coverage(rankScores, calib.YWin, calib.Groups, true)
	tr.score = searchWinAUCWeight*tr.winAUC +
		searchCoverageWeight*coverage +
		searchPlaceAUCWeight*AUC(placeProbs, calib.YPlace)
	return tr, nil
}

// medianWinAUC is the pruning threshold: the median win AUC over completed
// (non-pruned) trials, zero until at least four finished.
func medianWinAUC(done []trial) float64 {
	var aucs []float64
	for _, t := range done {
		if !t.pruned {
			aucs = append(aucs, t.winAUC)
		}
	}
	if len(aucs) < 4 {
		return 0
	}
	sort.Float64s(aucs)
	return aucs[len(aucs)/2]
}

// sampleHyperparams draws a candidate. Early trials explore uniformly; once
// enough trials finished, parameters are drawn near the better half with a
// quarter of draws kept fully random, in the spirit of a Parzen estimator.
func sampleHyperparams(rng *rand.Rand, done []trial) ensemble.Hyperparams {
	hp := ensemble.Hyperparams{
		Rounds:         trialRounds,
		LearningRate:   logUniform(rng, 0.03, 0.3),
		MaxDepth:       3 + rng.Intn(5),
		MinSamplesLeaf: 10 + rng.Intn(51),
		Bins:           32,
		Lambda:         logUniform(rng, 0.5, 5),
		ScalePosWeight: 1,
	}
	hp.MaxLeaves = 1 << hp.MaxDepth

	good := goodTrials(done)
	if len(good) < 4 || rng.Float64() < 0.25 {
		return hp
	}

	base := good[rng.Intn(len(good))].hp
	hp.LearningRate = clamp(base.LearningRate*math.Exp(rng.NormFloat64()*0.2), 0.03, 0.3)
	hp.MaxDepth = clampInt(base.MaxDepth+rng.Intn(3)-1, 3, 7)
	hp.MaxLeaves = 1 << hp.MaxDepth
	hp.MinSamplesLeaf = clampInt(base.MinSamplesLeaf+rng.Intn(21)-10, 10, 60)
	hp.Lambda = clamp(base.Lambda*math.Exp(rng.NormFloat64()*0.3), 0.5, 5)
	return hp
}

// goodTrials is the better-scoring half of completed trials.
func goodTrials(done []trial) []trial {
	var finished []trial
	for _, t := range done {
		if !t.pruned {
			finished = append(finished, t)
		}
	}
	sort.Slice(finished, func(a, b int) bool { return finished[a].score > finished[b].score })
	return finished[:len(finished)/2]
}

func logUniform(rng *rand.Rand, lo, hi float64) float64 {
	return math.Exp(math.Log(lo) + rng.Float64()*(math.Log(hi)-math.Log(lo)))
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
