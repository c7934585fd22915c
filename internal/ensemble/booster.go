package ensemble

import (
	"context"
	"math"
)

// Objective selects the boosting loss.
type Objective string

const (
	// ObjectiveLogistic is binary cross-entropy over {0,1} targets.
	ObjectiveLogistic Objective = "logistic"
	// ObjectiveRank is least squares on the inverted-rank target; higher
	// output ranks better.
	ObjectiveRank Objective = "rank"
)

// Hyperparams are the per-booster knobs explored by the trainer's search.
type Hyperparams struct {
	Rounds         int     `json:"rounds"`
	LearningRate   float64 `json:"learning_rate"`
	MaxDepth       int     `json:"max_depth"`
	MaxLeaves      int     `json:"max_leaves"`
	MinSamplesLeaf int     `json:"min_samples_leaf"`
	Bins           int     `json:"bins"`
	Lambda         float64 `json:"lambda"`
	// ScalePosWeight multiplies gradients of positive samples; set to
	// neg/pos by the trainer to counter class imbalance.
	ScalePosWeight float64 `json:"scale_pos_weight"`
}

// DefaultHyperparams are a sane middle of the search space.
func DefaultHyperparams() Hyperparams {
	return Hyperparams{
		Rounds:         120,
		LearningRate:   0.1,
		MaxDepth:       5,
		MaxLeaves:      31,
		MinSamplesLeaf: 20,
		Bins:           32,
		Lambda:         1.0,
		ScalePosWeight: 1.0,
	}
}

// Booster is one gradient-boosted tree ensemble.
type Booster struct {
	Strategy     GrowthStrategy `json:"strategy"`
	Objective    Objective      `json:"objective"`
	Base         float64        `json:"base"`
	LearningRate float64        `json:"learning_rate"`
	Trees        []Tree         `json:"trees"`
}

// RawScore is the additive margin before any link function.
func (b *Booster) RawScore(x []float64) float64 {
	s := b.Base
	for i := range b.Trees {
		s += b.LearningRate * b.Trees[i].Score(x)
	}
	return s
}

// Predict applies the objective's link: a probability for logistic boosters,
// the raw score for rankers.
func (b *Booster) Predict(x []float64) float64 {
	if b.Objective == ObjectiveLogistic {
		return sigmoid(b.RawScore(x))
	}
	return b.RawScore(x)
}

// TrainBooster fits one booster. The validation set, when non-empty, drives
// early stopping with a patience of 10 rounds. Cancellation is checked once
// per boosting round.
func TrainBooster(ctx context.Context, strategy GrowthStrategy, objective Objective,
	xs [][]float64, ys []float64, valXs [][]float64, valYs []float64, hp Hyperparams) (*Booster, error) {

	b := &Booster{
		Strategy:     strategy,
		Objective:    objective,
		LearningRate: hp.LearningRate,
		Base:         baseScore(objective, ys),
	}

	params := TreeParams{
		MaxDepth:       hp.MaxDepth,
		MaxLeaves:      hp.MaxLeaves,
		MinSamplesLeaf: hp.MinSamplesLeaf,
		Bins:           hp.Bins,
		Lambda:         hp.Lambda,
	}

	margins := make([]float64, len(xs))
	for i := range margins {
		margins[i] = b.Base
	}
	valMargins := make([]float64, len(valXs))
	for i := range valMargins {
		valMargins[i] = b.Base
	}

	grad := make([]float64, len(xs))
	hess := make([]float64, len(xs))

	bestVal := math.Inf(1)
	bestRound := 0
	const patience = 10

	for round := 0; round < hp.Rounds; round++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		computeGradients(objective, strategy, margins, ys, hp.ScalePosWeight, grad, hess)
		tree := buildTree(xs, grad, hess, params, strategy)
		b.Trees = append(b.Trees, tree)

		for i := range xs {
			margins[i] += hp.LearningRate * tree.Score(xs[i])
		}

		if len(valXs) == 0 {
			continue
		}
		for i := range valXs {
			valMargins[i] += hp.LearningRate * tree.Score(valXs[i])
		}
		loss := validationLoss(objective, valMargins, valYs)
		if loss < bestVal-1e-9 {
			bestVal = loss
			bestRound = round
		} else if round-bestRound >= patience {
			break
		}
	}

	// keep the best validation prefix whether or not patience ran out
	if len(valXs) > 0 && len(b.Trees) > bestRound+1 {
		b.Trees = b.Trees[:bestRound+1]
	}

	return b, nil
}

func baseScore(objective Objective, ys []float64) float64 {
	if len(ys) == 0 {
		return 0
	}
	var sum float64
	for _, y := range ys {
		sum += y
	}
	mean := sum / float64(len(ys))
	if objective == ObjectiveLogistic {
		mean = math.Min(math.Max(mean, 1e-6), 1-1e-6)
		return math.Log(mean / (1 - mean))
	}
	return mean
}

// computeGradients fills grad/hess in place. The ordered strategy replaces
// each margin with the prefix-only estimate before differentiating, so a
// row's gradient never depends on its own current fit.
func computeGradients(objective Objective, strategy GrowthStrategy, margins, ys []float64, scalePos float64, grad, hess []float64) {
	useMargin := margins
	if strategy == GrowOrdered {
		useMargin = prefixMargins(margins)
	}

	for i := range ys {
		switch objective {
		case ObjectiveLogistic:
			p := sigmoid(useMargin[i])
			g := p - ys[i]
			h := p * (1 - p)
			if ys[i] > 0.5 && scalePos > 0 {
				g *= scalePos
				h *= scalePos
			}
			grad[i] = g
			hess[i] = math.Max(h, 1e-6)
		default:
			grad[i] = useMargin[i] - ys[i]
			hess[i] = 1
		}
	}
}

// prefixMargins returns, for each position, the running mean of the margins
// strictly before it. Rows are time-ordered, so this is the ordered-boosting
// discipline in its simplest form.
func prefixMargins(margins []float64) []float64 {
	out := make([]float64, len(margins))
	var sum float64
	for i, m := range margins {
		if i == 0 {
			out[i] = m
		} else {
			out[i] = (sum + m) / float64(i+1)
		}
		sum += m
	}
	return out
}

func validationLoss(objective Objective, margins, ys []float64) float64 {
	var loss float64
	for i := range ys {
		if objective == ObjectiveLogistic {
			p := sigmoid(margins[i])
			p = math.Min(math.Max(p, 1e-12), 1-1e-12)
			if ys[i] > 0.5 {
				loss -= math.Log(p)
			} else {
				loss -= math.Log(1 - p)
			}
		} else {
			d := margins[i] - ys[i]
			loss += d * d
		}
	}
	return loss / float64(len(ys))
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}
