package training

import (
	"context"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/yourusername/keiba-engine/internal/ensemble"
	"github.com/yourusername/keiba-engine/internal/models"
	"github.com/yourusername/keiba-engine/internal/repository"
)

// Composite score weights for the promotion decision.
const (
	compWinAUC   = 0.25
	compQuinAUC  = 0.15
	compPlaceAUC = 0.15
	compCoverage = 0.20
	compWinRet   = 0.10
	compPlaceRet = 0.05
	compEVRet    = 0.10
)

// Betting simulation parameters: a fixed stake on the top pick per race, and
// an expected-value rule that bets any horse whose p_win times its declared
// odds clears the threshold.
const (
	simStake    = 100
	evThreshold = 1.5
)

// Evaluation is a model's backtest scorecard over one held-out year.
type Evaluation struct {
	WinAUC       float64 `json:"win_auc"`
	QuinellaAUC  float64 `json:"quinella_auc"`
	PlaceAUC     float64 `json:"place_auc"`
	WinBrier     float64 `json:"win_brier"`
	Top3Coverage float64 `json:"top3_coverage"`
	// Returns are payout/stake ratios; 1.0 is break-even.
	WinReturn   float64 `json:"win_return"`
	PlaceReturn float64 `json:"place_return"`
	EVReturn    float64 `json:"ev_return"`
	Composite   float64 `json:"composite"`
	Races       int     `json:"races"`
}

// Evaluator backtests artifacts over a finalized year.
type Evaluator struct {
	repos *repository.Repositories
	log   *logrus.Logger
}

// NewEvaluator creates a backtest evaluator.
func NewEvaluator(repos *repository.Repositories, log *logrus.Logger) *Evaluator {
	return &Evaluator{repos: repos, log: log}
}

// Evaluate scores the model over the dataset and simulates win, place and
// expected-value betting against the stored odds and payouts.
func (ev *Evaluator) Evaluate(ctx context.Context, model *ensemble.Model, ds *Dataset) (*Evaluation, error) {
	if ds.Len() == 0 {
		return nil, &models.TrainingError{Stage: "evaluate", Err: fmt.Errorf("empty evaluation set")}
	}

	scores, err := model.ScoreBatch(ds.X)
	if err != nil {
		return nil, &models.TrainingError{Stage: "evaluate", Err: err}
	}

	raceIDs := make([]string, len(ds.Groups))
	for i, g := range ds.Groups {
		raceIDs[i] = g.RaceID
	}
	winOdds, err := ev.repos.Odds.WinOdds(ctx, raceIDs)
	if err != nil {
		return nil, err
	}
	payouts, err := ev.repos.Payout.GetByRaceIDs(ctx, raceIDs)
	if err != nil {
		return nil, err
	}

	winProbs := make([]float64, ds.Len())
	quinProbs := make([]float64, ds.Len())
	placeProbs := make([]float64, ds.Len())
	rankScores := make([]float64, ds.Len())
	for i, s := range scores {
		winProbs[i] = s.Win
		quinProbs[i] = s.Quinella
		placeProbs[i] = s.Place
		rankScores[i] = s.RankScore
	}

	out := &Evaluation{
		WinAUC:       AUC(winProbs, ds.YWin),
		QuinellaAUC:  AUC(quinProbs, ds.YQuin),
		PlaceAUC:     AUC(placeProbs, ds.YPlace),
		WinBrier:     Brier(winProbs, ds.YWin),
		Top3Coverage: Top3Coverage(rankScores, ds.YWin, ds.Groups, model.HigherIsBetter),
		Races:        len(ds.Groups),
	}

	ev.simulateReturns(ds, winProbs, placeProbs, winOdds, payouts, out)
	out.Composite = Composite(out)

	ev.log.WithFields(logrus.Fields{
		"races":     out.Races,
		"win_auc":   out.WinAUC,
		"coverage":  out.Top3Coverage,
		"composite": out.Composite,
	}).Info("Backtest evaluation complete")

	return out, nil
}

func (ev *Evaluator) simulateReturns(ds *Dataset, winProbs, placeProbs []float64,
	winOdds map[string]map[int]float64, payouts map[string][]*models.PayoutLine, out *Evaluation) {

	winStake, winRet := decimal.Zero, decimal.Zero
	placeStake, placeRet := decimal.Zero, decimal.Zero
	evStake, evRet := decimal.Zero, decimal.Zero
	stake := decimal.NewFromInt(simStake)

	for _, g := range ds.Groups {
		lines := payouts[g.RaceID]
		if len(lines) == 0 {
			continue
		}

		// top pick per task
		winPick, placePick := g.Start, g.Start
		for i := g.Start; i < g.End; i++ {
			if winProbs[i] > winProbs[winPick] {
				winPick = i
			}
			if placeProbs[i] > placeProbs[placePick] {
				placePick = i
			}
		}

		winStake = winStake.Add(stake)
		winRet = winRet.Add(payoutFor(lines, models.TicketWin, ds.Rows[winPick].HorseNumber))
		placeStake = placeStake.Add(stake)
		placeRet = placeRet.Add(payoutFor(lines, models.TicketPlace, ds.Rows[placePick].HorseNumber))

		odds := winOdds[g.RaceID]
		for i := g.Start; i < g.End; i++ {
			o := odds[ds.Rows[i].HorseNumber]
			if o <= 0 || winProbs[i]*o < evThreshold {
				continue
			}
			evStake = evStake.Add(stake)
			evRet = evRet.Add(payoutFor(lines, models.TicketWin, ds.Rows[i].HorseNumber))
		}
	}

	out.WinReturn = returnRatio(winRet, winStake)
	out.PlaceReturn = returnRatio(placeRet, placeStake)
	out.EVReturn = returnRatio(evRet, evStake)
}

// payoutFor returns the settled payout for a stake of 100 on one horse in
// one market, zero if the combination lost.
func payoutFor(lines []*models.PayoutLine, ticket models.TicketType, horseNumber int) decimal.Decimal {
	combo := strconv.Itoa(horseNumber)
	for _, l := range lines {
		if l.TicketType == ticket && l.Combination == combo {
			return l.Payout
		}
	}
	return decimal.Zero
}

func returnRatio(ret, staked decimal.Decimal) float64 {
	if staked.IsZero() {
		return 0
	}
	f, _ := ret.Div(staked).Float64()
	return f
}

// Composite collapses an evaluation into the promotion scalar. AUC terms
// enter rescaled around chance so a coin-flip model scores zero.
func Composite(e *Evaluation) float64 {
	return compWinAUC*auc01(e.WinAUC) +
		compQuinAUC*auc01(e.QuinellaAUC) +
		compPlaceAUC*auc01(e.PlaceAUC) +
		compCoverage*e.Top3Coverage +
		compWinRet*e.WinReturn +
		compPlaceRet*e.PlaceReturn +
		compEVRet*e.EVReturn
}
