package probability

import (
	"fmt"
	"math"
	"sort"

	"github.com/yourusername/keiba-engine/internal/models"
)

// HorseScore is one starter's calibrated model output entering derivation.
type HorseScore struct {
	HorseNumber int
	HorseName   string
	Post        int
	JockeyID    string
	RankScore   float64
	Win         float64
	Quinella    float64
	Place       float64
}

// Options select the derivation pathway for older artifacts.
type Options struct {
	// HasQuinella is false for legacy two-head artifacts; the quinella mass
	// is then rebuilt from the place residual with rank-dependent weights.
	HasQuinella bool
	// ScoresOnly means only raw ranker scores exist; win probabilities come
	// from softmax(-rank_score) and the quinella/place heads are skipped.
	ScoresOnly bool
}

// Result is the race-consistent probability bundle.
type Result struct {
	Horses          []models.HorsePrediction
	QuinellaRanking []models.RankedHorse
	PlaceRanking    []models.RankedHorse
	DarkHorses      []models.RankedHorse
	RaceConfidence  float64
}

// Residual split shares for the legacy quinella reconstruction.
const legacySecondShare = 0.55

// Derive turns calibrated task outputs into the final bundle: race-level
// normalization, ranking by win probability, position distributions,
// confidences, and the auxiliary rankings.
func Derive(scores []HorseScore, opts Options) (*Result, error) {
	n := len(scores)
	if n == 0 {
		return nil, fmt.Errorf("no starters to derive probabilities for")
	}

	hs := make([]HorseScore, n)
	copy(hs, scores)

	if opts.ScoresOnly {
		softmaxNegative(hs)
	}

	// provisional ranking drives the legacy residual split weights
	sort.Slice(hs, func(i, j int) bool { return hs[i].Win > hs[j].Win })

	if !opts.ScoresOnly && !opts.HasQuinella {
		for i := range hs {
			residual := math.Max(0, hs[i].Place-hs[i].Win)
			second := legacyResidualSecondShare(i+1) * residual
			hs[i].Quinella = hs[i].Win + second
		}
	}

	if !opts.ScoresOnly {
		normalize(hs, func(h *HorseScore) *float64 { return &h.Win }, 1)
		normalize(hs, func(h *HorseScore) *float64 { return &h.Quinella }, math.Min(2, float64(n)))
		enforceFloor(hs,
			func(h *HorseScore) float64 { return h.Win },
			func(h *HorseScore) *float64 { return &h.Quinella },
			math.Min(2, float64(n)))
		normalize(hs, func(h *HorseScore) *float64 { return &h.Place }, math.Min(3, float64(n)))
		enforceFloor(hs,
			func(h *HorseScore) float64 { return h.Quinella },
			func(h *HorseScore) *float64 { return &h.Place },
			math.Min(3, float64(n)))
	} else {
		normalize(hs, func(h *HorseScore) *float64 { return &h.Win }, 1)
	}

	sort.Slice(hs, func(i, j int) bool { return hs[i].Win > hs[j].Win })

	res := &Result{Horses: make([]models.HorsePrediction, n)}
	for i := range hs {
		h := &hs[i]
		conf := 0.5
		if i < n-1 {
			gap := h.Win - hs[i+1].Win
			conf = clip(0.5+5*gap, 0.1, 0.95)
		}

		res.Horses[i] = models.HorsePrediction{
			Rank:           i + 1,
			HorseNumber:    h.HorseNumber,
			HorseName:      h.HorseName,
			Post:           h.Post,
			JockeyID:       h.JockeyID,
			RankScore:      h.RankScore,
			WinProbability: h.Win,
			QuinellaProb:   h.Quinella,
			PlaceProb:      h.Place,
			Confidence:     conf,
			Distribution:   distribution(h, opts.ScoresOnly),
		}
	}

	res.RaceConfidence = raceConfidence(hs)
	if !opts.ScoresOnly {
		res.QuinellaRanking = topBy(hs, 5, func(h *HorseScore) float64 { return h.Quinella })
		res.PlaceRanking = topBy(hs, 5, func(h *HorseScore) float64 { return h.Place })
		res.DarkHorses = darkHorses(hs)
	}
	return res, nil
}

func distribution(h *HorseScore, scoresOnly bool) models.PositionDistribution {
	d := models.PositionDistribution{First: h.Win}
	if !scoresOnly {
		d.Second = math.Max(0, h.Quinella-h.Win)
		d.Third = math.Max(0, h.Place-h.Quinella)
	}
	d.OutOfPlace = math.Max(0, 1-d.First-d.Second-d.Third)
	return d
}

// legacyResidualSecondShare is the share of the place residual assigned to
// finishing second: top ranks favor second, back markers favor third.
func legacyResidualSecondShare(rank int) float64 {
	switch {
	case rank <= 3:
		return legacySecondShare
	case rank <= 6:
		return 0.5
	}
	return 1 - legacySecondShare
}

func normalize(hs []HorseScore, field func(*HorseScore) *float64, target float64) {
	var sum float64
	for i := range hs {
		sum += *field(&hs[i])
	}
	if sum <= 0 {
		even := target / float64(len(hs))
		for i := range hs {
			*field(&hs[i]) = even
		}
		return
	}
	scale := target / sum
	for i := range hs {
		*field(&hs[i]) *= scale
	}
}

// enforceFloor restores per-horse monotonicity after a race-level scale.
// Values are clipped into [floor, 1] and the compensating mass is moved
// across horses with slack above their floor (or headroom below 1), so the
// race-level sum stays on target. When no clip fires the field passes
// through untouched. Feasibility holds because the floors themselves sum to
// at most the target and the target never exceeds the field size.
func enforceFloor(hs []HorseScore, floor func(*HorseScore) float64, field func(*HorseScore) *float64, target float64) {
	var sum float64
	for i := range hs {
		v := field(&hs[i])
		*v = clip(*v, math.Min(1, floor(&hs[i])), 1)
		sum += *v
	}
	need := target - sum
	if math.Abs(need) < 1e-12 {
		return
	}

	if need < 0 {
		var slack float64
		for i := range hs {
			slack += *field(&hs[i]) - math.Min(1, floor(&hs[i]))
		}
		if slack <= 0 {
			return
		}
		for i := range hs {
			v := field(&hs[i])
			*v += need * (*v - math.Min(1, floor(&hs[i]))) / slack
		}
		return
	}

	var head float64
	for i := range hs {
		head += 1 - *field(&hs[i])
	}
	if head <= 0 {
		return
	}
	for i := range hs {
		v := field(&hs[i])
		*v += need * (1 - *v) / head
	}
}

// softmaxNegative converts raw rank scores to win probabilities for
// regressor-only legacy artifacts, where lower score means better.
func softmaxNegative(hs []HorseScore) {
	maxNeg := math.Inf(-1)
	for i := range hs {
		if -hs[i].RankScore > maxNeg {
			maxNeg = -hs[i].RankScore
		}
	}
	var sum float64
	for i := range hs {
		hs[i].Win = math.Exp(-hs[i].RankScore - maxNeg)
		sum += hs[i].Win
	}
	for i := range hs {
		hs[i].Win /= sum
	}
}

func raceConfidence(hs []HorseScore) float64 {
	top1 := hs[0].Win
	top2 := 0.0
	if len(hs) > 1 {
		top2 = hs[1].Win
	}
	conf := 0.4 + 0.5*(top1-top2)/math.Max(top1, 0.01) + top1
	return math.Min(0.95, conf)
}

func topBy(hs []HorseScore, limit int, value func(*HorseScore) float64) []models.RankedHorse {
	sorted := make([]HorseScore, len(hs))
	copy(sorted, hs)
	sort.SliceStable(sorted, func(i, j int) bool { return value(&sorted[i]) > value(&sorted[j]) })
	if len(sorted) > limit {
		sorted = sorted[:limit]
	}
	out := make([]models.RankedHorse, len(sorted))
	for i := range sorted {
		out[i] = models.RankedHorse{
			HorseNumber: sorted[i].HorseNumber,
			Probability: value(&sorted[i]),
		}
	}
	return out
}

// Dark horse thresholds: strong place chance without being a win favorite.
const (
	darkHorsePlaceMin = 0.20
	darkHorseWinMax   = 0.10
	darkHorseLimit    = 3
)

func darkHorses(hs []HorseScore) []models.RankedHorse {
	var out []models.RankedHorse
	for i := range hs {
		if hs[i].Place >= darkHorsePlaceMin && hs[i].Win < darkHorseWinMax {
			out = append(out, models.RankedHorse{
				HorseNumber: hs[i].HorseNumber,
				Probability: hs[i].Place,
			})
			if len(out) == darkHorseLimit {
				break
			}
		}
	}
	return out
}

func clip(v, lo, hi float64) float64 {
	return math.Min(hi, math.Max(lo, v))
}
