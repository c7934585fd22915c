package training

import (
	"math"
	"sort"
)

// AUC computes the area under the ROC curve by Mann-Whitney rank statistic.
// Ties share rank. Returns 0.5 when either class is absent.
func AUC(scores []float64, labels []float64) float64 {
	n := len(scores)
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool { return scores[idx[a]] < scores[idx[b]] })

	ranks := make([]float64, n)
	for i := 0; i < n; {
		j := i
		for j < n && scores[idx[j]] == scores[idx[i]] {
			j++
		}
		avg := float64(i+j+1) / 2 // 1-based average rank of the tie group
		for k := i; k < j; k++ {
			ranks[idx[k]] = avg
		}
		i = j
	}

	var posRankSum float64
	var pos, neg int
	for i := 0; i < n; i++ {
		if labels[i] > 0.5 {
			pos++
			posRankSum += ranks[i]
		} else {
			neg++
		}
	}
	if pos == 0 || neg == 0 {
		return 0.5
	}
	u := posRankSum - float64(pos)*float64(pos+1)/2
	return u / (float64(pos) * float64(neg))
}

// Brier is the mean squared error between probabilities and labels.
func Brier(probs, labels []float64) float64 {
	if len(probs) == 0 {
		return 0
	}
	var sum float64
	for i := range probs {
		d := probs[i] - labels[i]
		sum += d * d
	}
	return sum / float64(len(probs))
}

// raceGroup is a contiguous slice of row indices belonging to one race.
type raceGroup struct {
	RaceID string
	Start  int
	End    int // exclusive
}

// Top3Coverage is the fraction of races whose actual winner appears among
// the three best-ranked horses by score. higherIsBetter states the polarity.
func Top3Coverage(scores, labels []float64, groups []raceGroup, higherIsBetter bool) float64 {
	if len(groups) == 0 {
		return 0
	}
	covered := 0
	for _, g := range groups {
		type pair struct {
			score float64
			label float64
		}
		field := make([]pair, 0, g.End-g.Start)
		for i := g.Start; i < g.End; i++ {
			field = append(field, pair{scores[i], labels[i]})
		}
		sort.Slice(field, func(a, b int) bool {
			if higherIsBetter {
				return field[a].score > field[b].score
			}
			return field[a].score < field[b].score
		})
		top := 3
		if len(field) < top {
			top = len(field)
		}
		for i := 0; i < top; i++ {
			if field[i].label > 0.5 {
				covered++
				break
			}
		}
	}
	return float64(covered) / float64(len(groups))
}

// CalibrationBin is one of the 20 equal-width diagnostic bins persisted to
// the store after training.
type CalibrationBin struct {
	Low       float64 `json:"low"`
	High      float64 `json:"high"`
	Count     int     `json:"count"`
	MeanRaw   float64 `json:"mean_raw"`
	MeanCal   float64 `json:"mean_cal"`
	MeanLabel float64 `json:"mean_label"`
	BrierRaw  float64 `json:"brier_raw"`
	BrierCal  float64 `json:"brier_cal"`
}

// CalibrationBinCount is fixed so bin stats are comparable across retrains.
const CalibrationBinCount = 20

// CalibrationBins summarizes pre/post-calibration behavior per raw-score bin.
func CalibrationBins(raw, cal, labels []float64) []CalibrationBin {
	bins := make([]CalibrationBin, CalibrationBinCount)
	width := 1.0 / CalibrationBinCount
	for i := range bins {
		bins[i].Low = float64(i) * width
		bins[i].High = float64(i+1) * width
	}

	for i := range raw {
		b := int(raw[i] / width)
		if b >= CalibrationBinCount {
			b = CalibrationBinCount - 1
		}
		if b < 0 {
			b = 0
		}
		bin := &bins[b]
		bin.Count++
		bin.MeanRaw += raw[i]
		bin.MeanCal += cal[i]
		bin.MeanLabel += labels[i]
		bin.BrierRaw += (raw[i] - labels[i]) * (raw[i] - labels[i])
		bin.BrierCal += (cal[i] - labels[i]) * (cal[i] - labels[i])
	}
	for i := range bins {
		if bins[i].Count == 0 {
			continue
		}
		n := float64(bins[i].Count)
		bins[i].MeanRaw /= n
		bins[i].MeanCal /= n
		bins[i].MeanLabel /= n
		bins[i].BrierRaw /= n
		bins[i].BrierCal /= n
	}
	return bins
}

// auc01 rescales an AUC to [−1,1] around chance level.
func auc01(auc float64) float64 {
	return (auc - 0.5) * 2
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(hi, math.Max(lo, v))
}
