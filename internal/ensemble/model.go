package ensemble

import (
	"fmt"
	"time"
)

// Task names the three classification heads.
type Task string

const (
	TaskWin      Task = "win"
	TaskQuinella Task = "quinella"
	TaskPlace    Task = "place"
)

// Family bundles the learners of one GBDT flavor: a ranker plus the three
// task classifiers. Quinella may be nil in legacy two-head artifacts.
type Family struct {
	Strategy GrowthStrategy `json:"strategy"`
	Ranker   *Booster       `json:"ranker"`
	Win      *Booster       `json:"win"`
	Quinella *Booster       `json:"quinella,omitempty"`
	Place    *Booster       `json:"place"`
}

// Metadata records how an artifact was produced.
type Metadata struct {
	Version   string             `json:"version"`
	Surface   string             `json:"surface"`
	Years     []int              `json:"years"`
	Samples   int                `json:"samples"`
	TrainedAt time.Time          `json:"trained_at"`
	Metrics   map[string]float64 `json:"metrics,omitempty"`
	Params    Hyperparams        `json:"hyperparams"`
}

// Model is the complete in-memory artifact: families, blend weights, the
// three calibrators, and the ordered feature schema it was trained on.
// A loaded model is immutable; swaps happen at the manager level.
type Model struct {
	ArtifactVersion int                 `json:"artifact_version"`
	FeatureNames    []string            `json:"feature_names"`
	Families        []Family            `json:"families"`
	Weights         []float64           `json:"weights"`
	Calibrators     map[Task]*Calibrator `json:"calibrators"`
	// HigherIsBetter records the rank-score polarity of the ranker head.
	HigherIsBetter bool     `json:"higher_is_better"`
	Meta           Metadata `json:"metadata"`
}

// Scores is the per-horse model output before probability derivation.
type Scores struct {
	RankScore   float64
	Win         float64
	Quinella    float64
	Place       float64
	HasQuinella bool
}

// HasQuinellaHead reports whether any family carries a quinella classifier.
func (m *Model) HasQuinellaHead() bool {
	for i := range m.Families {
		if m.Families[i].Quinella != nil {
			return true
		}
	}
	return false
}

// Score runs one feature vector through every family and blends by weight.
func (m *Model) Score(x []float64) (Scores, error) {
	if len(x) != len(m.FeatureNames) {
		return Scores{}, fmt.Errorf("feature width %d does not match artifact schema %d",
			len(x), len(m.FeatureNames))
	}
	if len(m.Families) == 0 {
		return Scores{}, fmt.Errorf("artifact has no families")
	}

	weights := m.normalizedWeights()
	s := Scores{HasQuinella: m.HasQuinellaHead()}
	var rawWin, rawQuin, rawPlace float64

	for i := range m.Families {
		f := &m.Families[i]
		w := weights[i]
		s.RankScore += w * f.Ranker.RawScore(x)
		rawWin += w * f.Win.Predict(x)
		rawPlace += w * f.Place.Predict(x)
		if f.Quinella != nil {
			rawQuin += w * f.Quinella.Predict(x)
		}
	}
	if s.HasQuinella {
		// renormalize over the families that actually carry the head
		var quinW float64
		for i := range m.Families {
			if m.Families[i].Quinella != nil {
				quinW += weights[i]
			}
		}
		if quinW > 0 {
			rawQuin /= quinW
		}
	}

	s.Win = m.Calibrators[TaskWin].Calibrate(rawWin)
	s.Place = m.Calibrators[TaskPlace].Calibrate(rawPlace)
	if s.HasQuinella {
		s.Quinella = m.Calibrators[TaskQuinella].Calibrate(rawQuin)
	}
	return s, nil
}

// ScoreBatch scores many rows with the same artifact reference.
func (m *Model) ScoreBatch(xs [][]float64) ([]Scores, error) {
	out := make([]Scores, len(xs))
	for i, x := range xs {
		s, err := m.Score(x)
		if err != nil {
			return nil, err
		}
		out[i] = s
	}
	return out, nil
}

// normalizedWeights returns blend weights summing to 1 over the present
// families. Legacy two-family artifacts carry a third weight that is
// dropped and renormalized away here.
func (m *Model) normalizedWeights() []float64 {
	n := len(m.Families)
	out := make([]float64, n)

	var sum float64
	for i := 0; i < n; i++ {
		w := 0.0
		if i < len(m.Weights) {
			w = m.Weights[i]
		}
		out[i] = w
		sum += w
	}
	if sum <= 0 {
		for i := range out {
			out[i] = 1 / float64(n)
		}
		return out
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}
