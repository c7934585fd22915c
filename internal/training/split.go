package training

import (
	"sort"

	"github.com/yourusername/keiba-engine/internal/features"
)

// Dataset is the typed batch the trainer works on: the numeric matrix plus
// aligned targets and the race grouping derived by run-length encoding of
// the race ids.
type Dataset struct {
	Rows   []features.FeatureRow
	X      [][]float64
	YWin   []float64
	YQuin  []float64
	YPlace []float64
	// YRank is the inverted finishing position: max rank in the set minus
	// position plus one, so higher is better.
	YRank  []float64
	Groups []raceGroup
}

// NewDataset orders rows by race id (time order, since the id leads with the
// date), builds targets, and run-length encodes the groups. Rows without a
// target are dropped.
func NewDataset(rows []features.FeatureRow) *Dataset {
	kept := make([]features.FeatureRow, 0, len(rows))
	for _, r := range rows {
		if r.HasTarget && r.Target > 0 {
			kept = append(kept, r)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].RaceID < kept[j].RaceID })

	maxRank := 0
	for _, r := range kept {
		if r.Target > maxRank {
			maxRank = r.Target
		}
	}

	d := &Dataset{
		Rows:   kept,
		X:      make([][]float64, len(kept)),
		YWin:   make([]float64, len(kept)),
		YQuin:  make([]float64, len(kept)),
		YPlace: make([]float64, len(kept)),
		YRank:  make([]float64, len(kept)),
	}
	for i, r := range kept {
		d.X[i] = r.Values
		if r.Target == 1 {
			d.YWin[i] = 1
		}
		if r.Target <= 2 {
			d.YQuin[i] = 1
		}
		if r.Target <= 3 {
			d.YPlace[i] = 1
		}
		d.YRank[i] = float64(maxRank - r.Target + 1)
	}
	d.Groups = encodeGroups(kept)
	return d
}

func encodeGroups(rows []features.FeatureRow) []raceGroup {
	var groups []raceGroup
	for i := 0; i < len(rows); {
		j := i
		for j < len(rows) && rows[j].RaceID == rows[i].RaceID {
			j++
		}
		groups = append(groups, raceGroup{RaceID: rows[i].RaceID, Start: i, End: j})
		i = j
	}
	return groups
}

// Len is the row count.
func (d *Dataset) Len() int { return len(d.Rows) }

// Split carves the dataset into contiguous train/calibration/test parts at
// race boundaries, preserving time order. Ratios are by row count; the cut
// moves forward to the end of the race straddling it.
func (d *Dataset) Split(trainRatio, calibRatio float64) (train, calib, test *Dataset) {
	n := d.Len()
	trainEnd := d.alignToGroup(int(float64(n) * trainRatio))
	calibEnd := d.alignToGroup(int(float64(n) * (trainRatio + calibRatio)))

	return d.slice(0, trainEnd), d.slice(trainEnd, calibEnd), d.slice(calibEnd, n)
}

func (d *Dataset) alignToGroup(cut int) int {
	for _, g := range d.Groups {
		if g.Start <= cut && cut < g.End {
			return g.End
		}
	}
	return cut
}

func (d *Dataset) slice(start, end int) *Dataset {
	if start >= end {
		return &Dataset{}
	}
	s := &Dataset{
		Rows:   d.Rows[start:end],
		X:      d.X[start:end],
		YWin:   d.YWin[start:end],
		YQuin:  d.YQuin[start:end],
		YPlace: d.YPlace[start:end],
		YRank:  d.YRank[start:end],
	}
	for _, g := range d.Groups {
		if g.Start >= start && g.End <= end {
			s.Groups = append(s.Groups, raceGroup{RaceID: g.RaceID, Start: g.Start - start, End: g.End - start})
		}
	}
	return s
}

// ScalePosWeight is the negative/positive ratio used to counter class
// imbalance in the win and quinella heads.
func ScalePosWeight(labels []float64) float64 {
	var pos, neg float64
	for _, y := range labels {
		if y > 0.5 {
			pos++
		} else {
			neg++
		}
	}
	if pos == 0 {
		return 1
	}
	return neg / pos
}
