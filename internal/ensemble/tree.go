package ensemble

import (
	"math"
	"sort"
)

// GrowthStrategy selects how a tree is grown. The three families of the
// ensemble differ only in strategy and default hyperparameters.
type GrowthStrategy string

const (
	// GrowHistogram is depth-wise growth over binned feature histograms.
	GrowHistogram GrowthStrategy = "histogram"
	// GrowLeafwise expands the leaf with the best gain first.
	GrowLeafwise GrowthStrategy = "leafwise"
	// GrowOrdered computes gradients from a prefix model over the
	// time-ordered rows before fitting each tree.
	GrowOrdered GrowthStrategy = "ordered"
)

// Node is one split or leaf in a serialized tree. Children reference node
// indices within the same tree; leaves carry the output value.
type Node struct {
	Feature   int     `json:"f"`
	Threshold float64 `json:"t"`
	Left      int     `json:"l"`
	Right     int     `json:"r"`
	Leaf      bool    `json:"leaf"`
	Value     float64 `json:"v"`
}

// Tree is a single regression tree stored as a flat node array.
type Tree struct {
	Nodes []Node `json:"nodes"`
}

// Score walks the tree for one feature vector.
func (t *Tree) Score(x []float64) float64 {
	if len(t.Nodes) == 0 {
		return 0
	}
	i := 0
	for {
		n := &t.Nodes[i]
		if n.Leaf {
			return n.Value
		}
		if x[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

// TreeParams controls a single tree fit.
type TreeParams struct {
	MaxDepth       int
	MaxLeaves      int
	MinSamplesLeaf int
	Bins           int
	Lambda         float64
}

// workNode is a candidate split during growth.
type workNode struct {
	rows    []int
	depth   int
	nodeIdx int
	gain    float64
	split   splitPoint
}

type splitPoint struct {
	feature   int
	threshold float64
	left      []int
	right     []int
	found     bool
}

// buildTree fits one tree to gradients/hessians with the Newton leaf value
// -G/(H+lambda). Split candidates come from per-feature quantile bins.
func buildTree(xs [][]float64, grad, hess []float64, params TreeParams, strategy GrowthStrategy) Tree {
	rows := make([]int, len(xs))
	for i := range rows {
		rows[i] = i
	}

	t := Tree{}
	root := t.addLeaf(rows, grad, hess, params.Lambda)

	if strategy == GrowLeafwise {
		growLeafwise(&t, xs, grad, hess, params, rows, root)
	} else {
		growDepthwise(&t, xs, grad, hess, params, rows, root, 0)
	}
	return t
}

func (t *Tree) addLeaf(rows []int, grad, hess []float64, lambda float64) int {
	var g, h float64
	for _, i := range rows {
		g += grad[i]
		h += hess[i]
	}
	t.Nodes = append(t.Nodes, Node{Leaf: true, Value: -g / (h + lambda)})
	return len(t.Nodes) - 1
}

func growDepthwise(t *Tree, xs [][]float64, grad, hess []float64, params TreeParams, rows []int, nodeIdx, depth int) {
	if depth >= params.MaxDepth || len(rows) < 2*params.MinSamplesLeaf {
		return
	}
	sp := bestSplit(xs, grad, hess, rows, params)
	if !sp.found {
		return
	}

	left := t.addLeaf(sp.left, grad, hess, params.Lambda)
	right := t.addLeaf(sp.right, grad, hess, params.Lambda)
	t.Nodes[nodeIdx] = Node{
		Feature: sp.feature, Threshold: sp.threshold,
		Left: left, Right: right,
	}
	growDepthwise(t, xs, grad, hess, params, sp.left, left, depth+1)
	growDepthwise(t, xs, grad, hess, params, sp.right, right, depth+1)
}

func growLeafwise(t *Tree, xs [][]float64, grad, hess []float64, params TreeParams, rows []int, rootIdx int) {
	maxLeaves := params.MaxLeaves
	if maxLeaves <= 0 {
		maxLeaves = 1 << params.MaxDepth
	}

	frontier := []workNode{leafCandidate(xs, grad, hess, params, rows, rootIdx, 0)}
	leaves := 1

	for leaves < maxLeaves {
		best := -1
		for i, w := range frontier {
			if w.split.found && (best < 0 || w.gain > frontier[best].gain) {
				best = i
			}
		}
		if best < 0 {
			break
		}
		w := frontier[best]
		frontier = append(frontier[:best], frontier[best+1:]...)

		left := t.addLeaf(w.split.left, grad, hess, params.Lambda)
		right := t.addLeaf(w.split.right, grad, hess, params.Lambda)
		t.Nodes[w.nodeIdx] = Node{
			Feature: w.split.feature, Threshold: w.split.threshold,
			Left: left, Right: right,
		}
		leaves++

		if w.depth+1 < params.MaxDepth {
			frontier = append(frontier,
				leafCandidate(xs, grad, hess, params, w.split.left, left, w.depth+1),
				leafCandidate(xs, grad, hess, params, w.split.right, right, w.depth+1))
		}
	}
}

func leafCandidate(xs [][]float64, grad, hess []float64, params TreeParams, rows []int, nodeIdx, depth int) workNode {
	w := workNode{rows: rows, depth: depth, nodeIdx: nodeIdx}
	if len(rows) >= 2*params.MinSamplesLeaf {
		w.split = bestSplit(xs, grad, hess, rows, params)
		w.gain = w.split.gain(grad, hess, rows, params.Lambda)
	}
	return w
}

func (sp *splitPoint) gain(grad, hess []float64, rows []int, lambda float64) float64 {
	if !sp.found {
		return 0
	}
	score := func(idx []int) float64 {
		var g, h float64
		for _, i := range idx {
			g += grad[i]
			h += hess[i]
		}
		return g * g / (h + lambda)
	}
	return score(sp.left) + score(sp.right) - score(rows)
}

// bestSplit scans quantile-binned thresholds of every feature.
func bestSplit(xs [][]float64, grad, hess []float64, rows []int, params TreeParams) splitPoint {
	var total struct{ g, h float64 }
	for _, i := range rows {
		total.g += grad[i]
		total.h += hess[i]
	}
	parentScore := total.g * total.g / (total.h + params.Lambda)

	best := splitPoint{}
	bestGain := 1e-12
	nFeatures := len(xs[0])

	for f := 0; f < nFeatures; f++ {
		for _, thr := range binThresholds(xs, rows, f, params.Bins) {
			var lg, lh float64
			var ln int
			for _, i := range rows {
				if xs[i][f] <= thr {
					lg += grad[i]
					lh += hess[i]
					ln++
				}
			}
			rn := len(rows) - ln
			if ln < params.MinSamplesLeaf || rn < params.MinSamplesLeaf {
				continue
			}
			rg := total.g - lg
			rh := total.h - lh
			gain := lg*lg/(lh+params.Lambda) + rg*rg/(rh+params.Lambda) - parentScore
			if gain > bestGain {
				bestGain = gain
				best = splitPoint{feature: f, threshold: thr, found: true}
			}
		}
	}
	if !best.found {
		return best
	}
	for _, i := range rows {
		if xs[i][best.feature] <= best.threshold {
			best.left = append(best.left, i)
		} else {
			best.right = append(best.right, i)
		}
	}
	return best
}

// binThresholds returns up to bins-1 quantile cut points for one feature.
func binThresholds(xs [][]float64, rows []int, feature, bins int) []float64 {
	if bins < 2 {
		bins = 2
	}
	vals := make([]float64, 0, len(rows))
	for _, i := range rows {
		vals = append(vals, xs[i][feature])
	}
	sort.Float64s(vals)

	var out []float64
	var last float64 = math.Inf(-1)
	for b := 1; b < bins; b++ {
		v := vals[b*len(vals)/bins]
		if v > last {
			out = append(out, v)
			last = v
		}
	}
	if len(out) > 0 && out[len(out)-1] >= vals[len(vals)-1] {
		out = out[:len(out)-1]
	}
	return out
}
