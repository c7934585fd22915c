package training

import "sort"

// Ensemble weight bounds: no family may dominate or vanish entirely.
const (
	weightFloor = 0.1
	weightCeil  = 0.6
)

// OptimizeWeights minimizes the Brier loss of the blended win probability
// over the calibration split with Nelder-Mead on the 3-simplex. preds holds
// one probability vector per family; labels the win targets. The result is
// clipped to [0.1, 0.6] per weight and renormalized to sum 1.
func OptimizeWeights(preds [][]float64, labels []float64) []float64 {
	k := len(preds)
	if k == 0 {
		return nil
	}
	if k == 1 {
		return []float64{1}
	}

	loss := func(w []float64) float64 {
		norm := normalizeClipped(w)
		var sum float64
		for i := range labels {
			var p float64
			for f := 0; f < k; f++ {
				p += norm[f] * preds[f][i]
			}
			d := p - labels[i]
			sum += d * d
		}
		return sum / float64(len(labels))
	}

	// free parameters: k-1 weights, last one implied
	dim := k - 1
	start := make([]float64, dim)
	for i := range start {
		start[i] = 1 / float64(k)
	}
	best := nelderMead(func(p []float64) float64 {
		return loss(expandSimplex(p, k))
	}, start, 200)

	return normalizeClipped(expandSimplex(best, k))
}

// expandSimplex turns k-1 free parameters into k weights.
func expandSimplex(p []float64, k int) []float64 {
	w := make([]float64, k)
	var sum float64
	for i := 0; i < k-1; i++ {
		w[i] = p[i]
		sum += p[i]
	}
	w[k-1] = 1 - sum
	return w
}

func normalizeClipped(w []float64) []float64 {
	out := make([]float64, len(w))
	var sum float64
	for i, v := range w {
		out[i] = clamp(v, weightFloor, weightCeil)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// nelderMead is a plain downhill-simplex minimizer.
func nelderMead(f func([]float64) float64, start []float64, maxIter int) []float64 {
	const (
		alpha = 1.0 // reflect
		gamma = 2.0 // expand
		rho   = 0.5 // contract
		sigma = 0.5 // shrink
	)
	dim := len(start)

	type vertex struct {
		p []float64
		v float64
	}
	simplex := make([]vertex, dim+1)
	simplex[0] = vertex{p: append([]float64(nil), start...), v: f(start)}
	for i := 1; i <= dim; i++ {
		p := append([]float64(nil), start...)
		p[i-1] += 0.1
		simplex[i] = vertex{p: p, v: f(p)}
	}

	for iter := 0; iter < maxIter; iter++ {
		sort.Slice(simplex, func(a, b int) bool { return simplex[a].v < simplex[b].v })
		if simplex[dim].v-simplex[0].v < 1e-10 {
			break
		}

		centroid := make([]float64, dim)
		for i := 0; i < dim; i++ {
			for d := 0; d < dim; d++ {
				centroid[d] += simplex[i].p[d] / float64(dim)
			}
		}

		reflect := blendPoints(centroid, simplex[dim].p, 1+alpha, -alpha)
		rv := f(reflect)
		switch {
		case rv < simplex[0].v:
			expand := blendPoints(centroid, simplex[dim].p, 1+gamma, -gamma)
			if ev := f(expand); ev < rv {
				simplex[dim] = vertex{expand, ev}
			} else {
				simplex[dim] = vertex{reflect, rv}
			}
		case rv < simplex[dim-1].v:
			simplex[dim] = vertex{reflect, rv}
		default:
			contract := blendPoints(centroid, simplex[dim].p, 1-rho, rho)
			if cv := f(contract); cv < simplex[dim].v {
				simplex[dim] = vertex{contract, cv}
			} else {
				for i := 1; i <= dim; i++ {
					simplex[i].p = blendPoints(simplex[0].p, simplex[i].p, 1-sigma, sigma)
					simplex[i].v = f(simplex[i].p)
				}
			}
		}
	}

	sort.Slice(simplex, func(a, b int) bool { return simplex[a].v < simplex[b].v })
	return simplex[0].p
}

func blendPoints(a, b []float64, wa, wb float64) []float64 {
	out := make([]float64, len(a))
	for i := range a {
		out[i] = wa*a[i] + wb*b[i]
	}
	return out
}
