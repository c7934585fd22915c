package ensemble

import (
	"math"
	"sort"
)

// Isotonic is a monotone step map fit by pool-adjacent-violators, evaluated
// with linear interpolation between knots.
type Isotonic struct {
	X []float64 `json:"x"`
	Y []float64 `json:"y"`
}

// FitIsotonic fits the monotone regression of ys on ps.
func FitIsotonic(ps, ys []float64) *Isotonic {
	n := len(ps)
	if n == 0 {
		return &Isotonic{}
	}

	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool { return ps[idx[a]] < ps[idx[b]] })

	type block struct {
		sum    float64
		weight float64
		minX   float64
		maxX   float64
	}
	var blocks []block
	for _, i := range idx {
		blocks = append(blocks, block{sum: ys[i], weight: 1, minX: ps[i], maxX: ps[i]})
		for len(blocks) >= 2 {
			a := blocks[len(blocks)-2]
			b := blocks[len(blocks)-1]
			if a.sum/a.weight <= b.sum/b.weight {
				break
			}
			blocks = blocks[:len(blocks)-2]
			blocks = append(blocks, block{
				sum:    a.sum + b.sum,
				weight: a.weight + b.weight,
				minX:   a.minX,
				maxX:   b.maxX,
			})
		}
	}

	iso := &Isotonic{}
	for _, b := range blocks {
		iso.X = append(iso.X, b.maxX)
		iso.Y = append(iso.Y, b.sum/b.weight)
	}
	return iso
}

// Predict interpolates the fitted step function; inputs beyond the knot
// range clamp to the end values.
func (iso *Isotonic) Predict(p float64) float64 {
	n := len(iso.X)
	if n == 0 {
		return p
	}
	if p <= iso.X[0] {
		return iso.Y[0]
	}
	if p >= iso.X[n-1] {
		return iso.Y[n-1]
	}
	i := sort.SearchFloat64s(iso.X, p)
	x0, x1 := iso.X[i-1], iso.X[i]
	y0, y1 := iso.Y[i-1], iso.Y[i]
	if x1 == x0 {
		return y1
	}
	return y0 + (y1-y0)*(p-x0)/(x1-x0)
}

// Platt is the two-parameter logistic map sigma(A*p + B).
type Platt struct {
	A float64 `json:"a"`
	B float64 `json:"b"`
}

// FitPlatt fits A and B by Newton iterations on the cross-entropy.
func FitPlatt(ps, ys []float64) *Platt {
	a, b := 1.0, 0.0
	for iter := 0; iter < 100; iter++ {
		var ga, gb, haa, hab, hbb float64
		for i := range ps {
			q := sigmoid(a*ps[i] + b)
			d := q - ys[i]
			w := math.Max(q*(1-q), 1e-9)
			ga += d * ps[i]
			gb += d
			haa += w * ps[i] * ps[i]
			hab += w * ps[i]
			hbb += w
		}
		det := haa*hbb - hab*hab
		if math.Abs(det) < 1e-12 {
			break
		}
		da := (ga*hbb - gb*hab) / det
		db := (gb*haa - ga*hab) / det
		a -= da
		b -= db
		if math.Abs(da)+math.Abs(db) < 1e-9 {
			break
		}
	}
	return &Platt{A: a, B: b}
}

// Predict applies the fitted logistic map.
func (p *Platt) Predict(x float64) float64 {
	return sigmoid(p.A*x + p.B)
}

// DefaultIsoWeight is the isotonic share of the blended calibrator.
const DefaultIsoWeight = 0.6

// Calibrator blends an isotonic and a Platt map; output clipped to [0,1].
type Calibrator struct {
	Iso       *Isotonic `json:"isotonic"`
	Platt     *Platt    `json:"platt"`
	IsoWeight float64   `json:"iso_weight"`
}

// FitCalibrator fits both maps on the calibration split.
func FitCalibrator(ps, ys []float64, isoWeight float64) *Calibrator {
	if isoWeight <= 0 || isoWeight > 1 {
		isoWeight = DefaultIsoWeight
	}
	return &Calibrator{
		Iso:       FitIsotonic(ps, ys),
		Platt:     FitPlatt(ps, ys),
		IsoWeight: isoWeight,
	}
}

// Calibrate maps a raw blended probability to its calibrated value.
func (c *Calibrator) Calibrate(p float64) float64 {
	if c == nil {
		return clip01(p)
	}
	out := c.IsoWeight*c.Iso.Predict(p) + (1-c.IsoWeight)*c.Platt.Predict(p)
	return clip01(out)
}

func clip01(p float64) float64 {
	return math.Min(1, math.Max(0, p))
}
