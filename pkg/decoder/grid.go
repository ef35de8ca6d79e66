package decoder

import (
	"image"
	"math"
	"slices"
)

// Line models a family of parallel grid lines. Along the primary axis the
// k-th line passes through Peak + k*Step + s*Angle, where s is the
// coordinate along the other axis. Coordinates are relative to the grid
// origin.
type Line struct {
	Peak  float64
	Step  float64
	Angle float64 // tangent of the tilt
}

// At is the primary coordinate of fractional line k at secondary s.
func (l Line) At(k, s float64) float64 { return l.Peak + k*l.Step + s*l.Angle }

// Grid is the recovered geometry of a scanned page.
type Grid struct {
	Box          image.Rectangle // area holding the grid
	CX, CY       float64         // origin of the line models, pixels
	X            Line            // vertical lines, positions along x
	Y            Line            // horizontal lines, positions along y
	NX, NY       int             // cells found
	Black, White uint8           // ink and paper levels
	Orientation  int             // dot matrix transform, -1 until known
}

// Point maps fractional line coordinates to image pixel coordinates using
// the pixel-edge convention: pixel (i,j) covers [i,i+1)x[j,j+1).
func (g *Grid) Point(kx, ky float64) (x, y float64) {
	ux := g.X.Peak + kx*g.X.Step
	vy := g.Y.Peak + ky*g.Y.Step
	u := (ux + vy*g.X.Angle) / (1 - g.X.Angle*g.Y.Angle)
	v := vy + u*g.Y.Angle
	return u + g.CX, v + g.CY
}

// Step is the mean cell pitch in pixels.
func (g *Grid) Step() float64 { return (g.X.Step + g.Y.Step) / 2 }

// points holds the dark pixels of the grid area, relative to its origin,
// weighted by how much darker than the threshold they are.
type points struct {
	x, y, w []float32
}

// axis views points with a as the coordinate being profiled and b as the
// coordinate the shear runs along.
type axis struct {
	a, b, w []float32
}

func (p *points) axis(vertical bool) axis {
	if vertical {
		return axis{a: p.x, b: p.y, w: p.w}
	}
	return axis{a: p.y, b: p.x, w: p.w}
}

const maxSlope = 0.1

// profile accumulates the weights onto a' = a - slope*b using 1-pixel bins
// with linear splitting. Only points with |b| < strip/2 contribute. bin(a) =
// a + off.
type profile struct {
	bins []float64
	off  float64
}

func newProfile(ax axis) *profile {
	var amin, amax, bmax float32
	for i := range ax.a {
		amin = min(amin, ax.a[i])
		amax = max(amax, ax.a[i])
		bmax = max(bmax, float32(math.Abs(float64(ax.b[i]))))
	}
	margin := math.Ceil(maxSlope*float64(bmax)) + 2
	// Pixel centres sit on half-integers, the extra half puts them on bins.
	off := math.Ceil(-float64(amin)) + margin + 0.5
	n := int(math.Ceil(float64(amax)+off+margin)) + 2
	return &profile{bins: make([]float64, n), off: off}
}

func (p *profile) build(ax axis, slope, strip float64) {
	clear(p.bins)
	half := float32(strip / 2)
	s := float32(slope)
	last := len(p.bins) - 1
	for i := range ax.a {
		b := ax.b[i]
		if b >= half || b <= -half {
			continue
		}
		pos := float64(ax.a[i]-s*b) + p.off
		i0 := int(pos)
		if i0 < 0 || i0 >= last {
			continue
		}
		f := pos - float64(i0)
		w := float64(ax.w[i])
		p.bins[i0] += w * (1 - f)
		p.bins[i0+1] += w * f
	}
}

func (p *profile) energy() float64 {
	var e float64
	for _, v := range p.bins {
		e += v * v
	}
	return e
}

type searchLevel struct {
	half, step, strip float64
}

// The peak of the energy over slope is about linewidth/strip wide, so each
// level samples a strip narrow enough for its step.
var searchLevels = []searchLevel{
	{half: 0.09, step: 0.0025, strip: 200},
	{half: 0.005, step: 0.0005, strip: 800},
	{half: 0.001, step: 0.0001, strip: math.Inf(1)},
}

// bestSlope finds the shear that concentrates the lines into the sharpest
// profile.
func bestSlope(ax axis, p *profile) float64 {
	center := 0.0
	for _, lv := range searchLevels {
		n := int(math.Round(lv.half / lv.step))
		best, bestE := center, -1.0
		for m := -n; m <= n; m++ {
			s := center + float64(m)*lv.step
			if math.Abs(s) > maxSlope {
				continue
			}
			p.build(ax, s, lv.strip)
			if e := p.energy(); e > bestE {
				best, bestE = s, e
			}
		}
		center = best
	}
	return center
}

// fitLines locates the grid lines in a profile and fits Peak and Step.
// It returns the number of cells between the first and last line.
func fitLines(p *profile, minStep float64) (peak, step float64, cells int, ok bool) {
	bins := p.bins
	lo, hi := 0, len(bins)-1
	for lo < hi && bins[lo] == 0 {
		lo++
	}
	for hi > lo && bins[hi] == 0 {
		hi--
	}
	if hi-lo < int(2*minStep) {
		return 0, 0, 0, false
	}
	span := slices.Clone(bins[lo : hi+1])
	sorted := slices.Clone(span)
	slices.Sort(sorted)
	base := sorted[len(sorted)/2]
	for i := range span {
		span[i] = max(span[i]-base, 0)
	}

	type cand struct {
		i int
		v float64
	}
	var maxima []cand
	// The outer lines sit on the first and last bins, beyond them is zero.
	at := func(i int) float64 {
		if i < 0 || i >= len(span) {
			return 0
		}
		return span[i]
	}
	for i := range span {
		if span[i] > 0 && span[i] >= at(i-1) && span[i] > at(i+1) {
			maxima = append(maxima, cand{i, span[i]})
		}
	}
	if len(maxima) < 2 {
		return 0, 0, 0, false
	}
	slices.SortFunc(maxima, func(a, b cand) int {
		switch {
		case a.v > b.v:
			return -1
		case a.v < b.v:
			return 1
		}
		return a.i - b.i
	})
	// At least an eighth of the possible lines must be real ones.
	rank := max(1, int(float64(len(span))/minStep+1)/8)
	rank = min(rank, len(maxima)-1)
	thr := maxima[rank].v / 2

	radius := int(minStep / 2)
	var accepted []cand
	for _, c := range maxima {
		if c.v < thr {
			break
		}
		near := false
		for _, a := range accepted {
			if abs(a.i-c.i) < radius {
				near = true
				break
			}
		}
		if !near {
			accepted = append(accepted, c)
		}
	}
	if len(accepted) < 2 {
		return 0, 0, 0, false
	}

	// Centroid of each line over the run of bins above a quarter of its peak.
	reach := max(1, int(minStep/4))
	pos := make([]float64, 0, len(accepted))
	for _, c := range accepted {
		floor := c.v / 4
		l, r := c.i, c.i
		for l > 0 && c.i-l < reach && span[l-1] > floor {
			l--
		}
		for r < len(span)-1 && r-c.i < reach && span[r+1] > floor {
			r++
		}
		var sw, sx float64
		for i := l; i <= r; i++ {
			sw += span[i]
			sx += span[i] * float64(i)
		}
		pos = append(pos, sx/sw+float64(lo)-p.off)
	}
	strongest := pos[0]
	slices.Sort(pos)

	var diffs []float64
	for i := 1; i < len(pos); i++ {
		if d := pos[i] - pos[i-1]; d >= minStep/2 {
			diffs = append(diffs, d)
		}
	}
	if len(diffs) == 0 {
		return 0, 0, 0, false
	}
	slices.Sort(diffs)
	step = diffs[len(diffs)/2]
	if step < minStep {
		return 0, 0, 0, false
	}

	// Assign line indices and refine by least squares, dropping outliers.
	peak = strongest
	idx := make([]float64, len(pos))
	inlier := make([]bool, len(pos))
	for iter := 0; iter < 4; iter++ {
		var n, sk, sp, skk, skp float64
		for i, x := range pos {
			idx[i] = math.Round((x - peak) / step)
			inlier[i] = math.Abs(x-peak-idx[i]*step) < step*0.15
			if !inlier[i] {
				continue
			}
			n++
			sk += idx[i]
			sp += x
			skk += idx[i] * idx[i]
			skp += idx[i] * x
		}
		den := n*skk - sk*sk
		if n < 2 || den == 0 {
			return 0, 0, 0, false
		}
		step = (n*skp - sk*sp) / den
		peak = (sp - step*sk) / n
	}
	kmin, kmax := math.Inf(1), math.Inf(-1)
	for i := range pos {
		if inlier[i] {
			kmin = min(kmin, idx[i])
			kmax = max(kmax, idx[i])
		}
	}
	peak += kmin * step
	return peak, step, int(kmax - kmin), kmax > kmin
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
