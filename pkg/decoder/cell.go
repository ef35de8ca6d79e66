package decoder

import (
	"fmt"
	"math"
	"slices"

	"github.com/jpfielding/paperbak.go/pkg/paper"
)

const cellDots = paper.NDot + 3

// variant is one way of sampling a cell: a shift of the dot lattice, in
// dots, and a sharpening factor that undoes scanner blur.
type variant struct {
	dx, dy float64
	sharp  float64
}

var variants = []variant{
	{0, 0, 0},
	{-0.3, 0, 0},
	{0.3, 0, 0},
	{0, -0.3, 0},
	{0, 0.3, 0},
	{0, 0, 0.5},
	{0, 0, 1.0},
	{-0.3, -0.3, 0.5},
	{0.3, 0.3, 0.5},
}

// DecodeBlock samples the cell at column posx, row posy and returns the
// validated block with the number of bytes ECC repaired.
func (s *Session) DecodeBlock(posx, posy int) (paper.Block, int, error) {
	if s.img == nil || s.grid.NX == 0 || s.grid.NY == 0 {
		return paper.Block{}, 0, ErrNotReady
	}
	if posx < 0 || posy < 0 || posx >= s.grid.NX || posy >= s.grid.NY {
		return paper.Block{}, 0, fmt.Errorf("cell %d,%d outside %dx%d grid", posx, posy, s.grid.NX, s.grid.NY)
	}
	var (
		best      paper.Block
		bestFixed = -1
		bestOrient int
		lastErr   error = paper.ErrChecksum
	)
	for _, v := range variants {
		dots, ok := s.sample(posx, posy, v)
		if !ok {
			continue
		}
		b, fixed, orient, err := s.validate(&dots)
		if err != nil {
			lastErr = err
			continue
		}
		if bestFixed < 0 || fixed < bestFixed {
			best, bestFixed, bestOrient = b, fixed, orient
		}
		if !s.opts.BestQuality || fixed == 0 {
			break
		}
	}
	if bestFixed < 0 {
		return paper.Block{}, 0, lastErr
	}
	s.grid.Orientation = bestOrient
	return best, bestFixed, nil
}

// validate tries the page orientation once known, otherwise all eight.
func (s *Session) validate(d *paper.Dots) (paper.Block, int, int, error) {
	var err error
	for t := 0; t < 8; t++ {
		if s.grid.Orientation >= 0 && t != s.grid.Orientation {
			continue
		}
		td := d.Transform(t)
		raw := td.Raw()
		var b paper.Block
		var fixed int
		if b, fixed, err = paper.Validate(raw[:]); err == nil {
			return b, fixed, t, nil
		}
	}
	return paper.Block{}, 0, -1, err
}

// sample reads the 32x32 dots of a cell. The lattice is sampled one dot
// wider on each side so sharpening has neighbours at the edges.
func (s *Session) sample(posx, posy int, v variant) (paper.Dots, bool) {
	const n = paper.NDot + 2
	var grid [n][n]float64
	for r := 0; r < n; r++ {
		ky := float64(posy) + (float64(r+1)+v.dy)/cellDots
		for c := 0; c < n; c++ {
			kx := float64(posx) + (float64(c+1)+v.dx)/cellDots
			x, y := s.grid.Point(kx, ky)
			grid[r][c] = s.bilinear(x-0.5, y-0.5)
		}
	}
	vals := make([]float64, 0, paper.NDot*paper.NDot)
	for r := 1; r <= paper.NDot; r++ {
		for c := 1; c <= paper.NDot; c++ {
			val := grid[r][c]
			if v.sharp > 0 {
				nb := (grid[r-1][c] + grid[r+1][c] + grid[r][c-1] + grid[r][c+1]) / 4
				val += v.sharp * (val - nb)
			}
			vals = append(vals, val)
		}
	}
	sorted := slices.Clone(vals)
	slices.Sort(sorted)
	lo, hi := sorted[len(sorted)/32], sorted[len(sorted)-1-len(sorted)/32]
	if hi-lo < float64(int(s.grid.White)-int(s.grid.Black))/4 {
		return paper.Dots{}, false
	}
	thr := (lo + hi) / 2
	var d paper.Dots
	for i, val := range vals {
		if val < thr {
			d.Set(i%paper.NDot, i/paper.NDot, true)
		}
	}
	return d, true
}

// bilinear interpolates the image at pixel-centre coordinates, clamping
// to the border.
func (s *Session) bilinear(x, y float64) float64 {
	b := s.img.Bounds()
	x = math.Max(float64(b.Min.X), math.Min(x, float64(b.Max.X-1)))
	y = math.Max(float64(b.Min.Y), math.Min(y, float64(b.Max.Y-1)))
	x0, y0 := int(x), int(y)
	x1, y1 := min(x0+1, b.Max.X-1), min(y0+1, b.Max.Y-1)
	fx, fy := x-float64(x0), y-float64(y0)
	at := func(px, py int) float64 { return float64(s.img.Pix[s.img.PixOffset(px, py)]) }
	top := at(x0, y0)*(1-fx) + at(x1, y0)*fx
	bot := at(x0, y1)*(1-fx) + at(x1, y1)*fx
	return top*(1-fy) + bot*fy
}
