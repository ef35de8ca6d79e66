// Package decoder recovers blocks from a scanned page.
//
// A Session locates the dot grid in a gray image, estimates the tilt and
// pitch of its lines along each axis, then samples every cell, thresholds
// its 32x32 dots and validates the result with ECC and CRC. Damaged cells
// are counted and skipped, never fatal.
package decoder

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"math"
	"slices"

	"github.com/jpfielding/paperbak.go/pkg/config"
	"github.com/jpfielding/paperbak.go/pkg/paper"
)

var (
	ErrBitmapTooSmall = errors.New("bitmap is too small")
	ErrNoGrid         = errors.New("no dot grid found")
	ErrNoSuperblock   = errors.New("page has no readable superblock")
	ErrNotReady       = errors.New("grid is not prepared")
)

const (
	minSize = 3 * paper.NDot // smallest image side worth scanning
	// MinStep is the smallest cell pitch, in pixels, that can be decoded.
	MinStep = 48.0
)

// State is the step Advance performs next.
type State int

const (
	Idle State = iota
	LocateGrid
	MeasureIntensity
	EstimateXAngle
	EstimateYAngle
	PrepareBlocks
	ScanNextBlock
	Finish
)

var stateNames = [...]string{"idle", "locate grid", "measure intensity", "estimate x angle",
	"estimate y angle", "prepare blocks", "scan next block", "finish"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Options tune the decoder.
type Options struct {
	// BestQuality tries every sampling variant on every cell and keeps the
	// one needing the fewest corrections.
	BestQuality bool
	Progress    func(msg string, percent int)
}

// OptionsFrom picks the decoder settings out of the shared options.
func OptionsFrom(c config.Options) Options {
	return Options{BestQuality: c.BestQuality}
}

// PageResult is everything recovered from one page.
type PageResult struct {
	Superblock paper.Superblock
	HasSuper   bool
	Blocks     []paper.Block // data and recovery blocks, one per address
	Good       int           // cells that decoded
	Bad        int           // cells that did not
	Restored   int           // bytes repaired by ECC
	Supers     int           // superblock copies seen
	Grid       Grid
}

// Session decodes one page image.
type Session struct {
	ctx   context.Context
	img   *image.Gray
	opts  Options
	state State

	grid       Grid
	pts        points
	posx, posy int
	seen       map[uint32]bool
	result     PageResult
}

// NewSession prepares to decode img.
func NewSession(ctx context.Context, img *image.Gray, opts Options) *Session {
	return &Session{
		ctx:   ctx,
		img:   img,
		opts:  opts,
		state: LocateGrid,
		grid:  Grid{Orientation: -1},
	}
}

// Decode runs a session to completion.
func Decode(ctx context.Context, img *image.Gray, opts Options) (*PageResult, error) {
	s := NewSession(ctx, img, opts)
	if err := s.Run(); err != nil {
		return s.Result(), err
	}
	return s.Result(), nil
}

func (s *Session) State() State { return s.state }

// Grid is the geometry recovered so far.
func (s *Session) Grid() Grid { return s.grid }

// Result is the page summary, complete once the session is idle.
func (s *Session) Result() *PageResult {
	r := s.result
	r.Grid = s.grid
	return &r
}

// Stop abandons decoding and drops the image.
func (s *Session) Stop() {
	s.state = Idle
	s.img = nil
	s.pts = points{}
}

// Run advances until the session is idle or the context ends.
func (s *Session) Run() error {
	for s.state != Idle {
		if err := s.ctx.Err(); err != nil {
			s.Stop()
			return err
		}
		if err := s.Advance(); err != nil {
			return err
		}
	}
	return nil
}

// Advance performs a single step. Errors end the session.
func (s *Session) Advance() error {
	var err error
	switch s.state {
	case Idle:
		return nil
	case LocateGrid:
		err = s.locate()
	case MeasureIntensity:
		err = s.measure()
	case EstimateXAngle:
		err = s.estimate(true)
	case EstimateYAngle:
		err = s.estimate(false)
	case PrepareBlocks:
		s.prepare()
	case ScanNextBlock:
		s.scanNext()
	case Finish:
		err = s.finish()
	}
	if err != nil {
		s.state = Idle
		s.pts = points{}
	}
	return err
}

func (s *Session) report(msg string, percent int) {
	if s.opts.Progress != nil {
		s.opts.Progress(msg, percent)
	}
}

// locate finds the bounding box of dark content from coarse row and column
// counts.
func (s *Session) locate() error {
	b := s.img.Bounds()
	if b.Dx() < minSize || b.Dy() < minSize {
		return fmt.Errorf("%w: %dx%d", ErrBitmapTooSmall, b.Dx(), b.Dy())
	}
	s.report("Searching for raster...", 0)
	black, white := s.levels(b, 1)
	if int(white)-int(black) < 32 {
		return fmt.Errorf("%w: no contrast", ErrNoGrid)
	}
	thr := uint8((int(black) + int(white)) / 2)
	cols := make([]int, b.Dx())
	rows := make([]int, b.Dy())
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := s.img.Pix[s.img.PixOffset(b.Min.X, y):]
		for x := 0; x < b.Dx(); x++ {
			if row[x] < thr {
				cols[x]++
				rows[y-b.Min.Y]++
			}
		}
	}
	x0, x1, okx := span(cols)
	y0, y1, oky := span(rows)
	if !okx || !oky {
		return ErrNoGrid
	}
	const pad = 4
	s.grid.Box = image.Rect(b.Min.X+x0-pad, b.Min.Y+y0-pad, b.Min.X+x1+1+pad, b.Min.Y+y1+1+pad).Intersect(b)
	if s.grid.Box.Dx() < 2*int(MinStep) || s.grid.Box.Dy() < 2*int(MinStep) {
		return fmt.Errorf("%w: dark area %v", ErrNoGrid, s.grid.Box)
	}
	s.state = MeasureIntensity
	return nil
}

// span is the first and last index whose count reaches 2% of the maximum.
func span(counts []int) (lo, hi int, ok bool) {
	peak := slices.Max(counts)
	if peak == 0 {
		return 0, 0, false
	}
	floor := max(2, peak/50)
	lo, hi = -1, -1
	for i, c := range counts {
		if c >= floor {
			if lo < 0 {
				lo = i
			}
			hi = i
		}
	}
	return lo, hi, lo >= 0
}

// levels estimates ink and paper from the 2nd and 98th percentiles of the
// histogram, sampling every step-th pixel.
func (s *Session) levels(r image.Rectangle, step int) (black, white uint8) {
	var hist [256]int
	n := 0
	for y := r.Min.Y; y < r.Max.Y; y += step {
		row := s.img.Pix[s.img.PixOffset(r.Min.X, y):]
		for x := 0; x < r.Dx(); x += step {
			hist[row[x]]++
			n++
		}
	}
	lo, hi := n*2/100, n*98/100
	acc := 0
	black, white = 0, 255
	found := false
	for v, c := range hist {
		acc += c
		if !found && acc > lo {
			black = uint8(v)
			found = true
		}
		if acc > hi {
			white = uint8(v)
			break
		}
	}
	return black, white
}

// measure sets the ink levels of the grid area and collects its dark pixels.
func (s *Session) measure() error {
	box := s.grid.Box
	s.grid.Black, s.grid.White = s.levels(box, 1)
	if int(s.grid.White)-int(s.grid.Black) < 32 {
		return fmt.Errorf("%w: contrast %d..%d", ErrNoGrid, s.grid.Black, s.grid.White)
	}
	s.grid.CX = float64((box.Min.X + box.Max.X) / 2)
	s.grid.CY = float64((box.Min.Y + box.Max.Y) / 2)
	thr := (int(s.grid.Black) + int(s.grid.White)) / 2
	s.pts = points{}
	for y := box.Min.Y; y < box.Max.Y; y++ {
		row := s.img.Pix[s.img.PixOffset(box.Min.X, y):]
		fy := float32(float64(y) + 0.5 - s.grid.CY)
		for x := 0; x < box.Dx(); x++ {
			if v := int(row[x]); v < thr {
				s.pts.x = append(s.pts.x, float32(float64(box.Min.X+x)+0.5-s.grid.CX))
				s.pts.y = append(s.pts.y, fy)
				s.pts.w = append(s.pts.w, float32(thr-v))
			}
		}
	}
	slog.DebugContext(s.ctx, "intensity", "black", s.grid.Black, "white", s.grid.White, "box", s.grid.Box.String(), "points", len(s.pts.w))
	s.state = EstimateXAngle
	return nil
}

// estimate recovers tilt, pitch and line count along one axis.
func (s *Session) estimate(vertical bool) error {
	name := "X"
	if !vertical {
		name = "Y"
	}
	s.report(fmt.Sprintf("Estimating %s angle...", name), 0)
	ax := s.pts.axis(vertical)
	p := newProfile(ax)
	slope := bestSlope(ax, p)
	p.build(ax, slope, math.Inf(1))
	peak, step, cells, ok := fitLines(p, MinStep)
	if !ok {
		return fmt.Errorf("%w: no %s grid lines", ErrNoGrid, name)
	}
	l := Line{Peak: peak, Step: step, Angle: slope}
	if vertical {
		s.grid.X, s.grid.NX = l, cells
		s.state = EstimateYAngle
	} else {
		s.grid.Y, s.grid.NY = l, cells
		s.state = PrepareBlocks
	}
	slog.DebugContext(s.ctx, "grid axis", "axis", name, "peak", peak, "step", step, "angle", slope, "cells", cells)
	return nil
}

func (s *Session) prepare() {
	s.pts = points{}
	s.posx, s.posy = 0, 0
	s.seen = make(map[uint32]bool)
	s.result = PageResult{}
	s.state = ScanNextBlock
}

func (s *Session) scanNext() {
	total := s.grid.NX * s.grid.NY
	if s.posy >= s.grid.NY {
		s.state = Finish
		return
	}
	n := s.posy*s.grid.NX + s.posx
	s.report("Decoding", n*100/total)
	s.record(s.DecodeBlock(s.posx, s.posy))
	s.posx++
	if s.posx >= s.grid.NX {
		s.posx = 0
		s.posy++
	}
	if s.posy >= s.grid.NY {
		s.state = Finish
	}
}

func (s *Session) record(b paper.Block, fixed int, err error) {
	if err != nil {
		s.result.Bad++
		return
	}
	if b.Kind() == paper.KindSuper {
		sb, perr := paper.ParseSuperblock(&b)
		if perr != nil {
			s.result.Bad++
			return
		}
		s.result.Supers++
		if !s.result.HasSuper {
			s.result.Superblock, s.result.HasSuper = sb, true
		}
	} else if !s.seen[b.Addr] {
		s.seen[b.Addr] = true
		s.result.Blocks = append(s.result.Blocks, b)
	}
	s.result.Good++
	s.result.Restored += fixed
}

func (s *Session) finish() error {
	r := &s.result
	s.report("", 100)
	s.state = Idle
	attrs := []any{"good", r.Good, "bad", r.Bad, "restored", r.Restored, "cells", s.grid.NX * s.grid.NY}
	if !r.HasSuper {
		slog.WarnContext(s.ctx, "page decoded without superblock", attrs...)
		return ErrNoSuperblock
	}
	slog.InfoContext(s.ctx, "page decoded", append(attrs, "file", r.Superblock.FileName(), "page", r.Superblock.Page)...)
	return nil
}
