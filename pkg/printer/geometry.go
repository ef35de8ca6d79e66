package printer

import (
	"errors"
	"fmt"

	"github.com/jpfielding/paperbak.go/pkg/config"
	"github.com/jpfielding/paperbak.go/pkg/paper"
)

// ErrAreaTooSmall is returned when a page cannot hold one redundancy group
// plus its superblocks.
var ErrAreaTooSmall = errors.New("printable area is too small, reduce borders or block size")

// CellDots is the cell pitch in dots: 32 data dots plus a 3-dot gutter
// that holds the grid line.
const CellDots = paper.NDot + 3

// Geometry is the pixel layout of a page, derived from the options.
type Geometry struct {
	DX, DY     int // dot pitch, pixels
	PX, PY     int // dot size, pixels
	Border     int // blank or raster margin around the grid, pixels
	NX, NY     int // cells per row and rows per full page
	Width      int // bitmap width, multiple of 4
	Height     int // bitmap height of a full page
	PageSize   int // stream bytes carried by a full page
	Redundancy int
	PPIX, PPIY int
	Raster     bool // border filled with regular raster
}

// NewGeometry lays out a page for the given options. Margins follow the
// printer defaults: one inch on the left, half an inch elsewhere.
func NewGeometry(opts config.Options) (Geometry, error) {
	if err := opts.Validate().Err(); err != nil {
		return Geometry{}, err
	}
	g := Geometry{
		Redundancy: opts.Redundancy,
		PPIX:       opts.PPIX,
		PPIY:       opts.PPIY,
		Raster:     opts.PrintBorder,
	}
	width := opts.PPIX * opts.PageWidth / 1000
	height := opts.PPIY * opts.PageHeight / 1000
	width -= opts.PPIX + opts.PPIX/2
	height -= opts.PPIY/2 + opts.PPIY/2

	g.DX = max(opts.PPIX/opts.DPI, 2)
	g.DY = max(opts.PPIY/opts.DPI, 2)
	g.PX = max(g.DX*opts.DotPercent/100, 1)
	g.PY = max(g.DY*opts.DotPercent/100, 1)
	if opts.PrintBorder {
		g.Border = g.DX * 16
	} else {
		g.Border = 25
	}

	g.NX = (width - g.PX - 2*g.Border) / (CellDots * g.DX)
	g.NY = (height - g.PY - 2*g.Border) / (CellDots * g.DY)
	r := g.Redundancy
	if g.NX < r+1 || g.NY < 3 || g.NX*g.NY < 2*r+2 {
		return g, fmt.Errorf("%w: %dx%d cells for redundancy %d", ErrAreaTooSmall, g.NX, g.NY, r)
	}
	g.Width = (g.NX*CellDots*g.DX + g.PX + 2*g.Border + 3) &^ 3
	g.Height = g.heightFor(g.NY)
	g.PageSize = ((g.NX*g.NY - r - 2) / (r + 1)) * r * paper.NData
	return g, nil
}

func (g Geometry) heightFor(rows int) int {
	return rows*CellDots*g.DY + g.PY + 2*g.Border
}

// Pages is the number of pages needed for a stream of datasize bytes.
func (g Geometry) Pages(datasize int) int {
	return (datasize + g.PageSize - 1) / g.PageSize
}

// ScannerDPI is the recommended scan resolution: three pixels per dot.
func (g Geometry) ScannerDPI() int {
	return max(g.PPIX*3/g.DX, g.PPIY*3/g.DY)
}

// PageLayout describes how one page's share of the stream is arranged.
// Blocks are dealt into Redundancy+1 strings, each headed by a superblock;
// the last string holds the recovery blocks.
type PageLayout struct {
	Offset  int // first stream byte on the page
	Length  int // stream bytes on the page
	Blocks  int // data blocks
	Strings int // groups, which is also the length of each string
	Rows    int // rows actually printed
}

// Layout computes the arrangement of page (0-based) for a stream of size
// bytes. The last page is only as tall as it needs to be, but never below
// three rows so the orientation stays recoverable.
func (g Geometry) Layout(page, size int) PageLayout {
	l := PageLayout{Offset: page * g.PageSize}
	l.Length = min(size-l.Offset, g.PageSize)
	l.Blocks = (l.Length + paper.NData - 1) / paper.NData
	l.Strings = (l.Blocks + g.Redundancy - 1) / g.Redundancy
	total := (l.Strings+1)*(g.Redundancy+1) + 1
	l.Rows = min(max((total+g.NX-1)/g.NX, 3), g.NY)
	return l
}

// Cell returns the cell index of position i in string j of a page with
// nstring groups. Position -1 is the superblock heading the string. When a
// string is wider than a row, strings are rotated so members of one group
// never share a column.
func (g Geometry) Cell(j, i, nstring int) int {
	k := j * (nstring + 1)
	if nstring+1 < g.NX {
		return k + i + 1
	}
	rot := (g.NX/(g.Redundancy+1)*j - k%g.NX + g.NX) % g.NX
	return k + (i+1+rot)%(nstring+1)
}

// CellOrigin is the top-left pixel of the first dot of a cell.
func (g Geometry) CellOrigin(index int) (x, y int) {
	x = (index%g.NX)*CellDots*g.DX + 2*g.DX + g.Border
	y = (index/g.NX)*CellDots*g.DY + 2*g.DY + g.Border
	return x, y
}
