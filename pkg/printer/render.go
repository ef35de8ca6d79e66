package printer

import (
	"image"
	"image/color"

	"github.com/jpfielding/paperbak.go/pkg/paper"
)

// Ink levels used when rendering to a bitmap.
const (
	White    = 255
	GridInk  = 0
	DotInk   = 64
	rasterOn = 0x55555555
)

// Rendered is one page bitmap together with the block address in each cell.
type Rendered struct {
	Image  *image.Gray
	Layout PageLayout
	Cells  []uint32 // block address per cell index
}

// Render draws page (0-based) of the aligned stream buf. sb supplies the
// file identity; its page number is set here.
func (g Geometry) Render(sb paper.Superblock, buf []byte, page int) Rendered {
	l := g.Layout(page, len(buf))
	height := g.heightFor(l.Rows)
	img := image.NewGray(image.Rect(0, 0, g.Width, height))
	for i := range img.Pix {
		img.Pix[i] = White
	}
	g.drawGrid(img, l.Rows)
	if g.Raster {
		for j := -1; j <= l.Rows; j++ {
			g.fillBlock(img, -1, j, l.Rows)
			g.fillBlock(img, g.NX, j, l.Rows)
		}
		for i := 0; i < g.NX; i++ {
			g.fillBlock(img, i, -1, l.Rows)
			g.fillBlock(img, i, l.Rows, l.Rows)
		}
	}

	r := Rendered{Image: img, Layout: l, Cells: make([]uint32, g.NX*l.Rows)}
	draw := func(k int, b *paper.Block) {
		g.drawBlock(img, k, b)
		r.Cells[k] = b.Addr
	}

	sb.Page = uint16(page + 1)
	super := sb.Block()
	for j := 0; j <= g.Redundancy; j++ {
		draw(g.Cell(j, -1, l.Strings), &super)
	}

	group := paper.NewGroupBuilder(g.Redundancy)
	offset := l.Offset
	for i := 0; i < l.Strings; i++ {
		group.Reset()
		for j := 0; j < g.Redundancy; j++ {
			var payload []byte
			if offset < len(buf) {
				payload = buf[offset:min(offset+paper.NData, len(buf))]
			}
			b := paper.NewDataBlock(uint32(offset), payload)
			group.Add(&b)
			draw(g.Cell(j, i, l.Strings), &b)
			offset += paper.NData
		}
		rec := group.Recovery()
		draw(g.Cell(g.Redundancy, i, l.Strings), &rec)
	}

	for k := (l.Strings + 1) * (g.Redundancy + 1); k < g.NX*l.Rows; k++ {
		draw(k, &super)
	}
	return r
}

func (g Geometry) drawGrid(img *image.Gray, rows int) {
	b := img.Bounds()
	pitchX, pitchY := CellDots*g.DX, CellDots*g.DY
	x0, x1 := g.Border, g.Border+g.NX*pitchX+g.PX
	y0, y1 := g.Border, g.Border+rows*pitchY+g.PY
	if g.Raster {
		x0, x1 = 0, b.Dx()
		y0, y1 = 0, b.Dy()
	}
	for i := 0; i <= g.NX; i++ {
		x := i*pitchX + g.Border
		fill(img, image.Rect(x, y0, x+g.PX, y1), GridInk)
	}
	for j := 0; j <= rows; j++ {
		y := j*pitchY + g.Border
		fill(img, image.Rect(x0, y, x1, y+g.PY), GridInk)
	}
}

// drawBlock prints the dot matrix of b into cell k.
func (g Geometry) drawBlock(img *image.Gray, k int, b *paper.Block) {
	x0, y0 := g.CellOrigin(k)
	dots := b.Dots()
	for j, row := range dots {
		for i := 0; i < paper.NDot; i++ {
			if row&1 != 0 {
				x, y := x0+i*g.DX, y0+j*g.DY
				fill(img, image.Rect(x, y, x+g.PX, y+g.PY), DotInk)
			}
			row >>= 1
		}
	}
}

// fillBlock prints the regular border raster into a cell position that may
// lie outside the grid, clipped to the bitmap.
func (g Geometry) fillBlock(img *image.Gray, bx, by, rows int) {
	x0 := bx*CellDots*g.DX + 2*g.DX + g.Border
	y0 := by*CellDots*g.DY + 2*g.DY + g.Border
	for j := 0; j < paper.NDot; j++ {
		var t uint32
		switch {
		case j&1 == 0:
			t = rasterOn
		case by < 0 && j <= 24:
			t = 0
		case by >= rows && j > 8:
			t = 0
		case bx < 0:
			t = 0xAA000000
		case bx >= g.NX:
			t = 0x000000AA
		default:
			t = 0xAAAAAAAA
		}
		for i := 0; i < paper.NDot; i++ {
			if t&1 != 0 {
				x, y := x0+i*g.DX, y0+j*g.DY
				fill(img, image.Rect(x, y, x+g.PX, y+g.PY), DotInk)
			}
			t >>= 1
		}
	}
}

func fill(img *image.Gray, r image.Rectangle, v uint8) {
	r = r.Intersect(img.Bounds())
	c := color.Gray{Y: v}
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			img.SetGray(x, y, c)
		}
	}
}
