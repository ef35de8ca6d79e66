package decoder

import (
	"bytes"
	"context"
	"image"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/jpfielding/paperbak.go/pkg/bitmap"
	"github.com/jpfielding/paperbak.go/pkg/config"
	"github.com/jpfielding/paperbak.go/pkg/paper"
	"github.com/jpfielding/paperbak.go/pkg/printer"
	"github.com/jpfielding/paperbak.go/pkg/restore"
	"github.com/nfnt/resize"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeRandom(n int, seed int64) []byte {
	b := make([]byte, n)
	rand.New(rand.NewSource(seed)).Read(b)
	return b
}

// printPage renders a small backup of in and returns its only page.
func printPage(t *testing.T, in []byte) (printer.Page, printer.Geometry, paper.Superblock) {
	t.Helper()
	sink := &printer.MemorySink{}
	info := printer.FileInfo{Name: "scan.bin", Size: int64(len(in)), Modified: time.Unix(1600000000, 0)}
	job, err := printer.NewJob(context.Background(), config.Default(), info, bytes.NewReader(in), sink)
	require.NoError(t, err)
	require.NoError(t, job.Run())
	require.Len(t, sink.Pages, 1)
	return sink.Pages[0], job.Geometry(), job.Superblock()
}

// wipe blanks every cell holding one of the addresses.
func wipe(g printer.Geometry, p printer.Page, addrs ...uint32) int {
	n := 0
	for k, a := range p.Cells {
		for _, want := range addrs {
			if a != want {
				continue
			}
			x, y := g.CellOrigin(k)
			r := image.Rect(x-1, y-1, x+paper.NDot*g.DX+1, y+paper.NDot*g.DY+1)
			for yy := r.Min.Y; yy < r.Max.Y; yy++ {
				for xx := r.Min.X; xx < r.Max.X; xx++ {
					p.Image.Pix[p.Image.PixOffset(xx, yy)] = printer.White
				}
			}
			n++
		}
	}
	return n
}

func clone(img *image.Gray) *image.Gray {
	out := image.NewGray(img.Bounds())
	copy(out.Pix, img.Pix)
	return out
}

func rotate180(img *image.Gray) *image.Gray {
	b := img.Bounds()
	out := image.NewGray(b)
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			out.Pix[out.PixOffset(b.Dx()-1-x, b.Dy()-1-y)] = img.Pix[img.PixOffset(x, y)]
		}
	}
	return out
}

// rotate turns the image by a small angle around its centre, sampling the
// nearest source pixel and filling with paper white.
func rotate(img *image.Gray, degrees float64) *image.Gray {
	b := img.Bounds()
	out := image.NewGray(b)
	sin, cos := math.Sincos(degrees * math.Pi / 180)
	cx, cy := float64(b.Dx())/2, float64(b.Dy())/2
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			dx, dy := float64(x)+0.5-cx, float64(y)+0.5-cy
			sx := int(math.Floor(cos*dx + sin*dy + cx))
			sy := int(math.Floor(-sin*dx + cos*dy + cy))
			v := uint8(printer.White)
			if sx >= 0 && sy >= 0 && sx < b.Dx() && sy < b.Dy() {
				v = img.Pix[img.PixOffset(sx, sy)]
			}
			out.Pix[out.PixOffset(x, y)] = v
		}
	}
	return out
}

func restoreFile(t *testing.T, res *PageResult) (*restore.File, restore.PageReport) {
	t.Helper()
	require.True(t, res.HasSuper)
	f, rep, err := restore.NewReassembler().Feed(context.Background(), &res.Superblock, res.Blocks, res.Good, res.Bad, res.Restored)
	require.NoError(t, err)
	return f, rep
}

func TestDecodeCleanPage(t *testing.T) {
	in := makeRandom(1000, 1)
	page, g, sb := printPage(t, in)
	require.Equal(t, 2012, page.Image.Bounds().Dx())
	require.Equal(t, 261, page.Image.Bounds().Dy())

	var states []State
	s := NewSession(context.Background(), page.Image, Options{})
	for s.State() != Idle {
		states = append(states, s.State())
		require.NoError(t, s.Advance())
	}
	assert.Equal(t, []State{LocateGrid, MeasureIntensity, EstimateXAngle, EstimateYAngle, PrepareBlocks}, states[:5])
	assert.Equal(t, Finish, states[len(states)-1])

	res := s.Result()
	assert.Equal(t, g.NX, res.Grid.NX)
	assert.Equal(t, 3, res.Grid.NY)
	assert.InDelta(t, float64(printer.CellDots*g.DX), res.Grid.X.Step, 0.05)
	assert.InDelta(t, float64(printer.CellDots*g.DY), res.Grid.Y.Step, 0.05)
	assert.InDelta(t, 0, res.Grid.X.Angle, 0.0005)
	assert.Equal(t, 0, res.Grid.Orientation)

	assert.Equal(t, 84, res.Good)
	assert.Zero(t, res.Bad)
	assert.Zero(t, res.Restored)
	assert.Equal(t, 66, res.Supers)
	assert.Len(t, res.Blocks, 18)
	require.True(t, res.HasSuper)
	assert.Equal(t, sb.DataSize, res.Superblock.DataSize)
	assert.Equal(t, sb.FileCRC, res.Superblock.FileCRC)
	assert.Equal(t, "scan.bin", res.Superblock.FileName())
	assert.Equal(t, uint16(1), res.Superblock.Page)

	f, rep := restoreFile(t, res)
	assert.True(t, rep.Complete)
	data, err := f.Unpack(false)
	require.NoError(t, err)
	assert.Equal(t, in, data)
}

func TestDecodeBlockDirect(t *testing.T) {
	page, g, _ := printPage(t, makeRandom(1000, 2))
	s := NewSession(context.Background(), page.Image, Options{})
	_, _, err := s.DecodeBlock(0, 0)
	assert.ErrorIs(t, err, ErrNotReady)

	for s.State() != ScanNextBlock {
		require.NoError(t, s.Advance())
	}
	for k, addr := range page.Cells {
		b, fixed, err := s.DecodeBlock(k%g.NX, k/g.NX)
		require.NoError(t, err, "cell %d", k)
		assert.Zero(t, fixed)
		assert.Equal(t, addr, b.Addr, "cell %d", k)
	}
	_, _, err = s.DecodeBlock(g.NX, 0)
	assert.Error(t, err)
}

func TestRoundTripGeometries(t *testing.T) {
	text := bytes.Repeat([]byte("Paper keeps data readable for a very long time. "), 400)
	tests := []struct {
		name   string
		in     []byte
		modify func(*config.Options)
		pages  int
	}{
		{"default", makeRandom(1000, 20), func(*config.Options) {}, 1},
		{"multi page", makeRandom(250000, 21), func(*config.Options) {}, 3},
		{"border", makeRandom(5000, 22), func(o *config.Options) { o.PrintBorder = true }, 1},
		{"compressible", text, func(*config.Options) {}, 1},
		{"dpi 100 r2", makeRandom(5000, 23), func(o *config.Options) { o.DPI, o.DotPercent, o.Redundancy = 100, 50, 2 }, 1},
		{"dpi 150 r10", makeRandom(5000, 24), func(o *config.Options) { o.DPI, o.DotPercent, o.Redundancy = 150, 100, 10 }, 1},
		{"dpi 40 r3", makeRandom(5000, 25), func(o *config.Options) { o.DPI, o.DotPercent, o.Redundancy = 40, 70, 3 }, 0},
		{"dpi 200 r10", makeRandom(5000, 26), func(o *config.Options) { o.Redundancy = 10 }, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			opts := config.Default()
			tt.modify(&opts)
			sink := &printer.MemorySink{}
			info := printer.FileInfo{Name: tt.name + ".bin", Size: int64(len(tt.in)), Modified: time.Unix(1650000000, 0)}
			job, err := printer.NewJob(ctx, opts, info, bytes.NewReader(tt.in), sink)
			require.NoError(t, err)
			require.NoError(t, job.Run())
			if tt.pages > 0 {
				require.Len(t, sink.Pages, tt.pages)
			}
			g := job.Geometry()

			r := restore.NewReassembler()
			var f *restore.File
			var rep restore.PageReport
			for _, page := range sink.Pages {
				res, err := Decode(ctx, page.Image, Options{})
				require.NoError(t, err, "page %d", page.Number)
				assert.Equal(t, g.NX, res.Grid.NX, "page %d", page.Number)
				assert.Equal(t, page.Layout.Rows, res.Grid.NY, "page %d", page.Number)
				assert.Equal(t, g.NX*page.Layout.Rows, res.Good+res.Bad, "page %d", page.Number)

				f, rep, err = r.Feed(ctx, &res.Superblock, res.Blocks, res.Good, res.Bad, res.Restored)
				require.NoError(t, err)
			}
			require.True(t, rep.Complete, "%d of %d blocks", rep.NData, rep.NBlock)
			data, err := f.Unpack(false)
			require.NoError(t, err)
			assert.Equal(t, tt.in, data)
		})
	}
}

func TestDecodeUpsideDown(t *testing.T) {
	in := makeRandom(1000, 3)
	page, _, _ := printPage(t, in)
	res, err := Decode(context.Background(), rotate180(page.Image), Options{})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Grid.Orientation)
	assert.Zero(t, res.Bad)

	f, rep := restoreFile(t, res)
	require.True(t, rep.Complete)
	data, err := f.Unpack(false)
	require.NoError(t, err)
	assert.Equal(t, in, data)
}

func TestDecodeUpscaled(t *testing.T) {
	in := makeRandom(1000, 4)
	page, g, _ := printPage(t, in)
	b := page.Image.Bounds()
	big := bitmap.ToGray(resize.Resize(uint(2*b.Dx()), uint(2*b.Dy()), page.Image, resize.Bilinear))

	res, err := Decode(context.Background(), big, Options{})
	require.NoError(t, err)
	assert.InDelta(t, float64(2*printer.CellDots*g.DX), res.Grid.X.Step, 0.5)
	assert.Zero(t, res.Bad)

	f, rep := restoreFile(t, res)
	require.True(t, rep.Complete)
	data, err := f.Unpack(false)
	require.NoError(t, err)
	assert.Equal(t, in, data)
}

func TestDecodeRotated(t *testing.T) {
	in := makeRandom(1000, 5)
	page, _, _ := printPage(t, in)
	b := page.Image.Bounds()
	big := bitmap.ToGray(resize.Resize(uint(3*b.Dx()), uint(3*b.Dy()), page.Image, resize.NearestNeighbor))
	tilted := rotate(big, 0.2)

	res, err := Decode(context.Background(), tilted, Options{})
	require.NoError(t, err)
	assert.InDelta(t, math.Tan(0.2*math.Pi/180), math.Abs(res.Grid.X.Angle), 0.001)
	assert.LessOrEqual(t, res.Bad, 2)

	f, rep := restoreFile(t, res)
	require.True(t, rep.Complete)
	data, err := f.Unpack(false)
	require.NoError(t, err)
	assert.Equal(t, in, data)
}

func TestDecodeBestQuality(t *testing.T) {
	page, _, _ := printPage(t, makeRandom(1000, 6))
	res, err := Decode(context.Background(), page.Image, OptionsFrom(config.Options{BestQuality: true}))
	require.NoError(t, err)
	assert.Zero(t, res.Bad)
	assert.Zero(t, res.Restored)
	assert.Len(t, res.Blocks, 18)
}

func TestDecodeRecoversLostCell(t *testing.T) {
	in := makeRandom(1000, 7)
	page, g, _ := printPage(t, in)
	require.Equal(t, 1, wipe(g, page, 0))

	res, err := Decode(context.Background(), page.Image, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Bad)
	assert.Equal(t, 83, res.Good)

	f, rep := restoreFile(t, res)
	assert.Equal(t, 1, rep.Recovered)
	require.True(t, rep.Complete)
	data, err := f.Unpack(false)
	require.NoError(t, err)
	assert.Equal(t, in, data)
}

func TestDecodeTwoLostCellsInGroup(t *testing.T) {
	page, g, _ := printPage(t, makeRandom(1000, 8))
	require.Equal(t, 2, wipe(g, page, 0, paper.NData))

	res, err := Decode(context.Background(), page.Image, Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Bad)

	f, rep := restoreFile(t, res)
	assert.False(t, rep.Complete)
	assert.Equal(t, []int{1}, rep.Rescan)
	_, err = f.Unpack(false)
	assert.ErrorIs(t, err, restore.ErrIncomplete)
}

func TestDecodeWithoutSuperblock(t *testing.T) {
	page, g, _ := printPage(t, makeRandom(1000, 9))
	require.Equal(t, 66, wipe(g, page, paper.SuperAddr))

	res, err := Decode(context.Background(), page.Image, Options{})
	assert.ErrorIs(t, err, ErrNoSuperblock)
	assert.False(t, res.HasSuper)
	assert.Equal(t, 18, res.Good)
}

func TestDecodeErrors(t *testing.T) {
	blank := func(w, h int) *image.Gray {
		img := image.NewGray(image.Rect(0, 0, w, h))
		for i := range img.Pix {
			img.Pix[i] = printer.White
		}
		return img
	}
	_, err := Decode(context.Background(), blank(50, 50), Options{})
	assert.ErrorIs(t, err, ErrBitmapTooSmall)
	_, err = Decode(context.Background(), blank(500, 500), Options{})
	assert.ErrorIs(t, err, ErrNoGrid)

	page, _, _ := printPage(t, makeRandom(100, 10))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := NewSession(ctx, clone(page.Image), Options{})
	assert.ErrorIs(t, s.Run(), context.Canceled)
	assert.Equal(t, Idle, s.State())
}

func TestDecodeProgress(t *testing.T) {
	page, _, _ := printPage(t, makeRandom(500, 11))
	var last int
	var msgs int
	_, err := Decode(context.Background(), page.Image, Options{Progress: func(_ string, p int) {
		assert.GreaterOrEqual(t, p, 0)
		assert.LessOrEqual(t, p, 100)
		last = p
		msgs++
	}})
	require.NoError(t, err)
	assert.Equal(t, 100, last)
	assert.Greater(t, msgs, 3)
}
