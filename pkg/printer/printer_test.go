package printer

import (
	"bytes"
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/jpfielding/paperbak.go/pkg/config"
	"github.com/jpfielding/paperbak.go/pkg/crc"
	"github.com/jpfielding/paperbak.go/pkg/paper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeRandom(n int, seed int64) []byte {
	b := make([]byte, n)
	rand.New(rand.NewSource(seed)).Read(b)
	return b
}

func TestNewGeometryDefault(t *testing.T) {
	g, err := NewGeometry(config.Default())
	require.NoError(t, err)
	assert.Equal(t, 2, g.DX)
	assert.Equal(t, 1, g.PX)
	assert.Equal(t, 25, g.Border)
	assert.Equal(t, 28, g.NX)
	assert.Equal(t, 45, g.NY)
	assert.Equal(t, 2012, g.Width)
	assert.Equal(t, 3201, g.Height)
	assert.Equal(t, 93600, g.PageSize)
	assert.Equal(t, 450, g.ScannerDPI())
	assert.Zero(t, g.Width%4)
}

func TestNewGeometryBorder(t *testing.T) {
	opts := config.Default()
	opts.PrintBorder = true
	g, err := NewGeometry(opts)
	require.NoError(t, err)
	assert.Equal(t, 32, g.Border)
	assert.Equal(t, 28, g.NX)
	assert.Equal(t, 44, g.NY)
}

func TestNewGeometryTooSmall(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*config.Options)
	}{
		{"coarse dots", func(o *config.Options) { o.DPI = 40; o.Redundancy = 10 }},
		{"tiny page", func(o *config.Options) { o.PageWidth = 1600; o.PageHeight = 1600 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := config.Default()
			tt.modify(&opts)
			_, err := NewGeometry(opts)
			assert.ErrorIs(t, err, ErrAreaTooSmall)
		})
	}

	opts := config.Default()
	opts.Redundancy = 20
	_, err := NewGeometry(opts)
	assert.Error(t, err)
}

func TestLayout(t *testing.T) {
	g, err := NewGeometry(config.Default())
	require.NoError(t, err)

	l := g.Layout(0, 1008)
	assert.Equal(t, 1008, l.Length)
	assert.Equal(t, 12, l.Blocks)
	assert.Equal(t, 3, l.Strings)
	assert.Equal(t, 3, l.Rows)

	full := g.Layout(0, 3*g.PageSize)
	assert.Equal(t, g.NY, full.Rows)
	assert.Equal(t, 1040, full.Blocks)

	last := g.Layout(2, 2*g.PageSize+900)
	assert.Equal(t, 2*g.PageSize, last.Offset)
	assert.Equal(t, 10, last.Blocks)
	assert.Equal(t, 3, last.Rows)
}

// Members of one redundancy group must not share a column.
func TestCellColumns(t *testing.T) {
	g, err := NewGeometry(config.Default())
	require.NoError(t, err)
	for _, size := range []int{1008, g.PageSize} {
		l := g.Layout(0, size)
		used := map[int]bool{}
		for j := 0; j <= g.Redundancy; j++ {
			k := g.Cell(j, -1, l.Strings)
			assert.False(t, used[k])
			used[k] = true
		}
		for i := 0; i < l.Strings; i++ {
			cols := map[int]bool{}
			for j := 0; j <= g.Redundancy; j++ {
				k := g.Cell(j, i, l.Strings)
				require.Less(t, k, g.NX*l.Rows)
				assert.False(t, used[k], "cell %d reused", k)
				used[k] = true
				assert.False(t, cols[k%g.NX], "size %d group %d column %d", size, i, k%g.NX)
				cols[k%g.NX] = true
			}
		}
		assert.Len(t, used, (l.Strings+1)*(g.Redundancy+1))
	}
}

// readCell samples the dot centres of a rendered cell.
func readCell(g Geometry, r Rendered, k int) [paper.BlockSize]byte {
	x0, y0 := g.CellOrigin(k)
	var d paper.Dots
	for j := 0; j < paper.NDot; j++ {
		for i := 0; i < paper.NDot; i++ {
			d.Set(i, j, r.Image.GrayAt(x0+i*g.DX, y0+j*g.DY).Y == DotInk)
		}
	}
	return d.Raw()
}

func TestRender(t *testing.T) {
	for _, border := range []bool{false, true} {
		opts := config.Default()
		opts.PrintBorder = border
		g, err := NewGeometry(opts)
		require.NoError(t, err)

		buf := makeRandom(1008, 1)
		sb := paper.Superblock{DataSize: 1008, PageSize: uint32(g.PageSize), OrigSize: 1000}
		sb.SetName("data.bin")
		r := g.Render(sb, buf, 0)

		assert.Equal(t, g.Width, r.Image.Bounds().Dx())
		assert.Equal(t, 3*CellDots*g.DY+g.PY+2*g.Border, r.Image.Bounds().Dy())
		require.Len(t, r.Cells, g.NX*3)

		var data, recovery, super int
		for k, addr := range r.Cells {
			raw := readCell(g, r, k)
			b, n, err := paper.Validate(raw[:])
			require.NoError(t, err, "cell %d", k)
			assert.Zero(t, n)
			assert.Equal(t, addr, b.Addr)
			switch b.Kind() {
			case paper.KindData:
				data++
				off := int(b.Offset())
				if off < len(buf) {
					assert.Equal(t, buf[off:min(off+paper.NData, len(buf))], b.Data[:min(paper.NData, len(buf)-off)])
				}
			case paper.KindRecovery:
				recovery++
			case paper.KindSuper:
				super++
				s, err := paper.ParseSuperblock(&b)
				require.NoError(t, err)
				assert.Equal(t, uint16(1), s.Page)
				assert.Equal(t, "data.bin", s.FileName())
			}
		}
		assert.Equal(t, 15, data)
		assert.Equal(t, 3, recovery)
		assert.Equal(t, g.NX*3-18, super)
	}
}

func runJob(t *testing.T, opts config.Options, in []byte, options ...Option) (*Job, *MemorySink) {
	t.Helper()
	sink := &MemorySink{}
	info := FileInfo{Name: "/some/where/input.dat", Size: int64(len(in)), Modified: time.Unix(1700000000, 0), Attributes: paper.AttrArchive}
	job, err := NewJob(context.Background(), opts, info, bytes.NewReader(in), sink, options...)
	require.NoError(t, err)
	require.NoError(t, job.Run())
	assert.Equal(t, Done, job.State())
	return job, sink
}

func TestJobIncompressible(t *testing.T) {
	in := makeRandom(1000, 2)
	var msgs []string
	job, sink := runJob(t, config.Default(), in, WithProgress(func(msg string, _ int) { msgs = append(msgs, msg) }))

	sb := job.Superblock()
	assert.Equal(t, uint32(1008), sb.DataSize)
	assert.Equal(t, uint32(1000), sb.OrigSize)
	assert.Zero(t, sb.Mode&paper.ModeCompressed)
	assert.Equal(t, "input.dat", sb.FileName())
	aligned := append(append([]byte{}, in...), make([]byte, 8)...)
	assert.Equal(t, crc.Checksum(aligned), sb.FileCRC)

	require.Len(t, sink.Pages, 1)
	assert.Equal(t, 1, sink.Pages[0].Number)
	assert.Equal(t, 1, job.Pages())
	assert.Contains(t, msgs, "Processing page 1 of 1...")
}

func TestJobCompressible(t *testing.T) {
	in := bytes.Repeat([]byte("paper backup "), 2000)
	job, sink := runJob(t, config.Default(), in)
	sb := job.Superblock()
	assert.NotZero(t, sb.Mode&paper.ModeCompressed)
	assert.Less(t, sb.DataSize, sb.OrigSize)
	assert.Zero(t, sb.DataSize%16)
	require.Len(t, sink.Pages, 1)

	opts := config.Default()
	opts.Compress = false
	job, _ = runJob(t, opts, in)
	assert.Zero(t, job.Superblock().Mode)
	assert.Equal(t, uint32(26000), job.Superblock().DataSize)
}

func TestJobPages(t *testing.T) {
	in := makeRandom(200000, 3)
	job, sink := runJob(t, config.Default(), in)
	assert.Equal(t, 3, job.Pages())
	require.Len(t, sink.Pages, 3)
	for i, p := range sink.Pages {
		assert.Equal(t, i+1, p.Number)
		assert.Equal(t, 3, p.Of)
	}
	assert.Equal(t, job.Geometry().Height, sink.Pages[0].Image.Bounds().Dy())
	assert.Less(t, sink.Pages[2].Image.Bounds().Dy(), job.Geometry().Height)

	job, sink = runJob(t, config.Default(), in, WithPageRange(1, 1))
	require.Len(t, sink.Pages, 1)
	assert.Equal(t, 2, sink.Pages[0].Number)
	assert.Equal(t, 1, job.Written())
}

func TestJobStop(t *testing.T) {
	in := makeRandom(300000, 4)
	info := FileInfo{Name: "x", Size: int64(len(in))}
	job, err := NewJob(context.Background(), config.Default(), info, bytes.NewReader(in), &MemorySink{})
	require.NoError(t, err)
	for job.State() != Compressing {
		require.NoError(t, job.Advance())
	}
	require.NoError(t, job.Advance())
	job.Stop()
	assert.Equal(t, Idle, job.State())
	assert.NoError(t, job.Advance())
	assert.ErrorIs(t, job.Run(), ErrStopped)
}

func TestJobErrors(t *testing.T) {
	ctx := context.Background()
	_, err := NewJob(ctx, config.Default(), FileInfo{Name: "e"}, bytes.NewReader(nil), &MemorySink{})
	assert.ErrorIs(t, err, ErrEmptyInput)

	_, err = NewJob(ctx, config.Default(), FileInfo{Name: "big", Size: paper.MaxSize + 1}, bytes.NewReader(nil), &MemorySink{})
	assert.ErrorIs(t, err, ErrTooLarge)

	// Short input.
	job, err := NewJob(ctx, config.Default(), FileInfo{Name: "s", Size: 100}, bytes.NewReader(make([]byte, 10)), &MemorySink{})
	require.NoError(t, err)
	assert.Error(t, job.Run())
	assert.Equal(t, Idle, job.State())

	// Failing sink.
	boom := errors.New("boom")
	sink := SinkFunc(func(context.Context, Page) error { return boom })
	job, err = NewJob(ctx, config.Default(), FileInfo{Name: "f", Size: 10}, bytes.NewReader(make([]byte, 10)), sink)
	require.NoError(t, err)
	assert.ErrorIs(t, job.Run(), boom)

	// Cancelled context.
	cctx, cancel := context.WithCancel(ctx)
	cancel()
	job, err = NewJob(cctx, config.Default(), FileInfo{Name: "c", Size: 10}, bytes.NewReader(make([]byte, 10)), &MemorySink{})
	require.NoError(t, err)
	assert.ErrorIs(t, job.Run(), context.Canceled)
}

func TestPageFileName(t *testing.T) {
	assert.Equal(t, "out.bmp", PageFileName("out.bmp", 1, 1))
	assert.Equal(t, "out_0002.bmp", PageFileName("out.bmp", 2, 3))
	assert.Equal(t, "dir/scan_0010.bmp", PageFileName("dir/scan", 10, 12))
}

func TestAttributes(t *testing.T) {
	assert.Equal(t, uint8(paper.AttrNormal), Attributes("a.txt", 0o644))
	assert.Equal(t, uint8(paper.AttrReadOnly), Attributes("a.txt", 0o444))
	assert.Equal(t, uint8(paper.AttrHidden), Attributes(".profile", 0o600))
}
