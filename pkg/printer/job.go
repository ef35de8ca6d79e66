// Package printer turns a file into printable pages of dot cells.
//
// A Job is a cooperative state machine: every call to Advance performs one
// bounded piece of work (reading and compressing one chunk, rendering one
// page) so a caller can report progress or stop between steps.
package printer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/jpfielding/paperbak.go/pkg/compress/lzw"
	"github.com/jpfielding/paperbak.go/pkg/config"
	"github.com/jpfielding/paperbak.go/pkg/crc"
	"github.com/jpfielding/paperbak.go/pkg/paper"
)

var (
	ErrEmptyInput = errors.New("input file is empty")
	ErrTooLarge   = errors.New("input file is too large")
	ErrStopped    = errors.New("job stopped")
)

// PackLen is the amount of input consumed per compression step.
const PackLen = 64 * 1024

// State is the step Advance performs next.
type State int

const (
	Idle State = iota
	FileOpened
	CompressorInit
	Compressing
	CompressionDone
	Encrypting
	LayoutInitialized
	RenderingPages
	Done
)

var stateNames = [...]string{"idle", "file opened", "compressor init", "compressing",
	"compression done", "encrypting", "layout initialized", "rendering pages", "done"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Progress receives a short message and a percentage.
type Progress func(msg string, percent int)

// Option tunes a Job.
type Option func(*Job)

// WithPageRange limits rendering to pages from..to, 0-based and inclusive.
// A negative to means the last page.
func WithPageRange(from, to int) Option {
	return func(j *Job) { j.from, j.to = from, to }
}

// WithProgress installs a progress callback.
func WithProgress(p Progress) Option {
	return func(j *Job) { j.progress = p }
}

// Job encodes one file.
type Job struct {
	ctx      context.Context
	opts     config.Options
	info     FileInfo
	src      io.Reader
	sink     PageSink
	progress Progress

	state    State
	raw      []byte
	packed   bytes.Buffer
	enc      *lzw.Encoder
	readsize int
	compress bool
	buf      []byte // aligned stream that goes on paper
	datasize int    // stream size before alignment
	super    paper.Superblock
	geom     Geometry
	from, to int
	npages   int
	written  int
}

// NewJob prepares to encode info.Size bytes read from src. Pages are handed
// to sink as they are rendered.
func NewJob(ctx context.Context, opts config.Options, info FileInfo, src io.Reader, sink PageSink, options ...Option) (*Job, error) {
	if info.Size <= 0 {
		return nil, ErrEmptyInput
	}
	if info.Size > paper.MaxSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, info.Size)
	}
	if err := opts.Validate().Err(); err != nil {
		return nil, err
	}
	j := &Job{
		ctx:   ctx,
		opts:  opts,
		info:  info,
		src:   src,
		sink:  sink,
		state: FileOpened,
		to:    -1,
	}
	for _, o := range options {
		o(j)
	}
	j.raw = make([]byte, 0, info.Size)
	return j, nil
}

func (j *Job) State() State { return j.state }

// Geometry is valid once the layout step has run.
func (j *Job) Geometry() Geometry { return j.geom }

// Superblock is the file identity printed on every page.
func (j *Job) Superblock() paper.Superblock { return j.super }

// Pages is the total page count of the backup, known after layout.
func (j *Job) Pages() int { return j.npages }

// Written is the number of pages handed to the sink.
func (j *Job) Written() int { return j.written }

// Stop abandons the job and releases its buffers.
func (j *Job) Stop() {
	j.state = Idle
	j.raw = nil
	j.buf = nil
	j.enc = nil
	j.packed = bytes.Buffer{}
}

// Run advances the job until it finishes, fails or the context ends.
func (j *Job) Run() error {
	for j.state != Done && j.state != Idle {
		if err := j.ctx.Err(); err != nil {
			j.Stop()
			return err
		}
		if err := j.Advance(); err != nil {
			return err
		}
	}
	if j.state == Idle {
		return ErrStopped
	}
	return nil
}

// Advance performs a single step. Errors stop the job.
func (j *Job) Advance() error {
	var err error
	switch j.state {
	case Idle, Done:
		return nil
	case FileOpened:
		j.compress = j.opts.Compress
		j.state = CompressorInit
	case CompressorInit:
		if j.compress {
			j.enc = lzw.NewEncoder(&j.packed)
		}
		j.state = Compressing
	case Compressing:
		err = j.readAndCompress()
	case CompressionDone:
		err = j.finishCompression()
	case Encrypting:
		j.encrypt()
	case LayoutInitialized:
		err = j.initLayout()
	case RenderingPages:
		err = j.renderNextPage()
	}
	if err != nil {
		j.Stop()
	}
	return err
}

func (j *Job) report(msg string, percent int) {
	if j.progress != nil {
		j.progress(msg, percent)
	}
}

func (j *Job) readAndCompress() error {
	size := min(int(j.info.Size)-j.readsize, PackLen)
	chunk := j.raw[j.readsize : j.readsize+size]
	if _, err := io.ReadFull(j.src, chunk); err != nil {
		return fmt.Errorf("unable to read file: %w", err)
	}
	j.raw = j.raw[:j.readsize+size]
	if j.enc != nil {
		j.report("Compressing file", (j.readsize+size)*100/int(j.info.Size))
		if _, err := j.enc.Write(chunk); err != nil {
			return fmt.Errorf("unable to compress data: %w", err)
		}
	}
	j.readsize += size
	if j.readsize == int(j.info.Size) {
		j.state = CompressionDone
	}
	return nil
}

func (j *Job) finishCompression() error {
	data := j.raw
	if j.enc != nil {
		if err := j.enc.Close(); err != nil {
			return fmt.Errorf("unable to compress data: %w", err)
		}
		if j.packed.Len() < len(j.raw) {
			data = j.packed.Bytes()
		} else {
			// Already packed data grows, store it as is.
			slog.DebugContext(j.ctx, "compression disabled", "packed", j.packed.Len(), "size", len(j.raw))
			j.compress = false
		}
		j.enc = nil
	}
	j.datasize = len(data)
	aligned := (j.datasize + 15) &^ 15
	j.buf = make([]byte, aligned)
	copy(j.buf, data)
	j.raw = nil
	j.packed = bytes.Buffer{}
	j.state = Encrypting
	return nil
}

// encrypt only computes the stream CRC: encryption is not supported, so
// the CRC is taken over the plain aligned buffer.
func (j *Job) encrypt() {
	j.super.FileCRC = crc.Checksum(j.buf)
	j.state = LayoutInitialized
}

func (j *Job) initLayout() error {
	g, err := NewGeometry(j.opts)
	if err != nil {
		return err
	}
	j.geom = g
	j.super.DataSize = uint32(len(j.buf))
	j.super.PageSize = uint32(g.PageSize)
	j.super.OrigSize = uint32(j.info.Size)
	j.super.Mode = 0
	if j.compress {
		j.super.Mode |= paper.ModeCompressed
	}
	j.super.Attributes = j.info.Attributes & (paper.AttrReadOnly | paper.AttrHidden |
		paper.AttrSystem | paper.AttrArchive | paper.AttrNormal)
	j.super.Modified = j.info.Modified
	j.super.SetName(j.info.Name)
	j.npages = g.Pages(len(j.buf))
	if j.to < 0 || j.to >= j.npages {
		j.to = j.npages - 1
	}
	slog.InfoContext(j.ctx, "layout",
		"file", j.super.FileName(),
		"size", j.info.Size,
		"datasize", j.datasize,
		"compressed", j.compress,
		"pages", j.npages,
		"cells", fmt.Sprintf("%dx%d", g.NX, g.NY),
		"scanner_dpi", g.ScannerDPI())
	j.state = RenderingPages
	return nil
}

func (j *Job) renderNextPage() error {
	offset := j.from * j.geom.PageSize
	if offset >= len(j.buf) || j.from > j.to {
		j.report("", 100)
		j.state = Done
		return nil
	}
	j.report(fmt.Sprintf("Processing page %d of %d...", j.from+1, j.npages), j.from*100/j.npages)
	r := j.geom.Render(j.super, j.buf, j.from)
	page := Page{
		Number:   j.from + 1,
		Of:       j.npages,
		Image:    r.Image,
		Layout:   r.Layout,
		Cells:    r.Cells,
		PPIX:     j.geom.PPIX,
		PPIY:     j.geom.PPIY,
		FileName: j.super.FileName(),
	}
	if err := j.sink.WritePage(j.ctx, page); err != nil {
		return fmt.Errorf("unable to save page %d: %w", page.Number, err)
	}
	slog.DebugContext(j.ctx, "page rendered", "page", page.Number, "rows", r.Layout.Rows, "blocks", r.Layout.Blocks)
	j.written++
	j.from++
	return nil
}
