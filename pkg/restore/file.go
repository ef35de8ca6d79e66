// Package restore reassembles files from the blocks decoded off one or more
// scanned pages.
package restore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jpfielding/paperbak.go/pkg/compress/lzw"
	"github.com/jpfielding/paperbak.go/pkg/crc"
	"github.com/jpfielding/paperbak.go/pkg/paper"
)

var (
	ErrRejected   = errors.New("block rejected")
	ErrIncomplete = errors.New("file is incomplete")
	ErrFileCRC    = errors.New("file checksum mismatch")
	ErrNoSlot     = errors.New("no reassembly slot")
	ErrEncrypted  = errors.New("encrypted backups are not supported")
	ErrUnpack     = errors.New("unable to unpack data")
)

// MaxRescan bounds the list of pages reported for rescanning.
const MaxRescan = 8

// Validity of a block slot.
type Validity uint8

const (
	Missing Validity = iota
	Valid
	Hedge // holds a recovery payload until the group is resolved
)

// File is the reassembly state of one backup.
type File struct {
	ID         string
	Name       string
	Mode       uint8
	Attributes uint8
	Modified   time.Time
	DataSize   uint32
	PageSize   uint32 // 0 once copies with different layouts were merged
	OrigSize   uint32
	FileCRC    uint16

	NBlock int
	NData  int
	Data   []byte
	Status []Validity

	Good      int // decoded cells over all pages
	Bad       int
	Restored  int // bytes repaired by ECC
	Recovered int // blocks rebuilt from redundancy

	Saved bool
	Used  uint64 // reassembler clock at last use

	page    int
	ngroup  int
	minAddr uint32
	maxAddr uint32
}

// PageReport summarizes the state after a page has been added.
type PageReport struct {
	File         string
	Page         int
	Good         int
	Bad          int
	Restored     int
	Recovered    int // blocks rebuilt on this page
	NData        int
	NBlock       int
	PageComplete bool
	Complete     bool
	Rescan       []int // first pages, 1-based, that still miss blocks
}

func newFile(id string, sb *paper.Superblock) *File {
	nblock := int((sb.DataSize + paper.NData - 1) / paper.NData)
	return &File{
		ID:         id,
		Name:       sb.FileName(),
		Mode:       sb.Mode,
		Attributes: sb.Attributes,
		Modified:   sb.Modified,
		DataSize:   sb.DataSize,
		PageSize:   sb.PageSize,
		OrigSize:   sb.OrigSize,
		FileCRC:    sb.FileCRC,
		NBlock:     nblock,
		Data:       make([]byte, nblock*paper.NData),
		Status:     make([]Validity, nblock),
	}
}

// Pages is the page count of the backup, 0 when unknown.
func (f *File) Pages() int {
	if f.PageSize == 0 {
		return 0
	}
	return int((f.DataSize + f.PageSize - 1) / f.PageSize)
}

// Complete reports whether every block is valid.
func (f *File) Complete() bool { return f.NData == f.NBlock }

func (f *File) startPage(page int) {
	f.page = page
	f.ngroup = 0
	f.minAddr = ^uint32(0)
	f.maxAddr = 0
}

// AddBlock stores a data block, or installs a recovery block into the empty
// slots of its group. Superblocks are ignored.
func (f *File) AddBlock(b *paper.Block) error {
	kind := b.Kind()
	if kind == paper.KindSuper {
		return nil
	}
	if err := b.CheckBounds(f.DataSize); err != nil {
		return fmt.Errorf("%w: %w", ErrRejected, err)
	}
	off := b.Offset()
	idx := int(off / paper.NData)
	if kind == paper.KindData {
		if f.Status[idx] != Valid {
			copy(f.Data[off:], b.Data[:])
			f.Status[idx] = Valid
			f.NData++
		}
		f.minAddr = min(f.minAddr, off)
		f.maxAddr = max(f.maxAddr, off+paper.NData)
		return nil
	}

	ngroup := b.GroupSize()
	recsize := uint32(ngroup * paper.NData)
	if off%recsize != 0 {
		return fmt.Errorf("%w: recovery offset %d", ErrRejected, off)
	}
	if f.ngroup == 0 {
		f.ngroup = ngroup
	} else if ngroup != f.ngroup {
		return fmt.Errorf("%w: group of %d on a page of %d", ErrRejected, ngroup, f.ngroup)
	}
	for j := idx; j < idx+ngroup && j < f.NBlock; j++ {
		if f.Status[j] != Missing {
			continue
		}
		copy(f.Data[j*paper.NData:], b.Data[:])
		f.Status[j] = Hedge
	}
	f.minAddr = min(f.minAddr, off)
	f.maxAddr = max(f.maxAddr, off+recsize)
	return nil
}

// FinishPage rebuilds every group of the page that lost exactly one block,
// then reports what is still missing.
func (f *File) FinishPage(good, bad, restored int) PageReport {
	f.Good += good
	f.Bad += bad
	f.Restored += restored
	rep := PageReport{File: f.Name, Page: f.page, Good: good, Bad: bad, Restored: restored}

	if f.ngroup > 0 && f.minAddr < f.maxAddr {
		step := f.ngroup
		rmin := int(f.minAddr) / (paper.NData * step) * step
		rmax := int(f.maxAddr) / (paper.NData * step) * step
		for r := rmin; r <= rmax && r < f.NBlock; r += step {
			nrec, irec := 0, 0
			for i := r; i < r+step && i < f.NBlock; i++ {
				if f.Status[i] == Hedge {
					nrec++
					irec = i
					f.Status[i] = Missing
				}
			}
			if nrec != 1 {
				continue
			}
			// Members past the end of the stream are zeros and drop out.
			var siblings [][paper.NData]byte
			for i := r; i < r+step && i < f.NBlock; i++ {
				if i != irec {
					siblings = append(siblings, f.block(i))
				}
			}
			rebuilt := paper.Recover(f.block(irec), siblings...)
			copy(f.Data[irec*paper.NData:], rebuilt[:])
			f.Status[irec] = Valid
			f.NData++
			f.Recovered++
			rep.Recovered++
		}
	}

	rep.NData, rep.NBlock = f.NData, f.NBlock
	rep.Complete = f.Complete()
	if f.PageSize > 0 {
		per := int(f.PageSize / paper.NData)
		rep.PageComplete = f.pageComplete(f.page-1, per)
		for p := 0; p < f.Pages() && len(rep.Rescan) < MaxRescan; p++ {
			if !f.pageComplete(p, per) {
				rep.Rescan = append(rep.Rescan, p+1)
			}
		}
	} else {
		rep.PageComplete = rep.Complete
	}
	return rep
}

func (f *File) pageComplete(page, per int) bool {
	for j := page * per; j < (page+1)*per && j < f.NBlock; j++ {
		if f.Status[j] != Valid {
			return false
		}
	}
	return true
}

func (f *File) block(i int) [paper.NData]byte {
	var b [paper.NData]byte
	copy(b[:], f.Data[i*paper.NData:])
	return b
}

// Output is a restored file ready to be written.
type Output struct {
	Name       string
	Data       []byte
	Modified   time.Time
	Attributes uint8
	Partial    bool
}

// Sink receives restored files.
type Sink interface {
	WriteFile(ctx context.Context, out Output) error
}

// Unpack verifies the stream and returns the original bytes. With force an
// incomplete or damaged stream is still returned when it can be unpacked.
func (f *File) Unpack(force bool) ([]byte, error) {
	if f.Mode&paper.ModeEncrypted != 0 {
		return nil, ErrEncrypted
	}
	if !f.Complete() && !force {
		return nil, fmt.Errorf("%w: %d of %d blocks", ErrIncomplete, f.NData, f.NBlock)
	}
	stream := f.Data[:f.DataSize]
	if sum := crc.Checksum(stream); sum != f.FileCRC && !force {
		return nil, fmt.Errorf("%w: %04x, expected %04x", ErrFileCRC, sum, f.FileCRC)
	}
	if f.Mode&paper.ModeCompressed == 0 {
		return stream[:min(f.OrigSize, f.DataSize)], nil
	}
	out, err := lzw.Decompress(stream, int(f.OrigSize))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnpack, err)
	}
	if len(out) != int(f.OrigSize) && !force {
		return nil, fmt.Errorf("%w: %d bytes, expected %d", ErrUnpack, len(out), f.OrigSize)
	}
	return out, nil
}

// Save unpacks the file and hands it to sink. Without force it requires
// every block.
func (f *File) Save(ctx context.Context, force bool, sink Sink) error {
	data, err := f.Unpack(force)
	if err != nil {
		return err
	}
	out := Output{
		Name:       f.Name,
		Data:       data,
		Modified:   f.Modified,
		Attributes: f.Attributes,
		Partial:    !f.Complete(),
	}
	if err := sink.WriteFile(ctx, out); err != nil {
		return err
	}
	f.Saved = true
	slog.InfoContext(ctx, "file restored", "file", f.Name, "size", len(data), "partial", out.Partial,
		"good", f.Good, "bad", f.Bad, "recovered", f.Recovered)
	return nil
}
