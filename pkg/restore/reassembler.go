package restore

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/jpfielding/paperbak.go/pkg/paper"
	"github.com/jpfielding/paperbak.go/pkg/util"
)

// MaxFiles is the number of backups reassembled at the same time.
const MaxFiles = 5

// identity is what makes two superblocks belong to the same backup. Page
// size is left out so copies printed with different settings still merge.
type identity struct {
	Name     string `json:"name"`
	Mode     uint8  `json:"mode"`
	Modified uint64 `json:"modified"`
	DataSize uint32 `json:"datasize"`
	OrigSize uint32 `json:"origsize"`
}

// FileID derives the slot key of the backup a superblock describes.
func FileID(sb *paper.Superblock) string {
	return util.HashUUID(identity{
		Name:     strings.ToLower(sb.FileName()),
		Mode:     sb.Mode & (paper.ModeCompressed | paper.ModeEncrypted),
		Modified: paper.ToFiletime(sb.Modified),
		DataSize: sb.DataSize,
		OrigSize: sb.OrigSize,
	})
}

// Reassembler routes decoded pages to the file they belong to.
type Reassembler struct {
	mu    sync.Mutex
	files []*File
	clock uint64
}

func NewReassembler() *Reassembler {
	return &Reassembler{}
}

// Files returns the slots in use.
func (r *Reassembler) Files() []*File {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*File(nil), r.files...)
}

// Lookup finds the slot for a file id.
func (r *Reassembler) Lookup(id string) (*File, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, f := range r.files {
		if f.ID == id {
			return f, true
		}
	}
	return nil, false
}

// Close drops a slot, typically after the file was saved.
func (r *Reassembler) Close(f *File) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, g := range r.files {
		if g == f {
			r.files = append(r.files[:i], r.files[i+1:]...)
			return
		}
	}
}

// StartPage returns the file the superblock belongs to, opening a slot when
// needed. The least recently used slot is recycled when all are taken.
func (r *Reassembler) StartPage(ctx context.Context, sb *paper.Superblock) (*File, error) {
	if sb.Encrypted() {
		return nil, ErrEncrypted
	}
	id := FileID(sb)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clock++

	var f *File
	for _, g := range r.files {
		if g.ID == id {
			f = g
			break
		}
	}
	if f == nil {
		if len(r.files) >= MaxFiles {
			lru := 0
			for i, g := range r.files {
				if g.Used < r.files[lru].Used {
					lru = i
				}
			}
			old := r.files[lru]
			if old.Saved {
				slog.DebugContext(ctx, "recycling slot", "file", old.Name)
			} else {
				slog.WarnContext(ctx, "discarding unfinished file", "file", old.Name,
					"blocks", old.NData, "of", old.NBlock)
			}
			r.files = append(r.files[:lru], r.files[lru+1:]...)
		}
		if len(r.files) >= MaxFiles {
			return nil, ErrNoSlot
		}
		f = newFile(id, sb)
		r.files = append(r.files, f)
		slog.DebugContext(ctx, "new file", "file", f.Name, "id", id, "blocks", f.NBlock)
	} else if f.PageSize != sb.PageSize && f.PageSize != 0 {
		slog.InfoContext(ctx, "merging copies with different layouts", "file", f.Name)
		f.PageSize = 0
	}
	f.Used = r.clock
	f.startPage(int(sb.Page))
	return f, nil
}

// Feed adds every block of one decoded page and finishes it.
func (r *Reassembler) Feed(ctx context.Context, sb *paper.Superblock, blocks []paper.Block, good, bad, restored int) (*File, PageReport, error) {
	f, err := r.StartPage(ctx, sb)
	if err != nil {
		return nil, PageReport{}, err
	}
	for i := range blocks {
		if err := f.AddBlock(&blocks[i]); err != nil {
			slog.DebugContext(ctx, "block dropped", "addr", fmt.Sprintf("%08x", blocks[i].Addr), "err", err)
		}
	}
	rep := f.FinishPage(good, bad, restored)
	return f, rep, nil
}
