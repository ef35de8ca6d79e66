package restore

import (
	"bufio"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/jpfielding/paperbak.go/pkg/paper"
	"github.com/klauspost/compress/zstd"
)

const checkpointMagic = "PBKCKPT1"

var ErrCheckpoint = errors.New("not a reassembly checkpoint")

// SaveCheckpoint writes the open slots so reassembly can resume later.
func (r *Reassembler) SaveCheckpoint(w io.Writer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := io.WriteString(w, checkpointMagic); err != nil {
		return err
	}
	enc, err := zstd.NewWriter(w)
	if err != nil {
		return err
	}
	if err := gob.NewEncoder(enc).Encode(r.files); err != nil {
		enc.Close()
		return fmt.Errorf("unable to encode checkpoint: %w", err)
	}
	return enc.Close()
}

// LoadCheckpoint replaces the slots with the ones stored in a checkpoint.
func (r *Reassembler) LoadCheckpoint(rd io.Reader) error {
	magic := make([]byte, len(checkpointMagic))
	if _, err := io.ReadFull(rd, magic); err != nil || string(magic) != checkpointMagic {
		return ErrCheckpoint
	}
	dec, err := zstd.NewReader(rd)
	if err != nil {
		return err
	}
	defer dec.Close()
	var files []*File
	if err := gob.NewDecoder(dec).Decode(&files); err != nil {
		return fmt.Errorf("%w: %w", ErrCheckpoint, err)
	}
	for _, f := range files {
		if len(f.Status) != f.NBlock || len(f.Data) != f.NBlock*paper.NData {
			return fmt.Errorf("%w: inconsistent slot %s", ErrCheckpoint, f.Name)
		}
	}
	if len(files) > MaxFiles {
		files = files[len(files)-MaxFiles:]
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.files = files
	r.clock = 0
	for _, f := range files {
		r.clock = max(r.clock, f.Used)
	}
	return nil
}

// SaveCheckpointFile writes a checkpoint file, or removes it when no slot
// is open.
func (r *Reassembler) SaveCheckpointFile(path string) error {
	if len(r.Files()) == 0 {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	}
	fh, err := os.Create(path)
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(fh)
	if err := r.SaveCheckpoint(bw); err != nil {
		fh.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		fh.Close()
		return err
	}
	return fh.Close()
}

// LoadCheckpointFile loads a checkpoint file. A missing file leaves the
// reassembler empty.
func (r *Reassembler) LoadCheckpointFile(path string) error {
	fh, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	defer fh.Close()
	return r.LoadCheckpoint(bufio.NewReader(fh))
}
