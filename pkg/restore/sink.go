package restore

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/jpfielding/paperbak.go/pkg/paper"
)

// DirSink writes restored files into a directory, restoring the
// modification time and the read-only attribute.
type DirSink struct {
	Dir string
	// Overwrite replaces existing files instead of failing.
	Overwrite bool
}

func (d DirSink) WriteFile(ctx context.Context, out Output) error {
	if err := os.MkdirAll(d.Dir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(d.Dir, out.Name)
	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if !d.Overwrite {
		flags |= os.O_EXCL
	}
	fh, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return fmt.Errorf("unable to create %s: %w", path, err)
	}
	if _, err := fh.Write(out.Data); err != nil {
		fh.Close()
		return fmt.Errorf("unable to write %s: %w", path, err)
	}
	if err := fh.Close(); err != nil {
		return err
	}
	if !out.Modified.IsZero() {
		if err := os.Chtimes(path, out.Modified, out.Modified); err != nil {
			slog.WarnContext(ctx, "unable to set file time", "path", path, "err", err)
		}
	}
	if out.Attributes&paper.AttrReadOnly != 0 {
		if err := os.Chmod(path, 0o444); err != nil {
			slog.WarnContext(ctx, "unable to set read-only", "path", path, "err", err)
		}
	}
	return nil
}

// MemorySink collects restored files.
type MemorySink struct {
	mu    sync.Mutex
	Files []Output
}

func (m *MemorySink) WriteFile(_ context.Context, out Output) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Files = append(m.Files, out)
	return nil
}
