package printer

import (
	"context"
	"fmt"
	"image"
	"path/filepath"
	"strings"
)

// Page is one rendered page of a backup.
type Page struct {
	Number   int // 1-based
	Of       int
	Image    *image.Gray
	Layout   PageLayout
	Cells    []uint32
	PPIX     int
	PPIY     int
	FileName string // name of the file being backed up
}

// PageSink receives rendered pages.
type PageSink interface {
	WritePage(ctx context.Context, p Page) error
}

// SinkFunc adapts a function to PageSink.
type SinkFunc func(ctx context.Context, p Page) error

func (f SinkFunc) WritePage(ctx context.Context, p Page) error { return f(ctx, p) }

// MemorySink keeps every page.
type MemorySink struct {
	Pages []Page
}

func (m *MemorySink) WritePage(_ context.Context, p Page) error {
	m.Pages = append(m.Pages, p)
	return nil
}

// PageFileName derives the bitmap name for a page. Multi-page backups get a
// four digit page suffix: out.bmp becomes out_0001.bmp. A missing extension
// defaults to .bmp.
func PageFileName(base string, page, npages int) string {
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	if ext == "" {
		ext = ".bmp"
	}
	if npages > 1 {
		return fmt.Sprintf("%s_%04d%s", stem, page, ext)
	}
	return stem + ext
}
