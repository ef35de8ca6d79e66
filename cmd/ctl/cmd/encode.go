package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/jpfielding/paperbak.go/pkg/bitmap"
	"github.com/jpfielding/paperbak.go/pkg/config"
	"github.com/jpfielding/paperbak.go/pkg/printer"
	"github.com/spf13/cobra"
)

// NewEncodeCmd renders a file into page bitmaps.
func NewEncodeCmd(ctx context.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "encode <file>",
		Short: "encode a file into printable page bitmaps",
		Long:  "Encodes a file into one BMP per page. Multi-page backups get a _NNNN suffix per page.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := loadOptions(ctx, cmd)
			if err != nil {
				return err
			}
			out, _ := cmd.Flags().GetString("out")
			pages, _ := cmd.Flags().GetString("pages")
			from, to, err := parsePages(pages)
			if err != nil {
				return err
			}
			return runEncode(ctx, args[0], out, from, to, opts)
		},
	}
	addLayoutFlags(cmd)
	pf := cmd.Flags()
	pf.StringP("out", "o", "", "output bitmap, defaults to <file>.bmp")
	pf.String("pages", "", "pages to render, 1-based: 3 or 2-5")
	return cmd
}

// parsePages turns "3" or "2-5" into a 0-based inclusive range.
func parsePages(s string) (from, to int, err error) {
	if s == "" {
		return 0, -1, nil
	}
	lo, hi, found := strings.Cut(s, "-")
	if _, err = fmt.Sscanf(lo, "%d", &from); err != nil || from < 1 {
		return 0, 0, fmt.Errorf("bad page range %q", s)
	}
	to = from
	if found {
		if _, err = fmt.Sscanf(hi, "%d", &to); err != nil || to < from {
			return 0, 0, fmt.Errorf("bad page range %q", s)
		}
	}
	return from - 1, to - 1, nil
}

func runEncode(ctx context.Context, path, out string, from, to int, opts config.Options) error {
	fh, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer fh.Close()
	fi, err := fh.Stat()
	if err != nil {
		return err
	}
	if out == "" {
		out = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)) + ".bmp"
	}

	sink := printer.SinkFunc(func(ctx context.Context, p printer.Page) error {
		name := printer.PageFileName(out, p.Number, p.Of)
		if err := bitmap.WriteFile(name, p.Image, p.PPIX); err != nil {
			return err
		}
		slog.InfoContext(ctx, "page written", "path", name, "page", p.Number, "of", p.Of)
		return nil
	})
	job, err := printer.NewJob(ctx, opts, printer.InfoFromFS(fi), fh, sink,
		printer.WithPageRange(from, to),
		printer.WithProgress(func(msg string, percent int) {
			slog.DebugContext(ctx, msg, "percent", percent)
		}))
	if err != nil {
		return err
	}
	if err := job.Run(); err != nil {
		return err
	}
	sb := job.Superblock()
	g := job.Geometry()
	color.Green("%s: %d bytes on %d page(s), %d written", sb.FileName(), sb.OrigSize, job.Pages(), job.Written())
	if sb.Compressed() {
		fmt.Printf("compressed to %d bytes\n", sb.DataSize)
	}
	color.Yellow("scan at %d dpi or better", g.ScannerDPI())
	return nil
}
