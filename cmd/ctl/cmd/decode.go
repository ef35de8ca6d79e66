package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"

	"github.com/fatih/color"
	"github.com/jpfielding/paperbak.go/pkg/bitmap"
	"github.com/jpfielding/paperbak.go/pkg/config"
	"github.com/jpfielding/paperbak.go/pkg/decoder"
	"github.com/jpfielding/paperbak.go/pkg/logging"
	"github.com/jpfielding/paperbak.go/pkg/restore"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// NewDecodeCmd restores files from scanned pages.
func NewDecodeCmd(ctx context.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "decode <scan.bmp>...",
		Short: "restore files from scanned pages",
		Long: "Decodes scanned pages in parallel and reassembles the files they carry. " +
			"Partial progress is kept in a checkpoint so missing pages can be scanned later.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := loadOptions(ctx, cmd)
			if err != nil {
				return err
			}
			f := cmd.Flags()
			out, _ := f.GetString("out")
			ckpt, _ := f.GetString("checkpoint")
			force, _ := f.GetBool("force")
			jobs, _ := f.GetInt("jobs")
			return runDecode(ctx, args, decodeParams{
				out: out, checkpoint: ckpt, force: force, jobs: jobs, opts: opts,
			})
		},
	}
	pf := cmd.Flags()
	pf.StringP("out", "o", ".", "directory for restored files")
	pf.String("checkpoint", "~/.paperbak.ckpt", "reassembly state kept between runs, empty to disable")
	pf.Bool("force", false, "save incomplete or damaged files anyway")
	pf.IntP("jobs", "j", runtime.NumCPU(), "pages decoded in parallel")
	pf.Bool("best", false, "try every decoding variant on every cell")
	pf.Bool("autosave", true, "save files as soon as they are complete")
	return cmd
}

type decodeParams struct {
	out        string
	checkpoint string
	force      bool
	jobs       int
	opts       config.Options
}

type scan struct {
	path string
	res  *decoder.PageResult
	err  error
}

func runDecode(ctx context.Context, paths []string, p decodeParams) error {
	scans := make([]scan, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, p.jobs))
	for i, path := range paths {
		g.Go(func() error {
			lctx := logging.AppendCtx(gctx, slog.String("scan", path))
			img, err := bitmap.ReadFile(path)
			if err != nil {
				scans[i] = scan{path: path, err: err}
				return nil
			}
			res, err := decoder.Decode(lctx, img, decoder.OptionsFrom(p.opts))
			scans[i] = scan{path: path, res: res, err: err}
			// A bad page is reported, cancellation stops everything.
			if errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	r := restore.NewReassembler()
	ckpt := p.checkpoint
	if ckpt != "" {
		var err error
		if ckpt, err = config.ExpandHome(ckpt); err != nil {
			return err
		}
		if err := r.LoadCheckpointFile(ckpt); err != nil {
			slog.WarnContext(ctx, "ignoring checkpoint", "path", ckpt, "err", err)
			r = restore.NewReassembler()
		}
	}

	sink := restore.DirSink{Dir: p.out}
	var failed int
	for _, s := range scans {
		if s.err != nil {
			failed++
			color.Red("%s: %v", s.path, s.err)
			continue
		}
		f, rep, err := r.Feed(ctx, &s.res.Superblock, s.res.Blocks, s.res.Good, s.res.Bad, s.res.Restored)
		if err != nil {
			failed++
			color.Red("%s: %v", s.path, err)
			continue
		}
		report(s.path, rep)
		if rep.Complete && p.opts.Autosave && !f.Saved {
			if err := f.Save(ctx, false, sink); err != nil {
				color.Red("%s: %v", f.Name, err)
				continue
			}
			r.Close(f)
		}
	}

	for _, f := range r.Files() {
		switch {
		case f.Saved:
			r.Close(f)
		case p.force || (f.Complete() && !p.opts.Autosave):
			if err := f.Save(ctx, p.force, sink); err != nil {
				color.Red("%s: %v", f.Name, err)
				continue
			}
			r.Close(f)
		default:
			color.Yellow("%s: %d of %d blocks, scan again to complete", f.Name, f.NData, f.NBlock)
		}
	}

	if ckpt != "" {
		if err := r.SaveCheckpointFile(ckpt); err != nil {
			slog.WarnContext(ctx, "unable to write checkpoint", "path", ckpt, "err", err)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d scans failed", failed, len(scans))
	}
	return nil
}

func report(path string, rep restore.PageReport) {
	fmt.Printf("%s: %s page %d, %d good, %d bad, %d bytes corrected, %d blocks recovered\n",
		path, rep.File, rep.Page, rep.Good, rep.Bad, rep.Restored, rep.Recovered)
	switch {
	case rep.Complete:
		color.Green("  %s complete", rep.File)
	case rep.PageComplete:
		color.Cyan("  page %d complete, %d of %d blocks", rep.Page, rep.NData, rep.NBlock)
	default:
		color.Yellow("  page %d incomplete, %d of %d blocks", rep.Page, rep.NData, rep.NBlock)
	}
	if !rep.Complete && len(rep.Rescan) > 0 {
		color.Yellow("  pages to rescan: %v", rep.Rescan)
	}
}
