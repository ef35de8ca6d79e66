package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/davecgh/go-spew/spew"
	"github.com/fatih/color"
	"github.com/jpfielding/paperbak.go/pkg/bitmap"
	"github.com/jpfielding/paperbak.go/pkg/decoder"
	"github.com/jpfielding/paperbak.go/pkg/paper"
	"github.com/nfnt/resize"
	"github.com/spf13/cobra"
)

// NewInspectCmd decodes a scan and dumps what it found without writing files.
func NewInspectCmd(ctx context.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect <scan.bmp>",
		Short: "show the grid and superblock of a scanned page",
		Long:  "Decodes one scanned page and prints its grid geometry, superblock and block addresses.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := loadOptions(ctx, cmd)
			if err != nil {
				return err
			}
			preview, _ := cmd.Flags().GetString("preview")
			blocks, _ := cmd.Flags().GetBool("blocks")
			return runInspect(ctx, args[0], preview, blocks, decoder.OptionsFrom(opts))
		},
	}
	pf := cmd.Flags()
	pf.Bool("best", false, "try every decoding variant on every cell")
	pf.Bool("blocks", false, "list every decoded block")
	pf.String("preview", "", "write a 600 pixel wide thumbnail of the scan")
	return cmd
}

func runInspect(ctx context.Context, path, preview string, blocks bool, opts decoder.Options) error {
	img, err := bitmap.ReadFile(path)
	if err != nil {
		return err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	b := img.Bounds()
	fmt.Printf("%s: %dx%d pixels at %d ppi\n", path, b.Dx(), b.Dy(), bitmap.Resolution(raw))
	if preview != "" {
		thumb := bitmap.ToGray(resize.Resize(600, 0, img, resize.Bilinear))
		if err := bitmap.WriteFile(preview, thumb, 0); err != nil {
			return err
		}
	}

	res, err := decoder.Decode(ctx, img, opts)
	cfg := spew.ConfigState{Indent: "  ", DisablePointerAddresses: true, DisableMethods: true}
	fmt.Println("grid:")
	cfg.Dump(res.Grid)
	if err != nil {
		color.Red("%v", err)
	}
	if res.HasSuper {
		sb := res.Superblock
		fmt.Println("superblock:")
		cfg.Dump(sb)
		color.Green("%s page %d, %d bytes (%d on paper), modified %s", sb.FileName(), sb.Page,
			sb.OrigSize, sb.DataSize, sb.Modified.Format("2006-01-02 15:04:05"))
	}
	fmt.Printf("cells: %d good, %d bad, %d bytes corrected, %d superblock copies\n",
		res.Good, res.Bad, res.Restored, res.Supers)
	if blocks {
		for _, blk := range res.Blocks {
			switch blk.Kind() {
			case paper.KindRecovery:
				fmt.Printf("  %08x %-8s offset %d group %d\n", blk.Addr, blk.Kind(), blk.Offset(), blk.GroupSize())
			default:
				fmt.Printf("  %08x %-8s offset %d\n", blk.Addr, blk.Kind(), blk.Offset())
			}
		}
	}
	return err
}
