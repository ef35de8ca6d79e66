package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/jpfielding/paperbak.go/pkg/config"
	"github.com/jpfielding/paperbak.go/pkg/logging"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func NewRoot(ctx context.Context, gitsha string) *cobra.Command {
	cmd := &cobra.Command{
		Use:          "paperbakctl",
		Short:        "a CLI to back up files on paper and restore them from scans",
		Long:         "Encodes files into printable dot-matrix bitmaps and reassembles them from scanned pages.",
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logLevel, _ := cmd.Flags().GetString("log-level")
			logFile, _ := cmd.Flags().GetString("log-file")
			logJSON, _ := cmd.Flags().GetBool("log-json")

			// Parse log level
			var level slog.Level
			lerr := level.UnmarshalText([]byte(strings.ToUpper(logLevel)))
			if lerr != nil {
				level = slog.LevelInfo
			}
			var w io.Writer = os.Stderr
			if logFile != "" {
				w = io.MultiWriter(os.Stderr, logging.RotatingFile(logFile, 10, 3, 28))
			}
			slog.SetDefault(logging.Logger(w, logJSON, level))
			if lerr != nil {
				slog.WarnContext(ctx, "Invalid log level, defaulting to INFO", "level", logLevel, "error", lerr)
			}
			color.NoColor = color.NoColor || !term.IsTerminal(int(os.Stdout.Fd()))
		},
		Run: func(cmd *cobra.Command, args []string) {
			printCommandTree(cmd, 0)
		},
	}
	cmd.AddCommand(
		NewVersionCmd(ctx, gitsha),
		NewEncodeCmd(ctx),
		NewDecodeCmd(ctx),
		NewInspectCmd(ctx),
		NewConfigCmd(ctx),
	)
	pf := cmd.PersistentFlags()
	pf.String("log-level", "INFO", "Log level (DEBUG, INFO, WARN, ERROR)")
	pf.String("log-file", "", "Also log to this rotating file")
	pf.Bool("log-json", false, "Log as JSON")
	pf.StringP("config", "c", "~/.paperbak.json", "settings profile")
	return cmd
}

func printCommandTree(cmd *cobra.Command, indent int) {
	fmt.Println(strings.Repeat("\t", indent), cmd.Use+":", cmd.Short)
	for _, subCmd := range cmd.Commands() {
		printCommandTree(subCmd, indent+1)
	}
}

func NewVersionCmd(ctx context.Context, gitsha string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "git sha for this build",
		Long:  "git sha for this build",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(gitsha)
		},
	}
	return cmd
}

// loadOptions reads the profile named by --config and applies the flags
// the command set explicitly.
func loadOptions(ctx context.Context, cmd *cobra.Command) (config.Options, error) {
	path, _ := cmd.Flags().GetString("config")
	opts, err := config.Load(path)
	if err != nil {
		return opts, err
	}
	f := cmd.Flags()
	setInt := func(name string, dst *int) {
		if f.Lookup(name) != nil && f.Changed(name) {
			*dst, _ = f.GetInt(name)
		}
	}
	setBool := func(name string, dst *bool) {
		if f.Lookup(name) != nil && f.Changed(name) {
			*dst, _ = f.GetBool(name)
		}
	}
	setInt("dpi", &opts.DPI)
	setInt("dot", &opts.DotPercent)
	setInt("redundancy", &opts.Redundancy)
	setInt("ppi", &opts.PPIX)
	setInt("ppi", &opts.PPIY)
	setBool("compress", &opts.Compress)
	setBool("border", &opts.PrintBorder)
	setBool("header", &opts.PrintHeader)
	setBool("best", &opts.BestQuality)
	setBool("autosave", &opts.Autosave)

	res := opts.Validate()
	for _, w := range res.Warnings {
		slog.WarnContext(ctx, "config", "field", w.Field, "msg", w.Message)
	}
	return opts, res.Err()
}

// NewConfigCmd prints the effective settings, optionally saving them.
func NewConfigCmd(ctx context.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "show or save the effective settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := loadOptions(ctx, cmd)
			if err != nil {
				return err
			}
			if save, _ := cmd.Flags().GetBool("save"); save {
				path, _ := cmd.Flags().GetString("config")
				if err := opts.Save(path); err != nil {
					return err
				}
				slog.InfoContext(ctx, "settings saved", "path", path)
			}
			fmt.Printf("%+v\n", opts)
			return nil
		},
	}
	addLayoutFlags(cmd)
	pf := cmd.Flags()
	pf.Bool("best", false, "try every decoding variant")
	pf.Bool("autosave", true, "save complete files without --force")
	pf.Bool("save", false, "write the settings to the --config profile")
	return cmd
}

func addLayoutFlags(cmd *cobra.Command) {
	pf := cmd.Flags()
	pf.Int("dpi", 200, "dot density on paper")
	pf.Int("dot", 70, "dot size in percent of the pitch")
	pf.IntP("redundancy", "r", 5, "data blocks per recovery block (2-10)")
	pf.Int("ppi", 300, "printer resolution")
	pf.Bool("compress", true, "compress before encoding")
	pf.Bool("border", false, "print a raster border")
	pf.Bool("header", true, "reserve header and footer space")
}
