// Package config holds the tunable parameters shared by encoding and decoding.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Limits for the tunables.
const (
	MinDPI        = 40
	MaxDPI        = 600
	MinDotPercent = 50
	MaxDotPercent = 100
	MinRedundancy = 2
	MaxRedundancy = 10
)

// Options are the encode and decode parameters. Page dimensions are in
// thousandths of an inch, resolutions in pixels per inch.
type Options struct {
	DPI         int  `json:"dpi"`          // dots per inch on paper
	DotPercent  int  `json:"dot_percent"`  // printed dot size relative to pitch
	Redundancy  int  `json:"redundancy"`   // data blocks per recovery block
	PrintHeader bool `json:"print_header"` // header and footer text
	PrintBorder bool `json:"print_border"` // raster border around the grid
	Compress    bool `json:"compress"`
	Autosave    bool `json:"autosave"`     // save restored files without asking
	BestQuality bool `json:"best_quality"` // try every decoding variant

	PPIX       int `json:"ppi_x"`
	PPIY       int `json:"ppi_y"`
	PageWidth  int `json:"page_width"`
	PageHeight int `json:"page_height"`
}

// Default returns the stock parameters: 200 dpi, 70% dots, redundancy 5,
// A4 paper at 300 ppi.
func Default() Options {
	return Options{
		DPI:         200,
		DotPercent:  70,
		Redundancy:  5,
		PrintHeader: true,
		PrintBorder: false,
		Compress:    true,
		Autosave:    true,
		PPIX:        300,
		PPIY:        300,
		PageWidth:   8270,
		PageHeight:  11690,
	}
}

// ValidationError represents a single validation failure
type ValidationError struct {
	Field      string
	Message    string
	IsCritical bool
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationResult contains all validation errors for a set of options
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// IsValid returns true if there are no critical errors
func (r ValidationResult) IsValid() bool {
	for _, err := range r.Errors {
		if err.IsCritical {
			return false
		}
	}
	return true
}

// HasWarnings returns true if there are any warnings
func (r ValidationResult) HasWarnings() bool {
	return len(r.Warnings) > 0
}

// Err joins the critical errors, nil when valid.
func (r ValidationResult) Err() error {
	var errs []error
	for _, e := range r.Errors {
		if e.IsCritical {
			errs = append(errs, e)
		}
	}
	return errors.Join(errs...)
}

// Validate checks every tunable against its range.
func (o Options) Validate() ValidationResult {
	var r ValidationResult
	bad := func(field string, v, lo, hi int) {
		if v < lo || v > hi {
			r.Errors = append(r.Errors, ValidationError{
				Field:      field,
				Message:    fmt.Sprintf("%d outside %d..%d", v, lo, hi),
				IsCritical: true,
			})
		}
	}
	bad("dpi", o.DPI, MinDPI, MaxDPI)
	bad("dot_percent", o.DotPercent, MinDotPercent, MaxDotPercent)
	bad("redundancy", o.Redundancy, MinRedundancy, MaxRedundancy)
	bad("ppi_x", o.PPIX, MinDPI, 4*1200)
	bad("ppi_y", o.PPIY, MinDPI, 4*1200)
	bad("page_width", o.PageWidth, 1000, 100000)
	bad("page_height", o.PageHeight, 1000, 100000)
	if o.PPIX > 0 && o.DPI > o.PPIX/2 {
		r.Warnings = append(r.Warnings, ValidationError{
			Field:   "dpi",
			Message: fmt.Sprintf("%d dpi needs at least %d ppi, dot pitch will be clamped to 2 pixels", o.DPI, 2*o.DPI),
		})
	}
	if o.PPIX != o.PPIY {
		r.Warnings = append(r.Warnings, ValidationError{
			Field:   "ppi_y",
			Message: "anisotropic resolution, the grid pitch follows ppi_x",
		})
	}
	return r
}

// Load reads a JSON profile over the defaults. A missing file yields the
// defaults.
func Load(path string) (Options, error) {
	opts := Default()
	if path == "" {
		return opts, nil
	}
	path, err := ExpandHome(path)
	if err != nil {
		return opts, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return opts, nil
	}
	if err != nil {
		return opts, fmt.Errorf("failed to read config: %w", err)
	}
	if err := json.Unmarshal(data, &opts); err != nil {
		return opts, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return opts, nil
}

// Save writes the options as indented JSON.
func (o Options) Save(path string) error {
	path, err := ExpandHome(path)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(o, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}
