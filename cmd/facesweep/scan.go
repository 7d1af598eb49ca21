package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/MrCodeEU/facesweep/pkg/batch"
	"github.com/MrCodeEU/facesweep/pkg/logging"
	"github.com/MrCodeEU/facesweep/pkg/progress"
	"github.com/MrCodeEU/facesweep/pkg/report"
	"github.com/spf13/cobra"
)

type scanOptions struct {
	reference   string
	profile     string
	threshold   float64
	timeout     time.Duration
	caseNumber  string
	caseName    string
	caseDetails string
	textOut     string
	htmlOut     string
	pdfOut      string
	quiet       bool
}

var scanOpts scanOptions

var scanCmd = &cobra.Command{
	Use:   "scan [flags] <gallery paths...>",
	Short: "Scan gallery images or directories for the reference face",
	Example: `  facesweep scan --reference suspect.jpg ./cctv
  facesweep scan --profile suspect --threshold 0.5 --pdf flagged.pdf a.jpg b.jpg`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := scanOpts
		if !cmd.Flags().Changed("threshold") {
			opts.threshold = cfg.Recognition.Threshold
		}
		if !cmd.Flags().Changed("timeout") {
			opts.timeout = cfg.ExtractTimeoutDuration()
		}
		return runScan(cmd.Context(), opts, args, cmd.OutOrStdout())
	},
}

func init() {
	f := scanCmd.Flags()
	f.StringVarP(&scanOpts.reference, "reference", "r", "", "Reference image containing the face to look for")
	f.StringVarP(&scanOpts.profile, "profile", "p", "", "Enrolled profile to use as reference")
	f.Float64VarP(&scanOpts.threshold, "threshold", "t", 0.6, "Maximum descriptor distance counted as a match")
	f.DurationVar(&scanOpts.timeout, "timeout", 30*time.Second, "Face extraction timeout per image")
	f.StringVar(&scanOpts.caseNumber, "case-number", "", "Case number for the report")
	f.StringVar(&scanOpts.caseName, "case-name", "", "Case name for the report")
	f.StringVar(&scanOpts.caseDetails, "case-details", "", "Other case details for the report")
	f.StringVar(&scanOpts.textOut, "text", "", "Write the text report to this file instead of stdout")
	f.StringVar(&scanOpts.htmlOut, "html", "", "Write the HTML report to this file")
	f.StringVar(&scanOpts.pdfOut, "pdf", "", "Write the flagged images to this PDF")
	f.BoolVarP(&scanOpts.quiet, "quiet", "q", false, "Do not draw a progress bar")
	rootCmd.AddCommand(scanCmd)
}

func runScan(ctx context.Context, opts scanOptions, paths []string, out io.Writer) error {
	if (opts.reference == "") == (opts.profile == "") {
		return errors.New("exactly one of --reference or --profile is required")
	}

	gallery, err := batch.CollectFiles(paths)
	if err != nil {
		return fmt.Errorf("failed to collect gallery: %w", err)
	}
	if len(gallery) == 0 {
		return fmt.Errorf("%w: no gallery images found", batch.ErrMissingInputs)
	}

	ex, err := openExtractor()
	if err != nil {
		return err
	}
	defer ex.Close()

	var reporter progress.Reporter = progress.Log{}
	if !opts.quiet {
		reporter = progress.Multi{progress.NewBar(os.Stderr), progress.Log{}}
	}

	runner := batch.NewRunner(ex, batch.Options{
		Label:          cfg.Recognition.Label,
		Threshold:      opts.threshold,
		ExtractTimeout: opts.timeout,
		Reporter:       reporter,
	})

	if opts.profile != "" {
		store, err := openStorage()
		if err != nil {
			return err
		}
		p, err := store.LoadProfile(opts.profile)
		if err != nil {
			return fmt.Errorf("failed to load profile %s: %w", opts.profile, err)
		}
		runner.LoadReference("profile "+p.Label, p.Descriptors...)
	} else {
		data, err := os.ReadFile(opts.reference)
		if err != nil {
			return fmt.Errorf("failed to read reference image: %w", err)
		}
		if err := runner.RegisterReference(ctx, filepath.Base(opts.reference), data); err != nil {
			return err
		}
	}

	if err := runner.SetGallery(gallery); err != nil {
		return err
	}

	run, runErr := runner.Start(ctx)
	if run == nil {
		return runErr
	}

	rep := report.FromRun(run, report.Case{
		Number:  opts.caseNumber,
		Name:    opts.caseName,
		Details: opts.caseDetails,
	})
	if err := writeReports(rep, run, opts, out); err != nil {
		return err
	}

	if runErr != nil {
		return fmt.Errorf("scan interrupted after %d of %d images: %w", len(run.Results), run.GalleryCount, runErr)
	}
	return nil
}

func writeReports(rep report.Report, run *batch.Run, opts scanOptions, out io.Writer) error {
	if opts.textOut == "" {
		if err := report.WriteText(out, rep); err != nil {
			return err
		}
	} else if err := writeFile(outputPath(opts.textOut), func(w io.Writer) error { return report.WriteText(w, rep) }); err != nil {
		return err
	}

	if opts.htmlOut != "" {
		if err := writeFile(outputPath(opts.htmlOut), func(w io.Writer) error { return report.WriteHTML(w, rep) }); err != nil {
			return err
		}
	}

	if opts.pdfOut != "" {
		flagged, err := report.CollectFlagged(run.Results, run.Gallery)
		if err != nil {
			return err
		}
		if len(flagged) == 0 {
			logging.Component("report").Warn("No flagged images, skipping PDF export")
			return nil
		}
		pdfOpts := report.PDFOptions{TileSize: cfg.Report.TileSizeMM, Title: "Flagged Images"}
		if err := writeFile(outputPath(opts.pdfOut), func(w io.Writer) error { return report.WritePDF(w, flagged, pdfOpts) }); err != nil {
			return err
		}
	}
	return nil
}

// outputPath places relative report paths in the configured output directory.
func outputPath(name string) string {
	if filepath.IsAbs(name) || cfg.Report.OutputDir == "" {
		return name
	}
	return filepath.Join(cfg.Report.OutputDir, name)
}

func writeFile(path string, write func(io.Writer) error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := write(f); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	logging.Infof("Wrote %s", path)
	return nil
}
