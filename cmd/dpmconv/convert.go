package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/dpmconv/internal/core"
	"github.com/JonMunkholm/dpmconv/internal/logging"
	"github.com/JonMunkholm/dpmconv/internal/store"
)

type convertFlags struct {
	out        string
	workers    int
	batchSize  int
	frameworks string
	fromDB     bool
	quiet      bool
}

func newConvertCmd(g *globalFlags) *cobra.Command {
	var f convertFlags
	cmd := &cobra.Command{
		Use:   "convert [source-dir]",
		Short: "Convert an export directory into one JSON document",
		Long: `Convert reads the CSV files of a DPM export, resolves every identifier
and writes the document to --out (stdout by default). With --db the rows
are also persisted to a SQLite database.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConvert(cmd, g, &f, args)
		},
	}
	cmd.Flags().StringVarP(&f.out, "out", "o", "", "Output file (default: DPM_OUTPUT or stdout)")
	cmd.Flags().IntVarP(&f.workers, "workers", "w", 0, "Transform workers per kind (default: DPM_WORKERS)")
	cmd.Flags().IntVar(&f.batchSize, "batch-size", 0, "Rows per batch (default: chosen from the file size)")
	cmd.Flags().StringVar(&f.frameworks, "frameworks", "", "YAML framework pattern table")
	cmd.Flags().BoolVar(&f.fromDB, "from-db", false, "Read reference kinds from the database instead of the CSV files")
	cmd.Flags().BoolVarP(&f.quiet, "quiet", "q", false, "Only log warnings and errors")
	return cmd
}

func runConvert(cmd *cobra.Command, g *globalFlags, f *convertFlags, args []string) error {
	cfg, err := loadConfig(g)
	if err != nil {
		return err
	}
	p := &cfg.Pipeline
	if len(args) == 1 {
		p.SourceDir = args[0]
	}
	if f.out != "" {
		p.Output = f.out
	}
	if f.workers > 0 {
		p.Workers = f.workers
	}
	if f.batchSize > 0 {
		p.BatchSize = f.batchSize
	}
	if f.frameworks != "" {
		p.FrameworksFile = f.frameworks
	}
	if f.fromDB {
		cfg.Database.ReadReferences = true
	}
	if p.SourceDir == "" {
		return fmt.Errorf("invalid configuration: no source directory; pass it as an argument or set DPM_SOURCE_DIR")
	}

	level := cfg.Logging.Level
	if f.quiet {
		level = "warn"
	}
	// Logs go to stderr; stdout may carry the document.
	log := logging.New(cmd.ErrOrStderr(), level, cfg.Logging.Format)

	patterns, err := p.Patterns()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runID := uuid.NewString()
	ctx = core.ContextWithTrigger(core.ContextWithRunID(ctx, runID), core.TriggerCLI)
	opts := core.PipelineOptions{
		RunID:     runID,
		SourceDir: p.SourceDir,
		Workers:   p.Workers,
		BatchSize: p.BatchSize,
		Defaults:  p.Defaults(),
		Patterns:  patterns,
		Logger:    logging.Enrich(ctx, log),
	}

	st, err := store.Open(ctx, cfg.Database, log)
	if err != nil {
		return err
	}
	if st != nil {
		defer st.Close()
		opts.Sink = st
		if cfg.Database.ReadReferences {
			opts.References = st
		}
	} else if cfg.Database.ReadReferences {
		return errNoStore
	}

	result, err := core.Run(ctx, opts)
	if err != nil {
		return err
	}

	written, err := writeDocument(ctx, cmd.OutOrStdout(), p.Output, result.Document, p.DocumentOptions())
	if err != nil {
		return err
	}

	sum := result.Metadata.Summary()
	log.Info("convert completed",
		"run_id", runID,
		"rows", sum.Rows,
		"bytes", written,
		"missing_identifiers", sum.MissingIdentifiers,
		"missing_references", sum.MissingReferences,
		"missing_links", sum.MissingLinks,
		"skipped_files", sum.SkippedFiles,
		"dropped_rows", sum.DroppedRows,
	)
	return nil
}

// writeDocument writes doc to path, or to stdout when path is empty. A file
// is written next to its destination and renamed into place so a failed run
// never leaves a truncated document.
func writeDocument(ctx context.Context, stdout io.Writer, path string, doc *core.Document, opts core.DocumentOptions) (int64, error) {
	if path == "" || path == "-" {
		bw := bufio.NewWriter(stdout)
		dw := core.NewDocumentWriter(bw, opts)
		if err := dw.Write(ctx, doc); err != nil {
			return dw.Bytes(), err
		}
		return dw.Bytes(), bw.Flush()
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".dpmconv-*.json")
	if err != nil {
		return 0, fmt.Errorf("create output: %w", err)
	}
	defer os.Remove(tmp.Name())

	bw := bufio.NewWriter(tmp)
	dw := core.NewDocumentWriter(bw, opts)
	if err := dw.Write(ctx, doc); err != nil {
		tmp.Close()
		return dw.Bytes(), fmt.Errorf("write output: %w", err)
	}
	if err := bw.Flush(); err != nil {
		tmp.Close()
		return dw.Bytes(), fmt.Errorf("write output: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return dw.Bytes(), fmt.Errorf("write output: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return dw.Bytes(), fmt.Errorf("write output: %w", err)
	}
	return dw.Bytes(), nil
}
