// Command docmerge merges the documents of one ZIP archive into a single .docx and
// .pdf from the command line.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/Lllllllleong/archivemergeflow/internal/config"
	"github.com/Lllllllleong/archivemergeflow/internal/models"
	"github.com/Lllllllleong/archivemergeflow/internal/progress"
	"github.com/Lllllllleong/archivemergeflow/internal/services"
)

func init() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	slog.SetDefault(logger)
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("docmerge", flag.ContinueOnError)
	fs.SetOutput(stderr)
	outDir := fs.String("o", ".", "directory for merged.docx and merged.pdf")
	statusDir := fs.String("status", "", "also write <dir>/<run>/status.json")
	quiet := fs.Bool("q", false, "no progress bar")
	envFile := fs.String("env", ".env", "file of KEY=VALUE settings")
	fs.Usage = func() {
		fmt.Fprintln(stderr, "usage: docmerge [-o outdir] [-status dir] [-q] [-env file] archive.zip")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return 2
	}
	archive := fs.Arg(0)
	if !strings.EqualFold(filepath.Ext(archive), ".zip") {
		fmt.Fprintf(stderr, "docmerge: %s is not a .zip archive\n", archive)
		return 2
	}

	if err := config.LoadEnvFile(*envFile, *envFile != ".env"); err != nil {
		fmt.Fprintf(stderr, "docmerge: %v\n", err)
		return 2
	}

	var stores progress.Tee
	if !*quiet {
		stores = append(stores, progress.NewConsoleStore(stderr))
	}
	if *statusDir != "" {
		stores = append(stores, progress.NewFileStore(*statusDir))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pipeline := services.NewPipeline(services.LoadPipelineConfig(), stores, slog.Default())
	result, err := pipeline.Execute(ctx, models.RunRequest{
		ArchivePath: archive,
		OutputDir:   *outDir,
	})
	if err != nil {
		fmt.Fprintf(stderr, "docmerge: %v\n", err)
		return 1
	}
	printSummary(stdout, result)
	return 0
}

func printSummary(w io.Writer, run *models.Run) {
	fmt.Fprintf(w, "Documents processed: %d of %d\n", run.Succeeded, run.Total)
	if len(run.FailedNames) > 0 {
		fmt.Fprintf(w, "Needs attention:     %s\n", strings.Join(run.FailedNames, ", "))
	}
	fmt.Fprintf(w, "Merged document:     %s\n", run.Outputs.Composite)
	fmt.Fprintf(w, "PDF rendition:       %s (%s)\n", run.Outputs.Rendition, run.RenditionTier)
	fmt.Fprintf(w, "Elapsed:             %.1fs\n", run.Elapsed().Seconds())
}
