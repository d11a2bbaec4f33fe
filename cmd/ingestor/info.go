package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jhamman/ingestor/internal/manifest"
	"github.com/jhamman/ingestor/internal/progress"
	"github.com/jhamman/ingestor/pkg/dataset"
)

// runInfo opens downloaded files as one dataset and prints a summary.
func runInfo(args []string) int {
	fs := flag.NewFlagSet("info", flag.ContinueOnError)
	fs.SetOutput(stderr)

	manifestPath := fs.String("manifest", "", "Manifest written by fetch")
	timeDim := fs.String("time-dim", dataset.DefaultTimeDimension, "Dimension to join files along")

	fs.Usage = func() {
		fmt.Fprintln(stderr, `Usage: ingestor info [options] [file.nc ...]

Open NetCDF files (from a manifest or the arguments) as one time-indexed
dataset and print its variables and time range.

Options:`)
		fs.PrintDefaults()
	}

	if code, ok := parseFlags(fs, args); !ok {
		return code
	}

	files := fs.Args()
	if *manifestPath != "" {
		m, err := manifest.Read(*manifestPath)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return ExitStorageError
		}
		files = append(m.Files, files...)
	}
	if len(files) == 0 {
		fmt.Fprintln(stderr, "Error: -manifest or at least one file is required")
		fs.Usage()
		return ExitInvalidArgs
	}

	ds, err := dataset.OpenMany(files, dataset.WithTimeDimension(*timeDim))
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return ExitAssemblyError
	}
	defer ds.Close()

	if err := printSummary(stdout, ds); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return ExitAssemblyError
	}
	return ExitSuccess
}

// printSummary writes the files, time range and variables of ds.
func printSummary(w io.Writer, ds *dataset.Dataset) error {
	times, err := ds.Times()
	if err != nil {
		return err
	}

	var total int64
	fmt.Fprintln(w, "<ingestor.Dataset>")
	fmt.Fprintf(w, "Files: %d\n", len(ds.Files()))
	for _, f := range ds.Files() {
		size := "?"
		if info, err := os.Stat(f); err == nil {
			size = progress.FormatBytes(info.Size())
			total += info.Size()
		}
		fmt.Fprintf(w, "    %s (%s)\n", f, size)
	}
	fmt.Fprintf(w, "Total size: %s\n", progress.FormatBytes(total))

	fmt.Fprintf(w, "Dimensions: %s: %d\n", ds.TimeDimension(), ds.Len())
	if len(times) > 0 {
		fmt.Fprintf(w, "Time: %s to %s\n",
			times[0].Format("2006-01-02T15:04:05"),
			times[len(times)-1].Format("2006-01-02T15:04:05"))
	}

	fmt.Fprintln(w, "Data variables:")
	for _, name := range ds.Variables() {
		v, err := ds.Var(name)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "    %s (%s) %s\n", name, strings.Join(v.Dimensions(), ", "), v.Type())
	}
	return nil
}
