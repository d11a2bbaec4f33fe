package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/jhamman/ingestor/internal/manifest"
	"github.com/jhamman/ingestor/pkg/ecmwf"
)

// runCleanup removes the files recorded in fetch manifests, then the
// manifests themselves. By default prompts for confirmation unless -force is
// specified.
func runCleanup(args []string) int {
	fs := flag.NewFlagSet("cleanup", flag.ContinueOnError)
	fs.SetOutput(stderr)

	manifestPath := fs.String("manifest", "", "Manifest written by fetch")
	dataDir := fs.String("data-dir", "", "Data directory; cleans every run recorded there")
	force := fs.Bool("force", false, "Skip confirmation prompt")
	keepManifest := fs.Bool("keep-manifest", false, "Leave the manifest in place")

	fs.Usage = func() {
		fmt.Fprintln(stderr, `Usage: ingestor cleanup [options]

Remove the files downloaded by one fetch run (-manifest) or by every run
recorded in a data directory (-data-dir).

Options:`)
		fs.PrintDefaults()
	}

	if code, ok := parseFlags(fs, args); !ok {
		return code
	}

	var paths []string
	switch {
	case *manifestPath != "":
		paths = []string{*manifestPath}
	case *dataDir != "":
		found, err := manifest.Find(*dataDir)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			if errors.Is(err, manifest.ErrNoManifest) {
				return ExitInvalidArgs
			}
			return ExitStorageError
		}
		paths = found
	default:
		fmt.Fprintln(stderr, "Error: -manifest or -data-dir is required")
		fs.Usage()
		return ExitInvalidArgs
	}

	// Runs into the same directory may list the same files; each is removed once.
	runs := make([]cleanupRun, 0, len(paths))
	seen := make(map[string]bool)
	total := 0
	for _, path := range paths {
		r, code, ok := readRun(path)
		if !ok {
			return code
		}
		existing := r.existing[:0]
		for _, f := range r.existing {
			if !seen[f] {
				seen[f] = true
				existing = append(existing, f)
			}
		}
		r.existing = existing
		runs = append(runs, r)
		total += len(r.existing)
	}

	// Confirm deletion unless -force
	if !*force {
		fmt.Fprintf(stdout, "Delete %d files from %d run(s)? [y/N]: ", total, len(runs))
		reader := bufio.NewReader(stdin)
		response, _ := reader.ReadString('\n')
		response = strings.TrimSpace(strings.ToLower(response))
		if response != "y" && response != "yes" {
			fmt.Fprintln(stderr, "Cancelled")
			return ExitSuccess
		}
	}

	for _, r := range runs {
		if err := ecmwf.Cleanup(r.existing); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return ExitStorageError
		}
		if !*keepManifest {
			if err := manifest.Remove(r.path); err != nil {
				fmt.Fprintf(stderr, "Error: %v\n", err)
				return ExitStorageError
			}
		}
		fmt.Fprintf(stderr, "[ingestor] Deleted %d files from run %s\n", len(r.existing), r.m.RunID)
	}
	return ExitSuccess
}

// cleanupRun is one manifest and the files of it still on disk.
type cleanupRun struct {
	path     string
	m        *manifest.Manifest
	existing []string
}

// readRun reads the manifest at path. Files that were never downloaded are
// skipped; everything else must go.
func readRun(path string) (cleanupRun, int, bool) {
	m, err := manifest.Read(path)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		if errors.Is(err, manifest.ErrNoFiles) {
			return cleanupRun{}, ExitInvalidArgs, false
		}
		return cleanupRun{}, ExitStorageError, false
	}

	r := cleanupRun{path: path, m: m}
	for _, f := range m.Files {
		if _, err := os.Stat(f); err == nil {
			r.existing = append(r.existing, f)
		} else if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(stderr, "[ingestor] Skipping missing file: %s\n", f)
		} else {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return cleanupRun{}, ExitStorageError, false
		}
	}
	return r, ExitSuccess, true
}
