package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"

	"github.com/jhamman/ingestor/internal/archive"
	"github.com/jhamman/ingestor/internal/config"
	"github.com/jhamman/ingestor/internal/manifest"
	"github.com/jhamman/ingestor/internal/progress"
	"github.com/jhamman/ingestor/pkg/ecmwf"
)

// runFetch retrieves every request of a selection, records the run in a
// manifest and opens the result as one dataset. Files are kept on disk.
func runFetch(args []string) int {
	fs := flag.NewFlagSet("fetch", flag.ContinueOnError)
	fs.SetOutput(stderr)
	pf := addPlanFlags(fs)

	archiveURL := fs.String("archive", "", "ECMWF Web API URL, or a bucket URL (s3://, gs://, file://) to copy from")
	mirrorPrefix := fs.String("mirror-prefix", "", "Object key prefix inside the mirror bucket")
	credentials := fs.String("credentials", "", "Credentials file (default ~/.ecmwfapirc)")
	pollInterval := fs.Duration("poll-interval", 0, "Wait between status checks (default 30s)")
	retryAttempts := fs.Int("retry-attempts", 0, "Max retry attempts per HTTP call (default 5)")
	retryBackoff := fs.Duration("retry-backoff", 0, "Initial retry backoff (default 1s)")
	retryMaxBackoff := fs.Duration("retry-max-backoff", 0, "Max retry backoff (default 30s)")
	showProgress := fs.Bool("progress", false, "Show progress output")

	fs.Usage = func() {
		fmt.Fprintln(stderr, `Usage: ingestor fetch [options]

Retrieve a selection month by month and open it as one dataset.
Downloaded files are kept; remove them with 'ingestor cleanup'.

Options:`)
		fs.PrintDefaults()
	}

	if code, ok := parseFlags(fs, args); !ok {
		return code
	}

	cfg, err := pf.load()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}
	cfg = cfg.Merge(config.Config{
		Archive:      *archiveURL,
		MirrorPrefix: *mirrorPrefix,
		Credentials:  *credentials,
		PollInterval: *pollInterval,
		Progress:     *showProgress,
		Retry: config.RetryConfig{
			Attempts:   *retryAttempts,
			Backoff:    *retryBackoff,
			MaxBackoff: *retryMaxBackoff,
		},
	})

	plan, err := cfg.Plan()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}
	reqs := plan.Requests()
	if len(reqs) == 0 {
		fmt.Fprintln(stderr, "Error: -start and -stop are required to fetch")
		return ExitInvalidArgs
	}

	// Setup context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			fmt.Fprintln(stderr, "\n[ingestor] Received interrupt, shutting down...")
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		fmt.Fprintf(stderr, "Error creating data directory: %v\n", err)
		return ExitStorageError
	}

	client, closeClient, err := openRetriever(ctx, cfg)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		if cfg.UsesMirror() {
			return ExitStorageError
		}
		return exitCode(err)
	}
	defer closeClient()

	// The manifest is written first so cleanup can find partial downloads.
	m := manifest.New(plan)
	manifestPath := m.Path(cfg.DataDir)
	if err := m.Write(manifestPath); err != nil {
		fmt.Fprintf(stderr, "Error writing manifest: %v\n", err)
		return ExitStorageError
	}
	fmt.Fprintf(stderr, "[ingestor] Run %s: %d requests to %s\n", m.RunID, len(reqs), cfg.DataDir)

	opts := cfg.LoadOptions()

	// Setup progress reporter
	var reporter *progress.Reporter
	if cfg.Progress {
		reporter = progress.NewReporter(progress.Options{
			TotalRequests:  len(reqs),
			Concurrency:    opts.Concurrency,
			Variables:      plan.DataVars(),
			Output:         stderr,
			UpdateInterval: 5 * time.Second,
		})
		opts.Observer = reporter
		reporter.Start()
	}

	ds, err := plan.Load(ctx, client, opts)
	if reporter != nil {
		reporter.Stop()
	}
	if err != nil {
		if ctx.Err() != nil {
			fmt.Fprintln(stderr, "[ingestor] Fetch interrupted, downloaded files kept")
			return ExitGeneralError
		}
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitCode(err)
	}
	defer ds.Close()

	if err := printSummary(stdout, ds); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return ExitAssemblyError
	}
	fmt.Fprintf(stderr, "[ingestor] Fetch complete: %d files\n", len(ds.Files()))
	fmt.Fprintf(stderr, "[ingestor] Manifest: %s\n", manifestPath)
	return ExitSuccess
}

// openRetriever returns the mirror or Web API client selected by cfg and a
// function releasing it.
func openRetriever(ctx context.Context, cfg config.Config) (ecmwf.Retriever, func(), error) {
	if cfg.UsesMirror() {
		m, err := archive.OpenMirror(ctx, cfg.Archive, cfg.MirrorPrefix)
		if err != nil {
			return nil, nil, err
		}
		return m, func() { m.Close() }, nil
	}

	creds, err := archive.LoadCredentials(cfg.Credentials)
	if err != nil {
		if errors.Is(err, archive.ErrNoCredentials) {
			err = fmt.Errorf("%w: create ~/.ecmwfapirc or set %s", err, archive.EnvKey)
		}
		return nil, nil, err
	}
	if cfg.Archive != "" {
		creds.URL = cfg.Archive
	}
	return archive.NewClient(creds, cfg.ClientOptions()), func() {}, nil
}
