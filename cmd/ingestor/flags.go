package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/jhamman/ingestor/internal/archive"
	"github.com/jhamman/ingestor/internal/config"
	"github.com/jhamman/ingestor/pkg/dataset"
	"github.com/jhamman/ingestor/pkg/ecmwf"
)

// optionFlag collects repeated -option key=value pairs.
type optionFlag map[string]string

func (o optionFlag) String() string {
	keys := make([]string, 0, len(o))
	for k := range o {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, len(keys))
	for i, k := range keys {
		pairs[i] = k + "=" + o[k]
	}
	return strings.Join(pairs, ",")
}

func (o optionFlag) Set(v string) error {
	key, value, ok := strings.Cut(v, "=")
	if !ok || strings.TrimSpace(key) == "" {
		return fmt.Errorf("expected key=value, got %q", v)
	}
	o[strings.TrimSpace(key)] = value
	return nil
}

// planFlags are the selection flags shared by plan and fetch.
type planFlags struct {
	config      *string
	variables   *string
	dataDir     *string
	template    *string
	format      *string
	start       *string
	stop        *string
	lat         *string
	lon         *string
	concurrency *int
	stagger     *time.Duration
	options     optionFlag
}

func addPlanFlags(fs *flag.FlagSet) *planFlags {
	pf := &planFlags{
		config:      fs.String("config", "", "Config file (YAML, or TOML with a .toml extension)"),
		variables:   fs.String("vars", "", "Comma separated variables to request, e.g. 2t,msl"),
		dataDir:     fs.String("data-dir", "", "Directory files are downloaded to (default ./)"),
		template:    fs.String("file-template", "", "strftime filename template (default ecmwf_data_%Y-%m.nc)"),
		format:      fs.String("format", "", "Output format requested from the archive (default netcdf)"),
		start:       fs.String("start", "", "Start of the time selection, e.g. 1990-01"),
		stop:        fs.String("stop", "", "End of the time selection, inclusive, e.g. 1990-09-15"),
		lat:         fs.String("lat", "", "Latitude bounds as start,stop"),
		lon:         fs.String("lon", "", "Longitude bounds as start,stop"),
		concurrency: fs.Int("concurrency", 0, "Maximum parallel requests (default 20)"),
		stagger:     fs.Duration("stagger", 0, "Delay multiplied by each request's position (default 1s)"),
		options:     optionFlag{},
	}
	fs.Var(pf.options, "option", "Extra request option as key=value (repeatable), e.g. dataset=interim")
	return pf
}

// load builds the configuration: defaults, then the config file, then the
// environment, then flags.
func (pf *planFlags) load() (config.Config, error) {
	cfg := config.Default()
	if *pf.config != "" {
		var err error
		if cfg, err = config.LoadFromFile(*pf.config); err != nil {
			return config.Config{}, err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return config.Config{}, err
	}

	override := config.Config{
		Variables:    config.ParseList(*pf.variables),
		DataDir:      *pf.dataDir,
		FileTemplate: *pf.template,
		Format:       *pf.format,
		Time:         config.TimeConfig{Start: *pf.start, Stop: *pf.stop},
		Concurrency:  *pf.concurrency,
		Stagger:      *pf.stagger,
		Options:      pf.options,
	}
	if *pf.lat != "" {
		b, err := config.ParseBounds(*pf.lat)
		if err != nil {
			return config.Config{}, fmt.Errorf("-lat: %w", err)
		}
		override.Lat = b
	}
	if *pf.lon != "" {
		b, err := config.ParseBounds(*pf.lon)
		if err != nil {
			return config.Config{}, fmt.Errorf("-lon: %w", err)
		}
		override.Lon = b
	}

	cfg = cfg.Merge(override)
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// exitCode maps an error to the exit code of the stage it came from.
func exitCode(err error) int {
	var (
		reqErr  *archive.RequestError
		pathErr *os.PathError
		linkErr *os.LinkError
	)
	switch {
	case err == nil:
		return ExitSuccess
	case errors.Is(err, ecmwf.ErrNoRequests),
		errors.Is(err, ecmwf.ErrInvalidSelection),
		errors.Is(err, ecmwf.ErrInvalidTemplate),
		errors.Is(err, ecmwf.ErrNoVariables),
		errors.Is(err, archive.ErrNoCredentials):
		return ExitInvalidArgs
	case errors.As(err, &reqErr),
		errors.Is(err, archive.ErrNotFound),
		errors.Is(err, archive.ErrUnauthorized),
		errors.Is(err, archive.ErrForbidden),
		errors.Is(err, archive.ErrRateLimited),
		errors.Is(err, archive.ErrServerError):
		return ExitArchiveError
	case errors.Is(err, dataset.ErrNoFiles),
		errors.Is(err, dataset.ErrOpen),
		errors.Is(err, dataset.ErrSchemaMismatch),
		errors.Is(err, dataset.ErrNoTimeCoordinate):
		return ExitAssemblyError
	case errors.As(err, &pathErr), errors.As(err, &linkErr):
		return ExitStorageError
	default:
		return ExitGeneralError
	}
}

// parseFlags parses args. When ok is false the command should return code.
func parseFlags(fs *flag.FlagSet, args []string) (code int, ok bool) {
	err := fs.Parse(args)
	switch {
	case err == nil:
		return ExitSuccess, true
	case errors.Is(err, flag.ErrHelp):
		return ExitSuccess, false
	default:
		return ExitInvalidArgs, false
	}
}
