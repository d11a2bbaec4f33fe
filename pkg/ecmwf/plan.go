package ecmwf

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/lestrrat-go/strftime"
)

// Defaults used by New.
const (
	DefaultFileTemplate = "ecmwf_data_%Y-%m.nc"
	DefaultFormat       = "netcdf"
	DefaultDataDir      = "./"
)

var (
	// ErrNoVariables is returned by New when no variable names are given.
	ErrNoVariables = errors.New("ecmwf: at least one variable is required")

	// ErrInvalidTemplate is returned by New when the filename template cannot
	// be parsed or does not produce a distinct name for each month.
	ErrInvalidTemplate = errors.New("ecmwf: invalid filename template")
)

// Plan tracks the selection criteria of a series of archive requests and the
// filenames they will be downloaded to.
//
// A Plan is not modified after it is returned by New or Select, so it may be
// shared between goroutines.
type Plan struct {
	variables []string
	shared    Request
	template  *strftime.Strftime
	dataDir   string
	pattern   string

	filenames []string
	dates     []string
	intervals []Interval

	start string
	stop  string
}

type planOptions struct {
	dataDir      string
	fileTemplate string
	format       string
	extra        map[string]string
}

// Option configures a Plan created by New.
type Option func(*planOptions)

// WithDataDir sets the directory files are downloaded to.
func WithDataDir(dir string) Option {
	return func(o *planOptions) {
		o.dataDir = dir
	}
}

// WithFileTemplate sets the strftime pattern used to name each month's file,
// e.g. "era5_%Y-%m.nc". It is joined to the data directory.
func WithFileTemplate(tmpl string) Option {
	return func(o *planOptions) {
		o.fileTemplate = tmpl
	}
}

// WithFormat sets the output format requested from the archive.
func WithFormat(format string) Option {
	return func(o *planOptions) {
		o.format = format
	}
}

// WithOptions adds pass-through request options such as "dataset", "grid" or
// "stream". They may override "param" and "format".
func WithOptions(extra map[string]string) Option {
	return func(o *planOptions) {
		if o.extra == nil {
			o.extra = make(map[string]string, len(extra))
		}
		for k, v := range extra {
			o.extra[k] = v
		}
	}
}

// New creates a Plan for the given variables.
func New(variables []string, opts ...Option) (*Plan, error) {
	if len(variables) == 0 {
		return nil, ErrNoVariables
	}
	for _, v := range variables {
		if strings.TrimSpace(v) == "" {
			return nil, fmt.Errorf("%w: empty variable name", ErrNoVariables)
		}
	}

	o := planOptions{
		dataDir:      DefaultDataDir,
		fileTemplate: DefaultFileTemplate,
		format:       DefaultFormat,
	}
	for _, opt := range opts {
		opt(&o)
	}

	// Only the template is compiled; the directory may contain '%'.
	tmpl, err := compileTemplate(o.fileTemplate)
	if err != nil {
		return nil, err
	}

	shared := Request{
		KeyParam:  strings.Join(variables, "/"),
		KeyFormat: o.format,
	}
	for k, v := range o.extra {
		shared[k] = v
	}

	return &Plan{
		variables: slices.Clone(variables),
		shared:    shared,
		template:  tmpl,
		dataDir:   o.dataDir,
		pattern:   filepath.Join(o.dataDir, o.fileTemplate),
	}, nil
}

// compileTemplate parses pattern and checks that two consecutive months map
// to different filenames.
func compileTemplate(pattern string) (*strftime.Strftime, error) {
	tmpl, err := strftime.New(pattern)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidTemplate, pattern, err)
	}
	jan := time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)
	if tmpl.FormatString(jan) == tmpl.FormatString(jan.AddDate(0, 1, 0)) {
		return nil, fmt.Errorf("%w: %q has no year-month placeholder", ErrInvalidTemplate, pattern)
	}
	return tmpl, nil
}

// DataVars returns the variables requested, in order. The slice is a copy.
func (p *Plan) DataVars() []string {
	return slices.Clone(p.variables)
}

// filename returns the target of the month starting at t.
func (p *Plan) filename(t time.Time) string {
	return filepath.Join(p.dataDir, p.template.FormatString(t))
}

// FileTemplate returns the full filename pattern, including the data directory.
func (p *Plan) FileTemplate() string {
	return p.pattern
}

// Filenames returns the target file of each request, in chronological order.
func (p *Plan) Filenames() []string {
	return slices.Clone(p.filenames)
}

// Dates returns the "start/to/end" date range of each request.
func (p *Plan) Dates() []string {
	return slices.Clone(p.dates)
}

// Intervals returns the monthly sub-intervals of the time selection.
func (p *Plan) Intervals() []Interval {
	return slices.Clone(p.intervals)
}

// Start returns the start of the time selection as given by the caller.
func (p *Plan) Start() string { return p.start }

// Stop returns the stop of the time selection as given by the caller.
func (p *Plan) Stop() string { return p.stop }

// Area returns the "N/W/S/E" area option, if a spatial selection was made.
func (p *Plan) Area() (string, bool) {
	area, ok := p.shared[KeyArea]
	return area, ok
}

// Options returns a copy of the options shared by every request.
func (p *Plan) Options() Request {
	return p.shared.Clone()
}

// String summarises the selection criteria, variables and request options.
func (p *Plan) String() string {
	var b strings.Builder
	b.WriteString("<ingestor.Plan>\n")
	b.WriteString("Selection Criteria:\n")
	fmt.Fprintf(&b, "    Time: %s-%s\n", displayBound(p.start), displayBound(p.stop))
	area, ok := p.Area()
	if !ok {
		area = "None"
	}
	fmt.Fprintf(&b, "    Area: %s\n", area)
	b.WriteString("Data variables:\n")
	for _, v := range p.variables {
		fmt.Fprintf(&b, "    %s\n", v)
	}
	b.WriteString("Request Parameters:")
	for _, k := range p.shared.Keys() {
		fmt.Fprintf(&b, "\n    %s: %s", k, p.shared[k])
	}
	return b.String()
}

func displayBound(s string) string {
	if s == "" {
		return "None"
	}
	return s
}

// clone returns a copy of p that shares no mutable state with it.
func (p *Plan) clone() *Plan {
	c := *p
	c.variables = slices.Clone(p.variables)
	c.shared = p.shared.Clone()
	c.filenames = slices.Clone(p.filenames)
	c.dates = slices.Clone(p.dates)
	c.intervals = slices.Clone(p.intervals)
	return &c
}
