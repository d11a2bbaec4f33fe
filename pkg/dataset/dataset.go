package dataset

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"slices"
	"sort"
	"time"

	"github.com/batchatco/go-native-netcdf/netcdf"
	"github.com/batchatco/go-native-netcdf/netcdf/api"
)

// DefaultTimeDimension is the name of the dimension files are joined along.
const DefaultTimeDimension = "time"

var (
	// ErrNoFiles is returned by OpenMany when called without filenames.
	ErrNoFiles = errors.New("dataset: no files to open")

	// ErrOpen is returned when a file is missing or not readable as NetCDF.
	ErrOpen = errors.New("dataset: cannot open")

	// ErrSchemaMismatch is returned when files disagree on their variables,
	// dimensions or types.
	ErrSchemaMismatch = errors.New("dataset: schema mismatch")

	// ErrNoTimeCoordinate is returned when a file has no time variable.
	ErrNoTimeCoordinate = errors.New("dataset: no time coordinate")

	// ErrNoVariable is returned by Var for an unknown variable.
	ErrNoVariable = errors.New("dataset: no such variable")
)

type options struct {
	timeDim string
}

// Option configures OpenMany.
type Option func(*options)

// WithTimeDimension sets the dimension (and coordinate variable) to
// concatenate along. Default: DefaultTimeDimension.
func WithTimeDimension(name string) Option {
	return func(o *options) {
		o.timeDim = name
	}
}

// file is one open member of a Dataset. Each file carries its own time
// units, so members written against different reference epochs still line up.
type file struct {
	name  string
	group api.Group
	steps int64   // length of the time dimension
	first float64 // first time value, +Inf when empty

	step     time.Duration
	ref      time.Time
	unitsErr error // set when the time units are missing or not CF
}

// start returns the decoded first time of f.
func (f *file) start() time.Time {
	return f.ref.Add(time.Duration(f.first * float64(f.step)))
}

// decode converts raw time values of f to times.
func (f *file) decode(vals []float64) []time.Time {
	out := make([]time.Time, len(vals))
	for i, v := range vals {
		out[i] = f.ref.Add(time.Duration(v * float64(f.step)))
	}
	return out
}

// Dataset is a lazily read view over several NetCDF files.
type Dataset struct {
	timeDim string
	files   []*file
	names   []string
	vars    map[string]*Variable
}

// OpenMany opens filenames and joins them along the time dimension. Files may
// be given in any order; they are sorted by their first decoded time. Every
// file must hold the same variables with the same dimensions and types.
func OpenMany(filenames []string, opts ...Option) (*Dataset, error) {
	if len(filenames) == 0 {
		return nil, ErrNoFiles
	}

	o := options{timeDim: DefaultTimeDimension}
	for _, opt := range opts {
		opt(&o)
	}

	ds := &Dataset{timeDim: o.timeDim, vars: make(map[string]*Variable)}
	for _, name := range filenames {
		f, err := openFile(name, o.timeDim)
		if err != nil {
			ds.Close()
			return nil, err
		}
		ds.files = append(ds.files, f)
	}

	sortByTime(ds.files)

	if err := ds.buildVariables(); err != nil {
		ds.Close()
		return nil, err
	}
	return ds, nil
}

func openFile(name, timeDim string) (*file, error) {
	g, err := netcdf.Open(name)
	if err != nil {
		return nil, fmt.Errorf("%w %s: %w", ErrOpen, name, err)
	}

	tg, err := g.GetVarGetter(timeDim)
	if err != nil {
		g.Close()
		return nil, fmt.Errorf("%w: %s has no %q variable", ErrNoTimeCoordinate, name, timeDim)
	}

	f := &file{name: name, group: g, steps: tg.Len(), first: math.Inf(1)}
	f.step, f.ref, f.unitsErr = timeUnits(tg, timeDim)
	if f.steps > 0 {
		head, err := tg.GetSlice(0, 1)
		if err != nil {
			g.Close()
			return nil, fmt.Errorf("dataset: read %s %s: %w", name, timeDim, err)
		}
		vals, err := toFloat64s(head)
		if err != nil || len(vals) == 0 {
			g.Close()
			return nil, fmt.Errorf("%w: %s %q is not numeric", ErrNoTimeCoordinate, name, timeDim)
		}
		f.first = vals[0]
	}
	return f, nil
}

// sortByTime orders files by their decoded first time. Raw values are
// compared instead when any file lacks CF units. Empty files go last.
func sortByTime(files []*file) {
	decoded := true
	for _, f := range files {
		if f.unitsErr != nil {
			decoded = false
		}
	}
	sort.SliceStable(files, func(i, j int) bool {
		a, b := files[i], files[j]
		if a.steps == 0 || b.steps == 0 {
			return a.steps != 0 && b.steps == 0
		}
		if decoded {
			return a.start().Before(b.start())
		}
		return a.first < b.first
	})
}

// buildVariables checks the files agree and wires each variable to its
// per-file getters.
func (ds *Dataset) buildVariables() error {
	ref := ds.files[0]
	ds.names = sortedVariables(ref.group)

	for _, f := range ds.files[1:] {
		if names := sortedVariables(f.group); !slices.Equal(names, ds.names) {
			return fmt.Errorf("%w: %s has variables %v, %s has %v",
				ErrSchemaMismatch, ref.name, ds.names, f.name, names)
		}
	}

	for _, name := range ds.names {
		v, err := ds.buildVariable(name)
		if err != nil {
			return err
		}
		ds.vars[name] = v
	}
	return nil
}

func (ds *Dataset) buildVariable(name string) (*Variable, error) {
	getters := make([]api.VarGetter, len(ds.files))
	for i, f := range ds.files {
		g, err := f.group.GetVarGetter(name)
		if err != nil {
			return nil, fmt.Errorf("dataset: %s variable %q: %w", f.name, name, err)
		}
		getters[i] = g
	}

	head := getters[0]
	v := &Variable{
		name:  name,
		dims:  head.Dimensions(),
		attrs: head.Attributes(),
		typ:   head.Type(),
	}
	for i, g := range getters[1:] {
		f := ds.files[i+1]
		if !slices.Equal(g.Dimensions(), v.dims) || g.GoType() != head.GoType() {
			return nil, fmt.Errorf("%w: variable %q differs between %s and %s",
				ErrSchemaMismatch, name, ds.files[0].name, f.name)
		}
	}

	if len(v.dims) == 0 || v.dims[0] != ds.timeDim {
		v.static = head
		return v, nil
	}

	for i, g := range getters {
		v.parts = append(v.parts, part{getter: g, steps: ds.files[i].steps})
	}
	return v, nil
}

func sortedVariables(g api.Group) []string {
	names := slices.Clone(g.ListVariables())
	slices.Sort(names)
	return names
}

// Files returns the member filenames in time order.
func (ds *Dataset) Files() []string {
	names := make([]string, len(ds.files))
	for i, f := range ds.files {
		names[i] = f.name
	}
	return names
}

// TimeDimension returns the name of the concatenation dimension.
func (ds *Dataset) TimeDimension() string {
	return ds.timeDim
}

// Variables returns the variable names in sorted order.
func (ds *Dataset) Variables() []string {
	return slices.Clone(ds.names)
}

// Var returns the named variable.
func (ds *Dataset) Var(name string) (*Variable, error) {
	v, ok := ds.vars[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoVariable, name)
	}
	return v, nil
}

// Len returns the total number of time steps.
func (ds *Dataset) Len() int64 {
	var n int64
	for _, f := range ds.files {
		n += f.steps
	}
	return n
}

// Attributes returns the global attributes of the first file.
func (ds *Dataset) Attributes() api.AttributeMap {
	return ds.files[0].group.Attributes()
}

// Close releases every open file.
func (ds *Dataset) Close() error {
	for _, f := range ds.files {
		f.group.Close()
	}
	ds.files = nil
	return nil
}

// part is one file's contribution to a time-dimensioned variable.
type part struct {
	getter api.VarGetter
	steps  int64
}

// Variable is a variable of a Dataset. Values are read from disk on demand.
type Variable struct {
	name   string
	dims   []string
	attrs  api.AttributeMap
	typ    string
	static api.VarGetter
	parts  []part
}

// Name returns the variable name.
func (v *Variable) Name() string { return v.name }

// Dimensions returns the dimension names, outermost first.
func (v *Variable) Dimensions() []string { return slices.Clone(v.dims) }

// Attributes returns the variable attributes of the first file.
func (v *Variable) Attributes() api.AttributeMap { return v.attrs }

// Type returns the element type in CDL notation.
func (v *Variable) Type() string { return v.typ }

// Len returns the length along the leading dimension. For variables without
// a time dimension it is the length reported by the first file.
func (v *Variable) Len() int64 {
	if v.static != nil {
		return v.static.Len()
	}
	var n int64
	for _, p := range v.parts {
		n += p.steps
	}
	return n
}

// Values reads the whole variable.
func (v *Variable) Values() (any, error) {
	if v.static != nil {
		return v.static.Values()
	}
	return v.Slice(0, v.Len())
}

// Slice reads elements [begin, end) along the leading dimension, crossing file
// boundaries as needed. The result is a slice of the variable's Go type, e.g.
// []float32 or [][]float32. An empty range yields nil.
func (v *Variable) Slice(begin, end int64) (any, error) {
	if begin < 0 || end < begin || end > v.Len() {
		return nil, fmt.Errorf("dataset: %s: slice [%d, %d) out of range [0, %d)", v.name, begin, end, v.Len())
	}
	if begin == end {
		return nil, nil
	}
	if v.static != nil {
		return v.static.GetSlice(begin, end)
	}

	var out reflect.Value
	var offset int64
	for _, p := range v.parts {
		partEnd := offset + p.steps
		if begin < partEnd && end > offset {
			lo := max(begin, offset) - offset
			hi := min(end, partEnd) - offset
			vals, err := p.getter.GetSlice(lo, hi)
			if err != nil {
				return nil, fmt.Errorf("dataset: read %s: %w", v.name, err)
			}
			rv := reflect.ValueOf(vals)
			if rv.Kind() != reflect.Slice {
				return nil, fmt.Errorf("dataset: read %s: unexpected %T", v.name, vals)
			}
			if !out.IsValid() {
				out = reflect.MakeSlice(rv.Type(), 0, int(end-begin))
			} else if rv.Type() != out.Type() {
				return nil, fmt.Errorf("%w: %s is %s in one file and %s in another",
					ErrSchemaMismatch, v.name, out.Type(), rv.Type())
			}
			out = reflect.AppendSlice(out, rv)
		}
		if partEnd >= end {
			break
		}
		offset = partEnd
	}
	return out.Interface(), nil
}

// Float64s reads the whole of a one-dimensional numeric variable as float64.
func (v *Variable) Float64s() ([]float64, error) {
	vals, err := v.Values()
	if err != nil {
		return nil, err
	}
	return toFloat64s(vals)
}

// toFloat64s converts a slice of any numeric type to []float64.
func toFloat64s(vals any) ([]float64, error) {
	rv := reflect.ValueOf(vals)
	if rv.Kind() != reflect.Slice {
		return nil, fmt.Errorf("dataset: expected a slice, got %T", vals)
	}
	out := make([]float64, rv.Len())
	for i := range out {
		e := rv.Index(i)
		switch e.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			out[i] = float64(e.Int())
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			out[i] = float64(e.Uint())
		case reflect.Float32, reflect.Float64:
			out[i] = e.Float()
		default:
			return nil, fmt.Errorf("dataset: %s is not numeric", e.Type())
		}
	}
	return out, nil
}
