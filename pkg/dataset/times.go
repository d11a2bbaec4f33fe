package dataset

import (
	"fmt"
	"strings"
	"time"

	"github.com/batchatco/go-native-netcdf/netcdf/api"
)

var refLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.0",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

var unitDurations = map[string]time.Duration{
	"seconds": time.Second,
	"second":  time.Second,
	"secs":    time.Second,
	"s":       time.Second,
	"minutes": time.Minute,
	"minute":  time.Minute,
	"mins":    time.Minute,
	"hours":   time.Hour,
	"hour":    time.Hour,
	"hrs":     time.Hour,
	"h":       time.Hour,
	"days":    24 * time.Hour,
	"day":     24 * time.Hour,
	"d":       24 * time.Hour,
}

// Times decodes the time coordinate using each file's CF "units" attribute,
// e.g. "hours since 1900-01-01 00:00:00.0". Raw values read through
// Var(TimeDimension()) are not rebased.
func (ds *Dataset) Times() ([]time.Time, error) {
	if _, err := ds.Var(ds.timeDim); err != nil {
		return nil, err
	}

	out := make([]time.Time, 0, ds.Len())
	for _, f := range ds.files {
		if f.unitsErr != nil {
			return nil, f.unitsErr
		}
		if f.steps == 0 {
			continue
		}
		tg, err := f.group.GetVarGetter(ds.timeDim)
		if err != nil {
			return nil, fmt.Errorf("dataset: %s %q: %w", f.name, ds.timeDim, err)
		}
		raw, err := tg.Values()
		if err != nil {
			return nil, fmt.Errorf("dataset: read %s %s: %w", f.name, ds.timeDim, err)
		}
		vals, err := toFloat64s(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, f.decode(vals)...)
	}
	return out, nil
}

// timeUnits parses the units attribute of a file's time coordinate.
func timeUnits(tg api.VarGetter, timeDim string) (time.Duration, time.Time, error) {
	units, ok := tg.Attributes().Get("units")
	if !ok {
		return 0, time.Time{}, fmt.Errorf("dataset: %s has no units attribute", timeDim)
	}
	s, ok := units.(string)
	if !ok {
		return 0, time.Time{}, fmt.Errorf("dataset: %s units is %T, not a string", timeDim, units)
	}
	return ParseTimeUnits(s)
}

// ParseTimeUnits parses a CF time units string of the form
// "<unit> since <reference>".
func ParseTimeUnits(units string) (time.Duration, time.Time, error) {
	unit, ref, ok := strings.Cut(strings.TrimSpace(units), " since ")
	if !ok {
		return 0, time.Time{}, fmt.Errorf("dataset: time units %q: missing \"since\"", units)
	}
	step, ok := unitDurations[strings.ToLower(strings.TrimSpace(unit))]
	if !ok {
		return 0, time.Time{}, fmt.Errorf("dataset: time units %q: unknown unit %q", units, unit)
	}

	ref = strings.TrimSuffix(strings.TrimSpace(ref), " UTC")
	for _, layout := range refLayouts {
		if t, err := time.Parse(layout, ref); err == nil {
			return step, t.UTC(), nil
		}
	}
	return 0, time.Time{}, fmt.Errorf("dataset: time units %q: cannot parse reference %q", units, ref)
}
