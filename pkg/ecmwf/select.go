package ecmwf

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// DateLayout is the layout of sub-interval boundaries in the "date" option.
const DateLayout = "2006-01-02"

// ErrInvalidSelection is returned by Select for malformed or inverted bounds.
var ErrInvalidSelection = errors.New("ecmwf: invalid selection")

// inputLayouts are accepted for TimeRange bounds, most specific first.
var inputLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	DateLayout,
	"2006-01",
	"2006",
}

// TimeRange selects a period of time. Bounds are inclusive and may be given
// as "YYYY", "YYYY-MM" or "YYYY-MM-DD".
type TimeRange struct {
	Start string
	Stop  string
}

// Bounds selects a range of latitude or longitude in degrees. The order of
// Start and Stop does not matter.
type Bounds struct {
	Start float64
	Stop  float64
}

func (b Bounds) min() float64 { return math.Min(b.Start, b.Stop) }
func (b Bounds) max() float64 { return math.Max(b.Start, b.Stop) }

// Selection holds the criteria applied by Plan.Select. Nil fields are left
// unchanged.
type Selection struct {
	Time *TimeRange
	Lat  *Bounds
	Lon  *Bounds
}

// Interval is one calendar month of a time selection. The first interval
// starts at the requested start and the last ends at the requested stop.
type Interval struct {
	Start time.Time
	End   time.Time
}

// DateRange formats the interval as the archive's "start/to/end" date option.
func (iv Interval) DateRange() string {
	return iv.Start.Format(DateLayout) + "/to/" + iv.End.Format(DateLayout)
}

// Select returns a new Plan refined by the given temporal and/or spatial
// bounds. The receiver is not modified. Selecting again overwrites earlier
// bounds of the same kind.
func (p *Plan) Select(sel Selection) (*Plan, error) {
	next := p.clone()

	if sel.Lat != nil || sel.Lon != nil {
		area, err := formatArea(sel.Lat, sel.Lon)
		if err != nil {
			return nil, err
		}
		next.shared[KeyArea] = area
	}

	if sel.Time != nil {
		intervals, err := partition(*sel.Time)
		if err != nil {
			return nil, err
		}
		next.start = sel.Time.Start
		next.stop = sel.Time.Stop
		next.intervals = intervals
		next.filenames = make([]string, len(intervals))
		next.dates = make([]string, len(intervals))
		for i, iv := range intervals {
			next.filenames[i] = p.filename(iv.Start)
			next.dates[i] = iv.DateRange()
		}
	}

	return next, nil
}

// formatArea renders bounds in the archive's North/West/South/East order.
// A missing axis covers the whole globe.
func formatArea(lat, lon *Bounds) (string, error) {
	la := Bounds{Start: -90, Stop: 90}
	if lat != nil {
		la = *lat
	}
	lo := Bounds{Start: -180, Stop: 180}
	if lon != nil {
		lo = *lon
	}

	for _, v := range []float64{la.Start, la.Stop} {
		if math.IsNaN(v) || v < -90 || v > 90 {
			return "", fmt.Errorf("%w: latitude %v out of range [-90, 90]", ErrInvalidSelection, v)
		}
	}
	for _, v := range []float64{lo.Start, lo.Stop} {
		if math.IsNaN(v) || v < -180 || v > 360 {
			return "", fmt.Errorf("%w: longitude %v out of range [-180, 360]", ErrInvalidSelection, v)
		}
	}

	return fmt.Sprintf("%f/%f/%f/%f", la.max(), lo.min(), la.min(), lo.max()), nil
}

// partition splits tr into calendar months.
func partition(tr TimeRange) ([]Interval, error) {
	start, err := parseBound(tr.Start)
	if err != nil {
		return nil, fmt.Errorf("%w: start: %v", ErrInvalidSelection, err)
	}
	stop, err := parseBound(tr.Stop)
	if err != nil {
		return nil, fmt.Errorf("%w: stop: %v", ErrInvalidSelection, err)
	}
	if stop.Before(start) {
		return nil, fmt.Errorf("%w: stop %s is before start %s", ErrInvalidSelection, tr.Stop, tr.Start)
	}

	var intervals []Interval
	month := time.Date(start.Year(), start.Month(), 1, 0, 0, 0, 0, time.UTC)
	for !month.After(stop) {
		next := month.AddDate(0, 1, 0)
		intervals = append(intervals, Interval{
			Start: month,
			End:   next.AddDate(0, 0, -1),
		})
		month = next
	}

	intervals[0].Start = start
	intervals[len(intervals)-1].End = stop
	return intervals, nil
}

// parseBound parses s as a wall-clock time in UTC. A UTC offset in s is
// dropped so the date the caller wrote is the date requested.
func parseBound(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, errors.New("empty date")
	}
	for _, layout := range inputLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			// Keep the caller's calendar date; converting to UTC could move it.
			return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC), nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse %q as a date", s)
}
