package testutils

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/batchatco/go-native-netcdf/netcdf/api"
	"github.com/batchatco/go-native-netcdf/netcdf/cdf"
	"github.com/batchatco/go-native-netcdf/netcdf/util"
)

// TimeUnits is the CF units of the time coordinate written by WriteNetCDF,
// matching ERA5 output.
const TimeUnits = "hours since 1900-01-01 00:00:00.0"

// NetCDFFixture describes a small ERA5-like file: a time coordinate, a
// latitude coordinate and float32 variables shaped [time][latitude].
type NetCDFFixture struct {
	Units     string // time units; TimeUnits when empty
	Hours     []int32
	Latitudes []float32
	Vars      map[string][][]float32
}

// MonthFixture returns a fixture with one value per day of a 30-day month
// starting at hour offset start, for each variable.
func MonthFixture(start int32, variables ...string) NetCDFFixture {
	const days = 30
	fx := NetCDFFixture{
		Hours:     make([]int32, days),
		Latitudes: []float32{20, 0, -20},
		Vars:      make(map[string][][]float32, len(variables)),
	}
	for i := range fx.Hours {
		fx.Hours[i] = start + int32(i*24)
	}
	for vi, name := range variables {
		rows := make([][]float32, days)
		for i := range rows {
			rows[i] = []float32{
				float32(vi*1000) + float32(start) + float32(i),
				float32(vi*1000) + float32(start) + float32(i) + 0.5,
				float32(vi*1000) + float32(start) + float32(i) + 0.25,
			}
		}
		fx.Vars[name] = rows
	}
	return fx
}

// WriteNetCDF writes fx to path in classic CDF format.
func WriteNetCDF(t testing.TB, path string, fx NetCDFFixture) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("create fixture dir: %v", err)
	}

	cw, err := cdf.OpenWriter(path)
	if err != nil {
		t.Fatalf("open netcdf writer: %v", err)
	}

	units := fx.Units
	if units == "" {
		units = TimeUnits
	}
	if err := cw.AddVar("time", api.Variable{
		Values:     fx.Hours,
		Dimensions: []string{"time"},
		Attributes: attributes(t, "units", units, "long_name", "time"),
	}); err != nil {
		t.Fatalf("add time: %v", err)
	}
	if err := cw.AddVar("latitude", api.Variable{
		Values:     fx.Latitudes,
		Dimensions: []string{"latitude"},
		Attributes: attributes(t, "units", "degrees_north"),
	}); err != nil {
		t.Fatalf("add latitude: %v", err)
	}
	for name, rows := range fx.Vars {
		if err := cw.AddVar(name, api.Variable{
			Values:     rows,
			Dimensions: []string{"time", "latitude"},
			Attributes: attributes(t, "long_name", name),
		}); err != nil {
			t.Fatalf("add %s: %v", name, err)
		}
	}

	if err := cw.Close(); err != nil {
		t.Fatalf("close netcdf writer: %v", err)
	}
}

// NetCDFBytes returns the encoded bytes of fx.
func NetCDFBytes(t testing.TB, fx NetCDFFixture) []byte {
	t.Helper()

	path := filepath.Join(t.TempDir(), "fixture.nc")
	WriteNetCDF(t, path, fx)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}
	return data
}

// attributes builds an ordered attribute map from key/value pairs.
func attributes(t testing.TB, kv ...string) api.AttributeMap {
	t.Helper()

	keys := make([]string, 0, len(kv)/2)
	values := make(map[string]interface{}, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		keys = append(keys, kv[i])
		values[kv[i]] = kv[i+1]
	}
	m, err := util.NewOrderedMap(keys, values)
	if err != nil {
		t.Fatalf("attributes: %v", err)
	}
	return m
}

// referenceTime is the origin of TimeUnits.
var referenceTime = time.Date(1900, time.January, 1, 0, 0, 0, 0, time.UTC)

// MonthContent returns a FakeArchive.Content function that answers each
// request with a MonthFixture starting on the first day of its "date" range.
func MonthContent(t testing.TB, variables ...string) func(req map[string]string) []byte {
	return func(req map[string]string) []byte {
		start, _, _ := strings.Cut(req["date"], "/to/")
		day, err := time.Parse("2006-01-02", start)
		if err != nil {
			t.Errorf("fixture date %q: %v", req["date"], err)
			return nil
		}
		hours := int32(day.Sub(referenceTime) / time.Hour)
		return NetCDFBytes(t, MonthFixture(hours, variables...))
	}
}
