package ecmwf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func selectedPlan(t *testing.T, opts ...Option) *Plan {
	t.Helper()
	plan, err := mustPlan(t, opts...).Select(Selection{
		Time: &TimeRange{Start: "1990-01", Stop: "1990-09-15"},
		Lat:  &Bounds{Start: -20, Stop: 20},
		Lon:  &Bounds{Start: -120, Stop: -85},
	})
	require.NoError(t, err)
	return plan
}

func TestRequests(t *testing.T) {
	plan := selectedPlan(t)

	reqs := plan.Requests()
	require.Len(t, reqs, 9)

	filenames := plan.Filenames()
	dates := plan.Dates()
	for i, r := range reqs {
		assert.Equal(t, "20.000000/-120.000000/-20.000000/-85.000000", r.Area())
		assert.Equal(t, dates[i], r.Date())
		assert.Equal(t, filenames[i], r.Target())
		assert.Equal(t, "Temperature/Pressure", r[KeyParam])
		assert.Equal(t, "netcdf", r[KeyFormat])
	}
}

func TestRequestsWithoutTimeSelection(t *testing.T) {
	plan := mustPlan(t)
	assert.Empty(t, plan.Requests())

	plan, err := plan.Select(Selection{Lat: &Bounds{Start: 0, Stop: 10}})
	require.NoError(t, err)
	assert.Empty(t, plan.Requests())
}

func TestRequestsUndated(t *testing.T) {
	plan := &Plan{filenames: []string{"a.nc", "b.nc"}, shared: Request{KeyParam: "2t"}}

	assert.Equal(t, []Request{{KeyTarget: "a.nc"}, {KeyTarget: "b.nc"}}, plan.Requests())
}

func TestRequestsArePure(t *testing.T) {
	plan := selectedPlan(t, WithOptions(map[string]string{"dataset": "interim"}))

	first := plan.Requests()
	second := plan.Requests()
	assert.Equal(t, first, second)

	// Mutating a derived request must not leak into the plan.
	first[0][KeyArea] = "tampered"
	first[0]["dataset"] = "tampered"
	third := plan.Requests()
	assert.Equal(t, second, third)
}

func TestRequestsPerRequestFieldsWin(t *testing.T) {
	plan := selectedPlan(t, WithOptions(map[string]string{
		KeyDate:   "1900-01-01/to/1900-01-02",
		KeyTarget: "shared.nc",
		"class":   "ei",
	}))

	for i, r := range plan.Requests() {
		assert.Equal(t, plan.Dates()[i], r.Date())
		assert.Equal(t, plan.Filenames()[i], r.Target())
		assert.Equal(t, "ei", r["class"])
	}
}

func TestMergeRequest(t *testing.T) {
	shared := Request{"a": "1", "b": "2"}
	perRequest := Request{"b": "3", "c": "4"}

	merged := mergeRequest(shared, perRequest)
	assert.Equal(t, Request{"a": "1", "b": "3", "c": "4"}, merged)

	// Inputs are untouched.
	assert.Equal(t, Request{"a": "1", "b": "2"}, shared)
	assert.Equal(t, Request{"b": "3", "c": "4"}, perRequest)
}

func TestRequestKeys(t *testing.T) {
	r := Request{"target": "x", "area": "y", "date": "z"}
	assert.Equal(t, []string{"area", "date", "target"}, r.Keys())
	assert.Nil(t, Request(nil).Clone())
}
