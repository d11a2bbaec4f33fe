// Package ecmwf plans and executes a series of related retrievals from the
// ECMWF archive and reassembles them into a single dataset.
//
// A [Plan] records the variables to fetch, the shared request options and a
// filename template. Selecting a time range partitions it into calendar
// months, one retrieval per month; selecting latitude/longitude bounds adds a
// shared "area" option.
//
// # Planning
//
//	plan, err := ecmwf.New([]string{"2t", "msl"},
//	    ecmwf.WithDataDir("/data/era5"),
//	    ecmwf.WithFileTemplate("era5_%Y-%m.nc"),
//	    ecmwf.WithOptions(map[string]string{"dataset": "interim", "grid": "0.75/0.75"}),
//	)
//
//	plan, err = plan.Select(ecmwf.Selection{
//	    Time: &ecmwf.TimeRange{Start: "1990-01-01", Stop: "1990-09-15"},
//	    Lat:  &ecmwf.Bounds{Start: -20, Stop: 20},
//	    Lon:  &ecmwf.Bounds{Start: -120, Stop: -85},
//	})
//
// [Plan.Select] never modifies its receiver; it returns a refined copy.
//
// # Requests
//
// [Plan.Requests] derives one [Request] per month on demand. Shared options
// are merged first and the per-month "date" and "target" keys override them:
//
//	{"param": "2t/msl", "format": "netcdf", "area": "20.000000/-120.000000/-20.000000/-85.000000",
//	 "date": "1990-01-01/to/1990-01-31", "target": "/data/era5/era5_1990-01.nc", ...}
//
// # Loading
//
// [Plan.Load] hands every request to a [Retriever] under a bounded worker
// pool. Request i waits i*Stagger before it is submitted so the archive's rate
// limiter is not tripped. The first failure aborts the load. On success the
// downloaded files are opened with [dataset.OpenMany].
//
// Downloaded files are never removed implicitly; call [Plan.Cleanup] or
// [Cleanup] when they are no longer needed.
package ecmwf
