// Package dataset opens a series of NetCDF files sharing a schema as one
// dataset concatenated along the time dimension.
//
// Files are read with github.com/batchatco/go-native-netcdf, which handles
// both the classic CDF format and NetCDF-4 (HDF5). Opening is cheap: only the
// time coordinate's first value of each file is read so the files can be put
// in chronological order. Variable data is read when [Variable.Values] or
// [Variable.Slice] is called.
//
//	ds, err := dataset.OpenMany([]string{"era5_1990-02.nc", "era5_1990-01.nc"})
//	if err != nil {
//	    return err
//	}
//	defer ds.Close()
//
//	t2m, err := ds.Var("t2m")
//	first, err := t2m.Slice(0, 24) // first 24 time steps across files
//
// Variables whose leading dimension is the time dimension are concatenated;
// all other variables (coordinates such as latitude and longitude) are taken
// from the first file.
package dataset
