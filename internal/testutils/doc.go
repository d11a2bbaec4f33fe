// Package testutils provides shared test infrastructure: NetCDF fixtures, a
// fake ECMWF Web API and, for integration tests, a Minio mirror bucket.
package testutils
