// Package archive provides the retrievers that fulfil planned requests.
//
// Client talks to the ECMWF Web API:
//   - POST the request to the dataset or MARS service
//   - Poll its status until it completes
//   - Download the result to the request's target
//   - DELETE the request on the server
//
// Individual HTTP calls are retried with exponential backoff and jitter on
// transport errors, 5xx and 429 responses.
//
// Mirror copies results from a gocloud.dev bucket instead, which serves
// pre-staged data from S3, GCS, local directories or memory.
//
// # Usage
//
//	creds, err := archive.LoadCredentials("")
//	client := archive.NewClient(creds, archive.DefaultOptions())
//	ds, err := plan.Load(ctx, client, ecmwf.LoadOptions{})
package archive
