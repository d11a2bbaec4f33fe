// Package progress provides progress reporting for plan retrievals.
//
// A Reporter is passed to the executor as its observer and prints request
// counts and downloaded bytes to stderr.
//
// # Usage
//
//	reporter := progress.NewReporter(progress.Options{
//	    TotalRequests: len(plan.Requests()),
//	    Variables:     plan.DataVars(),
//	})
//
//	reporter.Start()
//	defer reporter.Stop()
//
//	err := plan.Retrieve(ctx, client, ecmwf.LoadOptions{Observer: reporter})
//
// # Output Format
//
//	[ingestor] Retrieving: 9 requests | Variables: 2t, msl | Concurrency: 20
//	[ingestor] Progress: 44.4% | 4 completed | 5 in-progress | 0 pending | 0 failed | 812 MiB | Elapsed: 6m 12s
//	[ingestor] Retrieved 9/9 requests | 1.6 GiB | Total time: 11m 40s
package progress
