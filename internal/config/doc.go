// Package config defines configuration structures for the ingestor CLI.
//
// Configuration can be provided via:
//   - Command-line flags
//   - Environment variables (INGESTOR_ prefix)
//   - YAML or TOML configuration file
//
// Flags override the environment, which overrides the file.
//
// # File format
//
//	variables: [2t, msl]
//	data_dir: /data/era5
//	file_template: era5_%Y-%m.nc
//	time:
//	  start: 1990-01
//	  stop: 1990-09-15
//	lat: [-20, 20]
//	lon: [-120, -85]
//	options:
//	  dataset: interim
//	concurrency: 20
//	stagger: 1s
//	archive: s3://era5-mirror?region=us-east-1
//	retry:
//	  attempts: 5
//	  backoff: 1s
//	  max_backoff: 30s
package config
