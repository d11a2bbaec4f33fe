//go:build integration

package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jhamman/ingestor/internal/testutils"
)

func TestCLIIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	t.Log("Starting Minio container...")
	minio := testutils.StartMinioContainer(t, ctx, "ingestor-mirror")
	defer func() {
		if err := minio.Close(ctx); err != nil {
			t.Logf("failed to terminate minio container: %v", err)
		}
	}()

	uploaded := make(map[string][]byte)
	for month := time.January; month <= time.April; month++ {
		start := time.Date(2010, month, 1, 0, 0, 0, 0, time.UTC)
		hours := int32(start.Sub(time.Date(1900, 1, 1, 0, 0, 0, 0, time.UTC)) / time.Hour)
		name := fmt.Sprintf("era5_%s.nc", start.Format("200601"))
		uploaded[name] = minio.UploadNetCDF(t, ctx, "reanalysis/"+name, testutils.MonthFixture(hours, "2t", "msl"))
	}

	credentials := isolateEnv(t)
	dir := t.TempDir()
	var manifestPath string

	t.Run("fetch", func(t *testing.T) {
		code, out, errOut := runCLI(t, "", "fetch",
			"-vars", "2t,msl",
			"-start", "2010-01",
			"-stop", "2010-04-30",
			"-lat", "-20,20",
			"-file-template", "era5_%Y%m.nc",
			"-data-dir", dir,
			"-archive", minio.BucketURL,
			"-mirror-prefix", "reanalysis/",
			"-credentials", credentials,
			"-concurrency", "2",
			"-stagger", "10ms",
			"-progress",
		)
		if code != ExitSuccess {
			t.Fatalf("fetch failed with exit code %d: %s", code, errOut)
		}
		if !strings.Contains(out, "Files: 4") || !strings.Contains(out, "time: 120") {
			t.Errorf("unexpected summary:\n%s", out)
		}

		for name, data := range uploaded {
			testutils.CompareFileToData(t, filepath.Join(dir, name), data)
		}
		manifestPath = onlyManifest(t, dir)
	})

	t.Run("info", func(t *testing.T) {
		code, out, errOut := runCLI(t, "", "info", "-manifest", manifestPath)
		if code != ExitSuccess {
			t.Fatalf("info failed with exit code %d: %s", code, errOut)
		}
		if !strings.Contains(out, "Time: 2010-01-01T00:00:00") {
			t.Errorf("unexpected time range:\n%s", out)
		}
	})

	t.Run("cleanup", func(t *testing.T) {
		code, _, errOut := runCLI(t, "", "cleanup", "-manifest", manifestPath, "-force")
		if code != ExitSuccess {
			t.Fatalf("cleanup failed with exit code %d: %s", code, errOut)
		}
		for name := range uploaded {
			if _, err := os.Stat(filepath.Join(dir, name)); !os.IsNotExist(err) {
				t.Errorf("expected %s to be removed", name)
			}
		}
	})
}
