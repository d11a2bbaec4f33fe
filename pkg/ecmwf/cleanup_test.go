package ecmwf

import (
	"context"
	"io/fs"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// touchArchive creates an empty file for every request.
func touchArchive() RetrieverFunc {
	return func(ctx context.Context, req Request) error {
		return os.WriteFile(req.Target(), nil, 0o644)
	}
}

func loadedPlan(t *testing.T) *Plan {
	t.Helper()
	plan, err := mustPlan(t, WithDataDir(t.TempDir())).Select(Selection{
		Time: &TimeRange{Start: "1990-01", Stop: "1990-09-15"},
	})
	require.NoError(t, err)

	err = plan.Retrieve(context.Background(), touchArchive(), LoadOptions{
		Sleep: func(ctx context.Context, _ time.Duration) error { return nil },
	})
	require.NoError(t, err)
	return plan
}

func TestCleanupRemovesAllFiles(t *testing.T) {
	plan := loadedPlan(t)
	for _, f := range plan.Filenames() {
		require.FileExists(t, f)
	}

	require.NoError(t, plan.Cleanup())

	for _, f := range plan.Filenames() {
		assert.NoFileExists(t, f)
	}
}

func TestCleanupFailsOnMissingFile(t *testing.T) {
	plan := loadedPlan(t)
	files := plan.Filenames()
	require.NoError(t, os.Remove(files[4]))

	err := plan.Cleanup()
	require.Error(t, err)
	assert.ErrorIs(t, err, fs.ErrNotExist)

	// Fail-fast: files before the missing one are gone, later ones remain.
	for _, f := range files[:4] {
		assert.NoFileExists(t, f)
	}
	for _, f := range files[5:] {
		assert.FileExists(t, f)
	}
}

func TestCleanupEmpty(t *testing.T) {
	assert.NoError(t, Cleanup(nil))
	assert.NoError(t, mustPlan(t).Cleanup())
}
