package archive

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	_ "gocloud.dev/blob/fileblob"
	"gocloud.dev/blob/memblob"

	"github.com/jhamman/ingestor/pkg/ecmwf"
)

func TestMirrorRetrieve(t *testing.T) {
	ctx := context.Background()
	bucket := memblob.OpenBucket(nil)
	defer bucket.Close()

	if err := bucket.WriteAll(ctx, "era5/era5_1990-01.nc", []byte("january"), nil); err != nil {
		t.Fatalf("WriteAll: %v", err)
	}

	m := NewMirror(bucket, "era5/")
	target := filepath.Join(t.TempDir(), "nested", "era5_1990-01.nc")
	req := ecmwf.Request{ecmwf.KeyTarget: target}

	if got := m.Key(req); got != "era5/era5_1990-01.nc" {
		t.Errorf("unexpected key %s", got)
	}
	if err := m.Retrieve(ctx, req); err != nil {
		t.Fatalf("Retrieve: %v", err)
	}

	data, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("read target: %v", err)
	}
	if string(data) != "january" {
		t.Errorf("unexpected content %q", data)
	}
}

func TestMirrorMissingObject(t *testing.T) {
	bucket := memblob.OpenBucket(nil)
	defer bucket.Close()

	m := NewMirror(bucket, "")
	target := filepath.Join(t.TempDir(), "era5_1990-02.nc")
	err := m.Retrieve(context.Background(), ecmwf.Request{ecmwf.KeyTarget: target})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := os.Stat(target); !os.IsNotExist(err) {
		t.Error("target should not be created")
	}
}

func TestOpenMirrorFileBucket(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "era5_1990-03.nc"), []byte("march"), 0o644); err != nil {
		t.Fatalf("write object: %v", err)
	}

	m, err := OpenMirror(ctx, "file://"+filepath.ToSlash(dir), "")
	if err != nil {
		t.Fatalf("OpenMirror: %v", err)
	}
	defer m.Close()

	target := filepath.Join(t.TempDir(), "era5_1990-03.nc")
	if err := m.Retrieve(ctx, ecmwf.Request{ecmwf.KeyTarget: target}); err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	data, _ := os.ReadFile(target)
	if string(data) != "march" {
		t.Errorf("unexpected content %q", data)
	}
}

func TestMirrorLoadsPlan(t *testing.T) {
	ctx := context.Background()
	bucket := memblob.OpenBucket(nil)
	defer bucket.Close()

	plan, err := ecmwf.New([]string{"2t"}, ecmwf.WithDataDir(t.TempDir()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	plan, err = plan.Select(ecmwf.Selection{Time: &ecmwf.TimeRange{Start: "1990-01", Stop: "1990-03"}})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}

	m := NewMirror(bucket, "")
	for _, req := range plan.Requests() {
		if err := bucket.WriteAll(ctx, m.Key(req), []byte(req.Date()), nil); err != nil {
			t.Fatalf("WriteAll: %v", err)
		}
	}

	if err := plan.Retrieve(ctx, m, ecmwf.LoadOptions{Stagger: 1}); err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	for i, f := range plan.Filenames() {
		data, err := os.ReadFile(f)
		if err != nil {
			t.Fatalf("read %s: %v", f, err)
		}
		if string(data) != plan.Dates()[i] {
			t.Errorf("%s: expected %q, got %q", f, plan.Dates()[i], data)
		}
	}
}
