package archive

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jhamman/ingestor/internal/testutils"
	"github.com/jhamman/ingestor/pkg/ecmwf"
)

func testOptions() Options {
	return Options{
		MaxIdleConnsPerHost: 4,
		Timeout:             5 * time.Second,
		RetryAttempts:       3,
		RetryBackoff:        time.Millisecond,
		RetryMaxBackoff:     5 * time.Millisecond,
		PollInterval:        time.Millisecond,
	}
}

func fakeClient(fake *testutils.FakeArchive) *Client {
	return NewClient(Credentials{
		URL:   fake.URL,
		Key:   testutils.FakeKey,
		Email: testutils.FakeEmail,
	}, testOptions())
}

func testRequest(t *testing.T) ecmwf.Request {
	return ecmwf.Request{
		ecmwf.KeyParam:  "2t/msl",
		ecmwf.KeyFormat: "netcdf",
		ecmwf.KeyDate:   "1990-01-01/to/1990-01-31",
		ecmwf.KeyTarget: filepath.Join(t.TempDir(), "era5_1990-01.nc"),
		"dataset":       "interim",
	}
}

func TestRetrieve(t *testing.T) {
	fake := testutils.NewFakeArchive(t)
	fake.Polls = 3

	req := testRequest(t)
	if err := fakeClient(fake).Retrieve(context.Background(), req); err != nil {
		t.Fatalf("Retrieve: %v", err)
	}

	data, err := os.ReadFile(req.Target())
	if err != nil {
		t.Fatalf("read target: %v", err)
	}
	if string(data) != "1990-01-01/to/1990-01-31" {
		t.Errorf("unexpected content %q", data)
	}

	subs := fake.Submitted()
	if len(subs) != 1 {
		t.Fatalf("expected 1 submission, got %d", len(subs))
	}
	if subs[0].Service != "datasets/interim" {
		t.Errorf("expected datasets/interim, got %s", subs[0].Service)
	}
	if _, ok := subs[0].Request[ecmwf.KeyTarget]; ok {
		t.Error("target should not be sent to the server")
	}
	if subs[0].Request[ecmwf.KeyParam] != "2t/msl" {
		t.Errorf("expected param 2t/msl, got %q", subs[0].Request[ecmwf.KeyParam])
	}

	if got := fake.Deleted(); len(got) != 1 {
		t.Errorf("expected request to be deleted, got %v", got)
	}

	// No temporary files are left behind.
	entries, err := os.ReadDir(filepath.Dir(req.Target()))
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("expected only the target in the directory, got %d entries", len(entries))
	}
}

func TestRetrieveMARS(t *testing.T) {
	fake := testutils.NewFakeArchive(t)

	req := testRequest(t)
	delete(req, "dataset")
	if err := fakeClient(fake).Retrieve(context.Background(), req); err != nil {
		t.Fatalf("Retrieve: %v", err)
	}

	subs := fake.Submitted()
	if len(subs) != 1 || subs[0].Service != "services/mars" {
		t.Errorf("expected a MARS submission, got %+v", subs)
	}
}

func TestRetrieveAborted(t *testing.T) {
	fake := testutils.NewFakeArchive(t)
	fake.Outcome = StatusAborted

	req := testRequest(t)
	err := fakeClient(fake).Retrieve(context.Background(), req)

	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("expected *RequestError, got %v", err)
	}
	if reqErr.Status != StatusAborted {
		t.Errorf("expected status aborted, got %s", reqErr.Status)
	}
	if !strings.Contains(reqErr.Message, "aborted") {
		t.Errorf("expected server message, got %q", reqErr.Message)
	}
	if _, err := os.Stat(req.Target()); !os.IsNotExist(err) {
		t.Error("target should not exist after an aborted request")
	}
	if got := fake.Deleted(); len(got) != 1 {
		t.Errorf("expected aborted request to be deleted, got %v", got)
	}
}

func TestRetrieveUnauthorized(t *testing.T) {
	fake := testutils.NewFakeArchive(t)

	client := NewClient(Credentials{URL: fake.URL, Key: "wrong", Email: testutils.FakeEmail}, testOptions())
	err := client.Retrieve(context.Background(), testRequest(t))
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if !strings.Contains(err.Error(), "invalid credentials") {
		t.Errorf("expected server message in error, got %v", err)
	}
	if len(fake.Submitted()) != 0 {
		t.Error("expected no accepted submissions")
	}
}

func TestRetrieveRetriesServerErrors(t *testing.T) {
	fake := testutils.NewFakeArchive(t)
	fake.FailSubmits = 2

	req := testRequest(t)
	if err := fakeClient(fake).Retrieve(context.Background(), req); err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(fake.Submitted()) != 1 {
		t.Errorf("expected 1 accepted submission, got %d", len(fake.Submitted()))
	}
}

func TestRetrieveGivesUp(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := NewClient(Credentials{URL: server.URL, Key: "k"}, testOptions())
	err := client.Retrieve(context.Background(), testRequest(t))
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if got := attempts.Load(); got != 4 {
		t.Errorf("expected 4 attempts, got %d", got)
	}
}

func TestRetrieveContextCancelled(t *testing.T) {
	fake := testutils.NewFakeArchive(t)
	fake.Polls = 1 << 20

	opts := testOptions()
	opts.PollInterval = 10 * time.Millisecond
	client := NewClient(Credentials{URL: fake.URL, Key: testutils.FakeKey, Email: testutils.FakeEmail}, opts)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := client.Retrieve(ctx, testRequest(t))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if got := fake.Deleted(); len(got) != 1 {
		t.Errorf("expected cancelled request to be deleted, got %v", got)
	}
}

func TestRetrieveNoTarget(t *testing.T) {
	client := NewClient(Credentials{URL: "http://127.0.0.1:1", Key: "k"}, testOptions())
	err := client.Retrieve(context.Background(), ecmwf.Request{ecmwf.KeyParam: "2t"})
	if err == nil {
		t.Fatal("expected error for request without target")
	}
}

func TestRetrieveWithPlan(t *testing.T) {
	fake := testutils.NewFakeArchive(t)

	plan, err := ecmwf.New([]string{"2t"}, ecmwf.WithDataDir(t.TempDir()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	plan, err = plan.Select(ecmwf.Selection{Time: &ecmwf.TimeRange{Start: "1990-01", Stop: "1990-04-15"}})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}

	err = plan.Retrieve(context.Background(), fakeClient(fake), ecmwf.LoadOptions{
		Concurrency: 2,
		Stagger:     time.Millisecond,
	})
	if err != nil {
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
	if len(fake.Submitted()) != 4 {
		t.Errorf("expected 4 submissions, got %d", len(fake.Submitted()))
	}
}

func TestCheckStatusCode(t *testing.T) {
	tests := []struct {
		code    int
		wantErr error
	}{
		{200, nil},
		{202, nil},
		{401, ErrUnauthorized},
		{403, ErrForbidden},
		{404, ErrNotFound},
		{429, ErrRateLimited},
	}

	for _, tt := range tests {
		err := checkStatusCode(tt.code)
		if !errors.Is(err, tt.wantErr) && !(err == nil && tt.wantErr == nil) {
			t.Errorf("checkStatusCode(%d) = %v, want %v", tt.code, err, tt.wantErr)
		}
	}

	if err := checkStatusCode(418); err == nil {
		t.Error("expected error for 418")
	}
}

func TestParseRetryAfter(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"", 0},
		{"5", 5 * time.Second},
		{" 2 ", 2 * time.Second},
		{"0", 0},
		{"soon", 0},
	}

	for _, tt := range tests {
		if got := parseRetryAfter(tt.in); got != tt.want {
			t.Errorf("parseRetryAfter(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestResolveLocation(t *testing.T) {
	c := NewClient(Credentials{URL: "https://api.example.com/v1"}, testOptions())

	got, err := c.resolve("/data/42")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got != "https://api.example.com/data/42" {
		t.Errorf("unexpected location %s", got)
	}

	got, err = c.resolve("https://download.example.com/x.nc")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got != "https://download.example.com/x.nc" {
		t.Errorf("unexpected location %s", got)
	}

	if _, err := c.resolve(""); err == nil {
		t.Error("expected error for empty location")
	}
}
