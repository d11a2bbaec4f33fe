package ecmwf

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhamman/ingestor/internal/testutils"
)

// recordingArchive records each retrieval and the peak number of retrievals
// in flight.
type recordingArchive struct {
	mu    sync.Mutex
	calls []Request

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
	hold        time.Duration
	fail        map[string]error
	write       func(req Request) error
}

func newRecordingArchive() *recordingArchive {
	return &recordingArchive{}
}

// sleep stands in for LoadOptions.Sleep; it never blocks.
func (a *recordingArchive) sleep(ctx context.Context, d time.Duration) error {
	return ctx.Err()
}

func (a *recordingArchive) Retrieve(ctx context.Context, req Request) error {
	n := a.inFlight.Add(1)
	defer a.inFlight.Add(-1)
	for {
		m := a.maxInFlight.Load()
		if n <= m || a.maxInFlight.CompareAndSwap(m, n) {
			break
		}
	}

	a.mu.Lock()
	a.calls = append(a.calls, req)
	a.mu.Unlock()

	if a.hold > 0 {
		time.Sleep(a.hold)
	}
	if err := a.fail[req.Target()]; err != nil {
		return err
	}
	if a.write != nil {
		return a.write(req)
	}
	return nil
}

// staggerRecorder captures the delay requested before each retrieval.
type staggerRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *staggerRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

func TestRetrieveStaggerSequence(t *testing.T) {
	plan, err := mustPlan(t).Select(Selection{Time: &TimeRange{Start: "1990-01", Stop: "1990-09-15"}})
	require.NoError(t, err)

	rec := &staggerRecorder{}
	archive := newRecordingArchive()
	err = plan.Retrieve(context.Background(), archive, LoadOptions{
		Concurrency: 1,
		Sleep:       rec.sleep,
	})
	require.NoError(t, err)

	// With one worker dispatch order equals completion order.
	require.Len(t, rec.delays, 9)
	for i, d := range rec.delays {
		assert.Equal(t, time.Duration(i)*DefaultStagger, d)
		if i > 0 {
			assert.Greater(t, d, rec.delays[i-1])
		}
	}
	require.Len(t, archive.calls, 9)
	for i, call := range archive.calls {
		assert.Equal(t, plan.Filenames()[i], call.Target())
	}
}

func TestRetrieveBoundsConcurrency(t *testing.T) {
	plan, err := mustPlan(t).Select(Selection{Time: &TimeRange{Start: "1990-01", Stop: "1990-12"}})
	require.NoError(t, err)

	archive := newRecordingArchive()
	archive.hold = 20 * time.Millisecond

	err = plan.Retrieve(context.Background(), archive, LoadOptions{
		Concurrency: 3,
		Sleep:       archive.sleep,
	})
	require.NoError(t, err)

	assert.Len(t, archive.calls, 12)
	assert.LessOrEqual(t, archive.maxInFlight.Load(), int32(3))
	assert.Greater(t, archive.maxInFlight.Load(), int32(0))
}

func TestRetrieveFirstFailureAborts(t *testing.T) {
	plan, err := mustPlan(t).Select(Selection{Time: &TimeRange{Start: "1990-01", Stop: "1990-09-15"}})
	require.NoError(t, err)

	errQuota := errors.New("quota exceeded")
	archive := newRecordingArchive()
	archive.fail = map[string]error{plan.Filenames()[0]: errQuota}

	err = plan.Retrieve(context.Background(), archive, LoadOptions{
		Concurrency: 1,
		Stagger:     10 * time.Millisecond,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, errQuota)
	assert.Contains(t, err.Error(), plan.Filenames()[0])

	// Later requests were still waiting on their stagger and were cancelled.
	assert.Len(t, archive.calls, 1)
}

func TestRetrieveContextCancelled(t *testing.T) {
	plan, err := mustPlan(t).Select(Selection{Time: &TimeRange{Start: "1990-01", Stop: "1990-03"}})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = plan.Retrieve(ctx, newRecordingArchive(), LoadOptions{Stagger: time.Hour})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRetrieveNoRequests(t *testing.T) {
	err := mustPlan(t).Retrieve(context.Background(), newRecordingArchive(), LoadOptions{})
	assert.ErrorIs(t, err, ErrNoRequests)
}

type countingObserver struct {
	started, completed, failed atomic.Int32
}

func (o *countingObserver) RequestStarted(Request)        { o.started.Add(1) }
func (o *countingObserver) RequestCompleted(Request)      { o.completed.Add(1) }
func (o *countingObserver) RequestFailed(Request, error) { o.failed.Add(1) }

func TestRetrieveNotifiesObserver(t *testing.T) {
	plan, err := mustPlan(t).Select(Selection{Time: &TimeRange{Start: "1990-01", Stop: "1990-04"}})
	require.NoError(t, err)

	archive := newRecordingArchive()
	archive.fail = map[string]error{plan.Filenames()[3]: errors.New("boom")}
	obs := &countingObserver{}

	err = plan.Retrieve(context.Background(), archive, LoadOptions{
		Concurrency: 1,
		Sleep:       archive.sleep,
		Observer:    obs,
	})
	require.Error(t, err)

	assert.Equal(t, int32(4), obs.started.Load())
	assert.Equal(t, int32(3), obs.completed.Load())
	assert.Equal(t, int32(1), obs.failed.Load())
}

// netcdfArchive writes a month of fixture data to each request's target.
func netcdfArchive(t *testing.T) *recordingArchive {
	archive := newRecordingArchive()
	ref := time.Date(1900, 1, 1, 0, 0, 0, 0, time.UTC)
	archive.write = func(req Request) error {
		start, _, _ := strings.Cut(req.Date(), "/to/")
		day, err := time.Parse(DateLayout, start)
		if err != nil {
			return err
		}
		hours := int32(day.Sub(ref) / time.Hour)
		testutils.WriteNetCDF(t, req.Target(), testutils.MonthFixture(hours, "Temperature", "Pressure"))
		return nil
	}
	return archive
}

func TestLoad(t *testing.T) {
	plan, err := mustPlan(t, WithDataDir(t.TempDir())).Select(Selection{
		Time: &TimeRange{Start: "1990-01", Stop: "1990-09-15"},
	})
	require.NoError(t, err)

	archive := netcdfArchive(t)
	ds, err := plan.Load(context.Background(), archive, LoadOptions{Sleep: archive.sleep})
	require.NoError(t, err)
	defer ds.Close()

	assert.Equal(t, plan.Filenames(), ds.Files())
	assert.Equal(t, int64(9*30), ds.Len())
	assert.Contains(t, ds.Variables(), "Temperature")
	assert.Contains(t, ds.Variables(), "Pressure")

	times, err := ds.Times()
	require.NoError(t, err)
	assert.Equal(t, time.Date(1990, time.January, 1, 0, 0, 0, 0, time.UTC), times[0])

	// Files stay on disk until cleaned up explicitly.
	for _, f := range plan.Filenames() {
		_, err := os.Stat(f)
		assert.NoError(t, err)
	}
}

func TestLoadAssemblyError(t *testing.T) {
	plan, err := mustPlan(t, WithDataDir(t.TempDir())).Select(Selection{
		Time: &TimeRange{Start: "1990-01", Stop: "1990-02"},
	})
	require.NoError(t, err)

	archive := newRecordingArchive()
	archive.write = func(req Request) error {
		return os.WriteFile(req.Target(), []byte("not netcdf"), 0o644)
	}

	_, err = plan.Load(context.Background(), archive, LoadOptions{Sleep: archive.sleep})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "assemble")
}
