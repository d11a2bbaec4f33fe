package progress

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jhamman/ingestor/pkg/ecmwf"
)

// Options configures the progress reporter.
type Options struct {
	// TotalRequests is the number of archive requests in the plan.
	TotalRequests int

	// Concurrency is the number of parallel retrievals (for display).
	Concurrency int

	// Variables requested (for display).
	Variables []string

	// Output is where to write progress output.
	// Default: os.Stderr
	Output io.Writer

	// UpdateInterval is how often to update the progress display.
	// Default: 1s
	UpdateInterval time.Duration
}

// Reporter outputs human-readable progress information. It implements
// ecmwf.Observer.
type Reporter struct {
	opts Options

	mu                sync.Mutex
	completedBytes    atomic.Int64
	completedRequests atomic.Int32
	failedRequests    atomic.Int32
	inProgress        atomic.Int32
	lastErr           error
	startTime         time.Time
	stopCh            chan struct{}
	doneCh            chan struct{}
	started           bool
	stopped           bool
}

var _ ecmwf.Observer = (*Reporter)(nil)

// NewReporter creates a new progress reporter.
func NewReporter(opts Options) *Reporter {
	if opts.Output == nil {
		opts.Output = os.Stderr
	}
	if opts.UpdateInterval == 0 {
		opts.UpdateInterval = time.Second
	}

	return &Reporter{
		opts:   opts,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start begins outputting progress information.
func (r *Reporter) Start() {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return
	}
	r.started = true
	r.startTime = time.Now()
	r.mu.Unlock()

	fmt.Fprintf(r.opts.Output, "[ingestor] Retrieving: %d requests | Variables: %s | Concurrency: %d\n",
		r.opts.TotalRequests,
		joinVariables(r.opts.Variables),
		r.opts.Concurrency,
	)

	go r.updateLoop()
}

// Stop stops the progress reporter and waits for the final status line.
func (r *Reporter) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	started := r.started
	r.mu.Unlock()

	close(r.stopCh)
	if started {
		<-r.doneCh
	}
}

// RequestStarted marks a request as in progress.
func (r *Reporter) RequestStarted(ecmwf.Request) {
	r.inProgress.Add(1)
}

// RequestCompleted marks a request as completed and counts the size of its
// target file.
func (r *Reporter) RequestCompleted(req ecmwf.Request) {
	if info, err := os.Stat(req.Target()); err == nil {
		r.completedBytes.Add(info.Size())
	}
	r.completedRequests.Add(1)
	r.inProgress.Add(-1)
}

// RequestFailed marks a request as failed (removes from in-progress).
func (r *Reporter) RequestFailed(req ecmwf.Request, err error) {
	r.failedRequests.Add(1)
	r.inProgress.Add(-1)

	r.mu.Lock()
	r.lastErr = err
	r.mu.Unlock()
}

// Completed returns the number of completed requests and their total size.
func (r *Reporter) Completed() (requests int, bytes int64) {
	return int(r.completedRequests.Load()), r.completedBytes.Load()
}

// Failed returns the number of failed requests.
func (r *Reporter) Failed() int {
	return int(r.failedRequests.Load())
}

// updateLoop periodically updates the progress display.
func (r *Reporter) updateLoop() {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.opts.UpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			r.printFinalStatus()
			return
		case <-ticker.C:
			r.printProgress()
		}
	}
}

// printProgress outputs the current progress.
func (r *Reporter) printProgress() {
	completed := int(r.completedRequests.Load())
	failed := int(r.failedRequests.Load())
	inProgress := int(r.inProgress.Load())

	var percent float64
	if r.opts.TotalRequests > 0 {
		percent = float64(completed) / float64(r.opts.TotalRequests) * 100
	}

	pending := r.opts.TotalRequests - completed - failed - inProgress
	if pending < 0 {
		pending = 0
	}

	fmt.Fprintf(r.opts.Output, "\r[ingestor] Progress: %.1f%% | %d completed | %d in-progress | %d pending | %d failed | %s | Elapsed: %s    ",
		percent,
		completed,
		inProgress,
		pending,
		failed,
		formatBytes(r.completedBytes.Load()),
		formatDuration(time.Since(r.startTime)),
	)
}

// printFinalStatus outputs the final status.
func (r *Reporter) printFinalStatus() {
	completed := int(r.completedRequests.Load())
	failed := int(r.failedRequests.Load())
	duration := time.Since(r.startTime)

	fmt.Fprintf(r.opts.Output, "\r[ingestor] Retrieved %d/%d requests | %s | Total time: %s    \n",
		completed,
		r.opts.TotalRequests,
		formatBytes(r.completedBytes.Load()),
		formatDuration(duration),
	)

	r.mu.Lock()
	lastErr := r.lastErr
	r.mu.Unlock()
	if failed > 0 && lastErr != nil {
		fmt.Fprintf(r.opts.Output, "[ingestor] %d requests failed, last error: %v\n", failed, lastErr)
	}
}

func joinVariables(vars []string) string {
	if len(vars) == 0 {
		return "-"
	}
	return strings.Join(vars, ", ")
}

// formatBytes formats bytes using binary units, with one decimal below ten.
func formatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}

	value := float64(b)
	suffixes := []string{"KiB", "MiB", "GiB", "TiB"}
	var suffix string
	for _, suffix = range suffixes {
		value /= unit
		if value < unit || suffix == "TiB" {
			break
		}
	}

	if value < 10 {
		return fmt.Sprintf("%.1f %s", value, suffix)
	}
	return fmt.Sprintf("%.0f %s", value, suffix)
}

// formatDuration formats a duration as a human-readable string.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.0fs", d.Seconds())
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm %ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dh %dm %ds", h, m, s)
}

// FormatBytes is exported for use by other packages.
func FormatBytes(b int64) string {
	return formatBytes(b)
}
