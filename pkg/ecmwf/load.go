package ecmwf

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jhamman/ingestor/pkg/dataset"
)

// Executor defaults.
const (
	// DefaultConcurrency is the number of retrievals run at once when
	// LoadOptions.Concurrency is not set.
	DefaultConcurrency = 20

	// DefaultStagger is the per-position delay applied before each request.
	DefaultStagger = time.Second
)

// ErrNoRequests is returned by Retrieve and Load for a plan without requests,
// i.e. one that has no time selection.
var ErrNoRequests = errors.New("ecmwf: plan has no requests")

// Retriever fulfils a single archive request, writing the result to the
// request's target. Implementations own any retry policy.
type Retriever interface {
	Retrieve(ctx context.Context, req Request) error
}

// RetrieverFunc adapts a function to the Retriever interface.
type RetrieverFunc func(ctx context.Context, req Request) error

// Retrieve calls f(ctx, req).
func (f RetrieverFunc) Retrieve(ctx context.Context, req Request) error {
	return f(ctx, req)
}

// Observer is notified as requests move through the executor. Methods may be
// called from several goroutines at once.
type Observer interface {
	RequestStarted(req Request)
	RequestCompleted(req Request)
	RequestFailed(req Request, err error)
}

// LoadOptions configures Retrieve and Load.
type LoadOptions struct {
	// Concurrency is the maximum number of retrievals in flight.
	// Default: DefaultConcurrency
	Concurrency int

	// Stagger is multiplied by a request's position to obtain the delay
	// before it is submitted: 0, Stagger, 2*Stagger, ...
	// Zero or negative means DefaultStagger.
	Stagger time.Duration

	// Observer is an optional progress hook.
	Observer Observer

	// Sleep waits for d or until ctx is done. Default: a timer.
	Sleep func(ctx context.Context, d time.Duration) error

	// Dataset options passed to dataset.OpenMany by Load.
	Dataset []dataset.Option
}

func (o *LoadOptions) applyDefaults() {
	if o.Concurrency <= 0 {
		o.Concurrency = DefaultConcurrency
	}
	if o.Stagger <= 0 {
		o.Stagger = DefaultStagger
	}
	if o.Sleep == nil {
		o.Sleep = sleepContext
	}
}

// Retrieve submits every request of the plan to client and blocks until all
// of them have completed or one has failed. The first failure is returned and
// cancels requests still waiting for their turn. Files already downloaded are
// left in place.
func (p *Plan) Retrieve(ctx context.Context, client Retriever, opts LoadOptions) error {
	opts.applyDefaults()

	reqs := p.Requests()
	if len(reqs) == 0 {
		return ErrNoRequests
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)

	for i, req := range reqs {
		delay := time.Duration(i) * opts.Stagger
		g.Go(func() error {
			return retrieveOne(gctx, client, req, delay, opts)
		})
	}

	return g.Wait()
}

// retrieveOne waits for the request's stagger delay then retrieves it.
func retrieveOne(ctx context.Context, client Retriever, req Request, delay time.Duration, opts LoadOptions) error {
	if err := opts.Sleep(ctx, delay); err != nil {
		return err
	}

	if opts.Observer != nil {
		opts.Observer.RequestStarted(req)
	}

	if err := client.Retrieve(ctx, req); err != nil {
		if opts.Observer != nil {
			opts.Observer.RequestFailed(req, err)
		}
		return fmt.Errorf("ecmwf: retrieve %s: %w", req.Target(), err)
	}

	if opts.Observer != nil {
		opts.Observer.RequestCompleted(req)
	}
	return nil
}

// Load retrieves every request of the plan and opens the downloaded files as
// one dataset concatenated along time. The caller must Close the dataset.
func (p *Plan) Load(ctx context.Context, client Retriever, opts LoadOptions) (*dataset.Dataset, error) {
	if err := p.Retrieve(ctx, client, opts); err != nil {
		return nil, err
	}

	ds, err := dataset.OpenMany(p.Filenames(), opts.Dataset...)
	if err != nil {
		return nil, fmt.Errorf("ecmwf: assemble: %w", err)
	}
	return ds, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
