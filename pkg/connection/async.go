package connection

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// DefaultWorkers is the default number of concurrent requests of an
// AsyncConnection.
const DefaultWorkers = 6

// AsyncConnection dispatches requests on a bounded pool of workers and
// returns a Future immediately. The 401 handling is the one of Connection and
// shares its token lock.
type AsyncConnection struct {
	conn    *Connection
	workers int
	sem     *semaphore.Weighted

	wg     sync.WaitGroup
	closed atomic.Bool
}

// NewAsync creates a concurrent connection with the given number of workers.
// The transport keeps at most that many connections per host.
func NewAsync(baseURL string, workers int, opts ...Option) (*AsyncConnection, error) {
	if workers <= 0 {
		workers = DefaultWorkers
	}

	opts = append(opts, func(o *options) { o.transport.PoolSize = workers })
	conn, err := New(baseURL, opts...)
	if err != nil {
		return nil, err
	}

	return &AsyncConnection{
		conn:    conn,
		workers: workers,
		sem:     semaphore.NewWeighted(int64(workers)),
	}, nil
}

// Workers returns the size of the worker pool.
func (a *AsyncConnection) Workers() int { return a.workers }

// Sync returns the blocking connection the requests are dispatched to.
func (a *AsyncConnection) Sync() *Connection { return a.conn }

// Get dispatches a GET request.
func (a *AsyncConnection) Get(ctx context.Context, path string, opts ...CallOption) *Future {
	return a.submit(ctx, http.MethodGet, path, nil, opts)
}

// Post dispatches a POST request.
func (a *AsyncConnection) Post(ctx context.Context, path string, data any, opts ...CallOption) *Future {
	return a.submit(ctx, http.MethodPost, path, data, opts)
}

// Put dispatches a PUT request.
func (a *AsyncConnection) Put(ctx context.Context, path string, data any, opts ...CallOption) *Future {
	return a.submit(ctx, http.MethodPut, path, data, opts)
}

// Delete dispatches a DELETE request.
func (a *AsyncConnection) Delete(ctx context.Context, path string, data any, opts ...CallOption) *Future {
	return a.submit(ctx, http.MethodDelete, path, data, opts)
}

// Close stops accepting requests, waits for dispatched ones and releases
// pooled connections.
func (a *AsyncConnection) Close() error {
	a.closed.Store(true)
	a.wg.Wait()
	return a.conn.Close()
}

// submit queues a request. ctx only matters until a worker picks the request
// up; once dispatched the request runs to completion or timeout.
func (a *AsyncConnection) submit(ctx context.Context, method, path string, data any, opts []CallOption) *Future {
	f := newFuture(a.conn.resolve(path))
	if a.closed.Load() {
		f.state.Store(futureCancelled)
		f.complete(nil, ErrConnectionClosed)
		return f
	}

	acquireCtx, stop := context.WithCancel(ctx)
	f.stop = stop

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer stop()

		if err := a.sem.Acquire(acquireCtx, 1); err != nil {
			if f.state.CompareAndSwap(futurePending, futureCancelled) {
				f.complete(nil, fmt.Errorf("%w: %w", ErrFutureCancelled, err))
			}
			return
		}
		defer a.sem.Release(1)

		if !f.state.CompareAndSwap(futurePending, futureDispatched) {
			return
		}
		body, err := a.conn.read(context.WithoutCancel(ctx), method, path, data, opts)
		f.complete(body, err)
	}()
	return f
}

// WaitAll waits for every future and returns the first error.
func WaitAll(ctx context.Context, futures ...*Future) error {
	var g errgroup.Group
	for _, f := range futures {
		g.Go(func() error {
			_, err := f.Wait(ctx)
			return err
		})
	}
	return g.Wait()
}

// ============================================================================
// Future
// ============================================================================

const (
	futurePending int32 = iota
	futureDispatched
	futureCancelled
)

// Future is the pending result of an AsyncConnection request.
type Future struct {
	url   string
	done  chan struct{}
	state atomic.Int32
	stop  context.CancelFunc

	body []byte
	err  error
}

func newFuture(url string) *Future {
	return &Future{url: url, done: make(chan struct{})}
}

func (f *Future) complete(body []byte, err error) {
	f.body, f.err = body, err
	close(f.done)
}

// Done is closed once the result is available.
func (f *Future) Done() <-chan struct{} { return f.done }

// Wait blocks until the request completes or ctx is done. Giving up on ctx
// does not cancel a dispatched request.
func (f *Future) Wait(ctx context.Context) ([]byte, error) {
	select {
	case <-f.done:
		return f.body, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Decode waits for the result and decodes it as JSON into out.
func (f *Future) Decode(ctx context.Context, out any) error {
	body, err := f.Wait(ctx)
	if err != nil {
		return err
	}
	return decodeJSON(f.url, body, out)
}

// Cancel withdraws a request that no worker has picked up yet. It reports
// whether the request was withdrawn.
func (f *Future) Cancel() bool {
	if !f.state.CompareAndSwap(futurePending, futureCancelled) {
		return false
	}
	if f.stop != nil {
		f.stop()
	}
	f.complete(nil, ErrFutureCancelled)
	return true
}
