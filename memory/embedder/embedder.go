// Package embedder wraps memory.Embedder implementations with memoization
// and a dedicated worker goroutine.
package embedder

import (
	"context"
	"sync"

	"github.com/dgraph-io/ristretto"
	"github.com/m-mizutani/goerr/v2"

	"github.com/becomeliminal/nim-assistant/memory"
)

// ErrClosed is returned by a Worker after Close.
var ErrClosed = goerr.New("embedding worker closed")

// Cached memoizes embeddings per distinct text in a bounded cache.
type Cached struct {
	inner memory.Embedder
	cache *ristretto.Cache
}

// NewCached wraps inner with a cache holding at most size embeddings.
func NewCached(inner memory.Embedder, size int64) (*Cached, error) {
	if size < 1 {
		size = 1
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters:        size * 10,
		MaxCost:            size,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create embedding cache")
	}
	return &Cached{inner: inner, cache: cache}, nil
}

// Embed returns the memoized vector for text, computing it on a miss.
func (c *Cached) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := c.cache.Get(text); ok {
		if vec, ok := v.([]float32); ok {
			return cloneVector(vec), nil
		}
	}

	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Set(text, cloneVector(vec), 1)
	c.cache.Wait()
	return vec, nil
}

// Dimensions returns the wrapped embedder's vector size.
func (c *Cached) Dimensions() int {
	return c.inner.Dimensions()
}

// Close releases the cache.
func (c *Cached) Close() {
	c.cache.Close()
}

func cloneVector(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	return out
}

type job struct {
	ctx   context.Context
	text  string
	reply chan result
}

type result struct {
	vec []float32
	err error
}

// Worker runs every embedding on one goroutine, off the caller's path.
// Embedders that are not safe for concurrent use (ONNX sessions) are
// serialized by it.
type Worker struct {
	inner memory.Embedder
	jobs  chan job

	closeOnce sync.Once
	done      chan struct{}
	stopped   chan struct{}
}

// NewWorker starts a worker around inner. queue bounds pending requests.
func NewWorker(inner memory.Embedder, queue int) *Worker {
	if queue < 1 {
		queue = 1
	}
	w := &Worker{
		inner:   inner,
		jobs:    make(chan job, queue),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go w.loop()
	return w
}

func (w *Worker) loop() {
	defer close(w.stopped)
	for {
		select {
		case <-w.done:
			return
		case j := <-w.jobs:
			if err := j.ctx.Err(); err != nil {
				j.reply <- result{err: err}
				continue
			}
			vec, err := w.inner.Embed(j.ctx, j.text)
			j.reply <- result{vec: vec, err: err}
		}
	}
}

// Embed queues text and waits for its vector.
func (w *Worker) Embed(ctx context.Context, text string) ([]float32, error) {
	j := job{ctx: ctx, text: text, reply: make(chan result, 1)}

	select {
	case <-w.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	case w.jobs <- j:
	}

	select {
	case <-w.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-j.reply:
		return r.vec, r.err
	}
}

// Dimensions returns the wrapped embedder's vector size.
func (w *Worker) Dimensions() int {
	return w.inner.Dimensions()
}

// Close stops the worker and waits for the goroutine to exit.
func (w *Worker) Close() {
	w.closeOnce.Do(func() {
		close(w.done)
	})
	<-w.stopped
}
