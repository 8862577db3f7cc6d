package embedder_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"go.uber.org/goleak"

	"github.com/becomeliminal/nim-assistant/memory/embedder"
	"github.com/becomeliminal/nim-assistant/memory/embedder/mock"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		// ristretto keeps a policy goroutine until Close; tests close it but
		// the drain is asynchronous.
		goleak.IgnoreTopFunction("github.com/dgraph-io/ristretto.(*defaultPolicy).processItems"),
		goleak.IgnoreTopFunction("github.com/dgraph-io/ristretto.(*Cache).processItems"),
		// started by glog's init, which ristretto links in
		goleak.IgnoreTopFunction("github.com/golang/glog.(*fileSink).flushDaemon"),
	)
}

type countingEmbedder struct {
	calls atomic.Int32
	inner *mock.Embedder
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.calls.Add(1)
	return c.inner.Embed(ctx, text)
}

func (c *countingEmbedder) Dimensions() int { return c.inner.Dimensions() }

func TestCached_MemoizesPerDistinctText(t *testing.T) {
	inner := &countingEmbedder{inner: mock.New(mock.WithDimensions(16))}
	cached, err := embedder.NewCached(inner, 128)
	gt.NoError(t, err).Required()
	defer cached.Close()

	ctx := context.Background()
	first, err := cached.Embed(ctx, "hello world")
	gt.NoError(t, err).Required()
	second, err := cached.Embed(ctx, "hello world")
	gt.NoError(t, err).Required()
	_, err = cached.Embed(ctx, "something else")
	gt.NoError(t, err).Required()

	gt.Value(t, second).Equal(first)
	gt.Value(t, inner.calls.Load()).Equal(int32(2))
	gt.Value(t, cached.Dimensions()).Equal(16)
}

func TestCached_ReturnsCopies(t *testing.T) {
	cached, err := embedder.NewCached(mock.New(mock.WithDimensions(4)), 8)
	gt.NoError(t, err).Required()
	defer cached.Close()

	ctx := context.Background()
	_, err = cached.Embed(ctx, "abc")
	gt.NoError(t, err).Required()
	v1, err := cached.Embed(ctx, "abc")
	gt.NoError(t, err).Required()
	orig := v1[0]
	v1[0] = 42

	v2, err := cached.Embed(ctx, "abc")
	gt.NoError(t, err).Required()
	gt.Value(t, v2[0]).Equal(orig)
}

func TestWorker_SerializesConcurrentCalls(t *testing.T) {
	inner := &countingEmbedder{inner: mock.New(mock.WithDimensions(8))}
	w := embedder.NewWorker(inner, 4)
	defer w.Close()

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			vec, err := w.Embed(context.Background(), "parallel text")
			if err == nil && len(vec) != 8 {
				err = errors.New("unexpected vector size")
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		gt.NoError(t, err)
	}
	gt.Value(t, inner.calls.Load()).Equal(int32(20))
	gt.Value(t, w.Dimensions()).Equal(8)
}

func TestWorker_ClosedAndCancelled(t *testing.T) {
	w := embedder.NewWorker(mock.New(), 1)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := w.Embed(ctx, "before close")
	gt.NoError(t, err)

	w.Close()
	w.Close()

	_, err = w.Embed(context.Background(), "after close")
	gt.Error(t, err).Is(embedder.ErrClosed)

	w2 := embedder.NewWorker(mock.New(), 1)
	defer w2.Close()
	cancelled, stop := context.WithCancel(context.Background())
	stop()
	_, err = w2.Embed(cancelled, "cancelled")
	gt.Error(t, err).Is(context.Canceled)
}
