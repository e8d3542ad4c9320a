// Package worker runs codec conversions off the filesystem protocol
// thread: a fixed set of goroutines drains a shared job queue, coalescing
// concurrent requests for the same cache key via singleflight so the
// codec runs at most once per key at a time.
package worker

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ticpu/fuse-img2heic/internal/applog"
	"github.com/ticpu/fuse-img2heic/internal/cache"
	"github.com/ticpu/fuse-img2heic/internal/codec"
	"github.com/ticpu/fuse-img2heic/internal/imgparams"
	"github.com/ticpu/fuse-img2heic/internal/metrics"
)

// ErrShuttingDown is returned to callers whose blocking request was still
// queued when the pool was stopped.
var ErrShuttingDown = errors.New("worker: pool is shutting down")

// jobQueueDepth is how many submitted jobs may sit waiting for a free
// worker. Blocking submissions wait for a slot; prefetch hints beyond
// this depth are dropped.
const jobQueueDepth = 128

// Job is a unit of codec work. A Job with a nil Result is a prefetch: its
// only purpose is the side effect of populating the cache.
type Job struct {
	HostPath string
	Params   imgparams.EncoderParams
	Result   chan<- jobResult
}

type jobResult struct {
	bytes []byte
	err   error
}

// Pool is a fixed-size worker pool serving codec conversions, backed by
// Cache for storage and Converter for the actual transcode.
type Pool struct {
	cache     *cache.Cache
	converter codec.Converter

	// Metrics is optional; a nil value disables recording.
	Metrics *metrics.Registry

	jobs chan Job
	sf   singleflight.Group

	done chan struct{}
	wg   sync.WaitGroup
}

// New starts a Pool with one goroutine per logical CPU. Workers run until
// Stop is called.
func New(c *cache.Cache, conv codec.Converter) *Pool {
	p := &Pool{
		cache:     c,
		converter: conv,
		jobs:      make(chan Job, jobQueueDepth),
		done:      make(chan struct{}),
	}
	n := runtime.GOMAXPROCS(0)
	if n < 1 {
		n = 1
	}
	p.wg.Add(n)
	for i := 0; i < n; i++ {
		go p.worker()
	}
	return p
}

// Stop signals shutdown and waits for every worker goroutine to exit.
// Jobs still in the queue are not drained: pending prefetches are
// discarded, and ConvertBlocking callers still waiting observe
// ErrShuttingDown.
func (p *Pool) Stop() {
	close(p.done)
	p.wg.Wait()
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case job := <-p.jobs:
			p.run(job)
		case <-p.done:
			return
		}
	}
}

func (p *Pool) run(job Job) {
	bytes, err := p.convertAndCache(job.HostPath, job.Params)
	if job.Result == nil {
		if err != nil {
			applog.Errorf(job.HostPath, "worker: prefetch failed: %v", err)
		}
		return
	}
	job.Result <- jobResult{bytes: bytes, err: err}
}

// convertAndCache runs the codec (coalesced by singleflight on the cache
// key) and stores the result. It only ever runs inside a worker goroutine:
// both ConvertBlocking and the prefetch path submit a Job through the
// channel, and run dispatches to convertAndCache from there, so concurrent
// requests for the same key still coalesce through singleflight regardless
// of which caller's Job happens to be served first.
func (p *Pool) convertAndCache(hostPath string, params imgparams.EncoderParams) ([]byte, error) {
	key, _, err := deriveKey(hostPath, params)
	if err != nil {
		return nil, err
	}

	ctx := cache.Context{HostPath: hostPath, Params: params}
	v, err, _ := p.sf.Do(string(key), func() (any, error) {
		// A job served after an earlier run for the same key has finished
		// finds that run's result in the cache instead of converting again.
		if data, ok := p.cache.Get(key, ctx); ok {
			return data, nil
		}
		start := time.Now()
		out, convErr := p.converter.Convert(context.Background(), hostPath, params)
		p.Metrics.ConversionDone(time.Since(start).Seconds(), convErr)
		if convErr != nil {
			return nil, convErr
		}
		if putErr := p.cache.Put(key, out, ctx); putErr != nil {
			applog.Errorf(hostPath, "worker: cache put failed: %v", putErr)
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

func deriveKey(hostPath string, params imgparams.EncoderParams) (imgparams.CacheKey, int64, error) {
	size, err := statSize(hostPath)
	if err != nil {
		return "", 0, err
	}
	return imgparams.DeriveCacheKey(hostPath, size, params), size, nil
}

// ConvertBlocking submits a job with a one-shot result channel and waits.
// The caller observes ErrShuttingDown if the pool is stopped before the
// job is picked up.
func (p *Pool) ConvertBlocking(hostPath string, params imgparams.EncoderParams) ([]byte, error) {
	result := make(chan jobResult, 1)
	job := Job{HostPath: hostPath, Params: params, Result: result}

	select {
	case p.jobs <- job:
	case <-p.done:
		return nil, ErrShuttingDown
	}

	select {
	case r := <-result:
		return r.bytes, r.err
	case <-p.done:
		return nil, ErrShuttingDown
	}
}

// Prefetch submits a no-result job for hostPath unless the artifact is
// already cached. It never blocks the caller beyond the cache lookup.
func (p *Pool) Prefetch(hostPath string, params imgparams.EncoderParams) {
	key, _, err := deriveKey(hostPath, params)
	if err != nil {
		applog.Debugf(hostPath, "worker: prefetch skipped, stat failed: %v", err)
		return
	}
	ctx := cache.Context{HostPath: hostPath, Params: params}
	if _, ok := p.cache.Get(key, ctx); ok {
		return
	}

	job := Job{HostPath: hostPath, Params: params, Result: nil}
	select {
	case p.jobs <- job:
	case <-p.done:
	default:
		// Non-blocking: a full queue just drops the prefetch hint.
	}
}
