package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/solroute/internal/errs"
	"github.com/sawpanic/solroute/internal/metrics"
)

// Coalescer collapses concurrent identical operations into a single
// in-flight factory call and broadcasts the result, with optional TTL
// caching of successes.
type Coalescer struct {
	store   Store
	metrics *metrics.Registry

	mu       sync.Mutex
	inflight map[string]*flight
}

type flight struct {
	done      chan struct{}
	value     []byte
	err       error
	count     int
	startTime time.Time
	settled   bool
}

// NewCoalescer wraps a Store. metrics may be nil.
func NewCoalescer(store Store, m *metrics.Registry) *Coalescer {
	return &Coalescer{
		store:    store,
		metrics:  m,
		inflight: make(map[string]*flight),
	}
}

// Store exposes the underlying cache for direct reads and writes.
func (c *Coalescer) Store() Store { return c.store }

// GetWithCoalescing returns the cached value for key, or invokes factory at
// most once across all concurrent callers and shares its outcome. The
// second return reports whether the value came from cache. ttl<=0 skips
// caching but still coalesces. A factory exceeding coalesceTimeout fails
// with EXTERNAL_SERVICE_ERROR.
func GetWithCoalescing[T any](ctx context.Context, c *Coalescer, key string, factory func(context.Context) (T, error), coalesceTimeout, ttl time.Duration) (T, bool, error) {
	return getWithCoalescing(ctx, c, key, factory, coalesceTimeout, ttl, true)
}

func getWithCoalescing[T any](ctx context.Context, c *Coalescer, key string, factory func(context.Context) (T, error), coalesceTimeout, ttl time.Duration, mayRetry bool) (T, bool, error) {
	var zero T
	cacheType := TypeOf(key)

	if data, ok, err := c.store.Get(ctx, key); err != nil {
		// A broken cache degrades to a miss; the factory still runs.
		log.Warn().Err(err).Str("key", key).Msg("Cache read failed, treating as miss")
	} else if ok {
		var v T
		if err := json.Unmarshal(data, &v); err == nil {
			if c.metrics != nil {
				c.metrics.RecordCacheHit(cacheType)
			}
			return v, true, nil
		}
		log.Warn().Str("key", key).Msg("Cache entry undecodable, treating as miss")
	}
	if c.metrics != nil {
		c.metrics.RecordCacheMiss(cacheType)
	}

	c.mu.Lock()
	if fl, ok := c.inflight[key]; ok {
		fl.count++
		c.mu.Unlock()

		select {
		case <-fl.done:
		case <-ctx.Done():
			return zero, false, ctx.Err()
		}
		if fl.err != nil {
			if mayRetry {
				// The coalesced attempt failed on someone else's behalf;
				// one fresh attempt of our own.
				return getWithCoalescing(ctx, c, key, factory, coalesceTimeout, ttl, false)
			}
			return zero, false, fl.err
		}
		var v T
		if err := json.Unmarshal(fl.value, &v); err != nil {
			return zero, false, errs.Wrap(errs.ExternalServiceError, "coalesced result undecodable", err).WithDetail("key", key)
		}
		return v, false, nil
	}

	fl := &flight{done: make(chan struct{}), count: 1, startTime: time.Now()}
	c.inflight[key] = fl
	c.mu.Unlock()

	value, err := c.runFactory(ctx, key, fl, func(fctx context.Context) ([]byte, error) {
		v, ferr := factory(fctx)
		if ferr != nil {
			return nil, ferr
		}
		return json.Marshal(v)
	}, coalesceTimeout, ttl)

	c.finalize(key, fl, value, err)

	if err != nil {
		return zero, false, err
	}
	var v T
	if uerr := json.Unmarshal(value, &v); uerr != nil {
		return zero, false, errs.Wrap(errs.ExternalServiceError, "factory result undecodable", uerr).WithDetail("key", key)
	}
	return v, false, nil
}

// runFactory drives the factory under a hard timeout. The factory runs on a
// context detached from the caller so that coalesced waiters are not failed
// by the winning caller's cancellation.
func (c *Coalescer) runFactory(ctx context.Context, key string, fl *flight, factory func(context.Context) ([]byte, error), coalesceTimeout, ttl time.Duration) ([]byte, error) {
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), coalesceTimeout)
	defer cancel()

	type outcome struct {
		value []byte
		err   error
	}
	resultCh := make(chan outcome, 1)
	go func() {
		v, err := factory(fctx)
		resultCh <- outcome{value: v, err: err}
	}()

	select {
	case res := <-resultCh:
		if res.err != nil {
			return nil, res.err
		}
		// Successes are cached; null results are not.
		if ttl > 0 && res.value != nil && string(res.value) != "null" {
			if err := c.store.Set(context.WithoutCancel(ctx), key, res.value, ttl); err != nil {
				log.Warn().Err(err).Str("key", key).Msg("Cache write failed")
			}
		}
		return res.value, nil
	case <-fctx.Done():
		return nil, errs.New(errs.ExternalServiceError, "coalesced operation timed out").
			WithDetail("key", key).
			WithDetail("timeoutMs", coalesceTimeout.Milliseconds())
	}
}

// finalize publishes the outcome to all waiters, removes the in-flight
// entry, and reports coalescing effectiveness.
func (c *Coalescer) finalize(key string, fl *flight, value []byte, err error) {
	c.mu.Lock()
	if fl.settled {
		// The sweeper already detached this flight; a fresh one may own the
		// key now, so leave the map alone.
		c.mu.Unlock()
		return
	}
	fl.settled = true
	fl.value = value
	fl.err = err
	duplicates := fl.count - 1
	delete(c.inflight, key)
	c.mu.Unlock()
	close(fl.done)

	if c.metrics != nil {
		c.metrics.RecordCoalesced(duplicates)
	}
	if duplicates > 0 {
		log.Debug().
			Str("key", key).
			Int("duplicates", duplicates).
			Dur("duration", time.Since(fl.startTime)).
			Msg("Coalesced duplicate requests")
	}
}

// InflightCount reports the number of in-flight single-flight entries.
func (c *Coalescer) InflightCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.inflight)
}

// StartSweeper runs a background loop that detaches waiters from entries
// whose factory never settled. Entries older than staleAfter are failed and
// removed.
func (c *Coalescer) StartSweeper(ctx context.Context, interval, staleAfter time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.sweep(staleAfter)
			}
		}
	}()
}

func (c *Coalescer) sweep(staleAfter time.Duration) {
	now := time.Now()
	c.mu.Lock()
	var stale []*flight
	for key, fl := range c.inflight {
		if now.Sub(fl.startTime) >= staleAfter {
			fl.settled = true
			fl.err = errs.New(errs.ExternalServiceError, "coalesced operation abandoned").WithDetail("key", key)
			delete(c.inflight, key)
			stale = append(stale, fl)
			log.Warn().Str("key", key).Dur("age", now.Sub(fl.startTime)).Msg("Swept stale coalescer entry")
		}
	}
	c.mu.Unlock()

	for _, fl := range stale {
		close(fl.done)
	}
}
