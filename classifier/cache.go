package classifier

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"
)

// Policy decides how long a loaded model stays in the cache slot.
type Policy string

const (
	// PolicyResident keeps the model loaded until Unload.
	PolicyResident Policy = "resident"
	// PolicyDiscard fetches, opens, runs and deletes the model on every call.
	PolicyDiscard Policy = "discard"
)

func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case PolicyResident, PolicyDiscard:
		return Policy(s), nil
	}
	return "", fmt.Errorf("unknown model policy %q (want %q or %q)", s, PolicyResident, PolicyDiscard)
}

// Cache is a single-slot model cache.
type Cache struct {
	source   Source
	open     Opener
	policy   Policy
	poolSize int

	mu      sync.Mutex
	pool    *SessionPool
	cleanup func() error
	loads   int64
	// closed when the in-flight load finishes; nil when idle
	loading chan struct{}
}

func NewCache(source Source, open Opener, policy Policy, poolSize int) *Cache {
	if poolSize <= 0 {
		poolSize = DefaultPoolSize
	}
	return &Cache{
		source:   source,
		open:     open,
		policy:   policy,
		poolSize: poolSize,
	}
}

func (c *Cache) Policy() Policy {
	return c.policy
}

// Load fills the slot. It is a no-op when the slot is already filled.
// A failed load leaves the slot empty so the next call tries again.
func (c *Cache) Load(ctx context.Context) error {
	_, err := c.ensureLoaded(ctx)
	return err
}

// Loaded reports whether a model currently occupies the slot.
func (c *Cache) Loaded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pool != nil
}

// Loads is the number of times an artifact has been opened.
func (c *Cache) Loads() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loads
}

// Stats returns pool counters, or false when nothing is loaded.
func (c *Cache) Stats() (PoolStats, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pool == nil {
		return PoolStats{}, false
	}
	return c.pool.GetMetrics(), true
}

// Classify runs one input through the model and returns P(Healthy).
func (c *Cache) Classify(ctx context.Context, input []float32) (float32, error) {
	if c.policy == PolicyDiscard {
		return c.classifyOnce(ctx, input)
	}

	pool, err := c.ensureLoaded(ctx)
	if err != nil {
		return 0, err
	}
	session, err := pool.Acquire(ctx)
	if err != nil {
		return 0, err
	}
	defer pool.Release(session)

	return session.Run(input)
}

// Unload empties the slot and removes any downloaded artifact.
func (c *Cache) Unload() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pool != nil {
		c.pool.Destroy()
		c.pool = nil
	}
	if c.cleanup != nil {
		err := c.cleanup()
		c.cleanup = nil
		if err != nil {
			return fmt.Errorf("remove model artifact: %w", err)
		}
	}
	return nil
}

// ensureLoaded returns the resident pool, loading it if the slot is empty.
// Only one load runs at a time and c.mu is not held while it does; other
// callers wait for it or for their own context.
func (c *Cache) ensureLoaded(ctx context.Context) (*SessionPool, error) {
	for {
		c.mu.Lock()
		if c.pool != nil {
			pool := c.pool
			c.mu.Unlock()
			return pool, nil
		}
		if wait := c.loading; wait != nil {
			c.mu.Unlock()
			select {
			case <-wait:
				// loaded, or failed and the slot is free to retry
				continue
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		done := make(chan struct{})
		c.loading = done
		c.mu.Unlock()

		pool, cleanup, err := c.load(ctx)

		c.mu.Lock()
		c.loading = nil
		if err == nil {
			c.pool = pool
			c.cleanup = cleanup
			c.loads++
		}
		c.mu.Unlock()
		close(done)

		if err != nil {
			return nil, err
		}
		log.Printf("Model loaded from %s (%d sessions)", c.source, pool.Size())
		return pool, nil
	}
}

func (c *Cache) load(ctx context.Context) (*SessionPool, func() error, error) {
	path, cleanup, err := c.source.Fetch(ctx)
	if err != nil {
		return nil, nil, err
	}
	pool, err := NewSessionPool(c.open, path, c.poolSize)
	if err != nil {
		if cerr := cleanup(); cerr != nil {
			log.Printf("Failed to remove model artifact %s: %v", path, cerr)
		}
		return nil, nil, fmt.Errorf("load model from %s: %w", c.source, err)
	}
	return pool, cleanup, nil
}

// CacheOptions describes where the model comes from and how it is kept.
type CacheOptions struct {
	// Path is the bundled artifact; used when URL is empty.
	Path string
	// URL switches to downloading the artifact over HTTP.
	URL          string
	Policy       Policy
	PoolSize     int
	FetchTimeout time.Duration
	TempDir      string
}

func (o CacheOptions) Source() Source {
	if o.URL != "" {
		return RemoteSource{
			URL:    o.URL,
			Client: &http.Client{Timeout: o.FetchTimeout},
			Dir:    o.TempDir,
		}
	}
	return LocalSource{Path: o.Path}
}

// OpenCache builds the cache for opts. A bundled artifact under the resident
// policy is loaded before returning, so a missing or unreadable model fails
// here rather than on the first request.
func OpenCache(ctx context.Context, opts CacheOptions, open Opener) (*Cache, error) {
	poolSize := opts.PoolSize
	if opts.Policy == PolicyDiscard {
		poolSize = 1
	}
	cache := NewCache(opts.Source(), open, opts.Policy, poolSize)
	if opts.Policy == PolicyResident && opts.URL == "" {
		if err := cache.Load(ctx); err != nil {
			return nil, err
		}
	}
	return cache, nil
}

func (c *Cache) classifyOnce(ctx context.Context, input []float32) (float32, error) {
	path, cleanup, err := c.source.Fetch(ctx)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err := cleanup(); err != nil {
			log.Printf("Failed to remove model artifact %s: %v", path, err)
		}
	}()

	model, err := c.open(path)
	if err != nil {
		return 0, fmt.Errorf("load model from %s: %w", c.source, err)
	}
	defer model.Destroy()

	c.mu.Lock()
	c.loads++
	c.mu.Unlock()

	return model.Run(input)
}
