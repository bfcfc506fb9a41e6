package s3

import (
	"context"
	"sync"
)

// Pool hands out one Adapter per bucket. Buckets are tenant-scoped and
// requests from different tenants arrive interleaved, so adapters are
// cached rather than rebuilt per request.
type Pool struct {
	base Config
	opts []Option

	mu       sync.Mutex
	adapters map[string]*Adapter
}

// NewPool creates a pool. base supplies the shared connection settings;
// the bucket field is filled in per Get.
func NewPool(base Config, opts ...Option) *Pool {
	return &Pool{
		base:     base,
		opts:     opts,
		adapters: make(map[string]*Adapter),
	}
}

// Get returns the adapter bound to bucket, creating it on first use.
func (p *Pool) Get(bucket string) *Adapter {
	p.mu.Lock()
	defer p.mu.Unlock()
	if a, ok := p.adapters[bucket]; ok {
		return a
	}
	cfg := p.base
	cfg.Bucket = bucket
	a := New(cfg, p.opts...)
	p.adapters[bucket] = a
	return a
}

// Prepare returns the adapter bound to bucket after making the bucket
// usable. A bucket created here gets its CORS policy provisioned for
// origin, so the requesting front end can talk to it directly.
func (p *Pool) Prepare(ctx context.Context, bucket, origin string) (*Adapter, error) {
	a := p.Get(bucket)
	if _, err := a.GetClient(ctx, false, origin); err != nil {
		return nil, err
	}
	return a, nil
}

// Drop forgets the adapter for bucket, if any. Used after the bucket
// itself is deleted.
func (p *Pool) Drop(bucket string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.adapters, bucket)
}
