// Package resolver maps bucket names to folder ids under the bucket parent,
// creating missing bucket folders on demand.
package resolver

import (
	"context"
	"fmt"
	"maps"

	"go.uber.org/zap"

	"github.com/3leaps/qbucket/pkg/bucket"
	"github.com/3leaps/qbucket/pkg/lister"
	"github.com/3leaps/qbucket/pkg/provider"
)

// Stats counts resolver activity for one run.
type Stats struct {
	Hits    int `json:"hits"`
	Queries int `json:"queries"`
	Created int `json:"created"`
}

// Resolver caches bucket name to folder id for one bucket parent.
//
// A Resolver is not safe for concurrent use.
type Resolver struct {
	provider provider.Provider
	lister   *lister.Lister
	parser   *bucket.Parser
	parentID string
	logger   *zap.Logger

	cache map[string]string
	stats Stats
}

// New creates a resolver for buckets under parentID.
func New(p provider.Provider, l *lister.Lister, parser *bucket.Parser, parentID string, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		provider: p,
		lister:   l,
		parser:   parser,
		parentID: parentID,
		logger:   logger,
		cache:    make(map[string]string),
	}
}

// ParentID returns the bucket parent folder id.
func (r *Resolver) ParentID() string {
	return r.parentID
}

// BuildCache lists the bucket parent once and records every bucket-named
// child. It returns the number of cached entries.
func (r *Resolver) BuildCache(ctx context.Context) (int, error) {
	for f, err := range r.lister.Children(ctx, r.parentID) {
		if err != nil {
			return len(r.cache), fmt.Errorf("build bucket cache: %w", err)
		}
		name, ok := r.parser.BucketNameOf(f.Name)
		if !ok {
			continue
		}
		if _, dup := r.cache[name]; dup {
			continue
		}
		r.cache[name] = f.ID
	}

	r.logger.Debug("[cache] built",
		zap.String("parent_id", r.parentID),
		zap.Int("entries", len(r.cache)))
	return len(r.cache), nil
}

// ResolveOrCreate returns the id of the bucket folder named name, creating
// it under the bucket parent when no such folder exists.
func (r *Resolver) ResolveOrCreate(ctx context.Context, name string) (string, error) {
	id, ok, err := r.Lookup(ctx, name)
	if err != nil || ok {
		return id, err
	}

	id, err = r.provider.CreateFolder(ctx, provider.CreateOptions{Name: name, ParentID: r.parentID})
	if err != nil {
		return "", fmt.Errorf("create bucket %s: %w", name, err)
	}
	r.stats.Created++
	r.cache[name] = id

	r.logger.Debug("[create]",
		zap.String("bucket", name),
		zap.String("id", id))
	return id, nil
}

// Lookup returns the id of the bucket folder named name without creating
// anything. Misses are not cached.
func (r *Resolver) Lookup(ctx context.Context, name string) (string, bool, error) {
	if id, ok := r.cache[name]; ok {
		r.stats.Hits++
		r.logger.Debug("[cache] hit",
			zap.String("bucket", name),
			zap.String("id", id))
		return id, true, nil
	}

	r.stats.Queries++
	for f, err := range r.lister.Named(ctx, r.parentID, name) {
		if err != nil {
			return "", false, fmt.Errorf("query bucket %s: %w", name, err)
		}
		r.cache[name] = f.ID
		r.logger.Debug("[query] found",
			zap.String("bucket", name),
			zap.String("id", f.ID))
		return f.ID, true, nil
	}

	r.logger.Debug("[query] missing", zap.String("bucket", name))
	return "", false, nil
}

// Cached returns a snapshot of the cache.
func (r *Resolver) Cached() map[string]string {
	return maps.Clone(r.cache)
}

// Stats returns activity counters.
func (r *Resolver) Stats() Stats {
	return r.stats
}
