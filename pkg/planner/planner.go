// Package planner computes which source folders must move into which
// bucket folders.
//
// Planning is read-only apart from bucket creation, which happens only
// when Config.DryRun is false. The complete plan is materialized before
// any folder is moved.
package planner

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/3leaps/qbucket/pkg/bucket"
	"github.com/3leaps/qbucket/pkg/lister"
	"github.com/3leaps/qbucket/pkg/match"
	"github.com/3leaps/qbucket/pkg/resolver"
)

// PendingPrefix prefixes the placeholder id of a bucket that does not exist
// yet during a dry run.
const PendingPrefix = "pending:"

// Move is one planned re-parenting of a source folder.
type Move struct {
	FileID        string `json:"file_id" yaml:"file_id"`
	Name          string `json:"name" yaml:"name"`
	Key           int    `json:"key" yaml:"key"`
	OldParentID   string `json:"old_parent_id" yaml:"old_parent_id"`
	NewParentID   string `json:"new_parent_id" yaml:"new_parent_id"`
	BucketName    string `json:"bucket_name" yaml:"bucket_name"`
	BucketPending bool   `json:"bucket_pending,omitempty" yaml:"bucket_pending,omitempty"`
}

// Plan is the ordered set of moves for one run plus scan counters.
type Plan struct {
	SourceParentID string `json:"source_parent_id" yaml:"source_parent_id"`
	BucketParentID string `json:"bucket_parent_id" yaml:"bucket_parent_id"`
	Prefix         string `json:"prefix" yaml:"prefix"`
	DryRun         bool   `json:"dry_run" yaml:"dry_run"`

	Moves []Move `json:"moves" yaml:"moves"`

	// Scanned counts every child folder of the source.
	Scanned int `json:"scanned" yaml:"scanned"`
	// Excluded counts folders rejected by the name matcher.
	Excluded int `json:"excluded" yaml:"excluded"`
	// Matched counts folders whose name carries a key.
	Matched int `json:"matched" yaml:"matched"`
	// Skipped counts matched folders already inside their bucket.
	Skipped int `json:"skipped" yaml:"skipped"`

	BucketsCreated int `json:"buckets_created" yaml:"buckets_created"`
	BucketsPending int `json:"buckets_pending" yaml:"buckets_pending"`
}

// Empty reports whether the plan has no moves.
func (p *Plan) Empty() bool {
	return len(p.Moves) == 0
}

// Config configures a planner run.
type Config struct {
	// SourceParentID is the folder whose children are scanned (required).
	SourceParentID string

	// DryRun resolves buckets without creating missing ones.
	DryRun bool

	// Matcher filters source folders by name. Nil accepts all.
	Matcher *match.Matcher
}

// Validate checks that required configuration is present.
func (c Config) Validate() error {
	if c.SourceParentID == "" {
		return errors.New("source parent id is required")
	}
	return nil
}

// Planner builds plans from a source listing and a bucket resolver.
type Planner struct {
	lister   *lister.Lister
	resolver *resolver.Resolver
	parser   *bucket.Parser
	config   Config
	logger   *zap.Logger
}

// New creates a planner.
func New(l *lister.Lister, r *resolver.Resolver, parser *bucket.Parser, cfg Config, logger *zap.Logger) (*Planner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Planner{lister: l, resolver: r, parser: parser, config: cfg, logger: logger}, nil
}

// Plan scans the source folder and returns the moves needed to place every
// keyed folder in its bucket. Moves follow listing order.
func (p *Planner) Plan(ctx context.Context) (*Plan, error) {
	plan := &Plan{
		SourceParentID: p.config.SourceParentID,
		BucketParentID: p.resolver.ParentID(),
		Prefix:         p.parser.Prefix(),
		DryRun:         p.config.DryRun,
		Moves:          []Move{},
	}
	createdBefore := p.resolver.Stats().Created
	pending := make(map[string]bool)

	for f, err := range p.lister.Children(ctx, p.config.SourceParentID) {
		if err != nil {
			return nil, fmt.Errorf("list source folders: %w", err)
		}
		plan.Scanned++

		if p.config.Matcher != nil && !p.config.Matcher.Match(f.Name) {
			plan.Excluded++
			p.logger.Debug("[scan] excluded", zap.String("name", f.Name))
			continue
		}

		key, ok := p.parser.Parse(f.Name)
		if !ok {
			p.logger.Debug("[scan] no key", zap.String("name", f.Name))
			continue
		}
		plan.Matched++
		p.logger.Debug("[scan]", zap.String("name", f.Name), zap.Int("key", key))

		bucketName := p.parser.BucketName(key)
		bucketID, isPending, err := p.resolve(ctx, bucketName)
		if err != nil {
			return nil, err
		}
		if isPending {
			pending[bucketName] = true
		}

		if f.HasParent(bucketID) {
			plan.Skipped++
			p.logger.Debug("[skip] already placed",
				zap.String("name", f.Name),
				zap.String("bucket", bucketName))
			continue
		}

		oldParent := p.config.SourceParentID
		if len(f.Parents) > 0 {
			oldParent = f.Parents[0]
		}
		plan.Moves = append(plan.Moves, Move{
			FileID:        f.ID,
			Name:          f.Name,
			Key:           key,
			OldParentID:   oldParent,
			NewParentID:   bucketID,
			BucketName:    bucketName,
			BucketPending: isPending,
		})
	}

	plan.BucketsCreated = p.resolver.Stats().Created - createdBefore
	plan.BucketsPending = len(pending)

	p.logger.Debug("[plan]",
		zap.Int("scanned", plan.Scanned),
		zap.Int("matched", plan.Matched),
		zap.Int("excluded", plan.Excluded),
		zap.Int("skipped", plan.Skipped),
		zap.Int("moves", len(plan.Moves)))
	return plan, nil
}

func (p *Planner) resolve(ctx context.Context, name string) (string, bool, error) {
	if !p.config.DryRun {
		id, err := p.resolver.ResolveOrCreate(ctx, name)
		return id, false, err
	}
	id, ok, err := p.resolver.Lookup(ctx, name)
	if err != nil {
		return "", false, err
	}
	if !ok {
		return PendingPrefix + name, true, nil
	}
	return id, false, nil
}

// ResolvePending gives every pending move of a dry-run plan a real bucket id,
// creating missing buckets. Moves whose folder already sits in the resolved
// bucket are dropped and counted as skipped. It returns the number of moves
// dropped.
func ResolvePending(ctx context.Context, plan *Plan, r *resolver.Resolver, l *lister.Lister) (int, error) {
	createdBefore := r.Stats().Created
	placed := make(map[string]map[string]bool)
	kept := make([]Move, 0, len(plan.Moves))
	dropped := 0

	for _, mv := range plan.Moves {
		if !mv.BucketPending {
			kept = append(kept, mv)
			continue
		}
		id, err := r.ResolveOrCreate(ctx, mv.BucketName)
		if err != nil {
			return dropped, err
		}
		children, ok := placed[id]
		if !ok {
			children = make(map[string]bool)
			for f, err := range l.Children(ctx, id) {
				if err != nil {
					return dropped, fmt.Errorf("list bucket %s: %w", mv.BucketName, err)
				}
				children[f.ID] = true
			}
			placed[id] = children
		}

		mv.NewParentID = id
		mv.BucketPending = false
		if mv.OldParentID == id || children[mv.FileID] {
			plan.Skipped++
			dropped++
			continue
		}
		kept = append(kept, mv)
	}

	plan.Moves = kept
	plan.BucketsPending = 0
	plan.BucketsCreated += r.Stats().Created - createdBefore
	return dropped, nil
}
