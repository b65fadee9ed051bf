// Package lister iterates the child folders of a parent folder across
// provider pages.
package lister

import (
	"context"
	"iter"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/3leaps/qbucket/pkg/provider"
)

// Config configures lister behavior.
type Config struct {
	// DriveID scopes listings to a shared drive.
	// Empty lists the caller's own space.
	DriveID string

	// PageSize is the number of folders requested per page.
	// Default: 200. Values over 200 are clamped.
	PageSize int

	// RateLimit is the maximum list requests per second.
	// Zero means unlimited (provider handles its own throttling).
	RateLimit float64
}

// MaxPageSize is the largest page size the lister requests.
const MaxPageSize = 200

// DefaultConfig returns the default lister configuration.
func DefaultConfig() Config {
	return Config{PageSize: MaxPageSize}
}

// Lister lists child folders lazily, following page tokens.
//
// Lister performs no retries; the first provider error ends iteration.
type Lister struct {
	provider provider.Provider
	config   Config
	logger   *zap.Logger

	// Rate limiter (nil if unlimited)
	limiter *rate.Limiter
}

// New creates a lister. A nil logger disables tracing.
func New(p provider.Provider, cfg Config, logger *zap.Logger) *Lister {
	if cfg.PageSize <= 0 || cfg.PageSize > MaxPageSize {
		cfg.PageSize = DefaultConfig().PageSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	l := &Lister{provider: p, config: cfg, logger: logger}
	if cfg.RateLimit > 0 {
		l.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}
	return l
}

// Corpora names the listing scope: "drive" for a shared drive, else "user".
func (l *Lister) Corpora() string {
	if l.config.DriveID != "" {
		return "drive"
	}
	return "user"
}

// Children yields every child folder of parentID.
//
// Each range over the returned sequence starts again from the first page.
// On error the sequence yields a zero Folder with the error and stops.
func (l *Lister) Children(ctx context.Context, parentID string) iter.Seq2[provider.Folder, error] {
	return l.list(ctx, parentID, "")
}

// Named yields child folders of parentID whose name equals name exactly.
func (l *Lister) Named(ctx context.Context, parentID, name string) iter.Seq2[provider.Folder, error] {
	return l.list(ctx, parentID, name)
}

func (l *Lister) list(ctx context.Context, parentID, name string) iter.Seq2[provider.Folder, error] {
	return func(yield func(provider.Folder, error) bool) {
		seen := 0
		pages := 0
		token := ""
		for {
			if l.limiter != nil {
				if err := l.limiter.Wait(ctx); err != nil {
					yield(provider.Folder{}, err)
					return
				}
			}

			res, err := l.provider.ListFolders(ctx, provider.ListOptions{
				ParentID:  parentID,
				DriveID:   l.config.DriveID,
				Name:      name,
				PageToken: token,
				PageSize:  l.config.PageSize,
			})
			if err != nil {
				yield(provider.Folder{}, err)
				return
			}
			pages++

			for _, f := range res.Folders {
				seen++
				if !yield(f, nil) {
					return
				}
			}

			if res.NextPageToken == "" {
				break
			}
			token = res.NextPageToken
		}

		l.logger.Debug("[list_child_folders]",
			zap.String("parent_id", parentID),
			zap.String("corpora", l.Corpora()),
			zap.String("name", name),
			zap.Int("pages", pages),
			zap.Int("count", seen))
	}
}

// Collect drains a folder sequence into a slice.
func Collect(seq iter.Seq2[provider.Folder, error]) ([]provider.Folder, error) {
	var out []provider.Folder
	for f, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, f)
	}
	return out, nil
}
