package cmd

import (
	"context"
	"errors"
	"io"
	"path/filepath"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/fulmenhq/gofulmen/foundry"
	"go.uber.org/zap"

	"github.com/3leaps/qbucket/internal/config"
	"github.com/3leaps/qbucket/internal/observability"
	"github.com/3leaps/qbucket/pkg/bucket"
	"github.com/3leaps/qbucket/pkg/lister"
	"github.com/3leaps/qbucket/pkg/output"
	"github.com/3leaps/qbucket/pkg/provider"
	"github.com/3leaps/qbucket/pkg/resolver"
	"github.com/3leaps/qbucket/pkg/runlock"
)

// session bundles the components shared by commands that talk to storage.
type session struct {
	cfg      *config.Config
	provider provider.Provider
	lister   *lister.Lister
	parser   *bucket.Parser
	resolver *resolver.Resolver
	logger   *zap.Logger
}

// openSession connects to the configured backend and wires a lister,
// parser and resolver for the given bucket parent.
func openSession(ctx context.Context, cfg *config.Config, prefix, bucketParentID string) (*session, error) {
	parser, err := bucket.NewParser(prefix)
	if err != nil {
		return nil, exitError(foundry.ExitInvalidArgument, "Invalid prefix", err)
	}

	p, err := newProvider(ctx, cfg)
	if err != nil {
		return nil, err
	}

	logger := observability.CLILogger
	l := lister.New(p, lister.Config{
		DriveID:   cfg.GDrive.DriveID,
		PageSize:  cfg.Archive.PageSize,
		RateLimit: cfg.Archive.RateLimit,
	}, logger)

	return &session{
		cfg:      cfg,
		provider: p,
		lister:   l,
		parser:   parser,
		resolver: resolver.New(p, l, parser, bucketParentID, logger),
		logger:   logger,
	}, nil
}

func (s *session) Close() error {
	return s.provider.Close()
}

// newRecordWriter picks the output writer for a run. Text output is drawn
// as a table when out is a terminal.
func newRecordWriter(out io.Writer, format, runID, backend string) output.Writer {
	if format == config.OutputJSONL {
		return output.NewJSONLWriter(out, runID, backend)
	}
	return output.NewTextWriter(out, output.IsTerminal(out))
}

// lockDir returns the directory for run lock files.
func lockDir(cfg *config.Config) string {
	if cfg.Archive.LockDir != "" {
		return cfg.Archive.LockDir
	}
	if dataDir := gfconfig.GetAppDataDir(config.AppName); dataDir != "" {
		return filepath.Join(dataDir, "locks")
	}
	return runlock.DefaultDir()
}

// acquireRunLock takes the per-destination lock unless locking is disabled.
// A nil lock is returned when locking is off.
func acquireRunLock(cfg *config.Config, bucketParentID string) (*runlock.Lock, error) {
	if cfg.Archive.NoLock {
		return nil, nil
	}
	lock, err := runlock.Acquire(lockDir(cfg), cfg.Backend+":"+bucketParentID)
	if errors.Is(err, runlock.ErrLocked) {
		return nil, exitError(foundry.ExitFileWriteError, "Another qbucket run is using this bucket parent (use --no-lock to override)", err)
	}
	if err != nil {
		return nil, exitError(foundry.ExitFileWriteError, "Failed to acquire run lock", err)
	}
	observability.CLILogger.Debug("Acquired run lock", zap.String("path", lock.Path()))
	return lock, nil
}
