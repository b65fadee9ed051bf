package cmd

import (
	"context"
	"errors"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/qbucket/internal/config"
	"github.com/3leaps/qbucket/internal/observability"
	"github.com/3leaps/qbucket/pkg/match"
	"github.com/3leaps/qbucket/pkg/mover"
	"github.com/3leaps/qbucket/pkg/output"
	"github.com/3leaps/qbucket/pkg/planner"
	"github.com/3leaps/qbucket/pkg/preflight"
)

var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Move numbered folders into their bucket folders",
	Long: `Scan the source folder for child folders whose names start with the prefix
followed by 6 or 7 digits, and move each one into its 1000-wide bucket folder
under the bucket parent. Missing bucket folders are created.

The full plan is computed before any folder moves. Folders already inside
their bucket are skipped, so re-running is safe.

Examples:
  qbucket archive --source-parent-id 1AbC --bucket-parent-id 9XyZ --dry-run
  qbucket archive --source-parent-id 1AbC --bucket-parent-id 9XyZ --exclude '*-draft'
  qbucket archive --source-parent-id 1AbC --bucket-parent-id 9XyZ --output jsonl --plan-out plan.yaml

  # Offline run against a local directory tree
  qbucket archive --backend local --local-root ./tree --source-parent-id inbox --bucket-parent-id archive`,
	Args: cobra.NoArgs,
	RunE: runArchive,
}

var (
	archiveSourceParentID string
	archiveBucketParentID string
	archiveDryRun         bool
	archivePlanOut        string
	archivePrefix         string
	archiveIncludes       []string
	archiveExcludes       []string
	archiveOutput         string
	archivePageSize       int
	archiveRateLimit      float64
	archiveLockDir        string
	archiveNoLock         bool
	archiveTimeout        time.Duration
	archivePreflight      string
)

func init() {
	rootCmd.AddCommand(archiveCmd)

	archiveCmd.Flags().StringVar(&archiveSourceParentID, "source-parent-id", "", "Folder whose numbered child folders are archived (required)")
	archiveCmd.Flags().StringVar(&archiveBucketParentID, "bucket-parent-id", "", "Folder that holds the bucket folders (required)")
	archiveCmd.Flags().BoolVar(&archiveDryRun, "dry-run", false, "Print the plan without creating or moving anything")
	archiveCmd.Flags().StringVar(&archivePlanOut, "plan-out", "", "Write the plan to a file (.yaml/.yml for YAML, otherwise JSON)")
	archiveCmd.Flags().StringVar(&archivePrefix, "prefix", "Q", "Folder name prefix before the digits")
	archiveCmd.Flags().StringArrayVar(&archiveIncludes, "include", nil, "Only archive folder names matching this glob (repeatable)")
	archiveCmd.Flags().StringArrayVar(&archiveExcludes, "exclude", nil, "Skip folder names matching this glob (repeatable)")
	archiveCmd.Flags().StringVar(&archiveOutput, "output", config.OutputText, "Output format (text|jsonl)")
	archiveCmd.Flags().IntVar(&archivePageSize, "page-size", 200, "Listing page size (1-200)")
	archiveCmd.Flags().Float64Var(&archiveRateLimit, "rate-limit", 0, "Max listing requests per second (0=unlimited)")
	archiveCmd.Flags().StringVar(&archiveLockDir, "lock-dir", "", "Directory for run lock files")
	archiveCmd.Flags().BoolVar(&archiveNoLock, "no-lock", false, "Do not take the per-destination run lock")
	archiveCmd.Flags().DurationVar(&archiveTimeout, "timeout", 0, "Abort the run after this long (0=no limit)")
	archiveCmd.Flags().StringVar(&archivePreflight, "preflight", string(preflight.ModeReadSafe), "Preflight mode (plan-only|read-safe)")

	_ = archiveCmd.MarkFlagRequired("source-parent-id")
	_ = archiveCmd.MarkFlagRequired("bucket-parent-id")
}

func runArchive(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg := config.GetConfig()
	start := time.Now()

	if archiveSourceParentID == archiveBucketParentID {
		return exitError(foundry.ExitInvalidArgument, "Source and bucket parent must differ", errors.New(archiveSourceParentID))
	}

	if cfg.Archive.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Archive.Timeout)
		defer cancel()
	}

	matcher, err := match.New(match.Config{
		Includes: cfg.Archive.Includes,
		Excludes: cfg.Archive.Excludes,
	})
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid --include/--exclude pattern", err)
	}

	if !archiveDryRun {
		lock, err := acquireRunLock(cfg, archiveBucketParentID)
		if err != nil {
			return err
		}
		defer func() { _ = lock.Release() }()
	}

	sess, err := openSession(ctx, cfg, cfg.Archive.Prefix, archiveBucketParentID)
	if err != nil {
		return err
	}
	defer func() { _ = sess.Close() }()

	runID := uuid.NewString()
	logger := sess.logger.With(zap.String("run_id", runID))

	w := newRecordWriter(cmd.OutOrStdout(), cfg.Archive.Output, runID, cfg.Backend)
	defer func() { _ = w.Close() }()

	mode, err := preflight.ParseMode(cfg.Archive.Preflight)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid --preflight mode", err)
	}
	pre, err := preflight.Archive(ctx, sess.provider, archiveSourceParentID, archiveBucketParentID, preflight.Spec{
		Mode:    mode,
		DriveID: cfg.GDrive.DriveID,
	})
	if werr := w.WritePreflight(ctx, pre); werr != nil && err == nil {
		return exitError(foundry.ExitFileWriteError, "Failed to write preflight record", werr)
	}
	if err != nil {
		return storageExitError("Preflight failed", err)
	}

	cached, err := sess.resolver.BuildCache(ctx)
	if err != nil {
		return storageExitError("Failed to list bucket folders", err)
	}
	logger.Debug("Bucket cache built", zap.Int("buckets", cached))

	pl, err := planner.New(sess.lister, sess.resolver, sess.parser, planner.Config{
		SourceParentID: archiveSourceParentID,
		DryRun:         archiveDryRun,
		Matcher:        matcher,
	}, logger)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid archive settings", err)
	}

	plan, err := pl.Plan(ctx)
	if err != nil {
		return storageExitError("Failed to plan moves", err)
	}
	stats := sess.resolver.Stats()
	logger.Debug("Plan ready",
		zap.Int("scanned", plan.Scanned),
		zap.Int("excluded", plan.Excluded),
		zap.Int("matched", plan.Matched),
		zap.Int("skipped", plan.Skipped),
		zap.Int("moves", len(plan.Moves)),
		zap.Int("cache_hits", stats.Hits),
		zap.Int("queries", stats.Queries),
		zap.Int("buckets_created", stats.Created))

	if err := w.WritePlan(ctx, output.NewPlanRecord(plan)); err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to write plan", err)
	}
	if archivePlanOut != "" {
		if err := output.WritePlanFile(archivePlanOut, plan); err != nil {
			return exitError(foundry.ExitFileWriteError, "Failed to write plan file", err)
		}
		logger.Info("Plan written", zap.String("path", archivePlanOut))
	}

	summary := &output.SummaryRecord{Planned: len(plan.Moves), DryRun: archiveDryRun}
	if archiveDryRun || plan.Empty() {
		return writeSummary(ctx, w, summary, start)
	}

	mv := mover.New(sess.provider, mover.DefaultRetryPolicy(), logger)
	moved, applyErr := applyPlan(ctx, mv, plan, w)
	summary.Moved = moved
	if applyErr != nil {
		return finishWithError(ctx, w, summary, start, applyErr)
	}
	return writeSummary(ctx, w, summary, start)
}

// applyPlan runs the mover and streams one move record per applied move.
func applyPlan(ctx context.Context, mv *mover.Mover, plan *planner.Plan, w output.Writer) (int, error) {
	var writeErr error
	moved, err := mv.Apply(ctx, plan, func(m planner.Move) {
		if werr := w.WriteMove(ctx, output.NewMoveRecord(m, output.StatusMoved)); werr != nil && writeErr == nil {
			writeErr = werr
		}
	})
	if err == nil && writeErr != nil {
		observability.CLILogger.Warn("Failed to write move record", zap.Error(writeErr))
	}
	return moved, err
}

// finishWithError records a failed apply and maps it to an exit error.
// Output is written even when ctx is already cancelled.
func finishWithError(ctx context.Context, w output.Writer, summary *output.SummaryRecord, start time.Time, err error) error {
	ctx = context.WithoutCancel(ctx)
	summary.Errors = 1
	_ = w.WriteError(ctx, output.NewErrorRecord(err))
	_ = writeSummary(ctx, w, summary, start)

	switch {
	case errors.Is(err, context.Canceled):
		return exitError(foundry.ExitSignalInt, "Archive interrupted", err)
	case errors.Is(err, mover.ErrPendingBucket):
		return exitError(foundry.ExitInvalidArgument, "Plan references bucket folders that do not exist", err)
	}
	return storageExitError("Failed to move folders", err)
}

func writeSummary(ctx context.Context, w output.Writer, summary *output.SummaryRecord, start time.Time) error {
	d := time.Since(start)
	summary.Duration = d
	summary.DurationHuman = d.Round(time.Millisecond).String()
	if err := w.WriteSummary(ctx, summary); err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to write summary", err)
	}
	return nil
}
