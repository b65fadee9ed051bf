package cmd

import (
	"errors"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/qbucket/internal/config"
	"github.com/3leaps/qbucket/pkg/mover"
	"github.com/3leaps/qbucket/pkg/output"
	"github.com/3leaps/qbucket/pkg/planner"
)

var applyCmd = &cobra.Command{
	Use:   "apply <plan-file>",
	Short: "Execute a plan saved with archive --plan-out",
	Long: `Execute the moves of a plan written by "qbucket archive --plan-out".

Bucket folders that did not exist when a dry-run plan was made are resolved
again and created if still missing. Moves run in plan order and stop at the
first failure.

Examples:
  qbucket archive --source-parent-id 1AbC --bucket-parent-id 9XyZ --dry-run --plan-out plan.yaml
  qbucket apply plan.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runApply,
}

func init() {
	rootCmd.AddCommand(applyCmd)

	applyCmd.Flags().StringVar(&archiveOutput, "output", config.OutputText, "Output format (text|jsonl)")
	applyCmd.Flags().StringVar(&archiveLockDir, "lock-dir", "", "Directory for run lock files")
	applyCmd.Flags().BoolVar(&archiveNoLock, "no-lock", false, "Do not take the per-destination run lock")
}

func runApply(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg := config.GetConfig()
	start := time.Now()

	plan, err := output.ReadPlanFile(args[0])
	if err != nil {
		return exitError(foundry.ExitFileReadError, "Failed to read plan file", err)
	}
	if plan.BucketParentID == "" || plan.Prefix == "" {
		return exitError(foundry.ExitInvalidArgument, "Plan file is missing bucket_parent_id or prefix", errors.New(args[0]))
	}

	lock, err := acquireRunLock(cfg, plan.BucketParentID)
	if err != nil {
		return err
	}
	defer func() { _ = lock.Release() }()

	sess, err := openSession(ctx, cfg, plan.Prefix, plan.BucketParentID)
	if err != nil {
		return err
	}
	defer func() { _ = sess.Close() }()

	runID := uuid.NewString()
	logger := sess.logger.With(zap.String("run_id", runID))

	dropped, err := planner.ResolvePending(ctx, plan, sess.resolver, sess.lister)
	if err != nil {
		return storageExitError("Failed to resolve bucket folder", err)
	}
	if dropped > 0 {
		logger.Debug("Dropped moves already placed", zap.Int("count", dropped))
	}
	plan.DryRun = false

	w := newRecordWriter(cmd.OutOrStdout(), cfg.Archive.Output, runID, cfg.Backend)
	defer func() { _ = w.Close() }()

	if err := w.WritePlan(ctx, output.NewPlanRecord(plan)); err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to write plan", err)
	}

	summary := &output.SummaryRecord{Planned: len(plan.Moves)}
	if plan.Empty() {
		return writeSummary(ctx, w, summary, start)
	}

	moved, applyErr := applyPlan(ctx, mover.New(sess.provider, mover.DefaultRetryPolicy(), logger), plan, w)
	summary.Moved = moved
	if applyErr != nil {
		return finishWithError(ctx, w, summary, start, applyErr)
	}
	return writeSummary(ctx, w, summary, start)
}
