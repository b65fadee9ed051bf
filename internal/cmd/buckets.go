package cmd

import (
	"sort"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/3leaps/qbucket/internal/config"
	"github.com/3leaps/qbucket/pkg/output"
)

var bucketsCmd = &cobra.Command{
	Use:   "buckets",
	Short: "List the bucket folders under a bucket parent",
	Long: `List the existing bucket folders (for example Q123000-Q123999) directly
under the bucket parent. Nothing is created or moved.

Examples:
  qbucket buckets --bucket-parent-id 9XyZ
  qbucket buckets --bucket-parent-id 9XyZ --prefix R --output jsonl`,
	Args: cobra.NoArgs,
	RunE: runBuckets,
}

var bucketsParentID string

func init() {
	rootCmd.AddCommand(bucketsCmd)

	bucketsCmd.Flags().StringVar(&bucketsParentID, "bucket-parent-id", "", "Folder that holds the bucket folders (required)")
	bucketsCmd.Flags().StringVar(&archivePrefix, "prefix", "Q", "Folder name prefix before the digits")
	bucketsCmd.Flags().StringVar(&archiveOutput, "output", config.OutputText, "Output format (text|jsonl)")
	bucketsCmd.Flags().IntVar(&archivePageSize, "page-size", 200, "Listing page size (1-200)")
	bucketsCmd.Flags().Float64Var(&archiveRateLimit, "rate-limit", 0, "Max listing requests per second (0=unlimited)")

	_ = bucketsCmd.MarkFlagRequired("bucket-parent-id")
}

func runBuckets(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg := config.GetConfig()

	sess, err := openSession(ctx, cfg, cfg.Archive.Prefix, bucketsParentID)
	if err != nil {
		return err
	}
	defer func() { _ = sess.Close() }()

	if _, err := sess.resolver.BuildCache(ctx); err != nil {
		return storageExitError("Failed to list bucket folders", err)
	}

	cached := sess.resolver.Cached()
	records := make([]output.BucketRecord, 0, len(cached))
	for name, id := range cached {
		records = append(records, output.BucketRecord{Name: name, ID: id})
	}
	sort.Slice(records, func(i, j int) bool {
		ki, _ := sess.parser.Parse(records[i].Name)
		kj, _ := sess.parser.Parse(records[j].Name)
		if ki != kj {
			return ki < kj
		}
		return records[i].Name < records[j].Name
	})

	w := newRecordWriter(cmd.OutOrStdout(), cfg.Archive.Output, uuid.NewString(), cfg.Backend)
	defer func() { _ = w.Close() }()

	if err := w.WriteBuckets(ctx, records); err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to write bucket list", err)
	}
	return nil
}
