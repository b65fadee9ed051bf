package cmd

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/qbucket/pkg/output"
	"github.com/3leaps/qbucket/pkg/runlock"
)

// newTree builds a local backend tree:
//
//	inbox/Q123456-Alpha
//	inbox/Q123999-Beta
//	inbox/Q124001-Gamma
//	inbox/notes
//	archive/Q123000-Q123999
func newTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	for _, dir := range []string{
		"inbox/Q123456-Alpha",
		"inbox/Q123999-Beta",
		"inbox/Q124001-Gamma",
		"inbox/notes",
		"archive/Q123000-Q123999",
	} {
		require.NoError(t, os.MkdirAll(filepath.Join(root, filepath.FromSlash(dir)), 0o755))
	}
	return root
}

func archiveArgs(root, lockDir string, extra ...string) []string {
	args := []string{"archive",
		"--backend", "local",
		"--local-root", root,
		"--source-parent-id", "inbox",
		"--bucket-parent-id", "archive",
		"--lock-dir", lockDir,
	}
	return append(args, extra...)
}

func dirNames(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestArchive_MovesIntoBuckets(t *testing.T) {
	isolateEnv(t)
	root := newTree(t)

	out, err := runCLI(t, archiveArgs(root, t.TempDir())...)
	require.NoError(t, err)

	assert.Equal(t, "Planned moves: 3\n"+
		"  Q123456-Alpha  ->  Q123000-Q123999\n"+
		"  Q123999-Beta  ->  Q123000-Q123999\n"+
		"  Q124001-Gamma  ->  Q124000-Q124999\n"+
		"Moved: Q123456-Alpha -> Q123000-Q123999\n"+
		"Moved: Q123999-Beta -> Q123000-Q123999\n"+
		"Moved: Q124001-Gamma -> Q124000-Q124999\n"+
		"Done. Moved 3 folders.\n", out)

	assert.Equal(t, []string{"notes"}, dirNames(t, filepath.Join(root, "inbox")))
	assert.Equal(t, []string{"Q123456-Alpha", "Q123999-Beta"}, dirNames(t, filepath.Join(root, "archive", "Q123000-Q123999")))
	assert.Equal(t, []string{"Q124001-Gamma"}, dirNames(t, filepath.Join(root, "archive", "Q124000-Q124999")))

	// A second run finds nothing left to do.
	out, err = runCLI(t, archiveArgs(root, t.TempDir())...)
	require.NoError(t, err)
	assert.Equal(t, "No moves needed.\n", out)
}

func TestArchive_DryRunChangesNothing(t *testing.T) {
	isolateEnv(t)
	root := newTree(t)

	out, err := runCLI(t, archiveArgs(root, t.TempDir(), "--dry-run")...)
	require.NoError(t, err)

	assert.Equal(t, "Planned moves: 3\n"+
		"  Q123456-Alpha  ->  Q123000-Q123999\n"+
		"  Q123999-Beta  ->  Q123000-Q123999\n"+
		"  Q124001-Gamma  ->  Q124000-Q124999\n"+
		"Dry-run: no changes made.\n", out)

	assert.Equal(t, []string{"Q123456-Alpha", "Q123999-Beta", "Q124001-Gamma", "notes"}, dirNames(t, filepath.Join(root, "inbox")))
	assert.Equal(t, []string{"Q123000-Q123999"}, dirNames(t, filepath.Join(root, "archive")))
}

func TestArchive_ExcludeAndPrefix(t *testing.T) {
	isolateEnv(t)
	root := newTree(t)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "inbox", "R200001-Other"), 0o755))

	out, err := runCLI(t, archiveArgs(root, t.TempDir(), "--dry-run", "--exclude", "*-Beta", "--exclude", "*-Gamma")...)
	require.NoError(t, err)
	assert.Equal(t, "Planned moves: 1\n"+
		"  Q123456-Alpha  ->  Q123000-Q123999\n"+
		"Dry-run: no changes made.\n", out)

	out, err = runCLI(t, archiveArgs(root, t.TempDir(), "--dry-run", "--prefix", "R")...)
	require.NoError(t, err)
	assert.Equal(t, "Planned moves: 1\n"+
		"  R200001-Other  ->  R200000-R200999\n"+
		"Dry-run: no changes made.\n", out)
}

func TestArchive_JSONL(t *testing.T) {
	isolateEnv(t)
	root := newTree(t)

	out, err := runCLI(t, archiveArgs(root, t.TempDir(), "--output", "jsonl")...)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 6)

	var types []string
	runIDs := map[string]bool{}
	for _, line := range lines {
		var rec output.Record
		require.NoError(t, json.Unmarshal([]byte(line), &rec))
		types = append(types, rec.Type)
		runIDs[rec.RunID] = true
		assert.Equal(t, "local", rec.Provider)
	}
	assert.Equal(t, []string{output.TypePreflight, output.TypePlan, output.TypeMove, output.TypeMove, output.TypeMove, output.TypeSummary}, types)
	assert.Len(t, runIDs, 1)

	var rec output.Record
	require.NoError(t, json.Unmarshal([]byte(lines[5]), &rec))
	var sum output.SummaryRecord
	require.NoError(t, json.Unmarshal(rec.Data, &sum))
	assert.Equal(t, 3, sum.Planned)
	assert.Equal(t, 3, sum.Moved)
	assert.Zero(t, sum.Errors)
}

func TestArchive_PlanOutThenApply(t *testing.T) {
	isolateEnv(t)
	root := newTree(t)
	planPath := filepath.Join(t.TempDir(), "plans", "plan.yaml")

	_, err := runCLI(t, archiveArgs(root, t.TempDir(), "--dry-run", "--plan-out", planPath)...)
	require.NoError(t, err)

	plan, err := output.ReadPlanFile(planPath)
	require.NoError(t, err)
	require.Len(t, plan.Moves, 3)
	assert.True(t, plan.DryRun)
	assert.True(t, plan.Moves[2].BucketPending)
	assert.Equal(t, "archive", plan.BucketParentID)

	out, err := runCLI(t, "apply", planPath,
		"--backend", "local", "--local-root", root, "--lock-dir", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, "Moved: Q124001-Gamma -> Q124000-Q124999\n")
	assert.True(t, strings.HasSuffix(out, "Done. Moved 3 folders.\n"))

	assert.Equal(t, []string{"notes"}, dirNames(t, filepath.Join(root, "inbox")))
	assert.Equal(t, []string{"Q124001-Gamma"}, dirNames(t, filepath.Join(root, "archive", "Q124000-Q124999")))
}

func TestApply_StopsAtFirstFailure(t *testing.T) {
	isolateEnv(t)
	root := newTree(t)
	planPath := filepath.Join(t.TempDir(), "plan.json")

	_, err := runCLI(t, archiveArgs(root, t.TempDir(), "--dry-run", "--plan-out", planPath)...)
	require.NoError(t, err)

	// Beta disappears between planning and applying.
	require.NoError(t, os.Remove(filepath.Join(root, "inbox", "Q123999-Beta")))

	out, err := runCLI(t, "apply", planPath,
		"--backend", "local", "--local-root", root, "--no-lock")
	require.Error(t, err)
	assert.Equal(t, foundry.ExitExternalServiceUnavailable, exitCodeFor(err))
	assert.Contains(t, out, "Moved: Q123456-Alpha -> Q123000-Q123999\n")
	assert.True(t, strings.HasSuffix(out, "Stopped. Moved 1 of 3 folders.\n"))

	assert.Equal(t, []string{"Q124001-Gamma", "notes"}, dirNames(t, filepath.Join(root, "inbox")))
}

func TestApply_BadPlanFile(t *testing.T) {
	isolateEnv(t)
	root := newTree(t)

	_, err := runCLI(t, "apply", filepath.Join(t.TempDir(), "missing.json"),
		"--backend", "local", "--local-root", root, "--no-lock")
	require.Error(t, err)
	assert.Equal(t, foundry.ExitFileReadError, exitCodeFor(err))

	empty := filepath.Join(t.TempDir(), "empty.json")
	require.NoError(t, os.WriteFile(empty, []byte(`{"moves": []}`), 0o644))
	_, err = runCLI(t, "apply", empty, "--backend", "local", "--local-root", root, "--no-lock")
	require.Error(t, err)
	assert.Equal(t, foundry.ExitInvalidArgument, exitCodeFor(err))
}

func TestArchive_RunLockHeld(t *testing.T) {
	isolateEnv(t)
	root := newTree(t)
	lockDir := t.TempDir()

	held, err := runlock.Acquire(lockDir, "local:archive")
	require.NoError(t, err)
	defer func() { _ = held.Release() }()

	_, err = runCLI(t, archiveArgs(root, lockDir)...)
	require.Error(t, err)
	assert.ErrorIs(t, err, runlock.ErrLocked)
	assert.Equal(t, foundry.ExitFileWriteError, exitCodeFor(err))
	assert.Len(t, dirNames(t, filepath.Join(root, "inbox")), 4)

	// Dry runs and --no-lock do not take the lock.
	_, err = runCLI(t, archiveArgs(root, lockDir, "--dry-run")...)
	require.NoError(t, err)
	_, err = runCLI(t, archiveArgs(root, lockDir, "--no-lock")...)
	require.NoError(t, err)
}

func TestArchive_InvalidArguments(t *testing.T) {
	isolateEnv(t)
	root := newTree(t)

	tests := []struct {
		name string
		args []string
	}{
		{"same parent", []string{"archive", "--backend", "local", "--local-root", root,
			"--source-parent-id", "inbox", "--bucket-parent-id", "inbox", "--dry-run"}},
		{"bad pattern", archiveArgs(root, t.TempDir(), "--dry-run", "--exclude", "[")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runCLI(t, tt.args...)
			require.Error(t, err)
			assert.Equal(t, foundry.ExitInvalidArgument, exitCodeFor(err))
		})
	}
}

func TestArchive_RequiresParents(t *testing.T) {
	isolateEnv(t)

	_, err := runCLI(t, "archive", "--backend", "local", "--local-root", t.TempDir(), "--source-parent-id", "inbox")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket-parent-id")
}

func TestArchive_MissingSource(t *testing.T) {
	isolateEnv(t)
	root := newTree(t)

	out, err := runCLI(t, "archive", "--backend", "local", "--local-root", root,
		"--source-parent-id", "nope", "--bucket-parent-id", "archive", "--dry-run")
	require.Error(t, err)
	assert.Equal(t, foundry.ExitExternalServiceUnavailable, exitCodeFor(err))
	assert.Equal(t, "Preflight: source.list denied (NOT_FOUND)\n", out)

	// Without preflight the failure surfaces while planning.
	out, err = runCLI(t, "archive", "--backend", "local", "--local-root", root,
		"--source-parent-id", "nope", "--bucket-parent-id", "archive", "--dry-run", "--preflight", "plan-only")
	require.Error(t, err)
	assert.Equal(t, foundry.ExitExternalServiceUnavailable, exitCodeFor(err))
	assert.Empty(t, out)
}

func TestBuckets(t *testing.T) {
	isolateEnv(t)
	root := newTree(t)
	for _, dir := range []string{"Q1000000-Q1000999", "Q005000-Q005999", "misc"} {
		require.NoError(t, os.MkdirAll(filepath.Join(root, "archive", dir), 0o755))
	}

	out, err := runCLI(t, "buckets", "--backend", "local", "--local-root", root, "--bucket-parent-id", "archive")
	require.NoError(t, err)
	assert.Equal(t, "Q005000-Q005999\tarchive/Q005000-Q005999\n"+
		"Q123000-Q123999\tarchive/Q123000-Q123999\n"+
		"Q1000000-Q1000999\tarchive/Q1000000-Q1000999\n", out)

	out, err = runCLI(t, "buckets", "--backend", "local", "--local-root", root, "--bucket-parent-id", "inbox")
	require.NoError(t, err)
	assert.Equal(t, "No bucket folders found.\n", out)
}
