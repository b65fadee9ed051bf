// Package preflight checks that the folders an archive run touches are
// reachable before any planning starts.
package preflight

import (
	"context"
	"errors"
	"fmt"

	"github.com/3leaps/qbucket/pkg/output"
	"github.com/3leaps/qbucket/pkg/provider"
)

// Mode defines how aggressive preflight checks are.
type Mode string

const (
	// ModePlanOnly skips all provider calls.
	ModePlanOnly Mode = "plan-only"

	// ModeReadSafe lists one page of each parent folder.
	ModeReadSafe Mode = "read-safe"
)

// ParseMode validates a mode name. Empty selects ModeReadSafe.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "":
		return ModeReadSafe, nil
	case ModePlanOnly, ModeReadSafe:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown preflight mode %q (want %s or %s)", s, ModePlanOnly, ModeReadSafe)
}

// Spec controls how preflight checks are executed.
type Spec struct {
	Mode    Mode
	DriveID string
}

// Capability names are stable strings used in JSONL output.
const (
	CapSourceList = "source.list"
	CapBucketList = "bucket.list"
)

// Archive checks that both the source folder and the bucket parent can be
// listed. Every check runs; the first failure is returned together with the
// complete record.
func Archive(ctx context.Context, prov provider.Provider, sourceParentID, bucketParentID string, spec Spec) (*output.PreflightRecord, error) {
	rec := &output.PreflightRecord{
		Mode:    string(spec.Mode),
		Results: []output.PreflightCheckResult{},
	}
	if spec.Mode == ModePlanOnly {
		return rec, nil
	}

	var errs []error
	for _, check := range []struct {
		capability string
		parentID   string
	}{
		{CapSourceList, sourceParentID},
		{CapBucketList, bucketParentID},
	} {
		res, err := listOne(ctx, prov, check.capability, check.parentID, spec.DriveID)
		rec.Results = append(rec.Results, res)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return rec, err
			}
			errs = append(errs, fmt.Errorf("%s: %w", check.capability, err))
		}
	}
	if len(errs) > 0 {
		return rec, errs[0]
	}
	return rec, nil
}

func listOne(ctx context.Context, prov provider.Provider, capability, parentID, driveID string) (output.PreflightCheckResult, error) {
	res := output.PreflightCheckResult{
		Capability: capability,
		Method:     fmt.Sprintf("ListFolders(parent=%q,pageSize=1)", parentID),
	}
	_, err := prov.ListFolders(ctx, provider.ListOptions{ParentID: parentID, DriveID: driveID, PageSize: 1})
	if err != nil {
		res.ErrorCode = output.ErrorCode(err)
		res.Detail = err.Error()
		return res, err
	}
	res.Allowed = true
	return res, nil
}
