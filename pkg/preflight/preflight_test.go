package preflight_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/qbucket/pkg/output"
	"github.com/3leaps/qbucket/pkg/preflight"
	"github.com/3leaps/qbucket/pkg/provider"
	"github.com/3leaps/qbucket/pkg/provider/providertest"
)

func TestArchive_ReadSafe(t *testing.T) {
	mem := providertest.New()
	src := mem.Add("Inbox", providertest.RootID)
	dst := mem.Add("Archive", providertest.RootID)

	rec, err := preflight.Archive(context.Background(), mem, src, dst, preflight.Spec{Mode: preflight.ModeReadSafe})
	require.NoError(t, err)
	assert.Equal(t, "read-safe", rec.Mode)
	require.Len(t, rec.Results, 2)
	assert.Equal(t, preflight.CapSourceList, rec.Results[0].Capability)
	assert.True(t, rec.Results[0].Allowed)
	assert.Equal(t, preflight.CapBucketList, rec.Results[1].Capability)
	assert.True(t, rec.Results[1].Allowed)
	assert.Equal(t, 2, mem.Calls(providertest.OpList))
	assert.Zero(t, mem.Mutations())
}

func TestArchive_PlanOnly(t *testing.T) {
	mem := providertest.New()

	rec, err := preflight.Archive(context.Background(), mem, "missing", "missing", preflight.Spec{Mode: preflight.ModePlanOnly})
	require.NoError(t, err)
	assert.Empty(t, rec.Results)
	assert.Zero(t, mem.Calls(providertest.OpList))
}

func TestArchive_ReportsEveryCheck(t *testing.T) {
	mem := providertest.New()
	src := mem.Add("Inbox", providertest.RootID)

	rec, err := preflight.Archive(context.Background(), mem, src, "gone", preflight.Spec{Mode: preflight.ModeReadSafe})
	require.Error(t, err)
	assert.True(t, provider.IsNotFound(err))
	assert.Contains(t, err.Error(), preflight.CapBucketList)

	require.Len(t, rec.Results, 2)
	assert.True(t, rec.Results[0].Allowed)
	assert.False(t, rec.Results[1].Allowed)
	assert.Equal(t, output.ErrCodeNotFound, rec.Results[1].ErrorCode)
	assert.NotEmpty(t, rec.Results[1].Detail)
}

func TestArchive_AccessDenied(t *testing.T) {
	mem := providertest.New()
	src := mem.Add("Inbox", providertest.RootID)
	dst := mem.Add("Archive", providertest.RootID)
	mem.FailStatus(providertest.OpList, 403)

	rec, err := preflight.Archive(context.Background(), mem, src, dst, preflight.Spec{Mode: preflight.ModeReadSafe})
	require.Error(t, err)
	assert.Contains(t, err.Error(), preflight.CapSourceList)
	assert.Equal(t, output.ErrCodeAccessDenied, rec.Results[0].ErrorCode)
	assert.True(t, rec.Results[1].Allowed)
}

func TestArchive_Cancelled(t *testing.T) {
	mem := providertest.New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec, err := preflight.Archive(ctx, mem, providertest.RootID, providertest.RootID, preflight.Spec{Mode: preflight.ModeReadSafe})
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Len(t, rec.Results, 1)
}

func TestParseMode(t *testing.T) {
	m, err := preflight.ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, preflight.ModeReadSafe, m)

	m, err = preflight.ParseMode("plan-only")
	require.NoError(t, err)
	assert.Equal(t, preflight.ModePlanOnly, m)

	_, err = preflight.ParseMode("write-probe")
	assert.Error(t, err)
}
