package runlock

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquire(t *testing.T) {
	dir := t.TempDir()

	l, err := Acquire(dir, "bucket-parent-1")
	require.NoError(t, err)
	assert.Equal(t, "bucket-parent-1", l.Key())
	assert.FileExists(t, l.Path())
	assert.Equal(t, dir, filepath.Dir(l.Path()))

	_, err = Acquire(dir, "bucket-parent-1")
	assert.ErrorIs(t, err, ErrLocked)

	other, err := Acquire(dir, "bucket-parent-2")
	require.NoError(t, err)
	require.NoError(t, other.Release())

	require.NoError(t, l.Release())

	again, err := Acquire(dir, "bucket-parent-1")
	require.NoError(t, err)
	require.NoError(t, again.Release())
}

func TestAcquire_CreatesDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")
	l, err := Acquire(dir, "k")
	require.NoError(t, err)
	defer func() { _ = l.Release() }()
	assert.DirExists(t, dir)
}

func TestAcquire_RequiresKey(t *testing.T) {
	_, err := Acquire(t.TempDir(), "")
	assert.Error(t, err)
}

func TestPathFor(t *testing.T) {
	a := PathFor("/locks", "1AbC/def")
	b := PathFor("/locks", "1AbC/def")
	c := PathFor("/locks", "other")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Equal(t, "/locks", filepath.Dir(a))
	assert.Regexp(t, `^bucket-[0-9a-f]{16}\.lock$`, filepath.Base(a))
}

func TestRelease_Nil(t *testing.T) {
	var l *Lock
	assert.NoError(t, l.Release())
}
