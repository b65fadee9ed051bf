package local

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/qbucket/pkg/provider"
)

func mkdirs(t *testing.T, base string, dirs ...string) {
	t.Helper()
	for _, d := range dirs {
		require.NoError(t, os.MkdirAll(filepath.Join(base, filepath.FromSlash(d)), 0o755))
	}
}

func newProvider(t *testing.T) (*Provider, string) {
	t.Helper()
	base := t.TempDir()
	p, err := New(Config{BaseDir: base})
	require.NoError(t, err)
	return p, base
}

func TestNew(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)

	_, err = New(Config{BaseDir: filepath.Join(t.TempDir(), "missing")})
	assert.Error(t, err)

	file := filepath.Join(t.TempDir(), "f")
	require.NoError(t, os.WriteFile(file, nil, 0o644))
	_, err = New(Config{BaseDir: file})
	assert.Error(t, err)
}

func TestListFolders(t *testing.T) {
	p, base := newProvider(t)
	mkdirs(t, base, "src/Q123456-Alpha", "src/Q123999-Beta", "src/misc", "src/misc/nested")
	require.NoError(t, os.WriteFile(filepath.Join(base, "src", "note.txt"), nil, 0o644))
	ctx := context.Background()

	res, err := p.ListFolders(ctx, provider.ListOptions{ParentID: "src"})
	require.NoError(t, err)
	require.Len(t, res.Folders, 3)
	assert.Empty(t, res.NextPageToken)

	assert.Equal(t, provider.Folder{ID: "src/Q123456-Alpha", Name: "Q123456-Alpha", Parents: []string{"src"}}, res.Folders[0])
	assert.Equal(t, "src/misc", res.Folders[2].ID)
}

func TestListFolders_Root(t *testing.T) {
	p, base := newProvider(t)
	mkdirs(t, base, "a", "b")

	res, err := p.ListFolders(context.Background(), provider.ListOptions{ParentID: RootID})
	require.NoError(t, err)
	require.Len(t, res.Folders, 2)
	assert.Equal(t, "a", res.Folders[0].ID)
	assert.Equal(t, []string{RootID}, res.Folders[0].Parents)
}

func TestListFolders_Pagination(t *testing.T) {
	p, base := newProvider(t)
	mkdirs(t, base, "src/a", "src/b", "src/c", "src/d", "src/e")
	ctx := context.Background()

	var names []string
	token := ""
	pages := 0
	for {
		res, err := p.ListFolders(ctx, provider.ListOptions{ParentID: "src", PageSize: 2, PageToken: token})
		require.NoError(t, err)
		pages++
		for _, f := range res.Folders {
			names = append(names, f.Name)
		}
		if res.NextPageToken == "" {
			break
		}
		token = res.NextPageToken
	}

	assert.Equal(t, 3, pages)
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, names)
}

func TestListFolders_ByName(t *testing.T) {
	p, base := newProvider(t)
	mkdirs(t, base, "dst/Q123000-Q123999", "dst/other")

	res, err := p.ListFolders(context.Background(), provider.ListOptions{ParentID: "dst", Name: "Q123000-Q123999"})
	require.NoError(t, err)
	require.Len(t, res.Folders, 1)
	assert.Equal(t, "dst/Q123000-Q123999", res.Folders[0].ID)
}

func TestListFolders_Errors(t *testing.T) {
	p, _ := newProvider(t)
	ctx := context.Background()

	_, err := p.ListFolders(ctx, provider.ListOptions{ParentID: "missing"})
	assert.True(t, provider.IsNotFound(err))

	_, err = p.ListFolders(ctx, provider.ListOptions{ParentID: "../escape"})
	assert.ErrorIs(t, err, provider.ErrInvalidRequest)

	_, err = p.ListFolders(ctx, provider.ListOptions{})
	assert.ErrorIs(t, err, provider.ErrInvalidRequest)
}

func TestResolve_RejectsTraversal(t *testing.T) {
	p, base := newProvider(t)
	mkdirs(t, base, "escape", "src")

	for _, id := range []string{"..", "../escape", "/../escape", "src/../../escape", "src/../.."} {
		t.Run(id, func(t *testing.T) {
			_, _, err := p.resolve(id)
			assert.ErrorIs(t, err, provider.ErrInvalidRequest)
		})
	}

	for id, want := range map[string]string{"/": RootID, "/src": "src", "src/../escape": "escape"} {
		clean, _, err := p.resolve(id)
		require.NoError(t, err, id)
		assert.Equal(t, want, clean, id)
	}
}

func TestCreateFolder(t *testing.T) {
	p, base := newProvider(t)
	mkdirs(t, base, "dst")
	ctx := context.Background()

	id, err := p.CreateFolder(ctx, provider.CreateOptions{Name: "Q123000-Q123999", ParentID: "dst"})
	require.NoError(t, err)
	assert.Equal(t, "dst/Q123000-Q123999", id)
	assert.DirExists(t, filepath.Join(base, "dst", "Q123000-Q123999"))

	_, err = p.CreateFolder(ctx, provider.CreateOptions{Name: "Q123000-Q123999", ParentID: "dst"})
	assert.ErrorIs(t, err, provider.ErrInvalidRequest)

	_, err = p.CreateFolder(ctx, provider.CreateOptions{Name: "a/b", ParentID: "dst"})
	assert.ErrorIs(t, err, provider.ErrInvalidRequest)
}

func TestMoveFolder(t *testing.T) {
	p, base := newProvider(t)
	mkdirs(t, base, "src/Q123456-Alpha/inner", "dst/Q123000-Q123999")

	err := p.MoveFolder(context.Background(), provider.MoveOptions{
		FileID:         "src/Q123456-Alpha",
		AddParentID:    "dst/Q123000-Q123999",
		RemoveParentID: "src",
	})
	require.NoError(t, err)

	assert.NoDirExists(t, filepath.Join(base, "src", "Q123456-Alpha"))
	assert.DirExists(t, filepath.Join(base, "dst", "Q123000-Q123999", "Q123456-Alpha", "inner"))
}

func TestMoveFolder_Rejects(t *testing.T) {
	p, base := newProvider(t)
	mkdirs(t, base, "src/a", "src/b", "dst/a")
	ctx := context.Background()

	tests := []struct {
		name string
		opts provider.MoveOptions
	}{
		{"wrong old parent", provider.MoveOptions{FileID: "src/a", AddParentID: "src/b", RemoveParentID: "dst"}},
		{"into itself", provider.MoveOptions{FileID: "src", AddParentID: "src/b", RemoveParentID: RootID}},
		{"target exists", provider.MoveOptions{FileID: "src/a", AddParentID: "dst", RemoveParentID: "src"}},
		{"root", provider.MoveOptions{FileID: RootID, AddParentID: "dst", RemoveParentID: RootID}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := p.MoveFolder(ctx, tt.opts)
			assert.ErrorIs(t, err, provider.ErrInvalidRequest)
		})
	}

	err := p.MoveFolder(ctx, provider.MoveOptions{FileID: "src/missing", AddParentID: "dst", RemoveParentID: "src"})
	assert.True(t, provider.IsNotFound(err))
}

func TestCancelledContext(t *testing.T) {
	p, base := newProvider(t)
	mkdirs(t, base, "src")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.ListFolders(ctx, provider.ListOptions{ParentID: "src"})
	assert.ErrorIs(t, err, context.Canceled)
}
