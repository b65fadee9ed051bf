// Package local implements the provider interface for a local directory tree.
//
// Folder ids are slash-separated paths relative to the root directory; the
// root itself is RootID. Moving a folder changes its id, so ids obtained
// before a move must not be reused for the moved folder afterwards.
package local

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/3leaps/qbucket/pkg/provider"
)

// RootID is the id of the root directory.
const RootID = "."

// DefaultPageSize is the page size used when ListOptions.PageSize is zero.
const DefaultPageSize = 200

// Provider implements provider.Provider for local directories.
type Provider struct {
	baseDir string
}

// Ensure Provider implements the interface.
var _ provider.Provider = (*Provider)(nil)

// Config configures a local provider.
type Config struct {
	// BaseDir is the root of the tree (required, must exist).
	BaseDir string
}

// Validate checks that required configuration is present.
func (c Config) Validate() error {
	if strings.TrimSpace(c.BaseDir) == "" {
		return fmt.Errorf("base dir is required")
	}
	return nil
}

// New creates a local provider rooted at cfg.BaseDir.
func New(cfg Config) (*Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	base := filepath.Clean(cfg.BaseDir)
	st, err := os.Stat(base)
	if err != nil {
		return nil, &provider.ProviderError{Op: "New", Provider: provider.ProviderLocal, Err: err}
	}
	if !st.IsDir() {
		return nil, &provider.ProviderError{Op: "New", Provider: provider.ProviderLocal, Err: fmt.Errorf("%s is not a directory", base)}
	}
	return &Provider{baseDir: base}, nil
}

// Close releases any resources held by the provider.
func (p *Provider) Close() error { return nil }

// ListFolders returns a page of child directories sorted by name.
//
// The page token is the name of the last directory on the previous page.
func (p *Provider) ListFolders(ctx context.Context, opts provider.ListOptions) (*provider.ListResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	parentID, full, err := p.resolve(opts.ParentID)
	if err != nil {
		return nil, p.wrapError("ListFolders", opts.ParentID, "", err)
	}

	entries, err := os.ReadDir(full)
	if err != nil {
		return nil, p.wrapError("ListFolders", parentID, "", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if opts.Name != "" && e.Name() != opts.Name {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	start := 0
	if opts.PageToken != "" {
		start = sort.SearchStrings(names, opts.PageToken)
		for start < len(names) && names[start] <= opts.PageToken {
			start++
		}
	}

	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	end := start + pageSize
	if end > len(names) {
		end = len(names)
	}

	folders := make([]provider.Folder, 0, end-start)
	for _, name := range names[start:end] {
		folders = append(folders, provider.Folder{
			ID:      childID(parentID, name),
			Name:    name,
			Parents: []string{parentID},
		})
	}

	res := &provider.ListResult{Folders: folders}
	if end < len(names) {
		res.NextPageToken = names[end-1]
	}
	return res, nil
}

// CreateFolder creates a directory and returns its id.
func (p *Provider) CreateFolder(ctx context.Context, opts provider.CreateOptions) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if !validName(opts.Name) {
		return "", p.wrapError("CreateFolder", opts.ParentID, "", fmt.Errorf("%w: invalid folder name %q", provider.ErrInvalidRequest, opts.Name))
	}
	parentID, full, err := p.resolve(opts.ParentID)
	if err != nil {
		return "", p.wrapError("CreateFolder", opts.ParentID, "", err)
	}
	if err := os.Mkdir(filepath.Join(full, opts.Name), 0o755); err != nil {
		return "", p.wrapError("CreateFolder", parentID, "", err)
	}
	return childID(parentID, opts.Name), nil
}

// MoveFolder renames a directory into a new parent.
//
// RemoveParentID must be the folder's current parent.
func (p *Provider) MoveFolder(ctx context.Context, opts provider.MoveOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	fileID, src, err := p.resolve(opts.FileID)
	if err != nil {
		return p.wrapError("MoveFolder", "", opts.FileID, err)
	}
	if fileID == RootID {
		return p.wrapError("MoveFolder", "", fileID, fmt.Errorf("%w: cannot move the root", provider.ErrInvalidRequest))
	}
	removeID, _, err := p.resolve(opts.RemoveParentID)
	if err != nil {
		return p.wrapError("MoveFolder", "", fileID, err)
	}
	if parentOf(fileID) != removeID {
		return p.wrapError("MoveFolder", "", fileID, fmt.Errorf("%w: %s is not the parent", provider.ErrInvalidRequest, removeID))
	}
	addID, dstParent, err := p.resolve(opts.AddParentID)
	if err != nil {
		return p.wrapError("MoveFolder", "", fileID, err)
	}
	if addID == fileID || strings.HasPrefix(addID, fileID+"/") {
		return p.wrapError("MoveFolder", "", fileID, fmt.Errorf("%w: cannot move a folder into itself", provider.ErrInvalidRequest))
	}

	dst := filepath.Join(dstParent, path.Base(fileID))
	if _, err := os.Lstat(dst); err == nil {
		return p.wrapError("MoveFolder", "", fileID, fmt.Errorf("%w: %s already exists", provider.ErrInvalidRequest, childID(addID, path.Base(fileID))))
	}
	if err := os.Rename(src, dst); err != nil {
		return p.wrapError("MoveFolder", "", fileID, err)
	}
	return nil
}

// resolve normalizes an id and maps it to an existing directory.
func (p *Provider) resolve(id string) (string, string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", "", fmt.Errorf("%w: folder id is required", provider.ErrInvalidRequest)
	}
	// Prevent path traversal.
	clean := path.Clean(strings.TrimPrefix(id, "/"))
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", "", fmt.Errorf("%w: invalid folder id %q", provider.ErrInvalidRequest, id)
	}
	if clean == "" || clean == "/" {
		clean = RootID
	}
	full := filepath.Join(p.baseDir, filepath.FromSlash(clean))
	st, err := os.Stat(full)
	if err != nil {
		return "", "", err
	}
	if !st.IsDir() {
		return "", "", fmt.Errorf("%w: %s is not a folder", provider.ErrNotFound, clean)
	}
	return clean, full, nil
}

func (p *Provider) wrapError(op, parentID, fileID string, err error) error {
	wrapped := &provider.ProviderError{Op: op, Provider: provider.ProviderLocal, ParentID: parentID, FileID: fileID, Err: err}
	// Normalize common filesystem errors to provider sentinels.
	switch {
	case errors.Is(err, os.ErrNotExist):
		wrapped.Err = fmt.Errorf("%w: %v", provider.ErrNotFound, err)
	case errors.Is(err, os.ErrPermission):
		wrapped.Err = fmt.Errorf("%w: %v", provider.ErrAccessDenied, err)
	case errors.Is(err, os.ErrExist):
		wrapped.Err = fmt.Errorf("%w: %v", provider.ErrInvalidRequest, err)
	}
	return wrapped
}

func childID(parentID, name string) string {
	if parentID == RootID {
		return name
	}
	return parentID + "/" + name
}

func parentOf(id string) string {
	dir := path.Dir(id)
	if dir == "" {
		return RootID
	}
	return dir
}

func validName(name string) bool {
	return name != "" && name != "." && name != ".." && !strings.ContainsAny(name, `/\`)
}
